package handler

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"habitly/internal/httputil"
	"habitly/internal/logging"
	"habitly/internal/model"
)

// FriendsHandler serves follow edges and the activity feed under /friends.
type FriendsHandler struct {
	followService   followService
	activityService activityService
	log             *logrus.Entry
}

func NewFriendsHandler(followService followService, activityService activityService) *FriendsHandler {
	return &FriendsHandler{
		followService:   followService,
		activityService: activityService,
		log:             logging.For("FriendsHandler"),
	}
}

// List handles GET /friends?type=activity|following|followers&limit=
// An absent type means activity.
func (h *FriendsHandler) List(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	listType := strings.ToLower(strings.TrimSpace(r.URL.Query().Get("type")))
	switch listType {
	case "", model.FriendsTypeActivity:
		items, err := h.activityService.BuildFeed(r.Context(), userID, limit)
		if err != nil {
			writeServiceError(w, r, h.log, "load activity", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, model.ActivityFeedResponse{Activity: items})

	case model.FriendsTypeFollowing:
		users, err := h.followService.Following(r.Context(), userID, limit)
		if err != nil {
			writeServiceError(w, r, h.log, "list following", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, model.FollowListResponse{Users: users})

	case model.FriendsTypeFollowers:
		users, err := h.followService.Followers(r.Context(), userID, limit)
		if err != nil {
			writeServiceError(w, r, h.log, "list followers", err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, model.FollowListResponse{Users: users})

	default:
		writeServiceError(w, r, h.log, "list friends", model.ErrInvalidFriendsType)
	}
}

// Follow handles POST /friends with body {"userId": 42}
func (h *FriendsHandler) Follow(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req model.FollowRequest
	if err := httputil.DecodeJSON(w, r, &req, false); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}
	if req.UserID <= 0 {
		httputil.WriteBadRequest(w, "userId is required")
		return
	}

	friendship, err := h.followService.Follow(r.Context(), userID, req.UserID)
	if err != nil {
		writeServiceError(w, r, h.log, "follow user", err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, friendship)
}

// Unfollow handles DELETE /friends/{userId}
func (h *FriendsHandler) Unfollow(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	targetID, ok := pathID(w, r, "userId", "user")
	if !ok {
		return
	}

	if err := h.followService.Unfollow(r.Context(), userID, targetID); err != nil {
		writeServiceError(w, r, h.log, "unfollow user", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Unfollowed successfully",
	})
}
