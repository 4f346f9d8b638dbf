package handler

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"habitly/internal/httputil"
	"habitly/internal/logging"
	"habitly/internal/model"
	"habitly/internal/service"
)

// ProfileHandler serves the authenticated user's profile and user search.
type ProfileHandler struct {
	userService userService
	log         *logrus.Entry
}

func NewProfileHandler(userService userService) *ProfileHandler {
	return &ProfileHandler{
		userService: userService,
		log:         logging.For("ProfileHandler"),
	}
}

// Get handles GET /profile
func (h *ProfileHandler) Get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	profile, err := h.userService.GetProfile(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.log, "get profile", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, profile)
}

// Update handles PUT /profile
func (h *ProfileHandler) Update(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req model.UpdateProfileRequest
	if err := httputil.DecodeJSON(w, r, &req, false); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	user, err := h.userService.UpdateProfile(r.Context(), userID, &req)
	if err != nil {
		writeServiceError(w, r, h.log, "update profile", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, user)
}

// UploadAvatar handles POST /profile/avatar as multipart/form-data with the
// image in the "avatar" field.
func (h *ProfileHandler) UploadAvatar(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	maxFormSize := int64(model.MaxAvatarSizeBytes) + 1024*1024 // allow form overhead
	r.Body = http.MaxBytesReader(w, r.Body, maxFormSize)
	if err := r.ParseMultipartForm(maxFormSize); err != nil {
		var tooLarge *http.MaxBytesError
		switch {
		case errors.Is(err, http.ErrNotMultipart):
			httputil.WriteBadRequest(w, "Content-Type must be multipart/form-data")
		case errors.As(err, &tooLarge):
			httputil.WriteBadRequestWithCode(w, model.CodeFileTooLarge, "Avatar exceeds 5MB limit")
		default:
			httputil.WriteBadRequest(w, "Invalid form data")
		}
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile(model.AvatarFormField)
	if err != nil {
		if errors.Is(err, http.ErrMissingFile) {
			httputil.WriteBadRequest(w, "Avatar file is required")
			return
		}
		httputil.WriteBadRequest(w, "Invalid avatar upload")
		return
	}
	defer file.Close()

	user, err := h.userService.UpdateAvatar(r.Context(), userID, service.AvatarUpload{
		Body:        file,
		Size:        header.Size,
		ContentType: header.Header.Get("Content-Type"),
	})
	if err != nil {
		writeServiceError(w, r, h.log, "upload avatar", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, user)
}

// Search handles GET /users/search?q=&limit=
func (h *ProfileHandler) Search(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}
	limit, ok := queryLimit(w, r)
	if !ok {
		return
	}

	users, err := h.userService.Search(r.Context(), r.URL.Query().Get("q"), limit, userID)
	if err != nil {
		writeServiceError(w, r, h.log, "search users", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, model.FollowListResponse{Users: users})
}
