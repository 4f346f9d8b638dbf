package handler

import (
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"

	"habitly/internal/httputil"
	"habitly/internal/model"
	"habitly/internal/transport/http/middleware"
)

// validationErrors are reported as 400 BAD_REQUEST with their own message.
var validationErrors = []error{
	model.ErrEmailRequired,
	model.ErrInvalidEmail,
	model.ErrUsernameRequired,
	model.ErrInvalidUsername,
	model.ErrPasswordRequired,
	model.ErrPasswordTooShort,
	model.ErrBioTooLong,
	model.ErrQueryRequired,
	model.ErrHabitNameRequired,
	model.ErrHabitNameTooLong,
	model.ErrInvalidCategory,
	model.ErrInvalidFrequency,
	model.ErrNotesTooLong,
	model.ErrInvalidColor,
	model.ErrInvalidFriendsType,
}

// writeServiceError maps a service error onto the HTTP error format.
// Anything unrecognised is logged with detail and answered with a generic 500.
func writeServiceError(w http.ResponseWriter, r *http.Request, log *logrus.Entry, action string, err error) {
	for _, v := range validationErrors {
		if errors.Is(err, v) {
			httputil.WriteBadRequest(w, v.Error())
			return
		}
	}

	switch {
	case errors.Is(err, model.ErrEmailExists):
		httputil.WriteBadRequestWithCode(w, model.CodeEmailTaken, "Email is already registered")
	case errors.Is(err, model.ErrUsernameExists):
		httputil.WriteBadRequestWithCode(w, model.CodeUsernameTaken, "Username already exists")
	case errors.Is(err, model.ErrHabitNameTaken):
		httputil.WriteBadRequestWithCode(w, model.CodeHabitNameTaken, "A habit with this name already exists")
	case errors.Is(err, model.ErrAlreadyCompleted):
		httputil.WriteBadRequestWithCode(w, model.CodeAlreadyCompleted, "Habit already completed for this period")
	case errors.Is(err, model.ErrAlreadyFollowing):
		httputil.WriteBadRequestWithCode(w, model.CodeAlreadyFollowing, "Already following this user")
	case errors.Is(err, model.ErrCannotFollowSelf):
		httputil.WriteBadRequestWithCode(w, model.CodeCannotFollowSelf, "Cannot follow yourself")
	case errors.Is(err, model.ErrFileTooLarge):
		httputil.WriteBadRequestWithCode(w, model.CodeFileTooLarge, "Avatar exceeds 5MB limit")
	case errors.Is(err, model.ErrInvalidImageType):
		httputil.WriteBadRequestWithCode(w, model.CodeInvalidImageType, "Unsupported image type. Allowed: jpeg, png, gif, webp")

	case errors.Is(err, model.ErrInvalidCredentials):
		httputil.WriteUnauthorized(w, "Invalid credentials")

	case errors.Is(err, model.ErrUserNotFound):
		httputil.WriteNotFound(w, "User not found")
	case errors.Is(err, model.ErrHabitNotFound):
		httputil.WriteNotFound(w, "Habit not found")
	case errors.Is(err, model.ErrNotFollowing):
		httputil.WriteNotFound(w, "Not following this user")
	case errors.Is(err, model.ErrNothingToUndo):
		httputil.WriteNotFound(w, "No completion for the current period")

	case errors.Is(err, model.ErrStorageNotConfigured):
		httputil.WriteServiceUnavailableWithCode(w, model.CodeStorageNotConfigured, "Avatar storage is not configured")

	default:
		log.WithFields(logrus.Fields{
			"request_id": chimw.GetReqID(r.Context()),
			"action":     action,
		}).WithError(err).Error("Request FAILED")
		httputil.WriteInternalError(w, "Failed to "+action)
	}
}

// requireUserID reads the authenticated user set by the auth middleware.
func requireUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	userID, ok := middleware.GetUserIDFromContext(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "Not authenticated")
	}
	return userID, ok
}

// pathID parses a positive integer URL parameter.
func pathID(w http.ResponseWriter, r *http.Request, name, label string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		httputil.WriteBadRequest(w, "Invalid "+label+" ID")
		return 0, false
	}
	return id, true
}

// queryLimit parses ?limit=; absent means 0, which the services default.
func queryLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil {
		httputil.WriteBadRequest(w, "limit must be an integer")
		return 0, false
	}
	return limit, true
}

// getClientIP returns the peer address of r without its port. Forwarding
// headers are not read here: the router's RealIP middleware decides whether
// they replace RemoteAddr. The value is informational (stored with refresh
// tokens) and is never used for access decisions.
func getClientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
