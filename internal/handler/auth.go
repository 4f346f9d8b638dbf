package handler

import (
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"habitly/internal/config"
	"habitly/internal/httputil"
	"habitly/internal/logging"
	"habitly/internal/model"
	"habitly/internal/transport/http/middleware"
)

const refreshTokenCookie = "refresh_token"

// AuthHandler groups auth-related HTTP endpoints and their dependencies.
type AuthHandler struct {
	userService userService
	authService authService
	config      *config.Config
	log         *logrus.Entry
}

// NewAuthHandler wires dependencies for authentication endpoints.
func NewAuthHandler(userService userService, authService authService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{
		userService: userService,
		authService: authService,
		config:      cfg,
		log:         logging.For("AuthHandler"),
	}
}

// Register creates an account and signs it in.
// POST /auth/register
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req model.RegisterRequest
	if err := httputil.DecodeJSON(w, r, &req, false); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	user, err := h.userService.Register(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, h.log, "register", err)
		return
	}

	h.signIn(w, r, http.StatusCreated, user)
}

// Login handles user login with an email address or username.
// POST /auth/login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req model.LoginRequest
	if err := httputil.DecodeJSON(w, r, &req, false); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return
	}

	if req.Identifier == "" {
		httputil.WriteBadRequest(w, "Email or username is required")
		return
	}
	if req.Password == "" {
		httputil.WriteBadRequest(w, "Password is required")
		return
	}

	user, err := h.userService.Login(r.Context(), &req)
	if err != nil {
		writeServiceError(w, r, h.log, "login", err)
		return
	}

	h.signIn(w, r, http.StatusOK, user)
}

func (h *AuthHandler) signIn(w http.ResponseWriter, r *http.Request, status int, user *model.User) {
	tokenPair, err := h.authService.GenerateTokenPair(r.Context(), user.ID, r.Header.Get("User-Agent"), getClientIP(r))
	if err != nil {
		writeServiceError(w, r, h.log, "generate tokens", err)
		return
	}

	h.setAuthCookies(w, tokenPair)
	httputil.WriteJSON(w, status, model.AuthResponse{User: user, TokenPair: *tokenPair})
}

// Me returns the currently authenticated user
// GET /me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	user, err := h.userService.GetByID(r.Context(), userID)
	if err != nil {
		writeServiceError(w, r, h.log, "get user", err)
		return
	}

	httputil.WriteJSON(w, http.StatusOK, user)
}

// Refresh rotates the refresh token. The token is read from the body and
// falls back to the refresh_token cookie.
// POST /auth/refresh
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.refreshTokenFromRequest(w, r)
	if !ok {
		return
	}
	if raw == "" {
		httputil.WriteUnauthorized(w, "Refresh token is required")
		return
	}

	tokenPair, _, err := h.authService.RefreshTokens(r.Context(), raw, r.Header.Get("User-Agent"), getClientIP(r))
	if err != nil {
		switch {
		case errors.Is(err, model.ErrRefreshTokenNotFound):
			httputil.WriteUnauthorized(w, "Invalid refresh token")
		case errors.Is(err, model.ErrRefreshTokenExpired):
			httputil.WriteUnauthorizedWithCode(w, model.CodeTokenExpired, "Refresh token has expired")
		case errors.Is(err, model.ErrRefreshTokenReused):
			h.clearAuthCookies(w)
			httputil.WriteUnauthorizedWithCode(w, model.CodeTokenReused, "Refresh token reuse detected. Please login again.")
		default:
			writeServiceError(w, r, h.log, "refresh tokens", err)
		}
		return
	}

	h.setAuthCookies(w, tokenPair)
	httputil.WriteJSON(w, http.StatusOK, tokenPair)
}

// Logout revokes the presented refresh token and clears the auth cookies.
// Unknown or already revoked tokens still log out successfully.
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	raw, ok := h.refreshTokenFromRequest(w, r)
	if !ok {
		return
	}

	if err := h.authService.RevokeRefreshToken(r.Context(), raw); err != nil {
		writeServiceError(w, r, h.log, "logout", err)
		return
	}

	h.clearAuthCookies(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out successfully",
	})
}

// LogoutAll handles logout from all devices
// POST /auth/logout-all
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.authService.RevokeAllUserTokens(r.Context(), userID); err != nil {
		writeServiceError(w, r, h.log, "logout from all devices", err)
		return
	}

	h.clearAuthCookies(w)
	httputil.WriteJSON(w, http.StatusOK, map[string]string{
		"message": "Logged out from all devices",
	})
}

func (h *AuthHandler) refreshTokenFromRequest(w http.ResponseWriter, r *http.Request) (string, bool) {
	var req model.RefreshRequest
	if err := httputil.DecodeJSON(w, r, &req, true); err != nil {
		httputil.WriteBadRequest(w, "Invalid request body")
		return "", false
	}
	if req.RefreshToken != "" {
		return req.RefreshToken, true
	}
	if cookie, err := r.Cookie(refreshTokenCookie); err == nil {
		return cookie.Value, true
	}
	return "", true
}

func (h *AuthHandler) setAuthCookies(w http.ResponseWriter, pair *model.TokenPair) {
	http.SetCookie(w, h.cookie(middleware.AccessTokenCookie, pair.AccessToken, h.config.AccessTokenMaxAge))
	http.SetCookie(w, h.cookie(refreshTokenCookie, pair.RefreshToken, h.config.RefreshTokenMaxAge))
}

func (h *AuthHandler) clearAuthCookies(w http.ResponseWriter) {
	http.SetCookie(w, h.cookie(middleware.AccessTokenCookie, "", -1))
	http.SetCookie(w, h.cookie(refreshTokenCookie, "", -1))
}

func (h *AuthHandler) cookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}
