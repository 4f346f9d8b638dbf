package http

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"habitly/internal/handler"
	"habitly/internal/httputil"
	"habitly/internal/metrics"
	authmw "habitly/internal/transport/http/middleware"
)

// RouterConfig holds the dependencies needed to create routes
type RouterConfig struct {
	AuthHandler    *handler.AuthHandler
	HabitHandler   *handler.HabitHandler
	FriendsHandler *handler.FriendsHandler
	ProfileHandler *handler.ProfileHandler

	JWTSecret      string
	AllowedOrigins []string
	RequestTimeout time.Duration
}

// NewRouter creates and configures a new Chi router with all route groups
func NewRouter(cfg RouterConfig) chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(authmw.RequestLogger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(cfg.RequestTimeout))
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())

	// Public routes - the refresh token is the credential
	r.Route("/auth", func(r chi.Router) {
		r.Post("/register", cfg.AuthHandler.Register)
		r.Post("/login", cfg.AuthHandler.Login)
		r.Post("/refresh", cfg.AuthHandler.Refresh)
		r.Post("/logout", cfg.AuthHandler.Logout)
	})

	// Protected routes - require authentication
	r.Group(func(r chi.Router) {
		r.Use(authmw.AuthMiddleware(cfg.JWTSecret))

		r.Get("/me", cfg.AuthHandler.Me)
		r.Post("/auth/logout-all", cfg.AuthHandler.LogoutAll)

		r.Route("/habits", func(r chi.Router) {
			r.Get("/", cfg.HabitHandler.List)
			r.Post("/", cfg.HabitHandler.Create)
			r.Get("/{id}", cfg.HabitHandler.Get)
			r.Put("/{id}", cfg.HabitHandler.Update)
			r.Delete("/{id}", cfg.HabitHandler.Delete)
			r.Post("/{id}/checkin", cfg.HabitHandler.CheckIn)
			r.Delete("/{id}/checkin", cfg.HabitHandler.UndoCheckIn)
			r.Get("/{id}/completions", cfg.HabitHandler.History)
		})

		r.Route("/friends", func(r chi.Router) {
			r.Get("/", cfg.FriendsHandler.List)
			r.Post("/", cfg.FriendsHandler.Follow)
			r.Delete("/{userId}", cfg.FriendsHandler.Unfollow)
		})

		r.Get("/profile", cfg.ProfileHandler.Get)
		r.Put("/profile", cfg.ProfileHandler.Update)
		r.Post("/profile/avatar", cfg.ProfileHandler.UploadAvatar)

		r.Get("/users/search", cfg.ProfileHandler.Search)
	})

	return r
}
