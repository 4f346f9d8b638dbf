package http

import (
	"context"
	"errors"
	"fmt"
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/jmoiron/sqlx"

	"habitly/internal/cache"
	"habitly/internal/config"
	"habitly/internal/handler"
	"habitly/internal/logging"
	"habitly/internal/queue"
	"habitly/internal/redis"
	"habitly/internal/repository"
	"habitly/internal/service"
	"habitly/internal/worker"
)

const (
	shutdownTimeout = 15 * time.Second

	tokenPurgeInterval  = time.Hour
	tokenPurgeRetention = 7 * 24 * time.Hour
)

// Deps are the optional collaborators of the API. Zero values disable
// event publishing, the activity cache and avatar uploads respectively.
type Deps struct {
	Publisher     queue.Publisher
	ActivityCache cache.ActivityCache
	Media         *service.MediaService
}

// NewAPI builds the repositories, services and handlers over db and returns
// the routed API along with the auth service used for housekeeping.
func NewAPI(cfg *config.Config, db *sqlx.DB, deps Deps) (chi.Router, *service.AuthService) {
	txManager := repository.NewTxManager(db)
	userRepo := repository.NewUserRepository(db, cfg.DBTimeout)
	refreshTokenRepo := repository.NewRefreshTokenRepository(db, cfg.DBTimeout)
	habitRepo := repository.NewHabitRepository(db, cfg.DBTimeout)
	completionRepo := repository.NewCompletionRepository(db, cfg.DBTimeout)
	friendshipRepo := repository.NewFriendshipRepository(db, cfg.DBTimeout)

	clock := service.SystemClock(cfg.Location)
	authService := service.NewAuthService(refreshTokenRepo, cfg)
	userService := service.NewUserService(userRepo, habitRepo, completionRepo, friendshipRepo, deps.Media, clock)
	habitService := service.NewHabitService(txManager, habitRepo, completionRepo, deps.Publisher, clock)
	followService := service.NewFollowService(txManager, friendshipRepo, userRepo, deps.Publisher)
	activityService := service.NewActivityService(friendshipRepo, completionRepo, deps.ActivityCache, clock)

	router := NewRouter(RouterConfig{
		AuthHandler:    handler.NewAuthHandler(userService, authService, cfg),
		HabitHandler:   handler.NewHabitHandler(habitService),
		FriendsHandler: handler.NewFriendsHandler(followService, activityService),
		ProfileHandler: handler.NewProfileHandler(userService),
		JWTSecret:      cfg.JWTSecret,
		AllowedOrigins: cfg.CORSAllowedOrigins,
		RequestTimeout: cfg.RequestTimeout,
	})
	return router, authService
}

// Run wires the application and serves HTTP until ctx is cancelled, then
// shuts the server and the workers down gracefully.
func Run(ctx context.Context, cfg *config.Config, db *sqlx.DB) error {
	log := logging.For("Server")

	// Redis is optional: without it the feed is read from Postgres and no
	// events are published.
	var (
		publisher     queue.Publisher
		activityCache cache.ActivityCache
	)
	if cfg.RedisURL != "" {
		rdb, err := redis.Connect(ctx, cfg.RedisURL)
		if err != nil {
			return err
		}
		defer rdb.Close()

		publisher = queue.NewPublisher(rdb.Client)
		activityCache = cache.NewActivityCache(rdb.Client)

		workers := worker.NewManager(
			queue.NewConsumer(rdb.Client),
			worker.NewHandler(
				activityCache,
				repository.NewFriendshipRepository(db, cfg.DBTimeout),
				repository.NewCompletionRepository(db, cfg.DBTimeout),
			),
			worker.ManagerConfig{WorkerCount: cfg.WorkerCount},
		)
		if err := workers.Start(ctx); err != nil {
			return fmt.Errorf("start workers: %w", err)
		}
		defer workers.Stop()
	} else {
		log.Warn("REDIS_URL not set, activity cache and events disabled")
	}

	var media *service.MediaService
	if cfg.MediaEnabled() {
		store, err := service.NewR2Store(ctx, cfg)
		if err != nil {
			return err
		}
		media = service.NewMediaService(store, cfg.R2PublicURL)
	} else {
		log.Warn("R2 storage not configured, avatar uploads disabled")
	}

	router, authService := NewAPI(cfg, db, Deps{
		Publisher:     publisher,
		ActivityCache: activityCache,
		Media:         media,
	})

	go purgeExpiredTokens(ctx, authService)

	srv := &stdhttp.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", srv.Addr).Info("Starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, stdhttp.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	log.Info("Server stopped")
	return nil
}

// purgeExpiredTokens periodically deletes long-expired refresh tokens.
// Failures are logged by the service and retried on the next tick.
func purgeExpiredTokens(ctx context.Context, auth *service.AuthService) {
	ticker := time.NewTicker(tokenPurgeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = auth.PurgeExpired(ctx, tokenPurgeRetention)
		}
	}
}
