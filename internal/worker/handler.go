package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"habitly/internal/cache"
	"habitly/internal/logging"
	"habitly/internal/metrics"
	"habitly/internal/model"
	"habitly/internal/queue"
)

const (
	// backfillLimit is how many of a followee's completions are copied into
	// a new follower's activity set.
	backfillLimit = 50

	// removeLimit bounds the completions looked up when unfollowing.
	removeLimit = cache.ActivityCacheCap
)

// FollowerProvider abstracts the repository so workers stay DB-agnostic.
type FollowerProvider interface {
	GetFollowerIDs(ctx context.Context, userID int64) ([]int64, error)
}

// CompletionProvider supplies a user's recent completions for backfill.
type CompletionProvider interface {
	GetRecentScoresByUser(ctx context.Context, userID int64, limit int) ([]model.CompletionScore, error)
}

// Handler applies activity stream events to the activity cache.
type Handler struct {
	activityCache      cache.ActivityCache
	followerProvider   FollowerProvider
	completionProvider CompletionProvider
	log                *logrus.Entry
}

func NewHandler(
	activityCache cache.ActivityCache,
	followerProvider FollowerProvider,
	completionProvider CompletionProvider,
) *Handler {
	return &Handler{
		activityCache:      activityCache,
		followerProvider:   followerProvider,
		completionProvider: completionProvider,
		log:                logging.For("Worker"),
	}
}

// HandleEvent routes an event by type.
func (h *Handler) HandleEvent(ctx context.Context, event queue.ActivityEvent) error {
	startTime := time.Now()
	var err error

	switch event.Type {
	case queue.EventCompletionCreated:
		err = h.handleCompletionCreated(ctx, event)
	case queue.EventCompletionDeleted:
		err = h.removeFromFollowers(ctx, event.UserID, []int64{event.CompletionID})
	case queue.EventHabitDeleted:
		err = h.removeFromFollowers(ctx, event.UserID, event.CompletionIDs)
	case queue.EventUserFollowed:
		err = h.handleUserFollowed(ctx, event)
	case queue.EventUserUnfollowed:
		err = h.handleUserUnfollowed(ctx, event)
	default:
		metrics.WorkerEvents.WithLabelValues(event.Type, "unknown").Inc()
		return fmt.Errorf("unknown event type: %s", event.Type)
	}

	fields := logrus.Fields{"type": event.Type, "duration": time.Since(startTime)}
	if err != nil {
		metrics.WorkerEvents.WithLabelValues(event.Type, "error").Inc()
		h.log.WithFields(fields).WithError(err).Warn("HandleEvent FAILED")
		return err
	}

	metrics.WorkerEvents.WithLabelValues(event.Type, "ok").Inc()
	h.log.WithFields(fields).Debug("HandleEvent OK")
	return nil
}

// handleCompletionCreated fans a completion out to the owner's followers.
// Followers without a warmed set are skipped so a partial set never
// masquerades as a warm one. A single follower failing does not fail the
// fan-out.
func (h *Handler) handleCompletionCreated(ctx context.Context, event queue.ActivityEvent) error {
	followers, err := h.followerProvider.GetFollowerIDs(ctx, event.UserID)
	if err != nil {
		return fmt.Errorf("get followers: %w", err)
	}

	var failCount int
	for _, followerID := range followers {
		exists, err := h.activityCache.Exists(ctx, followerID)
		if err != nil {
			failCount++
			continue
		}
		if !exists {
			continue
		}
		if err := h.activityCache.Add(ctx, followerID, event.CompletionID, event.Timestamp); err != nil {
			failCount++
		}
	}

	h.log.WithFields(logrus.Fields{
		"completion": event.CompletionID,
		"fanout":     len(followers),
		"failed":     failCount,
	}).Info("CompletionCreated DONE")
	return nil
}

func (h *Handler) removeFromFollowers(ctx context.Context, userID int64, completionIDs []int64) error {
	if len(completionIDs) == 0 {
		return nil
	}

	followers, err := h.followerProvider.GetFollowerIDs(ctx, userID)
	if err != nil {
		return fmt.Errorf("get followers: %w", err)
	}

	var failCount int
	for _, followerID := range followers {
		if err := h.activityCache.Remove(ctx, followerID, completionIDs...); err != nil {
			failCount++
		}
	}

	h.log.WithFields(logrus.Fields{
		"user":        userID,
		"completions": len(completionIDs),
		"fanout":      len(followers),
		"failed":      failCount,
	}).Info("Removal DONE")
	return nil
}

// handleUserFollowed backfills the followee's recent completions into the
// follower's set. Viewers without a set are left alone; their next feed
// read warms it from the database.
func (h *Handler) handleUserFollowed(ctx context.Context, event queue.ActivityEvent) error {
	exists, err := h.activityCache.Exists(ctx, event.FollowerID)
	if err != nil {
		return fmt.Errorf("check activity cache: %w", err)
	}
	if !exists {
		return nil
	}

	completions, err := h.completionProvider.GetRecentScoresByUser(ctx, event.FolloweeID, backfillLimit)
	if err != nil {
		return fmt.Errorf("get recent completions: %w", err)
	}
	if err := h.activityCache.Warm(ctx, event.FollowerID, completions); err != nil {
		return err
	}

	h.log.WithFields(logrus.Fields{
		"follower":   event.FollowerID,
		"followee":   event.FolloweeID,
		"backfilled": len(completions),
	}).Info("UserFollowed DONE")
	return nil
}

func (h *Handler) handleUserUnfollowed(ctx context.Context, event queue.ActivityEvent) error {
	completions, err := h.completionProvider.GetRecentScoresByUser(ctx, event.FolloweeID, removeLimit)
	if err != nil {
		return fmt.Errorf("get completions to remove: %w", err)
	}
	if len(completions) == 0 {
		return nil
	}

	ids := make([]int64, len(completions))
	for i, c := range completions {
		ids[i] = c.CompletionID
	}
	if err := h.activityCache.Remove(ctx, event.FollowerID, ids...); err != nil {
		return err
	}

	h.log.WithFields(logrus.Fields{
		"follower": event.FollowerID,
		"followee": event.FolloweeID,
		"removed":  len(ids),
	}).Info("UserUnfollowed DONE")
	return nil
}
