package service

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/sirupsen/logrus"

	"habitly/internal/cache"
	"habitly/internal/logging"
	"habitly/internal/metrics"
	"habitly/internal/model"
	"habitly/internal/repository"
	"habitly/internal/stats"
)

// Completion id sources reported in metrics and logs
const (
	feedSourceCache    = "cache"
	feedSourceWarmed   = "warmed"
	feedSourceDatabase = "database"
)

// ActivityService builds the social activity feed: recent completions by the
// users a viewer follows, each annotated with the actor's current streak.
type ActivityService struct {
	friendshipRepo repository.FriendshipRepository
	completionRepo repository.CompletionRepository
	activityCache  cache.ActivityCache // nil reads straight from the database
	now            Clock
	log            *logrus.Entry
}

func NewActivityService(
	friendshipRepo repository.FriendshipRepository,
	completionRepo repository.CompletionRepository,
	activityCache cache.ActivityCache,
	now Clock,
) *ActivityService {
	return &ActivityService{
		friendshipRepo: friendshipRepo,
		completionRepo: completionRepo,
		activityCache:  activityCache,
		now:            now,
		log:            logging.For("ActivityService"),
	}
}

// BuildFeed returns up to maxItems completions by followed users, newest
// first with ties broken by id descending.
//
// Flow:
// 1. Resolve followees (none -> empty feed)
// 2. Completion ids from the viewer's cache set, warming it on a miss;
//    any cache failure falls back to the database
// 3. Hydrate ids into items until maxItems qualify, dropping completions
//    that are gone or by users no longer followed (and evicting them from
//    the cache set)
// 4. Attach each actor's streak for the habit, computed as of now
func (s *ActivityService) BuildFeed(ctx context.Context, viewerID int64, maxItems int) ([]model.ActivityItem, error) {
	startTime := time.Now()
	maxItems = ClampLimit(maxItems, model.DefaultListLimit, model.MaxListLimit)

	followeeIDs, err := s.friendshipRepo.GetFollowingIDs(ctx, viewerID)
	if err != nil {
		return nil, fmt.Errorf("get followee ids: %w", err)
	}
	if len(followeeIDs) == 0 {
		return []model.ActivityItem{}, nil
	}

	ids, source, err := s.completionIDs(ctx, viewerID, followeeIDs, maxItems)
	if err != nil {
		return nil, err
	}
	metrics.FeedReads.WithLabelValues(source).Inc()
	if len(ids) == 0 {
		return []model.ActivityItem{}, nil
	}

	followed := make(map[int64]struct{}, len(followeeIDs))
	for _, id := range followeeIDs {
		followed[id] = struct{}{}
	}

	items, stale, err := s.hydrate(ctx, ids, followed, maxItems)
	if err != nil {
		return nil, err
	}
	if len(stale) > 0 && source == feedSourceCache {
		if err := s.activityCache.Remove(ctx, viewerID, stale...); err != nil {
			s.log.WithError(err).WithField("viewer", viewerID).Warn("Stale entry removal FAILED")
		}
	}

	if err := s.attachStreaks(ctx, items); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"viewer":   viewerID,
		"items":    len(items),
		"source":   source,
		"duration": time.Since(startTime),
	}).Debug("BuildFeed OK")

	return items, nil
}

// completionIDs picks the newest completion ids of followeeIDs.
func (s *ActivityService) completionIDs(ctx context.Context, viewerID int64, followeeIDs []int64, limit int) ([]int64, string, error) {
	if s.activityCache == nil {
		ids, err := s.idsFromDatabase(ctx, followeeIDs, limit)
		return ids, feedSourceDatabase, err
	}

	exists, err := s.activityCache.Exists(ctx, viewerID)
	if err != nil {
		s.log.WithError(err).WithField("viewer", viewerID).Warn("Cache check FAILED, using database")
		ids, err := s.idsFromDatabase(ctx, followeeIDs, limit)
		return ids, feedSourceDatabase, err
	}

	if !exists {
		scores, err := s.completionRepo.GetFeedScores(ctx, followeeIDs, cache.ActivityCacheCap)
		if err != nil {
			return nil, "", fmt.Errorf("get feed scores: %w", err)
		}
		if len(scores) > 0 {
			if err := s.activityCache.Warm(ctx, viewerID, scores); err != nil {
				s.log.WithError(err).WithField("viewer", viewerID).Warn("Cache warm FAILED")
			}
		}
		if len(scores) > limit {
			scores = scores[:limit]
		}
		return scoreIDs(scores), feedSourceWarmed, nil
	}

	// The whole set is read because stale entries may sit above live ones.
	ids, err := s.activityCache.Get(ctx, viewerID, cache.ActivityCacheCap)
	if err != nil {
		s.log.WithError(err).WithField("viewer", viewerID).Warn("Cache read FAILED, using database")
		ids, err := s.idsFromDatabase(ctx, followeeIDs, limit)
		return ids, feedSourceDatabase, err
	}
	return ids, feedSourceCache, nil
}

// hydrate loads ids, newest first, in batches of maxItems until maxItems
// completions by followed users are found. Ids that no longer resolve to
// such a completion are returned as stale.
func (s *ActivityService) hydrate(ctx context.Context, ids []int64, followed map[int64]struct{}, maxItems int) ([]model.ActivityItem, []int64, error) {
	items := make([]model.ActivityItem, 0, min(len(ids), maxItems))
	var stale []int64

	for start := 0; start < len(ids) && len(items) < maxItems; start += maxItems {
		batch := ids[start:min(start+maxItems, len(ids))]
		loaded, err := s.completionRepo.GetActivity(ctx, batch)
		if err != nil {
			return nil, nil, fmt.Errorf("hydrate activity: %w", err)
		}

		byID := make(map[int64]model.ActivityItem, len(loaded))
		for _, item := range loaded {
			byID[item.ID] = item
		}
		for _, id := range batch {
			item, ok := byID[id]
			if !ok {
				stale = append(stale, id)
				continue
			}
			if _, ok := followed[item.User.ID]; !ok {
				stale = append(stale, id)
				continue
			}
			items = append(items, item)
		}
	}

	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].CompletedAt.Equal(items[j].CompletedAt) {
			return items[i].CompletedAt.After(items[j].CompletedAt)
		}
		return items[i].ID > items[j].ID
	})
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items, stale, nil
}

func (s *ActivityService) idsFromDatabase(ctx context.Context, followeeIDs []int64, limit int) ([]int64, error) {
	scores, err := s.completionRepo.GetFeedScores(ctx, followeeIDs, limit)
	if err != nil {
		return nil, fmt.Errorf("get feed scores: %w", err)
	}
	return scoreIDs(scores), nil
}

// attachStreaks computes each item's streak from the actor's recent
// completions of that habit, loaded in one batch.
func (s *ActivityService) attachStreaks(ctx context.Context, items []model.ActivityItem) error {
	if len(items) == 0 {
		return nil
	}

	seen := make(map[int64]struct{}, len(items))
	habitIDs := make([]int64, 0, len(items))
	for _, item := range items {
		if _, ok := seen[item.Habit.ID]; ok {
			continue
		}
		seen[item.Habit.ID] = struct{}{}
		habitIDs = append(habitIDs, item.Habit.ID)
	}

	recent, err := s.completionRepo.RecentTimestamps(ctx, habitIDs, model.StatsHistoryLimit)
	if err != nil {
		return fmt.Errorf("load recent completions: %w", err)
	}

	now := s.now()
	streaks := make(map[int64]int, len(habitIDs))
	for _, id := range habitIDs {
		streaks[id] = -1
	}
	for i := range items {
		habit := items[i].Habit
		if streaks[habit.ID] < 0 {
			streaks[habit.ID] = stats.Streak(habit.Frequency, recent[habit.ID], now)
		}
		items[i].Streak = streaks[habit.ID]
	}
	return nil
}

func scoreIDs(scores []model.CompletionScore) []int64 {
	ids := make([]int64, len(scores))
	for i, sc := range scores {
		ids[i] = sc.CompletionID
	}
	return ids
}
