package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"habitly/internal/model"
)

type activityFixture struct {
	store       *memHabitStore
	completions *mockCompletionRepository
	friendships *mockFriendshipRepository
	habitSvc    *HabitService
}

func newActivityFixture(now time.Time) *activityFixture {
	store := newMemHabitStore()
	f := &activityFixture{
		store:       store,
		completions: &mockCompletionRepository{store: store},
		friendships: newMockFriendshipRepository(),
	}
	f.habitSvc = NewHabitService(&mockTxManager{}, &mockHabitRepository{store: store}, f.completions, nil, fixedClock(now))
	return f
}

func (f *activityFixture) service(c *mockActivityCache, now time.Time) *ActivityService {
	if c == nil {
		return NewActivityService(f.friendships, f.completions, nil, fixedClock(now))
	}
	return NewActivityService(f.friendships, f.completions, c, fixedClock(now))
}

func TestActivityService_FollowedCheckInAppearsWithStreak(t *testing.T) {
	const userA, userB = int64(1), int64(2)
	f := newActivityFixture(habitNow)
	ctx := context.Background()

	f.friendships.follow(userA, userB)
	run := f.store.addHabit(model.Habit{UserID: userB, Name: "Run", Category: model.CategoryHealth, Frequency: model.FrequencyDaily})
	f.store.addCompletion(model.Completion{HabitID: run.ID, UserID: userB, CompletedAt: habitNow.AddDate(0, 0, -1)})

	completion, err := f.habitSvc.CheckIn(ctx, userB, run.ID, nil)
	require.NoError(t, err)

	feed, err := f.service(nil, habitNow).BuildFeed(ctx, userA, 0)
	require.NoError(t, err)

	var forHabit []model.ActivityItem
	for _, item := range feed {
		if item.Habit.ID == run.ID && item.ID == completion.ID {
			forHabit = append(forHabit, item)
		}
	}
	require.Len(t, forHabit, 1)
	require.Equal(t, userB, forHabit[0].User.ID)
	require.Equal(t, "Run", forHabit[0].Habit.Name)
	require.Equal(t, 2, forHabit[0].Streak, "current streak of B for that habit")
}

func TestActivityService_NoFollowees(t *testing.T) {
	f := newActivityFixture(habitNow)
	feed, err := f.service(nil, habitNow).BuildFeed(context.Background(), 1, 10)
	require.NoError(t, err)
	require.NotNil(t, feed)
	require.Empty(t, feed)
	require.Zero(t, f.completions.feedScoreCalls)
}

func TestActivityService_OrderingAndLimit(t *testing.T) {
	f := newActivityFixture(habitNow)
	f.friendships.follow(1, 2)
	f.friendships.follow(1, 3)

	h2 := f.store.addHabit(model.Habit{UserID: 2, Name: "Run", Frequency: model.FrequencyDaily})
	h3 := f.store.addHabit(model.Habit{UserID: 3, Name: "Read", Frequency: model.FrequencyWeekly})
	h4 := f.store.addHabit(model.Habit{UserID: 4, Name: "Hidden", Frequency: model.FrequencyDaily})

	same := habitNow.Add(-time.Hour)
	c1 := f.store.addCompletion(model.Completion{HabitID: h2.ID, UserID: 2, CompletedAt: same})
	c2 := f.store.addCompletion(model.Completion{HabitID: h3.ID, UserID: 3, CompletedAt: same})
	c3 := f.store.addCompletion(model.Completion{HabitID: h2.ID, UserID: 2, CompletedAt: habitNow.AddDate(0, 0, -1)})
	f.store.addCompletion(model.Completion{HabitID: h4.ID, UserID: 4, CompletedAt: habitNow})

	svc := f.service(nil, habitNow)

	feed, err := svc.BuildFeed(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, feed, 3, "users not followed are excluded")
	require.Equal(t, []int64{c2.ID, c1.ID, c3.ID}, activityIDs(feed), "newest first, ties by id descending")

	feed, err = svc.BuildFeed(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{c2.ID, c1.ID}, activityIDs(feed))
}

func TestActivityService_CacheMissWarmsThenReadsCache(t *testing.T) {
	f := newActivityFixture(habitNow)
	f.friendships.follow(1, 2)
	h := f.store.addHabit(model.Habit{UserID: 2, Name: "Run", Frequency: model.FrequencyDaily})
	c := f.store.addCompletion(model.Completion{HabitID: h.ID, UserID: 2, CompletedAt: habitNow})

	activityCache := newMockActivityCache()
	svc := f.service(activityCache, habitNow)

	feed, err := svc.BuildFeed(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{c.ID}, activityIDs(feed))
	require.Equal(t, 1, activityCache.warmCalls)
	require.Equal(t, 1, f.completions.feedScoreCalls)

	feed, err = svc.BuildFeed(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{c.ID}, activityIDs(feed))
	require.Equal(t, 1, activityCache.warmCalls, "warm set is reused")
	require.Equal(t, 1, f.completions.feedScoreCalls, "second read served by the cache")
}

func TestActivityService_CacheErrorsFallBackToDatabase(t *testing.T) {
	tests := []struct {
		name  string
		setup func(c *mockActivityCache)
	}{
		{"exists fails", func(c *mockActivityCache) { c.existsErr = errors.New("redis down") }},
		{"get fails", func(c *mockActivityCache) {
			c.sets[1] = map[int64]int64{}
			c.getErr = errors.New("redis down")
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newActivityFixture(habitNow)
			f.friendships.follow(1, 2)
			h := f.store.addHabit(model.Habit{UserID: 2, Name: "Run", Frequency: model.FrequencyDaily})
			c := f.store.addCompletion(model.Completion{HabitID: h.ID, UserID: 2, CompletedAt: habitNow})

			activityCache := newMockActivityCache()
			tt.setup(activityCache)

			feed, err := f.service(activityCache, habitNow).BuildFeed(context.Background(), 1, 10)
			require.NoError(t, err)
			require.Equal(t, []int64{c.ID}, activityIDs(feed))
		})
	}
}

func TestActivityService_StaleCacheEntriesAreDropped(t *testing.T) {
	f := newActivityFixture(habitNow)
	f.friendships.follow(1, 2)
	h2 := f.store.addHabit(model.Habit{UserID: 2, Name: "Run", Frequency: model.FrequencyDaily})
	h3 := f.store.addHabit(model.Habit{UserID: 3, Name: "Read", Frequency: model.FrequencyDaily})
	kept := f.store.addCompletion(model.Completion{HabitID: h2.ID, UserID: 2, CompletedAt: habitNow})
	unfollowed := f.store.addCompletion(model.Completion{HabitID: h3.ID, UserID: 3, CompletedAt: habitNow})

	activityCache := newMockActivityCache()
	ms := habitNow.UnixMilli()
	activityCache.sets[1] = map[int64]int64{
		kept.ID:       ms,
		unfollowed.ID: ms, // unfollow not yet processed by the worker
		9999:          ms, // deleted completion
	}

	feed, err := f.service(activityCache, habitNow).BuildFeed(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Equal(t, []int64{kept.ID}, activityIDs(feed))
	require.Equal(t, map[int64]int64{kept.ID: ms}, activityCache.sets[1], "stale entries are evicted")
}

func TestActivityService_StaleCacheEntriesDoNotTakeSlots(t *testing.T) {
	f := newActivityFixture(habitNow)
	f.friendships.follow(1, 2)
	h2 := f.store.addHabit(model.Habit{UserID: 2, Name: "Run", Frequency: model.FrequencyDaily})
	h3 := f.store.addHabit(model.Habit{UserID: 3, Name: "Read", Frequency: model.FrequencyDaily})
	older := f.store.addCompletion(model.Completion{HabitID: h2.ID, UserID: 2, CompletedAt: habitNow.AddDate(0, 0, -2)})
	newer := f.store.addCompletion(model.Completion{HabitID: h2.ID, UserID: 2, CompletedAt: habitNow.AddDate(0, 0, -1)})

	activityCache := newMockActivityCache()
	activityCache.sets[1] = map[int64]int64{
		older.ID: older.CompletedAt.UnixMilli(),
		newer.ID: newer.CompletedAt.UnixMilli(),
	}
	// Newer entries that no longer qualify, more of them than the page size.
	for i := 0; i < 3; i++ {
		c := f.store.addCompletion(model.Completion{HabitID: h3.ID, UserID: 3, CompletedAt: habitNow.Add(-time.Duration(i) * time.Hour)})
		activityCache.sets[1][c.ID] = c.CompletedAt.UnixMilli()
	}
	activityCache.sets[1][9998] = habitNow.UnixMilli()
	activityCache.sets[1][9999] = habitNow.UnixMilli()

	svc := f.service(activityCache, habitNow)

	feed, err := svc.BuildFeed(context.Background(), 1, 1)
	require.NoError(t, err)
	require.Equal(t, []int64{newer.ID}, activityIDs(feed))

	feed, err = svc.BuildFeed(context.Background(), 1, 2)
	require.NoError(t, err)
	require.Equal(t, []int64{newer.ID, older.ID}, activityIDs(feed))
	require.Len(t, activityCache.sets[1], 2, "only live entries remain cached")
	require.Zero(t, f.completions.feedScoreCalls, "served from the cache")
}

func TestActivityService_StreakSharedPerHabit(t *testing.T) {
	f := newActivityFixture(habitNow)
	f.friendships.follow(1, 2)
	h := f.store.addHabit(model.Habit{UserID: 2, Name: "Run", Frequency: model.FrequencyDaily})
	for i := 0; i < 4; i++ {
		f.store.addCompletion(model.Completion{HabitID: h.ID, UserID: 2, CompletedAt: habitNow.AddDate(0, 0, -i)})
	}

	inner := &mockCompletionRepository{store: f.store}
	calls := 0
	f.completions.recentTimestampsFn = func(ctx context.Context, habitIDs []int64, perHabit int) (map[int64][]time.Time, error) {
		calls++
		require.Equal(t, model.StatsHistoryLimit, perHabit)
		require.Equal(t, []int64{h.ID}, habitIDs)
		return inner.RecentTimestamps(ctx, habitIDs, perHabit)
	}

	feed, err := f.service(nil, habitNow).BuildFeed(context.Background(), 1, 10)
	require.NoError(t, err)
	require.Len(t, feed, 4)
	require.Equal(t, 1, calls, "streaks are loaded in one batch")
	for _, item := range feed {
		require.Equal(t, 4, item.Streak, "streak is as of now, not as of the event")
	}
}

func TestActivityService_LimitIsClamped(t *testing.T) {
	f := newActivityFixture(habitNow)
	f.friendships.follow(1, 2)

	var gotLimit int
	f.completions.getFeedScoresFn = func(ctx context.Context, userIDs []int64, limit int) ([]model.CompletionScore, error) {
		gotLimit = limit
		return nil, nil
	}

	svc := f.service(nil, habitNow)

	_, err := svc.BuildFeed(context.Background(), 1, 1000)
	require.NoError(t, err)
	require.Equal(t, model.MaxListLimit, gotLimit)

	_, err = svc.BuildFeed(context.Background(), 1, -1)
	require.NoError(t, err)
	require.Equal(t, model.DefaultListLimit, gotLimit)
}

func activityIDs(items []model.ActivityItem) []int64 {
	ids := make([]int64, len(items))
	for i, item := range items {
		ids[i] = item.ID
	}
	return ids
}
