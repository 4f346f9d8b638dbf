package service

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"

	"habitly/internal/model"
	"habitly/internal/queue"
)

// =============================================================================
// MOCKS
// =============================================================================
//
// Every mock is a struct of optional function fields. A test sets only the
// functions it cares about; the rest fall back to harmless defaults.

type mockTxManager struct {
	calls int
}

func (m *mockTxManager) WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	m.calls++
	return fn(nil)
}

type mockUserRepository struct {
	createFn           func(ctx context.Context, user *model.User) error
	getByIDFn          func(ctx context.Context, id int64) (*model.User, error)
	getByEmailFn       func(ctx context.Context, email string) (*model.User, error)
	getByUsernameFn    func(ctx context.Context, username string) (*model.User, error)
	existsByEmailFn    func(ctx context.Context, email string) (bool, error)
	existsByUsernameFn func(ctx context.Context, username string) (bool, error)
	updateProfileFn    func(ctx context.Context, user *model.User) error
	updateAvatarFn     func(ctx context.Context, userID int64, url, key *string) error
	searchFn           func(ctx context.Context, prefix string, limit int) ([]model.UserSummary, error)

	// Track calls for assertions
	createCalls []*model.User
}

func (m *mockUserRepository) Create(ctx context.Context, user *model.User) error {
	m.createCalls = append(m.createCalls, user)
	if m.createFn != nil {
		return m.createFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	if m.getByIDFn != nil {
		return m.getByIDFn(ctx, id)
	}
	return nil, model.ErrUserNotFound
}

func (m *mockUserRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	if m.getByEmailFn != nil {
		return m.getByEmailFn(ctx, email)
	}
	return nil, model.ErrUserNotFound
}

func (m *mockUserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	if m.getByUsernameFn != nil {
		return m.getByUsernameFn(ctx, username)
	}
	return nil, model.ErrUserNotFound
}

func (m *mockUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	if m.existsByEmailFn != nil {
		return m.existsByEmailFn(ctx, email)
	}
	return false, nil
}

func (m *mockUserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	if m.existsByUsernameFn != nil {
		return m.existsByUsernameFn(ctx, username)
	}
	return false, nil
}

func (m *mockUserRepository) UpdateProfile(ctx context.Context, user *model.User) error {
	if m.updateProfileFn != nil {
		return m.updateProfileFn(ctx, user)
	}
	return nil
}

func (m *mockUserRepository) UpdateAvatar(ctx context.Context, userID int64, url, key *string) error {
	if m.updateAvatarFn != nil {
		return m.updateAvatarFn(ctx, userID, url, key)
	}
	return nil
}

func (m *mockUserRepository) Search(ctx context.Context, prefix string, limit int) ([]model.UserSummary, error) {
	if m.searchFn != nil {
		return m.searchFn(ctx, prefix, limit)
	}
	return nil, nil
}

type mockRefreshTokenRepository struct {
	mu     sync.Mutex
	tokens map[string]*model.RefreshToken // by hash
	nextID int

	revokeAllFn     func(ctx context.Context, userID int64) error
	deleteExpiredFn func(ctx context.Context, olderThan time.Duration) (int64, error)
}

func newMockRefreshTokenRepository() *mockRefreshTokenRepository {
	return &mockRefreshTokenRepository{tokens: make(map[string]*model.RefreshToken)}
}

func (m *mockRefreshTokenRepository) Create(ctx context.Context, token *model.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	token.ID = fmt.Sprintf("rt-%d", m.nextID)
	token.CreatedAt = time.Now()
	copied := *token
	m.tokens[token.TokenHash] = &copied
	return nil
}

func (m *mockRefreshTokenRepository) FindByTokenHash(ctx context.Context, hash string) (*model.RefreshToken, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tokens[hash]
	if !ok {
		return nil, model.ErrRefreshTokenNotFound
	}
	copied := *t
	return &copied, nil
}

func (m *mockRefreshTokenRepository) Revoke(ctx context.Context, id string, replacedBy *string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.ID == id && t.RevokedAt == nil {
			now := time.Now()
			t.RevokedAt = &now
			t.ReplacedBy = replacedBy
		}
	}
	return nil
}

func (m *mockRefreshTokenRepository) RevokeAllForUser(ctx context.Context, userID int64) error {
	if m.revokeAllFn != nil {
		return m.revokeAllFn(ctx, userID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, t := range m.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			now := time.Now()
			t.RevokedAt = &now
		}
	}
	return nil
}

func (m *mockRefreshTokenRepository) DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error) {
	if m.deleteExpiredFn != nil {
		return m.deleteExpiredFn(ctx, olderThan)
	}
	return 0, nil
}

func (m *mockRefreshTokenRepository) activeCount(userID int64) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, t := range m.tokens {
		if t.UserID == userID && t.RevokedAt == nil {
			n++
		}
	}
	return n
}

// memHabitStore is an in-memory stand-in for the habit and completion
// tables. It backs both mockHabitRepository and mockCompletionRepository so
// check-in flows can be exercised end to end.
type memHabitStore struct {
	mu          sync.Mutex
	habits      map[int64]*model.Habit
	completions map[int64]*model.Completion
	nextHabit   int64
	nextComp    int64
}

func newMemHabitStore() *memHabitStore {
	return &memHabitStore{
		habits:      make(map[int64]*model.Habit),
		completions: make(map[int64]*model.Completion),
	}
}

func (s *memHabitStore) addHabit(h model.Habit) *model.Habit {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextHabit++
	if h.ID == 0 {
		h.ID = s.nextHabit
	}
	s.habits[h.ID] = &h
	return &h
}

func (s *memHabitStore) addCompletion(c model.Completion) *model.Completion {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextComp++
	if c.ID == 0 {
		c.ID = s.nextComp
	}
	s.completions[c.ID] = &c
	return &c
}

func (s *memHabitStore) completionCount(habitID int64) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.completions {
		if c.HabitID == habitID {
			n++
		}
	}
	return n
}

// sortedCompletions returns completions matching keep, newest first.
func (s *memHabitStore) sortedCompletions(keep func(*model.Completion) bool) []model.Completion {
	var out []model.Completion
	for _, c := range s.completions {
		if keep(c) {
			out = append(out, *c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CompletedAt.Equal(out[j].CompletedAt) {
			return out[i].CompletedAt.After(out[j].CompletedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

type mockHabitRepository struct {
	store *memHabitStore

	createFn       func(ctx context.Context, habit *model.Habit) error
	existsByNameFn func(ctx context.Context, userID int64, name string, excludeID int64) (bool, error)
	listByUserFn   func(ctx context.Context, userID int64) ([]model.Habit, error)
}

func (m *mockHabitRepository) Create(ctx context.Context, tx *sqlx.Tx, habit *model.Habit) error {
	if m.createFn != nil {
		return m.createFn(ctx, habit)
	}
	stored := m.store.addHabit(*habit)
	habit.ID = stored.ID
	return nil
}

func (m *mockHabitRepository) ExistsByName(ctx context.Context, tx *sqlx.Tx, userID int64, name string, excludeID int64) (bool, error) {
	if m.existsByNameFn != nil {
		return m.existsByNameFn(ctx, userID, name, excludeID)
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	for _, h := range m.store.habits {
		if h.UserID == userID && h.Name == name && h.ID != excludeID {
			return true, nil
		}
	}
	return false, nil
}

func (m *mockHabitRepository) GetForUser(ctx context.Context, tx *sqlx.Tx, userID, habitID int64) (*model.Habit, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	h, ok := m.store.habits[habitID]
	if !ok || h.UserID != userID {
		return nil, model.ErrHabitNotFound
	}
	copied := *h
	return &copied, nil
}

func (m *mockHabitRepository) ListByUser(ctx context.Context, userID int64) ([]model.Habit, error) {
	if m.listByUserFn != nil {
		return m.listByUserFn(ctx, userID)
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var out []model.Habit
	for _, h := range m.store.habits {
		if h.UserID == userID {
			out = append(out, *h)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *mockHabitRepository) Update(ctx context.Context, tx *sqlx.Tx, habit *model.Habit) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if _, ok := m.store.habits[habit.ID]; !ok {
		return model.ErrHabitNotFound
	}
	copied := *habit
	m.store.habits[habit.ID] = &copied
	return nil
}

func (m *mockHabitRepository) Delete(ctx context.Context, tx *sqlx.Tx, userID, habitID int64) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	h, ok := m.store.habits[habitID]
	if !ok || h.UserID != userID {
		return model.ErrHabitNotFound
	}
	delete(m.store.habits, habitID)
	for id, c := range m.store.completions {
		if c.HabitID == habitID {
			delete(m.store.completions, id)
		}
	}
	return nil
}

type mockCompletionRepository struct {
	store *memHabitStore

	createFn           func(ctx context.Context, c *model.Completion) (bool, error)
	recentTimestampsFn func(ctx context.Context, habitIDs []int64, perHabit int) (map[int64][]time.Time, error)
	countByUserFn      func(ctx context.Context, userID int64) (int, error)
	getFeedScoresFn    func(ctx context.Context, userIDs []int64, limit int) ([]model.CompletionScore, error)
	getActivityFn      func(ctx context.Context, ids []int64) ([]model.ActivityItem, error)

	feedScoreCalls int
}

func (m *mockCompletionRepository) Create(ctx context.Context, tx *sqlx.Tx, c *model.Completion) (bool, error) {
	if m.createFn != nil {
		return m.createFn(ctx, c)
	}
	m.store.mu.Lock()
	for _, existing := range m.store.completions {
		if existing.HabitID == c.HabitID && existing.PeriodStart.Format("2006-01-02") == c.PeriodStart.Format("2006-01-02") {
			m.store.mu.Unlock()
			return false, nil
		}
	}
	m.store.mu.Unlock()
	stored := m.store.addCompletion(*c)
	c.ID = stored.ID
	return true, nil
}

func (m *mockCompletionRepository) FindInWindow(ctx context.Context, tx *sqlx.Tx, habitID int64, start, end time.Time) (*model.Completion, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	found := m.store.sortedCompletions(func(c *model.Completion) bool {
		return c.HabitID == habitID && !c.CompletedAt.Before(start) && c.CompletedAt.Before(end)
	})
	if len(found) == 0 {
		return nil, model.ErrCompletionNotFound
	}
	return &found[0], nil
}

func (m *mockCompletionRepository) Delete(ctx context.Context, tx *sqlx.Tx, id int64) error {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	if _, ok := m.store.completions[id]; !ok {
		return model.ErrCompletionNotFound
	}
	delete(m.store.completions, id)
	return nil
}

func (m *mockCompletionRepository) IDsByHabit(ctx context.Context, tx *sqlx.Tx, habitID int64) ([]int64, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var ids []int64
	for _, c := range m.store.sortedCompletions(func(c *model.Completion) bool { return c.HabitID == habitID }) {
		ids = append(ids, c.ID)
	}
	return ids, nil
}

func (m *mockCompletionRepository) RecentByHabit(ctx context.Context, habitID int64, limit int) ([]model.Completion, error) {
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	out := m.store.sortedCompletions(func(c *model.Completion) bool { return c.HabitID == habitID })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockCompletionRepository) RecentTimestamps(ctx context.Context, habitIDs []int64, perHabit int) (map[int64][]time.Time, error) {
	if m.recentTimestampsFn != nil {
		return m.recentTimestampsFn(ctx, habitIDs, perHabit)
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	result := make(map[int64][]time.Time)
	for _, id := range habitIDs {
		habitID := id
		for _, c := range m.store.sortedCompletions(func(c *model.Completion) bool { return c.HabitID == habitID }) {
			if len(result[habitID]) == perHabit {
				break
			}
			result[habitID] = append(result[habitID], c.CompletedAt)
		}
	}
	return result, nil
}

func (m *mockCompletionRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	if m.countByUserFn != nil {
		return m.countByUserFn(ctx, userID)
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	n := 0
	for _, c := range m.store.completions {
		if c.UserID == userID {
			n++
		}
	}
	return n, nil
}

func (m *mockCompletionRepository) GetFeedScores(ctx context.Context, userIDs []int64, limit int) ([]model.CompletionScore, error) {
	m.feedScoreCalls++
	if m.getFeedScoresFn != nil {
		return m.getFeedScoresFn(ctx, userIDs, limit)
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	users := make(map[int64]bool, len(userIDs))
	for _, id := range userIDs {
		users[id] = true
	}
	var out []model.CompletionScore
	for _, c := range m.store.sortedCompletions(func(c *model.Completion) bool { return users[c.UserID] }) {
		if len(out) == limit {
			break
		}
		out = append(out, model.CompletionScore{CompletionID: c.ID, Timestamp: c.CompletedAt.UnixMilli()})
	}
	return out, nil
}

func (m *mockCompletionRepository) GetRecentScoresByUser(ctx context.Context, userID int64, limit int) ([]model.CompletionScore, error) {
	return m.GetFeedScores(ctx, []int64{userID}, limit)
}

func (m *mockCompletionRepository) GetActivity(ctx context.Context, ids []int64) ([]model.ActivityItem, error) {
	if m.getActivityFn != nil {
		return m.getActivityFn(ctx, ids)
	}
	m.store.mu.Lock()
	defer m.store.mu.Unlock()
	var items []model.ActivityItem
	for _, id := range ids {
		c, ok := m.store.completions[id]
		if !ok {
			continue
		}
		h, ok := m.store.habits[c.HabitID]
		if !ok {
			continue
		}
		items = append(items, model.ActivityItem{
			ID:          c.ID,
			CompletedAt: c.CompletedAt,
			Notes:       c.Notes,
			User:        model.UserSummary{ID: c.UserID},
			Habit:       h.Summary(),
		})
	}
	return items, nil
}

type mockFriendshipRepository struct {
	mu    sync.Mutex
	edges map[[2]int64]time.Time // follower, following

	checkFollowsFn func(ctx context.Context, followerID int64, ids []int64) (map[int64]bool, error)
	createFn       func(ctx context.Context, followerID, followingID int64) (*model.Friendship, error)
}

func newMockFriendshipRepository() *mockFriendshipRepository {
	return &mockFriendshipRepository{edges: make(map[[2]int64]time.Time)}
}

func (m *mockFriendshipRepository) follow(followerID, followingID int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edges[[2]int64{followerID, followingID}] = time.Now()
}

func (m *mockFriendshipRepository) Create(ctx context.Context, tx *sqlx.Tx, followerID, followingID int64) (*model.Friendship, error) {
	if m.createFn != nil {
		return m.createFn(ctx, followerID, followingID)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{followerID, followingID}
	if _, ok := m.edges[key]; ok {
		return nil, nil
	}
	now := time.Now()
	m.edges[key] = now
	return &model.Friendship{ID: int64(len(m.edges)), FollowerID: followerID, FollowingID: followingID, CreatedAt: now}, nil
}

func (m *mockFriendshipRepository) Delete(ctx context.Context, tx *sqlx.Tx, followerID, followingID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := [2]int64{followerID, followingID}
	if _, ok := m.edges[key]; !ok {
		return model.ErrNotFollowing
	}
	delete(m.edges, key)
	return nil
}

func (m *mockFriendshipRepository) Exists(ctx context.Context, tx *sqlx.Tx, followerID, followingID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.edges[[2]int64{followerID, followingID}]
	return ok, nil
}

func (m *mockFriendshipRepository) GetFollowers(ctx context.Context, userID int64, limit int) ([]model.UserSummary, error) {
	var out []model.UserSummary
	for _, id := range m.ids(userID, 1, 0) {
		out = append(out, model.UserSummary{ID: id})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *mockFriendshipRepository) GetFollowing(ctx context.Context, userID int64, limit int) ([]model.UserSummary, error) {
	var out []model.UserSummary
	for _, id := range m.ids(userID, 0, 1) {
		out = append(out, model.UserSummary{ID: id})
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ids returns the other end of every edge whose side match equals userID.
func (m *mockFriendshipRepository) ids(userID int64, match, other int) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []int64
	for edge := range m.edges {
		if edge[match] == userID {
			out = append(out, edge[other])
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

func (m *mockFriendshipRepository) GetFollowerIDs(ctx context.Context, userID int64) ([]int64, error) {
	return m.ids(userID, 1, 0), nil
}

func (m *mockFriendshipRepository) GetFollowingIDs(ctx context.Context, userID int64) ([]int64, error) {
	return m.ids(userID, 0, 1), nil
}

func (m *mockFriendshipRepository) CheckFollows(ctx context.Context, followerID int64, ids []int64) (map[int64]bool, error) {
	if m.checkFollowsFn != nil {
		return m.checkFollowsFn(ctx, followerID, ids)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	result := make(map[int64]bool, len(ids))
	for _, id := range ids {
		_, result[id] = m.edges[[2]int64{followerID, id}]
	}
	return result, nil
}

func (m *mockFriendshipRepository) CountFollowers(ctx context.Context, userID int64) (int, error) {
	return len(m.ids(userID, 1, 0)), nil
}

func (m *mockFriendshipRepository) CountFollowing(ctx context.Context, userID int64) (int, error) {
	return len(m.ids(userID, 0, 1)), nil
}

type mockPublisher struct {
	mu     sync.Mutex
	events []queue.ActivityEvent
	err    error
}

func (m *mockPublisher) Publish(ctx context.Context, stream string, event queue.ActivityEvent) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return "", m.err
	}
	m.events = append(m.events, event)
	return "0-1", nil
}

func (m *mockPublisher) types() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.events))
	for i, e := range m.events {
		out[i] = e.Type
	}
	return out
}

// mockActivityCache keeps per-user sets in memory.
type mockActivityCache struct {
	mu   sync.Mutex
	sets map[int64]map[int64]int64 // user -> completion -> score

	existsErr error
	getErr    error
	warmCalls int
}

func newMockActivityCache() *mockActivityCache {
	return &mockActivityCache{sets: make(map[int64]map[int64]int64)}
}

func (m *mockActivityCache) Add(ctx context.Context, userID, completionID, timestamp int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sets[userID] == nil {
		m.sets[userID] = make(map[int64]int64)
	}
	m.sets[userID][completionID] = timestamp
	return nil
}

func (m *mockActivityCache) Remove(ctx context.Context, userID int64, completionIDs ...int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, id := range completionIDs {
		delete(m.sets[userID], id)
	}
	return nil
}

func (m *mockActivityCache) Get(ctx context.Context, userID int64, limit int) ([]int64, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	set := m.sets[userID]
	ids := make([]int64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return set[ids[i]] > set[ids[j]] })
	if len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func (m *mockActivityCache) Warm(ctx context.Context, userID int64, scores []model.CompletionScore) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warmCalls++
	set := make(map[int64]int64, len(scores))
	for _, s := range scores {
		set[s.CompletionID] = s.Timestamp
	}
	m.sets[userID] = set
	return nil
}

func (m *mockActivityCache) Size(ctx context.Context, userID int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.sets[userID])), nil
}

func (m *mockActivityCache) Exists(ctx context.Context, userID int64) (bool, error) {
	if m.existsErr != nil {
		return false, m.existsErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sets[userID]
	return ok, nil
}

// fixedClock returns a Clock that always reports t.
func fixedClock(t time.Time) Clock {
	return func() time.Time { return t }
}

// mutableClock is a Clock whose instant tests can move.
type mutableClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *mutableClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *mutableClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}
