package repository

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"habitly/internal/model"
)

func createUser(t *testing.T, db *sqlx.DB, username string) *model.User {
	t.Helper()
	u := &model.User{
		Email:          username + "@example.com",
		Username:       username,
		PasswordHashed: "hash",
	}
	require.NoError(t, NewUserRepository(db, testTimeout).Create(context.Background(), u))
	return u
}

func createHabit(t *testing.T, db *sqlx.DB, userID int64, name string, freq model.Frequency) *model.Habit {
	t.Helper()
	h := &model.Habit{
		UserID:    userID,
		Name:      name,
		Category:  model.CategoryHealth,
		Frequency: freq,
		Color:     model.DefaultHabitColor,
	}
	require.NoError(t, NewHabitRepository(db, testTimeout).Create(context.Background(), nil, h))
	return h
}

func createCompletion(t *testing.T, db *sqlx.DB, h *model.Habit, at time.Time) *model.Completion {
	t.Helper()
	c := &model.Completion{
		HabitID:     h.ID,
		UserID:      h.UserID,
		CompletedAt: at,
		PeriodStart: time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, at.Location()),
	}
	ok, err := NewCompletionRepository(db, testTimeout).Create(context.Background(), nil, c)
	require.NoError(t, err)
	require.True(t, ok)
	return c
}

func TestUserRepository_CaseInsensitiveUniqueness(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewUserRepository(db, testTimeout)

	alice := createUser(t, db, "Alice")

	err := repo.Create(ctx, &model.User{Email: "ALICE@example.com", Username: "someone", PasswordHashed: "x"})
	require.ErrorIs(t, err, model.ErrEmailExists)

	err = repo.Create(ctx, &model.User{Email: "other@example.com", Username: "alice", PasswordHashed: "x"})
	require.ErrorIs(t, err, model.ErrUsernameExists)

	found, err := repo.GetByUsername(ctx, "ALICE")
	require.NoError(t, err)
	require.Equal(t, alice.ID, found.ID)

	found, err = repo.GetByEmail(ctx, "alice@EXAMPLE.com")
	require.NoError(t, err)
	require.Equal(t, alice.ID, found.ID)

	_, err = repo.GetByID(ctx, 999)
	require.ErrorIs(t, err, model.ErrUserNotFound)
}

func TestUserRepository_SearchEscapesWildcards(t *testing.T) {
	db := setupDB(t)
	repo := NewUserRepository(db, testTimeout)

	createUser(t, db, "bob_runner")
	createUser(t, db, "bobby")
	createUser(t, db, "carol")

	users, err := repo.Search(context.Background(), "bob", 10)
	require.NoError(t, err)
	require.Len(t, users, 2)

	users, err = repo.Search(context.Background(), "bob_", 10)
	require.NoError(t, err)
	require.Len(t, users, 1)
	require.Equal(t, "bob_runner", users[0].Username)
}

func TestHabitRepository_NameUniquePerOwner(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewHabitRepository(db, testTimeout)

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	run := createHabit(t, db, alice.ID, "Run", model.FrequencyDaily)
	createHabit(t, db, bob.ID, "Run", model.FrequencyDaily)

	err := repo.Create(ctx, nil, &model.Habit{
		UserID: alice.ID, Name: "Run", Category: model.CategoryWork, Frequency: model.FrequencyWeekly, Color: "#000000",
	})
	require.ErrorIs(t, err, model.ErrHabitNameTaken)

	exists, err := repo.ExistsByName(ctx, nil, alice.ID, "Run", 0)
	require.NoError(t, err)
	require.True(t, exists)

	exists, err = repo.ExistsByName(ctx, nil, alice.ID, "Run", run.ID)
	require.NoError(t, err)
	require.False(t, exists)

	_, err = repo.GetForUser(ctx, nil, bob.ID, run.ID)
	require.ErrorIs(t, err, model.ErrHabitNotFound)
}

func TestHabitRepository_DeleteCascadesCompletions(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()

	alice := createUser(t, db, "alice")
	h := createHabit(t, db, alice.ID, "Read", model.FrequencyDaily)
	createCompletion(t, db, h, time.Now())

	require.NoError(t, NewHabitRepository(db, testTimeout).Delete(ctx, nil, alice.ID, h.ID))

	n, err := NewCompletionRepository(db, testTimeout).CountByUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Zero(t, n)

	err = NewHabitRepository(db, testTimeout).Delete(ctx, nil, alice.ID, h.ID)
	require.ErrorIs(t, err, model.ErrHabitNotFound)
}

func TestCompletionRepository_OnePerPeriod(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewCompletionRepository(db, testTimeout)

	alice := createUser(t, db, "alice")
	h := createHabit(t, db, alice.ID, "Meditate", model.FrequencyDaily)
	morning := time.Date(2025, time.March, 12, 8, 0, 0, 0, time.UTC)
	first := createCompletion(t, db, h, morning)

	ok, err := repo.Create(ctx, nil, &model.Completion{
		HabitID:     h.ID,
		UserID:      alice.ID,
		CompletedAt: morning.Add(6 * time.Hour),
		PeriodStart: time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
	})
	require.NoError(t, err)
	require.False(t, ok)

	found, err := repo.FindInWindow(ctx, nil, h.ID,
		time.Date(2025, time.March, 12, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Equal(t, first.ID, found.ID)

	_, err = repo.FindInWindow(ctx, nil, h.ID,
		time.Date(2025, time.March, 13, 0, 0, 0, 0, time.UTC),
		time.Date(2025, time.March, 14, 0, 0, 0, 0, time.UTC))
	require.ErrorIs(t, err, model.ErrCompletionNotFound)
}

func TestCompletionRepository_RecentTimestampsPerHabit(t *testing.T) {
	db := setupDB(t)
	repo := NewCompletionRepository(db, testTimeout)

	alice := createUser(t, db, "alice")
	a := createHabit(t, db, alice.ID, "A", model.FrequencyDaily)
	b := createHabit(t, db, alice.ID, "B", model.FrequencyDaily)
	c := createHabit(t, db, alice.ID, "C", model.FrequencyDaily)

	base := time.Date(2025, time.March, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < 5; i++ {
		createCompletion(t, db, a, base.AddDate(0, 0, i))
	}
	createCompletion(t, db, b, base)

	got, err := repo.RecentTimestamps(context.Background(), []int64{a.ID, b.ID, c.ID}, 3)
	require.NoError(t, err)
	require.Len(t, got[a.ID], 3)
	require.True(t, got[a.ID][0].Equal(base.AddDate(0, 0, 4)))
	require.Len(t, got[b.ID], 1)
	require.NotContains(t, got, c.ID)
}

func TestCompletionRepository_FeedOrderingAndHydration(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewCompletionRepository(db, testTimeout)

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	carol := createUser(t, db, "carol")
	run := createHabit(t, db, bob.ID, "Run", model.FrequencyDaily)
	read := createHabit(t, db, carol.ID, "Read", model.FrequencyDaily)
	own := createHabit(t, db, alice.ID, "Own", model.FrequencyDaily)

	at := time.Date(2025, time.March, 10, 9, 0, 0, 0, time.UTC)
	older := createCompletion(t, db, run, at)
	tieLow := createCompletion(t, db, run, at.AddDate(0, 0, 1))
	tieHigh := createCompletion(t, db, read, at.AddDate(0, 0, 1))
	createCompletion(t, db, own, at.AddDate(0, 0, 2))

	scores, err := repo.GetFeedScores(ctx, []int64{bob.ID, carol.ID}, 10)
	require.NoError(t, err)
	ids := make([]int64, len(scores))
	for i, s := range scores {
		ids[i] = s.CompletionID
	}
	require.Equal(t, []int64{tieHigh.ID, tieLow.ID, older.ID}, ids)

	limited, err := repo.GetFeedScores(ctx, []int64{bob.ID, carol.ID}, 1)
	require.NoError(t, err)
	require.Len(t, limited, 1)

	items, err := repo.GetActivity(ctx, append(ids, 9999))
	require.NoError(t, err)
	require.Len(t, items, 3)
	require.Equal(t, "carol", items[0].User.Username)
	require.Equal(t, "Read", items[0].Habit.Name)
	require.Equal(t, model.FrequencyDaily, items[0].Habit.Frequency)
	require.Equal(t, older.ID, items[2].ID)
}

func TestFriendshipRepository_Lifecycle(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewFriendshipRepository(db, testTimeout)

	alice := createUser(t, db, "alice")
	bob := createUser(t, db, "bob")
	carol := createUser(t, db, "carol")

	f, err := repo.Create(ctx, nil, alice.ID, bob.ID)
	require.NoError(t, err)
	require.NotNil(t, f)
	require.Equal(t, bob.ID, f.FollowingID)

	dup, err := repo.Create(ctx, nil, alice.ID, bob.ID)
	require.NoError(t, err)
	require.Nil(t, dup)

	_, err = repo.Create(ctx, nil, alice.ID, alice.ID)
	require.ErrorIs(t, err, model.ErrCannotFollowSelf)

	_, err = repo.Create(ctx, nil, alice.ID, 9999)
	require.ErrorIs(t, err, model.ErrUserNotFound)

	_, err = repo.Create(ctx, nil, carol.ID, bob.ID)
	require.NoError(t, err)

	followers, err := repo.GetFollowers(ctx, bob.ID, 10)
	require.NoError(t, err)
	require.Len(t, followers, 2)
	require.Equal(t, "carol", followers[0].Username)

	n, err := repo.CountFollowing(ctx, alice.ID)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	follows, err := repo.CheckFollows(ctx, alice.ID, []int64{bob.ID, carol.ID})
	require.NoError(t, err)
	require.Equal(t, map[int64]bool{bob.ID: true, carol.ID: false}, follows)

	require.NoError(t, repo.Delete(ctx, nil, alice.ID, bob.ID))
	require.ErrorIs(t, repo.Delete(ctx, nil, alice.ID, bob.ID), model.ErrNotFollowing)
}

func TestTxManager_RollsBackOnError(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	alice := createUser(t, db, "alice")
	habits := NewHabitRepository(db, testTimeout)

	err := NewTxManager(db).WithTx(ctx, func(tx *sqlx.Tx) error {
		h := &model.Habit{UserID: alice.ID, Name: "Temp", Category: model.CategoryStudy, Frequency: model.FrequencyDaily, Color: "#111111"}
		if err := habits.Create(ctx, tx, h); err != nil {
			return err
		}
		return fmt.Errorf("abort")
	})
	require.EqualError(t, err, "abort")

	list, err := habits.ListByUser(ctx, alice.ID)
	require.NoError(t, err)
	require.Empty(t, list)
}

func TestRefreshTokenRepository_Revoke(t *testing.T) {
	db := setupDB(t)
	ctx := context.Background()
	repo := NewRefreshTokenRepository(db, testTimeout)
	alice := createUser(t, db, "alice")

	token := &model.RefreshToken{UserID: alice.ID, TokenHash: "abc", ExpiresAt: time.Now().Add(time.Hour)}
	require.NoError(t, repo.Create(ctx, token))
	require.NotEmpty(t, token.ID)

	require.NoError(t, repo.RevokeAllForUser(ctx, alice.ID))

	found, err := repo.FindByTokenHash(ctx, "abc")
	require.NoError(t, err)
	require.True(t, found.IsRevoked())

	_, err = repo.FindByTokenHash(ctx, "missing")
	require.ErrorIs(t, err, model.ErrRefreshTokenNotFound)
}
