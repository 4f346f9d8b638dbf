package repository

import (
	"context"
	"time"

	"github.com/jmoiron/sqlx"

	"habitly/internal/model"
)

// Methods taking a *sqlx.Tx run on the pool when tx is nil.

// TxManager runs fn inside a single database transaction. The transaction
// commits when fn returns nil and rolls back otherwise.
type TxManager interface {
	WithTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error
}

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	// GetByEmail and GetByUsername match case-insensitively.
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	UpdateProfile(ctx context.Context, user *model.User) error
	UpdateAvatar(ctx context.Context, userID int64, avatarURL, avatarKey *string) error
	Search(ctx context.Context, prefix string, limit int) ([]model.UserSummary, error)
}

type RefreshTokenRepository interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	FindByTokenHash(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	Revoke(ctx context.Context, id string, replacedBy *string) error
	RevokeAllForUser(ctx context.Context, userID int64) error
	DeleteExpired(ctx context.Context, olderThan time.Duration) (int64, error)
}

type HabitRepository interface {
	Create(ctx context.Context, tx *sqlx.Tx, habit *model.Habit) error
	// ExistsByName reports whether userID owns another habit named name.
	// excludeID skips the habit being renamed; pass 0 on create.
	ExistsByName(ctx context.Context, tx *sqlx.Tx, userID int64, name string, excludeID int64) (bool, error)
	// GetForUser returns ErrHabitNotFound when the habit is missing or owned
	// by someone else.
	GetForUser(ctx context.Context, tx *sqlx.Tx, userID, habitID int64) (*model.Habit, error)
	ListByUser(ctx context.Context, userID int64) ([]model.Habit, error)
	Update(ctx context.Context, tx *sqlx.Tx, habit *model.Habit) error
	Delete(ctx context.Context, tx *sqlx.Tx, userID, habitID int64) error
}

type CompletionRepository interface {
	// Create returns false when the period already holds a completion.
	Create(ctx context.Context, tx *sqlx.Tx, c *model.Completion) (bool, error)
	// FindInWindow returns the completion of habitID in [start, end), or
	// ErrCompletionNotFound.
	FindInWindow(ctx context.Context, tx *sqlx.Tx, habitID int64, start, end time.Time) (*model.Completion, error)
	Delete(ctx context.Context, tx *sqlx.Tx, id int64) error
	IDsByHabit(ctx context.Context, tx *sqlx.Tx, habitID int64) ([]int64, error)
	// RecentByHabit returns up to limit completions, newest first.
	RecentByHabit(ctx context.Context, habitID int64, limit int) ([]model.Completion, error)
	// RecentTimestamps returns up to perHabit completion times for each habit,
	// newest first. Habits without completions are absent from the map.
	RecentTimestamps(ctx context.Context, habitIDs []int64, perHabit int) (map[int64][]time.Time, error)
	CountByUser(ctx context.Context, userID int64) (int, error)

	// GetFeedScores returns the newest completions by any of userIDs ordered
	// by completed_at then id, both descending.
	GetFeedScores(ctx context.Context, userIDs []int64, limit int) ([]model.CompletionScore, error)
	GetRecentScoresByUser(ctx context.Context, userID int64, limit int) ([]model.CompletionScore, error)
	// GetActivity hydrates completion ids into feed items without streaks.
	// Ids that no longer exist are skipped; order follows ids.
	GetActivity(ctx context.Context, ids []int64) ([]model.ActivityItem, error)
}

type FriendshipRepository interface {
	// Create returns nil when the edge already exists.
	Create(ctx context.Context, tx *sqlx.Tx, followerID, followingID int64) (*model.Friendship, error)
	Delete(ctx context.Context, tx *sqlx.Tx, followerID, followingID int64) error
	Exists(ctx context.Context, tx *sqlx.Tx, followerID, followingID int64) (bool, error)
	GetFollowers(ctx context.Context, userID int64, limit int) ([]model.UserSummary, error)
	GetFollowing(ctx context.Context, userID int64, limit int) ([]model.UserSummary, error)
	GetFollowerIDs(ctx context.Context, userID int64) ([]int64, error)
	GetFollowingIDs(ctx context.Context, userID int64) ([]int64, error)
	CheckFollows(ctx context.Context, followerID int64, followingIDs []int64) (map[int64]bool, error)
	CountFollowers(ctx context.Context, userID int64) (int, error)
	CountFollowing(ctx context.Context, userID int64) (int, error)
}
