package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"habitly/internal/model"
)

type friendshipRepository struct {
	store
}

func NewFriendshipRepository(db *sqlx.DB, timeout time.Duration) FriendshipRepository {
	return &friendshipRepository{store{db: db, timeout: timeout}}
}

func (r *friendshipRepository) Create(ctx context.Context, tx *sqlx.Tx, followerID, followingID int64) (*model.Friendship, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO friendships (follower_id, following_id)
		VALUES ($1, $2)
		ON CONFLICT (follower_id, following_id) DO NOTHING
		RETURNING id, follower_id, following_id, created_at
	`
	var f model.Friendship
	if err := sqlx.GetContext(ctx, r.q(tx), &f, query, followerID, followingID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		if _, ok := pqConstraint(err, pqForeignKeyViolation); ok {
			return nil, model.ErrUserNotFound
		}
		if _, ok := pqConstraint(err, pqCheckViolation); ok {
			return nil, model.ErrCannotFollowSelf
		}
		return nil, fmt.Errorf("failed to create friendship: %w", err)
	}
	return &f, nil
}

func (r *friendshipRepository) Delete(ctx context.Context, tx *sqlx.Tx, followerID, followingID int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `DELETE FROM friendships WHERE follower_id = $1 AND following_id = $2`
	result, err := r.q(tx).ExecContext(ctx, query, followerID, followingID)
	if err != nil {
		return fmt.Errorf("failed to delete friendship: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrNotFollowing
	}
	return nil
}

func (r *friendshipRepository) Exists(ctx context.Context, tx *sqlx.Tx, followerID, followingID int64) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT EXISTS(SELECT 1 FROM friendships WHERE follower_id = $1 AND following_id = $2)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.q(tx), &exists, query, followerID, followingID); err != nil {
		return false, fmt.Errorf("failed to check friendship existence: %w", err)
	}
	return exists, nil
}

// GetFollowers returns users following userID, newest edge first.
func (r *friendshipRepository) GetFollowers(ctx context.Context, userID int64, limit int) ([]model.UserSummary, error) {
	query := `
		SELECT u.id, u.username, u.avatar_url
		FROM friendships f
		JOIN users u ON u.id = f.follower_id
		WHERE f.following_id = $1
		ORDER BY f.created_at DESC, f.id DESC
		LIMIT $2
	`
	return r.listUsers(ctx, query, userID, limit)
}

// GetFollowing returns users userID follows, newest edge first.
func (r *friendshipRepository) GetFollowing(ctx context.Context, userID int64, limit int) ([]model.UserSummary, error) {
	query := `
		SELECT u.id, u.username, u.avatar_url
		FROM friendships f
		JOIN users u ON u.id = f.following_id
		WHERE f.follower_id = $1
		ORDER BY f.created_at DESC, f.id DESC
		LIMIT $2
	`
	return r.listUsers(ctx, query, userID, limit)
}

func (r *friendshipRepository) listUsers(ctx context.Context, query string, userID int64, limit int) ([]model.UserSummary, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	users := []model.UserSummary{}
	if err := r.db.SelectContext(ctx, &users, query, userID, limit); err != nil {
		return nil, fmt.Errorf("failed to list friendships: %w", err)
	}
	return users, nil
}

func (r *friendshipRepository) GetFollowerIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.listIDs(ctx, `SELECT follower_id FROM friendships WHERE following_id = $1`, userID)
}

func (r *friendshipRepository) GetFollowingIDs(ctx context.Context, userID int64) ([]int64, error) {
	return r.listIDs(ctx, `SELECT following_id FROM friendships WHERE follower_id = $1`, userID)
}

func (r *friendshipRepository) listIDs(ctx context.Context, query string, userID int64) ([]int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	ids := []int64{}
	if err := r.db.SelectContext(ctx, &ids, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list friendship ids: %w", err)
	}
	return ids, nil
}

// CheckFollows reports, for each id in followingIDs, whether followerID
// follows it.
func (r *friendshipRepository) CheckFollows(ctx context.Context, followerID int64, followingIDs []int64) (map[int64]bool, error) {
	result := make(map[int64]bool, len(followingIDs))
	if len(followingIDs) == 0 {
		return result, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT following_id FROM friendships WHERE follower_id = $1 AND following_id = ANY($2)`
	var followed []int64
	if err := r.db.SelectContext(ctx, &followed, query, followerID, pq.Array(followingIDs)); err != nil {
		return nil, fmt.Errorf("failed to check follows: %w", err)
	}

	for _, id := range followingIDs {
		result[id] = false
	}
	for _, id := range followed {
		result[id] = true
	}
	return result, nil
}

func (r *friendshipRepository) CountFollowers(ctx context.Context, userID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM friendships WHERE following_id = $1`, userID)
}

func (r *friendshipRepository) CountFollowing(ctx context.Context, userID int64) (int, error) {
	return r.count(ctx, `SELECT COUNT(*) FROM friendships WHERE follower_id = $1`, userID)
}

func (r *friendshipRepository) count(ctx context.Context, query string, userID int64) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var n int
	if err := r.db.GetContext(ctx, &n, query, userID); err != nil {
		return 0, fmt.Errorf("failed to count friendships: %w", err)
	}
	return n, nil
}
