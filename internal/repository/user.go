package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"habitly/internal/model"
)

const userColumns = `id, email, username, password_hashed, bio, avatar_url, avatar_key, created_at, updated_at`

// userRepository implements UserRepository using sqlx
type userRepository struct {
	store
}

func NewUserRepository(db *sqlx.DB, timeout time.Duration) UserRepository {
	return &userRepository{store{db: db, timeout: timeout}}
}

// Create inserts a new user. Unique index violations map to
// ErrEmailExists or ErrUsernameExists.
func (r *userRepository) Create(ctx context.Context, u *model.User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO users (email, username, password_hashed, bio, created_at, updated_at)
		VALUES ($1, $2, $3, $4, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := r.db.QueryRowxContext(ctx, query, u.Email, u.Username, u.PasswordHashed, u.Bio).
		Scan(&u.ID, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		if mapped := mapUserConflict(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(email) = LOWER($1)`, email)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE LOWER(username) = LOWER($1)`, username)
}

func (r *userRepository) getOne(ctx context.Context, query string, arg any) (*model.User, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var u model.User
	if err := r.db.GetContext(ctx, &u, query, arg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

func (r *userRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(email) = LOWER($1))`, email)
}

func (r *userRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT EXISTS(SELECT 1 FROM users WHERE LOWER(username) = LOWER($1))`, username)
}

func (r *userRepository) exists(ctx context.Context, query string, arg any) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var exists bool
	if err := r.db.GetContext(ctx, &exists, query, arg); err != nil {
		return false, fmt.Errorf("failed to check user existence: %w", err)
	}
	return exists, nil
}

// UpdateProfile writes username and bio and refreshes UpdatedAt.
func (r *userRepository) UpdateProfile(ctx context.Context, u *model.User) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE users SET username = $1, bio = $2, updated_at = NOW()
		WHERE id = $3
		RETURNING updated_at
	`
	err := r.db.QueryRowxContext(ctx, query, u.Username, u.Bio, u.ID).Scan(&u.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrUserNotFound
		}
		if mapped := mapUserConflict(err); mapped != nil {
			return mapped
		}
		return fmt.Errorf("failed to update user: %w", err)
	}
	return nil
}

func (r *userRepository) UpdateAvatar(ctx context.Context, userID int64, avatarURL, avatarKey *string) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `UPDATE users SET avatar_url = $1, avatar_key = $2, updated_at = NOW() WHERE id = $3`
	result, err := r.db.ExecContext(ctx, query, avatarURL, avatarKey, userID)
	if err != nil {
		return fmt.Errorf("failed to update avatar: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrUserNotFound
	}
	return nil
}

// Search matches a case-insensitive username prefix.
func (r *userRepository) Search(ctx context.Context, prefix string, limit int) ([]model.UserSummary, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, username, avatar_url
		FROM users
		WHERE username ILIKE $1 ESCAPE '\'
		ORDER BY LOWER(username)
		LIMIT $2
	`
	users := []model.UserSummary{}
	if err := r.db.SelectContext(ctx, &users, query, escapeLike(prefix)+"%", limit); err != nil {
		return nil, fmt.Errorf("failed to search users: %w", err)
	}
	return users, nil
}

func mapUserConflict(err error) error {
	constraint, ok := pqConstraint(err, pqUniqueViolation)
	if !ok {
		return nil
	}
	switch constraint {
	case "users_email_lower_idx":
		return model.ErrEmailExists
	case "users_username_lower_idx":
		return model.ErrUsernameExists
	}
	return nil
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}
