package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"habitly/internal/model"
)

const habitColumns = `id, user_id, name, category, frequency, notes, color, created_at, updated_at`

type habitRepository struct {
	store
}

func NewHabitRepository(db *sqlx.DB, timeout time.Duration) HabitRepository {
	return &habitRepository{store{db: db, timeout: timeout}}
}

func (r *habitRepository) Create(ctx context.Context, tx *sqlx.Tx, h *model.Habit) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO habits (user_id, name, category, frequency, notes, color, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW(), NOW())
		RETURNING id, created_at, updated_at
	`
	err := r.q(tx).QueryRowxContext(ctx, query, h.UserID, h.Name, h.Category, h.Frequency, h.Notes, h.Color).
		Scan(&h.ID, &h.CreatedAt, &h.UpdatedAt)
	if err != nil {
		if _, ok := pqConstraint(err, pqUniqueViolation); ok {
			return model.ErrHabitNameTaken
		}
		return fmt.Errorf("failed to insert habit: %w", err)
	}
	return nil
}

func (r *habitRepository) ExistsByName(ctx context.Context, tx *sqlx.Tx, userID int64, name string, excludeID int64) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT EXISTS(SELECT 1 FROM habits WHERE user_id = $1 AND name = $2 AND id <> $3)`
	var exists bool
	if err := sqlx.GetContext(ctx, r.q(tx), &exists, query, userID, name, excludeID); err != nil {
		return false, fmt.Errorf("failed to check habit name: %w", err)
	}
	return exists, nil
}

func (r *habitRepository) GetForUser(ctx context.Context, tx *sqlx.Tx, userID, habitID int64) (*model.Habit, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `SELECT ` + habitColumns + ` FROM habits WHERE id = $1 AND user_id = $2`
	if tx != nil {
		query += ` FOR UPDATE`
	}

	var h model.Habit
	if err := sqlx.GetContext(ctx, r.q(tx), &h, query, habitID, userID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrHabitNotFound
		}
		return nil, fmt.Errorf("failed to get habit: %w", err)
	}
	return &h, nil
}

// ListByUser returns the user's habits, oldest first.
func (r *habitRepository) ListByUser(ctx context.Context, userID int64) ([]model.Habit, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	habits := []model.Habit{}
	query := `SELECT ` + habitColumns + ` FROM habits WHERE user_id = $1 ORDER BY created_at, id`
	if err := r.db.SelectContext(ctx, &habits, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list habits: %w", err)
	}
	return habits, nil
}

func (r *habitRepository) Update(ctx context.Context, tx *sqlx.Tx, h *model.Habit) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		UPDATE habits
		SET name = $1, category = $2, frequency = $3, notes = $4, color = $5, updated_at = NOW()
		WHERE id = $6 AND user_id = $7
		RETURNING updated_at
	`
	err := r.q(tx).QueryRowxContext(ctx, query, h.Name, h.Category, h.Frequency, h.Notes, h.Color, h.ID, h.UserID).
		Scan(&h.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.ErrHabitNotFound
		}
		if _, ok := pqConstraint(err, pqUniqueViolation); ok {
			return model.ErrHabitNameTaken
		}
		return fmt.Errorf("failed to update habit: %w", err)
	}
	return nil
}

// Delete removes the habit; its completions cascade.
func (r *habitRepository) Delete(ctx context.Context, tx *sqlx.Tx, userID, habitID int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.q(tx).ExecContext(ctx, `DELETE FROM habits WHERE id = $1 AND user_id = $2`, habitID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete habit: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrHabitNotFound
	}
	return nil
}
