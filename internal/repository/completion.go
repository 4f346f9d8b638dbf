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

const (
	completionColumns = `id, habit_id, user_id, completed_at, period_start, notes`
	dateLayout        = "2006-01-02"
)

type completionRepository struct {
	store
}

func NewCompletionRepository(db *sqlx.DB, timeout time.Duration) CompletionRepository {
	return &completionRepository{store{db: db, timeout: timeout}}
}

// Create inserts c unless its (habit_id, period_start) slot is taken.
// PeriodStart is stored as the calendar date it carries in its own location.
func (r *completionRepository) Create(ctx context.Context, tx *sqlx.Tx, c *model.Completion) (bool, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		INSERT INTO completions (habit_id, user_id, completed_at, period_start, notes)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (habit_id, period_start) DO NOTHING
		RETURNING id
	`
	err := r.q(tx).QueryRowxContext(ctx, query,
		c.HabitID,
		c.UserID,
		c.CompletedAt,
		c.PeriodStart.Format(dateLayout),
		c.Notes,
	).Scan(&c.ID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return false, nil
		}
		return false, fmt.Errorf("failed to insert completion: %w", err)
	}
	return true, nil
}

func (r *completionRepository) FindInWindow(ctx context.Context, tx *sqlx.Tx, habitID int64, start, end time.Time) (*model.Completion, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + completionColumns + `
		FROM completions
		WHERE habit_id = $1 AND completed_at >= $2 AND completed_at < $3
		ORDER BY completed_at DESC
		LIMIT 1
	`
	var c model.Completion
	if err := sqlx.GetContext(ctx, r.q(tx), &c, query, habitID, start, end); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, model.ErrCompletionNotFound
		}
		return nil, fmt.Errorf("failed to find completion: %w", err)
	}
	return &c, nil
}

func (r *completionRepository) Delete(ctx context.Context, tx *sqlx.Tx, id int64) error {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	result, err := r.q(tx).ExecContext(ctx, `DELETE FROM completions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete completion: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return model.ErrCompletionNotFound
	}
	return nil
}

func (r *completionRepository) IDsByHabit(ctx context.Context, tx *sqlx.Tx, habitID int64) ([]int64, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var ids []int64
	if err := sqlx.SelectContext(ctx, r.q(tx), &ids, `SELECT id FROM completions WHERE habit_id = $1`, habitID); err != nil {
		return nil, fmt.Errorf("failed to list completion ids: %w", err)
	}
	return ids, nil
}

func (r *completionRepository) RecentByHabit(ctx context.Context, habitID int64, limit int) ([]model.Completion, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT ` + completionColumns + `
		FROM completions
		WHERE habit_id = $1
		ORDER BY completed_at DESC, id DESC
		LIMIT $2
	`
	completions := []model.Completion{}
	if err := r.db.SelectContext(ctx, &completions, query, habitID, limit); err != nil {
		return nil, fmt.Errorf("failed to list completions: %w", err)
	}
	return completions, nil
}

func (r *completionRepository) RecentTimestamps(ctx context.Context, habitIDs []int64, perHabit int) (map[int64][]time.Time, error) {
	result := make(map[int64][]time.Time, len(habitIDs))
	if len(habitIDs) == 0 {
		return result, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT habit_id, completed_at
		FROM (
			SELECT habit_id, completed_at,
			       ROW_NUMBER() OVER (PARTITION BY habit_id ORDER BY completed_at DESC) AS rn
			FROM completions
			WHERE habit_id = ANY($1)
		) ranked
		WHERE rn <= $2
		ORDER BY habit_id, completed_at DESC
	`
	var rows []struct {
		HabitID     int64     `db:"habit_id"`
		CompletedAt time.Time `db:"completed_at"`
	}
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(habitIDs), perHabit); err != nil {
		return nil, fmt.Errorf("failed to get recent completions: %w", err)
	}
	for _, row := range rows {
		result[row.HabitID] = append(result[row.HabitID], row.CompletedAt)
	}
	return result, nil
}

func (r *completionRepository) CountByUser(ctx context.Context, userID int64) (int, error) {
	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	var n int
	if err := r.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM completions WHERE user_id = $1`, userID); err != nil {
		return 0, fmt.Errorf("failed to count completions: %w", err)
	}
	return n, nil
}

func (r *completionRepository) GetFeedScores(ctx context.Context, userIDs []int64, limit int) ([]model.CompletionScore, error) {
	if len(userIDs) == 0 {
		return []model.CompletionScore{}, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT id, (EXTRACT(EPOCH FROM completed_at) * 1000)::BIGINT AS ts
		FROM completions
		WHERE user_id = ANY($1)
		ORDER BY completed_at DESC, id DESC
		LIMIT $2
	`
	scores := []model.CompletionScore{}
	if err := r.db.SelectContext(ctx, &scores, query, pq.Array(userIDs), limit); err != nil {
		return nil, fmt.Errorf("failed to get feed scores: %w", err)
	}
	return scores, nil
}

func (r *completionRepository) GetRecentScoresByUser(ctx context.Context, userID int64, limit int) ([]model.CompletionScore, error) {
	return r.GetFeedScores(ctx, []int64{userID}, limit)
}

type activityRow struct {
	ID          int64              `db:"id"`
	CompletedAt time.Time          `db:"completed_at"`
	Notes       *string            `db:"notes"`
	User        model.UserSummary  `db:"user"`
	Habit       model.HabitSummary `db:"habit"`
}

func (r *completionRepository) GetActivity(ctx context.Context, ids []int64) ([]model.ActivityItem, error) {
	if len(ids) == 0 {
		return []model.ActivityItem{}, nil
	}

	ctx, cancel := r.withTimeout(ctx)
	defer cancel()

	query := `
		SELECT c.id, c.completed_at, c.notes,
		       u.id AS "user.id", u.username AS "user.username", u.avatar_url AS "user.avatar_url",
		       h.id AS "habit.id", h.name AS "habit.name", h.category AS "habit.category",
		       h.frequency AS "habit.frequency", h.color AS "habit.color"
		FROM completions c
		JOIN users u ON u.id = c.user_id
		JOIN habits h ON h.id = c.habit_id
		WHERE c.id = ANY($1)
	`
	var rows []activityRow
	if err := r.db.SelectContext(ctx, &rows, query, pq.Array(ids)); err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}

	byID := make(map[int64]activityRow, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}

	items := make([]model.ActivityItem, 0, len(rows))
	for _, id := range ids {
		row, ok := byID[id]
		if !ok {
			continue
		}
		items = append(items, model.ActivityItem{
			ID:          row.ID,
			CompletedAt: row.CompletedAt,
			Notes:       row.Notes,
			User:        row.User,
			Habit:       row.Habit,
		})
	}
	return items, nil
}
