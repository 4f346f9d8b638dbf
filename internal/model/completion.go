package model

import (
	"errors"
	"time"
)

// Completion records one check-in of a habit. At most one exists per habit
// per period; PeriodStart is the start of the period it was counted in.
type Completion struct {
	ID          int64     `db:"id" json:"id"`
	HabitID     int64     `db:"habit_id" json:"habit_id"`
	UserID      int64     `db:"user_id" json:"user_id"`
	CompletedAt time.Time `db:"completed_at" json:"completed_at"`
	PeriodStart time.Time `db:"period_start" json:"-"`
	Notes       *string   `db:"notes" json:"notes"`
}

// CheckInRequest is the optional body of POST /habits/{id}/checkin.
type CheckInRequest struct {
	Notes *string `json:"notes"`
}

// ActivityItem is a completion by a followed user, annotated with the
// acting user's current streak for that habit.
type ActivityItem struct {
	ID          int64        `json:"id"`
	CompletedAt time.Time    `json:"completed_at"`
	Notes       *string      `json:"notes"`
	User        UserSummary  `json:"user"`
	Habit       HabitSummary `json:"habit"`
	Streak      int          `json:"streak"`
}

type ActivityFeedResponse struct {
	Activity []ActivityItem `json:"activity"`
}

// CompletionScore is a completion id with its timestamp, used by the
// activity cache.
type CompletionScore struct {
	CompletionID int64 `db:"id"`
	Timestamp    int64 `db:"ts"` // Unix milliseconds
}

// Completion errors
var (
	ErrAlreadyCompleted = errors.New("habit already completed for this period")
	ErrNothingToUndo    = errors.New("no completion for the current period")

	ErrCompletionNotFound = errors.New("completion not found")
)
