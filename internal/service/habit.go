package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"habitly/internal/logging"
	"habitly/internal/metrics"
	"habitly/internal/model"
	"habitly/internal/queue"
	"habitly/internal/repository"
	"habitly/internal/stats"
)

// HabitService owns habit CRUD and the per-period check-in state machine.
// Stats are never stored; every read recomputes them from recent completions.
type HabitService struct {
	tx             repository.TxManager
	habitRepo      repository.HabitRepository
	completionRepo repository.CompletionRepository
	publisher      queue.Publisher // nil disables activity events
	now            Clock
	log            *logrus.Entry
}

func NewHabitService(
	tx repository.TxManager,
	habitRepo repository.HabitRepository,
	completionRepo repository.CompletionRepository,
	publisher queue.Publisher,
	now Clock,
) *HabitService {
	return &HabitService{
		tx:             tx,
		habitRepo:      habitRepo,
		completionRepo: completionRepo,
		publisher:      publisher,
		now:            now,
		log:            logging.For("HabitService"),
	}
}

// Create validates req and inserts the habit. Names are unique per owner.
func (s *HabitService) Create(ctx context.Context, userID int64, req *model.CreateHabitRequest) (*model.Habit, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	habit := &model.Habit{
		UserID:    userID,
		Name:      req.Name,
		Category:  req.Category,
		Frequency: req.Frequency,
		Notes:     req.Notes,
		Color:     req.Color,
	}

	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := s.habitRepo.ExistsByName(ctx, tx, userID, habit.Name, 0)
		if err != nil {
			return fmt.Errorf("failed to check habit name: %w", err)
		}
		if exists {
			return model.ErrHabitNameTaken
		}
		return s.habitRepo.Create(ctx, tx, habit)
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "habit_id": habit.ID}).Info("Create habit OK")
	return habit, nil
}

// List returns the user's habits, oldest first, each with its stats.
func (s *HabitService) List(ctx context.Context, userID int64) ([]model.HabitWithStats, error) {
	habits, err := s.habitRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list habits: %w", err)
	}
	if len(habits) == 0 {
		return []model.HabitWithStats{}, nil
	}

	ids := make([]int64, len(habits))
	for i := range habits {
		ids[i] = habits[i].ID
	}
	recent, err := s.completionRepo.RecentTimestamps(ctx, ids, model.StatsHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load completions: %w", err)
	}

	now := s.now()
	result := make([]model.HabitWithStats, len(habits))
	for i := range habits {
		result[i] = withStats(habits[i], stats.Compute(habits[i].Frequency, recent[habits[i].ID], now))
	}
	return result, nil
}

// Get returns one owned habit with stats and its recent completions.
func (s *HabitService) Get(ctx context.Context, userID, habitID int64) (*model.HabitWithStats, error) {
	habit, err := s.habitRepo.GetForUser(ctx, nil, userID, habitID)
	if err != nil {
		return nil, err
	}

	completions, err := s.completionRepo.RecentByHabit(ctx, habitID, model.StatsHistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to load completions: %w", err)
	}

	timestamps := make([]time.Time, len(completions))
	for i := range completions {
		timestamps[i] = completions[i].CompletedAt
	}

	result := withStats(*habit, stats.Compute(habit.Frequency, timestamps, s.now()))
	result.RecentCompletions = completions
	return &result, nil
}

// Update applies a partial update to an owned habit.
func (s *HabitService) Update(ctx context.Context, userID, habitID int64, req *model.UpdateHabitRequest) (*model.Habit, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	var habit *model.Habit
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		var err error
		habit, err = s.habitRepo.GetForUser(ctx, tx, userID, habitID)
		if err != nil {
			return err
		}

		if req.Name != nil && *req.Name != habit.Name {
			exists, err := s.habitRepo.ExistsByName(ctx, tx, userID, *req.Name, habit.ID)
			if err != nil {
				return fmt.Errorf("failed to check habit name: %w", err)
			}
			if exists {
				return model.ErrHabitNameTaken
			}
		}

		req.Apply(habit)
		return s.habitRepo.Update(ctx, tx, habit)
	})
	if err != nil {
		return nil, err
	}
	return habit, nil
}

// Delete removes an owned habit and, by cascade, its completions.
func (s *HabitService) Delete(ctx context.Context, userID, habitID int64) error {
	var completionIDs []int64
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := s.habitRepo.GetForUser(ctx, tx, userID, habitID); err != nil {
			return err
		}

		var err error
		completionIDs, err = s.completionRepo.IDsByHabit(ctx, tx, habitID)
		if err != nil {
			return fmt.Errorf("failed to list completions: %w", err)
		}
		return s.habitRepo.Delete(ctx, tx, userID, habitID)
	})
	if err != nil {
		return err
	}

	if len(completionIDs) > 0 {
		publishActivity(ctx, s.publisher, s.log, queue.NewHabitDeletedEvent(userID, completionIDs))
	}
	s.log.WithFields(logrus.Fields{"user_id": userID, "habit_id": habitID, "completions": len(completionIDs)}).Info("Delete habit OK")
	return nil
}

// CheckIn records a completion for the current period of an owned habit.
// A second check-in in the same period returns ErrAlreadyCompleted.
func (s *HabitService) CheckIn(ctx context.Context, userID, habitID int64, notes *string) (*model.Completion, error) {
	if notes != nil && len([]rune(*notes)) > model.MaxNotesLength {
		return nil, model.ErrNotesTooLong
	}

	now := s.now()
	var completion *model.Completion
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		// Locks the habit row, serializing concurrent check-ins on it.
		habit, err := s.habitRepo.GetForUser(ctx, tx, userID, habitID)
		if err != nil {
			return err
		}

		start, end := stats.Window(habit.Frequency, now)
		_, err = s.completionRepo.FindInWindow(ctx, tx, habitID, start, end)
		if err == nil {
			return model.ErrAlreadyCompleted
		}
		if !errors.Is(err, model.ErrCompletionNotFound) {
			return fmt.Errorf("failed to check current period: %w", err)
		}

		completion = &model.Completion{
			HabitID:     habitID,
			UserID:      userID,
			CompletedAt: now,
			PeriodStart: start,
			Notes:       notes,
		}
		created, err := s.completionRepo.Create(ctx, tx, completion)
		if err != nil {
			return fmt.Errorf("failed to create completion: %w", err)
		}
		if !created {
			return model.ErrAlreadyCompleted
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, model.ErrAlreadyCompleted) {
			metrics.CheckIns.WithLabelValues("duplicate").Inc()
		}
		return nil, err
	}

	metrics.CheckIns.WithLabelValues("created").Inc()
	publishActivity(ctx, s.publisher, s.log,
		queue.NewCompletionCreatedEvent(completion.ID, userID, completion.CompletedAt))
	return completion, nil
}

// UndoCheckIn deletes the completion of the current period, if any.
func (s *HabitService) UndoCheckIn(ctx context.Context, userID, habitID int64) error {
	now := s.now()
	var removed *model.Completion
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		habit, err := s.habitRepo.GetForUser(ctx, tx, userID, habitID)
		if err != nil {
			return err
		}

		start, end := stats.Window(habit.Frequency, now)
		removed, err = s.completionRepo.FindInWindow(ctx, tx, habitID, start, end)
		if err != nil {
			if errors.Is(err, model.ErrCompletionNotFound) {
				return model.ErrNothingToUndo
			}
			return fmt.Errorf("failed to find current completion: %w", err)
		}

		if err := s.completionRepo.Delete(ctx, tx, removed.ID); err != nil {
			if errors.Is(err, model.ErrCompletionNotFound) {
				return model.ErrNothingToUndo
			}
			return fmt.Errorf("failed to delete completion: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	metrics.CheckIns.WithLabelValues("undone").Inc()
	publishActivity(ctx, s.publisher, s.log, queue.NewCompletionDeletedEvent(removed.ID, userID))
	return nil
}

// History returns up to limit completions of an owned habit, newest first.
func (s *HabitService) History(ctx context.Context, userID, habitID int64, limit int) ([]model.Completion, error) {
	if _, err := s.habitRepo.GetForUser(ctx, nil, userID, habitID); err != nil {
		return nil, err
	}

	limit = ClampLimit(limit, model.DefaultListLimit, model.MaxListLimit)
	completions, err := s.completionRepo.RecentByHabit(ctx, habitID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to load completions: %w", err)
	}
	if completions == nil {
		completions = []model.Completion{}
	}
	return completions, nil
}

func withStats(h model.Habit, res stats.Result) model.HabitWithStats {
	return model.HabitWithStats{
		Habit:          h,
		Streak:         res.Streak,
		Progress:       res.ProgressPercent,
		CompletedToday: res.CompletedCurrentPeriod,
	}
}
