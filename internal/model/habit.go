package model

import (
	"errors"
	"regexp"
	"strings"
	"time"
)

// Frequency is the cadence a habit is tracked at.
type Frequency string

const (
	FrequencyDaily  Frequency = "daily"
	FrequencyWeekly Frequency = "weekly"
)

func (f Frequency) Valid() bool {
	return f == FrequencyDaily || f == FrequencyWeekly
}

// Category groups habits for display.
type Category string

const (
	CategoryHealth   Category = "health"
	CategoryStudy    Category = "study"
	CategoryPersonal Category = "personal"
	CategoryWork     Category = "work"
)

func (c Category) Valid() bool {
	switch c {
	case CategoryHealth, CategoryStudy, CategoryPersonal, CategoryWork:
		return true
	}
	return false
}

// Habit belongs to exactly one user.
type Habit struct {
	ID        int64     `db:"id" json:"id"`
	UserID    int64     `db:"user_id" json:"user_id"`
	Name      string    `db:"name" json:"name"`
	Category  Category  `db:"category" json:"category"`
	Frequency Frequency `db:"frequency" json:"frequency"`
	Notes     *string   `db:"notes" json:"notes"`
	Color     string    `db:"color" json:"color"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// HabitSummary is the public projection of a habit shown in activity feeds.
type HabitSummary struct {
	ID        int64     `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Category  Category  `db:"category" json:"category"`
	Frequency Frequency `db:"frequency" json:"frequency"`
	Color     string    `db:"color" json:"color"`
}

// HabitWithStats is a habit enriched with values computed from its history.
type HabitWithStats struct {
	Habit
	Streak         int  `json:"streak"`
	Progress       int  `json:"progress"`
	CompletedToday bool `json:"completedToday"`

	// Only populated by the single-habit endpoint.
	RecentCompletions []Completion `json:"recent_completions,omitempty"`
}

type HabitListResponse struct {
	Habits []HabitWithStats `json:"habits"`
}

// CreateHabitRequest is the request body for creating a habit.
type CreateHabitRequest struct {
	Name      string    `json:"name"`
	Category  Category  `json:"category"`
	Frequency Frequency `json:"frequency"`
	Notes     *string   `json:"notes"`
	Color     string    `json:"color"`
}

// UpdateHabitRequest is a partial update; nil fields are left unchanged.
type UpdateHabitRequest struct {
	Name      *string    `json:"name"`
	Category  *Category  `json:"category"`
	Frequency *Frequency `json:"frequency"`
	Notes     *string    `json:"notes"`
	Color     *string    `json:"color"`
}

// Habit constraints
const (
	MaxHabitNameLength = 100
	MaxNotesLength     = 500
	DefaultHabitColor  = "#6366F1"

	// StatsHistoryLimit bounds how many completions feed a stats computation.
	StatsHistoryLimit = 30
)

var colorPattern = regexp.MustCompile(`^#[0-9A-Fa-f]{6}$`)

// Error codes for HTTP responses
const (
	CodeHabitNameTaken   = "HABIT_NAME_TAKEN"
	CodeAlreadyCompleted = "ALREADY_COMPLETED"
)

// Habit errors
var (
	ErrHabitNotFound     = errors.New("habit not found")
	ErrHabitNameRequired = errors.New("habit name is required")
	ErrHabitNameTooLong  = errors.New("habit name must be at most 100 characters")
	ErrHabitNameTaken    = errors.New("a habit with this name already exists")
	ErrInvalidCategory   = errors.New("category must be one of health, study, personal, work")
	ErrInvalidFrequency  = errors.New("frequency must be daily or weekly")
	ErrNotesTooLong      = errors.New("notes must be at most 500 characters")
	ErrInvalidColor      = errors.New("color must be a hex value like #A1B2C3")
)

// Normalize trims the name and applies defaults.
func (r *CreateHabitRequest) Normalize() {
	r.Name = strings.TrimSpace(r.Name)
	r.Color = strings.TrimSpace(r.Color)
	if r.Color == "" {
		r.Color = DefaultHabitColor
	}
}

// Validate returns the first violated rule.
func (r *CreateHabitRequest) Validate() error {
	if err := validateHabitName(r.Name); err != nil {
		return err
	}
	if !r.Category.Valid() {
		return ErrInvalidCategory
	}
	if !r.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if err := validateNotes(r.Notes); err != nil {
		return err
	}
	if !colorPattern.MatchString(r.Color) {
		return ErrInvalidColor
	}
	return nil
}

// Normalize trims the provided string fields.
func (r *UpdateHabitRequest) Normalize() {
	if r.Name != nil {
		name := strings.TrimSpace(*r.Name)
		r.Name = &name
	}
	if r.Color != nil {
		color := strings.TrimSpace(*r.Color)
		r.Color = &color
	}
}

func (r *UpdateHabitRequest) Validate() error {
	if r.Name != nil {
		if err := validateHabitName(*r.Name); err != nil {
			return err
		}
	}
	if r.Category != nil && !r.Category.Valid() {
		return ErrInvalidCategory
	}
	if r.Frequency != nil && !r.Frequency.Valid() {
		return ErrInvalidFrequency
	}
	if err := validateNotes(r.Notes); err != nil {
		return err
	}
	if r.Color != nil && !colorPattern.MatchString(*r.Color) {
		return ErrInvalidColor
	}
	return nil
}

// Apply copies the provided fields onto h.
func (r *UpdateHabitRequest) Apply(h *Habit) {
	if r.Name != nil {
		h.Name = *r.Name
	}
	if r.Category != nil {
		h.Category = *r.Category
	}
	if r.Frequency != nil {
		h.Frequency = *r.Frequency
	}
	if r.Notes != nil {
		h.Notes = r.Notes
	}
	if r.Color != nil {
		h.Color = *r.Color
	}
}

func validateHabitName(name string) error {
	if name == "" {
		return ErrHabitNameRequired
	}
	if len([]rune(name)) > MaxHabitNameLength {
		return ErrHabitNameTooLong
	}
	return nil
}

func validateNotes(notes *string) error {
	if notes != nil && len([]rune(*notes)) > MaxNotesLength {
		return ErrNotesTooLong
	}
	return nil
}

// Summary projects the public fields of h.
func (h *Habit) Summary() HabitSummary {
	return HabitSummary{
		ID:        h.ID,
		Name:      h.Name,
		Category:  h.Category,
		Frequency: h.Frequency,
		Color:     h.Color,
	}
}
