package model

import (
	"errors"
	"net/mail"
	"regexp"
	"strings"
	"time"
)

// User represents a user in the system
type User struct {
	ID             int64     `db:"id" json:"id"`
	Email          string    `db:"email" json:"email"`
	Username       string    `db:"username" json:"username"`
	PasswordHashed string    `db:"password_hashed" json:"-"` // "-" hides from JSON output
	Bio            *string   `db:"bio" json:"bio"`
	AvatarURL      *string   `db:"avatar_url" json:"avatar_url"`
	AvatarKey      *string   `db:"avatar_key" json:"-"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// UserSummary is the public projection of a user used in lists and feeds.
type UserSummary struct {
	ID          int64   `db:"id" json:"id"`
	Username    string  `db:"username" json:"username"`
	AvatarURL   *string `db:"avatar_url" json:"avatar_url"`
	IsFollowing bool    `json:"is_following"`
}

// ProfileStats aggregates a user's habit and social counters.
type ProfileStats struct {
	TotalHabits      int `json:"total_habits"`
	TotalCompletions int `json:"total_completions"`
	ActiveStreaks    int `json:"active_streaks"`
	LongestStreak    int `json:"longest_streak"`
	CompletedToday   int `json:"completed_today"`
	Followers        int `json:"followers"`
	Following        int `json:"following"`
}

// ProfileResponse is returned by GET /profile.
type ProfileResponse struct {
	User  *User        `json:"user"`
	Stats ProfileStats `json:"stats"`
}

// RegisterRequest represents the data needed to register a new user
type RegisterRequest struct {
	Email    string `json:"email"`
	Username string `json:"username"`
	Password string `json:"password"`
}

// LoginRequest accepts either an email address or a username as Identifier.
type LoginRequest struct {
	Identifier string `json:"identifier"`
	Password   string `json:"password"`
}

// UpdateProfileRequest is a partial update; nil fields are left unchanged.
type UpdateProfileRequest struct {
	Username *string `json:"username"`
	Bio      *string `json:"bio"`
}

// User constraints
const (
	MinUsernameLength = 3
	MaxUsernameLength = 30
	MinPasswordLength = 8
	MaxBioLength      = 300

	DefaultSearchLimit = 20
	MaxSearchLimit     = 50
)

// Error codes for HTTP responses
const (
	CodeEmailTaken    = "EMAIL_TAKEN"
	CodeUsernameTaken = "USERNAME_TAKEN"
)

var usernamePattern = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

var (
	// ErrUserNotFound is returned when a user cannot be found
	ErrUserNotFound = errors.New("user not found")

	// ErrUsernameExists is returned when attempting to create a user with a taken username
	ErrUsernameExists = errors.New("username already exists")

	// ErrEmailExists is returned when the email is already registered
	ErrEmailExists = errors.New("email already registered")

	// ErrInvalidCredentials is returned when login credentials are incorrect
	ErrInvalidCredentials = errors.New("invalid credentials")

	ErrEmailRequired    = errors.New("email is required")
	ErrInvalidEmail     = errors.New("email is invalid")
	ErrUsernameRequired = errors.New("username is required")
	ErrInvalidUsername  = errors.New("username must be 3-30 characters of letters, digits or underscores")
	ErrPasswordRequired = errors.New("password is required")
	ErrPasswordTooShort = errors.New("password must be at least 8 characters")
	ErrBioTooLong       = errors.New("bio must be at most 300 characters")
	ErrQueryRequired    = errors.New("search query is required")
)

// Normalize trims surrounding whitespace from the identity fields.
func (r *RegisterRequest) Normalize() {
	r.Email = strings.TrimSpace(r.Email)
	r.Username = strings.TrimSpace(r.Username)
}

// Validate returns the first violated rule.
func (r *RegisterRequest) Validate() error {
	if r.Email == "" {
		return ErrEmailRequired
	}
	if addr, err := mail.ParseAddress(r.Email); err != nil || addr.Address != r.Email {
		return ErrInvalidEmail
	}
	if err := ValidateUsername(r.Username); err != nil {
		return err
	}
	if r.Password == "" {
		return ErrPasswordRequired
	}
	if len(r.Password) < MinPasswordLength {
		return ErrPasswordTooShort
	}
	return nil
}

func (r *UpdateProfileRequest) Validate() error {
	if r.Username != nil {
		trimmed := strings.TrimSpace(*r.Username)
		r.Username = &trimmed
		if err := ValidateUsername(trimmed); err != nil {
			return err
		}
	}
	if r.Bio != nil && len([]rune(*r.Bio)) > MaxBioLength {
		return ErrBioTooLong
	}
	return nil
}

func ValidateUsername(username string) error {
	if username == "" {
		return ErrUsernameRequired
	}
	n := len(username)
	if n < MinUsernameLength || n > MaxUsernameLength || !usernamePattern.MatchString(username) {
		return ErrInvalidUsername
	}
	return nil
}

// Summary projects the public fields of u.
func (u *User) Summary() UserSummary {
	return UserSummary{
		ID:        u.ID,
		Username:  u.Username,
		AvatarURL: u.AvatarURL,
	}
}
