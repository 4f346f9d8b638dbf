package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"habitly/internal/logging"
	"habitly/internal/model"
	"habitly/internal/repository"
	"habitly/internal/stats"
)

// UserService handles business logic for user operations
type UserService struct {
	repo           repository.UserRepository
	habitRepo      repository.HabitRepository
	completionRepo repository.CompletionRepository
	friendshipRepo repository.FriendshipRepository
	media          *MediaService // nil when avatar storage is not configured
	now            Clock
	log            *logrus.Entry
}

func NewUserService(
	repo repository.UserRepository,
	habitRepo repository.HabitRepository,
	completionRepo repository.CompletionRepository,
	friendshipRepo repository.FriendshipRepository,
	media *MediaService,
	now Clock,
) *UserService {
	return &UserService{
		repo:           repo,
		habitRepo:      habitRepo,
		completionRepo: completionRepo,
		friendshipRepo: friendshipRepo,
		media:          media,
		now:            now,
		log:            logging.For("UserService"),
	}
}

// Register creates a new user account. Email and username are unique
// regardless of case.
func (s *UserService) Register(ctx context.Context, req *model.RegisterRequest) (*model.User, error) {
	req.Normalize()
	if err := req.Validate(); err != nil {
		return nil, err
	}

	exists, err := s.repo.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}
	if exists {
		return nil, model.ErrEmailExists
	}

	exists, err = s.repo.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("failed to check username: %w", err)
	}
	if exists {
		return nil, model.ErrUsernameExists
	}

	hashedPassword, err := bcrypt.GenerateFromPassword([]byte(req.Password), bcrypt.DefaultCost)
	if err != nil {
		return nil, fmt.Errorf("failed to hash password: %w", err)
	}

	user := &model.User{
		Email:          req.Email,
		Username:       req.Username,
		PasswordHashed: string(hashedPassword),
	}

	// The unique indexes still guard a concurrent registration.
	if err := s.repo.Create(ctx, user); err != nil {
		if errors.Is(err, model.ErrEmailExists) || errors.Is(err, model.ErrUsernameExists) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.log.WithFields(logrus.Fields{"user_id": user.ID, "username": user.Username}).Info("Register OK")
	return user, nil
}

// Login authenticates by email (when the identifier contains "@") or username.
func (s *UserService) Login(ctx context.Context, req *model.LoginRequest) (*model.User, error) {
	identifier := strings.TrimSpace(req.Identifier)
	if identifier == "" || req.Password == "" {
		return nil, model.ErrInvalidCredentials
	}

	var (
		user *model.User
		err  error
	)
	if strings.Contains(identifier, "@") {
		user, err = s.repo.GetByEmail(ctx, identifier)
	} else {
		user, err = s.repo.GetByUsername(ctx, identifier)
	}
	if err != nil {
		if errors.Is(err, model.ErrUserNotFound) {
			// Don't reveal whether the account exists
			return nil, model.ErrInvalidCredentials
		}
		return nil, fmt.Errorf("failed to load user: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHashed), []byte(req.Password)); err != nil {
		return nil, model.ErrInvalidCredentials
	}

	return user, nil
}

func (s *UserService) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return s.repo.GetByID(ctx, id)
}

// GetProfile returns the user with habit and social counters. Streak values
// are recomputed from each habit's recent completions.
func (s *UserService) GetProfile(ctx context.Context, userID int64) (*model.ProfileResponse, error) {
	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	habits, err := s.habitRepo.ListByUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list habits: %w", err)
	}

	profileStats := model.ProfileStats{TotalHabits: len(habits)}

	if len(habits) > 0 {
		ids := make([]int64, len(habits))
		for i := range habits {
			ids[i] = habits[i].ID
		}
		recent, err := s.completionRepo.RecentTimestamps(ctx, ids, model.StatsHistoryLimit)
		if err != nil {
			return nil, fmt.Errorf("failed to load completions: %w", err)
		}

		now := s.now()
		for i := range habits {
			res := stats.Compute(habits[i].Frequency, recent[habits[i].ID], now)
			if res.Streak > 0 {
				profileStats.ActiveStreaks++
			}
			if res.Streak > profileStats.LongestStreak {
				profileStats.LongestStreak = res.Streak
			}
			if res.CompletedCurrentPeriod {
				profileStats.CompletedToday++
			}
		}
	}

	if profileStats.TotalCompletions, err = s.completionRepo.CountByUser(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to count completions: %w", err)
	}
	if profileStats.Followers, err = s.friendshipRepo.CountFollowers(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to count followers: %w", err)
	}
	if profileStats.Following, err = s.friendshipRepo.CountFollowing(ctx, userID); err != nil {
		return nil, fmt.Errorf("failed to count following: %w", err)
	}

	return &model.ProfileResponse{User: user, Stats: profileStats}, nil
}

// UpdateProfile applies the provided username and bio.
func (s *UserService) UpdateProfile(ctx context.Context, userID int64, req *model.UpdateProfileRequest) (*model.User, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	if req.Username != nil && !strings.EqualFold(*req.Username, user.Username) {
		exists, err := s.repo.ExistsByUsername(ctx, *req.Username)
		if err != nil {
			return nil, fmt.Errorf("failed to check username: %w", err)
		}
		if exists {
			return nil, model.ErrUsernameExists
		}
	}
	if req.Username != nil {
		user.Username = *req.Username
	}
	if req.Bio != nil {
		bio := strings.TrimSpace(*req.Bio)
		user.Bio = &bio
	}

	if err := s.repo.UpdateProfile(ctx, user); err != nil {
		if errors.Is(err, model.ErrUsernameExists) || errors.Is(err, model.ErrUserNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to update profile: %w", err)
	}
	return user, nil
}

// UpdateAvatar stores a new avatar and removes the previous object.
func (s *UserService) UpdateAvatar(ctx context.Context, userID int64, upload AvatarUpload) (*model.User, error) {
	if s.media == nil {
		return nil, model.ErrStorageNotConfigured
	}

	user, err := s.repo.GetByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	result, err := s.media.UploadAvatar(ctx, upload)
	if err != nil {
		return nil, err
	}

	if err := s.repo.UpdateAvatar(ctx, userID, &result.URL, &result.Key); err != nil {
		if delErr := s.media.DeleteObject(ctx, result.Key); delErr != nil {
			s.log.WithError(delErr).WithField("key", result.Key).Warn("Cleanup orphaned avatar FAILED")
		}
		return nil, fmt.Errorf("failed to update avatar: %w", err)
	}

	if user.AvatarKey != nil && *user.AvatarKey != "" {
		if err := s.media.DeleteObject(ctx, *user.AvatarKey); err != nil {
			s.log.WithError(err).WithField("key", *user.AvatarKey).Warn("Delete old avatar FAILED")
		}
	}

	user.AvatarURL = &result.URL
	user.AvatarKey = &result.Key
	return user, nil
}

// Search finds users whose username starts with query. IsFollowing reflects
// whether viewerID follows each result.
func (s *UserService) Search(ctx context.Context, query string, limit int, viewerID int64) ([]model.UserSummary, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, model.ErrQueryRequired
	}
	limit = ClampLimit(limit, model.DefaultSearchLimit, model.MaxSearchLimit)

	users, err := s.repo.Search(ctx, query, limit)
	if err != nil {
		return nil, err
	}

	if err := enrichWithFollowStatus(ctx, s.friendshipRepo, viewerID, users); err != nil {
		s.log.WithError(err).Warn("Follow status enrichment FAILED")
	}
	return nonNilUsers(users), nil
}

// enrichWithFollowStatus sets IsFollowing on users with one batched lookup.
func enrichWithFollowStatus(ctx context.Context, repo repository.FriendshipRepository, viewerID int64, users []model.UserSummary) error {
	if len(users) == 0 {
		return nil
	}
	userIDs := make([]int64, len(users))
	for i := range users {
		userIDs[i] = users[i].ID
	}

	followMap, err := repo.CheckFollows(ctx, viewerID, userIDs)
	if err != nil {
		return err
	}
	for i := range users {
		users[i].IsFollowing = followMap[users[i].ID]
	}
	return nil
}
