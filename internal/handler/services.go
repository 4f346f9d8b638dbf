package handler

import (
	"context"

	"habitly/internal/model"
	"habitly/internal/service"
)

// The handlers depend on these narrow views of the services so they can be
// exercised with httptest and hand-written fakes.

type authService interface {
	GenerateTokenPair(ctx context.Context, userID int64, deviceInfo, ipAddress string) (*model.TokenPair, error)
	RefreshTokens(ctx context.Context, refreshTokenRaw, deviceInfo, ipAddress string) (*model.TokenPair, int64, error)
	RevokeRefreshToken(ctx context.Context, refreshTokenRaw string) error
	RevokeAllUserTokens(ctx context.Context, userID int64) error
}

type userService interface {
	Register(ctx context.Context, req *model.RegisterRequest) (*model.User, error)
	Login(ctx context.Context, req *model.LoginRequest) (*model.User, error)
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetProfile(ctx context.Context, userID int64) (*model.ProfileResponse, error)
	UpdateProfile(ctx context.Context, userID int64, req *model.UpdateProfileRequest) (*model.User, error)
	UpdateAvatar(ctx context.Context, userID int64, upload service.AvatarUpload) (*model.User, error)
	Search(ctx context.Context, query string, limit int, viewerID int64) ([]model.UserSummary, error)
}

type habitService interface {
	Create(ctx context.Context, userID int64, req *model.CreateHabitRequest) (*model.Habit, error)
	List(ctx context.Context, userID int64) ([]model.HabitWithStats, error)
	Get(ctx context.Context, userID, habitID int64) (*model.HabitWithStats, error)
	Update(ctx context.Context, userID, habitID int64, req *model.UpdateHabitRequest) (*model.Habit, error)
	Delete(ctx context.Context, userID, habitID int64) error
	CheckIn(ctx context.Context, userID, habitID int64, notes *string) (*model.Completion, error)
	UndoCheckIn(ctx context.Context, userID, habitID int64) error
	History(ctx context.Context, userID, habitID int64, limit int) ([]model.Completion, error)
}

type followService interface {
	Follow(ctx context.Context, followerID, followeeID int64) (*model.Friendship, error)
	Unfollow(ctx context.Context, followerID, followeeID int64) error
	Followers(ctx context.Context, userID int64, limit int) ([]model.UserSummary, error)
	Following(ctx context.Context, userID int64, limit int) ([]model.UserSummary, error)
}

type activityService interface {
	BuildFeed(ctx context.Context, viewerID int64, maxItems int) ([]model.ActivityItem, error)
}

var (
	_ authService     = (*service.AuthService)(nil)
	_ userService     = (*service.UserService)(nil)
	_ habitService    = (*service.HabitService)(nil)
	_ followService   = (*service.FollowService)(nil)
	_ activityService = (*service.ActivityService)(nil)
)
