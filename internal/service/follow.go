package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"github.com/sirupsen/logrus"

	"habitly/internal/logging"
	"habitly/internal/model"
	"habitly/internal/queue"
	"habitly/internal/repository"
)

type FollowService struct {
	tx             repository.TxManager
	friendshipRepo repository.FriendshipRepository
	userRepo       repository.UserRepository
	publisher      queue.Publisher
	log            *logrus.Entry
}

func NewFollowService(
	tx repository.TxManager,
	friendshipRepo repository.FriendshipRepository,
	userRepo repository.UserRepository,
	publisher queue.Publisher,
) *FollowService {
	return &FollowService{
		tx:             tx,
		friendshipRepo: friendshipRepo,
		userRepo:       userRepo,
		publisher:      publisher,
		log:            logging.For("FollowService"),
	}
}

func (s *FollowService) Follow(ctx context.Context, followerID, followeeID int64) (*model.Friendship, error) {
	if followerID == followeeID {
		return nil, model.ErrCannotFollowSelf
	}

	if _, err := s.userRepo.GetByID(ctx, followeeID); err != nil {
		return nil, err
	}

	var friendship *model.Friendship
	err := s.tx.WithTx(ctx, func(tx *sqlx.Tx) error {
		exists, err := s.friendshipRepo.Exists(ctx, tx, followerID, followeeID)
		if err != nil {
			return fmt.Errorf("failed to check friendship: %w", err)
		}
		if exists {
			return model.ErrAlreadyFollowing
		}

		friendship, err = s.friendshipRepo.Create(ctx, tx, followerID, followeeID)
		if err != nil {
			return err
		}
		if friendship == nil {
			return model.ErrAlreadyFollowing
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Publish event for async backfill (after commit!)
	publishActivity(ctx, s.publisher, s.log, queue.NewUserFollowedEvent(followerID, followeeID))
	s.log.WithFields(logrus.Fields{"follower": followerID, "followee": followeeID}).Info("Follow OK")
	return friendship, nil
}

func (s *FollowService) Unfollow(ctx context.Context, followerID, followeeID int64) error {
	if err := s.friendshipRepo.Delete(ctx, nil, followerID, followeeID); err != nil {
		return err
	}

	publishActivity(ctx, s.publisher, s.log, queue.NewUserUnfollowedEvent(followerID, followeeID))
	s.log.WithFields(logrus.Fields{"follower": followerID, "followee": followeeID}).Info("Unfollow OK")
	return nil
}

// Followers returns users who follow userID, newest edge first. IsFollowing
// tells whether userID follows them back.
func (s *FollowService) Followers(ctx context.Context, userID int64, limit int) ([]model.UserSummary, error) {
	limit = ClampLimit(limit, model.DefaultListLimit, model.MaxListLimit)
	users, err := s.friendshipRepo.GetFollowers(ctx, userID, limit)
	if err != nil {
		return nil, err
	}

	// A failed lookup only leaves IsFollowing false.
	if err := enrichWithFollowStatus(ctx, s.friendshipRepo, userID, users); err != nil {
		s.log.WithError(err).Warn("Follow status enrichment FAILED")
	}
	return nonNilUsers(users), nil
}

// Following returns users that userID follows, newest edge first.
func (s *FollowService) Following(ctx context.Context, userID int64, limit int) ([]model.UserSummary, error) {
	limit = ClampLimit(limit, model.DefaultListLimit, model.MaxListLimit)
	users, err := s.friendshipRepo.GetFollowing(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	for i := range users {
		users[i].IsFollowing = true
	}
	return nonNilUsers(users), nil
}

func nonNilUsers(users []model.UserSummary) []model.UserSummary {
	if users == nil {
		return []model.UserSummary{}
	}
	return users
}
