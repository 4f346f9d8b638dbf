package model

import (
	"errors"
	"time"
)

// Friendship is a one-way follow edge: FollowerID follows FollowingID.
type Friendship struct {
	ID          int64     `db:"id" json:"id"`
	FollowerID  int64     `db:"follower_id" json:"follower_id"`
	FollowingID int64     `db:"following_id" json:"following_id"`
	CreatedAt   time.Time `db:"created_at" json:"created_at"`
}

// FollowRequest is the body of POST /friends.
type FollowRequest struct {
	UserID int64 `json:"userId"`
}

type FollowListResponse struct {
	Users []UserSummary `json:"users"`
}

// GET /friends list types
const (
	FriendsTypeActivity  = "activity"
	FriendsTypeFollowing = "following"
	FriendsTypeFollowers = "followers"
)

// Limits for the activity feed and follow lists
const (
	DefaultListLimit = 50
	MaxListLimit     = 100
)

// Error codes for HTTP responses
const (
	CodeAlreadyFollowing = "ALREADY_FOLLOWING"
	CodeCannotFollowSelf = "CANNOT_FOLLOW_SELF"
)

var (
	ErrInvalidFriendsType = errors.New("type must be activity, following or followers")

	ErrAlreadyFollowing = errors.New("already following this user")
	ErrNotFollowing     = errors.New("not following this user")
	ErrCannotFollowSelf = errors.New("cannot follow yourself")
)
