package queue

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types on the activity stream
const (
	EventCompletionCreated = "completion_created"
	EventCompletionDeleted = "completion_deleted"
	EventHabitDeleted      = "habit_deleted"
	EventUserFollowed      = "user_followed"
	EventUserUnfollowed    = "user_unfollowed"
)

const (
	StreamActivity        = "stream:activity"
	ConsumerGroupActivity = "activity_workers"
)

// ActivityEvent is the payload of every message on the activity stream.
type ActivityEvent struct {
	Type string `json:"type"`
	// Timestamp is Unix milliseconds. For completion_created it is the
	// completion time and becomes the cache score.
	Timestamp int64 `json:"timestamp"`

	// Completion and habit events
	CompletionID  int64   `json:"completion_id,omitempty"`
	CompletionIDs []int64 `json:"completion_ids,omitempty"`
	UserID        int64   `json:"user_id,omitempty"`

	// Follow events
	FollowerID int64 `json:"follower_id,omitempty"`
	FolloweeID int64 `json:"followee_id,omitempty"`
}

// NewCompletionCreatedEvent fans the completion out to the owner's followers.
func NewCompletionCreatedEvent(completionID, userID int64, completedAt time.Time) ActivityEvent {
	return ActivityEvent{
		Type:         EventCompletionCreated,
		Timestamp:    completedAt.UnixMilli(),
		CompletionID: completionID,
		UserID:       userID,
	}
}

func NewCompletionDeletedEvent(completionID, userID int64) ActivityEvent {
	return ActivityEvent{
		Type:         EventCompletionDeleted,
		Timestamp:    time.Now().UnixMilli(),
		CompletionID: completionID,
		UserID:       userID,
	}
}

// NewHabitDeletedEvent carries the ids of the completions removed with the habit.
func NewHabitDeletedEvent(userID int64, completionIDs []int64) ActivityEvent {
	return ActivityEvent{
		Type:          EventHabitDeleted,
		Timestamp:     time.Now().UnixMilli(),
		UserID:        userID,
		CompletionIDs: completionIDs,
	}
}

func NewUserFollowedEvent(followerID, followeeID int64) ActivityEvent {
	return ActivityEvent{
		Type:       EventUserFollowed,
		Timestamp:  time.Now().UnixMilli(),
		FollowerID: followerID,
		FolloweeID: followeeID,
	}
}

func NewUserUnfollowedEvent(followerID, followeeID int64) ActivityEvent {
	return ActivityEvent{
		Type:       EventUserUnfollowed,
		Timestamp:  time.Now().UnixMilli(),
		FollowerID: followerID,
		FolloweeID: followeeID,
	}
}

// ToMap serializes the event into the single "data" field used with XADD.
func (e ActivityEvent) ToMap() (map[string]any, error) {
	data, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal event: %w", err)
	}
	return map[string]any{
		"type": e.Type,
		"data": string(data),
	}, nil
}

func ParseActivityEvent(values map[string]any) (ActivityEvent, error) {
	data, ok := values["data"].(string)
	if !ok {
		return ActivityEvent{}, fmt.Errorf("missing or invalid 'data' field")
	}

	var event ActivityEvent
	if err := json.Unmarshal([]byte(data), &event); err != nil {
		return ActivityEvent{}, fmt.Errorf("unmarshal event: %w", err)
	}
	return event, nil
}
