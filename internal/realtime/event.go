package realtime

import (
	"time"

	"streamroom/internal/models"
)

// EventType enumerates the closed set of realtime events a room consumes.
// Payloads arriving from the channel are validated against this set at the
// ingestion boundary; anything outside it is rejected there and never reaches
// room state.
type EventType string

const (
	// EventTypeChatMessage carries a chat line authored by a viewer.
	EventTypeChatMessage EventType = "chat-message"
	// EventTypeGiftSent announces a gift sent to the host in real time.
	EventTypeGiftSent EventType = "gift-sent"
	// EventTypeFollowChanged announces a follow or unfollow of the host.
	EventTypeFollowChanged EventType = "follow-changed"
	// EventTypePresenceSnapshot replaces the room's full presence set.
	EventTypePresenceSnapshot EventType = "presence-snapshot"
	// EventTypeSettingToggled mirrors a per-room flag flipped by the host.
	EventTypeSettingToggled EventType = "setting-toggled"
)

// Event is the tagged wire representation delivered to a room. Exactly one
// payload pointer is set, matching Type.
type Event struct {
	Type       EventType              `json:"type"`
	RoomID     string                 `json:"roomId"`
	OccurredAt time.Time              `json:"occurredAt"`
	Chat       *ChatMessageEvent      `json:"chat,omitempty"`
	Gift       *GiftSentEvent         `json:"gift,omitempty"`
	Follow     *FollowChangedEvent    `json:"follow,omitempty"`
	Presence   *PresenceSnapshotEvent `json:"presence,omitempty"`
	Setting    *SettingToggledEvent   `json:"setting,omitempty"`
}

// ChatMessageEvent transports a chat line. CorrelationID echoes the
// client-generated id for self-authored messages so the sender can reconcile
// its optimistic entry instead of appending a duplicate.
type ChatMessageEvent struct {
	MessageID     string `json:"messageId"`
	AuthorID      string `json:"authorId"`
	AuthorName    string `json:"authorName"`
	Content       string `json:"content"`
	CorrelationID string `json:"correlationId,omitempty"`
}

// GiftSentEvent announces a gift from one viewer to the host.
type GiftSentEvent struct {
	FromUserID    string                `json:"fromUserId"`
	FromUserName  string                `json:"fromUserName"`
	ToUserID      string                `json:"toUserId"`
	ToUserName    string                `json:"toUserName"`
	Gift          models.GiftDescriptor `json:"gift"`
	Quantity      int                   `json:"quantity"`
	CorrelationID string                `json:"correlationId,omitempty"`
}

// FollowChangedEvent announces a follow relationship change. Mutual marks a
// follow-back, which rooms surface as a friend-request notice instead of a
// plain follow line.
type FollowChangedEvent struct {
	FollowerID   string `json:"followerId"`
	FollowerName string `json:"followerName"`
	FollowedID   string `json:"followedId"`
	FollowedName string `json:"followedName"`
	IsUnfollow   bool   `json:"isUnfollow,omitempty"`
	Mutual       bool   `json:"mutual,omitempty"`
}

// PresenceWireEntry is one present user in a snapshot. Value is a pointer so
// the tracker can distinguish an absent contribution field from an explicit
// zero and drop the malformed entry.
type PresenceWireEntry struct {
	UserID        string `json:"userId"`
	DisplayName   string `json:"displayName"`
	AvatarURL     string `json:"avatarUrl,omitempty"`
	Value         *int64 `json:"value"`
	FanClubHostID string `json:"fanClubHostId,omitempty"`
	FanLevel      int    `json:"fanLevel,omitempty"`
}

// PresenceSnapshotEvent carries the full current presence set for a room.
// Snapshots replace prior state wholesale; they are never merged.
type PresenceSnapshotEvent struct {
	Entries []PresenceWireEntry `json:"entries"`
}

// SettingToggledEvent mirrors a per-room boolean setting.
type SettingToggledEvent struct {
	Flag    string `json:"flag"`
	Enabled bool   `json:"enabled"`
}
