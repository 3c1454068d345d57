// Package backend defines the remote operations the room core consumes and
// their HTTP implementation. The room treats everything here as an external
// collaborator reached over request/response; send operations carry a
// client-generated correlation id so a retry never produces a second visible
// effect.
package backend

import (
	"context"
	"errors"

	"streamroom/internal/models"
	"streamroom/internal/realtime"
)

// ErrUnavailable wraps transport-level failures so callers can distinguish
// them from rejections the server actually made.
var ErrUnavailable = errors.New("backend unavailable")

// Service is the remote surface consumed by the room core. All operations are
// safe to retry at the caller's discretion except the send operations, which
// rely on the correlation id for dedupe.
type Service interface {
	// SendChatMessage delivers a chat line and returns the server-assigned
	// message id.
	SendChatMessage(ctx context.Context, roomID, correlationID, text string) (string, error)
	// SendGift spends diamonds on a gift and returns the authoritative
	// user record reflecting the new balance and counters.
	SendGift(ctx context.Context, roomID, correlationID, giftID string, quantity int) (models.User, error)
	// Translate translates text into the BCP-47 target language.
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
	// FetchOnlineUsers returns the room's current presence list.
	FetchOnlineUsers(ctx context.Context, roomID string) ([]realtime.PresenceWireEntry, error)
	// FetchCurrentUser returns the authoritative profile for the session
	// user. Used as the compensating read after a failed gift send.
	FetchCurrentUser(ctx context.Context) (models.User, error)
	// MarkMessagesRead reports read receipts, best effort.
	MarkMessagesRead(ctx context.Context, roomID string, messageIDs []string) error
	// KickUser removes a viewer from the room.
	KickUser(ctx context.Context, roomID, userID string) error
	// PromoteUser grants a viewer moderator rights in the room.
	PromoteUser(ctx context.Context, roomID, userID string) error
	// SetRoomFlag toggles a per-room boolean setting.
	SetRoomFlag(ctx context.Context, roomID, flag string, enabled bool) error
	// FollowHost follows the given host on behalf of the session user.
	FollowHost(ctx context.Context, hostID string) error
}
