// Package chatlog holds the append-only, ordered event log for one room and
// reconciles locally-optimistic sends against their channel echoes. Insertion
// order is the display order; events are never removed for the room's
// lifetime.
package chatlog

import (
	"time"

	"github.com/google/uuid"

	"streamroom/internal/models"
	"streamroom/internal/realtime"
)

// echoMatchWindow bounds the content-based fallback used to pair a self
// echo with its pending entry when the channel strips the correlation id.
const echoMatchWindow = 90 * time.Second

// EventKind tags the variants held by the log.
type EventKind string

const (
	KindChat          EventKind = "chat"
	KindEntry         EventKind = "entry"
	KindFanEntry      EventKind = "fan-entry"
	KindFollow        EventKind = "follow"
	KindFriendRequest EventKind = "friend-request"
	KindGiftNote      EventKind = "gift-note"
)

// Event is one line of the room log. Exactly one payload pointer is set,
// matching Kind. ID is locally unique and stable for the room's lifetime.
type Event struct {
	ID            string
	Kind          EventKind
	At            time.Time
	Chat          *ChatLine
	Entry         *EntryNotice
	Follow        *FollowNotice
	FriendRequest *FriendRequestNotice
	GiftNote      *GiftNote
}

// ChatLine is a chat message, either locally originated (Self, with a
// correlation id and live SendStatus) or received from the channel.
type ChatLine struct {
	AuthorID      string
	AuthorName    string
	Text          string
	Translated    string
	Self          bool
	Status        models.SendStatus
	CorrelationID string
	RemoteID      string
	Read          bool
}

// EntryNotice is a synthetic join banner. Fan marks members of the host's
// fan club.
type EntryNotice struct {
	User     models.User
	Fan      bool
	FanLevel int
}

// FollowNotice announces a new follower of the host.
type FollowNotice struct {
	FollowerName string
	FollowedName string
}

// FriendRequestNotice announces a mutual follow-back.
type FriendRequestNotice struct {
	FollowerName string
}

// GiftNote is the system line describing a gift, e.g. "sent 3x Rose".
type GiftNote struct {
	SenderName string
	GiftName   string
	Quantity   int
	Self       bool
}

// Log is the append-only room log. It is owned by the room loop and must only
// be touched from there; every operation completes synchronously.
type Log struct {
	self   models.User
	events []Event

	now        func() time.Time
	reported   map[string]struct{}
	unreported []string
}

// NewLog initialises an empty log for a room viewed by self.
func NewLog(self models.User) *Log {
	return &Log{
		self:     self,
		now:      time.Now,
		reported: make(map[string]struct{}),
	}
}

// Events returns the ordered log as value copies. The log keeps mutating the
// live payloads after handoff (send status, remote ids, read marks), so the
// snapshot must not share them with off-loop readers.
func (l *Log) Events() []Event {
	out := make([]Event, len(l.events))
	for i, event := range l.events {
		out[i] = event.clone()
	}
	return out
}

func (e Event) clone() Event {
	if e.Chat != nil {
		chat := *e.Chat
		e.Chat = &chat
	}
	if e.Entry != nil {
		entry := *e.Entry
		e.Entry = &entry
	}
	if e.Follow != nil {
		follow := *e.Follow
		e.Follow = &follow
	}
	if e.FriendRequest != nil {
		request := *e.FriendRequest
		e.FriendRequest = &request
	}
	if e.GiftNote != nil {
		note := *e.GiftNote
		e.GiftNote = &note
	}
	return e
}

// Len returns the number of events appended so far.
func (l *Log) Len() int {
	return len(l.events)
}

// AppendLocalChat appends an optimistic self-authored chat line with a fresh
// correlation id and status sending. It runs synchronously so the log
// reflects the action before any network round trip.
func (l *Log) AppendLocalChat(text string) Event {
	line := &ChatLine{
		AuthorID:      l.self.ID,
		AuthorName:    l.self.DisplayName,
		Text:          text,
		Self:          true,
		Status:        models.SendStatusSending,
		CorrelationID: uuid.NewString(),
	}
	return l.append(Event{Kind: KindChat, Chat: line})
}

// ResolveLocal transitions the pending entry for the given correlation id to
// the provided status. It reports whether an entry was found.
func (l *Log) ResolveLocal(correlationID string, status models.SendStatus) bool {
	line := l.findSelfLine(correlationID)
	if line == nil {
		return false
	}
	line.Status = status
	return true
}

// FailLocal marks the pending entry failed. The entry stays visible; retry is
// a new AppendLocalChat.
func (l *Log) FailLocal(correlationID string) bool {
	return l.ResolveLocal(correlationID, models.SendStatusFailed)
}

// ConsumeSelfEcho pairs a channel echo of a self-authored message with its
// optimistic entry, upgrading the status instead of appending a duplicate.
// Matching prefers the correlation id; when the channel strips it, a
// content+author match against a recent pending entry is accepted. It reports
// whether the echo was consumed.
func (l *Log) ConsumeSelfEcho(echo realtime.ChatMessageEvent) bool {
	if echo.AuthorID != l.self.ID {
		return false
	}
	if echo.CorrelationID != "" {
		if line := l.findSelfLine(echo.CorrelationID); line != nil {
			l.settleEcho(line, echo)
			return true
		}
		// Correlated to a send this log never made (e.g. another
		// device). Treat as consumed so it is not duplicated here.
		return true
	}
	cutoff := l.now().Add(-echoMatchWindow)
	for i := len(l.events) - 1; i >= 0; i-- {
		event := l.events[i]
		if event.Kind != KindChat || event.Chat == nil || !event.Chat.Self {
			continue
		}
		if event.At.Before(cutoff) {
			break
		}
		line := event.Chat
		if line.Status == models.SendStatusSending && line.Text == echo.Content {
			l.settleEcho(line, echo)
			return true
		}
	}
	return true
}

func (l *Log) settleEcho(line *ChatLine, echo realtime.ChatMessageEvent) {
	line.RemoteID = echo.MessageID
	if line.Status == models.SendStatusSending || line.Status == models.SendStatusFailed {
		line.Status = models.SendStatusSent
	}
}

// AppendRemoteChat appends a chat line from another author, with the settled
// translation result (empty when translation failed or was skipped).
func (l *Log) AppendRemoteChat(msg realtime.ChatMessageEvent, translated string) Event {
	line := &ChatLine{
		AuthorID:   msg.AuthorID,
		AuthorName: msg.AuthorName,
		Text:       msg.Content,
		Translated: translated,
		RemoteID:   msg.MessageID,
		Status:     models.SendStatusDelivered,
	}
	return l.append(Event{Kind: KindChat, Chat: line})
}

// AppendJoin appends a join banner, fan-styled when the user belongs to the
// host's fan club.
func (l *Log) AppendJoin(user models.User, fan bool, fanLevel int) Event {
	kind := KindEntry
	if fan {
		kind = KindFanEntry
	}
	return l.append(Event{Kind: kind, Entry: &EntryNotice{User: user, Fan: fan, FanLevel: fanLevel}})
}

// AppendFollow appends a follow notice.
func (l *Log) AppendFollow(followerName, followedName string) Event {
	return l.append(Event{Kind: KindFollow, Follow: &FollowNotice{
		FollowerName: followerName,
		FollowedName: followedName,
	}})
}

// AppendFriendRequest appends a friend-request notice for a mutual follow.
func (l *Log) AppendFriendRequest(followerName string) Event {
	return l.append(Event{Kind: KindFriendRequest, FriendRequest: &FriendRequestNotice{
		FollowerName: followerName,
	}})
}

// AppendGiftNote appends the system line describing a gift send.
func (l *Log) AppendGiftNote(senderName string, gift models.GiftDescriptor, quantity int, self bool) Event {
	return l.append(Event{Kind: KindGiftNote, GiftNote: &GiftNote{
		SenderName: senderName,
		GiftName:   gift.Name,
		Quantity:   quantity,
		Self:       self,
	}})
}

// MarkVisible records that the view displayed the given log events. Remote
// chat lines are marked read locally and their remote ids queued for the next
// best-effort server notification; each id is queued at most once.
func (l *Log) MarkVisible(eventIDs ...string) {
	if len(eventIDs) == 0 {
		return
	}
	visible := make(map[string]struct{}, len(eventIDs))
	for _, id := range eventIDs {
		visible[id] = struct{}{}
	}
	for _, event := range l.events {
		if _, ok := visible[event.ID]; !ok {
			continue
		}
		if event.Kind != KindChat || event.Chat == nil {
			continue
		}
		line := event.Chat
		line.Read = true
		if line.Self || line.RemoteID == "" {
			continue
		}
		if _, done := l.reported[line.RemoteID]; done {
			continue
		}
		l.reported[line.RemoteID] = struct{}{}
		l.unreported = append(l.unreported, line.RemoteID)
	}
}

// TakeUnreported drains the queue of read message ids awaiting the server
// notification. Ids are handed out exactly once; a failed report is not
// re-armed.
func (l *Log) TakeUnreported() []string {
	if len(l.unreported) == 0 {
		return nil
	}
	batch := l.unreported
	l.unreported = nil
	return batch
}

func (l *Log) append(event Event) Event {
	event.ID = uuid.NewString()
	event.At = l.now()
	l.events = append(l.events, event)
	return event
}

func (l *Log) findSelfLine(correlationID string) *ChatLine {
	if correlationID == "" {
		return nil
	}
	for i := len(l.events) - 1; i >= 0; i-- {
		event := l.events[i]
		if event.Kind == KindChat && event.Chat != nil && event.Chat.CorrelationID == correlationID {
			return event.Chat
		}
	}
	return nil
}
