package room_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"streamroom/internal/backend"
	"streamroom/internal/chatlog"
	"streamroom/internal/models"
	"streamroom/internal/realtime"
	"streamroom/internal/room"
)

type fakeBackend struct {
	mu sync.Mutex

	chatErr      error
	giftErr      error
	translateErr error
	giftUser     models.User
	profileUser  models.User

	giftCalls      []string
	chatCalls      []string
	followCalls    int
	profileFetches int
	readBatches    [][]string
	online         []realtime.PresenceWireEntry
}

func (f *fakeBackend) SendChatMessage(_ context.Context, _, correlationID, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.chatErr != nil {
		return "", f.chatErr
	}
	f.chatCalls = append(f.chatCalls, correlationID)
	return "msg-" + correlationID, nil
}

func (f *fakeBackend) SendGift(_ context.Context, _, correlationID, giftID string, _ int) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.giftErr != nil {
		return models.User{}, f.giftErr
	}
	f.giftCalls = append(f.giftCalls, giftID+":"+correlationID)
	return f.giftUser, nil
}

func (f *fakeBackend) Translate(_ context.Context, text, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.translateErr != nil {
		return "", f.translateErr
	}
	return "[t]" + text, nil
}

func (f *fakeBackend) FetchOnlineUsers(context.Context, string) ([]realtime.PresenceWireEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online, nil
}

func (f *fakeBackend) FetchCurrentUser(context.Context) (models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.profileFetches++
	return f.profileUser, nil
}

func (f *fakeBackend) MarkMessagesRead(_ context.Context, _ string, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.readBatches = append(f.readBatches, ids)
	return nil
}

func (f *fakeBackend) KickUser(context.Context, string, string) error    { return nil }
func (f *fakeBackend) PromoteUser(context.Context, string, string) error { return nil }
func (f *fakeBackend) SetRoomFlag(context.Context, string, string, bool) error {
	return nil
}

func (f *fakeBackend) FollowHost(context.Context, string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.followCalls++
	return nil
}

func (f *fakeBackend) giftCallCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.giftCalls)
}

var _ backend.Service = (*fakeBackend)(nil)

func waitUntil(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met before deadline")
}

func openRoom(t *testing.T, svc *fakeBackend, feed *realtime.MemoryFeed, self models.User) *room.Room {
	t.Helper()
	r, err := room.Open(room.Config{
		Info:                     models.RoomInfo{ID: "room-1", HostID: "host-1", HostName: "Host"},
		Self:                     self,
		Feed:                     feed,
		Backend:                  svc,
		TargetLanguage:           "en",
		DefaultAnimationDuration: time.Millisecond,
		AnimationDurations: map[models.AnimationKind]time.Duration{
			models.AnimationKindSparkle: time.Millisecond,
		},
		ReadReportInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("open room: %v", err)
	}
	t.Cleanup(r.Close)
	return r
}

func chatLines(events []chatlog.Event) []chatlog.Event {
	var out []chatlog.Event
	for _, event := range events {
		if event.Kind == chatlog.KindChat {
			out = append(out, event)
		}
	}
	return out
}

func giftNotes(events []chatlog.Event) []chatlog.Event {
	var out []chatlog.Event
	for _, event := range events {
		if event.Kind == chatlog.KindGiftNote {
			out = append(out, event)
		}
	}
	return out
}

func rose() models.GiftDescriptor {
	return models.GiftDescriptor{
		ID:            "rose",
		Name:          "Rose",
		Price:         10,
		AnimationKind: models.AnimationKindSparkle,
	}
}

func mustView(t *testing.T, r *room.Room) room.View {
	t.Helper()
	view, err := r.View()
	if err != nil {
		t.Fatalf("view: %v", err)
	}
	return view
}

func TestGiftSendUsesAuthoritativeBalance(t *testing.T) {
	svc := &fakeBackend{giftUser: models.User{ID: "self", DisplayName: "Me", Balance: 470}}
	self := models.User{ID: "self", DisplayName: "Me", Balance: 500}
	r := openRoom(t, svc, realtime.NewMemoryFeed(8), self)

	if err := r.SendGift(rose(), 3); err != nil {
		t.Fatalf("send gift: %v", err)
	}

	view := mustView(t, r)
	notes := giftNotes(view.Events)
	if len(notes) != 1 {
		t.Fatalf("expected exactly one gift note, got %d", len(notes))
	}
	if notes[0].GiftNote.Quantity != 3 || notes[0].GiftNote.GiftName != "Rose" {
		t.Fatalf("unexpected gift note %+v", notes[0].GiftNote)
	}
	if view.Current == nil && len(view.History) == 0 && view.PendingAnimations == 0 {
		t.Fatal("expected exactly one fullscreen item somewhere in the lane")
	}

	waitUntil(t, func() bool {
		return mustView(t, r).Self.Balance == 470
	})
	if got := mustView(t, r).Self.Balance; got != 470 {
		t.Fatalf("balance must be the server value exactly, got %d", got)
	}
}

func TestGiftSendInsufficientFundsProducesNothing(t *testing.T) {
	svc := &fakeBackend{}
	self := models.User{ID: "self", DisplayName: "Me", Balance: 5}
	r := openRoom(t, svc, realtime.NewMemoryFeed(8), self)

	err := r.SendGift(rose(), 3)
	if !errors.Is(err, room.ErrInsufficientFunds) {
		t.Fatalf("expected ErrInsufficientFunds, got %v", err)
	}

	view := mustView(t, r)
	if len(view.Events) != 0 {
		t.Fatalf("expected zero log entries, got %d", len(view.Events))
	}
	if view.Current != nil || view.PendingAnimations != 0 {
		t.Fatal("expected zero queued animations")
	}
	if view.Self.Balance != 5 {
		t.Fatalf("balance must be untouched, got %d", view.Self.Balance)
	}
	if svc.giftCallCount() != 0 {
		t.Fatal("no network call may happen on the insufficient funds path")
	}
}

func TestGiftSendFailureRefetchesProfileAndKeepsArtifacts(t *testing.T) {
	svc := &fakeBackend{
		giftErr:     backend.ErrUnavailable,
		profileUser: models.User{ID: "self", DisplayName: "Me", Balance: 500},
	}
	self := models.User{ID: "self", DisplayName: "Me", Balance: 500}
	r := openRoom(t, svc, realtime.NewMemoryFeed(8), self)

	if err := r.SendGift(rose(), 3); err != nil {
		t.Fatalf("send gift: %v", err)
	}

	waitUntil(t, func() bool {
		return mustView(t, r).Self.Balance == 500
	})
	view := mustView(t, r)
	if len(giftNotes(view.Events)) != 1 {
		t.Fatal("failure must not retract the optimistic gift note")
	}
}

func TestSelfGiftEchoSuppressed(t *testing.T) {
	svc := &fakeBackend{giftUser: models.User{ID: "self", DisplayName: "Me", Balance: 470}}
	self := models.User{ID: "self", DisplayName: "Me", Balance: 500}
	feed := realtime.NewMemoryFeed(8)
	r := openRoom(t, svc, feed, self)

	if err := r.SendGift(rose(), 3); err != nil {
		t.Fatalf("send gift: %v", err)
	}
	waitUntil(t, func() bool { return svc.giftCallCount() == 1 })

	feed.Publish(context.Background(), realtime.Event{
		Type:   realtime.EventTypeGiftSent,
		RoomID: "room-1",
		Gift: &realtime.GiftSentEvent{
			FromUserID:   "self",
			FromUserName: "Me",
			ToUserID:     "host-1",
			Gift:         rose(),
			Quantity:     3,
		},
	})
	feed.Publish(context.Background(), realtime.Event{
		Type:    realtime.EventTypeSettingToggled,
		RoomID:  "room-1",
		Setting: &realtime.SettingToggledEvent{Flag: "marker", Enabled: true},
	})
	waitUntil(t, func() bool { return mustView(t, r).Flags["marker"] })

	view := mustView(t, r)
	if len(giftNotes(view.Events)) != 1 {
		t.Fatalf("self echo must not add a gift note, got %d", len(giftNotes(view.Events)))
	}
	if view.LatestNotice != nil {
		t.Fatal("self echo must not populate the latest notice slot")
	}
}

func TestIncomingGiftPopulatesNoticeAndLog(t *testing.T) {
	svc := &fakeBackend{}
	feed := realtime.NewMemoryFeed(8)
	r := openRoom(t, svc, feed, models.User{ID: "self", DisplayName: "Me"})

	feed.Publish(context.Background(), realtime.Event{
		Type:   realtime.EventTypeGiftSent,
		RoomID: "room-1",
		Gift: &realtime.GiftSentEvent{
			FromUserID:   "other",
			FromUserName: "Other",
			ToUserID:     "host-1",
			ToUserName:   "Host",
			Gift:         rose(),
			Quantity:     2,
		},
	})

	waitUntil(t, func() bool {
		view := mustView(t, r)
		return view.LatestNotice != nil && len(giftNotes(view.Events)) == 1
	})
	view := mustView(t, r)
	if view.LatestNotice.SenderName != "Other" || view.LatestNotice.Quantity != 2 {
		t.Fatalf("unexpected notice %+v", view.LatestNotice)
	}
}

func TestChatSendEchoYieldsSingleEntry(t *testing.T) {
	svc := &fakeBackend{}
	feed := realtime.NewMemoryFeed(8)
	r := openRoom(t, svc, feed, models.User{ID: "self", DisplayName: "Me"})

	if err := r.SendChatMessage("hello"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	view := mustView(t, r)
	lines := chatLines(view.Events)
	if len(lines) != 1 || lines[0].Chat.Status != models.SendStatusSending {
		t.Fatalf("expected one optimistic line, got %+v", lines)
	}
	correlationID := lines[0].Chat.CorrelationID

	waitUntil(t, func() bool {
		lines := chatLines(mustView(t, r).Events)
		return len(lines) == 1 && lines[0].Chat.Status == models.SendStatusSent
	})

	feed.Publish(context.Background(), realtime.Event{
		Type:   realtime.EventTypeChatMessage,
		RoomID: "room-1",
		Chat: &realtime.ChatMessageEvent{
			MessageID:     "msg-" + correlationID,
			AuthorID:      "self",
			AuthorName:    "Me",
			Content:       "hello",
			CorrelationID: correlationID,
		},
	})
	feed.Publish(context.Background(), realtime.Event{
		Type:    realtime.EventTypeSettingToggled,
		RoomID:  "room-1",
		Setting: &realtime.SettingToggledEvent{Flag: "marker", Enabled: true},
	})
	waitUntil(t, func() bool { return mustView(t, r).Flags["marker"] })

	if lines := chatLines(mustView(t, r).Events); len(lines) != 1 {
		t.Fatalf("echo must not duplicate the entry, got %d lines", len(lines))
	}
}

func TestChatSendFailureMarksEntryFailed(t *testing.T) {
	svc := &fakeBackend{chatErr: backend.ErrUnavailable}
	r := openRoom(t, svc, realtime.NewMemoryFeed(8), models.User{ID: "self", DisplayName: "Me"})

	if err := r.SendChatMessage("hello"); err != nil {
		t.Fatalf("send chat: %v", err)
	}
	waitUntil(t, func() bool {
		lines := chatLines(mustView(t, r).Events)
		return len(lines) == 1 && lines[0].Chat.Status == models.SendStatusFailed
	})
}

func TestTranslationFailureKeepsOriginalText(t *testing.T) {
	svc := &fakeBackend{translateErr: errors.New("translator down")}
	feed := realtime.NewMemoryFeed(8)
	r := openRoom(t, svc, feed, models.User{ID: "self", DisplayName: "Me"})

	feed.Publish(context.Background(), realtime.Event{
		Type:   realtime.EventTypeChatMessage,
		RoomID: "room-1",
		Chat: &realtime.ChatMessageEvent{
			MessageID:  "m1",
			AuthorID:   "other",
			AuthorName: "Other",
			Content:    "olá",
		},
	})

	waitUntil(t, func() bool {
		return len(chatLines(mustView(t, r).Events)) == 1
	})
	line := chatLines(mustView(t, r).Events)[0].Chat
	if line.Text != "olá" || line.Translated != "" {
		t.Fatalf("expected original text with no translation, got %+v", line)
	}
}

func TestPresenceSnapshotDerivesJoins(t *testing.T) {
	svc := &fakeBackend{}
	feed := realtime.NewMemoryFeed(8)
	r := openRoom(t, svc, feed, models.User{ID: "self", DisplayName: "Me"})

	value := int64(40)
	feed.Publish(context.Background(), realtime.Event{
		Type:   realtime.EventTypePresenceSnapshot,
		RoomID: "room-1",
		Presence: &realtime.PresenceSnapshotEvent{Entries: []realtime.PresenceWireEntry{
			{UserID: "self", DisplayName: "Me", Value: &value},
			{UserID: "fan", DisplayName: "Fan", Value: &value, FanClubHostID: "host-1"},
		}},
	})

	waitUntil(t, func() bool { return mustView(t, r).ViewerCount == 2 })
	view := mustView(t, r)
	var fanJoins int
	for _, event := range view.Events {
		switch event.Kind {
		case chatlog.KindFanEntry:
			fanJoins++
		case chatlog.KindEntry:
			t.Fatalf("self must not join; unexpected entry %+v", event.Entry)
		}
	}
	if fanJoins != 1 {
		t.Fatalf("expected one fan join banner, got %d", fanJoins)
	}
}

func TestUnfollowIgnoredAndMutualBecomesFriendRequest(t *testing.T) {
	svc := &fakeBackend{}
	feed := realtime.NewMemoryFeed(8)
	r := openRoom(t, svc, feed, models.User{ID: "self", DisplayName: "Me"})

	feed.Publish(context.Background(), realtime.Event{
		Type:   realtime.EventTypeFollowChanged,
		RoomID: "room-1",
		Follow: &realtime.FollowChangedEvent{FollowerName: "A", FollowedName: "Host", IsUnfollow: true},
	})
	feed.Publish(context.Background(), realtime.Event{
		Type:   realtime.EventTypeFollowChanged,
		RoomID: "room-1",
		Follow: &realtime.FollowChangedEvent{FollowerName: "B", FollowedName: "Host", Mutual: true},
	})

	waitUntil(t, func() bool { return len(mustView(t, r).Events) == 1 })
	event := mustView(t, r).Events[0]
	if event.Kind != chatlog.KindFriendRequest || event.FriendRequest.FollowerName != "B" {
		t.Fatalf("expected friend request from B, got %+v", event)
	}
}

func TestAutoFollowTriggersOnAcknowledgement(t *testing.T) {
	svc := &fakeBackend{giftUser: models.User{ID: "self", DisplayName: "Me", Balance: 400}}
	r := openRoom(t, svc, realtime.NewMemoryFeed(8), models.User{ID: "self", DisplayName: "Me", Balance: 500})

	gift := rose()
	gift.AutoFollow = true
	if err := r.SendGift(gift, 1); err != nil {
		t.Fatalf("send gift: %v", err)
	}

	waitUntil(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return svc.followCalls == 1
	})
}

func TestFullscreenLaneCompletesInOrder(t *testing.T) {
	svc := &fakeBackend{giftUser: models.User{ID: "self", DisplayName: "Me", Balance: 400}}
	r := openRoom(t, svc, realtime.NewMemoryFeed(8), models.User{ID: "self", DisplayName: "Me", Balance: 500})

	for i := 0; i < 3; i++ {
		if err := r.SendGift(rose(), 1); err != nil {
			t.Fatalf("send gift %d: %v", i, err)
		}
	}

	waitUntil(t, func() bool {
		view := mustView(t, r)
		return view.Current == nil && len(view.History) == 3
	})
	history := mustView(t, r).History
	if history[0].ID < history[1].ID || history[1].ID < history[2].ID {
		t.Fatalf("history must be most recent first, got ids %d %d %d",
			history[0].ID, history[1].ID, history[2].ID)
	}
}

func TestMediaDrivenGiftWaitsForMediaEnd(t *testing.T) {
	svc := &fakeBackend{giftUser: models.User{ID: "self", DisplayName: "Me", Balance: 400}}
	r := openRoom(t, svc, realtime.NewMemoryFeed(8), models.User{ID: "self", DisplayName: "Me", Balance: 500})

	gift := models.GiftDescriptor{ID: "clip", Name: "Clip", Price: 1, VideoURL: "https://cdn/clip.mp4"}
	if err := r.SendGift(gift, 1); err != nil {
		t.Fatalf("send gift: %v", err)
	}

	view := mustView(t, r)
	if view.Current == nil || !view.Current.MediaDriven {
		t.Fatalf("expected media-driven item playing, got %+v", view.Current)
	}
	time.Sleep(20 * time.Millisecond)
	if current := mustView(t, r).Current; current == nil {
		t.Fatal("media-driven item must not complete on a timer")
	}

	r.OnMediaEnded(view.Current.ID)
	waitUntil(t, func() bool {
		view := mustView(t, r)
		return view.Current == nil && len(view.History) == 1
	})
}

func TestReadReceiptsBatchAndReportOnce(t *testing.T) {
	svc := &fakeBackend{}
	feed := realtime.NewMemoryFeed(8)
	r := openRoom(t, svc, feed, models.User{ID: "self", DisplayName: "Me"})

	feed.Publish(context.Background(), realtime.Event{
		Type:   realtime.EventTypeChatMessage,
		RoomID: "room-1",
		Chat:   &realtime.ChatMessageEvent{MessageID: "m1", AuthorID: "other", AuthorName: "Other", Content: "hi"},
	})
	waitUntil(t, func() bool { return len(chatLines(mustView(t, r).Events)) == 1 })

	eventID := chatLines(mustView(t, r).Events)[0].ID
	if err := r.MarkVisible(eventID); err != nil {
		t.Fatalf("mark visible: %v", err)
	}
	if err := r.MarkVisible(eventID); err != nil {
		t.Fatalf("mark visible again: %v", err)
	}

	waitUntil(t, func() bool {
		svc.mu.Lock()
		defer svc.mu.Unlock()
		return len(svc.readBatches) > 0
	})
	time.Sleep(30 * time.Millisecond)
	svc.mu.Lock()
	defer svc.mu.Unlock()
	total := 0
	for _, batch := range svc.readBatches {
		total += len(batch)
	}
	if total != 1 {
		t.Fatalf("message id must be reported exactly once, got %d reports", total)
	}
}

func TestCloseDropsFurtherOperations(t *testing.T) {
	svc := &fakeBackend{}
	r := openRoom(t, svc, realtime.NewMemoryFeed(8), models.User{ID: "self", DisplayName: "Me"})

	r.Close()
	if err := r.SendChatMessage("late"); !errors.Is(err, room.ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed, got %v", err)
	}
	if _, err := r.View(); !errors.Is(err, room.ErrRoomClosed) {
		t.Fatalf("expected ErrRoomClosed from View, got %v", err)
	}
}

func TestMentionsComeFromPresence(t *testing.T) {
	value := int64(1)
	svc := &fakeBackend{online: []realtime.PresenceWireEntry{
		{UserID: "self", DisplayName: "Me", Value: &value},
		{UserID: "u1", DisplayName: "Alice", Value: &value},
		{UserID: "u2", DisplayName: "alfred", Value: &value},
		{UserID: "u3", DisplayName: "Bob", Value: &value},
	}}
	r := openRoom(t, svc, realtime.NewMemoryFeed(8), models.User{ID: "self", DisplayName: "Me"})

	waitUntil(t, func() bool { return mustView(t, r).ViewerCount == 4 })
	matches, err := r.Mentions("@al", 10)
	if err != nil {
		t.Fatalf("mentions: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("expected Alice and alfred, got %+v", matches)
	}
}
