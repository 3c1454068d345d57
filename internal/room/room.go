// Package room composes the presence tracker, chat log, and gift scheduler
// behind one event loop per live room. External realtime events, timer
// completions, and network acknowledgements all funnel through that loop, so
// component state is only ever touched single-threaded.
package room

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"streamroom/internal/backend"
	"streamroom/internal/chatlog"
	"streamroom/internal/gifts"
	"streamroom/internal/models"
	"streamroom/internal/observability/logging"
	"streamroom/internal/observability/metrics"
	"streamroom/internal/presence"
	"streamroom/internal/realtime"
)

var (
	// ErrRoomClosed is returned by operations issued after Close.
	ErrRoomClosed = errors.New("room closed")
	// ErrInsufficientFunds aborts a gift send before any mutation. Callers
	// surface it as a prompt to top up.
	ErrInsufficientFunds = errors.New("insufficient funds")
)

// defaultReadReportInterval paces the best-effort read receipt batches.
const defaultReadReportInterval = 5 * time.Second

// Config assembles a Room. Feed, Backend, the room id, and the self user are
// required; everything else has working defaults.
type Config struct {
	Info    models.RoomInfo
	Self    models.User
	Feed    realtime.Feed
	Backend backend.Service
	// TargetLanguage enables inbound chat translation when set to a valid
	// BCP-47 tag.
	TargetLanguage string

	AnimationDurations       map[models.AnimationKind]time.Duration
	DefaultAnimationDuration time.Duration
	HistorySize              int
	ReadReportInterval       time.Duration

	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Room is one live viewing session. It owns its components for its lifetime
// and serializes every mutation onto a single loop goroutine.
type Room struct {
	info    models.RoomInfo
	backend backend.Service
	logger  *slog.Logger
	rec     *metrics.Recorder

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
	tasks     chan func()
	done      chan struct{}
	sub       realtime.Subscription

	readInterval time.Duration
	profileFetch singleflight.Group

	// Loop-owned state below. Only the loop goroutine touches it.
	self    models.User
	tracker *presence.Tracker
	log     *chatlog.Log
	sched   *gifts.Scheduler
	recon   *chatlog.Reconciler
	flags   map[string]bool
	timers  map[uint64]*time.Timer
}

// Open subscribes to the room's realtime stream, bootstraps presence, and
// starts the loop. The returned Room must be released with Close.
func Open(cfg Config) (*Room, error) {
	if cfg.Info.ID == "" {
		return nil, fmt.Errorf("room: id is required")
	}
	if cfg.Self.ID == "" {
		return nil, fmt.Errorf("room: self user is required")
	}
	if cfg.Feed == nil {
		return nil, fmt.Errorf("room: feed is required")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("room: backend is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logging.WithComponent(logger, "room").With("room_id", cfg.Info.ID)
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Default()
	}
	readInterval := cfg.ReadReportInterval
	if readInterval <= 0 {
		readInterval = defaultReadReportInterval
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Room{
		info:         cfg.Info,
		backend:      cfg.Backend,
		logger:       logger,
		rec:          rec,
		ctx:          ctx,
		cancel:       cancel,
		tasks:        make(chan func(), 64),
		done:         make(chan struct{}),
		readInterval: readInterval,
		self:         cfg.Self,
		tracker:      presence.NewTracker(cfg.Self.ID, cfg.Info.HostID),
		log:          chatlog.NewLog(cfg.Self),
		flags:        map[string]bool{"gifts-muted": cfg.Info.GiftsMuted},
		timers:       make(map[uint64]*time.Timer),
	}
	r.sched = gifts.NewScheduler(gifts.SchedulerConfig{
		HistorySize:     cfg.HistorySize,
		Durations:       cfg.AnimationDurations,
		DefaultDuration: cfg.DefaultAnimationDuration,
		Logger:          logger,
	})
	recon, err := chatlog.NewReconciler(chatlog.ReconcilerConfig{
		Log:            r.log,
		Translator:     cfg.Backend,
		TargetLanguage: cfg.TargetLanguage,
		Post:           r.post,
		Logger:         logger,
		Metrics:        rec,
	})
	if err != nil {
		cancel()
		return nil, err
	}
	r.recon = recon
	r.sub = cfg.Feed.Subscribe(cfg.Info.ID)

	go r.loop()
	go r.bootstrapPresence()
	rec.RoomOpened()
	logger.Info("room opened", "host_id", cfg.Info.HostID)
	return r, nil
}

// Close cancels the loop, detaches the feed subscription, and stops every
// pending animation timer. Posts issued after Close are dropped, never
// deferred; component state is not mutated again.
func (r *Room) Close() {
	r.closeOnce.Do(func() {
		r.cancel()
		r.sub.Close()
		<-r.done
		for id, timer := range r.timers {
			timer.Stop()
			delete(r.timers, id)
		}
		r.rec.RoomClosed()
		r.logger.Info("room closed")
	})
}

func (r *Room) loop() {
	defer close(r.done)
	ticker := time.NewTicker(r.readInterval)
	defer ticker.Stop()
	events := r.sub.Events()
	for {
		select {
		case <-r.ctx.Done():
			return
		case event, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			r.dispatch(event)
		case fn := <-r.tasks:
			fn()
		case <-ticker.C:
			r.flushReadReceipts()
		}
	}
}

// post schedules fn onto the loop. After Close the function is dropped.
func (r *Room) post(fn func()) {
	select {
	case r.tasks <- fn:
	case <-r.ctx.Done():
	}
}

// run executes fn on the loop and waits for it to finish.
func (r *Room) run(fn func()) error {
	finished := make(chan struct{})
	select {
	case r.tasks <- func() {
		fn()
		close(finished)
	}:
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
	select {
	case <-finished:
		return nil
	case <-r.ctx.Done():
		return ErrRoomClosed
	}
}

func (r *Room) dispatch(event realtime.Event) {
	if event.RoomID != "" && event.RoomID != r.info.ID {
		r.rec.ObserveDroppedEvent("foreign-room")
		return
	}
	r.rec.ObserveRealtimeEvent(string(event.Type))
	switch event.Type {
	case realtime.EventTypeChatMessage:
		r.recon.ApplyRemote(r.ctx, *event.Chat)
	case realtime.EventTypeGiftSent:
		r.applyGift(*event.Gift)
	case realtime.EventTypeFollowChanged:
		r.applyFollow(*event.Follow)
	case realtime.EventTypePresenceSnapshot:
		r.applyPresence(event.Presence.Entries)
	case realtime.EventTypeSettingToggled:
		r.flags[event.Setting.Flag] = event.Setting.Enabled
	default:
		r.rec.ObserveDroppedEvent("unknown-type")
	}
}

// applyGift surfaces a gift received in real time. Echoes of the viewer's own
// sends are suppressed entirely: the optimistic path already produced the log
// line and animation at send time.
func (r *Room) applyGift(event realtime.GiftSentEvent) {
	if event.FromUserID == r.self.ID {
		return
	}
	r.log.AppendGiftNote(event.FromUserName, event.Gift, event.Quantity, false)
	request := gifts.Request{
		Sender:       models.User{ID: event.FromUserID, DisplayName: event.FromUserName},
		ReceiverID:   event.ToUserID,
		ReceiverName: event.ToUserName,
		Gift:         event.Gift,
		Quantity:     event.Quantity,
		RoomID:       r.info.ID,
	}
	r.sched.Enqueue(request, gifts.LaneNotice)
	r.rec.ObserveAnimation(string(gifts.LaneNotice))
	r.sched.Enqueue(request, gifts.LaneFullscreen)
	r.advanceAnimations()
}

func (r *Room) applyFollow(event realtime.FollowChangedEvent) {
	if event.IsUnfollow {
		return
	}
	if event.Mutual {
		r.log.AppendFriendRequest(event.FollowerName)
		return
	}
	r.log.AppendFollow(event.FollowerName, event.FollowedName)
}

func (r *Room) applyPresence(entries []realtime.PresenceWireEntry) {
	for _, join := range r.tracker.Apply(entries) {
		r.log.AppendJoin(join.User, join.FanJoin, join.FanLevel)
	}
}

func (r *Room) bootstrapPresence() {
	entries, err := r.backend.FetchOnlineUsers(r.ctx, r.info.ID)
	if err != nil {
		r.logger.Debug("presence bootstrap failed", "error", err)
		return
	}
	if len(entries) == 0 {
		return
	}
	r.post(func() {
		r.applyPresence(entries)
	})
}

// SendChatMessage appends an optimistic chat line and delivers it remotely.
// The log reflects the send before this method returns; the status settles
// asynchronously.
func (r *Room) SendChatMessage(text string) error {
	return r.run(func() {
		event := r.log.AppendLocalChat(text)
		correlationID := event.Chat.CorrelationID
		go r.completeChatSend(correlationID, text)
	})
}

func (r *Room) completeChatSend(correlationID, text string) {
	messageID, err := r.backend.SendChatMessage(r.ctx, r.info.ID, correlationID, text)
	if err != nil {
		r.rec.ObserveSend("chat", "failed")
		r.logger.Warn("chat send failed", "error", err)
		r.post(func() {
			r.log.FailLocal(correlationID)
		})
		return
	}
	r.rec.ObserveSend("chat", "ok")
	r.post(func() {
		// The direct acknowledgement settles the entry the same way a
		// channel echo would; a later echo then matches by correlation
		// id and appends nothing.
		r.log.ConsumeSelfEcho(realtime.ChatMessageEvent{
			MessageID:     messageID,
			AuthorID:      r.self.ID,
			CorrelationID: correlationID,
		})
	})
}

// SendGift runs the optimistic gift sequence: funds pre-check, synchronous
// log line plus fullscreen enqueue plus provisional balance delta, then the
// remote call. ErrInsufficientFunds aborts before any of that.
func (r *Room) SendGift(gift models.GiftDescriptor, quantity int) error {
	if quantity <= 0 {
		return fmt.Errorf("room: quantity must be positive")
	}
	var sendErr error
	if err := r.run(func() {
		cost := gift.Price.Mul(quantity)
		if r.self.Balance < cost {
			r.rec.ObserveSend("gift", "insufficient_funds")
			sendErr = ErrInsufficientFunds
			return
		}
		correlationID := uuid.NewString()
		r.log.AppendGiftNote(r.self.DisplayName, gift, quantity, true)
		r.sched.Enqueue(gifts.Request{
			Sender:       r.self,
			ReceiverID:   r.info.HostID,
			ReceiverName: r.info.HostName,
			Gift:         gift,
			Quantity:     quantity,
			RoomID:       r.info.ID,
		}, gifts.LaneFullscreen)
		r.advanceAnimations()
		r.self.Balance -= cost
		r.self.SessionSpend += cost
		go r.completeGiftSend(correlationID, gift, quantity, cost)
	}); err != nil {
		return err
	}
	return sendErr
}

func (r *Room) completeGiftSend(correlationID string, gift models.GiftDescriptor, quantity int, cost models.Diamonds) {
	user, err := r.backend.SendGift(r.ctx, r.info.ID, correlationID, gift.ID, quantity)
	if err != nil {
		r.rec.ObserveSend("gift", "failed")
		r.logger.Warn("gift send failed", "gift_id", gift.ID, "error", err)
		r.recoverProfile()
		return
	}
	r.rec.ObserveSend("gift", "ok")
	r.rec.ObserveGiftSpend(cost)
	r.post(func() {
		wasFan := r.self.IsFanOf(r.info.HostID)
		r.self = user
		if !wasFan && user.IsFanOf(r.info.HostID) {
			r.log.AppendJoin(user, true, user.FanLevel)
		}
		if gift.AutoFollow && !user.Follows(r.info.HostID) {
			go r.followHost()
		}
	})
}

// recoverProfile discards optimistic balance state by refetching the
// authoritative record. Concurrent failures collapse into one fetch.
func (r *Room) recoverProfile() {
	value, err, _ := r.profileFetch.Do("current-user", func() (any, error) {
		return r.backend.FetchCurrentUser(r.ctx)
	})
	if err != nil {
		r.logger.Warn("profile recovery failed", "error", err)
		return
	}
	user := value.(models.User)
	r.post(func() {
		r.self = user
	})
}

func (r *Room) followHost() {
	if err := r.backend.FollowHost(r.ctx, r.info.HostID); err != nil {
		r.logger.Warn("auto follow failed", "host_id", r.info.HostID, "error", err)
	}
}

func (r *Room) advanceAnimations() {
	if item := r.sched.Advance(); item != nil {
		r.startPresentation(item)
	}
}

// startPresentation arms the completion signal for a fullscreen item. Timer
// completions come back through the loop; media-driven items wait for
// OnMediaEnded instead.
func (r *Room) startPresentation(item *gifts.QueuedAnimation) {
	r.rec.ObserveAnimation(string(gifts.LaneFullscreen))
	if item.MediaDriven {
		return
	}
	id := item.ID
	r.timers[id] = time.AfterFunc(item.Duration, func() {
		r.post(func() {
			r.completeAnimation(id)
		})
	})
}

func (r *Room) completeAnimation(id uint64) {
	if timer, ok := r.timers[id]; ok {
		timer.Stop()
		delete(r.timers, id)
	}
	if next := r.sched.Complete(id); next != nil {
		r.startPresentation(next)
	}
}

// OnMediaEnded reports the natural end of a video-driven presentation.
func (r *Room) OnMediaEnded(id uint64) {
	r.post(func() {
		r.completeAnimation(id)
	})
}

// MarkVisible records which log events the view displayed, feeding the
// batched read receipt report.
func (r *Room) MarkVisible(eventIDs ...string) error {
	return r.run(func() {
		r.log.MarkVisible(eventIDs...)
	})
}

func (r *Room) flushReadReceipts() {
	batch := r.log.TakeUnreported()
	if len(batch) == 0 {
		return
	}
	go func() {
		if err := r.backend.MarkMessagesRead(r.ctx, r.info.ID, batch); err != nil {
			r.logger.Debug("read receipt report failed", "count", len(batch), "error", err)
		}
	}()
}

// Mentions filters the current presence set for @-autocomplete.
func (r *Room) Mentions(prefix string, limit int) ([]models.User, error) {
	var matches []models.User
	if err := r.run(func() {
		matches = r.tracker.MatchMentions(prefix, limit)
	}); err != nil {
		return nil, err
	}
	return matches, nil
}

// Kick removes a viewer from the room.
func (r *Room) Kick(ctx context.Context, userID string) error {
	return r.backend.KickUser(ctx, r.info.ID, userID)
}

// Promote grants a viewer moderator rights.
func (r *Room) Promote(ctx context.Context, userID string) error {
	return r.backend.PromoteUser(ctx, r.info.ID, userID)
}

// SetFlag toggles a per-room setting remotely. The local mirror updates when
// the setting-toggled event echoes back.
func (r *Room) SetFlag(ctx context.Context, flag string, enabled bool) error {
	return r.backend.SetRoomFlag(ctx, r.info.ID, flag, enabled)
}

// FollowHost follows the room's host on behalf of the viewer.
func (r *Room) FollowHost(ctx context.Context) error {
	return r.backend.FollowHost(ctx, r.info.HostID)
}

// View is a consistent read-only snapshot of everything the presentation
// layer renders, captured in one step on the loop.
type View struct {
	Room models.RoomInfo
	Self models.User

	Events []chatlog.Event

	Current           *gifts.QueuedAnimation
	PendingAnimations int
	History           []gifts.QueuedAnimation
	LatestNotice      *gifts.Notice

	ViewerCount     int
	Presence        []models.PresenceEntry
	TopContributors []models.PresenceEntry

	Flags map[string]bool
}

// View captures the current room state. Lanes, log, presence, and balance all
// come from the same loop step, so the snapshot is internally consistent.
func (r *Room) View() (View, error) {
	var view View
	if err := r.run(func() {
		view = View{
			Room:              r.info,
			Self:              r.self,
			Events:            r.log.Events(),
			PendingAnimations: r.sched.PendingLen(),
			History:           r.sched.History(),
			LatestNotice:      r.sched.LatestNotice(),
			ViewerCount:       r.tracker.ViewerCount(),
			Presence:          r.tracker.Snapshot(),
			TopContributors:   r.tracker.TopContributors(),
			Flags:             make(map[string]bool, len(r.flags)),
		}
		if current := r.sched.Current(); current != nil {
			copied := *current
			view.Current = &copied
		}
		for flag, enabled := range r.flags {
			view.Flags[flag] = enabled
		}
	}); err != nil {
		return View{}, err
	}
	return view, nil
}
