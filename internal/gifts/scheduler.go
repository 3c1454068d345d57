// Package gifts schedules gift animations for one room: an exclusive
// fullscreen lane played strictly one at a time, a bounded trailing history
// of completed items, and a single latest-notice slot for gifts received in
// real time.
//
// The scheduler is a pure state machine owned by the room loop. It arms no
// timers itself; the loop presents the returned items and reports completion
// back, which keeps scheduling deterministic under test.
package gifts

import (
	"log/slog"
	"time"

	"streamroom/internal/models"
)

// Lane selects the presentation mechanism for an enqueued request.
type Lane string

const (
	// LaneFullscreen queues the request for the exclusive fullscreen lane.
	LaneFullscreen Lane = "fullscreen"
	// LaneNotice replaces the latest-notice slot.
	LaneNotice Lane = "notice"
)

// defaultHistorySize bounds the banner-history lane.
const defaultHistorySize = 5

// defaultDuration is the fallback display time for unknown animation kinds
// and for the generic presentation substituted for incomplete descriptors.
const defaultDuration = 4 * time.Second

// defaultDurations is the stock catalog keyed by animation kind.
var defaultDurations = map[models.AnimationKind]time.Duration{
	models.AnimationKindSparkle:  3 * time.Second,
	models.AnimationKindBurst:    5 * time.Second,
	models.AnimationKindParade:   8 * time.Second,
	models.AnimationKindFirework: 10 * time.Second,
}

// Request describes one gift animation to schedule.
type Request struct {
	Sender       models.User
	ReceiverID   string
	ReceiverName string
	Gift         models.GiftDescriptor
	Quantity     int
	RoomID       string
	EnqueuedAt   time.Time
}

// TotalCost returns unit price times quantity in whole diamonds.
func (r Request) TotalCost() models.Diamonds {
	return r.Gift.Price.Mul(r.Quantity)
}

// QueuedAnimation is a request admitted to the fullscreen lane, carrying the
// schedule-assigned id and the resolved presentation parameters.
type QueuedAnimation struct {
	ID uint64
	Request
	// Duration is the timer-driven display time. Zero when MediaDriven.
	Duration time.Duration
	// MediaDriven marks items whose completion follows the video asset's
	// natural end instead of a timer.
	MediaDriven bool
	// Fallback marks items presented generically because the descriptor
	// carried no usable animation.
	Fallback bool
}

// Notice is the latest-notice slot content: the most recent qualifying gift
// received from another sender. It is superseded, never time-expired.
type Notice struct {
	SenderName   string
	ReceiverName string
	Gift         models.GiftDescriptor
	Quantity     int
	At           time.Time
}

// SchedulerConfig configures a Scheduler. Zero values select the stock
// catalog, the default history capacity, and the process logger.
type SchedulerConfig struct {
	HistorySize     int
	Durations       map[models.AnimationKind]time.Duration
	DefaultDuration time.Duration
	Logger          *slog.Logger
	Now             func() time.Time
}

// Scheduler sequences gift animations for one room.
type Scheduler struct {
	historySize     int
	durations       map[models.AnimationKind]time.Duration
	defaultDuration time.Duration
	logger          *slog.Logger
	now             func() time.Time

	nextID  uint64
	pending []*QueuedAnimation
	current *QueuedAnimation
	history []*QueuedAnimation
	notice  *Notice
}

// NewScheduler initialises a scheduler from the configuration.
func NewScheduler(cfg SchedulerConfig) *Scheduler {
	if cfg.HistorySize <= 0 {
		cfg.HistorySize = defaultHistorySize
	}
	if cfg.DefaultDuration <= 0 {
		cfg.DefaultDuration = defaultDuration
	}
	if cfg.Durations == nil {
		cfg.Durations = defaultDurations
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Scheduler{
		historySize:     cfg.HistorySize,
		durations:       cfg.Durations,
		defaultDuration: cfg.DefaultDuration,
		logger:          cfg.Logger,
		now:             cfg.Now,
	}
}

// Enqueue admits a request into the selected lane. For the fullscreen lane it
// returns the queued animation; callers follow up with Advance to learn
// whether it should start immediately. For the notice lane it replaces the
// latest-notice slot and returns nil.
func (s *Scheduler) Enqueue(req Request, lane Lane) *QueuedAnimation {
	if lane == LaneNotice {
		s.notice = &Notice{
			SenderName:   req.Sender.DisplayName,
			ReceiverName: req.ReceiverName,
			Gift:         req.Gift,
			Quantity:     req.Quantity,
			At:           s.now(),
		}
		return nil
	}
	if req.EnqueuedAt.IsZero() {
		req.EnqueuedAt = s.now()
	}
	s.nextID++
	item := &QueuedAnimation{ID: s.nextID, Request: req}
	s.resolvePresentation(item)
	s.pending = append(s.pending, item)
	return item
}

// Advance starts the head of the fullscreen queue when nothing is playing.
// It returns the item to present, or nil when the lane is busy or empty.
func (s *Scheduler) Advance() *QueuedAnimation {
	if s.current != nil || len(s.pending) == 0 {
		return nil
	}
	s.current = s.pending[0]
	s.pending = s.pending[1:]
	return s.current
}

// Complete records the completion signal for the given animation id, moves it
// into the banner history, and returns the next item to present (nil when the
// queue drained). Stale ids from a superseded presentation are ignored.
func (s *Scheduler) Complete(id uint64) *QueuedAnimation {
	if s.current == nil || s.current.ID != id {
		return nil
	}
	s.history = append(s.history, s.current)
	if len(s.history) > s.historySize {
		s.history = s.history[len(s.history)-s.historySize:]
	}
	s.current = nil
	return s.Advance()
}

// Current returns the item playing in the fullscreen lane, if any.
func (s *Scheduler) Current() *QueuedAnimation {
	return s.current
}

// PendingLen reports the fullscreen queue depth behind the current item.
func (s *Scheduler) PendingLen() int {
	return len(s.pending)
}

// History returns completed fullscreen items, most recent first, bounded by
// the configured capacity.
func (s *Scheduler) History() []QueuedAnimation {
	out := make([]QueuedAnimation, 0, len(s.history))
	for i := len(s.history) - 1; i >= 0; i-- {
		out = append(out, *s.history[i])
	}
	return out
}

// LatestNotice returns the latest-notice slot, or nil when no qualifying
// gift arrived yet.
func (s *Scheduler) LatestNotice() *Notice {
	if s.notice == nil {
		return nil
	}
	copied := *s.notice
	return &copied
}

func (s *Scheduler) resolvePresentation(item *QueuedAnimation) {
	gift := item.Gift
	switch {
	case gift.HasVideo():
		item.MediaDriven = true
	case gift.AnimationKind != models.AnimationKindNone:
		duration, ok := s.durations[gift.AnimationKind]
		if !ok {
			duration = s.defaultDuration
		}
		item.Duration = duration
	default:
		// Incomplete descriptor: present the generic fallback once
		// instead of aborting the queue.
		s.logger.Warn("gift descriptor not presentable, using fallback",
			"gift_id", gift.ID, "room_id", item.RoomID)
		item.Fallback = true
		item.Duration = s.defaultDuration
	}
}
