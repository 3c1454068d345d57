package realtime

import (
	"context"
	"errors"
	"sync"
)

// Feed delivers realtime events for individual rooms. Implementations make a
// best-effort ordering guarantee per room but may replay duplicates; rooms
// are expected to tolerate both.
type Feed interface {
	Subscribe(roomID string) Subscription
}

// Subscription represents one active per-room event stream. Closing it
// detaches the stream; no further events are delivered afterwards.
type Subscription interface {
	Events() <-chan Event
	Close()
}

// NewMemoryFeed initialises an in-memory fan-out feed suitable for tests and
// single-process wiring.
func NewMemoryFeed(buffer int) *MemoryFeed {
	if buffer <= 0 {
		buffer = 32
	}
	return &MemoryFeed{
		subs:   make(map[string]map[*memorySubscription]struct{}),
		buffer: buffer,
	}
}

// MemoryFeed fans events out to per-room subscribers without leaving the
// process.
type MemoryFeed struct {
	mu     sync.RWMutex
	subs   map[string]map[*memorySubscription]struct{}
	buffer int
}

// Publish delivers an event to every subscriber of its room. Slow consumers
// are skipped instead of blocking the live path.
func (f *MemoryFeed) Publish(ctx context.Context, event Event) error {
	if event.Type == "" {
		return errors.New("event type is required")
	}
	if event.RoomID == "" {
		return errors.New("event room id is required")
	}
	f.mu.RLock()
	defer f.mu.RUnlock()
	for sub := range f.subs[event.RoomID] {
		select {
		case sub.ch <- event:
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// Subscribe attaches a new consumer to the given room's stream.
func (f *MemoryFeed) Subscribe(roomID string) Subscription {
	sub := &memorySubscription{
		feed:   f,
		roomID: roomID,
		ch:     make(chan Event, f.buffer),
	}
	f.mu.Lock()
	if f.subs[roomID] == nil {
		f.subs[roomID] = make(map[*memorySubscription]struct{})
	}
	f.subs[roomID][sub] = struct{}{}
	f.mu.Unlock()
	return sub
}

type memorySubscription struct {
	once   sync.Once
	feed   *MemoryFeed
	roomID string
	ch     chan Event
}

func (s *memorySubscription) Events() <-chan Event {
	return s.ch
}

func (s *memorySubscription) Close() {
	s.once.Do(func() {
		s.feed.mu.Lock()
		if subs := s.feed.subs[s.roomID]; subs != nil {
			delete(subs, s)
			if len(subs) == 0 {
				delete(s.feed.subs, s.roomID)
			}
		}
		s.feed.mu.Unlock()
		close(s.ch)
	})
}
