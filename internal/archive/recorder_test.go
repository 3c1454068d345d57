package archive_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"streamroom/internal/archive"
	"streamroom/internal/realtime"
)

type captureSink struct {
	mu      sync.Mutex
	records []archive.ChatRecord
	err     error
}

func (c *captureSink) RecordChat(_ context.Context, record archive.ChatRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.records = append(c.records, record)
	return nil
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.records)
}

func TestRecorderPersistsChatOnly(t *testing.T) {
	feed := realtime.NewMemoryFeed(8)
	sink := &captureSink{}
	recorder, err := archive.NewRecorder("room-1", feed, sink, nil)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- recorder.Run(ctx) }()

	// Give the subscription time to attach before publishing.
	time.Sleep(10 * time.Millisecond)
	feed.Publish(ctx, realtime.Event{
		Type:   realtime.EventTypeChatMessage,
		RoomID: "room-1",
		Chat:   &realtime.ChatMessageEvent{MessageID: "m1", AuthorID: "a", AuthorName: "A", Content: "hi"},
	})
	feed.Publish(ctx, realtime.Event{
		Type:     realtime.EventTypePresenceSnapshot,
		RoomID:   "room-1",
		Presence: &realtime.PresenceSnapshotEvent{},
	})

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sink.count() == 0 {
		time.Sleep(5 * time.Millisecond)
	}
	if sink.count() != 1 {
		t.Fatalf("expected exactly one chat record, got %d", sink.count())
	}
	sink.mu.Lock()
	record := sink.records[0]
	sink.mu.Unlock()
	if record.MessageID != "m1" || record.Content != "hi" {
		t.Fatalf("unexpected record %+v", record)
	}

	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestRecorderRequiresWiring(t *testing.T) {
	feed := realtime.NewMemoryFeed(1)
	if _, err := archive.NewRecorder("", feed, &captureSink{}, nil); err == nil {
		t.Fatal("expected error for missing room id")
	}
	if _, err := archive.NewRecorder("room-1", nil, &captureSink{}, nil); err == nil {
		t.Fatal("expected error for missing feed")
	}
	if _, err := archive.NewRecorder("room-1", feed, nil, nil); err == nil {
		t.Fatal("expected error for missing sink")
	}
}

func TestNewStoreRejectsEmptyDSN(t *testing.T) {
	if _, err := archive.NewStore(context.Background(), archive.Config{}); err == nil {
		t.Fatal("expected error for empty dsn")
	}
}
