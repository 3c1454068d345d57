package archive

import (
	"context"
	"fmt"
	"log/slog"

	"streamroom/internal/realtime"
)

// ChatSink receives transcript rows. *Store satisfies it; tests substitute a
// capture.
type ChatSink interface {
	RecordChat(ctx context.Context, record ChatRecord) error
}

// Recorder tails a room's realtime stream and writes chat lines to the sink.
// It runs beside a room, on its own feed subscription, so archive failures
// never touch room state.
type Recorder struct {
	roomID string
	feed   realtime.Feed
	sink   ChatSink
	logger *slog.Logger
}

// NewRecorder validates the wiring and builds a recorder for one room.
func NewRecorder(roomID string, feed realtime.Feed, sink ChatSink, logger *slog.Logger) (*Recorder, error) {
	if roomID == "" {
		return nil, fmt.Errorf("archive: room id required")
	}
	if feed == nil {
		return nil, fmt.Errorf("archive: feed required")
	}
	if sink == nil {
		return nil, fmt.Errorf("archive: sink required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{roomID: roomID, feed: feed, sink: sink, logger: logger}, nil
}

// Run consumes the stream until the context ends or the subscription closes.
// Insert failures are logged and skipped.
func (r *Recorder) Run(ctx context.Context) error {
	sub := r.feed.Subscribe(r.roomID)
	defer sub.Close()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-sub.Events():
			if !ok {
				return nil
			}
			if event.Type != realtime.EventTypeChatMessage || event.Chat == nil {
				continue
			}
			record := ChatRecord{
				RoomID:     r.roomID,
				MessageID:  event.Chat.MessageID,
				AuthorID:   event.Chat.AuthorID,
				AuthorName: event.Chat.AuthorName,
				Content:    event.Chat.Content,
				OccurredAt: event.OccurredAt,
			}
			if err := r.sink.RecordChat(ctx, record); err != nil {
				r.logger.Warn("transcript insert failed",
					"room_id", r.roomID, "message_id", record.MessageID, "error", err)
			}
		}
	}
}
