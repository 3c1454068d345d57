package realtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"streamroom/internal/observability/metrics"
)

// WebsocketFeedConfig configures the dial-out WebSocket feed.
type WebsocketFeedConfig struct {
	// URL is the realtime edge endpoint, e.g. wss://edge.example.com/rooms.
	URL            string
	Header         http.Header
	Logger         *slog.Logger
	DialTimeout    time.Duration
	ReconnectDelay time.Duration
	Buffer         int
}

// NewWebsocketFeed initialises a feed that dials the realtime edge over
// WebSocket. Each subscription holds its own connection and joins exactly one
// room, reconnecting with a fixed delay until closed.
func NewWebsocketFeed(cfg WebsocketFeedConfig) (*WebsocketFeed, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, fmt.Errorf("websocket url is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = 10 * time.Second
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 128
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &WebsocketFeed{cfg: cfg}, nil
}

// WebsocketFeed consumes room events from the realtime edge over WebSocket.
type WebsocketFeed struct {
	cfg WebsocketFeedConfig
}

type wsJoinRequest struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// Subscribe dials the edge and joins the given room.
func (f *WebsocketFeed) Subscribe(roomID string) Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &wsSubscription{
		feed:   f,
		roomID: roomID,
		cancel: cancel,
		ch:     make(chan Event, f.cfg.Buffer),
	}
	go sub.run(ctx)
	return sub
}

type wsSubscription struct {
	feed   *WebsocketFeed
	roomID string
	cancel context.CancelFunc

	mu   sync.Mutex
	conn *websocket.Conn

	once sync.Once
	ch   chan Event
}

func (s *wsSubscription) Events() <-chan Event {
	return s.ch
}

// Close detaches the subscription. The event channel is closed by the reader
// goroutine once it observes the cancellation, so in-flight deliveries never
// race the close.
func (s *wsSubscription) Close() {
	s.once.Do(func() {
		s.cancel()
		s.mu.Lock()
		if s.conn != nil {
			s.conn.Close()
		}
		s.mu.Unlock()
	})
}

func (s *wsSubscription) run(ctx context.Context) {
	defer close(s.ch)
	logger := s.feed.cfg.Logger.With("room_id", s.roomID)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if err := s.connectAndRead(ctx); err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("websocket feed disconnected", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.feed.cfg.ReconnectDelay):
		}
	}
}

func (s *wsSubscription) connectAndRead(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: s.feed.cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, s.feed.cfg.URL, s.feed.cfg.Header)
	if err != nil {
		return fmt.Errorf("dial realtime edge: %w", err)
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()
	defer func() {
		s.mu.Lock()
		s.conn = nil
		s.mu.Unlock()
		conn.Close()
	}()

	if err := conn.WriteJSON(wsJoinRequest{Type: "join", RoomID: s.roomID}); err != nil {
		return fmt.Errorf("join room: %w", err)
	}
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		event, err := DecodeEvent(payload)
		if err != nil {
			s.feed.cfg.Logger.Warn("dropping bad realtime payload", "room_id", s.roomID, "error", err)
			continue
		}
		if event.RoomID != s.roomID {
			continue
		}
		if err := s.deliver(ctx, event); err != nil {
			return err
		}
	}
}

// deliver hands the event to the subscriber without ever blocking the read
// loop. A full buffer drops the event, logged and counted so backpressure
// loss stays observable.
func (s *wsSubscription) deliver(ctx context.Context, event Event) error {
	select {
	case s.ch <- event:
	case <-ctx.Done():
		return ctx.Err()
	default:
		s.feed.cfg.Logger.Warn("dropping event for slow subscriber",
			"room_id", s.roomID, "type", event.Type)
		metrics.ObserveDroppedEvent("slow-subscriber")
	}
	return nil
}
