package realtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	redis "github.com/redis/go-redis/v9"
)

// RedisFeedConfig configures the Redis Streams feed implementation.
type RedisFeedConfig struct {
	Addr         string
	Addrs        []string
	Username     string
	Password     string
	StreamPrefix string
	Logger       *slog.Logger
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	BlockTimeout time.Duration
	Buffer       int
	PoolSize     int
}

// NewRedisFeed initialises a feed backed by one Redis stream per room. Every
// subscriber reads the stream independently from the tail, which gives each
// viewer the full fan-out without consumer-group coordination.
func NewRedisFeed(cfg RedisFeedConfig) (*RedisFeed, error) {
	addrs := make([]string, 0, len(cfg.Addrs)+1)
	for _, addr := range cfg.Addrs {
		if trimmed := strings.TrimSpace(addr); trimmed != "" {
			addrs = append(addrs, trimmed)
		}
	}
	if addr := strings.TrimSpace(cfg.Addr); addr != "" {
		addrs = append(addrs, addr)
	}
	if len(addrs) == 0 {
		return nil, fmt.Errorf("redis addr is required")
	}
	prefix := strings.TrimSpace(cfg.StreamPrefix)
	if prefix == "" {
		prefix = "streamroom:events"
	}
	if cfg.Buffer <= 0 {
		cfg.Buffer = 128
	}
	if cfg.BlockTimeout <= 0 {
		cfg.BlockTimeout = 2 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:       addrs,
		Username:    strings.TrimSpace(cfg.Username),
		Password:    cfg.Password,
		DialTimeout: cfg.DialTimeout,
		ReadTimeout: cfg.ReadTimeout,
		PoolSize:    cfg.PoolSize,
		MaxRetries:  2,
	})
	return &RedisFeed{
		client:       client,
		prefix:       prefix,
		blockTimeout: cfg.BlockTimeout,
		buffer:       cfg.Buffer,
		logger:       logger,
	}, nil
}

// RedisFeed consumes room events from Redis Streams.
type RedisFeed struct {
	client       redis.UniversalClient
	prefix       string
	blockTimeout time.Duration
	buffer       int
	logger       *slog.Logger
}

// Publish appends an event to the room's stream. It exists so local tooling
// can drive a shared feed; the production publisher is the platform edge.
func (f *RedisFeed) Publish(ctx context.Context, event Event) error {
	if event.Type == "" || event.RoomID == "" {
		return errors.New("event type and room id are required")
	}
	payload, err := encodeEvent(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	return f.client.XAdd(ctx, &redis.XAddArgs{
		Stream: f.streamName(event.RoomID),
		Values: map[string]any{"payload": payload},
	}).Err()
}

// Subscribe starts tailing the room's stream from its current end.
func (f *RedisFeed) Subscribe(roomID string) Subscription {
	ctx, cancel := context.WithCancel(context.Background())
	sub := &redisSubscription{
		feed:   f,
		stream: f.streamName(roomID),
		cancel: cancel,
		ch:     make(chan Event, f.buffer),
	}
	go sub.run(ctx)
	return sub
}

// Close releases the underlying Redis client.
func (f *RedisFeed) Close() error {
	return f.client.Close()
}

func (f *RedisFeed) streamName(roomID string) string {
	return f.prefix + ":" + roomID
}

type redisSubscription struct {
	feed   *RedisFeed
	stream string
	cancel context.CancelFunc

	once sync.Once
	ch   chan Event
}

func (s *redisSubscription) Events() <-chan Event {
	return s.ch
}

// Close stops the tailing goroutine, which closes the event channel on its
// way out.
func (s *redisSubscription) Close() {
	s.once.Do(s.cancel)
}

func (s *redisSubscription) run(ctx context.Context) {
	defer close(s.ch)
	lastID := "$"
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		streams, err := s.feed.client.XRead(ctx, &redis.XReadArgs{
			Streams: []string{s.stream, lastID},
			Count:   32,
			Block:   s.feed.blockTimeout,
		}).Result()
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			if errors.Is(err, redis.Nil) {
				continue
			}
			s.feed.logger.Warn("redis feed read failed", "stream", s.stream, "error", err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(200 * time.Millisecond):
			}
			continue
		}
		for _, stream := range streams {
			for _, message := range stream.Messages {
				lastID = message.ID
				raw, ok := message.Values["payload"].(string)
				if !ok || raw == "" {
					continue
				}
				event, err := DecodeEvent([]byte(raw))
				if err != nil {
					s.feed.logger.Error("redis feed decode failed", "stream", s.stream, "error", err)
					continue
				}
				select {
				case s.ch <- event:
				case <-ctx.Done():
					return
				}
			}
		}
	}
}
