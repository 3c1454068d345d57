// Command viewer joins a live room headlessly: it wires the configured
// realtime feed and backend into a room, optionally archives the chat
// transcript to Postgres, and exposes metrics until interrupted.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"streamroom/internal/archive"
	"streamroom/internal/backend"
	"streamroom/internal/models"
	"streamroom/internal/observability/logging"
	"streamroom/internal/observability/metrics"
	"streamroom/internal/realtime"
	"streamroom/internal/room"
)

type viewerConfig struct {
	RoomID            string
	HostID            string
	HostName          string
	BackendURL        string
	Token             string
	TargetLanguage    string
	FeedDriver        string
	WebsocketURL      string
	RedisAddr         string
	RedisAddrs        []string
	RedisUsername     string
	RedisPassword     string
	RedisStreamPrefix string
	ArchiveDSN        string
	MetricsAddr       string
	StatusInterval    time.Duration
}

func main() {
	// Missing .env files are fine; explicit environment always wins.
	_ = godotenv.Load()

	roomID := flag.String("room-id", "", "room to join")
	hostID := flag.String("host-id", "", "host account id for the room")
	hostName := flag.String("host-name", "", "host display name")
	baseURL := flag.String("backend-url", "", "backend API base URL")
	token := flag.String("token", "", "bearer token for the backend API")
	targetLang := flag.String("translate-to", "", "BCP-47 target language for inbound chat (empty disables)")
	feedDriver := flag.String("feed-driver", "", "realtime feed driver (websocket, redis, or memory)")
	wsURL := flag.String("ws-url", "", "realtime edge WebSocket URL")
	redisAddr := flag.String("redis-addr", "", "Redis address for the stream feed")
	redisAddrs := flag.String("redis-addrs", "", "comma separated Redis addresses for the stream feed")
	redisUsername := flag.String("redis-username", "", "Redis username for the stream feed")
	redisPassword := flag.String("redis-password", "", "Redis password for the stream feed")
	redisStreamPrefix := flag.String("redis-stream-prefix", "", "Redis stream key prefix for room events")
	archiveDSN := flag.String("archive-postgres-dsn", "", "Postgres DSN for transcript archiving (empty disables)")
	metricsAddr := flag.String("metrics-addr", "", "listen address for the metrics endpoint (empty disables)")
	statusInterval := flag.Duration("status-interval", 0, "interval between room status log lines")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  resolveString(*logLevel, "STREAMROOM_LOG_LEVEL"),
		Format: resolveString(*logFormat, "STREAMROOM_LOG_FORMAT"),
	})

	cfg := viewerConfig{
		RoomID:            resolveString(*roomID, "STREAMROOM_ROOM_ID"),
		HostID:            resolveString(*hostID, "STREAMROOM_HOST_ID"),
		HostName:          resolveString(*hostName, "STREAMROOM_HOST_NAME"),
		BackendURL:        resolveString(*baseURL, "STREAMROOM_BACKEND_URL"),
		Token:             resolveString(*token, "STREAMROOM_TOKEN"),
		TargetLanguage:    resolveString(*targetLang, "STREAMROOM_TRANSLATE_TO"),
		WebsocketURL:      resolveString(*wsURL, "STREAMROOM_WS_URL"),
		RedisAddr:         resolveString(*redisAddr, "STREAMROOM_REDIS_ADDR"),
		RedisAddrs:        splitAndTrim(resolveString(*redisAddrs, "STREAMROOM_REDIS_ADDRS")),
		RedisUsername:     resolveString(*redisUsername, "STREAMROOM_REDIS_USERNAME"),
		RedisPassword:     resolveString(*redisPassword, "STREAMROOM_REDIS_PASSWORD"),
		RedisStreamPrefix: resolveString(*redisStreamPrefix, "STREAMROOM_REDIS_STREAM_PREFIX"),
		ArchiveDSN:        resolveString(*archiveDSN, "STREAMROOM_ARCHIVE_POSTGRES_DSN"),
		MetricsAddr:       resolveString(*metricsAddr, "STREAMROOM_METRICS_ADDR"),
		StatusInterval:    resolveDuration(*statusInterval, "STREAMROOM_STATUS_INTERVAL", 30*time.Second),
	}
	cfg.FeedDriver = resolveFeedDriver(*feedDriver, os.Getenv("STREAMROOM_FEED_DRIVER"), cfg)

	if err := run(cfg, logger); err != nil {
		logger.Error("viewer exited", "error", err)
		os.Exit(1)
	}
}

func run(cfg viewerConfig, logger *slog.Logger) error {
	if cfg.RoomID == "" {
		return fmt.Errorf("room id is required (--room-id or STREAMROOM_ROOM_ID)")
	}
	if cfg.BackendURL == "" {
		return fmt.Errorf("backend url is required (--backend-url or STREAMROOM_BACKEND_URL)")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	client, err := backend.NewClient(backend.ClientConfig{
		BaseURL: cfg.BackendURL,
		Token:   cfg.Token,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
	self, err := client.FetchCurrentUser(fetchCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch current user: %w", err)
	}

	feed, closeFeed, err := buildFeed(cfg, logger)
	if err != nil {
		return err
	}
	defer closeFeed()

	r, err := room.Open(room.Config{
		Info: models.RoomInfo{
			ID:       cfg.RoomID,
			HostID:   cfg.HostID,
			HostName: cfg.HostName,
		},
		Self:           self,
		Feed:           feed,
		Backend:        client,
		TargetLanguage: cfg.TargetLanguage,
		Logger:         logger,
	})
	if err != nil {
		return err
	}
	defer r.Close()

	group, groupCtx := errgroup.WithContext(ctx)

	if cfg.ArchiveDSN != "" {
		store, err := archive.NewStore(groupCtx, archive.Config{
			DSN:             cfg.ArchiveDSN,
			ApplicationName: "streamroom-viewer",
		})
		if err != nil {
			return err
		}
		defer func() {
			closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := store.Close(closeCtx); err != nil {
				logger.Warn("archive close failed", "error", err)
			}
		}()
		if err := store.Init(groupCtx); err != nil {
			return err
		}
		recorder, err := archive.NewRecorder(cfg.RoomID, feed, store, logger)
		if err != nil {
			return err
		}
		group.Go(func() error {
			if err := recorder.Run(groupCtx); !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		})
		logger.Info("transcript archiving enabled")
	}

	if cfg.MetricsAddr != "" {
		server := &http.Server{Addr: cfg.MetricsAddr, Handler: metrics.Handler()}
		group.Go(func() error {
			logger.Info("metrics listening", "addr", cfg.MetricsAddr)
			if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		group.Go(func() error {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			return server.Shutdown(shutdownCtx)
		})
	}

	group.Go(func() error {
		ticker := time.NewTicker(cfg.StatusInterval)
		defer ticker.Stop()
		for {
			select {
			case <-groupCtx.Done():
				return nil
			case <-ticker.C:
				view, err := r.View()
				if err != nil {
					return nil
				}
				logger.Info("room status",
					"viewers", view.ViewerCount,
					"log_events", len(view.Events),
					"balance", view.Self.Balance.String())
			}
		}
	})

	logger.Info("joined room", "room_id", cfg.RoomID, "feed", cfg.FeedDriver)
	<-groupCtx.Done()
	stop()
	return group.Wait()
}

func buildFeed(cfg viewerConfig, logger *slog.Logger) (realtime.Feed, func(), error) {
	switch cfg.FeedDriver {
	case "websocket":
		feed, err := realtime.NewWebsocketFeed(realtime.WebsocketFeedConfig{
			URL:    cfg.WebsocketURL,
			Logger: logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return feed, func() {}, nil
	case "redis":
		feed, err := realtime.NewRedisFeed(realtime.RedisFeedConfig{
			Addr:         cfg.RedisAddr,
			Addrs:        cfg.RedisAddrs,
			Username:     cfg.RedisUsername,
			Password:     cfg.RedisPassword,
			StreamPrefix: cfg.RedisStreamPrefix,
			Logger:       logger,
		})
		if err != nil {
			return nil, nil, err
		}
		return feed, func() {
			if err := feed.Close(); err != nil {
				logger.Warn("redis feed close failed", "error", err)
			}
		}, nil
	case "memory":
		return realtime.NewMemoryFeed(0), func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unknown feed driver %q (expected websocket, redis, or memory)", cfg.FeedDriver)
	}
}

// resolveFeedDriver picks an explicit driver when given, otherwise infers one
// from whichever transport is configured.
func resolveFeedDriver(flagValue, envValue string, cfg viewerConfig) string {
	if driver := strings.ToLower(strings.TrimSpace(flagValue)); driver != "" {
		return driver
	}
	if driver := strings.ToLower(strings.TrimSpace(envValue)); driver != "" {
		return driver
	}
	if cfg.WebsocketURL != "" {
		return "websocket"
	}
	if cfg.RedisAddr != "" || len(cfg.RedisAddrs) > 0 {
		return "redis"
	}
	return "memory"
}

func resolveString(flagValue, envName string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(os.Getenv(envName))
}

func resolveDuration(flagValue time.Duration, envName string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if raw := strings.TrimSpace(os.Getenv(envName)); raw != "" {
		if parsed, err := time.ParseDuration(raw); err == nil && parsed > 0 {
			return parsed
		}
	}
	return fallback
}

func splitAndTrim(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
