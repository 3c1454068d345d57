// Command roomtui is a terminal client for a live room: chat pane, gift
// lanes, presence rail, and an input line for chat and gift sends.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/joho/godotenv"

	"streamroom/internal/backend"
	"streamroom/internal/models"
	"streamroom/internal/observability/logging"
	"streamroom/internal/realtime"
	"streamroom/internal/room"
)

func main() {
	_ = godotenv.Load()

	roomID := flag.String("room-id", "", "room to join")
	hostID := flag.String("host-id", "", "host account id for the room")
	hostName := flag.String("host-name", "", "host display name")
	baseURL := flag.String("backend-url", "", "backend API base URL")
	token := flag.String("token", "", "bearer token for the backend API")
	targetLang := flag.String("translate-to", "", "BCP-47 target language for inbound chat")
	wsURL := flag.String("ws-url", "", "realtime edge WebSocket URL")
	logFile := flag.String("log-file", "", "write logs to this file instead of discarding them")
	flag.Parse()

	if err := run(appConfig{
		RoomID:         resolveString(*roomID, "STREAMROOM_ROOM_ID"),
		HostID:         resolveString(*hostID, "STREAMROOM_HOST_ID"),
		HostName:       resolveString(*hostName, "STREAMROOM_HOST_NAME"),
		BackendURL:     resolveString(*baseURL, "STREAMROOM_BACKEND_URL"),
		Token:          resolveString(*token, "STREAMROOM_TOKEN"),
		TargetLanguage: resolveString(*targetLang, "STREAMROOM_TRANSLATE_TO"),
		WebsocketURL:   resolveString(*wsURL, "STREAMROOM_WS_URL"),
		LogFile:        resolveString(*logFile, "STREAMROOM_LOG_FILE"),
	}); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

type appConfig struct {
	RoomID         string
	HostID         string
	HostName       string
	BackendURL     string
	Token          string
	TargetLanguage string
	WebsocketURL   string
	LogFile        string
}

func run(cfg appConfig) error {
	if cfg.RoomID == "" || cfg.BackendURL == "" {
		return fmt.Errorf("room id and backend url are required")
	}

	// The terminal owns stdout, so logs go to a file or nowhere.
	var logWriter io.Writer = io.Discard
	if cfg.LogFile != "" {
		f, err := os.OpenFile(cfg.LogFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		defer f.Close()
		logWriter = f
	}
	logger := logging.New(logging.Config{Level: "info", Writer: logWriter, Format: "text"})

	client, err := backend.NewClient(backend.ClientConfig{
		BaseURL: cfg.BackendURL,
		Token:   cfg.Token,
		Logger:  logger,
	})
	if err != nil {
		return err
	}
	fetchCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	self, err := client.FetchCurrentUser(fetchCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("fetch current user: %w", err)
	}

	var feed realtime.Feed
	if cfg.WebsocketURL != "" {
		wsFeed, err := realtime.NewWebsocketFeed(realtime.WebsocketFeedConfig{
			URL:    cfg.WebsocketURL,
			Logger: logger,
		})
		if err != nil {
			return err
		}
		feed = wsFeed
	} else {
		feed = realtime.NewMemoryFeed(0)
	}

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

	program := tea.NewProgram(newApp(r), tea.WithAltScreen())
	_, err = program.Run()
	return err
}

func resolveString(flagValue, envName string) string {
	if trimmed := strings.TrimSpace(flagValue); trimmed != "" {
		return trimmed
	}
	return strings.TrimSpace(os.Getenv(envName))
}
