package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"streamroom/internal/models"
	"streamroom/internal/realtime"
)

// correlationHeader carries the client-generated id that lets the server
// dedupe retried sends.
const correlationHeader = "X-Correlation-Id"

// ClientConfig configures the HTTP backend client.
type ClientConfig struct {
	BaseURL    string
	Token      string
	HTTPClient *http.Client
	Logger     *slog.Logger
	Timeout    time.Duration
}

// NewClient validates the configuration and builds an HTTP-backed Service.
func NewClient(cfg ClientConfig) (*Client, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, fmt.Errorf("backend base url is required")
	}
	if _, err := url.Parse(base); err != nil {
		return nil, fmt.Errorf("invalid backend base url: %w", err)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL: base,
		token:   strings.TrimSpace(cfg.Token),
		http:    httpClient,
		logger:  logger,
	}, nil
}

// Client implements Service over the platform's JSON HTTP API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	logger  *slog.Logger
}

var _ Service = (*Client)(nil)

type sendChatRequest struct {
	Content string `json:"content"`
}

type sendChatResponse struct {
	MessageID string `json:"messageId"`
}

func (c *Client) SendChatMessage(ctx context.Context, roomID, correlationID, text string) (string, error) {
	var resp sendChatResponse
	path := fmt.Sprintf("/rooms/%s/messages", url.PathEscape(roomID))
	if err := c.do(ctx, http.MethodPost, path, correlationID, sendChatRequest{Content: text}, &resp); err != nil {
		return "", err
	}
	return resp.MessageID, nil
}

type sendGiftRequest struct {
	GiftID   string `json:"giftId"`
	Quantity int    `json:"quantity"`
}

func (c *Client) SendGift(ctx context.Context, roomID, correlationID, giftID string, quantity int) (models.User, error) {
	var user models.User
	path := fmt.Sprintf("/rooms/%s/gifts", url.PathEscape(roomID))
	err := c.do(ctx, http.MethodPost, path, correlationID, sendGiftRequest{GiftID: giftID, Quantity: quantity}, &user)
	return user, err
}

type translateRequest struct {
	Text   string `json:"text"`
	Target string `json:"target"`
}

type translateResponse struct {
	Translated string `json:"translated"`
}

func (c *Client) Translate(ctx context.Context, text, targetLanguage string) (string, error) {
	var resp translateResponse
	if err := c.do(ctx, http.MethodPost, "/translate", "", translateRequest{Text: text, Target: targetLanguage}, &resp); err != nil {
		return "", err
	}
	return resp.Translated, nil
}

type onlineUsersResponse struct {
	Entries []realtime.PresenceWireEntry `json:"entries"`
}

func (c *Client) FetchOnlineUsers(ctx context.Context, roomID string) ([]realtime.PresenceWireEntry, error) {
	var resp onlineUsersResponse
	path := fmt.Sprintf("/rooms/%s/online", url.PathEscape(roomID))
	if err := c.do(ctx, http.MethodGet, path, "", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Entries, nil
}

func (c *Client) FetchCurrentUser(ctx context.Context) (models.User, error) {
	var user models.User
	err := c.do(ctx, http.MethodGet, "/users/me", "", nil, &user)
	return user, err
}

type markReadRequest struct {
	MessageIDs []string `json:"messageIds"`
}

func (c *Client) MarkMessagesRead(ctx context.Context, roomID string, messageIDs []string) error {
	if len(messageIDs) == 0 {
		return nil
	}
	path := fmt.Sprintf("/rooms/%s/read", url.PathEscape(roomID))
	return c.do(ctx, http.MethodPost, path, "", markReadRequest{MessageIDs: messageIDs}, nil)
}

func (c *Client) KickUser(ctx context.Context, roomID, userID string) error {
	path := fmt.Sprintf("/rooms/%s/kick/%s", url.PathEscape(roomID), url.PathEscape(userID))
	return c.do(ctx, http.MethodPost, path, "", nil, nil)
}

func (c *Client) PromoteUser(ctx context.Context, roomID, userID string) error {
	path := fmt.Sprintf("/rooms/%s/promote/%s", url.PathEscape(roomID), url.PathEscape(userID))
	return c.do(ctx, http.MethodPost, path, "", nil, nil)
}

type roomFlagRequest struct {
	Flag    string `json:"flag"`
	Enabled bool   `json:"enabled"`
}

func (c *Client) SetRoomFlag(ctx context.Context, roomID, flag string, enabled bool) error {
	path := fmt.Sprintf("/rooms/%s/settings", url.PathEscape(roomID))
	return c.do(ctx, http.MethodPut, path, "", roomFlagRequest{Flag: flag, Enabled: enabled}, nil)
}

func (c *Client) FollowHost(ctx context.Context, hostID string) error {
	path := fmt.Sprintf("/users/%s/follow", url.PathEscape(hostID))
	return c.do(ctx, http.MethodPost, path, "", nil, nil)
}

type apiError struct {
	Error string `json:"error"`
}

func (c *Client) do(ctx context.Context, method, path, correlationID string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if correlationID != "" {
		req.Header.Set(correlationHeader, correlationID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %s %s: %v", ErrUnavailable, method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var failure apiError
		if decodeErr := json.NewDecoder(resp.Body).Decode(&failure); decodeErr == nil && failure.Error != "" {
			return fmt.Errorf("%s %s: %s (status %d)", method, path, failure.Error, resp.StatusCode)
		}
		return fmt.Errorf("%s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
