package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrUnknownEvent marks a payload whose type falls outside the supported set.
var ErrUnknownEvent = errors.New("unknown realtime event type")

// ErrMalformedEvent marks a payload missing fields required by its type.
var ErrMalformedEvent = errors.New("malformed realtime event")

// DecodeEvent parses and validates a raw channel payload into a typed Event.
// It is the single ingestion boundary: callers drop the payload on error and
// keep processing the stream.
func DecodeEvent(payload []byte) (Event, error) {
	if !gjson.ValidBytes(payload) {
		return Event{}, fmt.Errorf("%w: invalid json", ErrMalformedEvent)
	}
	kind := gjson.GetBytes(payload, "type").String()
	if strings.TrimSpace(kind) == "" {
		return Event{}, fmt.Errorf("%w: missing type", ErrMalformedEvent)
	}
	switch EventType(kind) {
	case EventTypeChatMessage, EventTypeGiftSent, EventTypeFollowChanged,
		EventTypePresenceSnapshot, EventTypeSettingToggled:
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEvent, kind)
	}

	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return Event{}, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if strings.TrimSpace(event.RoomID) == "" {
		return Event{}, fmt.Errorf("%w: missing roomId", ErrMalformedEvent)
	}
	if err := event.validate(); err != nil {
		return Event{}, err
	}
	return event, nil
}

func encodeEvent(event Event) ([]byte, error) {
	return json.Marshal(event)
}

func (e Event) validate() error {
	switch e.Type {
	case EventTypeChatMessage:
		if e.Chat == nil || e.Chat.AuthorID == "" || e.Chat.Content == "" {
			return fmt.Errorf("%w: chat payload incomplete", ErrMalformedEvent)
		}
	case EventTypeGiftSent:
		if e.Gift == nil || e.Gift.FromUserID == "" || e.Gift.Gift.ID == "" {
			return fmt.Errorf("%w: gift payload incomplete", ErrMalformedEvent)
		}
		if e.Gift.Quantity <= 0 {
			return fmt.Errorf("%w: gift quantity must be positive", ErrMalformedEvent)
		}
	case EventTypeFollowChanged:
		if e.Follow == nil || e.Follow.FollowerName == "" {
			return fmt.Errorf("%w: follow payload incomplete", ErrMalformedEvent)
		}
	case EventTypePresenceSnapshot:
		if e.Presence == nil {
			return fmt.Errorf("%w: presence payload missing", ErrMalformedEvent)
		}
	case EventTypeSettingToggled:
		if e.Setting == nil || e.Setting.Flag == "" {
			return fmt.Errorf("%w: setting payload incomplete", ErrMalformedEvent)
		}
	}
	return nil
}
