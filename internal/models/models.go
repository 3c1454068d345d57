package models

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Diamonds represents an amount of the platform's virtual currency. Gifts are
// always priced in whole diamonds, so the type is a plain integer count with
// no fractional component.
type Diamonds int64

// ParseDiamonds parses a decimal string into a diamond amount. Fractional
// values are rejected.
func ParseDiamonds(value string) (Diamonds, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("invalid diamond amount")
	}
	units, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid diamond amount %q", value)
	}
	return Diamonds(units), nil
}

// Mul returns the total for a quantity of items priced at this amount.
func (d Diamonds) Mul(quantity int) Diamonds {
	return d * Diamonds(quantity)
}

// String implements fmt.Stringer.
func (d Diamonds) String() string {
	return strconv.FormatInt(int64(d), 10)
}

// User is the authoritative profile record for an account as returned by the
// backend. Balance and session counters are replaced wholesale on every
// server acknowledgement, never merged field by field.
type User struct {
	ID            string    `json:"id"`
	DisplayName   string    `json:"displayName"`
	AvatarURL     string    `json:"avatarUrl,omitempty"`
	Balance       Diamonds  `json:"balance"`
	SessionSpend  Diamonds  `json:"sessionSpend"`
	FanClubHostID string    `json:"fanClubHostId,omitempty"`
	FanLevel      int       `json:"fanLevel,omitempty"`
	Following     []string  `json:"following,omitempty"`
	CreatedAt     time.Time `json:"createdAt"`
}

// IsFanOf reports whether the user's fan-club affiliation targets the given
// host.
func (u User) IsFanOf(hostID string) bool {
	return hostID != "" && u.FanClubHostID == hostID
}

// Follows reports whether the user already follows the given account.
func (u User) Follows(id string) bool {
	for _, existing := range u.Following {
		if existing == id {
			return true
		}
	}
	return false
}

// RoomInfo identifies a live room and the host broadcasting in it.
type RoomInfo struct {
	ID         string `json:"id"`
	HostID     string `json:"hostId"`
	HostName   string `json:"hostName"`
	Title      string `json:"title,omitempty"`
	CoverURL   string `json:"coverUrl,omitempty"`
	GiftsMuted bool   `json:"giftsMuted,omitempty"`
}

// AnimationKind identifies the intrinsic presentation of a gift. Display
// durations are resolved from a catalog keyed by this value; unknown kinds
// fall back to a default.
type AnimationKind string

const (
	AnimationKindNone     AnimationKind = ""
	AnimationKindSparkle  AnimationKind = "sparkle"
	AnimationKindBurst    AnimationKind = "burst"
	AnimationKindParade   AnimationKind = "parade"
	AnimationKindFirework AnimationKind = "firework"
)

// GiftDescriptor describes a purchasable gift: identity, unit price, and how
// it presents on screen. A gift carries either a kind-based animation, a
// video asset whose natural end drives the presentation, or neither (in which
// case the scheduler substitutes a generic fallback).
type GiftDescriptor struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Price         Diamonds      `json:"price"`
	AnimationKind AnimationKind `json:"animationKind,omitempty"`
	VideoURL      string        `json:"videoUrl,omitempty"`
	AutoFollow    bool          `json:"autoFollow,omitempty"`
	IconURL       string        `json:"iconUrl,omitempty"`
}

// HasVideo reports whether the gift's presentation is driven by a video asset
// rather than a kind-based animation timer.
func (g GiftDescriptor) HasVideo() bool {
	return strings.TrimSpace(g.VideoURL) != ""
}

// Presentable reports whether the descriptor carries enough information for
// any presentation at all.
func (g GiftDescriptor) Presentable() bool {
	return g.AnimationKind != AnimationKindNone || g.HasVideo()
}

// PresenceEntry is one user currently present in a room together with their
// contribution value for the ranking display.
type PresenceEntry struct {
	User          User     `json:"user"`
	Contribution  Diamonds `json:"contribution"`
	FanClubHostID string   `json:"fanClubHostId,omitempty"`
	FanLevel      int      `json:"fanLevel,omitempty"`
}

// SendStatus tracks a locally originated send through its lifecycle.
type SendStatus string

const (
	SendStatusSending   SendStatus = "sending"
	SendStatusSent      SendStatus = "sent"
	SendStatusDelivered SendStatus = "delivered"
	SendStatusRead      SendStatus = "read"
	SendStatusFailed    SendStatus = "failed"
)
