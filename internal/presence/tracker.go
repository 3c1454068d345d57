// Package presence converts full presence snapshots into synthetic join
// events and serves the live viewer, ranking, and mention views derived from
// the most recent snapshot.
package presence

import (
	"sort"
	"strings"

	"streamroom/internal/models"
	"streamroom/internal/realtime"
)

// topContributorLimit caps the ranked badge display.
const topContributorLimit = 3

// JoinEvent is a synthetic event for a user who appeared in the latest
// snapshot. FanJoin marks members of the host's fan club, which the chat log
// renders with distinct styling.
type JoinEvent struct {
	User     models.User
	FanJoin  bool
	FanLevel int
}

// Tracker holds the current presence snapshot for one room. It is owned by
// the room loop and must only be touched from there; every mutation replaces
// the snapshot wholesale, so no partial state is ever observable.
type Tracker struct {
	selfID  string
	hostID  string
	order   []string
	entries map[string]models.PresenceEntry
}

// NewTracker initialises a tracker for a room hosted by hostID, viewed by
// selfID. The self user never produces a join event.
func NewTracker(selfID, hostID string) *Tracker {
	return &Tracker{
		selfID:  selfID,
		hostID:  hostID,
		entries: make(map[string]models.PresenceEntry),
	}
}

// Apply replaces the previous snapshot with the incoming one and returns one
// join event per newly present user, in the snapshot's order. Entries missing
// a user id or contribution value are dropped individually; the rest of the
// snapshot still applies. Removed ids produce nothing: leaves are not
// modelled.
func (t *Tracker) Apply(wire []realtime.PresenceWireEntry) []JoinEvent {
	order := make([]string, 0, len(wire))
	entries := make(map[string]models.PresenceEntry, len(wire))
	var joins []JoinEvent
	for _, raw := range wire {
		if strings.TrimSpace(raw.UserID) == "" || raw.Value == nil {
			continue
		}
		if _, duplicate := entries[raw.UserID]; duplicate {
			continue
		}
		entry := models.PresenceEntry{
			User: models.User{
				ID:          raw.UserID,
				DisplayName: raw.DisplayName,
				AvatarURL:   raw.AvatarURL,
			},
			Contribution:  models.Diamonds(*raw.Value),
			FanClubHostID: raw.FanClubHostID,
			FanLevel:      raw.FanLevel,
		}
		order = append(order, raw.UserID)
		entries[raw.UserID] = entry

		if raw.UserID == t.selfID {
			continue
		}
		if _, present := t.entries[raw.UserID]; present {
			continue
		}
		joins = append(joins, JoinEvent{
			User:     entry.User,
			FanJoin:  t.hostID != "" && entry.FanClubHostID == t.hostID,
			FanLevel: entry.FanLevel,
		})
	}
	t.order = order
	t.entries = entries
	return joins
}

// ViewerCount returns the size of the current snapshot.
func (t *Tracker) ViewerCount() int {
	return len(t.order)
}

// Snapshot returns the current presence entries in snapshot order.
func (t *Tracker) Snapshot() []models.PresenceEntry {
	out := make([]models.PresenceEntry, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.entries[id])
	}
	return out
}

// TopContributors returns up to three entries with a positive contribution,
// sorted descending by value. Ties keep the snapshot's original order.
func (t *Tracker) TopContributors() []models.PresenceEntry {
	ranked := make([]models.PresenceEntry, 0, len(t.order))
	for _, id := range t.order {
		if entry := t.entries[id]; entry.Contribution > 0 {
			ranked = append(ranked, entry)
		}
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Contribution > ranked[j].Contribution
	})
	if len(ranked) > topContributorLimit {
		ranked = ranked[:topContributorLimit]
	}
	return ranked
}

// MatchMentions filters the current snapshot for display names matching the
// typed @-prefix, case-insensitively, excluding the viewer themselves. A
// non-positive limit returns every match.
func (t *Tracker) MatchMentions(prefix string, limit int) []models.User {
	needle := strings.ToLower(strings.TrimSpace(strings.TrimPrefix(prefix, "@")))
	var matches []models.User
	for _, id := range t.order {
		if id == t.selfID {
			continue
		}
		entry := t.entries[id]
		if needle != "" && !strings.HasPrefix(strings.ToLower(entry.User.DisplayName), needle) {
			continue
		}
		matches = append(matches, entry.User)
		if limit > 0 && len(matches) == limit {
			break
		}
	}
	return matches
}
