// Package metrics aggregates in-memory counters for the room core and
// renders them in Prometheus text exposition format.
package metrics

import (
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"streamroom/internal/models"
)

type sendLabel struct {
	kind    string
	outcome string
}

// Recorder aggregates counters for realtime ingestion, gift animations, send
// outcomes, and translation results, plus a gauge of currently open rooms.
type Recorder struct {
	mu              sync.RWMutex
	realtimeEvents  map[string]uint64
	droppedEvents   map[string]uint64
	animations      map[string]uint64
	sendOutcomes    map[sendLabel]uint64
	translations    map[string]uint64
	giftSpendTotals models.Diamonds
	openRooms       atomic.Int64
}

var defaultRecorder = New()

// New constructs an empty Recorder with initialized backing maps.
func New() *Recorder {
	return &Recorder{
		realtimeEvents: make(map[string]uint64),
		droppedEvents:  make(map[string]uint64),
		animations:     make(map[string]uint64),
		sendOutcomes:   make(map[sendLabel]uint64),
		translations:   make(map[string]uint64),
	}
}

// Default returns the singleton Recorder shared by the package helpers.
func Default() *Recorder {
	return defaultRecorder
}

// ObserveRealtimeEvent counts an ingested realtime event by type.
func (r *Recorder) ObserveRealtimeEvent(eventType string) {
	key := normalizeName(eventType)
	r.mu.Lock()
	r.realtimeEvents[key]++
	r.mu.Unlock()
}

// ObserveDroppedEvent counts a payload rejected at the ingestion boundary by
// reason.
func (r *Recorder) ObserveDroppedEvent(reason string) {
	key := normalizeName(reason)
	r.mu.Lock()
	r.droppedEvents[key]++
	r.mu.Unlock()
}

// ObserveAnimation counts a gift animation presented on the given lane.
func (r *Recorder) ObserveAnimation(lane string) {
	key := normalizeName(lane)
	r.mu.Lock()
	r.animations[key]++
	r.mu.Unlock()
}

// ObserveSend counts the outcome of an outbound send by kind
// (chat/gift) and outcome (ok/failed/insufficient_funds).
func (r *Recorder) ObserveSend(kind, outcome string) {
	label := sendLabel{kind: normalizeName(kind), outcome: normalizeName(outcome)}
	r.mu.Lock()
	r.sendOutcomes[label]++
	r.mu.Unlock()
}

// ObserveGiftSpend accumulates confirmed gift spend in diamonds.
func (r *Recorder) ObserveGiftSpend(amount models.Diamonds) {
	r.mu.Lock()
	r.giftSpendTotals += amount
	r.mu.Unlock()
}

// ObserveTranslation counts a translation attempt by outcome (ok/failed).
func (r *Recorder) ObserveTranslation(outcome string) {
	key := normalizeName(outcome)
	r.mu.Lock()
	r.translations[key]++
	r.mu.Unlock()
}

// RoomOpened increments the open room gauge.
func (r *Recorder) RoomOpened() {
	r.openRooms.Add(1)
}

// RoomClosed decrements the open room gauge, guarding against negatives.
func (r *Recorder) RoomClosed() {
	for {
		current := r.openRooms.Load()
		if current <= 0 {
			return
		}
		if r.openRooms.CompareAndSwap(current, current-1) {
			return
		}
	}
}

// OpenRooms exposes the current gauge of open rooms.
func (r *Recorder) OpenRooms() int64 {
	return r.openRooms.Load()
}

// SendCounts returns a copy of the send outcome counters keyed by
// "kind:outcome"; intended for tests.
func (r *Recorder) SendCounts() map[string]uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]uint64, len(r.sendOutcomes))
	for label, count := range r.sendOutcomes {
		out[label.kind+":"+label.outcome] = count
	}
	return out
}

// Reset clears all counters and gauges. Intended for test setups.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.realtimeEvents = make(map[string]uint64)
	r.droppedEvents = make(map[string]uint64)
	r.animations = make(map[string]uint64)
	r.sendOutcomes = make(map[sendLabel]uint64)
	r.translations = make(map[string]uint64)
	r.giftSpendTotals = 0
	r.openRooms.Store(0)
}

// Handler exposes the Recorder as an http.Handler writing the Prometheus
// text format.
func (r *Recorder) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; version=0.0.4")
		r.Write(w)
	})
}

// Write renders the metrics, sorting label sets for stable output.
func (r *Recorder) Write(w io.Writer) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fmt.Fprintln(w, "# HELP streamroom_realtime_events_total Realtime events ingested by type")
	fmt.Fprintln(w, "# TYPE streamroom_realtime_events_total counter")
	for _, key := range sortedKeys(r.realtimeEvents) {
		fmt.Fprintf(w, "streamroom_realtime_events_total{type=%q} %d\n", key, r.realtimeEvents[key])
	}

	fmt.Fprintln(w, "# HELP streamroom_dropped_events_total Payloads rejected at the ingestion boundary")
	fmt.Fprintln(w, "# TYPE streamroom_dropped_events_total counter")
	for _, key := range sortedKeys(r.droppedEvents) {
		fmt.Fprintf(w, "streamroom_dropped_events_total{reason=%q} %d\n", key, r.droppedEvents[key])
	}

	fmt.Fprintln(w, "# HELP streamroom_animations_total Gift animations presented by lane")
	fmt.Fprintln(w, "# TYPE streamroom_animations_total counter")
	for _, key := range sortedKeys(r.animations) {
		fmt.Fprintf(w, "streamroom_animations_total{lane=%q} %d\n", key, r.animations[key])
	}

	fmt.Fprintln(w, "# HELP streamroom_sends_total Outbound sends by kind and outcome")
	fmt.Fprintln(w, "# TYPE streamroom_sends_total counter")
	for _, label := range r.sortedSendLabels() {
		fmt.Fprintf(w, "streamroom_sends_total{kind=%q,outcome=%q} %d\n", label.kind, label.outcome, r.sendOutcomes[label])
	}

	fmt.Fprintln(w, "# HELP streamroom_translations_total Translation attempts by outcome")
	fmt.Fprintln(w, "# TYPE streamroom_translations_total counter")
	for _, key := range sortedKeys(r.translations) {
		fmt.Fprintf(w, "streamroom_translations_total{outcome=%q} %d\n", key, r.translations[key])
	}

	fmt.Fprintln(w, "# HELP streamroom_gift_spend_diamonds_total Confirmed gift spend in diamonds")
	fmt.Fprintln(w, "# TYPE streamroom_gift_spend_diamonds_total counter")
	fmt.Fprintf(w, "streamroom_gift_spend_diamonds_total %s\n", r.giftSpendTotals)

	fmt.Fprintln(w, "# HELP streamroom_open_rooms Current number of open rooms")
	fmt.Fprintln(w, "# TYPE streamroom_open_rooms gauge")
	fmt.Fprintf(w, "streamroom_open_rooms %d\n", r.openRooms.Load())
}

func (r *Recorder) sortedSendLabels() []sendLabel {
	labels := make([]sendLabel, 0, len(r.sendOutcomes))
	for label := range r.sendOutcomes {
		labels = append(labels, label)
	}
	sort.Slice(labels, func(i, j int) bool {
		if labels[i].kind != labels[j].kind {
			return labels[i].kind < labels[j].kind
		}
		return labels[i].outcome < labels[j].outcome
	})
	return labels
}

func sortedKeys(m map[string]uint64) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func normalizeName(name string) string {
	normalized := strings.ToLower(strings.TrimSpace(name))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}

// ObserveRealtimeEvent counts an event on the default recorder.
func ObserveRealtimeEvent(eventType string) {
	defaultRecorder.ObserveRealtimeEvent(eventType)
}

// ObserveDroppedEvent counts a rejected payload on the default recorder.
func ObserveDroppedEvent(reason string) {
	defaultRecorder.ObserveDroppedEvent(reason)
}

// ObserveAnimation counts an animation on the default recorder.
func ObserveAnimation(lane string) {
	defaultRecorder.ObserveAnimation(lane)
}

// ObserveSend counts a send outcome on the default recorder.
func ObserveSend(kind, outcome string) {
	defaultRecorder.ObserveSend(kind, outcome)
}

// ObserveGiftSpend accumulates spend on the default recorder.
func ObserveGiftSpend(amount models.Diamonds) {
	defaultRecorder.ObserveGiftSpend(amount)
}

// ObserveTranslation counts a translation outcome on the default recorder.
func ObserveTranslation(outcome string) {
	defaultRecorder.ObserveTranslation(outcome)
}

// RoomOpened increments the gauge on the default recorder.
func RoomOpened() {
	defaultRecorder.RoomOpened()
}

// RoomClosed decrements the gauge on the default recorder.
func RoomClosed() {
	defaultRecorder.RoomClosed()
}

// Handler exposes the default recorder as an HTTP handler.
func Handler() http.Handler {
	return defaultRecorder.Handler()
}
