package chatlog_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"streamroom/internal/chatlog"
	"streamroom/internal/models"
	"streamroom/internal/observability/metrics"
	"streamroom/internal/realtime"
)

var self = models.User{ID: "self", DisplayName: "me"}

func TestAppendLocalChatIsSynchronous(t *testing.T) {
	log := chatlog.NewLog(self)
	event := log.AppendLocalChat("hello")
	if log.Len() != 1 {
		t.Fatalf("expected immediate append, got %d events", log.Len())
	}
	line := event.Chat
	if line == nil || !line.Self || line.Status != models.SendStatusSending {
		t.Fatalf("unexpected optimistic line %+v", line)
	}
	if line.CorrelationID == "" {
		t.Fatal("expected a correlation id")
	}
}

func TestSelfEchoByCorrelationIDNeverDuplicates(t *testing.T) {
	log := chatlog.NewLog(self)
	event := log.AppendLocalChat("hello")

	echo := realtime.ChatMessageEvent{
		MessageID:     "m-1",
		AuthorID:      "self",
		AuthorName:    "me",
		Content:       "hello",
		CorrelationID: event.Chat.CorrelationID,
	}
	if !log.ConsumeSelfEcho(echo) {
		t.Fatal("echo should be consumed")
	}
	if log.Len() != 1 {
		t.Fatalf("expected exactly one entry, got %d", log.Len())
	}
	if got := log.Events()[0].Chat.Status; got != models.SendStatusSent {
		t.Fatalf("expected sent, got %q", got)
	}

	// A duplicate delivery of the same echo must still not append.
	log.ConsumeSelfEcho(echo)
	if log.Len() != 1 {
		t.Fatalf("duplicate echo appended: %d entries", log.Len())
	}
}

func TestSelfEchoContentFallback(t *testing.T) {
	log := chatlog.NewLog(self)
	log.AppendLocalChat("hello")

	echo := realtime.ChatMessageEvent{MessageID: "m-1", AuthorID: "self", Content: "hello"}
	if !log.ConsumeSelfEcho(echo) {
		t.Fatal("echo should be consumed via content fallback")
	}
	if log.Len() != 1 {
		t.Fatalf("expected one entry, got %d", log.Len())
	}
}

func TestOtherAuthorEchoIsNotConsumed(t *testing.T) {
	log := chatlog.NewLog(self)
	msg := realtime.ChatMessageEvent{MessageID: "m-2", AuthorID: "u-1", AuthorName: "ada", Content: "hi"}
	if log.ConsumeSelfEcho(msg) {
		t.Fatal("foreign message must not be treated as an echo")
	}
}

func TestFailedSendStaysVisible(t *testing.T) {
	log := chatlog.NewLog(self)
	event := log.AppendLocalChat("hello")
	if !log.FailLocal(event.Chat.CorrelationID) {
		t.Fatal("expected the pending entry to be found")
	}
	events := log.Events()
	if len(events) != 1 || events[0].Chat.Status != models.SendStatusFailed {
		t.Fatalf("failed entry must remain visible, got %+v", events)
	}
}

func TestMarkVisibleReportsEachRemoteIDOnce(t *testing.T) {
	log := chatlog.NewLog(self)
	first := log.AppendRemoteChat(realtime.ChatMessageEvent{MessageID: "m-1", AuthorID: "u-1", Content: "a"}, "")
	second := log.AppendRemoteChat(realtime.ChatMessageEvent{MessageID: "m-2", AuthorID: "u-1", Content: "b"}, "")
	mine := log.AppendLocalChat("c")

	log.MarkVisible(first.ID, mine.ID)
	if batch := log.TakeUnreported(); len(batch) != 1 || batch[0] != "m-1" {
		t.Fatalf("unexpected batch %v", batch)
	}
	// Re-observing the same line must not re-arm it.
	log.MarkVisible(first.ID, second.ID)
	if batch := log.TakeUnreported(); len(batch) != 1 || batch[0] != "m-2" {
		t.Fatalf("expected only m-2, got %v", batch)
	}
	if batch := log.TakeUnreported(); batch != nil {
		t.Fatalf("expected drained queue, got %v", batch)
	}
}

type stubTranslator struct {
	mu      sync.Mutex
	results map[string]string
	err     error
	calls   int
}

func (s *stubTranslator) Translate(_ context.Context, text, _ string) (string, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.err != nil {
		return "", s.err
	}
	return s.results[text], nil
}

// syncPost runs posted functions inline, mimicking an idle room loop.
func syncPost(f func()) { f() }

func waitUntil(t *testing.T, timeout time.Duration, ready func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if ready() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not reached in time")
}

func TestReconcilerTranslatesInboundMessages(t *testing.T) {
	log := chatlog.NewLog(self)
	translator := &stubTranslator{results: map[string]string{"olá": "hello"}}
	var mu sync.Mutex
	reconciler, err := chatlog.NewReconciler(chatlog.ReconcilerConfig{
		Log:            log,
		Translator:     translator,
		TargetLanguage: "en",
		Post: func(f func()) {
			mu.Lock()
			defer mu.Unlock()
			f()
		},
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	reconciler.ApplyRemote(context.Background(), realtime.ChatMessageEvent{
		MessageID: "m-1", AuthorID: "u-1", AuthorName: "ada", Content: "olá",
	})
	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return log.Len() == 1
	})
	mu.Lock()
	line := log.Events()[0].Chat
	mu.Unlock()
	if line.Text != "olá" || line.Translated != "hello" {
		t.Fatalf("unexpected line %+v", line)
	}
}

func TestReconcilerTranslationFailureFallsBackToOriginal(t *testing.T) {
	log := chatlog.NewLog(self)
	translator := &stubTranslator{err: errors.New("translator down")}
	var mu sync.Mutex
	reconciler, err := chatlog.NewReconciler(chatlog.ReconcilerConfig{
		Log:            log,
		Translator:     translator,
		TargetLanguage: "en",
		Post: func(f func()) {
			mu.Lock()
			defer mu.Unlock()
			f()
		},
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	reconciler.ApplyRemote(context.Background(), realtime.ChatMessageEvent{
		MessageID: "m-1", AuthorID: "u-1", AuthorName: "ada", Content: "olá",
	})
	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return log.Len() == 1
	})
	mu.Lock()
	line := log.Events()[0].Chat
	mu.Unlock()
	if line.Text != "olá" || line.Translated != "" {
		t.Fatalf("expected original text only, got %+v", line)
	}
}

func TestReconcilerRejectsInvalidTargetLanguage(t *testing.T) {
	log := chatlog.NewLog(self)
	_, err := chatlog.NewReconciler(chatlog.ReconcilerConfig{
		Log:            log,
		Translator:     &stubTranslator{},
		TargetLanguage: "not a tag",
		Post:           syncPost,
	})
	if err == nil {
		t.Fatal("expected error for invalid language tag")
	}
}

func TestReconcilerWithoutTranslatorAppendsImmediately(t *testing.T) {
	log := chatlog.NewLog(self)
	reconciler, err := chatlog.NewReconciler(chatlog.ReconcilerConfig{Log: log, Post: syncPost})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}
	reconciler.ApplyRemote(context.Background(), realtime.ChatMessageEvent{
		MessageID: "m-1", AuthorID: "u-1", Content: "hi",
	})
	if log.Len() != 1 {
		t.Fatalf("expected synchronous append, got %d", log.Len())
	}
}

func TestEventsSnapshotDoesNotShareLivePayloads(t *testing.T) {
	log := chatlog.NewLog(self)
	event := log.AppendLocalChat("hello")

	snapshot := log.Events()
	if !log.ResolveLocal(event.Chat.CorrelationID, models.SendStatusSent) {
		t.Fatal("resolve should find the pending entry")
	}
	log.MarkVisible(event.ID)

	line := snapshot[0].Chat
	if line.Status != models.SendStatusSending || line.Read {
		t.Fatalf("snapshot mutated after handoff: %+v", line)
	}
	if log.Events()[0].Chat.Status != models.SendStatusSent {
		t.Fatal("live log should reflect the resolution")
	}
}

func TestReconcilerCountsOutcomesOnInjectedRecorder(t *testing.T) {
	log := chatlog.NewLog(self)
	recorder := metrics.New()
	var mu sync.Mutex
	reconciler, err := chatlog.NewReconciler(chatlog.ReconcilerConfig{
		Log:            log,
		Translator:     &stubTranslator{err: errors.New("translator down")},
		TargetLanguage: "en",
		Post: func(f func()) {
			mu.Lock()
			defer mu.Unlock()
			f()
		},
		Metrics: recorder,
	})
	if err != nil {
		t.Fatalf("new reconciler: %v", err)
	}

	reconciler.ApplyRemote(context.Background(), realtime.ChatMessageEvent{
		MessageID: "m-1", AuthorID: "u-1", AuthorName: "ada", Content: "olá",
	})
	waitUntil(t, time.Second, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return log.Len() == 1
	})

	var sb strings.Builder
	recorder.Write(&sb)
	if !strings.Contains(sb.String(), `streamroom_translations_total{outcome="failed"} 1`) {
		t.Fatalf("injected recorder missed the translation outcome:\n%s", sb.String())
	}
}
