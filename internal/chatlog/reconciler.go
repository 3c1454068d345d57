package chatlog

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/text/language"

	"streamroom/internal/observability/metrics"
	"streamroom/internal/realtime"
)

// Translator is the external translation collaborator. It is invoked at most
// once per inbound message.
type Translator interface {
	Translate(ctx context.Context, text, targetLanguage string) (string, error)
}

// ReconcilerConfig configures a Reconciler.
type ReconcilerConfig struct {
	Log        *Log
	Translator Translator
	// TargetLanguage is the BCP-47 tag messages are translated into.
	// Invalid or empty tags disable translation.
	TargetLanguage string
	// Post schedules a function onto the owning room loop. Translation
	// settles asynchronously, so the resulting append goes back through
	// the loop to keep log mutations single-threaded.
	Post    func(func())
	Logger  *slog.Logger
	Metrics *metrics.Recorder
}

// Reconciler drives the inbound half of the message pipeline: self-echo
// reconciliation and the per-message translation step for other authors.
type Reconciler struct {
	log        *Log
	translator Translator
	target     language.Tag
	translate  bool
	post       func(func())
	logger     *slog.Logger
	rec        *metrics.Recorder
}

// NewReconciler validates the configuration and builds a reconciler.
func NewReconciler(cfg ReconcilerConfig) (*Reconciler, error) {
	if cfg.Log == nil {
		return nil, fmt.Errorf("chatlog: log is required")
	}
	if cfg.Post == nil {
		return nil, fmt.Errorf("chatlog: post function is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rec := cfg.Metrics
	if rec == nil {
		rec = metrics.Default()
	}
	r := &Reconciler{
		log:    cfg.Log,
		post:   cfg.Post,
		logger: logger,
		rec:    rec,
	}
	if cfg.Translator != nil && cfg.TargetLanguage != "" {
		tag, err := language.Parse(cfg.TargetLanguage)
		if err != nil {
			return nil, fmt.Errorf("chatlog: invalid target language %q: %w", cfg.TargetLanguage, err)
		}
		r.translator = cfg.Translator
		r.target = tag
		r.translate = true
	}
	return r, nil
}

// ApplyRemote processes an inbound chat message. Self echoes reconcile
// against the pending optimistic entry synchronously. Messages from other
// authors go through one asynchronous translation attempt and are appended
// when it settles, so two inbound messages may append out of arrival order;
// that is accepted, not corrected.
//
// Must be called on the room loop.
func (r *Reconciler) ApplyRemote(ctx context.Context, msg realtime.ChatMessageEvent) {
	if r.log.ConsumeSelfEcho(msg) {
		return
	}
	if !r.translate {
		r.log.AppendRemoteChat(msg, "")
		return
	}
	go func() {
		translated, err := r.translator.Translate(ctx, msg.Content, r.target.String())
		if err != nil {
			// Silent fallback to the original text; translation
			// never blocks display beyond the single attempt.
			r.logger.Debug("translation failed", "error", err)
			r.rec.ObserveTranslation("failed")
			translated = ""
		} else {
			r.rec.ObserveTranslation("ok")
		}
		r.post(func() {
			r.log.AppendRemoteChat(msg, translated)
		})
	}()
}
