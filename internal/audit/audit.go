// ABOUTME: Fire-and-forget audit sink for authentication events
// ABOUTME: Emission failures are swallowed and logged, never aborting verification

package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/fold-auth/internal/kv"
)

// Event names an auditable action.
type Event string

const (
	EventPasskeyRegistered      Event = "passkey_registered"
	EventPasskeyLogin           Event = "passkey_login"
	EventCloneSuspected         Event = "passkey_clone_suspected"
	EventPasskeyRevoked         Event = "passkey_revoked"
	EventPasskeyRenamed         Event = "passkey_renamed"
	EventRecoveryCodesGenerated Event = "recovery_codes_generated"
	EventRecoveryCodeRedeemed   Event = "recovery_code_redeemed"
	EventAccountReset           Event = "account_reset"
)

// Sink receives audit events. Implementations must never fail the caller:
// Emit has no error return and any internal failure is logged only.
type Sink interface {
	Emit(ctx context.Context, event Event, actor string, details map[string]any)
}

// Entry is the persisted form of an audit event.
type Entry struct {
	ID        string         `json:"id"`
	Event     Event          `json:"event"`
	Actor     string         `json:"actor"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// LogSink writes audit events to the structured log only.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink creates a log-backed sink.
func NewLogSink() *LogSink {
	return &LogSink{logger: slog.Default().With("component", "audit")}
}

// Emit logs the event.
func (s *LogSink) Emit(_ context.Context, event Event, actor string, details map[string]any) {
	s.logger.Info("audit event", "event", event, "actor", actor, "details", details)
}

// StoreSink persists audit entries to the kv store and logs them. Store
// failures are swallowed: the audit trail is best-effort and must never
// abort the verification flow that produced the event.
type StoreSink struct {
	kv     kv.Store
	logger *slog.Logger
}

// NewStoreSink creates a store-backed sink.
func NewStoreSink(store kv.Store) *StoreSink {
	return &StoreSink{
		kv:     store,
		logger: slog.Default().With("component", "audit"),
	}
}

// Emit persists and logs the event.
func (s *StoreSink) Emit(ctx context.Context, event Event, actor string, details map[string]any) {
	entry := Entry{
		ID:        uuid.New().String(),
		Event:     event,
		Actor:     actor,
		Details:   details,
		Timestamp: time.Now().UTC(),
	}

	s.logger.Info("audit event", "event", event, "actor", actor, "details", details)

	data, err := json.Marshal(entry)
	if err != nil {
		s.logger.Warn("audit entry marshal failed", "event", event, "error", err)
		return
	}

	key := fmt.Sprintf("audit:%d:%s", entry.Timestamp.UnixNano(), entry.ID)
	if err := s.kv.Put(ctx, key, data, 0); err != nil {
		s.logger.Warn("audit entry write failed", "event", event, "error", err)
	}
}

// Recorder captures events for tests.
type Recorder struct {
	mu     sync.Mutex
	events []Entry
}

// NewRecorder creates an empty recorder.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Emit records the event.
func (r *Recorder) Emit(_ context.Context, event Event, actor string, details map[string]any) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Entry{
		Event:     event,
		Actor:     actor,
		Details:   details,
		Timestamp: time.Now().UTC(),
	})
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.events))
	copy(out, r.events)
	return out
}

// CountOf returns how many events with the given name were recorded.
func (r *Recorder) CountOf(event Event) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e.Event == event {
			n++
		}
	}
	return n
}

var (
	_ Sink = (*LogSink)(nil)
	_ Sink = (*StoreSink)(nil)
	_ Sink = (*Recorder)(nil)
)
