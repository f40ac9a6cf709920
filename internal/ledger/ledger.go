// Package ledger tracks which access tokens have already been exchanged
// with the backend, so the side-effecting session handoff fires at most
// once per token across repeated event delivery and across tabs sharing
// the same persisted store.
package ledger

import (
	"context"
	"errors"
	"sync"

	"github.com/dgellow/auth-front/internal/log"
	"github.com/dgellow/auth-front/internal/storage"
)

// markerKeyPrefix namespaces the persisted per-token markers.
const markerKeyPrefix = "authfront_processed_"

// Persisted marker values.
const (
	markerProcessing = "processing"
	markerCompleted  = "completed"
)

// Decision is the outcome of BeginProcessing.
type Decision int

const (
	// Proceed means the caller won the gate and must exchange the token,
	// then call Commit or Abort.
	Proceed Decision = iota

	// AlreadyInFlight means this instance is already processing the token.
	AlreadyInFlight

	// AlreadyCompleted means a persisted marker shows the token was
	// handled, by this instance or by another tab.
	AlreadyCompleted
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case AlreadyInFlight:
		return "already_in_flight"
	case AlreadyCompleted:
		return "already_completed"
	default:
		return "unknown"
	}
}

// Ledger gates token processing. The in-flight set is instance-local and
// covers duplicate event delivery within one instance; the persisted store
// covers other tabs and earlier completed runs.
//
// Known limitation: the persisted store has no compare-and-set, so two tabs
// that both read "absent" before either writes its placeholder will both
// proceed. The window is narrow and accepted; the backend is required to be
// idempotent per token as the authoritative safety net.
type Ledger struct {
	store storage.Store

	mu       sync.Mutex
	inflight map[string]struct{}
}

// New creates a ledger backed by the given persisted store.
func New(store storage.Store) *Ledger {
	return &Ledger{
		store:    store,
		inflight: make(map[string]struct{}),
	}
}

func markerKey(key string) string {
	return markerKeyPrefix + key
}

// BeginProcessing decides whether the caller may exchange the token behind
// key. Check order matters: the instance-local in-flight set first (no
// persisted write has necessarily landed yet for a duplicate in-tab event),
// then the persisted marker. On Proceed the key is marked in-flight and a
// processing placeholder is written before returning, closing the window
// where a second caller in this instance could also pass the first check.
func (l *Ledger) BeginProcessing(ctx context.Context, key string) Decision {
	l.mu.Lock()
	if _, ok := l.inflight[key]; ok {
		l.mu.Unlock()
		return AlreadyInFlight
	}
	l.inflight[key] = struct{}{}
	l.mu.Unlock()

	_, err := l.store.Get(ctx, markerKey(key))
	switch {
	case err == nil:
		// Another tab (or a prior run) already has this token.
		l.release(key)
		return AlreadyCompleted
	case errors.Is(err, storage.ErrNotFound):
		// absent, fall through
	default:
		// Reads are best-effort; a store failure must not block login.
		log.LogWarnWithFields("ledger", "Persisted marker read failed, treating as absent", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}

	if err := l.store.Set(ctx, markerKey(key), markerProcessing); err != nil {
		log.LogWarnWithFields("ledger", "Failed to write processing placeholder", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
	return Proceed
}

// Commit marks the token as durably completed. Called only after the
// backend exchange succeeded. Idempotent.
func (l *Ledger) Commit(ctx context.Context, key string) {
	if err := l.store.Set(ctx, markerKey(key), markerCompleted); err != nil {
		log.LogWarnWithFields("ledger", "Failed to persist completed marker", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
	l.release(key)
}

// Abort returns the key to absent after a failed backend exchange so a
// retry can proceed.
func (l *Ledger) Abort(ctx context.Context, key string) {
	if err := l.store.Delete(ctx, markerKey(key)); err != nil {
		log.LogWarnWithFields("ledger", "Failed to remove processing placeholder", map[string]any{
			"key":   key,
			"error": err.Error(),
		})
	}
	l.release(key)
}

// CleanupStale removes every persisted marker unconditionally. Run once per
// page load of the auth screen, before the provider can deliver its first
// event; a marker found at that point belongs to an earlier load (the user
// came back after a redirect or logged out) and would otherwise block a
// legitimate re-login. Age-based pruning was considered and rejected as
// overkill; the backend's per-token idempotency covers the resulting
// reprocessing window.
func (l *Ledger) CleanupStale(ctx context.Context) {
	keys, err := l.store.ListKeys(ctx, markerKeyPrefix)
	if err != nil {
		log.LogWarnWithFields("ledger", "Failed to list stale markers", map[string]any{
			"error": err.Error(),
		})
		return
	}

	for _, key := range keys {
		if err := l.store.Delete(ctx, key); err != nil {
			log.LogWarnWithFields("ledger", "Failed to delete stale marker", map[string]any{
				"key":   key,
				"error": err.Error(),
			})
			continue
		}
		log.LogDebug("Cleaned up stale marker: %s", key)
	}
}

func (l *Ledger) release(key string) {
	l.mu.Lock()
	delete(l.inflight, key)
	l.mu.Unlock()
}
