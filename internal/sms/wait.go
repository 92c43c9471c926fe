package sms

import (
	"context"
	"strings"
	"time"

	"github.com/Stig-Johnny/pushbullet-sms-mcp/internal/metrics"
)

// DefaultFreshnessWindow is how far before the start of a wait a newly
// arrived message's timestamp may lie and still satisfy the wait.
const DefaultFreshnessWindow = 60 * time.Second

// Filter is a conjunction of independently optional sub-filters; the zero
// Filter matches every message.
type Filter struct {
	Sender   string
	Contains string
	HasCode  bool
}

func (f Filter) Matches(msg Message) bool {
	if f.Sender != "" && !strings.Contains(strings.ToLower(msg.Sender), strings.ToLower(f.Sender)) {
		return false
	}
	if f.Contains != "" && !strings.Contains(strings.ToLower(msg.Body), strings.ToLower(f.Contains)) {
		return false
	}
	if f.HasCode {
		if _, ok := ExtractCode(msg.Body); !ok {
			return false
		}
	}
	return true
}

// Waiter implements the blocking wait-for-matching-message primitive over a
// Store. Waiting is event-driven: Store.Insert notifies every subscriber,
// so a qualifying message wakes the waiter immediately rather than on a
// polling cadence. Any number of waiters may run concurrently.
type Waiter struct {
	store     *Store
	freshness time.Duration
}

func NewWaiter(store *Store, freshness time.Duration) *Waiter {
	if freshness <= 0 {
		freshness = DefaultFreshnessWindow
	}
	return &Waiter{store: store, freshness: freshness}
}

// WaitFor returns the first message matching filter. Existing contents are
// scanned newest-first before suspending; the subscription is registered
// before that scan so an insert racing the scan is never missed. A message
// arriving during the wait is eligible only if its timestamp is no older
// than the freshness window before the wait started. On timeout or
// cancellation the zero Message and false are returned.
func (w *Waiter) WaitFor(ctx context.Context, filter Filter, timeout time.Duration) (Message, bool) {
	started := time.Now()
	updates, cancel := w.store.Subscribe()
	defer cancel()

	for _, msg := range w.store.List(0, "") {
		if filter.Matches(msg) {
			return msg, true
		}
	}

	metrics.ActiveWaiters.Inc()
	defer metrics.ActiveWaiters.Dec()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	cutoff := started.Add(-w.freshness)
	for {
		select {
		case msg := <-updates:
			if msg.Timestamp.Before(cutoff) {
				continue
			}
			if filter.Matches(msg) {
				return msg, true
			}
		case <-timer.C:
			return Message{}, false
		case <-ctx.Done():
			return Message{}, false
		}
	}
}
