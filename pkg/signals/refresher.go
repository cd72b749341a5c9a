// Package signals keeps the pending-signal list in step with stream events.
package signals

import (
	"context"
	"encoding/json"
	"slices"
	"sync"
	"time"

	"github.com/gregtusar/botdash/pkg/models"
	"github.com/gregtusar/botdash/pkg/stream"
	"github.com/sirupsen/logrus"
)

// Fetcher loads the current pending-signal list from the backend.
type Fetcher func(ctx context.Context) ([]models.PendingSignal, error)

// Subscriber is the listener side of a stream attachment.
type Subscriber interface {
	On(event string, fn stream.Handler)
}

// Refresher refetches the pending list whenever a signal event arrives. With
// a zero debounce every event fetches; otherwise a burst of events collapses
// into one fetch issued after the burst goes quiet.
type Refresher struct {
	fetch    Fetcher
	debounce time.Duration
	logger   *logrus.Logger

	mu       sync.Mutex
	signals  []models.PendingSignal
	issued   uint64
	applied  uint64
	timer    *time.Timer
	stopped  bool
	onChange []func([]models.PendingSignal)

	inflight sync.WaitGroup
}

func NewRefresher(fetch Fetcher, debounce time.Duration, logger *logrus.Logger) *Refresher {
	return &Refresher{
		fetch:    fetch,
		debounce: debounce,
		logger:   logger,
	}
}

// Attach triggers a refresh on every signal:new and signal:update event.
func (r *Refresher) Attach(ctx context.Context, sub Subscriber) {
	handler := func(json.RawMessage) { r.Trigger(ctx) }
	sub.On(stream.EventSignalNew, handler)
	sub.On(stream.EventSignalUpdate, handler)
}

// Refresh fetches synchronously. A result is only applied if no newer fetch
// or Replace has already been applied, so a slow response never overwrites a
// fresher list.
func (r *Refresher) Refresh(ctx context.Context) error {
	r.mu.Lock()
	r.issued++
	seq := r.issued
	r.mu.Unlock()

	list, err := r.fetch(ctx)
	if err != nil {
		return err
	}
	r.apply(seq, list)
	return nil
}

// Trigger schedules a refresh in the background. Failures are logged and the
// list keeps its last known value.
func (r *Refresher) Trigger(ctx context.Context) {
	if r.debounce <= 0 {
		r.refreshAsync(ctx)
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopped {
		return
	}
	if r.timer != nil {
		r.timer.Reset(r.debounce)
		return
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		r.mu.Lock()
		r.timer = nil
		r.mu.Unlock()
		r.refreshAsync(ctx)
	})
}

// refreshAsync registers with inflight under mu so Stop never waits while an
// Add from zero is still possible.
func (r *Refresher) refreshAsync(ctx context.Context) {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return
	}
	r.inflight.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.inflight.Done()
		if err := r.Refresh(ctx); err != nil {
			r.logger.WithError(err).Warn("Failed to refresh pending signals")
		}
	}()
}

// Replace installs list as the newest known state.
func (r *Refresher) Replace(list []models.PendingSignal) {
	r.mu.Lock()
	r.issued++
	seq := r.issued
	r.mu.Unlock()
	r.apply(seq, list)
}

// Remove drops a resolved signal from the pending list.
func (r *Refresher) Remove(id string) {
	r.mu.Lock()
	list := slices.DeleteFunc(slices.Clone(r.signals), func(s models.PendingSignal) bool { return s.ID == id })
	r.mu.Unlock()
	r.Replace(list)
}

func (r *Refresher) apply(seq uint64, list []models.PendingSignal) {
	r.mu.Lock()
	if seq <= r.applied {
		r.mu.Unlock()
		r.logger.WithField("seq", seq).Debug("Discarding stale pending-signal fetch")
		return
	}
	r.applied = seq
	r.signals = list
	fns := slices.Clone(r.onChange)
	r.mu.Unlock()

	for _, fn := range fns {
		fn(slices.Clone(list))
	}
}

func (r *Refresher) Signals() []models.PendingSignal {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.signals)
}

// Find returns the pending signal with the given id.
func (r *Refresher) Find(id string) (models.PendingSignal, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, s := range r.signals {
		if s.ID == id {
			return s, true
		}
	}
	return models.PendingSignal{}, false
}

// OnChange registers fn to run after every applied list.
func (r *Refresher) OnChange(fn func([]models.PendingSignal)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onChange = append(r.onChange, fn)
}

// Stop cancels a pending debounced refresh and waits for fetches in flight.
// Later triggers are ignored.
func (r *Refresher) Stop() {
	r.mu.Lock()
	r.stopped = true
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	r.mu.Unlock()
	r.inflight.Wait()
}
