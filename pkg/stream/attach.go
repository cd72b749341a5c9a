package stream

import "sync"

// Attachment is one consumer's set of listeners on a shared Transport.
type Attachment struct {
	t        *Transport
	mu       sync.Mutex
	ids      []uint64
	detached bool
}

// Attach returns a handle that registers listeners on t. Detaching the handle
// removes only those listeners; the connection stays up.
func (t *Transport) Attach() *Attachment {
	return &Attachment{t: t}
}

// On registers fn for event. It is a no-op after Detach.
func (a *Attachment) On(event string, fn Handler) {
	a.add(listener{event: event, fn: fn})
}

// OnStateChange registers fn for connected/disconnected transitions.
func (a *Attachment) OnStateChange(fn func(connected bool)) {
	a.add(listener{state: fn})
}

func (a *Attachment) add(l listener) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.detached {
		return
	}
	a.ids = append(a.ids, a.t.addListener(l))
}

func (a *Attachment) Detach() {
	a.mu.Lock()
	ids := a.ids
	a.ids = nil
	a.detached = true
	a.mu.Unlock()
	a.t.removeListeners(ids)
}
