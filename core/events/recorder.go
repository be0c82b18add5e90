package events

import "sync"

// Recorder buffers events emitted during a call. Buffered events are only
// forwarded once the call commits; a discarded call drops them.
type Recorder struct {
	mu      sync.Mutex
	pending []Event
}

// Emit implements Emitter by buffering the event.
func (r *Recorder) Emit(evt Event) {
	if r == nil || evt == nil {
		return
	}
	r.mu.Lock()
	r.pending = append(r.pending, evt)
	r.mu.Unlock()
}

// Events returns a copy of the buffered events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.pending))
	copy(out, r.pending)
	return out
}

// Flush forwards the buffered events to dst in emission order and clears the
// buffer.
func (r *Recorder) Flush(dst Emitter) {
	r.mu.Lock()
	pending := r.pending
	r.pending = nil
	r.mu.Unlock()
	if dst == nil {
		return
	}
	for _, evt := range pending {
		dst.Emit(evt)
	}
}

// Reset drops every buffered event.
func (r *Recorder) Reset() {
	r.mu.Lock()
	r.pending = nil
	r.mu.Unlock()
}
