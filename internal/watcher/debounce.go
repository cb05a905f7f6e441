package watcher

import (
	"time"
)

// pendingEvent tracks a debounced event for one plugin directory.
type pendingEvent struct {
	event Event
	timer *time.Timer
}

// debounce records event and restarts the delay for its plugin directory.
func (w *Watcher) debounce(event Event) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return
	}

	if p, exists := w.pending[event.Dir]; exists {
		p.event.Op |= event.Op
		p.event.Path = event.Path
		p.event.Timestamp = event.Timestamp
		p.timer.Reset(w.delay)
		return
	}

	key := event.Dir
	w.pending[key] = &pendingEvent{
		event: event,
		timer: time.AfterFunc(w.delay, func() { w.fire(key) }),
	}
}

// fire delivers the pending event of key.
func (w *Watcher) fire(key string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	p, exists := w.pending[key]
	if !exists || w.closed {
		return
	}
	delete(w.pending, key)

	select {
	case w.events <- p.event:
	default:
		w.logger.Warn().Str("plugin", p.event.Plugin).Msg("event channel full, dropping event")
	}
}

// Flush delivers every pending event immediately.
func (w *Watcher) Flush() {
	w.mu.RLock()
	keys := make([]string, 0, len(w.pending))
	for key, p := range w.pending {
		p.timer.Stop()
		keys = append(keys, key)
	}
	w.mu.RUnlock()

	for _, key := range keys {
		w.fire(key)
	}
}

// PendingCount returns the number of plugin directories with pending events.
func (w *Watcher) PendingCount() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return len(w.pending)
}
