package bus

import "sync"

// DefaultHistorySize is the number of dispatched messages retained.
const DefaultHistorySize = 1000

// history is a fixed-capacity ring of dispatched messages. Once full, the
// oldest message is overwritten.
type history struct {
	mu    sync.RWMutex
	buf   []Message
	start int
	size  int
}

func newHistory(capacity int) *history {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &history{buf: make([]Message, capacity)}
}

func (h *history) add(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.size < len(h.buf) {
		h.buf[(h.start+h.size)%len(h.buf)] = msg
		h.size++
		return
	}
	h.buf[h.start] = msg
	h.start = (h.start + 1) % len(h.buf)
}

// list returns matching messages newest first. limit <= 0 means no limit.
func (h *history) list(match func(Message) bool, limit int) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]Message, 0, min(h.size, max(limit, 0)))
	for i := h.size - 1; i >= 0; i-- {
		msg := h.buf[(h.start+i)%len(h.buf)]
		if match != nil && !match(msg) {
			continue
		}
		out = append(out, msg)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

func (h *history) len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.size
}

func (h *history) capacity() int {
	return len(h.buf)
}

func (h *history) clear() {
	h.mu.Lock()
	defer h.mu.Unlock()
	clear(h.buf)
	h.start = 0
	h.size = 0
}
