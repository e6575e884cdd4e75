package scheduler

import "sync"

// history is a fixed-size ring of execution records. Once terminal tasks
// leave the schedule, this is the only in-process trace they existed.
type history struct {
	mu   sync.Mutex
	buf  []Record
	next int
	full bool
}

func newHistory(size int) *history {
	return &history{buf: make([]Record, size)}
}

func (h *history) add(r Record) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = r
	h.next++
	if h.next == len(h.buf) {
		h.next = 0
		h.full = true
	}
}

// recent returns up to max records, newest first.
func (h *history) recent(max int) []Record {
	h.mu.Lock()
	defer h.mu.Unlock()
	n := h.next
	if h.full {
		n = len(h.buf)
	}
	if max > 0 && n > max {
		n = max
	}
	out := make([]Record, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.next - 1 - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}
