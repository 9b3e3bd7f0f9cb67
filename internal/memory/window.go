// Package memory holds the bounded per-conversation context buffer.
package memory

import "strings"

// Separator joins rendered entries.
const Separator = "\n"

// Window is a fixed-capacity FIFO of text entries. Appending at capacity
// evicts the oldest entry. A Window is not safe for concurrent use; its owner
// must serialise access.
type Window struct {
	buf   []string
	head  int // index of the oldest entry
	size  int
	limit int
}

func New(capacity int) *Window {
	if capacity < 0 {
		capacity = 0
	}
	return &Window{buf: make([]string, capacity), limit: capacity}
}

// Append adds entry as the newest element.
func (w *Window) Append(entry string) {
	if w.limit == 0 {
		return
	}
	if w.size < w.limit {
		w.buf[(w.head+w.size)%w.limit] = entry
		w.size++
		return
	}
	// full: overwrite the oldest slot and advance head
	w.buf[w.head] = entry
	w.head = (w.head + 1) % w.limit
}

// Render joins the entries oldest first.
func (w *Window) Render() string {
	if w.size == 0 {
		return ""
	}
	var b strings.Builder
	for i := 0; i < w.size; i++ {
		if i > 0 {
			b.WriteString(Separator)
		}
		b.WriteString(w.buf[(w.head+i)%w.limit])
	}
	return b.String()
}

// Entries returns a copy of the entries oldest first.
func (w *Window) Entries() []string {
	out := make([]string, 0, w.size)
	for i := 0; i < w.size; i++ {
		out = append(out, w.buf[(w.head+i)%w.limit])
	}
	return out
}

func (w *Window) Len() int { return w.size }

func (w *Window) Cap() int { return w.limit }
