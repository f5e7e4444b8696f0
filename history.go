package authgate

import "sync"

// History is an in-memory navigation stack. It implements Navigator.
type History struct {
	mu        sync.Mutex
	entries   []string
	listeners []func(path string)
}

// NewHistory starts a history at path.
func NewHistory(path string) *History {
	if path == "" {
		path = PathGate
	}
	return &History{entries: []string{path}}
}

// Navigate pushes path, or overwrites the current entry when replace is set.
func (h *History) Navigate(path string, replace bool) {
	h.mu.Lock()
	if replace {
		h.entries[len(h.entries)-1] = path
	} else {
		h.entries = append(h.entries, path)
	}
	fns := append([]func(string){}, h.listeners...)
	h.mu.Unlock()

	for _, fn := range fns {
		fn(path)
	}
}

// Back pops the current entry. It reports false at the first entry.
func (h *History) Back() (string, bool) {
	h.mu.Lock()
	if len(h.entries) == 1 {
		cur := h.entries[0]
		h.mu.Unlock()
		return cur, false
	}
	h.entries = h.entries[:len(h.entries)-1]
	cur := h.entries[len(h.entries)-1]
	fns := append([]func(string){}, h.listeners...)
	h.mu.Unlock()

	for _, fn := range fns {
		fn(cur)
	}
	return cur, true
}

// Current returns the path at the top of the stack.
func (h *History) Current() string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.entries[len(h.entries)-1]
}

// Entries returns a copy of the stack, oldest first.
func (h *History) Entries() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]string{}, h.entries...)
}

// Subscribe registers fn for every navigation.
func (h *History) Subscribe(fn func(path string)) {
	h.mu.Lock()
	h.listeners = append(h.listeners, fn)
	h.mu.Unlock()
}
