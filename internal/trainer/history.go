package trainer

import "sync"

// History is the append-only list of per-epoch statistics. Readers get copies, so it
// may be read from other goroutines while training appends.
type History struct {
	mu      sync.RWMutex
	entries []EpochStats
}

// Append adds one entry.
func (h *History) Append(s EpochStats) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, s.clone())
}

// Len is the number of entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// Entries returns a copy of all entries in order.
func (h *History) Entries() []EpochStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]EpochStats, len(h.entries))
	for i, e := range h.entries {
		out[i] = e.clone()
	}
	return out
}

// Last returns the most recent entry.
func (h *History) Last() (EpochStats, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.entries) == 0 {
		return EpochStats{}, false
	}
	return h.entries[len(h.entries)-1].clone(), true
}
