package trigger

import (
	"sync"

	"github.com/meridianlabs/fundbot/internal/domain"
)

// historyCap bounds the trigger history; the oldest entries are dropped
// first once the cap is reached.
const historyCap = 1000

// history is an append-only, bounded log of trigger decisions.
type history struct {
	mu      sync.Mutex
	entries []domain.TriggerHistoryEntry
	cap     int
}

func newHistory(cap int) *history {
	return &history{cap: cap}
}

func (h *history) add(e domain.TriggerHistoryEntry) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.entries = append(h.entries, e)
	if overflow := len(h.entries) - h.cap; overflow > 0 {
		h.entries = append([]domain.TriggerHistoryEntry(nil), h.entries[overflow:]...)
	}
}

// query returns matching entries, most recent first.
func (h *history) query(q HistoryQuery) []domain.TriggerHistoryEntry {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]domain.TriggerHistoryEntry, 0)
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if q.Type != nil && e.Type != *q.Type {
			continue
		}
		if q.TriggeredOnly && !e.Triggered {
			continue
		}
		out = append(out, e)
		if q.Limit > 0 && len(out) >= q.Limit {
			break
		}
	}
	return out
}
