package harvest

import (
	"sort"

	"github.com/zeka-hazinesi/jobboard-data/pkg/types"
)

// Ledger tracks which page offsets are pending and which have been
// dispatched. Offsets keep their discovery order (FIFO) so a given response
// sequence always produces the same fetch order. A run is single-threaded,
// so popping an offset marks it visited without any locking.
type Ledger struct {
	pending []types.Offset
	known   map[types.Offset]struct{}
	visited map[types.Offset]struct{}
}

// NewLedger creates an empty offset ledger.
func NewLedger() *Ledger {
	return &Ledger{
		known:   make(map[types.Offset]struct{}),
		visited: make(map[types.Offset]struct{}),
	}
}

// Enqueue appends the offset to the pending queue unless it is already
// pending or visited. Reports whether the offset was newly queued.
func (l *Ledger) Enqueue(offset types.Offset) bool {
	if offset < 0 {
		return false
	}
	if _, ok := l.known[offset]; ok {
		return false
	}
	l.known[offset] = struct{}{}
	l.pending = append(l.pending, offset)
	return true
}

// NextPending pops the earliest-enqueued offset and marks it visited, so an
// offset is dispatched at most once even when discovered redundantly.
func (l *Ledger) NextPending() (types.Offset, bool) {
	if len(l.pending) == 0 {
		return 0, false
	}
	offset := l.pending[0]
	l.pending = l.pending[1:]
	l.visited[offset] = struct{}{}
	return offset, true
}

// PendingCount reports how many offsets are waiting to be fetched.
func (l *Ledger) PendingCount() int {
	return len(l.pending)
}

// VisitedCount reports how many offsets have been dispatched.
func (l *Ledger) VisitedCount() int {
	return len(l.visited)
}

// VisitedOffsets returns the dispatched offsets in ascending order.
func (l *Ledger) VisitedOffsets() []types.Offset {
	out := make([]types.Offset, 0, len(l.visited))
	for off := range l.visited {
		out = append(out, off)
	}
	sort.Ints(out)
	return out
}
