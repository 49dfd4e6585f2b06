package trading

import "sync"

// OutcomeCell holds the process-wide outcome parameter: the trade side
// currently rigged to win. Writes come from the admin surface and are
// last-writer-wins; every settlement takes a snapshot at its start.
type OutcomeCell struct {
	mu   sync.RWMutex
	side string
}

// NewOutcomeCell creates a cell with the given initial winning side.
func NewOutcomeCell(side string) *OutcomeCell {
	return &OutcomeCell{side: side}
}

// Set overwrites the winning side unconditionally.
func (c *OutcomeCell) Set(side string) {
	c.mu.Lock()
	c.side = side
	c.mu.Unlock()
}

// Snapshot returns the current winning side.
func (c *OutcomeCell) Snapshot() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.side
}
