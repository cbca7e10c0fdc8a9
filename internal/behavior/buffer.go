// Package behavior records behavioural events into the outbound buffer that
// the dispatcher drains.
package behavior

import (
	"sync"

	"github.com/ecyb/daynight-tracking/internal/models"
)

// Buffer is the ordered outbound event buffer of a session. Draining happens
// only through Swap, which hands the whole contents to the caller.
type Buffer struct {
	mu     sync.Mutex
	events []models.BehavioralEvent
}

// Append adds an event to the end of the buffer and returns the new length.
func (b *Buffer) Append(ev models.BehavioralEvent) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return len(b.events)
}

// Len returns the number of buffered events.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// Swap takes the current contents and leaves an empty buffer behind. Events
// appended after Swap returns land in the fresh buffer.
func (b *Buffer) Swap() []models.BehavioralEvent {
	b.mu.Lock()
	defer b.mu.Unlock()
	batch := b.events
	b.events = nil
	return batch
}

// Prepend puts a batch back in front of whatever was recorded since it was
// swapped out.
func (b *Buffer) Prepend(batch []models.BehavioralEvent) {
	if len(batch) == 0 {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	merged := make([]models.BehavioralEvent, 0, len(batch)+len(b.events))
	merged = append(merged, batch...)
	merged = append(merged, b.events...)
	b.events = merged
}
