package designer

import (
	"fmt"

	"studycore/pkg/domain"
)

// Accumulator buffers completed trials until a fixed batch size is reached.
// It makes the batching contract explicit: the buffer never holds more than
// its capacity, every pushed trial eventually lands in exactly one batch, and
// a full buffer is handed out and cleared atomically from the caller's
// perspective.
type Accumulator struct {
	capacity int
	buffer   []domain.Trial
}

// NewAccumulator creates an accumulator with the given batch capacity.
func NewAccumulator(capacity int) (*Accumulator, error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("accumulator capacity must be positive, got %d", capacity)
	}
	return &Accumulator{
		capacity: capacity,
		buffer:   make([]domain.Trial, 0, capacity),
	}, nil
}

// Push appends a completed trial. When the buffer reaches capacity the full
// batch is returned and the buffer cleared; otherwise batch is nil.
func (a *Accumulator) Push(trial domain.Trial) (batch []domain.Trial, fired bool) {
	a.buffer = append(a.buffer, trial)
	if len(a.buffer) < a.capacity {
		return nil, false
	}
	batch = a.buffer
	a.buffer = make([]domain.Trial, 0, a.capacity)
	return batch, true
}

// Len reports how many trials are currently buffered.
func (a *Accumulator) Len() int { return len(a.buffer) }

// Capacity reports the batch size.
func (a *Accumulator) Capacity() int { return a.capacity }
