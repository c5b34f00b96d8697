package poller

import "time"

// Sample is one charting point of consensus participation.
type Sample struct {
	Time           time.Time
	Height         *int64
	Round          *int64
	PrevoteRatio   *float64
	PrecommitRatio *float64
}

// History is a bounded FIFO of participation samples: the most recent N are
// kept, oldest evicted first. A sample identical to the last retained one
// (ignoring its timestamp) is suppressed. Not safe for concurrent use; the
// poller serializes access.
type History struct {
	capacity int
	samples  []Sample
}

// DefaultHistorySize is the default ring capacity.
const DefaultHistorySize = 50

// NewHistory creates a ring with the given capacity (<= 0 uses the default).
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistorySize
	}
	return &History{capacity: capacity, samples: make([]Sample, 0, capacity)}
}

// Append adds a sample, evicting the oldest when full.
func (h *History) Append(s Sample) {
	if n := len(h.samples); n > 0 && sameSample(h.samples[n-1], s) {
		return
	}
	if len(h.samples) == h.capacity {
		copy(h.samples, h.samples[1:])
		h.samples = h.samples[:h.capacity-1]
	}
	h.samples = append(h.samples, s)
}

// Samples returns a copy of the retained samples, oldest first.
func (h *History) Samples() []Sample {
	out := make([]Sample, len(h.samples))
	copy(out, h.samples)
	return out
}

// Len returns the number of retained samples.
func (h *History) Len() int { return len(h.samples) }

func sameSample(a, b Sample) bool {
	return eqInt64(a.Height, b.Height) &&
		eqInt64(a.Round, b.Round) &&
		eqFloat64(a.PrevoteRatio, b.PrevoteRatio) &&
		eqFloat64(a.PrecommitRatio, b.PrecommitRatio)
}

func eqInt64(a, b *int64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

func eqFloat64(a, b *float64) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}
