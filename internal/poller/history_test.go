package poller

import (
	"testing"
	"time"
)

func sampleAt(height int64, ratio float64) Sample {
	return Sample{Time: time.Now(), Height: &height, PrevoteRatio: &ratio}
}

func TestHistoryEvictsOldest(t *testing.T) {
	h := NewHistory(3)
	for i := int64(1); i <= 5; i++ {
		h.Append(sampleAt(i, 0.9))
	}

	got := h.Samples()
	if len(got) != 3 {
		t.Fatalf("len = %d, want 3", len(got))
	}
	for i, want := range []int64{3, 4, 5} {
		if got[i].Height == nil || *got[i].Height != want {
			t.Errorf("samples[%d].Height = %v, want %d", i, got[i].Height, want)
		}
	}
}

func TestHistorySuppressesDuplicates(t *testing.T) {
	h := NewHistory(4)
	h.Append(sampleAt(10, 0.8))
	h.Append(sampleAt(10, 0.8)) // same values, later timestamp
	if h.Len() != 1 {
		t.Fatalf("len = %d, want 1", h.Len())
	}

	h.Append(sampleAt(10, 0.9)) // ratio changed
	if h.Len() != 2 {
		t.Fatalf("len = %d, want 2", h.Len())
	}
}

func TestHistoryZeroCapacityUsesDefault(t *testing.T) {
	h := NewHistory(0)
	for i := int64(0); i < int64(DefaultHistorySize)+10; i++ {
		h.Append(sampleAt(i, 0.5))
	}
	if h.Len() != DefaultHistorySize {
		t.Errorf("len = %d, want %d", h.Len(), DefaultHistorySize)
	}
}

func TestHistorySamplesIsACopy(t *testing.T) {
	h := NewHistory(2)
	h.Append(sampleAt(1, 0.7))
	out := h.Samples()
	out[0].Height = nil
	if got := h.Samples(); got[0].Height == nil {
		t.Error("Samples returned shared backing storage")
	}
}
