package divergence

import (
	"testing"
	"time"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time { return c.t }

func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func newTestDetector(c *fakeClock) *Detector { return NewDetectorWithClock(5*time.Second, c.now) }

func divergingObs(height int64) Observation {
	return Observation{
		ABCIHeight:    height,
		ABCIAppHash:   "AAAA",
		CommitHeight:  height,
		CommitAppHash: "BBBB",
	}
}

func cleanObs(height int64) Observation {
	return Observation{
		ABCIHeight:    height,
		ABCIAppHash:   "AAAA",
		CommitHeight:  height,
		CommitAppHash: "AAAA",
	}
}

func TestDetectorHysteresis(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)
	armed := clock.t

	v := d.Observe(divergingObs(100))
	if !v.Diverged || v.Confirmed {
		t.Fatalf("first observation: got %+v, want unconfirmed candidate", v)
	}

	clock.advance(3 * time.Second)
	v = d.Observe(divergingObs(100))
	if v.Confirmed {
		t.Fatalf("at t=3s the candidate must still be unconfirmed, got %+v", v)
	}

	clock.advance(2200 * time.Millisecond) // t = 5.2s
	v = d.Observe(divergingObs(100))
	if !v.Confirmed {
		t.Fatalf("at t=5.2s the candidate must be confirmed, got %+v", v)
	}
	if v.Cause != CauseAppHash {
		t.Errorf("got cause %q, want app_hash", v.Cause)
	}

	clock.advance(800 * time.Millisecond) // t = 6s
	v = d.Observe(divergingObs(100))
	if !v.Confirmed {
		t.Fatalf("confirmed divergence must re-report confirmed, got %+v", v)
	}
	if !v.FirstDetectedAt.Equal(armed) {
		t.Errorf("FirstDetectedAt re-armed: got %v, want %v", v.FirstDetectedAt, armed)
	}
}

func TestDetectorResetOnCleanObservation(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)

	d.Observe(divergingObs(100))
	v := d.Observe(cleanObs(100))
	if v.Diverged {
		t.Fatalf("clean observation must clear the candidate, got %+v", v)
	}

	// A later divergence at height 101 is a brand-new candidate.
	clock.advance(10 * time.Second)
	v = d.Observe(divergingObs(101))
	if !v.Diverged || v.Confirmed || v.Height != 101 {
		t.Fatalf("got %+v, want fresh unconfirmed candidate at 101", v)
	}
}

func TestDetectorNewHeightReplacesCandidate(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)

	d.Observe(divergingObs(100))
	clock.advance(10 * time.Second)

	// Same-height poll would confirm now, but the height moved on.
	v := d.Observe(divergingObs(101))
	if v.Confirmed {
		t.Fatalf("candidate at a new height must not inherit the old timer, got %+v", v)
	}
	if v.Height != 101 || !v.FirstDetectedAt.Equal(clock.t) {
		t.Fatalf("got %+v, want candidate re-armed at 101", v)
	}
}

func TestDetectorOneBlockLagComparison(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)

	// Commit header one block ahead: compare last-results hash, not app hash.
	healthy := Observation{
		ABCIHeight:            100,
		ABCIAppHash:           "AAAA",
		CommitHeight:          101,
		CommitAppHash:         "ZZZZ",
		CommitLastResultsHash: "aaaa", // hex comparison is case-insensitive
	}
	if v := d.Observe(healthy); v.Diverged {
		t.Fatalf("matching delayed hash must not diverge, got %+v", v)
	}

	diverging := healthy
	diverging.CommitLastResultsHash = "CCCC"
	v := d.Observe(diverging)
	if !v.Diverged || v.Cause != CauseLastResults {
		t.Fatalf("got %+v, want last_results candidate", v)
	}
}

func TestDetectorUnrelatedHeightLeavesStateUntouched(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)

	d.Observe(divergingObs(100))

	// Commit header far ahead: no evaluable comparison.
	v := d.Observe(Observation{
		ABCIHeight:    100,
		ABCIAppHash:   "AAAA",
		CommitHeight:  105,
		CommitAppHash: "BBBB",
	})
	if !v.Diverged || v.Height != 100 {
		t.Fatalf("un-evaluable observation must keep the candidate, got %+v", v)
	}
}

func TestDetectorMissingHashesCarryNoSignal(t *testing.T) {
	clock := newFakeClock()
	d := newTestDetector(clock)

	v := d.Observe(Observation{ABCIHeight: 100, CommitHeight: 100, CommitAppHash: "BBBB"})
	if v.Diverged {
		t.Fatalf("missing ABCI hash must not flag divergence, got %+v", v)
	}
}
