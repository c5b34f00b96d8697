// Package divergence detects app-hash divergence between the monitored
// node's consensus commits and its ABCI-reported application state, and
// explains a confirmed divergence with a transaction-level block diff.
package divergence

import (
	"strings"
	"time"
)

// Cause identifies which hash comparison flagged the divergence.
type Cause string

const (
	CauseAppHash     Cause = "app_hash"
	CauseLastResults Cause = "last_results"
)

// DefaultConfirmWindow is how long a candidate divergence must persist
// before it is confirmed. The window absorbs clock and propagation skew
// between endpoints polled at different instants.
const DefaultConfirmWindow = 5 * time.Second

// Observation is one poll's view of the hashes to compare: the ABCI info
// response and the commit header at the matching or next height.
type Observation struct {
	ABCIHeight            int64
	ABCIAppHash           string
	CommitHeight          int64
	CommitAppHash         string
	CommitLastResultsHash string
}

// Verdict is the detector's state after an observation.
type Verdict struct {
	Diverged        bool
	Confirmed       bool
	Height          int64
	Cause           Cause
	FirstDetectedAt time.Time
}

type candidate struct {
	height          int64
	cause           Cause
	firstDetectedAt time.Time
	confirmed       bool
}

// Detector is the hysteresis state machine: NONE -> CANDIDATE -> CONFIRMED.
// At most one candidate exists at a time, keyed by height; it is owned by
// a single polling stream and is not safe for concurrent use.
type Detector struct {
	window    time.Duration
	now       func() time.Time
	candidate *candidate
}

// NewDetector creates a detector with the default confirmation window.
func NewDetector() *Detector {
	return &Detector{window: DefaultConfirmWindow, now: time.Now}
}

// NewDetectorWithClock allows tests to control the window and clock.
func NewDetectorWithClock(window time.Duration, now func() time.Time) *Detector {
	return &Detector{window: window, now: now}
}

// Observe feeds one poll's hashes through the state machine.
//
// Commit height equal to the ABCI height compares app hashes directly; one
// block ahead compares the commit's last-results hash against the ABCI app
// hash, since that header field lags application execution by exactly one
// block. Any other height relation carries no signal and leaves the current
// candidate untouched.
func (d *Detector) Observe(o Observation) Verdict {
	diverged, cause, evaluable := compare(o)
	if !evaluable {
		return d.verdict()
	}

	if !diverged {
		d.candidate = nil
		return Verdict{}
	}

	now := d.now()
	if d.candidate != nil && d.candidate.height == o.ABCIHeight {
		if !d.candidate.confirmed && now.Sub(d.candidate.firstDetectedAt) >= d.window {
			d.candidate.confirmed = true
		}
		return d.verdict()
	}

	// New height: start a fresh candidate, replacing whatever existed.
	d.candidate = &candidate{
		height:          o.ABCIHeight,
		cause:           cause,
		firstDetectedAt: now,
	}
	return d.verdict()
}

func compare(o Observation) (diverged bool, cause Cause, evaluable bool) {
	if o.ABCIAppHash == "" {
		return false, "", false
	}
	switch o.CommitHeight {
	case o.ABCIHeight:
		if o.CommitAppHash == "" {
			return false, "", false
		}
		return !strings.EqualFold(o.CommitAppHash, o.ABCIAppHash), CauseAppHash, true
	case o.ABCIHeight + 1:
		if o.CommitLastResultsHash == "" {
			return false, "", false
		}
		return !strings.EqualFold(o.CommitLastResultsHash, o.ABCIAppHash), CauseLastResults, true
	default:
		return false, "", false
	}
}

func (d *Detector) verdict() Verdict {
	if d.candidate == nil {
		return Verdict{}
	}
	return Verdict{
		Diverged:        true,
		Confirmed:       d.candidate.confirmed,
		Height:          d.candidate.height,
		Cause:           d.candidate.cause,
		FirstDetectedAt: d.candidate.firstDetectedAt,
	}
}
