package consensus

import (
	"fmt"
	"reflect"
	"strings"
	"testing"
	"time"
)

func i64(v int64) *int64 { return &v }

func okStatus(height int64) StatusSample {
	return StatusSample{OK: true, Height: i64(height), BlockTime: time.Unix(1700000000, 0)}
}

func okRound(height, round int64, step int64) RoundSample {
	return RoundSample{
		OK:        true,
		HeightRaw: fmt.Sprintf("%d", height),
		RoundRaw:  fmt.Sprintf("%d", round),
		Step:      StepValue{Num: &step},
	}
}

func hasIssue(h ConsensusHealth, substr string) bool {
	for _, issue := range h.Issues {
		if strings.Contains(issue, substr) {
			return true
		}
	}
	return false
}

func TestEvaluateUnavailable(t *testing.T) {
	h := Evaluate(okStatus(100), RoundSample{OK: false})
	if h.Healthy {
		t.Fatal("unavailable consensus sample must not be healthy")
	}
	if !reflect.DeepEqual(h.Issues, []string{"consensus state unavailable"}) {
		t.Fatalf("got issues %v", h.Issues)
	}
}

func TestEvaluateHealthy(t *testing.T) {
	round := okRound(1000, 0, 6)
	round.VoteSets = []VoteSet{{Round: 0, PrevotesBitArray: "BA{4:xxxx}", PrecommitsBitArray: "BA{4:xxxx}"}}
	h := Evaluate(okStatus(1000), round)
	if !h.Healthy {
		t.Fatalf("expected healthy, issues: %v", h.Issues)
	}
	if h.Height == nil || *h.Height != 1000 {
		t.Errorf("got height %v", h.Height)
	}
	if h.PrevoteRatio == nil || *h.PrevoteRatio != 1.0 {
		t.Errorf("got prevote ratio %v", h.PrevoteRatio)
	}
}

func TestEvaluateHeightLag(t *testing.T) {
	h := Evaluate(okStatus(1000), okRound(996, 0, 1))
	if !hasIssue(h, "differ by more than 2 blocks") {
		t.Fatalf("lag of 4 should raise an issue, got %v", h.Issues)
	}

	h = Evaluate(okStatus(1000), okRound(998, 0, 1))
	if hasIssue(h, "differ by more than") {
		t.Fatalf("lag of 2 is within threshold, got %v", h.Issues)
	}
}

func TestEvaluateInvalidHeight(t *testing.T) {
	round := okRound(0, 0, 1)
	round.HeightRaw = "not-a-number"
	h := Evaluate(okStatus(1000), round)
	if h.Height != nil {
		t.Errorf("invalid height should be nil, got %d", *h.Height)
	}
	if hasIssue(h, "differ by more than") {
		t.Error("lag comparison must be skipped when consensus height is unknown")
	}
}

func TestEvaluateCatchup(t *testing.T) {
	status := okStatus(1000)
	status.CatchingUp = true
	h := Evaluate(status, okRound(1000, 0, 11))
	if !hasIssue(h, "stuck replaying blocks") {
		t.Fatalf("got %v", h.Issues)
	}

	status.CatchingUp = false
	h = Evaluate(status, okRound(1000, 0, 11))
	if !hasIssue(h, "despite sync reported complete") {
		t.Fatalf("got %v", h.Issues)
	}
}

func TestEvaluateReplayErrors(t *testing.T) {
	round := okRound(1000, 0, 1)
	round.Peers = []PeerRoundState{
		{NodeAddress: "peer-1", Text: "wrong Block.Header.AppHash. Expected ABCD, got DCBA"},
		{NodeAddress: "peer-2", Text: "height=1000 round=0 all good"},
	}
	h := Evaluate(okStatus(1000), round)
	if !hasIssue(h, "replay error reported by peer peer-1") {
		t.Fatalf("got %v", h.Issues)
	}
	if hasIssue(h, "peer-2") {
		t.Fatalf("clean peer must not raise an issue, got %v", h.Issues)
	}
}

func TestEvaluateReplayExcerptTruncated(t *testing.T) {
	round := okRound(1000, 0, 1)
	round.Peers = []PeerRoundState{
		{NodeAddress: "peer-1", Text: "wrong last_results_hash " + strings.Repeat("x", 500)},
	}
	h := Evaluate(okStatus(1000), round)
	if len(h.Issues) != 1 {
		t.Fatalf("got %v", h.Issues)
	}
	// issue = prefix + excerpt; the excerpt itself is bounded at 160 chars
	if got := len(h.Issues[0]); got > len("replay error reported by peer peer-1: ")+160 {
		t.Errorf("excerpt not truncated, issue length %d", got)
	}
}

func TestEvaluateReplayDedup(t *testing.T) {
	round := okRound(1000, 0, 1)
	round.Peers = []PeerRoundState{
		{NodeAddress: "peer-1", Text: "wrong app_hash"},
		{NodeAddress: "peer-1", Text: "wrong app_hash"},
	}
	h := Evaluate(okStatus(1000), round)
	if len(h.Issues) != 1 {
		t.Fatalf("duplicate issues must collapse, got %v", h.Issues)
	}
}

func TestEvaluateParticipationThresholds(t *testing.T) {
	// Step 3 (Prevote Wait) with low prevotes: issue expected.
	round := okRound(1000, 0, 3)
	round.VoteSets = []VoteSet{{Round: 0, PrevotesBitArray: "BA{4:x___}", PrecommitsBitArray: "BA{4:____}"}}
	h := Evaluate(okStatus(1000), round)
	if !hasIssue(h, "prevote participation") {
		t.Fatalf("got %v", h.Issues)
	}
	// Precommits are not yet expected at step 3.
	if hasIssue(h, "precommit participation") {
		t.Fatalf("precommit issue before Precommit Wait, got %v", h.Issues)
	}

	// Step 5 (Precommit Wait) gates precommits too.
	round = okRound(1000, 0, 5)
	round.VoteSets = []VoteSet{{Round: 0, PrevotesBitArray: "BA{4:xxxx}", PrecommitsBitArray: "BA{4:x___}"}}
	h = Evaluate(okStatus(1000), round)
	if !hasIssue(h, "precommit participation") {
		t.Fatalf("got %v", h.Issues)
	}

	// Step 2 (Prevote): no participation expectation yet.
	round = okRound(1000, 0, 2)
	round.VoteSets = []VoteSet{{Round: 0, PrevotesBitArray: "BA{4:____}"}}
	h = Evaluate(okStatus(1000), round)
	if !h.Healthy {
		t.Fatalf("no quorum expectation before Prevote Wait, got %v", h.Issues)
	}
}

func TestEvaluateVoteSetSelection(t *testing.T) {
	round := okRound(1000, 2, 3)
	round.VoteSets = []VoteSet{
		{Round: 0, PrevotesBitArray: "BA{4:____}"},
		{Round: 2, PrevotesBitArray: "BA{4:xxxx}"},
	}
	h := Evaluate(okStatus(1000), round)
	if h.PrevoteRatio == nil || *h.PrevoteRatio != 1.0 {
		t.Fatalf("round-matched vote set should be used, got %v", h.PrevoteRatio)
	}

	// No exact round match: fall back to the last set.
	round.RoundRaw = "5"
	h = Evaluate(okStatus(1000), round)
	if h.PrevoteRatio == nil || *h.PrevoteRatio != 1.0 {
		t.Fatalf("fallback should use last vote set, got %v", h.PrevoteRatio)
	}
}

func TestEvaluateIdempotent(t *testing.T) {
	status := okStatus(1000)
	round := okRound(996, 1, 11)
	round.VoteSets = []VoteSet{{Round: 1, PrevotesBitArray: "BA{4:x___}"}}
	round.Peers = []PeerRoundState{{NodeAddress: "p", Text: "wrong validators_hash"}}

	first := Evaluate(status, round)
	second := Evaluate(status, round)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("evaluator must be pure:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}
