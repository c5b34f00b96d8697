package consensus

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"consensus-sentinel/internal/votes"
)

// StatusSample is the monitored node's /status view: latest block height,
// block time and sync state. OK is false when the status fetch failed.
type StatusSample struct {
	OK         bool
	Height     *int64
	BlockTime  time.Time
	CatchingUp bool
}

// VoteSet carries one round's vote coverage in both encodings the node
// reports: a compact bit-array summary and an explicit per-validator list.
type VoteSet struct {
	Round              int64
	Prevotes           []string
	PrevotesBitArray   string
	Precommits         []string
	PrecommitsBitArray string
}

// PeerRoundState is a peer's reported round state, kept as raw text so it can
// be scanned for replay-error phrases.
type PeerRoundState struct {
	NodeAddress string
	Text        string
}

// RoundSample is the monitored node's consensus-state view for the current
// round. OK is false when the consensus fetch failed entirely.
type RoundSample struct {
	OK        bool
	HeightRaw string
	RoundRaw  string
	Step      StepValue
	VoteSets  []VoteSet
	Peers     []PeerRoundState
}

// ConsensusHealth is the structured verdict derived from one consensus
// sample. Healthy is strictly "no issues".
type ConsensusHealth struct {
	Healthy        bool
	Height         *int64
	Round          *int64
	Step           StepInfo
	PrevoteRatio   *float64
	PrecommitRatio *float64
	Issues         []string
}

const (
	issueUnavailable     = "consensus state unavailable"
	issueStuckReplaying  = "node is stuck replaying blocks"
	issueCatchupConflict = "step indicates catch-up despite sync reported complete"

	// heightLagThreshold is the tolerated gap between the consensus height
	// and the status height before a lag issue is raised.
	heightLagThreshold = 2

	// quorumThreshold is the participation ratio below which prevote and
	// precommit issues are raised once the round has progressed far enough.
	quorumThreshold = 2.0 / 3.0

	// excerptLimit bounds replay-error excerpts carried into the issue list.
	excerptLimit = 160
)

// replayIndicators are matched against separator-stripped lowercase text, so
// "wrong Block.Header.LastResultsHash" and "wrong last_results_hash" both hit.
var replayIndicators = []string{
	"wronglastresultshash",
	"wrongapphash",
	"wronglastblockid",
	"wrongvalidatorshash",
	"wrongnextvalidatorshash",
	"failedtovalidate",
	"erroronreplay",
	"replayerror",
	"replayfailed",
}

// Evaluate combines a status sample and a consensus-round sample into a
// ConsensusHealth verdict. It is a pure function: feeding it the same
// samples twice yields identical output.
func Evaluate(status StatusSample, round RoundSample) ConsensusHealth {
	if !round.OK {
		return ConsensusHealth{Issues: []string{issueUnavailable}}
	}

	var issues []string

	height := parseInt64(round.HeightRaw)
	roundNum := parseInt64(round.RoundRaw)
	step := ClassifyStep(round.Step)

	// Replay errors reported inline in the step text or by peers.
	if excerpt, ok := replayExcerpt(round.Step.Text); ok {
		issues = append(issues, fmt.Sprintf("replay error in consensus step: %s", excerpt))
	}
	for _, peer := range round.Peers {
		if excerpt, ok := replayExcerpt(peer.Text); ok {
			issues = append(issues, fmt.Sprintf("replay error reported by peer %s: %s", peer.NodeAddress, excerpt))
		}
	}

	if step.IsCatchup {
		if status.OK && status.CatchingUp {
			issues = append(issues, issueStuckReplaying)
		} else {
			issues = append(issues, issueCatchupConflict)
		}
	}

	if height != nil && status.OK && status.Height != nil {
		diff := *height - *status.Height
		if diff < 0 {
			diff = -diff
		}
		if diff > heightLagThreshold {
			issues = append(issues, fmt.Sprintf(
				"consensus height %d and status height %d differ by more than %d blocks",
				*height, *status.Height, heightLagThreshold))
		}
	}

	voteSet := selectVoteSet(round.VoteSets, roundNum)
	var prevoteRatio, precommitRatio *float64
	if voteSet != nil {
		prevoteRatio = votes.Participation(voteSet.PrevotesBitArray, voteSet.Prevotes)
		precommitRatio = votes.Participation(voteSet.PrecommitsBitArray, voteSet.Precommits)
	}

	if step.Code != nil && *step.Code >= StepPrevoteWait && prevoteRatio != nil && *prevoteRatio < quorumThreshold {
		issues = append(issues, fmt.Sprintf("prevote participation %.2f below 2/3 quorum", *prevoteRatio))
	}
	if step.Code != nil && *step.Code >= StepPrecommitWait && precommitRatio != nil && *precommitRatio < quorumThreshold {
		issues = append(issues, fmt.Sprintf("precommit participation %.2f below 2/3 quorum", *precommitRatio))
	}

	issues = dedupe(issues)

	return ConsensusHealth{
		Healthy:        len(issues) == 0,
		Height:         height,
		Round:          roundNum,
		Step:           step,
		PrevoteRatio:   prevoteRatio,
		PrecommitRatio: precommitRatio,
		Issues:         issues,
	}
}

// selectVoteSet picks the vote set matching the current round, falling back
// to the last reported set when no exact match exists.
func selectVoteSet(sets []VoteSet, round *int64) *VoteSet {
	if len(sets) == 0 {
		return nil
	}
	if round != nil {
		for i := range sets {
			if sets[i].Round == *round {
				return &sets[i]
			}
		}
	}
	return &sets[len(sets)-1]
}

func parseInt64(s string) *int64 {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return nil
	}
	return &n
}

// replayExcerpt reports whether the text contains a replay-error indicator
// and returns a bounded excerpt suitable for the issue list.
func replayExcerpt(text string) (string, bool) {
	if !containsReplayIndicator(text) {
		return "", false
	}
	excerpt := strings.Join(strings.Fields(text), " ")
	runes := []rune(excerpt)
	if len(runes) > excerptLimit {
		excerpt = string(runes[:excerptLimit])
	}
	return excerpt, true
}

func containsReplayIndicator(text string) bool {
	if text == "" {
		return false
	}
	normalized := strings.ToLower(text)
	normalized = strings.NewReplacer("_", "", "-", "", ".", "", " ", "").Replace(normalized)
	// "wrong Block.Header.AppHash" and "wrong app_hash" normalize to the
	// same indicator once the header qualifier is dropped.
	normalized = strings.ReplaceAll(normalized, "blockheader", "")
	for _, ind := range replayIndicators {
		if strings.Contains(normalized, ind) {
			return true
		}
	}
	return false
}

func dedupe(issues []string) []string {
	if len(issues) < 2 {
		return issues
	}
	seen := make(map[string]struct{}, len(issues))
	out := issues[:0]
	for _, issue := range issues {
		if _, ok := seen[issue]; ok {
			continue
		}
		seen[issue] = struct{}{}
		out = append(out, issue)
	}
	return out
}
