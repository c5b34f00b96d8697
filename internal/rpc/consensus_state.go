package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"consensus-sentinel/internal/consensus"
)

// ConsensusStateResult is the decoded consensus-state dump: the evaluator's
// round sample plus the current proposer address for moniker annotation.
type ConsensusStateResult struct {
	Sample          consensus.RoundSample
	ProposerAddress string
}

// Raw payload shapes. Heights arrive as quoted strings, rounds and steps as
// either numbers or strings, and the round state may carry a combined
// "height/round/step" field instead of individual ones depending on the
// endpoint and node version.
type dumpResponse struct {
	Result struct {
		RoundState json.RawMessage `json:"round_state"`
		Peers      []rawPeer       `json:"peers"`
	} `json:"result"`
}

type rawPeer struct {
	NodeAddress string `json:"node_address"`
	PeerState   struct {
		RoundState json.RawMessage `json:"round_state"`
	} `json:"peer_state"`
}

type rawRoundState struct {
	HRS           string          `json:"height/round/step"`
	Height        json.RawMessage `json:"height"`
	Round         json.RawMessage `json:"round"`
	Step          json.RawMessage `json:"step"`
	Votes         []rawVoteSet    `json:"votes"`
	HeightVoteSet []rawVoteSet    `json:"height_vote_set"`
	Validators    struct {
		Proposer struct {
			Address string `json:"address"`
		} `json:"proposer"`
	} `json:"validators"`
	Proposer struct {
		Address string `json:"address"`
	} `json:"proposer"`
}

type rawVoteSet struct {
	Round              json.RawMessage `json:"round"`
	Prevotes           []string        `json:"prevotes"`
	PrevotesBitArray   string          `json:"prevotes_bit_array"`
	Precommits         []string        `json:"precommits"`
	PrecommitsBitArray string          `json:"precommits_bit_array"`
}

// ConsensusState fetches and decodes /dump_consensus_state. The decode is
// deliberately loose: malformed fields degrade to empty values and surface
// through the evaluator as null-field issues, never as a decode error.
func (c *Client) ConsensusState(ctx context.Context) (ConsensusStateResult, error) {
	url := c.baseURL + "/dump_consensus_state"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return ConsensusStateResult{}, fmt.Errorf("dump_consensus_state: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return ConsensusStateResult{}, fmt.Errorf("dump_consensus_state: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return ConsensusStateResult{}, fmt.Errorf("dump_consensus_state: unexpected status %d", resp.StatusCode)
	}

	var payload dumpResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return ConsensusStateResult{}, fmt.Errorf("dump_consensus_state: decode: %w", err)
	}
	return decodeConsensusState(payload)
}

func decodeConsensusState(payload dumpResponse) (ConsensusStateResult, error) {
	if len(payload.Result.RoundState) == 0 {
		return ConsensusStateResult{}, fmt.Errorf("dump_consensus_state: missing round_state")
	}

	var rs rawRoundState
	if err := json.Unmarshal(payload.Result.RoundState, &rs); err != nil {
		return ConsensusStateResult{}, fmt.Errorf("dump_consensus_state: round_state: %w", err)
	}

	sample := consensus.RoundSample{OK: true}
	if rs.HRS != "" {
		sample.HeightRaw, sample.RoundRaw, sample.Step = splitHRS(rs.HRS)
	} else {
		sample.HeightRaw = rawText(rs.Height)
		sample.RoundRaw = rawText(rs.Round)
		sample.Step = consensus.StepFromJSON(rs.Step)
	}

	sets := rs.Votes
	if len(sets) == 0 {
		sets = rs.HeightVoteSet
	}
	for _, vs := range sets {
		round, _ := strconv.ParseInt(rawText(vs.Round), 10, 64)
		sample.VoteSets = append(sample.VoteSets, consensus.VoteSet{
			Round:              round,
			Prevotes:           vs.Prevotes,
			PrevotesBitArray:   vs.PrevotesBitArray,
			Precommits:         vs.Precommits,
			PrecommitsBitArray: vs.PrecommitsBitArray,
		})
	}

	for _, peer := range payload.Result.Peers {
		if len(peer.PeerState.RoundState) == 0 {
			continue
		}
		sample.Peers = append(sample.Peers, consensus.PeerRoundState{
			NodeAddress: peer.NodeAddress,
			Text:        string(peer.PeerState.RoundState),
		})
	}

	proposer := rs.Validators.Proposer.Address
	if proposer == "" {
		proposer = rs.Proposer.Address
	}

	return ConsensusStateResult{Sample: sample, ProposerAddress: proposer}, nil
}

// splitHRS splits the combined "height/round/step" field.
func splitHRS(hrs string) (height, round string, step consensus.StepValue) {
	parts := strings.Split(hrs, "/")
	if len(parts) != 3 {
		return "", "", consensus.StepValue{}
	}
	return parts[0], parts[1], consensus.StepFromString(parts[2])
}

// rawText renders a JSON scalar (quoted or not) as its text content.
func rawText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(raw))
}
