// Package consensus turns the node's loosely-typed consensus telemetry
// (step codes, vote sets, peer round states) into a structured health verdict.
package consensus

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// StepValue is the normalized form of a step identifier, which the node may
// report as a small integer or as free text depending on endpoint and version.
type StepValue struct {
	Num  *int64
	Text string
}

// Absent reports whether no step was supplied at all.
func (v StepValue) Absent() bool {
	return v.Num == nil && strings.TrimSpace(v.Text) == ""
}

// StepFromJSON normalizes a raw JSON step field (number, quoted number, or
// free-text string) into a StepValue.
func StepFromJSON(raw json.RawMessage) StepValue {
	if len(raw) == 0 {
		return StepValue{}
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return StepValue{Num: &n}
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return StepFromString(s)
	}
	return StepValue{Text: strings.Trim(string(raw), `"`)}
}

// StepFromString normalizes a textual step field, recognizing numeric text.
func StepFromString(s string) StepValue {
	s = strings.TrimSpace(s)
	if s == "" {
		return StepValue{}
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return StepValue{Num: &n}
	}
	return StepValue{Text: s}
}

// StepInfo is the canonical classification of a consensus step.
type StepInfo struct {
	Code        *int
	Label       *string
	Description string
	IsCatchup   bool
}

type stepEntry struct {
	code        int
	label       string
	description string
	catchup     bool
}

// Canonical step taxonomy. Codes 0-8 are the normal round progression;
// codes >= 10 are catch-up/replay variants.
var stepTable = []stepEntry{
	{0, "New Height", "waiting for a new height to begin", false},
	{1, "Proposal", "proposer is broadcasting the block proposal", false},
	{2, "Prevote", "validators are broadcasting prevotes", false},
	{3, "Prevote Wait", "waiting for two thirds of prevotes", false},
	{4, "Precommit", "validators are broadcasting precommits", false},
	{5, "Precommit Wait", "waiting for two thirds of precommits", false},
	{6, "Commit", "block is being committed", false},
	{7, "Commit Wait", "waiting for the commit to complete", false},
	{8, "Finalize Commit", "finalizing the committed block", false},
	{10, "Catchup", "replaying blocks to catch up with the network", true},
	{11, "Catchup Replay", "re-executing previously committed blocks", true},
}

// catchupIndicators are substrings that mark catch-up/replay activity in
// free-text step reports.
var catchupIndicators = []string{
	"catchup",
	"catch-up",
	"replay",
	"wrong last block",
	"wait last block",
}

// Steps the participation thresholds are gated on: prevotes are expected from
// Prevote Wait onward, precommits from Precommit Wait onward.
const (
	StepPrevoteWait   = 3
	StepPrecommitWait = 5
)

// ClassifyStep maps a normalized step identifier to its canonical StepInfo.
// Unknown numeric codes degrade to a generic "Step N" label; free text falls
// back to a substring match against canonical labels and then to a catch-up
// indicator scan over the raw text.
func ClassifyStep(v StepValue) StepInfo {
	if v.Absent() {
		return StepInfo{Description: "step not yet reported"}
	}

	if v.Num != nil {
		code := int(*v.Num)
		for _, e := range stepTable {
			if e.code == code {
				return e.info()
			}
		}
		label := fmt.Sprintf("Step %d", code)
		return StepInfo{
			Code:        &code,
			Label:       &label,
			Description: "unrecognized consensus step",
			IsCatchup:   code >= 10,
		}
	}

	lower := strings.ToLower(v.Text)

	// Longest label first so "Prevote Wait" wins over "Prevote".
	entries := make([]stepEntry, len(stepTable))
	copy(entries, stepTable)
	sort.SliceStable(entries, func(i, j int) bool {
		return len(entries[i].label) > len(entries[j].label)
	})
	for _, e := range entries {
		if strings.Contains(lower, strings.ToLower(e.label)) {
			return e.info()
		}
	}

	label := v.Text
	return StepInfo{
		Label:       &label,
		Description: "unrecognized consensus step",
		IsCatchup:   containsCatchupIndicator(lower),
	}
}

func (e stepEntry) info() StepInfo {
	code := e.code
	label := e.label
	return StepInfo{
		Code:        &code,
		Label:       &label,
		Description: e.description,
		IsCatchup:   e.catchup,
	}
}

func containsCatchupIndicator(lower string) bool {
	for _, ind := range catchupIndicators {
		if strings.Contains(lower, ind) {
			return true
		}
	}
	return false
}
