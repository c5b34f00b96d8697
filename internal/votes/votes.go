// Package votes computes consensus vote participation ratios from the
// compact encodings reported by the node's consensus endpoints.
package votes

import (
	"strconv"
	"strings"
)

// affirmativeFlags are the bit-array characters that count as a cast vote.
const affirmativeFlags = "xXtT1+"

// nilMarkers mark votes that were received but carry no block (nil votes).
var nilMarkers = []string{"<nil>", "nil-vote"}

// FromBitArray parses a bit-array summary of the form "BA{<total>:<flags>}".
// The node appends a human-readable suffix after the closing brace
// ("BA{100:xx__} 59/100 = 0.59"); anything past the brace is ignored.
// Returns false for malformed input or total <= 0.
func FromBitArray(s string) (float64, bool) {
	start := strings.Index(s, "BA{")
	if start < 0 {
		return 0, false
	}
	rest := s[start+len("BA{"):]
	end := strings.Index(rest, "}")
	if end < 0 {
		return 0, false
	}
	body := rest[:end]
	colon := strings.Index(body, ":")
	if colon < 0 {
		return 0, false
	}
	total, err := strconv.Atoi(strings.TrimSpace(body[:colon]))
	if err != nil || total <= 0 {
		return 0, false
	}
	counted := 0
	for _, r := range body[colon+1:] {
		if strings.ContainsRune(affirmativeFlags, r) {
			counted++
		}
	}
	return float64(counted) / float64(total), true
}

// FromVoteList computes participation from an explicit per-validator vote
// list. Empty or whitespace-only entries mean "not yet received" and are
// excluded from the denominator entirely; the rest count as affirmative
// unless they contain a nil-vote marker.
func FromVoteList(entries []string) (float64, bool) {
	meaningful := 0
	affirmative := 0
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		meaningful++
		if !isNilVote(e) {
			affirmative++
		}
	}
	if meaningful == 0 {
		return 0, false
	}
	return float64(affirmative) / float64(meaningful), true
}

func isNilVote(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range nilMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Participation resolves a ratio from whichever encoding is usable,
// preferring the bit array. Returns nil when neither parses.
func Participation(bitArray string, list []string) *float64 {
	if r, ok := FromBitArray(bitArray); ok {
		return &r
	}
	if r, ok := FromVoteList(list); ok {
		return &r
	}
	return nil
}
