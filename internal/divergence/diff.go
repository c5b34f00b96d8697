package divergence

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// BlockFetcher retrieves the ordered transaction list and app hash of the
// block at the given height from the node behind the base URL.
type BlockFetcher interface {
	BlockTxs(ctx context.Context, baseURL string, height int64) (txs []string, appHash string, err error)
}

// Analysis is the transaction-level explanation of a confirmed divergence:
// a multiset diff between the monitored node's block and the reference
// node's block at the divergent height.
type Analysis struct {
	BlockHeight      int64
	NodeAppHash      string
	ReferenceAppHash string
	NodeTxCount      int
	ReferenceTxCount int
	MatchingTxCount  int
	MissingTxs       []string
	UnexpectedTxs    []string
	ReferenceNode    string
	LastUpdated      time.Time
}

type analysisKey struct {
	monitored string
	reference string
	height    int64
}

// Analyzer computes and caches divergence analyses. Results are cached per
// (monitored, reference, height) so repeated polls of the same confirmed
// divergence do not refetch blocks.
type Analyzer struct {
	fetcher   BlockFetcher
	monitored string
	reference string
	now       func() time.Time

	mu    sync.Mutex
	cache map[analysisKey]*Analysis
}

// NewAnalyzer creates an analyzer comparing the monitored node against the
// reference node.
func NewAnalyzer(fetcher BlockFetcher, monitoredURL, referenceURL string) *Analyzer {
	return &Analyzer{
		fetcher:   fetcher,
		monitored: monitoredURL,
		reference: referenceURL,
		now:       time.Now,
		cache:     make(map[analysisKey]*Analysis),
	}
}

// Analyze fetches both nodes' blocks at the divergent height and computes
// the multiset transaction diff. A fetch failure is returned to the caller;
// it does not affect the already-confirmed divergence verdict.
func (a *Analyzer) Analyze(ctx context.Context, height int64) (*Analysis, error) {
	key := analysisKey{monitored: a.monitored, reference: a.reference, height: height}

	a.mu.Lock()
	if cached, ok := a.cache[key]; ok {
		a.mu.Unlock()
		return cached, nil
	}
	a.mu.Unlock()

	nodeTxs, nodeHash, err := a.fetcher.BlockTxs(ctx, a.monitored, height)
	if err != nil {
		return nil, fmt.Errorf("fetch monitored block %d: %w", height, err)
	}
	refTxs, refHash, err := a.fetcher.BlockTxs(ctx, a.reference, height)
	if err != nil {
		return nil, fmt.Errorf("fetch reference block %d: %w", height, err)
	}

	missing, unexpected, matching := multisetDiff(refTxs, nodeTxs)

	analysis := &Analysis{
		BlockHeight:      height,
		NodeAppHash:      nodeHash,
		ReferenceAppHash: refHash,
		NodeTxCount:      len(nodeTxs),
		ReferenceTxCount: len(refTxs),
		MatchingTxCount:  matching,
		MissingTxs:       missing,
		UnexpectedTxs:    unexpected,
		ReferenceNode:    a.reference,
		LastUpdated:      a.now(),
	}

	a.mu.Lock()
	a.cache[key] = analysis
	a.mu.Unlock()
	return analysis, nil
}

// multisetDiff compares the two transaction lists by value and count.
// Missing entries are reference-side excess, unexpected entries are
// monitored-side excess; each value is emitted once per excess occurrence,
// in the order it appears in its source block.
func multisetDiff(reference, monitored []string) (missing, unexpected []string, matching int) {
	refCount := make(map[string]int, len(reference))
	for _, tx := range reference {
		refCount[tx]++
	}
	monCount := make(map[string]int, len(monitored))
	for _, tx := range monitored {
		monCount[tx]++
	}

	missing = []string{}
	seen := make(map[string]int, len(reference))
	for _, tx := range reference {
		seen[tx]++
		if seen[tx] > monCount[tx] {
			missing = append(missing, tx)
		}
	}

	unexpected = []string{}
	seen = make(map[string]int, len(monitored))
	for _, tx := range monitored {
		seen[tx]++
		if seen[tx] > refCount[tx] {
			unexpected = append(unexpected, tx)
		}
	}

	for tx, rc := range refCount {
		if mc := monCount[tx]; mc < rc {
			matching += mc
		} else {
			matching += rc
		}
	}
	return missing, unexpected, matching
}
