// Package poller runs the two sampling loops against the monitored node
// and merges their results into one shared health snapshot.
//
// The full loop drives the complete snapshot (status, consensus health,
// divergence detection, mempool/network telemetry); the faster consensus
// loop refreshes only the consensus verdict for low-latency step tracking.
// Each loop carries a monotonic request token: a completion whose token is
// no longer current is discarded, so out-of-order responses never clobber
// newer state.
package poller

import (
	"context"
	"sync"
	"time"

	"consensus-sentinel/internal/consensus"
	"consensus-sentinel/internal/divergence"
	"consensus-sentinel/internal/logger"
	"consensus-sentinel/internal/metrics"
	"consensus-sentinel/internal/rpc"
)

// NodeClient is the fetch surface the poller needs from the monitored node.
type NodeClient interface {
	Status(ctx context.Context) (rpc.StatusResult, error)
	ConsensusState(ctx context.Context) (rpc.ConsensusStateResult, error)
	ABCIInfo(ctx context.Context) (rpc.ABCIInfo, error)
	Commit(ctx context.Context, height int64) (rpc.CommitInfo, error)
	NetInfo(ctx context.Context) (rpc.NetInfo, error)
	UnconfirmedTxs(ctx context.Context) (rpc.MempoolInfo, error)
}

// Analyzer computes the transaction diff for a confirmed divergence.
type Analyzer interface {
	Analyze(ctx context.Context, height int64) (*divergence.Analysis, error)
}

// MonikerResolver maps a consensus address to a validator moniker.
type MonikerResolver interface {
	Resolve(consAddrHex string) string
}

// DivergenceDetails is the snapshot's view of a confirmed divergence.
type DivergenceDetails struct {
	Height              int64
	Cause               divergence.Cause
	NodeAppHash         string
	ABCIAppHash         string
	NodeLastResultsHash string
	FirstDetectedAt     time.Time
	Analysis            *divergence.Analysis
	AnalysisError       string
}

// Snapshot is the merged health state both loops write into.
type Snapshot struct {
	UpdatedAt       time.Time
	Online          bool
	ChainID         string
	Moniker         string
	NodeVersion     string
	Status          consensus.StatusSample
	Health          consensus.ConsensusHealth
	Divergence      *DivergenceDetails
	Peers           int
	MempoolTxs      int
	MempoolBytes    int64
	ProposerAddress string
	ProposerMoniker string
}

// Config holds the poller's timing knobs.
type Config struct {
	FullInterval      time.Duration
	ConsensusInterval time.Duration
	FetchTimeout      time.Duration
	HistorySize       int
}

// DefaultConfig returns the default polling cadence.
func DefaultConfig() Config {
	return Config{
		FullInterval:      3 * time.Second,
		ConsensusInterval: time.Second,
		FetchTimeout:      10 * time.Second,
		HistorySize:       DefaultHistorySize,
	}
}

// Poller owns the sampling loops, the shared snapshot, the divergence
// detector and the participation history.
type Poller struct {
	cfg      Config
	client   NodeClient
	detector *divergence.Detector
	analyzer Analyzer
	resolver MonikerResolver
	log      *logger.Logger

	mu             sync.Mutex
	snap           Snapshot
	history        *History
	fullToken      uint64
	consensusToken uint64
	stopped        bool

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a poller. analyzer and resolver may be nil, disabling
// divergence analysis and moniker annotation respectively.
func New(cfg Config, client NodeClient, detector *divergence.Detector, analyzer Analyzer, resolver MonikerResolver, log *logger.Logger) *Poller {
	if detector == nil {
		detector = divergence.NewDetector()
	}
	if log == nil {
		log = logger.New(false)
	}
	return &Poller{
		cfg:      cfg,
		client:   client,
		detector: detector,
		analyzer: analyzer,
		resolver: resolver,
		log:      log,
		history:  NewHistory(cfg.HistorySize),
	}
}

// Start launches both sampling loops. They run until ctx is cancelled or
// Stop is called.
func (p *Poller) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	p.wg.Add(2)
	go p.runLoop(ctx, p.cfg.FullInterval, p.dispatchFull)
	go p.runLoop(ctx, p.cfg.ConsensusInterval, p.dispatchConsensus)
}

// Stop halts the loops. In-flight fetches are allowed to complete; their
// results are discarded by the token check.
func (p *Poller) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.mu.Unlock()
	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
}

// Snapshot returns a copy of the merged health snapshot.
func (p *Poller) Snapshot() Snapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cloneSnapshot(p.snap)
}

// History returns a copy of the participation history, oldest first.
func (p *Poller) History() []Sample {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.history.Samples()
}

func (p *Poller) runLoop(ctx context.Context, interval time.Duration, dispatch func(context.Context)) {
	defer p.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	dispatch(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			dispatch(ctx)
		}
	}
}

// dispatchFull issues a full-sample poll. The token is claimed before the
// fetch goroutine starts, so a slow poll is superseded the moment the next
// tick dispatches.
func (p *Poller) dispatchFull(ctx context.Context) {
	p.mu.Lock()
	p.fullToken++
	token := p.fullToken
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollFull(ctx, token)
	}()
}

func (p *Poller) dispatchConsensus(ctx context.Context) {
	p.mu.Lock()
	p.consensusToken++
	token := p.consensusToken
	p.mu.Unlock()

	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.pollConsensus(ctx, token)
	}()
}

func (p *Poller) pollFull(ctx context.Context, token uint64) {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	status, statusErr := p.client.Status(fctx)
	if statusErr != nil {
		metrics.PollErrors.WithLabelValues("full", "status").Inc()
		p.log.Printf("status fetch failed: %v", statusErr)
	}

	cs, csErr := p.client.ConsensusState(fctx)
	if csErr != nil {
		metrics.PollErrors.WithLabelValues("full", "consensus_state").Inc()
		p.log.Printf("consensus state fetch failed: %v", csErr)
	}

	// Optional telemetry sources fail independently.
	abci, abciErr := p.client.ABCIInfo(fctx)
	if abciErr != nil {
		metrics.PollErrors.WithLabelValues("full", "abci_info").Inc()
		p.log.Printf("warn: abci info fetch failed: %v", abciErr)
	}
	var commit rpc.CommitInfo
	commitErr := abciErr
	if abciErr == nil {
		commit, commitErr = p.client.Commit(fctx, 0)
		if commitErr != nil {
			metrics.PollErrors.WithLabelValues("full", "commit").Inc()
			p.log.Printf("warn: commit fetch failed: %v", commitErr)
		}
	}
	netInfo, netErr := p.client.NetInfo(fctx)
	if netErr != nil {
		p.log.Printf("warn: net info fetch failed: %v", netErr)
	}
	mempool, mempoolErr := p.client.UnconfirmedTxs(fctx)
	if mempoolErr != nil {
		p.log.Printf("warn: mempool fetch failed: %v", mempoolErr)
	}

	// Moniker resolution may fetch; keep it outside the snapshot lock.
	proposerMoniker := ""
	if csErr == nil && cs.ProposerAddress != "" && p.resolver != nil {
		proposerMoniker = p.resolver.Resolve(cs.ProposerAddress)
	}

	round := cs.Sample
	if csErr != nil {
		round = consensus.RoundSample{}
	}

	p.mu.Lock()
	if p.stopped || token != p.fullToken {
		p.mu.Unlock()
		metrics.SupersededPolls.WithLabelValues("full").Inc()
		p.log.Printf("full poll %d superseded", token)
		return
	}

	now := time.Now()
	p.snap.UpdatedAt = now
	if statusErr != nil {
		p.snap.Online = false
		p.snap.Status = consensus.StatusSample{}
	} else {
		p.snap.Online = true
		p.snap.Status = status.Sample
		p.snap.ChainID = status.ChainID
		p.snap.Moniker = status.Moniker
		p.snap.NodeVersion = status.NodeVersion
	}

	health := consensus.Evaluate(p.snap.Status, round)
	p.snap.Health = health

	if netErr == nil {
		p.snap.Peers = netInfo.Peers
	}
	if mempoolErr == nil {
		p.snap.MempoolTxs = mempool.Count
		p.snap.MempoolBytes = mempool.Bytes
	}
	if csErr == nil && cs.ProposerAddress != "" {
		p.snap.ProposerAddress = cs.ProposerAddress
		p.snap.ProposerMoniker = proposerMoniker
	}

	// Divergence detection is owned by this loop; the detector is only
	// ever touched while holding the snapshot lock with a current token.
	analysisHeight := int64(0)
	if abciErr == nil && commitErr == nil {
		verdict := p.detector.Observe(divergence.Observation{
			ABCIHeight:            abci.LastBlockHeight,
			ABCIAppHash:           abci.LastBlockAppHash,
			CommitHeight:          commit.Height,
			CommitAppHash:         commit.AppHash,
			CommitLastResultsHash: commit.LastResultsHash,
		})
		switch {
		case verdict.Confirmed:
			if p.snap.Divergence == nil || p.snap.Divergence.Height != verdict.Height {
				p.snap.Divergence = &DivergenceDetails{
					Height:              verdict.Height,
					Cause:               verdict.Cause,
					NodeAppHash:         commit.AppHash,
					ABCIAppHash:         abci.LastBlockAppHash,
					NodeLastResultsHash: commit.LastResultsHash,
					FirstDetectedAt:     verdict.FirstDetectedAt,
				}
				metrics.DivergencesConfirmed.Inc()
				p.log.Printf("divergence confirmed at height %d (%s)", verdict.Height, verdict.Cause)
			}
			metrics.DivergenceState.Set(2)
			if p.analyzer != nil && p.snap.Divergence.Analysis == nil {
				analysisHeight = verdict.Height
			}
		case verdict.Diverged:
			metrics.DivergenceState.Set(1)
		default:
			p.snap.Divergence = nil
			metrics.DivergenceState.Set(0)
		}
	}

	p.appendHistoryLocked(now, health)
	updateHealthMetrics(p.snap.Online, health)
	p.mu.Unlock()

	if analysisHeight > 0 {
		p.runAnalysis(ctx, analysisHeight)
	}
}

func (p *Poller) pollConsensus(ctx context.Context, token uint64) {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	cs, err := p.client.ConsensusState(fctx)
	round := cs.Sample
	if err != nil {
		round = consensus.RoundSample{}
		metrics.PollErrors.WithLabelValues("consensus", "consensus_state").Inc()
		p.log.Printf("consensus state fetch failed: %v", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || token != p.consensusToken {
		metrics.SupersededPolls.WithLabelValues("consensus").Inc()
		p.log.Printf("consensus poll %d superseded", token)
		return
	}

	now := time.Now()
	health := consensus.Evaluate(p.snap.Status, round)
	p.snap.Health = health
	p.snap.UpdatedAt = now

	p.appendHistoryLocked(now, health)
	updateHealthMetrics(p.snap.Online, health)
}

// runAnalysis computes the block diff for a confirmed divergence. Results
// are cached per height inside the analyzer, so a superseding poll simply
// re-attaches the cached analysis on its own pass.
func (p *Poller) runAnalysis(ctx context.Context, height int64) {
	fctx, cancel := context.WithTimeout(ctx, p.cfg.FetchTimeout)
	defer cancel()

	analysis, err := p.analyzer.Analyze(fctx, height)

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped || p.snap.Divergence == nil || p.snap.Divergence.Height != height {
		return
	}
	if err != nil {
		p.snap.Divergence.AnalysisError = err.Error()
		p.log.Printf("divergence analysis failed at height %d: %v", height, err)
		return
	}
	p.snap.Divergence.Analysis = analysis
	p.snap.Divergence.AnalysisError = ""
}

func (p *Poller) appendHistoryLocked(now time.Time, health consensus.ConsensusHealth) {
	p.history.Append(Sample{
		Time:           now,
		Height:         health.Height,
		Round:          health.Round,
		PrevoteRatio:   health.PrevoteRatio,
		PrecommitRatio: health.PrecommitRatio,
	})
}

func updateHealthMetrics(online bool, health consensus.ConsensusHealth) {
	if online {
		metrics.NodeOnline.Set(1)
	} else {
		metrics.NodeOnline.Set(0)
	}
	if health.Height != nil {
		metrics.ConsensusHeight.Set(float64(*health.Height))
	}
	if health.Round != nil {
		metrics.ConsensusRound.Set(float64(*health.Round))
	}
	if health.PrevoteRatio != nil {
		metrics.PrevoteRatio.Set(*health.PrevoteRatio)
	}
	if health.PrecommitRatio != nil {
		metrics.PrecommitRatio.Set(*health.PrecommitRatio)
	}
	metrics.HealthIssues.Set(float64(len(health.Issues)))
}

func cloneSnapshot(s Snapshot) Snapshot {
	out := s
	if s.Health.Issues != nil {
		out.Health.Issues = append([]string(nil), s.Health.Issues...)
	}
	if s.Divergence != nil {
		details := *s.Divergence
		out.Divergence = &details
	}
	return out
}
