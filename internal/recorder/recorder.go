// Package recorder persists evaluated health snapshots and confirmed
// divergence events to the database. Persistence is strictly best-effort:
// a failed write is logged and the next tick tries again.
package recorder

import (
	"context"
	"strings"
	"time"

	"consensus-sentinel/internal/logger"
	"consensus-sentinel/internal/models"
	"consensus-sentinel/internal/poller"

	"gorm.io/gorm"
)

// SnapshotSource yields the current merged health snapshot.
type SnapshotSource interface {
	Snapshot() poller.Snapshot
}

type Recorder struct {
	db       *gorm.DB
	source   SnapshotSource
	interval time.Duration
	log      *logger.Logger

	lastSampled time.Time
}

// New creates a recorder. db may be nil, in which case Run returns
// immediately and nothing is persisted.
func New(db *gorm.DB, source SnapshotSource, interval time.Duration, log *logger.Logger) *Recorder {
	if log == nil {
		log = logger.New(false)
	}
	return &Recorder{db: db, source: source, interval: interval, log: log}
}

// Run samples the snapshot on every tick until ctx is cancelled.
func (r *Recorder) Run(ctx context.Context) {
	if r.db == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.record(r.source.Snapshot())
		}
	}
}

func (r *Recorder) record(snap poller.Snapshot) {
	// A snapshot that hasn't advanced since the last write carries nothing new.
	if snap.UpdatedAt.IsZero() || !snap.UpdatedAt.After(r.lastSampled) {
		return
	}
	r.lastSampled = snap.UpdatedAt

	sample := healthSampleFrom(snap)
	if err := r.db.Create(&sample).Error; err != nil {
		r.log.Printf("error persisting health sample: %v", err)
	}

	if snap.Divergence != nil {
		ev := divergenceEventFrom(snap.Divergence)
		if err := r.db.Where(models.DivergenceEvent{Height: ev.Height}).
			Assign(ev).FirstOrCreate(&ev).Error; err != nil {
			r.log.Printf("error persisting divergence event at height %d: %v", ev.Height, err)
		}
	}
}

func healthSampleFrom(snap poller.Snapshot) models.HealthSample {
	sample := models.HealthSample{
		SampledAt:       snap.UpdatedAt,
		Online:          snap.Online,
		Healthy:         snap.Health.Healthy,
		Height:          snap.Health.Height,
		Round:           snap.Health.Round,
		StepCode:        snap.Health.Step.Code,
		PrevoteRatio:    snap.Health.PrevoteRatio,
		PrecommitRatio:  snap.Health.PrecommitRatio,
		Issues:          strings.Join(snap.Health.Issues, "\n"),
		Peers:           snap.Peers,
		MempoolTxs:      snap.MempoolTxs,
		ProposerAddress: snap.ProposerAddress,
		ProposerMoniker: snap.ProposerMoniker,
	}
	if snap.Health.Step.Label != nil {
		sample.StepLabel = *snap.Health.Step.Label
	}
	return sample
}

func divergenceEventFrom(d *poller.DivergenceDetails) models.DivergenceEvent {
	ev := models.DivergenceEvent{
		Height:              d.Height,
		Cause:               string(d.Cause),
		NodeAppHash:         d.NodeAppHash,
		ABCIAppHash:         d.ABCIAppHash,
		NodeLastResultsHash: d.NodeLastResultsHash,
		FirstDetectedAt:     d.FirstDetectedAt,
		AnalysisError:       d.AnalysisError,
	}
	if a := d.Analysis; a != nil {
		nodeCount, refCount, matching := a.NodeTxCount, a.ReferenceTxCount, a.MatchingTxCount
		ev.NodeTxCount = &nodeCount
		ev.ReferenceTxCount = &refCount
		ev.MatchingTxCount = &matching
		ev.MissingTxs = strings.Join(a.MissingTxs, "\n")
		ev.UnexpectedTxs = strings.Join(a.UnexpectedTxs, "\n")
		ev.ReferenceNode = a.ReferenceNode
	}
	return ev
}
