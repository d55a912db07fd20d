package agent

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

// Metrics are monotonically increasing agent counters.
type Metrics struct {
	ObservationsReceived int64 `json:"observationsReceived"`
	ObservationsAdded    int64 `json:"observationsAdded"`
	InvalidObservations  int64 `json:"invalidObservations"`
	AssetsAdded          int64 `json:"assetsAdded"`
	AssetsRemoved        int64 `json:"assetsRemoved"`
}

type counters struct {
	observationsReceived atomic.Int64
	observationsAdded    atomic.Int64
	invalidObservations  atomic.Int64
	assetsAdded          atomic.Int64
	assetsRemoved        atomic.Int64
}

// Metrics returns the current counter values. The values are read
// independently of each other.
func (a *Agent) Metrics() Metrics {
	return Metrics{
		ObservationsReceived: a.counters.observationsReceived.Load(),
		ObservationsAdded:    a.counters.observationsAdded.Load(),
		InvalidObservations:  a.counters.invalidObservations.Load(),
		AssetsAdded:          a.counters.assetsAdded.Load(),
		AssetsRemoved:        a.counters.assetsRemoved.Load(),
	}
}

// RunMetrics logs the counter deltas every interval until ctx is done.
func (a *Agent) RunMetrics(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		<-ctx.Done()
		return nil
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	prev := a.Metrics()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			cur := a.Metrics()
			a.log.Info("agent metrics",
				zap.Int64("observationsReceived", cur.ObservationsReceived-prev.ObservationsReceived),
				zap.Int64("observationsAdded", cur.ObservationsAdded-prev.ObservationsAdded),
				zap.Int64("invalidObservations", cur.InvalidObservations-prev.InvalidObservations),
				zap.Int64("assetsAdded", cur.AssetsAdded-prev.AssetsAdded),
				zap.Int64("assetsRemoved", cur.AssetsRemoved-prev.AssetsRemoved),
				zap.Int64("lastSequence", a.history.LastSequence()),
				zap.Duration("interval", interval),
			)
			prev = cur
		}
	}
}
