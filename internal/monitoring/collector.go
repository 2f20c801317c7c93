// Package monitoring summarizes recent extraction health and raises alerts
// when it degrades.
package monitoring

import (
	"context"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/cv-extract/internal/model"
	"github.com/sells-group/cv-extract/internal/store"
)

// Snapshot holds a point-in-time view of extraction health.
type Snapshot struct {
	// Runs created within the lookback window.
	Runs       int     `json:"runs"`
	Complete   int     `json:"complete"`
	Failed     int     `json:"failed"`
	InFlight   int     `json:"in_flight"`
	FailRate   float64 `json:"fail_rate"`
	CostUSD    float64 `json:"cost_usd"`
	AvgTokens  int     `json:"avg_tokens"`
	AvgLatency float64 `json:"avg_latency_ms"`

	// Fallbacks counts records produced by a model other than the primary.
	Fallbacks    int            `json:"fallbacks"`
	FallbackRate float64        `json:"fallback_rate"`
	ByModel      map[string]int `json:"by_model"`

	DLQDepth int `json:"dlq_depth"`

	LookbackHours int       `json:"lookback_hours"`
	CollectedAt   time.Time `json:"collected_at"`
}

// Collector gathers snapshots from the store.
type Collector struct {
	store   store.Store
	primary string
}

// NewCollector creates a Collector. primary is the first model of the chain;
// records from any other model count as fallbacks.
func NewCollector(st store.Store, primary string) *Collector {
	return &Collector{store: st, primary: primary}
}

// Collect summarizes the runs created in the last lookbackHours.
func (c *Collector) Collect(ctx context.Context, lookbackHours int) (*Snapshot, error) {
	now := time.Now().UTC()
	snap := &Snapshot{
		ByModel:       map[string]int{},
		LookbackHours: lookbackHours,
		CollectedAt:   now,
	}

	runs, err := c.store.ListRuns(ctx, store.RunFilter{
		Since: now.Add(-time.Duration(lookbackHours) * time.Hour),
		Limit: 10000,
	})
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: list runs")
	}

	snap.Runs = len(runs)
	var tokens int
	var latency int64
	for _, r := range runs {
		switch r.Status {
		case model.RunStatusComplete:
			snap.Complete++
		case model.RunStatusFailed:
			snap.Failed++
		default:
			snap.InFlight++
		}
		if r.Result == nil {
			continue
		}
		snap.CostUSD += r.Result.Cost
		tokens += r.Result.Tokens.InputTokens + r.Result.Tokens.OutputTokens
		latency += r.Result.DurationMS
		if used := r.Result.ModelUsed; used != "" {
			snap.ByModel[used]++
			if used != c.primary {
				snap.Fallbacks++
			}
		}
	}

	if finished := snap.Complete + snap.Failed; finished > 0 {
		snap.FailRate = float64(snap.Failed) / float64(finished)
		snap.AvgTokens = tokens / finished
		snap.AvgLatency = float64(latency) / float64(finished)
	}
	if snap.Complete > 0 {
		snap.FallbackRate = float64(snap.Fallbacks) / float64(snap.Complete)
	}

	depth, err := c.store.CountDLQ(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "monitoring: count dlq")
	}
	snap.DLQDepth = depth

	return snap, nil
}
