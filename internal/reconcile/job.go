// Package reconcile periodically compares processor objects against ledger
// entries, repairs stale states through the live transition path, and flags
// orphans for operator review.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/onnwee/paygate/internal/dedup"
	"github.com/onnwee/paygate/internal/ledger"
	"github.com/onnwee/paygate/internal/processor"
	"github.com/onnwee/paygate/internal/tracing"
)

// Run health statuses.
const (
	StatusHealthy     = "healthy"
	StatusNeedsRepair = "needs_repair"
)

// DefaultInterval is the default duration between reconciliation runs.
const DefaultInterval = 5 * time.Minute

// DefaultLookback is the default window of processor objects examined.
const DefaultLookback = 24 * time.Hour

// DefaultTimeout is the default timeout for a single run.
const DefaultTimeout = 2 * time.Minute

// Result summarizes one reconciliation run.
type Result struct {
	RunID           string        `json:"run_id"`
	StartedAt       time.Time     `json:"started_at"`
	Duration        time.Duration `json:"duration"`
	ObjectsChecked  int           `json:"objects_checked"`
	Orphans         []string      `json:"orphans,omitempty"`
	MissedEvents    []string      `json:"missed_events,omitempty"`
	StateMismatches int           `json:"state_mismatches"`
	RepairsApplied  int           `json:"repairs_applied"`
	Status          string        `json:"status"`
}

// Config configures the reconciliation job.
type Config struct {
	// Interval is the duration between runs.
	Interval time.Duration
	// Lookback bounds how far back processor objects are listed.
	Lookback time.Duration
	// Timeout for each run.
	Timeout time.Duration
	// Dedup, when set, is cross-checked against the processor's event feed
	// so deliveries that never arrived surface as discrepancies.
	Dedup dedup.Store
	// Logger for job activity.
	Logger *slog.Logger
	// Metrics for run tracking.
	Metrics *Metrics
}

// Job periodically reconciles the ledger against processor truth.
type Job struct {
	config Config
	client processor.Client
	ledger ledger.Repository

	mu         sync.Mutex
	running    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
	lastResult *Result
}

// NewJob creates a reconciliation job.
func NewJob(config Config, client processor.Client, ledgerRepo ledger.Repository) *Job {
	if config.Interval == 0 {
		config.Interval = DefaultInterval
	}
	if config.Lookback == 0 {
		config.Lookback = DefaultLookback
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}

	return &Job{
		config: config,
		client: client,
		ledger: ledgerRepo,
	}
}

// Start begins the periodic reconciliation job.
// Returns immediately; the job runs in a background goroutine.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	if j.running {
		j.mu.Unlock()
		return nil
	}
	j.running = true
	j.stopCh = make(chan struct{})
	j.doneCh = make(chan struct{})
	j.mu.Unlock()

	go j.run(ctx)
	return nil
}

// Stop signals the job to stop and waits for it to finish.
func (j *Job) Stop() {
	j.mu.Lock()
	if !j.running {
		j.mu.Unlock()
		return
	}
	stopCh := j.stopCh
	doneCh := j.doneCh
	j.mu.Unlock()

	close(stopCh)
	<-doneCh

	j.mu.Lock()
	j.running = false
	j.mu.Unlock()
}

// IsRunning returns whether the job is currently running.
func (j *Job) IsRunning() bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.running
}

// LastResult returns the most recent run result, or nil before the first run.
func (j *Job) LastResult() *Result {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastResult
}

// run is the main loop for the reconciliation job.
func (j *Job) run(ctx context.Context) {
	defer close(j.doneCh)

	ticker := time.NewTicker(j.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.config.Logger.Info("reconciliation job stopping due to context cancellation")
			return
		case <-j.stopCh:
			j.config.Logger.Info("reconciliation job stopping due to stop signal")
			return
		case <-ticker.C:
			runCtx, cancel := context.WithTimeout(ctx, j.config.Timeout)
			result, err := j.Run(runCtx)
			cancel()
			if err != nil {
				j.config.Logger.Error("reconciliation run failed", "error", err)
				continue
			}
			if result.Status != StatusHealthy {
				j.config.Logger.Warn("reconciliation found discrepancies",
					"run_id", result.RunID,
					"orphans", len(result.Orphans),
					"mismatches", result.StateMismatches,
					"repairs", result.RepairsApplied)
			}
		}
	}
}

// Run executes one reconciliation pass: list processor objects inside the
// lookback window, compare each against its ledger entry, and repair stale
// states through the normal transition path so every repair is audited and
// monotonicity-checked like any other evidence.
func (j *Job) Run(ctx context.Context) (res *Result, retErr error) {
	ctx, endSpan := tracing.StartSpan(ctx, "reconcile_run")
	defer func() { endSpan(retErr) }()

	start := time.Now()
	result := &Result{
		RunID:     uuid.New().String(),
		StartedAt: start.UTC(),
	}
	evidence := "recon-" + result.RunID

	objects, err := j.client.ListObjectsSince(ctx, start.Add(-j.config.Lookback))
	if err != nil {
		if j.config.Metrics != nil {
			j.config.Metrics.runErrors.Inc()
		}
		return nil, fmt.Errorf("list processor objects: %w", err)
	}

	for _, object := range objects {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		result.ObjectsChecked++
		entry, err := j.ledger.GetByExternalReference(ctx, object.ID)
		if errors.Is(err, ledger.ErrEntryNotFound) {
			// An orphan means money may have moved with no ledger record.
			// Flagged for operator review, never auto-created.
			result.Orphans = append(result.Orphans, object.ID)
			j.config.Logger.Warn("orphaned processor object",
				"object_id", object.ID, "status", object.Status, "amount", object.Amount)
			if j.config.Metrics != nil {
				j.config.Metrics.orphansFound.Inc()
			}
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("load entry for %s: %w", object.ID, err)
		}

		if entry.State == object.Status {
			continue
		}
		// A reconciled entry already absorbed its terminal outcome; the
		// processor agreeing with that outcome is not drift.
		if entry.State == ledger.StateReconciled && entry.Outcome == object.Status {
			continue
		}
		if !ledger.CanTransition(entry.State, object.Status) {
			// Includes processor truth contradicting a terminal state,
			// which a repair must never overwrite.
			result.StateMismatches++
			j.config.Logger.Warn("unrepairable state mismatch",
				"object_id", object.ID, "ledger_state", entry.State, "processor_status", object.Status)
			if j.config.Metrics != nil {
				j.config.Metrics.mismatchesFound.Inc()
			}
			continue
		}

		if _, err := j.ledger.UpdateState(ctx, object.ID, object.Status, evidence, "reconciler"); err != nil {
			result.StateMismatches++
			j.config.Logger.Error("repair failed",
				"object_id", object.ID, "target_state", object.Status, "error", err)
			if j.config.Metrics != nil {
				j.config.Metrics.mismatchesFound.Inc()
			}
			continue
		}
		result.RepairsApplied++
		j.config.Logger.Info("ledger state repaired",
			"object_id", object.ID, "from", entry.State, "to", object.Status, "run_id", result.RunID)
		if j.config.Metrics != nil {
			j.config.Metrics.repairsApplied.Inc()
		}
	}

	if j.config.Dedup != nil {
		events, err := j.client.ListEventsSince(ctx, start.Add(-j.config.Lookback))
		if err != nil {
			if j.config.Metrics != nil {
				j.config.Metrics.runErrors.Inc()
			}
			return nil, fmt.Errorf("list processor events: %w", err)
		}
		byClass := make(map[string][]string)
		for _, ev := range events {
			byClass[ev.Type] = append(byClass[ev.Type], ev.ID)
		}
		for class, ids := range byClass {
			missing, err := j.config.Dedup.DetectGaps(ctx, class, ids)
			if err != nil {
				return nil, fmt.Errorf("detect gaps for %s: %w", class, err)
			}
			for _, id := range missing {
				j.config.Logger.Warn("event delivery gap",
					"event_id", id, "class", class, "run_id", result.RunID)
			}
			result.MissedEvents = append(result.MissedEvents, missing...)
			if j.config.Metrics != nil && len(missing) > 0 {
				j.config.Metrics.missedEvents.Add(float64(len(missing)))
			}
		}
	}

	result.Duration = time.Since(start)
	result.Status = StatusHealthy
	if len(result.Orphans) > 0 || len(result.MissedEvents) > 0 || result.StateMismatches > 0 {
		result.Status = StatusNeedsRepair
	}

	if j.config.Metrics != nil {
		j.config.Metrics.runsTotal.Inc()
		j.config.Metrics.runDuration.Observe(result.Duration.Seconds())
		j.config.Metrics.objectsChecked.Set(float64(result.ObjectsChecked))
		j.config.Metrics.lastRunTimestamp.Set(float64(time.Now().Unix()))
	}

	j.mu.Lock()
	j.lastResult = result
	j.mu.Unlock()
	return result, nil
}
