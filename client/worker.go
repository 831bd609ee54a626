package client

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/flashbots/kanon/common"
	"github.com/flashbots/kanon/metrics"
	"github.com/flashbots/kanon/protocol"
	"go.uber.org/atomic"
)

// ErrWorkerStopped is returned by RunOnce after StopWork.
var ErrWorkerStopped = errors.New("worker stopped")

// DatabaseProcessor picks up stored messages.
type DatabaseProcessor interface {
	ProcessMessagesFromDatabase(ctx context.Context, limit int) (int, error)
}

// RunReport describes the last completed background run.
type RunReport struct {
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Messages   int       `json:"messages"`
	Error      string    `json:"error,omitempty"`
}

// Worker periodically hands stored messages to the Manager. At most one run
// is in flight at a time; triggers arriving during a run are dropped.
type Worker struct {
	config    *protocol.Config
	processor DatabaseProcessor
	clock     clock.Clock
	metrics   *metrics.Collectors
	log       *slog.Logger

	running atomic.Bool
	stopped atomic.Bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	lastRun *RunReport
}

// NewWorker creates a stopped worker; call Start to schedule runs.
func NewWorker(config *protocol.Config, processor DatabaseProcessor, clk clock.Clock, collectors *metrics.Collectors, log *slog.Logger) *Worker {
	if clk == nil {
		clk = clock.New()
	}
	if collectors == nil {
		collectors = metrics.NewCollectors(common.PackageName, nil)
	}
	if log == nil {
		log = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Worker{
		config:    config,
		processor: processor,
		clock:     clk,
		metrics:   collectors,
		log:       log,
		ctx:       ctx,
		cancel:    cancel,
	}
}

// Start runs once immediately and then every BackgroundInterval until ctx
// is done or StopWork is called.
func (w *Worker) Start(ctx context.Context) {
	ticker := w.clock.Ticker(w.config.BackgroundInterval)

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer ticker.Stop()

		w.Trigger()
		for {
			select {
			case <-ctx.Done():
				return
			case <-w.ctx.Done():
				return
			case <-ticker.C:
				w.Trigger()
			}
		}
	}()
}

// Trigger starts a run in the background. It returns false when the worker
// is stopped or a run is already in progress.
func (w *Worker) Trigger() bool {
	if w.stopped.Load() {
		return false
	}
	if !w.running.CompareAndSwap(false, true) {
		w.metrics.WorkerRuns.WithLabelValues("skipped").Inc()
		w.log.Debug("background run already in progress")
		return false
	}

	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		defer w.running.Store(false)
		w.run(w.ctx)
	}()
	return true
}

// RunOnce runs synchronously on ctx. It reports false without error when
// another run is in progress.
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	if w.stopped.Load() {
		return false, ErrWorkerStopped
	}
	if !w.running.CompareAndSwap(false, true) {
		w.metrics.WorkerRuns.WithLabelValues("skipped").Inc()
		return false, nil
	}
	defer w.running.Store(false)

	return true, w.run(ctx)
}

func (w *Worker) run(ctx context.Context) error {
	report := &RunReport{StartedAt: w.clock.Now()}

	n, err := w.processor.ProcessMessagesFromDatabase(ctx, w.config.BackgroundBatchLimit)
	report.FinishedAt = w.clock.Now()
	report.Messages = n

	if err != nil {
		report.Error = err.Error()
		w.metrics.WorkerRuns.WithLabelValues(metrics.OutcomeFailure).Inc()
		w.log.Error("background run failed", "messages", n, "err", err)
	} else {
		w.metrics.WorkerRuns.WithLabelValues(metrics.OutcomeSuccess).Inc()
		if n > 0 {
			w.log.Info("background run done", "messages", n, "duration", report.FinishedAt.Sub(report.StartedAt))
		}
	}

	w.mu.Lock()
	w.lastRun = report
	w.mu.Unlock()
	return err
}

// StopWork prevents new runs and cancels the context of the current one, so
// it starts no further batches. It does not wait; see Wait.
func (w *Worker) StopWork() {
	if w.stopped.Swap(true) {
		return
	}
	w.log.Info("stopping background worker")
	w.cancel()
}

// Wait blocks until the scheduling loop and any triggered run have returned.
func (w *Worker) Wait() {
	w.wg.Wait()
}

// Running reports whether a run is in progress.
func (w *Worker) Running() bool {
	return w.running.Load()
}

// Stopped reports whether StopWork was called.
func (w *Worker) Stopped() bool {
	return w.stopped.Load()
}

// LastRun returns a copy of the last run report, or nil.
func (w *Worker) LastRun() *RunReport {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.lastRun == nil {
		return nil
	}
	r := *w.lastRun
	return &r
}
