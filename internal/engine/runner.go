package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/workflow"
)

// StepRecorder receives the outcome of every engine step.
type StepRecorder interface {
	ObserveStep(model domain.Model, elapsed time.Duration, err error)
}

// Runner advances running runs. It observes the controller: a start or resume
// launches one driver goroutine per run, and any transition that leaves
// running cancels it. A canceled step's report is discarded.
type Runner struct {
	Controller *workflow.Controller
	Engines    *Registry
	Limiter    *rate.Limiter
	Recorder   StepRecorder
	Logger     *slog.Logger

	base    context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.Mutex
	drivers map[string]*driver
	// versions holds the newest state version seen per run, so a
	// notification delivered late never undoes a newer one.
	versions map[string]int64
	seq      uint64
}

type driver struct {
	id     uint64
	cancel context.CancelFunc
}

// NewRunner creates a Runner and subscribes it to ctrl. stepsPerMinute <= 0
// disables rate limiting.
func NewRunner(ctrl *workflow.Controller, engines *Registry, stepsPerMinute int, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	limit := rate.Inf
	if stepsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(stepsPerMinute))
	}
	base, cancel := context.WithCancel(context.Background())
	r := &Runner{
		Controller: ctrl,
		Engines:    engines,
		Limiter:    rate.NewLimiter(limit, 1),
		Logger:     logger,
		base:       base,
		cancel:     cancel,
		drivers:    make(map[string]*driver),
		versions:   make(map[string]int64),
	}
	ctrl.Subscribe(r)
	return r
}

// OnTransition implements workflow.Observer.
// Notifications older than one already applied for the run are ignored.
func (r *Runner) OnTransition(_ context.Context, run domain.EvolutionRun, trigger domain.Trigger) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if run.StateVersion <= r.versions[run.ID] {
		r.Logger.Debug("stale transition ignored", "run_id", run.ID, "trigger", trigger, "version", run.StateVersion)
		return
	}
	r.versions[run.ID] = run.StateVersion

	switch trigger {
	case domain.TriggerStarted, domain.TriggerResumed:
		r.launch(run.ID)
	case domain.TriggerGeneration:
	default:
		r.halt(run.ID)
		if run.Status.State.Terminal() {
			delete(r.versions, run.ID)
		}
	}
}

// Active reports whether a driver is running for runID.
func (r *Runner) Active(runID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.drivers[runID]
	return ok
}

// Close cancels every driver and waits for them to exit.
func (r *Runner) Close() {
	r.cancel()
	r.wg.Wait()
}

// launch and halt require r.mu.
func (r *Runner) launch(runID string) {
	if r.base.Err() != nil {
		return
	}
	if d, ok := r.drivers[runID]; ok {
		d.cancel()
	}
	r.seq++
	ctx, cancel := context.WithCancel(r.base)
	d := &driver{id: r.seq, cancel: cancel}
	r.drivers[runID] = d

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.release(runID, d)
		r.drive(ctx, runID)
	}()
}

func (r *Runner) halt(runID string) {
	if d, ok := r.drivers[runID]; ok {
		d.cancel()
		delete(r.drivers, runID)
	}
}

func (r *Runner) release(runID string, d *driver) {
	d.cancel()
	r.mu.Lock()
	defer r.mu.Unlock()
	if cur, ok := r.drivers[runID]; ok && cur.id == d.id {
		delete(r.drivers, runID)
	}
}

// drive loops Step then RecordGeneration until the run leaves running or ctx
// is canceled.
func (r *Runner) drive(ctx context.Context, runID string) {
	log := r.Logger.With("run_id", runID)
	for {
		run, err := r.Controller.Get(ctx, runID)
		if err != nil {
			if ctx.Err() == nil {
				log.Error("load run", "error", err)
			}
			return
		}
		if run.Status.State != domain.StateRunning {
			return
		}
		eng, err := r.Engines.Get(run.Parameters.Model)
		if err != nil {
			// Runs without an in-process engine advance through reported generations.
			log.Info("no in-process engine, awaiting external reports", "model", run.Parameters.Model)
			return
		}
		if err := r.Limiter.Wait(ctx); err != nil {
			return
		}

		req, err := r.prepare(ctx, *run)
		if err != nil {
			if ctx.Err() == nil {
				r.fail(runID, err)
			}
			return
		}

		started := time.Now()
		report, err := eng.Step(ctx, req)
		if ctx.Err() != nil {
			log.Debug("step discarded", "generation", req.Generation)
			return
		}
		if r.Recorder != nil {
			r.Recorder.ObserveStep(run.Parameters.Model, time.Since(started), err)
		}
		if err != nil {
			r.fail(runID, err)
			return
		}

		if _, err := r.Controller.RecordGeneration(ctx, runID, report); err != nil {
			switch {
			case ctx.Err() != nil:
			case errors.Is(err, domain.ErrInvalidState):
				log.Debug("run left running during step", "error", err)
			default:
				r.fail(runID, err)
			}
			return
		}
	}
}

func (r *Runner) prepare(ctx context.Context, run domain.EvolutionRun) (StepRequest, error) {
	problem, err := r.Controller.Problems.GetByID(ctx, r.Controller.DB, run.ProblemID)
	if err != nil {
		return StepRequest{}, err
	}
	req := StepRequest{Run: run, Problem: *problem, Generation: run.GenerationsRecorded}
	if req.Generation > 0 {
		req.Population, err = r.Controller.Individuals.ListByGeneration(ctx, r.Controller.DB, run.ID, req.Generation-1)
		if err != nil {
			return StepRequest{}, err
		}
	}
	return req, nil
}

func (r *Runner) fail(runID string, cause error) {
	r.Logger.Warn("engine step failed", "run_id", runID, "error", cause)
	if _, err := r.Controller.Fail(context.WithoutCancel(r.base), runID, cause); err != nil && !errors.Is(err, domain.ErrInvalidState) {
		r.Logger.Error("fail run", "run_id", runID, "error", err)
	}
}
