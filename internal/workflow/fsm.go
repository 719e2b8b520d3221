package workflow

import (
	"context"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/evolab/evolab/internal/domain"
	"github.com/evolab/evolab/internal/store"
)

// validTransitions defines the legal run state transitions.
// running -> running is a recorded generation.
var validTransitions = map[domain.RunState]map[domain.RunState]bool{
	domain.StateIdle:    {domain.StateRunning: true},
	domain.StateRunning: {domain.StateRunning: true, domain.StatePaused: true, domain.StateCompleted: true, domain.StateError: true},
	domain.StatePaused:  {domain.StateRunning: true, domain.StateCompleted: true, domain.StateError: true},
}

// IsValidTransition checks if a run state transition is legal.
func IsValidTransition(from, to domain.RunState) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	return targets[to]
}

// Controller is the run state machine. Every transition is committed in one
// transaction with optimistic locking; writes are serialized per session and
// per run, always acquiring the session lock first.
type Controller struct {
	DB           *sql.DB
	Problems     *store.ProblemRepo
	Sessions     *store.SessionRepo
	Runs         *store.RunRepo
	Individuals  *store.IndividualRepo
	Metrics      *store.MetricsRepo
	Logs         *store.LogRepo
	Snapshots    *store.SnapshotRepo
	Gates        []Gate
	Governor     *UsageGovernor
	Logger       *slog.Logger
	Now          func() time.Time
	sessionLocks *keyedMutex
	runLocks     *keyedMutex

	mu        sync.RWMutex
	observers []Observer
}

// NewController creates a controller with all dependencies and the default gates.
func NewController(db *sql.DB, governor *UsageGovernor, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		DB:           db,
		Problems:     &store.ProblemRepo{},
		Sessions:     &store.SessionRepo{},
		Runs:         &store.RunRepo{},
		Individuals:  &store.IndividualRepo{},
		Metrics:      &store.MetricsRepo{},
		Logs:         &store.LogRepo{},
		Snapshots:    &store.SnapshotRepo{},
		Gates:        DefaultGates(),
		Governor:     governor,
		Logger:       logger,
		Now:          time.Now,
		sessionLocks: newKeyedMutex(),
		runLocks:     newKeyedMutex(),
	}
}

// Subscribe registers an observer for committed transitions.
func (c *Controller) Subscribe(o Observer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observers = append(c.observers, o)
}

func (c *Controller) notify(ctx context.Context, run domain.EvolutionRun, trigger domain.Trigger) {
	c.mu.RLock()
	observers := append([]Observer(nil), c.observers...)
	c.mu.RUnlock()
	for _, o := range observers {
		o.OnTransition(ctx, run, trigger)
	}
}

// now returns the controller clock truncated to the stored precision.
func (c *Controller) now() time.Time {
	return c.Now().UTC().Truncate(time.Millisecond)
}

// Start creates a running run for problemID in the session.
func (c *Controller) Start(ctx context.Context, sessionID, problemID string, params domain.EvolutionParameters) (*domain.EvolutionRun, error) {
	run, err := c.start(ctx, sessionID, problemID, params)
	if err != nil {
		return nil, err
	}
	c.notify(ctx, *run, domain.TriggerStarted)
	return run, nil
}

func (c *Controller) start(ctx context.Context, sessionID, problemID string, params domain.EvolutionParameters) (*domain.EvolutionRun, error) {
	if sessionID == "" {
		return nil, domain.Validationf("session id is required")
	}
	if err := params.Validate(); err != nil {
		return nil, err
	}

	unlock := c.sessionLocks.Lock(sessionID)
	defer unlock()

	if active, err := c.activeRun(ctx, sessionID); err != nil {
		return nil, err
	} else if active != nil {
		return nil, domain.WrapError(domain.ErrRunActive.Code,
			fmt.Sprintf("session %s already has active run %s", sessionID, active.ID), nil)
	}

	if _, err := c.Problems.GetByID(ctx, c.DB, problemID); err != nil {
		return nil, err
	}

	now := c.now()
	run := domain.EvolutionRun{
		ID:        "run-" + uuid.NewString(),
		ProblemID: problemID,
		SessionID: sessionID,
		Status: domain.EvolutionStatus{
			State:          domain.StateRunning,
			PopulationSize: params.PopulationSize,
			DiversityIndex: 1.0,
		},
		Parameters:   params,
		StartedAt:    now,
		StateVersion: 1,
	}

	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if err := c.Runs.CreateTx(ctx, tx, run); err != nil {
		return nil, domain.WrapError(domain.ErrStoreWrite.Code, "create run", err)
	}
	entry := c.logEntry(run.ID, domain.LogInfo, now,
		fmt.Sprintf("Evolution started for problem %s", problemID), run.Parameters.Selection.String(), nil)
	if err := c.Logs.AppendTx(ctx, tx, entry); err != nil {
		return nil, domain.WrapError(domain.ErrStoreWrite.Code, "append start log", err)
	}
	if err := c.saveSnapshot(ctx, tx, run, domain.TriggerStarted, now); err != nil {
		return nil, err
	}
	if err := c.Sessions.SetCurrentRunTx(ctx, tx, sessionID, run.ID, now); err != nil {
		return nil, domain.WrapError(domain.ErrStoreWrite.Code, "set session run", err)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}

	c.Logger.Info("run started", "run_id", run.ID, "session_id", sessionID, "problem_id", problemID)
	return &run, nil
}

// Pause freezes the session's running run.
func (c *Controller) Pause(ctx context.Context, sessionID string) (*domain.EvolutionRun, error) {
	return c.sessionTransition(ctx, sessionID, domain.TriggerPaused, func(run domain.EvolutionRun, now time.Time) (*transition, error) {
		if run.Status.State != domain.StateRunning {
			return nil, domain.InvalidStatef("cannot pause run %s in state %s", run.ID, run.Status.State)
		}
		next := run
		next.Status.State = domain.StatePaused
		return &transition{
			next: next,
			logs: []domain.LogEntry{c.logEntry(run.ID, domain.LogInfo, now, "Evolution paused", "", nil)},
		}, nil
	})
}

// Resume continues the session's paused run.
func (c *Controller) Resume(ctx context.Context, sessionID string) (*domain.EvolutionRun, error) {
	return c.sessionTransition(ctx, sessionID, domain.TriggerResumed, func(run domain.EvolutionRun, now time.Time) (*transition, error) {
		if run.Status.State != domain.StatePaused {
			return nil, domain.InvalidStatef("cannot resume run %s in state %s", run.ID, run.Status.State)
		}
		next := run
		next.Status.State = domain.StateRunning
		return &transition{
			next: next,
			logs: []domain.LogEntry{c.logEntry(run.ID, domain.LogInfo, now, "Evolution resumed", "", nil)},
		}, nil
	})
}

// Stop completes the session's running or paused run.
func (c *Controller) Stop(ctx context.Context, sessionID string) (*domain.EvolutionRun, error) {
	return c.sessionTransition(ctx, sessionID, domain.TriggerStopped, func(run domain.EvolutionRun, now time.Time) (*transition, error) {
		if !run.Active() {
			return nil, domain.InvalidStatef("cannot stop run %s in state %s", run.ID, run.Status.State)
		}
		next := run
		next.Status.State = domain.StateCompleted
		next.CompletedAt = &now
		return &transition{
			next:         next,
			logs:         []domain.LogEntry{c.logEntry(run.ID, domain.LogInfo, now, "Evolution stopped", "", nil)},
			clearSession: true,
		}, nil
	})
}

// Fail moves a running or paused run to error. Data already appended stays.
func (c *Controller) Fail(ctx context.Context, runID string, cause error) (*domain.EvolutionRun, error) {
	message := "engine failure"
	var derr *domain.Error
	switch {
	case errors.As(cause, &derr):
		message = derr.Message
	case cause != nil && cause.Error() != "":
		message = cause.Error()
	}
	return c.runTransition(ctx, runID, domain.TriggerFailed, func(run domain.EvolutionRun, now time.Time) (*transition, error) {
		if !run.Active() {
			return nil, domain.InvalidStatef("cannot fail run %s in state %s", run.ID, run.Status.State)
		}
		return c.fail(&transition{next: run}, now, message), nil
	})
}

// Current returns the session's active run, or nil when the session is idle.
func (c *Controller) Current(ctx context.Context, sessionID string) (*domain.EvolutionRun, error) {
	return c.activeRun(ctx, sessionID)
}

// Get returns a run by id.
func (c *Controller) Get(ctx context.Context, runID string) (*domain.EvolutionRun, error) {
	return c.Runs.GetByID(ctx, c.DB, runID)
}

func (c *Controller) activeRun(ctx context.Context, sessionID string) (*domain.EvolutionRun, error) {
	session, err := c.Sessions.Get(ctx, c.DB, sessionID)
	if err != nil {
		return nil, domain.WrapError(domain.ErrStoreQuery.Code, "load session", err)
	}
	if session.CurrentRunID == "" {
		return nil, nil
	}
	run, err := c.Runs.GetByID(ctx, c.DB, session.CurrentRunID)
	if err != nil {
		return nil, err
	}
	if !run.Active() {
		return nil, nil
	}
	return run, nil
}

// transition is one committed state change with the records it appends.
type transition struct {
	next         domain.EvolutionRun
	trigger      domain.Trigger
	logs         []domain.LogEntry
	individuals  []domain.Individual
	metrics      *domain.EvolutionMetrics
	clearSession bool
}

type planFunc func(run domain.EvolutionRun, now time.Time) (*transition, error)

func (c *Controller) sessionTransition(ctx context.Context, sessionID string, trigger domain.Trigger, plan planFunc) (*domain.EvolutionRun, error) {
	run, err := func() (*committedRun, error) {
		unlock := c.sessionLocks.Lock(sessionID)
		defer unlock()

		active, err := c.activeRun(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if active == nil {
			return nil, domain.WrapError(domain.ErrNoActiveRun.Code,
				fmt.Sprintf("session %s has no active run", sessionID), nil)
		}
		return c.lockedTransition(ctx, active.ID, trigger, plan)
	}()
	if err != nil {
		return nil, err
	}
	c.notify(ctx, run.EvolutionRun, run.lastTrigger(trigger))
	return &run.EvolutionRun, nil
}

func (c *Controller) runTransition(ctx context.Context, runID string, trigger domain.Trigger, plan planFunc) (*domain.EvolutionRun, error) {
	run, err := c.lockedTransition(ctx, runID, trigger, plan)
	if err != nil {
		return nil, err
	}
	c.notify(ctx, run.EvolutionRun, run.lastTrigger(trigger))
	return &run.EvolutionRun, nil
}

// committedRun is a run after commit together with the trigger actually applied.
type committedRun struct {
	domain.EvolutionRun
	trigger domain.Trigger
}

func (r *committedRun) lastTrigger(fallback domain.Trigger) domain.Trigger {
	if r.trigger != "" {
		return r.trigger
	}
	return fallback
}

func (c *Controller) lockedTransition(ctx context.Context, runID string, trigger domain.Trigger, plan planFunc) (*committedRun, error) {
	unlock := c.runLocks.Lock(runID)
	defer unlock()

	run, err := c.Runs.GetByID(ctx, c.DB, runID)
	if err != nil {
		return nil, err
	}
	if run.Status.State.Terminal() {
		return nil, domain.WrapError(domain.ErrRunTerminal.Code,
			fmt.Sprintf("run %s is already %s", run.ID, run.Status.State), nil)
	}

	now := c.now()
	t, err := plan(*run, now)
	if err != nil {
		return nil, err
	}
	if t.trigger == "" {
		t.trigger = trigger
	}
	if !IsValidTransition(run.Status.State, t.next.Status.State) {
		return nil, domain.InvalidStatef("illegal transition %s -> %s", run.Status.State, t.next.Status.State)
	}
	if err := c.commit(ctx, *run, t, now); err != nil {
		return nil, err
	}

	next := t.next
	next.StateVersion = run.StateVersion + 1
	c.Logger.Info("run transition",
		"run_id", run.ID,
		"trigger", t.trigger,
		"from", run.Status.State,
		"to", next.Status.State,
		"generation", next.Status.CurrentGeneration,
	)
	return &committedRun{EvolutionRun: next, trigger: t.trigger}, nil
}

func (c *Controller) commit(ctx context.Context, prev domain.EvolutionRun, t *transition, now time.Time) error {
	tx, err := c.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for _, ind := range t.individuals {
		if err := c.Individuals.InsertTx(ctx, tx, ind); err != nil {
			return domain.WrapError(domain.ErrStoreWrite.Code, "append individual", err)
		}
	}
	if t.metrics != nil {
		if err := c.Metrics.InsertTx(ctx, tx, *t.metrics); err != nil {
			return domain.WrapError(domain.ErrStoreWrite.Code, "append metrics", err)
		}
	}
	for _, entry := range t.logs {
		if err := c.Logs.AppendTx(ctx, tx, entry); err != nil {
			return domain.WrapError(domain.ErrStoreWrite.Code, "append log", err)
		}
	}
	if err := c.saveSnapshot(ctx, tx, t.next, t.trigger, now); err != nil {
		return err
	}

	next := t.next
	next.StateVersion = prev.StateVersion
	if err := c.Runs.UpdateTx(ctx, tx, next); err != nil {
		return err
	}
	if t.clearSession {
		if err := c.Sessions.ClearRunTx(ctx, tx, prev.ID, now); err != nil {
			return domain.WrapError(domain.ErrStoreWrite.Code, "clear session run", err)
		}
	}
	return tx.Commit()
}

func (c *Controller) saveSnapshot(ctx context.Context, tx *sql.Tx, run domain.EvolutionRun, trigger domain.Trigger, now time.Time) error {
	checksum, err := statusChecksum(run.Status)
	if err != nil {
		return err
	}
	snap := domain.StatusSnapshot{
		RunID:     run.ID,
		Trigger:   trigger,
		Status:    run.Status,
		Checksum:  checksum,
		CreatedAt: now,
	}
	if _, err := c.Snapshots.SaveTx(ctx, tx, snap); err != nil {
		return domain.WrapError(domain.ErrStoreWrite.Code, "save snapshot", err)
	}
	return nil
}

// fail turns t into the transition to error with the given message.
func (c *Controller) fail(t *transition, now time.Time, message string) *transition {
	t.next.Status.State = domain.StateError
	t.next.Status.ErrorMessage = message
	t.next.CompletedAt = &now
	t.trigger = domain.TriggerFailed
	t.clearSession = true
	t.logs = append(t.logs, c.logEntry(t.next.ID, domain.LogError, now, "Evolution failed", message, nil))
	return t
}

func (c *Controller) logEntry(runID string, typ domain.LogType, now time.Time, message, details string, generation *int) domain.LogEntry {
	return domain.LogEntry{
		ID:         uuid.NewString(),
		Timestamp:  now,
		Type:       typ,
		Message:    message,
		Details:    details,
		RunID:      runID,
		Generation: generation,
	}
}

// statusChecksum is the BLAKE2b-256 digest of the status's JSON encoding.
func statusChecksum(status domain.EvolutionStatus) (string, error) {
	data, err := json.Marshal(status)
	if err != nil {
		return "", fmt.Errorf("encode status: %w", err)
	}
	sum := blake2b.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
