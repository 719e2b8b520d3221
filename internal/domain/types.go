// Package domain defines the core types for evolab evolution runs.
package domain

import "time"

// Difficulty grades a Problem.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "easy"
	DifficultyMedium Difficulty = "medium"
	DifficultyHard   Difficulty = "hard"
	DifficultyExpert Difficulty = "expert"
)

// TestCase is one input/expected-output pair of a Problem.
type TestCase struct {
	Input          string `json:"input" yaml:"input"`
	ExpectedOutput string `json:"expectedOutput" yaml:"expectedOutput"`
}

// Problem is an immutable coding task specification.
type Problem struct {
	ID                string     `json:"id" yaml:"id"`
	Title             string     `json:"title" yaml:"title" validate:"required"`
	Description       string     `json:"description" yaml:"description"`
	FunctionSignature string     `json:"functionSignature" yaml:"functionSignature" validate:"required"`
	TestCases         []TestCase `json:"testCases" yaml:"testCases" validate:"required,min=1"`
	Constraints       string     `json:"constraints,omitempty" yaml:"constraints"`
	Tags              []string   `json:"tags" yaml:"tags"`
	Difficulty        Difficulty `json:"difficulty" yaml:"difficulty" validate:"oneof=easy medium hard expert"`
	CreatedAt         time.Time  `json:"createdAt" yaml:"createdAt"`
}

// TestResult is the outcome of running one test case against an Individual.
type TestResult struct {
	ID              string   `json:"id"`
	Passed          bool     `json:"passed"`
	Input           string   `json:"input"`
	ExpectedOutput  string   `json:"expectedOutput"`
	ActualOutput    string   `json:"actualOutput"`
	ExecutionTimeMs *float64 `json:"executionTime,omitempty"`
	Error           string   `json:"error,omitempty"`
}

// IndividualMetadata carries evaluation measurements of an Individual.
type IndividualMetadata struct {
	ExecutionTimeMs float64        `json:"executionTime"`
	CodeSize        int            `json:"codeSize"`
	Complexity      float64        `json:"complexity"`
	Extra           map[string]any `json:"extra,omitempty"`
}

// Individual is one candidate solution within a run.
type Individual struct {
	ID          string             `json:"id"`
	RunID       string             `json:"runId"`
	Code        string             `json:"code"`
	Fitness     float64            `json:"fitness"`
	Generation  int                `json:"generation"`
	ParentIDs   []string           `json:"parentIds"`
	CreatedAt   time.Time          `json:"createdAt"`
	TestResults []TestResult       `json:"testResults"`
	Metadata    IndividualMetadata `json:"metadata"`
}

// RunState is the lifecycle state of an evolution run.
type RunState string

const (
	StateIdle      RunState = "idle"
	StateRunning   RunState = "running"
	StatePaused    RunState = "paused"
	StateCompleted RunState = "completed"
	StateError     RunState = "error"
)

// Terminal reports whether no further transition may leave the state.
func (s RunState) Terminal() bool {
	return s == StateCompleted || s == StateError
}

// EvolutionStatus is an immutable snapshot of run progress.
// Consumers replace it; they never mutate one in place.
type EvolutionStatus struct {
	State             RunState `json:"status"`
	CurrentGeneration int      `json:"currentGeneration"`
	PopulationSize    int      `json:"populationSize"`
	BestFitness       float64  `json:"bestFitness"`
	AverageFitness    float64  `json:"averageFitness"`
	DiversityIndex    float64  `json:"diversityIndex"`
	ElapsedTimeMs     int64    `json:"elapsedTime"`
	APICallsMade      int      `json:"apiCallsMade"`
	ErrorMessage      string   `json:"errorMessage,omitempty"`
}

// EvolutionRun is the mutable state of one evolutionary session against one Problem.
type EvolutionRun struct {
	ID                  string              `json:"id"`
	ProblemID           string              `json:"problemId"`
	SessionID           string              `json:"sessionId"`
	Status              EvolutionStatus     `json:"status"`
	Parameters          EvolutionParameters `json:"parameters"`
	StartedAt           time.Time           `json:"startedAt"`
	CompletedAt         *time.Time          `json:"completedAt,omitempty"`
	BestIndividualID    string              `json:"bestIndividualId,omitempty"`
	GenerationsRecorded int                 `json:"generationsRecorded"`
	StateVersion        int64               `json:"stateVersion"`
}

// Active reports whether the run is running or paused.
func (r *EvolutionRun) Active() bool {
	return r.Status.State == StateRunning || r.Status.State == StatePaused
}

// LogType classifies a LogEntry.
type LogType string

const (
	LogInfo    LogType = "info"
	LogWarning LogType = "warning"
	LogError   LogType = "error"
	LogSuccess LogType = "success"
)

// LogEntry is an append-only run log record.
type LogEntry struct {
	ID         string    `json:"id"`
	Seq        int64     `json:"seq"`
	Timestamp  time.Time `json:"timestamp"`
	Type       LogType   `json:"type"`
	Message    string    `json:"message"`
	Details    string    `json:"details,omitempty"`
	RunID      string    `json:"evolutionRunId"`
	Generation *int      `json:"generation,omitempty"`
}

// EvolutionMetrics is the per-generation metrics record of a run.
type EvolutionMetrics struct {
	RunID            string    `json:"evolutionRunId"`
	Generation       int       `json:"generation"`
	BestFitness      float64   `json:"bestFitness"`
	AverageFitness   float64   `json:"averageFitness"`
	DiversityIndex   float64   `json:"diversityIndex"`
	TotalIndividuals int       `json:"totalIndividuals"`
	APICallsMade     int       `json:"apiCallsMade"`
	Timestamp        time.Time `json:"timestamp"`
}

// Trigger names the cause of a run transition.
type Trigger string

const (
	TriggerStarted    Trigger = "started"
	TriggerPaused     Trigger = "paused"
	TriggerResumed    Trigger = "resumed"
	TriggerStopped    Trigger = "stopped"
	TriggerGeneration Trigger = "generation"
	TriggerCompleted  Trigger = "completed"
	TriggerFailed     Trigger = "failed"
)

// StatusSnapshot captures the EvolutionStatus produced by one transition.
type StatusSnapshot struct {
	ID        int64           `json:"id"`
	RunID     string          `json:"evolutionRunId"`
	Seq       int64           `json:"seq"`
	Trigger   Trigger         `json:"trigger"`
	Status    EvolutionStatus `json:"status"`
	Checksum  string          `json:"checksum"`
	CreatedAt time.Time       `json:"createdAt"`
}

// Session is the controlling context of run transitions.
// CurrentRunID is empty when the session has no active run.
type Session struct {
	ID           string    `json:"id"`
	CurrentRunID string    `json:"currentRunId,omitempty"`
	UpdatedAt    time.Time `json:"updatedAt"`
}

// GenerationReport is what an engine produces at a generation boundary.
type GenerationReport struct {
	Generation  int          `json:"generation"`
	Individuals []Individual `json:"individuals"`
	// APICalls and ElapsedMs are deltas for this generation.
	APICalls  int        `json:"apiCalls"`
	ElapsedMs int64      `json:"elapsedMs"`
	Logs      []LogEntry `json:"logs,omitempty"`
}

// DashboardSummary aggregates catalog and run totals.
type DashboardSummary struct {
	TotalProblems  int       `json:"totalProblems"`
	TotalRuns      int       `json:"totalRuns"`
	ActiveRuns     int       `json:"activeRuns"`
	CompletedRuns  int       `json:"completedRuns"`
	SuccessRate    float64   `json:"successRate"`
	RecentProblems []Problem `json:"recentProblems"`
}
