package workflow

// UsageAction is the governor's verdict on a run's API call count.
type UsageAction int

const (
	UsageContinue UsageAction = iota
	UsageWarn
	UsageHalt
)

func (a UsageAction) String() string {
	switch a {
	case UsageWarn:
		return "warn"
	case UsageHalt:
		return "halt"
	default:
		return "continue"
	}
}

// UsageGovernor enforces a per-run cap on model API calls.
type UsageGovernor struct {
	// MaxCalls is the per-run cap. Zero or less disables the governor.
	MaxCalls int
	// WarnRatio is the fraction of MaxCalls at which a warning is issued (default 0.8).
	WarnRatio float64
	// HaltRatio is the fraction of MaxCalls at which the run is failed (default 1.0).
	HaltRatio float64
}

// NewUsageGovernor creates a governor with standard thresholds.
func NewUsageGovernor(maxCalls int) *UsageGovernor {
	return &UsageGovernor{
		MaxCalls:  maxCalls,
		WarnRatio: 0.8,
		HaltRatio: 1.0,
	}
}

// Evaluate classifies a move from before to after API calls. UsageWarn is
// returned only for the generation that crosses the warn threshold, so a run
// is warned once.
func (g *UsageGovernor) Evaluate(before, after int) UsageAction {
	if g == nil || g.MaxCalls <= 0 {
		return UsageContinue
	}
	afterRatio := float64(after) / float64(g.MaxCalls)
	if afterRatio >= g.HaltRatio {
		return UsageHalt
	}
	beforeRatio := float64(before) / float64(g.MaxCalls)
	if afterRatio >= g.WarnRatio && beforeRatio < g.WarnRatio {
		return UsageWarn
	}
	return UsageContinue
}
