package workflow

import "testing"

func TestUsageGovernor_Evaluate(t *testing.T) {
	tests := []struct {
		name     string
		max      int
		before   int
		after    int
		expected UsageAction
	}{
		{"well_under_budget", 100, 0, 10, UsageContinue},
		{"at_79_percent", 100, 70, 79, UsageContinue},
		{"crossing_80_percent_warn", 100, 70, 80, UsageWarn},
		{"already_warned", 100, 80, 90, UsageContinue},
		{"at_100_percent_halt", 100, 90, 100, UsageHalt},
		{"over_budget_halt", 100, 90, 120, UsageHalt},
		{"zero_cap_continue", 0, 500, 1000, UsageContinue},
		{"zero_used_continue", 100, 0, 0, UsageContinue},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gov := NewUsageGovernor(tt.max)
			if got := gov.Evaluate(tt.before, tt.after); got != tt.expected {
				t.Errorf("Evaluate(%d, %d) = %v, want %v", tt.before, tt.after, got, tt.expected)
			}
		})
	}
}

func TestUsageGovernor_NilIsUnlimited(t *testing.T) {
	var gov *UsageGovernor
	if got := gov.Evaluate(0, 1_000_000); got != UsageContinue {
		t.Errorf("nil governor = %v, want continue", got)
	}
}
