package engine

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/evolab/evolab/internal/domain"
)

var fencedBlock = regexp.MustCompile("(?s)```[a-zA-Z0-9_+-]*\\s*\\n(.*?)```")

// ExtractCode returns the first fenced code block of a completion, or the
// trimmed completion when it has none.
func ExtractCode(completion string) string {
	if m := fencedBlock.FindStringSubmatch(completion); m != nil {
		return strings.TrimSpace(m[1])
	}
	return strings.TrimSpace(completion)
}

// InitialPrompt asks for a fresh solution of p.
func InitialPrompt(p domain.Problem) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Write a Python function that solves the following problem: %s\n", p.Description)
	fmt.Fprintf(&b, "Implement the function with the signature: %s\n", p.FunctionSignature)
	if p.Constraints != "" {
		fmt.Fprintf(&b, "Constraints: %s\n", p.Constraints)
	}
	writeExamples(&b, p.TestCases)
	b.WriteString("Output only the Python code for the function within a single triple backtick block.\n")
	return b.String()
}

// EvolvePrompt asks for an offspring that improves on parents.
func EvolvePrompt(p domain.Problem, parents []domain.Individual) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert programmer and algorithm designer. Write a new Python program that solves this problem:\n%s\n\n", p.Description)
	if len(parents) > 0 {
		b.WriteString("Here are existing attempts (parent programs):\n")
		for i, parent := range parents {
			fmt.Fprintf(&b, "Parent Program %d:\n```python\n%s\n```\nFitness: %.2f\n", i+1, parent.Code, parent.Fitness)
			if failures := failedTests(parent.TestResults); failures != "" {
				fmt.Fprintf(&b, "Failed tests:\n%s", failures)
			}
		}
	}
	fmt.Fprintf(&b, "\nThe new program must implement the function: %s\n", p.FunctionSignature)
	b.WriteString("Learn from the strengths and weaknesses of the parents, combine good ideas, and avoid their errors.\n")
	b.WriteString("Output only the Python code for the function, including necessary imports, within a single triple backtick block.\n")
	return b.String()
}

// CorrectionPrompt asks for a fix of code given its failing test results.
func CorrectionPrompt(p domain.Problem, code string, results []domain.TestResult) string {
	var b strings.Builder
	fmt.Fprintf(&b, "You are an expert Python debugger. The following code is intended to solve this problem: %q by implementing `%s`.\n", p.Description, p.FunctionSignature)
	fmt.Fprintf(&b, "However, it has issues.\n\nProblematic Code:\n```python\n%s\n```\n\n", code)
	failures := failedTests(results)
	if failures == "" {
		failures = "No specific error details provided.\n"
	}
	fmt.Fprintf(&b, "When tested, it failed these test cases:\n%s\n", failures)
	b.WriteString("Provide a corrected version of the function. Output only the Python code within a single triple backtick block.\n")
	return b.String()
}

func writeExamples(b *strings.Builder, cases []domain.TestCase) {
	if len(cases) == 0 {
		return
	}
	b.WriteString("Examples:\n")
	for _, tc := range cases {
		fmt.Fprintf(b, "- input %s -> %s\n", tc.Input, tc.ExpectedOutput)
	}
}

func failedTests(results []domain.TestResult) string {
	var b strings.Builder
	for _, r := range results {
		if r.Passed {
			continue
		}
		fmt.Fprintf(&b, "- input %s: expected %s, got %s", r.Input, r.ExpectedOutput, r.ActualOutput)
		if r.Error != "" {
			fmt.Fprintf(&b, " (error: %s)", r.Error)
		}
		b.WriteString("\n")
	}
	return b.String()
}
