package engine

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/evolab/evolab/internal/domain"
)

// maxLineBytes bounds one JSON line read from an engine process.
const maxLineBytes = 4 << 20

// ProcessSpec describes an external command speaking the engine line protocol:
// one JSON request on stdin, then JSON lines on stdout of type "log",
// "result" or "error".
type ProcessSpec struct {
	Command string
	Args    []string
	Env     map[string]string
	Timeout time.Duration
}

// processEvent is one stdout line of an engine process.
type processEvent struct {
	Type    string          `json:"type"`
	Level   string          `json:"level,omitempty"`
	Message string          `json:"message,omitempty"`
	Data    json.RawMessage `json:"data,omitempty"`
}

func parseEvent(line []byte) (processEvent, error) {
	var ev processEvent
	if err := json.Unmarshal(line, &ev); err != nil {
		return processEvent{}, err
	}
	if ev.Type == "" {
		return processEvent{}, fmt.Errorf("event has no type field")
	}
	return ev, nil
}

// call runs spec with request on stdin and decodes the "result" event into out.
// Unparseable lines are skipped; "log" lines go to logger.
func call(ctx context.Context, spec ProcessSpec, logger *slog.Logger, request, out any) error {
	if spec.Command == "" {
		return domain.WrapError(domain.ErrEngineUnavailable.Code, "engine command is empty", nil)
	}
	if spec.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, spec.Timeout)
		defer cancel()
	}

	payload, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("encode engine request: %w", err)
	}

	cmd := exec.CommandContext(ctx, spec.Command, spec.Args...)
	cmd.Env = os.Environ()
	for k, v := range spec.Env {
		cmd.Env = append(cmd.Env, k+"="+v)
	}
	cmd.Stdin = bytes.NewReader(append(payload, '\n'))
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return domain.WrapError(domain.ErrEngineUnavailable.Code, "start "+spec.Command, err)
	}

	var result json.RawMessage
	var failure string
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		ev, err := parseEvent(scanner.Bytes())
		if err != nil {
			continue
		}
		switch ev.Type {
		case "log":
			logger.Debug("engine process", "command", spec.Command, "level", ev.Level, "message", ev.Message)
		case "result":
			result = append(json.RawMessage(nil), ev.Data...)
		case "error":
			failure = ev.Message
		}
	}
	scanErr := scanner.Err()
	if scanErr != nil {
		// Wait must not run while the child can still block on a full stdout pipe.
		_ = cmd.Process.Kill()
		_, _ = io.Copy(io.Discard, stdout)
	}
	waitErr := cmd.Wait()

	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return domain.WrapError(domain.ErrEngineTimeout.Code, spec.Command, ctx.Err())
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if scanErr != nil {
		return domain.WrapError(domain.ErrEngineInvalidResponse.Code, "read engine output", scanErr)
	}
	if failure != "" {
		return domain.WrapError(domain.ErrEngineFailed.Code, spec.Command+": "+failure, nil)
	}
	if waitErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = waitErr.Error()
		}
		return domain.WrapError(domain.ErrEngineFailed.Code, spec.Command+" exited: "+msg, nil)
	}
	if result == nil {
		return domain.WrapError(domain.ErrEngineInvalidResponse.Code, spec.Command+" produced no result", nil)
	}
	if err := json.Unmarshal(result, out); err != nil {
		return domain.WrapError(domain.ErrEngineInvalidResponse.Code, "decode engine result", err)
	}
	return nil
}

// ProcessCoder is a Coder backed by an external command.
type ProcessCoder struct {
	Spec   ProcessSpec
	Logger *slog.Logger
}

type completeRequest struct {
	Kind string `json:"kind"`
	CompletionRequest
}

// Complete implements Coder. The result event carries {"text": "..."}.
func (c *ProcessCoder) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	var out struct {
		Text string `json:"text"`
	}
	if err := call(ctx, c.Spec, loggerOrDefault(c.Logger), completeRequest{Kind: "complete", CompletionRequest: req}, &out); err != nil {
		return "", err
	}
	return out.Text, nil
}

// ProcessEvaluator is an Evaluator backed by an external sandbox command.
type ProcessEvaluator struct {
	Spec   ProcessSpec
	Logger *slog.Logger
}

type evaluateRequest struct {
	Kind              string            `json:"kind"`
	Code              string            `json:"code"`
	FunctionSignature string            `json:"functionSignature"`
	TestCases         []domain.TestCase `json:"testCases"`
}

// Evaluate implements Evaluator. The result event carries {"testResults": [...]}
// with one entry per test case, in order.
func (e *ProcessEvaluator) Evaluate(ctx context.Context, problem domain.Problem, code string) ([]domain.TestResult, error) {
	req := evaluateRequest{
		Kind:              "evaluate",
		Code:              code,
		FunctionSignature: problem.FunctionSignature,
		TestCases:         problem.TestCases,
	}
	var out struct {
		TestResults []domain.TestResult `json:"testResults"`
	}
	if err := call(ctx, e.Spec, loggerOrDefault(e.Logger), req, &out); err != nil {
		return nil, err
	}
	if len(out.TestResults) != len(problem.TestCases) {
		return nil, domain.WrapError(domain.ErrEngineInvalidResponse.Code,
			fmt.Sprintf("evaluator returned %d results for %d test cases", len(out.TestResults), len(problem.TestCases)), nil)
	}
	for i := range out.TestResults {
		r := &out.TestResults[i]
		tc := problem.TestCases[i]
		if r.Input == "" {
			r.Input = tc.Input
		}
		if r.ExpectedOutput == "" {
			r.ExpectedOutput = tc.ExpectedOutput
		}
		if r.Passed {
			r.Error = ""
		}
	}
	return out.TestResults, nil
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
