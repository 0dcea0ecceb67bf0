// Package agent runs AI canvas commands as an event stream: a planner
// turns the prompt into tool calls, the toolbox executes them through the
// mutation layer, and progress is reported as server-sent events.
package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"collabcanvas/api/internal/command"
	"collabcanvas/api/internal/logging"
	"collabcanvas/api/internal/metrics"
	"collabcanvas/api/internal/util"
)

// Request is the body of an agent command.
type Request struct {
	Prompt    string         `json:"prompt"`
	Composite string         `json:"composite,omitempty"`
	Origin    *command.Point `json:"origin,omitempty"`
	Width     *float64       `json:"width,omitempty"`
	Calls     []ToolCall     `json:"calls,omitempty"`
}

func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return &command.ValidationError{Field: "prompt", Reason: "is required"}
	}
	return nil
}

// Planner turns a request into the tool calls that carry it out.
type Planner interface {
	Plan(ctx context.Context, req Request) ([]ToolCall, error)
}

var ErrNoPlan = errors.New("no plan for prompt")

// RequestPlanner plans without a language model: explicit calls are run
// as given, otherwise a composite is chosen from the request or prompt.
type RequestPlanner struct{}

func (RequestPlanner) Plan(_ context.Context, req Request) ([]ToolCall, error) {
	if len(req.Calls) > 0 {
		return req.Calls, nil
	}

	composite := strings.ToLower(strings.TrimSpace(req.Composite))
	if composite == "" {
		prompt := strings.ToLower(req.Prompt)
		switch {
		case strings.Contains(prompt, "login"), strings.Contains(prompt, "sign in"):
			composite = "login-form"
		case strings.Contains(prompt, "nav"):
			composite = "nav-bar"
		}
	}

	origin := command.Point{}
	if req.Origin != nil {
		origin = *req.Origin
	}
	switch composite {
	case "login-form", "login", command.ToolLoginForm:
		return []ToolCall{call(command.ToolLoginForm, command.LoginFormParams{Origin: origin})}, nil
	case "nav-bar", "navbar", command.ToolNavBar:
		return []ToolCall{call(command.ToolNavBar, command.NavBarParams{Origin: origin, Width: req.Width})}, nil
	case "":
		return nil, ErrNoPlan
	default:
		return nil, &command.ValidationError{Field: "composite", Reason: fmt.Sprintf("unknown composite %q", req.Composite)}
	}
}

func call(name string, params any) ToolCall {
	raw, _ := json.Marshal(params)
	return ToolCall{Name: name, Params: raw}
}

// Executor runs one tool call for a user.
type Executor interface {
	Call(ctx context.Context, userID string, call ToolCall) (any, error)
}

type StepResult struct {
	Tool   string `json:"tool"`
	Result any    `json:"result"`
}

type Runner struct {
	planner  Planner
	executor Executor
	logger   *zap.Logger
	now      func() time.Time
}

func NewRunner(planner Planner, executor Executor, logger *zap.Logger) *Runner {
	if planner == nil {
		planner = RequestPlanner{}
	}
	return &Runner{
		planner:  planner,
		executor: executor,
		logger:   logging.OrNop(logger).Named("agent"),
		now:      time.Now,
	}
}

// Run executes req and reports it on emit. The stream always ends with
// close; a failure emits error first and is returned. Tool calls run in
// order and stop at the first failure, so earlier calls stay applied.
func (r *Runner) Run(ctx context.Context, userID string, req Request, emit Emitter) error {
	streamID := util.NewID("stream")
	start := r.now()
	logger := r.logger.With(zap.String("stream_id", streamID), zap.String("user_id", userID))

	err := r.run(ctx, streamID, userID, req, emit, start, logger)
	status := StatusSuccess
	if err != nil {
		status = StatusError
		logger.Warn("agent command failed", zap.Error(err))
		if emitErr := emit.Emit(EventError, ErrorData{StreamID: streamID, Message: err.Error()}); emitErr != nil {
			logger.Debug("emit error event", zap.Error(emitErr))
		}
	}
	metrics.AgentCommandDuration.WithLabelValues(string(status)).Observe(r.now().Sub(start).Seconds())
	if closeErr := emit.Emit(EventClose, nil); closeErr != nil && err == nil {
		err = closeErr
	}
	return err
}

func (r *Runner) run(ctx context.Context, streamID, userID string, req Request, emit Emitter, start time.Time, logger *zap.Logger) error {
	if err := emit.Emit(EventInit, InitData{StreamID: streamID, Prompt: req.Prompt}); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	progress := func(status Status, message string, tc *ToolCall) error {
		return emit.Emit(EventProgress, ProgressData{StreamID: streamID, Status: status, Message: message, ToolCall: tc})
	}

	if err := progress(StatusThinking, "Analyzing prompt and canvas state…", nil); err != nil {
		return err
	}
	calls, err := r.planner.Plan(ctx, req)
	if err != nil {
		return fmt.Errorf("plan command: %w", err)
	}
	if err := progress(StatusRunning, fmt.Sprintf("Planned %d tool call(s)…", len(calls)), nil); err != nil {
		return err
	}

	results := make([]StepResult, 0, len(calls))
	for i := range calls {
		tc := calls[i]
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := progress(StatusRunning, "Running "+tc.Name+"…", &tc); err != nil {
			return err
		}
		out, err := r.executor.Call(ctx, userID, tc)
		if err != nil {
			metrics.AgentCommands.WithLabelValues(tc.Name, "error").Inc()
			return fmt.Errorf("%s: %w", tc.Name, err)
		}
		metrics.AgentCommands.WithLabelValues(tc.Name, "success").Inc()
		logger.Info("tool call completed", zap.String("tool", tc.Name))
		results = append(results, StepResult{Tool: tc.Name, Result: out})
		if err := progress(StatusSuccess, tc.Name+" completed", &tc); err != nil {
			return err
		}
	}

	return emit.Emit(EventSummary, SummaryData{
		StreamID:   streamID,
		Status:     StatusSuccess,
		DurationMs: r.now().Sub(start).Milliseconds(),
		Result:     results,
	})
}
