package mcp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/obs"
	"github.com/kuitang/textile-e2e/internal/results"
	"github.com/kuitang/textile-e2e/internal/runner"
	"github.com/kuitang/textile-e2e/internal/scenario"
)

// History reads recorded runs.
type History interface {
	Recent(ctx context.Context, limit int) ([]results.Run, error)
	History(ctx context.Context, scenario string, limit int) ([]results.Run, error)
}

// Options wires the handler to the runner.
type Options struct {
	Scenarios []scenario.Scenario
	Runner    *runner.Runner
	// Browsers is the default matrix for scenario_run.
	Browsers    []driver.BrowserKind
	Parallelism int
	// History is optional; run_history reports unavailable without it.
	History History
}

// Handler implements MCP tool call handling.
type Handler struct {
	opts Options
}

// NewHandler creates a handler over opts.
func NewHandler(opts Options) *Handler {
	if opts.Parallelism <= 0 {
		opts.Parallelism = 1
	}
	return &Handler{opts: opts}
}

// createToolHandler returns a tool handler function for the given tool name.
func (h *Handler) createToolHandler(name string) func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
	return func(ctx context.Context, req *mcp.CallToolRequest, args map[string]any) (*mcp.CallToolResult, any, error) {
		result, err := h.HandleToolCall(ctx, name, args)
		return result, nil, err
	}
}

// HandleToolCall routes tool calls. Tool failures are returned as error
// results; the returned error is reserved for transport problems.
func (h *Handler) HandleToolCall(ctx context.Context, name string, arguments map[string]any) (*mcp.CallToolResult, error) {
	logger := obs.From(ctx).With("pkg", "mcp", "tool", name)
	logger.Debug("tool_call")

	var (
		value any
		err   error
	)
	switch name {
	case toolScenarioList:
		value, err = h.handleScenarioList(arguments)
	case toolScenarioRun:
		value, err = h.handleScenarioRun(ctx, arguments)
	case toolRunHistory:
		value, err = h.handleRunHistory(ctx, arguments)
	default:
		err = errs.New(errs.InvalidArgument, fmt.Sprintf("unknown tool: %s", name))
	}
	if err != nil {
		logger.Warn("tool_call_failed", "error_code", string(errs.CodeOf(err)), "error", err)
		return newToolResultError(err), nil
	}
	return newToolResultText(marshalToolJSON(value)), nil
}

type toolErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func newToolResultText(text string) *mcp.CallToolResult {
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: text},
		},
	}
}

func newToolResultError(err error) *mcp.CallToolResult {
	payload := toolErrorPayload{Code: string(errs.CodeOf(err)), Message: errs.MessageOf(err)}
	return &mcp.CallToolResult{
		Content: []mcp.Content{
			&mcp.TextContent{Text: marshalToolJSON(payload)},
		},
		IsError: true,
	}
}

func marshalToolJSON(value any) string {
	data, err := json.MarshalIndent(value, "", "  ")
	if err != nil {
		return fmt.Sprintf(`{"error":"failed to marshal response","detail":%q}`, err.Error())
	}
	return string(data)
}

// decodeToolArgs decodes args into dst, rejecting unknown fields.
func decodeToolArgs(args map[string]any, dst any) error {
	if args == nil {
		args = map[string]any{}
	}
	raw, err := json.Marshal(args)
	if err != nil {
		return errs.New(errs.InvalidArgument, "invalid arguments: "+err.Error())
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errs.New(errs.InvalidArgument, "invalid arguments: "+err.Error())
	}
	return nil
}

type scenarioSummary struct {
	Name        string               `json:"name"`
	Description string               `json:"description,omitempty"`
	Steps       int                  `json:"steps"`
	Assertions  []scenario.Assertion `json:"assertions"`
	Tags        []string             `json:"tags,omitempty"`
	Viewport    *driver.Viewport     `json:"viewport,omitempty"`
}

func (h *Handler) handleScenarioList(args map[string]any) (any, error) {
	var in struct {
		Tag string `json:"tag"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	tag := strings.TrimSpace(in.Tag)

	out := make([]scenarioSummary, 0, len(h.opts.Scenarios))
	for _, sc := range h.opts.Scenarios {
		if tag != "" && !hasTag(sc.Tags, tag) {
			continue
		}
		out = append(out, scenarioSummary{
			Name:        sc.Name,
			Description: sc.Description,
			Steps:       len(sc.Steps),
			Assertions:  sc.Assertions,
			Tags:        sc.Tags,
			Viewport:    sc.Viewport,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return map[string]any{"scenarios": out, "total": len(out)}, nil
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if strings.EqualFold(t, tag) {
			return true
		}
	}
	return false
}

type outcomeView struct {
	RunID        string            `json:"run_id"`
	Scenario     string            `json:"scenario"`
	Browser      string            `json:"browser"`
	State        string            `json:"state"`
	ErrorCode    string            `json:"error_code,omitempty"`
	Error        string            `json:"error,omitempty"`
	StepsRun     int               `json:"steps_run"`
	FailedStep   int               `json:"failed_step,omitempty"`
	DurationMS   int64             `json:"duration_ms"`
	Observations map[string]string `json:"observations,omitempty"`
	Artifacts    []string          `json:"artifacts,omitempty"`
}

func viewOutcome(o runner.Outcome) outcomeView {
	return outcomeView{
		RunID:        o.RunID,
		Scenario:     o.Scenario,
		Browser:      string(o.Browser),
		State:        string(o.State),
		ErrorCode:    string(o.ErrorCode()),
		Error:        o.ErrorMessage(),
		StepsRun:     o.StepsRun,
		FailedStep:   o.FailedStep,
		DurationMS:   o.Duration.Milliseconds(),
		Observations: o.Observations,
		Artifacts:    o.Artifacts,
	}
}

func (h *Handler) handleScenarioRun(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Name     string   `json:"name"`
		Browsers []string `json:"browsers"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if h.opts.Runner == nil {
		return nil, errs.New(errs.Unavailable, "scenario runner is not configured")
	}
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, errs.New(errs.InvalidArgument, "name is required")
	}
	selected, err := scenario.Select(h.opts.Scenarios, []string{name})
	if err != nil {
		return nil, err
	}

	kinds := h.opts.Browsers
	if len(in.Browsers) > 0 {
		kinds, err = driver.ParseBrowserKinds(strings.Join(in.Browsers, ","))
		if err != nil {
			return nil, errs.New(errs.InvalidArgument, "invalid browsers: "+err.Error())
		}
	}
	if len(kinds) == 0 {
		return nil, errs.New(errs.InvalidArgument, "no browsers selected")
	}

	outcomes := h.opts.Runner.RunMatrix(ctx, selected, kinds, h.opts.Parallelism)
	views := make([]outcomeView, len(outcomes))
	for i, o := range outcomes {
		views[i] = viewOutcome(o)
	}
	s := runner.Summarize(outcomes)
	return map[string]any{
		"scenario": name,
		"passed":   s.OK(),
		"summary":  map[string]int{"total": s.Total, "passed": s.Passed, "failed": s.Failed},
		"outcomes": views,
	}, nil
}

func (h *Handler) handleRunHistory(ctx context.Context, args map[string]any) (any, error) {
	var in struct {
		Scenario string `json:"scenario"`
		Limit    int    `json:"limit"`
	}
	if err := decodeToolArgs(args, &in); err != nil {
		return nil, err
	}
	if h.opts.History == nil {
		return nil, errs.New(errs.Unavailable, "run history is not enabled; set RESULTS_DB")
	}

	var (
		runs []results.Run
		err  error
	)
	if sc := strings.TrimSpace(in.Scenario); sc != "" {
		runs, err = h.opts.History.History(ctx, sc, in.Limit)
	} else {
		runs, err = h.opts.History.Recent(ctx, in.Limit)
	}
	if err != nil {
		return nil, errs.New(errs.Unavailable, "failed to read run history: "+err.Error())
	}
	if runs == nil {
		runs = []results.Run{}
	}
	return map[string]any{"runs": runs, "total": len(runs)}, nil
}
