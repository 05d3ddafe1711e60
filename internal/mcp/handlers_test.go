package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/kuitang/textile-e2e/internal/driver"
	"github.com/kuitang/textile-e2e/internal/driver/mockdriver"
	"github.com/kuitang/textile-e2e/internal/errs"
	"github.com/kuitang/textile-e2e/internal/results"
	"github.com/kuitang/textile-e2e/internal/runner"
	"github.com/kuitang/textile-e2e/internal/scenario"
)

const testBaseURL = "http://localhost:1420"

func newTestHandler(t *testing.T, withHistory bool) (*Handler, *results.Store) {
	t.Helper()

	var (
		store *results.Store
		opts  []runner.Option
	)
	if withHistory {
		var err error
		store, err = results.OpenInMemory()
		require.NoError(t, err)
		t.Cleanup(func() { _ = store.Close() })
		opts = append(opts, runner.WithRecorder(store))
	}
	opts = append(opts,
		runner.WithBaseURL(testBaseURL),
		runner.WithWaitBudget(20*time.Millisecond),
		runner.WithActionTimeout(time.Second),
	)
	r := runner.New(mockdriver.Textile(testBaseURL), opts...)

	hOpts := Options{
		Scenarios:   scenario.Catalog(),
		Runner:      r,
		Browsers:    []driver.BrowserKind{driver.Chrome},
		Parallelism: 2,
	}
	if store != nil {
		hOpts.History = store
	}
	return NewHandler(hOpts), store
}

func resultText(t *testing.T, res *mcp.CallToolResult) string {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(*mcp.TextContent)
	require.True(t, ok, "content is %T", res.Content[0])
	return text.Text
}

func decodeResult(t *testing.T, res *mcp.CallToolResult) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &out))
	return out
}

func decodeToolError(t *testing.T, res *mcp.CallToolResult) toolErrorPayload {
	t.Helper()
	require.True(t, res.IsError, "expected tool error, got %s", resultText(t, res))
	var payload toolErrorPayload
	require.NoError(t, json.Unmarshal([]byte(resultText(t, res)), &payload))
	return payload
}

func TestScenarioList_AllSortedByName(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, false)

	res, err := h.HandleToolCall(context.Background(), toolScenarioList, nil)
	require.NoError(t, err)
	require.False(t, res.IsError)

	out := decodeResult(t, res)
	require.EqualValues(t, 3, out["total"])
	list := out["scenarios"].([]any)
	var names []string
	for _, item := range list {
		names = append(names, item.(map[string]any)["name"].(string))
	}
	require.Equal(t, []string{"fabric", "fabric-create", "home"}, names)
}

func TestScenarioList_FiltersByTag(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, false)

	res, err := h.HandleToolCall(context.Background(), toolScenarioList, map[string]any{"tag": "SMOKE"})
	require.NoError(t, err)

	out := decodeResult(t, res)
	require.EqualValues(t, 2, out["total"])

	res, err = h.HandleToolCall(context.Background(), toolScenarioList, map[string]any{"tag": "nightly"})
	require.NoError(t, err)
	require.EqualValues(t, 0, decodeResult(t, res)["total"])
}

func TestScenarioRun_PassesAcrossBrowsers(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, false)

	res, err := h.HandleToolCall(context.Background(), toolScenarioRun, map[string]any{
		"name":     "fabric",
		"browsers": []any{"chrome", "firefox"},
	})
	require.NoError(t, err)
	require.False(t, res.IsError, resultText(t, res))

	out := decodeResult(t, res)
	require.Equal(t, true, out["passed"])
	require.Equal(t, "fabric", out["scenario"])
	outcomes := out["outcomes"].([]any)
	require.Len(t, outcomes, 2)
	require.Equal(t, "chrome", outcomes[0].(map[string]any)["browser"])
	require.Equal(t, "firefox", outcomes[1].(map[string]any)["browser"])
	require.Equal(t, "Tecido", outcomes[0].(map[string]any)["observations"].(map[string]any)["heading"])
}

func TestScenarioRun_FailureIsAResultNotAToolError(t *testing.T) {
	t.Parallel()

	d := mockdriver.New().AddPage(testBaseURL+"/fabric", mockdriver.Page{
		Title: scenario.AppTitle,
		Elements: map[mockdriver.Key]mockdriver.Element{
			{Strategy: driver.ByID, Selector: "title"}: {Text: "Tecidos"},
		},
	})
	r := runner.New(d, runner.WithBaseURL(testBaseURL), runner.WithWaitBudget(10*time.Millisecond))
	h := NewHandler(Options{
		Scenarios: scenario.Catalog(),
		Runner:    r,
		Browsers:  []driver.BrowserKind{driver.Chrome},
	})

	res, err := h.HandleToolCall(context.Background(), toolScenarioRun, map[string]any{"name": "fabric"})
	require.NoError(t, err)
	require.False(t, res.IsError)

	out := decodeResult(t, res)
	require.Equal(t, false, out["passed"])
	first := out["outcomes"].([]any)[0].(map[string]any)
	require.Equal(t, string(errs.Assertion), first["error_code"])
	require.EqualValues(t, 4, first["failed_step"])
	require.Contains(t, first["error"], `observed "Tecidos"`)
}

func TestScenarioRun_Rejections(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, false)

	cases := []struct {
		name string
		args map[string]any
		code errs.Code
	}{
		{"missing name", map[string]any{}, errs.InvalidArgument},
		{"unknown scenario", map[string]any{"name": "checkout"}, errs.InvalidArgument},
		{"unknown browser", map[string]any{"name": "home", "browsers": []any{"netscape"}}, errs.InvalidArgument},
		{"unknown field", map[string]any{"name": "home", "headless": true}, errs.InvalidArgument},
	}
	for _, tc := range cases {
		res, err := h.HandleToolCall(context.Background(), toolScenarioRun, tc.args)
		require.NoError(t, err, tc.name)
		payload := decodeToolError(t, res)
		require.Equal(t, string(tc.code), payload.Code, tc.name)
	}

	noRunner := NewHandler(Options{Scenarios: scenario.Catalog()})
	res, err := noRunner.HandleToolCall(context.Background(), toolScenarioRun, map[string]any{"name": "home"})
	require.NoError(t, err)
	require.Equal(t, string(errs.Unavailable), decodeToolError(t, res).Code)
}

func TestRunHistory_ReturnsRecordedRuns(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, true)
	ctx := context.Background()

	for _, name := range []string{"home", "fabric"} {
		res, err := h.HandleToolCall(ctx, toolScenarioRun, map[string]any{"name": name})
		require.NoError(t, err)
		require.False(t, res.IsError, resultText(t, res))
	}

	res, err := h.HandleToolCall(ctx, toolRunHistory, map[string]any{})
	require.NoError(t, err)
	require.EqualValues(t, 2, decodeResult(t, res)["total"])

	res, err = h.HandleToolCall(ctx, toolRunHistory, map[string]any{"scenario": "home", "limit": 5})
	require.NoError(t, err)
	out := decodeResult(t, res)
	require.EqualValues(t, 1, out["total"])
	run := out["runs"].([]any)[0].(map[string]any)
	require.Equal(t, "home", run["scenario"])
	require.Equal(t, string(runner.Passed), run["state"])
}

func TestRunHistory_UnavailableWithoutStore(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, false)

	res, err := h.HandleToolCall(context.Background(), toolRunHistory, nil)
	require.NoError(t, err)
	payload := decodeToolError(t, res)
	require.Equal(t, string(errs.Unavailable), payload.Code)
	require.Contains(t, payload.Message, "RESULTS_DB")
}

func TestHandleToolCall_UnknownTool(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, false)

	res, err := h.HandleToolCall(context.Background(), "note_create", nil)
	require.NoError(t, err)
	payload := decodeToolError(t, res)
	require.Equal(t, string(errs.InvalidArgument), payload.Code)
	require.Equal(t, "unknown tool: note_create", payload.Message)
}

func testDecodeToolArgs_RejectsUnknownFields(t *rapid.T) {
	field := rapid.StringMatching(`[a-z]{3,12}`).Filter(func(s string) bool { return s != "tag" }).Draw(t, "field")

	var in struct {
		Tag string `json:"tag"`
	}
	err := decodeToolArgs(map[string]any{"tag": "smoke", field: 1}, &in)
	if err == nil {
		t.Fatalf("expected unknown field %q to be rejected", field)
	}
	if errs.CodeOf(err) != errs.InvalidArgument {
		t.Fatalf("code = %q", errs.CodeOf(err))
	}
	if !strings.Contains(err.Error(), field) {
		t.Fatalf("error %q does not name field %q", err, field)
	}
}

func TestDecodeToolArgs_RejectsUnknownFields(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testDecodeToolArgs_RejectsUnknownFields)
}

func TestToolDefinitions_SchemasAreObjects(t *testing.T) {
	t.Parallel()

	names := map[string]bool{}
	for _, tool := range ToolDefinitions() {
		names[tool.Name] = true
		schema, ok := tool.InputSchema.(map[string]any)
		require.True(t, ok, tool.Name)
		require.Equal(t, "object", schema["type"], tool.Name)
		require.NotEmpty(t, tool.Description, tool.Name)
	}
	require.Equal(t, map[string]bool{toolScenarioList: true, toolScenarioRun: true, toolRunHistory: true}, names)
}

func TestServer_JSONRPCOverHTTP(t *testing.T) {
	t.Parallel()
	h, _ := newTestHandler(t, true)
	ts := httptest.NewServer(NewServer(h, "test"))
	t.Cleanup(ts.Close)

	status, body := postMCP(t, ts.URL, `{"jsonrpc":"2.0","id":1,"method":"initialize","params":{"protocolVersion":"2025-03-26","capabilities":{},"clientInfo":{"name":"mcp-test","version":"1.0.0"}}}`)
	require.Equal(t, 200, status)
	require.Nil(t, body["error"])

	status, body = postMCP(t, ts.URL, `{"jsonrpc":"2.0","id":2,"method":"tools/list"}`)
	require.Equal(t, 200, status)
	tools := body["result"].(map[string]any)["tools"].([]any)
	require.Len(t, tools, 3)

	status, body = postMCP(t, ts.URL, `{"jsonrpc":"2.0","id":3,"method":"tools/call","params":{"name":"scenario_run","arguments":{"name":"home"}}}`)
	require.Equal(t, 200, status)
	result := body["result"].(map[string]any)
	require.NotEqual(t, true, result["isError"])
	text := result["content"].([]any)[0].(map[string]any)["text"].(string)
	require.Contains(t, text, `"passed": true`)

	status, body = postMCP(t, ts.URL, `{"jsonrpc":"2.0","id":4,"method":"prompts/list"}`)
	require.Equal(t, 200, status)
	prompts := body["result"].(map[string]any)["prompts"].([]any)
	require.Len(t, prompts, 1)
	require.Equal(t, triagePromptName, prompts[0].(map[string]any)["name"])

	status, body = postMCP(t, ts.URL, fmt.Sprintf(`{"jsonrpc":"2.0","id":5,"method":"tools/call","params":{"name":%q,"arguments":{}}}`, toolRunHistory))
	require.Equal(t, 200, status)
	text = body["result"].(map[string]any)["content"].([]any)[0].(map[string]any)["text"].(string)
	require.Contains(t, text, `"total": 1`)
}
