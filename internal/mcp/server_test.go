package mcp

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func postMCP(t *testing.T, url string, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, url, strings.NewReader(body))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json, text/event-stream")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	var decoded map[string]any
	if len(raw) > 0 {
		require.NoError(t, json.Unmarshal(raw, &decoded), "body=%s", raw)
	}
	return resp.StatusCode, decoded
}

func TestServeHTTP_RecoversPanicWith500(t *testing.T) {
	server := &Server{
		httpHandler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			panic("simulated panic")
		}),
	}

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	server.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d body=%q", resp.Code, resp.Body.String())
	}
	if !strings.Contains(resp.Body.String(), "Internal server error") {
		t.Fatalf("expected internal error body, got %q", resp.Body.String())
	}
}

func TestServeHTTP_NoWriteFromDelegateReturns500(t *testing.T) {
	server := &Server{
		httpHandler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}),
	}

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"tools/list","id":1}`))
	resp := httptest.NewRecorder()

	server.ServeHTTP(resp, req)

	if resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected status 500, got %d", resp.Code)
	}
	if !strings.Contains(resp.Body.String(), "MCP handler returned without writing response") {
		t.Fatalf("expected no-response fallback body, got %q", resp.Body.String())
	}
}

func TestServeHTTP_HeaderOnlyResponseIsNotAFailure(t *testing.T) {
	server := &Server{
		httpHandler: http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusAccepted)
		}),
	}

	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(`{"jsonrpc":"2.0","method":"notifications/initialized"}`))
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)

	if resp.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", resp.Code)
	}
}

func TestServeHTTP_RequestBodyTooLargeReturns413(t *testing.T) {
	t.Parallel()
	server := &Server{
		httpHandler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("delegate should not be called when request is oversized")
		}),
	}

	oversized := strings.Repeat("a", maxMCPBodyBytes+1)
	req := httptest.NewRequest(http.MethodPost, "/mcp", strings.NewReader(oversized))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()

	server.ServeHTTP(resp, req)

	if resp.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("expected 413 for oversized request, got %d", resp.Code)
	}
}

func TestServeHTTP_GETReturns405WithAllowHeader(t *testing.T) {
	t.Parallel()
	server := &Server{
		httpHandler: http.HandlerFunc(func(http.ResponseWriter, *http.Request) {
			t.Fatal("delegate should not be called for GET")
		}),
	}

	req := httptest.NewRequest(http.MethodGet, "/mcp", nil)
	resp := httptest.NewRecorder()

	server.ServeHTTP(resp, req)

	if resp.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d body=%q", resp.Code, resp.Body.String())
	}
	allow := resp.Header().Get("Allow")
	if !strings.Contains(allow, "POST") || !strings.Contains(allow, "DELETE") {
		t.Fatalf("unexpected Allow header: %q", allow)
	}
}

func TestServeHTTP_OptionsPreflight(t *testing.T) {
	t.Parallel()
	server := &Server{httpHandler: http.NotFoundHandler()}

	req := httptest.NewRequest(http.MethodOptions, "/mcp", nil)
	resp := httptest.NewRecorder()
	server.ServeHTTP(resp, req)

	if resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Fatal("missing CORS header")
	}
}

func testFormatMCPHeadersForLog_RedactsSensitiveHeaders(t *rapid.T) {
	token := rapid.StringMatching(`[A-Za-z0-9._=-]{10,40}`).Draw(t, "token")

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+token)
	headers.Set("Cookie", "session="+token)
	headers.Set("X-Api-Key", token)
	headers.Set("Content-Type", "application/json")

	formatted := formatMCPHeadersForLog(headers)
	if strings.Contains(formatted, token) {
		t.Fatalf("sensitive token leaked in header log: %q", formatted)
	}
	lower := strings.ToLower(formatted)
	for _, key := range []string{"authorization", "cookie", "x-api-key", "content-type=application/json"} {
		if !strings.Contains(lower, key) {
			t.Fatalf("expected %q in formatted headers: %q", key, formatted)
		}
	}
}

func TestFormatMCPHeadersForLog_RedactsSensitiveHeaders(t *testing.T) {
	t.Parallel()
	rapid.Check(t, testFormatMCPHeadersForLog_RedactsSensitiveHeaders)
}
