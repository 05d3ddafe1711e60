// Package mcp exposes the scenario runner as a Streamable HTTP MCP server.
package mcp

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sort"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kuitang/textile-e2e/internal/logutil"
	"github.com/kuitang/textile-e2e/internal/obs"
)

const (
	maxMCPBodyBytes           = 1 << 20
	mcpDebugBodyLogLimitBytes = 8 * 1024
)

// Standard JSON-RPC error codes.
const (
	ErrorCodeParseError     = -32700
	ErrorCodeInvalidRequest = -32600
	ErrorCodeInternalError  = -32603
)

// Server wraps the MCP server with request logging and recovery.
type Server struct {
	httpHandler http.Handler
}

// NewServer creates a stateless MCP server over handler.
func NewServer(handler *Handler, version string) *Server {
	if version == "" {
		version = "dev"
	}
	mcpServer := mcp.NewServer(
		&mcp.Implementation{
			Name:    "textile-e2e",
			Version: version,
		},
		nil,
	)
	for _, tool := range ToolDefinitions() {
		mcp.AddTool(mcpServer, tool, handler.createToolHandler(tool.Name))
	}
	registerPrompts(mcpServer)

	// Stateless with JSON responses: every POST is self-contained and no SSE stream is kept open.
	httpHandler := mcp.NewStreamableHTTPHandler(
		func(*http.Request) *mcp.Server { return mcpServer },
		&mcp.StreamableHTTPOptions{
			JSONResponse: true,
			Stateless:    true,
		},
	)

	return &Server{httpHandler: httpHandler}
}

type mcpResponseLogger struct {
	http.ResponseWriter
	statusCode int
	wrote      bool
	body       []byte
	truncated  bool
}

func newMCPResponseLogger(w http.ResponseWriter) *mcpResponseLogger {
	return &mcpResponseLogger{
		ResponseWriter: w,
		statusCode:     http.StatusOK,
		body:           make([]byte, 0, 512),
	}
}

func (w *mcpResponseLogger) WriteHeader(code int) {
	if w.wrote {
		return
	}
	w.statusCode = code
	w.wrote = true
	w.ResponseWriter.WriteHeader(code)
}

func (w *mcpResponseLogger) Write(p []byte) (int, error) {
	w.wrote = true
	if remaining := mcpDebugBodyLogLimitBytes - len(w.body); remaining > 0 {
		if len(p) <= remaining {
			w.body = append(w.body, p...)
		} else {
			w.body = append(w.body, p[:remaining]...)
			w.truncated = true
		}
	} else {
		w.truncated = true
	}
	return w.ResponseWriter.Write(p)
}

func (w *mcpResponseLogger) Flush() {
	if flusher, ok := w.ResponseWriter.(http.Flusher); ok {
		flusher.Flush()
	}
}

// ServeHTTP implements the Streamable HTTP transport endpoint. Only POST
// carries messages; the server never opens an SSE stream.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Accept, Mcp-Session-Id, Mcp-Protocol-Version, Authorization")
	w.Header().Set("Access-Control-Allow-Methods", "POST, DELETE, OPTIONS")

	switch r.Method {
	case http.MethodOptions:
		w.Header().Set("Access-Control-Max-Age", "86400")
		w.WriteHeader(http.StatusNoContent)
		return
	case http.MethodPost, http.MethodDelete:
	default:
		w.Header().Set("Allow", "POST, DELETE, OPTIONS")
		writeJSONRPCError(w, http.StatusMethodNotAllowed, ErrorCodeInvalidRequest, "method not allowed")
		return
	}

	logger := obs.From(r.Context()).With("pkg", "mcp")

	var reqBody []byte
	if r.Body != nil && r.Method == http.MethodPost {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMCPBodyBytes))
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				logger.Warn("mcp_request_too_large", "limit", maxMCPBodyBytes)
				writeJSONRPCError(w, http.StatusRequestEntityTooLarge, ErrorCodeInvalidRequest, "request body too large")
				return
			}
			logger.Warn("mcp_request_read_failed", "error", err)
			writeJSONRPCError(w, http.StatusBadRequest, ErrorCodeParseError, "failed to read request body")
			return
		}
		reqBody = body
		r.Body = io.NopCloser(bytes.NewReader(body))
	}

	logger.Debug("mcp_request",
		"method", r.Method,
		"remote", r.RemoteAddr,
		"headers", formatMCPHeadersForLog(r.Header),
		"body", logutil.FormatBodyForLog(r.Header.Get("Content-Type"), reqBody, mcpDebugBodyLogLimitBytes),
	)

	respLogger := newMCPResponseLogger(w)
	defer func() {
		if p := recover(); p != nil {
			logger.Error("mcp_handler_panic", "panic", p)
			if !respLogger.wrote {
				writeJSONRPCError(respLogger, http.StatusInternalServerError, ErrorCodeInternalError, "Internal server error")
			}
		}
	}()

	s.httpHandler.ServeHTTP(respLogger, r)

	if !respLogger.wrote {
		logger.Error("mcp_no_response", "method", r.Method)
		writeJSONRPCError(respLogger, http.StatusInternalServerError, ErrorCodeInternalError, "MCP handler returned without writing response")
		return
	}

	contentType := respLogger.Header().Get("Content-Type")
	if respLogger.statusCode >= http.StatusBadRequest {
		logger.Warn("mcp_request_failed",
			"status", respLogger.statusCode,
			"response", formatResponseBody(contentType, respLogger),
		)
		return
	}
	logger.Debug("mcp_response",
		"status", respLogger.statusCode,
		"content_type", contentType,
		"response", formatResponseBody(contentType, respLogger),
	)
}

func formatResponseBody(contentType string, w *mcpResponseLogger) string {
	text := logutil.FormatBodyForLog(contentType, w.body, mcpDebugBodyLogLimitBytes)
	if w.truncated && text != "" && !strings.HasSuffix(text, "[truncated]") {
		text += " [truncated]"
	}
	return text
}

func writeJSONRPCError(w http.ResponseWriter, status, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"jsonrpc": "2.0",
		"id":      nil,
		"error": map[string]any{
			"code":    code,
			"message": message,
		},
	})
}

// formatMCPHeadersForLog renders headers sorted by name with sensitive values redacted.
func formatMCPHeadersForLog(h http.Header) string {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		value := strings.Join(h.Values(k), ",")
		if logutil.IsSensitiveLogField(k) {
			value = "[REDACTED]"
		}
		parts = append(parts, k+"="+value)
	}
	return strings.Join(parts, " ")
}
