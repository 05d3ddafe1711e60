package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/kuitang/textile-e2e/internal/obs"
)

// OutboxDirEnv names the directory MockNotifier writes messages to.
const OutboxDirEnv = "MOCK_REPORT_OUTBOX_DIR"

// MockNotifier captures reports instead of sending them. When an outbox
// directory is set, each message is also written there as a JSON file.
type MockNotifier struct {
	From string
	To   []string

	mu        sync.Mutex
	messages  []Message
	outboxDir string
	seq       uint64
}

// NewMockNotifier creates a capturing notifier. outboxDir may be empty; it
// defaults to $MOCK_REPORT_OUTBOX_DIR and then to no outbox.
func NewMockNotifier(from string, to []string, outboxDir string) *MockNotifier {
	if outboxDir == "" {
		outboxDir = os.Getenv(OutboxDirEnv)
	}
	if outboxDir != "" {
		if err := os.MkdirAll(outboxDir, 0o755); err != nil {
			obs.Pkg("notify").Warn("outbox_unavailable", "dir", outboxDir, "error", err)
			outboxDir = ""
		}
	}
	return &MockNotifier{From: from, To: cleanRecipients(to), outboxDir: outboxDir}
}

func (m *MockNotifier) Send(ctx context.Context, subject, html string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	msg := Message{From: m.From, To: append([]string(nil), m.To...), Subject: subject, HTML: html}
	m.messages = append(m.messages, msg)
	obs.From(ctx).Info("report_captured", "pkg", "notify", "subject", subject, "recipients", len(msg.To))
	return m.writeOutbox(msg)
}

// Messages returns every captured message in send order.
func (m *MockNotifier) Messages() []Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Message(nil), m.messages...)
}

// Last returns the most recent message, or the zero value.
func (m *MockNotifier) Last() Message {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.messages) == 0 {
		return Message{}
	}
	return m.messages[len(m.messages)-1]
}

type outboxEvent struct {
	Message
	Sequence       uint64 `json:"sequence"`
	SentAtUnixNano int64  `json:"sent_at_unix_nano"`
}

func (m *MockNotifier) writeOutbox(msg Message) error {
	if m.outboxDir == "" {
		return nil
	}

	m.seq++
	event := outboxEvent{Sequence: m.seq, Message: msg, SentAtUnixNano: time.Now().UnixNano()}
	fileName := fmt.Sprintf("%020d-%020d-%s.json", event.Sequence, event.SentAtUnixNano, sanitizeOutboxComponent(msg.Subject))
	finalPath := filepath.Join(m.outboxDir, fileName)
	tempPath := finalPath + ".tmp"

	payload, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal outbox event: %w", err)
	}
	if err := os.WriteFile(tempPath, payload, 0o644); err != nil {
		return fmt.Errorf("write outbox temp file: %w", err)
	}
	if err := os.Rename(tempPath, finalPath); err != nil {
		_ = os.Remove(tempPath)
		return fmt.Errorf("rename outbox file: %w", err)
	}
	return nil
}

var outboxSanitizePattern = regexp.MustCompile(`[^a-zA-Z0-9._@-]+`)

func sanitizeOutboxComponent(input string) string {
	safe := strings.TrimSpace(input)
	if safe == "" {
		return "unknown"
	}
	safe = outboxSanitizePattern.ReplaceAllString(safe, "_")
	if len(safe) > 64 {
		safe = safe[:64]
	}
	return safe
}
