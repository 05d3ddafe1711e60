// Package notify delivers run reports by email.
package notify

import (
	"context"
	"errors"
	"strings"
)

// ErrNoRecipients is returned when a notifier has nobody to send to.
var ErrNoRecipients = errors.New("notify: no recipients")

// Notifier delivers one rendered report.
type Notifier interface {
	Send(ctx context.Context, subject, html string) error
}

// Message is a captured or delivered report.
type Message struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

func cleanRecipients(to []string) []string {
	out := make([]string, 0, len(to))
	for _, addr := range to {
		if addr = strings.TrimSpace(addr); addr != "" {
			out = append(out, addr)
		}
	}
	return out
}
