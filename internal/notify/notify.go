// Package notify delivers engine events to an external webhook.
//
// Delivery is best effort: a lost notification never blocks or fails
// the trade that produced it. Failures are logged and dropped.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Kind labels the notification severity/category.
type Kind string

const (
	KindSuccess Kind = "success"
	KindError   Kind = "error"
	KindClose   Kind = "close"
)

// Event is one notification.
type Event struct {
	Account string            `json:"account"`
	Kind    Kind              `json:"kind"`
	Title   string            `json:"title"`
	Body    string            `json:"body"`
	Fields  map[string]string `json:"fields,omitempty"`
	Time    time.Time         `json:"time"`
}

// Sink delivers notifications. Implementations must be safe for
// concurrent use.
type Sink interface {
	Send(ctx context.Context, ev Event)
}

// WebhookSink posts events as JSON to a configured webhook URL.
type WebhookSink struct {
	http   *resty.Client
	url    string
	logger *slog.Logger
}

// NewWebhook creates a webhook sink for one account.
func NewWebhook(url string, logger *slog.Logger) *WebhookSink {
	return &WebhookSink{
		http: resty.New().
			SetTimeout(10 * time.Second).
			SetRetryCount(2).
			SetRetryWaitTime(time.Second),
		url:    url,
		logger: logger.With("component", "notify"),
	}
}

// Send posts the event. Errors are logged, never returned; notification
// delivery must not interfere with trade processing.
func (s *WebhookSink) Send(ctx context.Context, ev Event) {
	if ev.Time.IsZero() {
		ev.Time = time.Now()
	}

	resp, err := s.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(ev).
		Post(s.url)
	if err != nil {
		s.logger.Warn("notification delivery failed", "title", ev.Title, "error", err)
		return
	}
	if resp.StatusCode() >= 300 {
		s.logger.Warn("notification rejected",
			"title", ev.Title, "status", resp.StatusCode(), "body", resp.String())
	}
}

// NopSink discards every event. Used when an account has no webhook
// configured, and in tests.
type NopSink struct{}

func (NopSink) Send(context.Context, Event) {}

// Successf formats a success event body in one call.
func Successf(account, title, format string, args ...any) Event {
	return Event{
		Account: account,
		Kind:    KindSuccess,
		Title:   title,
		Body:    fmt.Sprintf(format, args...),
	}
}

// Errorf formats an error event body in one call.
func Errorf(account, title, format string, args ...any) Event {
	return Event{
		Account: account,
		Kind:    KindError,
		Title:   title,
		Body:    fmt.Sprintf(format, args...),
	}
}
