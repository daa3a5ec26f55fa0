package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

// Notifier reports run outcomes to a health webhook. Delivery is best
// effort, a dead webhook must never fail a run.
type Notifier struct {
	http *resty.Client
	url  string
}

func NewNotifier(url string) *Notifier {
	return &Notifier{
		http: resty.New().SetTimeout(10 * time.Second),
		url:  url,
	}
}

type healthEvent struct {
	Status    string `json:"status"`
	Message   string `json:"message"`
	Timestamp string `json:"timestamp"`
	Source    string `json:"source"`
}

func (n *Notifier) Notify(ctx context.Context, status, message string) {
	if n == nil || n.url == "" {
		return
	}
	res, err := n.http.R().
		SetContext(ctx).
		SetBody(healthEvent{
			Status:    status,
			Message:   message,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
			Source:    "tenderwatch",
		}).
		Post(n.url)
	if err != nil {
		slog.WarnContext(ctx, "health webhook unreachable", "err", err)
		return
	}
	if res.IsError() {
		slog.WarnContext(ctx, "health webhook rejected event", "status", res.StatusCode())
	}
}
