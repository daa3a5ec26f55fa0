package otp

import (
	"context"
	"log/slog"
	"time"

	"github.com/go-resty/resty/v2"
)

var pollClient = resty.New().SetTimeout(5 * time.Second)

type readEndpointResponse struct {
	Otp       string `json:"otp"`
	Timestamp int64  `json:"timestamp"`
}

// pollForTicket queries another instance's read endpoint at a fixed
// interval until a ticket newer than the registered instant shows up or
// the timeout elapses.
func (c *Coordinator) pollForTicket(ctx context.Context, pollURL string, requestedAt time.Time, timeout time.Duration) (Ticket, error) {
	slog.InfoContext(ctx, "polling existing listener for code", "url", pollURL)

	deadline := time.Now().Add(timeout)
	ticker := time.NewTicker(c.pollInterval)
	defer ticker.Stop()

	for time.Now().Before(deadline) {
		var body readEndpointResponse
		res, err := pollClient.R().
			SetContext(ctx).
			SetResult(&body).
			Get(pollURL)
		if err == nil && res.IsSuccess() && body.Otp != "" {
			receivedAt := time.Unix(body.Timestamp, 0)
			if receivedAt.After(requestedAt) {
				slog.InfoContext(ctx, "code received from existing listener", "code", body.Otp)
				c.Deliver(body.Otp, receivedAt)
				return Ticket{Code: body.Otp, ReceivedAt: receivedAt}, nil
			}
		}

		select {
		case <-ticker.C:
		case <-ctx.Done():
			return Ticket{}, ctx.Err()
		}
	}
	return Ticket{}, ErrTicketTimeout
}
