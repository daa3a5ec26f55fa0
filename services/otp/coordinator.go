package otp

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
)

var tracer = otel.Tracer("services/otp")

var ErrTicketTimeout = errors.New("timed out waiting for a one-time code")

// Ticket is a single delivered one-time code with its arrival time.
type Ticket struct {
	Code       string
	ReceivedAt time.Time
}

// Coordinator hands an asynchronously delivered one-time code to the
// synchronously waiting login flow. It is a single rendezvous cell: the
// inbound webhook is the sole writer, the login flow is the sole reader.
//
// A ticket only satisfies a wait if it arrived strictly after the last
// RegisterPendingRequest call. The upstream source reuses the same code
// value for a whole day, so the value alone cannot tell a fresh delivery
// from a stale one.
type Coordinator struct {
	mu          sync.Mutex
	latest      Ticket
	requestedAt time.Time
	arrived     chan struct{}

	// pollURL is set when another process owns the webhook port; waits
	// then poll that instance's read endpoint instead of blocking on the
	// local cell.
	pollURL      string
	pollInterval time.Duration

	// Interactive enables the last-resort manual entry prompt on timeout.
	Interactive bool
}

func NewCoordinator() *Coordinator {
	return &Coordinator{pollInterval: 3 * time.Second}
}

// RegisterPendingRequest marks the instant after which delivered tickets
// are acceptable, and clears any stale wake signal. Call this before
// triggering code generation on the remote end.
func (c *Coordinator) RegisterPendingRequest() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requestedAt = time.Now()
	c.arrived = make(chan struct{})
	slog.Info("registered pending code request", "requested_at", c.requestedAt)
}

// Deliver records a ticket and wakes a waiting reader if the ticket
// qualifies. The webhook receiver is the only caller.
func (c *Coordinator) Deliver(code string, at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest = Ticket{Code: code, ReceivedAt: at}
	if c.arrived != nil && at.After(c.requestedAt) {
		close(c.arrived)
		c.arrived = nil
	}
}

// Latest returns the most recent ticket if it is younger than maxAge.
func (c *Coordinator) Latest(maxAge time.Duration) (Ticket, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.latest.Code != "" && time.Since(c.latest.ReceivedAt) < maxAge {
		return c.latest, true
	}
	return Ticket{}, false
}

// AwaitTicket blocks until a ticket produced after the registered instant
// becomes available, or the timeout elapses. In interactive mode a manual
// entry prompt is offered before giving up.
func (c *Coordinator) AwaitTicket(ctx context.Context, timeout time.Duration) (Ticket, error) {
	ctx, span := tracer.Start(ctx, "AwaitTicket")
	defer span.End()

	c.mu.Lock()
	requestedAt := c.requestedAt
	// The ticket may have landed between RegisterPendingRequest and this
	// call. That check has to happen under the same lock as the wait
	// setup or the wake signal could be missed entirely.
	if c.latest.Code != "" && c.latest.ReceivedAt.After(requestedAt) {
		ticket := c.latest
		c.mu.Unlock()
		slog.InfoContext(ctx, "code already arrived before wait started",
			"age", time.Since(ticket.ReceivedAt))
		return ticket, nil
	}
	pollURL := c.pollURL
	ch := c.arrived
	if ch == nil {
		ch = make(chan struct{})
		c.arrived = ch
	}
	c.mu.Unlock()

	var ticket Ticket
	var err error
	if pollURL != "" {
		ticket, err = c.pollForTicket(ctx, pollURL, requestedAt, timeout)
	} else {
		ticket, err = c.waitForSignal(ctx, ch, requestedAt, timeout)
	}
	if errors.Is(err, ErrTicketTimeout) && c.Interactive {
		if manual, ok := c.promptManualEntry(); ok {
			c.Deliver(manual, time.Now())
			return Ticket{Code: manual, ReceivedAt: time.Now()}, nil
		}
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "no qualifying ticket")
		return Ticket{}, err
	}
	return ticket, nil
}

func (c *Coordinator) waitForSignal(ctx context.Context, ch chan struct{}, requestedAt time.Time, timeout time.Duration) (Ticket, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.latest.Code != "" && c.latest.ReceivedAt.After(requestedAt) {
			return c.latest, nil
		}
		// spurious wake
		return Ticket{}, ErrTicketTimeout
	case <-timer.C:
		return Ticket{}, ErrTicketTimeout
	case <-ctx.Done():
		return Ticket{}, ctx.Err()
	}
}
