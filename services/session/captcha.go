package session

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel/codes"
)

// ChallengeSolver turns a challenge image into its text. Implementations
// are expected to retry internally; an error means all attempts were spent.
type ChallengeSolver interface {
	Solve(ctx context.Context, image []byte) (string, error)
}

// CaptchaClient solves challenge images through a 2captcha-compatible
// remote solving service.
type CaptchaClient struct {
	http     *resty.Client
	apiKey   string
	attempts int
}

func NewCaptchaClient(baseURL, apiKey string) (*CaptchaClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("captcha solver api key is required")
	}
	client := resty.New()
	client.SetBaseURL(baseURL)
	client.SetTimeout(time.Second * 30)
	return &CaptchaClient{
		http:     client,
		apiKey:   apiKey,
		attempts: 3,
	}, nil
}

func (c *CaptchaClient) Solve(ctx context.Context, image []byte) (string, error) {
	ctx, span := tracer.Start(ctx, "captcha:Solve")
	defer span.End()

	var lastErr error
	for attempt := 1; attempt <= c.attempts; attempt++ {
		slog.InfoContext(ctx, "challenge solve attempt", "attempt", attempt, "max", c.attempts)

		solved, err := c.solveOnce(ctx, image)
		if err == nil {
			slog.InfoContext(ctx, "challenge solved", "text", solved)
			return solved, nil
		}
		lastErr = err
		slog.WarnContext(ctx, "challenge attempt failed", "attempt", attempt, "err", err)
	}

	err := fmt.Errorf("challenge solving failed after %d attempts: %w", c.attempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "all solve attempts exhausted")
	return "", err
}

func (c *CaptchaClient) solveOnce(ctx context.Context, image []byte) (string, error) {
	res, err := c.http.R().
		SetContext(ctx).
		SetFormData(map[string]string{
			"key":    c.apiKey,
			"method": "base64",
			"body":   base64.StdEncoding.EncodeToString(image),
		}).
		Post("/in.php")
	if err != nil {
		return "", err
	}
	submitted := strings.TrimSpace(res.String())
	if !strings.HasPrefix(submitted, "OK|") {
		return "", fmt.Errorf("solver rejected submission: %s", submitted)
	}
	taskID := strings.TrimPrefix(submitted, "OK|")

	for i := 0; i < 12; i++ {
		select {
		case <-time.After(5 * time.Second):
		case <-ctx.Done():
			return "", ctx.Err()
		}

		res, err := c.http.R().
			SetContext(ctx).
			SetQueryParams(map[string]string{
				"key":    c.apiKey,
				"action": "get",
				"id":     taskID,
			}).
			Get("/res.php")
		if err != nil {
			return "", err
		}
		answer := strings.TrimSpace(res.String())
		if answer == "CAPCHA_NOT_READY" {
			continue
		}
		if !strings.HasPrefix(answer, "OK|") {
			return "", fmt.Errorf("solver returned error: %s", answer)
		}
		solved := strings.TrimSpace(strings.TrimPrefix(answer, "OK|"))
		if solved == "" {
			return "", fmt.Errorf("solver returned empty result")
		}
		return solved, nil
	}
	return "", fmt.Errorf("solver did not finish in time")
}
