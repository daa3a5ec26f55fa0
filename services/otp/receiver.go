package otp

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"tenderwatch/lib/serviceutil"
)

// extraction patterns, broadest last
var (
	sixDigitPattern   = regexp.MustCompile(`\b(\d{6})\b`)
	looseDigitPattern = regexp.MustCompile(`\b(\d{4,8})\b`)
)

// freshness window for the read endpoint
const latestTicketMaxAge = 5 * time.Minute

// ExtractCode scans a message for a one-time code: a 6-digit run first,
// falling back to any 4-8 digit run.
func ExtractCode(message string) string {
	for _, pattern := range []*regexp.Regexp{sixDigitPattern, looseDigitPattern} {
		if m := pattern.FindStringSubmatch(message); m != nil {
			return m[1]
		}
	}
	return ""
}

// Receiver is the inbound delivery surface: an HTTP listener that accepts
// code-bearing messages forwarded from a phone and feeds them into the
// Coordinator. It runs from process start so deliveries are captured even
// before a pending request is registered.
type Receiver struct {
	coord *Coordinator
	port  int
}

func NewReceiver(coord *Coordinator, port int) *Receiver {
	return &Receiver{coord: coord, port: port}
}

// Start binds the webhook port and serves in the background. If the port is
// already owned by another instance, the Coordinator is switched over to
// polling that instance's read endpoint instead; this is not an error.
func (r *Receiver) Start(ctx context.Context) error {
	ln, err := serviceutil.Listen(r.port)
	if err != nil {
		slog.WarnContext(ctx,
			"webhook port already in use, falling back to polling the existing listener",
			"port", r.port, "err", err)
		r.coord.mu.Lock()
		r.coord.pollURL = fmt.Sprintf("http://127.0.0.1:%d/get-otp", r.port)
		r.coord.mu.Unlock()
		return nil
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/sms-webhook", r.handleWebhook)
	mux.HandleFunc("/get-otp", r.handleGetOTP)
	mux.HandleFunc("/health", r.handleHealth)

	go func() {
		err := serviceutil.Serve(ln, mux)
		if err != nil {
			slog.ErrorContext(ctx, "webhook server stopped", "err", err)
		}
	}()
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	slog.InfoContext(ctx, "webhook server started", "port", r.port)
	return nil
}

// handleWebhook accepts the forwarded message in any of several shapes:
// query parameters, form fields, a JSON body, or a raw text body. Every
// textual field is scanned and the first field yielding a code wins.
func (r *Receiver) handleWebhook(w http.ResponseWriter, req *http.Request) {
	parts := collectTextParts(req)

	code := ""
	for _, part := range parts {
		if code = ExtractCode(part); code != "" {
			break
		}
	}

	combined := strings.Join(parts, " | ")
	if len(combined) > 500 {
		combined = combined[:500]
	}
	slog.Info("webhook received", "method", req.Method, "raw", combined)

	w.Header().Set("Content-Type", "application/json")
	if code == "" {
		slog.Warn("no code found in webhook payload")
		json.NewEncoder(w).Encode(map[string]any{
			"status": "error",
			"detail": "no code found in message",
		})
		return
	}

	r.coord.Deliver(code, time.Now())
	slog.Info("code extracted from webhook", "code", code)
	json.NewEncoder(w).Encode(map[string]any{
		"status":       "ok",
		"otp_received": code,
	})
}

func collectTextParts(req *http.Request) []string {
	var parts []string
	seen := map[string]bool{}
	add := func(val string) {
		if val != "" && !seen[val] {
			seen[val] = true
			parts = append(parts, val)
		}
	}

	// well-known message keys first, then any remaining query values
	query := req.URL.Query()
	for _, key := range []string{"msg", "message", "text", "body", "sms"} {
		add(query.Get(key))
	}
	for _, vals := range query {
		for _, val := range vals {
			add(val)
		}
	}

	if req.Method != http.MethodPost {
		return parts
	}

	raw, err := io.ReadAll(req.Body)
	if err != nil {
		return parts
	}

	var asMap map[string]any
	if json.Unmarshal(raw, &asMap) == nil {
		for _, val := range asMap {
			if s, ok := val.(string); ok {
				add(s)
			}
		}
	} else {
		var asString string
		if json.Unmarshal(raw, &asString) == nil {
			add(asString)
		}
	}

	if form, err := url.ParseQuery(string(raw)); err == nil {
		for _, vals := range form {
			for _, val := range vals {
				add(val)
			}
		}
	}

	add(string(raw))
	return parts
}

func (r *Receiver) handleGetOTP(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	ticket, ok := r.coord.Latest(latestTicketMaxAge)
	if !ok {
		json.NewEncoder(w).Encode(map[string]any{
			"otp":       nil,
			"detail":    "no recent code available",
			"timestamp": 0,
		})
		return
	}
	json.NewEncoder(w).Encode(map[string]any{
		"otp":         ticket.Code,
		"age_seconds": int(time.Since(ticket.ReceivedAt).Seconds()),
		"timestamp":   ticket.ReceivedAt.Unix(),
	})
}

func (r *Receiver) handleHealth(w http.ResponseWriter, req *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "running"})
}
