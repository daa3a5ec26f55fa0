package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/codes"
)

var (
	// ErrChallengeRejected means the portal refused the solved challenge
	// text; the attempt can be retried with a fresh image.
	ErrChallengeRejected = errors.New("portal rejected the solved challenge")
	// ErrCodeRejected means the portal refused the one-time code.
	ErrCodeRejected = errors.New("portal rejected the one-time code")
	// ErrAttemptsExhausted is run-fatal: the login attempt cap was hit.
	// Each attempt may burn a rate-limited code generation, so the run is
	// never allowed a third try.
	ErrAttemptsExhausted = errors.New("login attempts exhausted")
)

// loginState names the steps of a single login attempt.
type loginState int

const (
	stateNavLogin loginState = iota
	stateFillCredential
	stateSolveChallenge
	stateRequestCode
	stateAwaitCode
	stateSubmitCode
	stateVerify
)

func (s loginState) String() string {
	switch s {
	case stateNavLogin:
		return "NAV_LOGIN"
	case stateFillCredential:
		return "FILL_CREDENTIAL"
	case stateSolveChallenge:
		return "SOLVE_CHALLENGE"
	case stateRequestCode:
		return "REQUEST_OTP"
	case stateAwaitCode:
		return "AWAIT_OTP"
	case stateSubmitCode:
		return "SUBMIT_OTP"
	case stateVerify:
		return "VERIFY"
	}
	return "UNKNOWN"
}

// performLogin runs the bounded login flow: at most MaxAttempts passes
// through the state machine. It returns nil once a session is live and
// persisted, or ErrAttemptsExhausted wrapped around the last failure.
func (m *Manager) performLogin(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "performLogin")
	defer span.End()

	slog.InfoContext(ctx, "starting login flow", "max_attempts", m.cfg.MaxAttempts)

	cachedCode, haveCached := m.cache.Load()

	var lastErr error
	for attempt := 1; attempt <= m.cfg.MaxAttempts; attempt++ {
		slog.InfoContext(ctx, "login attempt", "attempt", attempt, "max", m.cfg.MaxAttempts)

		err := m.loginAttempt(ctx, cachedCode, haveCached)
		if err == nil {
			slog.InfoContext(ctx, "login completed successfully")
			return nil
		}
		lastErr = err
		slog.WarnContext(ctx, "login attempt failed", "attempt", attempt, "err", err)

		// a rejected cached code was invalidated inside the attempt; the
		// next attempt must go through the coordinator
		cachedCode, haveCached = m.cache.Load()
	}

	err := fmt.Errorf("%w after %d attempts: %v", ErrAttemptsExhausted, m.cfg.MaxAttempts, lastErr)
	span.RecordError(err)
	span.SetStatus(codes.Error, "login attempts exhausted")
	slog.ErrorContext(ctx, "login failed, will not retry to avoid burning code generations",
		"attempts", m.cfg.MaxAttempts, "err", lastErr)
	return err
}

// loginAttempt is one pass through the state machine.
func (m *Manager) loginAttempt(ctx context.Context, cachedCode string, haveCached bool) error {
	var (
		page      *LoginPage
		challenge string
		code      string
		usedCache bool
	)

	state := stateNavLogin
	for {
		slog.DebugContext(ctx, "login state", "state", state.String())

		switch state {
		case stateNavLogin:
			var err error
			page, err = m.portal.LoginPage(ctx)
			if err != nil {
				return err
			}
			state = stateFillCredential

		case stateFillCredential:
			slog.InfoContext(ctx, "filling credential", "mobile", maskMobile(m.cfg.Mobile))
			state = stateSolveChallenge

		case stateSolveChallenge:
			image, err := m.portal.CaptchaImage(ctx, page)
			if err != nil {
				return err
			}
			challenge, err = m.solver.Solve(ctx, image)
			if err != nil {
				return err
			}
			state = stateRequestCode

		case stateRequestCode:
			// register before triggering generation so a code arriving
			// during the request round-trip still qualifies
			m.coord.RegisterPendingRequest()
			err := m.portal.RequestCode(ctx, page, m.cfg.Mobile, challenge)
			if err != nil {
				return err
			}
			slog.InfoContext(ctx, "code generation triggered")
			state = stateAwaitCode

		case stateAwaitCode:
			if haveCached {
				slog.InfoContext(ctx, "using cached code")
				code = cachedCode
				usedCache = true
			} else {
				ticket, err := m.coord.AwaitTicket(ctx, m.cfg.AwaitCodeTimeout)
				if err != nil {
					return fmt.Errorf("no code received within %s: %w", m.cfg.AwaitCodeTimeout, err)
				}
				code = ticket.Code
				// cache immediately so the code survives a crash before
				// the login completes
				m.cache.Save(code)
			}
			state = stateSubmitCode

		case stateSubmitCode:
			accepted, err := m.portal.SubmitCode(ctx, page, code)
			if err != nil {
				return err
			}
			if accepted {
				state = stateVerify
				break
			}
			if !usedCache {
				return fmt.Errorf("%w: freshly delivered code refused", ErrCodeRejected)
			}
			// distinct recovery path: the cached code went stale, but the
			// generation triggered above may already have delivered a
			// fresh one
			var recovered bool
			code, recovered = m.recoverWithFreshCode(ctx, page, code)
			if !recovered {
				return fmt.Errorf("%w: cached and fresh code both refused", ErrCodeRejected)
			}
			usedCache = false
			state = stateVerify

		case stateVerify:
			live, err := m.portal.Verify(ctx)
			if err != nil {
				return err
			}
			if !live {
				return fmt.Errorf("%w: session not live after code submission", ErrCodeRejected)
			}
			err = m.store.Save(m.jar, m.base)
			if err != nil {
				return fmt.Errorf("persist session: %w", err)
			}
			// restart the cached code's validity window
			m.cache.Save(code)
			return nil
		}
	}
}

// recoverWithFreshCode invalidates the stale cached code and retries with
// a code from the coordinator, if one that differs arrives in time.
func (m *Manager) recoverWithFreshCode(ctx context.Context, page *LoginPage, staleCode string) (string, bool) {
	slog.WarnContext(ctx, "cached code refused, invalidating cache")
	m.cache.Invalidate()

	ticket, err := m.coord.AwaitTicket(ctx, m.cfg.FreshCodeTimeout)
	if err != nil {
		slog.ErrorContext(ctx, "no fresh code arrived after cached code failure", "err", err)
		return "", false
	}
	m.cache.Save(ticket.Code)

	if ticket.Code == staleCode {
		slog.ErrorContext(ctx, "fresh code equals the refused one, giving up this attempt")
		return "", false
	}

	slog.InfoContext(ctx, "retrying with freshly delivered code")
	accepted, err := m.portal.SubmitCode(ctx, page, ticket.Code)
	if err != nil || !accepted {
		return "", false
	}
	return ticket.Code, true
}

func maskMobile(mobile string) string {
	if len(mobile) < 5 {
		return "****"
	}
	return mobile[:3] + "****" + mobile[len(mobile)-2:]
}
