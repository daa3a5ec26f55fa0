package session

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"tenderwatch/lib/restyutil"
	"tenderwatch/services/otp"

	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("services/session")

type Config struct {
	BaseURL string
	Mobile  string

	SessionFile   string
	SessionMaxAge time.Duration

	CodeCacheFile string
	CodeCacheAge  time.Duration

	AwaitCodeTimeout time.Duration
	FreshCodeTimeout time.Duration
	MaxAttempts      int
}

// Manager decides whether the persisted session is still usable and runs
// the full login flow when it is not.
type Manager struct {
	cfg    Config
	http   *resty.Client
	jar    http.CookieJar
	base   *url.URL
	portal Portal
	store  Store
	cache  CodeCache
	coord  *otp.Coordinator
	solver ChallengeSolver
}

func NewManager(cfg Config, coord *otp.Coordinator, solver ChallengeSolver) (*Manager, error) {
	base, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, err
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	client.SetCookieJar(jar)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(base.Hostname()))
	client.SetTimeout(time.Second * 30)
	restyutil.InstrumentClient(client, tracer)

	portal, err := NewSitePortal(cfg.BaseURL, client)
	if err != nil {
		return nil, err
	}

	return &Manager{
		cfg:    cfg,
		http:   client,
		jar:    jar,
		base:   base,
		portal: portal,
		store:  Store{Path: cfg.SessionFile, MaxAge: cfg.SessionMaxAge},
		cache:  CodeCache{Path: cfg.CodeCacheFile, MaxAge: cfg.CodeCacheAge},
		coord:  coord,
		solver: solver,
	}, nil
}

// Client returns the HTTP client carrying the authenticated cookie state.
// It is shared with the harvesting stages.
func (m *Manager) Client() *resty.Client {
	return m.http
}

// EnsureSession loads and verifies the persisted session if it is young
// enough, and performs a full login otherwise.
func (m *Manager) EnsureSession(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "EnsureSession")
	defer span.End()

	if m.store.Fresh() {
		err := m.store.Load(m.jar, m.base)
		if err != nil {
			slog.WarnContext(ctx, "could not load saved session", "err", err)
		} else {
			live, err := m.portal.Verify(ctx)
			if err != nil {
				slog.WarnContext(ctx, "session verification errored", "err", err)
			} else if live {
				slog.InfoContext(ctx, "saved session verified, skipping login")
				return nil
			}
			slog.InfoContext(ctx, "saved session is stale, proceeding with fresh login")
		}
		m.store.Discard()
	}

	return m.performLogin(ctx)
}
