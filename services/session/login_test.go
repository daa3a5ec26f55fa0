package session

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"tenderwatch/lib/telemetry"
	"tenderwatch/services/otp"

	"github.com/stretchr/testify/require"
)

type fakePortal struct {
	loginPages   int
	codeRequests int
	accept       func(code string) bool
	live         bool
	onRequest    func()
}

func (f *fakePortal) LoginPage(ctx context.Context) (*LoginPage, error) {
	f.loginPages++
	return &LoginPage{CaptchaURL: "/captcha.png", Hidden: map[string]string{}}, nil
}

func (f *fakePortal) CaptchaImage(ctx context.Context, page *LoginPage) ([]byte, error) {
	return []byte("png"), nil
}

func (f *fakePortal) RequestCode(ctx context.Context, page *LoginPage, mobile, challenge string) error {
	f.codeRequests++
	if f.onRequest != nil {
		f.onRequest()
	}
	return nil
}

func (f *fakePortal) SubmitCode(ctx context.Context, page *LoginPage, code string) (bool, error) {
	ok := f.accept(code)
	f.live = ok
	return ok, nil
}

func (f *fakePortal) Verify(ctx context.Context) (bool, error) {
	return f.live, nil
}

type fakeSolver struct{}

func (fakeSolver) Solve(ctx context.Context, image []byte) (string, error) {
	return "x7pq2", nil
}

func newTestManager(t *testing.T, portal Portal, coord *otp.Coordinator) *Manager {
	t.Helper()
	dir := t.TempDir()
	mgr, err := NewManager(Config{
		BaseURL:          "https://portal.example.com",
		Mobile:           "9876543210",
		SessionFile:      filepath.Join(dir, "session.json"),
		SessionMaxAge:    20 * time.Hour,
		CodeCacheFile:    filepath.Join(dir, "otp_cache.json"),
		CodeCacheAge:     24 * time.Hour,
		AwaitCodeTimeout: time.Second,
		FreshCodeTimeout: time.Second,
		MaxAttempts:      2,
	}, coord, fakeSolver{})
	require.NoError(t, err)
	mgr.portal = portal
	return mgr
}

func TestLoginHappyPath(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:session")
	defer cleanup()

	coord := otp.NewCoordinator()
	portal := &fakePortal{accept: func(code string) bool { return code == "482913" }}
	portal.onRequest = func() { coord.Deliver("482913", time.Now()) }
	mgr := newTestManager(t, portal, coord)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := mgr.EnsureSession(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, portal.codeRequests)

	// session and code cache are both persisted on success
	_, err = os.Stat(mgr.cfg.SessionFile)
	require.NoError(t, err)
	code, ok := mgr.cache.Load()
	require.True(t, ok)
	require.Equal(t, "482913", code)
}

func TestLoginAttemptCap(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:session")
	defer cleanup()

	coord := otp.NewCoordinator()
	portal := &fakePortal{accept: func(string) bool { return false }}
	portal.onRequest = func() { coord.Deliver("482913", time.Now()) }
	mgr := newTestManager(t, portal, coord)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := mgr.EnsureSession(ctx)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
	// a third attempt must never be initiated
	require.Equal(t, 2, portal.codeRequests)
}

func TestCachedCodeRejectionRecovery(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:session")
	defer cleanup()

	coord := otp.NewCoordinator()
	portal := &fakePortal{accept: func(code string) bool { return code == "771122" }}
	portal.onRequest = func() { coord.Deliver("771122", time.Now()) }
	mgr := newTestManager(t, portal, coord)

	// a stale cached code from a previous day
	mgr.cache.Save("665544")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := mgr.EnsureSession(ctx)
	require.NoError(t, err)
	// the stale code is replaced without starting a second attempt
	require.Equal(t, 1, portal.codeRequests)

	code, ok := mgr.cache.Load()
	require.True(t, ok)
	require.Equal(t, "771122", code)
}

func TestCachedCodeRecoveryFailsOnSameCode(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:session")
	defer cleanup()

	coord := otp.NewCoordinator()
	portal := &fakePortal{accept: func(string) bool { return false }}
	// the webhook delivers the very code that was already refused
	portal.onRequest = func() { coord.Deliver("665544", time.Now()) }
	mgr := newTestManager(t, portal, coord)
	mgr.cache.Save("665544")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	err := mgr.EnsureSession(ctx)
	require.ErrorIs(t, err, ErrAttemptsExhausted)
}

func TestExpiredCachedCodeIgnored(t *testing.T) {
	cache := CodeCache{
		Path:   filepath.Join(t.TempDir(), "otp_cache.json"),
		MaxAge: 24 * time.Hour,
	}

	// an entry from the day before yesterday is past its validity window
	data, err := json.Marshal(cachedCode{
		Code:      "482913",
		Timestamp: time.Now().Add(-25 * time.Hour),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(cache.Path, data, 0o600))

	_, ok := cache.Load()
	require.False(t, ok)

	// saving restarts the validity window
	cache.Save("482913")
	code, ok := cache.Load()
	require.True(t, ok)
	require.Equal(t, "482913", code)
}

func TestExpiredSessionTriggersFullLogin(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:session")
	defer cleanup()

	coord := otp.NewCoordinator()
	portal := &fakePortal{accept: func(code string) bool { return code == "482913" }}
	portal.onRequest = func() { coord.Deliver("482913", time.Now()) }
	mgr := newTestManager(t, portal, coord)

	// a session persisted 21 hours ago is past its 20 hour freshness window
	require.NoError(t, mgr.store.Save(mgr.jar, mgr.base))
	stale := time.Now().Add(-21 * time.Hour)
	require.NoError(t, os.Chtimes(mgr.cfg.SessionFile, stale, stale))
	require.False(t, mgr.store.Fresh())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := mgr.EnsureSession(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, portal.loginPages)
	require.Equal(t, 1, portal.codeRequests)
}

func TestFreshSessionSkipsLogin(t *testing.T) {
	cleanup := telemetry.SetupForTesting(t, "test:session")
	defer cleanup()

	coord := otp.NewCoordinator()
	portal := &fakePortal{accept: func(string) bool { return false }, live: true}
	mgr := newTestManager(t, portal, coord)

	// pretend a login already happened this run
	require.NoError(t, mgr.store.Save(mgr.jar, mgr.base))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := mgr.EnsureSession(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, portal.codeRequests)
	require.Equal(t, 0, portal.loginPages)
}
