package commands

import (
	"context"
	"time"

	"tenderwatch/lib/configutil"
	"tenderwatch/services/otp"
	"tenderwatch/services/session"
	"tenderwatch/services/tenders"
)

type Config struct {
	BaseURL  string `json:"base_url"`
	Mobile   string `json:"mobile"`
	Category string `json:"category"`

	StateFile     string `json:"state_file"`
	SessionFile   string `json:"session_file"`
	CodeCacheFile string `json:"code_cache_file"`

	OtpPort    int    `json:"otp_port"`
	CaptchaURL string `json:"captcha_url"`
	CaptchaKey string `json:"captcha_key"`
	WebhookURL string `json:"webhook_url"`

	// DevCap limits the number of harvested records, 0 means no limit.
	DevCap int `json:"dev_cap"`
}

func readConfig() (Config, error) {
	cfg, err := configutil.ReadConfig[Config]("config.json5")
	if err != nil {
		return Config{}, err
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://www.ireps.gov.in"
	}
	if cfg.Category == "" {
		cfg.Category = "Works"
	}
	if cfg.StateFile == "" {
		cfg.StateFile = "tenders_snapshot.json"
	}
	if cfg.SessionFile == "" {
		cfg.SessionFile = "session_cookies.json"
	}
	if cfg.CodeCacheFile == "" {
		cfg.CodeCacheFile = "otp_cache.json"
	}
	if cfg.OtpPort == 0 {
		cfg.OtpPort = 5000
	}
	if cfg.CaptchaURL == "" {
		cfg.CaptchaURL = "http://2captcha.com"
	}
	return cfg, nil
}

func (c Config) sessionConfig() session.Config {
	return session.Config{
		BaseURL:          c.BaseURL,
		Mobile:           c.Mobile,
		SessionFile:      c.SessionFile,
		SessionMaxAge:    20 * time.Hour,
		CodeCacheFile:    c.CodeCacheFile,
		CodeCacheAge:     24 * time.Hour,
		AwaitCodeTimeout: 2 * time.Minute,
		FreshCodeTimeout: 90 * time.Second,
		MaxAttempts:      2,
	}
}

// buildSessionManager wires the code receiver, the challenge solver and
// the session manager. The receiver keeps serving for the lifetime of
// ctx.
func buildSessionManager(ctx context.Context, cfg Config, interactive bool) (*session.Manager, error) {
	coord := otp.NewCoordinator()
	coord.Interactive = interactive

	if err := otp.NewReceiver(coord, cfg.OtpPort).Start(ctx); err != nil {
		return nil, err
	}

	solver, err := session.NewCaptchaClient(cfg.CaptchaURL, cfg.CaptchaKey)
	if err != nil {
		return nil, err
	}
	return session.NewManager(cfg.sessionConfig(), coord, solver)
}

func buildHarvestStages(mgr *session.Manager, cfg Config) (*tenders.Harvester, *tenders.Enricher, error) {
	src, err := tenders.NewSiteClient(cfg.BaseURL, mgr.Client())
	if err != nil {
		return nil, nil, err
	}
	harvester := tenders.NewHarvester(src, tenders.HarvesterConfig{
		Category: cfg.Category,
		DevCap:   cfg.DevCap,
	})
	enricher := tenders.NewEnricher(src, src.Base(), tenders.EnricherConfig{})
	return harvester, enricher, nil
}
