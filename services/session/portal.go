package session

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-resty/resty/v2"
)

// AuthMarker is the heading the portal shows whenever a request lands on
// the login wall. Its presence on any page means the session is not
// authenticated.
const AuthMarker = "Authenticate Yourself"

const (
	loginPath    = "/epsn/guestLogin.do"
	loginActPath = "/epsn/guestLoginAction.do"
	searchPath   = "/epsn/anonymSearch.do"
)

// LoginPage carries the state the login flow needs between steps: the
// parsed form and the challenge image location.
type LoginPage struct {
	CaptchaURL string
	Hidden     map[string]string
}

// Portal is everything the login state machine needs from the remote site.
// The concrete implementation speaks HTTP; tests substitute a fake.
type Portal interface {
	// LoginPage fetches and parses the login form.
	LoginPage(ctx context.Context) (*LoginPage, error)
	// CaptchaImage downloads the challenge image referenced by the form.
	CaptchaImage(ctx context.Context, page *LoginPage) ([]byte, error)
	// RequestCode submits the credential and solved challenge, which
	// triggers a one-time code generation on the remote end. A rejected
	// challenge returns ErrChallengeRejected.
	RequestCode(ctx context.Context, page *LoginPage, mobile, challenge string) error
	// SubmitCode submits the one-time code. It reports whether the portal
	// accepted it.
	SubmitCode(ctx context.Context, page *LoginPage, code string) (bool, error)
	// Verify loads a protected resource and reports whether the current
	// session is authenticated.
	Verify(ctx context.Context) (bool, error)
}

// SitePortal implements Portal against the live tender portal.
type SitePortal struct {
	base *url.URL
	http *resty.Client
}

func NewSitePortal(base string, http *resty.Client) (*SitePortal, error) {
	parsed, err := url.Parse(base)
	if err != nil {
		return nil, err
	}
	return &SitePortal{base: parsed, http: http}, nil
}

func (p *SitePortal) LoginPage(ctx context.Context) (*LoginPage, error) {
	ctx, span := tracer.Start(ctx, "portal:LoginPage")
	defer span.End()

	res, err := p.http.R().
		SetContext(ctx).
		Get(loginPath)
	if err != nil {
		return nil, fmt.Errorf("fetch login page: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(res.Body()))
	if err != nil {
		return nil, fmt.Errorf("parse login page: %w", err)
	}

	page := &LoginPage{Hidden: map[string]string{}}
	doc.Find("input[type=hidden]").Each(func(_ int, sel *goquery.Selection) {
		name := sel.AttrOr("name", "")
		if name != "" {
			page.Hidden[name] = sel.AttrOr("value", "")
		}
	})

	// the challenge image sits next to the "Verification Code" label; fall
	// back to any image whose source mentions captcha
	doc.Find("img").EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		src := sel.AttrOr("src", "")
		if strings.Contains(strings.ToLower(src), "captcha") {
			page.CaptchaURL = src
			return false
		}
		return true
	})
	if page.CaptchaURL == "" {
		return nil, fmt.Errorf("could not locate challenge image on login page")
	}

	return page, nil
}

func (p *SitePortal) CaptchaImage(ctx context.Context, page *LoginPage) ([]byte, error) {
	res, err := p.http.R().
		SetContext(ctx).
		Get(page.CaptchaURL)
	if err != nil {
		return nil, fmt.Errorf("fetch challenge image: %w", err)
	}
	if len(res.Body()) == 0 {
		return nil, fmt.Errorf("challenge image is empty")
	}
	return res.Body(), nil
}

func (p *SitePortal) RequestCode(ctx context.Context, page *LoginPage, mobile, challenge string) error {
	ctx, span := tracer.Start(ctx, "portal:RequestCode")
	defer span.End()

	form := map[string]string{
		"mobileNo":     mobile,
		"inputCaptcha": challenge,
		"action":       "getOtp",
	}
	for k, v := range page.Hidden {
		form[k] = v
	}

	res, err := p.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(loginActPath)
	if err != nil {
		return fmt.Errorf("request code: %w", err)
	}

	body := strings.ToLower(string(res.Body()))
	for _, marker := range []string{"incorrect", "invalid", "wrong"} {
		if strings.Contains(body, marker) {
			return ErrChallengeRejected
		}
	}
	return nil
}

func (p *SitePortal) SubmitCode(ctx context.Context, page *LoginPage, code string) (bool, error) {
	ctx, span := tracer.Start(ctx, "portal:SubmitCode")
	defer span.End()

	form := map[string]string{
		"otp":    code,
		"action": "proceed",
	}
	for k, v := range page.Hidden {
		form[k] = v
	}

	res, err := p.http.R().
		SetContext(ctx).
		SetFormData(form).
		Post(loginActPath)
	if err != nil {
		return false, fmt.Errorf("submit code: %w", err)
	}
	return !containsAuthMarker(res.Body()), nil
}

func (p *SitePortal) Verify(ctx context.Context) (bool, error) {
	ctx, span := tracer.Start(ctx, "portal:Verify")
	defer span.End()

	res, err := p.http.R().
		SetContext(ctx).
		Get(searchPath)
	if err != nil {
		return false, fmt.Errorf("fetch protected page: %w", err)
	}
	return !containsAuthMarker(res.Body()), nil
}

func containsAuthMarker(body []byte) bool {
	return strings.Contains(string(body), AuthMarker)
}
