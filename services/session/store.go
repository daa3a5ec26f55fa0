package session

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

// Store persists the authenticated cookie state between runs. Freshness
// comes from the file's modification time; a file older than MaxAge is
// expired without contacting the remote site.
type Store struct {
	Path   string
	MaxAge time.Duration
}

func (s Store) Fresh() bool {
	info, err := os.Stat(s.Path)
	if err != nil {
		slog.Info("no saved session file", "path", s.Path)
		return false
	}
	age := time.Since(info.ModTime())
	if age > s.MaxAge {
		slog.Info("saved session expired", "age", age, "max_age", s.MaxAge)
		return false
	}
	slog.Info("saved session potentially valid", "age", age)
	return true
}

func (s Store) Load(jar http.CookieJar, base *url.URL) error {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return err
	}
	var cookies []*http.Cookie
	err = json.Unmarshal(data, &cookies)
	if err != nil {
		return err
	}
	jar.SetCookies(base, cookies)
	slog.Info("loaded saved session", "path", s.Path, "cookies", len(cookies))
	return nil
}

func (s Store) Save(jar http.CookieJar, base *url.URL) error {
	cookies := jar.Cookies(base)
	data, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return err
	}
	err = os.MkdirAll(filepath.Dir(s.Path), 0o755)
	if err != nil {
		return err
	}
	err = os.WriteFile(s.Path, data, 0o600)
	if err != nil {
		return err
	}
	slog.Info("session saved", "path", s.Path, "cookies", len(cookies))
	return nil
}

func (s Store) Discard() {
	err := os.Remove(s.Path)
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("could not remove session file", "path", s.Path, "err", err)
	}
}
