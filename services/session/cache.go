package session

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// CodeCache keeps the last accepted one-time code on disk. The upstream
// generator is rate-limited but keeps a code valid for a full day, so
// reusing a cached code avoids spending a scarce generation.
type CodeCache struct {
	Path   string
	MaxAge time.Duration
}

type cachedCode struct {
	Code      string    `json:"code"`
	Timestamp time.Time `json:"timestamp"`
}

func (c CodeCache) Load() (string, bool) {
	data, err := os.ReadFile(c.Path)
	if err != nil {
		return "", false
	}
	var cached cachedCode
	err = json.Unmarshal(data, &cached)
	if err != nil || cached.Code == "" {
		return "", false
	}
	age := time.Since(cached.Timestamp)
	if age >= c.MaxAge {
		slog.Info("cached code expired", "age", age, "max_age", c.MaxAge)
		return "", false
	}
	slog.Info("found cached code", "age", age)
	return cached.Code, true
}

// Save stores the code with a fresh timestamp, restarting its validity
// window.
func (c CodeCache) Save(code string) {
	err := os.MkdirAll(filepath.Dir(c.Path), 0o755)
	if err != nil {
		slog.Warn("could not create code cache dir", "err", err)
		return
	}
	data, err := json.Marshal(cachedCode{Code: code, Timestamp: time.Now()})
	if err != nil {
		slog.Warn("could not serialize code cache", "err", err)
		return
	}
	err = os.WriteFile(c.Path, data, 0o600)
	if err != nil {
		slog.Warn("could not save code cache", "err", err)
		return
	}
	slog.Info("code cached", "path", c.Path)
}

func (c CodeCache) Invalidate() {
	err := os.Remove(c.Path)
	if err != nil && !os.IsNotExist(err) {
		slog.Warn("could not remove code cache", "path", c.Path, "err", err)
	}
}
