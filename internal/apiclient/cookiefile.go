package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"
)

// fileJar persists the backend's cookies so the refresh cookie survives the
// process, the way a browser keeps it between page loads.
type fileJar struct {
	http.CookieJar
	path string
	base *url.URL

	mu sync.Mutex
}

type storedCookie struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// WithCookieFile keeps the client's cookies for the backend in path.
// Cookies already in the file are loaded; a missing file is fine.
func WithCookieFile(path string) Option {
	return func(c *Client) {
		j := &fileJar{CookieJar: c.http.Jar, path: path, base: c.baseURL}
		if err := j.load(); err != nil {
			c.log.Warn("ignoring unreadable cookie file", zap.String("path", path), zap.Error(err))
		}
		c.http.Jar = j
	}
}

func (j *fileJar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.CookieJar.SetCookies(u, cookies)
	if u.Host != j.base.Host {
		return
	}
	// Best effort; the in-memory jar stays authoritative for this process.
	_ = j.save()
}

func (j *fileJar) load() error {
	data, err := os.ReadFile(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	var stored []storedCookie
	if err := json.Unmarshal(data, &stored); err != nil {
		return fmt.Errorf("decode cookie file: %w", err)
	}
	cookies := make([]*http.Cookie, 0, len(stored))
	for _, s := range stored {
		cookies = append(cookies, &http.Cookie{
			Name:     s.Name,
			Value:    s.Value,
			Path:     "/",
			Secure:   j.base.Scheme == "https",
			HttpOnly: true,
		})
	}
	j.CookieJar.SetCookies(j.base, cookies)
	return nil
}

func (j *fileJar) save() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	var stored []storedCookie
	for _, c := range j.CookieJar.Cookies(j.base.JoinPath(authPathPrefix)) {
		stored = append(stored, storedCookie{Name: c.Name, Value: c.Value})
	}
	data, err := json.Marshal(stored)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(j.path), 0o700); err != nil {
		return err
	}
	return os.WriteFile(j.path, data, 0o600)
}
