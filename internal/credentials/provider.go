// Package credentials supplies the bearer token attached to catalog requests.
package credentials

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Provider returns the current bearer token, or "" when requests should go
// out unauthenticated.
type Provider interface {
	Token(ctx context.Context) (string, error)
}

// None never authenticates.
type None struct{}

func (None) Token(context.Context) (string, error) { return "", nil }

// Static serves a fixed token.
type Static struct {
	token string
	now   func() time.Time
}

func NewStatic(token string) *Static {
	return &Static{token: strings.TrimSpace(token), now: time.Now}
}

func (s *Static) Token(context.Context) (string, error) {
	return usable(s.token, s.now()), nil
}

// File reads the token from disk and re-reads it whenever the file's
// modification time changes, so an external login flow can rotate it.
type File struct {
	path string
	now  func() time.Time

	mu      sync.Mutex
	modTime time.Time
	token   string
}

func NewFile(path string) *File {
	return &File{path: path, now: time.Now}
}

func (f *File) Token(context.Context) (string, error) {
	st, err := os.Stat(f.path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("stat token file: %w", err)
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if !st.ModTime().Equal(f.modTime) {
		data, err := os.ReadFile(f.path)
		if err != nil {
			return "", fmt.Errorf("read token file: %w", err)
		}
		f.token = strings.TrimSpace(string(data))
		f.modTime = st.ModTime()
	}
	return usable(f.token, f.now()), nil
}

// FromConfig picks the file provider when a path is set, then a static token, then none.
func FromConfig(token, file string) Provider {
	switch {
	case file != "":
		return NewFile(file)
	case token != "":
		return NewStatic(token)
	default:
		return None{}
	}
}

// usable withholds JWTs whose exp claim has passed. Opaque tokens are passed through.
// The signature is not checked here; the catalog service does that.
func usable(token string, now time.Time) string {
	if token == "" {
		return ""
	}
	if strings.Count(token, ".") != 2 {
		return token
	}
	claims := jwt.MapClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(token, claims); err != nil {
		return token
	}
	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return token
	}
	if !now.Before(exp.Time) {
		return ""
	}
	return token
}
