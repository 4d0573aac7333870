// Package browser opens product pages in isolated browsing contexts and runs
// the marketplace extractor inside them.
package browser

import (
	"context"
	"errors"

	"github.com/MrSnakeDoc/quickbasket/internal/domain"
)

var (
	// ErrNotInjected is returned by Ping before the extractor is installed.
	ErrNotInjected = errors.New("extractor not injected")
	// ErrNotLoaded is returned when the page never finished loading.
	ErrNotLoaded = errors.New("page not loaded")
	// ErrClosed is returned by every call on a closed context.
	ErrClosed = errors.New("browsing context closed")
)

// Opener creates browsing contexts. Each context holds resources until
// Close is called.
type Opener interface {
	Open(ctx context.Context, pageURL string, mp domain.Marketplace) (Context, error)
}

// Context is one loaded page.
type Context interface {
	// WaitLoaded blocks until the page reports loaded or ctx ends.
	WaitLoaded(ctx context.Context) error
	// Ping checks that the extractor inside the page answers.
	Ping(ctx context.Context) error
	// Inject installs the extractor into the page.
	Inject(ctx context.Context) error
	Extract(ctx context.Context) (*domain.Snapshot, error)
	Close(ctx context.Context) error
}
