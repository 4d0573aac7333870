package browser

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/time/rate"
	"resty.dev/v3"

	"github.com/MrSnakeDoc/quickbasket/internal/domain"
	"github.com/MrSnakeDoc/quickbasket/internal/extract"
	"github.com/MrSnakeDoc/quickbasket/internal/logger"
)

// HTTPOpener fetches pages over plain HTTP and parses them with goquery. Page
// loads share one rate limiter so bursts of alarms do not hammer a storefront.
type HTTPOpener struct {
	client    *resty.Client
	limiter   *rate.Limiter
	extractor *extract.Extractor
	logger    logger.Logger
}

// NewHTTPOpener creates an opener. perSecond <= 0 disables rate limiting.
func NewHTTPOpener(extractor *extract.Extractor, userAgent string, perSecond float64, log logger.Logger) *HTTPOpener {
	client := resty.New().
		SetHeader("User-Agent", userAgent).
		SetHeader("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,image/webp,*/*;q=0.8").
		SetHeader("Accept-Language", "en-US,en;q=0.9").
		SetRetryCount(0)

	limit := rate.Inf
	if perSecond > 0 {
		limit = rate.Limit(perSecond)
	}
	return &HTTPOpener{
		client:    client,
		limiter:   rate.NewLimiter(limit, 1),
		extractor: extractor,
		logger:    log,
	}
}

// Close releases the underlying HTTP client
func (o *HTTPOpener) Close() error {
	return o.client.Close()
}

// Open starts loading pageURL in the background and returns immediately.
func (o *HTTPOpener) Open(_ context.Context, pageURL string, mp domain.Marketplace) (Context, error) {
	// The load outlives the caller's Open call; Close cancels it.
	loadCtx, cancel := context.WithCancel(context.Background())
	hc := &httpContext{
		opener: o,
		url:    pageURL,
		mp:     mp,
		cancel: cancel,
		loaded: make(chan struct{}),
	}
	go hc.load(loadCtx)
	return hc, nil
}

type httpContext struct {
	opener *HTTPOpener
	url    string
	mp     domain.Marketplace
	cancel context.CancelFunc
	loaded chan struct{}

	mu       sync.Mutex
	doc      *goquery.Document
	loadErr  error
	injected bool
	closed   bool
}

func (c *httpContext) load(ctx context.Context) {
	defer close(c.loaded)

	if err := c.opener.limiter.Wait(ctx); err != nil {
		c.setLoad(nil, err)
		return
	}

	start := time.Now()
	req := c.opener.client.R().SetContext(ctx)
	if c.mp == domain.MarketplaceNoon {
		// noon serves a country picker without these
		req.SetHeader("Cookie", "NNCountry=AE; NNLocale=en")
	}
	resp, err := req.Get(c.url)
	if err != nil {
		c.setLoad(nil, err)
		return
	}
	if resp.IsError() {
		c.setLoad(nil, fmt.Errorf("page %s: status %d", c.url, resp.StatusCode()))
		return
	}

	doc, err := goquery.NewDocumentFromReader(strings.NewReader(resp.String()))
	c.setLoad(doc, err)
	c.opener.logger.Debug("page loaded",
		logger.String("url", c.url),
		logger.Duration("elapsed", time.Since(start)))
}

func (c *httpContext) setLoad(doc *goquery.Document, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.doc, c.loadErr = doc, err
}

func (c *httpContext) WaitLoaded(ctx context.Context) error {
	select {
	case <-c.loaded:
	case <-ctx.Done():
		return ctx.Err()
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.loadErr != nil {
		return fmt.Errorf("%w: %v", ErrNotLoaded, c.loadErr)
	}
	return nil
}

func (c *httpContext) Ping(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case !c.injected:
		return ErrNotInjected
	}
	return nil
}

func (c *httpContext) Inject(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case c.closed:
		return ErrClosed
	case c.doc == nil:
		return ErrNotLoaded
	}
	c.injected = true
	return nil
}

func (c *httpContext) Extract(ctx context.Context) (*domain.Snapshot, error) {
	c.mu.Lock()
	doc, injected, closed := c.doc, c.injected, c.closed
	c.mu.Unlock()

	switch {
	case closed:
		return nil, ErrClosed
	case !injected:
		return nil, ErrNotInjected
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.opener.extractor.Extract(doc, c.mp, c.url)
}

// Close cancels any in-flight load. Closing twice is an error.
func (c *httpContext) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	c.doc = nil
	c.cancel()
	return nil
}
