package catalog

import (
	"context"

	"github.com/MrSnakeDoc/quickbasket/internal/cache"
	"github.com/MrSnakeDoc/quickbasket/internal/metrics"
)

const listKey = "GET /products"

func detailKey(id RemoteID) string { return "GET /products/" + string(id) }

// CachedClient serves product reads from a short-lived cache and invalidates
// the affected keys before any mutating call returns.
type CachedClient struct {
	*Client
	products *cache.TTL[[]Product]
	details  *cache.TTL[*Product]
}

// NewCached wraps c. The detail cache carries the entry bound; the list cache
// only ever holds one key.
func NewCached(c *Client, list *cache.TTL[[]Product], details *cache.TTL[*Product]) *CachedClient {
	return &CachedClient{Client: c, products: list, details: details}
}

func (c *CachedClient) ListProducts(ctx context.Context) ([]Product, error) {
	if v, ok := c.products.Get(listKey); ok {
		metrics.CatalogCacheResults.WithLabelValues("hit").Inc()
		return v, nil
	}
	metrics.CatalogCacheResults.WithLabelValues("miss").Inc()

	v, err := c.Client.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	c.products.Set(listKey, v)
	return v, nil
}

// ListProductsFresh bypasses the cache. Sync passes use it so the remote always wins.
func (c *CachedClient) ListProductsFresh(ctx context.Context) ([]Product, error) {
	v, err := c.Client.ListProducts(ctx)
	if err != nil {
		return nil, err
	}
	c.products.Set(listKey, v)
	return v, nil
}

func (c *CachedClient) GetProduct(ctx context.Context, id RemoteID) (*Product, error) {
	if v, ok := c.details.Get(detailKey(id)); ok {
		metrics.CatalogCacheResults.WithLabelValues("hit").Inc()
		return v, nil
	}
	metrics.CatalogCacheResults.WithLabelValues("miss").Inc()

	v, err := c.Client.GetProduct(ctx, id)
	if err != nil {
		return nil, err
	}
	c.details.Set(detailKey(id), v)
	return v, nil
}

func (c *CachedClient) Track(ctx context.Context, req TrackRequest) (*TrackResponse, error) {
	resp, err := c.Client.Track(ctx, req)
	c.products.Delete(listKey)
	if err == nil {
		c.details.Delete(detailKey(resp.TrackedProductID))
	}
	return resp, err
}

func (c *CachedClient) UpdateInterval(ctx context.Context, id RemoteID, hours int) (*IntervalResponse, error) {
	resp, err := c.Client.UpdateInterval(ctx, id, hours)
	c.invalidate(id)
	return resp, err
}

func (c *CachedClient) DeleteProduct(ctx context.Context, id RemoteID) error {
	err := c.Client.DeleteProduct(ctx, id)
	c.invalidate(id)
	return err
}

func (c *CachedClient) RecordScrape(ctx context.Context, id RemoteID, req RecordScrapeRequest) (*RecordScrapeResponse, error) {
	resp, err := c.Client.RecordScrape(ctx, id, req)
	c.invalidate(id)
	return resp, err
}

// invalidate runs even when the call failed: a timed-out write may still have landed.
func (c *CachedClient) invalidate(id RemoteID) {
	c.products.Delete(listKey)
	c.details.Delete(detailKey(id))
}
