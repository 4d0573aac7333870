package domain

import (
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
)

var (
	asinPattern    = regexp.MustCompile(`(?i)/(?:dp|gp/product|gp/aw/d)/([A-Z0-9]{10})(?:[/?]|$)`)
	noonSKUPattern = regexp.MustCompile(`(?i)/([A-Z0-9]+)/p(?:/|$)`)
)

// NormalizeURL returns the canonical form of a product URL: lowercase scheme
// and host, no query string, no fragment, no trailing slash.
func NormalizeURL(raw string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}
	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	host := strings.ToLower(u.Host)
	if host == "" {
		return "", fmt.Errorf("%w: missing host", ErrInvalidURL)
	}

	clean := url.URL{
		Scheme: scheme,
		Host:   host,
		Path:   strings.TrimRight(u.Path, "/"),
	}
	return clean.String(), nil
}

// DetectMarketplace classifies a URL by its host.
func DetectMarketplace(rawURL string) Marketplace {
	u, err := url.Parse(rawURL)
	if err != nil {
		return MarketplaceUnknown
	}
	host := strings.ToLower(u.Hostname())
	switch {
	case strings.Contains(host, "amazon.") || strings.HasSuffix(host, "amzn.eu") || strings.HasSuffix(host, "amzn.to"):
		return MarketplaceAmazon
	case host == "noon.com" || strings.HasSuffix(host, ".noon.com"):
		return MarketplaceNoon
	default:
		return MarketplaceUnknown
	}
}

// GenerateID derives the stable item id for a product URL.
//
// Amazon products map to amazon_<ASIN>, noon products to noon_<SKU>, anything
// else to product_<hash> where the hash covers the normalized origin and path.
// The prefixes keep marketplaces from colliding.
func GenerateID(rawURL string) (string, error) {
	normalized, err := NormalizeURL(rawURL)
	if err != nil {
		return "", err
	}
	u, err := url.Parse(normalized)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidURL, err)
	}

	switch DetectMarketplace(normalized) {
	case MarketplaceAmazon:
		if m := asinPattern.FindStringSubmatch(u.Path); m != nil {
			return "amazon_" + strings.ToUpper(m[1]), nil
		}
	case MarketplaceNoon:
		if m := noonSKUPattern.FindStringSubmatch(u.Path); m != nil {
			return "noon_" + strings.ToUpper(m[1]), nil
		}
	}

	sum := xxhash.Sum64String(u.Scheme + "://" + u.Host + u.Path)
	return "product_" + strconv.FormatUint(sum, 36), nil
}

var tldCurrency = map[string]string{
	".co.uk":  "GBP",
	".ae":     "AED",
	".sa":     "SAR",
	".eg":     "EGP",
	".de":     "EUR",
	".fr":     "EUR",
	".es":     "EUR",
	".it":     "EUR",
	".nl":     "EUR",
	".in":     "INR",
	".co.jp":  "JPY",
	".ca":     "CAD",
	".com.au": "AUD",
	".com.tr": "TRY",
	".com":    "USD",
}

// CurrencyForHost guesses the storefront currency from the host's TLD.
func CurrencyForHost(host string) string {
	host = strings.ToLower(host)
	best := ""
	for suffix := range tldCurrency {
		if strings.HasSuffix(host, suffix) && len(suffix) > len(best) {
			best = suffix
		}
	}
	if best == "" {
		return DefaultCurrency
	}
	return tldCurrency[best]
}
