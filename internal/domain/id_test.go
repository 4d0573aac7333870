package domain

import (
	"errors"
	"strings"
	"testing"
)

func TestNormalizeURL(t *testing.T) {
	tests := []struct {
		name    string
		in      string
		want    string
		wantErr bool
	}{
		{
			name: "drops query and fragment",
			in:   "https://www.amazon.ae/dp/B0ABCDEFGH?ref=abc&utm_source=x#reviews",
			want: "https://www.amazon.ae/dp/B0ABCDEFGH",
		},
		{
			name: "drops trailing slash",
			in:   "https://www.noon.com/uae-en/iphone/N53393349A/p/",
			want: "https://www.noon.com/uae-en/iphone/N53393349A/p",
		},
		{
			name: "lowercases scheme and host but keeps path case",
			in:   "HTTPS://Shop.Example.COM/Items/ABC",
			want: "https://shop.example.com/Items/ABC",
		},
		{
			name: "trims whitespace",
			in:   "  https://example.com/a  ",
			want: "https://example.com/a",
		},
		{name: "rejects non http scheme", in: "ftp://example.com/a", wantErr: true},
		{name: "rejects missing host", in: "https:///path", wantErr: true},
		{name: "rejects garbage", in: "not a url", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NormalizeURL(tt.in)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidURL) {
					t.Fatalf("NormalizeURL(%q) error = %v, want ErrInvalidURL", tt.in, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("NormalizeURL(%q) unexpected error: %v", tt.in, err)
			}
			if got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestGenerateID(t *testing.T) {
	tests := []struct {
		name       string
		url        string
		want       string
		wantPrefix string
	}{
		{name: "amazon dp", url: "https://www.amazon.ae/Some-Product/dp/B0ABCDEFGH/ref=sr_1_1", want: "amazon_B0ABCDEFGH"},
		{name: "amazon gp product", url: "https://www.amazon.com/gp/product/b0abcdefgh", want: "amazon_B0ABCDEFGH"},
		{name: "noon sku", url: "https://www.noon.com/uae-en/apple-iphone/N53393349A/p/?o=abc", want: "noon_N53393349A"},
		{name: "amazon without asin falls back to hash", url: "https://www.amazon.ae/s?k=phone", wantPrefix: "product_"},
		{name: "other shop", url: "https://shop.example.com/item/42", wantPrefix: "product_"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := GenerateID(tt.url)
			if err != nil {
				t.Fatalf("GenerateID(%q) unexpected error: %v", tt.url, err)
			}
			if tt.want != "" && got != tt.want {
				t.Errorf("GenerateID(%q) = %q, want %q", tt.url, got, tt.want)
			}
			if tt.wantPrefix != "" && !strings.HasPrefix(got, tt.wantPrefix) {
				t.Errorf("GenerateID(%q) = %q, want prefix %q", tt.url, got, tt.wantPrefix)
			}
		})
	}
}

func TestGenerateIDStableUnderVariation(t *testing.T) {
	variants := []string{
		"https://shop.example.com/item/42",
		"https://shop.example.com/item/42/",
		"https://shop.example.com/item/42?color=red",
		"https://shop.example.com/item/42#specs",
		"HTTPS://SHOP.example.com/item/42/?a=1#b",
	}

	first, err := GenerateID(variants[0])
	if err != nil {
		t.Fatalf("GenerateID unexpected error: %v", err)
	}
	for _, v := range variants[1:] {
		got, err := GenerateID(v)
		if err != nil {
			t.Fatalf("GenerateID(%q) unexpected error: %v", v, err)
		}
		if got != first {
			t.Errorf("GenerateID(%q) = %q, want %q", v, got, first)
		}
	}
}

func TestGenerateIDDistinctPaths(t *testing.T) {
	a, _ := GenerateID("https://shop.example.com/item/42")
	b, _ := GenerateID("https://shop.example.com/item/43")
	c, _ := GenerateID("https://other.example.com/item/42")
	if a == b || a == c || b == c {
		t.Errorf("expected distinct ids, got %q %q %q", a, b, c)
	}
}

func TestDetectMarketplace(t *testing.T) {
	tests := []struct {
		url  string
		want Marketplace
	}{
		{"https://www.amazon.co.uk/dp/B0ABCDEFGH", MarketplaceAmazon},
		{"https://amazon.eg/dp/B0ABCDEFGH", MarketplaceAmazon},
		{"https://www.noon.com/egypt-en/x/N1/p", MarketplaceNoon},
		{"https://noon.com/x", MarketplaceNoon},
		{"https://notnoon.com/x", MarketplaceUnknown},
		{"https://example.com", MarketplaceUnknown},
	}
	for _, tt := range tests {
		if got := DetectMarketplace(tt.url); got != tt.want {
			t.Errorf("DetectMarketplace(%q) = %q, want %q", tt.url, got, tt.want)
		}
	}
}

func TestCurrencyForHost(t *testing.T) {
	tests := map[string]string{
		"www.amazon.co.uk": "GBP",
		"www.amazon.ae":    "AED",
		"www.amazon.eg":    "EGP",
		"www.amazon.sa":    "SAR",
		"www.amazon.de":    "EUR",
		"www.amazon.com":   "USD",
		"shop.example.xyz": DefaultCurrency,
	}
	for host, want := range tests {
		if got := CurrencyForHost(host); got != want {
			t.Errorf("CurrencyForHost(%q) = %q, want %q", host, got, want)
		}
	}
}

func TestValidInterval(t *testing.T) {
	for _, h := range []int{1, 6, 12, 24} {
		if !ValidInterval(h) {
			t.Errorf("ValidInterval(%d) = false, want true", h)
		}
	}
	for _, h := range []int{0, 2, 48, -1} {
		if ValidInterval(h) {
			t.Errorf("ValidInterval(%d) = true, want false", h)
		}
	}
}
