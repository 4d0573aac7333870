// Package extract turns a loaded product page into a Snapshot.
package extract

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/goccy/go-json"

	"github.com/MrSnakeDoc/quickbasket/internal/domain"
)

// ErrNothingExtracted means the page had neither a title nor a price.
var ErrNothingExtracted = errors.New("no product data found on page")

var scriptPrice = regexp.MustCompile(`"price"\s*:\s*"?([\d.,]+)"?`)

// Extractor applies a selector table to product pages.
type Extractor struct {
	table Table
}

func New(table Table) *Extractor {
	return &Extractor{table: table}
}

// Extract reads a snapshot from doc. pageURL supplies the currency fallback.
func (e *Extractor) Extract(doc *goquery.Document, mp domain.Marketplace, pageURL string) (*domain.Snapshot, error) {
	rules := e.table.For(mp)
	ld := readJSONLD(doc)

	snap := &domain.Snapshot{
		Name:         firstText(doc, rules.Title),
		Availability: domain.InStock,
	}
	if snap.Name == "" {
		snap.Name = firstNonEmpty(metaContent(doc, "og:title"), ld.name, strings.TrimSpace(doc.Find("title").First().Text()))
	}

	price, currency := e.price(doc, rules, ld)
	snap.Price = price
	if currency == "" {
		currency = firstNonEmpty(metaContent(doc, "product:price:currency"), metaContent(doc, "og:price:currency"), ld.currency)
	}
	if currency == "" {
		if u, err := url.Parse(pageURL); err == nil {
			currency = domain.CurrencyForHost(u.Hostname())
		}
	}
	snap.Currency = strings.ToUpper(firstNonEmpty(currency, domain.DefaultCurrency))

	snap.Image = firstAttr(doc, rules.Image, rules.ImageAttrs)
	if snap.Image == "" {
		snap.Image = firstNonEmpty(metaContent(doc, "og:image"), ld.image)
	}
	snap.SKU = firstAttr(doc, rules.SKU, []string{"value", "content"})
	if snap.SKU == "" {
		snap.SKU = ld.sku
	}

	snap.Availability = availability(doc, rules, ld)

	if snap.Name == "" && snap.Price == nil {
		return nil, ErrNothingExtracted
	}
	if snap.Name == "" {
		snap.Name = domain.UnknownProductName
	}
	return snap, nil
}

func (e *Extractor) price(doc *goquery.Document, rules Rules, ld jsonLD) (*float64, string) {
	for _, sel := range rules.Price {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		raw := strings.TrimSpace(s.Text())
		if raw == "" {
			raw, _ = s.Attr("content")
		}
		if p, cur := domain.ParsePrice(raw); p != nil {
			return p, cur
		}
	}

	for _, name := range []string{"product:price:amount", "og:price:amount"} {
		if p, cur := domain.ParsePrice(metaContent(doc, name)); p != nil {
			return p, cur
		}
	}

	if ld.price != "" {
		if p, _ := domain.ParsePrice(ld.price); p != nil {
			return p, ld.currency
		}
	}

	var found *float64
	doc.Find("script").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		m := scriptPrice.FindStringSubmatch(s.Text())
		if m == nil {
			return true
		}
		if p, _ := domain.ParsePrice(m[1]); p != nil {
			found = p
			return false
		}
		return true
	})
	return found, ""
}

func availability(doc *goquery.Document, rules Rules, ld jsonLD) domain.Availability {
	for _, sel := range rules.OutOfStock {
		if doc.Find(sel).Length() > 0 {
			return domain.OutOfStock
		}
	}
	for _, sel := range rules.AvailabilityText {
		s := doc.Find(sel).First()
		if s.Length() > 0 && domain.ParseAvailability(s.Text()) == domain.OutOfStock {
			return domain.OutOfStock
		}
	}
	if rules.AddToCart != "" {
		btn := doc.Find(rules.AddToCart).First()
		if btn.Length() == 0 && rules.RequireAddToCart {
			return domain.OutOfStock
		}
		if _, disabled := btn.Attr("disabled"); disabled {
			return domain.OutOfStock
		}
	}
	if strings.Contains(strings.ToLower(ld.availability), "outofstock") {
		return domain.OutOfStock
	}
	return domain.InStock
}

// ─────────────────────────────
// Helpers
// ─────────────────────────────

func firstText(doc *goquery.Document, selectors []string) string {
	for _, sel := range selectors {
		if t := strings.Join(strings.Fields(doc.Find(sel).First().Text()), " "); t != "" {
			return t
		}
	}
	return ""
}

func firstAttr(doc *goquery.Document, selectors, attrs []string) string {
	if len(attrs) == 0 {
		attrs = []string{"src"}
	}
	for _, sel := range selectors {
		s := doc.Find(sel).First()
		if s.Length() == 0 {
			continue
		}
		for _, a := range attrs {
			if v, ok := s.Attr(a); ok && strings.TrimSpace(v) != "" && !strings.HasPrefix(v, "data:") {
				return strings.TrimSpace(v)
			}
		}
	}
	return ""
}

func metaContent(doc *goquery.Document, name string) string {
	sel := fmt.Sprintf(`meta[property=%q], meta[name=%q]`, name, name)
	v, _ := doc.Find(sel).First().Attr("content")
	return strings.TrimSpace(v)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// ─────────────────────────────
// JSON-LD
// ─────────────────────────────

type jsonLD struct {
	name         string
	image        string
	sku          string
	price        string
	currency     string
	availability string
}

// readJSONLD returns the first schema.org Product found in the page.
func readJSONLD(doc *goquery.Document) jsonLD {
	var out jsonLD
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, s *goquery.Selection) bool {
		var v any
		if err := json.Unmarshal([]byte(s.Text()), &v); err != nil {
			return true
		}
		if p := findProduct(v); p != nil {
			out = productFields(p)
			return false
		}
		return true
	})
	return out
}

func findProduct(v any) map[string]any {
	switch t := v.(type) {
	case []any:
		for _, x := range t {
			if p := findProduct(x); p != nil {
				return p
			}
		}
	case map[string]any:
		if isType(t["@type"], "Product") {
			return t
		}
		if g, ok := t["@graph"]; ok {
			return findProduct(g)
		}
	}
	return nil
}

func isType(v any, want string) bool {
	switch t := v.(type) {
	case string:
		return t == want
	case []any:
		for _, x := range t {
			if s, ok := x.(string); ok && s == want {
				return true
			}
		}
	}
	return false
}

func productFields(p map[string]any) jsonLD {
	out := jsonLD{
		name: str(p["name"]),
		sku:  str(p["sku"]),
	}
	switch img := p["image"].(type) {
	case string:
		out.image = img
	case []any:
		if len(img) > 0 {
			out.image = str(img[0])
		}
	case map[string]any:
		out.image = str(img["url"])
	}

	var offer map[string]any
	switch o := p["offers"].(type) {
	case map[string]any:
		offer = o
	case []any:
		if len(o) > 0 {
			offer, _ = o[0].(map[string]any)
		}
	}
	if offer != nil {
		out.price = firstNonEmpty(str(offer["price"]), str(offer["lowPrice"]))
		out.currency = str(offer["priceCurrency"])
		out.availability = str(offer["availability"])
	}
	return out
}

func str(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return ""
}
