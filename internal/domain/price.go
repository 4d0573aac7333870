package domain

import (
	"math"
	"regexp"
	"strconv"
	"strings"
)

var (
	priceToken      = regexp.MustCompile(`\d[\d.,]*`)
	decimalComma    = regexp.MustCompile(`,\d{2}$`)
	nonNumericPrice = regexp.MustCompile(`[^\d.,]+`)
)

var currencyMarkers = []struct {
	code    string
	markers []string
}{
	{"EGP", []string{"egp", "جنيه"}},
	{"SAR", []string{"sar", "ريال"}},
	{"AED", []string{"aed", "درهم"}},
	{"GBP", []string{"gbp", "£"}},
	{"EUR", []string{"eur", "€"}},
	{"INR", []string{"inr", "₹"}},
	{"USD", []string{"usd", "$"}},
}

// ParsePrice extracts a numeric price and a currency code from display text
// such as "EGP 2,013.50", "2.013,50 €" or "AED 99".
// The price is nil when no number is present. Currency is empty when none is recognized.
func ParsePrice(raw string) (*float64, string) {
	text := strings.TrimSpace(strings.ReplaceAll(raw, "\u00a0", " "))
	if text == "" {
		return nil, ""
	}

	currency := ""
	lower := strings.ToLower(text)
	for _, c := range currencyMarkers {
		for _, m := range c.markers {
			if strings.Contains(lower, m) {
				currency = c.code
				break
			}
		}
		if currency != "" {
			break
		}
	}

	cleaned := strings.TrimSpace(nonNumericPrice.ReplaceAllString(text, " "))
	tokens := priceToken.FindAllString(cleaned, -1)
	if len(tokens) == 0 {
		return nil, currency
	}
	num := strings.TrimRight(tokens[len(tokens)-1], ".,")

	switch {
	case strings.Contains(num, ",") && strings.Contains(num, "."):
		// whichever separator comes last is the decimal one
		if strings.LastIndex(num, ",") > strings.LastIndex(num, ".") {
			num = strings.ReplaceAll(num, ".", "")
			num = strings.ReplaceAll(num, ",", ".")
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	case strings.Contains(num, ","):
		if decimalComma.MatchString(num) {
			num = strings.ReplaceAll(num, ",", ".")
		} else {
			num = strings.ReplaceAll(num, ",", "")
		}
	}

	v, err := strconv.ParseFloat(num, 64)
	if err != nil {
		return nil, currency
	}
	return &v, currency
}

// ParseAvailability maps free-form stock text to an Availability.
func ParseAvailability(text string) Availability {
	t := strings.ToLower(text)
	for _, m := range []string{"currently unavailable", "out of stock", "unavailable", "sold out", "غير متوفر", "نفدت"} {
		if strings.Contains(t, m) {
			return OutOfStock
		}
	}
	return InStock
}

// Direction of a price movement.
type Direction string

const (
	PriceUp        Direction = "up"
	PriceDown      Direction = "down"
	PriceUnchanged Direction = "unchanged"
)

// PriceChange describes the delta between two observed prices.
type PriceChange struct {
	Old       float64
	New       float64
	Direction Direction
	// Percent is the absolute change relative to Old, rounded to a whole number.
	Percent int
}

// ComparePrice computes the change from oldPrice to newPrice.
// ok is false when either price is unknown or oldPrice is not positive.
func ComparePrice(oldPrice, newPrice *float64) (PriceChange, bool) {
	if oldPrice == nil || newPrice == nil || *oldPrice <= 0 {
		return PriceChange{}, false
	}
	c := PriceChange{Old: *oldPrice, New: *newPrice, Direction: PriceUnchanged}
	diff := *newPrice - *oldPrice
	// cents-level noise is not a change
	if math.Abs(diff) < 0.005 {
		return c, true
	}
	if diff > 0 {
		c.Direction = PriceUp
	} else {
		c.Direction = PriceDown
	}
	c.Percent = int(math.Round(math.Abs(diff) / *oldPrice * 100))
	return c, true
}
