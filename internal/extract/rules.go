package extract

import (
	_ "embed"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrSnakeDoc/quickbasket/internal/domain"
)

//go:embed selectors.yaml
var defaultSelectors []byte

// Rules are the selectors used for one marketplace.
type Rules struct {
	Title            []string `yaml:"title"`
	Price            []string `yaml:"price"`
	Image            []string `yaml:"image"`
	ImageAttrs       []string `yaml:"image_attrs"`
	SKU              []string `yaml:"sku,omitempty"`
	OutOfStock       []string `yaml:"out_of_stock,omitempty"`
	AvailabilityText []string `yaml:"availability_text,omitempty"`
	AddToCart        string   `yaml:"add_to_cart,omitempty"`
	// RequireAddToCart treats a page without the add-to-cart control as out of stock.
	RequireAddToCart bool `yaml:"require_add_to_cart,omitempty"`
}

// Table maps a marketplace to its rules.
type Table map[domain.Marketplace]Rules

// For returns the rules of mp, falling back to the unknown marketplace.
func (t Table) For(mp domain.Marketplace) Rules {
	if r, ok := t[mp]; ok {
		return r
	}
	return t[domain.MarketplaceUnknown]
}

// LoadTable parses the built-in selectors and, when overridePath is set,
// replaces the marketplaces the override file defines.
func LoadTable(overridePath string) (Table, error) {
	table, err := parseTable(defaultSelectors)
	if err != nil {
		return nil, fmt.Errorf("failed to parse built-in selectors: %w", err)
	}
	if overridePath == "" {
		return table, nil
	}

	data, err := os.ReadFile(overridePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read selectors file: %w", err)
	}
	override, err := parseTable(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse selectors file: %w", err)
	}
	for mp, rules := range override {
		table[mp] = rules
	}
	return table, nil
}

func parseTable(data []byte) (Table, error) {
	var t Table
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, err
	}
	if t == nil {
		t = Table{}
	}
	return t, nil
}
