// Package domain holds the types shared by every stage of the bill statement
// pipeline. Nothing in here performs I/O.
package domain

import (
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Category is one entry of the caller-supplied taxonomy.
// Description is only a hint for the extractor.
type Category struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
}

// Taxonomy is the ordered, closed set of categories a statement's
// transactions may be classified into.
type Taxonomy []Category

// Validate checks that the taxonomy is non-empty and that names are
// non-blank and unique.
func (t Taxonomy) Validate() error {
	if len(t) == 0 {
		return errors.New("taxonomy: at least one category is required")
	}
	seen := make(map[string]struct{}, len(t))
	for i, c := range t {
		if strings.TrimSpace(c.Name) == "" {
			return fmt.Errorf("taxonomy: category %d has an empty name", i)
		}
		if _, dup := seen[c.Name]; dup {
			return fmt.Errorf("taxonomy: duplicate category name %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

// Names returns the category names in taxonomy order.
func (t Taxonomy) Names() []string {
	names := make([]string, len(t))
	for i, c := range t {
		names[i] = c.Name
	}
	return names
}

// Lookup finds a category by exact name.
func (t Taxonomy) Lookup(name string) (Category, bool) {
	for _, c := range t {
		if c.Name == name {
			return c, true
		}
	}
	return Category{}, false
}

// Contains reports whether name is one of the taxonomy names.
func (t Taxonomy) Contains(name string) bool {
	_, ok := t.Lookup(name)
	return ok
}

// Settings is the per-invocation configuration supplied by the settings
// collaborator: extraction instructions plus the taxonomy.
type Settings struct {
	SystemPrompt string   `json:"systemPrompt" yaml:"systemPrompt"`
	Categories   Taxonomy `json:"categories" yaml:"categories"`
}

// Validate checks the settings before a pipeline run. The returned error
// matches ErrInvalidSettings.
func (s Settings) Validate() error {
	if err := s.Categories.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

// RasterPage is one rendered page. Image is the base64 JPEG payload
// without any data-URI prefix.
type RasterPage struct {
	Index int    `json:"index"`
	Image string `json:"image"`
}

// RawCategory is the category object attached to a raw transaction by
// the extractor.
type RawCategory struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

// RawTransaction is one transaction exactly as classified by the extractor.
// Category is nil when the extractor could not classify it.
type RawTransaction struct {
	Date        civil.Date      `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    *RawCategory    `json:"category,omitempty"`
}

// String identifies the transaction in error messages.
func (t RawTransaction) String() string {
	return fmt.Sprintf("%s %q %s", t.Date, t.Description, t.Amount.String())
}

// RawStatement is the extractor output before aggregation.
type RawStatement struct {
	BankName      string           `json:"bankName"`
	CardType      string           `json:"cardType"`
	StatementDate string           `json:"statementDate"`
	Transactions  []RawTransaction `json:"items"`
}

// StatementItem is a transaction reduced to date, description and amount.
type StatementItem struct {
	Date        civil.Date      `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

// BillItem is a transaction in the final statement, tagged with its
// category name only.
type BillItem struct {
	Date        civil.Date      `json:"date"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Category    string          `json:"category"`
}

// CategoryStat summarizes the transactions of one category.
type CategoryStat struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
	Percentage  decimal.Decimal `json:"percentage"`
	Items       []StatementItem `json:"items"`
}

// BillStatement is the pipeline result.
type BillStatement struct {
	BankName      string          `json:"bankName"`
	CardType      string          `json:"cardType"`
	StatementDate string          `json:"statementDate"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	Categories    []CategoryStat  `json:"categories"`
	Items         []BillItem      `json:"items"`
}
