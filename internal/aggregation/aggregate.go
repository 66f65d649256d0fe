// Package aggregation turns a raw extracted statement into the final
// categorized BillStatement. It is pure: no I/O, no clocks, no globals.
package aggregation

import (
	"sort"
	"strings"

	"github.com/dvloznov/bill-parser/internal/domain"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// percentagePlaces is the rounding applied to every CategoryStat percentage.
const percentagePlaces = 2

// Aggregate computes the grand total and the per-category statistics of txs.
//
// Every transaction must carry a category whose name is in taxonomy;
// the first one that does not is reported as an UnclassifiedTransactionError.
// An empty list or a zero total yields ErrEmptyStatement.
func Aggregate(txs []domain.RawTransaction, taxonomy domain.Taxonomy) (decimal.Decimal, []domain.CategoryStat, error) {
	if len(txs) == 0 {
		return decimal.Zero, nil, domain.ErrEmptyStatement
	}

	for i, tx := range txs {
		if !classified(tx, taxonomy) {
			return decimal.Zero, nil, &domain.UnclassifiedTransactionError{Index: i, Transaction: tx}
		}
	}

	total := decimal.Zero
	for _, tx := range txs {
		total = total.Add(tx.Amount)
	}
	if total.IsZero() {
		return decimal.Zero, nil, domain.ErrEmptyStatement
	}

	// Groups keep first-appearance order so the final stable sort breaks
	// amount ties by encounter order.
	var groups []*domain.CategoryStat
	index := make(map[string]*domain.CategoryStat)
	for _, tx := range txs {
		name := tx.Category.Name
		g, ok := index[name]
		if !ok {
			g = &domain.CategoryStat{Name: name, Amount: decimal.Zero}
			if c, found := taxonomy.Lookup(name); found {
				g.Description = c.Description
			}
			index[name] = g
			groups = append(groups, g)
		}
		g.Amount = g.Amount.Add(tx.Amount)
		g.Items = append(g.Items, domain.StatementItem{
			Date:        tx.Date,
			Description: tx.Description,
			Amount:      tx.Amount,
		})
	}

	stats := make([]domain.CategoryStat, 0, len(groups))
	for _, g := range groups {
		sort.SliceStable(g.Items, func(i, j int) bool {
			return g.Items[i].Date.Before(g.Items[j].Date)
		})
		g.Percentage = g.Amount.Mul(hundred).DivRound(total, percentagePlaces)
		stats = append(stats, *g)
	}

	sort.SliceStable(stats, func(i, j int) bool {
		return stats[i].Amount.GreaterThan(stats[j].Amount)
	})

	return total, stats, nil
}

// BuildStatement aggregates raw and assembles the final BillStatement.
// Items keep extraction order and carry only the category name.
func BuildStatement(raw *domain.RawStatement, taxonomy domain.Taxonomy) (*domain.BillStatement, error) {
	total, stats, err := Aggregate(raw.Transactions, taxonomy)
	if err != nil {
		return nil, err
	}

	items := make([]domain.BillItem, len(raw.Transactions))
	for i, tx := range raw.Transactions {
		items[i] = domain.BillItem{
			Date:        tx.Date,
			Description: tx.Description,
			Amount:      tx.Amount,
			Category:    tx.Category.Name,
		}
	}

	return &domain.BillStatement{
		BankName:      raw.BankName,
		CardType:      raw.CardType,
		StatementDate: raw.StatementDate,
		TotalAmount:   total,
		Categories:    stats,
		Items:         items,
	}, nil
}

// classified re-checks the category against the taxonomy; the upstream
// schema enum is not trusted.
func classified(tx domain.RawTransaction, taxonomy domain.Taxonomy) bool {
	if tx.Category == nil || strings.TrimSpace(tx.Category.Name) == "" {
		return false
	}
	return taxonomy.Contains(tx.Category.Name)
}
