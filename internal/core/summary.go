package core

import (
	"sort"

	"github.com/shopspring/decimal"
)

// Summary is the aggregate of a set of transactions.
type Summary struct {
	Income  decimal.Decimal `json:"income"`
	Expense decimal.Decimal `json:"expense"`
	Balance decimal.Decimal `json:"balance"`
}

// CategoryBreakdown maps a category label to its summed expense amount.
type CategoryBreakdown map[string]decimal.Decimal

// CategoryAmount represents an amount aggregated by category name.
type CategoryAmount struct {
	Name   string          `json:"name"`
	Amount decimal.Decimal `json:"amount"`
}

// ComputeSummary sums income and expense exactly. Empty input yields zeros.
func ComputeSummary(txs []Transaction) Summary {
	income := decimal.Zero
	expense := decimal.Zero
	for _, t := range txs {
		switch t.Type {
		case Income:
			income = income.Add(t.Amount)
		case Expense:
			expense = expense.Add(t.Amount)
		}
	}
	return Summary{
		Income:  income,
		Expense: expense,
		Balance: income.Sub(expense),
	}
}

// ComputeCategoryBreakdown sums expense amounts per category. Income is
// ignored; no expenses yields an empty, non-nil map.
func ComputeCategoryBreakdown(txs []Transaction) CategoryBreakdown {
	out := CategoryBreakdown{}
	for _, t := range txs {
		if t.Type != Expense {
			continue
		}
		out[t.Category] = out[t.Category].Add(t.Amount)
	}
	return out
}

// Total returns the sum of all categories.
func (b CategoryBreakdown) Total() decimal.Decimal {
	total := decimal.Zero
	for _, v := range b {
		total = total.Add(v)
	}
	return total
}

// Sorted lists categories by amount, largest first, ties by name.
func (b CategoryBreakdown) Sorted() []CategoryAmount {
	out := make([]CategoryAmount, 0, len(b))
	for name, amount := range b {
		out = append(out, CategoryAmount{Name: name, Amount: amount})
	}
	sort.Slice(out, func(i, j int) bool {
		if c := out[i].Amount.Cmp(out[j].Amount); c != 0 {
			return c > 0
		}
		return out[i].Name < out[j].Name
	})
	return out
}

// Equal compares summaries by value.
func (s Summary) Equal(o Summary) bool {
	return s.Income.Equal(o.Income) && s.Expense.Equal(o.Expense) && s.Balance.Equal(o.Balance)
}

// FilterByPeriod keeps the transactions whose date falls in p, preserving order.
func FilterByPeriod(txs []Transaction, p Period) []Transaction {
	out := make([]Transaction, 0, len(txs))
	for _, t := range txs {
		if p.Contains(t.Date) {
			out = append(out, t)
		}
	}
	return out
}
