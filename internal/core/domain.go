package core

import (
	"strings"
	"time"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

const (
	Income  TransactionType = "income"
	Expense TransactionType = "expense"
)

// DefaultCategory is used when a transaction is recorded without a category.
const DefaultCategory = "other"

const (
	maxTitleLength    = 200
	maxCategoryLength = 100
)

type (
	TransactionType string

	// Transaction is a single ledger record. Amount is always positive, the
	// direction is carried by Type.
	Transaction struct {
		ID       string          `json:"id"`
		Title    string          `json:"title"`
		Amount   decimal.Decimal `json:"amount"`
		Type     TransactionType `json:"type"`
		Category string          `json:"category"`
		Date     time.Time       `json:"date"`
	}

	// Input is the caller supplied form of a transaction before validation.
	// Amount is kept as text so non-numeric values can be rejected instead of
	// silently coerced.
	Input struct {
		Title    string    `json:"title"`
		Amount   string    `json:"amount"`
		Type     string    `json:"type"`
		Category string    `json:"category,omitempty"`
		Date     time.Time `json:"date"`
	}
)

// ParseTransactionType accepts exactly "income" or "expense".
func ParseTransactionType(s string) (TransactionType, error) {
	switch TransactionType(s) {
	case Income, Expense:
		return TransactionType(s), nil
	case "":
		return "", &ValidationError{Field: "type", Reason: "required"}
	default:
		return "", &ValidationError{Field: "type", Reason: "must be \"income\" or \"expense\""}
	}
}

func (t TransactionType) Valid() bool {
	return t == Income || t == Expense
}

// Validate checks the invariants of an already normalized transaction.
func (t Transaction) Validate() error {
	if strings.TrimSpace(t.Title) == "" {
		return &ValidationError{Field: "title", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(t.Title) > maxTitleLength {
		return &ValidationError{Field: "title", Reason: "too long (max 200 characters)"}
	}
	if !t.Amount.IsPositive() {
		return &ValidationError{Field: "amount", Reason: "must be greater than zero"}
	}
	if !t.Type.Valid() {
		return &ValidationError{Field: "type", Reason: "must be \"income\" or \"expense\""}
	}
	if strings.TrimSpace(t.Category) == "" {
		return &ValidationError{Field: "category", Reason: "must not be empty"}
	}
	if utf8.RuneCountInString(t.Category) > maxCategoryLength {
		return &ValidationError{Field: "category", Reason: "too long (max 100 characters)"}
	}
	return nil
}

// Normalize validates the input and turns it into a transaction without an ID.
// Fields are checked in order title, amount, type, category so the first
// reported field is deterministic. A zero Date becomes now() in UTC.
func (in Input) Normalize(now func() time.Time) (Transaction, error) {
	title := strings.TrimSpace(in.Title)
	if title == "" {
		return Transaction{}, &ValidationError{Field: "title", Reason: "must not be empty"}
	}

	amount, err := ParseAmount(in.Amount)
	if err != nil {
		return Transaction{}, err
	}

	typ, err := ParseTransactionType(in.Type)
	if err != nil {
		return Transaction{}, err
	}

	category := strings.TrimSpace(in.Category)
	if category == "" {
		category = DefaultCategory
	}

	date := in.Date
	if date.IsZero() {
		date = now()
	}

	t := Transaction{
		Title:    title,
		Amount:   amount,
		Type:     typ,
		Category: category,
		Date:     date.UTC(),
	}
	if err := t.Validate(); err != nil {
		return Transaction{}, err
	}
	return t, nil
}

// Signed returns the amount with the sign implied by the type.
func (t Transaction) Signed() decimal.Decimal {
	if t.Type == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}
