package domain

import (
	"fmt"
	"strings"
)

// Money is an amount in integer minor units of an ISO 4217 currency.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

// NewMoney validates and normalises an amount.
func NewMoney(amount int64, currency string) (Money, error) {
	currency = strings.ToUpper(strings.TrimSpace(currency))
	if amount < 0 {
		return Money{}, fmt.Errorf("%w: negative amount %d", ErrInvalidMoney, amount)
	}
	if len(currency) != 3 {
		return Money{}, fmt.Errorf("%w: currency %q is not an ISO 4217 code", ErrInvalidMoney, currency)
	}
	for _, r := range currency {
		if r < 'A' || r > 'Z' {
			return Money{}, fmt.Errorf("%w: currency %q is not an ISO 4217 code", ErrInvalidMoney, currency)
		}
	}
	return Money{Amount: amount, Currency: currency}, nil
}

// IsZero reports whether the amount is zero.
func (m Money) IsZero() bool {
	return m.Amount == 0
}

// SameCurrency reports whether both amounts share a currency.
func (m Money) SameCurrency(other Money) bool {
	return m.Currency == other.Currency
}

// String renders the amount assuming two minor-unit digits.
func (m Money) String() string {
	sign := ""
	amount := m.Amount
	if amount < 0 {
		sign = "-"
		amount = -amount
	}
	return fmt.Sprintf("%s%d.%02d %s", sign, amount/100, amount%100, m.Currency)
}
