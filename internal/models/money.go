package models

import "fmt"

// Money is an amount in minor units paired with its currency code.
// The core never converts between currencies; the pair travels as-is.
type Money struct {
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

func (m Money) Positive() bool { return m.Amount > 0 }

func (m Money) Equal(o Money) bool {
	return m.Amount == o.Amount && m.Currency == o.Currency
}

func (m Money) String() string {
	return fmt.Sprintf("%d %s", m.Amount, m.Currency)
}
