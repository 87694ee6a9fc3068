// Package money centralizes monetary arithmetic. Amounts are decimal
// values quantized to two places with half-up rounding at every
// persistence and presentation boundary.
package money

import (
	"fmt"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"
)

// Amount is a decimal monetary value.
type Amount = decimal.Decimal

// Zero is the zero amount.
var Zero = decimal.Zero

// Quantize rounds the amount to two decimal places, half away from
// zero. For the non-negative amounts this service handles that is
// exactly round-half-up.
func Quantize(a Amount) Amount {
	return a.Round(2)
}

// New builds an amount from integer minor units (cents).
func New(cents int64) Amount {
	return decimal.New(cents, -2)
}

// FromString parses a decimal string such as "19.99".
func FromString(s string) (Amount, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return Zero, fmt.Errorf("money: parse %q: %w", s, err)
	}
	return d, nil
}

// MustFromString is FromString for literals in tests and seeds.
func MustFromString(s string) Amount {
	d, err := FromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

// FromNumeric converts a scanned Postgres NUMERIC into an Amount.
func FromNumeric(n pgtype.Numeric) (Amount, error) {
	if !n.Valid {
		return Zero, fmt.Errorf("money: numeric is null")
	}
	if n.NaN {
		return Zero, fmt.Errorf("money: numeric is NaN")
	}
	return decimal.NewFromBigInt(n.Int, n.Exp), nil
}

// ToNumeric converts an Amount into a Postgres NUMERIC parameter,
// quantizing first so the column never sees more than two decimals.
func ToNumeric(a Amount) pgtype.Numeric {
	q := Quantize(a)
	return pgtype.Numeric{Int: q.Coefficient(), Exp: q.Exponent(), Valid: true}
}

// Min returns the smaller of two amounts.
func Min(a, b Amount) Amount {
	if a.LessThan(b) {
		return a
	}
	return b
}
