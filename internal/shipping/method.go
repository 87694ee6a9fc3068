package shipping

import (
	"errors"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tienda-labs/backend-tienda/internal/money"
)

// ErrZoneNotCovered is returned when a method's zone does not include
// the destination country.
var ErrZoneNotCovered = errors.New("shipping method does not cover destination")

// Provider is a carrier the store ships with.
type Provider struct {
	ID     int64
	Name   string
	Code   string
	Active bool
}

// Zone groups destination countries under one rate schedule.
type Zone struct {
	ID        int64
	Name      string
	Countries []string
}

// Method is a concrete shipping option: provider + zone + rates.
type Method struct {
	ID              int64
	ProviderID      int64
	Zone            Zone
	Name            string
	Code            string
	BaseRate        money.Amount
	PerKgRate       money.Amount
	MinDeliveryDays int16
	MaxDeliveryDays int16
	Active          bool
}

// WeightedLine carries the weight contribution of one cart line.
// Lines whose variant has no weight attribute contribute nothing.
type WeightedLine struct {
	WeightKg *money.Amount
	Count    int32
}

var oneKg = decimal.NewFromInt(1)

// CalculateCost returns base_rate + per_kg_rate * max(weight - 1, 0),
// quantized. The result is never below the base rate.
func CalculateCost(m Method, totalWeightKg money.Amount) money.Amount {
	extra := totalWeightKg.Sub(oneKg)
	if extra.IsNegative() {
		extra = decimal.Zero
	}
	return money.Quantize(m.BaseRate.Add(extra.Mul(m.PerKgRate)))
}

// TotalWeightKg sums weight_kg * count over lines carrying a weight
// attribute.
func TotalWeightKg(lines []WeightedLine) money.Amount {
	total := decimal.Zero
	for _, line := range lines {
		if line.WeightKg == nil {
			continue
		}
		total = total.Add(line.WeightKg.Mul(decimal.NewFromInt32(line.Count)))
	}
	return total
}

// Covers reports whether the zone includes the destination country.
func (z Zone) Covers(country string) bool {
	country = strings.ToUpper(strings.TrimSpace(country))
	for _, c := range z.Countries {
		if strings.ToUpper(strings.TrimSpace(c)) == country {
			return true
		}
	}
	return false
}

// CheckCoverage validates a destination against the method's zone.
func CheckCoverage(m Method, country string) error {
	if !m.Zone.Covers(country) {
		return ErrZoneNotCovered
	}
	return nil
}
