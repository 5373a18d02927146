package engine

import (
	"github.com/mcclellann/fleetfinance/pkg/datemath"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/shopspring/decimal"
)

// Validate checks contract terms and vehicle records. Every engine entry point
// calls it first, so no schedule is ever built from bad data.
func Validate(c *models.Contract) error {
	if c.TotalInstalments <= 0 {
		return dataError("totalInstalments", "must be at least 1, got %d", c.TotalInstalments)
	}
	if c.TotalCapital.IsNegative() {
		return dataError("totalCapital", "must not be negative, got %s", c.TotalCapital)
	}
	if c.OriginalVehicleCount <= 0 {
		return dataError("originalVehicleCount", "must be at least 1, got %d", c.OriginalVehicleCount)
	}
	if !c.FirstInstalmentDate.IsValid() {
		return dataError("firstInstalmentDate", "is not a valid date")
	}

	switch c.InterestType {
	case models.InterestTypeFixed:
		if c.TotalInterest.IsNegative() {
			return dataError("totalInterest", "must not be negative, got %s", c.TotalInterest)
		}
	case models.InterestTypeVariable:
		if c.BaseRate.IsNegative() {
			return dataError("baseRate", "must not be negative, got %s", c.BaseRate)
		}
		if c.Margin.IsNegative() {
			return dataError("margin", "must not be negative, got %s", c.Margin)
		}
		for _, rc := range c.RateHistory {
			if rc.NewEffectiveRate.IsNegative() || rc.OldEffectiveRate.IsNegative() {
				return dataError("rateHistory", "contains a negative rate on %s", rc.Date)
			}
		}
	default:
		return dataError("interestType", "must be %q or %q, got %q",
			models.InterestTypeFixed, models.InterestTypeVariable, c.InterestType)
	}

	if len(c.Vehicles) != 0 && len(c.Vehicles) != c.OriginalVehicleCount {
		return dataError("vehicles", "lists %d vehicles but originalVehicleCount is %d",
			len(c.Vehicles), c.OriginalVehicleCount)
	}

	conclusion := datemath.AddMonths(c.FirstInstalmentDate, c.TotalInstalments)
	seen := make(map[string]bool, len(c.Vehicles))
	for _, v := range c.Vehicles {
		if v.Registration == "" {
			return dataError("vehicles", "contain an empty registration")
		}
		if seen[v.Registration] {
			return dataError("vehicles", "contain duplicate registration %s", v.Registration)
		}
		seen[v.Registration] = true

		switch v.Status {
		case models.VehicleStatusActive:
			if v.SettledDate != nil {
				return dataError("vehicles", "active vehicle %s has a settled date", v.Registration)
			}
		case models.VehicleStatusSettled:
			if v.SettledDate == nil {
				return dataError("vehicles", "settled vehicle %s has no settled date", v.Registration)
			}
			if v.SettledDate.Before(c.FirstInstalmentDate) {
				return dataError("vehicles", "vehicle %s settled on %s before the first instalment %s",
					v.Registration, v.SettledDate, c.FirstInstalmentDate)
			}
			if v.SettledDate.After(conclusion) {
				return dataError("vehicles", "vehicle %s settled on %s after the contract concluded on %s",
					v.Registration, v.SettledDate, conclusion)
			}
		default:
			return dataError("vehicles", "vehicle %s has unknown status %q", v.Registration, v.Status)
		}
	}
	return nil
}

// PerVehicleCapitalRate is the monthly capital each vehicle contributes:
// total capital / instalments / vehicles, rounded to pence.
func PerVehicleCapitalRate(c *models.Contract) decimal.Decimal {
	if c.TotalInstalments <= 0 || c.OriginalVehicleCount <= 0 {
		return decimal.Zero
	}
	shares := decimal.NewFromInt(int64(c.TotalInstalments) * int64(c.OriginalVehicleCount))
	return c.TotalCapital.Div(shares).Round(2)
}
