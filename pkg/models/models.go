package models

import (
	"strings"
	"time"
	"unicode"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type InterestType string

const (
	InterestTypeFixed    InterestType = "fixed"    // Pre-agreed total, split evenly per instalment
	InterestTypeVariable InterestType = "variable" // Base rate + margin, accrued daily on the declining balance
)

type VehicleStatus string

const (
	VehicleStatusActive  VehicleStatus = "active"
	VehicleStatusSettled VehicleStatus = "settled"
)

type ContractStatus string

const (
	ContractStatusActive  ContractStatus = "active"
	ContractStatusSettled ContractStatus = "settled"
)

type Vehicle struct {
	Registration string          `json:"registration"` // Normalized: uppercase, no whitespace
	Make         string          `json:"make"`
	Model        string          `json:"model"`
	NetPrice     decimal.Decimal `json:"net_price"`
	GrossPrice   decimal.Decimal `json:"gross_price"`
	Status       VehicleStatus   `json:"status"`
	SettledDate  *civil.Date     `json:"settled_date,omitempty"` // Present iff Status is settled
}

// RateChange is an append-only audit record of a base rate update on a
// variable contract.
type RateChange struct {
	Date             civil.Date      `json:"date"`
	OldBaseRate      decimal.Decimal `json:"old_base_rate"`
	NewBaseRate      decimal.Decimal `json:"new_base_rate"`
	OldEffectiveRate decimal.Decimal `json:"old_effective_rate"`
	NewEffectiveRate decimal.Decimal `json:"new_effective_rate"`
	RecordedAt       time.Time       `json:"recorded_at"`
}

type Contract struct {
	ID                   uuid.UUID       `json:"id"`
	ContractNumber       string          `json:"contract_number"` // Unique business key, uppercase
	TotalCapital         decimal.Decimal `json:"total_capital"`
	TotalInterest        decimal.Decimal `json:"total_interest"` // Fixed contracts only
	TotalInstalments     int             `json:"total_instalments"`
	FirstInstalmentDate  civil.Date      `json:"first_instalment_date"`
	InterestType         InterestType    `json:"interest_type"`
	BaseRate             decimal.Decimal `json:"base_rate"` // Percent per annum, variable contracts only
	Margin               decimal.Decimal `json:"margin"`    // Percent per annum, fixed for the contract lifetime
	OriginalVehicleCount int             `json:"original_vehicle_count"`
	Vehicles             []Vehicle       `json:"vehicles"`
	RateHistory          []RateChange    `json:"rate_history,omitempty"`

	// Cached values derived by the engine, kept for listing and searching.
	ActiveVehiclesCount   int             `json:"active_vehicles_count"`
	CurrentMonthlyCapital decimal.Decimal `json:"current_monthly_capital"`
	Status                ContractStatus  `json:"status"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// EffectiveAnnualRate returns base rate plus margin, in percent per annum.
func (c *Contract) EffectiveAnnualRate() decimal.Decimal {
	return c.BaseRate.Add(c.Margin)
}

// FindVehicle returns the index of the vehicle with the given registration, or -1.
func (c *Contract) FindVehicle(registration string) int {
	reg := NormalizeRegistration(registration)
	for i := range c.Vehicles {
		if c.Vehicles[i].Registration == reg {
			return i
		}
	}
	return -1
}

// Clone returns a deep copy so callers can derive a modified contract without
// touching the original.
func (c Contract) Clone() Contract {
	out := c
	if c.Vehicles != nil {
		out.Vehicles = make([]Vehicle, len(c.Vehicles))
		for i, v := range c.Vehicles {
			if v.SettledDate != nil {
				d := *v.SettledDate
				v.SettledDate = &d
			}
			out.Vehicles[i] = v
		}
	}
	if c.RateHistory != nil {
		out.RateHistory = append([]RateChange(nil), c.RateHistory...)
	}
	return out
}

// NormalizeRegistration strips all whitespace and uppercases a registration.
func NormalizeRegistration(registration string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsSpace(r) {
			return -1
		}
		return unicode.ToUpper(r)
	}, registration)
}

type TransactionType string

const (
	TransactionTypeOpening        TransactionType = "OPENING"
	TransactionTypeCapitalPayment TransactionType = "CAPITAL_PAYMENT"
	TransactionTypeSettlement     TransactionType = "SETTLEMENT"
	TransactionTypeInterestCharge TransactionType = "INTEREST_CHARGE"
)

// Priority orders transactions that fall on the same date.
func (t TransactionType) Priority() int {
	switch t {
	case TransactionTypeOpening:
		return 0
	case TransactionTypeCapitalPayment:
		return 1
	case TransactionTypeSettlement:
		return 2
	case TransactionTypeInterestCharge:
		return 3
	default:
		return 4
	}
}

// Transaction is one line of a contract's statement of account.
type Transaction struct {
	ID           uuid.UUID       `json:"id"`
	ContractID   uuid.UUID       `json:"contract_id"`
	Date         civil.Date      `json:"date"`
	Type         TransactionType `json:"type"`
	Description  string          `json:"description"`
	Debit        decimal.Decimal `json:"debit"`
	Credit       decimal.Decimal `json:"credit"`
	Balance      decimal.Decimal `json:"balance"`
	Period       int             `json:"period,omitempty"`
	Registration string          `json:"registration,omitempty"`
	Days         int             `json:"days,omitempty"`
	Rate         decimal.Decimal `json:"rate"`
}
