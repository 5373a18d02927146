package engine

import (
	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/shopspring/decimal"
)

// ContractMetrics is a point-in-time view of one contract, read off its
// schedule as of a given day.
type ContractMetrics struct {
	ContractID     uuid.UUID  `json:"contract_id"`
	ContractNumber string     `json:"contract_number"`
	AsOf           civil.Date `json:"as_of"`

	// CurrentPeriod is 0 before the first instalment and N+1 after the
	// conclusion.
	CurrentPeriod   int        `json:"current_period"`
	MonthsElapsed   int        `json:"months_elapsed"`
	MonthsRemaining int        `json:"months_remaining"`
	ConclusionDate  civil.Date `json:"conclusion_date"`

	PerVehicleCapitalRate    decimal.Decimal `json:"per_vehicle_capital_rate"`
	MonthlyCapitalInstalment decimal.Decimal `json:"monthly_capital_instalment"` // With every original vehicle active
	CurrentMonthlyCapital    decimal.Decimal `json:"current_monthly_capital"`

	ActiveVehicles  int `json:"active_vehicles"`
	SettledVehicles int `json:"settled_vehicles"`

	CapitalOutstanding    decimal.Decimal `json:"capital_outstanding"`
	InterestOutstanding   decimal.Decimal `json:"interest_outstanding"`
	CurrentPeriodInterest decimal.Decimal `json:"current_period_interest"`
	NextMonthCapitalDue   decimal.Decimal `json:"next_month_capital_due"`
	ProgressPercent       decimal.Decimal `json:"progress_percent"`
	EffectiveRate         decimal.Decimal `json:"effective_rate"` // Variable contracts only

	Status models.ContractStatus `json:"status"`
}

// Metrics computes the contract's position as of asOf. Settlements dated after
// asOf are treated as not yet having happened, so every balance, interest and
// capital figure is read off the schedule as it stood on asOf.
func Metrics(c models.Contract, asOf civil.Date) (*ContractMetrics, error) {
	if err := Validate(&c); err != nil {
		return nil, err
	}
	known := knownOn(c, asOf)
	p, err := newPlan(&known)
	if err != nil {
		return nil, err
	}
	entries := p.schedule()

	period := 0
	if !asOf.Before(c.FirstInstalmentDate) {
		period = p.periodOf(asOf)
		if period > p.n {
			period = p.n + 1
		}
	}

	m := &ContractMetrics{
		ContractID:               c.ID,
		ContractNumber:           c.ContractNumber,
		AsOf:                     asOf,
		CurrentPeriod:            period,
		MonthsElapsed:            min(period, p.n),
		MonthsRemaining:          p.n - min(period, p.n),
		ConclusionDate:           p.conclusion(),
		PerVehicleCapitalRate:    p.rate,
		MonthlyCapitalInstalment: p.rate.Mul(decimal.NewFromInt(int64(c.OriginalVehicleCount))),
		CapitalOutstanding:       decimal.Zero,
		InterestOutstanding:      decimal.Zero,
		CurrentPeriodInterest:    decimal.Zero,
		NextMonthCapitalDue:      decimal.Zero,
		EffectiveRate:            decimal.Zero,
		Status:                   models.ContractStatusActive,
	}

	m.ActiveVehicles = activeVehiclesOn(&c, asOf)
	m.SettledVehicles = c.OriginalVehicleCount - m.ActiveVehicles

	switch {
	case period == 0:
		m.CapitalOutstanding = c.TotalCapital
	case period <= p.n:
		cur := entries[period-1]
		m.CapitalOutstanding = cur.ClosingBalance
		m.CurrentPeriodInterest = cur.InterestDue
	}
	for _, e := range entries[min(period, p.n):] {
		m.InterestOutstanding = m.InterestOutstanding.Add(e.InterestDue)
	}
	if period < p.n {
		m.NextMonthCapitalDue = entries[period].CapitalDue
	}

	if period > p.n || m.ActiveVehicles == 0 {
		m.Status = models.ContractStatusSettled
		m.ActiveVehicles = 0
		m.SettledVehicles = c.OriginalVehicleCount
	}
	if m.Status == models.ContractStatusActive {
		m.CurrentMonthlyCapital = p.rate.Mul(decimal.NewFromInt(int64(m.ActiveVehicles)))
	} else {
		m.CurrentMonthlyCapital = decimal.Zero
	}

	switch {
	case c.TotalCapital.IsPositive():
		repaid := c.TotalCapital.Sub(m.CapitalOutstanding)
		m.ProgressPercent = repaid.Mul(decimal.NewFromInt(100)).Div(c.TotalCapital).Round(2)
	case m.Status == models.ContractStatusSettled:
		m.ProgressPercent = decimal.NewFromInt(100)
	default:
		m.ProgressPercent = decimal.Zero
	}

	if c.InterestType == models.InterestTypeVariable {
		m.EffectiveRate = p.rates.at(asOf)
	}
	return m, nil
}

// activeVehiclesOn counts vehicles not yet settled on d.
func activeVehiclesOn(c *models.Contract, d civil.Date) int {
	if len(c.Vehicles) == 0 {
		return c.OriginalVehicleCount
	}
	n := 0
	for _, v := range c.Vehicles {
		if v.Status == models.VehicleStatusActive || v.SettledDate.After(d) {
			n++
		}
	}
	return n
}

// knownOn returns c with every settlement dated after d undone.
func knownOn(c models.Contract, d civil.Date) models.Contract {
	out := c.Clone()
	for i := range out.Vehicles {
		v := &out.Vehicles[i]
		if v.Status == models.VehicleStatusSettled && v.SettledDate.After(d) {
			v.Status = models.VehicleStatusActive
			v.SettledDate = nil
		}
	}
	return out
}
