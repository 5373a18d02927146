package engine

import (
	"time"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/fleetfinance/pkg/datemath"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/shopspring/decimal"
)

// QuoteValidityDays is how long a settlement figure stays valid.
const QuoteValidityDays = 7

// SettlementQuote is the figure to pay off one vehicle early. It is a
// quotation only; SettleVehicle applies it.
type SettlementQuote struct {
	Registration   string     `json:"registration"`
	SettlementDate civil.Date `json:"settlement_date"`
	Period         int        `json:"period"`
	DaysAccrued    int        `json:"days_accrued"`   // Days of the current period before the settlement date
	DaysRemaining  int        `json:"days_remaining"` // Days from the settlement date to the next instalment

	CapitalComponent  decimal.Decimal `json:"capital_component"`
	InterestComponent decimal.Decimal `json:"interest_component"`
	TotalFigure       decimal.Decimal `json:"total_figure"`

	InterestSavedThisPeriod decimal.Decimal `json:"interest_saved_this_period"`
	FutureInterestSaved     decimal.Decimal `json:"future_interest_saved"`
	TotalInterestSaved      decimal.Decimal `json:"total_interest_saved"`

	NewMonthlyCapital decimal.Decimal `json:"new_monthly_capital"`
	ValidUntil        civil.Date      `json:"valid_until"`
}

// QuoteSettlement prices the early settlement of one vehicle on date by
// comparing the current schedule with one in which the vehicle is settled.
func QuoteSettlement(c models.Contract, registration string, date civil.Date) (*SettlementQuote, error) {
	base, err := newPlan(&c)
	if err != nil {
		return nil, err
	}
	idx, err := base.checkSettlement(registration, date)
	if err != nil {
		return nil, err
	}
	reg := c.Vehicles[idx].Registration

	settled := c.Clone()
	markSettled(&settled.Vehicles[idx], date)
	hyp, err := newPlan(&settled)
	if err != nil {
		return nil, err
	}

	baseline, hypothetical := base.schedule(), hyp.schedule()
	i := base.periodOf(date)
	start, due := base.dueDate(i), base.dueDate(i+1)
	cur, alt := baseline[i-1], hypothetical[i-1]

	q := &SettlementQuote{
		Registration:            reg,
		SettlementDate:          date,
		Period:                  i,
		DaysAccrued:             datemath.DaysBetween(start, date),
		DaysRemaining:           datemath.DaysBetween(date, due),
		CapitalComponent:        decimal.Zero,
		InterestComponent:       decimal.Zero,
		InterestSavedThisPeriod: decimal.Zero,
		ValidUntil:              date.AddDays(QuoteValidityDays),
	}
	for _, ps := range alt.Settlements {
		if ps.Registration == reg {
			q.CapitalComponent = ps.Capital
		}
	}

	if c.InterestType == models.InterestTypeVariable {
		q.InterestComponent = base.accrue(start, date, cur.OpeningBalance, cur.Settlements).Round(2)
		before := base.accrue(date, due, cur.OpeningBalance, cur.Settlements)
		after := hyp.accrue(date, due, alt.OpeningBalance, alt.Settlements)
		q.InterestSavedThisPeriod = before.Sub(after).Round(2)
	}

	future := decimal.Zero
	for j := i; j < len(baseline); j++ {
		future = future.Add(baseline[j].interestExact.Sub(hypothetical[j].interestExact))
	}
	q.FutureInterestSaved = future.Round(2)
	q.TotalInterestSaved = q.InterestSavedThisPeriod.Add(q.FutureInterestSaved)
	q.TotalFigure = q.CapitalComponent.Add(q.InterestComponent)
	q.NewMonthlyCapital = base.rate.Mul(decimal.NewFromInt(int64(activeVehicles(&c) - 1)))
	return q, nil
}

// SettleVehicle returns a copy of c with the vehicle settled on date and the
// cached contract fields recomputed.
func SettleVehicle(c models.Contract, registration string, date civil.Date) (models.Contract, error) {
	p, err := newPlan(&c)
	if err != nil {
		return c, err
	}
	idx, err := p.checkSettlement(registration, date)
	if err != nil {
		return c, err
	}

	out := c.Clone()
	markSettled(&out.Vehicles[idx], date)
	RefreshDerived(&out)
	return out, nil
}

// MatureContract settles every still-active vehicle at the contract conclusion
// once asOf has reached it. The boolean reports whether anything changed.
func MatureContract(c models.Contract, asOf civil.Date) (models.Contract, bool, error) {
	p, err := newPlan(&c)
	if err != nil {
		return c, false, err
	}
	conclusion := p.conclusion()
	if asOf.Before(conclusion) {
		return c, false, nil
	}

	out := c.Clone()
	changed := out.Status != models.ContractStatusSettled
	for i := range out.Vehicles {
		if out.Vehicles[i].Status == models.VehicleStatusActive {
			markSettled(&out.Vehicles[i], conclusion)
			changed = true
		}
	}
	RefreshDerived(&out)
	out.Status = models.ContractStatusSettled
	out.CurrentMonthlyCapital = decimal.Zero
	return out, changed, nil
}

// ApplyRateChange records a new base rate on a variable contract, effective
// from date. The margin never changes.
func ApplyRateChange(c models.Contract, newBaseRate decimal.Decimal, date civil.Date, recordedAt time.Time) (models.Contract, error) {
	p, err := newPlan(&c)
	if err != nil {
		return c, err
	}
	switch {
	case c.InterestType != models.InterestTypeVariable:
		return c, &RateChangeError{Reason: "contract " + c.ContractNumber + " has fixed interest"}
	case newBaseRate.IsNegative():
		return c, &RateChangeError{Reason: "base rate " + newBaseRate.String() + " is negative"}
	case !date.IsValid():
		return c, &RateChangeError{Reason: "effective date is not a valid date"}
	case date.Before(c.FirstInstalmentDate):
		return c, &RateChangeError{Reason: "effective date " + date.String() + " precedes the first instalment " + c.FirstInstalmentDate.String()}
	case !date.Before(p.conclusion()):
		return c, &RateChangeError{Reason: "effective date " + date.String() + " is on or after the contract conclusion " + p.conclusion().String()}
	}
	if n := len(p.rates.changes); n > 0 && date.Before(p.rates.changes[n-1].Date) {
		return c, &RateChangeError{Reason: "effective date " + date.String() + " precedes the previous change on " + p.rates.changes[n-1].Date.String()}
	}

	out := c.Clone()
	out.RateHistory = append(out.RateHistory, models.RateChange{
		Date:             date,
		OldBaseRate:      c.BaseRate,
		NewBaseRate:      newBaseRate,
		OldEffectiveRate: c.EffectiveAnnualRate(),
		NewEffectiveRate: newBaseRate.Add(c.Margin),
		RecordedAt:       recordedAt,
	})
	out.BaseRate = newBaseRate
	return out, nil
}

// RefreshDerived recomputes the cached vehicle count, monthly capital and
// status of c from its vehicles.
func RefreshDerived(c *models.Contract) {
	active := activeVehicles(c)
	c.ActiveVehiclesCount = active
	c.CurrentMonthlyCapital = PerVehicleCapitalRate(c).Mul(decimal.NewFromInt(int64(active)))
	if active == 0 {
		c.Status = models.ContractStatusSettled
	} else {
		c.Status = models.ContractStatusActive
	}
}

func (p *plan) checkSettlement(registration string, date civil.Date) (int, error) {
	idx := p.c.FindVehicle(registration)
	if idx < 0 {
		return -1, &InvalidSettlementError{Registration: registration, Reason: "vehicle is not on contract " + p.c.ContractNumber}
	}
	reg := p.c.Vehicles[idx].Registration
	switch {
	case p.c.Vehicles[idx].Status == models.VehicleStatusSettled:
		return -1, &InvalidSettlementError{Registration: reg, Reason: "already settled on " + p.c.Vehicles[idx].SettledDate.String()}
	case !date.IsValid():
		return -1, &InvalidSettlementError{Registration: reg, Reason: "settlement date is not a valid date"}
	case date.Before(p.c.FirstInstalmentDate):
		return -1, &InvalidSettlementError{Registration: reg, Reason: "settlement date " + date.String() + " precedes the first instalment " + p.c.FirstInstalmentDate.String()}
	case !date.Before(p.conclusion()):
		return -1, &InvalidSettlementError{Registration: reg, Reason: "settlement date " + date.String() + " is on or after the contract conclusion " + p.conclusion().String()}
	}
	return idx, nil
}

func markSettled(v *models.Vehicle, date civil.Date) {
	d := date
	v.Status = models.VehicleStatusSettled
	v.SettledDate = &d
}

// activeVehicles counts active vehicles. A contract without a vehicle list
// is treated as having all of its original vehicles active.
func activeVehicles(c *models.Contract) int {
	if len(c.Vehicles) == 0 {
		return c.OriginalVehicleCount
	}
	n := 0
	for _, v := range c.Vehicles {
		if v.Status == models.VehicleStatusActive {
			n++
		}
	}
	return n
}
