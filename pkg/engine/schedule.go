// Package engine computes instalment schedules, settlement quotes, statements
// of account and portfolio figures for pooled vehicle-finance contracts.
//
// Every function is a pure function of its arguments: contracts are never
// modified in place and "today" is always passed in, so results are
// reproducible and safe to compute concurrently.
package engine

import (
	"sort"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/fleetfinance/pkg/datemath"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/shopspring/decimal"
)

// SettlementPosting is one vehicle settlement inside a schedule period.
type SettlementPosting struct {
	Registration string          `json:"registration"`
	Date         civil.Date      `json:"date"`
	Capital      decimal.Decimal `json:"capital"` // Remaining pooled capital paid off
	// InterestReduction is how much the interest-bearing balance drops from
	// Date onward: the vehicle's whole share of the period's opening balance.
	InterestReduction decimal.Decimal `json:"interest_reduction"`
}

// MonthEntry is one period of a contract schedule. The period runs from
// PeriodStart, the instalment due date, through PeriodEnd, the day before the
// next instalment.
type MonthEntry struct {
	MonthIndex         int                 `json:"month_index"`
	PeriodStart        civil.Date          `json:"period_start"`
	PeriodEnd          civil.Date          `json:"period_end"`
	DaysInPeriod       int                 `json:"days_in_period"`
	OpeningBalance     decimal.Decimal     `json:"opening_balance"`
	CapitalDue         decimal.Decimal     `json:"capital_due"`
	SettledCapital     decimal.Decimal     `json:"settled_capital"`
	InterestDue        decimal.Decimal     `json:"interest_due"`
	ClosingBalance     decimal.Decimal     `json:"closing_balance"`
	ActiveVehicleCount int                 `json:"active_vehicle_count"`
	InterestRate       decimal.Decimal     `json:"interest_rate"` // Rate in force at period start; zero for fixed
	Settlements        []SettlementPosting `json:"settlements,omitempty"`

	interestExact decimal.Decimal
}

// TotalDue is the instalment payable on the period's due date.
func (e MonthEntry) TotalDue() decimal.Decimal {
	return e.CapitalDue.Add(e.InterestDue)
}

type settlementEvent struct {
	registration string
	date         civil.Date
	period       int
}

// plan holds the validated, precomputed view of a contract shared by the
// schedule, quote, statement and metrics computations.
type plan struct {
	c      *models.Contract
	n      int
	rate   decimal.Decimal
	rates  rateTimeline
	events []settlementEvent
}

func newPlan(c *models.Contract) (*plan, error) {
	if err := Validate(c); err != nil {
		return nil, err
	}

	p := &plan{
		c:     c,
		n:     c.TotalInstalments,
		rate:  PerVehicleCapitalRate(c),
		rates: newRateTimeline(c),
	}

	// Settlements on or after the conclusion are natural maturity, not early
	// payoff, and leave the schedule untouched.
	conclusion := p.conclusion()
	for _, v := range c.Vehicles {
		if v.Status != models.VehicleStatusSettled || !v.SettledDate.Before(conclusion) {
			continue
		}
		p.events = append(p.events, settlementEvent{
			registration: v.Registration,
			date:         *v.SettledDate,
			period:       p.periodOf(*v.SettledDate),
		})
	}
	sort.SliceStable(p.events, func(i, j int) bool {
		a, b := p.events[i], p.events[j]
		if a.date != b.date {
			return a.date.Before(b.date)
		}
		return a.registration < b.registration
	})
	return p, nil
}

// dueDate returns the due date of instalment i (1-based). dueDate(n+1) is the
// contract conclusion.
func (p *plan) dueDate(i int) civil.Date {
	return datemath.AddMonths(p.c.FirstInstalmentDate, i-1)
}

func (p *plan) conclusion() civil.Date {
	return p.dueDate(p.n + 1)
}

// periodOf returns the 1-based period containing d, which must not precede
// the first instalment.
func (p *plan) periodOf(d civil.Date) int {
	return datemath.MonthsElapsed(p.c.FirstInstalmentDate, d) + 1
}

func (p *plan) fixedInterest() decimal.Decimal {
	return p.c.TotalInterest.Div(decimal.NewFromInt(int64(p.n))).Round(2)
}

// BuildSchedule returns the contract's month-by-month schedule, one entry per
// instalment.
func BuildSchedule(c models.Contract) ([]MonthEntry, error) {
	p, err := newPlan(&c)
	if err != nil {
		return nil, err
	}
	return p.schedule(), nil
}

func (p *plan) schedule() []MonthEntry {
	entries := make([]MonthEntry, 0, p.n)
	balance := p.c.TotalCapital
	active := p.c.OriginalVehicleCount
	next := 0

	for i := 1; i <= p.n; i++ {
		start, due := p.dueDate(i), p.dueDate(i+1)
		e := MonthEntry{
			MonthIndex:         i,
			PeriodStart:        start,
			PeriodEnd:          due.AddDays(-1),
			DaysInPeriod:       datemath.DaysBetween(start, due),
			OpeningBalance:     balance,
			ActiveVehicleCount: active,
			SettledCapital:     decimal.Zero,
			InterestDue:        decimal.Zero,
			InterestRate:       decimal.Zero,
		}
		live := active > 0

		// The scheduled instalment is posted first; vehicles settling in
		// this period still owe it. The last instalment clears any rounding
		// remainder.
		capital := decimal.Zero
		if live {
			capital = p.rate.Mul(decimal.NewFromInt(int64(active)))
			if i == p.n || capital.GreaterThan(balance) {
				capital = balance
			}
		}
		remaining := balance.Sub(capital)
		bearing := balance

		for ; next < len(p.events) && p.events[next].period == i; next++ {
			ev := p.events[next]
			active--

			share := p.rate.Mul(decimal.NewFromInt(int64(p.n - i)))
			reduction := share.Add(p.rate)
			if active == 0 || share.GreaterThan(remaining) {
				share = remaining
			}
			if active == 0 || reduction.GreaterThan(bearing) {
				reduction = bearing
			}
			remaining = remaining.Sub(share)
			bearing = bearing.Sub(reduction)

			e.SettledCapital = e.SettledCapital.Add(share)
			e.Settlements = append(e.Settlements, SettlementPosting{
				Registration:      ev.registration,
				Date:              ev.date,
				Capital:           share,
				InterestReduction: reduction,
			})
		}

		e.CapitalDue = capital
		e.ClosingBalance = remaining

		if live {
			switch p.c.InterestType {
			case models.InterestTypeFixed:
				e.interestExact = p.fixedInterest()
			case models.InterestTypeVariable:
				e.InterestRate = p.rates.at(start)
				e.interestExact = p.accrue(start, due, balance, e.Settlements)
			}
			e.InterestDue = e.interestExact.Round(2)
		}

		entries = append(entries, e)
		balance = remaining
	}
	return entries
}
