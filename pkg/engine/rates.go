package engine

import (
	"sort"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/fleetfinance/pkg/datemath"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/shopspring/decimal"
)

// Daily rate is annual percent / 100 / 365; folding both divisors into one
// keeps accrual to a single division per period.
var percentDaysPerYear = decimal.NewFromInt(36500)

// rateTimeline answers which effective annual rate was in force on a day.
type rateTimeline struct {
	initial decimal.Decimal
	changes []models.RateChange
}

func newRateTimeline(c *models.Contract) rateTimeline {
	if len(c.RateHistory) == 0 {
		return rateTimeline{initial: c.EffectiveAnnualRate()}
	}
	changes := append([]models.RateChange(nil), c.RateHistory...)
	sort.SliceStable(changes, func(i, j int) bool {
		return changes[i].Date.Before(changes[j].Date)
	})
	return rateTimeline{initial: changes[0].OldEffectiveRate, changes: changes}
}

// at returns the rate in force on d. A change takes effect on its own date.
func (r rateTimeline) at(d civil.Date) decimal.Decimal {
	rate := r.initial
	for _, rc := range r.changes {
		if rc.Date.After(d) {
			break
		}
		rate = rc.NewEffectiveRate
	}
	return rate
}

// breaks returns the change dates strictly inside (from, to).
func (r rateTimeline) breaks(from, to civil.Date) []civil.Date {
	var out []civil.Date
	for _, rc := range r.changes {
		if rc.Date.After(from) && rc.Date.Before(to) {
			out = append(out, rc.Date)
		}
	}
	return out
}

// accrue returns the unrounded interest over [from, to) on a balance that
// starts at opening and drops by each posting's InterestReduction from the
// posting date onward. The range is cut at every rate change and settlement
// so each segment has a single balance and rate.
func (p *plan) accrue(from, to civil.Date, opening decimal.Decimal, postings []SettlementPosting) decimal.Decimal {
	if !from.Before(to) {
		return decimal.Zero
	}

	cuts := append([]civil.Date{from, to}, p.rates.breaks(from, to)...)
	for _, ps := range postings {
		if ps.Date.After(from) && ps.Date.Before(to) {
			cuts = append(cuts, ps.Date)
		}
	}
	sort.Slice(cuts, func(i, j int) bool { return cuts[i].Before(cuts[j]) })

	numerator := decimal.Zero
	for k := 0; k+1 < len(cuts); k++ {
		start, end := cuts[k], cuts[k+1]
		days := datemath.DaysBetween(start, end)
		if days <= 0 {
			continue
		}
		balance := balanceOn(start, opening, postings)
		numerator = numerator.Add(balance.Mul(p.rates.at(start)).Mul(decimal.NewFromInt(int64(days))))
	}
	return numerator.Div(percentDaysPerYear)
}

func balanceOn(d civil.Date, opening decimal.Decimal, postings []SettlementPosting) decimal.Decimal {
	balance := opening
	for _, ps := range postings {
		if !ps.Date.After(d) {
			balance = balance.Sub(ps.InterestReduction)
		}
	}
	if balance.IsNegative() {
		return decimal.Zero
	}
	return balance
}
