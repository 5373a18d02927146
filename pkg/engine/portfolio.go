package engine

import (
	"fmt"
	"sort"
	"time"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/fleetfinance/pkg/datemath"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/shopspring/decimal"
)

// PortfolioSummary totals the position of every contract as of one day.
type PortfolioSummary struct {
	AsOf                civil.Date      `json:"as_of"`
	ActiveContracts     int             `json:"active_contracts"`
	SettledContracts    int             `json:"settled_contracts"`
	ActiveVehicles      int             `json:"active_vehicles"`
	SettledVehicles     int             `json:"settled_vehicles"`
	CapitalOutstanding  decimal.Decimal `json:"capital_outstanding"`
	InterestOutstanding decimal.Decimal `json:"interest_outstanding"`
	NextMonthCapitalDue decimal.Decimal `json:"next_month_capital_due"`
}

// Aggregate folds the metrics of every active contract. Settled contracts
// are counted but contribute nothing outstanding.
func Aggregate(contracts []models.Contract, asOf civil.Date) (*PortfolioSummary, error) {
	s := &PortfolioSummary{
		AsOf:                asOf,
		CapitalOutstanding:  decimal.Zero,
		InterestOutstanding: decimal.Zero,
		NextMonthCapitalDue: decimal.Zero,
	}
	for _, c := range contracts {
		m, err := Metrics(c, asOf)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", c.ContractNumber, err)
		}
		if m.Status == models.ContractStatusSettled {
			s.SettledContracts++
			s.SettledVehicles += c.OriginalVehicleCount
			continue
		}
		s.ActiveContracts++
		s.ActiveVehicles += m.ActiveVehicles
		s.SettledVehicles += m.SettledVehicles
		s.CapitalOutstanding = s.CapitalOutstanding.Add(m.CapitalOutstanding)
		s.InterestOutstanding = s.InterestOutstanding.Add(m.InterestOutstanding)
		s.NextMonthCapitalDue = s.NextMonthCapitalDue.Add(m.NextMonthCapitalDue)
	}
	return s, nil
}

// MaturityBucket names the window a contract concludes in.
type MaturityBucket string

const (
	MaturityWithin30Days MaturityBucket = "30"
	MaturityWithin60Days MaturityBucket = "60"
	MaturityWithin90Days MaturityBucket = "90"
)

// MaturityItem is one contract on the maturity report.
type MaturityItem struct {
	ContractID         uuid.UUID           `json:"contract_id"`
	ContractNumber     string              `json:"contract_number"`
	InterestType       models.InterestType `json:"interest_type"`
	ConclusionDate     civil.Date          `json:"conclusion_date"`
	DaysToConclusion   int                 `json:"days_to_conclusion"`
	ActiveVehicles     int                 `json:"active_vehicles"`
	TotalVehicles      int                 `json:"total_vehicles"`
	MonthlyCapital     decimal.Decimal     `json:"monthly_capital"`
	CapitalOutstanding decimal.Decimal     `json:"capital_outstanding"`
	Bucket             MaturityBucket      `json:"bucket"`
}

// MaturityReport lists active contracts concluding within one, two and three
// calendar months of AsOf, soonest first.
type MaturityReport struct {
	AsOf          civil.Date      `json:"as_of"`
	Within30Days  []MaturityItem  `json:"within_30_days"`
	Within60Days  []MaturityItem  `json:"within_60_days"`
	Within90Days  []MaturityItem  `json:"within_90_days"`
	TotalCapital  decimal.Decimal `json:"total_capital"`
	TotalVehicles int             `json:"total_vehicles"`
}

// Count is the number of contracts across all buckets.
func (r *MaturityReport) Count() int {
	return len(r.Within30Days) + len(r.Within60Days) + len(r.Within90Days)
}

// BuildMaturityReport buckets active contracts by how soon they conclude after
// asOf. Contracts already concluded or settled are left out.
func BuildMaturityReport(contracts []models.Contract, asOf civil.Date) (*MaturityReport, error) {
	r := &MaturityReport{
		AsOf:         asOf,
		Within30Days: []MaturityItem{},
		Within60Days: []MaturityItem{},
		Within90Days: []MaturityItem{},
		TotalCapital: decimal.Zero,
	}
	in30 := datemath.AddMonths(asOf, 1)
	in60 := datemath.AddMonths(asOf, 2)
	in90 := datemath.AddMonths(asOf, 3)

	for _, c := range contracts {
		m, err := Metrics(c, asOf)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", c.ContractNumber, err)
		}
		if m.Status != models.ContractStatusActive || m.ConclusionDate.After(in90) {
			continue
		}
		item := MaturityItem{
			ContractID:         c.ID,
			ContractNumber:     c.ContractNumber,
			InterestType:       c.InterestType,
			ConclusionDate:     m.ConclusionDate,
			DaysToConclusion:   datemath.DaysBetween(asOf, m.ConclusionDate),
			ActiveVehicles:     m.ActiveVehicles,
			TotalVehicles:      c.OriginalVehicleCount,
			MonthlyCapital:     m.CurrentMonthlyCapital,
			CapitalOutstanding: m.CapitalOutstanding,
		}
		switch {
		case !item.ConclusionDate.After(in30):
			item.Bucket = MaturityWithin30Days
			r.Within30Days = append(r.Within30Days, item)
		case !item.ConclusionDate.After(in60):
			item.Bucket = MaturityWithin60Days
			r.Within60Days = append(r.Within60Days, item)
		default:
			item.Bucket = MaturityWithin90Days
			r.Within90Days = append(r.Within90Days, item)
		}
		r.TotalCapital = r.TotalCapital.Add(item.CapitalOutstanding)
		r.TotalVehicles += item.ActiveVehicles
	}

	for _, items := range [][]MaturityItem{r.Within30Days, r.Within60Days, r.Within90Days} {
		sort.SliceStable(items, func(i, j int) bool {
			if items[i].DaysToConclusion != items[j].DaysToConclusion {
				return items[i].DaysToConclusion < items[j].DaysToConclusion
			}
			return items[i].ContractNumber < items[j].ContractNumber
		})
	}
	return r, nil
}

// CalendarPayment is one instalment falling due on a calendar day.
type CalendarPayment struct {
	ContractID     uuid.UUID           `json:"contract_id"`
	ContractNumber string              `json:"contract_number"`
	InterestType   models.InterestType `json:"interest_type"`
	MonthIndex     int                 `json:"month_index"`
	Capital        decimal.Decimal     `json:"capital"`
	Interest       decimal.Decimal     `json:"interest"`
	Total          decimal.Decimal     `json:"total"`
}

type CalendarDay struct {
	Date          civil.Date        `json:"date"`
	Payments      []CalendarPayment `json:"payments"`
	TotalCapital  decimal.Decimal   `json:"total_capital"`
	TotalInterest decimal.Decimal   `json:"total_interest"`
	TotalPayment  decimal.Decimal   `json:"total_payment"`
}

// CalendarMonth holds every day of one month with the instalments falling
// due on it across the portfolio.
type CalendarMonth struct {
	Year          int             `json:"year"`
	Month         time.Month      `json:"month"`
	Days          []CalendarDay   `json:"days"`
	TotalCapital  decimal.Decimal `json:"total_capital"`
	TotalInterest decimal.Decimal `json:"total_interest"`
	TotalPayment  decimal.Decimal `json:"total_payment"`
}

// BusiestDay returns the day with the most instalments due, or nil when
// nothing falls due in the month.
func (m *CalendarMonth) BusiestDay() *CalendarDay {
	var best *CalendarDay
	for i := range m.Days {
		d := &m.Days[i]
		if len(d.Payments) > 0 && (best == nil || len(d.Payments) > len(best.Payments)) {
			best = d
		}
	}
	return best
}

// HighestDay returns the day with the largest amount due, or nil when nothing
// falls due in the month.
func (m *CalendarMonth) HighestDay() *CalendarDay {
	var best *CalendarDay
	for i := range m.Days {
		d := &m.Days[i]
		if d.TotalPayment.IsPositive() && (best == nil || d.TotalPayment.GreaterThan(best.TotalPayment)) {
			best = d
		}
	}
	return best
}

// PaymentCalendar lays out the instalments of every contract that fall due in
// the given month, taken from each contract's schedule.
func PaymentCalendar(contracts []models.Contract, year int, month time.Month) (*CalendarMonth, error) {
	first := civil.Date{Year: year, Month: month, Day: 1}
	if !first.IsValid() {
		return nil, fmt.Errorf("invalid calendar month %d-%02d", year, int(month))
	}

	cal := &CalendarMonth{
		Year:          year,
		Month:         month,
		Days:          make([]CalendarDay, datemath.DaysInMonth(first)),
		TotalCapital:  decimal.Zero,
		TotalInterest: decimal.Zero,
		TotalPayment:  decimal.Zero,
	}
	for i := range cal.Days {
		cal.Days[i] = CalendarDay{
			Date:          first.AddDays(i),
			Payments:      []CalendarPayment{},
			TotalCapital:  decimal.Zero,
			TotalInterest: decimal.Zero,
			TotalPayment:  decimal.Zero,
		}
	}

	for _, c := range contracts {
		entries, err := BuildSchedule(c)
		if err != nil {
			return nil, fmt.Errorf("contract %s: %w", c.ContractNumber, err)
		}
		for _, e := range entries {
			if e.PeriodStart.Year != year || e.PeriodStart.Month != month {
				continue
			}
			total := e.TotalDue()
			if !total.IsPositive() {
				continue
			}
			day := &cal.Days[e.PeriodStart.Day-1]
			day.Payments = append(day.Payments, CalendarPayment{
				ContractID:     c.ID,
				ContractNumber: c.ContractNumber,
				InterestType:   c.InterestType,
				MonthIndex:     e.MonthIndex,
				Capital:        e.CapitalDue,
				Interest:       e.InterestDue,
				Total:          total,
			})
			day.TotalCapital = day.TotalCapital.Add(e.CapitalDue)
			day.TotalInterest = day.TotalInterest.Add(e.InterestDue)
			day.TotalPayment = day.TotalPayment.Add(total)
			cal.TotalCapital = cal.TotalCapital.Add(e.CapitalDue)
			cal.TotalInterest = cal.TotalInterest.Add(e.InterestDue)
			cal.TotalPayment = cal.TotalPayment.Add(total)
		}
	}
	return cal, nil
}
