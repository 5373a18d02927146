package engine

import (
	"fmt"
	"sort"

	"cloud.google.com/go/civil"
	"github.com/google/uuid"
	"github.com/mcclellann/fleetfinance/pkg/datemath"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/shopspring/decimal"
)

// transactionNamespace seeds the name-based UUIDs of statement lines, so the
// same contract always yields the same transaction IDs.
var transactionNamespace = uuid.MustParse("6f1c2a4e-9b3d-4f7a-8e21-5c0d9a7b3e14")

// LedgerSummary totals a statement of account.
type LedgerSummary struct {
	TotalDebits          decimal.Decimal `json:"total_debits"`
	TotalCapitalPaid     decimal.Decimal `json:"total_capital_paid"`
	TotalInterestCharged decimal.Decimal `json:"total_interest_charged"`
	TransactionCount     int             `json:"transaction_count"`
	ClosingBalance       decimal.Decimal `json:"closing_balance"`
}

// BuildLedger returns the contract's statement of account in posting order
// with running capital balances.
func BuildLedger(c models.Contract) ([]models.Transaction, error) {
	p, err := newPlan(&c)
	if err != nil {
		return nil, err
	}
	entries := p.schedule()

	txns := make([]models.Transaction, 0, 2*len(entries)+len(p.events)+1)
	txns = append(txns, p.transaction(models.TransactionTypeOpening, c.FirstInstalmentDate, 0, "",
		"Contract Opening Balance", decimal.Zero))

	// Once every vehicle has settled early the statement stops at the final
	// settlement.
	var closedOn *civil.Date
	if n := len(p.events); n > 0 && n == c.OriginalVehicleCount {
		closedOn = &p.events[n-1].date
	}

	for _, e := range entries {
		if closedOn != nil && e.PeriodStart.After(*closedOn) {
			break
		}
		month := datemath.MonthName(e.PeriodStart)
		if e.CapitalDue.IsPositive() {
			txns = append(txns, p.transaction(models.TransactionTypeCapitalPayment, e.PeriodStart, e.MonthIndex, "",
				"Monthly Capital Payment - "+month, e.CapitalDue))
		}
		for _, ps := range e.Settlements {
			txns = append(txns, p.transaction(models.TransactionTypeSettlement, ps.Date, e.MonthIndex, ps.Registration,
				"Early Settlement - "+ps.Registration, ps.Capital))
		}
		if e.InterestDue.IsPositive() {
			t := p.transaction(models.TransactionTypeInterestCharge, e.PeriodStart, e.MonthIndex, "",
				fmt.Sprintf("Interest Charge - %s (%d days)", month, e.DaysInPeriod), e.InterestDue)
			t.Days = e.DaysInPeriod
			t.Rate = e.InterestRate
			txns = append(txns, t)
		}
	}

	sort.SliceStable(txns, func(i, j int) bool {
		a, b := txns[i], txns[j]
		if a.Date != b.Date {
			return a.Date.Before(b.Date)
		}
		return a.Type.Priority() < b.Type.Priority()
	})

	balance := c.TotalCapital
	for i := range txns {
		switch txns[i].Type {
		case models.TransactionTypeCapitalPayment, models.TransactionTypeSettlement:
			balance = balance.Sub(txns[i].Debit)
		}
		txns[i].Balance = balance
	}
	return txns, nil
}

func (p *plan) transaction(kind models.TransactionType, date civil.Date, period int, registration, description string, debit decimal.Decimal) models.Transaction {
	key := fmt.Sprintf("%s/%s/%d/%s", p.c.ContractNumber, kind, period, registration)
	return models.Transaction{
		ID:           uuid.NewSHA1(transactionNamespace, []byte(key)),
		ContractID:   p.c.ID,
		Date:         date,
		Type:         kind,
		Description:  description,
		Debit:        debit,
		Credit:       decimal.Zero,
		Period:       period,
		Registration: registration,
		Rate:         decimal.Zero,
	}
}

// Summarize totals a statement built by BuildLedger.
func Summarize(txns []models.Transaction) LedgerSummary {
	s := LedgerSummary{
		TotalDebits:          decimal.Zero,
		TotalCapitalPaid:     decimal.Zero,
		TotalInterestCharged: decimal.Zero,
		TransactionCount:     len(txns),
		ClosingBalance:       decimal.Zero,
	}
	for _, t := range txns {
		s.TotalDebits = s.TotalDebits.Add(t.Debit)
		switch t.Type {
		case models.TransactionTypeCapitalPayment, models.TransactionTypeSettlement:
			s.TotalCapitalPaid = s.TotalCapitalPaid.Add(t.Debit)
		case models.TransactionTypeInterestCharge:
			s.TotalInterestCharged = s.TotalInterestCharged.Add(t.Debit)
		}
	}
	if len(txns) > 0 {
		s.ClosingBalance = txns[len(txns)-1].Balance
	}
	return s
}
