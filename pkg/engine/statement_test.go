package engine

import (
	"testing"

	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertLedgerOrdered(t *testing.T, txns []models.Transaction) {
	t.Helper()
	for i := 1; i < len(txns); i++ {
		prev, cur := txns[i-1], txns[i]
		if cur.Date.Before(prev.Date) {
			t.Fatalf("transaction %d (%s) dated %s before %s", i, cur.Type, cur.Date, prev.Date)
		}
		if cur.Date == prev.Date && cur.Type.Priority() < prev.Type.Priority() {
			t.Fatalf("transaction %d: %s sorted after %s on %s", i, cur.Type, prev.Type, cur.Date)
		}
	}
}

func TestBuildLedgerFixed(t *testing.T) {
	txns, err := BuildLedger(fixedContract())
	require.NoError(t, err)
	require.Len(t, txns, 25)
	assertLedgerOrdered(t, txns)

	opening := txns[0]
	assert.Equal(t, models.TransactionTypeOpening, opening.Type)
	assert.Equal(t, "Contract Opening Balance", opening.Description)
	assertDecimal(t, "12000", opening.Balance)

	assert.Equal(t, models.TransactionTypeCapitalPayment, txns[1].Type)
	assert.Equal(t, "Monthly Capital Payment - January 2024", txns[1].Description)
	assertDecimal(t, "11000", txns[1].Balance)

	assert.Equal(t, models.TransactionTypeInterestCharge, txns[2].Type)
	assert.Equal(t, "Interest Charge - January 2024 (31 days)", txns[2].Description)
	assertDecimal(t, "50", txns[2].Debit)
	assertDecimal(t, "11000", txns[2].Balance, "interest must not move the balance")

	assertDecimal(t, "0", txns[len(txns)-1].Balance)

	s := Summarize(txns)
	assert.Equal(t, 25, s.TransactionCount)
	assertDecimal(t, "12000", s.TotalCapitalPaid)
	assertDecimal(t, "600", s.TotalInterestCharged)
	assertDecimal(t, "12600", s.TotalDebits)
	assertDecimal(t, "0", s.ClosingBalance)
}

func TestBuildLedgerStopsAtFinalSettlement(t *testing.T) {
	c := variableContract("20000", 10, "AA11AAA", "BB22BBB")
	settle(&c, "AA11AAA", date(2024, 5, 15))
	settle(&c, "BB22BBB", date(2024, 7, 10))

	txns, err := BuildLedger(c)
	require.NoError(t, err)
	assertLedgerOrdered(t, txns)
	require.Len(t, txns, 17)

	last := txns[len(txns)-1]
	assert.Equal(t, models.TransactionTypeSettlement, last.Type)
	assert.Equal(t, "Early Settlement - BB22BBB", last.Description)
	assert.Equal(t, date(2024, 7, 10), last.Date)
	assertDecimal(t, "3000", last.Debit)
	assertDecimal(t, "0", last.Balance)

	for _, tx := range txns {
		assert.False(t, tx.Date.After(date(2024, 7, 10)), "%s posted on %s after final settlement", tx.Type, tx.Date)
	}

	s := Summarize(txns)
	assertDecimal(t, "20000", s.TotalCapitalPaid)
}

func TestBuildLedgerSameDayOrdering(t *testing.T) {
	c := variableContract("20000", 10, "AA11AAA", "BB22BBB")
	// Settling on a due date puts capital, settlement and interest on one day.
	settle(&c, "AA11AAA", date(2024, 4, 1))

	txns, err := BuildLedger(c)
	require.NoError(t, err)
	assertLedgerOrdered(t, txns)

	var sameDay []models.TransactionType
	for _, tx := range txns {
		if tx.Date == date(2024, 4, 1) {
			sameDay = append(sameDay, tx.Type)
		}
	}
	assert.Equal(t, []models.TransactionType{
		models.TransactionTypeCapitalPayment,
		models.TransactionTypeSettlement,
		models.TransactionTypeInterestCharge,
	}, sameDay)
	assertDecimal(t, "0", txns[len(txns)-1].Balance)
}

func TestBuildLedgerIsDeterministic(t *testing.T) {
	c := variableContract("20000", 10, "AA11AAA", "BB22BBB")
	settle(&c, "AA11AAA", date(2024, 5, 15))

	first, err := BuildLedger(c)
	require.NoError(t, err)
	second, err := BuildLedger(c)
	require.NoError(t, err)
	assert.Equal(t, first, second)

	seen := make(map[string]bool, len(first))
	for _, tx := range first {
		id := tx.ID.String()
		assert.False(t, seen[id], "duplicate transaction id %s", id)
		seen[id] = true
	}
}

func TestBuildLedgerRejectsBadContract(t *testing.T) {
	c := fixedContract()
	c.TotalInstalments = -1
	_, err := BuildLedger(c)
	assert.Error(t, err)
}
