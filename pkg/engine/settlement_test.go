package engine

import (
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuoteSettlementVariable(t *testing.T) {
	c := variableContract("20000", 10, "AA11AAA", "BB22BBB")

	q, err := QuoteSettlement(c, "aa11 aaa", date(2024, 5, 15))
	require.NoError(t, err)

	assert.Equal(t, "AA11AAA", q.Registration)
	assert.Equal(t, 5, q.Period)
	assert.Equal(t, 14, q.DaysAccrued)
	assert.Equal(t, 17, q.DaysRemaining)
	assert.Equal(t, date(2024, 5, 22), q.ValidUntil)

	assertDecimal(t, "5000", q.CapitalComponent)
	// Full contract balance of 12000 for 14 days at 7%.
	assertDecimal(t, "32.22", q.InterestComponent)
	assertDecimal(t, "5032.22", q.TotalFigure)
	// The vehicle's 6000 share for the remaining 17 days.
	assertDecimal(t, "19.56", q.InterestSavedThisPeriod)
	assertDecimal(t, "87.84", q.FutureInterestSaved)
	assertDecimal(t, "107.4", q.TotalInterestSaved)
	assertDecimal(t, "1000", q.NewMonthlyCapital)

	// Quoting never touches the contract.
	assert.Equal(t, models.VehicleStatusActive, c.Vehicles[0].Status)
	assert.Nil(t, c.Vehicles[0].SettledDate)
}

func TestQuoteSettlementSavesInterestBeforePeriodEnd(t *testing.T) {
	c := variableContract("30000", 12, "AA11AAA", "BB22BBB", "CC33CCC")
	for day := 1; day < 30; day++ {
		q, err := QuoteSettlement(c, "BB22BBB", date(2024, 4, day))
		require.NoError(t, err)
		assert.True(t, q.InterestSavedThisPeriod.IsPositive(), "day %d saved %s", day, q.InterestSavedThisPeriod)
	}
}

func TestQuoteSettlementFixed(t *testing.T) {
	c := fixedContract()
	c.TotalCapital = dec("20000")
	c.TotalInterest = dec("1000")
	c.TotalInstalments = 10
	c.OriginalVehicleCount = 2
	c.Vehicles = vehicles("AA11AAA", "BB22BBB")

	q, err := QuoteSettlement(c, "AA11AAA", date(2024, 5, 15))
	require.NoError(t, err)
	assertDecimal(t, "5000", q.CapitalComponent)
	assertDecimal(t, "0", q.InterestComponent)
	assertDecimal(t, "0", q.InterestSavedThisPeriod)
	assertDecimal(t, "0", q.FutureInterestSaved)
	assertDecimal(t, "5000", q.TotalFigure)

	settle(&c, "AA11AAA", date(2024, 5, 15))
	q, err = QuoteSettlement(c, "BB22BBB", date(2024, 8, 3))
	require.NoError(t, err)
	// Last vehicle: remaining balance after August's instalment, and no
	// fixed interest for September and October.
	assertDecimal(t, "2000", q.CapitalComponent)
	assertDecimal(t, "200", q.FutureInterestSaved)
	assertDecimal(t, "0", q.NewMonthlyCapital)
}

func TestQuoteSettlementErrors(t *testing.T) {
	c := variableContract("20000", 10, "AA11AAA", "BB22BBB")
	settle(&c, "BB22BBB", date(2024, 3, 1))

	tests := []struct {
		name string
		reg  string
		day  string
	}{
		{"unknown vehicle", "ZZ99ZZZ", "2024-05-15"},
		{"already settled", "BB22BBB", "2024-05-15"},
		{"before first instalment", "AA11AAA", "2023-12-31"},
		{"on conclusion", "AA11AAA", "2024-11-01"},
		{"after conclusion", "AA11AAA", "2025-03-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := civil.ParseDate(tt.day)
			require.NoError(t, err)

			_, err = QuoteSettlement(c, tt.reg, d)
			var settleErr *InvalidSettlementError
			assert.True(t, errors.As(err, &settleErr), "expected InvalidSettlementError, got %v", err)

			_, err = SettleVehicle(c, tt.reg, d)
			assert.True(t, errors.As(err, &settleErr), "expected InvalidSettlementError, got %v", err)
		})
	}
}

func TestSettleVehicle(t *testing.T) {
	c := variableContract("20000", 10, "AA11AAA", "BB22BBB")
	RefreshDerived(&c)
	assert.Equal(t, 2, c.ActiveVehiclesCount)
	assertDecimal(t, "2000", c.CurrentMonthlyCapital)

	settled, err := SettleVehicle(c, "AA11AAA", date(2024, 5, 15))
	require.NoError(t, err)
	assert.Equal(t, models.VehicleStatusSettled, settled.Vehicles[0].Status)
	assert.Equal(t, date(2024, 5, 15), *settled.Vehicles[0].SettledDate)
	assert.Equal(t, 1, settled.ActiveVehiclesCount)
	assertDecimal(t, "1000", settled.CurrentMonthlyCapital)
	assert.Equal(t, models.ContractStatusActive, settled.Status)
	assert.Equal(t, models.VehicleStatusActive, c.Vehicles[0].Status, "input contract was modified")

	_, err = SettleVehicle(settled, "AA11AAA", date(2024, 6, 1))
	var settleErr *InvalidSettlementError
	assert.True(t, errors.As(err, &settleErr))

	closed, err := SettleVehicle(settled, "BB22BBB", date(2024, 7, 10))
	require.NoError(t, err)
	assert.Equal(t, 0, closed.ActiveVehiclesCount)
	assert.Equal(t, models.ContractStatusSettled, closed.Status)
	assertDecimal(t, "0", closed.CurrentMonthlyCapital)
}

func TestMatureContract(t *testing.T) {
	c := fixedContract()
	RefreshDerived(&c)

	same, changed, err := MatureContract(c, date(2024, 12, 31))
	require.NoError(t, err)
	assert.False(t, changed)
	assert.Equal(t, models.ContractStatusActive, same.Status)

	matured, changed, err := MatureContract(c, date(2025, 1, 1))
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Equal(t, models.ContractStatusSettled, matured.Status)
	assert.Equal(t, date(2025, 1, 1), *matured.Vehicles[0].SettledDate)

	_, changed, err = MatureContract(matured, date(2025, 6, 1))
	require.NoError(t, err)
	assert.False(t, changed)

	// Natural maturity leaves the schedule untouched.
	before, err := BuildSchedule(c)
	require.NoError(t, err)
	after, err := BuildSchedule(matured)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestApplyRateChange(t *testing.T) {
	c := variableContract("12000", 12, "AB12CDE")
	recorded := time.Date(2024, 3, 2, 9, 30, 0, 0, time.UTC)

	changed, err := ApplyRateChange(c, dec("4.5"), date(2024, 3, 1), recorded)
	require.NoError(t, err)
	require.Len(t, changed.RateHistory, 1)
	rc := changed.RateHistory[0]
	assertDecimal(t, "5", rc.OldBaseRate)
	assertDecimal(t, "4.5", rc.NewBaseRate)
	assertDecimal(t, "7", rc.OldEffectiveRate)
	assertDecimal(t, "6.5", rc.NewEffectiveRate)
	assert.Equal(t, recorded, rc.RecordedAt)
	assertDecimal(t, "4.5", changed.BaseRate)
	assert.Empty(t, c.RateHistory, "input contract was modified")

	again, err := ApplyRateChange(changed, dec("4"), date(2024, 6, 1), recorded)
	require.NoError(t, err)
	require.Len(t, again.RateHistory, 2)
	assertDecimal(t, "6.5", again.RateHistory[1].OldEffectiveRate)

	tests := []struct {
		name     string
		contract models.Contract
		rate     string
		day      string
	}{
		{"fixed contract", fixedContract(), "4", "2024-03-01"},
		{"negative rate", c, "-0.25", "2024-03-01"},
		{"before first instalment", c, "4", "2023-12-01"},
		{"before previous change", changed, "4", "2024-02-01"},
		{"after conclusion", c, "4", "2025-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := civil.ParseDate(tt.day)
			require.NoError(t, err)
			_, err = ApplyRateChange(tt.contract, dec(tt.rate), d, recorded)
			var rateErr *RateChangeError
			assert.True(t, errors.As(err, &rateErr), "expected RateChangeError, got %v", err)
		})
	}
}
