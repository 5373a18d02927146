package engine

import (
	"testing"
	"time"

	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsMidTerm(t *testing.T) {
	m, err := Metrics(fixedContract(), date(2024, 3, 15))
	require.NoError(t, err)

	assert.Equal(t, 3, m.CurrentPeriod)
	assert.Equal(t, 3, m.MonthsElapsed)
	assert.Equal(t, 9, m.MonthsRemaining)
	assert.Equal(t, date(2025, 1, 1), m.ConclusionDate)
	assertDecimal(t, "1000", m.PerVehicleCapitalRate)
	assertDecimal(t, "1000", m.MonthlyCapitalInstalment)
	assertDecimal(t, "1000", m.CurrentMonthlyCapital)
	assertDecimal(t, "9000", m.CapitalOutstanding)
	assertDecimal(t, "450", m.InterestOutstanding)
	assertDecimal(t, "50", m.CurrentPeriodInterest)
	assertDecimal(t, "1000", m.NextMonthCapitalDue)
	assertDecimal(t, "25", m.ProgressPercent)
	assertDecimal(t, "0", m.EffectiveRate)
	assert.Equal(t, models.ContractStatusActive, m.Status)
}

func TestMetricsBeforeStartAndAfterConclusion(t *testing.T) {
	before, err := Metrics(fixedContract(), date(2023, 12, 1))
	require.NoError(t, err)
	assert.Equal(t, 0, before.CurrentPeriod)
	assertDecimal(t, "12000", before.CapitalOutstanding)
	assertDecimal(t, "600", before.InterestOutstanding)
	assertDecimal(t, "1000", before.NextMonthCapitalDue)
	assertDecimal(t, "0", before.ProgressPercent)

	after, err := Metrics(fixedContract(), date(2025, 2, 1))
	require.NoError(t, err)
	assert.Equal(t, 13, after.CurrentPeriod)
	assert.Equal(t, 0, after.MonthsRemaining)
	assertDecimal(t, "0", after.CapitalOutstanding)
	assertDecimal(t, "0", after.InterestOutstanding)
	assertDecimal(t, "0", after.NextMonthCapitalDue)
	assertDecimal(t, "100", after.ProgressPercent)
	assert.Equal(t, models.ContractStatusSettled, after.Status)
	assert.Equal(t, 0, after.ActiveVehicles)
}

func TestMetricsIgnoresFutureSettlement(t *testing.T) {
	c := variableContract("20000", 10, "AA11AAA", "BB22BBB")
	settle(&c, "AA11AAA", date(2024, 5, 15))

	m, err := Metrics(c, date(2024, 5, 10))
	require.NoError(t, err)
	assert.Equal(t, 2, m.ActiveVehicles)
	assertDecimal(t, "10000", m.CapitalOutstanding)
	assertDecimal(t, "2000", m.CurrentMonthlyCapital)
	assertDecimal(t, "2000", m.NextMonthCapitalDue)
	// 12000 for all 31 days of May at 7%.
	assertDecimal(t, "71.34", m.CurrentPeriodInterest)

	unsettled := variableContract("20000", 10, "AA11AAA", "BB22BBB")
	plain, err := Metrics(unsettled, date(2024, 5, 10))
	require.NoError(t, err)
	assertDecimal(t, plain.InterestOutstanding.String(), m.InterestOutstanding)

	m, err = Metrics(c, date(2024, 5, 20))
	require.NoError(t, err)
	assert.Equal(t, 1, m.ActiveVehicles)
	assert.Equal(t, 1, m.SettledVehicles)
	assertDecimal(t, "5000", m.CapitalOutstanding)
	assertDecimal(t, "1000", m.NextMonthCapitalDue)
	assertDecimal(t, "1000", m.CurrentMonthlyCapital)
	assertDecimal(t, "75", m.ProgressPercent)
	assertDecimal(t, "7", m.EffectiveRate)
}

func TestMetricsEffectiveRateFollowsHistory(t *testing.T) {
	c := variableContract("12000", 12, "AB12CDE")
	c, err := ApplyRateChange(c, dec("3"), date(2024, 4, 1), time.Unix(0, 0))
	require.NoError(t, err)

	m, err := Metrics(c, date(2024, 3, 31))
	require.NoError(t, err)
	assertDecimal(t, "7", m.EffectiveRate)

	m, err = Metrics(c, date(2024, 4, 1))
	require.NoError(t, err)
	assertDecimal(t, "5", m.EffectiveRate)
}

func TestAggregate(t *testing.T) {
	active := fixedContract()
	matured := fixedContract()
	matured.ContractNumber = "FX-OLD"
	matured.FirstInstalmentDate = date(2022, 1, 1)
	matured.OriginalVehicleCount = 2
	matured.TotalCapital = dec("24000")
	matured.Vehicles = vehicles("OL01DDD", "OL02DDD")
	partly := variableContract("20000", 10, "AA11AAA", "BB22BBB")
	settle(&partly, "AA11AAA", date(2024, 2, 10))

	s, err := Aggregate([]models.Contract{active, matured, partly}, date(2024, 3, 15))
	require.NoError(t, err)

	assert.Equal(t, 2, s.ActiveContracts)
	assert.Equal(t, 1, s.SettledContracts)
	assert.Equal(t, 2, s.ActiveVehicles)
	assert.Equal(t, 3, s.SettledVehicles)
	// 9000 on the fixed contract; 20000 - 2000 - 2000 - 8000 - 1000 on the other.
	assertDecimal(t, "16000", s.CapitalOutstanding)
	assertDecimal(t, "2000", s.NextMonthCapitalDue)
}

func TestAggregateReportsBadContract(t *testing.T) {
	bad := fixedContract()
	bad.ContractNumber = "BAD-1"
	bad.TotalInstalments = 0
	_, err := Aggregate([]models.Contract{fixedContract(), bad}, date(2024, 3, 15))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BAD-1")
}

func TestBuildMaturityReport(t *testing.T) {
	soon := fixedContract() // concludes 2025-01-01
	next := fixedContract()
	next.ContractNumber = "FX-002"
	next.FirstInstalmentDate = date(2024, 2, 1)
	later := fixedContract()
	later.ContractNumber = "FX-003"
	later.FirstInstalmentDate = date(2024, 6, 1)

	r, err := BuildMaturityReport([]models.Contract{later, next, soon}, date(2024, 12, 10))
	require.NoError(t, err)

	require.Len(t, r.Within30Days, 1)
	assert.Equal(t, "FX-001", r.Within30Days[0].ContractNumber)
	assert.Equal(t, 22, r.Within30Days[0].DaysToConclusion)
	assert.Equal(t, MaturityWithin30Days, r.Within30Days[0].Bucket)
	// The twelfth and final instalment fell due on 1 December.
	assertDecimal(t, "0", r.Within30Days[0].CapitalOutstanding)

	require.Len(t, r.Within60Days, 1)
	assert.Equal(t, "FX-002", r.Within60Days[0].ContractNumber)
	assert.Empty(t, r.Within90Days)
	assert.Equal(t, 2, r.Count())
	assert.Equal(t, 2, r.TotalVehicles)
	assertDecimal(t, "1000", r.TotalCapital)
}

func TestPaymentCalendar(t *testing.T) {
	mid := fixedContract()
	mid.ContractNumber = "FX-015"
	mid.FirstInstalmentDate = date(2023, 11, 15)
	variable := variableContract("10000", 10, "AB12CDE")

	cal, err := PaymentCalendar([]models.Contract{fixedContract(), mid, variable}, 2024, time.January)
	require.NoError(t, err)
	require.Len(t, cal.Days, 31)

	first := cal.Days[0]
	assert.Equal(t, date(2024, 1, 1), first.Date)
	require.Len(t, first.Payments, 2)
	assertDecimal(t, "2000", first.TotalCapital)
	assertDecimal(t, "109.45", first.TotalInterest)

	fifteenth := cal.Days[14]
	require.Len(t, fifteenth.Payments, 1)
	assert.Equal(t, 3, fifteenth.Payments[0].MonthIndex)
	assertDecimal(t, "1050", fifteenth.TotalPayment)

	assertDecimal(t, "3159.45", cal.TotalPayment)
	assert.Equal(t, date(2024, 1, 1), cal.BusiestDay().Date)
	assert.Equal(t, date(2024, 1, 1), cal.HighestDay().Date)

	empty, err := PaymentCalendar(nil, 2024, time.February)
	require.NoError(t, err)
	assert.Len(t, empty.Days, 29)
	assert.Nil(t, empty.BusiestDay())
	assert.Nil(t, empty.HighestDay())
}
