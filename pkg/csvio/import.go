// Package csvio reads contract registers from CSV and writes statements of
// account as CSV or XLSX.
package csvio

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/mcclellann/fleetfinance/pkg/datemath"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/shopspring/decimal"
)

const (
	colContractNumber   = "contract number"
	colTotalCapital     = "total capital"
	colInterestType     = "interest type"
	colTotalInterest    = "total interest"
	colBaseRate         = "base rate"
	colMargin           = "margin"
	colTotalInstalments = "total instalments"
	colFirstInstalment  = "first instalment date"
	colRegistration     = "vehicle registration"
	colMake             = "vehicle make"
	colModel            = "vehicle model"
	colVehicleStatus    = "vehicle status"
	colSettledDate      = "settled date"
)

// ImportColumns is the header row of an import file, in template order.
var ImportColumns = []string{
	"Contract Number", "Total Capital", "Interest Type", "Total Interest",
	"Base Rate", "Margin", "Total Instalments", "First Instalment Date",
	"Vehicle Registration", "Vehicle Make", "Vehicle Model", "Vehicle Status", "Settled Date",
}

var requiredColumns = []string{
	colContractNumber, colTotalCapital, colInterestType, colTotalInstalments, colFirstInstalment,
}

// RowError is a problem with one line of an import file. Row is 1-based and
// counts the header.
type RowError struct {
	Row     int
	Message string
}

func (e RowError) String() string {
	if e.Row == 0 {
		return e.Message
	}
	return fmt.Sprintf("row %d: %s", e.Row, e.Message)
}

// ImportError collects every problem found in an import file.
type ImportError struct {
	Problems []RowError
}

func (e *ImportError) Error() string {
	lines := make([]string, len(e.Problems))
	for i, p := range e.Problems {
		lines[i] = p.String()
	}
	return fmt.Sprintf("import failed with %d problem(s): %s", len(e.Problems), strings.Join(lines, "; "))
}

func (e *ImportError) add(row int, format string, args ...any) {
	e.Problems = append(e.Problems, RowError{Row: row, Message: fmt.Sprintf(format, args...)})
}

// ReadContracts parses an import file. Each row carries one vehicle; rows with
// the same contract number build one contract, whose terms are taken from its
// first row. Nothing is returned unless the whole file is clean.
func ReadContracts(r io.Reader) ([]models.Contract, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	header, err := reader.Read()
	if errors.Is(err, io.EOF) {
		return nil, &ImportError{Problems: []RowError{{Message: "file is empty"}}}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}

	index := make(map[string]int, len(header))
	for i, h := range header {
		index[strings.ToLower(strings.TrimSpace(strings.TrimPrefix(h, "\ufeff")))] = i
	}
	problems := &ImportError{}
	for _, col := range requiredColumns {
		if _, ok := index[col]; !ok {
			problems.add(0, "missing required column %q", col)
		}
	}
	if len(problems.Problems) > 0 {
		return nil, problems
	}

	var contracts []*models.Contract
	byNumber := map[string]*models.Contract{}
	row := 1
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		row++
		if err != nil {
			problems.add(row, "%v", err)
			continue
		}
		get := func(col string) string {
			i, ok := index[col]
			if !ok || i >= len(record) {
				return ""
			}
			return strings.TrimSpace(record[i])
		}
		if strings.TrimSpace(strings.Join(record, "")) == "" {
			continue
		}

		number := strings.ToUpper(get(colContractNumber))
		if number == "" {
			problems.add(row, "contract number is required")
			continue
		}
		c, ok := byNumber[number]
		if !ok {
			parsed, good := parseContract(number, get, row, problems)
			if !good {
				continue
			}
			c = parsed
			byNumber[number] = c
			contracts = append(contracts, c)
		}
		if v, good := parseVehicle(get, row, problems); good {
			if c.FindVehicle(v.Registration) >= 0 {
				problems.add(row, "vehicle %s appears twice on contract %s", v.Registration, number)
				continue
			}
			c.Vehicles = append(c.Vehicles, v)
		}
	}

	if len(contracts) == 0 && len(problems.Problems) == 0 {
		problems.add(0, "file has no data rows")
	}
	if len(problems.Problems) > 0 {
		return nil, problems
	}

	out := make([]models.Contract, len(contracts))
	for i, c := range contracts {
		c.OriginalVehicleCount = len(c.Vehicles)
		out[i] = *c
	}
	return out, nil
}

func parseContract(number string, get func(string) string, row int, problems *ImportError) (*models.Contract, bool) {
	before := len(problems.Problems)
	c := &models.Contract{ContractNumber: number}

	c.TotalCapital = parseAmount(get(colTotalCapital), colTotalCapital, row, problems)
	if !c.TotalCapital.IsPositive() {
		problems.add(row, "total capital must be greater than 0")
	}

	c.InterestType = models.InterestType(strings.ToLower(get(colInterestType)))
	if c.InterestType == "" {
		c.InterestType = models.InterestTypeFixed
	}

	n, err := strconv.Atoi(get(colTotalInstalments))
	if err != nil || n <= 0 {
		problems.add(row, "total instalments must be a whole number greater than 0")
	}
	c.TotalInstalments = n

	raw := get(colFirstInstalment)
	if raw == "" {
		problems.add(row, "first instalment date is required")
	} else if d, err := datemath.ParseDate(raw); err != nil {
		problems.add(row, "first instalment date: %v", err)
	} else {
		c.FirstInstalmentDate = d
	}

	switch c.InterestType {
	case models.InterestTypeFixed:
		c.TotalInterest = parseAmount(get(colTotalInterest), colTotalInterest, row, problems)
		if c.TotalInterest.IsNegative() {
			problems.add(row, "total interest cannot be negative")
		}
	case models.InterestTypeVariable:
		c.BaseRate = parseAmount(get(colBaseRate), colBaseRate, row, problems)
		c.Margin = parseAmount(get(colMargin), colMargin, row, problems)
		if c.BaseRate.IsNegative() || c.Margin.IsNegative() {
			problems.add(row, "base rate and margin must be non-negative")
		}
	default:
		problems.add(row, "interest type must be fixed or variable, got %q", c.InterestType)
	}
	return c, len(problems.Problems) == before
}

func parseVehicle(get func(string) string, row int, problems *ImportError) (models.Vehicle, bool) {
	before := len(problems.Problems)
	v := models.Vehicle{
		Registration: models.NormalizeRegistration(get(colRegistration)),
		Make:         get(colMake),
		Model:        get(colModel),
		Status:       models.VehicleStatusActive,
	}
	if v.Registration == "" {
		problems.add(row, "vehicle registration is required")
	}
	if v.Make == "" {
		problems.add(row, "vehicle make is required")
	}
	if v.Model == "" {
		problems.add(row, "vehicle model is required")
	}

	if strings.EqualFold(get(colVehicleStatus), string(models.VehicleStatusSettled)) {
		v.Status = models.VehicleStatusSettled
		raw := get(colSettledDate)
		if raw == "" {
			problems.add(row, "settled vehicle %s needs a settled date", v.Registration)
		} else if d, err := datemath.ParseDate(raw); err != nil {
			problems.add(row, "settled date: %v", err)
		} else {
			v.SettledDate = &d
		}
	}
	return v, len(problems.Problems) == before
}

// parseAmount reads a decimal, treating a blank cell as zero.
func parseAmount(s, col string, row int, problems *ImportError) decimal.Decimal {
	s = strings.ReplaceAll(strings.TrimPrefix(s, "£"), ",", "")
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		problems.add(row, "%s: %q is not a number", col, s)
		return decimal.Zero
	}
	return d
}
