package csvio

import (
	"encoding/csv"
	"fmt"
	"io"

	"github.com/mcclellann/fleetfinance/pkg/datemath"
	"github.com/mcclellann/fleetfinance/pkg/models"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

// StatementColumns is the header row of an exported statement.
var StatementColumns = []string{"Date", "Type", "Description", "Debit", "Credit", "Balance"}

const statementSheet = "Statement"

// amount renders a debit or credit, leaving zero cells blank.
func amount(d decimal.Decimal) string {
	if d.IsZero() {
		return ""
	}
	return d.StringFixed(2)
}

// WriteStatementCSV writes a statement of account as CSV, dates as DD/MM/YYYY.
func WriteStatementCSV(w io.Writer, txns []models.Transaction) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(StatementColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	for _, t := range txns {
		record := []string{
			datemath.FormatUK(t.Date),
			string(t.Type),
			t.Description,
			amount(t.Debit),
			amount(t.Credit),
			t.Balance.StringFixed(2),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("failed to write transaction %s: %w", t.ID, err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteStatementXLSX writes a statement of account as a single-sheet
// workbook, with the contract number as a title row.
func WriteStatementXLSX(w io.Writer, contractNumber string, txns []models.Transaction) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", statementSheet); err != nil {
		return err
	}
	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	money, err := f.NewStyle(&excelize.Style{NumFmt: 4}) // #,##0.00
	if err != nil {
		return err
	}

	f.SetCellValue(statementSheet, "A1", "Statement of Account - "+contractNumber)
	f.SetCellStyle(statementSheet, "A1", "A1", bold)

	const headerRow = 3
	for i, h := range StatementColumns {
		cell, _ := excelize.CoordinatesToCellName(i+1, headerRow)
		f.SetCellValue(statementSheet, cell, h)
	}
	f.SetCellStyle(statementSheet, "A3", "F3", bold)

	for i, t := range txns {
		row := headerRow + 1 + i
		f.SetCellValue(statementSheet, fmt.Sprintf("A%d", row), datemath.FormatUK(t.Date))
		f.SetCellValue(statementSheet, fmt.Sprintf("B%d", row), string(t.Type))
		f.SetCellValue(statementSheet, fmt.Sprintf("C%d", row), t.Description)
		if !t.Debit.IsZero() {
			f.SetCellValue(statementSheet, fmt.Sprintf("D%d", row), t.Debit.InexactFloat64())
		}
		if !t.Credit.IsZero() {
			f.SetCellValue(statementSheet, fmt.Sprintf("E%d", row), t.Credit.InexactFloat64())
		}
		f.SetCellValue(statementSheet, fmt.Sprintf("F%d", row), t.Balance.InexactFloat64())
	}
	if len(txns) > 0 {
		last := headerRow + len(txns)
		f.SetCellStyle(statementSheet, fmt.Sprintf("D%d", headerRow+1), fmt.Sprintf("F%d", last), money)
	}
	f.SetColWidth(statementSheet, "A", "A", 12)
	f.SetColWidth(statementSheet, "B", "B", 18)
	f.SetColWidth(statementSheet, "C", "C", 48)
	f.SetColWidth(statementSheet, "D", "F", 14)

	if err := f.Write(w); err != nil {
		return fmt.Errorf("failed to write workbook: %w", err)
	}
	return nil
}
