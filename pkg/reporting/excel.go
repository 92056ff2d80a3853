package reporting

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xuri/excelize/v2"

	"github.com/quanthive/tradegate/pkg/types"
)

const (
	summarySheet = "Summary"
	tradesSheet  = "Trades"
)

// WriteSessionXLSX writes the session report workbook: a summary sheet
// and the full trade list.
func WriteSessionXLSX(records []types.TradeRecord, started time.Time, path string) error {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}

	fx := excelize.NewFile()
	defer fx.Close()

	fx.SetSheetName("Sheet1", summarySheet)
	if _, err := fx.NewSheet(tradesSheet); err != nil {
		return err
	}

	headerStyle, err := fx.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Color: "FFFFFF"},
		Fill: excelize.Fill{Type: "pattern", Color: []string{"4472C4"}, Pattern: 1},
		Alignment: &excelize.Alignment{
			Horizontal: "center",
		},
	})
	if err != nil {
		return err
	}

	if err := writeSummarySheet(fx, records, started); err != nil {
		return err
	}
	if err := writeTradesSheet(fx, records, headerStyle); err != nil {
		return err
	}

	return fx.SaveAs(path)
}

func writeSummarySheet(fx *excelize.File, records []types.TradeRecord, started time.Time) error {
	stats := ComputeStats(records)

	rows := [][]interface{}{
		{"Session Started", started.Format("2006-01-02 15:04:05")},
		{"Session Ended", time.Now().Format("2006-01-02 15:04:05")},
		{"Total Records", stats.Total},
		{"Filled Orders", stats.Filled},
		{"Gate/Venue Rejections", stats.Rejected},
		{"Venue Errors", stats.Errors},
		{"Total Bought (USD)", stats.BuyUSD},
		{"Total Sold (USD)", stats.SellUSD},
		{"Realized PnL (USD)", stats.RealizedPnL},
	}
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := fx.SetSheetRow(summarySheet, cell, &row); err != nil {
			return err
		}
	}

	row := len(rows) + 2
	if err := fx.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), "Records by Venue"); err != nil {
		return err
	}
	row++
	for venueID, count := range stats.ByVenue {
		if err := fx.SetCellValue(summarySheet, fmt.Sprintf("A%d", row), venueID); err != nil {
			return err
		}
		if err := fx.SetCellValue(summarySheet, fmt.Sprintf("B%d", row), count); err != nil {
			return err
		}
		row++
	}

	return fx.SetColWidth(summarySheet, "A", "A", 24)
}

func writeTradesSheet(fx *excelize.File, records []types.TradeRecord, headerStyle int) error {
	headers := []interface{}{
		"ID", "Account", "Venue", "Symbol", "Side",
		"Size USD", "Fill Price", "Fees", "PnL", "Reason", "Submitted", "Completed",
	}
	if err := fx.SetSheetRow(tradesSheet, "A1", &headers); err != nil {
		return err
	}
	if err := fx.SetCellStyle(tradesSheet, "A1", "L1", headerStyle); err != nil {
		return err
	}

	for i, rec := range records {
		row := []interface{}{
			rec.ID,
			rec.AccountID,
			rec.VenueID,
			rec.Symbol,
			string(rec.Side),
			rec.SizeUSD,
			rec.FillPrice,
			rec.Fees,
			rec.PnL,
			rec.ReasonCode,
			rec.SubmittedAt.Format("2006-01-02 15:04:05"),
			rec.CompletedAt.Format("2006-01-02 15:04:05"),
		}
		cell, err := excelize.CoordinatesToCellName(1, i+2)
		if err != nil {
			return err
		}
		if err := fx.SetSheetRow(tradesSheet, cell, &row); err != nil {
			return err
		}
	}

	return fx.SetColWidth(tradesSheet, "A", "L", 18)
}
