package receipt

import (
	"context"
	"fmt"
	"io"
	"log/slog"

	"github.com/xuri/excelize/v2"
)

const (
	exportSheet    = "Receipts"
	exportPageSize = 100
)

var exportHeaders = []string{
	"Receipt ID",
	"Date Purchased",
	"Store",
	"Transaction ID",
	"Items",
	"Subtotal",
	"Sales Tax",
	"Grand Total",
	"Card Type",
}

// ExportXLSX writes every stored receipt, newest first, as an XLSX workbook.
func (s *Service) ExportXLSX(ctx context.Context, w io.Writer) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		return fmt.Errorf("naming sheet: %w", err)
	}
	for i, h := range exportHeaders {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			return fmt.Errorf("writing header: %w", err)
		}
	}

	row := 2
	for skip := 0; ; skip += exportPageSize {
		docs, err := s.store.List(ctx, skip, exportPageSize)
		if err != nil {
			return fmt.Errorf("listing receipts: %w", err)
		}
		for _, d := range docs {
			values := []any{
				d.ID,
				d.TransactionInfo.DatePurchased,
				d.TransactionInfo.StoreName,
				d.TransactionInfo.TransactionID,
				len(d.Items),
				d.Totals.Subtotal,
				d.Totals.SalesTax,
				d.Totals.GrandTotal,
				d.PaymentInfo.CardType,
			}
			cell, _ := excelize.CoordinatesToCellName(1, row)
			if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
				return fmt.Errorf("writing row %d: %w", row, err)
			}
			row++
		}
		if len(docs) < exportPageSize {
			break
		}
	}

	_ = f.SetColWidth(exportSheet, "A", "A", 38)
	_ = f.SetColWidth(exportSheet, "B", "B", 14)
	_ = f.SetColWidth(exportSheet, "C", "D", 24)

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("writing workbook: %w", err)
	}
	slog.Info("Exported receipts", "rows", row-2)
	return nil
}
