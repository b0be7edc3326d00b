package report

import (
	"bytes"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"

	"retailcraft/backend/internal/domain"
)

const (
	SummarySheet      = "Summary"
	CashMovementSheet = "Cash Movements"

	ContentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// TillSessionWorkbook renders a reconciliation report as an XLSX document.
// Money is written as decimal currency units with two places.
func TillSessionWorkbook(r domain.TillSessionReport) ([]byte, error) {
	file := excelize.NewFile()
	defer file.Close()

	if err := file.SetSheetName("Sheet1", SummarySheet); err != nil {
		return nil, fmt.Errorf("rename summary sheet: %w", err)
	}

	rows := [][]any{
		{"Session", r.Session.ID},
		{"Till", tillLabel(r)},
		{"Store", r.Session.StoreID},
		{"Cashier", r.Session.UserID},
		{"Status", r.Session.Status},
		{"Opened at", r.Session.OpenedAt.UTC().Format(time.RFC3339)},
		{"Closed at", closedAt(r.Session)},
		{},
		{"Opening float", money(r.Session.OpeningFloatCents)},
		{"Sales", r.SaleCount},
		{"Sales total", money(r.SalesTotalCents)},
	}
	for _, method := range sortedMethods(r.PaymentsByMethod) {
		rows = append(rows, []any{"Payments " + method, money(r.PaymentsByMethod[method])})
	}
	rows = append(rows,
		[]any{"Cash sales", money(r.CashSalesCents)},
		[]any{"Cash in", money(r.CashInCents)},
		[]any{"Cash out", money(r.CashOutCents)},
		[]any{"Expected cash", money(r.ExpectedCashCents)},
	)
	if r.CountedCashCents != nil {
		rows = append(rows, []any{"Counted cash", money(*r.CountedCashCents)})
	}
	if r.VarianceCents != nil {
		rows = append(rows, []any{"Variance", money(*r.VarianceCents)})
	}

	if err := writeRows(file, SummarySheet, rows); err != nil {
		return nil, err
	}
	if err := file.SetColWidth(SummarySheet, "A", "A", 22); err != nil {
		return nil, fmt.Errorf("size summary column: %w", err)
	}

	if _, err := file.NewSheet(CashMovementSheet); err != nil {
		return nil, fmt.Errorf("create cash movement sheet: %w", err)
	}
	movements := [][]any{{"Time", "Type", "Amount", "Reason", "User"}}
	for _, txn := range r.CashTransactions {
		movements = append(movements, []any{
			txn.CreatedAt.UTC().Format(time.RFC3339),
			txn.Type,
			money(txn.AmountCents),
			txn.Reason,
			txn.UserID,
		})
	}
	if err := writeRows(file, CashMovementSheet, movements); err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := file.Write(&buf); err != nil {
		return nil, fmt.Errorf("write workbook: %w", err)
	}
	return buf.Bytes(), nil
}

func writeRows(file *excelize.File, sheet string, rows [][]any) error {
	for i, row := range rows {
		if len(row) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		if err := file.SetSheetRow(sheet, cell, &row); err != nil {
			return fmt.Errorf("write %s row %d: %w", sheet, i+1, err)
		}
	}
	return nil
}

func money(cents int64) float64 {
	value, _ := decimal.New(cents, -2).Float64()
	return value
}

func tillLabel(r domain.TillSessionReport) string {
	if r.TillName == "" {
		return r.Session.TillID
	}
	return fmt.Sprintf("%s (%s)", r.TillName, r.Session.TillID)
}

func closedAt(s domain.TillSession) string {
	if s.ClosedAt == nil {
		return ""
	}
	return s.ClosedAt.UTC().Format(time.RFC3339)
}

func sortedMethods(byMethod map[string]int64) []string {
	methods := make([]string, 0, len(byMethod))
	for method := range byMethod {
		methods = append(methods, method)
	}
	sort.Strings(methods)
	return methods
}
