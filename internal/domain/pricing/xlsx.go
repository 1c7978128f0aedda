package pricing

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

var xlsxHeader = []string{
	"id", "device_category", "brand", "model_pattern", "repair_type",
	"price_min", "price_max", "tier", "tier_description", "warranty_months",
	"priority", "active", "notes",
}

// RowError — ошибка конкретной строки файла (нумерация как в Excel).
type RowError struct {
	Row int
	Err error
}

func (e RowError) Error() string { return fmt.Sprintf("row %d: %v", e.Row, e.Err) }
func (e RowError) Unwrap() error { return e.Err }

// ImportXLSX читает правила с активного листа. Пустой id — новое правило.
// Ошибочные строки возвращаются отдельно и в результат не попадают.
func ImportXLSX(r io.Reader, tenantID uuid.UUID) ([]PriceRule, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open xlsx: %w", err)
	}
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	rows, err := f.GetRows(sheet)
	if err != nil {
		return nil, nil, fmt.Errorf("read sheet %q: %w", sheet, err)
	}
	if len(rows) < 2 {
		return nil, nil, fmt.Errorf("sheet %q has no data rows", sheet)
	}
	if len(rows[0]) < len(xlsxHeader)-1 {
		return nil, nil, fmt.Errorf("expected at least %d columns, got %d", len(xlsxHeader)-1, len(rows[0]))
	}

	var (
		out  []PriceRule
		errs []RowError
	)
	for i := 1; i < len(rows); i++ {
		row := rows[i]
		if isBlank(row) {
			continue
		}
		rule, err := parseRow(row, tenantID)
		if err == nil {
			err = ValidateRule(rule)
		}
		if err != nil {
			errs = append(errs, RowError{Row: i + 1, Err: err})
			continue
		}
		out = append(out, rule)
	}
	return out, errs, nil
}

func parseRow(row []string, tenantID uuid.UUID) (PriceRule, error) {
	cell := func(i int) string {
		if i < len(row) {
			return strings.TrimSpace(row[i])
		}
		return ""
	}

	r := PriceRule{
		TenantID:        tenantID,
		DeviceCategory:  cell(1),
		Brand:           cell(2),
		ModelPattern:    cell(3),
		RepairType:      cell(4),
		Tier:            cell(7),
		TierDescription: cell(8),
		Notes:           cell(12),
		Active:          true,
	}

	if s := cell(0); s != "" {
		id, err := uuid.Parse(s)
		if err != nil {
			return r, fmt.Errorf("id %q: %w", s, err)
		}
		r.ID = id
	} else {
		r.ID = uuid.New()
	}

	var err error
	if r.PriceMin, err = parseMoney(cell(5)); err != nil {
		return r, fmt.Errorf("price_min: %w", err)
	}
	if r.PriceMax, err = parseMoney(cell(6)); err != nil {
		return r, fmt.Errorf("price_max: %w", err)
	}
	if r.WarrantyMonths, err = parseInt(cell(9)); err != nil {
		return r, fmt.Errorf("warranty_months: %w", err)
	}
	if r.Priority, err = parseInt(cell(10)); err != nil {
		return r, fmt.Errorf("priority: %w", err)
	}
	if s := cell(11); s != "" {
		r.Active = parseBool(s)
	}
	return r, nil
}

// parseMoney принимает и «3 000,50», и «3000.50».
func parseMoney(s string) (decimal.Decimal, error) {
	s = strings.NewReplacer(" ", "", "\u00a0", "", ",", ".").Replace(s)
	if s == "" {
		return decimal.Zero, fmt.Errorf("empty value")
	}
	return decimal.NewFromString(s)
}

func parseInt(s string) (int, error) {
	if s == "" {
		return 0, nil
	}
	return strconv.Atoi(s)
}

func parseBool(s string) bool {
	switch strings.ToLower(s) {
	case "1", "true", "yes", "y", "да", "+":
		return true
	}
	return false
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

// ExportXLSX пишет правила в формате, который понимает ImportXLSX.
func ExportXLSX(w io.Writer, rules []PriceRule) error {
	f := excelize.NewFile()
	defer func() { _ = f.Close() }()

	sheet := f.GetSheetName(f.GetActiveSheetIndex())
	header := make([]interface{}, len(xlsxHeader))
	for i, h := range xlsxHeader {
		header[i] = h
	}
	if err := f.SetSheetRow(sheet, "A1", &header); err != nil {
		return err
	}

	for i, r := range rules {
		active := "0"
		if r.Active {
			active = "1"
		}
		row := []interface{}{
			r.ID.String(), r.DeviceCategory, r.Brand, r.ModelPattern, r.RepairType,
			r.PriceMin.String(), r.PriceMax.String(), r.Tier, r.TierDescription,
			r.WarrantyMonths, r.Priority, active, r.Notes,
		}
		if err := f.SetSheetRow(sheet, fmt.Sprintf("A%d", i+2), &row); err != nil {
			return err
		}
	}
	_ = f.SetColWidth(sheet, "A", "A", 38)
	_ = f.SetColWidth(sheet, "B", "E", 20)

	_, err := f.WriteTo(w)
	return err
}
