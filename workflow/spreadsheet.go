package workflow

import (
	"fmt"
	"io"
	"strings"
	"time"

	"bitbucket.org/mmdatafocus/thread_backend/models"
	"bitbucket.org/mmdatafocus/thread_backend/utils"
	"github.com/shopspring/decimal"
	"github.com/xuri/excelize/v2"
)

const (
	receiveColScanCode = "scan_code"
	receiveColMeters   = "quantity_meters"
	receiveColWeight   = "weight_grams"
	receiveColExpiry   = "expiry_date"
	receiveColLocation = "location"
)

var batchExportHeadings = []interface{}{
	"ID", "Operation", "Outcome", "Cone Count", "Lot", "From Warehouse", "To Warehouse",
	"Recipient", "Reference", "Performed By", "Performed At", "Error",
}

// ParseReceiveSheet reads the cones of a supplier delivery sheet. The first row holds the
// headings; only scan_code is required and blank rows are skipped.
func ParseReceiveSheet(r io.Reader) ([]BatchReceiveCone, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, utils.NewValidationError("unable to open delivery sheet", err.Error())
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return nil, utils.NewValidationError("unable to read delivery sheet", err.Error())
	}
	if len(rows) == 0 {
		return nil, utils.NewValidationError("delivery sheet is empty")
	}

	columns := make(map[string]int)
	for i, heading := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(heading))] = i
	}
	if _, ok := columns[receiveColScanCode]; !ok {
		return nil, utils.NewValidationError("delivery sheet has no scan_code column")
	}

	cell := func(row []string, name string) string {
		i, ok := columns[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var cones []BatchReceiveCone
	for idx, row := range rows[1:] {
		rowNo := fmt.Sprint(idx + 2)
		scanCode := cell(row, receiveColScanCode)
		if scanCode == "" {
			if strings.TrimSpace(strings.Join(row, "")) == "" {
				continue
			}
			return nil, utils.NewValidationError("scan code is required", "row "+rowNo)
		}
		cone := BatchReceiveCone{ScanCode: scanCode, Location: cell(row, receiveColLocation)}
		if cone.QuantityMeters, err = optionalDecimalCell(cell(row, receiveColMeters)); err != nil {
			return nil, utils.NewValidationError("invalid quantity_meters", "row "+rowNo)
		}
		if cone.WeightGrams, err = optionalDecimalCell(cell(row, receiveColWeight)); err != nil {
			return nil, utils.NewValidationError("invalid weight_grams", "row "+rowNo)
		}
		if raw := cell(row, receiveColExpiry); raw != "" {
			expiry, err := time.Parse("2006-01-02", raw)
			if err != nil {
				return nil, utils.NewValidationError("expiry_date must be YYYY-MM-DD", "row "+rowNo)
			}
			cone.ExpiryDate = &expiry
		}
		cones = append(cones, cone)
	}
	if len(cones) == 0 {
		return nil, utils.NewValidationError("delivery sheet lists no cones")
	}
	return cones, nil
}

func optionalDecimalCell(raw string) (*decimal.Decimal, error) {
	if raw == "" {
		return nil, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// WriteBatchTransactionsSheet writes the audit rows to w as an xlsx workbook.
func WriteBatchTransactionsSheet(w io.Writer, records []*models.BatchTransaction) error {
	f := excelize.NewFile()
	defer f.Close()
	sheet := f.GetSheetName(0)

	if err := f.SetSheetRow(sheet, "A1", &batchExportHeadings); err != nil {
		return err
	}
	for i, record := range records {
		row := []interface{}{
			record.ID,
			string(record.OperationType),
			string(record.Outcome),
			record.ConeCount,
			optionalInt(record.LotId),
			optionalInt(record.FromWarehouseId),
			optionalInt(record.ToWarehouseId),
			record.Recipient,
			record.ReferenceNumber,
			record.PerformedBy,
			record.PerformedAt.UTC().Format(time.RFC3339),
			record.ErrorMessage,
		}
		if err := f.SetSheetRow(sheet, "A"+fmt.Sprint(i+2), &row); err != nil {
			return err
		}
	}
	return f.Write(w)
}

func optionalInt(v *int) interface{} {
	if v == nil {
		return ""
	}
	return *v
}
