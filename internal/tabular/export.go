package tabular

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/google/logger"
	"github.com/xuri/excelize/v2"

	"raffle/internal/models"
)

const (
	PrizeColumn       = "Prize"
	DefaultSheetName  = "Winners"
	DefaultExportName = "WINNERS.xlsx"

	ContentTypeCSV  = "text/csv"
	ContentTypeXLSX = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
)

// ExportMode selects which participant columns appear in the export.
type ExportMode string

const (
	// ExportFull writes the prize label followed by every participant column.
	ExportFull ExportMode = "full"
	// ExportSummary writes the prize label and the two configured display fields.
	ExportSummary ExportMode = "summary"
)

func ParseExportMode(s string) (ExportMode, error) {
	switch ExportMode(strings.ToLower(strings.TrimSpace(s))) {
	case "", ExportFull:
		return ExportFull, nil
	case ExportSummary:
		return ExportSummary, nil
	default:
		return "", fmt.Errorf("unknown export mode %q", s)
	}
}

// Sheet is a header plus rows, ready to encode.
type Sheet struct {
	Header []string
	Rows   [][]string
}

// Project lays out confirmed winners for export, prize #1 first.
// The result depends only on its inputs, so repeated exports are identical.
func Project(winners []models.PrizeAward, cfg models.RaffleConfiguration, mode ExportMode) (*Sheet, error) {
	if len(winners) == 0 {
		return nil, fmt.Errorf("%w: no confirmed winners to export", models.ErrExport)
	}

	ordered := make([]models.PrizeAward, len(winners))
	copy(ordered, winners)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].PrizeNumber < ordered[j].PrizeNumber
	})

	var columns []string
	switch mode {
	case ExportSummary:
		columns = []string{cfg.PrimaryField}
		if cfg.SecondaryField != cfg.PrimaryField {
			columns = append(columns, cfg.SecondaryField)
		}
	case ExportFull:
		columns = ordered[0].Participant.Columns()
	default:
		return nil, fmt.Errorf("%w: unknown export mode %q", models.ErrExport, mode)
	}

	sheet := &Sheet{Header: append([]string{PrizeColumn}, columns...)}
	for _, w := range ordered {
		row := make([]string, 0, len(sheet.Header))
		row = append(row, w.Label())
		for _, col := range columns {
			v, err := w.Participant.Field(col)
			if err != nil {
				return nil, fmt.Errorf("%w: %v", models.ErrExport, err)
			}
			row = append(row, v)
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	return sheet, nil
}

// Encode renders the sheet in the requested format.
func Encode(sheet *Sheet, format Format) ([]byte, error) {
	var buf bytes.Buffer
	var err error
	switch format {
	case FormatCSV:
		err = WriteCSV(&buf, sheet)
	case FormatXLSX:
		err = WriteXLSX(&buf, sheet)
	default:
		err = fmt.Errorf("unsupported format %q", format)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrExport, err)
	}
	return buf.Bytes(), nil
}

// WriteCSV writes the sheet with a UTF-8 BOM so spreadsheet apps detect the encoding.
func WriteCSV(w io.Writer, sheet *Sheet) error {
	if _, err := w.Write([]byte("\xef\xbb\xbf")); err != nil {
		return err
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(sheet.Header); err != nil {
		return fmt.Errorf("writing CSV header: %w", err)
	}
	for _, row := range sheet.Rows {
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing CSV row: %w", err)
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteXLSX writes the sheet as a single-sheet workbook.
func WriteXLSX(w io.Writer, sheet *Sheet) error {
	f := excelize.NewFile()
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warningf("Error closing workbook: %v", err)
		}
	}()

	if err := f.SetSheetName("Sheet1", DefaultSheetName); err != nil {
		return err
	}

	rows := append([][]string{sheet.Header}, sheet.Rows...)
	for i, row := range rows {
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		if err != nil {
			return err
		}
		values := make([]interface{}, len(row))
		for j, v := range row {
			values[j] = v
		}
		if err := f.SetSheetRow(DefaultSheetName, cell, &values); err != nil {
			return fmt.Errorf("writing row %d: %w", i+1, err)
		}
	}

	_, err := f.WriteTo(w)
	return err
}

// ContentType returns the MIME type for a format.
func ContentType(format Format) string {
	if format == FormatCSV {
		return ContentTypeCSV
	}
	return ContentTypeXLSX
}

// FileName swaps the extension of the configured export name to match the format.
func FileName(base string, format Format) string {
	if base == "" {
		base = DefaultExportName
	}
	ext := "." + string(format)
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	return base + ext
}
