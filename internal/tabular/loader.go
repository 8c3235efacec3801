package tabular

import (
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/google/logger"
	"github.com/xuri/excelize/v2"

	"raffle/internal/models"
)

const (
	DefaultMinColumns      = 3
	DefaultMaxParticipants = 500
)

// Format identifies a spreadsheet encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

// FormatFromName guesses the format from a file name extension.
func FormatFromName(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv":
		return FormatCSV, nil
	case ".xlsx", ".xlsm":
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("%w: unsupported file type %q", models.ErrSchema, filepath.Ext(name))
	}
}

// ParseFormat accepts "csv" or "xlsx"; empty selects xlsx.
func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatXLSX:
		return FormatXLSX, nil
	case FormatCSV:
		return FormatCSV, nil
	default:
		return "", fmt.Errorf("unknown format %q", s)
	}
}

// Table is a loaded participant list.
type Table struct {
	Columns      []string
	Participants []models.Participant
	// Truncated is set when rows beyond the participant limit were dropped.
	Truncated bool
}

// DefaultFields proposes the primary and secondary display columns:
// the second and third columns when present, otherwise the first.
func (t *Table) DefaultFields() (primary, secondary string) {
	if len(t.Columns) == 0 {
		return "", ""
	}
	primary, secondary = t.Columns[0], t.Columns[0]
	if len(t.Columns) > 1 {
		primary = t.Columns[1]
	}
	if len(t.Columns) > 2 {
		secondary = t.Columns[2]
	}
	return primary, secondary
}

// Loader turns raw spreadsheet rows into participants.
type Loader struct {
	MinColumns      int
	MaxParticipants int // 0 disables the limit
}

func NewLoader(minColumns, maxParticipants int) *Loader {
	if minColumns < 1 {
		minColumns = DefaultMinColumns
	}
	return &Loader{MinColumns: minColumns, MaxParticipants: maxParticipants}
}

// Load reads a table in the given format.
func (l *Loader) Load(r io.Reader, format Format) (*Table, error) {
	switch format {
	case FormatCSV:
		return l.LoadCSV(r)
	case FormatXLSX:
		return l.LoadXLSX(r)
	default:
		return nil, fmt.Errorf("%w: unsupported format %q", models.ErrSchema, format)
	}
}

// LoadCSV reads a comma separated table whose first record is the header.
func (l *Loader) LoadCSV(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1

	var rows [][]string
	for {
		record, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: reading CSV: %v", models.ErrSchema, err)
		}
		rows = append(rows, record)
	}
	if len(rows) > 0 && len(rows[0]) > 0 {
		rows[0][0] = strings.TrimPrefix(rows[0][0], "\xef\xbb\xbf")
	}
	return l.FromRows(rows)
}

// LoadXLSX reads the first sheet of a workbook.
func (l *Loader) LoadXLSX(r io.Reader) (*Table, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: opening workbook: %v", models.ErrSchema, err)
	}
	defer func() {
		if err := f.Close(); err != nil {
			logger.Warningf("Error closing workbook: %v", err)
		}
	}()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, fmt.Errorf("%w: workbook has no sheets", models.ErrSchema)
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("%w: reading sheet %q: %v", models.ErrSchema, sheets[0], err)
	}
	return l.FromRows(rows)
}

// FromRows builds a table from a header row followed by data rows.
// Fully empty rows are skipped but still count towards OriginalIndex,
// so a participant's index is its data row position in the source.
func (l *Loader) FromRows(rows [][]string) (*Table, error) {
	headerAt := -1
	for i, row := range rows {
		if !isBlank(row) {
			headerAt = i
			break
		}
	}
	if headerAt < 0 {
		return nil, fmt.Errorf("%w: table is empty", models.ErrSchema)
	}

	columns, err := l.normalizeHeader(rows[headerAt])
	if err != nil {
		return nil, err
	}

	table := &Table{Columns: columns}
	for i, row := range rows[headerAt+1:] {
		if isBlank(row) {
			continue
		}
		if l.MaxParticipants > 0 && len(table.Participants) >= l.MaxParticipants {
			table.Truncated = true
			logger.Warningf("Participant list truncated to %d rows", l.MaxParticipants)
			break
		}
		cells := make([]string, len(row))
		for j, c := range row {
			cells[j] = strings.TrimSpace(c)
		}
		table.Participants = append(table.Participants, models.NewParticipant(i, columns, cells))
	}

	if len(table.Participants) == 0 {
		return nil, fmt.Errorf("%w: table has a header but no participants", models.ErrSchema)
	}
	return table, nil
}

func (l *Loader) normalizeHeader(header []string) ([]string, error) {
	// Trailing empty header cells are layout padding, not columns.
	end := len(header)
	for end > 0 && strings.TrimSpace(header[end-1]) == "" {
		end--
	}

	columns := make([]string, 0, end)
	seen := make(map[string]bool, end)
	for i, h := range header[:end] {
		name := strings.TrimSpace(h)
		if name == "" {
			return nil, fmt.Errorf("%w: column %d has no name", models.ErrSchema, i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("%w: duplicate column %q", models.ErrSchema, name)
		}
		seen[name] = true
		columns = append(columns, name)
	}

	if len(columns) < l.MinColumns {
		return nil, fmt.Errorf("%w: need at least %d columns, found %d", models.ErrSchema, l.MinColumns, len(columns))
	}
	return columns, nil
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
