package employees

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	pkgerrors "github.com/bottlepoint/waterbot/pkg/errors"
	"github.com/bottlepoint/waterbot/pkg/validators"
	"github.com/xuri/excelize/v2"
)

var rosterColumns = []string{"employee_id", "name", "employed_date", "phone_number"}

var dateLayouts = []string{
	"2006-01-02",
	"2006-01-02 15:04:05",
	"02.01.2006",
	"01/02/2006",
	"1/2/2006",
	"1/2/06",
	"01-02-06",
}

// RosterRow is one employee line of an uploaded roster.
type RosterRow struct {
	Line         int
	EmployeeID   int64      `label:"employee_id" validate:"gt=0"`
	Name         string     `label:"name" validate:"required,min=2,max=128"`
	EmployedDate *time.Time `label:"employed_date"`
	PhoneNumber  string     `label:"phone_number" validate:"omitempty,max=32"`
}

// ParseRoster reads an .xlsx or .csv roster. The first row must name every
// roster column; extra columns are ignored. maxRows <= 0 means no limit.
func ParseRoster(r io.Reader, filename string, maxRows int) ([]RosterRow, error) {
	var (
		records [][]string
		err     error
	)
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".xlsx", ".xlsm":
		records, err = readWorkbook(r)
	case ".csv":
		records, err = readCSV(r)
	default:
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "Please send the roster as an .xlsx or .csv file.")
	}
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "The roster file is empty.")
	}

	index, err := headerIndex(records[0])
	if err != nil {
		return nil, err
	}

	rows := make([]RosterRow, 0, len(records)-1)
	for i, record := range records[1:] {
		if blank(record) {
			continue
		}
		if maxRows > 0 && len(rows) >= maxRows {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("The roster has more than %d rows.", maxRows))
		}
		row, err := parseRow(i+2, record, index)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func readWorkbook(r io.Reader) ([][]string, error) {
	book, err := excelize.OpenReader(r)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "The file is not a readable Excel workbook.")
	}
	defer book.Close()

	sheets := book.GetSheetList()
	if len(sheets) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "The workbook has no sheets.")
	}
	rows, err := book.GetRows(sheets[0])
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "The workbook could not be read.")
	}
	return rows, nil
}

func readCSV(r io.Reader) ([][]string, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "The file could not be read.")
	}
	reader := csv.NewReader(bytes.NewReader(bytes.TrimPrefix(raw, []byte("\xef\xbb\xbf"))))
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true
	records, err := reader.ReadAll()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "The CSV file is malformed.")
	}
	return records, nil
}

func headerIndex(header []string) (map[string]int, error) {
	index := make(map[string]int, len(header))
	for i, name := range header {
		index[strings.ToLower(strings.TrimSpace(name))] = i
	}
	var missing []string
	for _, column := range rosterColumns {
		if _, ok := index[column]; !ok {
			missing = append(missing, column)
		}
	}
	if len(missing) > 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation,
			fmt.Sprintf("The roster must contain the columns %s. Missing: %s.", strings.Join(rosterColumns, ", "), strings.Join(missing, ", ")))
	}
	return index, nil
}

func parseRow(line int, record []string, index map[string]int) (RosterRow, error) {
	cell := func(column string) string {
		i := index[column]
		if i >= len(record) {
			return ""
		}
		return strings.TrimSpace(record[i])
	}

	row := RosterRow{
		Line:        line,
		Name:        cell("name"),
		PhoneNumber: cell("phone_number"),
	}

	rawID := strings.TrimSuffix(cell("employee_id"), ".0")
	id, err := strconv.ParseInt(rawID, 10, 64)
	if err != nil {
		return RosterRow{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("Row %d: employee_id %q is not a number.", line, rawID))
	}
	row.EmployeeID = id

	if raw := cell("employed_date"); raw != "" {
		date, err := parseDate(raw)
		if err != nil {
			return RosterRow{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("Row %d: employed_date %q is not a date.", line, raw))
		}
		row.EmployedDate = &date
	}

	if err := validators.Struct(row); err != nil {
		return RosterRow{}, pkgerrors.New(pkgerrors.CodeValidation, fmt.Sprintf("Row %d: %s.", line, pkgerrors.As(err).Message()))
	}
	return row, nil
}

func parseDate(raw string) (time.Time, error) {
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	if serial, err := strconv.ParseFloat(raw, 64); err == nil {
		t, err := excelize.ExcelDateToTime(serial, false)
		if err != nil {
			return time.Time{}, err
		}
		return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func blank(record []string) bool {
	for _, v := range record {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
