package logstore

import (
	"context"
	"errors"
	"fmt"
	"log"

	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// WorksheetTitle is the worksheet holding the shared chat log.
const WorksheetTitle = "chat_logs"

// SheetsTable stores the log in a Google Sheets worksheet shared by all sessions.
type SheetsTable struct {
	svc           *sheets.Service
	spreadsheetID string
	title         string
}

// OpenSheets connects with a service account and makes sure the chat log
// worksheet exists with its header row.
func OpenSheets(ctx context.Context, spreadsheetID string, serviceAccountJSON []byte) (*SheetsTable, error) {
	svc, err := sheets.NewService(ctx,
		option.WithCredentialsJSON(serviceAccountJSON),
		option.WithScopes(sheets.SpreadsheetsScope),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sheets client: %w", err)
	}

	return newSheetsTable(ctx, svc, spreadsheetID)
}

func newSheetsTable(ctx context.Context, svc *sheets.Service, spreadsheetID string) (*SheetsTable, error) {
	t := &SheetsTable{svc: svc, spreadsheetID: spreadsheetID, title: WorksheetTitle}
	if err := t.ensureWorksheet(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (t *SheetsTable) ensureWorksheet(ctx context.Context) error {
	ss, err := t.svc.Spreadsheets.Get(t.spreadsheetID).Fields("sheets.properties.title").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("opening spreadsheet %s (check the id and that the service account has editor access): %w",
			t.spreadsheetID, classifySheetsError(err))
	}
	for _, sheet := range ss.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == t.title {
			return t.ensureHeader(ctx)
		}
	}

	log.Printf("[logstore] worksheet %q missing, creating it", t.title)
	req := &sheets.BatchUpdateSpreadsheetRequest{
		Requests: []*sheets.Request{{
			AddSheet: &sheets.AddSheetRequest{
				Properties: &sheets.SheetProperties{
					Title:          t.title,
					GridProperties: &sheets.GridProperties{RowCount: 1000, ColumnCount: 10},
				},
			},
		}},
	}
	if _, err := t.svc.Spreadsheets.BatchUpdate(t.spreadsheetID, req).Context(ctx).Do(); err != nil {
		return fmt.Errorf("creating worksheet %q: %w", t.title, classifySheetsError(err))
	}
	return t.writeHeader(ctx)
}

// ensureHeader writes the header row into an existing worksheet whose first
// row is empty. A non-empty first row is left alone.
func (t *SheetsTable) ensureHeader(ctx context.Context) error {
	resp, err := t.svc.Spreadsheets.Values.Get(t.spreadsheetID, t.title+"!1:1").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("reading chat log header: %w", classifySheetsError(err))
	}
	if len(resp.Values) > 0 && !isBlank(cellStrings(resp.Values[0])) {
		return nil
	}
	log.Printf("[logstore] worksheet %q has no header row, writing it", t.title)
	return t.writeHeader(ctx)
}

func (t *SheetsTable) writeHeader(ctx context.Context) error {
	if err := t.Append(ctx, Columns); err != nil {
		return fmt.Errorf("writing chat log header: %w", err)
	}
	return nil
}

// Append implements Table.
func (t *SheetsTable) Append(ctx context.Context, row []string) error {
	cells := make([]interface{}, len(row))
	for i, v := range row {
		cells[i] = v
	}
	vr := &sheets.ValueRange{Values: [][]interface{}{cells}}

	_, err := t.svc.Spreadsheets.Values.Append(t.spreadsheetID, t.title+"!A1", vr).
		ValueInputOption("RAW").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return classifySheetsError(err)
	}
	return nil
}

// Records implements Table.
func (t *SheetsTable) Records(ctx context.Context) ([]Record, error) {
	resp, err := t.svc.Spreadsheets.Values.Get(t.spreadsheetID, t.title).Context(ctx).Do()
	if err != nil {
		return nil, classifySheetsError(err)
	}
	return recordsFromValues(resp.Values), nil
}

// recordsFromValues turns a header-first value grid into header-keyed records,
// skipping blank rows.
func recordsFromValues(values [][]interface{}) []Record {
	if len(values) == 0 {
		return nil
	}

	header := cellStrings(values[0])
	records := make([]Record, 0, len(values)-1)
	for _, raw := range values[1:] {
		row := cellStrings(raw)
		if isBlank(row) {
			continue
		}
		records = append(records, recordFromRow(header, row))
	}
	return records
}

func cellStrings(cells []interface{}) []string {
	out := make([]string, len(cells))
	for i, cell := range cells {
		if cell == nil {
			continue
		}
		out[i] = fmt.Sprint(cell)
	}
	return out
}

func isBlank(row []string) bool {
	for _, cell := range row {
		if cell != "" {
			return false
		}
	}
	return true
}

func classifySheetsError(err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return &StatusError{Code: apiErr.Code, Err: err}
	}
	return err
}

var _ Table = (*SheetsTable)(nil)
