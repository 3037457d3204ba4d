package connectors

import (
	"context"
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"

	"finscribe/internal/config"
	"finscribe/internal/logger"
)

const sheetsName = "sheets"

var sheetHeaders = []any{
	"Document", "Invoice No", "Date", "Vendor", "Client", "Subtotal",
	"Tax", "Discount", "Grand Total", "Currency", "Status", "Notes",
}

// lastColumn is the column letter of the final header.
const lastColumn = "L"

var reSpreadsheetID = regexp.MustCompile(`/spreadsheets/d/([a-zA-Z0-9-_]+)`)

// Sheets appends one row per record to a Google Sheets worksheet.
type Sheets struct {
	service       *sheets.Service
	spreadsheetID string
	worksheet     string
	log           zerolog.Logger
}

// NewSheets creates the connector with service account credentials from the
// Google section.
func NewSheets(ctx context.Context, cfg config.SheetsSection, googleCfg config.GoogleSection) (*Sheets, error) {
	const op = "NewSheets"

	creds, err := credentialsJSON(googleCfg)
	if err != nil {
		return nil, &PushError{Connector: sheetsName, Op: op, Err: err}
	}

	jwt, err := google.JWTConfigFromJSON(creds, sheets.SpreadsheetsScope)
	if err != nil {
		return nil, &PushError{Connector: sheetsName, Op: op, Err: fmt.Errorf("failed to parse credentials: %w", err)}
	}

	service, err := sheets.NewService(ctx, option.WithHTTPClient(jwt.Client(ctx)))
	if err != nil {
		return nil, &PushError{Connector: sheetsName, Op: op, Err: fmt.Errorf("failed to create sheets service: %w", err)}
	}

	return NewSheetsWithService(service, cfg)
}

// NewSheetsWithService creates the connector around an existing service.
func NewSheetsWithService(service *sheets.Service, cfg config.SheetsSection) (*Sheets, error) {
	spreadsheetID, err := extractSpreadsheetID(cfg.URL)
	if err != nil {
		return nil, &PushError{Connector: sheetsName, Op: "NewSheetsWithService", Err: err}
	}
	worksheet := cfg.Worksheet
	if worksheet == "" {
		worksheet = "Invoices"
	}

	log := logger.WithComponent("connectors.sheets")
	log.Debug().Str("spreadsheet_id", spreadsheetID).Msg("Extracted spreadsheet ID")

	return &Sheets{
		service:       service,
		spreadsheetID: spreadsheetID,
		worksheet:     worksheet,
		log:           log,
	}, nil
}

func credentialsJSON(cfg config.GoogleSection) ([]byte, error) {
	switch {
	case cfg.Credentials != "":
		return []byte(cfg.Credentials), nil
	case cfg.CredentialsFile != "":
		creds, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read credentials file: %w", err)
		}
		return creds, nil
	default:
		return nil, fmt.Errorf("%w: neither GOOGLE_APPLICATION_CREDENTIALS nor GOOGLE_CREDENTIALS is set", ErrMissingCredentials)
	}
}

// extractSpreadsheetID extracts the spreadsheet ID from a Google Sheets URL.
func extractSpreadsheetID(url string) (string, error) {
	matches := reSpreadsheetID.FindStringSubmatch(url)
	if len(matches) < 2 {
		return "", ErrInvalidSheetURL
	}
	return matches[1], nil
}

func (s *Sheets) Name() string { return sheetsName }

// Push appends the records, creating the worksheet and its header row first
// when needed.
func (s *Sheets) Push(ctx context.Context, records []Record) error {
	const op = "Push"

	if len(records) == 0 {
		return nil
	}

	s.log.Info().
		Str("worksheet", s.worksheet).
		Int("rows", len(records)).
		Msg("Writing records to Google Sheet")

	if err := s.ensureSheetWithHeaders(ctx); err != nil {
		return &PushError{Connector: sheetsName, Op: op, Err: err}
	}

	values := make([][]any, 0, len(records))
	for _, rec := range records {
		values = append(values, recordToRow(rec))
	}

	_, err := s.service.Spreadsheets.Values.Append(
		s.spreadsheetID,
		s.worksheet+"!A:"+lastColumn,
		&sheets.ValueRange{Values: values},
	).ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		return &PushError{Connector: sheetsName, Op: op, Err: fmt.Errorf("failed to append values: %w", err)}
	}

	s.log.Info().
		Int("rows_written", len(values)).
		Msg("Successfully wrote records to Google Sheet")

	return nil
}

func recordToRow(rec Record) []any {
	row := make([]any, len(sheetHeaders))
	for i := range row {
		row[i] = ""
	}
	row[0] = rec.Document()
	row[10] = rec.Status

	if rec.Invoice != nil {
		inv := rec.Invoice
		fs := inv.FinancialSummary
		row[1] = inv.InvoiceNumber
		row[2] = inv.InvoiceDate
		row[3] = inv.Vendor.Name
		row[4] = inv.Client.Name
		row[5] = fs.Subtotal.Float()
		row[6] = fs.TaxAmount.Float()
		row[7] = fs.DiscountAmount.Float()
		row[8] = fs.GrandTotal.Float()
		row[9] = normalizeCurrency(fs.Currency)
	}

	switch {
	case rec.Error != "":
		row[11] = "error: " + rec.Error
	case rec.Report != nil:
		row[11] = strings.Join(rec.Report.Notes, "; ")
	}
	return row
}

func (s *Sheets) ensureSheetWithHeaders(ctx context.Context) error {
	const op = "ensureSheetWithHeaders"

	spreadsheet, err := s.service.Spreadsheets.Get(s.spreadsheetID).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get spreadsheet: %w", op, err)
	}

	var (
		sheetExists bool
		sheetID     int64
	)
	for _, sheet := range spreadsheet.Sheets {
		if sheet.Properties != nil && sheet.Properties.Title == s.worksheet {
			sheetExists = true
			sheetID = sheet.Properties.SheetId
			break
		}
	}

	if !sheetExists {
		s.log.Info().Str("worksheet", s.worksheet).Msg("Creating new worksheet")

		resp, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{
			Requests: []*sheets.Request{
				{AddSheet: &sheets.AddSheetRequest{Properties: &sheets.SheetProperties{Title: s.worksheet}}},
			},
		}).Context(ctx).Do()
		if err != nil {
			return fmt.Errorf("%s: failed to create worksheet: %w", op, err)
		}
		if len(resp.Replies) > 0 && resp.Replies[0].AddSheet != nil {
			sheetID = resp.Replies[0].AddSheet.Properties.SheetId
		}
	}

	headerRange := fmt.Sprintf("%s!A1:%s1", s.worksheet, lastColumn)
	resp, err := s.service.Spreadsheets.Values.Get(s.spreadsheetID, headerRange).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to get headers: %w", op, err)
	}
	if len(resp.Values) > 0 && len(resp.Values[0]) > 0 {
		return nil
	}

	s.log.Info().Str("worksheet", s.worksheet).Msg("Adding headers to worksheet")

	_, err = s.service.Spreadsheets.Values.Update(
		s.spreadsheetID,
		headerRange,
		&sheets.ValueRange{Values: [][]any{sheetHeaders}},
	).ValueInputOption("RAW").Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("%s: failed to add headers: %w", op, err)
	}

	if err := s.formatHeaders(ctx, sheetID); err != nil {
		s.log.Warn().Err(err).Msg("Failed to format headers, continuing anyway")
	}
	return nil
}

// formatHeaders makes the header row bold and resizes the columns.
func (s *Sheets) formatHeaders(ctx context.Context, sheetID int64) error {
	columns := int64(len(sheetHeaders))
	requests := []*sheets.Request{
		{
			RepeatCell: &sheets.RepeatCellRequest{
				Range: &sheets.GridRange{
					SheetId:          sheetID,
					StartRowIndex:    0,
					EndRowIndex:      1,
					StartColumnIndex: 0,
					EndColumnIndex:   columns,
				},
				Cell: &sheets.CellData{
					UserEnteredFormat: &sheets.CellFormat{
						TextFormat:      &sheets.TextFormat{Bold: true},
						BackgroundColor: &sheets.Color{Red: 0.9, Green: 0.9, Blue: 0.9},
					},
				},
				Fields: "userEnteredFormat(textFormat,backgroundColor)",
			},
		},
		{
			AutoResizeDimensions: &sheets.AutoResizeDimensionsRequest{
				Dimensions: &sheets.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "COLUMNS",
					StartIndex: 0,
					EndIndex:   columns,
				},
			},
		},
	}

	_, err := s.service.Spreadsheets.BatchUpdate(s.spreadsheetID, &sheets.BatchUpdateSpreadsheetRequest{Requests: requests}).Context(ctx).Do()
	if err != nil {
		return fmt.Errorf("formatHeaders: %w", err)
	}
	return nil
}
