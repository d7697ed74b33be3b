// Package sheets appends transaction listings to a Google spreadsheet.
package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	"fintrack/internal/config"
	"fintrack/internal/core"
)

// Columns written for every transaction, left to right.
var Header = []any{"Date", "Description", "Category", "Amount", "ID"}

const batchSize = 500

type Config struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsJSON string
	CredentialsFile string
}

func FromAppConfig(c *config.Config) Config {
	return Config{
		SpreadsheetID:   strings.TrimSpace(c.GoogleSpreadsheetID),
		SheetName:       strings.TrimSpace(c.GoogleSheetName),
		CredentialsJSON: strings.TrimSpace(c.GoogleServiceAccountJSON),
		CredentialsFile: strings.TrimSpace(c.GoogleServiceAccountFile),
	}
}

type Exporter struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
	logger        *slog.Logger
}

// Result reports what one export wrote.
type Result struct {
	Rows    int // data rows, header excluded
	Header  bool
	Batches int
	// Range is the last range the API reported as updated.
	Range string
}

// NewExporter builds a Sheets client from service account credentials.
// Extra options are appended, which lets tests point at a local endpoint.
func NewExporter(ctx context.Context, cfg Config, logger *slog.Logger, opts ...goption.ClientOption) (*Exporter, error) {
	if cfg.SpreadsheetID == "" {
		return nil, errors.New("missing spreadsheet id")
	}
	if cfg.SheetName == "" {
		cfg.SheetName = "Transactions"
	}
	if logger == nil {
		logger = slog.Default()
	}

	if len(opts) == 0 {
		credentials, err := loadCredentials(cfg)
		if err != nil {
			return nil, err
		}
		opts = []goption.ClientOption{
			goption.WithCredentialsJSON(credentials),
			goption.WithScopes(gsheet.SpreadsheetsScope),
		}
	}

	svc, err := gsheet.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	logger.InfoContext(ctx, "Google Sheets exporter ready",
		"spreadsheet_id", cfg.SpreadsheetID,
		"sheet", cfg.SheetName)

	return &Exporter{
		svc:           svc,
		spreadsheetID: cfg.SpreadsheetID,
		sheetName:     cfg.SheetName,
		logger:        logger,
	}, nil
}

func loadCredentials(cfg Config) ([]byte, error) {
	switch {
	case cfg.CredentialsJSON != "":
		return []byte(cfg.CredentialsJSON), nil
	case cfg.CredentialsFile != "":
		b, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		return b, nil
	default:
		return nil, errors.New("missing service account credentials (set GOOGLE_SERVICE_ACCOUNT_JSON or GOOGLE_SERVICE_ACCOUNT_FILE)")
	}
}

// Rows converts transactions into sheet rows.
func Rows(txs []core.Transaction) [][]any {
	rows := make([][]any, 0, len(txs))
	for _, tx := range txs {
		category := tx.CategoryName
		if category == "" {
			category = fmt.Sprint(tx.Category)
		}
		rows = append(rows, []any{tx.Date.String(), tx.Description, category, tx.Amount.String(), tx.ID})
	}
	return rows
}

// Export appends txs below whatever the sheet already holds. The header row
// is written only into an empty sheet.
func (e *Exporter) Export(ctx context.Context, txs []core.Transaction) (Result, error) {
	var res Result
	if len(txs) == 0 {
		return res, nil
	}

	empty, err := e.isEmpty(ctx)
	if err != nil {
		return res, err
	}
	rows := Rows(txs)
	if empty {
		rows = append([][]any{Header}, rows...)
		res.Header = true
	}
	rng := fmt.Sprintf("%s!A:E", e.sheetName)

	for start := 0; start < len(rows); start += batchSize {
		end := min(start+batchSize, len(rows))
		vr := &gsheet.ValueRange{Values: rows[start:end]}

		resp, err := e.svc.Spreadsheets.Values.Append(e.spreadsheetID, rng, vr).
			ValueInputOption("USER_ENTERED").
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do()
		if err != nil {
			return res, fmt.Errorf("append rows %d-%d to %s: %w", start, end, e.sheetName, err)
		}

		res.Batches++
		if resp.Updates != nil {
			res.Range = resp.Updates.UpdatedRange
		}
	}

	res.Rows = len(txs)

	e.logger.InfoContext(ctx, "Exported transactions to Google Sheets",
		"rows", res.Rows,
		"batches", res.Batches,
		"range", res.Range)
	return res, nil
}

// isEmpty reports whether the first row of the sheet is blank.
func (e *Exporter) isEmpty(ctx context.Context) (bool, error) {
	rng := fmt.Sprintf("%s!A1:E1", e.sheetName)
	resp, err := e.svc.Spreadsheets.Values.Get(e.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return false, fmt.Errorf("read %s header: %w", e.sheetName, err)
	}
	return len(resp.Values) == 0, nil
}
