package source

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2/google"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

const defaultSheetsTimeout = 60 * time.Second

// SheetsConfig configures the Google Sheets provider. One of
// CredentialsFile or APIKey is required.
type SheetsConfig struct {
	// CredentialsFile is a service-account JSON key.
	CredentialsFile string
	APIKey          string
	// BaseURL overrides the API root (https://sheets.googleapis.com/).
	BaseURL string
	// Timeout bounds each API call.
	Timeout time.Duration
}

// Sheets reads values through the Google Sheets API v4.
type Sheets struct {
	svc     *sheets.Service
	timeout time.Duration
}

// NewSheets builds a provider. A credentials file authenticates as the
// service account with read-only scope; an API key only reaches
// spreadsheets shared publicly.
func NewSheets(ctx context.Context, cfg SheetsConfig) (*Sheets, error) {
	var opts []option.ClientOption
	switch {
	case cfg.CredentialsFile != "":
		data, err := os.ReadFile(cfg.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("source: read credentials: %w", err)
		}
		conf, err := google.JWTConfigFromJSON(data, sheets.SpreadsheetsReadonlyScope)
		if err != nil {
			return nil, fmt.Errorf("source: parse credentials %s: %w", cfg.CredentialsFile, err)
		}
		opts = append(opts, option.WithTokenSource(conf.TokenSource(ctx)))
	case cfg.APIKey != "":
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	default:
		return nil, fmt.Errorf("source: sheets requires a credentials file or an API key")
	}
	if base := strings.TrimSpace(cfg.BaseURL); base != "" {
		opts = append(opts, option.WithEndpoint(strings.TrimRight(base, "/")+"/"))
	}
	return NewSheetsWithOptions(ctx, cfg.Timeout, opts...)
}

// NewSheetsWithOptions builds a provider from raw client options, for
// callers that manage authentication themselves.
func NewSheetsWithOptions(ctx context.Context, timeout time.Duration, opts ...option.ClientOption) (*Sheets, error) {
	if timeout <= 0 {
		timeout = defaultSheetsTimeout
	}
	svc, err := sheets.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("source: sheets client: %w", err)
	}
	return &Sheets{svc: svc, timeout: timeout}, nil
}

// GetRows reads unformatted values; dates arrive as serial numbers.
func (s *Sheets) GetRows(ctx context.Context, loc Locator, rangeSpec string) ([][]any, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	vr, err := s.svc.Spreadsheets.Values.Get(loc.SpreadsheetID, A1Range(loc.Sheet, rangeSpec)).
		ValueRenderOption("UNFORMATTED_VALUE").
		DateTimeRenderOption("SERIAL_NUMBER").
		MajorDimension("ROWS").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fetchError(loc, err)
	}
	return vr.Values, nil
}

// GetRangeNames lists the tab titles of a spreadsheet.
func (s *Sheets) GetRangeNames(ctx context.Context, spreadsheetID string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	meta, err := s.svc.Spreadsheets.Get(spreadsheetID).
		Fields("sheets.properties.title").
		Context(ctx).
		Do()
	if err != nil {
		return nil, fetchError(Locator{SpreadsheetID: spreadsheetID}, err)
	}
	names := make([]string, 0, len(meta.Sheets))
	for _, sh := range meta.Sheets {
		if sh.Properties != nil {
			names = append(names, sh.Properties.Title)
		}
	}
	return names, nil
}

// fetchError carries the HTTP status of a *googleapi.Error so callers can
// tell permanent failures from retryable ones.
func fetchError(loc Locator, err error) *FetchError {
	fe := &FetchError{Locator: loc, Err: err}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		fe.Status = gerr.Code
	}
	return fe
}
