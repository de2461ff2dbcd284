package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/time/rate"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	sheetsapi "google.golang.org/api/sheets/v4"

	"stockroom/internal/models"
	"stockroom/internal/monitoring"
)

// ClientOptions configures the Google Sheets grid
type ClientOptions struct {
	SpreadsheetID string
	APIKey        string
	// Endpoint overrides the API base URL, e.g. for a local fake
	Endpoint string
	// TokenSource authorizes every call; ignored when HTTPClient is set
	TokenSource       oauth2.TokenSource
	HTTPClient        *http.Client
	RequestsPerSecond float64
	Burst             int
	Metrics           *monitoring.Metrics
	Logger            *slog.Logger
}

// Client implements Grid over the Sheets v4 REST API.
type Client struct {
	svc           *sheetsapi.Service
	spreadsheetID string
	apiKey        string
	limiter       *rate.Limiter
	metrics       *monitoring.Metrics
	logger        *slog.Logger

	mu       sync.Mutex
	sheetIDs map[string]int64
}

// NewClient builds a Sheets service bound to one spreadsheet.
func NewClient(ctx context.Context, opts ClientOptions) (*Client, error) {
	if opts.SpreadsheetID == "" {
		return nil, fmt.Errorf("spreadsheet id is required")
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		if opts.TokenSource == nil {
			return nil, fmt.Errorf("token source is required")
		}
		httpClient = &http.Client{Transport: &oauth2.Transport{Source: opts.TokenSource}}
	}

	svcOpts := []option.ClientOption{option.WithHTTPClient(httpClient)}
	if opts.Endpoint != "" {
		svcOpts = append(svcOpts, option.WithEndpoint(opts.Endpoint))
	}
	svc, err := sheetsapi.NewService(ctx, svcOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}

	limit := rate.Inf
	if opts.RequestsPerSecond > 0 {
		limit = rate.Limit(opts.RequestsPerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		svc:           svc,
		spreadsheetID: opts.SpreadsheetID,
		apiKey:        opts.APIKey,
		limiter:       rate.NewLimiter(limit, burst),
		metrics:       opts.Metrics,
		logger:        logger,
		sheetIDs:      make(map[string]int64),
	}, nil
}

// Read returns the formatted cell values of r. Trailing empty rows and cells are omitted by the API.
func (c *Client) Read(ctx context.Context, r Range) ([][]string, error) {
	var rows [][]string
	err := c.call(ctx, "values.get", func() error {
		resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, r.String()).
			Context(ctx).Do(c.callOptions()...)
		if err != nil {
			return err
		}
		rows = toStrings(resp.Values)
		return nil
	})
	return rows, err
}

// Write overwrites r with rows.
func (c *Client) Write(ctx context.Context, r Range, rows [][]string, mode InputMode) error {
	return c.call(ctx, "values.update", func() error {
		_, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, r.String(), valueRange(rows)).
			ValueInputOption(string(mode)).
			Context(ctx).Do(c.callOptions()...)
		return err
	})
}

// Append inserts rows after the table starting at r.
func (c *Client) Append(ctx context.Context, r Range, rows [][]string) error {
	return c.call(ctx, "values.append", func() error {
		_, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, r.String(), valueRange(rows)).
			ValueInputOption(string(InputUserEntered)).
			InsertDataOption("INSERT_ROWS").
			Context(ctx).Do(c.callOptions()...)
		return err
	})
}

// DeleteRow removes one sheet row with a structural delete.
func (c *Client) DeleteRow(ctx context.Context, sheet string, row int) error {
	if row < 1 {
		return &models.TransportError{Op: "batchUpdate", Err: fmt.Errorf("invalid row %d", row)}
	}
	sheetID, err := c.sheetID(ctx, sheet)
	if err != nil {
		return err
	}
	req := &sheetsapi.BatchUpdateSpreadsheetRequest{
		Requests: []*sheetsapi.Request{{
			DeleteDimension: &sheetsapi.DeleteDimensionRequest{
				Range: &sheetsapi.DimensionRange{
					SheetId:    sheetID,
					Dimension:  "ROWS",
					StartIndex: int64(row - 1),
					EndIndex:   int64(row),
					// the first sheet has id 0 and row 1 has start index 0
					ForceSendFields: []string{"SheetId", "StartIndex"},
				},
			},
		}},
	}
	err = c.call(ctx, "batchUpdate", func() error {
		_, err := c.svc.Spreadsheets.BatchUpdate(c.spreadsheetID, req).Context(ctx).Do(c.callOptions()...)
		return err
	})
	if isMissingRange(err) {
		// the sheet may have been recreated under a new id
		c.mu.Lock()
		delete(c.sheetIDs, sheet)
		c.mu.Unlock()
	}
	return err
}

// Probe fetches only the spreadsheet id.
func (c *Client) Probe(ctx context.Context) error {
	return c.call(ctx, "spreadsheets.get", func() error {
		_, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("spreadsheetId").
			Context(ctx).Do(c.callOptions()...)
		return err
	})
}

// sheetID resolves a sheet title to its numeric id, caching the lookup.
func (c *Client) sheetID(ctx context.Context, title string) (int64, error) {
	c.mu.Lock()
	id, ok := c.sheetIDs[title]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	var found bool
	err := c.call(ctx, "spreadsheets.get", func() error {
		resp, err := c.svc.Spreadsheets.Get(c.spreadsheetID).Fields("sheets.properties(sheetId,title)").
			Context(ctx).Do(c.callOptions()...)
		if err != nil {
			return err
		}
		c.mu.Lock()
		defer c.mu.Unlock()
		for _, s := range resp.Sheets {
			if s.Properties == nil {
				continue
			}
			c.sheetIDs[s.Properties.Title] = s.Properties.SheetId
			if s.Properties.Title == title {
				id, found = s.Properties.SheetId, true
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, &models.TransportError{Op: "spreadsheets.get", Err: fmt.Errorf("sheet %q not found", title)}
	}
	return id, nil
}

func (c *Client) callOptions() []googleapi.CallOption {
	if c.apiKey == "" {
		return nil
	}
	return []googleapi.CallOption{googleapi.QueryParameter("key", c.apiKey)}
}

// call rate-limits fn, records its outcome, and normalizes its error.
func (c *Client) call(ctx context.Context, op string, fn func() error) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return &models.TransportError{Op: op, Err: err}
	}
	started := time.Now()
	err := fn()
	c.metrics.ObserveSheets(op, started, err)
	if err == nil {
		return nil
	}
	c.logger.Debug("sheets call failed", "operation", op, "error", err)
	return toTransportError(op, err)
}

func toTransportError(op string, err error) error {
	var te *models.TransportError
	if errors.As(err, &te) {
		return te
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) {
		msg := gerr.Message
		if msg == "" {
			msg = http.StatusText(gerr.Code)
		}
		return &models.TransportError{Op: op, Status: gerr.Code, Err: errors.New(msg)}
	}
	var rerr *oauth2.RetrieveError
	if errors.As(err, &rerr) || errors.Is(err, models.ErrSignedOut) {
		return &models.TransportError{Op: op, Status: http.StatusUnauthorized, Err: err}
	}
	return &models.TransportError{Op: op, Err: err}
}

func valueRange(rows [][]string) *sheetsapi.ValueRange {
	values := make([][]interface{}, len(rows))
	for i, row := range rows {
		cells := make([]interface{}, len(row))
		for j, v := range row {
			cells[j] = v
		}
		values[i] = cells
	}
	return &sheetsapi.ValueRange{MajorDimension: "ROWS", Values: values}
}

func toStrings(values [][]interface{}) [][]string {
	rows := make([][]string, len(values))
	for i, row := range values {
		cells := make([]string, len(row))
		for j, v := range row {
			switch t := v.(type) {
			case nil:
			case string:
				cells[j] = t
			default:
				cells[j] = fmt.Sprint(t)
			}
		}
		rows[i] = cells
	}
	return rows
}
