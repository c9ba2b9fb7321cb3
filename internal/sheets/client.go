package sheets

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"
	"google.golang.org/api/sheets/v4"
)

// readRange mirrors the wizard's bounded read window: everything a
// dashboard-style sheet realistically holds, without paging.
const readRange = "A1:Z1000"

// SheetInfo describes one tab of a spreadsheet.
type SheetInfo struct {
	Title string
	Index int64
}

// Client reads spreadsheet grids on behalf of a connection. Each call
// authenticates with the connection's own access token, so one Client
// serves every connection.
type Client struct{}

func NewClient() *Client {
	return &Client{}
}

func (c *Client) service(ctx context.Context, accessToken string) (*sheets.Service, error) {
	src := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: accessToken})
	service, err := sheets.NewService(ctx, option.WithTokenSource(src))
	if err != nil {
		return nil, fmt.Errorf("failed to create sheets service: %w", err)
	}
	return service, nil
}

// ListSheetNames returns the tabs of a spreadsheet, in sheet order.
func (c *Client) ListSheetNames(ctx context.Context, accessToken, spreadsheetID string) ([]SheetInfo, error) {
	service, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	resp, err := service.Spreadsheets.Get(spreadsheetID).Fields("sheets.properties").Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to list sheets: %w", err)
	}

	infos := make([]SheetInfo, 0, len(resp.Sheets))
	for _, s := range resp.Sheets {
		if s.Properties == nil {
			continue
		}
		infos = append(infos, SheetInfo{
			Title: s.Properties.Title,
			Index: s.Properties.Index,
		})
	}
	return infos, nil
}

// FetchGrid reads the configured tab and normalizes it to a string
// grid. Empty cells come back as "", never nil, and ragged rows are
// preserved as-is.
func (c *Client) FetchGrid(ctx context.Context, accessToken, spreadsheetID, sheetName string) ([][]string, error) {
	service, err := c.service(ctx, accessToken)
	if err != nil {
		return nil, err
	}

	range_ := fmt.Sprintf("%s!%s", sheetName, readRange)
	resp, err := service.Spreadsheets.Values.Get(spreadsheetID, range_).Context(ctx).Do()
	if err != nil {
		return nil, fmt.Errorf("failed to read sheet: %w", err)
	}

	grid := make([][]string, 0, len(resp.Values))
	for _, row := range resp.Values {
		cells := make([]string, len(row))
		for i, cell := range row {
			if cell != nil {
				cells[i] = strings.TrimRight(fmt.Sprintf("%v", cell), "\r\n")
			}
		}
		grid = append(grid, cells)
	}
	return grid, nil
}

// IsAuthError reports whether the API rejected the access token, which
// means a refresh (or user re-authorization) is needed.
func IsAuthError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusUnauthorized
	}
	return false
}

// IsPermanentError reports failures a retry cannot fix: the sheet was
// deleted, the tab renamed, or access revoked at the sharing level.
func IsPermanentError(err error) bool {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		return apiErr.Code == http.StatusForbidden || apiErr.Code == http.StatusNotFound ||
			apiErr.Code == http.StatusBadRequest
	}
	return false
}
