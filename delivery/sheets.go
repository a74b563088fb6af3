package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/kerbrat/veilleur/dedup"
	"github.com/kerbrat/veilleur/models"
)

const sheetsAPIBase = "https://sheets.googleapis.com/v4/spreadsheets"

// Columns written per item: date, source, title, url, summary.
const sheetRange = "A:E"

// hyperlinkPattern matches the spreadsheet HYPERLINK formula older
// rows may contain in the URL column.
var hyperlinkPattern = regexp.MustCompile(`=HYPERLINK\("([^"]*)"`)

// SheetsSink appends campaign results to a Google Sheets spreadsheet
// via the values REST API. The sinkRef is the spreadsheet id; the
// access token is supplied by configuration (token refresh is the
// auth layer's problem, not the engine's).
type SheetsSink struct {
	accessToken string
	baseURL     string
	client      *http.Client
}

func NewSheetsSink(accessToken string, timeout time.Duration) *SheetsSink {
	return &SheetsSink{
		accessToken: accessToken,
		baseURL:     sheetsAPIBase,
		client:      &http.Client{Timeout: timeout},
	}
}

// ExistingKeys reads the sheet once and derives the identity key of
// every row that has both a title and a URL.
func (s *SheetsSink) ExistingKeys(ctx context.Context, sinkRef string) (map[string]struct{}, error) {
	endpoint := fmt.Sprintf("%s/%s/values/%s", s.baseURL, sinkRef, sheetRange)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create Sheets read request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("Sheets read request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("Sheets returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var values sheetValues
	if err := json.NewDecoder(resp.Body).Decode(&values); err != nil {
		return nil, fmt.Errorf("failed to decode Sheets response: %w", err)
	}

	keys := make(map[string]struct{}, len(values.Values))
	for i, row := range values.Values {
		if i == 0 {
			continue // header row
		}
		if len(row) < 4 {
			continue
		}
		title := strings.TrimSpace(row[2])
		url := strings.TrimSpace(row[3])
		if m := hyperlinkPattern.FindStringSubmatch(url); m != nil {
			url = m[1]
		}
		if title == "" || url == "" {
			continue
		}
		keys[dedup.IdentityKey(models.Item{Title: title, URL: url})] = struct{}{}
	}

	log.Printf("INFO (SheetsSink): Found %d existing rows in spreadsheet %s", len(keys), sinkRef)
	return keys, nil
}

// Write appends one row per item and returns the number of rows the
// API reports as written.
func (s *SheetsSink) Write(ctx context.Context, sinkRef string, items []models.Item) (int, error) {
	if len(items) == 0 {
		return 0, nil
	}

	rows := make([][]string, 0, len(items))
	for _, item := range items {
		rows = append(rows, []string{
			item.PublishedAt.UTC().Format(time.RFC3339),
			item.SourceName,
			item.Title,
			item.URL,
			item.Summary,
		})
	}

	payload := sheetValues{Values: rows}
	body, err := json.Marshal(payload)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal Sheets payload: %w", err)
	}

	endpoint := fmt.Sprintf("%s/%s/values/%s:append?valueInputOption=RAW&insertDataOption=INSERT_ROWS",
		s.baseURL, sinkRef, sheetRange)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create Sheets append request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.accessToken)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("Sheets append request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("Sheets returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var appendResp sheetAppendResponse
	if err := json.NewDecoder(resp.Body).Decode(&appendResp); err != nil {
		// The write went through; treat a malformed body as full acceptance.
		return len(items), nil
	}
	if appendResp.Updates.UpdatedRows > 0 {
		return appendResp.Updates.UpdatedRows, nil
	}
	return len(items), nil
}

// Google Sheets values API wire types.
type sheetValues struct {
	Values [][]string `json:"values"`
}

type sheetAppendResponse struct {
	Updates struct {
		UpdatedRows int `json:"updatedRows"`
	} `json:"updates"`
}
