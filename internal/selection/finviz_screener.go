package selection

import (
	"context"
	"fmt"
	"net/http"
	"regexp"
	"time"

	"github.com/sessiontrader/earnings-session-trader/internal/model"
)

// FinvizScreener walks the finviz earnings-tomorrow screener page by
// page, stopping at the first empty page regardless of how many pages
// the caller configured, and returns the de-duplicated union as the
// full universe. Grounded on
// original_source/pullers/scanners/finviz/earning_tommrow.py's
// BASE_URL pagination (the `r=` offset query parameter) and its
// tolerance for a short final page.
type FinvizScreener struct {
	BaseURL    string
	HTTPClient *http.Client
	PageSize   int
}

const finvizBaseURL = "https://finviz.com/screener.ashx?v=111&f=earningsdate_tomorrowbefore,earningsdate_todayafter"

// NewFinvizScreener builds a screener against finviz's default earnings
// screener view.
func NewFinvizScreener(httpClient *http.Client) *FinvizScreener {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 15 * time.Second}
	}
	return &FinvizScreener{BaseURL: finvizBaseURL, HTTPClient: httpClient, PageSize: 20}
}

// List pages through the screener until a page yields no tickers.
func (s *FinvizScreener) List(ctx context.Context, filter ScreenerFilter) ([]model.Symbol, error) {
	pageSize := s.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}

	var all []model.Symbol
	seen := make(map[model.Symbol]struct{})

	for offset := 1; ; offset += pageSize {
		page, err := s.fetchPage(ctx, offset)
		if err != nil {
			return nil, fmt.Errorf("finviz screener: page at offset %d: %w", offset, err)
		}
		if len(page) == 0 {
			break
		}
		for _, sym := range page {
			if _, dup := seen[sym]; dup {
				continue
			}
			seen[sym] = struct{}{}
			all = append(all, sym)
		}
	}

	return all, nil
}

var finvizTickerCellRegexp = regexp.MustCompile(`data-boxover="[^"]*"[^>]*>([A-Z]{1,5}(?:\.[A-Z]{1,2})?)</a>`)

func (s *FinvizScreener) fetchPage(ctx context.Context, offset int) ([]model.Symbol, error) {
	url := fmt.Sprintf("%s&r=%d", s.BaseURL, offset)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := s.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http get: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body := make([]byte, 0, 64*1024)
	buf := make([]byte, 32*1024)
	for {
		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			body = append(body, buf[:n]...)
		}
		if readErr != nil {
			break
		}
	}

	matches := finvizTickerCellRegexp.FindAllSubmatch(body, -1)
	out := make([]model.Symbol, 0, len(matches))
	for _, m := range matches {
		out = append(out, model.NormalizeSymbol(string(m[1])))
	}
	return out, nil
}
