package analyze

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"hypewatch/internal/util"
)

// TrendingStock is one mover row from the backend's market endpoint. Price
// and change fields arrive as strings, mirroring the upstream data vendor.
type TrendingStock struct {
	Ticker        string `json:"ticker"`
	Price         string `json:"price"`
	Change        string `json:"change"`
	ChangePercent string `json:"changePercent"`
	Industry      string `json:"industry,omitempty"`
	Sector        string `json:"sector,omitempty"`
}

// trendingResponse is the /api/market/trending reply.
type trendingResponse struct {
	Status string          `json:"status"`
	Data   []TrendingStock `json:"data"`
	Error  string          `json:"error,omitempty"`
}

// FetchTrending fetches the backend's trending-stocks list. The endpoint is
// cached server-side but flaky upstream, so transient failures are retried.
func FetchTrending(ctx context.Context, baseURL string, client *http.Client) ([]TrendingStock, error) {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	var trending []TrendingStock
	err := util.Retry(ctx, 3, 500*time.Millisecond, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/api/market/trending", nil)
		if err != nil {
			return err
		}
		req.Header.Set("Accept", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		if err != nil {
			return err
		}
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &BackendError{StatusCode: resp.StatusCode, Message: errorMessage(body)}
		}

		var tr trendingResponse
		if err := json.Unmarshal(body, &tr); err != nil {
			return fmt.Errorf("decoding trending response: %w", err)
		}
		if tr.Status != "success" {
			return &BackendError{Message: tr.Error}
		}
		trending = tr.Data
		return nil
	})
	if err != nil {
		return nil, err
	}
	return trending, nil
}
