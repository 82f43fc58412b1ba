// Package httpapi provides the HTTP REST API for the hype dashboard,
// serving tracked scores, the watchlist, feeds, and score history in JSON,
// plus live step progress over SSE and WebSocket.
package httpapi

import (
	"hypewatch/internal/analyze"
	"hypewatch/internal/dashboard"
	"hypewatch/internal/domain"
	"hypewatch/internal/history"
)

// EntryJSON is the JSON representation of one tracked symbol.
type EntryJSON struct {
	Symbol    string               `json:"symbol"`
	Phase     string               `json:"phase"`
	Steps     []analyze.StepRecord `json:"steps,omitempty"`
	Scores    *domain.Scores       `json:"scores,omitempty"`
	Company   *domain.CompanyInfo  `json:"company,omitempty"`
	Price     *float64             `json:"price,omitempty"`
	LastRun   string               `json:"lastRun,omitempty"`
	UpdatedAt int64                `json:"updatedAt,omitempty"`
	Error     string               `json:"error,omitempty"`
}

// DashboardResponse is the top-level JSON response for the dashboard endpoint.
type DashboardResponse struct {
	Entries []EntryJSON `json:"entries"`
}

// WatchlistResponse lists the saved symbols.
type WatchlistResponse struct {
	Symbols []string `json:"symbols"`
}

// NewsResponse holds news articles and social posts for a symbol.
type NewsResponse struct {
	Symbol   string              `json:"symbol"`
	Articles []domain.Article    `json:"articles"`
	Posts    []domain.SocialPost `json:"posts"`
}

// ScorePointJSON is one archived score row.
type ScorePointJSON struct {
	Time                     int64   `json:"time"`
	FinancialMomentum        float64 `json:"financialMomentum"`
	NewsSentiment            float64 `json:"newsSentiment"`
	SocialBuzz               float64 `json:"socialBuzz"`
	HypeIndex                float64 `json:"hypeIndex"`
	SentimentPriceDivergence float64 `json:"sentimentPriceDivergence"`
}

// HistoryResponse is the per-symbol score history.
type HistoryResponse struct {
	Symbol string           `json:"symbol"`
	Points []ScorePointJSON `json:"points"`
}

// TrendingResponse lists the backend's trending movers.
type TrendingResponse struct {
	Stocks []analyze.TrendingStock `json:"stocks"`
}

// convertEntry converts a tracked dashboard entry to JSON.
func convertEntry(e dashboard.Entry) EntryJSON {
	out := EntryJSON{
		Symbol: e.Symbol,
		Phase:  e.State.Phase.String(),
		Steps:  e.State.Steps,
	}
	if !e.UpdatedAt.IsZero() {
		out.UpdatedAt = e.UpdatedAt.UnixMilli()
	}
	if res := e.State.Result; res != nil {
		scores := res.Scores
		out.Scores = &scores
		out.Company = res.CompanyInfo
		out.Price = res.FinancialData.CurrentPrice
		out.LastRun = res.LastRun
	}
	if e.State.Err != nil {
		out.Error = e.State.Err.Error()
	}
	return out
}

// convertHistory converts archived score records to JSON points.
func convertHistory(records []history.ScoreRecord) []ScorePointJSON {
	points := make([]ScorePointJSON, 0, len(records))
	for i := range records {
		points = append(points, ScorePointJSON{
			Time:                     records[i].Time,
			FinancialMomentum:        records[i].FinancialMomentum,
			NewsSentiment:            records[i].NewsSentiment,
			SocialBuzz:               records[i].SocialBuzz,
			HypeIndex:                records[i].HypeIndex,
			SentimentPriceDivergence: records[i].SentimentPriceDivergence,
		})
	}
	return points
}
