// Package domain defines the data model shared across the hypewatch platform:
// analysis results, score sets, OHLCV bars, and company/news/social payloads
// as delivered by the analysis backend.
package domain

import (
	"strings"
	"time"
)

// ---------------------------------------------------------------------------
// Analysis result
// ---------------------------------------------------------------------------

// AnalysisResult is the terminal payload of one analysis run for a symbol.
type AnalysisResult struct {
	FinancialData FinancialData `json:"financial_data"`
	Scores        Scores        `json:"scores"`
	CompanyInfo   *CompanyInfo  `json:"company_info,omitempty"`
	NewsData      *NewsData     `json:"news_data,omitempty"`
	SocialData    *SocialData   `json:"social_data,omitempty"`
	LastRun       string        `json:"last_run,omitempty"`
}

// LastRunTime parses the last_run timestamp. The backend writes RFC 3339 with
// a UTC offset, but older rows may lack the zone suffix.
func (r *AnalysisResult) LastRunTime() (time.Time, error) {
	t, err := time.Parse(time.RFC3339, r.LastRun)
	if err == nil {
		return t, nil
	}
	t, err2 := time.Parse("2006-01-02T15:04:05", r.LastRun)
	if err2 == nil {
		return t.UTC(), nil
	}
	return time.Time{}, err
}

// Scores is the fixed set of named scores computed by the backend. Values are
// stored exactly as received; any clamping to [0,100] is a display concern.
type Scores struct {
	FinancialMomentum        float64 `json:"financial_momentum"`
	NewsSentiment            float64 `json:"news_sentiment"`
	SocialBuzz               float64 `json:"social_buzz"`
	HypeIndex                float64 `json:"hype_index"`
	SentimentPriceDivergence float64 `json:"sentiment_price_divergence"`
}

// FinancialData holds the price series and headline price fields.
type FinancialData struct {
	// HistoricalData maps "YYYY-MM-DD" to the day's bar. The backend emits
	// capitalised field names, so the Bar tags must match.
	HistoricalData map[string]Bar `json:"historical_data"`
	CurrentPrice   *float64       `json:"current_price,omitempty"`
	PriceChange    *float64       `json:"price_change,omitempty"`
}

// Bar is one daily OHLCV bar.
type Bar struct {
	Open   float64 `json:"Open"`
	High   float64 `json:"High"`
	Low    float64 `json:"Low"`
	Close  float64 `json:"Close"`
	Volume float64 `json:"Volume"`
}

// CompanyInfo is backend-provided company metadata.
type CompanyInfo struct {
	Name        string  `json:"name"`
	Ticker      string  `json:"ticker"`
	Sector      string  `json:"sector,omitempty"`
	Industry    string  `json:"industry,omitempty"`
	MarketCap   float64 `json:"marketCap,omitempty"`
	Description string  `json:"description,omitempty"`
	URL         string  `json:"url,omitempty"`
	Exchange    string  `json:"exchange,omitempty"`
	IPO         string  `json:"ipo,omitempty"`
}

// ---------------------------------------------------------------------------
// Feeds
// ---------------------------------------------------------------------------

// NewsData is the news portion of an analysis result.
type NewsData struct {
	Articles []Article `json:"articles"`
}

// Article is a single news article from any source.
type Article struct {
	Time     time.Time `json:"time"`
	Source   string    `json:"source"`
	Headline string    `json:"headline"`
	Content  string    `json:"content,omitempty"`
	URL      string    `json:"url,omitempty"`
}

// SocialData is the social-media portion of an analysis result.
type SocialData struct {
	Posts      []SocialPost `json:"posts"`
	TotalPosts int          `json:"total_posts,omitempty"`
}

// SocialPost is a single social-media post.
type SocialPost struct {
	Time   time.Time `json:"time"`
	Source string    `json:"source"`
	Author string    `json:"author,omitempty"`
	Text   string    `json:"text"`
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// NormalizeSymbol converts user input into the canonical symbol form used as
// the lookup key everywhere: trimmed and upper-cased.
func NormalizeSymbol(s string) string {
	return strings.ToUpper(strings.TrimSpace(s))
}
