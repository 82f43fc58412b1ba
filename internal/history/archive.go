// Package history archives the scores of completed analysis runs as
// day-keyed parquet files, one row per run, so the dashboard can chart how
// a symbol's hype developed over time.
package history

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parquet-go/parquet-go"

	"hypewatch/internal/domain"
)

// ScoreRecord is one archived run in the output parquet file.
type ScoreRecord struct {
	Symbol                   string  `parquet:"symbol"`
	Time                     int64   `parquet:"time,timestamp(millisecond)"`
	FinancialMomentum        float64 `parquet:"financial_momentum"`
	NewsSentiment            float64 `parquet:"news_sentiment"`
	SocialBuzz               float64 `parquet:"social_buzz"`
	HypeIndex                float64 `parquet:"hype_index"`
	SentimentPriceDivergence float64 `parquet:"sentiment_price_divergence"`
}

// Archive stores score records under <dataDir>/history/YYYY-MM-DD.parquet.
// Day files are small (one row per completed run), so appends are
// read-modify-write; a mutex serialises writers.
type Archive struct {
	dir string
	mu  sync.Mutex
}

// NewArchive creates an archive rooted at dataDir.
func NewArchive(dataDir string) (*Archive, error) {
	dir := filepath.Join(dataDir, "history")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating history dir: %w", err)
	}
	return &Archive{dir: dir}, nil
}

// Record appends the scores of a completed run for symbol, dated by the
// run's last_run timestamp (falling back to now when absent).
func (a *Archive) Record(symbol string, result *domain.AnalysisResult, now time.Time) error {
	runTime := now
	if t, err := result.LastRunTime(); err == nil {
		runTime = t
	}

	rec := ScoreRecord{
		Symbol:                   domain.NormalizeSymbol(symbol),
		Time:                     runTime.UnixMilli(),
		FinancialMomentum:        result.Scores.FinancialMomentum,
		NewsSentiment:            result.Scores.NewsSentiment,
		SocialBuzz:               result.Scores.SocialBuzz,
		HypeIndex:                result.Scores.HypeIndex,
		SentimentPriceDivergence: result.Scores.SentimentPriceDivergence,
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	path := filepath.Join(a.dir, runTime.UTC().Format("2006-01-02")+".parquet")
	records, err := parquet.ReadFile[ScoreRecord](path)
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("reading %s: %w", path, err)
	}
	records = append(records, rec)
	return parquet.WriteFile(path, records)
}

// Symbol returns all archived records for a symbol, oldest first.
func (a *Archive) Symbol(symbol string) ([]ScoreRecord, error) {
	sym := domain.NormalizeSymbol(symbol)

	dates, err := a.Dates()
	if err != nil {
		return nil, err
	}

	var out []ScoreRecord
	for _, date := range dates {
		path := filepath.Join(a.dir, date+".parquet")
		records, err := parquet.ReadFile[ScoreRecord](path)
		if err != nil {
			continue
		}
		for i := range records {
			if records[i].Symbol == sym {
				out = append(out, records[i])
			}
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Time < out[j].Time })
	return out, nil
}

// Dates lists the available archive dates, sorted chronologically.
func (a *Archive) Dates() ([]string, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, err
	}

	var dates []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".parquet") {
			continue
		}
		date := strings.TrimSuffix(e.Name(), ".parquet")
		if len(date) == 10 && date[4] == '-' && date[7] == '-' {
			dates = append(dates, date)
		}
	}
	sort.Strings(dates)
	return dates, nil
}
