// Package feeds fetches live news and social posts for a symbol, used when
// an analysis result arrives without feed payloads (cached rows predating
// feed capture, or trimmed backend responses). Sources: Alpaca marketdata
// (when configured), Google News RSS, and StockTwits.
package feeds

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"html"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"hypewatch/internal/domain"
	"hypewatch/internal/util"
)

// Fetcher aggregates feed sources for the dashboard.
type Fetcher struct {
	alpaca *marketdata.Client // nil when no credentials configured
	client *http.Client
	log    *slog.Logger
}

// NewFetcher creates a Fetcher. apiKey/apiSecret may be empty, in which case
// the Alpaca source is skipped.
func NewFetcher(apiKey, apiSecret string, log *slog.Logger) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}
	if apiKey != "" && apiSecret != "" {
		f.alpaca = marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    apiKey,
			APISecret: apiSecret,
		})
	}
	return f
}

// News fetches recent articles for symbol from all configured news sources.
// Per-source failures are logged and skipped; an empty slice is a valid
// answer.
func (f *Fetcher) News(ctx context.Context, symbol string, limit int) []domain.Article {
	sym := domain.NormalizeSymbol(symbol)
	var articles []domain.Article

	if f.alpaca != nil {
		got, err := f.alpacaNews(sym, limit)
		if err != nil {
			f.log.Warn("alpaca news fetch failed", "symbol", sym, "error", err)
		} else {
			articles = append(articles, got...)
		}
	}

	got, err := f.googleNews(ctx, sym, limit)
	if err != nil {
		f.log.Warn("google news fetch failed", "symbol", sym, "error", err)
	} else {
		articles = append(articles, got...)
	}

	if len(articles) > limit && limit > 0 {
		articles = articles[:limit]
	}
	return articles
}

// Social fetches recent StockTwits posts for symbol.
func (f *Fetcher) Social(ctx context.Context, symbol string, limit int) []domain.SocialPost {
	sym := domain.NormalizeSymbol(symbol)
	posts, err := f.stockTwits(ctx, sym, limit)
	if err != nil {
		f.log.Warn("stocktwits fetch failed", "symbol", sym, "error", err)
		return nil
	}
	return posts
}

// --- Alpaca ---

func (f *Fetcher) alpacaNews(symbol string, limit int) ([]domain.Article, error) {
	if limit <= 0 {
		limit = 20
	}
	news, err := f.alpaca.GetNews(marketdata.GetNewsRequest{
		Symbols:            []string{symbol},
		TotalLimit:         limit,
		ExcludeContentless: true,
		Sort:               marketdata.SortDesc,
	})
	if err != nil {
		return nil, err
	}

	articles := make([]domain.Article, 0, len(news))
	for _, n := range news {
		articles = append(articles, domain.Article{
			Time:     n.CreatedAt,
			Source:   "alpaca",
			Headline: n.Headline,
			Content:  n.Summary,
			URL:      n.URL,
		})
	}
	return articles, nil
}

// --- Google News RSS ---

type rssResponse struct {
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
}

type rssItem struct {
	Title   string `xml:"title"`
	Link    string `xml:"link"`
	PubDate string `xml:"pubDate"`
	Desc    string `xml:"description"`
}

func (f *Fetcher) googleNews(ctx context.Context, symbol string, limit int) ([]domain.Article, error) {
	q := url.QueryEscape(symbol + " stock")
	u := "https://news.google.com/rss/search?q=" + q + "&hl=en-US&gl=US&ceid=US:en"

	var rss rssResponse
	err := util.Retry(ctx, 2, time.Second, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", "Mozilla/5.0")

		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("google news status %d", resp.StatusCode)
		}
		return xml.NewDecoder(resp.Body).Decode(&rss)
	})
	if err != nil {
		return nil, err
	}

	var articles []domain.Article
	for _, item := range rss.Channel.Items {
		if limit > 0 && len(articles) >= limit {
			break
		}
		t, err := time.Parse(time.RFC1123Z, item.PubDate)
		if err != nil {
			t, err = time.Parse(time.RFC1123, item.PubDate)
			if err != nil {
				continue
			}
		}
		headline := item.Title
		// Google appends " - <publisher>" to titles.
		if idx := strings.LastIndex(headline, " - "); idx > 0 {
			headline = headline[:idx]
		}
		articles = append(articles, domain.Article{
			Time:     t,
			Source:   "google",
			Headline: headline,
			Content:  StripHTML(item.Desc),
			URL:      item.Link,
		})
	}
	return articles, nil
}

// --- StockTwits ---

type stocktwitsResponse struct {
	Response struct {
		Status int `json:"status"`
	} `json:"response"`
	Messages []struct {
		ID        int    `json:"id"`
		Body      string `json:"body"`
		CreatedAt string `json:"created_at"`
		User      struct {
			Username string `json:"username"`
		} `json:"user"`
	} `json:"messages"`
}

func (f *Fetcher) stockTwits(ctx context.Context, symbol string, limit int) ([]domain.SocialPost, error) {
	u := "https://api.stocktwits.com/api/2/streams/symbol/" + url.PathEscape(symbol) + ".json"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", "Mozilla/5.0")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	var st stocktwitsResponse
	if err := json.Unmarshal(body, &st); err != nil {
		return nil, err
	}
	if st.Response.Status != 200 {
		return nil, fmt.Errorf("stocktwits status %d", st.Response.Status)
	}

	posts := make([]domain.SocialPost, 0, len(st.Messages))
	for _, msg := range st.Messages {
		if limit > 0 && len(posts) >= limit {
			break
		}
		t, err := time.Parse("2006-01-02T15:04:05Z", msg.CreatedAt)
		if err != nil {
			continue
		}
		posts = append(posts, domain.SocialPost{
			Time:   t,
			Source: "stocktwits",
			Author: msg.User.Username,
			Text:   html.UnescapeString(msg.Body),
		})
	}
	return posts, nil
}

// --- HTML helpers ---

var htmlTagRe = regexp.MustCompile(`<[^>]*>`)

// StripHTML removes HTML tags and normalizes whitespace.
func StripHTML(s string) string {
	s = htmlTagRe.ReplaceAllString(s, " ")
	s = html.UnescapeString(s)
	return strings.Join(strings.Fields(s), " ")
}
