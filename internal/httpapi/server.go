package httpapi

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"

	"hypewatch/internal/analyze"
	"hypewatch/internal/bookmarks"
	"hypewatch/internal/dashboard"
	"hypewatch/internal/domain"
	"hypewatch/internal/feeds"
	"hypewatch/internal/history"
)

// Server serves the dashboard HTTP API.
type Server struct {
	tracker    *dashboard.Tracker
	store      bookmarks.Store
	archive    *history.Archive // nil: history endpoint returns empty
	feeds      *feeds.Fetcher   // nil: live feed fallback disabled
	backendURL string
	log        *slog.Logger

	hub *Hub
}

// NewServer creates the dashboard API server.
func NewServer(
	tracker *dashboard.Tracker,
	store bookmarks.Store,
	archive *history.Archive,
	fetcher *feeds.Fetcher,
	backendURL string,
	log *slog.Logger,
) *Server {
	return &Server{
		tracker:    tracker,
		store:      store,
		archive:    archive,
		feeds:      fetcher,
		backendURL: backendURL,
		log:        log,
		hub:        NewHub(tracker, log),
	}
}

// Hub returns the WebSocket hub; its Run loop must be started by the caller.
func (s *Server) Hub() *Hub { return s.hub }

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/dashboard", s.handleDashboard)
	mux.HandleFunc("GET /api/watchlist", s.handleGetWatchlist)
	mux.HandleFunc("PUT /api/watchlist/{symbol}", s.handleAddWatchlist)
	mux.HandleFunc("DELETE /api/watchlist/{symbol}", s.handleRemoveWatchlist)
	mux.HandleFunc("GET /api/analyze/{symbol}", s.handleAnalyze)
	mux.HandleFunc("GET /api/news/{symbol}", s.handleNews)
	mux.HandleFunc("GET /api/history/{symbol}", s.handleHistory)
	mux.HandleFunc("GET /api/trending", s.handleTrending)
	mux.HandleFunc("GET /ws", s.hub.ServeWS)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	entries, err := s.tracker.Snapshot()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read dashboard state")
		return
	}

	out := make([]EntryJSON, 0, len(entries))
	for _, e := range entries {
		out = append(out, convertEntry(e))
	}
	writeJSON(w, DashboardResponse{Entries: out})
}

func (s *Server) handleGetWatchlist(w http.ResponseWriter, r *http.Request) {
	symbols, err := bookmarks.Symbols(s.store)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to read watchlist")
		return
	}
	writeJSON(w, WatchlistResponse{Symbols: symbols})
}

func (s *Server) handleAddWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	if err := bookmarks.AddSymbol(s.store, symbol); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to add %s: %v", symbol, err))
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleRemoveWatchlist(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(r.PathValue("symbol"))
	if err := bookmarks.RemoveSymbol(s.store, symbol); err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("failed to remove %s: %v", symbol, err))
		return
	}
	s.tracker.Forget(symbol)
	w.WriteHeader(http.StatusNoContent)
}

// analyzeResultJSON is the terminal SSE record of the relay stream.
type analyzeResultJSON struct {
	Type   string                 `json:"type"` // always "result"
	Symbol string                 `json:"symbol"`
	Phase  string                 `json:"phase"`
	Result *domain.AnalysisResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// handleAnalyze starts (or re-runs, with ?refresh=true) an analysis and
// relays its step updates to the browser as an SSE stream, closing with a
// terminal "result" record.
func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(r.PathValue("symbol"))
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}
	force := r.URL.Query().Get("refresh") == "true"

	fl, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	// Subscribe before starting so no step update is missed.
	id, updates := s.tracker.Subscribe(64)
	defer s.tracker.Unsubscribe(id)

	client, done := s.tracker.Analyze(r.Context(), symbol, force)

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)
	fl.Flush()

	for {
		select {
		case u := <-updates:
			if u.Symbol != symbol || u.Type != "step" {
				continue
			}
			s.writeSSE(w, fl, u)
		case <-done:
			// Flush step updates already queued before the stream finished.
			for drained := false; !drained; {
				select {
				case u := <-updates:
					if u.Symbol == symbol && u.Type == "step" {
						s.writeSSE(w, fl, u)
					}
				default:
					drained = true
				}
			}
			st := client.Snapshot()
			res := analyzeResultJSON{Type: "result", Symbol: symbol, Phase: st.Phase.String(), Result: st.Result}
			if st.Err != nil {
				res.Error = st.Err.Error()
			}
			s.writeSSE(w, fl, res)
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (s *Server) writeSSE(w http.ResponseWriter, fl http.Flusher, v any) {
	b, err := json.Marshal(v)
	if err != nil {
		s.log.Error("encoding SSE record", "error", err)
		return
	}
	fmt.Fprintf(w, "data: %s\n\n", b)
	fl.Flush()
}

// handleNews serves news and social feeds for a symbol. A tracked result that
// already carries feed payloads is served as-is; otherwise the live sources
// are queried.
func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(r.PathValue("symbol"))

	resp := NewsResponse{Symbol: symbol, Articles: []domain.Article{}, Posts: []domain.SocialPost{}}

	if res := s.tracker.Client(symbol).Snapshot().Result; res != nil {
		if res.NewsData != nil {
			resp.Articles = res.NewsData.Articles
		}
		if res.SocialData != nil {
			resp.Posts = res.SocialData.Posts
		}
	}

	if s.feeds != nil {
		if len(resp.Articles) == 0 {
			resp.Articles = s.feeds.News(r.Context(), symbol, 30)
		}
		if len(resp.Posts) == 0 {
			resp.Posts = s.feeds.Social(r.Context(), symbol, 30)
		}
	}

	if resp.Articles == nil {
		resp.Articles = []domain.Article{}
	}
	if resp.Posts == nil {
		resp.Posts = []domain.SocialPost{}
	}
	writeJSON(w, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	symbol := domain.NormalizeSymbol(r.PathValue("symbol"))

	resp := HistoryResponse{Symbol: symbol, Points: []ScorePointJSON{}}
	if s.archive != nil {
		records, err := s.archive.Symbol(symbol)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "failed to read score history")
			return
		}
		resp.Points = convertHistory(records)
	}
	writeJSON(w, resp)
}

func (s *Server) handleTrending(w http.ResponseWriter, r *http.Request) {
	stocks, err := analyze.FetchTrending(r.Context(), s.backendURL, nil)
	if err != nil {
		s.log.Warn("trending fetch failed", "error", err)
		writeError(w, http.StatusBadGateway, "trending data unavailable")
		return
	}
	writeJSON(w, TrendingResponse{Stocks: stocks})
}
