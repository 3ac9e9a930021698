package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/gosight/funnel/internal/cache"
	"github.com/gosight/funnel/internal/funnel"
	"github.com/gosight/funnel/internal/loader"
	"github.com/gosight/funnel/internal/metrics"
	"github.com/gosight/funnel/internal/resultcache"
)

type HTTPHandler struct {
	source  loader.Source
	tables  *cache.Tables
	results *resultcache.Cache
}

// NewHTTPHandler serves funnel queries over src. results may be nil.
func NewHTTPHandler(src loader.Source, tables *cache.Tables, results *resultcache.Cache) *HTTPHandler {
	return &HTTPHandler{
		source:  src,
		tables:  tables,
		results: results,
	}
}

// Router wires the API routes and middleware.
func (h *HTTPHandler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)
	r.Use(CORSMiddleware)
	r.Use(metrics.Middleware)

	r.Get("/health", HealthCheck)
	r.Handle("/metrics", metrics.Handler())
	r.Route("/v1", func(r chi.Router) {
		r.Get("/dimensions", h.HandleDimensions)
		r.Get("/funnel", h.HandleFunnel)
		r.Get("/breakdown", h.HandleBreakdown)
		r.Get("/trend", h.HandleTrend)
		r.Post("/reload", h.HandleReload)
	})
	return r
}

type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

type FilterResponse struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
	Tiers []string  `json:"tiers"`
}

type FunnelResponse struct {
	Filter FilterResponse `json:"filter"`
	Result funnel.Result  `json:"result"`
}

type BreakdownResponse struct {
	By     string         `json:"by"`
	Filter FilterResponse `json:"filter"`
	Groups []funnel.Group `json:"groups"`
}

type TrendResponse struct {
	Filter FilterResponse      `json:"filter"`
	Points []funnel.TrendPoint `json:"points"`
}

type DimensionsResponse struct {
	Stages     []string       `json:"stages"`
	Tiers      []string       `json:"tiers"`
	Categories []string       `json:"categories"`
	Sellers    []string       `json:"sellers"`
	Start      time.Time      `json:"start"`
	End        time.Time      `json:"end"`
	Rows       int            `json:"rows"`
	Dropped    map[string]int `json:"dropped"`
	Skipped    int            `json:"skipped"`
}

type ReloadResponse struct {
	Success   bool   `json:"success"`
	Rows      int    `json:"rows"`
	Signature string `json:"signature"`
}

func (h *HTTPHandler) HandleDimensions(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, func(t *funnel.Table) (interface{}, error) {
		start, end := t.Span()
		dropped := t.Dropped
		if dropped == nil {
			dropped = map[string]int{}
		}
		stages := make([]string, 0, funnel.NumStages)
		for _, s := range funnel.Stages {
			stages = append(stages, s.String())
		}
		return DimensionsResponse{
			Stages:     stages,
			Tiers:      t.Tiers(),
			Categories: t.Categories(),
			Sellers:    t.Sellers(),
			Start:      start,
			End:        end,
			Rows:       t.Len(),
			Dropped:    dropped,
			Skipped:    t.Skipped,
		}, nil
	})
}

func (h *HTTPHandler) HandleFunnel(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, func(t *funnel.Table) (interface{}, error) {
		f, err := ParseFilter(r.URL.Query(), t)
		if err != nil {
			return nil, err
		}
		return FunnelResponse{Filter: filterResponse(f), Result: funnel.Aggregate(t, f)}, nil
	})
}

func (h *HTTPHandler) HandleBreakdown(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, func(t *funnel.Table) (interface{}, error) {
		by := r.URL.Query().Get("by")
		if by == "" {
			by = funnel.DimCityTier.String()
		}
		d, ok := funnel.ParseDimension(by)
		if !ok || d == funnel.DimDay {
			return nil, badParam("by", by, errors.New("want city_tier, category or seller"))
		}
		f, err := ParseFilter(r.URL.Query(), t)
		if err != nil {
			return nil, err
		}
		groups := funnel.AggregateBy(t, f, d)
		return BreakdownResponse{By: d.String(), Filter: filterResponse(f), Groups: groups}, nil
	})
}

func (h *HTTPHandler) HandleTrend(w http.ResponseWriter, r *http.Request) {
	h.serveCached(w, r, func(t *funnel.Table) (interface{}, error) {
		f, err := ParseFilter(r.URL.Query(), t)
		if err != nil {
			return nil, err
		}
		return TrendResponse{Filter: filterResponse(f), Points: funnel.Trend(t, f)}, nil
	})
}

// HandleReload drops the cached table and loads the source again.
func (h *HTTPHandler) HandleReload(w http.ResponseWriter, r *http.Request) {
	h.tables.Invalidate(h.source.Key())
	t, sig, err := h.tables.Get(r.Context(), h.source)
	if err != nil {
		writeLoadError(w, err)
		return
	}
	log.Info().Str("source", h.source.Key()).Int("rows", t.Len()).Msg("Source reloaded")
	writeJSON(w, http.StatusOK, ReloadResponse{Success: true, Rows: t.Len(), Signature: sig})
}

// serveCached loads the table, then answers from the result cache or from
// build. Cache keys include the table signature.
func (h *HTTPHandler) serveCached(w http.ResponseWriter, r *http.Request, build func(*funnel.Table) (interface{}, error)) {
	t, sig, err := h.tables.Get(r.Context(), h.source)
	if err != nil {
		writeLoadError(w, err)
		return
	}

	key := resultcache.Key(sig, r.URL.Path+"?"+r.URL.Query().Encode())
	if body, ok := h.results.Get(r.Context(), key); ok {
		writeBody(w, http.StatusOK, body)
		return
	}

	v, err := build(t)
	if err != nil {
		var pe *paramError
		if errors.As(err, &pe) {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid parameter", Detail: pe.Error()})
			return
		}
		log.Error().Err(err).Str("path", r.URL.Path).Msg("Failed to build response")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	body, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		writeJSON(w, http.StatusInternalServerError, ErrorResponse{Error: "internal error"})
		return
	}
	h.results.Set(context.WithoutCancel(r.Context()), key, body)
	writeBody(w, http.StatusOK, body)
}

func writeLoadError(w http.ResponseWriter, err error) {
	log.Error().Err(err).Msg("Failed to load event table")
	resp := ErrorResponse{Error: "data unavailable", Detail: err.Error()}
	if !errors.Is(err, loader.ErrDataUnavailable) && !errors.Is(err, loader.ErrMalformedRow) {
		resp.Detail = ""
	}
	writeJSON(w, http.StatusServiceUnavailable, resp)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeBody(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(body)
}

func HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func CORSMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
