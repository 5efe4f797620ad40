package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"

	"marketdata/internal/apierr"
	"marketdata/internal/app"
	"marketdata/internal/backend"
	"marketdata/internal/board"
	"marketdata/internal/currency"
	"marketdata/internal/httpx"
	"marketdata/internal/provider"
)

type handlers struct {
	app *app.App
	log zerolog.Logger
	now func() time.Time
}

func newRouter(a *app.App, timeout time.Duration) http.Handler {
	h := &handlers{app: a, log: a.Log.With().Str("component", "server").Logger(), now: time.Now}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.requestLogger)
	r.Use(middleware.Recoverer)
	if timeout > 0 {
		r.Use(middleware.Timeout(timeout))
	}
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: a.Config.Server.AllowedOrigins,
		AllowedMethods: []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", httpx.HeaderPlan, httpx.HeaderContinent, httpx.HeaderUserID},
		MaxAge:         300,
	}))
	r.Use(middleware.Compress(5))
	r.Use(forwardSession)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/rates", h.rates)
		r.Get("/countries", h.countries)
		r.Get("/metals/{country}", h.metals)
		r.Get("/crypto", h.crypto)
		r.Get("/board", h.board)
		r.Route("/stocks", func(r chi.Router) {
			r.Get("/search", h.search)
			r.Get("/{symbol}", h.stock)
			r.Get("/{symbol}/chart", h.chart)
			r.Get("/{symbol}/news", h.news)
			r.Get("/{symbol}/technical", h.technical)
			r.Get("/{symbol}/info", h.info)
			r.Get("/{symbol}/metrics", h.advancedMetrics)
		})
		r.Get("/ml/predict/{symbol}", h.predict)
	})
	return r
}

// forwardSession makes backend calls made on behalf of a request carry the
// caller's X-* session headers.
func forwardSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s := httpx.SessionFromHeader(r.Header)
		if s != (httpx.SessionSnapshot{}) {
			r = r.WithContext(httpx.WithSessionContext(r.Context(), s))
		}
		next.ServeHTTP(w, r)
	})
}

func (h *handlers) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Int("bytes", ww.BytesWritten()).
			Dur("duration", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("http request")
	})
}

type ratesResponse struct {
	provider.RateTable
	FetchedAt *time.Time `json:"fetched_at,omitempty"`
}

func (h *handlers) rates(w http.ResponseWriter, r *http.Request) {
	t := h.app.Rates.Table(r.Context())
	resp := ratesResponse{RateTable: t}
	if _, at := h.app.Rates.Snapshot(); !at.IsZero() {
		resp.FetchedAt = &at
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handlers) countries(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"countries": currency.Countries()})
}

func (h *handlers) metals(w http.ResponseWriter, r *http.Request) {
	cm, err := h.app.Metals.ForCountry(r.Context(), chi.URLParam(r, "country"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cm)
}

type cryptoResponse struct {
	Currency string           `json:"currency"`
	Quotes   []provider.Quote `json:"quotes"`
}

func (h *handlers) crypto(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	symbols := splitCSV(q.Get("symbols"))
	if len(symbols) > 100 {
		badRequest(w, "too many symbols (max 100)")
		return
	}
	cur := strings.ToUpper(strings.TrimSpace(q.Get("currency")))
	if cur == "" {
		cur = currency.Base
	}
	writeJSON(w, http.StatusOK, cryptoResponse{Currency: cur, Quotes: h.app.Crypto.Quotes(r.Context(), symbols, cur)})
}

type boardRow struct {
	board.Entry
	PriceText         string `json:"price_text"`
	ChangeText        string `json:"change_text"`
	ChangePercentText string `json:"change_percent_text"`
}

type boardResponse struct {
	Country  string     `json:"country"`
	Currency string     `json:"currency"`
	Entries  []boardRow `json:"entries"`
}

// board merges the country's metals with the crypto assets priced in the same
// currency.
func (h *handlers) board(w http.ResponseWriter, r *http.Request) {
	country := r.URL.Query().Get("country")
	if country == "" {
		country = "US"
	}
	cm, err := h.app.Metals.ForCountry(r.Context(), country)
	if err != nil {
		h.writeError(w, err)
		return
	}
	cryptoQuotes := h.app.Crypto.Quotes(r.Context(), nil, cm.Currency)

	entries := board.Latest(h.now(), cm.Metals, cryptoQuotes)
	rows := make([]boardRow, 0, len(entries))
	for _, e := range entries {
		rows = append(rows, boardRow{
			Entry:             e,
			PriceText:         currency.FormatPrice(e.Price, e.Currency),
			ChangeText:        currency.FormatChange(e.Change, e.Currency),
			ChangePercentText: currency.FormatChangePercent(e.ChangePercent),
		})
	}
	writeJSON(w, http.StatusOK, boardResponse{Country: cm.CountryCode, Currency: cm.Currency, Entries: rows})
}

func (h *handlers) search(w http.ResponseWriter, r *http.Request) {
	res, err := h.app.Backend.Search(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"results": res})
}

func (h *handlers) stock(w http.ResponseWriter, r *http.Request) {
	symbol := chi.URLParam(r, "symbol")
	s, err := h.app.Backend.Stock(r.Context(), symbol)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if s.Currency == "" {
		s.Currency = currency.ForInstrument(symbol)
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *handlers) chart(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	points, err := h.app.Backend.Chart(r.Context(), chi.URLParam(r, "symbol"), q.Get("period"), q.Get("interval"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": points})
}

func (h *handlers) news(w http.ResponseWriter, r *http.Request) {
	maxArticles, ok := intParam(w, r, "max")
	if !ok {
		return
	}
	rep, err := h.app.Backend.News(r.Context(), chi.URLParam(r, "symbol"), maxArticles)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rep)
}

func (h *handlers) technical(w http.ResponseWriter, r *http.Request) {
	t, err := h.app.Backend.Technical(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (h *handlers) info(w http.ResponseWriter, r *http.Request) {
	info, err := h.app.Backend.Info(r.Context(), chi.URLParam(r, "symbol"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *handlers) advancedMetrics(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var rfr float64
	if v := q.Get("risk_free_rate"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			badRequest(w, "invalid risk_free_rate")
			return
		}
		rfr = f
	}
	m, err := h.app.Backend.AdvancedMetrics(r.Context(), chi.URLParam(r, "symbol"), q.Get("period"), rfr)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, m)
}

func (h *handlers) predict(w http.ResponseWriter, r *http.Request) {
	days, ok := intParam(w, r, "days")
	if !ok {
		return
	}
	p, err := h.app.Backend.Predict(r.Context(), chi.URLParam(r, "symbol"), days)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps access-layer errors onto HTTP statuses. A market restriction
// is rendered with its structured details under "detail", the same shape the
// backend uses.
func (h *handlers) writeError(w http.ResponseWriter, err error) {
	if rst, ok := apierr.AsMarketRestricted(err); ok {
		writeJSON(w, http.StatusForbidden, map[string]any{"detail": rst})
		return
	}

	status := http.StatusBadGateway
	switch {
	case errors.Is(err, currency.ErrUnknownCountry), errors.Is(err, backend.ErrNoData):
		status = http.StatusNotFound
	case errors.Is(err, context.DeadlineExceeded):
		status = http.StatusGatewayTimeout
	case apierr.StatusCode(err) != 0:
		status = apierr.StatusCode(err)
	}
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Int("status", status).Msg("request failed")
	}
	writeJSON(w, status, errorBody{Error: err.Error()})
}

func badRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: msg})
}

// intParam reads an optional non-negative integer query parameter; 0 when absent.
func intParam(w http.ResponseWriter, r *http.Request, name string) (int, bool) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return 0, true
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		badRequest(w, "invalid "+name)
		return 0, false
	}
	return n, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

func splitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
