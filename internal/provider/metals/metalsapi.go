package metals

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"marketdata/internal/httpx"
	"marketdata/internal/provider"
)

// MetalsAPIConfig controls the Metals-API adapter.
type MetalsAPIConfig struct {
	Name   string
	APIKey string
}

// MetalsAPI reads spot rates from metals-api.com. The API quotes how much of
// each metal one USD buys, so prices are the reciprocal of the rate. The 24h
// change is derived from yesterday's historical rates when available.
type MetalsAPI struct {
	cfg    MetalsAPIConfig
	client *httpx.Client
	log    zerolog.Logger
	now    func() time.Time
}

func NewMetalsAPI(cfg MetalsAPIConfig, hc *httpx.Client, log zerolog.Logger) *MetalsAPI {
	if cfg.Name == "" {
		cfg.Name = "Metals API"
	}
	return &MetalsAPI{cfg: cfg, client: hc, log: log, now: time.Now}
}

func (m *MetalsAPI) Name() string { return m.cfg.Name }

func (m *MetalsAPI) Fetch(ctx context.Context, symbols []string) ([]provider.Quote, error) {
	key := strings.TrimSpace(m.cfg.APIKey)
	if key == "" || strings.EqualFold(key, "demo") {
		return nil, provider.ErrNotConfigured
	}

	latest, err := m.rates(ctx, "api/latest", symbols)
	if err != nil {
		return nil, err
	}
	yesterday := m.now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	prev, err := m.rates(ctx, "api/"+yesterday, symbols)
	if err != nil {
		// change figures stay zero; spot prices are still good
		m.log.Debug().Err(err).Msg("metals-api historical rates unavailable")
		prev = metalsAPIResponse{}
	}

	ts := m.now()
	if latest.Timestamp > 0 {
		ts = time.Unix(latest.Timestamp, 0)
	}
	out := make([]provider.Quote, 0, len(symbols))
	for _, sym := range symbols {
		rate := latest.Rates[strings.ToUpper(sym)]
		if rate <= 0 {
			continue
		}
		price := 1 / rate
		q := provider.Quote{
			InstrumentID: strings.ToUpper(sym),
			Name:         NameOf(sym),
			Price:        price,
			Currency:     "USD",
			Timestamp:    ts,
			Source:       m.cfg.Name,
		}
		if pr := prev.Rates[strings.ToUpper(sym)]; pr > 0 {
			before := 1 / pr
			q.Change = price - before
			q.ChangePercent = q.Change / before * 100
		}
		out = append(out, q)
	}
	return out, nil
}

func (m *MetalsAPI) rates(ctx context.Context, path string, symbols []string) (metalsAPIResponse, error) {
	var body metalsAPIResponse
	params := url.Values{
		"access_key": {m.cfg.APIKey},
		"base":       {"USD"},
		"symbols":    {strings.Join(symbols, ",")},
	}
	if err := m.client.GetJSON(ctx, path, params, &body); err != nil {
		return body, err
	}
	if body.Error != nil {
		return body, fmt.Errorf("metals-api error %d: %s", body.Error.Code, body.Error.Info)
	}
	if body.Success != nil && !*body.Success {
		return body, errors.New("metals-api: request unsuccessful")
	}
	return body, nil
}

type metalsAPIResponse struct {
	Success   *bool              `json:"success"`
	Timestamp int64              `json:"timestamp"`
	Base      string             `json:"base"`
	Rates     map[string]float64 `json:"rates"`
	Error     *struct {
		Code int    `json:"code"`
		Type string `json:"type"`
		Info string `json:"info"`
	} `json:"error"`
}
