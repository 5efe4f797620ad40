package httpx_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"marketdata/internal/apierr"
	"marketdata/internal/httpx"
)

func response(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{
		StatusCode: status,
		Header:     header,
		Body:       io.NopCloser(strings.NewReader(body)),
	}
}

// recordSleeps returns a sleeper that records delays instead of waiting.
func recordSleeps(delays *[]time.Duration) httpx.Option {
	return httpx.WithSleeper(func(_ context.Context, d time.Duration) error {
		*delays = append(*delays, d)
		return nil
	})
}

func TestRequest_AttachesSessionHeaders(t *testing.T) {
	t.Parallel()

	// Arrange: create a mock controller and http client
	ctrl := gomock.NewController(t)
	hc := NewMockHTTPClient(ctrl)
	hc.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "premium", req.Header.Get(httpx.HeaderPlan))
			require.Equal(t, "Asia", req.Header.Get(httpx.HeaderContinent))
			require.Equal(t, "user-1", req.Header.Get(httpx.HeaderUserID))
			require.Equal(t, "marketdata/1.0", req.Header.Get("User-Agent"))
			require.Equal(t, "http://backend:8000/stocks/AAPL/chart?interval=1d&period=1y", req.URL.String())
			return response(http.StatusOK, `{}`, nil), nil
		}).
		Times(1)

	client := httpx.New(time.Second,
		httpx.WithHTTPClient(hc),
		httpx.WithBaseURL("http://backend:8000/"),
		httpx.WithSession(httpx.NewSession("premium", "Asia", "user-1")),
	)

	// Act
	resp, err := client.Request(t.Context(), http.MethodGet, "/stocks/AAPL/chart", url.Values{"period": {"1y"}, "interval": {"1d"}}, nil)

	// Assert
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestRequest_ContextSessionOverridesClientSession(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := NewMockHTTPClient(ctrl)
	hc.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			require.Equal(t, "premium-plus", req.Header.Get(httpx.HeaderPlan))
			require.Equal(t, "Europe", req.Header.Get(httpx.HeaderContinent))
			require.Equal(t, "user-1", req.Header.Get(httpx.HeaderUserID))
			return response(http.StatusOK, `{}`, nil), nil
		}).
		Times(1)

	session := httpx.NewSession("free", "Europe", "user-1")
	client := httpx.New(time.Second, httpx.WithHTTPClient(hc), httpx.WithBaseURL("http://backend"), httpx.WithSession(session))

	ctx := httpx.WithSessionContext(t.Context(), httpx.SessionSnapshot{Plan: "premium-plus"})
	_, err := client.Request(ctx, http.MethodGet, "stocks/AAPL", nil, nil)
	require.NoError(t, err)
}

func TestNewSession_GeneratesAnonymousUserID(t *testing.T) {
	t.Parallel()

	s := httpx.NewSession("free", "", "")
	require.True(t, strings.HasPrefix(s.Snapshot().UserID, "anon-"))

	s.SetUserID("u-2")
	s.SetPlan("premium")
	s.SetContinent("Americas")
	require.Equal(t, httpx.SessionSnapshot{Plan: "premium", Continent: "Americas", UserID: "u-2"}, s.Snapshot())
}

func TestDo_RateLimitedRetriesAtMostThreeTimes(t *testing.T) {
	t.Parallel()

	// Arrange: every attempt is rate limited.
	ctrl := gomock.NewController(t)
	hc := NewMockHTTPClient(ctrl)
	hc.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(*http.Request) (*http.Response, error) {
			return response(http.StatusTooManyRequests, "slow down", nil), nil
		}).
		Times(4)

	var delays []time.Duration
	client := httpx.New(time.Second,
		httpx.WithHTTPClient(hc),
		httpx.WithBaseURL("http://backend"),
		httpx.WithRetry(httpx.RetryPolicy{MaxRetries: 3, BaseDelay: 100 * time.Millisecond}),
		recordSleeps(&delays),
	)

	// Act
	_, err := client.Request(t.Context(), http.MethodGet, "/stocks/AAPL", nil, nil)

	// Assert: the final 429 is propagated unchanged after exponential waits.
	var se *apierr.StatusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, http.StatusTooManyRequests, se.StatusCode)
	require.Equal(t, "slow down", string(se.Body))
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}, delays)
}

func TestDefaultRetryPolicy(t *testing.T) {
	t.Parallel()

	p := httpx.DefaultRetryPolicy()

	require.Equal(t, 3, p.MaxRetries)
	require.Equal(t, 500*time.Millisecond, p.BaseDelay)
	require.Equal(t, 10*time.Second, p.MaxDelay)
	require.Equal(t, p, httpx.New(time.Second).Retry)
}

func TestDo_RetryAfterHeaderIsHonoured(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := NewMockHTTPClient(ctrl)
	gomock.InOrder(
		hc.EXPECT().Do(gomock.Any()).Return(response(http.StatusServiceUnavailable, "", http.Header{"Retry-After": {"2"}}), nil),
		hc.EXPECT().Do(gomock.Any()).Return(response(http.StatusOK, `{"ok":true}`, nil), nil),
	)

	var delays []time.Duration
	client := httpx.New(time.Second, httpx.WithHTTPClient(hc), httpx.WithBaseURL("http://backend"), recordSleeps(&delays))

	var out struct {
		OK bool `json:"ok"`
	}
	err := client.GetJSON(t.Context(), "/ml/predict/AAPL", nil, &out)
	require.NoError(t, err)
	require.True(t, out.OK)
	require.Equal(t, []time.Duration{2 * time.Second}, delays)
}

func TestDo_RetryAfterHTTPDate(t *testing.T) {
	t.Parallel()

	now := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	ctrl := gomock.NewController(t)
	hc := NewMockHTTPClient(ctrl)
	gomock.InOrder(
		hc.EXPECT().Do(gomock.Any()).Return(response(http.StatusTooManyRequests, "", http.Header{
			"Retry-After": {now.Add(3 * time.Second).Format(http.TimeFormat)},
		}), nil),
		hc.EXPECT().Do(gomock.Any()).Return(response(http.StatusOK, `{}`, nil), nil),
	)

	var delays []time.Duration
	client := httpx.New(time.Second,
		httpx.WithHTTPClient(hc),
		httpx.WithBaseURL("http://backend"),
		httpx.WithClock(func() time.Time { return now }),
		recordSleeps(&delays),
	)
	_, err := client.Request(t.Context(), http.MethodGet, "/stocks/AAPL", nil, nil)
	require.NoError(t, err)
	require.Equal(t, []time.Duration{3 * time.Second}, delays)
}

func TestDo_NonRetryableStatusIsNotRetried(t *testing.T) {
	t.Parallel()

	for _, status := range []int{http.StatusInternalServerError, http.StatusNotFound, http.StatusBadRequest} {
		ctrl := gomock.NewController(t)
		hc := NewMockHTTPClient(ctrl)
		hc.EXPECT().Do(gomock.Any()).Return(response(status, "nope", nil), nil).Times(1)

		var delays []time.Duration
		client := httpx.New(time.Second, httpx.WithHTTPClient(hc), httpx.WithBaseURL("http://backend"), recordSleeps(&delays))
		_, err := client.Request(t.Context(), http.MethodGet, "/stocks/AAPL", nil, nil)
		require.Error(t, err)
		require.Equal(t, status, apierr.StatusCode(err))
		require.Empty(t, delays)
	}
}

func TestDo_MarketRestrictionSurfacesStructuredError(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := NewMockHTTPClient(ctrl)
	hc.EXPECT().Do(gomock.Any()).Return(response(http.StatusForbidden,
		`{"detail":{"code":"MARKET_RESTRICTED","market":"Indian","currentPlan":"free","requiredPlan":"premium"}}`, nil), nil).Times(1)

	client := httpx.New(time.Second, httpx.WithHTTPClient(hc), httpx.WithBaseURL("http://backend"))
	_, err := client.Request(t.Context(), http.MethodGet, "/stocks/RELIANCE.NS", nil, nil)

	r, ok := apierr.AsMarketRestricted(err)
	require.True(t, ok)
	require.Equal(t, "Indian", r.Market)
	require.Equal(t, "free", r.CurrentPlan)
	require.Equal(t, "premium", r.RequiredPlan)
}

func TestDo_TransportErrorIsNotRetried(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := NewMockHTTPClient(ctrl)
	boom := errors.New("connection refused")
	hc.EXPECT().Do(gomock.Any()).Return(nil, boom).Times(1)

	client := httpx.New(time.Second, httpx.WithHTTPClient(hc), httpx.WithBaseURL("http://backend"))
	_, err := client.Request(t.Context(), http.MethodGet, "/stocks/AAPL", nil, nil)
	require.ErrorIs(t, err, boom)
}

func TestDo_RetriedPostReplaysBody(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := NewMockHTTPClient(ctrl)
	var bodies []string
	hc.EXPECT().
		Do(gomock.Any()).
		DoAndReturn(func(req *http.Request) (*http.Response, error) {
			b, err := io.ReadAll(req.Body)
			require.NoError(t, err)
			bodies = append(bodies, string(b))
			if len(bodies) == 1 {
				return response(http.StatusServiceUnavailable, "", nil), nil
			}
			return response(http.StatusOK, `{}`, nil), nil
		}).
		Times(2)

	var delays []time.Duration
	client := httpx.New(time.Second, httpx.WithHTTPClient(hc), httpx.WithBaseURL("http://backend"), recordSleeps(&delays))
	_, err := client.Request(t.Context(), http.MethodPost, "/notes", nil, map[string]string{"title": "buy"})
	require.NoError(t, err)
	require.Equal(t, []string{`{"title":"buy"}`, `{"title":"buy"}`}, bodies)
}

func TestDo_CancelledWhileWaiting(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := NewMockHTTPClient(ctrl)
	hc.EXPECT().Do(gomock.Any()).Return(response(http.StatusTooManyRequests, "", http.Header{"Retry-After": {"5"}}), nil).Times(1)

	ctx, cancel := context.WithCancel(t.Context())
	cancel()
	client := httpx.New(time.Second, httpx.WithHTTPClient(hc), httpx.WithBaseURL("http://backend"))
	_, err := client.Request(ctx, http.MethodGet, "/stocks/AAPL", nil, nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestRequest_RejectsAbsolutePath(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	hc := NewMockHTTPClient(ctrl)
	hc.EXPECT().Do(gomock.Any()).Times(0)

	client := httpx.New(time.Second, httpx.WithHTTPClient(hc), httpx.WithBaseURL("http://backend"))
	_, err := client.Request(t.Context(), http.MethodGet, "https://evil.example/stocks", nil, nil)
	require.Error(t, err)
	_, err = client.Request(t.Context(), http.MethodGet, "//evil.example/stocks", nil, nil)
	require.Error(t, err)
}
