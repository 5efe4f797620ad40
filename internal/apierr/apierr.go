// Package apierr classifies failures returned by the backend API and by
// third-party market-data providers.
package apierr

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// ReasonMarketRestricted is the machine-readable code the backend puts in a
// 403 body when the caller's plan does not cover the requested market.
const ReasonMarketRestricted = "MARKET_RESTRICTED"

// StatusError is a completed HTTP exchange with a non-2xx status.
type StatusError struct {
	Method     string
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(string(e.Body))
	if body == "" {
		return fmt.Sprintf("%s %s -> %d", e.Method, e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s %s -> %d: %s", e.Method, e.URL, e.StatusCode, body)
}

// Retryable reports whether the status is transient (rate limited or unavailable).
func (e *StatusError) Retryable() bool {
	return e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusServiceUnavailable
}

// MarketRestrictedError is the structured form of a 403 market restriction.
// It is an expected business condition: callers render it, they do not log it
// as a failure.
type MarketRestrictedError struct {
	Code             string   `json:"code"`
	Market           string   `json:"market"`
	CurrentPlan      string   `json:"currentPlan"`
	RequiredPlan     string   `json:"requiredPlan"`
	Message          string   `json:"message"`
	Details          string   `json:"details,omitempty"`
	AvailableMarkets []string `json:"availableMarkets,omitempty"`
	UpgradeURL       string   `json:"upgradeUrl,omitempty"`

	Status *StatusError `json:"-"`
}

func (e *MarketRestrictedError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("market %q restricted: %s", e.Market, e.Message)
	}
	return fmt.Sprintf("market %q restricted: plan %q requires %q", e.Market, e.CurrentPlan, e.RequiredPlan)
}

func (e *MarketRestrictedError) Unwrap() error {
	if e.Status == nil {
		return nil
	}
	return e.Status
}

// FromResponse builds the error for a non-2xx response. A 403 whose body
// carries the market-restriction code becomes a *MarketRestrictedError
// wrapping the *StatusError; everything else is a plain *StatusError.
func FromResponse(method, url string, status int, body []byte) error {
	se := &StatusError{Method: method, URL: url, StatusCode: status, Body: body}
	if status == http.StatusForbidden {
		if r, ok := parseRestriction(body); ok {
			r.Status = se
			return r
		}
	}
	return se
}

// parseRestriction accepts the restriction either at the top level of the
// body or inside a {"detail": {...}} envelope.
func parseRestriction(body []byte) (*MarketRestrictedError, bool) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || body[0] != '{' {
		return nil, false
	}
	var envelope struct {
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, false
	}
	candidates := [][]byte{body}
	if d := bytes.TrimSpace(envelope.Detail); len(d) > 0 && d[0] == '{' {
		candidates = [][]byte{d, body}
	}
	for _, c := range candidates {
		var r MarketRestrictedError
		if err := json.Unmarshal(c, &r); err != nil {
			continue
		}
		if strings.EqualFold(r.Code, ReasonMarketRestricted) {
			return &r, true
		}
	}
	return nil, false
}

// IsMarketRestricted reports whether err is, or wraps, a market restriction.
func IsMarketRestricted(err error) bool {
	_, ok := AsMarketRestricted(err)
	return ok
}

// AsMarketRestricted extracts the restriction details from err.
func AsMarketRestricted(err error) (*MarketRestrictedError, bool) {
	var r *MarketRestrictedError
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}

// IsRetryable reports whether err is a transient status (429 or 503).
func IsRetryable(err error) bool {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Retryable()
	}
	return false
}

// IsNotFound reports whether err is a 404.
func IsNotFound(err error) bool {
	return StatusCode(err) == http.StatusNotFound
}

// StatusCode returns the HTTP status carried by err, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.StatusCode
	}
	return 0
}
