package httpx

import (
	"context"
	"net/http"
	"strings"
	"sync"

	"github.com/google/uuid"
)

const (
	HeaderPlan      = "X-Subscription-Plan"
	HeaderContinent = "X-Selected-Continent"
	HeaderUserID    = "X-User-Id"
)

// Session is the process-wide client state sent with every backend request.
type Session struct {
	mu        sync.RWMutex
	plan      string
	continent string
	userID    string
}

// NewSession returns a session. An empty userID gets an anonymous id.
func NewSession(plan, continent, userID string) *Session {
	if strings.TrimSpace(userID) == "" {
		userID = "anon-" + uuid.NewString()
	}
	return &Session{plan: plan, continent: continent, userID: userID}
}

func (s *Session) SetPlan(plan string) {
	s.mu.Lock()
	s.plan = plan
	s.mu.Unlock()
}

func (s *Session) SetContinent(continent string) {
	s.mu.Lock()
	s.continent = continent
	s.mu.Unlock()
}

func (s *Session) SetUserID(id string) {
	s.mu.Lock()
	s.userID = id
	s.mu.Unlock()
}

func (s *Session) Snapshot() SessionSnapshot {
	if s == nil {
		return SessionSnapshot{}
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return SessionSnapshot{Plan: s.plan, Continent: s.continent, UserID: s.userID}
}

// SessionSnapshot is an immutable copy of the session headers.
type SessionSnapshot struct {
	Plan      string `json:"plan"`
	Continent string `json:"continent"`
	UserID    string `json:"user_id"`
}

// Merge returns s with every non-empty field of o applied on top.
func (s SessionSnapshot) Merge(o SessionSnapshot) SessionSnapshot {
	if o.Plan != "" {
		s.Plan = o.Plan
	}
	if o.Continent != "" {
		s.Continent = o.Continent
	}
	if o.UserID != "" {
		s.UserID = o.UserID
	}
	return s
}

// Apply sets the non-empty session headers on h.
func (s SessionSnapshot) Apply(h http.Header) {
	if s.Plan != "" {
		h.Set(HeaderPlan, s.Plan)
	}
	if s.Continent != "" {
		h.Set(HeaderContinent, s.Continent)
	}
	if s.UserID != "" {
		h.Set(HeaderUserID, s.UserID)
	}
}

// SessionFromHeader reads session headers from an incoming request.
func SessionFromHeader(h http.Header) SessionSnapshot {
	return SessionSnapshot{
		Plan:      strings.TrimSpace(h.Get(HeaderPlan)),
		Continent: strings.TrimSpace(h.Get(HeaderContinent)),
		UserID:    strings.TrimSpace(h.Get(HeaderUserID)),
	}
}

type sessionKey struct{}

// WithSessionContext overrides the client session for requests made with ctx.
func WithSessionContext(ctx context.Context, s SessionSnapshot) context.Context {
	return context.WithValue(ctx, sessionKey{}, s)
}

func sessionFromContext(ctx context.Context) (SessionSnapshot, bool) {
	s, ok := ctx.Value(sessionKey{}).(SessionSnapshot)
	return s, ok
}
