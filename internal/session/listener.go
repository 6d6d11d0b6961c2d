package session

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/ndrandal/tradegate/internal/fillstore"
	"github.com/ndrandal/tradegate/internal/provider"
	"github.com/ndrandal/tradegate/internal/tokenstore"
	"github.com/ndrandal/tradegate/internal/universe"
)

// oauthTokenEndpoint is RestPoll-B's token-exchange endpoint, duplicated
// here (rather than imported) because the listener's callback handler
// performs the exchange itself, ahead of any session or provider existing.
const oauthTokenEndpoint = "https://api.upstox.com/v2/login/authorization/token"

// Listener owns the global, listener-scoped configuration and OAuth state
// table that the original implementation kept as module-level globals; every session
// receives these explicitly at construction instead of reaching for
// package-level mutable state.
type Listener struct {
	newProvider func(override string) (provider.Provider, error)
	fills       *fillstore.Store
	resolver    *universe.Resolver

	tokens *tokenstore.Store
	client *resty.Client

	apiKey      string
	apiSecret   string
	redirectURI string
	authorizeURL string
	stateTTL    time.Duration

	mu     sync.Mutex
	states map[string]time.Time
}

// NewListener constructs a Listener. newProvider is called once per
// inbound session to build a fresh Provider instance from the active
// configuration.
func NewListener(
	newProvider func(override string) (provider.Provider, error),
	fills *fillstore.Store,
	resolver *universe.Resolver,
	tokens *tokenstore.Store,
	apiKey, apiSecret, redirectURI, authorizeURL string,
	stateTTLSeconds int,
) *Listener {
	ttl := time.Duration(stateTTLSeconds) * time.Second
	if ttl <= 0 {
		ttl = 600 * time.Second
	}
	return &Listener{
		newProvider:  newProvider,
		fills:        fills,
		resolver:     resolver,
		tokens:       tokens,
		client:       resty.New().SetTimeout(10 * time.Second),
		apiKey:       apiKey,
		apiSecret:    apiSecret,
		redirectURI:  redirectURI,
		authorizeURL: authorizeURL,
		stateTTL:     ttl,
		states:       make(map[string]time.Time),
	}
}

// SessionHandler returns the WebSocket upgrade handler for client sessions.
func (l *Listener) SessionHandler() http.HandlerFunc {
	return Handler(l.newProvider, l.fills, l.resolver)
}

// Health implements GET /health.
func (l *Listener) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

// Auth implements GET /provider/auth: issues a fresh state token and
// redirects the browser to the broker's authorization dialog.
func (l *Listener) Auth(w http.ResponseWriter, r *http.Request) {
	state := uuid.New().String()

	l.mu.Lock()
	l.pruneStates()
	l.states[state] = time.Now().Add(l.stateTTL)
	l.mu.Unlock()

	dest, err := url.Parse(l.authorizeURL)
	if err != nil {
		http.Error(w, "invalid authorize URL", http.StatusInternalServerError)
		return
	}
	q := dest.Query()
	q.Set("client_id", l.apiKey)
	q.Set("redirect_uri", l.redirectURI)
	q.Set("response_type", "code")
	q.Set("state", state)
	dest.RawQuery = q.Encode()

	http.Redirect(w, r, dest.String(), http.StatusFound)
}

// pruneStates drops expired state tokens. Called with mu held.
func (l *Listener) pruneStates() {
	now := time.Now()
	for state, expiry := range l.states {
		if now.After(expiry) {
			delete(l.states, state)
		}
	}
}

// validateState consumes a state token if it is present and unexpired.
func (l *Listener) validateState(state string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.pruneStates()
	expiry, ok := l.states[state]
	if !ok {
		return false
	}
	delete(l.states, state)
	return time.Now().Before(expiry)
}

type oauthTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Callback implements GET /provider/callback: validates the state token,
// exchanges the authorization code, and persists the resulting access
// token to the Token Store.
func (l *Listener) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	state := r.URL.Query().Get("state")

	if code == "" || state == "" {
		http.Error(w, "missing code or state", http.StatusBadRequest)
		return
	}
	if !l.validateState(state) {
		http.Error(w, "unknown or expired state", http.StatusBadRequest)
		return
	}

	resp, err := backoff.Retry(r.Context(), func() (*oauthTokenResponse, error) {
		var tokenResp oauthTokenResponse
		res, err := l.client.R().
			SetContext(r.Context()).
			SetFormData(map[string]string{
				"code":          code,
				"client_id":     l.apiKey,
				"client_secret": l.apiSecret,
				"redirect_uri":  l.redirectURI,
				"grant_type":    "authorization_code",
			}).
			SetResult(&tokenResp).
			Post(oauthTokenEndpoint)
		if err != nil {
			return nil, err
		}
		if res.IsError() {
			return nil, backoff.Permanent(fmt.Errorf("token endpoint rejected exchange (status %d)", res.StatusCode()))
		}
		return &tokenResp, nil
	}, backoff.WithMaxTries(3))
	if err != nil {
		http.Error(w, "token exchange failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	if err := l.tokens.SaveToken(r.Context(), resp.AccessToken, resp.RefreshToken, resp.ExpiresIn); err != nil {
		http.Error(w, "failed to persist token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/plain")
	_, _ = io.WriteString(w, "authorization complete, you may close this window")
}

// Backtest implements POST /backtest: a static historical-data fetch,
// independent of any live session, via the provider named in the request's
// optional "provider" field, falling back to the gateway's active
// provider when omitted.
func (l *Listener) Backtest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string   `json:"provider"`
		Symbols  []string `json:"symbols"`
		Start    string   `json:"start"`
		End      string   `json:"end"`
		Interval string   `json:"interval"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}

	start, err := time.Parse(time.RFC3339, req.Start)
	if err != nil {
		http.Error(w, "invalid start timestamp", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, req.End)
	if err != nil {
		http.Error(w, "invalid end timestamp", http.StatusBadRequest)
		return
	}

	prov, err := l.newProvider(req.Provider)
	if err != nil {
		http.Error(w, "failed to construct provider", http.StatusInternalServerError)
		return
	}
	if err := prov.Connect(r.Context()); err != nil {
		http.Error(w, "provider connect failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	ticks, err := prov.Historical(r.Context(), req.Symbols, start, end, req.Interval)
	if err != nil {
		http.Error(w, "historical fetch failed: "+err.Error(), http.StatusBadGateway)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(struct {
		Ticks interface{} `json:"ticks"`
	}{Ticks: ticks})
}
