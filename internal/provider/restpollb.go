package provider

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/ndrandal/tradegate/internal/schema"
)

// TokenStore is the persistence contract RestPollB needs from the token
// store: look up a still-valid cached token, and save a freshly exchanged
// one. Declared here rather than imported from internal/tokenstore so the
// provider package has no dependency on the persistence layer.
type TokenStore interface {
	GetValidToken(ctx context.Context) (string, bool, error)
	SaveToken(ctx context.Context, accessToken, refreshToken string, expiresIn int64) error
}

// InstrumentResolver looks up a broker-specific instrument key for a plain
// ticker, backed by the instrument master CSV.
type InstrumentResolver interface {
	Resolve(symbol string) (string, bool)
}

// RestPollBConfig holds OAuth credentials for the authorization-code grant.
type RestPollBConfig struct {
	APIKey      string
	APISecret   string
	Token       string
	AuthCode    string
	RedirectURI string
	BaseURL     string
}

// RestPollB implements the Provider interface against an OAuth-gated
// broker whose only live-data surface is a polled REST endpoint, but which
// additionally exposes historical candles.
type RestPollB struct {
	cfg        RestPollBConfig
	store      TokenStore
	instrument InstrumentResolver
	client     *resty.Client
	limit      *rate.Limiter

	mu      sync.Mutex
	symbols []string
	token   string
}

// NewRestPollB constructs a RestPoll-B provider. store and instrument may be
// nil; a nil store disables cached-token resolution (falls straight through
// to auth-code exchange), and a nil instrument resolver falls back to
// symbol normalization alone for Historical.
func NewRestPollB(cfg RestPollBConfig, store TokenStore, instrument InstrumentResolver) *RestPollB {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.upstox.com/v2"
	}
	return &RestPollB{
		cfg:        cfg,
		store:      store,
		instrument: instrument,
		client:     resty.New().SetTimeout(requestTimeout),
		limit:      rate.NewLimiter(rate.Every(pollInterval), 1),
	}
}

func (p *RestPollB) Name() string { return "rest_b" }

type upstoxTokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int64  `json:"expires_in"`
}

// Connect resolves an access token with the priority order: an explicitly
// configured token, then a still-valid cached token, then an auth-code
// exchange. It is an error for none of the three to be available.
func (p *RestPollB) Connect(ctx context.Context) error {
	if token := strings.TrimSpace(p.cfg.Token); token != "" {
		p.mu.Lock()
		p.token = token
		p.mu.Unlock()
		return nil
	}

	if p.store != nil {
		if token, ok, err := p.store.GetValidToken(ctx); err == nil && ok && token != "" {
			p.mu.Lock()
			p.token = token
			p.mu.Unlock()
			return nil
		}
	}

	if strings.TrimSpace(p.cfg.AuthCode) == "" {
		return fmt.Errorf("rest_b: no token configured and no auth code to exchange: %w", ErrConfig)
	}

	resp, err := backoff.Retry(ctx, func() (*upstoxTokenResponse, error) {
		var tokenResp upstoxTokenResponse
		r, err := p.client.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"code":          p.cfg.AuthCode,
				"client_id":     p.cfg.APIKey,
				"client_secret": p.cfg.APISecret,
				"redirect_uri":  p.cfg.RedirectURI,
				"grant_type":    "authorization_code",
			}).
			SetResult(&tokenResp).
			Post("https://api.upstox.com/v2/login/authorization/token")
		if err != nil {
			return nil, fmt.Errorf("%w: %w", ErrTransientNetwork, err)
		}
		if r.IsError() {
			return nil, backoff.Permanent(fmt.Errorf("rest_b: token exchange rejected (status %d): %w", r.StatusCode(), ErrAuth))
		}
		return &tokenResp, nil
	}, backoff.WithMaxTries(3))
	if err != nil {
		return err
	}

	p.mu.Lock()
	p.token = resp.AccessToken
	p.mu.Unlock()

	if p.store != nil {
		_ = p.store.SaveToken(ctx, resp.AccessToken, resp.RefreshToken, resp.ExpiresIn)
	}
	return nil
}

// normalizeInstrumentKey converts a bare ticker into Upstox's
// "EXCHANGE_SEGMENT|symbol" instrument key shape. A symbol already
// containing a pipe is assumed to already be in that shape.
func normalizeInstrumentKey(symbol string) string {
	if strings.Contains(symbol, "|") {
		return symbol
	}
	return "NSE_EQ|" + strings.ToUpper(symbol)
}

func (p *RestPollB) Subscribe(ctx context.Context, symbols []string) error {
	return p.SetSubscriptions(ctx, symbols)
}

func (p *RestPollB) SetSubscriptions(ctx context.Context, symbols []string) error {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, normalizeInstrumentKey(s))
	}
	sort.Strings(normalized)

	p.mu.Lock()
	p.symbols = normalized
	p.mu.Unlock()
	return nil
}

type upstoxQuoteResponse struct {
	Data map[string]upstoxQuoteEntry `json:"data"`
}

type upstoxQuoteEntry struct {
	LastPrice       interface{} `json:"last_price"`
	LTP             interface{} `json:"ltp"`
	Close           interface{} `json:"close"`
	LastTradedPrice interface{} `json:"last_traded_price"`
	Volume          interface{} `json:"volume"`
	Timestamp       interface{} `json:"timestamp"`
}

func (p *RestPollB) Stream(ctx context.Context) (<-chan schema.Tick, error) {
	out := make(chan schema.Tick)

	go func() {
		defer close(out)
		for {
			if err := p.limit.Wait(ctx); err != nil {
				return
			}
			ticks, err := p.pollQuotes(ctx)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}
			for _, t := range ticks {
				select {
				case out <- t:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (p *RestPollB) pollQuotes(ctx context.Context) ([]schema.Tick, error) {
	p.mu.Lock()
	symbols := append([]string(nil), p.symbols...)
	token := p.token
	p.mu.Unlock()

	if len(symbols) == 0 {
		return nil, nil
	}

	var quoteResp upstoxQuoteResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetQueryParam("instrument_key", strings.Join(symbols, ",")).
		SetResult(&quoteResp).
		Get(p.cfg.BaseURL + "/market-quote/ltp")
	if err != nil {
		return nil, fmt.Errorf("rest_b: poll quotes: %w: %w", ErrTransientNetwork, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("rest_b: poll quotes rejected (status %d): %w", resp.StatusCode(), ErrTransientNetwork)
	}

	ticks := make([]schema.Tick, 0, len(quoteResp.Data))
	for key, entry := range quoteResp.Data {
		price, ok := parseUpstoxPrice(entry)
		if !ok {
			continue
		}
		volume, _ := toFloat(entry.Volume)
		ticks = append(ticks, schema.Tick{
			Symbol:    key,
			Price:     price,
			Volume:    volume,
			Timestamp: parseUpstoxTimestamp(entry.Timestamp),
			Provider:  p.Name(),
		})
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Symbol < ticks[j].Symbol })
	return ticks, nil
}

func parseUpstoxPrice(entry upstoxQuoteEntry) (float64, bool) {
	for _, candidate := range []interface{}{entry.LastPrice, entry.LTP, entry.Close, entry.LastTradedPrice} {
		if f, ok := toFloat(candidate); ok {
			return f, true
		}
	}
	return 0, false
}

func parseUpstoxTimestamp(raw interface{}) time.Time {
	switch v := raw.(type) {
	case float64:
		if v > 1e12 {
			return time.UnixMilli(int64(v))
		}
		if v > 0 {
			return time.Unix(int64(v), 0)
		}
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	}
	return time.Now()
}

func (p *RestPollB) Snapshot(ctx context.Context, symbols []string) (map[string]schema.SnapshotRow, error) {
	if err := p.SetSubscriptions(ctx, symbols); err != nil {
		return nil, err
	}
	ticks, err := p.pollQuotes(ctx)
	if err != nil {
		return nil, err
	}
	out := make(map[string]schema.SnapshotRow, len(ticks))
	for _, t := range ticks {
		out[t.Symbol] = schema.SnapshotRow{
			"last_price": t.Price,
			"day_volume": t.Volume,
		}
	}
	return out, nil
}

var intervalPattern = regexp.MustCompile(`^(\d+)([mhd])$`)

// normalizeInterval translates a compact interval shorthand ("5m", "1h",
// "1d", or a bare "week"/"month") into the unit/count form the historical
// candle endpoint expects. A compound "unit/N" form (e.g. "minutes/5") is
// normalized by recursing into the compact-shorthand path using the unit's
// first letter, e.g. "minutes/5" -> "5m" -> "5minute".
func normalizeInterval(raw string) (string, error) {
	trimmed := strings.ToLower(strings.TrimSpace(raw))
	switch trimmed {
	case "day", "week", "month":
		return trimmed, nil
	}
	if idx := strings.Index(trimmed, "/"); idx != -1 {
		unit := trimmed[:idx]
		multiplier := trimmed[idx+1:]
		if unit == "" {
			return "", fmt.Errorf("rest_b: unrecognized interval %q", raw)
		}
		n, err := strconv.Atoi(multiplier)
		if err != nil {
			return "", fmt.Errorf("rest_b: unrecognized interval %q", raw)
		}
		return normalizeInterval(fmt.Sprintf("%d%c", n, unit[0]))
	}

	match := intervalPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return "", fmt.Errorf("rest_b: unrecognized interval %q", raw)
	}
	n, err := strconv.Atoi(match[1])
	if err != nil {
		return "", fmt.Errorf("rest_b: unrecognized interval %q", raw)
	}

	switch match[2] {
	case "m":
		return fmt.Sprintf("%dminute", n), nil
	case "h":
		return fmt.Sprintf("%dhour", n), nil
	case "d":
		if n == 1 {
			return "day", nil
		}
		return fmt.Sprintf("%dday", n), nil
	default:
		return "", fmt.Errorf("rest_b: unrecognized interval %q", raw)
	}
}

type upstoxCandleResponse struct {
	Data struct {
		Candles [][]interface{} `json:"candles"`
	} `json:"data"`
}

// Historical fetches candle data for each symbol in turn, one request per
// resolved instrument key, and returns the ticks of all symbols together.
func (p *RestPollB) Historical(ctx context.Context, symbols []string, start, end time.Time, interval string) ([]schema.Tick, error) {
	normalizedInterval, err := normalizeInterval(interval)
	if err != nil {
		return nil, err
	}

	p.mu.Lock()
	token := p.token
	p.mu.Unlock()

	var out []schema.Tick
	for _, symbol := range symbols {
		key := symbol
		if p.instrument != nil {
			if resolved, ok := p.instrument.Resolve(symbol); ok {
				key = resolved
			} else {
				key = normalizeInstrumentKey(symbol)
			}
		} else {
			key = normalizeInstrumentKey(symbol)
		}

		var candleResp upstoxCandleResponse
		path := fmt.Sprintf("%s/historical-candle/%s/%s/%s/%s",
			p.cfg.BaseURL, key, normalizedInterval, end.Format("2006-01-02"), start.Format("2006-01-02"))
		resp, err := p.client.R().
			SetContext(ctx).
			SetHeader("Authorization", "Bearer "+token).
			SetResult(&candleResp).
			Get(path)
		if err != nil {
			return nil, fmt.Errorf("rest_b: historical: %w: %w", ErrTransientNetwork, err)
		}
		if resp.IsError() {
			return nil, fmt.Errorf("rest_b: historical rejected (status %d): %w", resp.StatusCode(), ErrTransientNetwork)
		}

		for _, candle := range candleResp.Data.Candles {
			if len(candle) < 6 {
				continue
			}
			ts, _ := candle[0].(string)
			closePrice, _ := toFloat(candle[4])
			volume, _ := toFloat(candle[5])
			parsedTS, perr := time.Parse(time.RFC3339, ts)
			if perr != nil {
				parsedTS = time.Now()
			}
			out = append(out, schema.Tick{
				Symbol:    symbol,
				Price:     closePrice,
				Volume:    volume,
				Timestamp: parsedTS,
				Provider:  p.Name(),
			})
		}
	}
	return out, nil
}
