package provider

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"golang.org/x/time/rate"

	"github.com/ndrandal/tradegate/internal/schema"
)

// RestPollAConfig holds the credentials for the two-step TOTP login flow.
type RestPollAConfig struct {
	Mobile     string
	UCC        string
	MPIN       string
	TOTPSecret string
	BaseURL    string
}

// RestPollA implements the Provider interface against a broker that
// authenticates via mobile+TOTP then MPIN, and exposes quotes only through a
// polled REST endpoint (no push/websocket feed, no historical candles).
type RestPollA struct {
	cfg    RestPollAConfig
	client *resty.Client
	limit  *rate.Limiter

	mu           sync.Mutex
	symbols      []string
	sessionToken string
	sid          string
	activeBase   string
}

// NewRestPollA constructs a RestPoll-A provider. Connect must be called
// before Stream or Snapshot.
func NewRestPollA(cfg RestPollAConfig) *RestPollA {
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://mo.kotaksecurities.com"
	}
	return &RestPollA{
		cfg:        cfg,
		client:     resty.New().SetTimeout(requestTimeout),
		limit:      rate.NewLimiter(rate.Every(pollInterval), 1),
		activeBase: cfg.BaseURL,
	}
}

func (p *RestPollA) Name() string { return "rest_a" }

type kotakLoginResponse struct {
	Data struct {
		Token string `json:"token"`
		Sid   string `json:"sid"`
	} `json:"data"`
}

type kotakValidateResponse struct {
	Data struct {
		Token   string `json:"token"`
		Sid     string `json:"sid"`
		BaseURL string `json:"baseUrl"`
	} `json:"data"`
}

// Connect performs the mobile+TOTP login followed by the MPIN validation
// step, per the broker's two-legged auth contract.
func (p *RestPollA) Connect(ctx context.Context) error {
	if strings.TrimSpace(p.cfg.Mobile) == "" || strings.TrimSpace(p.cfg.UCC) == "" ||
		strings.TrimSpace(p.cfg.MPIN) == "" || strings.TrimSpace(p.cfg.TOTPSecret) == "" {
		return fmt.Errorf("rest_a: missing credentials: %w", ErrConfig)
	}

	mobile := normalizeMobile(p.cfg.Mobile)

	otp, err := generateTOTP(p.cfg.TOTPSecret, time.Now())
	if err != nil {
		return fmt.Errorf("rest_a: %w: %w", ErrConfig, err)
	}

	var loginResp kotakLoginResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetBody(map[string]string{"mobileNumber": mobile, "ucc": p.cfg.UCC, "totp": otp}).
		SetResult(&loginResp).
		Post(p.cfg.BaseURL + "/login/1.0/login/v2/totp/login")
	if err != nil {
		return fmt.Errorf("rest_a: login request: %w: %w", ErrTransientNetwork, err)
	}
	if resp.IsError() {
		return fmt.Errorf("rest_a: login rejected (status %d): %w", resp.StatusCode(), ErrAuth)
	}

	var validateResp kotakValidateResponse
	resp, err = p.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+loginResp.Data.Token).
		SetBody(map[string]string{"mpin": p.cfg.MPIN, "sid": loginResp.Data.Sid}).
		SetResult(&validateResp).
		Post(p.cfg.BaseURL + "/login/1.0/login/v2/validate")
	if err != nil {
		return fmt.Errorf("rest_a: validate request: %w: %w", ErrTransientNetwork, err)
	}
	if resp.IsError() {
		return fmt.Errorf("rest_a: validate rejected (status %d): %w", resp.StatusCode(), ErrAuth)
	}

	p.mu.Lock()
	p.sessionToken = validateResp.Data.Token
	p.sid = validateResp.Data.Sid
	if validateResp.Data.BaseURL != "" {
		p.activeBase = validateResp.Data.BaseURL
	}
	p.mu.Unlock()

	return nil
}

func normalizeMobile(mobile string) string {
	trimmed := strings.TrimSpace(mobile)
	if len(trimmed) == 10 {
		return "+91" + trimmed
	}
	return trimmed
}

// normalizeNeoSymbol converts a bare ticker into the broker's neo-symbol
// format; symbols already containing a pipe are passed through untouched.
func normalizeNeoSymbol(symbol string) string {
	if strings.Contains(symbol, "|") {
		return symbol
	}
	return "nse_cm|" + strings.ToUpper(symbol) + "-EQ"
}

func (p *RestPollA) Subscribe(ctx context.Context, symbols []string) error {
	return p.SetSubscriptions(ctx, symbols)
}

func (p *RestPollA) SetSubscriptions(ctx context.Context, symbols []string) error {
	normalized := make([]string, 0, len(symbols))
	for _, s := range symbols {
		normalized = append(normalized, normalizeNeoSymbol(s))
	}
	sort.Strings(normalized)

	p.mu.Lock()
	p.symbols = normalized
	p.mu.Unlock()
	return nil
}

type kotakQuoteResponse map[string]kotakQuoteEntry

type kotakQuoteEntry struct {
	Stat          string      `json:"stat"`
	LTP           interface{} `json:"ltp"`
	LastVolume    interface{} `json:"last_volume"`
	DisplaySymbol string      `json:"display_symbol"`
	ExchangeToken string      `json:"exchange_token"`
}

// Stream polls the quote endpoint once per second, emitting one tick per
// symbol that returns a usable last-traded-price.
func (p *RestPollA) Stream(ctx context.Context) (<-chan schema.Tick, error) {
	out := make(chan schema.Tick)

	go func() {
		defer close(out)
		for {
			if err := p.limit.Wait(ctx); err != nil {
				return
			}
			rows, err := p.pollQuotes(ctx)
			if err != nil {
				select {
				case <-ctx.Done():
					return
				default:
					continue
				}
			}
			for _, tick := range rows {
				select {
				case out <- tick:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

func (p *RestPollA) pollQuotes(ctx context.Context) ([]schema.Tick, error) {
	p.mu.Lock()
	symbols := append([]string(nil), p.symbols...)
	token := p.sessionToken
	base := p.activeBase
	p.mu.Unlock()

	if len(symbols) == 0 {
		return nil, nil
	}

	var quotes kotakQuoteResponse
	resp, err := p.client.R().
		SetContext(ctx).
		SetHeader("Authorization", "Bearer "+token).
		SetResult(&quotes).
		Get(base + "/script-details/1.0/quotes/neosymbol/" + strings.Join(symbols, ",") + "/all")
	if err != nil {
		return nil, fmt.Errorf("rest_a: poll quotes: %w: %w", ErrTransientNetwork, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("rest_a: poll quotes rejected (status %d): %w", resp.StatusCode(), ErrTransientNetwork)
	}

	now := time.Now()
	ticks := make([]schema.Tick, 0, len(quotes))
	for sym, entry := range quotes {
		if strings.EqualFold(entry.Stat, "Not_Ok") {
			continue
		}
		price, ok := toFloat(entry.LTP)
		if !ok {
			continue
		}
		volume, _ := toFloat(entry.LastVolume)

		display := entry.DisplaySymbol
		if display == "" {
			display = entry.ExchangeToken
		}
		if display == "" {
			display = sym
		}

		ticks = append(ticks, schema.Tick{
			Symbol:    display,
			Price:     price,
			Volume:    volume,
			Timestamp: now,
			Provider:  p.Name(),
		})
	}
	sort.Slice(ticks, func(i, j int) bool { return ticks[i].Symbol < ticks[j].Symbol })
	return ticks, nil
}

func (p *RestPollA) Snapshot(ctx context.Context, symbols []string) (map[string]schema.SnapshotRow, error) {
	prevErr := p.SetSubscriptions(ctx, symbols)
	if prevErr != nil {
		return nil, prevErr
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

func (p *RestPollA) Historical(ctx context.Context, symbols []string, start, end time.Time, interval string) ([]schema.Tick, error) {
	return nil, ErrNotSupported
}

// toFloat accepts the several JSON shapes brokers send numeric quote fields
// in (number, numeric string, or absent).
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case string:
		trimmed := strings.TrimSpace(n)
		if trimmed == "" {
			return 0, false
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return 0, false
		}
		return f, true
	default:
		return 0, false
	}
}
