package provider

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ndrandal/tradegate/internal/schema"
)

// MockConfig parameterizes the bounded random walk each subscribed symbol
// follows.
type MockConfig struct {
	BasePrice      float64
	MaxDeviation   float64
	Volatility     float64
	MeanReversion  float64
	IntervalSeconds float64
	VolumeMin      int
	VolumeMax      int
	Seed           int64
}

// MockProvider generates synthetic ticks for whatever symbols it is
// subscribed to, without any outbound network traffic. It is the default
// provider for local development and for the gateway's own tests.
type MockProvider struct {
	cfg MockConfig
	rng *rng

	mu      sync.Mutex
	symbols []string
	prices  map[string]float64
}

// NewMockProvider constructs a Mock provider. Fields left zero on cfg take
// the documented defaults.
func NewMockProvider(cfg MockConfig) *MockProvider {
	if cfg.BasePrice == 0 {
		cfg.BasePrice = 100
	}
	if cfg.MaxDeviation == 0 {
		cfg.MaxDeviation = 5
	}
	if cfg.Volatility == 0 {
		cfg.Volatility = 0.5
	}
	if cfg.IntervalSeconds == 0 {
		cfg.IntervalSeconds = 0.5
	}
	if cfg.VolumeMin == 0 {
		cfg.VolumeMin = 100
	}
	if cfg.VolumeMax == 0 {
		cfg.VolumeMax = 1000
	}
	return &MockProvider{
		cfg:    cfg,
		rng:    newRNG(cfg.Seed),
		prices: make(map[string]float64),
	}
}

func (m *MockProvider) Name() string { return "mock" }

// Connect is a no-op: the mock provider never talks to a real broker.
func (m *MockProvider) Connect(ctx context.Context) error {
	return nil
}

func (m *MockProvider) Subscribe(ctx context.Context, symbols []string) error {
	return m.SetSubscriptions(ctx, symbols)
}

func (m *MockProvider) SetSubscriptions(ctx context.Context, symbols []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	sorted := append([]string(nil), symbols...)
	sort.Strings(sorted)
	m.symbols = sorted

	for _, s := range sorted {
		if _, ok := m.prices[s]; !ok {
			m.prices[s] = m.cfg.BasePrice
		}
	}
	return nil
}

// Stream emits one tick per subscribed symbol per interval, symbols visited
// in sorted order so that two providers seeded identically emit identical
// sequences.
func (m *MockProvider) Stream(ctx context.Context) (<-chan schema.Tick, error) {
	out := make(chan schema.Tick)

	go func() {
		defer close(out)
		interval := time.Duration(m.cfg.IntervalSeconds * float64(time.Second))
		if interval <= 0 {
			interval = 500 * time.Millisecond
		}
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for _, tick := range m.tickAll() {
					select {
					case out <- tick:
					case <-ctx.Done():
						return
					}
				}
			}
		}
	}()

	return out, nil
}

// tickAll advances every subscribed symbol's random walk by one step and
// returns the resulting ticks in sorted-symbol order.
func (m *MockProvider) tickAll() []schema.Tick {
	m.mu.Lock()
	defer m.mu.Unlock()

	ticks := make([]schema.Tick, 0, len(m.symbols))
	now := time.Now()
	for _, sym := range m.symbols {
		current := m.prices[sym]
		step := m.rng.uniform(-m.cfg.Volatility, m.cfg.Volatility)
		raw := current + step + (m.cfg.BasePrice-current)*m.cfg.MeanReversion
		price := clamp(raw, m.cfg.BasePrice-m.cfg.MaxDeviation, m.cfg.BasePrice+m.cfg.MaxDeviation)
		m.prices[sym] = price

		volume := float64(m.rng.intRange(m.cfg.VolumeMin, m.cfg.VolumeMax))

		ticks = append(ticks, schema.Tick{
			Symbol:    sym,
			Price:     price,
			Volume:    volume,
			Timestamp: now,
			Provider:  m.Name(),
		})
	}
	return ticks
}

func (m *MockProvider) Snapshot(ctx context.Context, symbols []string) (map[string]schema.SnapshotRow, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]schema.SnapshotRow, len(symbols))
	for _, sym := range symbols {
		price, ok := m.prices[sym]
		if !ok {
			price = m.cfg.BasePrice
		}
		out[sym] = schema.SnapshotRow{
			"last_price": price,
			"day_volume": float64(0),
		}
	}
	return out, nil
}

func (m *MockProvider) Historical(ctx context.Context, symbols []string, start, end time.Time, interval string) ([]schema.Tick, error) {
	return nil, ErrNotSupported
}

func clamp(v, lo, hi float64) float64 {
	if lo > hi {
		lo, hi = hi, lo
	}
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
