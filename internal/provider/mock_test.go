package provider

import (
	"context"
	"testing"
	"time"
)

func TestMockProviderDeterministicWithFixedSeed(t *testing.T) {
	cfg := MockConfig{
		BasePrice:       100,
		MaxDeviation:    5,
		Volatility:      1,
		MeanReversion:   0.1,
		IntervalSeconds: 0.01,
		VolumeMin:       10,
		VolumeMax:       20,
		Seed:            42,
	}

	run := func() []float64 {
		p := NewMockProvider(cfg)
		_ = p.SetSubscriptions(context.Background(), []string{"BBB", "AAA"})
		var prices []float64
		for i := 0; i < 5; i++ {
			for _, tick := range p.tickAll() {
				prices = append(prices, tick.Price)
			}
		}
		return prices
	}

	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("length mismatch: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("tick %d diverged: %f vs %f", i, a[i], b[i])
		}
	}
}

func TestMockProviderTicksInSortedSymbolOrder(t *testing.T) {
	p := NewMockProvider(MockConfig{BasePrice: 100, Seed: 7})
	_ = p.SetSubscriptions(context.Background(), []string{"ZZZ", "AAA", "MMM"})

	ticks := p.tickAll()
	want := []string{"AAA", "MMM", "ZZZ"}
	if len(ticks) != len(want) {
		t.Fatalf("expected %d ticks, got %d", len(want), len(ticks))
	}
	for i, sym := range want {
		if ticks[i].Symbol != sym {
			t.Fatalf("tick %d: expected %s, got %s", i, sym, ticks[i].Symbol)
		}
	}
}

func TestMockProviderStaysWithinBounds(t *testing.T) {
	cfg := MockConfig{
		BasePrice:       100,
		MaxDeviation:    5,
		Volatility:      10,
		MeanReversion:   0.2,
		IntervalSeconds: 0.01,
		Seed:            99,
	}
	p := NewMockProvider(cfg)
	_ = p.SetSubscriptions(context.Background(), []string{"AAA"})

	for i := 0; i < 500; i++ {
		for _, tick := range p.tickAll() {
			if tick.Price < cfg.BasePrice-cfg.MaxDeviation || tick.Price > cfg.BasePrice+cfg.MaxDeviation {
				t.Fatalf("price %f escaped bound [%f, %f]", tick.Price, cfg.BasePrice-cfg.MaxDeviation, cfg.BasePrice+cfg.MaxDeviation)
			}
		}
	}
}

func TestMockProviderHistoricalNotSupported(t *testing.T) {
	p := NewMockProvider(MockConfig{})
	_, err := p.Historical(context.Background(), []string{"AAA"}, time.Now(), time.Now(), "1d")
	if err != ErrNotSupported {
		t.Fatalf("expected ErrNotSupported, got %v", err)
	}
}

func TestMockProviderSnapshotDefaultsToBasePrice(t *testing.T) {
	p := NewMockProvider(MockConfig{BasePrice: 250})
	snap, err := p.Snapshot(context.Background(), []string{"NEW"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	row, ok := snap["NEW"]
	if !ok {
		t.Fatalf("expected snapshot row for NEW")
	}
	if row["last_price"] != float64(250) {
		t.Fatalf("expected base price 250, got %v", row["last_price"])
	}
}
