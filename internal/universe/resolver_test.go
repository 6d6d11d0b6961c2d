package universe

import (
	"context"
	"testing"
	"time"

	"github.com/ndrandal/tradegate/internal/provider"
	"github.com/ndrandal/tradegate/internal/schema"
)

type fakeProvider struct {
	snapshot    map[string]schema.SnapshotRow
	snapshotErr error
}

func (f *fakeProvider) Name() string                                { return "fake" }
func (f *fakeProvider) Connect(ctx context.Context) error            { return nil }
func (f *fakeProvider) Subscribe(ctx context.Context, s []string) error { return nil }
func (f *fakeProvider) SetSubscriptions(ctx context.Context, s []string) error {
	return nil
}
func (f *fakeProvider) Stream(ctx context.Context) (<-chan schema.Tick, error) {
	ch := make(chan schema.Tick)
	close(ch)
	return ch, nil
}
func (f *fakeProvider) Snapshot(ctx context.Context, symbols []string) (map[string]schema.SnapshotRow, error) {
	if f.snapshotErr != nil {
		return nil, f.snapshotErr
	}
	return f.snapshot, nil
}
func (f *fakeProvider) Historical(ctx context.Context, symbols []string, start, end time.Time, interval string) ([]schema.Tick, error) {
	return nil, provider.ErrNotSupported
}

func TestResolveWithoutConditionsReturnsBaseCapped(t *testing.T) {
	r := NewResolver(Watchlists{"nifty50": {"AAA", "BBB", "CCC"}}, nil)
	spec := schema.FilterSpec{
		Candidates: schema.CandidateSpec{Type: "watchlist", Index: "nifty50"},
		MaxSymbols: 2,
	}
	out, err := r.Resolve(context.Background(), spec, &fakeProvider{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0] != "AAA" || out[1] != "BBB" {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestResolveFiltersByCondition(t *testing.T) {
	r := NewResolver(Watchlists{"nifty50": {"AAA", "BBB", "CCC"}}, nil)
	spec := schema.FilterSpec{
		Candidates: schema.CandidateSpec{Type: "watchlist", Index: "nifty50"},
		Conditions: []schema.FilterCondition{{Field: "last_price", Op: schema.OpGT, Value: float64(100)}},
		MaxSymbols: 10,
	}
	p := &fakeProvider{snapshot: map[string]schema.SnapshotRow{
		"AAA": {"last_price": float64(150)},
		"BBB": {"last_price": float64(50)},
		"CCC": {"last_price": float64(200)},
	}}
	out, err := r.Resolve(context.Background(), spec, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0] != "AAA" || out[1] != "CCC" {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestResolveFallsBackWhenSnapshotNotSupported(t *testing.T) {
	r := NewResolver(Watchlists{"nifty50": {"AAA", "BBB"}}, nil)
	spec := schema.FilterSpec{
		Candidates: schema.CandidateSpec{Type: "watchlist", Index: "nifty50"},
		Conditions: []schema.FilterCondition{{Field: "last_price", Op: schema.OpGT, Value: float64(1)}},
		MaxSymbols: 10,
	}
	p := &fakeProvider{snapshotErr: provider.ErrNotSupported}
	out, err := r.Resolve(context.Background(), spec, p)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected unfiltered fallback, got %v", out)
	}
}

type fakeInstruments struct {
	tokens map[string]string
}

func (f *fakeInstruments) Resolve(symbol string) (string, bool) {
	token, ok := f.tokens[symbol]
	return token, ok
}

func TestCandidatesCanonicalizesWatchlistSymbols(t *testing.T) {
	r := NewResolver(Watchlists{"nifty50": {"AAA", "BBB"}}, &fakeInstruments{tokens: map[string]string{"AAA": "nse_cm|1"}})
	out, err := r.Candidates(schema.FilterSpec{Candidates: schema.CandidateSpec{Type: "watchlist", Index: "nifty50"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(out) != 2 || out[0] != "nse_cm|1" || out[1] != "BBB" {
		t.Fatalf("unexpected result: %v", out)
	}
}

func TestResolveUnknownWatchlistErrors(t *testing.T) {
	r := NewResolver(Watchlists{}, nil)
	spec := schema.FilterSpec{Candidates: schema.CandidateSpec{Type: "watchlist", Index: "nope"}}
	if _, err := r.Resolve(context.Background(), spec, &fakeProvider{}); err == nil {
		t.Fatalf("expected error for unknown watchlist")
	}
}

func TestPassesBetweenInclusive(t *testing.T) {
	if !passes(float64(5), schema.OpBetween, []interface{}{float64(1), float64(5)}) {
		t.Fatalf("expected inclusive upper bound to pass")
	}
	if !passes(float64(1), schema.OpBetween, []interface{}{float64(1), float64(5)}) {
		t.Fatalf("expected inclusive lower bound to pass")
	}
	if passes(float64(6), schema.OpBetween, []interface{}{float64(1), float64(5)}) {
		t.Fatalf("expected value outside bounds to fail")
	}
}

func TestPassesInAndNotIn(t *testing.T) {
	target := []interface{}{"AAA", "BBB"}
	if !passes("AAA", schema.OpIN, target) {
		t.Fatalf("expected membership match")
	}
	if passes("CCC", schema.OpIN, target) {
		t.Fatalf("expected non-member to fail 'in'")
	}
	if !passes("CCC", schema.OpNotIN, target) {
		t.Fatalf("expected non-member to pass 'not_in'")
	}
}
