// Package universe resolves and maintains a session's symbol universe from
// a declarative FilterSpec, adapted from the original implementation's
// universe_manager module.
package universe

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ndrandal/tradegate/internal/provider"
	"github.com/ndrandal/tradegate/internal/schema"
)

// Watchlists is a static lookup of named watchlists, the "index" and
// "instrument_master" candidate types beyond a literal watchlist being out
// of scope for a single-process gateway without a market calendar service.
type Watchlists map[string][]string

// InstrumentResolver maps a user-facing ticker to its canonical broker
// token, backed by the instrument master CSV.
type InstrumentResolver interface {
	Resolve(symbol string) (string, bool)
}

// Resolver computes the candidate set for a FilterSpec and applies its
// filter conditions against a provider snapshot.
type Resolver struct {
	watchlists  Watchlists
	instruments InstrumentResolver
}

// NewResolver constructs a Resolver backed by a static watchlist table and
// an instrument master used to canonicalize watchlist symbols.
func NewResolver(watchlists Watchlists, instruments InstrumentResolver) *Resolver {
	if watchlists == nil {
		watchlists = Watchlists{}
	}
	return &Resolver{watchlists: watchlists, instruments: instruments}
}

// canonicalize maps each symbol through the instrument master, passing a
// symbol through verbatim when it cannot be resolved.
func (r *Resolver) canonicalize(symbols []string) []string {
	if r.instruments == nil {
		return symbols
	}
	out := make([]string, len(symbols))
	for i, sym := range symbols {
		if token, ok := r.instruments.Resolve(sym); ok {
			out[i] = token
		} else {
			out[i] = sym
		}
	}
	return out
}

// Candidates returns the unfiltered base symbol set named by spec's
// candidate source.
func (r *Resolver) Candidates(spec schema.FilterSpec) ([]string, error) {
	switch spec.Candidates.Type {
	case "watchlist":
		if len(spec.Candidates.Symbols) > 0 {
			return r.canonicalize(spec.Candidates.Symbols), nil
		}
		list, ok := r.watchlists[spec.Candidates.Index]
		if !ok {
			return nil, fmt.Errorf("universe: unknown watchlist %q", spec.Candidates.Index)
		}
		return r.canonicalize(list), nil
	case "index":
		list, ok := r.watchlists[spec.Candidates.Index]
		if !ok {
			return nil, fmt.Errorf("universe: unknown index %q", spec.Candidates.Index)
		}
		return append([]string(nil), list...), nil
	case "instrument_master":
		list, ok := r.watchlists[spec.Candidates.Exchange+":"+spec.Candidates.Segment]
		if !ok {
			return nil, nil
		}
		return append([]string(nil), list...), nil
	default:
		return nil, fmt.Errorf("universe: unknown candidate type %q", spec.Candidates.Type)
	}
}

// Resolve computes the final symbol set for spec: base candidates, capped
// to max_symbols if there are no conditions, otherwise filtered through the
// provider's snapshot (each condition ANDed, base order preserved), ranked
// by SortSymbols when spec.Sort is set, then capped. Without conditions no
// snapshot is taken and spec.Sort is not applied.
//
// If the provider cannot produce a snapshot (ErrNotSupported), conditions
// are skipped and the unfiltered base candidates are returned instead of
// failing the refresh outright.
func (r *Resolver) Resolve(ctx context.Context, spec schema.FilterSpec, p provider.Provider) ([]string, error) {
	base, err := r.Candidates(spec)
	if err != nil {
		return nil, err
	}

	max := spec.MaxSymbols
	if max <= 0 {
		max = len(base)
	}

	if len(spec.Conditions) == 0 {
		return capSymbols(base, max), nil
	}

	snapshot, err := p.Snapshot(ctx, base)
	if err != nil {
		if errors.Is(err, provider.ErrNotSupported) {
			return capSymbols(base, max), nil
		}
		return nil, err
	}

	selected := make([]string, 0, len(base))
	for _, sym := range base {
		row, ok := snapshot[sym]
		if !ok {
			continue
		}
		if allConditionsPass(row, spec.Conditions) {
			selected = append(selected, sym)
		}
	}
	selected = SortSymbols(selected, snapshot, spec.Sort)

	return capSymbols(selected, max), nil
}

func capSymbols(symbols []string, max int) []string {
	if max > 0 && len(symbols) > max {
		return symbols[:max]
	}
	return symbols
}

func allConditionsPass(row schema.SnapshotRow, conditions []schema.FilterCondition) bool {
	for _, cond := range conditions {
		if !passes(row[cond.Field], cond.Op, cond.Value) {
			return false
		}
	}
	return true
}

// passes evaluates a single FilterCondition against a snapshot field value.
func passes(value interface{}, op schema.FilterOp, target interface{}) bool {
	switch op {
	case schema.OpEQ:
		return compareEqual(value, target)
	case schema.OpNE:
		return !compareEqual(value, target)
	case schema.OpGT:
		a, b, ok := asFloats(value, target)
		return ok && a > b
	case schema.OpGTE:
		a, b, ok := asFloats(value, target)
		return ok && a >= b
	case schema.OpLT:
		a, b, ok := asFloats(value, target)
		return ok && a < b
	case schema.OpLTE:
		a, b, ok := asFloats(value, target)
		return ok && a <= b
	case schema.OpIN:
		return memberOf(value, target)
	case schema.OpNotIN:
		return !memberOf(value, target)
	case schema.OpBetween:
		bounds, ok := target.([]interface{})
		if !ok || len(bounds) != 2 {
			return false
		}
		lo, hi, ok := asFloats(bounds[0], bounds[1])
		if !ok {
			return false
		}
		v, ok := toFloat(value)
		if !ok {
			return false
		}
		return v >= lo && v <= hi
	default:
		return false
	}
}

func asFloats(a, b interface{}) (float64, float64, bool) {
	af, ok1 := toFloat(a)
	bf, ok2 := toFloat(b)
	return af, bf, ok1 && ok2
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func compareEqual(value, target interface{}) bool {
	vs, vOK := value.(string)
	ts, tOK := target.(string)
	if vOK && tOK {
		return strings.EqualFold(vs, ts)
	}
	af, bf, ok := asFloats(value, target)
	if ok {
		return af == bf
	}
	return value == target
}

func memberOf(value interface{}, target interface{}) bool {
	list, ok := target.([]interface{})
	if !ok {
		return false
	}
	for _, item := range list {
		if compareEqual(value, item) {
			return true
		}
	}
	return false
}

// SortSymbols applies the declarative sort spec, using the first entry
// only: the resolver's universe ordering is a single ranking, not a
// multi-key sort. Unrecognized fields leave the input order unchanged.
func SortSymbols(symbols []string, rows map[string]schema.SnapshotRow, sort_ []schema.SortSpec) []string {
	if len(sort_) == 0 {
		return symbols
	}
	spec := sort_[0]
	out := append([]string(nil), symbols...)
	sort.SliceStable(out, func(i, j int) bool {
		vi, oki := toFloat(rows[out[i]][spec.Field])
		vj, okj := toFloat(rows[out[j]][spec.Field])
		if !oki || !okj {
			return false
		}
		if spec.Direction == schema.Desc {
			return vi > vj
		}
		return vi < vj
	})
	return out
}
