package universe

import (
	"context"
	"log"
	"sort"
	"sync"
	"time"

	"github.com/ndrandal/tradegate/internal/provider"
	"github.com/ndrandal/tradegate/internal/schema"
)

// defaultRefresh is used when a FilterSpec omits refresh_seconds.
const defaultRefresh = 60 * time.Second

// Manager owns one session's universe resolution loop: it periodically
// re-resolves a FilterSpec against the session's provider, diffs the result
// against the current set, and emits UniverseUpdate events for the
// session to forward to its client.
type Manager struct {
	resolver *Resolver
	provider provider.Provider
	spec     schema.FilterSpec
	emit     func(schema.UniverseUpdate)

	mu      sync.Mutex
	current map[string]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager constructs a Manager. emit is called from the manager's own
// goroutine and must not block indefinitely.
func NewManager(resolver *Resolver, p provider.Provider, spec schema.FilterSpec, emit func(schema.UniverseUpdate)) *Manager {
	return &Manager{
		resolver: resolver,
		provider: p,
		spec:     spec,
		emit:     emit,
		current:  make(map[string]struct{}),
		done:     make(chan struct{}),
	}
}

// Run resolves the universe immediately, subscribes the provider to it, and
// then loops on refresh_seconds (or defaultRefresh) until ctx is cancelled
// or Stop is called. It blocks; callers run it in its own goroutine.
func (m *Manager) Run(ctx context.Context) {
	runCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	defer close(m.done)

	interval := time.Duration(m.spec.RefreshSeconds) * time.Second
	if interval <= 0 {
		interval = defaultRefresh
	}

	m.refresh(runCtx, true)

	for {
		select {
		case <-runCtx.Done():
			return
		case <-time.After(interval):
			m.refresh(runCtx, false)
		}
	}
}

// Stop cancels the running refresh loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	<-m.done
}

// filterRefreshReason is the UniverseUpdate reason emitted for every
// manager-driven refresh, initial or scheduled alike.
const filterRefreshReason = "filter_refresh"

func (m *Manager) refresh(ctx context.Context, isInitial bool) {
	resolved, err := m.resolver.Resolve(ctx, m.spec, m.provider)
	if err != nil {
		log.Printf("universe: resolve failed: %v", err)
		return
	}

	next := make(map[string]struct{}, len(resolved))
	for _, sym := range resolved {
		next[sym] = struct{}{}
	}

	m.mu.Lock()
	added := diff(next, m.current)
	removed := diff(m.current, next)
	m.current = next
	m.mu.Unlock()

	if len(added) == 0 && len(removed) == 0 && !isInitial {
		return
	}

	if err := m.provider.SetSubscriptions(ctx, resolved); err != nil {
		log.Printf("universe: set subscriptions failed: %v", err)
	}

	sort.Strings(added)
	sort.Strings(removed)
	universe := append([]string(nil), resolved...)
	sort.Strings(universe)

	m.emit(schema.UniverseUpdate{
		Added:     added,
		Removed:   removed,
		Universe:  universe,
		Reason:    filterRefreshReason,
		Timestamp: float64(time.Now().UnixMilli()) / 1000,
	})
}

func diff(a, b map[string]struct{}) []string {
	var out []string
	for sym := range a {
		if _, ok := b[sym]; !ok {
			out = append(out, sym)
		}
	}
	return out
}
