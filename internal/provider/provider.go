// Package provider defines the capability interface shared by the three
// broker backends (Mock, RestPoll-A, RestPoll-B) and implements each of
// them. A session owns exactly one Provider instance for its lifetime.
package provider

import (
	"context"
	"time"

	"github.com/ndrandal/tradegate/internal/schema"
)

// requestTimeout bounds every outbound HTTP call a provider makes.
const requestTimeout = 10 * time.Second

// pollInterval is the fixed poll cadence for both REST-poll providers.
const pollInterval = 1 * time.Second

// Provider is the capability interface every backend implements. Operations
// not supported by a given variant return ErrNotSupported rather than being
// omitted, so callers can rely on a uniform contract.
type Provider interface {
	// Connect performs authentication and obtains session credentials.
	// Returns ErrConfig if credentials are missing and ErrAuth if they are
	// rejected.
	Connect(ctx context.Context) error

	// Subscribe replaces the tracked symbol list with the given one.
	Subscribe(ctx context.Context, symbols []string) error

	// SetSubscriptions is a full-replace alias for Subscribe, named
	// separately because the universe manager and the session's static
	// subscribe path both call it and the distinction matters to callers
	// reading the code.
	SetSubscriptions(ctx context.Context, symbols []string) error

	// Stream returns a channel of normalized ticks. The channel is closed
	// when ctx is cancelled. A provider instance may only be streamed once;
	// restarting means constructing a new instance.
	Stream(ctx context.Context) (<-chan schema.Tick, error)

	// Snapshot returns a one-shot map of per-symbol quote fields used to
	// evaluate filter conditions. Returns ErrNotSupported if the provider
	// cannot produce one.
	Snapshot(ctx context.Context, symbols []string) (map[string]schema.SnapshotRow, error)

	// Historical returns ticks for the given symbols between start and end.
	// Returns ErrNotSupported if the provider cannot produce history.
	Historical(ctx context.Context, symbols []string, start, end time.Time, interval string) ([]schema.Tick, error)

	// Name identifies the provider in emitted Tick.Provider fields and logs.
	Name() string
}
