package provider

import "fmt"

// Name identifies which of the three closed provider variants to construct.
type Name string

const (
	NameMock     Name = "mock"
	NameRestPollA Name = "rest_a"
	NameRestPollB Name = "rest_b"
)

// Config bundles the configuration needed to construct any of the three
// provider variants; callers populate only the section matching the
// selected Name.
type Config struct {
	Active Name

	Mock MockConfig

	RestA RestPollAConfig

	RestB      RestPollBConfig
	TokenStore TokenStore
	Instrument InstrumentResolver
}

// New builds the requested provider variant. override, when non-empty,
// takes precedence over cfg.Active — this is how a single request (e.g. a
// backtest) can select a different provider than the gateway's configured
// default. An unrecognized name returns ErrConfig, matching the
// broker-factory contract this package mirrors.
func New(cfg Config, override Name) (Provider, error) {
	active := cfg.Active
	if override != "" {
		active = override
	}
	switch active {
	case NameMock, "":
		return NewMockProvider(cfg.Mock), nil
	case NameRestPollA:
		return NewRestPollA(cfg.RestA), nil
	case NameRestPollB:
		return NewRestPollB(cfg.RestB, cfg.TokenStore, cfg.Instrument), nil
	default:
		return nil, fmt.Errorf("provider: unknown active provider %q: %w", active, ErrConfig)
	}
}
