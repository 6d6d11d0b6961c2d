package provider

import "errors"

// Sentinel error kinds, matching the propagation policy in the gateway's
// error-handling design: callers type-switch or errors.Is against these
// rather than inspecting message strings.
var (
	// ErrConfig means credentials are missing or the provider name is unknown.
	ErrConfig = errors.New("provider: configuration error")

	// ErrAuth means a login/validate/token-exchange call was rejected.
	ErrAuth = errors.New("provider: authentication failed")

	// ErrTransientNetwork means a poll returned a non-2xx status or timed out.
	// The tick loop logs and continues; it never terminates the session.
	ErrTransientNetwork = errors.New("provider: transient network error")

	// ErrNotSupported means the operation has no implementation for this
	// provider variant (e.g. RestPoll-A's historical, or any provider's
	// snapshot before it is implemented).
	ErrNotSupported = errors.New("provider: not supported")
)
