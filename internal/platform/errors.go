package platform

import (
	"errors"
	"fmt"
)

// DenialReason is the stable internal classification of host-platform
// refusal codes. The reconciler branches on these instead of the host's
// numeric codes, which are mapped once at this boundary.
type DenialReason string

const (
	DenialScopeDenied     DenialReason = "scope_denied"
	DenialConsentDeclined DenialReason = "consent_declined"
	DenialUnknown         DenialReason = "unknown"
)

// Host bridge error codes observed in the wild. -1401 means the user
// dismissed a specific permission dialog; -201 means the user backed out
// of the overall login/consent flow.
const (
	hostCodeScopeDenied     = -1401
	hostCodeConsentDeclined = -201
)

var (
	// ErrPermissionDenied marks a refusal of one specific scope. Callers
	// treat this as a degraded-success signal, not a hard failure.
	ErrPermissionDenied = errors.New("platform: permission denied")

	// ErrLoginDeclined marks a refusal of the overall consent dialog and
	// is fatal to a login attempt.
	ErrLoginDeclined = errors.New("platform: login declined")

	// ErrIdentityUnavailable marks an empty or malformed platform
	// identifier in a bridge response.
	ErrIdentityUnavailable = errors.New("platform: identity unavailable")

	// ErrBridgeUnavailable marks transport or unexpected bridge failures.
	ErrBridgeUnavailable = errors.New("platform: bridge unavailable")
)

// classifyDenial maps a host numeric code to the internal taxonomy.
func classifyDenial(code int) DenialReason {
	switch code {
	case hostCodeScopeDenied:
		return DenialScopeDenied
	case hostCodeConsentDeclined:
		return DenialConsentDeclined
	default:
		return DenialUnknown
	}
}

// denialError converts a bridge refusal into the matching sentinel,
// keeping the host code in the message for diagnostics.
func denialError(code int, message string) error {
	switch classifyDenial(code) {
	case DenialScopeDenied:
		return fmt.Errorf("%w: host code %d (%s)", ErrPermissionDenied, code, message)
	case DenialConsentDeclined:
		return fmt.Errorf("%w: host code %d (%s)", ErrLoginDeclined, code, message)
	default:
		return fmt.Errorf("%w: host code %d (%s)", ErrBridgeUnavailable, code, message)
	}
}
