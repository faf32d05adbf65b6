package platform

import "context"

// Well-known host scopes used by the identity flows.
const (
	ScopeUserInfo    = "scope.userInfo"
	ScopePhoneNumber = "scope.userPhonenumber"
)

// BasicInfo is the permission-gated slice of the platform identity.
// Name and Avatar stay nil when the user withheld the userInfo scope.
type BasicInfo struct {
	ID     string
	Name   *string
	Avatar *string
}

// Gateway wraps the host platform's scope-based authorization and
// identity reads. Scope denial is a normal outcome here: BasicInfo
// degrades to an id-only record and PhoneToken returns absent instead
// of failing, while total identity unavailability and unexpected bridge
// errors remain hard failures.
type Gateway interface {
	// HasScopes reports whether every requested scope is already granted.
	HasScopes(ctx context.Context, scopes []string) (bool, error)

	// RequestScopes runs the host consent flow for the given scopes.
	// Refusal surfaces as ErrPermissionDenied or ErrLoginDeclined
	// depending on which dialog the user dismissed.
	RequestScopes(ctx context.Context, scopes []string) error

	// PlatformID returns the host-native user identifier. An empty or
	// malformed identifier surfaces as ErrIdentityUnavailable.
	PlatformID(ctx context.Context) (string, error)

	// BasicInfo requests the userInfo scope and reads name/avatar. When
	// the user denies that specific scope the call still succeeds with an
	// id-only result; any other failure propagates.
	BasicInfo(ctx context.Context) (BasicInfo, error)

	// PhoneToken requests the phone scope and returns the undecoded
	// token, or nil when the user declined. The token is not a phone
	// number; it must be exchanged server-side.
	PhoneToken(ctx context.Context) (*string, error)
}
