package identity

import "context"

// PhoneResolver exchanges an opaque platform phone token for a real
// phone number. The exchange must happen in a trusted service holding
// the platform app secret; this subsystem only transports the token.
type PhoneResolver interface {
	Resolve(ctx context.Context, token string) (string, error)
}

// PlaceholderPhone is what the default resolver reports instead of a
// decoded number. It is deliberately not a dialable number so that a
// deployment still running the placeholder is visible at a glance.
const PlaceholderPhone = "pending-token-exchange"

// placeholderResolver stands in until a real token-exchange service is
// wired. Production deployments must substitute an implementation that
// calls the platform's open API with the app secret; shipping the
// placeholder means users never see a real phone number.
type placeholderResolver struct{}

// NewPlaceholderResolver returns the default no-op resolver.
func NewPlaceholderResolver() PhoneResolver {
	return placeholderResolver{}
}

func (placeholderResolver) Resolve(_ context.Context, _ string) (string, error) {
	return PlaceholderPhone, nil
}
