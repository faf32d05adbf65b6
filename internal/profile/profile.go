package profile

import (
	"strings"
	"time"
)

// UserProfile is the canonical identity record shared by the platform
// gateway, the remote store, and the local cache. Optional fields use
// pointers so that "absent" stays distinguishable from "empty string":
// an absent field passed to the remote store means "do not overwrite".
type UserProfile struct {
	ID        string  `json:"id"`
	Name      *string `json:"name,omitempty"`
	Avatar    *string `json:"avatar,omitempty"`
	Phone     *string `json:"phone,omitempty"`
	Email     *string `json:"email,omitempty"`
	LastLogin string  `json:"lastLogin,omitempty"`
}

// UpdateRequest carries the user-editable subset of profile fields.
// Nil fields are left untouched server-side.
type UpdateRequest struct {
	Name  *string `json:"name,omitempty"`
	Phone *string `json:"phone,omitempty"`
}

// LoggedIn reports whether the record is usable as an authenticated
// identity. A record without a platform id is never considered logged in.
func (p *UserProfile) LoggedIn() bool {
	return p != nil && strings.TrimSpace(p.ID) != ""
}

// Clone returns a deep copy so callers can hand out snapshots without
// sharing pointer fields with mutable session state.
func (p *UserProfile) Clone() *UserProfile {
	if p == nil {
		return nil
	}
	clone := UserProfile{
		ID:        p.ID,
		Name:      cloneField(p.Name),
		Avatar:    cloneField(p.Avatar),
		Phone:     cloneField(p.Phone),
		Email:     cloneField(p.Email),
		LastLogin: p.LastLogin,
	}
	return &clone
}

// FormatTimestamp renders lastLogin values the way every store expects them.
func FormatTimestamp(at time.Time) string {
	return at.UTC().Format(time.RFC3339)
}

// Field wraps a concrete string as an optional profile field.
func Field(value string) *string {
	return &value
}

// FieldValue unwraps an optional field, defaulting to empty string.
func FieldValue(field *string) string {
	if field == nil {
		return ""
	}
	return *field
}

func cloneField(field *string) *string {
	if field == nil {
		return nil
	}
	value := *field
	return &value
}
