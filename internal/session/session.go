// Package session is the stateful front of the identity subsystem: it
// holds the current resolved user, the in-flight and error flags, and
// republishes every transition to UI collaborators.
package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/minimartlab/minimart/backend/internal/identity"
	"github.com/minimartlab/minimart/backend/internal/platform"
	"github.com/minimartlab/minimart/backend/internal/profile"
	"github.com/minimartlab/minimart/backend/internal/remote"
	"go.uber.org/zap"
)

// Reconciler is the slice of the identity reconciler the facade drives.
type Reconciler interface {
	Login(ctx context.Context) (*profile.UserProfile, error)
	Refresh(ctx context.Context) (*profile.UserProfile, error)
	UpdateProfile(ctx context.Context, update profile.UpdateRequest) (*profile.UserProfile, error)
	Logout()
	RequestPhone(ctx context.Context) (string, error)
	IsLoggedIn() bool
}

// AuthState is the snapshot UI collaborators consume. Absent gated
// fields on User are the cue to render a permission re-request.
type AuthState struct {
	User      *profile.UserProfile
	SessionID string
	LoggedIn  bool
	Loading   bool
	Error     string
}

// Session wraps the reconciler with process-local reactive state. Every
// mutating operation raises Loading and clears Error on entry, restores
// Loading in a deferred block regardless of outcome, and on failure both
// records a human-readable message and returns the typed error so
// callers can branch on error classes.
//
// Concurrent operations are not coalesced: each runs independently and
// the last to finish wins on the exposed state. Callers needing strict
// ordering must serialize externally.
type Session struct {
	reconciler Reconciler
	dispatcher *StateDispatcher
	ids        IDProvider
	logger     *zap.Logger

	mu        sync.Mutex
	user      *profile.UserProfile
	sessionID string
	loading   bool
	lastError string
}

// Config describes the dependencies of the session facade.
type Config struct {
	Reconciler Reconciler
	IDs        IDProvider
	Logger     *zap.Logger
}

// New constructs a session facade around the given reconciler.
func New(cfg Config) (*Session, error) {
	if cfg.Reconciler == nil {
		return nil, fmt.Errorf("session: reconciler required")
	}
	ids := cfg.IDs
	if ids == nil {
		ids = NewUUIDProvider()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		reconciler: cfg.Reconciler,
		dispatcher: NewStateDispatcher(),
		ids:        ids,
		logger:     logger,
	}, nil
}

// State returns a snapshot of the current session.
func (s *Session) State() AuthState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

// Subscribe registers a listener for state transitions.
func (s *Session) Subscribe(ctx context.Context) (<-chan AuthState, func()) {
	return s.dispatcher.Subscribe(ctx)
}

// Bootstrap restores the session on app start: when the persisted login
// flag is set it runs a DB-first refresh, otherwise it leaves the
// session anonymous.
func (s *Session) Bootstrap(ctx context.Context) {
	if !s.reconciler.IsLoggedIn() {
		return
	}
	if _, err := s.Refresh(ctx); err != nil {
		s.logger.Warn("session bootstrap refresh failed", zap.Error(err))
	}
}

// Login runs the full login flow and, on success, replaces the session
// user atomically and mints a fresh session identity.
func (s *Session) Login(ctx context.Context) (*profile.UserProfile, error) {
	s.begin()
	user, err := s.reconciler.Login(ctx)
	if err != nil {
		s.fail(err)
		return nil, err
	}

	sessionID, idErr := s.ids.NewID()
	if idErr != nil {
		s.logger.Warn("failed to mint session id", zap.Error(idErr))
	}

	s.mu.Lock()
	s.user = user.Clone()
	s.sessionID = sessionID
	s.loading = false
	state := s.snapshotLocked()
	s.mu.Unlock()
	s.dispatcher.Publish(state)
	return user, nil
}

// Refresh re-reads the authoritative record and adopts the result. A nil
// resolved profile (no remote record, empty cache) clears the user.
func (s *Session) Refresh(ctx context.Context) (*profile.UserProfile, error) {
	s.begin()
	user, err := s.reconciler.Refresh(ctx)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	s.succeed(user)
	return user, nil
}

// UpdateProfile persists user-edited fields. The session user changes
// only when the remote store confirmed the write.
func (s *Session) UpdateProfile(ctx context.Context, update profile.UpdateRequest) (*profile.UserProfile, error) {
	s.begin()
	user, err := s.reconciler.UpdateProfile(ctx, update)
	if err != nil {
		s.fail(err)
		return nil, err
	}
	s.succeed(user)
	return user, nil
}

// Logout clears local state. It never fails from the caller's view.
func (s *Session) Logout() {
	s.begin()
	s.reconciler.Logout()

	s.mu.Lock()
	s.user = nil
	s.sessionID = ""
	s.loading = false
	state := s.snapshotLocked()
	s.mu.Unlock()
	s.dispatcher.Publish(state)
}

// RequestPhone runs the explicit phone flow and applies the result to
// the in-memory session user only; see identity.Service.RequestPhone for
// why the value is never persisted.
func (s *Session) RequestPhone(ctx context.Context) (string, error) {
	s.begin()
	phone, err := s.reconciler.RequestPhone(ctx)
	if err != nil {
		s.fail(err)
		return "", err
	}

	s.mu.Lock()
	if s.user != nil {
		s.user.Phone = profile.Field(phone)
	}
	s.loading = false
	state := s.snapshotLocked()
	s.mu.Unlock()
	s.dispatcher.Publish(state)
	return phone, nil
}

func (s *Session) begin() {
	s.mu.Lock()
	s.loading = true
	s.lastError = ""
	state := s.snapshotLocked()
	s.mu.Unlock()
	s.dispatcher.Publish(state)
}

func (s *Session) succeed(user *profile.UserProfile) {
	s.mu.Lock()
	s.user = user.Clone()
	s.loading = false
	state := s.snapshotLocked()
	s.mu.Unlock()
	s.dispatcher.Publish(state)
}

func (s *Session) fail(err error) {
	message := HumanizeError(err)
	s.mu.Lock()
	s.lastError = message
	s.loading = false
	state := s.snapshotLocked()
	s.mu.Unlock()
	s.dispatcher.Publish(state)
	s.logger.Warn("session operation failed", zap.String("message", message), zap.Error(err))
}

func (s *Session) snapshotLocked() AuthState {
	return AuthState{
		User:      s.user.Clone(),
		SessionID: s.sessionID,
		LoggedIn:  s.user.LoggedIn(),
		Loading:   s.loading,
		Error:     s.lastError,
	}
}

// HumanizeError converts a failure from any layer into the stable,
// user-presentable message the facade exposes. Raw transport errors
// never leak; callers that need structured handling branch on the typed
// error returned alongside.
func HumanizeError(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, platform.ErrLoginDeclined):
		return "Login was cancelled"
	case errors.Is(err, platform.ErrPermissionDenied):
		return "Permission was declined"
	case errors.Is(err, platform.ErrIdentityUnavailable):
		return "Could not determine your account"
	case errors.Is(err, identity.ErrNoActiveSession):
		return "Please log in first"
	case errors.Is(err, remote.ErrRemoteUnavailable):
		return "Service is temporarily unavailable"
	default:
		return "Something went wrong, please try again"
	}
}
