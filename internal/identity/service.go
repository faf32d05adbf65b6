// Package identity reconciles the three sources of truth for a user's
// profile: the host platform's permission-gated identity APIs, the
// authoritative remote record, and the on-device cache. Conflicts are
// resolved by a fixed precedence policy (remote wins over freshly
// gathered platform data, which wins over the cache).
package identity

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/minimartlab/minimart/backend/internal/platform"
	"github.com/minimartlab/minimart/backend/internal/profile"
	"github.com/minimartlab/minimart/backend/internal/remote"
	"go.uber.org/zap"
)

// ErrNoActiveSession indicates a profile update was requested before any
// successful login populated the session.
var ErrNoActiveSession = errors.New("identity: no active session")

// CacheStore is the on-device cache consumed by the reconciler. All
// methods are best-effort; implementations never propagate persistence
// failures.
type CacheStore interface {
	SaveProfile(user *profile.UserProfile)
	LoadProfile() *profile.UserProfile
	IsLoggedIn() bool
	Clear()
}

// ServiceConfig describes the collaborators required by the reconciler.
type ServiceConfig struct {
	Gateway platform.Gateway
	Remote  remote.ProfileStore
	Cache   CacheStore
	Phones  PhoneResolver
	Clock   func() time.Time
	Logger  *zap.Logger
}

// Service orchestrates login, refresh, update, logout, and the explicit
// phone request across the permission gateway, the remote profile store,
// and the local cache. Operations run strictly sequentially within one
// invocation; concurrent invocations are not coalesced and the last one
// to finish wins on shared state.
type Service struct {
	gateway platform.Gateway
	remote  remote.ProfileStore
	cache   CacheStore
	phones  PhoneResolver
	now     func() time.Time
	logger  *zap.Logger
}

// NewService constructs the reconciler with validated dependencies.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Gateway == nil {
		return nil, fmt.Errorf("identity: platform gateway required")
	}
	if cfg.Remote == nil {
		return nil, fmt.Errorf("identity: remote profile store required")
	}
	if cfg.Cache == nil {
		return nil, fmt.Errorf("identity: cache store required")
	}
	phones := cfg.Phones
	if phones == nil {
		phones = NewPlaceholderResolver()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		gateway: cfg.Gateway,
		remote:  cfg.Remote,
		cache:   cfg.Cache,
		phones:  phones,
		now:     clock,
		logger:  logger,
	}, nil
}

// Login acquires the platform identity, syncs it to the remote store,
// and caches the resolved profile.
//
// A missing platform id or a declined consent dialog is fatal. A denied
// userInfo scope degrades to an id-only profile. The phone number is
// never fetched here: an eager fetch would push a placeholder over a
// real stored number, so the upsert always passes phone as absent and
// the authoritative phone survives. A failed upsert is logged and the
// locally gathered profile is kept; login does not hard-fail solely
// because the remote sync failed.
func (s *Service) Login(ctx context.Context) (*profile.UserProfile, error) {
	platformID, err := s.gateway.PlatformID(ctx)
	if err != nil {
		return nil, err
	}

	info, err := s.gateway.BasicInfo(ctx)
	if err != nil {
		if !errors.Is(err, platform.ErrPermissionDenied) {
			return nil, err
		}
		s.logger.Info("basic info denied, continuing with id-only profile", zap.String("platform_id", platformID))
		info = platform.BasicInfo{ID: platformID}
	}

	loginAt := profile.FormatTimestamp(s.now())
	gathered := &profile.UserProfile{
		ID:        platformID,
		Name:      info.Name,
		Avatar:    info.Avatar,
		LastLogin: loginAt,
	}

	resolved := gathered
	remoteUser, err := s.remote.UpsertByPlatformID(ctx, platformID, info.Name, info.Avatar, nil, loginAt)
	if err != nil {
		s.logger.Warn("remote profile sync failed during login, keeping local profile",
			zap.String("platform_id", platformID), zap.Error(err))
	} else {
		resolved = profile.Resolve(remoteUser, gathered, nil)
	}

	s.cache.SaveProfile(resolved)
	return resolved, nil
}

// Refresh performs a DB-first read of the current identity. A reachable
// remote record is adopted and overwrites the cache; remote failure or
// absence degrades silently to whatever the cache holds. A read-only
// refresh never fails the caller.
func (s *Service) Refresh(ctx context.Context) (*profile.UserProfile, error) {
	platformID, err := s.gateway.PlatformID(ctx)
	if err != nil {
		s.logger.Warn("platform identity unavailable during refresh, serving cache", zap.Error(err))
		return s.cache.LoadProfile(), nil
	}

	cached := s.cache.LoadProfile()
	if cached != nil && cached.ID != platformID {
		// Stale cache from a different platform identity. Never trusted.
		s.logger.Warn("cached profile belongs to a different identity, discarding",
			zap.String("cached_id", cached.ID), zap.String("platform_id", platformID))
		s.cache.Clear()
		cached = nil
	}

	remoteUser, err := s.remote.FetchByPlatformID(ctx, platformID)
	if err != nil {
		s.logger.Warn("remote profile read failed, serving cache", zap.Error(err))
		return cached, nil
	}
	if remoteUser == nil {
		return cached, nil
	}

	resolved := profile.Resolve(remoteUser, nil, nil)
	s.cache.SaveProfile(resolved)
	return resolved, nil
}

// UpdateProfile writes user-editable fields to the remote store and, only
// on remote success, merges the response into the cached profile. Remote
// failure is surfaced: a change the user explicitly requested must be
// confirmed, not silently dropped.
func (s *Service) UpdateProfile(ctx context.Context, update profile.UpdateRequest) (*profile.UserProfile, error) {
	current := s.cache.LoadProfile()
	if !current.LoggedIn() {
		return nil, ErrNoActiveSession
	}

	remoteUser, err := s.remote.UpdateProfile(ctx, current.ID, update)
	if err != nil {
		return nil, err
	}

	resolved := profile.Resolve(remoteUser, nil, current)
	if resolved.LastLogin == "" {
		resolved.LastLogin = profile.FormatTimestamp(s.now())
	}
	s.cache.SaveProfile(resolved)
	return resolved, nil
}

// Logout tears down the local cache and login flag. The remote record is
// left untouched and internal storage errors never reach the caller.
func (s *Service) Logout() {
	s.cache.Clear()
	s.logger.Info("local session cleared")
}

// RequestPhone runs the explicit phone-number flow: consent, token, and
// token exchange through the configured PhoneResolver. Denial of the
// phone scope is the sole purpose of this call, so it is reported up as
// platform.ErrPermissionDenied instead of degrading.
//
// The result is NOT persisted anywhere: with the default placeholder
// resolver the value is not a real phone number, and writing it to the
// remote store would overwrite a genuine one. Deployments that wire a
// real resolver should follow up with UpdateProfile.
func (s *Service) RequestPhone(ctx context.Context) (string, error) {
	token, err := s.gateway.PhoneToken(ctx)
	if err != nil {
		return "", err
	}
	if token == nil {
		return "", fmt.Errorf("%w: phone scope declined", platform.ErrPermissionDenied)
	}

	phone, err := s.phones.Resolve(ctx, *token)
	if err != nil {
		return "", err
	}
	return phone, nil
}

// IsLoggedIn reports the persisted login flag.
func (s *Service) IsLoggedIn() bool {
	return s.cache.IsLoggedIn()
}

// CachedProfile exposes the cached record for session bootstrap.
func (s *Service) CachedProfile() *profile.UserProfile {
	return s.cache.LoadProfile()
}
