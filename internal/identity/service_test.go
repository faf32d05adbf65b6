package identity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/minimartlab/minimart/backend/internal/platform"
	"github.com/minimartlab/minimart/backend/internal/profile"
	"github.com/minimartlab/minimart/backend/internal/remote"
)

type stubGateway struct {
	id      string
	idErr   error
	info    platform.BasicInfo
	infoErr error
	token   *string
	tokErr  error
}

func (s *stubGateway) HasScopes(context.Context, []string) (bool, error) { return true, nil }
func (s *stubGateway) RequestScopes(context.Context, []string) error     { return nil }

func (s *stubGateway) PlatformID(context.Context) (string, error) {
	return s.id, s.idErr
}

func (s *stubGateway) BasicInfo(context.Context) (platform.BasicInfo, error) {
	return s.info, s.infoErr
}

func (s *stubGateway) PhoneToken(context.Context) (*string, error) {
	return s.token, s.tokErr
}

type upsertCall struct {
	platformID          string
	name, avatar, phone *string
}

type stubRemote struct {
	upserts   []upsertCall
	upsertOut *profile.UserProfile
	upsertErr error
	fetchOut  *profile.UserProfile
	fetchErr  error
	updateOut *profile.UserProfile
	updateErr error
}

func (s *stubRemote) UpsertByPlatformID(_ context.Context, platformID string, name, avatar, phone *string, _ string) (*profile.UserProfile, error) {
	s.upserts = append(s.upserts, upsertCall{platformID: platformID, name: name, avatar: avatar, phone: phone})
	if s.upsertErr != nil {
		return nil, s.upsertErr
	}
	return s.upsertOut.Clone(), nil
}

func (s *stubRemote) FetchByPlatformID(context.Context, string) (*profile.UserProfile, error) {
	return s.fetchOut.Clone(), s.fetchErr
}

func (s *stubRemote) UpdateProfile(context.Context, string, profile.UpdateRequest) (*profile.UserProfile, error) {
	if s.updateErr != nil {
		return nil, s.updateErr
	}
	return s.updateOut.Clone(), nil
}

// memoryCache is the in-memory substitute for the SQLite-backed store.
type memoryCache struct {
	user     *profile.UserProfile
	loggedIn bool
}

func (m *memoryCache) SaveProfile(user *profile.UserProfile) {
	if user == nil {
		return
	}
	m.user = user.Clone()
	m.loggedIn = true
}

func (m *memoryCache) LoadProfile() *profile.UserProfile { return m.user.Clone() }
func (m *memoryCache) IsLoggedIn() bool                  { return m.loggedIn }
func (m *memoryCache) Clear()                            { m.user = nil; m.loggedIn = false }

func newTestService(t *testing.T, gateway *stubGateway, store *stubRemote, cache *memoryCache) *Service {
	t.Helper()
	service, err := NewService(ServiceConfig{
		Gateway: gateway,
		Remote:  store,
		Cache:   cache,
		Clock:   func() time.Time { return time.Unix(1_756_500_000, 0) },
	})
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return service
}

func TestLoginCreatesRemoteRecordAndCachesIt(t *testing.T) {
	gateway := &stubGateway{
		id:   "u1",
		info: platform.BasicInfo{ID: "u1", Name: profile.Field("Anh")},
	}
	store := &stubRemote{
		upsertOut: &profile.UserProfile{ID: "u1", Name: profile.Field("Anh"), LastLogin: "t1"},
	}
	cache := &memoryCache{}
	service := newTestService(t, gateway, store, cache)

	user, err := service.Login(context.Background())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if user.ID != "u1" || profile.FieldValue(user.Name) != "Anh" {
		t.Fatalf("unexpected resolved profile %+v", user)
	}
	if user.Phone != nil {
		t.Fatalf("phone must stay absent after login, got %q", *user.Phone)
	}

	cached := cache.LoadProfile()
	if cached == nil || cached.ID != "u1" || profile.FieldValue(cached.Name) != "Anh" || cached.Phone != nil {
		t.Fatalf("cache does not hold the resolved record: %+v", cached)
	}
	if !cache.IsLoggedIn() {
		t.Fatalf("login flag not raised")
	}
}

func TestLoginNeverSendsPhoneToUpsert(t *testing.T) {
	gateway := &stubGateway{id: "u1", info: platform.BasicInfo{ID: "u1"}}
	store := &stubRemote{upsertOut: &profile.UserProfile{ID: "u1"}}
	service := newTestService(t, gateway, store, &memoryCache{})

	if _, err := service.Login(context.Background()); err != nil {
		t.Fatalf("login failed: %v", err)
	}

	if len(store.upserts) != 1 {
		t.Fatalf("expected one upsert, got %d", len(store.upserts))
	}
	if store.upserts[0].phone != nil {
		t.Fatalf("login passed a phone to the upsert: %q", *store.upserts[0].phone)
	}
}

func TestLoginSucceedsDegradedWhenBasicInfoDenied(t *testing.T) {
	gateway := &stubGateway{
		id:      "u1",
		infoErr: platform.ErrPermissionDenied,
	}
	store := &stubRemote{upsertOut: &profile.UserProfile{ID: "u1", LastLogin: "t1"}}
	service := newTestService(t, gateway, store, &memoryCache{})

	user, err := service.Login(context.Background())
	if err != nil {
		t.Fatalf("scope denial must not fail login: %v", err)
	}
	if user.ID != "u1" {
		t.Fatalf("expected non-empty id, got %q", user.ID)
	}
	if user.Name != nil || user.Avatar != nil {
		t.Fatalf("expected absent name/avatar, got %+v", user)
	}
	if len(store.upserts) != 1 || store.upserts[0].name != nil {
		t.Fatalf("degraded login must upsert with name absent: %+v", store.upserts)
	}
}

func TestLoginDeniedScopePreservesPriorRemoteName(t *testing.T) {
	gateway := &stubGateway{id: "u1", infoErr: platform.ErrPermissionDenied}
	// The upsert saw name absent and left the stored value alone.
	store := &stubRemote{
		upsertOut: &profile.UserProfile{ID: "u1", Name: profile.Field("Prior"), LastLogin: "t2"},
	}
	service := newTestService(t, gateway, store, &memoryCache{})

	user, err := service.Login(context.Background())
	if err != nil {
		t.Fatalf("login failed: %v", err)
	}
	if profile.FieldValue(user.Name) != "Prior" {
		t.Fatalf("expected the remote name to be adopted, got %q", profile.FieldValue(user.Name))
	}
}

func TestLoginFailsWhenIdentityUnavailable(t *testing.T) {
	gateway := &stubGateway{idErr: platform.ErrIdentityUnavailable}
	service := newTestService(t, gateway, &stubRemote{}, &memoryCache{})

	if _, err := service.Login(context.Background()); !errors.Is(err, platform.ErrIdentityUnavailable) {
		t.Fatalf("expected identity error, got %v", err)
	}
}

func TestLoginFailsWhenConsentDeclined(t *testing.T) {
	gateway := &stubGateway{id: "u1", infoErr: platform.ErrLoginDeclined}
	store := &stubRemote{}
	service := newTestService(t, gateway, store, &memoryCache{})

	if _, err := service.Login(context.Background()); !errors.Is(err, platform.ErrLoginDeclined) {
		t.Fatalf("expected consent decline to be fatal, got %v", err)
	}
	if len(store.upserts) != 0 {
		t.Fatalf("declined login must not reach the remote store")
	}
}

func TestLoginKeepsLocalProfileWhenUpsertFails(t *testing.T) {
	gateway := &stubGateway{
		id:   "u1",
		info: platform.BasicInfo{ID: "u1", Name: profile.Field("Anh")},
	}
	store := &stubRemote{upsertErr: remote.ErrRemoteUnavailable}
	cache := &memoryCache{}
	service := newTestService(t, gateway, store, cache)

	user, err := service.Login(context.Background())
	if err != nil {
		t.Fatalf("login must not hard-fail on remote sync failure: %v", err)
	}
	if user.ID != "u1" || profile.FieldValue(user.Name) != "Anh" {
		t.Fatalf("expected locally gathered profile, got %+v", user)
	}
	if cached := cache.LoadProfile(); cached == nil || profile.FieldValue(cached.Name) != "Anh" {
		t.Fatalf("local profile must still be cached, got %+v", cached)
	}
}

func TestRefreshAdoptsRemoteAndOverwritesCache(t *testing.T) {
	gateway := &stubGateway{id: "u1"}
	store := &stubRemote{fetchOut: &profile.UserProfile{ID: "u1", Name: profile.Field("B")}}
	cache := &memoryCache{}
	cache.SaveProfile(&profile.UserProfile{ID: "u1", Name: profile.Field("A")})
	service := newTestService(t, gateway, store, cache)

	user, err := service.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if profile.FieldValue(user.Name) != "B" {
		t.Fatalf("expected remote name to win, got %q", profile.FieldValue(user.Name))
	}
	if cached := cache.LoadProfile(); profile.FieldValue(cached.Name) != "B" {
		t.Fatalf("cache not overwritten, holds %q", profile.FieldValue(cached.Name))
	}
}

func TestRefreshFallsBackToCacheOnRemoteOutage(t *testing.T) {
	gateway := &stubGateway{id: "u1"}
	store := &stubRemote{fetchErr: remote.ErrRemoteUnavailable}
	cache := &memoryCache{}
	cache.SaveProfile(&profile.UserProfile{ID: "u1", Name: profile.Field("Cached")})
	service := newTestService(t, gateway, store, cache)

	user, err := service.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh must not surface a remote outage: %v", err)
	}
	if user == nil || profile.FieldValue(user.Name) != "Cached" {
		t.Fatalf("expected cached profile unchanged, got %+v", user)
	}
}

func TestRefreshFallsBackToCacheWhenRemoteAbsent(t *testing.T) {
	gateway := &stubGateway{id: "u1"}
	store := &stubRemote{}
	cache := &memoryCache{}
	cache.SaveProfile(&profile.UserProfile{ID: "u1", Name: profile.Field("Cached")})
	service := newTestService(t, gateway, store, cache)

	user, err := service.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if user == nil || profile.FieldValue(user.Name) != "Cached" {
		t.Fatalf("expected cache fallback, got %+v", user)
	}
}

func TestRefreshDiscardsCacheOfDifferentIdentity(t *testing.T) {
	gateway := &stubGateway{id: "u2"}
	store := &stubRemote{fetchErr: remote.ErrRemoteUnavailable}
	cache := &memoryCache{}
	cache.SaveProfile(&profile.UserProfile{ID: "u1", Name: profile.Field("Old")})
	service := newTestService(t, gateway, store, cache)

	user, err := service.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh failed: %v", err)
	}
	if user != nil {
		t.Fatalf("stale cache must not be served, got %+v", user)
	}
	if cache.LoadProfile() != nil {
		t.Fatalf("stale cache must be discarded")
	}
}

func TestRefreshServesCacheWhenIdentityUnavailable(t *testing.T) {
	gateway := &stubGateway{idErr: platform.ErrIdentityUnavailable}
	cache := &memoryCache{}
	cache.SaveProfile(&profile.UserProfile{ID: "u1", Name: profile.Field("Cached")})
	service := newTestService(t, gateway, &stubRemote{}, cache)

	user, err := service.Refresh(context.Background())
	if err != nil {
		t.Fatalf("read-only refresh must not fail: %v", err)
	}
	if user == nil || profile.FieldValue(user.Name) != "Cached" {
		t.Fatalf("expected cached profile, got %+v", user)
	}
}

func TestUpdateProfileRequiresActiveSession(t *testing.T) {
	service := newTestService(t, &stubGateway{}, &stubRemote{}, &memoryCache{})

	_, err := service.UpdateProfile(context.Background(), profile.UpdateRequest{Name: profile.Field("X")})
	if !errors.Is(err, ErrNoActiveSession) {
		t.Fatalf("expected ErrNoActiveSession, got %v", err)
	}
}

func TestUpdateProfileSurfacesRemoteFailure(t *testing.T) {
	store := &stubRemote{updateErr: remote.ErrRemoteUnavailable}
	cache := &memoryCache{}
	cache.SaveProfile(&profile.UserProfile{ID: "u1", Name: profile.Field("Before")})
	service := newTestService(t, &stubGateway{}, store, cache)

	_, err := service.UpdateProfile(context.Background(), profile.UpdateRequest{Name: profile.Field("After")})
	if !errors.Is(err, remote.ErrRemoteUnavailable) {
		t.Fatalf("expected surfaced remote failure, got %v", err)
	}
	if cached := cache.LoadProfile(); profile.FieldValue(cached.Name) != "Before" {
		t.Fatalf("failed update must leave the cache untouched, got %q", profile.FieldValue(cached.Name))
	}
}

func TestUpdateProfileMergesRemoteResponseIntoSession(t *testing.T) {
	store := &stubRemote{
		updateOut: &profile.UserProfile{ID: "u1", Name: profile.Field("After"), LastLogin: "t3"},
	}
	cache := &memoryCache{}
	cache.SaveProfile(&profile.UserProfile{
		ID: "u1", Name: profile.Field("Before"), Avatar: profile.Field("kept-avatar"),
	})
	service := newTestService(t, &stubGateway{}, store, cache)

	user, err := service.UpdateProfile(context.Background(), profile.UpdateRequest{Name: profile.Field("After")})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}
	if profile.FieldValue(user.Name) != "After" {
		t.Fatalf("expected updated name, got %q", profile.FieldValue(user.Name))
	}
	if profile.FieldValue(user.Avatar) != "kept-avatar" {
		t.Fatalf("expected avatar preserved from session, got %q", profile.FieldValue(user.Avatar))
	}
	if cached := cache.LoadProfile(); profile.FieldValue(cached.Name) != "After" {
		t.Fatalf("cache must hold the confirmed update, got %q", profile.FieldValue(cached.Name))
	}
}

func TestLogoutClearsLocalStateOnly(t *testing.T) {
	gateway := &stubGateway{id: "u1"}
	store := &stubRemote{fetchOut: &profile.UserProfile{ID: "u1", Name: profile.Field("Remote")}}
	cache := &memoryCache{}
	cache.SaveProfile(&profile.UserProfile{ID: "u1", Name: profile.Field("Remote")})
	service := newTestService(t, gateway, store, cache)

	service.Logout()

	if cache.LoadProfile() != nil || cache.IsLoggedIn() {
		t.Fatalf("logout must clear the local cache and flag")
	}

	// The remote record survives logout: a refresh still finds it.
	user, err := service.Refresh(context.Background())
	if err != nil {
		t.Fatalf("refresh after logout failed: %v", err)
	}
	if user == nil || profile.FieldValue(user.Name) != "Remote" {
		t.Fatalf("expected the remote record to survive logout, got %+v", user)
	}
}

func TestRequestPhoneResolvesTokenThroughResolver(t *testing.T) {
	gateway := &stubGateway{token: profile.Field("opaque")}
	service := newTestService(t, gateway, &stubRemote{}, &memoryCache{})

	phone, err := service.RequestPhone(context.Background())
	if err != nil {
		t.Fatalf("request phone failed: %v", err)
	}
	if phone != PlaceholderPhone {
		t.Fatalf("default resolver must report the placeholder, got %q", phone)
	}
}

func TestRequestPhoneReportsScopeDenial(t *testing.T) {
	gateway := &stubGateway{token: nil}
	service := newTestService(t, gateway, &stubRemote{}, &memoryCache{})

	_, err := service.RequestPhone(context.Background())
	if !errors.Is(err, platform.ErrPermissionDenied) {
		t.Fatalf("expected denial surfaced for explicit phone request, got %v", err)
	}
}
