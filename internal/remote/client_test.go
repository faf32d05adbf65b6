package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/minimartlab/minimart/backend/internal/profile"
)

// fakeDataService emulates the data service's user procedures with an
// in-memory table, including the per-field last-write-wins upsert.
type fakeDataService struct {
	mu    sync.Mutex
	users map[string]map[string]string
	calls map[string]int
	fail  bool
}

func newFakeDataService() *fakeDataService {
	return &fakeDataService{
		users: make(map[string]map[string]string),
		calls: make(map[string]int),
	}
}

func (f *fakeDataService) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("apikey") == "" {
			t.Errorf("missing apikey header")
		}
		procedure := strings.TrimPrefix(r.URL.Path, "/rpc/")

		f.mu.Lock()
		defer f.mu.Unlock()
		f.calls[procedure]++

		if f.fail {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}

		var params map[string]any
		if err := json.NewDecoder(r.Body).Decode(&params); err != nil {
			t.Errorf("failed to decode params: %v", err)
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		platformID, _ := params["p_platform_id"].(string)

		switch procedure {
		case procUpsertUserByPlatformID, procUpdateUserProfile:
			row, ok := f.users[platformID]
			if !ok {
				if procedure == procUpdateUserProfile {
					w.WriteHeader(http.StatusNotFound)
					return
				}
				row = map[string]string{"platform_id": platformID, "version": "0"}
				f.users[platformID] = row
			}
			for param, column := range map[string]string{
				"p_name": "name", "p_avatar": "avatar", "p_phone": "phone", "p_last_login": "last_login",
			} {
				if value, present := params[param]; present {
					row[column], _ = value.(string)
				}
			}
			writeRow(w, row)
		case procGetUserByPlatformID:
			row, ok := f.users[platformID]
			if !ok {
				w.Header().Set("Content-Type", "application/json")
				if _, err := w.Write([]byte("[]")); err != nil {
					t.Errorf("write failed: %v", err)
				}
				return
			}
			writeRow(w, row)
		default:
			t.Errorf("unexpected procedure %q", procedure)
			w.WriteHeader(http.StatusNotFound)
		}
	})
}

func writeRow(w http.ResponseWriter, row map[string]string) {
	payload := map[string]any{"version": json.Number("1")}
	for column, value := range row {
		if column == "version" {
			continue
		}
		payload[column] = value
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode([]map[string]any{payload})
}

func newTestClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	client, err := NewClient(ClientConfig{BaseURL: baseURL, APIKey: "service-key"})
	if err != nil {
		t.Fatalf("failed to construct client: %v", err)
	}
	return client
}

func TestNewClientRequiresURLAndKey(t *testing.T) {
	if _, err := NewClient(ClientConfig{APIKey: "k"}); !errors.Is(err, ErrInvalidClientConfig) {
		t.Fatalf("expected config error for missing url, got %v", err)
	}
	if _, err := NewClient(ClientConfig{BaseURL: "http://data"}); !errors.Is(err, ErrInvalidClientConfig) {
		t.Fatalf("expected config error for missing key, got %v", err)
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	service := newFakeDataService()
	server := httptest.NewServer(service.handler(t))
	defer server.Close()
	client := newTestClient(t, server.URL)

	name := "Anh"
	first, err := client.UpsertByPlatformID(context.Background(), "u1", &name, nil, nil, "2026-08-30T00:00:00Z")
	if err != nil {
		t.Fatalf("first upsert failed: %v", err)
	}
	second, err := client.UpsertByPlatformID(context.Background(), "u1", &name, nil, nil, "2026-08-30T00:00:00Z")
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	if first.ID != second.ID || first.ID != "u1" {
		t.Fatalf("expected stable id across upserts, got %q and %q", first.ID, second.ID)
	}
	if profile.FieldValue(first.Name) != profile.FieldValue(second.Name) {
		t.Fatalf("expected identical field values, got %q and %q",
			profile.FieldValue(first.Name), profile.FieldValue(second.Name))
	}
	if len(service.users) != 1 {
		t.Fatalf("expected a single record, got %d", len(service.users))
	}
}

func TestUpsertAbsentFieldsDoNotOverwrite(t *testing.T) {
	service := newFakeDataService()
	server := httptest.NewServer(service.handler(t))
	defer server.Close()
	client := newTestClient(t, server.URL)

	phone := "0912345678"
	if _, err := client.UpsertByPlatformID(context.Background(), "u1", profile.Field("Anh"), nil, &phone, "t1"); err != nil {
		t.Fatalf("seed upsert failed: %v", err)
	}

	// A later login upserts with phone absent; the stored phone survives.
	updated, err := client.UpsertByPlatformID(context.Background(), "u1", profile.Field("Anh Updated"), nil, nil, "t2")
	if err != nil {
		t.Fatalf("second upsert failed: %v", err)
	}

	if profile.FieldValue(updated.Phone) != "0912345678" {
		t.Fatalf("absent phone overwrote stored value, got %q", profile.FieldValue(updated.Phone))
	}
	if profile.FieldValue(updated.Name) != "Anh Updated" {
		t.Fatalf("expected name updated, got %q", profile.FieldValue(updated.Name))
	}
}

func TestFetchReturnsAbsentForUnknownUser(t *testing.T) {
	service := newFakeDataService()
	server := httptest.NewServer(service.handler(t))
	defer server.Close()
	client := newTestClient(t, server.URL)

	user, err := client.FetchByPlatformID(context.Background(), "nobody")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user != nil {
		t.Fatalf("expected absent record, got %+v", user)
	}
}

func TestFetchMapsRowToDomainProfile(t *testing.T) {
	service := newFakeDataService()
	service.users["u1"] = map[string]string{
		"platform_id": "u1", "name": "Anh", "avatar": "", "phone": "0912345678", "last_login": "t1",
	}
	server := httptest.NewServer(service.handler(t))
	defer server.Close()
	client := newTestClient(t, server.URL)

	user, err := client.FetchByPlatformID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.ID != "u1" || profile.FieldValue(user.Name) != "Anh" {
		t.Fatalf("unexpected mapping %+v", user)
	}
	if user.Avatar != nil {
		t.Fatalf("empty column must decode to absent, got %q", *user.Avatar)
	}
	if user.LastLogin != "t1" {
		t.Fatalf("unexpected lastLogin %q", user.LastLogin)
	}
}

func TestUpdateProfileLeavesOmittedFieldsUntouched(t *testing.T) {
	service := newFakeDataService()
	service.users["u1"] = map[string]string{
		"platform_id": "u1", "name": "Anh", "phone": "0912345678",
	}
	server := httptest.NewServer(service.handler(t))
	defer server.Close()
	client := newTestClient(t, server.URL)

	updated, err := client.UpdateProfile(context.Background(), "u1", profile.UpdateRequest{
		Name: profile.Field("Anh Pham"),
	})
	if err != nil {
		t.Fatalf("update failed: %v", err)
	}

	if profile.FieldValue(updated.Name) != "Anh Pham" {
		t.Fatalf("expected new name, got %q", profile.FieldValue(updated.Name))
	}
	if profile.FieldValue(updated.Phone) != "0912345678" {
		t.Fatalf("omitted phone changed, got %q", profile.FieldValue(updated.Phone))
	}
}

func TestBackendFailureSurfacesAsRemoteUnavailable(t *testing.T) {
	service := newFakeDataService()
	service.fail = true
	server := httptest.NewServer(service.handler(t))
	defer server.Close()
	client := newTestClient(t, server.URL)

	if _, err := client.FetchByPlatformID(context.Background(), "u1"); !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable for fetch, got %v", err)
	}
	if _, err := client.UpsertByPlatformID(context.Background(), "u1", nil, nil, nil, "t"); !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable for upsert, got %v", err)
	}
	if _, err := client.UpdateProfile(context.Background(), "u1", profile.UpdateRequest{}); !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable for update, got %v", err)
	}
}

func TestTransportFailureSurfacesAsRemoteUnavailable(t *testing.T) {
	client := newTestClient(t, "http://127.0.0.1:1")

	if _, err := client.FetchByPlatformID(context.Background(), "u1"); !errors.Is(err, ErrRemoteUnavailable) {
		t.Fatalf("expected ErrRemoteUnavailable on refused connection, got %v", err)
	}
}
