// Package remote is the client for the authoritative profile record in
// the backend data service. All access goes through named remote
// procedures on a single request/response channel; the same channel and
// row-mapping convention serve the storefront's catalog and order
// collaborators, which are outside this subsystem.
package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/minimartlab/minimart/backend/internal/profile"
	"go.uber.org/zap"
)

// Remote procedure names for the user record.
const (
	procUpsertUserByPlatformID = "rpc_upsert_user_by_platform_id"
	procGetUserByPlatformID    = "rpc_get_user_by_platform_id"
	procUpdateUserProfile      = "rpc_update_user_profile"
)

var (
	// ErrRemoteUnavailable wraps every transport or backend failure.
	// Callers decide whether to degrade to the local cache.
	ErrRemoteUnavailable = errors.New("remote: data service unavailable")

	ErrInvalidClientConfig = errors.New("remote: invalid client config")

	errMissingServiceURL = errors.New("service base url required")
	errMissingAPIKey     = errors.New("service api key required")
)

// ProfileStore is the read/write contract against the authoritative record.
type ProfileStore interface {
	// UpsertByPlatformID creates or updates the record. Safe to repeat
	// with identical input; nil optional fields mean "do not overwrite".
	UpsertByPlatformID(ctx context.Context, platformID string, name, avatar, phone *string, lastLogin string) (*profile.UserProfile, error)

	// FetchByPlatformID returns the record, or (nil, nil) when it was
	// never created.
	FetchByPlatformID(ctx context.Context, platformID string) (*profile.UserProfile, error)

	// UpdateProfile partially updates the user-editable fields. Nil
	// fields are left untouched server-side.
	UpdateProfile(ctx context.Context, platformID string, update profile.UpdateRequest) (*profile.UserProfile, error)
}

// ClientConfig bundles configuration for the data-service client.
type ClientConfig struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// Client calls the data service's remote procedures over HTTP/JSON,
// POSTing to <base>/rpc/<procedure> with the service API key.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewClient constructs a data-service client with validated configuration.
func NewClient(cfg ClientConfig) (*Client, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingServiceURL)
	}
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidClientConfig, errMissingAPIKey)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{
		baseURL:    baseURL,
		apiKey:     apiKey,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

// UpsertByPlatformID creates or updates the authoritative record.
// Omitted parameters are left out of the payload entirely so the
// procedure keeps the stored value (last-write-wins per field).
func (c *Client) UpsertByPlatformID(ctx context.Context, platformID string, name, avatar, phone *string, lastLogin string) (*profile.UserProfile, error) {
	if strings.TrimSpace(platformID) == "" {
		return nil, fmt.Errorf("%w: platform id required", ErrRemoteUnavailable)
	}
	params := map[string]any{
		"p_platform_id": platformID,
		"p_last_login":  lastLogin,
	}
	if name != nil {
		params["p_name"] = *name
	}
	if avatar != nil {
		params["p_avatar"] = *avatar
	}
	if phone != nil {
		params["p_phone"] = *phone
	}

	row, err := c.callSingleRow(ctx, procUpsertUserByPlatformID, params)
	if err != nil {
		return nil, err
	}
	return row.toProfile(), nil
}

// FetchByPlatformID reads the authoritative record.
func (c *Client) FetchByPlatformID(ctx context.Context, platformID string) (*profile.UserProfile, error) {
	params := map[string]any{"p_platform_id": platformID}

	rows, err := c.callRows(ctx, procGetUserByPlatformID, params)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return rows[0].toProfile(), nil
}

// UpdateProfile writes the user-editable fields.
func (c *Client) UpdateProfile(ctx context.Context, platformID string, update profile.UpdateRequest) (*profile.UserProfile, error) {
	params := map[string]any{"p_platform_id": platformID}
	if update.Name != nil {
		params["p_name"] = *update.Name
	}
	if update.Phone != nil {
		params["p_phone"] = *update.Phone
	}

	row, err := c.callSingleRow(ctx, procUpdateUserProfile, params)
	if err != nil {
		return nil, err
	}
	return row.toProfile(), nil
}

// userRow mirrors the row shape returned by the user procedures,
// following the service-wide mapping convention: numeric fields arrive
// as json.Number, optional text fields default to empty string.
type userRow struct {
	PlatformID string      `json:"platform_id"`
	Name       string      `json:"name"`
	Avatar     string      `json:"avatar"`
	Phone      string      `json:"phone"`
	Email      string      `json:"email"`
	LastLogin  string      `json:"last_login"`
	Version    json.Number `json:"version"`
}

// toProfile converts a row to the domain record. Empty optional columns
// decode to absent fields rather than empty strings.
func (r userRow) toProfile() *profile.UserProfile {
	user := &profile.UserProfile{
		ID:        r.PlatformID,
		LastLogin: r.LastLogin,
	}
	if r.Name != "" {
		user.Name = profile.Field(r.Name)
	}
	if r.Avatar != "" {
		user.Avatar = profile.Field(r.Avatar)
	}
	if r.Phone != "" {
		user.Phone = profile.Field(r.Phone)
	}
	if r.Email != "" {
		user.Email = profile.Field(r.Email)
	}
	return user
}

// callRows invokes a procedure and decodes its row set. The service
// returns either a JSON array of rows or a single row object.
func (c *Client) callRows(ctx context.Context, procedure string, params map[string]any) ([]userRow, error) {
	raw, err := c.call(ctx, procedure, params)
	if err != nil {
		return nil, err
	}

	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(trimmed))
	decoder.UseNumber()
	if trimmed[0] == '[' {
		var rows []userRow
		if err := decoder.Decode(&rows); err != nil {
			return nil, fmt.Errorf("%w: decoding %s response: %v", ErrRemoteUnavailable, procedure, err)
		}
		return rows, nil
	}
	var row userRow
	if err := decoder.Decode(&row); err != nil {
		return nil, fmt.Errorf("%w: decoding %s response: %v", ErrRemoteUnavailable, procedure, err)
	}
	return []userRow{row}, nil
}

func (c *Client) callSingleRow(ctx context.Context, procedure string, params map[string]any) (userRow, error) {
	rows, err := c.callRows(ctx, procedure, params)
	if err != nil {
		return userRow{}, err
	}
	if len(rows) == 0 {
		return userRow{}, fmt.Errorf("%w: procedure %s returned no row", ErrRemoteUnavailable, procedure)
	}
	return rows[0], nil
}

func (c *Client) call(ctx context.Context, procedure string, params map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(params)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/rpc/"+procedure, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("apikey", c.apiKey)
	request.Header.Set("Authorization", "Bearer "+c.apiKey)

	response, err := c.httpClient.Do(request)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}
	defer response.Body.Close()

	var payload bytes.Buffer
	if _, err := payload.ReadFrom(response.Body); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRemoteUnavailable, err)
	}

	if response.StatusCode < http.StatusOK || response.StatusCode >= http.StatusMultipleChoices {
		c.logger.Warn("data service procedure failed",
			zap.String("procedure", procedure),
			zap.Int("status", response.StatusCode))
		return nil, fmt.Errorf("%w: procedure %s returned status %d", ErrRemoteUnavailable, procedure, response.StatusCode)
	}
	return payload.Bytes(), nil
}
