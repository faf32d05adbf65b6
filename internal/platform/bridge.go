package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"
)

// Bridge method names exposed by the host container to the mini-app backend.
const (
	bridgeMethodGetUserID   = "getUserID"
	bridgeMethodGetSetting  = "getSetting"
	bridgeMethodAuthorize   = "authorize"
	bridgeMethodGetUserInfo = "getUserInfo"
	bridgeMethodGetPhone    = "getPhoneNumber"
)

var (
	ErrInvalidBridgeConfig = errors.New("platform: invalid bridge config")

	errMissingBridgeURL = errors.New("bridge base url required")
	errMissingAppID     = errors.New("app id required")
)

// BridgeConfig bundles configuration required to instantiate a BridgeGateway.
type BridgeConfig struct {
	BaseURL    string
	AppID      string
	HTTPClient *http.Client
	Logger     *zap.Logger
}

// BridgeGateway implements Gateway against the host super-app's HTTP
// bridge. Every call is a JSON POST to <base>/<method>; refusal codes in
// the response envelope are mapped to the internal denial taxonomy.
type BridgeGateway struct {
	baseURL    string
	appID      string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewBridgeGateway constructs a gateway with validated configuration.
func NewBridgeGateway(cfg BridgeConfig) (*BridgeGateway, error) {
	baseURL := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBridgeConfig, errMissingBridgeURL)
	}
	appID := strings.TrimSpace(cfg.AppID)
	if appID == "" {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBridgeConfig, errMissingAppID)
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BridgeGateway{
		baseURL:    baseURL,
		appID:      appID,
		httpClient: httpClient,
		logger:     logger,
	}, nil
}

type bridgeEnvelope struct {
	Error   int             `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// call posts a bridge method and decodes the envelope. A non-zero
// envelope code is translated through the denial taxonomy.
func (g *BridgeGateway) call(ctx context.Context, method string, params any, result any) error {
	body, err := json.Marshal(map[string]any{"appId": g.appID, "params": params})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, g.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := g.httpClient.Do(request)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: bridge method %s returned status %d", ErrBridgeUnavailable, method, response.StatusCode)
	}

	var envelope bridgeEnvelope
	if err := json.NewDecoder(response.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
	}
	if envelope.Error != 0 {
		return denialError(envelope.Error, envelope.Message)
	}
	if result != nil && len(envelope.Data) > 0 {
		if err := json.Unmarshal(envelope.Data, result); err != nil {
			return fmt.Errorf("%w: %v", ErrBridgeUnavailable, err)
		}
	}
	return nil
}

// HasScopes queries the current authorization settings and reports
// whether every requested scope is already granted.
func (g *BridgeGateway) HasScopes(ctx context.Context, scopes []string) (bool, error) {
	var settings struct {
		AuthSetting map[string]bool `json:"authSetting"`
	}
	if err := g.call(ctx, bridgeMethodGetSetting, nil, &settings); err != nil {
		return false, err
	}
	for _, scope := range scopes {
		if !settings.AuthSetting[scope] {
			return false, nil
		}
	}
	return true, nil
}

// RequestScopes triggers the host consent flow for the given scopes.
func (g *BridgeGateway) RequestScopes(ctx context.Context, scopes []string) error {
	params := map[string]any{"scopes": scopes}
	return g.call(ctx, bridgeMethodAuthorize, params, nil)
}

// PlatformID returns the host-native user identifier.
func (g *BridgeGateway) PlatformID(ctx context.Context) (string, error) {
	var payload struct {
		UserID string `json:"userID"`
		ID     string `json:"id"`
	}
	if err := g.call(ctx, bridgeMethodGetUserID, nil, &payload); err != nil {
		return "", err
	}
	id := strings.TrimSpace(payload.UserID)
	if id == "" {
		id = strings.TrimSpace(payload.ID)
	}
	if id == "" {
		return "", ErrIdentityUnavailable
	}
	return id, nil
}

// BasicInfo requests the userInfo scope and reads name/avatar. A denial
// of that specific scope degrades to an id-only result.
func (g *BridgeGateway) BasicInfo(ctx context.Context) (BasicInfo, error) {
	if err := g.ensureScopes(ctx, []string{ScopeUserInfo}); err != nil {
		if errors.Is(err, ErrPermissionDenied) {
			g.logger.Info("userInfo scope denied, degrading to id-only identity")
			id, idErr := g.PlatformID(ctx)
			if idErr != nil {
				return BasicInfo{}, idErr
			}
			return BasicInfo{ID: id}, nil
		}
		return BasicInfo{}, err
	}

	var payload struct {
		UserInfo struct {
			ID     string `json:"id"`
			Name   string `json:"name"`
			Avatar string `json:"avatar"`
		} `json:"userInfo"`
	}
	params := map[string]any{"autoRequestPermission": false, "avatarType": "normal"}
	if err := g.call(ctx, bridgeMethodGetUserInfo, params, &payload); err != nil {
		return BasicInfo{}, err
	}
	if strings.TrimSpace(payload.UserInfo.ID) == "" {
		return BasicInfo{}, ErrIdentityUnavailable
	}

	info := BasicInfo{ID: payload.UserInfo.ID}
	if payload.UserInfo.Name != "" {
		name := payload.UserInfo.Name
		info.Name = &name
	}
	if payload.UserInfo.Avatar != "" {
		avatar := payload.UserInfo.Avatar
		info.Avatar = &avatar
	}
	return info, nil
}

// PhoneToken requests the phone scope and returns the opaque token, or
// nil when the user declined either the scope dialog or the consent flow.
func (g *BridgeGateway) PhoneToken(ctx context.Context) (*string, error) {
	if err := g.ensureScopes(ctx, []string{ScopePhoneNumber}); err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrLoginDeclined) {
			g.logger.Info("phone scope denied", zap.Error(err))
			return nil, nil
		}
		return nil, err
	}

	var payload struct {
		Token string `json:"token"`
	}
	if err := g.call(ctx, bridgeMethodGetPhone, nil, &payload); err != nil {
		if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrLoginDeclined) {
			return nil, nil
		}
		return nil, err
	}
	if payload.Token == "" {
		return nil, nil
	}
	token := payload.Token
	return &token, nil
}

// ensureScopes requests any scopes that are not already granted.
func (g *BridgeGateway) ensureScopes(ctx context.Context, scopes []string) error {
	granted, err := g.HasScopes(ctx, scopes)
	if err != nil {
		return err
	}
	if granted {
		return nil
	}
	return g.RequestScopes(ctx, scopes)
}
