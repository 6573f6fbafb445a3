package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/MapcreatorIO/api-wrapper-sub000/internal/constants"
)

// Static errors for err113 compliance.
var (
	ErrNoRefreshMethod   = errors.New("no refresh token, password or client credentials configured")
	ErrTokenRequest      = errors.New("token request failed")
	ErrEmptyAccessToken  = errors.New("token response carried no access token")
	ErrNoConfigPersister = errors.New("no config persister configured")
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// OAuth2Config configures an OAuth2TokenManager.
type OAuth2Config struct {
	TokenURL     string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string
	AccessToken  string
	RefreshToken string
	Scopes       []string
	HTTPClient   *http.Client
}

// OAuth2TokenManager hands out access tokens and renews them against an
// OAuth token endpoint when they run out.
type OAuth2TokenManager struct {
	config     *OAuth2Config
	store      *TokenStore
	httpClient *http.Client
	mutex      sync.Mutex
}

// NewOAuth2TokenManager creates a token manager. A configured access token
// seeds the store; its expiry is read from the token when it is a JWT.
func NewOAuth2TokenManager(config *OAuth2Config) *OAuth2TokenManager {
	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: constants.ShortHTTPTimeout}
	}

	manager := &OAuth2TokenManager{
		config:     config,
		store:      NewTokenStore(),
		httpClient: httpClient,
	}

	if config.AccessToken != "" {
		manager.SetToken(config.AccessToken, time.Time{})
	}

	return manager
}

// GetToken returns a valid access token, refreshing if necessary.
func (m *OAuth2TokenManager) GetToken(ctx context.Context) (string, error) {
	if token := m.store.Get(); token.Valid() {
		return token.AccessToken, nil
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	// Another caller may have refreshed while we waited.
	if token := m.store.Get(); token.Valid() {
		return token.AccessToken, nil
	}

	token, err := m.requestToken(ctx)
	if err != nil {
		return "", err
	}

	return token.AccessToken, nil
}

// RefreshToken forces a token refresh.
func (m *OAuth2TokenManager) RefreshToken(ctx context.Context) error {
	m.mutex.Lock()
	defer m.mutex.Unlock()

	_, err := m.requestToken(ctx)

	return err
}

// SetToken stores an access token. A zero expiresAt is replaced by the
// token's exp claim when it has one.
func (m *OAuth2TokenManager) SetToken(token string, expiresAt time.Time) {
	if expiresAt.IsZero() {
		if expiry, err := ExpiryFromJWT(token); err == nil {
			expiresAt = expiry
		}
	}

	refreshToken := m.config.RefreshToken
	if current := m.store.Get(); current != nil && current.RefreshToken != "" {
		refreshToken = current.RefreshToken
	}

	m.store.Set(&Token{
		AccessToken:  token,
		RefreshToken: refreshToken,
		TokenType:    "Bearer",
		ExpiresAt:    expiresAt,
	})
}

// Current returns the stored token, or nil.
func (m *OAuth2TokenManager) Current() *Token {
	return m.store.Get()
}

func (m *OAuth2TokenManager) grant() (url.Values, error) {
	form := url.Values{}

	refreshToken := m.config.RefreshToken
	if current := m.store.Get(); current != nil && current.RefreshToken != "" {
		refreshToken = current.RefreshToken
	}

	switch {
	case refreshToken != "":
		form.Set("grant_type", "refresh_token")
		form.Set("refresh_token", refreshToken)
	case m.config.Username != "":
		form.Set("grant_type", "password")
		form.Set("username", m.config.Username)
		form.Set("password", m.config.Password)
	case m.config.ClientID != "" && m.config.ClientSecret != "":
		form.Set("grant_type", "client_credentials")
	default:
		return nil, ErrNoRefreshMethod
	}

	if m.config.ClientID != "" {
		form.Set("client_id", m.config.ClientID)
	}

	if m.config.ClientSecret != "" {
		form.Set("client_secret", m.config.ClientSecret)
	}

	if len(m.config.Scopes) > 0 {
		form.Set("scope", strings.Join(m.config.Scopes, " "))
	}

	return form, nil
}

func (m *OAuth2TokenManager) requestToken(ctx context.Context) (*Token, error) {
	if m.config.TokenURL == "" {
		return nil, ErrNoRefreshMethod
	}

	form, err := m.grant()
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}

	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")

	resp, err := m.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTokenRequest, err)
	}

	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read token response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d: %s", ErrTokenRequest, resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var token Token

	err = json.Unmarshal(body, &token)
	if err != nil {
		return nil, fmt.Errorf("failed to decode token response: %w", err)
	}

	if token.AccessToken == "" {
		return nil, ErrEmptyAccessToken
	}

	if token.ExpiresIn > 0 {
		token.ExpiresAt = time.Now().Add(time.Duration(token.ExpiresIn) * time.Second)
	} else if expiry, expiryErr := ExpiryFromJWT(token.AccessToken); expiryErr == nil {
		token.ExpiresAt = expiry
	}

	if token.RefreshToken == "" {
		if current := m.store.Get(); current != nil {
			token.RefreshToken = current.RefreshToken
		}
	}

	m.store.Set(&token)

	return &token, nil
}
