package auth

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/MapcreatorIO/api-wrapper-sub000/pkg/listing"
)

// ConfigPersister saves renewed tokens, usually to the CLI config file.
type ConfigPersister interface {
	UpdateToken(token string, expiresAt time.Time, refreshToken string) error
}

// PersistingTokenManager wraps OAuth2TokenManager and writes every renewed
// token through a ConfigPersister.
type PersistingTokenManager struct {
	inner     *OAuth2TokenManager
	persister ConfigPersister
	logger    listing.Logger
	mutex     sync.Mutex
	lastSaved string
}

// NewPersistingTokenManager creates a config-persisting token manager.
func NewPersistingTokenManager(config *OAuth2Config, persister ConfigPersister, logger listing.Logger) *PersistingTokenManager {
	if logger == nil {
		logger = listing.NopLogger{}
	}

	return &PersistingTokenManager{
		inner:     NewOAuth2TokenManager(config),
		persister: persister,
		logger:    logger,
		lastSaved: config.AccessToken,
	}
}

// GetToken returns a valid access token and persists it when it changed.
func (m *PersistingTokenManager) GetToken(ctx context.Context) (string, error) {
	token, err := m.inner.GetToken(ctx)
	if err != nil {
		return "", err
	}

	m.persistIfChanged()

	return token, nil
}

// RefreshToken forces a token refresh and persists the result.
func (m *PersistingTokenManager) RefreshToken(ctx context.Context) error {
	err := m.inner.RefreshToken(ctx)
	if err != nil {
		return err
	}

	m.persistIfChanged()

	return nil
}

// SetToken manually sets the access token.
func (m *PersistingTokenManager) SetToken(token string, expiresAt time.Time) {
	m.inner.SetToken(token, expiresAt)
	m.persistIfChanged()
}

// TokenExpiry returns the current token's expiration time.
func (m *PersistingTokenManager) TokenExpiry() time.Time {
	token := m.inner.Current()
	if token == nil {
		return time.Time{}
	}

	return token.ExpiresAt
}

func (m *PersistingTokenManager) persistIfChanged() {
	token := m.inner.Current()
	if token == nil {
		return
	}

	m.mutex.Lock()
	defer m.mutex.Unlock()

	if token.AccessToken == m.lastSaved {
		return
	}

	err := m.persist(token)
	if err != nil {
		m.logger.Warn("failed to persist refreshed token", map[string]interface{}{"error": err.Error()})

		return
	}

	m.lastSaved = token.AccessToken
}

func (m *PersistingTokenManager) persist(token *Token) error {
	if m.persister == nil {
		return ErrNoConfigPersister
	}

	err := m.persister.UpdateToken(token.AccessToken, token.ExpiresAt, token.RefreshToken)
	if err != nil {
		return fmt.Errorf("failed to update token: %w", err)
	}

	return nil
}
