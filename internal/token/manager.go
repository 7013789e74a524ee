package token

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	credentialmodel "github.com/billoapp/tabz-payments/internal/core/datamodel/credential"
)

// Authenticator exchanges a credential set for a provider access token.
// The mpesa client implements it.
type Authenticator interface {
	Authenticate(ctx context.Context, cred *credentialmodel.Decrypted) (token string, lifetime time.Duration, err error)
}

type cacheEntry struct {
	token     string
	expiresAt time.Time
}

// Manager caches provider access tokens per credential set. The cache is the
// only in-process mutable state in the service; entries expire at the
// provider lifetime minus a safety margin.
type Manager struct {
	authenticator Authenticator
	safetyMargin  time.Duration
	logger        *slog.Logger

	mu    sync.Mutex
	cache map[string]cacheEntry

	now func() time.Time
}

const defaultSafetyMargin = 60 * time.Second

func NewManager(authenticator Authenticator, logger *slog.Logger) *Manager {
	return &Manager{
		authenticator: authenticator,
		safetyMargin:  defaultSafetyMargin,
		logger:        logger,
		cache:         make(map[string]cacheEntry),
		now:           time.Now,
	}
}

func cacheKey(cred *credentialmodel.Decrypted) string {
	// consumer key identifies the credential set; never key on the secret
	return fmt.Sprintf("%s:%s", cred.Environment, cred.ConsumerKey)
}

// AccessToken returns a cached token when one is still valid, otherwise
// authenticates and caches the result.
func (m *Manager) AccessToken(ctx context.Context, cred *credentialmodel.Decrypted) (string, error) {
	key := cacheKey(cred)

	m.mu.Lock()
	entry, ok := m.cache[key]
	m.mu.Unlock()

	if ok && m.now().Before(entry.expiresAt) {
		return entry.token, nil
	}

	token, lifetime, err := m.authenticator.Authenticate(ctx, cred)
	if err != nil {
		return "", err
	}

	expiresAt := m.now().Add(lifetime - m.safetyMargin)
	m.mu.Lock()
	m.cache[key] = cacheEntry{token: token, expiresAt: expiresAt}
	m.mu.Unlock()

	m.logger.Debug("access token refreshed",
		"environment", cred.Environment,
		"expires_at", expiresAt)

	return token, nil
}

// Invalidate drops the cached token for a credential set. Callers invoke it
// when the provider rejects a token, then re-authenticate exactly once.
func (m *Manager) Invalidate(cred *credentialmodel.Decrypted) {
	m.mu.Lock()
	delete(m.cache, cacheKey(cred))
	m.mu.Unlock()
}
