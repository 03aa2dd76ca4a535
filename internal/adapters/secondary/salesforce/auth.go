package salesforce

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/rendis/docgen-engine/internal/core/entity"
)

const (
	grantType = "urn:ietf:params:oauth:grant-type:jwt-bearer"

	// assertionLifetime bounds the signed assertion; the record store rejects
	// anything over a few minutes anyway.
	assertionLifetime = 3 * time.Minute

	// tokenSlack forces a refresh slightly before the session actually dies.
	tokenSlack = 2 * time.Minute
)

// tokenManager owns the bearer-grant session. One instance per client; all
// requests share it and refresh happens under the mutex.
type tokenManager struct {
	tokenURL string
	clientID string
	username string
	audience string
	key      *rsa.PrivateKey
	client   *http.Client

	mu        sync.Mutex
	token     string
	expiresAt time.Time
}

func newTokenManager(cfg *Config) (*tokenManager, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM([]byte(cfg.PrivateKey))
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	base := "https://" + strings.TrimSuffix(cfg.Domain, "/")
	return &tokenManager{
		tokenURL: base + "/services/oauth2/token",
		clientID: cfg.ClientID,
		username: cfg.Username,
		audience: base,
		key:      key,
		client:   &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// Token returns a valid bearer token, acquiring or refreshing as needed.
func (m *tokenManager) Token(ctx context.Context, forceRefresh bool) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !forceRefresh && m.token != "" && time.Now().Before(m.expiresAt) {
		return m.token, nil
	}

	assertion, err := m.signAssertion()
	if err != nil {
		return "", entity.WrapError(entity.KindInternal, err, "signing bearer assertion")
	}

	form := url.Values{
		"grant_type": {grantType},
		"assertion":  {assertion},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.tokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return "", entity.WrapError(entity.KindInternal, err, "building token request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return "", entity.WrapError(entity.KindRecordStoreUnavailable, err, "token endpoint unreachable")
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		if resp.StatusCode >= 500 {
			return "", entity.NewError(entity.KindRecordStoreUnavailable, "token endpoint error %d", resp.StatusCode)
		}
		return "", entity.NewError(entity.KindInternal, "bearer grant rejected: %s", strings.TrimSpace(string(raw)))
	}

	var payload struct {
		AccessToken string `json:"access_token"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return "", entity.WrapError(entity.KindRecordStoreUnavailable, err, "decoding token response")
	}
	if payload.AccessToken == "" {
		return "", entity.NewError(entity.KindInternal, "token endpoint returned empty access token")
	}

	m.token = payload.AccessToken
	// Session TTL is org policy and not reported here; refresh conservatively.
	m.expiresAt = time.Now().Add(15*time.Minute - tokenSlack)
	return m.token, nil
}

func (m *tokenManager) signAssertion() (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Issuer:    m.clientID,
		Subject:   m.username,
		Audience:  jwt.ClaimStrings{m.audience},
		ExpiresAt: jwt.NewNumericDate(now.Add(assertionLifetime)),
		IssuedAt:  jwt.NewNumericDate(now),
	}
	return jwt.NewWithClaims(jwt.SigningMethodRS256, claims).SignedString(m.key)
}
