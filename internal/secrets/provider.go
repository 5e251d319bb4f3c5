package secrets

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/fathima-sithara/chat-platform/internal/apperr"
	"github.com/fathima-sithara/chat-platform/internal/httpclient"
)

// TenantSecret is everything a tenant needs to open its store and decrypt its
// fields: database credentials plus the KDF inputs and the fixed AEAD nonce.
type TenantSecret struct {
	MongoURI string `json:"mongo_uri"`
	Password string `json:"password"`
	Salt     string `json:"salt"`  // hex
	Nonce    string `json:"nonce"` // hex, 12 bytes
}

func (s *TenantSecret) SaltBytes() ([]byte, error) {
	b, err := hex.DecodeString(s.Salt)
	if err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	return b, nil
}

func (s *TenantSecret) NonceBytes() ([]byte, error) {
	b, err := hex.DecodeString(s.Nonce)
	if err != nil {
		return nil, fmt.Errorf("decode nonce: %w", err)
	}
	return b, nil
}

type Provider interface {
	TenantSecret(ctx context.Context, tenantID string) (*TenantSecret, error)
}

// VaultProvider fetches tenant secrets from the vault service over HTTP.
type VaultProvider struct {
	addr  string
	token string
	cli   *httpclient.Client
}

func NewVaultProvider(addr, token string, cli *httpclient.Client) *VaultProvider {
	return &VaultProvider{addr: addr, token: token, cli: cli}
}

func (p *VaultProvider) TenantSecret(ctx context.Context, tenantID string) (*TenantSecret, error) {
	url := fmt.Sprintf("%s/v1/tenants/%s/secret", p.addr, tenantID)
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+p.token)

	resp, err := p.cli.DoWithRetry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: vault: %v", apperr.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, fmt.Errorf("%w: no secret for tenant %s", apperr.ErrTenantUnresolved, tenantID)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: vault returned %d", apperr.ErrUpstreamUnavailable, resp.StatusCode)
	}
	var sec TenantSecret
	if err := json.NewDecoder(resp.Body).Decode(&sec); err != nil {
		return nil, fmt.Errorf("decode secret: %w", err)
	}
	return &sec, nil
}

// StaticProvider serves secrets from config. Dev and test use only.
type StaticProvider struct {
	secrets map[string]*TenantSecret
}

func NewStaticProvider(secrets map[string]*TenantSecret) *StaticProvider {
	return &StaticProvider{secrets: secrets}
}

func (p *StaticProvider) TenantSecret(_ context.Context, tenantID string) (*TenantSecret, error) {
	sec, ok := p.secrets[tenantID]
	if !ok {
		return nil, fmt.Errorf("%w: no secret for tenant %s", apperr.ErrTenantUnresolved, tenantID)
	}
	return sec, nil
}

// CachedProvider memoizes lookups so the vault is not on the hot path of
// every tenant resolution.
type CachedProvider struct {
	inner Provider
	ttl   time.Duration

	mu      sync.RWMutex
	entries map[string]cachedSecret
	now     func() time.Time
}

type cachedSecret struct {
	secret    *TenantSecret
	fetchedAt time.Time
}

func NewCachedProvider(inner Provider, ttl time.Duration) *CachedProvider {
	return &CachedProvider{inner: inner, ttl: ttl, entries: make(map[string]cachedSecret), now: time.Now}
}

func (p *CachedProvider) TenantSecret(ctx context.Context, tenantID string) (*TenantSecret, error) {
	p.mu.RLock()
	e, ok := p.entries[tenantID]
	p.mu.RUnlock()
	if ok && p.now().Sub(e.fetchedAt) < p.ttl {
		return e.secret, nil
	}
	sec, err := p.inner.TenantSecret(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.entries[tenantID] = cachedSecret{secret: sec, fetchedAt: p.now()}
	p.mu.Unlock()
	return sec, nil
}
