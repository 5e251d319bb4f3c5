package identity

import (
	"context"
	"crypto/rsa"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/fathima-sithara/chat-platform/internal/apperr"
	"github.com/fathima-sithara/chat-platform/internal/httpclient"
	"github.com/fathima-sithara/chat-platform/internal/models"
)

// Claims is what a verified connection token yields: who the participant is
// and which tenant they belong to.
type Claims struct {
	UserID   string
	TenantID string
}

// Resolver verifies connection tokens and resolves participant display data.
type Resolver interface {
	VerifyToken(ctx context.Context, token string) (*Claims, error)
	Lookup(ctx context.Context, tenantID string, userIDs []string) (map[string]*models.UserRef, error)
}

// JWTResolver validates bearer tokens locally and fetches profiles from the
// user service.
type JWTResolver struct {
	alg            string
	pubKey         *rsa.PublicKey
	secret         []byte
	userServiceURL string
	cli            *httpclient.Client
}

func NewJWTResolver(alg, secret, pubKeyPath, userServiceURL string, cli *httpclient.Client) (*JWTResolver, error) {
	r := &JWTResolver{alg: alg, userServiceURL: strings.TrimRight(userServiceURL, "/"), cli: cli}
	switch alg {
	case "RS256":
		b, err := os.ReadFile(pubKeyPath)
		if err != nil {
			return nil, fmt.Errorf("read pubkey: %w", err)
		}
		key, err := jwt.ParseRSAPublicKeyFromPEM(b)
		if err != nil {
			return nil, fmt.Errorf("parse pubkey: %w", err)
		}
		r.pubKey = key
	case "HS256":
		if secret == "" {
			return nil, errors.New("hs256 secret required")
		}
		r.secret = []byte(secret)
	default:
		return nil, fmt.Errorf("unsupported alg %q", alg)
	}
	return r, nil
}

func (r *JWTResolver) VerifyToken(_ context.Context, token string) (*Claims, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", apperr.ErrAuthenticationFailed)
	}
	keyFunc := func(t *jwt.Token) (interface{}, error) {
		if t.Method.Alg() != r.alg {
			return nil, errors.New("unexpected signing method")
		}
		if r.alg == "RS256" {
			return r.pubKey, nil
		}
		return r.secret, nil
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{r.alg}))
	tok, err := parser.Parse(token, keyFunc)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrAuthenticationFailed, err)
	}
	claims, ok := tok.Claims.(jwt.MapClaims)
	if !ok || !tok.Valid {
		return nil, fmt.Errorf("%w: invalid token", apperr.ErrAuthenticationFailed)
	}
	sub, _ := claims["sub"].(string)
	if sub == "" {
		return nil, fmt.Errorf("%w: sub missing", apperr.ErrAuthenticationFailed)
	}
	tenantID, _ := claims["tenant_id"].(string)
	return &Claims{UserID: sub, TenantID: tenantID}, nil
}

// Lookup fetches display data for a batch of users in one round trip.
func (r *JWTResolver) Lookup(ctx context.Context, tenantID string, userIDs []string) (map[string]*models.UserRef, error) {
	if len(userIDs) == 0 {
		return map[string]*models.UserRef{}, nil
	}
	q := url.Values{}
	q.Set("tenant_id", tenantID)
	q.Set("ids", strings.Join(userIDs, ","))
	req, err := http.NewRequest(http.MethodGet, r.userServiceURL+"/internal/users?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	resp, err := r.cli.DoWithRetry(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("%w: user service: %v", apperr.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: user service returned %d", apperr.ErrUpstreamUnavailable, resp.StatusCode)
	}
	var users []*models.UserRef
	if err := json.NewDecoder(resp.Body).Decode(&users); err != nil {
		return nil, fmt.Errorf("decode users: %w", err)
	}
	out := make(map[string]*models.UserRef, len(users))
	for _, u := range users {
		out[u.ID] = u
	}
	return out, nil
}

// Hydrate merges identity display data into loaded messages. Repository load
// and identity enrichment stay separate steps; lookups are batched per call.
// A lookup failure leaves the references bare rather than failing the read.
func Hydrate(ctx context.Context, r Resolver, tenantID string, msgs []*models.Message) {
	seen := make(map[string]bool)
	var ids []string
	for _, m := range msgs {
		if m.SenderID != "" && !seen[m.SenderID] {
			seen[m.SenderID] = true
			ids = append(ids, m.SenderID)
		}
	}
	users, err := r.Lookup(ctx, tenantID, ids)
	if err != nil {
		return
	}
	for _, m := range msgs {
		if u, ok := users[m.SenderID]; ok {
			m.Sender = u
		}
	}
}
