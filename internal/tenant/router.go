package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/event"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"

	"github.com/fathima-sithara/chat-platform/internal/apperr"
	"github.com/fathima-sithara/chat-platform/internal/cache"
	"github.com/fathima-sithara/chat-platform/internal/config"
	"github.com/fathima-sithara/chat-platform/internal/crypto"
	"github.com/fathima-sithara/chat-platform/internal/repository"
	"github.com/fathima-sithara/chat-platform/internal/secrets"
)

// Conn is the cached per-tenant tuple: store handle, bound repositories and
// the tenant field cipher.
type Conn struct {
	TenantID string
	Client   *mongo.Client
	Repos    *repository.Set
	Cipher   *crypto.Cipher

	uri string // connection string the tuple is bound to
}

// Opener abstracts mongo.Connect so resolution can be exercised without a
// running store. The pool monitor delivers store-level disconnect
// notifications back to the router.
type Opener func(ctx context.Context, uri string, monitor *event.PoolMonitor) (*mongo.Client, error)

func mongoOpener(connectTimeout time.Duration) Opener {
	return func(ctx context.Context, uri string, monitor *event.PoolMonitor) (*mongo.Client, error) {
		ctx, cancel := context.WithTimeout(ctx, connectTimeout)
		defer cancel()
		opts := options.Client().ApplyURI(uri)
		if monitor != nil {
			opts.SetPoolMonitor(monitor)
		}
		cli, err := mongo.Connect(ctx, opts)
		if err != nil {
			return nil, err
		}
		if err := cli.Ping(ctx, nil); err != nil {
			_ = cli.Disconnect(context.Background())
			return nil, err
		}
		return cli, nil
	}
}

// Router lazily opens and caches one isolated connection and repository set
// per tenant for the process lifetime.
type Router struct {
	cfg        config.MongoConfig
	decryptTTL time.Duration
	secrets    secrets.Provider
	keys       *crypto.KeyCache
	valueCache cache.TTLCache
	log        *zap.SugaredLogger
	open       Opener

	mu      sync.Mutex
	conns   map[string]*resolution
	clients map[string]*mongo.Client // pooled sockets by URI, survive eviction
}

// resolution memoizes an in-flight or completed resolve so concurrent first
// resolutions for one tenant coalesce into a single open attempt.
type resolution struct {
	done chan struct{}
	conn *Conn
	err  error
}

func NewRouter(cfg config.MongoConfig, decryptTTL time.Duration, provider secrets.Provider, keys *crypto.KeyCache, valueCache cache.TTLCache, log *zap.SugaredLogger) *Router {
	return &Router{
		cfg:        cfg,
		decryptTTL: decryptTTL,
		secrets:    provider,
		keys:       keys,
		valueCache: valueCache,
		log:        log,
		open:       mongoOpener(cfg.ConnectTimeout),
		conns:      make(map[string]*resolution),
		clients:    make(map[string]*mongo.Client),
	}
}

// SetOpener replaces the store opener. Test hook.
func (r *Router) SetOpener(open Opener) { r.open = open }

// Resolve returns the tenant's cached connection tuple, opening it on first
// use. Exactly one open attempt runs per tenant at a time; a failed attempt
// leaves the tenant unresolved so the next call retries.
func (r *Router) Resolve(ctx context.Context, tenantID string) (*Conn, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: empty tenant id", apperr.ErrTenantUnresolved)
	}

	r.mu.Lock()
	if res, ok := r.conns[tenantID]; ok {
		r.mu.Unlock()
		return res.wait(ctx)
	}
	res := &resolution{done: make(chan struct{})}
	r.conns[tenantID] = res
	r.mu.Unlock()

	conn, err := r.connect(ctx, tenantID)
	res.conn, res.err = conn, err
	close(res.done)
	if err != nil {
		r.mu.Lock()
		delete(r.conns, tenantID)
		r.mu.Unlock()
	}
	return conn, err
}

func (res *resolution) wait(ctx context.Context) (*Conn, error) {
	select {
	case <-res.done:
		return res.conn, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Router) connect(ctx context.Context, tenantID string) (*Conn, error) {
	sec, err := r.secrets.TenantSecret(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	salt, err := sec.SaltBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTenantUnresolved, err)
	}
	nonce, err := sec.NonceBytes()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTenantUnresolved, err)
	}
	key := r.keys.DeriveKey(ctx, []byte(sec.Password), salt)
	cipher, err := crypto.NewCipher(key, nonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTenantUnresolved, err)
	}

	uri := sec.MongoURI
	if uri == "" {
		uri = r.cfg.URI
	}
	cli, err := r.client(ctx, uri)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", apperr.ErrTenantUnresolved, err)
	}

	db := cli.Database(r.cfg.DatabasePrefix + tenantID)
	repos := repository.Bind(db, tenantID, cipher, r.valueCache, r.decryptTTL)
	if err := repository.EnsureIndexes(ctx, db); err != nil {
		r.log.Warnw("ensure indexes", "tenant", tenantID, "err", err)
	}
	r.log.Infow("tenant store resolved", "tenant", tenantID)
	return &Conn{TenantID: tenantID, Client: cli, Repos: repos, Cipher: cipher, uri: uri}, nil
}

// client reuses a pooled socket for the URI when one survives a prior
// eviction, revalidating it with a ping before handing it back.
func (r *Router) client(ctx context.Context, uri string) (*mongo.Client, error) {
	r.mu.Lock()
	cli, ok := r.clients[uri]
	r.mu.Unlock()
	if ok {
		if err := cli.Ping(ctx, nil); err == nil {
			return cli, nil
		}
		r.mu.Lock()
		delete(r.clients, uri)
		r.mu.Unlock()
		_ = cli.Disconnect(context.Background())
	}
	cli, err := r.open(ctx, uri, r.poolMonitor(uri))
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.clients[uri] = cli
	r.mu.Unlock()
	return cli, nil
}

// poolMonitor maps driver pool-cleared events for the URI back to tenant
// eviction.
func (r *Router) poolMonitor(uri string) *event.PoolMonitor {
	return &event.PoolMonitor{
		Event: func(evt *event.PoolEvent) {
			if evt.Type == event.PoolCleared {
				r.handleStoreDisconnect(uri)
			}
		},
	}
}

// handleStoreDisconnect evicts every tenant bound to the URI when the driver
// clears its connection pool. The pooled socket stays; the next Resolve
// revalidates it and rebinds the repositories.
func (r *Router) handleStoreDisconnect(uri string) {
	r.mu.Lock()
	var evicted []string
	for tenantID, res := range r.conns {
		select {
		case <-res.done:
		default:
			continue // in-flight resolution settles on its own
		}
		if res.conn != nil && res.conn.uri == uri {
			delete(r.conns, tenantID)
			evicted = append(evicted, tenantID)
		}
	}
	r.mu.Unlock()
	for _, tenantID := range evicted {
		r.log.Infow("tenant store evicted", "tenant", tenantID, "reason", "pool cleared")
	}
}

// Evict drops the tenant's cached repository set on a store-level disconnect
// notification. The pooled socket is kept; the next Resolve revalidates it.
func (r *Router) Evict(tenantID string) {
	r.mu.Lock()
	delete(r.conns, tenantID)
	r.mu.Unlock()
	r.log.Infow("tenant store evicted", "tenant", tenantID)
}

// Close disconnects every pooled client. Shutdown path only.
func (r *Router) Close(ctx context.Context) {
	r.mu.Lock()
	clients := r.clients
	r.clients = make(map[string]*mongo.Client)
	r.conns = make(map[string]*resolution)
	r.mu.Unlock()
	for _, cli := range clients {
		_ = cli.Disconnect(ctx)
	}
}
