package dialect

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/jmoiron/sqlx"
)

// Default pool settings applied to every target pool.
const (
	DefaultMaxOpenConns    = 10
	DefaultMaxIdleConns    = 5
	DefaultConnMaxLifetime = 10 * time.Minute
	DefaultConnMaxIdleTime = 5 * time.Minute
)

// Querier is satisfied by both *sqlx.DB and *sqlx.Tx.
type Querier interface {
	sqlx.QueryerContext
	sqlx.ExecerContext
}

// Pool is a target connection pool paired with its dialect.
type Pool struct {
	*sqlx.DB
	Dialect Dialect
}

// Open parses raw and opens a pool for it. The connection itself is
// established lazily; a malformed string fails here with *ConfigError.
func Open(raw string) (*Pool, error) {
	cfg, err := ParseURL(raw)
	if err != nil {
		return nil, err
	}
	db, err := sqlx.Open(cfg.Dialect.DriverName(), cfg.DSN)
	if err != nil {
		return nil, &ConfigError{URL: redact(raw), Reason: "open pool", Err: err}
	}
	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxIdleConns)
	db.SetConnMaxLifetime(DefaultConnMaxLifetime)
	db.SetConnMaxIdleTime(DefaultConnMaxIdleTime)
	return &Pool{DB: db, Dialect: cfg.Dialect}, nil
}

// Execute runs query against the pool. See the package-level Execute.
func (p *Pool) Execute(ctx context.Context, query string, params ...any) (Result, error) {
	return Execute(ctx, p.DB, query, params...)
}

// DefaultConnection is the registry name used when a job names none.
const DefaultConnection = "default"

// ConnectionName returns the canonical registry name for name.
func ConnectionName(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return DefaultConnection
	}
	return name
}

// Registry lazily opens and caches one pool per named connection.
type Registry struct {
	mu    sync.Mutex
	urls  map[string]string
	pools map[string]*Pool
}

// NewRegistry creates a registry over name → connection URL.
func NewRegistry(urls map[string]string) *Registry {
	copied := make(map[string]string, len(urls))
	for k, v := range urls {
		copied[k] = v
	}
	return &Registry{urls: copied, pools: make(map[string]*Pool)}
}

// Get returns the pool for name, opening it on first use. An empty name
// selects DefaultConnection.
func (r *Registry) Get(name string) (*Pool, error) {
	name = ConnectionName(name)
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[name]; ok {
		return p, nil
	}
	raw, ok := r.urls[name]
	if !ok {
		return nil, &ConfigError{Reason: fmt.Sprintf("unknown connection %q", name)}
	}
	p, err := Open(raw)
	if err != nil {
		return nil, err
	}
	r.pools[name] = p
	return p, nil
}

// Close closes every opened pool.
func (r *Registry) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var firstErr error
	for name, p := range r.pools {
		if err := p.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("dialect: close %s: %w", name, err)
		}
		delete(r.pools, name)
	}
	return firstErr
}
