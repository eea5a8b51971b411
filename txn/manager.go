package txn

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jacentio/lattice/cache"
	"github.com/jacentio/lattice/event"
	"github.com/jacentio/lattice/store"
)

// DefaultCacheTTL is how long record snapshots live in the ephemeral cache.
const DefaultCacheTTL = 5 * time.Minute

// Store is the record store a transaction works against. *store.Store
// implements it.
type Store interface {
	Get(ctx context.Context, scope string, key store.Key) (*store.Record, store.Meta, error)
	Set(ctx context.Context, scope string, rec *store.Record) (*store.Record, store.Meta, error)
	Create(ctx context.Context, scope string, rec *store.Record) (*store.Record, store.Meta, error)
	Remove(ctx context.Context, scope string, key store.Key) (store.Meta, error)
	BatchGet(ctx context.Context, scope string, keys []store.Key) ([]*store.Record, store.Meta, error)
	BatchSet(ctx context.Context, scope string, recs []*store.Record) ([]*store.Record, store.Meta, error)
	BatchRemove(ctx context.Context, scope string, keys []store.Key) (store.Meta, error)
	Scan(ctx context.Context, scope, typ string, in store.ScanInput) (*store.ScanPage, store.Meta, error)
	Lookup(ctx context.Context, scope, index string, in store.LookupInput) (*store.LookupPage, store.Meta, error)
	IndexEntries(ctx context.Context, scope string, key store.Key) ([]store.IndexEntry, store.Meta, error)
	PutIndexEntries(ctx context.Context, scope string, entries []store.IndexEntry) (store.Meta, error)
	RemoveIndexEntries(ctx context.Context, scope string, entries []store.IndexEntry) (store.Meta, error)
}

// Options configures a Manager.
type Options struct {
	// Cache pre-warms the first read of a record. Default: cache.Noop{}.
	Cache cache.Cache

	// CacheTTL is the lifetime of snapshots written to Cache.
	// Default: 5m
	CacheTTL time.Duration

	// Sink receives events. Default: an event.LogSink on Logger.
	Sink event.Sink

	// Registry holds the index mappers. Nil disables index maintenance.
	Registry *store.Registry

	// Logger. Default: slog.Default().
	Logger *slog.Logger
}

func (o *Options) validate() {
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	if o.Cache == nil {
		o.Cache = cache.Noop{}
	}
	if o.CacheTTL <= 0 {
		o.CacheTTL = DefaultCacheTTL
	}
	if o.Sink == nil {
		o.Sink = event.NewLogSink(o.Logger)
	}
}

// Manager creates transactions over one store.
type Manager struct {
	store Store
	opts  Options
}

// NewManager creates a Manager.
func NewManager(s Store, opts Options) *Manager {
	opts.validate()
	return &Manager{store: s, opts: opts}
}

// Begin starts a transaction. Background maintenance runs detached from ctx
// cancellation so it can outlive the request that triggered it; Rollback
// stops it.
func (m *Manager) Begin(ctx context.Context) *Transaction {
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	id := uuid.NewString()
	return &Transaction{
		id:       id,
		store:    m.store,
		cache:    m.opts.Cache,
		cacheTTL: m.opts.CacheTTL,
		sink:     m.opts.Sink,
		registry: m.opts.Registry,
		logger:   m.opts.Logger.With("txn", id),
		local:    make(map[localKey]*store.Record),
		tasks:    newTaskQueue(),
		base:     base,
		cancel:   cancel,
	}
}
