package lattice

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"

	"github.com/jacentio/lattice/cache"
	"github.com/jacentio/lattice/client"
	"github.com/jacentio/lattice/event"
	"github.com/jacentio/lattice/store"
	"github.com/jacentio/lattice/txn"
)

// Options carries the collaborators Open cannot read from Config.
type Options struct {
	// Registry holds index mappers. Nil disables index maintenance.
	Registry *store.Registry

	// Sink receives transaction events. Default: logged through Logger.
	Sink event.Sink

	// Cache replaces the Redis cache built from Config.CacheAddr.
	Cache cache.Cache

	// Credentials replaces both static keys and the default chain.
	Credentials aws.CredentialsProvider

	// HTTPClient sends backend requests. Default: a new http.Client.
	HTTPClient *http.Client

	// Logger. Default: slog.Default().
	Logger *slog.Logger
}

// DB is an opened store with its transaction manager.
type DB struct {
	store   *store.Store
	manager *txn.Manager
	closers []func() error
}

// Open wires a client, store, cache and transaction manager from cfg.
func Open(ctx context.Context, cfg Config, opts Options) (*DB, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	creds, region, err := resolveAWS(ctx, cfg, opts.Credentials)
	if err != nil {
		return nil, err
	}

	cc := client.Config{
		Region:            region,
		Endpoint:          cfg.Endpoint,
		AccessKey:         cfg.AccessKey,
		SecretKey:         cfg.SecretKey,
		Credentials:       creds,
		RequestTimeout:    cfg.RequestTimeout,
		OperationTimeout:  cfg.OperationTimeout,
		BackoffMultiplier: cfg.BackoffMultiplier,
		HTTPClient:        opts.HTTPClient,
		Logger:            logger,
	}
	c, err := client.New(cc)
	if err != nil {
		return nil, fmt.Errorf("lattice: client: %w", err)
	}

	sc := store.DefaultConfig()
	sc.TablePrefix = cfg.TablePrefix
	sc.BatchConcurrency = cfg.BatchConcurrency
	sc.ScanLimit = cfg.ScanLimit
	sc.Logger = logger
	s, err := store.New(client.NewRetrier(c, cc), sc)
	if err != nil {
		return nil, fmt.Errorf("lattice: store: %w", err)
	}

	db := &DB{store: s}
	ch := opts.Cache
	if ch == nil && cfg.CacheAddr != "" {
		r, err := cache.Dial(ctx, cfg.CacheAddr)
		if err != nil {
			return nil, fmt.Errorf("lattice: %w", err)
		}
		db.closers = append(db.closers, r.Close)
		ch = r
	}

	db.manager = txn.NewManager(s, txn.Options{
		Cache:    ch,
		CacheTTL: cfg.CacheTTL,
		Sink:     opts.Sink,
		Registry: opts.Registry,
		Logger:   logger,
	})

	logger.Debug("lattice opened",
		"region", region,
		"tables", []string{sc.ObjectsTable(), sc.IndexesTable()},
		"cache", cfg.CacheAddr != "" || opts.Cache != nil,
	)
	return db, nil
}

// resolveAWS picks credentials and region: explicit provider, then static
// keys, then the default AWS configuration chain for whatever is missing.
// A nil provider with a nil error means the static keys apply.
func resolveAWS(ctx context.Context, cfg Config, creds aws.CredentialsProvider) (aws.CredentialsProvider, string, error) {
	static := cfg.AccessKey != ""
	region := cfg.Region
	if (creds != nil || static) && region != "" {
		return creds, region, nil
	}

	var loadOpts []func(*awsconfig.LoadOptions) error
	if region != "" {
		loadOpts = append(loadOpts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, "", fmt.Errorf("lattice: load AWS config: %w", err)
	}
	if creds == nil && !static {
		creds = awsCfg.Credentials
	}
	if region == "" {
		region = awsCfg.Region
	}
	if region == "" {
		return nil, "", fmt.Errorf("lattice: %w", client.ErrNoRegion)
	}
	return creds, region, nil
}

// Store returns the underlying record store.
func (db *DB) Store() *store.Store { return db.store }

// Manager returns the transaction manager.
func (db *DB) Manager() *txn.Manager { return db.manager }

// Begin starts a transaction.
func (db *DB) Begin(ctx context.Context) *txn.Transaction {
	return db.manager.Begin(ctx)
}

// Close releases the cache connection, if any.
func (db *DB) Close() error {
	var first error
	for _, c := range db.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	db.closers = nil
	return first
}
