package txn

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"sync"
	"time"

	"github.com/jacentio/lattice/cache"
	"github.com/jacentio/lattice/event"
	"github.com/jacentio/lattice/internal/keys"
	"github.com/jacentio/lattice/store"
)

type localKey struct {
	scope string
	key   store.Key
}

// Transaction is a unit of work sharing one record cache and one queue of
// background maintenance tasks. It is safe for concurrent use, but it is not
// atomic: writes are applied record by record as they are made.
type Transaction struct {
	id       string
	store    Store
	cache    cache.Cache
	cacheTTL time.Duration
	sink     event.Sink
	registry *store.Registry
	logger   *slog.Logger

	mu     sync.Mutex
	local  map[localKey]*store.Record
	errs   []error
	closed bool

	tasks  *taskQueue
	base   context.Context
	cancel context.CancelFunc
}

// ID returns the transaction id carried on its events.
func (t *Transaction) ID() string { return t.id }

func (t *Transaction) emit(kind event.Kind, code, scope string, k store.Key, msg string, err error) {
	t.sink.Broadcast(event.Event{
		Kind:    kind,
		Code:    code,
		Message: msg,
		TxnID:   t.id,
		Scope:   scope,
		Type:    k.Type,
		ID:      k.ID,
		Err:     err,
		Time:    time.Now(),
	})
}

// corrupt reports a dangling reference from ref to missing.
func (t *Transaction) corrupt(scope string, missing store.Key, ref store.Key, what string) {
	t.emit(event.KindWarning, event.CodeCorruptData, scope, missing,
		fmt.Sprintf("%s: %s references missing record %s", what, ref, missing), nil)
}

// check returns ErrTransactionClosed once the transaction has ended.
func (t *Transaction) check() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransactionClosed
	}
	return nil
}

// fail records err against the transaction and returns it.
func (t *Transaction) fail(err error) error {
	if err == nil {
		return nil
	}
	t.mu.Lock()
	t.errs = append(t.errs, err)
	t.mu.Unlock()
	return err
}

// settle waits for queued maintenance before a write, so the write starts
// from records that maintenance has already updated.
func (t *Transaction) settle(ctx context.Context) error {
	if err := t.tasks.wait(ctx); err != nil {
		return t.fail(fmt.Errorf("waiting for background tasks: %w", err))
	}
	return nil
}

// Err returns every error recorded so far, joined.
func (t *Transaction) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return errors.Join(t.errs...)
}

// cached returns a copy of the local snapshot.
func (t *Transaction) cached(scope string, k store.Key) (*store.Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.local[localKey{scope, k}]
	return rec.Clone(), ok
}

// remember stores snapshots locally and in the ephemeral cache.
func (t *Transaction) remember(ctx context.Context, recs ...*store.Record) {
	t.mu.Lock()
	for _, r := range recs {
		if r != nil {
			t.local[localKey{r.Scope, r.Key()}] = r.Clone()
		}
	}
	t.mu.Unlock()

	for _, r := range recs {
		if r == nil {
			continue
		}
		data, err := store.EncodeRecord(r)
		if err == nil {
			err = t.cache.Set(ctx, keys.CacheKey(r.Scope, r.Type, r.ID), data, t.cacheTTL)
		}
		if err != nil {
			t.emit(event.KindInfo, event.CodeCacheError, r.Scope, r.Key(), "cache write failed", err)
		}
	}
}

// forget drops snapshots locally and from the ephemeral cache.
func (t *Transaction) forget(ctx context.Context, scope string, ks ...store.Key) {
	cacheKeys := make([]string, len(ks))
	t.mu.Lock()
	for i, k := range ks {
		delete(t.local, localKey{scope, k})
		cacheKeys[i] = keys.CacheKey(scope, k.Type, k.ID)
	}
	t.mu.Unlock()

	if err := t.cache.Delete(ctx, cacheKeys...); err != nil {
		t.emit(event.KindInfo, event.CodeCacheError, scope, store.Key{}, "cache delete failed", err)
	}
}

// fromCache tries the ephemeral cache. Failures degrade to a miss.
func (t *Transaction) fromCache(ctx context.Context, scope string, k store.Key) *store.Record {
	data, ok, err := t.cache.Get(ctx, keys.CacheKey(scope, k.Type, k.ID))
	if err != nil {
		t.emit(event.KindInfo, event.CodeCacheError, scope, k, "cache read failed", err)
		return nil
	}
	if !ok {
		return nil
	}
	rec, err := store.DecodeRecord(data)
	if err != nil || rec.Scope != scope || rec.Key() != k {
		t.emit(event.KindInfo, event.CodeCacheError, scope, k, "discarding undecodable cache entry", err)
		return nil
	}
	return rec
}

// load returns the current snapshot of k: from the local cache, then the
// ephemeral cache, then the store. A missing record is nil.
func (t *Transaction) load(ctx context.Context, scope string, k store.Key) (*store.Record, store.Meta, error) {
	if rec, ok := t.cached(scope, k); ok {
		t.emit(event.KindInfo, event.CodeCacheHit, scope, k, "local cache hit", nil)
		return rec, store.Meta{}, nil
	}
	t.emit(event.KindInfo, event.CodeCacheMiss, scope, k, "local cache miss", nil)

	if rec := t.fromCache(ctx, scope, k); rec != nil {
		t.remember(ctx, rec)
		return rec, store.Meta{}, nil
	}

	rec, meta, err := t.store.Get(ctx, scope, k)
	if err != nil {
		return nil, meta, err
	}
	t.remember(ctx, rec)
	return rec, meta, nil
}

// loadMany is load for several keys, batching the store reads.
func (t *Transaction) loadMany(ctx context.Context, scope string, ks []store.Key) (map[store.Key]*store.Record, store.Meta, error) {
	var (
		out    = make(map[store.Key]*store.Record, len(ks))
		misses []store.Key
	)
	for _, k := range ks {
		if _, seen := out[k]; seen {
			continue
		}
		if rec, ok := t.cached(scope, k); ok {
			t.emit(event.KindInfo, event.CodeCacheHit, scope, k, "local cache hit", nil)
			out[k] = rec
			continue
		}
		t.emit(event.KindInfo, event.CodeCacheMiss, scope, k, "local cache miss", nil)
		if rec := t.fromCache(ctx, scope, k); rec != nil {
			t.remember(ctx, rec)
			out[k] = rec
			continue
		}
		out[k] = nil
		misses = append(misses, k)
	}
	if len(misses) == 0 {
		return out, store.Meta{}, nil
	}

	recs, meta, err := t.store.BatchGet(ctx, scope, misses)
	if err != nil {
		return nil, meta, err
	}
	t.remember(ctx, recs...)
	for i, k := range misses {
		out[k] = recs[i]
	}
	return out, meta, nil
}

// GetInput selects a record and, optionally, the records it references.
type GetInput struct {
	Scope string
	Key   store.Key

	// Include names relationships whose targets are fetched along with the record.
	Include []string
}

// GetResult is the outcome of Get.
type GetResult struct {
	// Record is nil when the record does not exist.
	Record *store.Record

	// Included holds the targets of each included relationship, in
	// relationship order. Targets that no longer exist are left out.
	Included map[string][]*store.Record

	Meta store.Meta
}

// Get reads a record through the transaction cache.
func (t *Transaction) Get(ctx context.Context, in GetInput) (*GetResult, error) {
	if err := t.check(); err != nil {
		return nil, err
	}

	rec, meta, err := t.load(ctx, in.Scope, in.Key)
	if err != nil {
		return nil, t.fail(err)
	}
	res := &GetResult{Record: rec, Meta: meta}
	if rec == nil || len(in.Include) == 0 {
		return res, nil
	}

	var want []store.Key
	for _, name := range in.Include {
		want = append(want, rec.Relationships[name]...)
	}
	if len(want) == 0 {
		return res, nil
	}

	related, relMeta, err := t.loadMany(ctx, in.Scope, want)
	res.Meta.Merge(relMeta)
	if err != nil {
		return nil, t.fail(err)
	}

	res.Included = make(map[string][]*store.Record, len(in.Include))
	for _, name := range in.Include {
		ks, ok := rec.Relationships[name]
		if !ok {
			continue
		}
		list := make([]*store.Record, 0, len(ks))
		for _, k := range ks {
			r := related[k]
			if r == nil {
				t.corrupt(in.Scope, k, rec.Key(), "relationship "+name)
				continue
			}
			list = append(list, r)
		}
		res.Included[name] = list
	}
	return res, nil
}

// SetInput writes one record.
type SetInput struct {
	Scope  string
	Record *store.Record

	// Merge overlays Record.Attributes onto the stored attributes instead of
	// replacing them, and keeps the stored relationships when
	// Record.Relationships is nil.
	Merge bool
}

// next builds the record to write from the caller's record and the prior
// snapshot. Created and ForeignKeys always come from the prior snapshot.
func next(in *store.Record, prior *store.Record, merge bool) *store.Record {
	out := in.Clone()
	out.Created = ""
	out.ForeignKeys = nil
	if prior == nil {
		return out
	}
	out.Created = prior.Created
	out.ForeignKeys = prior.Clone().ForeignKeys
	if merge {
		attrs := prior.Clone().Attributes
		if attrs == nil {
			attrs = map[string]any{}
		}
		maps.Copy(attrs, out.Attributes)
		out.Attributes = attrs
		if out.Relationships == nil {
			out.Relationships = prior.Clone().Relationships
		}
	}
	return out
}

// Set upserts a record and returns it as written. Relationship and index
// maintenance run in the background; their failures are reported as events
// and make Commit fail, but never fail Set itself. Maintenance queued by
// earlier writes finishes before Set reads the prior record.
func (t *Transaction) Set(ctx context.Context, in SetInput) (*store.Record, store.Meta, error) {
	if err := t.check(); err != nil {
		return nil, store.Meta{}, err
	}
	if in.Record == nil {
		return nil, store.Meta{}, t.fail(fmt.Errorf("%w: nil record", store.ErrInvalidKey))
	}
	if err := t.settle(ctx); err != nil {
		return nil, store.Meta{}, err
	}

	prior, meta, err := t.load(ctx, in.Scope, in.Record.Key())
	if err != nil {
		return nil, meta, t.fail(err)
	}

	written, setMeta, err := t.store.Set(ctx, in.Scope, next(in.Record, prior, in.Merge))
	meta.Merge(setMeta)
	if err != nil {
		return nil, meta, t.fail(err)
	}
	t.remember(ctx, written)
	t.maintain(in.Scope, []change{{old: prior, new: written}}, nil)
	return written.Clone(), meta, nil
}

// Create writes a new record, failing with store.ErrAlreadyExists if one with
// the same key exists.
func (t *Transaction) Create(ctx context.Context, in SetInput) (*store.Record, store.Meta, error) {
	if err := t.check(); err != nil {
		return nil, store.Meta{}, err
	}
	if in.Record == nil {
		return nil, store.Meta{}, t.fail(fmt.Errorf("%w: nil record", store.ErrInvalidKey))
	}
	if err := t.settle(ctx); err != nil {
		return nil, store.Meta{}, err
	}
	k := in.Record.Key()
	if rec, ok := t.cached(in.Scope, k); ok && rec != nil {
		return nil, store.Meta{}, t.fail(&store.OpError{Op: "create", Scope: in.Scope, Type: k.Type, ID: k.ID, Err: store.ErrAlreadyExists})
	}

	written, meta, err := t.store.Create(ctx, in.Scope, next(in.Record, nil, false))
	if err != nil {
		return nil, meta, t.fail(err)
	}
	t.remember(ctx, written)
	t.maintain(in.Scope, []change{{new: written}}, nil)
	return written.Clone(), meta, nil
}

// BatchGet reads keys through the transaction cache. The result is aligned
// with keys; missing records are nil.
func (t *Transaction) BatchGet(ctx context.Context, scope string, ks []store.Key) ([]*store.Record, store.Meta, error) {
	if err := t.check(); err != nil {
		return nil, store.Meta{}, err
	}

	found, meta, err := t.loadMany(ctx, scope, ks)
	if err != nil {
		return nil, meta, t.fail(err)
	}
	out := make([]*store.Record, len(ks))
	for i, k := range ks {
		out[i] = found[k].Clone()
	}
	return out, meta, nil
}

// BatchSetInput writes several records.
type BatchSetInput struct {
	Scope   string
	Records []*store.Record
	Merge   bool
}

// BatchSet is Set for several records. When records share a key the last
// one wins.
func (t *Transaction) BatchSet(ctx context.Context, in BatchSetInput) ([]*store.Record, store.Meta, error) {
	if err := t.check(); err != nil {
		return nil, store.Meta{}, err
	}

	ks := make([]store.Key, len(in.Records))
	for i, r := range in.Records {
		if r == nil {
			return nil, store.Meta{}, t.fail(fmt.Errorf("%w: nil record at %d", store.ErrInvalidKey, i))
		}
		ks[i] = r.Key()
	}
	if err := t.settle(ctx); err != nil {
		return nil, store.Meta{}, err
	}

	priors, meta, err := t.loadMany(ctx, in.Scope, ks)
	if err != nil {
		return nil, meta, t.fail(err)
	}

	recs := make([]*store.Record, len(in.Records))
	for i, r := range in.Records {
		recs[i] = next(r, priors[ks[i]], in.Merge)
	}
	written, setMeta, err := t.store.BatchSet(ctx, in.Scope, recs)
	meta.Merge(setMeta)
	if err != nil {
		return nil, meta, t.fail(err)
	}

	last := make(map[store.Key]int, len(written))
	for i, r := range written {
		last[r.Key()] = i
	}
	var changes []change
	for i, r := range written {
		if last[r.Key()] == i {
			t.remember(ctx, r)
			changes = append(changes, change{old: priors[r.Key()], new: r})
		}
	}
	t.maintain(in.Scope, changes, nil)

	out := make([]*store.Record, len(written))
	for i, r := range written {
		out[i] = r.Clone()
	}
	return out, meta, nil
}

// ScanInput selects one page of records of a type.
type ScanInput struct {
	Scope  string
	Type   string
	Cursor store.Cursor
	Limit  int
}

// Scan returns one page of records, caching each.
func (t *Transaction) Scan(ctx context.Context, in ScanInput) (*store.ScanPage, store.Meta, error) {
	if err := t.check(); err != nil {
		return nil, store.Meta{}, err
	}

	page, meta, err := t.store.Scan(ctx, in.Scope, in.Type, store.ScanInput{Cursor: in.Cursor, Limit: in.Limit})
	if err != nil {
		return nil, meta, t.fail(err)
	}
	t.remember(ctx, page.Records...)
	return page, meta, nil
}

// LookupInput selects one page of an index.
type LookupInput struct {
	Scope  string
	Index  string
	Key    string
	Prefix bool
	Cursor store.Cursor
	Limit  int
}

// LookupResult is one page of Lookup.
type LookupResult struct {
	// Records are the matching records in index order. Entries whose record
	// no longer exists are left out.
	Records []*store.Record
	Cursor  store.Cursor
}

// Lookup finds records through a named index and loads them through the
// transaction cache.
func (t *Transaction) Lookup(ctx context.Context, in LookupInput) (*LookupResult, store.Meta, error) {
	if err := t.check(); err != nil {
		return nil, store.Meta{}, err
	}

	page, meta, err := t.store.Lookup(ctx, in.Scope, in.Index, store.LookupInput{
		Key:    in.Key,
		Prefix: in.Prefix,
		Cursor: in.Cursor,
		Limit:  in.Limit,
	})
	if err != nil {
		return nil, meta, t.fail(err)
	}

	ks := page.Keys()
	found, loadMeta, err := t.loadMany(ctx, in.Scope, ks)
	meta.Merge(loadMeta)
	if err != nil {
		return nil, meta, t.fail(err)
	}

	res := &LookupResult{Cursor: page.Cursor}
	seen := make(map[store.Key]bool, len(ks))
	for _, e := range page.Entries {
		rec := found[e.Subject]
		if rec == nil {
			t.emit(event.KindWarning, event.CodeCorruptData, in.Scope, e.Subject,
				fmt.Sprintf("index %s entry %q points at a missing record", e.Index, e.Key), nil)
			continue
		}
		if !seen[e.Subject] {
			seen[e.Subject] = true
			res.Records = append(res.Records, rec)
		}
	}
	return res, meta, nil
}

// Wait blocks until all background maintenance queued so far has finished.
func (t *Transaction) Wait(ctx context.Context) error {
	return t.tasks.wait(ctx)
}

// Commit waits for background maintenance and ends the transaction. It
// fails with ErrTransactionFailed if any operation recorded an error. There
// is nothing to apply: writes were made as they happened.
func (t *Transaction) Commit(ctx context.Context) error {
	if err := t.end(); err != nil {
		return err
	}
	defer t.cancel()
	t.tasks.close(false)
	if err := t.tasks.wait(ctx); err != nil {
		return fmt.Errorf("commit: waiting for background tasks: %w", err)
	}

	if err := t.Err(); err != nil {
		return fmt.Errorf("%w: %w", ErrTransactionFailed, err)
	}
	return nil
}

// Rollback ends the transaction, dropping background maintenance that has
// not started. Writes already made are not undone.
func (t *Transaction) Rollback(ctx context.Context) error {
	if err := t.end(); err != nil {
		return err
	}
	t.tasks.close(true)
	t.cancel()
	return t.tasks.wait(ctx)
}

func (t *Transaction) end() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return ErrTransactionClosed
	}
	t.closed = true
	return nil
}
