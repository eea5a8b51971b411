package store

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/jacentio/lattice/client"
	"github.com/jacentio/lattice/internal/keys"
	"github.com/jacentio/lattice/wire"
)

// Doer sends one backend operation with retries and exposes the backoff
// policy it uses. *client.Retrier implements it.
type Doer interface {
	Do(ctx context.Context, op string, params, out any) error
	Backoff(start time.Time) (b retry.Backoff, exceeded func() bool)
}

// Store provides scope-partitioned record operations over the objects and
// index tables.
type Store struct {
	backend Doer
	config  Config
	now     func() time.Time
}

// New creates a new Store instance.
func New(backend Doer, config Config) (*Store, error) {
	if err := config.validate(); err != nil {
		return nil, err
	}
	return &Store{
		backend: backend,
		config:  config,
		now:     time.Now,
	}, nil
}

// Config returns the validated configuration.
func (s *Store) Config() Config { return s.config }

func (s *Store) timestamp() string {
	return s.now().UTC().Format(TimeFormat)
}

// wrap attaches call-site context to err. Missing tables and indexes become
// a ResourceError naming the resource.
func (s *Store) wrap(op, resource, scope string, k Key, err error) error {
	if err == nil {
		return nil
	}
	if client.IsResourceNotFound(err) {
		return &ResourceError{Op: op, Resource: resource, Err: err}
	}
	return &OpError{Op: op, Scope: scope, Type: k.Type, ID: k.ID, Err: err}
}

func validateScope(scope string) error {
	if err := keys.ValidateID(scope); err != nil {
		return fmt.Errorf("%w: scope %q: %w", ErrInvalidKey, scope, err)
	}
	return nil
}

func validateKey(scope string, k Key) error {
	if err := validateScope(scope); err != nil {
		return err
	}
	return k.validate()
}

// Get fetches a single record. A missing record returns nil, not an error.
func (s *Store) Get(ctx context.Context, scope string, key Key) (*Record, Meta, error) {
	var meta Meta
	if err := validateKey(scope, key); err != nil {
		return nil, meta, &OpError{Op: "get", Scope: scope, Type: key.Type, ID: key.ID, Err: err}
	}

	table := s.config.ObjectsTable()
	var out client.GetItemOutput
	err := s.backend.Do(ctx, client.OpGetItem, &client.GetItemInput{
		TableName:              table,
		Key:                    objectKey(scope, key),
		ReturnConsumedCapacity: client.ReturnConsumedCapacityTotal,
	}, &out)
	if err != nil {
		return nil, meta, s.wrap("get", table, scope, key, err)
	}
	meta.add(client.OpGetItem, table, 1, 0, capacity(out.ConsumedCapacity)...)

	if out.Item == nil {
		return nil, meta, nil
	}
	rec, err := unmarshalRecord(out.Item)
	if err != nil {
		return nil, meta, &OpError{Op: "get", Scope: scope, Type: key.Type, ID: key.ID, Err: err}
	}
	return rec, meta, nil
}

// prepare validates rec and returns a stamped copy ready to be written.
func (s *Store) prepare(scope string, rec *Record, now string) (*Record, error) {
	if rec == nil {
		return nil, fmt.Errorf("%w: nil record", ErrInvalidKey)
	}
	if err := validateKey(scope, rec.Key()); err != nil {
		return nil, err
	}
	out := rec.Clone()
	out.Scope = scope
	if out.Created == "" {
		out.Created = now
	}
	out.Updated = now
	if out.Attributes == nil {
		out.Attributes = map[string]any{}
	}
	if out.Relationships == nil {
		out.Relationships = map[string][]Key{}
	}
	for name, ks := range out.Relationships {
		for _, k := range ks {
			if err := k.validate(); err != nil {
				return nil, fmt.Errorf("relationship %q: %w", name, err)
			}
		}
	}
	return out, nil
}

// Set upserts rec, replacing all attributes. Updated is always stamped;
// Created is kept when set on rec (callers that read first pass it through)
// and stamped otherwise. The written record is returned.
func (s *Store) Set(ctx context.Context, scope string, rec *Record) (*Record, Meta, error) {
	return s.put(ctx, "set", scope, rec, false)
}

// Create writes rec only if no record with its key exists, returning
// ErrAlreadyExists otherwise.
func (s *Store) Create(ctx context.Context, scope string, rec *Record) (*Record, Meta, error) {
	return s.put(ctx, "create", scope, rec, true)
}

func (s *Store) put(ctx context.Context, op, scope string, rec *Record, createOnly bool) (*Record, Meta, error) {
	var meta Meta
	out, err := s.prepare(scope, rec, s.timestamp())
	if err != nil {
		return nil, meta, opErrorFor(op, scope, rec, err)
	}
	item, err := marshalRecord(out)
	if err != nil {
		return nil, meta, &OpError{Op: op, Scope: scope, Type: out.Type, ID: out.ID, Err: err}
	}

	table := s.config.ObjectsTable()
	in := &client.PutItemInput{
		TableName:              table,
		Item:                   item,
		ReturnConsumedCapacity: client.ReturnConsumedCapacityTotal,
	}
	if createOnly {
		in.ConditionExpression = "attribute_not_exists(#ref)"
		in.ExpressionAttributeNames = map[string]string{"#ref": attrRef}
	}

	var resp client.PutItemOutput
	if err := s.backend.Do(ctx, client.OpPutItem, in, &resp); err != nil {
		if createOnly && client.IsConditionalCheckFailed(err) {
			err = fmt.Errorf("%w: %w", ErrAlreadyExists, err)
		}
		return nil, meta, s.wrap(op, table, scope, out.Key(), err)
	}
	meta.add(client.OpPutItem, table, 1, 0, capacity(resp.ConsumedCapacity)...)
	return out, meta, nil
}

// Remove deletes a record. Removing a missing record succeeds.
func (s *Store) Remove(ctx context.Context, scope string, key Key) (Meta, error) {
	var meta Meta
	if err := validateKey(scope, key); err != nil {
		return meta, &OpError{Op: "remove", Scope: scope, Type: key.Type, ID: key.ID, Err: err}
	}

	table := s.config.ObjectsTable()
	var out client.DeleteItemOutput
	err := s.backend.Do(ctx, client.OpDeleteItem, &client.DeleteItemInput{
		TableName:              table,
		Key:                    objectKey(scope, key),
		ReturnConsumedCapacity: client.ReturnConsumedCapacityTotal,
	}, &out)
	if err != nil {
		return meta, s.wrap("remove", table, scope, key, err)
	}
	meta.add(client.OpDeleteItem, table, 1, 0, capacity(out.ConsumedCapacity)...)
	return meta, nil
}

// BatchGet fetches keys. The result is aligned with keys: missing records
// are nil. Duplicate keys are fetched once.
func (s *Store) BatchGet(ctx context.Context, scope string, ks []Key) ([]*Record, Meta, error) {
	for _, k := range ks {
		if err := validateKey(scope, k); err != nil {
			return nil, Meta{}, &OpError{Op: "batch get", Scope: scope, Type: k.Type, ID: k.ID, Err: err}
		}
	}

	unique := dedupeKeys(ks)
	itemKeys := make([]wire.Item, len(unique))
	for i, k := range unique {
		itemKeys[i] = objectKey(scope, k)
	}

	var (
		mu      sync.Mutex
		byKey   = make(map[Key]*Record, len(unique))
		corrupt error
	)
	table := s.config.ObjectsTable()
	meta, err := s.batchGet(ctx, table, itemKeys, func(it wire.Item) {
		rec, err := unmarshalRecord(it)
		mu.Lock()
		defer mu.Unlock()
		if err != nil {
			corrupt = errors.Join(corrupt, err)
			return
		}
		byKey[rec.Key()] = rec
	})
	if err != nil {
		return nil, meta, s.wrap("batch get", table, scope, Key{}, err)
	}
	if corrupt != nil {
		return nil, meta, &OpError{Op: "batch get", Scope: scope, Err: corrupt}
	}

	out := make([]*Record, len(ks))
	for i, k := range ks {
		if rec, ok := byKey[k]; ok {
			// duplicate input keys get independent copies
			out[i] = rec.Clone()
		}
	}
	return out, meta, nil
}

// BatchSet upserts recs with the same semantics as Set. When several records
// share a key the last one wins. The written records are returned in input order.
func (s *Store) BatchSet(ctx context.Context, scope string, recs []*Record) ([]*Record, Meta, error) {
	now := s.timestamp()
	out := make([]*Record, len(recs))
	last := make(map[Key]int, len(recs))
	for i, rec := range recs {
		prepared, err := s.prepare(scope, rec, now)
		if err != nil {
			return nil, Meta{}, opErrorFor("batch set", scope, rec, err)
		}
		out[i] = prepared
		last[prepared.Key()] = i
	}

	reqs := make([]client.WriteRequest, 0, len(last))
	for i, rec := range out {
		if last[rec.Key()] != i {
			continue
		}
		item, err := marshalRecord(rec)
		if err != nil {
			return nil, Meta{}, &OpError{Op: "batch set", Scope: scope, Type: rec.Type, ID: rec.ID, Err: err}
		}
		reqs = append(reqs, client.WriteRequest{PutRequest: &client.PutRequest{Item: item}})
	}

	table := s.config.ObjectsTable()
	meta, err := s.batchWrite(ctx, table, reqs)
	if err != nil {
		return nil, meta, s.wrap("batch set", table, scope, Key{}, err)
	}
	return out, meta, nil
}

// BatchRemove deletes keys. Missing records are ignored.
func (s *Store) BatchRemove(ctx context.Context, scope string, ks []Key) (Meta, error) {
	for _, k := range ks {
		if err := validateKey(scope, k); err != nil {
			return Meta{}, &OpError{Op: "batch remove", Scope: scope, Type: k.Type, ID: k.ID, Err: err}
		}
	}

	unique := dedupeKeys(ks)
	reqs := make([]client.WriteRequest, len(unique))
	for i, k := range unique {
		reqs[i] = client.WriteRequest{DeleteRequest: &client.DeleteRequest{Key: objectKey(scope, k)}}
	}

	table := s.config.ObjectsTable()
	meta, err := s.batchWrite(ctx, table, reqs)
	if err != nil {
		return meta, s.wrap("batch remove", table, scope, Key{}, err)
	}
	return meta, nil
}

// ScanInput configures a Scan page.
type ScanInput struct {
	// Cursor continues from a previous page. Nil starts at the beginning.
	Cursor Cursor

	// Limit caps the page size. Zero uses Config.ScanLimit.
	Limit int
}

// ScanPage is one page of Scan results.
type ScanPage struct {
	Records []*Record

	// Cursor continues the scan. Nil when there are no further pages.
	Cursor Cursor
}

// Scan returns one page of records of typ within scope, ordered by id.
func (s *Store) Scan(ctx context.Context, scope, typ string, in ScanInput) (*ScanPage, Meta, error) {
	var meta Meta
	if err := validateKey(scope, Key{Type: typ, ID: "-"}); err != nil {
		return nil, meta, &OpError{Op: "scan", Scope: scope, Type: typ, Err: err}
	}

	limit := in.Limit
	if limit <= 0 {
		limit = s.config.ScanLimit
	}

	table := s.config.ObjectsTable()
	q := hashEquals(attrScopeType, keys.ScopeType(scope, typ)).query(table, ScopeTypeIndex, limit, in.Cursor)
	var out client.QueryOutput
	if err := s.backend.Do(ctx, client.OpQuery, q, &out); err != nil {
		return nil, meta, s.wrap("scan", table+"/"+ScopeTypeIndex, scope, Key{Type: typ}, err)
	}
	meta.add(client.OpQuery, table, len(out.Items), 0, capacity(out.ConsumedCapacity)...)

	page := &ScanPage{Records: make([]*Record, 0, len(out.Items))}
	for _, it := range out.Items {
		rec, err := unmarshalRecord(it)
		if err != nil {
			return nil, meta, &OpError{Op: "scan", Scope: scope, Type: typ, Err: err}
		}
		page.Records = append(page.Records, rec)
	}
	if len(out.LastEvaluatedKey) > 0 {
		page.Cursor = Cursor(out.LastEvaluatedKey)
	}
	return page, meta, nil
}

func dedupeKeys(ks []Key) []Key {
	seen := make(map[Key]bool, len(ks))
	out := make([]Key, 0, len(ks))
	for _, k := range ks {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}

func capacity(cc *client.ConsumedCapacity) []client.ConsumedCapacity {
	if cc == nil {
		return nil
	}
	return []client.ConsumedCapacity{*cc}
}

func opErrorFor(op, scope string, rec *Record, err error) error {
	oe := &OpError{Op: op, Scope: scope, Err: err}
	if rec != nil {
		oe.Type, oe.ID = rec.Type, rec.ID
	}
	return oe
}
