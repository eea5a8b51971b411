package store

import (
	"context"
	"fmt"

	"github.com/jacentio/lattice/client"
	"github.com/jacentio/lattice/internal/keys"
)

func validateEntry(scope string, e IndexEntry) error {
	if err := validateKey(scope, e.Subject); err != nil {
		return err
	}
	if err := keys.ValidateType(e.Index); err != nil {
		return fmt.Errorf("%w: index %q: %w", ErrInvalidKey, e.Index, err)
	}
	if err := keys.ValidateIndexKey(e.Key); err != nil {
		return fmt.Errorf("%w: index key %q: %w", ErrInvalidKey, e.Key, err)
	}
	return nil
}

// IndexEntries returns every persisted index entry of the record key,
// following all pages.
func (s *Store) IndexEntries(ctx context.Context, scope string, key Key) ([]IndexEntry, Meta, error) {
	var meta Meta
	if err := validateKey(scope, key); err != nil {
		return nil, meta, &OpError{Op: "index entries", Scope: scope, Type: key.Type, ID: key.ID, Err: err}
	}

	table := s.config.IndexesTable()
	cond := hashEquals(attrSubject, keys.Subject(scope, key.Type, key.ID))

	var (
		entries []IndexEntry
		cursor  Cursor
	)
	for {
		var out client.QueryOutput
		err := s.backend.Do(ctx, client.OpQuery, cond.query(table, SubjectIndex, 0, cursor), &out)
		if err != nil {
			return nil, meta, s.wrap("index entries", table+"/"+SubjectIndex, scope, key, err)
		}
		meta.add(client.OpQuery, table, len(out.Items), 0, capacity(out.ConsumedCapacity)...)

		for _, it := range out.Items {
			e, err := unmarshalIndexEntry(it)
			if err != nil {
				return nil, meta, &OpError{Op: "index entries", Scope: scope, Type: key.Type, ID: key.ID, Err: err}
			}
			entries = append(entries, e)
		}
		if len(out.LastEvaluatedKey) == 0 {
			return entries, meta, nil
		}
		cursor = Cursor(out.LastEvaluatedKey)
	}
}

// PutIndexEntries writes entries to the index table in batches.
func (s *Store) PutIndexEntries(ctx context.Context, scope string, entries []IndexEntry) (Meta, error) {
	reqs := make([]client.WriteRequest, 0, len(entries))
	seen := make(map[IndexEntry]bool, len(entries))
	for _, e := range entries {
		if err := validateEntry(scope, e); err != nil {
			return Meta{}, &OpError{Op: "put index entries", Scope: scope, Type: e.Subject.Type, ID: e.Subject.ID, Err: err}
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		reqs = append(reqs, client.WriteRequest{PutRequest: &client.PutRequest{Item: marshalIndexEntry(scope, e)}})
	}

	table := s.config.IndexesTable()
	meta, err := s.batchWrite(ctx, table, reqs)
	if err != nil {
		return meta, s.wrap("put index entries", table, scope, Key{}, err)
	}
	return meta, nil
}

// RemoveIndexEntries deletes entries from the index table in batches.
func (s *Store) RemoveIndexEntries(ctx context.Context, scope string, entries []IndexEntry) (Meta, error) {
	reqs := make([]client.WriteRequest, 0, len(entries))
	seen := make(map[IndexEntry]bool, len(entries))
	for _, e := range entries {
		if err := validateEntry(scope, e); err != nil {
			return Meta{}, &OpError{Op: "remove index entries", Scope: scope, Type: e.Subject.Type, ID: e.Subject.ID, Err: err}
		}
		if seen[e] {
			continue
		}
		seen[e] = true
		reqs = append(reqs, client.WriteRequest{DeleteRequest: &client.DeleteRequest{Key: indexEntryKey(scope, e)}})
	}

	table := s.config.IndexesTable()
	meta, err := s.batchWrite(ctx, table, reqs)
	if err != nil {
		return meta, s.wrap("remove index entries", table, scope, Key{}, err)
	}
	return meta, nil
}

// LookupInput configures a Lookup page.
type LookupInput struct {
	// Key is the index key to match.
	Key string

	// Prefix matches every index key starting with Key instead of Key exactly.
	Prefix bool

	Cursor Cursor

	// Limit caps the page size. Zero uses Config.ScanLimit.
	Limit int
}

// LookupPage is one page of Lookup results.
type LookupPage struct {
	Entries []IndexEntry
	Cursor  Cursor
}

// Keys returns the subjects of the page's entries.
func (p *LookupPage) Keys() []Key {
	out := make([]Key, len(p.Entries))
	for i, e := range p.Entries {
		out[i] = e.Subject
	}
	return out
}

// Lookup returns the records whose index entries in the named index match
// the key exactly, or by prefix. Results are ordered by index key, then by
// subject.
func (s *Store) Lookup(ctx context.Context, scope, index string, in LookupInput) (*LookupPage, Meta, error) {
	var meta Meta
	if err := validateScope(scope); err != nil {
		return nil, meta, &OpError{Op: "lookup", Scope: scope, Err: err}
	}
	if err := keys.ValidateType(index); err != nil {
		return nil, meta, &OpError{Op: "lookup", Scope: scope, Err: fmt.Errorf("%w: index %q: %w", ErrInvalidKey, index, err)}
	}
	if err := keys.ValidateIndexKey(in.Key); err != nil {
		return nil, meta, &OpError{Op: "lookup", Scope: scope, Err: fmt.Errorf("%w: index key %q: %w", ErrInvalidKey, in.Key, err)}
	}

	limit := in.Limit
	if limit <= 0 {
		limit = s.config.ScanLimit
	}

	prefix := in.Key
	if !in.Prefix {
		prefix += keys.EntrySep
	}

	table := s.config.IndexesTable()
	q := hashEquals(attrLookup, keys.IndexLookup(scope, index)).
		beginsWith(attrEntry, prefix).
		query(table, "", limit, in.Cursor)

	var out client.QueryOutput
	if err := s.backend.Do(ctx, client.OpQuery, q, &out); err != nil {
		return nil, meta, s.wrap("lookup", table, scope, Key{}, err)
	}
	meta.add(client.OpQuery, table, len(out.Items), 0, capacity(out.ConsumedCapacity)...)

	page := &LookupPage{Entries: make([]IndexEntry, 0, len(out.Items))}
	for _, it := range out.Items {
		e, err := unmarshalIndexEntry(it)
		if err != nil {
			return nil, meta, &OpError{Op: "lookup", Scope: scope, Err: err}
		}
		page.Entries = append(page.Entries, e)
	}
	if len(out.LastEvaluatedKey) > 0 {
		page.Cursor = Cursor(out.LastEvaluatedKey)
	}
	return page, meta, nil
}
