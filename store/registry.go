package store

import (
	"fmt"

	"github.com/jacentio/lattice/internal/keys"
)

// Mapper derives index keys from a record. emit may be called any number
// of times, including zero.
type Mapper func(r *Record, emit func(key string))

type namedMapper struct {
	index string
	fn    Mapper
}

// Registry holds the index mappers of every record type.
// Register everything before the registry is shared; it is not synchronised.
type Registry struct {
	byType map[string][]namedMapper
}

// NewRegistry creates a new empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byType: make(map[string][]namedMapper),
	}
}

// Register adds a mapper producing entries of the named index for records of typ.
func (r *Registry) Register(typ, index string, fn Mapper) error {
	if err := keys.ValidateType(typ); err != nil {
		return fmt.Errorf("%w: type %q: %w", ErrInvalidKey, typ, err)
	}
	if err := keys.ValidateType(index); err != nil {
		return fmt.Errorf("%w: index %q: %w", ErrInvalidKey, index, err)
	}
	if fn == nil {
		return fmt.Errorf("%w: nil mapper for %s/%s", ErrInvalidKey, typ, index)
	}
	r.byType[typ] = append(r.byType[typ], namedMapper{index: index, fn: fn})
	return nil
}

// IndexesOf returns the index names registered for typ, in registration order.
func (r *Registry) IndexesOf(typ string) []string {
	var out []string
	for _, m := range r.byType[typ] {
		out = append(out, m.index)
	}
	return out
}

// HasIndexes returns true if typ has any registered mapper.
func (r *Registry) HasIndexes(typ string) bool {
	return r != nil && len(r.byType[typ]) > 0
}

// Compute runs every mapper registered for rec's type and returns the
// emitted entries without duplicates, in emission order.
func (r *Registry) Compute(rec *Record) ([]IndexEntry, error) {
	if r == nil {
		return nil, nil
	}
	var (
		out  []IndexEntry
		bad  error
		seen = make(map[IndexEntry]bool)
	)
	for _, m := range r.byType[rec.Type] {
		m.fn(rec, func(key string) {
			if err := keys.ValidateIndexKey(key); err != nil {
				if bad == nil {
					bad = fmt.Errorf("%w: index %s key %q: %w", ErrInvalidKey, m.index, key, err)
				}
				return
			}
			e := IndexEntry{Index: m.index, Key: key, Subject: rec.Key()}
			if !seen[e] {
				seen[e] = true
				out = append(out, e)
			}
		})
	}
	if bad != nil {
		return nil, bad
	}
	return out, nil
}
