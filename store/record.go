package store

import (
	"fmt"

	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"

	"github.com/jacentio/lattice/client"
	"github.com/jacentio/lattice/internal/keys"
	"github.com/jacentio/lattice/wire"
)

// TimeFormat is the layout of Created and Updated (ISO-8601, millisecond precision, UTC).
const TimeFormat = "2006-01-02T15:04:05.000Z07:00"

// Key identifies a record within an ambient scope.
type Key struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

// String returns the type-qualified reference (e.g. "user#u1").
func (k Key) String() string { return keys.ObjectRef(k.Type, k.ID) }

func (k Key) validate() error {
	if err := keys.ValidateType(k.Type); err != nil {
		return fmt.Errorf("%w: type %q: %w", ErrInvalidKey, k.Type, err)
	}
	if err := keys.ValidateID(k.ID); err != nil {
		return fmt.Errorf("%w: id %q: %w", ErrInvalidKey, k.ID, err)
	}
	return nil
}

// Record is the persisted unit: a typed, identified, attribute-bearing object.
type Record struct {
	Scope   string
	Type    string
	ID      string
	Created string
	Updated string

	// Attributes holds caller data. Values are limited to string, number,
	// bool, nil, []any and map[string]any, recursively.
	Attributes map[string]any

	// Relationships maps a relationship name to the records it points at.
	Relationships map[string][]Key

	// ForeignKeys lists every record whose Relationships point at this one.
	// It is maintained by the engine.
	ForeignKeys []Key
}

// Key returns the record's key.
func (r *Record) Key() Key { return Key{Type: r.Type, ID: r.ID} }

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	out := *r
	if r.Attributes != nil {
		out.Attributes = cloneMap(r.Attributes)
	}
	if r.Relationships != nil {
		out.Relationships = make(map[string][]Key, len(r.Relationships))
		for name, ks := range r.Relationships {
			out.Relationships[name] = append([]Key(nil), ks...)
		}
	}
	if r.ForeignKeys != nil {
		out.ForeignKeys = append([]Key(nil), r.ForeignKeys...)
	}
	return &out
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch x := v.(type) {
	case map[string]any:
		return cloneMap(x)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = cloneValue(e)
		}
		return out
	}
	return v
}

// RelatedKeys flattens Relationships into a de-duplicated list of keys,
// ignoring relationship names. Names are visited in sorted order.
func (r *Record) RelatedKeys() []Key {
	var out []Key
	seen := make(map[Key]bool)
	for _, name := range sortedNames(r.Relationships) {
		for _, k := range r.Relationships[name] {
			if !seen[k] {
				seen[k] = true
				out = append(out, k)
			}
		}
	}
	return out
}

// AddForeignKey appends k to ForeignKeys unless already present.
func (r *Record) AddForeignKey(k Key) bool {
	for _, fk := range r.ForeignKeys {
		if fk == k {
			return false
		}
	}
	r.ForeignKeys = append(r.ForeignKeys, k)
	return true
}

// RemoveForeignKey drops every occurrence of k from ForeignKeys.
func (r *Record) RemoveForeignKey(k Key) bool {
	kept := r.ForeignKeys[:0]
	for _, fk := range r.ForeignKeys {
		if fk != k {
			kept = append(kept, fk)
		}
	}
	removed := len(kept) != len(r.ForeignKeys)
	r.ForeignKeys = kept
	return removed
}

// StripRelationship removes k from every relationship list.
func (r *Record) StripRelationship(k Key) bool {
	removed := false
	for name, ks := range r.Relationships {
		kept := make([]Key, 0, len(ks))
		for _, rk := range ks {
			if rk == k {
				removed = true
				continue
			}
			kept = append(kept, rk)
		}
		r.Relationships[name] = kept
	}
	return removed
}

// DecodeAttributes decodes Attributes into out, which must be a pointer to a
// struct or map, using dynamodbav struct tags.
func (r *Record) DecodeAttributes(out any) error {
	m, err := wire.MarshalMap(r.Attributes)
	if err != nil {
		return fmt.Errorf("decode attributes: %w", err)
	}
	if err := attributevalue.UnmarshalMap(wire.ToAttributeValueMap(m), out); err != nil {
		return fmt.Errorf("decode attributes: %w", err)
	}
	return nil
}

// EncodeAttributes converts a struct or map into a native attribute map
// suitable for Record.Attributes, honouring dynamodbav struct tags.
func EncodeAttributes(in any) (map[string]any, error) {
	av, err := attributevalue.MarshalMap(in)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	m, err := wire.FromAttributeValueMap(av)
	if err != nil {
		return nil, fmt.Errorf("encode attributes: %w", err)
	}
	return wire.UnmarshalMap(m)
}

// IndexEntry is one derived row: the subject record emitted Key into Index.
type IndexEntry struct {
	Index   string
	Key     string
	Subject Key
}

// Cursor is an opaque continuation token echoing the backend's exclusive
// start key. A nil Cursor means there are no further pages.
type Cursor wire.Item

// CallMeta describes one backend call made on behalf of an operation.
type CallMeta struct {
	Op               string
	Table            string
	Items            int
	Unprocessed      int
	ConsumedCapacity float64
}

// Meta aggregates backend call metadata in call order.
type Meta struct {
	Calls []CallMeta
}

// Merge appends the calls of o.
func (m *Meta) Merge(o Meta) {
	m.Calls = append(m.Calls, o.Calls...)
}

// ConsumedCapacity sums the capacity consumed by all calls.
func (m Meta) ConsumedCapacity() float64 {
	var total float64
	for _, c := range m.Calls {
		total += c.ConsumedCapacity
	}
	return total
}

func (m *Meta) add(op, table string, items, unprocessed int, cc ...client.ConsumedCapacity) {
	call := CallMeta{Op: op, Table: table, Items: items, Unprocessed: unprocessed}
	for _, c := range cc {
		call.ConsumedCapacity += c.CapacityUnits
	}
	m.Calls = append(m.Calls, call)
}
