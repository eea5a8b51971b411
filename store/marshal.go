package store

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"

	"github.com/jacentio/lattice/internal/keys"
	"github.com/jacentio/lattice/wire"
)

// Objects table attribute names.
const (
	attrScope         = "scope"
	attrType          = "type"
	attrID            = "id"
	attrRef           = "ref"
	attrScopeType     = "scope_type"
	attrCreated       = "created"
	attrUpdated       = "updated"
	attrAttributes    = "attributes"
	attrRelationships = "relationships"
	attrForeignKeys   = "foreign_keys"
)

// Index table attribute names.
const (
	attrLookup      = "lookup"
	attrEntry       = "entry"
	attrSubject     = "subject"
	attrIndexName   = "index_name"
	attrIndexKey    = "index_key"
	attrSubjectType = "subject_type"
	attrSubjectID   = "subject_id"
)

func sortedNames[V any](m map[string]V) []string {
	return slices.Sorted(maps.Keys(m))
}

// str encodes s the way the codec does: empty strings become NULL.
func str(s string) wire.Value {
	if s == "" {
		return wire.Null()
	}
	return wire.String(s)
}

func getString(it wire.Item, name string) string {
	s, _ := it[name].AsString()
	return s
}

// objectKey is the primary key of a record in the objects table.
func objectKey(scope string, k Key) wire.Item {
	return wire.Item{
		attrScope: wire.String(scope),
		attrRef:   wire.String(keys.ObjectRef(k.Type, k.ID)),
	}
}

func marshalKeys(ks []Key) wire.Value {
	vals := make([]wire.Value, len(ks))
	for i, k := range ks {
		vals[i] = wire.Map(map[string]wire.Value{
			"type": str(k.Type),
			"id":   str(k.ID),
		})
	}
	return wire.List(vals...)
}

func unmarshalKeys(v wire.Value) ([]Key, error) {
	if v.IsNull() {
		return nil, nil
	}
	list, ok := v.AsList()
	if !ok {
		return nil, fmt.Errorf("expected list of keys, got %s", v.Kind())
	}
	if len(list) == 0 {
		return nil, nil
	}
	out := make([]Key, 0, len(list))
	for i, e := range list {
		m, ok := e.AsMap()
		if !ok {
			return nil, fmt.Errorf("key %d: expected map, got %s", i, e.Kind())
		}
		typ, _ := m["type"].AsString()
		id, _ := m["id"].AsString()
		if typ == "" || id == "" {
			return nil, fmt.Errorf("key %d: missing type or id", i)
		}
		out = append(out, Key{Type: typ, ID: id})
	}
	return out, nil
}

// marshalRecord converts r into an objects table item.
func marshalRecord(r *Record) (wire.Item, error) {
	attrs, err := wire.MarshalMap(r.Attributes)
	if err != nil {
		return nil, fmt.Errorf("attributes: %w", err)
	}

	rels := make(map[string]wire.Value, len(r.Relationships))
	for name, ks := range r.Relationships {
		rels[name] = marshalKeys(ks)
	}

	return wire.Item{
		attrScope:         wire.String(r.Scope),
		attrType:          wire.String(r.Type),
		attrID:            wire.String(r.ID),
		attrRef:           wire.String(keys.ObjectRef(r.Type, r.ID)),
		attrScopeType:     wire.String(keys.ScopeType(r.Scope, r.Type)),
		attrCreated:       str(r.Created),
		attrUpdated:       str(r.Updated),
		attrAttributes:    wire.Map(attrs),
		attrRelationships: wire.Map(rels),
		attrForeignKeys:   marshalKeys(r.ForeignKeys),
	}, nil
}

// unmarshalRecord converts an objects table item back into a Record.
func unmarshalRecord(it wire.Item) (*Record, error) {
	r := &Record{
		Scope:   getString(it, attrScope),
		Type:    getString(it, attrType),
		ID:      getString(it, attrID),
		Created: getString(it, attrCreated),
		Updated: getString(it, attrUpdated),
	}
	if r.Scope == "" || r.Type == "" || r.ID == "" {
		return nil, fmt.Errorf("%w: missing scope, type or id", ErrCorruptRecord)
	}

	r.Attributes = map[string]any{}
	if v, ok := it[attrAttributes]; ok && !v.IsNull() {
		m, ok := v.AsMap()
		if !ok {
			return nil, fmt.Errorf("%w: %s: attributes is %s", ErrCorruptRecord, r.Key(), v.Kind())
		}
		attrs, err := wire.UnmarshalMap(m)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrCorruptRecord, r.Key(), err)
		}
		r.Attributes = attrs
	}

	r.Relationships = map[string][]Key{}
	if v, ok := it[attrRelationships]; ok && !v.IsNull() {
		m, ok := v.AsMap()
		if !ok {
			return nil, fmt.Errorf("%w: %s: relationships is %s", ErrCorruptRecord, r.Key(), v.Kind())
		}
		for name, lv := range m {
			ks, err := unmarshalKeys(lv)
			if err != nil {
				return nil, fmt.Errorf("%w: %s: relationship %q: %w", ErrCorruptRecord, r.Key(), name, err)
			}
			r.Relationships[name] = ks
		}
	}

	fks, err := unmarshalKeys(it[attrForeignKeys])
	if err != nil {
		return nil, fmt.Errorf("%w: %s: foreign keys: %w", ErrCorruptRecord, r.Key(), err)
	}
	r.ForeignKeys = fks
	return r, nil
}

// marshalIndexEntry converts e into an index table item within scope.
func marshalIndexEntry(scope string, e IndexEntry) wire.Item {
	return wire.Item{
		attrLookup:      wire.String(keys.IndexLookup(scope, e.Index)),
		attrEntry:       wire.String(keys.IndexEntry(e.Key, e.Subject.Type, e.Subject.ID)),
		attrSubject:     wire.String(keys.Subject(scope, e.Subject.Type, e.Subject.ID)),
		attrScope:       wire.String(scope),
		attrIndexName:   wire.String(e.Index),
		attrIndexKey:    str(e.Key),
		attrSubjectType: wire.String(e.Subject.Type),
		attrSubjectID:   wire.String(e.Subject.ID),
	}
}

// indexEntryKey is the primary key of e in the index table.
func indexEntryKey(scope string, e IndexEntry) wire.Item {
	return wire.Item{
		attrLookup: wire.String(keys.IndexLookup(scope, e.Index)),
		attrEntry:  wire.String(keys.IndexEntry(e.Key, e.Subject.Type, e.Subject.ID)),
	}
}

func unmarshalIndexEntry(it wire.Item) (IndexEntry, error) {
	e := IndexEntry{
		Index: getString(it, attrIndexName),
		Key:   getString(it, attrIndexKey),
		Subject: Key{
			Type: getString(it, attrSubjectType),
			ID:   getString(it, attrSubjectID),
		},
	}
	if e.Index == "" || e.Subject.Type == "" || e.Subject.ID == "" {
		// fall back to the composite sort key
		key, typ, id, ok := keys.ParseIndexEntry(getString(it, attrEntry))
		if !ok || e.Index == "" {
			return IndexEntry{}, fmt.Errorf("%w: malformed index entry", ErrCorruptRecord)
		}
		e.Key, e.Subject = key, Key{Type: typ, ID: id}
	}
	return e, nil
}

// EncodeRecord serialises r as a type-tagged JSON item, the same shape it
// has in the objects table.
func EncodeRecord(r *Record) ([]byte, error) {
	it, err := marshalRecord(r)
	if err != nil {
		return nil, fmt.Errorf("encode record %s: %w", r.Key(), err)
	}
	return json.Marshal(it)
}

// DecodeRecord parses data produced by EncodeRecord.
func DecodeRecord(data []byte) (*Record, error) {
	var it wire.Item
	if err := json.Unmarshal(data, &it); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCorruptRecord, err)
	}
	return unmarshalRecord(it)
}
