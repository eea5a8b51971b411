// Package keys builds the composite keys used by the objects table, the
// index table, their secondary indexes and the ephemeral cache.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"strings"
)

const (
	// Sep joins composite key parts.
	Sep = "#"

	// EntrySep separates the index key from the subject in an index entry
	// sort key. It sorts before every printable byte, so prefix lookups on
	// the index key never bleed into the subject part.
	EntrySep = "\x00"

	cachePrefix = "lattice:obj:"
)

var (
	ErrEmpty        = errors.New("keys: empty key part")
	ErrInvalidChars = errors.New("keys: key part contains a reserved separator")
)

// ObjectRef is the objects table sort key for a record.
func ObjectRef(typ, id string) string {
	return typ + Sep + id
}

// ParseObjectRef splits a sort key produced by ObjectRef. Types cannot contain
// the separator, so everything after the first one is the id.
func ParseObjectRef(ref string) (typ, id string, ok bool) {
	typ, id, ok = strings.Cut(ref, Sep)
	return typ, id, ok && typ != "" && id != ""
}

// ScopeType is the hash key of the per-type secondary index.
func ScopeType(scope, typ string) string {
	return scope + Sep + typ
}

// IndexLookup is the index table hash key for one named index within a scope.
func IndexLookup(scope, index string) string {
	return scope + Sep + index
}

// IndexEntry is the index table sort key: the emitted index key followed by
// the subject reference.
func IndexEntry(indexKey, typ, id string) string {
	return indexKey + EntrySep + ObjectRef(typ, id)
}

// ParseIndexEntry splits a sort key produced by IndexEntry.
func ParseIndexEntry(entry string) (indexKey, typ, id string, ok bool) {
	indexKey, ref, found := strings.Cut(entry, EntrySep)
	if !found {
		return "", "", "", false
	}
	typ, id, ok = ParseObjectRef(ref)
	return indexKey, typ, id, ok
}

// Subject computes a hash-distributed key identifying one record across
// scopes. Index entries are grouped by it so a record's entries can be listed
// without knowing which indexes it was emitted into.
func Subject(scope, typ, id string) string {
	h := sha256.New()
	for _, part := range []string{scope, typ, id} {
		h.Write([]byte(part))
		h.Write([]byte{0})
	}
	return hex.EncodeToString(h.Sum(nil)[:16])
}

// CacheKey is the ephemeral cache key for a record snapshot.
func CacheKey(scope, typ, id string) string {
	return cachePrefix + Subject(scope, typ, id)
}

// ValidateType checks a record type or index name: non-empty and free of Sep.
func ValidateType(s string) error {
	if s == "" {
		return ErrEmpty
	}
	if strings.Contains(s, Sep) || strings.Contains(s, EntrySep) {
		return ErrInvalidChars
	}
	return nil
}

// ValidateID checks a scope or record id: non-empty and free of EntrySep.
func ValidateID(s string) error {
	if s == "" {
		return ErrEmpty
	}
	if strings.Contains(s, EntrySep) {
		return ErrInvalidChars
	}
	return nil
}

// ValidateIndexKey checks an emitted index key. Empty keys are allowed.
func ValidateIndexKey(s string) error {
	if strings.Contains(s, EntrySep) {
		return ErrInvalidChars
	}
	return nil
}
