package txn

import (
	"context"

	"github.com/jacentio/lattice/store"
)

// Remove deletes a record. Records that still reference it have the
// reference stripped before the delete; a referrer that no longer exists is
// reported as corrupt data. Removing a missing record is not an error.
func (t *Transaction) Remove(ctx context.Context, scope string, key store.Key) (store.Meta, error) {
	return t.remove(ctx, scope, []store.Key{key}, func(ctx context.Context) (store.Meta, error) {
		return t.store.Remove(ctx, scope, key)
	})
}

// BatchRemove is Remove for several keys.
func (t *Transaction) BatchRemove(ctx context.Context, scope string, ks []store.Key) (store.Meta, error) {
	return t.remove(ctx, scope, ks, func(ctx context.Context) (store.Meta, error) {
		return t.store.BatchRemove(ctx, scope, ks)
	})
}

func (t *Transaction) remove(ctx context.Context, scope string, ks []store.Key, del func(context.Context) (store.Meta, error)) (store.Meta, error) {
	if err := t.check(); err != nil {
		return store.Meta{}, err
	}
	// Referrers added by queued maintenance must be visible in ForeignKeys.
	if err := t.settle(ctx); err != nil {
		return store.Meta{}, err
	}

	found, meta, err := t.loadMany(ctx, scope, ks)
	if err != nil {
		return meta, t.fail(err)
	}

	removed := make(map[store.Key]bool, len(ks))
	for _, k := range ks {
		removed[k] = true
	}

	// Referrers of any removed record, in first-seen order, with what each
	// must drop.
	var (
		referrers []store.Key
		strip     = make(map[store.Key][]store.Key)
	)
	for _, k := range dedupe(ks) {
		rec := found[k]
		if rec == nil {
			continue
		}
		for _, fk := range rec.ForeignKeys {
			if removed[fk] {
				continue
			}
			if _, ok := strip[fk]; !ok {
				referrers = append(referrers, fk)
			}
			strip[fk] = append(strip[fk], k)
		}
	}

	if len(referrers) > 0 {
		recs, getMeta, err := t.loadMany(ctx, scope, referrers)
		meta.Merge(getMeta)
		if err != nil {
			return meta, t.fail(err)
		}

		var (
			dirty   []*store.Record
			changes []change
		)
		for _, k := range referrers {
			rec := recs[k]
			if rec == nil {
				for _, target := range strip[k] {
					t.corrupt(scope, k, target, "foreign key")
				}
				continue
			}
			prior := rec.Clone()
			changed := false
			for _, target := range strip[k] {
				changed = rec.StripRelationship(target) || changed
			}
			if changed {
				dirty = append(dirty, rec)
				changes = append(changes, change{old: prior})
			}
		}

		if len(dirty) > 0 {
			written, setMeta, err := t.store.BatchSet(ctx, scope, dirty)
			meta.Merge(setMeta)
			if err != nil {
				return meta, t.fail(err)
			}
			t.remember(ctx, written...)
			for i := range changes {
				changes[i].new = written[i]
			}
			t.maintain(scope, changes, removed)
		}
	}

	delMeta, err := del(ctx)
	meta.Merge(delMeta)
	if err != nil {
		return meta, t.fail(err)
	}
	t.forget(ctx, scope, ks...)

	var changes []change
	for _, k := range dedupe(ks) {
		if rec := found[k]; rec != nil {
			changes = append(changes, change{old: rec})
		}
	}
	t.maintain(scope, changes, removed)
	return meta, nil
}

func dedupe(ks []store.Key) []store.Key {
	seen := make(map[store.Key]bool, len(ks))
	out := make([]store.Key, 0, len(ks))
	for _, k := range ks {
		if !seen[k] {
			seen[k] = true
			out = append(out, k)
		}
	}
	return out
}
