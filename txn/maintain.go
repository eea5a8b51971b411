package txn

import (
	"context"
	"errors"
	"fmt"

	"github.com/jacentio/lattice/event"
	"github.com/jacentio/lattice/store"
)

// change is one write as seen by maintenance. old is nil for a new record,
// new is nil for a removed one.
type change struct {
	old, new *store.Record
}

func (c change) key() store.Key {
	if c.new != nil {
		return c.new.Key()
	}
	return c.old.Key()
}

func relatedKeys(r *store.Record) []store.Key {
	if r == nil {
		return nil
	}
	return r.RelatedKeys()
}

// difference returns the keys of a missing from b, in a's order.
func difference(a, b []store.Key) []store.Key {
	in := make(map[store.Key]bool, len(b))
	for _, k := range b {
		in[k] = true
	}
	var out []store.Key
	for _, k := range a {
		if !in[k] {
			out = append(out, k)
		}
	}
	return out
}

// maintain queues the relationship and index work for changes. Keys in
// removed are never written back.
func (t *Transaction) maintain(scope string, changes []change, removed map[store.Key]bool) {
	if len(changes) == 0 {
		return
	}
	t.enqueue(scope, task{
		name: "relationships",
		run: func(ctx context.Context) error {
			return t.relationshipDelta(ctx, scope, changes, removed)
		},
	})
	if t.registry != nil {
		t.enqueue(scope, task{
			name: "indexes",
			run: func(ctx context.Context) error {
				return t.indexDelta(ctx, scope, changes)
			},
		})
	}
}

func (t *Transaction) enqueue(scope string, tk task) {
	ok := t.tasks.enqueue(t.base, tk, func(tk task, err error) {
		if err == nil {
			return
		}
		err = fmt.Errorf("%s maintenance: %w", tk.name, err)
		t.emit(event.KindError, event.CodeMaintenanceFailed, scope, store.Key{}, err.Error(), err)
		t.fail(err)
	})
	if !ok {
		t.logger.Warn("dropping maintenance on closed transaction", "task", tk.name, "scope", scope)
	}
}

// fkEdit adds or removes one source key from a target's foreign keys.
type fkEdit struct {
	source store.Key
	add    bool
}

// relationshipDelta brings the foreign keys of every record referenced
// before or after changes in line with the new relationships.
func (t *Transaction) relationshipDelta(ctx context.Context, scope string, changes []change, removed map[store.Key]bool) error {
	var (
		targets []store.Key
		edits   = make(map[store.Key][]fkEdit)
	)
	push := func(target store.Key, e fkEdit) {
		if removed[target] {
			return
		}
		if _, ok := edits[target]; !ok {
			targets = append(targets, target)
		}
		edits[target] = append(edits[target], e)
	}

	for _, c := range changes {
		self := c.key()
		before, after := relatedKeys(c.old), relatedKeys(c.new)
		for _, k := range difference(before, after) {
			push(k, fkEdit{source: self})
		}
		for _, k := range difference(after, before) {
			push(k, fkEdit{source: self, add: true})
		}
	}
	if len(targets) == 0 {
		return nil
	}

	found, _, err := t.loadMany(ctx, scope, targets)
	if err != nil {
		return err
	}

	var dirty []*store.Record
	for _, k := range targets {
		rec := found[k]
		if rec == nil {
			for _, e := range edits[k] {
				t.corrupt(scope, k, e.source, "relationship")
			}
			continue
		}
		changed := false
		for _, e := range edits[k] {
			if e.add {
				changed = rec.AddForeignKey(e.source) || changed
			} else {
				changed = rec.RemoveForeignKey(e.source) || changed
			}
		}
		if changed {
			dirty = append(dirty, rec)
		}
	}
	if len(dirty) == 0 {
		return nil
	}

	written, _, err := t.store.BatchSet(ctx, scope, dirty)
	if err != nil {
		return err
	}
	t.remember(ctx, written...)
	t.logger.Debug("updated foreign keys", "scope", scope, "records", len(written))
	return nil
}

type entryID struct {
	index, key string
}

// indexDelta reconciles persisted index entries with those computed from
// the new version of each record. Removals are applied before additions.
func (t *Transaction) indexDelta(ctx context.Context, scope string, changes []change) error {
	var toRemove, toAdd []store.IndexEntry
	var errs []error
	for _, c := range changes {
		var want []store.IndexEntry
		if c.new != nil {
			computed, err := t.registry.Compute(c.new)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", c.key(), err))
				continue
			}
			want = computed
		}

		have, _, err := t.store.IndexEntries(ctx, scope, c.key())
		if err != nil {
			return err
		}

		persisted := make(map[entryID]bool, len(have))
		for _, e := range have {
			persisted[entryID{e.Index, e.Key}] = true
		}
		fresh := make(map[entryID]bool, len(want))
		for _, e := range want {
			fresh[entryID{e.Index, e.Key}] = true
		}
		for _, e := range have {
			if !fresh[entryID{e.Index, e.Key}] {
				toRemove = append(toRemove, e)
			}
		}
		for _, e := range want {
			if !persisted[entryID{e.Index, e.Key}] {
				toAdd = append(toAdd, e)
			}
		}
	}

	if len(toRemove) > 0 {
		if _, err := t.store.RemoveIndexEntries(ctx, scope, toRemove); err != nil {
			return err
		}
	}
	if len(toAdd) > 0 {
		if _, err := t.store.PutIndexEntries(ctx, scope, toAdd); err != nil {
			return err
		}
	}
	return errors.Join(errs...)
}
