// Package txn provides transactions over a store: a per-transaction record
// cache, optionally pre-warmed from an ephemeral cache, plus background
// maintenance of reverse relationships (foreign keys) and index entries.
//
// Transactions are not atomic. Every write reaches the backend when it is
// made; Commit only waits for background maintenance and reports whether
// anything failed. Failures of background work are broadcast as events and
// never fail the call that queued the work.
//
//	tx := manager.Begin(ctx)
//	defer tx.Rollback(ctx)
//	if _, _, err := tx.Set(ctx, txn.SetInput{Scope: "acme", Record: rec}); err != nil {
//		return err
//	}
//	return tx.Commit(ctx)
package txn
