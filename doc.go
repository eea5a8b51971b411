// Package lattice is a document store for typed records partitioned by
// scope, kept in two DynamoDB tables: one for objects and one for derived
// index entries.
//
// Records carry free-form attributes and named relationships to other
// records. The reverse edges (foreign keys) and index entries are
// maintained in the background by transactions, so a reader may briefly
// observe them lagging behind a write.
//
// Most programs only need Open:
//
//	cfg, err := lattice.LoadConfig("lattice.yaml")
//	if err != nil {
//		return err
//	}
//	db, err := lattice.Open(ctx, cfg, lattice.Options{})
//	if err != nil {
//		return err
//	}
//	defer db.Close()
//
//	tx := db.Begin(ctx)
//	defer tx.Rollback(ctx)
//	...
//	return tx.Commit(ctx)
//
// The packages underneath can also be used on their own: client signs and
// retries raw API calls, store reads and writes records in batches, and txn
// adds the transaction cache and maintenance on top.
package lattice
