// Package store provides scope-partitioned record storage over a
// DynamoDB-compatible backend.
//
// Records live in the objects table keyed by (scope, type#id); a secondary
// index on scope#type serves [Store.Scan]. Derived index entries live in a
// second table keyed by (scope#index, key\x00type#id) with a secondary index
// on a per-record subject digest, so the entries of one record can be listed
// and diffed.
//
// # Batches
//
// BatchGet, BatchSet and BatchRemove split their input into chunks the
// backend accepts (100 keys per get, 25 items per write). Chunks are sent one
// at a time unless [Config].BatchConcurrency is raised. Items the backend
// reports as unprocessed are resent with a fresh backoff; results are
// returned in input order regardless.
//
// # Index mappers
//
// A [Registry] holds [Mapper] functions per record type:
//
//	reg := store.NewRegistry()
//	reg.Register("post", "tag", func(r *store.Record, emit func(string)) {
//	    tags, _ := r.Attributes["tags"].([]any)
//	    for _, t := range tags {
//	        if s, ok := t.(string); ok {
//	            emit(s)
//	        }
//	    }
//	})
//
// The store only persists entries; keeping them in step with record writes
// is the job of package txn.
//
// # Errors
//
//   - [ErrAlreadyExists] - Create found an existing record
//   - [ErrUnprocessed] - a batch chunk never completed
//   - [ErrInvalidKey] - empty or malformed scope, type, id or index
//   - [ResourceError] - the table or index is missing
//   - [OpError] - any other failure, with the record it concerned
package store
