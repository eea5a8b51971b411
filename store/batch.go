package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sethvargo/go-retry"
	"golang.org/x/sync/errgroup"

	"github.com/jacentio/lattice/client"
	"github.com/jacentio/lattice/wire"
)

// chunk splits n items into consecutive [start, end) ranges of at most size.
func chunk(n, size int) [][2]int {
	if n == 0 {
		return nil
	}
	out := make([][2]int, 0, (n+size-1)/size)
	for start := 0; start < n; start += size {
		out = append(out, [2]int{start, min(start+size, n)})
	}
	return out
}

// runChunks calls fn for each chunk, at most BatchConcurrency at a time, and
// merges the per-chunk metadata in chunk order.
func (s *Store) runChunks(ctx context.Context, chunks [][2]int, fn func(ctx context.Context, lo, hi int, meta *Meta) error) (Meta, error) {
	metas := make([]Meta, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.config.BatchConcurrency)
	for i, c := range chunks {
		if gctx.Err() != nil {
			break
		}
		g.Go(func() error {
			return fn(gctx, c[0], c[1], &metas[i])
		})
	}
	err := g.Wait()

	var meta Meta
	for _, m := range metas {
		meta.Merge(m)
	}
	return meta, err
}

// resubmit sends pending, then keeps resending whatever the backend reports
// as unprocessed with a fresh backoff until nothing is left or the budget
// runs out. send returns the unprocessed remainder.
func resubmit[T any](ctx context.Context, s *Store, op string, pending []T, send func(context.Context, []T) ([]T, error)) error {
	b, exceeded := s.backend.Backoff(time.Now())
	b = retry.WithMaxRetries(uint64(s.config.MaxResubmits), b)

	attempt := 0
	err := retry.Do(ctx, b, func(ctx context.Context) error {
		rest, err := send(ctx, pending)
		if err != nil {
			return err
		}
		if len(rest) == 0 {
			return nil
		}
		attempt++
		s.config.Logger.Info("resubmitting unprocessed items",
			"op", op,
			"items", len(rest),
			"attempt", attempt,
		)
		pending = rest
		return retry.RetryableError(fmt.Errorf("%w: %d of them", ErrUnprocessed, len(rest)))
	})
	if err != nil && errors.Is(err, ErrUnprocessed) && exceeded() {
		return fmt.Errorf("%w: %w", client.ErrOperationTimeout, err)
	}
	return err
}

// batchWrite sends reqs to table in chunks of BatchLimit.
func (s *Store) batchWrite(ctx context.Context, table string, reqs []client.WriteRequest) (Meta, error) {
	return s.runChunks(ctx, chunk(len(reqs), s.config.BatchLimit), func(ctx context.Context, lo, hi int, meta *Meta) error {
		return resubmit(ctx, s, client.OpBatchWriteItem, reqs[lo:hi], func(ctx context.Context, batch []client.WriteRequest) ([]client.WriteRequest, error) {
			var out client.BatchWriteItemOutput
			err := s.backend.Do(ctx, client.OpBatchWriteItem, &client.BatchWriteItemInput{
				RequestItems:           map[string][]client.WriteRequest{table: batch},
				ReturnConsumedCapacity: client.ReturnConsumedCapacityTotal,
			}, &out)
			if err != nil {
				return nil, err
			}
			rest := out.UnprocessedItems[table]
			meta.add(client.OpBatchWriteItem, table, len(batch), len(rest), out.ConsumedCapacity...)
			return rest, nil
		})
	})
}

// batchGet fetches keys from table in chunks of GetBatchLimit. Keys must be
// unique. found is called once per returned item, possibly concurrently
// when BatchConcurrency > 1.
func (s *Store) batchGet(ctx context.Context, table string, itemKeys []wire.Item, found func(wire.Item)) (Meta, error) {
	return s.runChunks(ctx, chunk(len(itemKeys), s.config.GetBatchLimit), func(ctx context.Context, lo, hi int, meta *Meta) error {
		return resubmit(ctx, s, client.OpBatchGetItem, itemKeys[lo:hi], func(ctx context.Context, batch []wire.Item) ([]wire.Item, error) {
			var out client.BatchGetItemOutput
			err := s.backend.Do(ctx, client.OpBatchGetItem, &client.BatchGetItemInput{
				RequestItems:           map[string]client.KeysAndAttributes{table: {Keys: batch}},
				ReturnConsumedCapacity: client.ReturnConsumedCapacityTotal,
			}, &out)
			if err != nil {
				return nil, err
			}
			for _, it := range out.Responses[table] {
				found(it)
			}
			rest := out.UnprocessedKeys[table].Keys
			meta.add(client.OpBatchGetItem, table, len(batch), len(rest), out.ConsumedCapacity...)
			return rest, nil
		})
	})
}
