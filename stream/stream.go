// Package stream provides a DynamoDB Streams handler that keeps the
// ephemeral record cache in step with the objects table.
package stream

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-lambda-go/events"

	"github.com/jacentio/lattice/cache"
	"github.com/jacentio/lattice/internal/keys"
	"github.com/jacentio/lattice/wire"
)

// Handler invalidates cached snapshots of records changed by other writers.
type Handler struct {
	cache  cache.Cache
	logger *slog.Logger
}

// NewHandler creates a new stream handler.
func NewHandler(c cache.Cache, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	if c == nil {
		c = cache.Noop{}
	}
	return &Handler{cache: c, logger: logger}
}

// HandleInvalidation deletes the cache entries of every object modified or
// removed in event. Records from other tables, such as the index table, are
// ignored. It is designed to be used as an AWS Lambda handler; a returned
// error makes Lambda retry the whole batch.
func (h *Handler) HandleInvalidation(ctx context.Context, event events.DynamoDBEvent) error {
	var (
		cacheKeys []string
		seen      = make(map[string]bool)
	)
	for _, record := range event.Records {
		key, ok := h.cacheKey(record)
		if ok && !seen[key] {
			seen[key] = true
			cacheKeys = append(cacheKeys, key)
		}
	}
	if len(cacheKeys) == 0 {
		return nil
	}

	if err := h.cache.Delete(ctx, cacheKeys...); err != nil {
		return fmt.Errorf("invalidate %d cache entries: %w", len(cacheKeys), err)
	}
	h.logger.Debug("invalidated cache entries", "count", len(cacheKeys))
	return nil
}

// cacheKey returns the cache key of the object a stream record changed.
// Records that do not carry an object key are skipped.
func (h *Handler) cacheKey(record events.DynamoDBEventRecord) (string, bool) {
	switch record.EventName {
	case string(events.DynamoDBOperationTypeModify), string(events.DynamoDBOperationTypeRemove):
	default:
		return "", false
	}

	item, err := ConvertStreamImage(record.Change.Keys)
	if err != nil {
		h.logger.Warn("skipping record with unsupported keys",
			"eventID", record.EventID,
			"error", err,
		)
		return "", false
	}
	scope, _ := item["scope"].AsString()
	ref, _ := item["ref"].AsString()
	if scope == "" || ref == "" {
		return "", false
	}
	typ, id, ok := keys.ParseObjectRef(ref)
	if !ok {
		h.logger.Warn("skipping record with malformed ref",
			"eventID", record.EventID,
			"ref", ref,
		)
		return "", false
	}
	return keys.CacheKey(scope, typ, id), true
}

// ConvertStreamImage converts a stream key or image to a wire item.
func ConvertStreamImage(image map[string]events.DynamoDBAttributeValue) (wire.Item, error) {
	item, err := wire.FromAttributeValueMap(ConvertStreamKey(image))
	if err != nil {
		return nil, err
	}
	return wire.Item(item), nil
}
