package stream_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/jacentio/lattice/cache"
	"github.com/jacentio/lattice/internal/keys"
	"github.com/jacentio/lattice/stream"
)

// fakeCache records deletes.
type fakeCache struct {
	cache.Noop
	deleted [][]string
	err     error
}

func (c *fakeCache) Delete(_ context.Context, ks ...string) error {
	c.deleted = append(c.deleted, ks)
	return c.err
}

func objectRecord(name, scope, ref string) events.DynamoDBEventRecord {
	return events.DynamoDBEventRecord{
		EventID:   name + "-" + ref,
		EventName: name,
		Change: events.DynamoDBStreamRecord{
			Keys: map[string]events.DynamoDBAttributeValue{
				"scope": events.NewStringAttribute(scope),
				"ref":   events.NewStringAttribute(ref),
			},
		},
	}
}

func TestNewHandler(t *testing.T) {
	// nil cache and logger must not panic
	h := stream.NewHandler(nil, nil)
	if h == nil {
		t.Fatal("expected non-nil Handler")
	}
	err := h.HandleInvalidation(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{objectRecord("MODIFY", "acme", "user#1")},
	})
	if err != nil {
		t.Errorf("HandleInvalidation: %v", err)
	}
}

func TestHandleInvalidation(t *testing.T) {
	tests := []struct {
		name    string
		records []events.DynamoDBEventRecord
		want    []string
	}{
		{
			name: "modify and remove",
			records: []events.DynamoDBEventRecord{
				objectRecord("MODIFY", "acme", "user#1"),
				objectRecord("REMOVE", "acme", "post#p#1"),
			},
			want: []string{keys.CacheKey("acme", "user", "1"), keys.CacheKey("acme", "post", "p#1")},
		},
		{
			name: "insert ignored",
			records: []events.DynamoDBEventRecord{
				objectRecord("INSERT", "acme", "user#1"),
			},
		},
		{
			name: "duplicates collapse",
			records: []events.DynamoDBEventRecord{
				objectRecord("MODIFY", "acme", "user#1"),
				objectRecord("MODIFY", "acme", "user#1"),
				objectRecord("REMOVE", "acme", "user#1"),
			},
			want: []string{keys.CacheKey("acme", "user", "1")},
		},
		{
			name: "index table records ignored",
			records: []events.DynamoDBEventRecord{{
				EventName: "REMOVE",
				Change: events.DynamoDBStreamRecord{
					Keys: map[string]events.DynamoDBAttributeValue{
						"lookup": events.NewStringAttribute("acme#email"),
						"entry":  events.NewStringAttribute("a@b\x00user#1"),
					},
				},
			}},
		},
		{
			name: "malformed ref ignored",
			records: []events.DynamoDBEventRecord{
				objectRecord("MODIFY", "acme", "noseparator"),
				objectRecord("MODIFY", "acme", "user#2"),
			},
			want: []string{keys.CacheKey("acme", "user", "2")},
		},
		{
			name: "binary keys ignored",
			records: []events.DynamoDBEventRecord{{
				EventName: "MODIFY",
				Change: events.DynamoDBStreamRecord{
					Keys: map[string]events.DynamoDBAttributeValue{
						"blob": events.NewBinaryAttribute([]byte{1, 2}),
					},
				},
			}},
		},
		{
			name: "different scopes",
			records: []events.DynamoDBEventRecord{
				objectRecord("MODIFY", "acme", "user#1"),
				objectRecord("MODIFY", "globex", "user#1"),
			},
			want: []string{keys.CacheKey("acme", "user", "1"), keys.CacheKey("globex", "user", "1")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &fakeCache{}
			h := stream.NewHandler(c, nil)
			if err := h.HandleInvalidation(context.Background(), events.DynamoDBEvent{Records: tt.records}); err != nil {
				t.Fatalf("HandleInvalidation: %v", err)
			}

			if len(tt.want) == 0 {
				if len(c.deleted) != 0 {
					t.Errorf("deleted %v, want nothing", c.deleted)
				}
				return
			}
			if len(c.deleted) != 1 {
				t.Fatalf("Delete called %d times, want 1", len(c.deleted))
			}
			got := c.deleted[0]
			if len(got) != len(tt.want) {
				t.Fatalf("deleted %v, want %v", got, tt.want)
			}
			for i := range got {
				if got[i] != tt.want[i] {
					t.Errorf("deleted[%d] = %q, want %q", i, got[i], tt.want[i])
				}
			}
		})
	}
}

func TestHandleInvalidation_CacheError(t *testing.T) {
	boom := errors.New("boom")
	h := stream.NewHandler(&fakeCache{err: boom}, nil)
	err := h.HandleInvalidation(context.Background(), events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{objectRecord("REMOVE", "acme", "user#1")},
	})
	if !errors.Is(err, boom) {
		t.Errorf("err = %v, want boom", err)
	}
}

func TestHandleInvalidation_Redis(t *testing.T) {
	r, mr := newRedis(t)
	ctx := context.Background()
	stale := keys.CacheKey("acme", "user", "1")
	kept := keys.CacheKey("acme", "user", "2")
	for _, k := range []string{stale, kept} {
		if err := r.Set(ctx, k, []byte("{}"), time.Minute); err != nil {
			t.Fatal(err)
		}
	}

	h := stream.NewHandler(r, nil)
	err := h.HandleInvalidation(ctx, events.DynamoDBEvent{
		Records: []events.DynamoDBEventRecord{objectRecord("MODIFY", "acme", "user#1")},
	})
	if err != nil {
		t.Fatal(err)
	}
	if mr.Exists(stale) {
		t.Error("stale entry still cached")
	}
	if !mr.Exists(kept) {
		t.Error("unrelated entry was deleted")
	}
}

func TestConvertStreamKey(t *testing.T) {
	streamKey := map[string]events.DynamoDBAttributeValue{
		"id": events.NewStringAttribute("test-id"),
	}

	pk := stream.ConvertStreamKey(streamKey)
	if pk == nil {
		t.Fatal("expected non-nil key")
	}

	if v, ok := pk["id"].(*types.AttributeValueMemberS); !ok || v.Value != "test-id" {
		t.Error("expected id to be 'test-id'")
	}
}

func TestConvertStreamKey_Number(t *testing.T) {
	pk := stream.ConvertStreamKey(map[string]events.DynamoDBAttributeValue{
		"version": events.NewNumberAttribute("42"),
	})
	if v, ok := pk["version"].(*types.AttributeValueMemberN); !ok || v.Value != "42" {
		t.Errorf("expected version to be N 42, got %#v", pk["version"])
	}
}

func TestConvertStreamKey_Binary(t *testing.T) {
	pk := stream.ConvertStreamKey(map[string]events.DynamoDBAttributeValue{
		"data": events.NewBinaryAttribute([]byte{0x01, 0x02}),
	})
	v, ok := pk["data"].(*types.AttributeValueMemberB)
	if !ok || len(v.Value) != 2 {
		t.Errorf("expected binary data, got %#v", pk["data"])
	}
}

func TestConvertStreamKey_Empty(t *testing.T) {
	pk := stream.ConvertStreamKey(map[string]events.DynamoDBAttributeValue{})
	if pk == nil || len(pk) != 0 {
		t.Errorf("expected empty map, got %v", pk)
	}
}

func TestConvertStreamImage_Nested(t *testing.T) {
	image := map[string]events.DynamoDBAttributeValue{
		"scope": events.NewStringAttribute("acme"),
		"attributes": events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
			"age":    events.NewNumberAttribute("31"),
			"active": events.NewBooleanAttribute(true),
			"tags":   events.NewStringSetAttribute([]string{"a", "b"}),
			"none":   events.NewNullAttribute(),
		}),
		"foreign_keys": events.NewListAttribute([]events.DynamoDBAttributeValue{
			events.NewMapAttribute(map[string]events.DynamoDBAttributeValue{
				"type": events.NewStringAttribute("user"),
				"id":   events.NewStringAttribute("1"),
			}),
		}),
	}

	item, err := stream.ConvertStreamImage(image)
	if err != nil {
		t.Fatalf("ConvertStreamImage: %v", err)
	}
	if s, _ := item["scope"].AsString(); s != "acme" {
		t.Errorf("scope = %q", s)
	}
	attrs, ok := item["attributes"].AsMap()
	if !ok {
		t.Fatalf("attributes is %s, want map", item["attributes"].Kind())
	}
	if n, _ := attrs["age"].AsNumber(); n != "31" {
		t.Errorf("age = %q, want 31", n)
	}
	if b, _ := attrs["active"].AsBool(); !b {
		t.Error("active = false, want true")
	}
	if tags, _ := attrs["tags"].AsList(); len(tags) != 2 {
		t.Errorf("tags = %v, want 2 entries", tags)
	}
	if !attrs["none"].IsNull() {
		t.Errorf("none is %s, want null", attrs["none"].Kind())
	}
	fks, _ := item["foreign_keys"].AsList()
	if len(fks) != 1 {
		t.Fatalf("foreign_keys = %v, want 1 entry", fks)
	}
	fk, _ := fks[0].AsMap()
	if typ, _ := fk["type"].AsString(); typ != "user" {
		t.Errorf("foreign key type = %q", typ)
	}
}
