package store_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jacentio/lattice/client"
	"github.com/jacentio/lattice/store"
)

func entry(index, key, id string) store.IndexEntry {
	return store.IndexEntry{Index: index, Key: key, Subject: store.Key{Type: "post", ID: id}}
}

func TestIndexEntries_PutListRemove(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()
	p1 := store.Key{Type: "post", ID: "p1"}

	entries := []store.IndexEntry{
		entry("tag", "foo", "p1"),
		entry("tag", "bar", "p1"),
		entry("slug", "hello-world", "p1"),
		entry("tag", "foo", "p2"),
	}
	if _, err := s.PutIndexEntries(ctx, "acme", entries); err != nil {
		t.Fatalf("PutIndexEntries: %v", err)
	}

	got, _, err := s.IndexEntries(ctx, "acme", p1)
	if err != nil {
		t.Fatalf("IndexEntries: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("expected 3 entries for p1, got %+v", got)
	}
	for _, e := range got {
		if e.Subject != p1 {
			t.Errorf("unexpected subject %v", e.Subject)
		}
	}

	if _, err := s.RemoveIndexEntries(ctx, "acme", entries[:2]); err != nil {
		t.Fatalf("RemoveIndexEntries: %v", err)
	}
	got, _, err = s.IndexEntries(ctx, "acme", p1)
	if err != nil {
		t.Fatalf("IndexEntries: %v", err)
	}
	if diff := cmp.Diff([]store.IndexEntry{entry("slug", "hello-world", "p1")}, got); diff != "" {
		t.Errorf("entries after removal (-want +got):\n%s", diff)
	}
}

func TestIndexEntries_ScopeIsolation(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if _, err := s.PutIndexEntries(ctx, "acme", []store.IndexEntry{entry("tag", "foo", "p1")}); err != nil {
		t.Fatal(err)
	}
	got, _, err := s.IndexEntries(ctx, "other", store.Key{Type: "post", ID: "p1"})
	if err != nil {
		t.Fatalf("IndexEntries: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no entries in another scope, got %+v", got)
	}
}

func TestIndexEntries_Pages(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	// more than one write batch
	var entries []store.IndexEntry
	for i := 0; i < 30; i++ {
		entries = append(entries, entry("n", string(rune('a'+i%26))+string(rune('a'+i/26)), "p1"))
	}
	if _, err := s.PutIndexEntries(ctx, "acme", entries); err != nil {
		t.Fatal(err)
	}
	got, _, err := s.IndexEntries(ctx, "acme", store.Key{Type: "post", ID: "p1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 30 {
		t.Errorf("expected 30 entries, got %d", len(got))
	}
}

func TestLookup(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	entries := []store.IndexEntry{
		entry("tag", "go", "p1"),
		entry("tag", "go", "p2"),
		entry("tag", "golang", "p3"),
		entry("tag", "rust", "p4"),
		entry("slug", "go", "p5"),
	}
	if _, err := s.PutIndexEntries(ctx, "acme", entries); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name   string
		index  string
		in     store.LookupInput
		expect []string
	}{
		{"equality excludes longer keys", "tag", store.LookupInput{Key: "go"}, []string{"p1", "p2"}},
		{"prefix", "tag", store.LookupInput{Key: "go", Prefix: true}, []string{"p1", "p2", "p3"}},
		{"empty prefix matches all", "tag", store.LookupInput{Prefix: true}, []string{"p1", "p2", "p3", "p4"}},
		{"other index", "slug", store.LookupInput{Key: "go"}, []string{"p5"}},
		{"no match", "tag", store.LookupInput{Key: "java"}, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			page, _, err := s.Lookup(ctx, "acme", tt.index, tt.in)
			if err != nil {
				t.Fatalf("Lookup: %v", err)
			}
			var ids []string
			for _, k := range page.Keys() {
				ids = append(ids, k.ID)
			}
			if diff := cmp.Diff(tt.expect, ids); diff != "" {
				t.Errorf("ids (-want +got):\n%s", diff)
			}
			if page.Cursor != nil {
				t.Error("expected no cursor")
			}
		})
	}
}

func TestLookup_Cursor(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	var entries []store.IndexEntry
	for _, id := range []string{"a", "b", "c", "d", "e"} {
		entries = append(entries, entry("tag", "x", id))
	}
	if _, err := s.PutIndexEntries(ctx, "acme", entries); err != nil {
		t.Fatal(err)
	}

	var (
		ids    []string
		cursor store.Cursor
	)
	for i := 0; i < 5; i++ {
		page, _, err := s.Lookup(ctx, "acme", "tag", store.LookupInput{Key: "x", Limit: 2, Cursor: cursor})
		if err != nil {
			t.Fatal(err)
		}
		for _, k := range page.Keys() {
			ids = append(ids, k.ID)
		}
		if page.Cursor == nil {
			break
		}
		cursor = page.Cursor
	}
	if diff := cmp.Diff([]string{"a", "b", "c", "d", "e"}, ids); diff != "" {
		t.Errorf("ids (-want +got):\n%s", diff)
	}
}

func TestLookup_Invalid(t *testing.T) {
	s, srv := newStore(t)
	ctx := context.Background()

	if _, _, err := s.Lookup(ctx, "acme", "a#b", store.LookupInput{Key: "x"}); !errors.Is(err, store.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for bad index, got %v", err)
	}
	if _, _, err := s.Lookup(ctx, "acme", "tag", store.LookupInput{Key: "x\x00y"}); !errors.Is(err, store.ErrInvalidKey) {
		t.Errorf("expected ErrInvalidKey for bad key, got %v", err)
	}
	if srv.Calls(client.OpQuery) != 0 {
		t.Error("invalid lookups must not reach the backend")
	}
}

func TestPutIndexEntries_EmptyKey(t *testing.T) {
	s, _ := newStore(t)
	ctx := context.Background()

	if _, err := s.PutIndexEntries(ctx, "acme", []store.IndexEntry{entry("flag", "", "p1")}); err != nil {
		t.Fatalf("PutIndexEntries: %v", err)
	}
	page, _, err := s.Lookup(ctx, "acme", "flag", store.LookupInput{Key: ""})
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]store.IndexEntry{entry("flag", "", "p1")}, page.Entries); diff != "" {
		t.Errorf("entries (-want +got):\n%s", diff)
	}
}
