package store_test

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/jacentio/lattice/store"
)

func TestRecord_Clone(t *testing.T) {
	orig := &store.Record{
		Type:          "post",
		ID:            "p1",
		Attributes:    map[string]any{"nested": map[string]any{"list": []any{"a"}}},
		Relationships: map[string][]store.Key{"author": {{Type: "user", ID: "u1"}}},
		ForeignKeys:   []store.Key{{Type: "comment", ID: "c1"}},
	}

	c := orig.Clone()
	if diff := cmp.Diff(orig, c); diff != "" {
		t.Fatalf("clone differs (-orig +clone):\n%s", diff)
	}

	c.Attributes["nested"].(map[string]any)["list"].([]any)[0] = "changed"
	c.Relationships["author"][0].ID = "u2"
	c.ForeignKeys[0].ID = "c2"

	if orig.Attributes["nested"].(map[string]any)["list"].([]any)[0] != "a" {
		t.Error("clone shares nested attributes")
	}
	if orig.Relationships["author"][0].ID != "u1" {
		t.Error("clone shares relationships")
	}
	if orig.ForeignKeys[0].ID != "c1" {
		t.Error("clone shares foreign keys")
	}

	var nilRec *store.Record
	if nilRec.Clone() != nil {
		t.Error("expected nil clone of nil record")
	}
}

func TestRecord_RelatedKeys(t *testing.T) {
	r := &store.Record{
		Relationships: map[string][]store.Key{
			"reviewers": {{Type: "user", ID: "u2"}, {Type: "user", ID: "u1"}},
			"author":    {{Type: "user", ID: "u1"}},
		},
	}
	want := []store.Key{{Type: "user", ID: "u1"}, {Type: "user", ID: "u2"}}
	if diff := cmp.Diff(want, r.RelatedKeys()); diff != "" {
		t.Errorf("related keys (-want +got):\n%s", diff)
	}
}

func TestRecord_ForeignKeys(t *testing.T) {
	r := &store.Record{}
	k := store.Key{Type: "post", ID: "p1"}

	if !r.AddForeignKey(k) {
		t.Error("expected first add to report a change")
	}
	if r.AddForeignKey(k) {
		t.Error("expected duplicate add to be ignored")
	}
	if len(r.ForeignKeys) != 1 {
		t.Errorf("expected 1 foreign key, got %v", r.ForeignKeys)
	}
	if !r.RemoveForeignKey(k) {
		t.Error("expected remove to report a change")
	}
	if r.RemoveForeignKey(k) {
		t.Error("expected second remove to be a no-op")
	}
}

func TestRecord_StripRelationship(t *testing.T) {
	k := store.Key{Type: "user", ID: "u1"}
	r := &store.Record{
		Relationships: map[string][]store.Key{
			"author":    {k},
			"reviewers": {{Type: "user", ID: "u2"}, k},
		},
	}
	if !r.StripRelationship(k) {
		t.Fatal("expected a change")
	}
	want := map[string][]store.Key{
		"author":    {},
		"reviewers": {{Type: "user", ID: "u2"}},
	}
	if diff := cmp.Diff(want, r.Relationships); diff != "" {
		t.Errorf("relationships (-want +got):\n%s", diff)
	}
	if r.StripRelationship(k) {
		t.Error("expected no change on second strip")
	}
}

type profile struct {
	Name  string   `dynamodbav:"name"`
	Age   int      `dynamodbav:"age"`
	Tags  []string `dynamodbav:"tags"`
	Admin bool     `dynamodbav:"admin"`
}

func TestAttributes_EncodeDecode(t *testing.T) {
	in := profile{Name: "Ada", Age: 36, Tags: []string{"math"}, Admin: true}

	attrs, err := store.EncodeAttributes(in)
	if err != nil {
		t.Fatalf("EncodeAttributes: %v", err)
	}
	want := map[string]any{
		"name":  "Ada",
		"age":   float64(36),
		"tags":  []any{"math"},
		"admin": true,
	}
	if diff := cmp.Diff(want, attrs); diff != "" {
		t.Errorf("attributes (-want +got):\n%s", diff)
	}

	rec := &store.Record{Type: "user", ID: "u1", Attributes: attrs}
	var out profile
	if err := rec.DecodeAttributes(&out); err != nil {
		t.Fatalf("DecodeAttributes: %v", err)
	}
	if diff := cmp.Diff(in, out); diff != "" {
		t.Errorf("decoded (-want +got):\n%s", diff)
	}
}

func TestEncodeDecodeRecord(t *testing.T) {
	rec := &store.Record{
		Scope:         "acme",
		Type:          "post",
		ID:            "p1",
		Created:       "2024-01-01T00:00:00.000Z",
		Updated:       "2024-01-01T00:00:00.000Z",
		Attributes:    map[string]any{"n": 1.5, "tags": []any{"x"}},
		Relationships: map[string][]store.Key{"author": {{Type: "user", ID: "u1"}}},
		ForeignKeys:   []store.Key{{Type: "comment", ID: "c1"}},
	}

	data, err := store.EncodeRecord(rec)
	if err != nil {
		t.Fatalf("EncodeRecord: %v", err)
	}
	back, err := store.DecodeRecord(data)
	if err != nil {
		t.Fatalf("DecodeRecord: %v", err)
	}
	if diff := cmp.Diff(rec, back); diff != "" {
		t.Errorf("round trip (-want +got):\n%s", diff)
	}

	if _, err := store.DecodeRecord([]byte("not json")); !errors.Is(err, store.ErrCorruptRecord) {
		t.Errorf("expected ErrCorruptRecord, got %v", err)
	}
}
