//go:build e2e

// Package e2e contains end-to-end integration tests using real DynamoDB tables.
// Run with: go test -tags=e2e -v ./e2e/...
//
// LATTICE_E2E_PROFILE selects a shared config profile; otherwise the default
// AWS credential chain is used.
package e2e

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/google/uuid"

	"github.com/jacentio/lattice"
	"github.com/jacentio/lattice/event"
	"github.com/jacentio/lattice/store"
	"github.com/jacentio/lattice/txn"
)

var (
	tablePrefix string

	ddbClient *dynamodb.Client
	db        *lattice.DB
	events    = &event.Recorder{}
)

// letters maps a uuid onto [a-z] so it can be used in a table prefix.
func letters(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9':
			return 'g' + (r - '0')
		case r >= 'a' && r <= 'f':
			return r
		}
		return -1
	}, id)
}

func TestMain(m *testing.M) {
	tablePrefix = "lattice_e2e_" + letters(uuid.New().String())[:8] + "_"
	fmt.Printf("Table prefix: %s\n", tablePrefix)

	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if p := os.Getenv("LATTICE_E2E_PROFILE"); p != "" {
		opts = append(opts, config.WithSharedConfigProfile(p))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		fmt.Printf("Failed to load AWS config: %v\n", err)
		os.Exit(1)
	}
	ddbClient = dynamodb.NewFromConfig(cfg)

	if err := createTables(ctx); err != nil {
		fmt.Printf("Failed to create tables: %v\n", err)
		os.Exit(1)
	}

	reg := store.NewRegistry()
	if err := reg.Register("studio", "slug", func(r *store.Record, emit func(string)) {
		if s, ok := r.Attributes["slug"].(string); ok {
			emit(s)
		}
	}); err != nil {
		fmt.Printf("Failed to register index: %v\n", err)
		os.Exit(1)
	}

	lc := lattice.DefaultConfig()
	lc.Region = cfg.Region
	lc.TablePrefix = tablePrefix
	lc.RequestTimeout = 5 * time.Second
	lc.OperationTimeout = time.Minute
	db, err = lattice.Open(ctx, lc, lattice.Options{
		Credentials: cfg.Credentials,
		Registry:    reg,
		Sink:        events,
	})
	if err != nil {
		fmt.Printf("Failed to open lattice: %v\n", err)
		deleteTables(ctx)
		os.Exit(1)
	}

	code := m.Run()

	db.Close()
	deleteTables(ctx)
	os.Exit(code)
}

func createTables(ctx context.Context) error {
	fmt.Println("Creating test tables...")
	s := func(name string) types.AttributeDefinition {
		return types.AttributeDefinition{AttributeName: aws.String(name), AttributeType: types.ScalarAttributeTypeS}
	}
	keySchema := func(hash, rng string) []types.KeySchemaElement {
		return []types.KeySchemaElement{
			{AttributeName: aws.String(hash), KeyType: types.KeyTypeHash},
			{AttributeName: aws.String(rng), KeyType: types.KeyTypeRange},
		}
	}

	inputs := []*dynamodb.CreateTableInput{
		{
			TableName:            aws.String(tablePrefix + "objects"),
			KeySchema:            keySchema("scope", "ref"),
			AttributeDefinitions: []types.AttributeDefinition{s("scope"), s("ref"), s("scope_type"), s("id")},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
				IndexName:  aws.String(store.ScopeTypeIndex),
				KeySchema:  keySchema("scope_type", "id"),
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			}},
			BillingMode: types.BillingModePayPerRequest,
		},
		{
			TableName:            aws.String(tablePrefix + "indexes"),
			KeySchema:            keySchema("lookup", "entry"),
			AttributeDefinitions: []types.AttributeDefinition{s("lookup"), s("entry"), s("subject")},
			GlobalSecondaryIndexes: []types.GlobalSecondaryIndex{{
				IndexName:  aws.String(store.SubjectIndex),
				KeySchema:  keySchema("subject", "entry"),
				Projection: &types.Projection{ProjectionType: types.ProjectionTypeAll},
			}},
			BillingMode: types.BillingModePayPerRequest,
		},
	}
	for _, in := range inputs {
		if _, err := ddbClient.CreateTable(ctx, in); err != nil {
			return fmt.Errorf("create table %s: %w", *in.TableName, err)
		}
	}

	for _, in := range inputs {
		waiter := dynamodb.NewTableExistsWaiter(ddbClient)
		if err := waiter.Wait(ctx, &dynamodb.DescribeTableInput{TableName: in.TableName}, 2*time.Minute); err != nil {
			return fmt.Errorf("wait for table %s: %w", *in.TableName, err)
		}
	}

	fmt.Println("All tables created and active")
	return nil
}

func deleteTables(ctx context.Context) {
	fmt.Println("Deleting test tables...")
	for _, name := range []string{tablePrefix + "objects", tablePrefix + "indexes"} {
		if _, err := ddbClient.DeleteTable(ctx, &dynamodb.DeleteTableInput{TableName: aws.String(name)}); err != nil {
			fmt.Printf("Warning: failed to delete table %s: %v\n", name, err)
		}
	}
}

func newScope() string { return "org-" + uuid.New().String() }

func begin(t *testing.T) *txn.Transaction {
	t.Helper()
	tx := db.Begin(context.Background())
	t.Cleanup(func() { _ = tx.Rollback(context.Background()) })
	return tx
}

func get(t *testing.T, scope string, k store.Key) *store.Record {
	t.Helper()
	rec, _, err := db.Store().Get(context.Background(), scope, k)
	if err != nil {
		t.Fatalf("Get %s: %v", k, err)
	}
	return rec
}

// --- CRUD Tests ---

func TestSetGetRemove(t *testing.T) {
	ctx := context.Background()
	scope := newScope()
	k := store.Key{Type: "studio", ID: uuid.New().String()}

	written, meta, err := db.Store().Set(ctx, scope, &store.Record{
		Type:       k.Type,
		ID:         k.ID,
		Attributes: map[string]any{"name": "Test Studio", "seats": float64(12), "tags": []any{"a", "b"}},
	})
	if err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	if written.Created == "" || written.Updated == "" {
		t.Error("expected created and updated to be set")
	}
	if meta.ConsumedCapacity() <= 0 {
		t.Errorf("expected consumed capacity, got %v", meta.ConsumedCapacity())
	}

	got := get(t, scope, k)
	if got == nil {
		t.Fatal("record not found")
	}
	if got.Attributes["seats"] != float64(12) {
		t.Errorf("seats = %#v, want 12", got.Attributes["seats"])
	}

	if _, err := db.Store().Remove(ctx, scope, k); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if got := get(t, scope, k); got != nil {
		t.Errorf("record still present: %+v", got)
	}
}

func TestCreate_Conflict(t *testing.T) {
	ctx := context.Background()
	scope := newScope()
	rec := &store.Record{Type: "studio", ID: "dup"}

	if _, _, err := db.Store().Create(ctx, scope, rec); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, _, err := db.Store().Create(ctx, scope, rec)
	if !errors.Is(err, store.ErrAlreadyExists) {
		t.Errorf("expected ErrAlreadyExists, got %v", err)
	}
}

// --- Batch Tests ---

func TestBatch_TwentySixRecords(t *testing.T) {
	ctx := context.Background()
	scope := newScope()

	recs := make([]*store.Record, 26)
	for i := range recs {
		recs[i] = &store.Record{Type: "title", ID: fmt.Sprintf("t%02d", i), Attributes: map[string]any{"n": float64(i)}}
	}
	_, meta, err := db.Store().BatchSet(ctx, scope, recs)
	if err != nil {
		t.Fatalf("BatchSet failed: %v", err)
	}
	writes := 0
	for _, c := range meta.Calls {
		if c.Op == "BatchWriteItem" {
			writes++
		}
	}
	if writes < 2 {
		t.Errorf("expected at least 2 write calls, got %d", writes)
	}

	keys := make([]store.Key, len(recs))
	for i, r := range recs {
		keys[i] = r.Key()
	}
	got, _, err := db.Store().BatchGet(ctx, scope, keys)
	if err != nil {
		t.Fatalf("BatchGet failed: %v", err)
	}
	for i, r := range got {
		if r == nil || r.ID != keys[i].ID {
			t.Errorf("BatchGet[%d] = %+v, want %s", i, r, keys[i])
		}
	}

	var scanned int
	var cursor store.Cursor
	for {
		page, _, err := db.Store().Scan(ctx, scope, "title", store.ScanInput{Cursor: cursor, Limit: 10})
		if err != nil {
			t.Fatalf("Scan failed: %v", err)
		}
		scanned += len(page.Records)
		if page.Cursor == nil {
			break
		}
		cursor = page.Cursor
	}
	if scanned != 26 {
		t.Errorf("scanned %d records, want 26", scanned)
	}

	if _, err := db.Store().BatchRemove(ctx, scope, keys); err != nil {
		t.Fatalf("BatchRemove failed: %v", err)
	}
}

// --- Transaction Tests ---

func TestTransaction_RelationshipIntegrity(t *testing.T) {
	ctx := context.Background()
	scope := newScope()
	tx := begin(t)

	org := &store.Record{Type: "organization", ID: "o1"}
	studio := &store.Record{
		Type:          "studio",
		ID:            "s1",
		Attributes:    map[string]any{"slug": "first"},
		Relationships: map[string][]store.Key{"organization": {org.Key()}},
	}
	if _, _, err := tx.BatchSet(ctx, txn.BatchSetInput{Scope: scope, Records: []*store.Record{org, studio}}); err != nil {
		t.Fatalf("BatchSet failed: %v", err)
	}
	if err := tx.Wait(ctx); err != nil {
		t.Fatal(err)
	}
	if fks := get(t, scope, org.Key()).ForeignKeys; len(fks) != 1 || fks[0] != studio.Key() {
		t.Errorf("organization foreign keys = %v, want [studio#s1]", fks)
	}

	res, _, err := tx.Lookup(ctx, txn.LookupInput{Scope: scope, Index: "slug", Key: "first"})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if len(res.Records) != 1 || res.Records[0].ID != "s1" {
		t.Errorf("Lookup = %+v, want studio s1", res.Records)
	}

	if _, err := tx.Remove(ctx, scope, org.Key()); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}
	if err := tx.Commit(ctx); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}
	if rels := get(t, scope, studio.Key()).Relationships["organization"]; len(rels) != 0 {
		t.Errorf("studio still references organization: %v", rels)
	}
}
