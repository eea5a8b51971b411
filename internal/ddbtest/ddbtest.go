// Package ddbtest runs an in-process fake of the DynamoDB JSON protocol for
// tests. It supports the operations the store issues, enforces the batch
// limits, and can inject throughput errors and unprocessed items.
package ddbtest

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/jacentio/lattice/client"
	"github.com/jacentio/lattice/wire"
)

// IndexDef describes a global secondary index with ALL projection.
type IndexDef struct {
	Name  string
	Hash  string
	Range string
}

// TableDef describes a table key schema.
type TableDef struct {
	Name    string
	Hash    string
	Range   string
	Indexes []IndexDef
}

// LatticeTables returns the objects and indexes tables for prefix.
func LatticeTables(prefix string) []TableDef {
	return []TableDef{
		{
			Name:  prefix + "objects",
			Hash:  "scope",
			Range: "ref",
			Indexes: []IndexDef{
				{Name: "scope_type-index", Hash: "scope_type", Range: "id"},
			},
		},
		{
			Name:  prefix + "indexes",
			Hash:  "lookup",
			Range: "entry",
			Indexes: []IndexDef{
				{Name: "subject-index", Hash: "subject", Range: "entry"},
			},
		},
	}
}

type table struct {
	def   TableDef
	items map[string]wire.Item
}

// Server is a fake backend. All methods are safe for concurrent use.
type Server struct {
	srv *httptest.Server

	mu          sync.Mutex
	tables      map[string]*table
	calls       map[string]int
	sizes       map[string][]int
	failures    map[string][]string
	unprocessed map[string][]int
}

// New starts a fake backend with the given tables. It is closed when the
// test ends.
func New(t testing.TB, defs ...TableDef) *Server {
	t.Helper()
	s := &Server{
		tables:      make(map[string]*table),
		calls:       make(map[string]int),
		sizes:       make(map[string][]int),
		failures:    make(map[string][]string),
		unprocessed: make(map[string][]int),
	}
	for _, d := range defs {
		s.tables[d.Name] = &table{def: d, items: make(map[string]wire.Item)}
	}
	s.srv = httptest.NewServer(s)
	t.Cleanup(s.srv.Close)
	return s
}

// URL returns the endpoint to point a client at.
func (s *Server) URL() string { return s.srv.URL }

// Client returns a client signed with dummy credentials.
func (s *Server) Client(t testing.TB) *client.Client {
	t.Helper()
	c, err := client.New(client.Config{
		Region:    "us-east-1",
		Endpoint:  s.URL(),
		AccessKey: "AKIDTEST",
		SecretKey: "secret",
	})
	if err != nil {
		t.Fatalf("ddbtest: client: %v", err)
	}
	return c
}

// Retrier returns a retrying client with a 1ms backoff multiplier.
func (s *Server) Retrier(t testing.TB) *client.Retrier {
	t.Helper()
	return client.NewRetrier(s.Client(t), client.Config{BackoffMultiplier: time.Millisecond})
}

// Fail makes the next n calls of op fail with the named backend error.
func (s *Server) Fail(op, name string, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for range n {
		s.failures[op] = append(s.failures[op], name)
	}
}

// Throttle makes the next n calls of op fail with a throughput rejection.
func (s *Server) Throttle(op string, n int) {
	s.Fail(op, client.ErrNameThroughputExceeded, n)
}

// Unprocess makes successive batch calls of op leave the last counts[i]
// items unprocessed.
func (s *Server) Unprocess(op string, counts ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.unprocessed[op] = append(s.unprocessed[op], counts...)
}

// Calls returns how many requests of op were received.
func (s *Server) Calls(op string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[op]
}

// BatchSizes returns the item count of every batch call of op, in order.
func (s *Server) BatchSizes(op string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int(nil), s.sizes[op]...)
}

// ResetCounters clears call counts and batch sizes.
func (s *Server) ResetCounters() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = make(map[string]int)
	s.sizes = make(map[string][]int)
}

// DropTable deletes a table so later calls see ResourceNotFoundException.
func (s *Server) DropTable(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tables, name)
}

// Items returns every item of a table sorted by primary key.
func (s *Server) Items(name string) []wire.Item {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, ok := s.tables[name]
	if !ok {
		return nil
	}
	ks := make([]string, 0, len(tbl.items))
	for k := range tbl.items {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	out := make([]wire.Item, len(ks))
	for i, k := range ks {
		out[i] = tbl.items[k]
	}
	return out
}

// Put stores an item directly, bypassing the protocol.
func (s *Server) Put(name string, item wire.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tbl, aerr := s.table(name)
	if aerr != nil {
		return aerr
	}
	k, aerr := tbl.key(item)
	if aerr != nil {
		return aerr
	}
	tbl.items[k] = item
	return nil
}

// apiError is a backend error response.
type apiError struct {
	name string
	msg  string
}

func (e *apiError) Error() string { return e.name + ": " + e.msg }

func validation(format string, args ...any) *apiError {
	return &apiError{name: client.ErrNameValidation, msg: fmt.Sprintf(format, args...)}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	op := strings.TrimPrefix(r.Header.Get("X-Amz-Target"), client.APIVersion+".")
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[op]++

	if q := s.failures[op]; len(q) > 0 {
		s.failures[op] = q[1:]
		writeError(w, &apiError{name: q[0], msg: "injected failure"})
		return
	}

	var (
		out  any
		aerr *apiError
	)
	switch op {
	case client.OpGetItem:
		out, aerr = s.getItem(body)
	case client.OpPutItem:
		out, aerr = s.putItem(body)
	case client.OpDeleteItem:
		out, aerr = s.deleteItem(body)
	case client.OpBatchGetItem:
		out, aerr = s.batchGetItem(body)
	case client.OpBatchWriteItem:
		out, aerr = s.batchWriteItem(body)
	case client.OpQuery:
		out, aerr = s.query(body)
	default:
		aerr = &apiError{name: "UnknownOperationException", msg: op}
	}
	if aerr != nil {
		writeError(w, aerr)
		return
	}

	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	json.NewEncoder(w).Encode(out)
}

func writeError(w http.ResponseWriter, e *apiError) {
	status := http.StatusBadRequest
	if e.name == client.ErrNameInternalServerError {
		status = http.StatusInternalServerError
	}
	w.Header().Set("Content-Type", "application/x-amz-json-1.0")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{
		"__type":  "com.amazonaws.dynamodb.v20120810#" + e.name,
		"message": e.msg,
	})
}

func decode(body []byte, v any) *apiError {
	if err := json.Unmarshal(body, v); err != nil {
		return &apiError{name: "SerializationException", msg: err.Error()}
	}
	return nil
}

func (s *Server) table(name string) (*table, *apiError) {
	tbl, ok := s.tables[name]
	if !ok {
		return nil, &apiError{
			name: client.ErrNameResourceNotFound,
			msg:  "Requested resource not found: Table: " + name + " not found",
		}
	}
	return tbl, nil
}

func keyPart(v wire.Value) (string, bool) {
	if s, ok := v.AsString(); ok && s != "" {
		return s, true
	}
	if n, ok := v.AsNumber(); ok {
		return n, true
	}
	return "", false
}

// key returns the storage key of an item or key map.
func (t *table) key(it wire.Item) (string, *apiError) {
	h, ok := keyPart(it[t.def.Hash])
	if !ok {
		return "", validation("One or more parameter values were invalid: Missing the key %s in the item", t.def.Hash)
	}
	if t.def.Range == "" {
		return h, nil
	}
	rg, ok := keyPart(it[t.def.Range])
	if !ok {
		return "", validation("One or more parameter values were invalid: Missing the key %s in the item", t.def.Range)
	}
	return h + "\x01" + rg, nil
}

// exactKey checks that k holds exactly the key schema attributes.
func (t *table) exactKey(k wire.Item) (string, *apiError) {
	want := 1
	if t.def.Range != "" {
		want = 2
	}
	if len(k) != want {
		return "", validation("The provided key element does not match the schema")
	}
	return t.key(k)
}

func (t *table) primaryKey(it wire.Item) wire.Item {
	out := wire.Item{t.def.Hash: it[t.def.Hash]}
	if t.def.Range != "" {
		out[t.def.Range] = it[t.def.Range]
	}
	return out
}

func consumed(ret, table string, units int) *client.ConsumedCapacity {
	if ret == "" {
		return nil
	}
	return &client.ConsumedCapacity{TableName: table, CapacityUnits: float64(max(units, 1))}
}

func (s *Server) getItem(body []byte) (any, *apiError) {
	var in client.GetItemInput
	if aerr := decode(body, &in); aerr != nil {
		return nil, aerr
	}
	tbl, aerr := s.table(in.TableName)
	if aerr != nil {
		return nil, aerr
	}
	k, aerr := tbl.exactKey(in.Key)
	if aerr != nil {
		return nil, aerr
	}
	return &client.GetItemOutput{
		Item:             tbl.items[k],
		ConsumedCapacity: consumed(in.ReturnConsumedCapacity, in.TableName, 1),
	}, nil
}

func (s *Server) putItem(body []byte) (any, *apiError) {
	var in client.PutItemInput
	if aerr := decode(body, &in); aerr != nil {
		return nil, aerr
	}
	tbl, aerr := s.table(in.TableName)
	if aerr != nil {
		return nil, aerr
	}
	k, aerr := tbl.key(in.Item)
	if aerr != nil {
		return nil, aerr
	}
	if in.ConditionExpression != "" {
		ok, aerr := evalCondition(in.ConditionExpression, in.ExpressionAttributeNames, tbl.items[k])
		if aerr != nil {
			return nil, aerr
		}
		if !ok {
			return nil, &apiError{name: client.ErrNameConditionalCheck, msg: "The conditional request failed"}
		}
	}
	tbl.items[k] = in.Item
	return &client.PutItemOutput{ConsumedCapacity: consumed(in.ReturnConsumedCapacity, in.TableName, 1)}, nil
}

// evalCondition supports attribute_exists(x) and attribute_not_exists(x).
func evalCondition(expr string, names map[string]string, existing wire.Item) (bool, *apiError) {
	fn, arg, ok := strings.Cut(strings.TrimSpace(expr), "(")
	if !ok || !strings.HasSuffix(arg, ")") {
		return false, validation("Invalid ConditionExpression: %s", expr)
	}
	attr := resolveName(strings.TrimSuffix(arg, ")"), names)
	_, exists := existing[attr]
	switch fn {
	case "attribute_exists":
		return exists, nil
	case "attribute_not_exists":
		return !exists, nil
	}
	return false, validation("Invalid ConditionExpression: unsupported function %s", fn)
}

func (s *Server) deleteItem(body []byte) (any, *apiError) {
	var in client.DeleteItemInput
	if aerr := decode(body, &in); aerr != nil {
		return nil, aerr
	}
	tbl, aerr := s.table(in.TableName)
	if aerr != nil {
		return nil, aerr
	}
	k, aerr := tbl.exactKey(in.Key)
	if aerr != nil {
		return nil, aerr
	}
	delete(tbl.items, k)
	return &client.DeleteItemOutput{ConsumedCapacity: consumed(in.ReturnConsumedCapacity, in.TableName, 1)}, nil
}

// popUnprocessed returns how many items of this call to leave unprocessed.
func (s *Server) popUnprocessed(op string, total int) int {
	q := s.unprocessed[op]
	if len(q) == 0 {
		return 0
	}
	s.unprocessed[op] = q[1:]
	return min(q[0], total)
}

func (s *Server) batchGetItem(body []byte) (any, *apiError) {
	var in client.BatchGetItemInput
	if aerr := decode(body, &in); aerr != nil {
		return nil, aerr
	}

	total := 0
	for _, ka := range in.RequestItems {
		total += len(ka.Keys)
	}
	s.sizes[client.OpBatchGetItem] = append(s.sizes[client.OpBatchGetItem], total)
	if total == 0 {
		return nil, validation("The requestItems parameter is required for BatchGetItem")
	}
	if total > client.MaxBatchGetItems {
		return nil, validation("Too many items requested for the BatchGetItem call")
	}

	out := &client.BatchGetItemOutput{
		Responses:       make(map[string][]wire.Item),
		UnprocessedKeys: make(map[string]client.KeysAndAttributes),
	}
	skip := s.popUnprocessed(client.OpBatchGetItem, total)

	for _, name := range sortedTables(in.RequestItems) {
		tbl, aerr := s.table(name)
		if aerr != nil {
			return nil, aerr
		}
		ks := in.RequestItems[name].Keys
		seen := make(map[string]bool, len(ks))
		for _, k := range ks {
			sk, aerr := tbl.exactKey(k)
			if aerr != nil {
				return nil, aerr
			}
			if seen[sk] {
				return nil, validation("Provided list of item keys contains duplicates")
			}
			seen[sk] = true
		}

		n := min(skip, len(ks))
		skip -= n
		process, rest := ks[:len(ks)-n], ks[len(ks)-n:]
		if len(rest) > 0 {
			out.UnprocessedKeys[name] = client.KeysAndAttributes{Keys: rest}
		}

		var found []wire.Item
		for _, k := range process {
			sk, _ := tbl.exactKey(k)
			if it, ok := tbl.items[sk]; ok {
				found = append(found, it)
			}
		}
		// the backend makes no ordering promise; reverse to keep callers honest
		for i, j := 0, len(found)-1; i < j; i, j = i+1, j-1 {
			found[i], found[j] = found[j], found[i]
		}
		out.Responses[name] = found
		if cc := consumed(in.ReturnConsumedCapacity, name, len(process)); cc != nil {
			out.ConsumedCapacity = append(out.ConsumedCapacity, *cc)
		}
	}
	return out, nil
}

func (s *Server) batchWriteItem(body []byte) (any, *apiError) {
	var in client.BatchWriteItemInput
	if aerr := decode(body, &in); aerr != nil {
		return nil, aerr
	}

	total := 0
	for _, reqs := range in.RequestItems {
		total += len(reqs)
	}
	s.sizes[client.OpBatchWriteItem] = append(s.sizes[client.OpBatchWriteItem], total)
	if total == 0 {
		return nil, validation("The requestItems parameter is required for BatchWriteItem")
	}
	if total > client.MaxBatchWriteItems {
		return nil, validation("Too many items requested for the BatchWriteItem call")
	}

	out := &client.BatchWriteItemOutput{UnprocessedItems: make(map[string][]client.WriteRequest)}
	skip := s.popUnprocessed(client.OpBatchWriteItem, total)

	for _, name := range sortedTables(in.RequestItems) {
		tbl, aerr := s.table(name)
		if aerr != nil {
			return nil, aerr
		}
		reqs := in.RequestItems[name]
		seen := make(map[string]bool, len(reqs))
		ks := make([]string, len(reqs))
		for i, req := range reqs {
			var (
				k    string
				aerr *apiError
			)
			switch {
			case req.PutRequest != nil:
				k, aerr = tbl.key(req.PutRequest.Item)
			case req.DeleteRequest != nil:
				k, aerr = tbl.exactKey(req.DeleteRequest.Key)
			default:
				aerr = validation("WriteRequest must contain a PutRequest or DeleteRequest")
			}
			if aerr != nil {
				return nil, aerr
			}
			if seen[k] {
				return nil, validation("Provided list of item keys contains duplicates")
			}
			seen[k] = true
			ks[i] = k
		}

		n := min(skip, len(reqs))
		skip -= n
		if n > 0 {
			out.UnprocessedItems[name] = reqs[len(reqs)-n:]
		}
		for i, req := range reqs[:len(reqs)-n] {
			if req.PutRequest != nil {
				tbl.items[ks[i]] = req.PutRequest.Item
			} else {
				delete(tbl.items, ks[i])
			}
		}
		if cc := consumed(in.ReturnConsumedCapacity, name, len(reqs)-n); cc != nil {
			out.ConsumedCapacity = append(out.ConsumedCapacity, *cc)
		}
	}
	return out, nil
}

func sortedTables[V any](m map[string]V) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
