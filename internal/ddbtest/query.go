package ddbtest

import (
	"sort"
	"strings"

	"github.com/jacentio/lattice/client"
	"github.com/jacentio/lattice/wire"
)

// keyCondition is a parsed "h = :v [AND begins_with(r, :p)]" expression.
type keyCondition struct {
	hashAttr  string
	hashValue string
	rangeAttr string
	prefix    string
}

func resolveName(n string, names map[string]string) string {
	n = strings.TrimSpace(n)
	if strings.HasPrefix(n, "#") {
		return names[n]
	}
	return n
}

func resolveValue(v string, values wire.Item) (string, bool) {
	val, ok := values[strings.TrimSpace(v)]
	if !ok {
		return "", false
	}
	return keyPart(val)
}

func parseKeyCondition(in *client.QueryInput) (keyCondition, *apiError) {
	var kc keyCondition
	parts := strings.Split(in.KeyConditionExpression, " AND ")
	if len(parts) > 2 {
		return kc, validation("Invalid KeyConditionExpression: too many conditions")
	}

	lhs, rhs, ok := strings.Cut(parts[0], "=")
	if !ok {
		return kc, validation("Invalid KeyConditionExpression: expected equality on the hash key")
	}
	kc.hashAttr = resolveName(lhs, in.ExpressionAttributeNames)
	if kc.hashValue, ok = resolveValue(rhs, in.ExpressionAttributeValues); !ok {
		return kc, validation("Invalid KeyConditionExpression: missing value for %s", strings.TrimSpace(rhs))
	}

	if len(parts) == 2 {
		cond := strings.TrimSpace(parts[1])
		if !strings.HasPrefix(cond, "begins_with(") || !strings.HasSuffix(cond, ")") {
			return kc, validation("Invalid KeyConditionExpression: unsupported range condition %s", cond)
		}
		args := strings.Split(strings.TrimSuffix(strings.TrimPrefix(cond, "begins_with("), ")"), ",")
		if len(args) != 2 {
			return kc, validation("Invalid KeyConditionExpression: begins_with takes two arguments")
		}
		kc.rangeAttr = resolveName(args[0], in.ExpressionAttributeNames)
		if kc.prefix, ok = resolveValue(args[1], in.ExpressionAttributeValues); !ok {
			return kc, validation("Invalid KeyConditionExpression: missing value for %s", strings.TrimSpace(args[1]))
		}
	}
	return kc, nil
}

// hit is an item with its sort tuple.
type hit struct {
	item wire.Item
	sort []string
}

func less(a, b []string) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

func (s *Server) query(body []byte) (any, *apiError) {
	var in client.QueryInput
	if aerr := decode(body, &in); aerr != nil {
		return nil, aerr
	}
	tbl, aerr := s.table(in.TableName)
	if aerr != nil {
		return nil, aerr
	}

	hashAttr, rangeAttr := tbl.def.Hash, tbl.def.Range
	if in.IndexName != "" {
		var found bool
		for _, idx := range tbl.def.Indexes {
			if idx.Name == in.IndexName {
				hashAttr, rangeAttr, found = idx.Hash, idx.Range, true
			}
		}
		if !found {
			return nil, &apiError{
				name: client.ErrNameResourceNotFound,
				msg:  "Requested resource not found: Index: " + in.IndexName + " not found",
			}
		}
	}

	kc, aerr := parseKeyCondition(&in)
	if aerr != nil {
		return nil, aerr
	}
	if kc.hashAttr != hashAttr || (kc.rangeAttr != "" && kc.rangeAttr != rangeAttr) {
		return nil, validation("Query condition missed key schema element: %s", hashAttr)
	}

	// sort tuple: index range key, then the table primary key
	tuple := func(it wire.Item) []string {
		r, _ := keyPart(it[rangeAttr])
		h, _ := keyPart(it[tbl.def.Hash])
		tr, _ := keyPart(it[tbl.def.Range])
		return []string{r, h, tr}
	}

	var hits []hit
	for _, it := range tbl.items {
		h, ok := keyPart(it[hashAttr])
		if !ok || h != kc.hashValue {
			continue
		}
		if rangeAttr != "" {
			r, ok := keyPart(it[rangeAttr])
			if !ok || !strings.HasPrefix(r, kc.prefix) {
				continue
			}
		}
		hits = append(hits, hit{item: it, sort: tuple(it)})
	}
	forward := in.ScanIndexForward == nil || *in.ScanIndexForward
	sort.Slice(hits, func(i, j int) bool {
		if forward {
			return less(hits[i].sort, hits[j].sort)
		}
		return less(hits[j].sort, hits[i].sort)
	})

	if len(in.ExclusiveStartKey) > 0 {
		start := tuple(in.ExclusiveStartKey)
		n := 0
		for n < len(hits) {
			if forward && less(start, hits[n].sort) || !forward && less(hits[n].sort, start) {
				break
			}
			n++
		}
		hits = hits[n:]
	}

	out := &client.QueryOutput{Items: []wire.Item{}}
	if in.Limit > 0 && len(hits) >= in.Limit {
		hits = hits[:in.Limit]
		last := hits[len(hits)-1].item
		lek := tbl.primaryKey(last)
		if in.IndexName != "" {
			lek[hashAttr] = last[hashAttr]
			lek[rangeAttr] = last[rangeAttr]
		}
		out.LastEvaluatedKey = lek
	}
	for _, h := range hits {
		out.Items = append(out.Items, h.item)
	}
	out.Count = len(out.Items)
	out.ConsumedCapacity = consumed(in.ReturnConsumedCapacity, in.TableName, len(out.Items))
	return out, nil
}
