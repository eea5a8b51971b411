package store

import (
	"github.com/jacentio/lattice/client"
	"github.com/jacentio/lattice/wire"
)

// keyCondition builds a Query key condition with placeholder names and values.
type keyCondition struct {
	expr   string
	names  map[string]string
	values wire.Item
}

// hashEquals matches every item whose hash key attr equals v.
func hashEquals(attr, v string) keyCondition {
	return keyCondition{
		expr:   "#h = :h",
		names:  map[string]string{"#h": attr},
		values: wire.Item{":h": wire.String(v)},
	}
}

// beginsWith narrows the condition to range keys starting with prefix.
// An empty prefix matches everything and leaves the condition unchanged.
func (k keyCondition) beginsWith(attr, prefix string) keyCondition {
	if prefix == "" {
		return k
	}
	out := keyCondition{
		expr:   k.expr + " AND begins_with(#r, :r)",
		names:  mergeExprNames(k.names, map[string]string{"#r": attr}),
		values: mergeExprValues(k.values, wire.Item{":r": wire.String(prefix)}),
	}
	return out
}

// query returns a QueryInput for table (and optional index) using the condition.
func (k keyCondition) query(table, index string, limit int, start Cursor) *client.QueryInput {
	return &client.QueryInput{
		TableName:                 table,
		IndexName:                 index,
		KeyConditionExpression:    k.expr,
		ExpressionAttributeNames:  k.names,
		ExpressionAttributeValues: k.values,
		ExclusiveStartKey:         wire.Item(start),
		Limit:                     limit,
		ReturnConsumedCapacity:    client.ReturnConsumedCapacityTotal,
	}
}

// mergeExprNames merges multiple expression attribute name maps.
func mergeExprNames(maps ...map[string]string) map[string]string {
	result := make(map[string]string)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}

// mergeExprValues merges multiple expression attribute value maps.
func mergeExprValues(maps ...wire.Item) wire.Item {
	result := make(wire.Item)
	for _, m := range maps {
		for k, v := range m {
			result[k] = v
		}
	}
	return result
}
