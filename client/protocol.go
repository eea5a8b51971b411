package client

import "github.com/jacentio/lattice/wire"

// Operation names sent in the X-Amz-Target header.
const (
	OpGetItem        = "GetItem"
	OpPutItem        = "PutItem"
	OpDeleteItem     = "DeleteItem"
	OpBatchGetItem   = "BatchGetItem"
	OpBatchWriteItem = "BatchWriteItem"
	OpQuery          = "Query"
)

// Backend per-call item limits.
const (
	MaxBatchWriteItems = 25
	MaxBatchGetItems   = 100
)

// ReturnConsumedCapacityTotal asks the backend to report consumed capacity.
const ReturnConsumedCapacityTotal = "TOTAL"

// ConsumedCapacity is the capacity a call consumed on one table.
type ConsumedCapacity struct {
	TableName     string  `json:"TableName,omitempty"`
	CapacityUnits float64 `json:"CapacityUnits,omitempty"`
}

type GetItemInput struct {
	TableName              string
	Key                    wire.Item
	ConsistentRead         bool   `json:",omitempty"`
	ReturnConsumedCapacity string `json:",omitempty"`
}

type GetItemOutput struct {
	Item             wire.Item         `json:",omitempty"`
	ConsumedCapacity *ConsumedCapacity `json:",omitempty"`
}

type PutItemInput struct {
	TableName                string
	Item                     wire.Item
	ConditionExpression      string            `json:",omitempty"`
	ExpressionAttributeNames map[string]string `json:",omitempty"`
	ReturnConsumedCapacity   string            `json:",omitempty"`
}

type PutItemOutput struct {
	ConsumedCapacity *ConsumedCapacity `json:",omitempty"`
}

type DeleteItemInput struct {
	TableName              string
	Key                    wire.Item
	ReturnConsumedCapacity string `json:",omitempty"`
}

type DeleteItemOutput struct {
	ConsumedCapacity *ConsumedCapacity `json:",omitempty"`
}

// KeysAndAttributes is the per-table part of a BatchGetItem request.
type KeysAndAttributes struct {
	Keys           []wire.Item
	ConsistentRead bool `json:",omitempty"`
}

type BatchGetItemInput struct {
	RequestItems           map[string]KeysAndAttributes
	ReturnConsumedCapacity string `json:",omitempty"`
}

type BatchGetItemOutput struct {
	Responses        map[string][]wire.Item       `json:",omitempty"`
	UnprocessedKeys  map[string]KeysAndAttributes `json:",omitempty"`
	ConsumedCapacity []ConsumedCapacity           `json:",omitempty"`
}

type PutRequest struct {
	Item wire.Item
}

type DeleteRequest struct {
	Key wire.Item
}

// WriteRequest holds exactly one of PutRequest or DeleteRequest.
type WriteRequest struct {
	PutRequest    *PutRequest    `json:",omitempty"`
	DeleteRequest *DeleteRequest `json:",omitempty"`
}

type BatchWriteItemInput struct {
	RequestItems           map[string][]WriteRequest
	ReturnConsumedCapacity string `json:",omitempty"`
}

type BatchWriteItemOutput struct {
	UnprocessedItems map[string][]WriteRequest `json:",omitempty"`
	ConsumedCapacity []ConsumedCapacity        `json:",omitempty"`
}

type QueryInput struct {
	TableName                 string
	IndexName                 string `json:",omitempty"`
	KeyConditionExpression    string
	ExpressionAttributeNames  map[string]string `json:",omitempty"`
	ExpressionAttributeValues wire.Item         `json:",omitempty"`
	ExclusiveStartKey         wire.Item         `json:",omitempty"`
	Limit                     int               `json:",omitempty"`
	ScanIndexForward          *bool             `json:",omitempty"`
	ReturnConsumedCapacity    string            `json:",omitempty"`
}

type QueryOutput struct {
	Items            []wire.Item
	Count            int               `json:",omitempty"`
	LastEvaluatedKey wire.Item         `json:",omitempty"`
	ConsumedCapacity *ConsumedCapacity `json:",omitempty"`
}
