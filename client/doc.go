// Package client performs signed calls against a DynamoDB-compatible JSON
// endpoint.
//
// [Client] sends exactly one request per [Client.Call]: it encodes the
// operation parameters, signs the request with AWS Signature Version 4 and maps
// non-200 responses to a [*BackendError]. Transport failures, including
// timeouts and malformed bodies, surface as [*ConnectionError].
//
// [Retrier] wraps any [Caller] and retries throughput rejections with
// exponential backoff (2^attempt * BackoffMultiplier). When an operation
// budget is configured it fails with [ErrOperationTimeout] before sleeping
// past it. Every other error is returned immediately.
package client
