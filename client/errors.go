package client

import (
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
)

// Backend error type names as reported in the "__type" field.
const (
	ErrNameThroughputExceeded  = "ProvisionedThroughputExceededException"
	ErrNameThrottling          = "ThrottlingException"
	ErrNameRequestLimit        = "RequestLimitExceeded"
	ErrNameResourceNotFound    = "ResourceNotFoundException"
	ErrNameValidation          = "ValidationException"
	ErrNameConditionalCheck    = "ConditionalCheckFailedException"
	ErrNameInternalServerError = "InternalServerError"
)

var (
	// ErrOperationTimeout is returned when the cumulative retry budget is exhausted.
	ErrOperationTimeout = errors.New("client: operation timed out")

	// ErrNoCredentials is returned by New when no signing credentials are configured.
	ErrNoCredentials = errors.New("client: no credentials configured")

	// ErrNoRegion is returned by New when no signing region is configured.
	ErrNoRegion = errors.New("client: no region configured")
)

// BackendError is a non-200 response from the backend. Name and Code carry
// the same value: the error type extracted from the response body.
type BackendError struct {
	Name       string
	Code       string
	Message    string
	StatusCode int
}

func (e *BackendError) Error() string {
	if e.Message == "" {
		return e.Name
	}
	return e.Name + ": " + e.Message
}

// Unwrap exposes the matching aws-sdk-go-v2 exception, when one is modeled,
// so callers can use errors.As with the SDK types.
func (e *BackendError) Unwrap() error {
	msg := aws.String(e.Message)
	switch e.Name {
	case ErrNameThroughputExceeded:
		return &types.ProvisionedThroughputExceededException{Message: msg}
	case ErrNameRequestLimit:
		return &types.RequestLimitExceeded{Message: msg}
	case ErrNameResourceNotFound:
		return &types.ResourceNotFoundException{Message: msg}
	case ErrNameConditionalCheck:
		return &types.ConditionalCheckFailedException{Message: msg}
	case ErrNameInternalServerError:
		return &types.InternalServerError{Message: msg}
	}
	return nil
}

// ConnectionError is a transport-level failure: refused connection, timeout
// or a response that could not be parsed.
type ConnectionError struct {
	Op  string
	Err error
}

func (e *ConnectionError) Error() string {
	return fmt.Sprintf("client: %s: connection error: %v", e.Op, e.Err)
}

func (e *ConnectionError) Unwrap() error { return e.Err }

// IsThroughputRejected reports whether err is a backend rate-limit rejection.
// This is the only class of error the Retrier retries.
func IsThroughputRejected(err error) bool {
	var be *BackendError
	if !errors.As(err, &be) {
		return false
	}
	switch be.Name {
	case ErrNameThroughputExceeded, ErrNameThrottling, ErrNameRequestLimit:
		return true
	}
	return false
}

// IsResourceNotFound reports whether err names a missing table or index.
func IsResourceNotFound(err error) bool {
	return hasName(err, ErrNameResourceNotFound)
}

// IsValidation reports whether err is a malformed-request rejection.
func IsValidation(err error) bool {
	return hasName(err, ErrNameValidation)
}

// IsConditionalCheckFailed reports whether a conditional write was rejected.
func IsConditionalCheckFailed(err error) bool {
	return hasName(err, ErrNameConditionalCheck)
}

// IsConnection reports whether err is a transport failure.
func IsConnection(err error) bool {
	var ce *ConnectionError
	return errors.As(err, &ce)
}

func hasName(err error, name string) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Name == name
}
