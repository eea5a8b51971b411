package txn

import "errors"

var (
	// ErrTransactionFailed is returned by Commit when any operation, including
	// background maintenance, recorded an error.
	ErrTransactionFailed = errors.New("lattice: transaction recorded errors")

	// ErrTransactionClosed is returned by operations on a committed or rolled
	// back transaction.
	ErrTransactionClosed = errors.New("lattice: transaction is closed")
)
