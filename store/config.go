package store

import (
	"fmt"
	"log/slog"
	"regexp"

	"github.com/jacentio/lattice/client"
)

const (
	// DefaultTablePrefix is prepended to every table name.
	DefaultTablePrefix = "lattice_"

	// ScopeTypeIndex is the objects table GSI used by Scan.
	ScopeTypeIndex = "scope_type-index"

	// SubjectIndex is the index table GSI listing the entries of one record.
	SubjectIndex = "subject-index"

	defaultScanLimit    = 10
	defaultMaxResubmits = 10
)

var tablePrefixPattern = regexp.MustCompile(`^[a-z_]+$`)

// Config holds configuration for the Store.
type Config struct {
	// TablePrefix is prepended to the objects and indexes table names.
	// Must match ^[a-z_]+$.
	// Default: "lattice_"
	TablePrefix string

	// BatchLimit is the number of items per BatchWriteItem call.
	// Default and max: 25
	BatchLimit int

	// GetBatchLimit is the number of keys per BatchGetItem call.
	// Default and max: 100
	GetBatchLimit int

	// BatchConcurrency is how many chunks of one batch may be in flight at
	// once. Chunks are sent one after another by default so a single large
	// batch cannot multiply pressure on a throttled table.
	// Default: 1
	BatchConcurrency int

	// ScanLimit is the page size used when Scan or Lookup is called without one.
	// Default: 10
	ScanLimit int

	// MaxResubmits caps how often unprocessed items of one chunk are resent.
	// The backoff budget of the backend still applies.
	// Default: 10
	MaxResubmits int

	// Logger receives batch diagnostics. Default: slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() Config {
	return Config{
		TablePrefix:      DefaultTablePrefix,
		BatchLimit:       client.MaxBatchWriteItems,
		GetBatchLimit:    client.MaxBatchGetItems,
		BatchConcurrency: 1,
		ScanLimit:        defaultScanLimit,
		MaxResubmits:     defaultMaxResubmits,
	}
}

// ValidateTablePrefix reports whether prefix is usable as a table prefix.
func ValidateTablePrefix(prefix string) error {
	if !tablePrefixPattern.MatchString(prefix) {
		return fmt.Errorf("%w: %q must match %s", ErrInvalidTablePrefix, prefix, tablePrefixPattern)
	}
	return nil
}

// validate fills in defaults and clamps values to the backend limits.
func (c *Config) validate() error {
	if c.TablePrefix == "" {
		c.TablePrefix = DefaultTablePrefix
	}
	if err := ValidateTablePrefix(c.TablePrefix); err != nil {
		return err
	}
	if c.BatchLimit < 1 || c.BatchLimit > client.MaxBatchWriteItems {
		c.BatchLimit = client.MaxBatchWriteItems
	}
	if c.GetBatchLimit < 1 || c.GetBatchLimit > client.MaxBatchGetItems {
		c.GetBatchLimit = client.MaxBatchGetItems
	}
	if c.BatchConcurrency < 1 {
		c.BatchConcurrency = 1
	}
	if c.ScanLimit < 1 {
		c.ScanLimit = defaultScanLimit
	}
	if c.MaxResubmits < 1 {
		c.MaxResubmits = defaultMaxResubmits
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return nil
}

// ObjectsTable returns the name of the objects table.
func (c Config) ObjectsTable() string { return c.TablePrefix + "objects" }

// IndexesTable returns the name of the index entry table.
func (c Config) IndexesTable() string { return c.TablePrefix + "indexes" }
