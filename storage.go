package strata

import "context"

// Row is the storage representation of one record: locked values under the
// field names plus auxiliary metadata keys (<field>__iv, <field>__tag,
// <field>__salt) that outside consumers must treat as opaque.
type Row map[string]any

// IndexSpec describes the key layout of a record type for the storage
// collaborator. The registry only records the grouping; building the index
// is the storage engine's concern.
type IndexSpec struct {
	// Primary is the primary key field, empty when the storage engine
	// generates keys.
	Primary string

	// Indexed lists single-field indexes.
	Indexed []string

	// Groups maps a compound index name to its member fields in
	// declaration order.
	Groups map[string][]string
}

// Fixture is a deferred default-data producer for a record type, invoked at
// most once per table lifetime. The rows it yields are plain (untransformed);
// they run through the full pipeline before insertion. A fixture may block
// or compute lazily; it suspends via ctx, never inside the pipeline.
type Fixture func(ctx context.Context) ([]Row, error)

// Storage is the external persistence collaborator. The pipeline never
// bypasses it; it only shapes the rows passed to and received from it.
// Implementations live in the memstore and postgres subpackages.
type Storage interface {
	// CreateTable prepares the table and its indexes. Idempotent.
	CreateTable(ctx context.Context, table string, spec IndexSpec) error

	// Get returns the row stored under key, reporting absence explicitly.
	Get(ctx context.Context, table, key string) (Row, bool, error)

	// GetBy returns all rows whose field equals value.
	GetBy(ctx context.Context, table, field string, value any) ([]Row, error)

	// Filter returns all rows matching the predicate.
	Filter(ctx context.Context, table string, pred func(Row) bool) ([]Row, error)

	// Insert stores rows and returns their keys in order.
	Insert(ctx context.Context, table string, rows []Row) ([]string, error)

	// Update merges partial into the row stored under key.
	// Returns ErrNotFound when the key is absent.
	Update(ctx context.Context, table, key string, partial Row) error

	// Delete removes the row stored under key. Deleting an absent key is
	// not an error.
	Delete(ctx context.Context, table, key string) error
}
