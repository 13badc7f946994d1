package driven

import (
	"context"
	"net/url"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
)

// GetOptions tunes Store.Get.
type GetOptions struct {
	// Retrieve asks a proxy to pull the resolved entity into its local archive.
	Retrieve bool

	// Query overrides remote query template values.
	Query map[string]string
}

// Store is the capability set every dixel backend implements: a file
// directory, an archive server, a proxy to a remote PACS, a report search
// index or a log index.
type Store interface {
	// Kind identifies the variant; copy policies are keyed by it.
	Kind() domain.StoreKind

	// Put persists a fully materialised dixel.
	// Returns ErrUnsupportedOperation if the dixel's level is not accepted.
	// A backend rejection is reported through Result.OK, not the error.
	Put(ctx context.Context, d *domain.Dixel) (domain.Result, error)

	// Get resolves or enriches a dixel, possibly querying a remote system.
	// It may mutate and return d, or return a new dixel.
	Get(ctx context.Context, d *domain.Dixel, opts GetOptions) (*domain.Dixel, error)

	// Delete removes a dixel by id. Not-found is a failed Result, not an error.
	Delete(ctx context.Context, d *domain.Dixel) (domain.Result, error)

	// Update refreshes tags and meta from the backend without side effects on
	// the backend. A nil dixel with a nil error means there was nothing to report.
	Update(ctx context.Context, d *domain.Dixel) (*domain.Dixel, error)

	// Copy replicates one dixel into dest.
	// Returns ErrUnsupportedTransfer when the kind pair has no policy.
	Copy(ctx context.Context, d *domain.Dixel, dest Store) (domain.Result, error)

	// Inventory returns every dixel the store holds. It is computed once,
	// then served from the cache until InvalidateInventory is called.
	Inventory(ctx context.Context) (domain.Set, error)

	// InvalidateInventory drops the cached inventory.
	InvalidateInventory()
}

// ExistenceChecker is implemented by stores that can cheaply test presence.
type ExistenceChecker interface {
	Exists(ctx context.Context, d *domain.Dixel) (bool, error)
}

// SearchIndex is a store that answers free-text report searches.
type SearchIndex interface {
	Store
	Search(ctx context.Context, index string, params url.Values) ([]domain.ReportHit, error)
}

// SeriesIndex is a store that finds indexed series by patient and time.
type SeriesIndex interface {
	Store
	FindSeries(ctx context.Context, q domain.SeriesQuery) ([]domain.SeriesMatch, error)
}

// TransferFunc copies d from src to dst under one (source, destination) policy.
type TransferFunc func(ctx context.Context, src Store, d *domain.Dixel, dst Store) (domain.Result, error)
