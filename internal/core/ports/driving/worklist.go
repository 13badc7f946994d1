package driving

import (
	"context"
	"net/url"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
)

// WorklistOptions tunes a reconciliation pass.
type WorklistOptions struct {
	// Delta is the half-width of the search window around ReferenceTime, e.g. "-1d".
	Delta string

	// Index names the search or log index to query.
	Index string

	// Description is a series-description glob for log index passes.
	Description string

	// Params are extra search-index parameters (exam_type, modality...).
	Params url.Values

	// Retrieve asks a proxy pass to pull each match locally.
	Retrieve bool

	// Query overrides proxy query template values.
	Query map[string]string
}

// WorklistService reconciles CSV worklists against stores.
type WorklistService interface {
	// Update enriches every record from source, choosing the pass by the
	// store's kind. Per-record failures are reported and never abort the pass.
	Update(ctx context.Context, wl *domain.Worklist, source driven.Store, opts WorklistOptions) (*domain.Report, error)

	// Copy copies every record carrying an OID from src to dest.
	Copy(ctx context.Context, wl *domain.Worklist, src, dest driven.Store) (*domain.Report, error)
}
