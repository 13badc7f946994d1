package driving

import (
	"context"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
)

// InventoryService runs the cross-store operations built only on the Store
// capability set.
type InventoryService interface {
	// UpdateWorklist refreshes each dixel through store.Update. Items that
	// fail are recorded in the report and the batch continues.
	UpdateWorklist(ctx context.Context, store driven.Store, dixels domain.Set) (domain.Set, *domain.Report)

	// CopyInventory copies src's whole inventory into dest.
	CopyInventory(ctx context.Context, src, dest driven.Store, lazy bool) (*domain.Report, error)

	// CopyWorklist copies dixels from src into dest. When lazy, dixels already
	// in dest's inventory are skipped.
	CopyWorklist(ctx context.Context, src, dest driven.Store, dixels domain.Set, lazy bool) (*domain.Report, error)

	// ViewInventory returns the store's inventory sorted by id.
	ViewInventory(ctx context.Context, store driven.Store) ([]*domain.Dixel, error)
}
