package transfer

import (
	"context"
	"fmt"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
)

// GetThenPut materialises d from src (payload included) and puts it into dst.
func GetThenPut(ctx context.Context, src driven.Store, d *domain.Dixel, dst driven.Store) (domain.Result, error) {
	got, err := src.Get(ctx, d, driven.GetOptions{})
	if err != nil {
		return domain.Failed("copy", d.ID, 0, err.Error()), fmt.Errorf("get %s from %s: %w", d, src.Kind(), err)
	}
	if got == nil {
		got = d
	}
	return dst.Put(ctx, got)
}

// UpdateThenPut refreshes d's tags from src before putting it into dst.
// Used for destinations that index metadata rather than payloads.
func UpdateThenPut(ctx context.Context, src driven.Store, d *domain.Dixel, dst driven.Store) (domain.Result, error) {
	updated, err := src.Update(ctx, d)
	if err != nil {
		return domain.Failed("copy", d.ID, 0, err.Error()), fmt.Errorf("update %s from %s: %w", d, src.Kind(), err)
	}
	if updated == nil {
		updated = d
	}
	return dst.Put(ctx, updated)
}
