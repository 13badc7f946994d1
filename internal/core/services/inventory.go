package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driving"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

// Ensure InventoryService implements the interface.
var _ driving.InventoryService = (*InventoryService)(nil)

// InventoryService runs store-agnostic batch operations.
type InventoryService struct {
	log *logger.Logger
}

// NewInventoryService creates a new inventory service.
func NewInventoryService(log *logger.Logger) *InventoryService {
	if log == nil {
		log = logger.Discard()
	}
	return &InventoryService{log: log}
}

// UpdateWorklist refreshes every dixel through store.Update, in id order.
// Dixels the store has nothing to report on are skipped. A cancelled context
// fails the remaining items.
func (s *InventoryService) UpdateWorklist(ctx context.Context, store driven.Store, dixels domain.Set) (domain.Set, *domain.Report) {
	report := domain.NewReport("update")
	out := domain.NewSet()

	for _, d := range dixels.Sorted() {
		if err := ctx.Err(); err != nil {
			report.Fail(d.ID, err)
			continue
		}
		u, err := store.Update(ctx, d)
		switch {
		case err != nil:
			s.log.Warn("Update %s failed: %v", d.ID, err)
			report.Fail(d.ID, err)
		case u == nil:
			report.Skip()
		default:
			out.Add(u)
			report.Success()
		}
	}

	s.log.Info("%s", report.Summary())
	return out, report
}

// CopyInventory copies src's whole inventory into dest.
func (s *InventoryService) CopyInventory(ctx context.Context, src, dest driven.Store, lazy bool) (*domain.Report, error) {
	inv, err := src.Inventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("source inventory: %w", err)
	}
	return s.CopyWorklist(ctx, src, dest, inv, lazy)
}

// CopyWorklist copies dixels from src to dest one at a time, in id order.
// When lazy, only dixels absent from dest's inventory are copied and the rest
// count as skipped. Per-item failures are recorded and the batch continues;
// a missing copy policy or a cancelled context stops it.
func (s *InventoryService) CopyWorklist(ctx context.Context, src, dest driven.Store, dixels domain.Set, lazy bool) (*domain.Report, error) {
	report := domain.NewReport("copy")
	todo := dixels

	if lazy {
		have, err := dest.Inventory(ctx)
		if err != nil {
			return report, fmt.Errorf("destination inventory: %w", err)
		}
		s.log.Debug("All:  %d dixels", dixels.Len())
		todo = dixels.Difference(have)
		s.log.Debug("Lazy: %d dixels", todo.Len())
		for i := todo.Len(); i < dixels.Len(); i++ {
			report.Skip()
		}
	}

	for _, d := range todo.Sorted() {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		res, err := src.Copy(ctx, d, dest)
		if errors.Is(err, domain.ErrUnsupportedTransfer) {
			return report, err
		}
		if res.ID == "" {
			res.ID = d.ID
		}
		if err != nil {
			s.log.Warn("Copy %s failed: %v", d.ID, err)
		}
		report.Record(res, err)
	}

	s.log.Info("%s", report.Summary())
	return report, nil
}

// ViewInventory returns the store's inventory sorted by id.
func (s *InventoryService) ViewInventory(ctx context.Context, store driven.Store) ([]*domain.Dixel, error) {
	inv, err := store.Inventory(ctx)
	if err != nil {
		return nil, fmt.Errorf("inventory: %w", err)
	}
	return inv.Sorted(), nil
}
