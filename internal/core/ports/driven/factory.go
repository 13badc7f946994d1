package driven

import "github.com/custodia-labs/dixelkit/internal/core/domain"

// StoreFactory creates stores from service configuration.
type StoreFactory interface {
	// Create returns the store described by cfg.
	// Returns ErrInvalidInput if cfg is incomplete or its type is unknown.
	Create(cfg domain.ServiceConfig) (Store, error)

	// SupportedKinds returns all registered store kinds.
	SupportedKinds() []domain.StoreKind
}
