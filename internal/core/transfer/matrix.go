// Package transfer holds the copy policy table: one TransferFunc per
// (source kind, destination kind) pair. Pairs that are not registered
// fail with domain.ErrUnsupportedTransfer.
package transfer

import (
	"context"
	"sort"
	"sync"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
)

// Pair is a (source, destination) key.
type Pair struct {
	From domain.StoreKind
	To   domain.StoreKind
}

// Matrix maps kind pairs to copy policies. Safe for concurrent use.
type Matrix struct {
	mu    sync.RWMutex
	funcs map[Pair]driven.TransferFunc
}

// NewMatrix creates an empty matrix.
func NewMatrix() *Matrix {
	return &Matrix{funcs: make(map[Pair]driven.TransferFunc)}
}

// Register installs fn for the pair, replacing any earlier policy.
func (m *Matrix) Register(from, to domain.StoreKind, fn driven.TransferFunc) {
	if fn == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.funcs[Pair{From: from, To: to}] = fn
}

// Lookup returns the policy for a pair.
func (m *Matrix) Lookup(from, to domain.StoreKind) (driven.TransferFunc, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	fn, ok := m.funcs[Pair{From: from, To: to}]
	return fn, ok
}

// Copy dispatches on (src.Kind(), dst.Kind()).
func (m *Matrix) Copy(ctx context.Context, src driven.Store, d *domain.Dixel, dst driven.Store) (domain.Result, error) {
	if m == nil {
		return domain.Result{}, &domain.TransferError{From: src.Kind(), To: dst.Kind()}
	}
	fn, ok := m.Lookup(src.Kind(), dst.Kind())
	if !ok {
		return domain.Failed("copy", d.ID, 0, "no policy"), &domain.TransferError{From: src.Kind(), To: dst.Kind()}
	}
	return fn(ctx, src, d, dst)
}

// Pairs lists the registered pairs, sorted.
func (m *Matrix) Pairs() []Pair {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pairs := make([]Pair, 0, len(m.funcs))
	for p := range m.funcs {
		pairs = append(pairs, p)
	}
	sort.Slice(pairs, func(i, j int) bool {
		if pairs[i].From != pairs[j].From {
			return pairs[i].From < pairs[j].From
		}
		return pairs[i].To < pairs[j].To
	})
	return pairs
}
