package transfer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
)

// kindStore is a Store stub that only reports its kind.
type kindStore struct {
	driven.Store
	kind domain.StoreKind
}

func (s kindStore) Kind() domain.StoreKind { return s.kind }

func TestMatrix_DispatchesRegisteredPair(t *testing.T) {
	m := NewMatrix()
	var called bool
	m.Register(domain.KindFile, domain.KindArchive,
		func(_ context.Context, _ driven.Store, d *domain.Dixel, _ driven.Store) (domain.Result, error) {
			called = true
			return domain.Succeeded("copy", d.ID, 200), nil
		})

	res, err := m.Copy(context.Background(),
		kindStore{kind: domain.KindFile}, domain.NewDixel("x", domain.LevelInstance), kindStore{kind: domain.KindArchive})

	require.NoError(t, err)
	assert.True(t, called)
	assert.True(t, res.OK)
}

func TestMatrix_UnregisteredPair(t *testing.T) {
	m := NewMatrix()
	m.Register(domain.KindFile, domain.KindArchive,
		func(context.Context, driven.Store, *domain.Dixel, driven.Store) (domain.Result, error) {
			return domain.Result{OK: true}, nil
		})

	// Every pair other than file->archive must be rejected.
	for _, from := range domain.AllStoreKinds() {
		for _, to := range domain.AllStoreKinds() {
			if from == domain.KindFile && to == domain.KindArchive {
				continue
			}
			_, err := m.Copy(context.Background(),
				kindStore{kind: from}, domain.NewDixel("x", domain.LevelInstance), kindStore{kind: to})
			assert.ErrorIs(t, err, domain.ErrUnsupportedTransfer, "%s -> %s", from, to)
		}
	}
}

func TestMatrix_NilMatrix(t *testing.T) {
	var m *Matrix

	_, err := m.Copy(context.Background(),
		kindStore{kind: domain.KindFile}, domain.NewDixel("x", domain.LevelInstance), kindStore{kind: domain.KindArchive})

	assert.ErrorIs(t, err, domain.ErrUnsupportedTransfer)
}

func TestMatrix_Pairs(t *testing.T) {
	m := NewMatrix()
	noop := func(context.Context, driven.Store, *domain.Dixel, driven.Store) (domain.Result, error) {
		return domain.Result{}, nil
	}
	m.Register(domain.KindArchive, domain.KindLogIndex, noop)
	m.Register(domain.KindArchive, domain.KindArchive, noop)
	m.Register(domain.KindFile, domain.KindArchive, nil)

	assert.Equal(t, []Pair{
		{From: domain.KindArchive, To: domain.KindLogIndex},
		{From: domain.KindArchive, To: domain.KindArchive},
	}, m.Pairs())
}
