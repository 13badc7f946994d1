package orthanc

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dixelkit/internal/adapters/driven/cache"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/orthanc/orthanctest"
	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/transfer"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

func testMatrix() *transfer.Matrix {
	m := transfer.NewMatrix()
	m.Register(domain.KindArchive, domain.KindArchive, PushToPeer)
	m.Register(domain.KindArchive, domain.KindLogIndex, transfer.UpdateThenPut)
	return m
}

func newTestArchive(t *testing.T, srv *orthanctest.Server, peer string) *Archive {
	t.Helper()
	a, err := NewArchive(Config{URL: srv.URL, PeerName: peer}, testMatrix(), logger.Discard())
	require.NoError(t, err)
	return a
}

func instanceDixel(tags map[string]string) *domain.Dixel {
	d := domain.NewDixel(domain.IDFromTags(tags, domain.LevelInstance), domain.LevelInstance)
	for k, v := range tags {
		d.Tags[k] = v
	}
	d.Data[domain.DataFile] = orthanctest.EncodeInstance(tags)
	return d
}

func TestConfig_BaseURL(t *testing.T) {
	assert.Equal(t, "http://localhost:8042", Config{}.BaseURL())
	assert.Equal(t, "http://pacs:8043", Config{Host: "pacs", Port: 8043}.BaseURL())
	assert.Equal(t, "http://x:1", Config{URL: "http://x:1/", Host: "ignored"}.BaseURL())
}

func TestArchive_PutAndInventory(t *testing.T) {
	srv := orthanctest.NewServer(t)
	a := newTestArchive(t, srv, "")
	ctx := context.Background()

	inv, err := a.Inventory(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Len())

	d := instanceDixel(orthanctest.InstanceTags("80", "1.2", "1.2.3", 1))
	res, err := a.Put(ctx, d)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, http.StatusOK, res.StatusCode)

	inv, err = a.Inventory(ctx)
	require.NoError(t, err)
	assert.True(t, inv.Has(d.ID), "put must invalidate the cached inventory")
	assert.Equal(t, []string{d.ID}, srv.InstanceIDs())
}

func TestArchive_PutRejectsNonInstance(t *testing.T) {
	srv := orthanctest.NewServer(t)
	a := newTestArchive(t, srv, "")

	res, err := a.Put(context.Background(), domain.NewDixel("x", domain.LevelSeries))

	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)
	assert.False(t, res.OK)
}

func TestArchive_PutBackendRejectionIsResult(t *testing.T) {
	srv := orthanctest.NewServer(t)
	a := newTestArchive(t, srv, "")
	d := domain.NewDixel("x", domain.LevelInstance)
	d.Data[domain.DataFile] = []byte("not dicom")

	res, err := a.Put(context.Background(), d)

	require.NoError(t, err)
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusBadRequest, res.StatusCode)
	assert.Error(t, res.Err())
}

func TestArchive_PutWithoutPayload(t *testing.T) {
	srv := orthanctest.NewServer(t)
	a := newTestArchive(t, srv, "")

	_, err := a.Put(context.Background(), domain.NewDixel("x", domain.LevelInstance))

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestArchive_UpdateInstance(t *testing.T) {
	srv := orthanctest.NewServer(t)
	tags := orthanctest.InstanceTags("80", "1.2", "1.2.3", 1)
	id := srv.AddInstance(tags)
	a := newTestArchive(t, srv, "")

	in := domain.NewDixel(id, domain.LevelInstance)
	out, err := a.Update(context.Background(), in)

	require.NoError(t, err)
	assert.NotSame(t, in, out)
	assert.Empty(t, in.Tags, "input must not be mutated")
	assert.Equal(t, "80", out.Tags[domain.TagPatientID])
	assert.Equal(t, "1.2.840.10008.1.2.1", out.Meta[domain.MetaTransferSyntaxUID])
	assert.Equal(t, "Explicit VR Little Endian", out.Meta[domain.MetaTransferSyntax])
	assert.Equal(t, "1.2.840.10008.5.1.4.1.1.2", out.Meta[domain.MetaSOPClassUID])
	assert.Equal(t, "CT Image Storage", out.Meta[domain.MetaSOPClass])
}

func TestArchive_UpdateSeriesUsesSharedTags(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/series/s1/shared-tags", r.URL.Path)
		_, hasSimplify := r.URL.Query()["simplify"]
		assert.True(t, hasSimplify)
		w.Write([]byte(`{"SeriesDescription":"AX","SeriesNumber":3,"Other":null}`))
	}))
	defer srv.Close()

	a, err := NewArchive(Config{URL: srv.URL}, nil, logger.Discard())
	require.NoError(t, err)

	out, err := a.Update(context.Background(), domain.NewDixel("s1", domain.LevelSeries))

	require.NoError(t, err)
	assert.Equal(t, "AX", out.Tags[domain.TagSeriesDescription])
	assert.Equal(t, "3", out.Tags[domain.TagSeriesNumber])
	assert.Equal(t, "", out.Tags["Other"])
}

func TestArchive_UpdateMissing(t *testing.T) {
	srv := orthanctest.NewServer(t)
	a := newTestArchive(t, srv, "")

	_, err := a.Update(context.Background(), domain.NewDixel("nope", domain.LevelStudy))

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestArchive_GetDownloadsInstance(t *testing.T) {
	srv := orthanctest.NewServer(t)
	tags := orthanctest.InstanceTags("80", "1.2", "1.2.3", 1)
	id := srv.AddInstance(tags)
	a := newTestArchive(t, srv, "")

	got, err := a.Get(context.Background(), domain.NewDixel(id, domain.LevelInstance), driven.GetOptions{})

	require.NoError(t, err)
	assert.Equal(t, orthanctest.EncodeInstance(tags), got.Data[domain.DataFile])
}

func TestArchive_ExistsAndDelete(t *testing.T) {
	srv := orthanctest.NewServer(t)
	id := srv.AddInstance(orthanctest.InstanceTags("80", "1.2", "1.2.3", 1))
	a := newTestArchive(t, srv, "")
	ctx := context.Background()
	d := domain.NewDixel(id, domain.LevelInstance)

	ok, err := a.Exists(ctx, d)
	require.NoError(t, err)
	assert.True(t, ok)

	res, err := a.Delete(ctx, d)
	require.NoError(t, err)
	assert.True(t, res.OK)

	ok, err = a.Exists(ctx, d)
	require.NoError(t, err)
	assert.False(t, ok, "404 must read as absent, not an error")

	res, err = a.Delete(ctx, d)
	require.NoError(t, err, "not found is a result, not an error")
	assert.False(t, res.OK)
	assert.Equal(t, http.StatusNotFound, res.StatusCode)
}

func TestArchive_ExistsWithoutID(t *testing.T) {
	a, err := NewArchive(Config{URL: "http://127.0.0.1:1"}, nil, logger.Discard())
	require.NoError(t, err)

	ok, err := a.Exists(context.Background(), domain.NewDixel("", domain.LevelSeries))

	require.NoError(t, err)
	assert.False(t, ok)
}

func TestArchive_Statistics(t *testing.T) {
	srv := orthanctest.NewServer(t)
	srv.AddInstance(orthanctest.InstanceTags("80", "1.2", "1.2.3", 1))
	srv.AddInstance(orthanctest.InstanceTags("80", "1.2", "1.2.3", 2))
	a := newTestArchive(t, srv, "")

	stats, err := a.Statistics(context.Background())

	require.NoError(t, err)
	assert.EqualValues(t, 2, stats["CountInstances"])
	assert.EqualValues(t, 1, stats["CountSeries"])
}

func TestArchive_ConnectionFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	a, err := NewArchive(Config{URL: url}, nil, logger.Discard())
	require.NoError(t, err)

	_, err = a.Inventory(context.Background())
	assert.ErrorIs(t, err, domain.ErrConnectionFailure)

	_, err = a.Exists(context.Background(), domain.NewDixel("x", domain.LevelInstance))
	assert.ErrorIs(t, err, domain.ErrConnectionFailure)
}

func TestArchive_CopyToPeer(t *testing.T) {
	src := orthanctest.NewServer(t)
	dst := orthanctest.NewServer(t)
	src.AddPeer("backup", dst)
	id := src.AddInstance(orthanctest.InstanceTags("80", "1.2", "1.2.3", 1))

	a := newTestArchive(t, src, "primary")
	b := newTestArchive(t, dst, "backup")
	ctx := context.Background()

	inv, err := b.Inventory(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, inv.Len())

	res, err := a.Copy(ctx, domain.NewDixel(id, domain.LevelInstance), b)
	require.NoError(t, err)
	assert.True(t, res.OK)
	assert.Equal(t, []string{id}, src.Pushed("backup"))

	inv, err = b.Inventory(ctx)
	require.NoError(t, err)
	assert.True(t, inv.Has(id), "push must invalidate the destination inventory")
}

func TestArchive_CopyUnsupported(t *testing.T) {
	srv := orthanctest.NewServer(t)
	a := newTestArchive(t, srv, "")
	p, err := NewProxy(ProxyConfig{Config: Config{URL: srv.URL}, RemoteAET: "PACS"}, nil, logger.Discard())
	require.NoError(t, err)

	_, err = a.Copy(context.Background(), domain.NewDixel("x", domain.LevelInstance), p)

	var te *domain.TransferError
	require.ErrorAs(t, err, &te)
	assert.Equal(t, domain.KindArchive, te.From)
	assert.Equal(t, domain.KindProxy, te.To)
}

func TestArchive_CopyToPeerWithoutName(t *testing.T) {
	src := orthanctest.NewServer(t)
	dst := orthanctest.NewServer(t)
	a := newTestArchive(t, src, "")
	b := newTestArchive(t, dst, "")

	_, err := a.Copy(context.Background(), domain.NewDixel("x", domain.LevelInstance), b)

	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestArchive_InventoryPersistedUnderPolicy(t *testing.T) {
	srv := orthanctest.NewServer(t)
	id := srv.AddInstance(orthanctest.InstanceTags("80", "1.2", "1.2.3", 1))
	dir := t.TempDir()

	a, err := NewArchive(Config{
		URL:         srv.URL,
		User:        "orthanc",
		Password:    "orthanc",
		CachePolicy: domain.CacheUse,
		CacheDir:    dir,
	}, nil, logger.Discard())
	require.NoError(t, err)

	inv, err := a.Inventory(context.Background())
	require.NoError(t, err)
	assert.True(t, inv.Has(id))

	path := filepath.Join(dir, cache.FileName("orthanc", "orthanc", srv.URL))
	assert.Equal(t, path, a.Cache().Path())
	_, err = os.Stat(path)
	assert.NoError(t, err)
}

func TestArchive_DeleteClearsPersistedInventory(t *testing.T) {
	srv := orthanctest.NewServer(t)
	srv.AddInstance(orthanctest.InstanceTags("80", "1.2", "1.2.3", 1))
	cfg := Config{URL: srv.URL, CachePolicy: domain.CacheUse, CacheDir: t.TempDir()}
	ctx := context.Background()

	a, err := NewArchive(cfg, nil, logger.Discard())
	require.NoError(t, err)
	inv, err := a.Inventory(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, inv.Len())
	res, err := a.Delete(ctx, inv.Sorted()[0])
	require.NoError(t, err)
	require.True(t, res.OK)

	next, err := NewArchive(cfg, nil, logger.Discard())
	require.NoError(t, err)
	inv, err = next.Inventory(ctx)

	require.NoError(t, err)
	assert.Zero(t, inv.Len(), "a later run must not see the deleted instance")
}

func TestArchive_DeleteInventory(t *testing.T) {
	srv := orthanctest.NewServer(t)
	for i := 1; i <= 3; i++ {
		srv.AddInstance(orthanctest.InstanceTags("80", "1.2", "1.2.3", i))
	}
	a := newTestArchive(t, srv, "")

	report, err := a.DeleteInventory(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, report.Succeeded)
	assert.Empty(t, srv.InstanceIDs())

	inv, err := a.Inventory(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, inv.Len())
}
