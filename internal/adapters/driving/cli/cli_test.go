package cli

import (
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/file"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/montage"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/orthanc"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/orthanc/orthanctest"
	"github.com/custodia-labs/dixelkit/internal/adapters/driven/storage/sqlite"
	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/services"
	"github.com/custodia-labs/dixelkit/internal/datewindow"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

// TestMain keeps commands from loading the user's real config.
func TestMain(m *testing.M) {
	openStore = func(name string) (driven.Store, error) {
		return nil, fmt.Errorf("service %q: %w", name, domain.ErrNotFound)
	}
	inventoryService = services.NewInventoryService(logger.Discard())
	worklistService = services.NewWorklistService(datewindow.NewParser(nil), logger.Discard())
	os.Exit(m.Run())
}

// setupStores wires the named stores into the commands for one test.
func setupStores(t *testing.T, stores map[string]driven.Store) {
	t.Helper()
	oldOpen, oldInv, oldWl := openStore, inventoryService, worklistService
	openStore = func(name string) (driven.Store, error) {
		s, ok := stores[name]
		if !ok {
			return nil, fmt.Errorf("service %q: %w", name, domain.ErrNotFound)
		}
		return s, nil
	}
	inventoryService = services.NewInventoryService(logger.Discard())
	worklistService = services.NewWorklistService(datewindow.NewParser(nil), logger.Discard())
	copyLazy, copyWorklist, copySecondaryID = false, "", ""
	wlOut, wlDelta, wlIndex, wlDesc, wlRetrieve = "", services.DefaultDelta, "", "", false
	wlParams, wlQuery = nil, nil
	t.Cleanup(func() {
		openStore, inventoryService, worklistService = oldOpen, oldInv, oldWl
	})
}

// run executes the root command and returns stdout and the error.
func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	out := new(bytes.Buffer)
	rootCmd.SetOut(out)
	rootCmd.SetErr(new(bytes.Buffer))
	rootCmd.SetArgs(args)
	defer rootCmd.SetArgs(nil)
	err := rootCmd.Execute()
	return out.String(), err
}

var testReader = file.TagReaderFunc(func(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return orthanctest.DecodeInstance(data)
})

func newFileStore(t *testing.T, n int) *file.Store {
	t.Helper()
	dir := t.TempDir()
	for i := 1; i <= n; i++ {
		tags := orthanctest.InstanceTags("80", "1.2", "1.2.3", i)
		require.NoError(t, os.WriteFile(filepath.Join(dir, fmt.Sprintf("IM%04d", i)), orthanctest.EncodeInstance(tags), 0600))
	}
	s, err := file.New(file.Config{Root: dir, Reader: testReader}, storage.DefaultMatrix(), logger.Discard())
	require.NoError(t, err)
	return s
}

func newArchive(t *testing.T, srv *orthanctest.Server) *orthanc.Archive {
	t.Helper()
	a, err := orthanc.NewArchive(orthanc.Config{URL: srv.URL}, storage.DefaultMatrix(), logger.Discard())
	require.NoError(t, err)
	return a
}

func TestRootCmd_UnknownStore(t *testing.T) {
	setupStores(t, nil)

	_, err := run(t, "inventory", "nowhere")

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInventoryCmd_ListsDixels(t *testing.T) {
	setupStores(t, map[string]driven.Store{"disk": newFileStore(t, 3)})

	out, err := run(t, "inventory", "disk")

	require.NoError(t, err)
	assert.Contains(t, out, "3 dixels")
	assert.Contains(t, out, "\tinstance")
}

func TestCopyCmd_LazySecondPassCopiesNothing(t *testing.T) {
	srv := orthanctest.NewServer(t)
	setupStores(t, map[string]driven.Store{"disk": newFileStore(t, 4), "cirr": newArchive(t, srv)})

	out, err := run(t, "copy", "disk", "cirr")
	require.NoError(t, err)
	assert.Contains(t, out, "copy: 4 succeeded, 0 failed, 0 skipped")
	assert.Len(t, srv.InstanceIDs(), 4)

	out, err = run(t, "copy", "disk", "cirr", "--lazy")
	require.NoError(t, err)
	assert.Contains(t, out, "copy: 0 succeeded, 0 failed, 4 skipped")
}

func TestCopyCmd_UnsupportedPairStops(t *testing.T) {
	setupStores(t, map[string]driven.Store{"disk": newFileStore(t, 2), "other": newFileStore(t, 0)})

	_, err := run(t, "copy", "disk", "other")

	assert.ErrorIs(t, err, domain.ErrUnsupportedTransfer)
}

func TestUpdateCmd_WritesArchiveTags(t *testing.T) {
	srv := orthanctest.NewServer(t)
	tags := orthanctest.InstanceTags("80", "1.2", "1.2.3", 1)
	srv.AddInstance(tags)
	setupStores(t, map[string]driven.Store{"cirr": newArchive(t, srv)})
	updateSecondaryID = ""
	dir := t.TempDir()
	in := filepath.Join(dir, "wl.csv")
	outPath := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, []byte("OID\n"+domain.IDFromTags(tags, domain.LevelStudy)+"\n"), 0600))

	out, err := run(t, "update", "cirr", "--worklist", in, "--out", outPath)

	require.NoError(t, err)
	assert.Contains(t, out, "1 succeeded")
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "AN-1.2")
}

func TestStatsCmd_Archive(t *testing.T) {
	srv := orthanctest.NewServer(t)
	srv.AddInstance(orthanctest.InstanceTags("80", "1.2", "1.2.3", 1))
	setupStores(t, map[string]driven.Store{"cirr": newArchive(t, srv), "disk": newFileStore(t, 2)})

	out, err := run(t, "stats", "cirr")
	require.NoError(t, err)
	assert.Contains(t, out, "CountInstances: 1")

	out, err = run(t, "stats", "disk")
	require.NoError(t, err)
	assert.Contains(t, out, "file: 2 dixels")
}

func TestPurgeCmd(t *testing.T) {
	srv := orthanctest.NewServer(t)
	srv.AddInstance(orthanctest.InstanceTags("80", "1.2", "1.2.3", 1))
	srv.AddInstance(orthanctest.InstanceTags("80", "1.2", "1.2.3", 2))
	setupStores(t, map[string]driven.Store{"cirr": newArchive(t, srv), "disk": newFileStore(t, 1)})

	out, err := run(t, "purge", "cirr")
	require.NoError(t, err)
	assert.Contains(t, out, "2 succeeded")
	assert.Empty(t, srv.InstanceIDs())

	_, err = run(t, "purge", "disk")
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)
}

func TestWorklistUpdateCmd_LogIndex(t *testing.T) {
	idx, err := sqlite.NewStore(sqlite.Config{Path: filepath.Join(t.TempDir(), "logindex.db")}, nil, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { idx.Close() })
	tags := map[string]string{
		domain.TagPatientID:         "80",
		domain.TagStudyInstanceUID:  "1.2",
		domain.TagSeriesInstanceUID: "1.2.3",
		domain.TagSOPInstanceUID:    "1.2.3.1",
		domain.TagAccessionNumber:   "AN1",
		domain.TagSeriesDescription: "CTA HEAD",
		domain.TagStudyDate:         "20170301",
		domain.TagStudyTime:         "100000",
	}
	d := domain.NewDixel(domain.IDFromTags(tags, domain.LevelInstance), domain.LevelInstance)
	d.Tags = tags
	_, err = idx.Put(t.Context(), d)
	require.NoError(t, err)
	setupStores(t, map[string]driven.Store{"splunk": idx})

	dir := t.TempDir()
	in := filepath.Join(dir, "in.csv")
	outPath := filepath.Join(dir, "out.csv")
	require.NoError(t, os.WriteFile(in, []byte("PatientID,ReferenceTime\n80,2017-03-01 12:00\n"), 0600))

	out, err := run(t, "worklist", "update", in, "--source", "splunk", "--out", outPath, "--desc", "*CTA*")

	require.NoError(t, err)
	assert.Contains(t, out, "worklist update: 1 succeeded")
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "PatientID,ReferenceTime,AccessionNumber,OID,SeriesDescription", lines[0])
	assert.Equal(t, "80,2017-03-01 12:00,AN1,"+domain.OrthancID("80", "1.2", "1.2.3", "")+",CTA HEAD", lines[1])
}

func TestWorklistFindCmd_Montage(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/index/rad/search", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "8683", r.URL.Query().Get("exam_type"))
		w.Write([]byte(`{"objects": [{"accession_number": "AN1", "id": 101, "text": "Normal.", "exam_type": {"code": "IMG8683"}}]}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	idx := montage.New(montage.Config{URL: srv.URL + montage.APIPrefix}, nil, logger.Discard())
	setupStores(t, map[string]driven.Store{"montage": idx})
	outPath := filepath.Join(t.TempDir(), "found.csv")

	out, err := run(t, "worklist", "find", outPath, "--source", "montage", "--param", "exam_type=8683")

	require.NoError(t, err)
	assert.Contains(t, out, "Wrote 1 studies")
	data, err := os.ReadFile(outPath)
	require.NoError(t, err)
	assert.Equal(t, "AccessionNumber,ExamType,MID,ReportText\nAN1,IMG8683,101,Normal.\n", string(data))
}

func TestWorklistCopyCmd_SkipsRowsWithoutOID(t *testing.T) {
	srv := orthanctest.NewServer(t)
	setupStores(t, map[string]driven.Store{"a": newArchive(t, srv), "b": newArchive(t, orthanctest.NewServer(t))})
	in := filepath.Join(t.TempDir(), "wl.csv")
	require.NoError(t, os.WriteFile(in, []byte("PatientID,OID\n80,\n"), 0600))

	out, err := run(t, "worklist", "copy", in, "--source", "a", "--dest", "b")

	require.NoError(t, err)
	assert.Contains(t, out, "0 succeeded, 0 failed, 1 skipped")
}

func TestPrintReport_FailuresAreErrors(t *testing.T) {
	r := domain.NewReport("copy")
	r.Success()
	r.Fail("x", assert.AnError)

	err := printReport(rootCmd, r)

	assert.ErrorContains(t, err, "1 of 2 failed")
	assert.NoError(t, printReport(rootCmd, nil))
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"exam_type=8683", "exam_type=8766", "modality=4"})
	require.NoError(t, err)
	assert.Equal(t, []string{"8683", "8766"}, params["exam_type"])
	assert.Equal(t, "4", params.Get("modality"))

	_, err = parseParams([]string{"novalue"})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
