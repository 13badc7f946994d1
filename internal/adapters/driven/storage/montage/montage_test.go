package montage

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

const searchBody = `{"objects": [
	{"accession_number": "AN1", "id": 101, "text": "No acute findings.", "exam_type": {"code": "IMG8683"}},
	{"accession_number": "AN2", "id": "m-102", "text": "Stable nodule.", "exam_type": {"code": "IMG7713"}},
	{"accession_number": "", "id": null, "text": "orphan", "exam_type": {"code": null}}
]}`

// queryRecorder keeps the last search query.
type queryRecorder struct {
	mu sync.Mutex
	q  url.Values
}

func (r *queryRecorder) set(q url.Values) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.q = q
}

func (r *queryRecorder) Get(key string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.q.Get(key)
}

// newFakeMontage serves the search API and records the last query.
func newFakeMontage(t *testing.T, last *queryRecorder) *SearchIndex {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/index", func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"objects": [{"name": "rad"}]}`))
	})
	mux.HandleFunc("GET /api/v1/index/{index}/search", func(w http.ResponseWriter, r *http.Request) {
		if r.PathValue("index") != "rad" {
			http.NotFound(w, r)
			return
		}
		user, pass, _ := r.BasicAuth()
		if user != "m_user" || pass != "passw0rd" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if last != nil {
			last.set(r.URL.Query())
		}
		w.Write([]byte(searchBody))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return New(Config{URL: srv.URL + "/api/v1", User: "m_user", Password: "passw0rd"}, nil, logger.Discard())
}

func TestConfig_BaseURL(t *testing.T) {
	assert.Equal(t, "http://montage:80/api/v1", Config{Host: "montage"}.BaseURL())
	assert.Equal(t, "http://montage:8080/api/v1", Config{Host: "montage", Port: 8080}.BaseURL())
}

func TestSearchIndex_Search(t *testing.T) {
	var last queryRecorder
	s := newFakeMontage(t, &last)

	hits, err := s.Search(context.Background(), "", url.Values{"q": {"cta"}, "modality": {"4"}})

	require.NoError(t, err)
	require.Len(t, hits, 3)
	assert.Equal(t, domain.ReportHit{
		AccessionNumber: "AN1",
		ID:              "101",
		Text:            "No acute findings.",
		ExamCode:        "IMG8683",
	}, hits[0])
	assert.Equal(t, "m-102", hits[1].ID)
	assert.Equal(t, "", hits[2].ID)
	assert.Equal(t, "cta", last.Get("q"))
	assert.Equal(t, "4", last.Get("modality"))
}

func TestSearchIndex_SearchUnknownIndex(t *testing.T) {
	s := newFakeMontage(t, nil)

	_, err := s.Search(context.Background(), "nope", nil)

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestSearchIndex_Indices(t *testing.T) {
	s := newFakeMontage(t, nil)

	out, err := s.Indices(context.Background())

	require.NoError(t, err)
	assert.NotNil(t, out)
}

func TestSearchIndex_MakeWorklist(t *testing.T) {
	s := newFakeMontage(t, nil)

	set, err := s.MakeWorklist(context.Background(), url.Values{"q": {"cta"}})

	require.NoError(t, err)
	assert.Equal(t, []string{"AN1", "AN2"}, set.IDs())
	d := set["AN1"]
	assert.Equal(t, domain.LevelStudy, d.Level)
	assert.Equal(t, "101", d.Meta[MetaMID])
	assert.Equal(t, "IMG8683", d.Meta[MetaExamType])
	assert.Equal(t, "No acute findings.", d.Meta[MetaReportText])
}

func TestSearchIndex_UpdateStampsMatchingReport(t *testing.T) {
	var last queryRecorder
	s := newFakeMontage(t, &last)
	d := domain.NewDixel("x", domain.LevelStudy)
	d.Tags[domain.TagAccessionNumber] = "AN2"

	out, err := s.Update(context.Background(), d)

	require.NoError(t, err)
	require.NotNil(t, out)
	assert.Equal(t, "AN2", last.Get("q"))
	assert.Equal(t, "Stable nodule.", out.Meta[MetaReportText])
	assert.Empty(t, d.Meta, "input must not be mutated")
}

func TestSearchIndex_UpdateWithoutMatch(t *testing.T) {
	s := newFakeMontage(t, nil)
	d := domain.NewDixel("x", domain.LevelStudy)
	d.Tags[domain.TagAccessionNumber] = "AN9"

	out, err := s.Update(context.Background(), d)

	require.NoError(t, err)
	assert.Nil(t, out)
}

func TestSearchIndex_GetPassesQuery(t *testing.T) {
	var last queryRecorder
	s := newFakeMontage(t, &last)
	d := domain.NewDixel("x", domain.LevelStudy)
	d.Tags[domain.TagAccessionNumber] = "AN1"

	out, err := s.Get(context.Background(), d, driven.GetOptions{Query: map[string]string{"start_date": "2016-11-17"}})

	require.NoError(t, err)
	assert.Equal(t, "101", out.Meta[MetaMID])
	assert.Equal(t, "2016-11-17", last.Get("start_date"))
}

func TestSearchIndex_Unsupported(t *testing.T) {
	s := newFakeMontage(t, nil)
	ctx := context.Background()
	d := domain.NewDixel("x", domain.LevelInstance)

	_, err := s.Put(ctx, d)
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)

	_, err = s.Delete(ctx, d)
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)

	_, err = s.Inventory(ctx)
	assert.ErrorIs(t, err, domain.ErrUnsupportedOperation)

	_, err = s.Copy(ctx, d, s)
	assert.ErrorIs(t, err, domain.ErrUnsupportedTransfer)
}
