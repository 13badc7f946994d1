// Package montage provides a Store adapter for the Montage radiology
// report search index. The index is read-only: it answers searches and
// enriches dixels with report fields, but holds no inventory.
package montage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/custodia-labs/dixelkit/internal/adapters/driven/httpclient"
	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/transfer"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

// Ensure SearchIndex implements the interface.
var _ driven.SearchIndex = (*SearchIndex)(nil)

// Default configuration values.
const (
	DefaultPort  = 80
	DefaultIndex = "rad"

	// APIPrefix is the path every endpoint lives under.
	APIPrefix = "/api/v1"
)

// Meta keys stamped by Update and MakeWorklist.
const (
	MetaMID        = "MID"
	MetaReportText = "ReportText"
	MetaExamType   = "ExamType"
)

// Config holds configuration for a Montage index.
type Config struct {
	// URL overrides Host and Port; it must include the /api/v1 prefix.
	URL string

	Host     string
	Port     int
	User     string
	Password string

	// Index is the default index searched (default: rad).
	Index string

	Timeout   time.Duration
	RateLimit float64

	HTTPClient *http.Client
}

// BaseURL returns the API root.
func (c Config) BaseURL() string {
	if c.URL != "" {
		return strings.TrimRight(c.URL, "/")
	}
	port := c.Port
	if port == 0 {
		port = DefaultPort
	}
	return fmt.Sprintf("http://%s:%d%s", c.Host, port, APIPrefix)
}

// SearchIndex is a Montage-backed store.
type SearchIndex struct {
	client *httpclient.Client
	index  string
	matrix *transfer.Matrix
	log    *logger.Logger
}

// New creates a SearchIndex.
func New(cfg Config, matrix *transfer.Matrix, log *logger.Logger) *SearchIndex {
	if log == nil {
		log = logger.Discard()
	}
	index := cfg.Index
	if index == "" {
		index = DefaultIndex
	}
	return &SearchIndex{
		client: httpclient.New(httpclient.Config{
			BaseURL:    cfg.BaseURL(),
			User:       cfg.User,
			Password:   cfg.Password,
			Timeout:    cfg.Timeout,
			RateLimit:  cfg.RateLimit,
			HTTPClient: cfg.HTTPClient,
		}, log),
		index:  index,
		matrix: matrix,
		log:    log,
	}
}

// Kind returns domain.KindSearchIndex.
func (s *SearchIndex) Kind() domain.StoreKind {
	return domain.KindSearchIndex
}

// DefaultIndex returns the index searched when none is given.
func (s *SearchIndex) DefaultIndex() string {
	return s.index
}

// Indices lists the server's indices from GET /index.
func (s *SearchIndex) Indices(ctx context.Context) (any, error) {
	var out any
	if err := s.client.JSON(ctx, http.MethodGet, "/index", nil, nil, &out); err != nil {
		return nil, fmt.Errorf("list indices: %w", err)
	}
	return out, nil
}

// flexString accepts JSON strings and numbers.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexString(n.String())
	return nil
}

// searchResponse is the /index/{index}/search response format.
type searchResponse struct {
	Objects []searchObject `json:"objects"`
}

type searchObject struct {
	AccessionNumber flexString `json:"accession_number"`
	ID              flexString `json:"id"`
	Text            string     `json:"text"`
	ExamType        struct {
		Code flexString `json:"code"`
	} `json:"exam_type"`
}

// Search queries an index; an empty index uses the default.
func (s *SearchIndex) Search(ctx context.Context, index string, params url.Values) ([]domain.ReportHit, error) {
	if index == "" {
		index = s.index
	}

	var resp searchResponse
	path := "/index/" + url.PathEscape(index) + "/search"
	if err := s.client.JSON(ctx, http.MethodGet, path, params, nil, &resp); err != nil {
		return nil, fmt.Errorf("search %s: %w", index, err)
	}

	hits := make([]domain.ReportHit, 0, len(resp.Objects))
	for _, o := range resp.Objects {
		hits = append(hits, domain.ReportHit{
			AccessionNumber: string(o.AccessionNumber),
			ID:              string(o.ID),
			Text:            o.Text,
			ExamCode:        string(o.ExamType.Code),
		})
	}
	s.log.Debug("Search %s %s: %d hits", index, params.Encode(), len(hits))
	return hits, nil
}

// MakeWorklist turns search hits into study-level dixels keyed by
// accession number.
func (s *SearchIndex) MakeWorklist(ctx context.Context, params url.Values) (domain.Set, error) {
	hits, err := s.Search(ctx, "", params)
	if err != nil {
		return nil, err
	}
	set := domain.NewSet()
	for _, h := range hits {
		if h.AccessionNumber == "" {
			continue
		}
		set.Add(hitDixel(h))
	}
	return set, nil
}

// Get searches for d's accession number, with opts.Query as extra
// parameters, and returns d enriched with the report. A dixel without a
// matching report is returned unchanged.
func (s *SearchIndex) Get(ctx context.Context, d *domain.Dixel, opts driven.GetOptions) (*domain.Dixel, error) {
	an := d.Lookup(domain.TagAccessionNumber)
	if an == "" {
		return d, nil
	}

	params := url.Values{"q": {an}}
	for k, v := range opts.Query {
		params.Set(k, v)
	}
	hits, err := s.Search(ctx, "", params)
	if err != nil {
		return nil, err
	}
	for _, h := range hits {
		if h.AccessionNumber == an {
			out := d.Clone()
			stampHit(out, h)
			return out, nil
		}
	}
	return d, nil
}

// Update is Get without extra parameters; nil means no report was found.
func (s *SearchIndex) Update(ctx context.Context, d *domain.Dixel) (*domain.Dixel, error) {
	out, err := s.Get(ctx, d, driven.GetOptions{})
	if err != nil || out == d {
		return nil, err
	}
	return out, nil
}

// Put is not supported: the index is populated by the reporting system.
func (s *SearchIndex) Put(_ context.Context, d *domain.Dixel) (domain.Result, error) {
	return domain.Failed("put", d.ID, 0, "read-only"), domain.UnsupportedOperation(s.Kind(), "put", d.Level)
}

// Delete is not supported.
func (s *SearchIndex) Delete(_ context.Context, d *domain.Dixel) (domain.Result, error) {
	return domain.Failed("delete", d.ID, 0, "read-only"), domain.UnsupportedOperation(s.Kind(), "delete", d.Level)
}

// Copy dispatches through the transfer matrix.
func (s *SearchIndex) Copy(ctx context.Context, d *domain.Dixel, dest driven.Store) (domain.Result, error) {
	return s.matrix.Copy(ctx, s, d, dest)
}

// Inventory is not supported: the index cannot be enumerated.
func (s *SearchIndex) Inventory(context.Context) (domain.Set, error) {
	return nil, fmt.Errorf("%w: %s has no inventory", domain.ErrUnsupportedOperation, s.Kind())
}

// InvalidateInventory is a no-op.
func (s *SearchIndex) InvalidateInventory() {}

func hitDixel(h domain.ReportHit) *domain.Dixel {
	d := domain.NewDixel(h.AccessionNumber, domain.LevelStudy)
	stampHit(d, h)
	return d
}

func stampHit(d *domain.Dixel, h domain.ReportHit) {
	d.Tags[domain.TagAccessionNumber] = h.AccessionNumber
	d.Meta[MetaMID] = h.ID
	d.Meta[MetaReportText] = h.Text
	d.Meta[MetaExamType] = h.ExamCode
}
