package orthanc

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/transfer"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

// Ensure Proxy implements the interfaces.
var (
	_ driven.Store            = (*Proxy)(nil)
	_ driven.ExistenceChecker = (*Proxy)(nil)
)

// queryKeys is the remote query template; every key defaults to "".
var queryKeys = []string{
	domain.TagPatientID,
	domain.TagStudyInstanceUID,
	domain.TagSeriesInstanceUID,
	domain.TagSeriesDescription,
	domain.TagSeriesNumber,
	domain.TagStudyDate,
	domain.TagStudyTime,
	domain.TagAccessionNumber,
}

// ProxyConfig holds configuration for an archive that proxies a remote PACS.
type ProxyConfig struct {
	Config

	// RemoteAET is the modality name the archive knows the PACS by.
	RemoteAET string
}

// Proxy is an Archive whose local store is a staging area for series
// pulled from a remote modality.
type Proxy struct {
	*Archive
	remoteAET string
	locks     seriesLocks
}

// NewProxy creates a Proxy.
func NewProxy(cfg ProxyConfig, matrix *transfer.Matrix, log *logger.Logger) (*Proxy, error) {
	if cfg.RemoteAET == "" {
		return nil, fmt.Errorf("%w: proxy requires a remote AET", domain.ErrInvalidInput)
	}
	a, err := NewArchive(cfg.Config, matrix, log)
	if err != nil {
		return nil, err
	}
	return &Proxy{Archive: a, remoteAET: cfg.RemoteAET}, nil
}

// Kind returns domain.KindProxy.
func (p *Proxy) Kind() domain.StoreKind {
	return domain.KindProxy
}

// RemoteAET returns the remote modality name.
func (p *Proxy) RemoteAET() string {
	return p.remoteAET
}

// Get resolves d. A dixel already present locally is only updated;
// otherwise the remote modality is queried and, if opts.Retrieve is set,
// the chosen series is pulled into the local archive.
func (p *Proxy) Get(ctx context.Context, d *domain.Dixel, opts driven.GetOptions) (*domain.Dixel, error) {
	exists, err := p.Exists(ctx, d)
	if err != nil {
		return nil, err
	}
	if exists {
		return p.Archive.Update(ctx, d)
	}

	if err := p.find(ctx, d, opts.Query); err != nil {
		return d, err
	}
	if opts.Retrieve {
		if err := p.retrieve(ctx, d); err != nil {
			return d, err
		}
	}
	return d, nil
}

// Update runs the remote lookup for dixels that carry an accession number
// but were never resolved (no RetrieveAETitle). Others are returned as-is.
func (p *Proxy) Update(ctx context.Context, d *domain.Dixel) (*domain.Dixel, error) {
	if d.Lookup(domain.TagAccessionNumber) != "" && d.Lookup(domain.TagRetrieveAETitle) == "" {
		return p.Get(ctx, d, driven.GetOptions{})
	}
	return d, nil
}

// Copy retrieves d, forwards it through the archive's copy policies and
// then deletes the local copy. Copies of the same series are serialised.
func (p *Proxy) Copy(ctx context.Context, d *domain.Dixel, dest driven.Store) (domain.Result, error) {
	exists, err := p.Exists(ctx, d)
	if err != nil {
		return domain.Failed("copy", d.ID, 0, err.Error()), err
	}
	if !exists {
		if err := p.find(ctx, d, nil); err != nil {
			return domain.Failed("copy", d.ID, 0, err.Error()), err
		}
	}

	unlock := p.locks.lock(d.ID)
	defer unlock()

	if !exists {
		if err := p.retrieve(ctx, d); err != nil {
			return domain.Failed("copy", d.ID, 0, err.Error()), err
		}
	}

	res, err := p.Archive.Copy(ctx, d, dest)
	if err != nil || !res.OK {
		return res, err
	}

	del, err := p.Archive.Delete(ctx, d)
	if err != nil {
		p.log.Warn("Copied %s but could not purge local copy: %v", d, err)
	} else if !del.OK {
		p.log.Warn("Copied %s but could not purge local copy (status %d)", d, del.StatusCode)
	}
	return res, nil
}

// queryResponse is the answer to POST /modalities/{aet}/query.
type queryResponse struct {
	ID   string `json:"ID"`
	Path string `json:"Path"`
}

// find runs the query and answer phases, leaving d ANSWERED with the last
// answer's tags and the series-level id.
func (p *Proxy) find(ctx context.Context, d *domain.Dixel, overrides map[string]string) error {
	query := make(map[string]string, len(queryKeys))
	for _, k := range queryKeys {
		query[k] = d.Lookup(k)
	}
	for k, v := range overrides {
		query[k] = v
	}

	body := map[string]any{
		"Level": domain.LevelSeries.QueryLevel(),
		"Query": query,
	}

	var qr queryResponse
	path := "/modalities/" + url.PathEscape(p.remoteAET) + "/query"
	if err := p.client.JSON(ctx, http.MethodPost, path, nil, body, &qr); err != nil {
		p.log.Error("Query for %s failed: POST %s%s %v: %v", d, p.URL(), path, query, err)
		return fmt.Errorf("query %s: %w", d, err)
	}
	if err := d.Retrieval.Query(qr.ID); err != nil {
		return fmt.Errorf("query %s: %w", d, err)
	}
	d.SetMeta(domain.MetaQID, qr.ID)

	var answers []string
	if err := p.client.JSON(ctx, http.MethodGet, "/queries/"+qr.ID+"/answers", nil, nil, &answers); err != nil {
		return fmt.Errorf("answers for query %s: %w", qr.ID, err)
	}
	if len(answers) == 0 {
		return fmt.Errorf("%w: query %s for %s returned no answers", domain.ErrNotFound, qr.ID, d)
	}

	var chosen *domain.Dixel
	for _, aid := range answers {
		var raw map[string]any
		err := p.client.JSON(ctx, http.MethodGet, "/queries/"+qr.ID+"/answers/"+aid+"/content",
			url.Values{"simplify": {""}}, nil, &raw)
		if err != nil {
			return fmt.Errorf("answer %s of query %s: %w", aid, qr.ID, err)
		}

		tags := simplify(raw)
		child := domain.NewDixel(domain.IDFromTags(tags, domain.LevelSeries), domain.LevelSeries)
		child.Tags = tags
		child.SetMeta(domain.MetaQID, qr.ID)
		child.SetMeta(domain.MetaAID, aid)
		child.Retrieval = domain.Retrieval{Phase: domain.PhaseAnswered, QID: qr.ID, AID: aid}
		if len(answers) > 1 {
			d.AddChild(child)
		}
		chosen = child
	}

	if len(answers) > 1 {
		p.log.Warn("Query %s for %s returned %d answers; using the last one (%s)",
			qr.ID, d, len(answers), chosen.Retrieval.AID)
	}

	if d.Tags == nil {
		d.Tags = make(map[string]string)
	}
	for k, v := range chosen.Tags {
		d.Tags[k] = v
	}
	if err := d.Retrieval.Answer(chosen.Retrieval.AID); err != nil {
		return err
	}
	d.SetMeta(domain.MetaAID, chosen.Retrieval.AID)
	d.ID = chosen.ID
	return nil
}

// retrieve pulls the answered series into the local archive. It is a
// no-op when the series is already present.
func (p *Proxy) retrieve(ctx context.Context, d *domain.Dixel) error {
	d.ID = domain.IDFromTags(d.Tags, domain.LevelSeries)
	d.Level = domain.LevelSeries

	exists, err := p.Exists(ctx, d)
	if err != nil {
		return err
	}
	if exists {
		if d.Retrieval.Phase >= domain.PhaseAnswered {
			_ = d.Retrieval.Retrieved()
		}
		return nil
	}

	if d.Retrieval.Phase != domain.PhaseAnswered && d.Retrieval.Phase != domain.PhaseRetrieved {
		return fmt.Errorf("retrieve %s: %w: no answer to retrieve (%s)", d, domain.ErrInvalidTransition, d.Retrieval.Phase)
	}

	path := "/queries/" + d.Retrieval.QID + "/answers/" + d.Retrieval.AID + "/retrieve"
	if err := p.client.Raw(ctx, http.MethodPost, path, nil, strings.NewReader(""), "text/plain", nil); err != nil {
		return fmt.Errorf("retrieve %s: %w", d, err)
	}

	exists, err = p.Exists(ctx, d)
	if err != nil {
		return err
	}
	if !exists {
		return &domain.RetrievalError{AccessionNumber: d.Lookup(domain.TagAccessionNumber), ID: d.ID}
	}

	if err := d.Retrieval.Retrieved(); err != nil {
		return err
	}
	p.InvalidateInventory()
	p.log.Debug("Retrieved %s", d)
	return nil
}

// seriesLocks serialises work on the same series id.
type seriesLocks struct {
	mu    sync.Mutex
	locks map[string]*seriesLock
}

type seriesLock struct {
	mu   sync.Mutex
	refs int
}

func (s *seriesLocks) lock(id string) func() {
	s.mu.Lock()
	if s.locks == nil {
		s.locks = make(map[string]*seriesLock)
	}
	l, ok := s.locks[id]
	if !ok {
		l = &seriesLock{}
		s.locks[id] = l
	}
	l.refs++
	s.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		s.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(s.locks, id)
		}
		s.mu.Unlock()
	}
}
