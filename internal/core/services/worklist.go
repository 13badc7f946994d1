package services

import (
	"context"
	"fmt"
	"net/url"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driven"
	"github.com/custodia-labs/dixelkit/internal/core/ports/driving"
	"github.com/custodia-labs/dixelkit/internal/datewindow"
	"github.com/custodia-labs/dixelkit/internal/logger"
)

// Ensure WorklistService implements the interface.
var _ driving.WorklistService = (*WorklistService)(nil)

// DefaultDelta is the search window half-width when none is given.
const DefaultDelta = "-1d"

// searchDateLayout is the date format of the search index's window parameters.
const searchDateLayout = "2006-01-02"

// WorklistService reconciles worklist records against stores.
type WorklistService struct {
	parser *datewindow.Parser
	log    *logger.Logger
}

// NewWorklistService creates a worklist service. A nil parser uses the
// wall clock.
func NewWorklistService(parser *datewindow.Parser, log *logger.Logger) *WorklistService {
	if parser == nil {
		parser = datewindow.NewParser(nil)
	}
	if log == nil {
		log = logger.Discard()
	}
	return &WorklistService{parser: parser, log: log}
}

// recordFunc enriches one record in place. A false return means the source
// had nothing for the record.
type recordFunc func(ctx context.Context, rec domain.Record) (bool, error)

// Update enriches every record from source. The pass is chosen by the
// store's kind; kinds without a pass fail with ErrUnsupportedOperation.
func (s *WorklistService) Update(ctx context.Context, wl *domain.Worklist, source driven.Store, opts driving.WorklistOptions) (*domain.Report, error) {
	if opts.Delta == "" {
		opts.Delta = DefaultDelta
	}

	var fn recordFunc
	switch source.Kind() {
	case domain.KindSearchIndex:
		idx, ok := source.(driven.SearchIndex)
		if !ok {
			return nil, fmt.Errorf("%w: %s store cannot search", domain.ErrUnsupportedOperation, source.Kind())
		}
		fn = func(ctx context.Context, rec domain.Record) (bool, error) {
			return s.updateFromSearch(ctx, idx, rec, opts)
		}
	case domain.KindLogIndex:
		idx, ok := source.(driven.SeriesIndex)
		if !ok {
			return nil, fmt.Errorf("%w: %s store cannot find series", domain.ErrUnsupportedOperation, source.Kind())
		}
		fn = func(ctx context.Context, rec domain.Record) (bool, error) {
			return s.updateFromSeries(ctx, idx, rec, opts)
		}
	case domain.KindProxy:
		fn = func(ctx context.Context, rec domain.Record) (bool, error) {
			return s.updateFromProxy(ctx, source, rec, opts)
		}
	default:
		return nil, fmt.Errorf("%w: no worklist pass for %s stores", domain.ErrUnsupportedOperation, source.Kind())
	}

	s.log.Section("Worklist update from " + source.Kind().String())
	return s.each(ctx, wl, "worklist update", fn)
}

// Copy copies every record carrying an OID from src to dest. Records
// without one are skipped.
func (s *WorklistService) Copy(ctx context.Context, wl *domain.Worklist, src, dest driven.Store) (*domain.Report, error) {
	s.log.Section(fmt.Sprintf("Worklist copy %s -> %s", src.Kind(), dest.Kind()))
	return s.each(ctx, wl, "worklist copy", func(ctx context.Context, rec domain.Record) (bool, error) {
		if rec[domain.ColOID] == "" {
			return false, nil
		}
		res, err := src.Copy(ctx, recordDixel(rec, domain.LevelSeries), dest)
		if err != nil {
			return false, err
		}
		return true, res.Err()
	})
}

// each runs fn over the records in order. Failures are recorded and never
// stop the pass; only a cancelled context does.
func (s *WorklistService) each(ctx context.Context, wl *domain.Worklist, op string, fn recordFunc) (*domain.Report, error) {
	report := domain.NewReport(op)
	for _, rec := range wl.Records {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		ok, err := fn(ctx, rec)
		switch {
		case err != nil:
			s.log.Warn("%s %s failed: %v", op, rec.Label(), err)
			report.Fail(rec.Label(), err)
		case !ok:
			s.log.Debug("%s %s: no match", op, rec.Label())
			report.Skip()
		default:
			report.Success()
		}
	}
	s.log.Info("%s", report.Summary())
	return report, nil
}

func (s *WorklistService) window(rec domain.Record, delta string) (datewindow.Window, error) {
	if rec[domain.ColPatientID] == "" {
		return datewindow.Window{}, fmt.Errorf("%w: record has no %s", domain.ErrInvalidInput, domain.ColPatientID)
	}
	return s.parser.Around(rec[domain.ColReferenceTime], delta)
}

// updateFromSearch stamps the report found for the record's patient within
// the window. An existing accession number must be among the hits.
func (s *WorklistService) updateFromSearch(ctx context.Context, idx driven.SearchIndex, rec domain.Record, opts driving.WorklistOptions) (bool, error) {
	w, err := s.window(rec, opts.Delta)
	if err != nil {
		return false, err
	}

	q := rec[domain.ColPatientID]
	an := rec[domain.ColAccessionNumber]
	if an != "" {
		q += "+" + an
	}
	params := url.Values{}
	for k, v := range opts.Params {
		params[k] = append([]string(nil), v...)
	}
	params.Set("q", q)
	params.Set("start_date", w.Earliest.Format(searchDateLayout))
	params.Set("end_date", w.Latest.Format(searchDateLayout))

	hits, err := idx.Search(ctx, opts.Index, params)
	if err != nil {
		return false, err
	}
	if len(hits) == 0 {
		return false, nil
	}

	hit := hits[0]
	if an != "" {
		found := false
		for _, h := range hits {
			if h.AccessionNumber == an {
				hit, found = h, true
				break
			}
		}
		if !found {
			return false, &domain.AmbiguousMatchError{AccessionNumber: an, Candidates: len(hits)}
		}
	}

	rec[domain.ColAccessionNumber] = hit.AccessionNumber
	rec[domain.ColMID] = hit.ID
	rec[domain.ColReport] = hit.Text
	rec[domain.ColExamCode] = hit.ExamCode
	return true, nil
}

// updateFromSeries stamps the first indexed series in the window.
func (s *WorklistService) updateFromSeries(ctx context.Context, idx driven.SeriesIndex, rec domain.Record, opts driving.WorklistOptions) (bool, error) {
	w, err := s.window(rec, opts.Delta)
	if err != nil {
		return false, err
	}
	desc := opts.Description
	if desc == "" {
		desc = "*"
	}

	matches, err := idx.FindSeries(ctx, domain.SeriesQuery{
		Index:       opts.Index,
		PatientID:   rec[domain.ColPatientID],
		Description: desc,
		Earliest:    w.Earliest,
		Latest:      w.Latest,
	})
	if err != nil {
		return false, err
	}
	if len(matches) == 0 {
		return false, nil
	}

	// TODO: pick the match closest to ReferenceTime instead of the earliest.
	m := matches[0]
	rec[domain.ColAccessionNumber] = m.AccessionNumber
	rec[domain.ColOID] = m.ID
	rec[domain.ColSeriesDesc] = m.SeriesDescription
	return true, nil
}

// updateFromProxy resolves records without an OID against the remote PACS.
func (s *WorklistService) updateFromProxy(ctx context.Context, proxy driven.Store, rec domain.Record, opts driving.WorklistOptions) (bool, error) {
	if rec[domain.ColOID] != "" {
		return false, nil
	}

	d := recordDixel(rec, domain.LevelStudy)
	if ref := rec[domain.ColReferenceTime]; ref != "" && d.Tags[domain.TagStudyDate] == "" {
		w, err := s.parser.Around(ref, opts.Delta)
		if err != nil {
			return false, err
		}
		d.Tags[domain.TagStudyDate] = dicomDateRange(w)
	}

	got, err := proxy.Get(ctx, d, driven.GetOptions{Retrieve: opts.Retrieve, Query: opts.Query})
	if err != nil {
		return false, err
	}

	rec[domain.ColOID] = got.ID
	if an := got.Lookup(domain.TagAccessionNumber); an != "" {
		rec[domain.ColAccessionNumber] = an
	}
	if qid := got.Retrieval.QID; qid != "" {
		rec[domain.MetaQID] = qid
	}
	if aid := got.Retrieval.AID; aid != "" {
		rec[domain.MetaAID] = aid
	}
	return true, nil
}

// recordDixel builds a dixel from a record's identifying columns.
func recordDixel(rec domain.Record, level domain.Level) *domain.Dixel {
	d := domain.NewDixel(rec[domain.ColOID], level)
	for _, k := range []string{
		domain.TagPatientID,
		domain.TagAccessionNumber,
		domain.TagStudyInstanceUID,
		domain.TagSeriesInstanceUID,
		domain.TagSeriesDescription,
		domain.TagStudyDate,
	} {
		if v := rec[k]; v != "" {
			d.Tags[k] = v
		}
	}
	return d
}

// dicomDateRange formats a window as a DICOM date range query.
func dicomDateRange(w datewindow.Window) string {
	return w.Earliest.Format("20060102") + "-" + w.Latest.Format("20060102")
}
