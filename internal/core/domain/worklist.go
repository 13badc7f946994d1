package domain

import "sort"

// Well-known worklist columns.
const (
	ColOID             = "OID"
	ColAccessionNumber = "AccessionNumber"
	ColPatientID       = "PatientID"
	ColReferenceTime   = "ReferenceTime"
	ColMID             = "MID"
	ColReport          = "Report"
	ColExamCode        = "ExamCode"
	ColSeriesDesc      = "SeriesDescription"
)

// Record is one worklist row.
type Record map[string]string

// Worklist is an ordered list of records with the header they were read with.
type Worklist struct {
	Header  []string
	Records []Record
}

// Fields returns the header followed by any keys the records gained since,
// sorted, so that output preserves the union of all keys seen.
func (w *Worklist) Fields() []string {
	seen := make(map[string]bool, len(w.Header))
	fields := make([]string, 0, len(w.Header))
	for _, h := range w.Header {
		if !seen[h] {
			seen[h] = true
			fields = append(fields, h)
		}
	}

	var extra []string
	for _, rec := range w.Records {
		for k := range rec {
			if !seen[k] {
				seen[k] = true
				extra = append(extra, k)
			}
		}
	}
	sort.Strings(extra)
	return append(fields, extra...)
}

// Label identifies a record in logs and reports.
func (r Record) Label() string {
	for _, k := range []string{ColOID, ColAccessionNumber} {
		if v := r[k]; v != "" {
			return v
		}
	}
	if v := r[ColPatientID]; v != "" {
		return v + "@" + r[ColReferenceTime]
	}
	return "<record>"
}
