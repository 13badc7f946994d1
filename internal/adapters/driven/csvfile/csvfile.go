// Package csvfile reads and writes header-driven worklist CSV files.
package csvfile

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
)

const bom = "\ufeff"

// Load reads a worklist. The first row is the header; short rows are
// padded with blanks and cells beyond the header are ignored.
func Load(path string) (*domain.Worklist, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	wl, err := Read(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return wl, nil
}

// Read parses a worklist from r.
func Read(r io.Reader) (*domain.Worklist, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return &domain.Worklist{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}
	if len(header) > 0 {
		header[0] = strings.TrimPrefix(header[0], bom)
	}
	for i := range header {
		header[i] = strings.TrimSpace(header[i])
	}

	wl := &domain.Worklist{Header: header}
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row %d: %w", len(wl.Records)+2, err)
		}
		rec := make(domain.Record, len(header))
		for i, h := range header {
			if h == "" {
				continue
			}
			if i < len(row) {
				rec[h] = row[i]
			} else {
				rec[h] = ""
			}
		}
		wl.Records = append(wl.Records, rec)
	}
	return wl, nil
}

// Save writes wl to path. With no fields, the columns are the worklist's
// header followed by every key its records gained, sorted. With fields,
// exactly those columns are written and other keys are dropped.
func Save(path string, wl *domain.Worklist, fields ...string) error {
	if len(fields) == 0 {
		fields = wl.Fields()
	}
	return writeFile(path, func(w io.Writer) error {
		return Write(w, wl.Records, fields)
	})
}

// Write writes records under the given header. Missing keys are blank.
func Write(w io.Writer, records []domain.Record, fields []string) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(fields); err != nil {
		return err
	}
	row := make([]string, len(fields))
	for _, rec := range records {
		for i, f := range fields {
			row[i] = rec[f]
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// LoadDixels reads a worklist as study-level dixels. Each record becomes
// the dixel's meta. The id is the OID column, else the AccessionNumber,
// else PatientID joined with the secondaryID column.
func LoadDixels(path, secondaryID string) (domain.Set, error) {
	wl, err := Load(path)
	if err != nil {
		return nil, err
	}

	set := domain.NewSet()
	for i, rec := range wl.Records {
		id := recordID(rec, secondaryID)
		if id == "" {
			return nil, fmt.Errorf("%w: %s row %d has no OID, AccessionNumber or PatientID", domain.ErrInvalidInput, path, i+2)
		}
		d := domain.NewDixel(id, domain.LevelStudy)
		for k, v := range rec {
			d.Meta[k] = v
		}
		set.Add(d)
	}
	return set, nil
}

func recordID(rec domain.Record, secondaryID string) string {
	if id := rec[domain.ColOID]; id != "" {
		return id
	}
	if id := rec[domain.ColAccessionNumber]; id != "" {
		return id
	}
	if pid := rec[domain.ColPatientID]; pid != "" {
		return pid + rec[secondaryID]
	}
	return ""
}

// SaveDixels writes each dixel's meta as a row, in id order. With no
// fields, the columns are the sorted union of meta keys.
func SaveDixels(path string, set domain.Set, fields ...string) error {
	dixels := set.Sorted()
	records := make([]domain.Record, 0, len(dixels))
	keys := make(map[string]bool)
	for _, d := range dixels {
		rec := make(domain.Record, len(d.Meta))
		for k, v := range d.Meta {
			rec[k] = v
			keys[k] = true
		}
		records = append(records, rec)
	}
	if len(fields) == 0 {
		for k := range keys {
			fields = append(fields, k)
		}
		sort.Strings(fields)
	}
	return writeFile(path, func(w io.Writer) error {
		return Write(w, records, fields)
	})
}

// writeFile writes through a temp file renamed into place.
func writeFile(path string, fn func(io.Writer) error) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if err := fn(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("writing %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
