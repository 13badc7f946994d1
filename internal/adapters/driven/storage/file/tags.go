package file

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/suyashkumar/dicom"
	"github.com/suyashkumar/dicom/pkg/tag"

	"github.com/custodia-labs/dixelkit/internal/core/domain"
)

// TagReader extracts simplified tags from a file on disk.
type TagReader interface {
	ReadTags(path string) (map[string]string, error)
}

// TagReaderFunc adapts a function to TagReader.
type TagReaderFunc func(path string) (map[string]string, error)

// ReadTags calls f.
func (f TagReaderFunc) ReadTags(path string) (map[string]string, error) {
	return f(path)
}

// readTags lists the attributes DICOMReader extracts.
var readTags = []struct {
	name string
	tag  tag.Tag
}{
	{domain.TagPatientID, tag.PatientID},
	{domain.TagStudyInstanceUID, tag.StudyInstanceUID},
	{domain.TagSeriesInstanceUID, tag.SeriesInstanceUID},
	{domain.TagSOPInstanceUID, tag.SOPInstanceUID},
	{domain.TagAccessionNumber, tag.AccessionNumber},
	{domain.TagSeriesDescription, tag.SeriesDescription},
	{domain.TagSeriesNumber, tag.SeriesNumber},
	{domain.TagStudyDate, tag.StudyDate},
	{domain.TagStudyTime, tag.StudyTime},
	{domain.MetaSOPClassUID, tag.SOPClassUID},
	{domain.MetaTransferSyntaxUID, tag.TransferSyntaxUID},
}

// DICOMReader reads tags from DICOM files, skipping pixel data.
type DICOMReader struct{}

// ReadTags parses path and returns the string-valued identifying tags.
func (DICOMReader) ReadTags(path string) (map[string]string, error) {
	ds, err := dicom.ParseFile(path, nil, dicom.SkipPixelData())
	if err != nil {
		if _, statErr := os.Stat(path); statErr != nil {
			return nil, fmt.Errorf("reading %s: %w", path, statErr)
		}
		return nil, fmt.Errorf("%w: parse %s: %w", domain.ErrInvalidInput, path, err)
	}

	tags := make(map[string]string, len(readTags))
	for _, rt := range readTags {
		el, err := ds.FindElementByTag(rt.tag)
		if err != nil {
			if errors.Is(err, dicom.ErrorElementNotFound) {
				continue
			}
			return nil, fmt.Errorf("read %s from %s: %w", rt.name, path, err)
		}
		if el.Value == nil || el.Value.ValueType() != dicom.Strings {
			continue
		}
		values, ok := el.Value.GetValue().([]string)
		if !ok || len(values) == 0 {
			continue
		}
		tags[rt.name] = strings.TrimSpace(strings.TrimRight(values[0], "\x00"))
	}
	return tags, nil
}
