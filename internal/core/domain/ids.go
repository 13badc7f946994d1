package domain

import (
	"crypto/sha1" //nolint:gosec // identifiers must match the archive server's SHA-1 scheme
	"encoding/hex"
	"strings"
)

// OrthancID derives the archive server's identifier for an entity:
// the SHA-1 of the "|"-joined UIDs, hex-encoded, split into five
// dash-separated groups of eight characters.
//
// An empty seriesUID yields the study-level ID; an empty sopUID yields the
// series-level ID.
func OrthancID(patientID, studyUID, seriesUID, sopUID string) string {
	parts := []string{patientID, studyUID}
	if seriesUID != "" {
		parts = append(parts, seriesUID)
		if sopUID != "" {
			parts = append(parts, sopUID)
		}
	}
	return hashID(parts...)
}

// PatientOrthancID derives the patient-level identifier.
func PatientOrthancID(patientID string) string {
	return hashID(patientID)
}

// IDFromTags derives the identifier at the given level from a tag map.
func IDFromTags(tags map[string]string, level Level) string {
	switch level {
	case LevelPatient:
		return PatientOrthancID(tags[TagPatientID])
	case LevelStudy:
		return OrthancID(tags[TagPatientID], tags[TagStudyInstanceUID], "", "")
	case LevelSeries:
		return OrthancID(tags[TagPatientID], tags[TagStudyInstanceUID], tags[TagSeriesInstanceUID], "")
	default:
		return OrthancID(tags[TagPatientID], tags[TagStudyInstanceUID],
			tags[TagSeriesInstanceUID], tags[TagSOPInstanceUID])
	}
}

func hashID(parts ...string) string {
	sum := sha1.Sum([]byte(strings.Join(parts, "|"))) //nolint:gosec
	digest := hex.EncodeToString(sum[:])

	groups := make([]string, 0, len(digest)/8)
	for i := 0; i < len(digest); i += 8 {
		groups = append(groups, digest[i:i+8])
	}
	return strings.Join(groups, "-")
}
