package domain

import (
	"fmt"
	"strings"
)

// Level is the DICOM hierarchy granularity of a Dixel.
type Level int

const (
	// LevelInstance is a single SOP instance (one file).
	LevelInstance Level = iota + 1
	// LevelSeries groups instances acquired together.
	LevelSeries
	// LevelStudy groups series for one exam.
	LevelStudy
	// LevelPatient groups studies for one patient.
	LevelPatient
)

// String returns the lower-case level name.
func (l Level) String() string {
	switch l {
	case LevelInstance:
		return "instance"
	case LevelSeries:
		return "series"
	case LevelStudy:
		return "study"
	case LevelPatient:
		return "patient"
	default:
		return "unknown"
	}
}

// Resource returns the plural REST resource name an archive server uses
// for this level, e.g. "instances" or "studies".
func (l Level) Resource() string {
	switch l {
	case LevelInstance:
		return "instances"
	case LevelSeries:
		return "series"
	case LevelStudy:
		return "studies"
	case LevelPatient:
		return "patients"
	default:
		return ""
	}
}

// QueryLevel returns the capitalised level name used in remote queries.
func (l Level) QueryLevel() string {
	switch l {
	case LevelInstance:
		return "Instance"
	case LevelSeries:
		return "Series"
	case LevelStudy:
		return "Study"
	case LevelPatient:
		return "Patient"
	default:
		return ""
	}
}

// Valid reports whether l is one of the four known levels.
func (l Level) Valid() bool {
	return l >= LevelInstance && l <= LevelPatient
}

// ParseLevel parses a level name, singular or plural, case-insensitively.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "instance", "instances":
		return LevelInstance, nil
	case "series":
		return LevelSeries, nil
	case "study", "studies":
		return LevelStudy, nil
	case "patient", "patients":
		return LevelPatient, nil
	default:
		return 0, fmt.Errorf("%w: unknown level %q", ErrInvalidInput, s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: level %d", ErrInvalidInput, int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(text []byte) error {
	parsed, err := ParseLevel(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
