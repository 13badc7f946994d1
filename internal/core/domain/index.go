package domain

import "time"

// ReportHit is one result from the report search index.
type ReportHit struct {
	AccessionNumber string
	ID              string
	Text            string
	ExamCode        string
}

// SeriesQuery selects indexed series for a patient within a time window.
type SeriesQuery struct {
	Index       string
	PatientID   string
	Description string // glob, "*" matches anything
	Earliest    time.Time
	Latest      time.Time
}

// SeriesMatch is one series found in the log index.
type SeriesMatch struct {
	ID                string
	AccessionNumber   string
	SeriesDescription string
	StudyTime         time.Time
}
