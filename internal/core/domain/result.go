package domain

import (
	"fmt"
	"strings"

	"github.com/google/uuid"
)

// Result is the outcome of a single put, delete or copy. A backend that
// answers with a non-success status yields OK=false and a nil error so the
// caller can choose to abort or continue.
type Result struct {
	Op         string
	ID         string
	OK         bool
	StatusCode int
	Message    string
}

// Succeeded builds an OK result.
func Succeeded(op, id string, status int) Result {
	return Result{Op: op, ID: id, OK: true, StatusCode: status}
}

// Failed builds a failed result.
func Failed(op, id string, status int, msg string) Result {
	return Result{Op: op, ID: id, StatusCode: status, Message: msg}
}

// Err converts a failed result into an error; OK results yield nil.
func (r Result) Err() error {
	if r.OK {
		return nil
	}
	msg := r.Message
	if msg == "" {
		msg = "backend rejected request"
	}
	return fmt.Errorf("%s %s: status %d: %s", r.Op, r.ID, r.StatusCode, msg)
}

// ItemError records one failed item of a batch.
type ItemError struct {
	ID  string
	Err error
}

func (e ItemError) Error() string {
	return fmt.Sprintf("%s: %v", e.ID, e.Err)
}

// Report tallies a batch operation. Batches never roll back.
type Report struct {
	RunID     string
	Op        string
	Total     int
	Succeeded int
	Failed    int
	Skipped   int
	Errors    []ItemError
}

// NewReport starts a report with a fresh run id.
func NewReport(op string) *Report {
	return &Report{RunID: uuid.NewString(), Op: op}
}

// Success counts a succeeded item.
func (r *Report) Success() {
	r.Total++
	r.Succeeded++
}

// Skip counts an item that needed no work.
func (r *Report) Skip() {
	r.Total++
	r.Skipped++
}

// Fail records a failed item.
func (r *Report) Fail(id string, err error) {
	r.Total++
	r.Failed++
	r.Errors = append(r.Errors, ItemError{ID: id, Err: err})
}

// Record counts a Result, treating OK=false as a failure.
func (r *Report) Record(res Result, err error) {
	switch {
	case err != nil:
		r.Fail(res.ID, err)
	case !res.OK:
		r.Fail(res.ID, res.Err())
	default:
		r.Success()
	}
}

// Err joins the item errors, or nil when nothing failed.
func (r *Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	msgs := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		msgs = append(msgs, e.Error())
	}
	return fmt.Errorf("%s: %d of %d failed: %s", r.Op, r.Failed, r.Total, strings.Join(msgs, "; "))
}

// Summary is the one-line tally printed by batch drivers.
func (r *Report) Summary() string {
	return fmt.Sprintf("%s: %d succeeded, %d failed, %d skipped (run %s)",
		r.Op, r.Succeeded, r.Failed, r.Skipped, r.RunID)
}
