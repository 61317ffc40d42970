package session

import (
	"errors"
	"fmt"
)

var (
	// ErrBusy is returned when a pipeline run is already in flight.
	ErrBusy = errors.New("a request is already in progress")
	// ErrNoSession is returned when querying before a file has been processed.
	ErrNoSession = errors.New("no active session: process a file first")
	// ErrSuperseded is returned by a run whose results were discarded because
	// a newer action (usually a new file selection) started meanwhile.
	ErrSuperseded = errors.New("superseded by a newer action")
)

// ValidationError rejects an operation before any request is issued.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return "validation: " + e.Reason }

// Stage names one backend round trip in the workflow.
type Stage string

const (
	StageUpload       Stage = "upload"
	StageUploadCharts Stage = "visualize_upload"
	StageQuery        Stage = "query"
	StageConvertCode  Stage = "convert_code"
	StageValidate     Stage = "validate"
	StageQueryCharts  Stage = "visualize_query"
)

// StageError reports a failed pipeline stage. Message is the text surfaced to
// the user; Err is the underlying cause.
type StageError struct {
	Stage   Stage
	Message string
	Err     error
}

func (e *StageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Stage, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Stage, e.Message)
}

func (e *StageError) Unwrap() error { return e.Err }
