package services

import (
	"errors"
	"fmt"
)

var (
	// ErrForbidden is returned when the caller does not own the resource.
	ErrForbidden = errors.New("forbidden")
	// ErrInvalidCredentials is returned when an email and password pair does
	// not match a stored account.
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// QuotaExceededError reports that a user has used all tracked API calls.
type QuotaExceededError struct {
	Current int
	Max     int
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("api call limit exceeded: %d of %d used", e.Current, e.Max)
}

// Stage names one step of the ingestion pipeline.
type Stage string

const (
	StageBlobUpload    Stage = "blob_upload"
	StageTranscription Stage = "transcription"
	StageSummarization Stage = "summarization"
	StagePersist       Stage = "persist"
)

// PipelineError wraps the failure of a single pipeline stage.
type PipelineError struct {
	Stage Stage
	Err   error
}

func (e *PipelineError) Error() string {
	return fmt.Sprintf("pipeline stage %s failed: %v", e.Stage, e.Err)
}

func (e *PipelineError) Unwrap() error {
	return e.Err
}
