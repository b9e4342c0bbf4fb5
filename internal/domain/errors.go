package domain

import (
	"errors"
	"fmt"
)

// ErrNoModelAvailable signals an inference run attempted before any training run.
var ErrNoModelAvailable = errors.New("no trained model available")

// ValidationError marks a structurally malformed input record. Value-level
// problems are repaired or dropped by cleaning, never raised.
type ValidationError struct {
	Index int
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid record %d: %s %s", e.Index, e.Field, e.Msg)
}

// InsufficientDataError reports an entity with zero windows meeting the
// configured minimum record count. Reported, not fatal to the run.
type InsufficientDataError struct {
	EntityID string
	Min      int
}

func (e *InsufficientDataError) Error() string {
	return fmt.Sprintf("entity %s: no window reached the minimum of %d records", e.EntityID, e.Min)
}

// InsufficientSamplesError: fewer training vectors than requested clusters.
type InsufficientSamplesError struct {
	Samples int
	K       int
}

func (e *InsufficientSamplesError) Error() string {
	return fmt.Sprintf("cannot fit %d clusters from %d samples", e.K, e.Samples)
}

// DegenerateDataError: all training vectors identical, centers cannot separate.
type DegenerateDataError struct {
	Samples int
}

func (e *DegenerateDataError) Error() string {
	return fmt.Sprintf("all %d samples are identical, zero variance", e.Samples)
}

// ModelDimensionMismatchError: a scored vector's length differs from the
// model's center dimension. Never silently truncated or padded.
type ModelDimensionMismatchError struct {
	ModelDim  int
	VectorDim int
}

func (e *ModelDimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension %d does not match model dimension %d", e.VectorDim, e.ModelDim)
}

// IOKind classifies transport failures surfaced by repository adapters.
type IOKind string

const (
	IOConnection  IOKind = "connection"
	IOTimeout     IOKind = "timeout"
	IOAuth        IOKind = "auth"
	IORateLimit   IOKind = "rate_limit"
	IOUnsupported IOKind = "unsupported"
)

// AdapterIOError wraps a transport failure with enough context to retry or
// alert. The core never retries internally; retry policy belongs to
// orchestration.
type AdapterIOError struct {
	Op   string
	Kind IOKind
	Err  error
}

func (e *AdapterIOError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *AdapterIOError) Unwrap() error {
	return e.Err
}
