package intake

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrLimitExceeded is matched by every *LimitError
	ErrLimitExceeded = errors.New("image limit exceeded")
	// ErrClosed is returned by operations on a pipeline that was torn down
	ErrClosed = errors.New("intake pipeline closed")
	// ErrPreviewNotHeld is returned when releasing a preview that is not (or no longer) owned
	ErrPreviewNotHeld = errors.New("preview not held")
)

// LimitError reports a batch that would push the set past its maximum size.
type LimitError struct {
	Current   int
	Pending   int
	Requested int
	Max       int
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("cannot add %d image(s): %d held, %d pending, at most %d allowed",
		e.Requested, e.Current, e.Pending, e.Max)
}

func (e *LimitError) Is(target error) bool {
	return target == ErrLimitExceeded
}

// DecodeFailure describes one file of a batch that could not be processed.
type DecodeFailure struct {
	Index    int
	Filename string
	Err      error
}

func (f DecodeFailure) Error() string {
	return fmt.Sprintf("file %d (%s): %v", f.Index, f.Filename, f.Err)
}

func (f DecodeFailure) Unwrap() error {
	return f.Err
}

// BatchError aggregates the per-file failures of one batch. The files that did
// succeed were committed.
type BatchError struct {
	Failures []DecodeFailure
}

func (e *BatchError) Error() string {
	parts := make([]string, len(e.Failures))
	for i, f := range e.Failures {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("%d file(s) could not be processed: %s", len(e.Failures), strings.Join(parts, "; "))
}

func (e *BatchError) Unwrap() []error {
	errs := make([]error, len(e.Failures))
	for i, f := range e.Failures {
		errs[i] = f
	}
	return errs
}
