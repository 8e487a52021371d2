package stage

import (
	"errors"
	"fmt"
	"time"

	"github.com/zen-systems/vizflow/pkg/adapter"
	"github.com/zen-systems/vizflow/pkg/artifact"
)

// Failure kinds carried by a failed Result.
var (
	ErrTransport   = errors.New("model call failed")
	ErrRejected    = errors.New("output rejected")
	ErrRender      = errors.New("prompt render failed")
	ErrEmptyOutput = errors.New("empty model output")
)

// Error describes why a stage failed. It matches its Kind and the
// underlying cause with errors.Is.
type Error struct {
	Stage string
	Kind  error
	Err   error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("error in %s: %v", e.Stage, e.Kind)
	}
	return fmt.Sprintf("error in %s: %v: %v", e.Stage, e.Kind, e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Result is the tagged outcome of one stage: either Ok with text, or failed
// with an error. Callers check Failed before using Text.
type Result struct {
	Stage    string
	Text     string
	Err      error
	Input    string
	Raw      string
	Artifact *artifact.Artifact
	Calls    []adapter.CallReport
	Duration time.Duration
}

// Ok returns a successful result.
func Ok(text string) Result {
	return Result{Text: text}
}

// Fail returns a failed result for stage.
func Fail(stage string, kind, cause error) Result {
	return Result{Stage: stage, Err: &Error{Stage: stage, Kind: kind, Err: cause}}
}

// Failed reports whether the result carries an error.
func (r Result) Failed() bool {
	return r.Err != nil
}

// Message returns the error text of a failed result and "" otherwise.
func (r Result) Message() string {
	if r.Err == nil {
		return ""
	}
	return r.Err.Error()
}

// Is reports whether a failed result is of the given kind.
func (r Result) Is(kind error) bool {
	return r.Err != nil && errors.Is(r.Err, kind)
}
