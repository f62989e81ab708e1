package common

import (
	"reflect"

	"github.com/JeffreyRichter/enum/enum"
	"github.com/pkg/errors"
)

var EErrorKind = ErrorKind(0)

// ErrorKind classifies pipeline failures by blast radius: folder-fatal kinds
// skip the folder and continue, pipeline kinds halt or pause the whole run.
type ErrorKind uint8

func (ErrorKind) Configuration() ErrorKind { return ErrorKind(0) }
func (ErrorKind) Source() ErrorKind        { return ErrorKind(1) }
func (ErrorKind) Schema() ErrorKind        { return ErrorKind(2) }
func (ErrorKind) Transform() ErrorKind     { return ErrorKind(3) }
func (ErrorKind) Join() ErrorKind          { return ErrorKind(4) }
func (ErrorKind) Write() ErrorKind         { return ErrorKind(5) }
func (ErrorKind) Transfer() ErrorKind      { return ErrorKind(6) }
func (ErrorKind) State() ErrorKind         { return ErrorKind(7) }
func (ErrorKind) Resource() ErrorKind      { return ErrorKind(8) }

func (k ErrorKind) String() string {
	return enum.StringInt(k, reflect.TypeOf(k))
}

// FolderFatal reports whether an error of this kind fails the current folder
// but lets the pipeline continue with the next one.
func (k ErrorKind) FolderFatal() bool {
	switch k {
	case EErrorKind.Source(), EErrorKind.Schema(), EErrorKind.Join(), EErrorKind.Write():
		return true
	default:
		return false
	}
}

// PipelineError carries an ErrorKind alongside the wrapped cause.
type PipelineError struct {
	Kind  ErrorKind
	cause error
}

func NewError(kind ErrorKind, cause error) *PipelineError {
	return &PipelineError{Kind: kind, cause: cause}
}

func NewErrorf(kind ErrorKind, format string, args ...any) *PipelineError {
	return &PipelineError{Kind: kind, cause: errors.Errorf(format, args...)}
}

func WrapError(kind ErrorKind, cause error, msg string) *PipelineError {
	return &PipelineError{Kind: kind, cause: errors.Wrap(cause, msg)}
}

func (e *PipelineError) Error() string {
	return e.Kind.String() + ": " + e.cause.Error()
}

func (e *PipelineError) Unwrap() error { return e.cause }

// KindOf extracts the ErrorKind from err, walking the wrap chain.
// Unclassified errors report as Transform (the narrowest blast radius).
func KindOf(err error) ErrorKind {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return EErrorKind.Transform()
}

// IsKind reports whether err (or anything it wraps) carries the given kind.
func IsKind(err error, kind ErrorKind) bool {
	var pe *PipelineError
	if errors.As(err, &pe) {
		return pe.Kind == kind
	}
	return false
}
