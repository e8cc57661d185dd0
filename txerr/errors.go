// Package txerr defines the error taxonomy shared by every stage of the
// build, sign, group and submit pipeline.
package txerr

import (
	"errors"
	"fmt"
)

// Stage names the pipeline step at which a failure occurred.
type Stage string

const (
	StageBuild    Stage = "build"
	StageCustody  Stage = "custody"
	StageAssemble Stage = "assemble"
	StageGroup    Stage = "group"
	StageSubmit   Stage = "submit"
)

// Kind classifies a failure.
type Kind string

const (
	InvalidParameters      Kind = "INVALID_PARAMETERS"
	IdentityNotProvisioned Kind = "IDENTITY_NOT_PROVISIONED"
	CustodyUnavailable     Kind = "CUSTODY_UNAVAILABLE"
	SigningFailed          Kind = "SIGNING_FAILED"
	EncodingError          Kind = "ENCODING_ERROR"
	EmptyGroup             Kind = "EMPTY_GROUP"
	AlreadyGrouped         Kind = "ALREADY_GROUPED"
	SubmissionRejected     Kind = "SUBMISSION_REJECTED"
	ConfirmationTimeout    Kind = "CONFIRMATION_TIMEOUT"
	NodeUnavailable        Kind = "NODE_UNAVAILABLE"
)

// Error is the typed failure returned by every component.
type Error struct {
	Stage   Stage  `json:"stage"`
	Kind    Kind   `json:"kind"`
	Message string `json:"message"`
	err     error
	sent    bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("[%s/%s] %s: %v", e.Stage, e.Kind, e.Message, e.err)
	}
	return fmt.Sprintf("[%s/%s] %s", e.Stage, e.Kind, e.Message)
}

// Unwrap returns the wrapped cause, for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.err
}

// New creates an Error without a cause.
func New(stage Stage, kind Kind, message string) *Error {
	return &Error{Stage: stage, Kind: kind, Message: message}
}

// Newf creates an Error with a formatted message.
func Newf(stage Stage, kind Kind, format string, args ...interface{}) *Error {
	return &Error{Stage: stage, Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap attaches a cause to e and returns it.
func (e *Error) Wrap(err error) *Error {
	e.err = err
	return e
}

// MarkSent records that the request may have reached the node before the
// failure, so the outcome is unknown rather than nothing.
func (e *Error) MarkSent() *Error {
	e.sent = true
	return e
}

// KindOf returns the Kind of the first *Error in err's chain, or "".
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// StageOf returns the Stage of the first *Error in err's chain, or "".
func StageOf(err error) Stage {
	var e *Error
	if errors.As(err, &e) {
		return e.Stage
	}
	return ""
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// Retryable reports whether the caller may re-initiate the same request.
// Custody failures are only retryable with the identical payload.
func Retryable(err error) bool {
	if sent(err) {
		return false
	}
	switch KindOf(err) {
	case CustodyUnavailable, SigningFailed, NodeUnavailable:
		return true
	}
	return false
}

// Submitted reports whether the failure happened after the transaction left
// this process, i.e. it may be on the network and must be re-queried by id
// rather than rebuilt.
func Submitted(err error) bool {
	return KindOf(err) == ConfirmationTimeout || sent(err)
}

func sent(err error) bool {
	var e *Error
	return errors.As(err, &e) && e.sent
}
