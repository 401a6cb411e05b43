package model

import (
	"errors"
	"fmt"
	"strings"
	"sync"
)

// Kind classifies an error so callers can decide how to surface it.
type Kind int

const (
	Unknown Kind = iota
	InvalidInput
	AuthFailure
	RemoteUnavailable
	NotFound
	Conflict
	ValidationFailure
	PartialFailure
)

func (k Kind) String() string {
	switch k {
	case InvalidInput:
		return "invalid input"
	case AuthFailure:
		return "authentication failure"
	case RemoteUnavailable:
		return "remote unavailable"
	case NotFound:
		return "not found"
	case Conflict:
		return "conflict"
	case ValidationFailure:
		return "validation failure"
	case PartialFailure:
		return "partial failure"
	default:
		return "unknown error"
	}
}

// Sentinels for errors.Is checks against a kind.
var (
	ErrInvalidInput      = &Error{Kind: InvalidInput}
	ErrAuthFailure       = &Error{Kind: AuthFailure}
	ErrRemoteUnavailable = &Error{Kind: RemoteUnavailable}
	ErrNotFound          = &Error{Kind: NotFound}
	ErrConflict          = &Error{Kind: Conflict}
	ErrValidation        = &Error{Kind: ValidationFailure}
	ErrPartialFailure    = &Error{Kind: PartialFailure}
)

// Error is a classified error with a user displayable message.
type Error struct {
	Kind Kind
	Op   string
	Msg  string
	Err  error
}

// NewError creates a classified error.
func NewError(kind Kind, op, msg string, err error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: err}
}

func (e *Error) Error() string {
	var sb strings.Builder
	if e.Op != "" {
		sb.WriteString(e.Op)
		sb.WriteString(": ")
	}
	switch {
	case e.Msg != "":
		sb.WriteString(e.Msg)
		if e.Err != nil {
			sb.WriteString(": ")
			sb.WriteString(e.Err.Error())
		}
	case e.Err != nil:
		sb.WriteString(e.Err.Error())
	default:
		sb.WriteString(e.Kind.String())
	}
	return sb.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error of the same kind, so the sentinels above work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind && (t.Op == "" || t.Op == e.Op)
}

// KindOf returns the kind of the first classified error in err's chain.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	for _, k := range []Kind{InvalidInput, AuthFailure, RemoteUnavailable, NotFound, Conflict, ValidationFailure, PartialFailure} {
		if errors.Is(err, &Error{Kind: k}) {
			return k
		}
	}
	return Unknown
}

// ItemFailure is one failed item of a batch.
type ItemFailure struct {
	Item string
	Err  error
}

// BatchReport aggregates per-item failures of a batch that kept going.
type BatchReport struct {
	mu        sync.Mutex
	Total     int
	Succeeded int
	Failures  []ItemFailure
}

// Success records a processed item.
func (r *BatchReport) Success() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Total++
	r.Succeeded++
}

// Fail records a failed item.
func (r *BatchReport) Fail(item string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Total++
	r.Failures = append(r.Failures, ItemFailure{Item: item, Err: err})
}

// Err returns a PartialFailure error if any item failed, nil otherwise.
func (r *BatchReport) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.Failures) == 0 {
		return nil
	}
	items := make([]string, 0, len(r.Failures))
	errs := make([]error, 0, len(r.Failures))
	for _, f := range r.Failures {
		items = append(items, f.Item)
		errs = append(errs, f.Err)
	}
	return NewError(PartialFailure, "",
		fmt.Sprintf("%d of %d items failed (%s)", len(r.Failures), r.Total, strings.Join(items, ", ")),
		errors.Join(errs...))
}
