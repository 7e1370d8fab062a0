// Package backend is the remote resource client for the relational resources
// (watchlist, reviews, profiles). It turns transport failures into a small
// error taxonomy and never caches.
package backend

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Kind classifies a backend failure.
type Kind int

const (
	KindFetchFailed Kind = iota
	KindUnauthenticated
	KindPermissionDenied
	KindAlreadyExists
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindUnauthenticated:
		return "unauthenticated"
	case KindPermissionDenied:
		return "permission_denied"
	case KindAlreadyExists:
		return "already_exists"
	case KindNotFound:
		return "not_found"
	default:
		return "fetch_failed"
	}
}

// Sentinels matched through errors.Is against any *Error of the same kind.
var (
	ErrUnauthenticated  = &Error{Kind: KindUnauthenticated, Message: "sign in required"}
	ErrPermissionDenied = &Error{Kind: KindPermissionDenied, Message: "permission denied"}
	ErrAlreadyExists    = &Error{Kind: KindAlreadyExists, Message: "already exists"}
	ErrNotFound         = &Error{Kind: KindNotFound, Message: "not found"}
	ErrFetchFailed      = &Error{Kind: KindFetchFailed, Message: "fetch failed"}
)

// Error is the single error type surfaced by the resource clients.
type Error struct {
	Kind      Kind
	Message   string
	Code      string
	Retryable bool
	Err       error
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code %s)", e.Kind, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so callers can write errors.Is(err, backend.ErrNotFound).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// KindOf returns the kind of err, or KindFetchFailed for foreign errors.
func KindOf(err error) Kind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindFetchFailed
}

// IsRetryable reports whether err carries the retryable hint.
func IsRetryable(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Retryable
}

// KindForCode maps a backend error code to a Kind. It is the only place codes
// are interpreted; retryable is true for transient representation failures.
func KindForCode(code string) (kind Kind, retryable bool) {
	switch code {
	case "PGRST116", "P0002":
		return KindNotFound, false
	case "PGRST301", "PGRST302", "401", "403", "42501":
		return KindPermissionDenied, false
	case "PGRST303":
		return KindUnauthenticated, false
	case "23505":
		return KindAlreadyExists, false
	case "406":
		return KindFetchFailed, true
	}
	if status, err := strconv.Atoi(code); err == nil && status >= 500 {
		return KindFetchFailed, true
	}
	return KindFetchFailed, false
}

// CodeOf extracts a backend error code from transport errors: pgx no-rows,
// Postgres SQLSTATE codes, or anything exposing BackendCode().
func CodeOf(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return "P0002"
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	var coded interface{ BackendCode() string }
	if errors.As(err, &coded) {
		return coded.BackendCode()
	}
	return ""
}

// Classify wraps a transport error into an *Error. Errors that are already
// classified pass through untouched.
func Classify(err error, message string) error {
	if err == nil {
		return nil
	}
	var be *Error
	if errors.As(err, &be) {
		return err
	}
	code := CodeOf(err)
	kind, retryable := KindForCode(code)
	return &Error{Kind: kind, Message: message, Code: code, Retryable: retryable, Err: err}
}
