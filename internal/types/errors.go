package types

import "errors"

// ErrKind is one of the seven wire-level error kinds spec.md §6/§7
// defines for the service contract.
type ErrKind string

const (
	KindInvalidArgument  ErrKind = "InvalidArgument"
	KindNotFound         ErrKind = "NotFound"
	KindUnavailable      ErrKind = "Unavailable"
	KindDeadlineExceeded ErrKind = "DeadlineExceeded"
	KindFailedPrecondition ErrKind = "FailedPrecondition"
	KindInternal         ErrKind = "Internal"
	KindResourceExhausted ErrKind = "ResourceExhausted"
)

// Sentinel errors. Every layer wraps one of these with fmt.Errorf("%s:
// %w", op, err) so callers can still errors.Is against the sentinel
// while the error message carries the operation that failed.
var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidArgument     = errors.New("invalid argument")
	ErrUnavailable         = errors.New("capability unavailable")
	ErrDeadlineExceeded    = errors.New("deadline exceeded")
	ErrFailedPrecondition  = errors.New("failed precondition")
	ErrResourceExhausted   = errors.New("resource exhausted")
	ErrConflict            = errors.New("conflict")
)

// Kind maps an error produced anywhere in the engine to its wire-level
// ErrKind by walking the wrap chain with errors.Is. Unknown errors map to
// Internal, per spec.md §7's propagation policy ("only genuinely fatal
// errors propagate as Internal").
func Kind(err error) ErrKind {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrInvalidArgument):
		return KindInvalidArgument
	case errors.Is(err, ErrUnavailable):
		return KindUnavailable
	case errors.Is(err, ErrDeadlineExceeded):
		return KindDeadlineExceeded
	case errors.Is(err, ErrFailedPrecondition):
		return KindFailedPrecondition
	case errors.Is(err, ErrResourceExhausted):
		return KindResourceExhausted
	default:
		return KindInternal
	}
}
