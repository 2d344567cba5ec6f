package ledger

import (
	"errors"
)

// Set of error kinds reported by the ledger. Use errors.Is to test an error
// returned by Core against a kind.
var (
	ErrValidation = errors.New("validation error")
	ErrConflict   = errors.New("conflict")
	ErrNotFound   = errors.New("not found")
	ErrStore      = errors.New("store error")
)

// Set of conditions a Store reports so Core can map them to a kind. A Store
// reports a missing row with ErrNotFound.
var (
	ErrDuplicate        = errors.New("duplicated entry")
	ErrMissingReference = errors.New("missing reference")
)

// Error is a ledger failure of a given kind with a human-readable message.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Is reports whether target is the kind of e.
func (e *Error) Is(target error) bool {
	return target == e.Kind
}

func (e *Error) Unwrap() error {
	return e.Err
}

func validationError(msg string) error {
	return &Error{Kind: ErrValidation, Msg: msg}
}

func notFoundError(msg string) error {
	return &Error{Kind: ErrNotFound, Msg: msg}
}

// storeError wraps err as an ErrStore unless it already carries a kind.
func storeError(msg string, err error) error {
	var lerr *Error
	if errors.As(err, &lerr) {
		return err
	}
	return &Error{Kind: ErrStore, Msg: msg, Err: err}
}

var (
	errBillExists     = &Error{Kind: ErrConflict, Msg: "a bill already exists for this customer for the selected period"}
	errBillMissing    = &Error{Kind: ErrValidation, Msg: "bill not found; cannot add payment to a non-existent bill"}
	errAmountTooLarge = &Error{Kind: ErrValidation, Msg: "amount too large"}
)
