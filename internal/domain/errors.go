package domain

import "fmt"

// Error is the unified error type for evolab.
// Each error has a numeric code and human-readable message. Two errors with the
// same code match under errors.Is, so a sentinel can be refined with a more
// specific message without losing its kind.
type Error struct {
	Code    int
	Message string
	cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("evolab error %d: %s", e.Code, e.Message)
}

// Is reports whether target is a *Error with the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// Unwrap returns the underlying cause, if any.
func (e *Error) Unwrap() error {
	return e.cause
}

// NewError creates a new Error.
func NewError(code int, msg string) *Error {
	return &Error{Code: code, Message: msg}
}

// WrapError creates an Error that includes a cause.
func WrapError(code int, msg string, cause error) *Error {
	if cause == nil {
		return &Error{Code: code, Message: msg}
	}
	return &Error{Code: code, Message: fmt.Sprintf("%s: %v", msg, cause), cause: cause}
}

// Validationf returns an ErrValidation refined with a formatted message.
func Validationf(format string, args ...any) *Error {
	return NewError(ErrValidation.Code, fmt.Sprintf(format, args...))
}

// InvalidStatef returns an ErrInvalidState refined with a formatted message.
func InvalidStatef(format string, args ...any) *Error {
	return NewError(ErrInvalidState.Code, fmt.Sprintf(format, args...))
}

// ---- Run state machine errors (-32010 to -32039) ----

var (
	ErrValidation     = &Error{Code: -32010, Message: "validation failed"}
	ErrInvalidState   = &Error{Code: -32011, Message: "transition not permitted in current state"}
	ErrEngineFailed   = &Error{Code: -32012, Message: "evolution engine failed"}
	ErrRunNotFound    = &Error{Code: -32013, Message: "evolution run not found"}
	ErrOptimisticLock = &Error{Code: -32014, Message: "optimistic lock conflict: run was modified concurrently"}
)

// InvalidState refinements. They share ErrInvalidState's code.
var (
	ErrNoActiveRun = &Error{Code: ErrInvalidState.Code, Message: "session has no active run"}
	ErrRunActive   = &Error{Code: ErrInvalidState.Code, Message: "session already has an active run"}
	ErrRunTerminal = &Error{Code: ErrInvalidState.Code, Message: "run has already finished"}
)

// ---- Catalog / population errors (-32040 to -32069) ----

var (
	ErrProblemNotFound    = &Error{Code: -32040, Message: "problem not found"}
	ErrDuplicateProblem   = &Error{Code: -32041, Message: "problem already exists"}
	ErrProblemInUse       = &Error{Code: -32042, Message: "problem is referenced by evolution runs"}
	ErrIndividualNotFound = &Error{Code: -32043, Message: "individual not found"}
)

// ---- Engine process errors (-32070 to -32099) ----

var (
	ErrEngineUnavailable     = &Error{Code: -32070, Message: "no engine registered for model"}
	ErrEngineTimeout         = &Error{Code: -32071, Message: "engine request timed out"}
	ErrEngineInvalidResponse = &Error{Code: -32072, Message: "engine returned invalid response"}
	ErrEngineRegistered      = &Error{Code: -32073, Message: "engine already registered for model"}
	ErrAPIBudgetExhausted    = &Error{Code: -32074, Message: "api call budget exhausted"}
)

// ---- Import errors (-32100 to -32129) ----

var (
	ErrImportSource   = &Error{Code: -32100, Message: "invalid import source"}
	ErrImportFetch    = &Error{Code: -32101, Message: "fetch project archive failed"}
	ErrImportTooLarge = &Error{Code: -32102, Message: "project archive exceeds size limit"}
)

// ---- Store / Config errors (-32130 to -32159) ----

var (
	ErrStoreInit     = &Error{Code: -32130, Message: "failed to initialize store"}
	ErrStoreQuery    = &Error{Code: -32131, Message: "store query failed"}
	ErrStoreWrite    = &Error{Code: -32132, Message: "store write failed"}
	ErrConfigInvalid = &Error{Code: -32136, Message: "invalid configuration"}
)
