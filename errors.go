package mvkv

import (
	"errors"
	"fmt"

	"github.com/Giulio2002/mvkv/internal/store"
)

// Error represents an mvkv error with an error code
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // wrapped error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("mvkv: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("mvkv: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// ErrorCode represents mvkv error codes. The common codes keep the values
// LMDB assigns them so callers porting code keep their numeric checks.
type ErrorCode int

const (
	// Success indicates the operation completed successfully
	Success ErrorCode = 0

	// ErrKeyExist indicates the key/data pair already exists
	ErrKeyExist ErrorCode = -30799

	// ErrNotFound indicates the key/data pair was not found
	ErrNotFound ErrorCode = -30798

	// ErrCorrupted indicates the data file is corrupted
	ErrCorrupted ErrorCode = -30796

	// ErrInvalid indicates the file is not a valid mvkv data file
	ErrInvalid ErrorCode = -30793

	// ErrMapFull indicates the environment mapsize was reached
	ErrMapFull ErrorCode = -30792

	// ErrDBsFull indicates the environment maxdbs was reached
	ErrDBsFull ErrorCode = -30791

	// ErrReadersFull indicates the environment maxreaders was reached
	ErrReadersFull ErrorCode = -30790

	// ErrTxnFull indicates the transaction nesting limit was reached
	ErrTxnFull ErrorCode = -30788

	// ErrIncompatible indicates a database was opened with mismatched flags
	// or an operation does not apply to its flags
	ErrIncompatible ErrorCode = -30784

	// ErrBadTxn indicates the transaction has already ended or is otherwise
	// unusable for the operation
	ErrBadTxn ErrorCode = -30782

	// ErrBadValSize indicates invalid key or value size
	ErrBadValSize ErrorCode = -30781

	// ErrBadDBI indicates the database handle is invalid
	ErrBadDBI ErrorCode = -30780

	// ErrBusy indicates the environment has active transactions blocking the
	// operation, or another process holds the write lock
	ErrBusy ErrorCode = -30778

	// ErrBadCursor indicates the cursor is closed or unpositioned
	ErrBadCursor ErrorCode = -30771

	// ErrValueExpired indicates a value view outlived its transaction
	ErrValueExpired ErrorCode = -30770

	// ErrEncoding indicates a value could not be decoded as requested
	ErrEncoding ErrorCode = -30769

	// ErrIO indicates an OS-level failure underneath the environment
	ErrIO ErrorCode = -30768

	// ErrInvalidConfig indicates a bad environment or database setting
	ErrInvalidConfig ErrorCode = -30767

	// ErrReadOnly indicates a write was attempted on a read-only
	// environment or transaction
	ErrReadOnly ErrorCode = -30766

	// ErrEnvClosed indicates the environment was already closed
	ErrEnvClosed ErrorCode = -30765

	// ErrTxnFail indicates a commit failed and was rolled back
	ErrTxnFail ErrorCode = -30764
)

// Error descriptions
var errorMessages = map[ErrorCode]string{
	Success:          "success",
	ErrKeyExist:      "key/data pair already exists",
	ErrNotFound:      "key/data pair not found",
	ErrCorrupted:     "data file is corrupted",
	ErrInvalid:       "file is not a valid mvkv data file",
	ErrMapFull:       "environment mapsize limit reached",
	ErrDBsFull:       "environment maxdbs limit reached",
	ErrReadersFull:   "environment maxreaders limit reached",
	ErrTxnFull:       "transaction nesting limit reached",
	ErrIncompatible:  "incompatible database flags or operation",
	ErrBadTxn:        "transaction is invalid",
	ErrBadValSize:    "invalid key or value size",
	ErrBadDBI:        "invalid database handle",
	ErrBusy:          "environment is busy",
	ErrBadCursor:     "cursor is invalid",
	ErrValueExpired:  "value view outlived its transaction",
	ErrEncoding:      "value encoding mismatch",
	ErrIO:            "input/output error",
	ErrInvalidConfig: "invalid configuration",
	ErrReadOnly:      "environment or transaction is read-only",
	ErrEnvClosed:     "environment is closed",
	ErrTxnFail:       "transaction commit failed",
}

// NewError creates a new Error with the given code
func NewError(code ErrorCode) *Error {
	msg, ok := errorMessages[code]
	if !ok {
		msg = fmt.Sprintf("unknown error code %d", code)
	}
	return &Error{Code: code, Message: msg}
}

// WrapError creates a new Error wrapping another error
func WrapError(code ErrorCode, err error) *Error {
	e := NewError(code)
	e.Err = err
	return e
}

// Common error variables for convenience
var (
	ErrKeyExistError      = NewError(ErrKeyExist)
	ErrNotFoundError      = NewError(ErrNotFound)
	ErrCorruptedError     = NewError(ErrCorrupted)
	ErrInvalidError       = NewError(ErrInvalid)
	ErrMapFullError       = NewError(ErrMapFull)
	ErrDBsFullError       = NewError(ErrDBsFull)
	ErrReadersFullError   = NewError(ErrReadersFull)
	ErrTxnFullError       = NewError(ErrTxnFull)
	ErrIncompatibleError  = NewError(ErrIncompatible)
	ErrBadTxnError        = NewError(ErrBadTxn)
	ErrBadValSizeError    = NewError(ErrBadValSize)
	ErrBadDBIError        = NewError(ErrBadDBI)
	ErrBusyError          = NewError(ErrBusy)
	ErrBadCursorError     = NewError(ErrBadCursor)
	ErrValueExpiredError  = NewError(ErrValueExpired)
	ErrEncodingError      = NewError(ErrEncoding)
	ErrInvalidConfigError = NewError(ErrInvalidConfig)
	ErrReadOnlyError      = NewError(ErrReadOnly)
	ErrEnvClosedError     = NewError(ErrEnvClosed)
	ErrTxnFailError       = NewError(ErrTxnFail)
)

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrNotFound
	}
	return false
}

// IsKeyExist returns true if the error is ErrKeyExist
func IsKeyExist(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrKeyExist
	}
	return false
}

// IsMapFull returns true if the error is ErrMapFull
func IsMapFull(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrMapFull
	}
	return false
}

// IsBusy returns true if the error is ErrBusy
func IsBusy(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrBusy
	}
	return false
}

// IsCorrupted returns true if the error indicates data file corruption
func IsCorrupted(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == ErrCorrupted
	}
	return false
}

// Code returns the error code from an error, or ErrIO if not an mvkv error
func Code(err error) ErrorCode {
	if err == nil {
		return Success
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrIO
}

// fromStore translates engine errors into coded errors. Errors that are
// already coded pass through.
func fromStore(err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return err
	}
	switch {
	case errors.Is(err, store.ErrNotFound):
		return ErrNotFoundError
	case errors.Is(err, store.ErrKeyExists):
		return ErrKeyExistError
	case errors.Is(err, store.ErrMapFull):
		return ErrMapFullError
	case errors.Is(err, store.ErrDBsFull):
		return ErrDBsFullError
	case errors.Is(err, store.ErrFlagsMismatch):
		return WrapError(ErrIncompatible, err)
	case errors.Is(err, store.ErrReadersFull):
		return ErrReadersFullError
	case errors.Is(err, store.ErrReadOnly):
		return ErrReadOnlyError
	case errors.Is(err, store.ErrCorrupted):
		return WrapError(ErrCorrupted, err)
	case errors.Is(err, store.ErrInvalid):
		return WrapError(ErrInvalidConfig, err)
	case errors.Is(err, store.ErrLocked):
		return WrapError(ErrBusy, err)
	case errors.Is(err, store.ErrClosed):
		return ErrEnvClosedError
	}
	return WrapError(ErrIO, err)
}
