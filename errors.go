package bucache

import (
	"errors"
	"fmt"
)

// Error represents a bucache error with an error code
type Error struct {
	Code    ErrorCode
	Message string
	Err     error // wrapped error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("bucache: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("bucache: %s", e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is an *Error with the same code, so that
// errors.Is(err, ErrBusyError) works for wrapped errors too.
func (e *Error) Is(target error) bool {
	var t *Error
	if errors.As(target, &t) {
		return t.Code == e.Code
	}
	return false
}

// ErrorCode identifies the kind of failure.
type ErrorCode int

const (
	// Success indicates the operation completed successfully
	Success ErrorCode = 0

	// ErrNotFound indicates the key is not in the table
	ErrNotFound ErrorCode = -30798

	// ErrOpen indicates the cache could not be opened or created
	ErrOpen ErrorCode = -30793

	// ErrMapFull indicates the maximum map size was reached
	ErrMapFull ErrorCode = -30792

	// ErrReadersFull indicates every reader slot is taken
	ErrReadersFull ErrorCode = -30790

	// ErrMapResized indicates another writer grew the map
	ErrMapResized ErrorCode = -30785

	// ErrIncompatible indicates a configuration that cannot serve the API
	ErrIncompatible ErrorCode = -30784

	// ErrBadTxn indicates the transaction is finished or of the wrong kind
	ErrBadTxn ErrorCode = -30782

	// ErrBadValSize indicates an empty key
	ErrBadValSize ErrorCode = -30781

	// ErrBusy indicates another write transaction is running
	ErrBusy ErrorCode = -30778

	// ErrInvalid indicates use of a closed or zero cache
	ErrInvalid ErrorCode = -30700

	// ErrTimeout indicates a transaction could not be started in time
	ErrTimeout ErrorCode = -30701

	// ErrKeyTooLong indicates a key longer than KeyMaxLen
	ErrKeyTooLong ErrorCode = -30702

	// ErrVerify indicates the read-back after a write did not match
	ErrVerify ErrorCode = -30703

	// ErrIO indicates an engine or filesystem failure
	ErrIO ErrorCode = -30704

	// ErrReadOnly indicates a write on a cache opened read-only
	ErrReadOnly ErrorCode = -30705
)

var errorMessages = map[ErrorCode]string{
	Success:         "success",
	ErrNotFound:     "key not found",
	ErrOpen:         "could not open cache",
	ErrMapFull:      "maximum map size reached",
	ErrReadersFull:  "all reader slots in use",
	ErrMapResized:   "map resized by another writer",
	ErrIncompatible: "incompatible cache configuration",
	ErrBadTxn:       "transaction is invalid",
	ErrBadValSize:   "empty key",
	ErrBusy:         "another write transaction is active, commit or abort it first",
	ErrInvalid:      "cache is not open",
	ErrTimeout:      "timed out starting transaction",
	ErrKeyTooLong:   "key too long",
	ErrVerify:       "stored value does not match written value",
	ErrReadOnly:     "cache is open read-only",
	ErrIO:           "i/o failure",
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

// Common error values for errors.Is comparisons.
var (
	ErrNotFoundError     = NewError(ErrNotFound)
	ErrOpenError         = NewError(ErrOpen)
	ErrMapFullError      = NewError(ErrMapFull)
	ErrReadersFullError  = NewError(ErrReadersFull)
	ErrIncompatibleError = NewError(ErrIncompatible)
	ErrBadTxnError       = NewError(ErrBadTxn)
	ErrBusyError         = NewError(ErrBusy)
	ErrInvalidError      = NewError(ErrInvalid)
	ErrTimeoutError      = NewError(ErrTimeout)
	ErrKeyTooLongError   = NewError(ErrKeyTooLong)
	ErrVerifyError       = NewError(ErrVerify)
	ErrReadOnlyError     = NewError(ErrReadOnly)
)

func hasCode(err error, code ErrorCode) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// IsNotFound returns true if the error is ErrNotFound
func IsNotFound(err error) bool { return hasCode(err, ErrNotFound) }

// IsBusy returns true if the error is ErrBusy
func IsBusy(err error) bool { return hasCode(err, ErrBusy) }

// IsTimeout returns true if a transaction could not be started in time.
// Reader slot exhaustion is reported as a timeout.
func IsTimeout(err error) bool {
	return hasCode(err, ErrTimeout) || hasCode(err, ErrReadersFull)
}

// IsKeyTooLong returns true if the error is ErrKeyTooLong
func IsKeyTooLong(err error) bool { return hasCode(err, ErrKeyTooLong) }

// IsVerifyFailed returns true if a write failed its read-back check
func IsVerifyFailed(err error) bool { return hasCode(err, ErrVerify) }

// IsReadOnly returns true if the error is ErrReadOnly
func IsReadOnly(err error) bool { return hasCode(err, ErrReadOnly) }

// IsMapFull returns true if the error is ErrMapFull
func IsMapFull(err error) bool { return hasCode(err, ErrMapFull) }

// Code returns the error code from an error, or ErrIO if not a bucache error
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
