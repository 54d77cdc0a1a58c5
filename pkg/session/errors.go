package session

import (
	"errors"
	"fmt"
)

// Code is a status code from the closed enumeration every session operation
// fails with. Codes are small negative integers so they can cross a C or FFI
// boundary unchanged.
type Code int

const (
	CodeInvalidHandle             Code = -1
	CodeBufferHandleInvalid       Code = -2
	CodeBufferTooSmall            Code = -3
	CodeAllocFail                 Code = -4
	CodeConfigInvalid             Code = -5
	CodeCodecNotFound             Code = -6
	CodeCodecOpenFail             Code = -7
	CodeConverterInitFail         Code = -8
	CodePacketInitFail            Code = -9
	CodeDecodeFail                Code = -10
	CodeOutputChannelsUnsupported Code = -11
	CodeOutputFormatUnsupported   Code = -12
	CodeEncodeFail                Code = -13
)

var codeNames = map[Code]string{
	CodeInvalidHandle:             "invalid handle",
	CodeBufferHandleInvalid:       "buffer handle invalid",
	CodeBufferTooSmall:            "buffer too small",
	CodeAllocFail:                 "allocation failed",
	CodeConfigInvalid:             "config descriptor invalid",
	CodeCodecNotFound:             "codec not found",
	CodeCodecOpenFail:             "codec open failed",
	CodeConverterInitFail:         "converter init failed",
	CodePacketInitFail:            "packet init failed",
	CodeDecodeFail:                "decode failed",
	CodeOutputChannelsUnsupported: "output channels unsupported",
	CodeOutputFormatUnsupported:   "output format unsupported",
	CodeEncodeFail:                "encode failed",
}

func (c Code) String() string {
	if s, ok := codeNames[c]; ok {
		return s
	}
	return fmt.Sprintf("Code(%d)", int(c))
}

// Kind is the coarse class of a [Code].
type Kind int

const (
	KindUnknown Kind = iota

	// KindConfigInvalid means the descriptor is malformed. Fails open.
	KindConfigInvalid

	// KindUnsupportedFormat means the requested channels or sample format are
	// outside the supported set. Fails open.
	KindUnsupportedFormat

	// KindResourceExhausted means an allocation was refused.
	KindResourceExhausted

	// KindEngineError means the codec or converter reported a non-recoverable
	// error.
	KindEngineError

	// KindInvalidArgument means the caller passed a closed session or a
	// malformed buffer.
	KindInvalidArgument
)

func (k Kind) String() string {
	switch k {
	case KindConfigInvalid:
		return "config_invalid"
	case KindUnsupportedFormat:
		return "unsupported_format"
	case KindResourceExhausted:
		return "resource_exhausted"
	case KindEngineError:
		return "engine_error"
	case KindInvalidArgument:
		return "invalid_argument"
	}
	return "unknown"
}

// Kind returns the class of c.
func (c Code) Kind() Kind {
	switch c {
	case CodeConfigInvalid:
		return KindConfigInvalid
	case CodeOutputChannelsUnsupported, CodeOutputFormatUnsupported:
		return KindUnsupportedFormat
	case CodeAllocFail, CodePacketInitFail:
		return KindResourceExhausted
	case CodeCodecNotFound, CodeCodecOpenFail, CodeConverterInitFail, CodeDecodeFail, CodeEncodeFail:
		return KindEngineError
	case CodeInvalidHandle, CodeBufferHandleInvalid, CodeBufferTooSmall:
		return KindInvalidArgument
	}
	return KindUnknown
}

// Error is the error type returned by every session operation.
type Error struct {
	// Op is the failing operation, e.g. "open decoder" or "decode unit".
	Op   string
	Code Code
	Err  error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session: %s: %s: %v", e.Op, e.Code, e.Err)
	}
	return fmt.Sprintf("session: %s: %s", e.Op, e.Code)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches any *Error with the same code, so errors.Is(err, ErrDecodeFail)
// works regardless of Op and cause.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Err == nil && t.Code == e.Code
}

// Sentinels for errors.Is. They carry only a code.
var (
	ErrInvalidHandle             = &Error{Code: CodeInvalidHandle}
	ErrBufferHandleInvalid       = &Error{Code: CodeBufferHandleInvalid}
	ErrBufferTooSmall            = &Error{Code: CodeBufferTooSmall}
	ErrAllocFail                 = &Error{Code: CodeAllocFail}
	ErrConfigInvalid             = &Error{Code: CodeConfigInvalid}
	ErrCodecNotFound             = &Error{Code: CodeCodecNotFound}
	ErrCodecOpenFail             = &Error{Code: CodeCodecOpenFail}
	ErrConverterInitFail         = &Error{Code: CodeConverterInitFail}
	ErrPacketInitFail            = &Error{Code: CodePacketInitFail}
	ErrDecodeFail                = &Error{Code: CodeDecodeFail}
	ErrOutputChannelsUnsupported = &Error{Code: CodeOutputChannelsUnsupported}
	ErrOutputFormatUnsupported   = &Error{Code: CodeOutputFormatUnsupported}
	ErrEncodeFail                = &Error{Code: CodeEncodeFail}
)

// CodeOf returns the status code carried by err. It returns 0 for nil and for
// errors that did not come from this package.
func CodeOf(err error) Code {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return 0
}

func newError(op string, code Code, err error) *Error {
	return &Error{Op: op, Code: code, Err: err}
}
