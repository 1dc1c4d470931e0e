// Copyright (c) 2026 The coral developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package er provides the error representation used throughout corald.
// Fallible functions return er.R rather than the native error type so
// that stack traces can be captured when ENABLE_STACKTRACE is set and
// so that errors can be classified using ErrorType / ErrorCode sets.
package er

import (
	"errors"
	"fmt"
	"os"
	"runtime/debug"
	"strings"
)

var stacktraceDisabled = []string{"No stack, ENABLE_STACKTRACE not set"}

// R is the result of a fallible operation, nil meaning success.
type R interface {
	Message() string
	Stack() []string
	String() string
	Wrapped0() error
	Native() error
}

type err struct {
	e      error
	code   *ErrorCode
	bstack []byte
	stack  []string
}

func (e *err) Stack() []string {
	if e.stack == nil {
		if e.bstack != nil {
			e.stack = strings.Split(string(e.bstack), "\n")
		} else {
			e.stack = stacktraceDisabled
		}
	}
	return e.stack
}

func (e *err) Message() string {
	return e.e.Error()
}

func (e *err) String() string {
	if e.bstack != nil {
		return fmt.Sprintf("%s\n%s", e.e.Error(), strings.Join(e.Stack(), "\n"))
	}
	return e.e.Error()
}

func (e *err) Wrapped0() error {
	return e.e
}

func (e *err) Native() error {
	return errors.New(e.String())
}

func captureStack() []byte {
	if "" == os.Getenv("ENABLE_STACKTRACE") {
		return nil
	}
	return debug.Stack()
}

// Wrapped returns the native error wrapped by r, or nil.
func Wrapped(r R) error {
	if r == nil {
		return nil
	}
	return r.Wrapped0()
}

// New creates a new R with the given message.
func New(s string) R {
	return &err{
		e:      errors.New(s),
		bstack: captureStack(),
	}
}

// Errorf creates a new R with a formatted message.
func Errorf(format string, a ...interface{}) R {
	return &err{
		e:      fmt.Errorf(format, a...),
		bstack: captureStack(),
	}
}

// E wraps a native error, returning nil when e is nil.
func E(e error) R {
	if e == nil {
		return nil
	}
	return &err{
		e:      e,
		bstack: captureStack(),
	}
}

// ErrorType is a category of related error codes, for example all of
// the failure modes of one subsystem.
type ErrorType struct {
	name  string
	codes []*ErrorCode
}

// ErrorCode is one specific failure mode belonging to an ErrorType.
type ErrorCode struct {
	Name   string
	Detail string
	Number int
	Type   *ErrorType
}

// GenericErrorType groups errors which have no meaningful code.
var GenericErrorType = NewErrorType("er.GenericErrorType")

// NewErrorType creates a new category of errors, the name should be
// of the form "<package>.<Type>", e.g. "rejecterr.Err".
func NewErrorType(name string) ErrorType {
	return ErrorType{name: name}
}

// Name returns the registered name of the error type.
func (et *ErrorType) Name() string {
	return et.name
}

// CodeWithNumber creates a new ErrorCode carrying a numeric identifier
// which is relevant on the wire.
func (et *ErrorType) CodeWithNumber(name string, number int) *ErrorCode {
	c := &ErrorCode{
		Name:   name,
		Number: number,
		Type:   et,
	}
	et.codes = append(et.codes, c)
	return c
}

// CodeWithDetail creates a new ErrorCode with a human readable detail
// string which is used as the default error message.
func (et *ErrorType) CodeWithDetail(name, detail string) *ErrorCode {
	c := &ErrorCode{
		Name:   name,
		Detail: detail,
		Type:   et,
	}
	et.codes = append(et.codes, c)
	return c
}

// Code creates a new ErrorCode whose detail is just its name.
func (et *ErrorType) Code(name string) *ErrorCode {
	return et.CodeWithDetail(name, name)
}

// Decode returns the ErrorCode of r if r was created from one of this
// type's codes, otherwise nil.
func (et *ErrorType) Decode(r R) *ErrorCode {
	if e, ok := r.(*err); ok && e != nil && e.code != nil && e.code.Type == et {
		return e.code
	}
	return nil
}

// Is returns true if r belongs to this error type.
func (et *ErrorType) Is(r R) bool {
	return et.Decode(r) != nil
}

// Default creates an R from the code using the detail as the message.
func (c *ErrorCode) Default() R {
	return c.New("", nil)
}

// New creates an R from the code with additional information and an
// optional causing error which is folded into the message.
func (c *ErrorCode) New(info string, cause R) R {
	msg := c.Detail
	if msg == "" {
		msg = c.Name
	}
	if info != "" {
		msg = msg + ": " + info
	}
	if cause != nil {
		msg = msg + " (" + cause.Message() + ")"
	}
	return &err{
		e:      errors.New(msg),
		code:   c,
		bstack: captureStack(),
	}
}

// Is returns true if r was created from this code.
func (c *ErrorCode) Is(r R) bool {
	if r == nil {
		return false
	}
	if e, ok := r.(*err); ok {
		return e.code == c
	}
	return false
}

// LoopBreak is a sentinel used to stop ForEach style iteration early
// without reporting a failure to the caller.
var LoopBreak = GenericErrorType.CodeWithDetail("LoopBreak",
	"loop break, this error should never be seen").Default()

// IsLoopBreak returns true if r is the LoopBreak sentinel.
func IsLoopBreak(r R) bool {
	if r == nil {
		return false
	}
	if e, ok := r.(*err); ok {
		le := LoopBreak.(*err)
		return e.code == le.code
	}
	return false
}
