// Package rejecterr defines the error codes which map onto packet
// rejections at the business logic server boundary.  The caller can use
// Err.Decode to recover the specific code from an error and
// ErrToReject to build the wire rejection for it.
package rejecterr

import (
	"net/http"

	"github.com/coral-colony/corald/coralutil/er"
	"github.com/coral-colony/corald/wire"
)

// Err identifies a packet rejection.
var Err er.ErrorType = er.NewErrorType("rejecterr.Err")

// Wire code strings for each rejection category.
const (
	CodeBadRequest         = "F00"
	CodeInsufficientAmount = "F06"
	CodeInternalError      = "T00"
)

var wireCodes = make(map[*er.ErrorCode]string)

func mkError(code *er.ErrorCode, wireCode string) *er.ErrorCode {
	wireCodes[code] = wireCode
	return code
}

var (
	// ErrBadRequest indicates the packet or the event it carries is
	// malformed or failed validation.
	ErrBadRequest = mkError(Err.CodeWithDetail("ErrBadRequest",
		"bad request"), CodeBadRequest)

	// ErrInsufficientAmount indicates the packet amount is below the
	// oracle price for the carried event.
	ErrInsufficientAmount = mkError(Err.CodeWithDetail("ErrInsufficientAmount",
		"insufficient payment"), CodeInsufficientAmount)

	// ErrInternal indicates an unrecognised failure while handling the
	// packet, including channel negotiation failures.
	ErrInternal = mkError(Err.CodeWithDetail("ErrInternal",
		"internal error"), CodeInternalError)
)

// ErrToReject examines err and returns the rejection to put on the wire.
// Errors which carry no rejecterr code map to an internal error.
func ErrToReject(err er.R) *wire.Reject {
	if err == nil {
		return &wire.Reject{Code: CodeInternalError, Message: "rejected"}
	}
	code := Err.Decode(err)
	wireCode, ok := wireCodes[code]
	if !ok {
		wireCode = CodeInternalError
	}
	return &wire.Reject{
		Code:    wireCode,
		Message: err.Message(),
	}
}

// HTTPStatus returns the HTTP status which mirrors a reject code
// category: 400 for final client errors, 500 for temporary/internal.
func HTTPStatus(wireCode string) int {
	switch wireCode {
	case CodeBadRequest, CodeInsufficientAmount:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
