package response

import "github.com/stepun/botoracle/pkg/apperr"

// APIResponseCode is the envelope code returned alongside HTTP 200.
type APIResponseCode int

const (
	APIResponseCodeOK           APIResponseCode = 0
	APIResponseCodeBadRequest   APIResponseCode = 40000
	APIResponseCodeUnauthorized APIResponseCode = 40100
	APIResponseCodeNotFound     APIResponseCode = 40400
	APIResponseCodeConflict     APIResponseCode = 40900
	APIResponseCodeError        APIResponseCode = 50000
)

var codeToMsg = map[APIResponseCode]string{
	APIResponseCodeOK:           "ok",
	APIResponseCodeBadRequest:   "bad request",
	APIResponseCodeUnauthorized: "unauthorized",
	APIResponseCodeNotFound:     "not found",
	APIResponseCodeConflict:     "conflict",
	APIResponseCodeError:        "unexpected error",
}

// APIResponse is the generic response envelope used by HTTP APIs.
// Use OKT / ErrorT helpers to construct instances.
type APIResponse[T any] struct {
	Code    APIResponseCode `json:"code"`
	Message string          `json:"message"`
	Data    T               `json:"data"`
}

// OKT returns a successful response with data.
func OKT[T any](data T) *APIResponse[T] {
	return &APIResponse[T]{Code: APIResponseCodeOK, Message: codeToMsg[APIResponseCodeOK], Data: data}
}

// ErrorT returns an error response with message and optional data.
func ErrorT[T any](code APIResponseCode, data T) *APIResponse[T] {
	return &APIResponse[T]{Code: code, Message: codeToMsg[code], Data: data}
}

// CodeFor maps an error class to the envelope code.
func CodeFor(err error) APIResponseCode {
	switch {
	case err == nil:
		return APIResponseCodeOK
	case apperr.Validation.Has(err):
		return APIResponseCodeBadRequest
	case apperr.NotFound.Has(err):
		return APIResponseCodeNotFound
	case apperr.Conflict.Has(err):
		return APIResponseCodeConflict
	default:
		return APIResponseCodeError
	}
}

// FromError builds an error envelope carrying err's message.
func FromError(err error) *APIResponse[any] {
	return ErrorT[any](CodeFor(err), err.Error())
}
