package protocol

import "fmt"

// TypeError is the type name of backend error objects.
const TypeError = "error"

// Error codes the backend uses. Code 400 marks input the backend rejected,
// which the login negotiation treats as retryable.
const (
	CodeInvalidInput  = 400
	CodeUnauthorized  = 401
	CodeForbidden     = 403
	CodeNotFound      = 404
	CodeFloodWait     = 429
	CodeInternalError = 500
)

// Error is a structured error reported by the backend: {"_":"error","code":..,"message":..}.
type Error struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
}

// Object returns the error in its client-surface object form.
func (e *Error) Object() Object {
	return NewObject(TypeError, map[string]interface{}{
		"code":    e.Code,
		"message": e.Message,
	})
}

// Retryable reports whether the backend rejected the submitted input itself,
// as opposed to failing for an unrelated reason.
func (e *Error) Retryable() bool {
	return e.Code == CodeInvalidInput
}

// AsError converts an error object into *Error. ok is false when o is not an error object.
func AsError(o Object) (*Error, bool) {
	if o.Type() != TypeError {
		return nil, false
	}
	var e Error
	if err := Decode(o, &e); err != nil {
		return &Error{Code: CodeInternalError, Message: fmt.Sprintf("malformed error object: %v", err)}, true
	}
	return &e, true
}
