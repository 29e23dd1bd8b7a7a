// Package httperr carries request-classification errors across package
// boundaries so handlers can pick a status code without the lower layers
// importing net/http.
package httperr

import (
	"errors"
	"fmt"
)

// BadRequestError marks input the caller can fix by changing the request.
// Param names the offending field or query parameter when known.
type BadRequestError struct {
	Param string
	msg   string
}

func (e *BadRequestError) Error() string {
	if e.Param == "" {
		return e.msg
	}
	return e.Param + ": " + e.msg
}

func NewBadRequest(msg string) error { return &BadRequestError{msg: msg} }

// NewBadParam builds a bad request error attributed to one named parameter.
func NewBadParam(param string, format string, args ...any) error {
	return &BadRequestError{Param: param, msg: fmt.Sprintf(format, args...)}
}

func IsBadRequest(err error) bool {
	var target *BadRequestError
	return errors.As(err, &target)
}

// BadRequestParam returns the parameter a bad request error is attributed to,
// or "" when the error is of another kind or carries no parameter.
func BadRequestParam(err error) string {
	var e *BadRequestError
	if errors.As(err, &e) {
		return e.Param
	}
	return ""
}
