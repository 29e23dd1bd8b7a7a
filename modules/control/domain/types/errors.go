package types

import (
	"errors"
	"fmt"
)

// Expected business failures carry their own types so the HTTP layer and the
// audit path can map them without string matching.

type ScopeDeniedError struct {
	msg string
}

func (e *ScopeDeniedError) Error() string { return e.msg }

func NewScopeDenied(msg string) error { return &ScopeDeniedError{msg: msg} }

func IsScopeDenied(err error) bool {
	var target *ScopeDeniedError
	return errors.As(err, &target)
}

type AssetNotFoundError struct {
	ExternalID string
}

func (e *AssetNotFoundError) Error() string {
	return fmt.Sprintf("asset %q not found in project", e.ExternalID)
}

func NewAssetNotFound(externalID string) error {
	return &AssetNotFoundError{ExternalID: externalID}
}

func IsAssetNotFound(err error) bool {
	var target *AssetNotFoundError
	return errors.As(err, &target)
}

type ValidationError struct {
	Field string
	msg   string
}

func (e *ValidationError) Error() string { return e.msg }

func NewValidation(field string, msg string) error {
	return &ValidationError{Field: field, msg: msg}
}

func IsValidation(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

type IdempotencyConflictError struct {
	Key string
}

func (e *IdempotencyConflictError) Error() string {
	return fmt.Sprintf("idempotency key %q was reused with a different payload", e.Key)
}

func NewIdempotencyConflict(key string) error {
	return &IdempotencyConflictError{Key: key}
}

func IsIdempotencyConflict(err error) bool {
	var target *IdempotencyConflictError
	return errors.As(err, &target)
}
