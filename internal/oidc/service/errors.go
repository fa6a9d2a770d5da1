package service

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidClient           = errors.New("invalid_client")
	ErrInvalidGrant            = errors.New("invalid_grant")
	ErrInvalidScope            = errors.New("invalid_scope")
	ErrInvalidRedirectURI      = errors.New("invalid_redirect_uri")
	ErrUnauthorizedClient      = errors.New("unauthorized_client")
	ErrUnsupportedResponseType = errors.New("unsupported_response_type")
	ErrInvalidRequest          = errors.New("invalid_request")
	ErrAccessDenied            = errors.New("access_denied")
	ErrInvalidToken            = errors.New("invalid_token")
)

// InvalidScopeError names the scope that failed validation. It matches
// ErrInvalidScope under errors.Is so handlers can map it without losing the
// offending scope for the error description.
type InvalidScopeError struct {
	Scope string
}

func (e *InvalidScopeError) Error() string {
	return fmt.Sprintf("invalid_scope: %q", e.Scope)
}

func (e *InvalidScopeError) Is(target error) bool {
	return target == ErrInvalidScope
}
