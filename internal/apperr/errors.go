// Package apperr is the error taxonomy shared by every layer. Errors carry a
// stable machine-readable code, a category and a message safe to show
// to clients.
package apperr

import (
	"errors"
	"net/http"
)

type Category string

const (
	CategoryInvalidCredentials Category = "invalid_credentials"
	CategoryToken              Category = "token_error"
	CategoryTenant             Category = "tenant_error"
	CategoryProvider           Category = "provider_error"
	CategoryValidation         Category = "validation_error"
	CategoryNotFound           Category = "not_found"
	CategoryRateLimited        Category = "rate_limited"
	CategoryInternal           Category = "internal"
)

type Code string

const (
	CodeInvalidCredentials Code = "invalid_credentials"

	CodeTokenMalformed Code = "token_malformed"
	CodeTokenExpired   Code = "token_expired"
	CodeTokenWrongType Code = "token_wrong_type"
	CodeTokenRevoked   Code = "token_revoked"

	CodeTenantNotFound   Code = "tenant_not_found"
	CodeTenantInactive   Code = "tenant_inactive"
	CodeNoTenantSelected Code = "no_tenant_selected"
	CodeTenantMismatch   Code = "tenant_mismatch"
	CodeAlreadyMember    Code = "already_member"
	CodeSubdomainTaken   Code = "subdomain_taken"
	CodeNotMember        Code = "not_member"

	CodeProviderError Code = "provider_error"

	CodeInvalidRequest      Code = "invalid_request"
	CodeMissingTenantHeader Code = "missing_tenant_header"
	CodeEmailTaken          Code = "email_taken"

	CodeNotFound Code = "not_found"

	CodeRateLimited Code = "rate_limited"
	CodeInternal    Code = "internal"
)

type kindInfo struct {
	category Category
	status   int
}

var kinds = map[Code]kindInfo{
	CodeInvalidCredentials: {CategoryInvalidCredentials, http.StatusUnauthorized},

	CodeTokenMalformed: {CategoryToken, http.StatusUnauthorized},
	CodeTokenExpired:   {CategoryToken, http.StatusUnauthorized},
	CodeTokenWrongType: {CategoryToken, http.StatusUnauthorized},
	CodeTokenRevoked:   {CategoryToken, http.StatusUnauthorized},

	CodeTenantNotFound:   {CategoryTenant, http.StatusNotFound},
	CodeTenantInactive:   {CategoryTenant, http.StatusForbidden},
	CodeNoTenantSelected: {CategoryTenant, http.StatusForbidden},
	CodeTenantMismatch:   {CategoryTenant, http.StatusForbidden},
	CodeAlreadyMember:    {CategoryTenant, http.StatusConflict},
	CodeSubdomainTaken:   {CategoryTenant, http.StatusConflict},
	CodeNotMember:        {CategoryTenant, http.StatusForbidden},

	CodeProviderError: {CategoryProvider, http.StatusBadGateway},

	CodeInvalidRequest:      {CategoryValidation, http.StatusBadRequest},
	CodeMissingTenantHeader: {CategoryValidation, http.StatusBadRequest},
	CodeEmailTaken:          {CategoryValidation, http.StatusConflict},

	CodeNotFound: {CategoryNotFound, http.StatusNotFound},

	CodeRateLimited: {CategoryRateLimited, http.StatusTooManyRequests},
	CodeInternal:    {CategoryInternal, http.StatusInternalServerError},
}

// Error is a classified failure. Two Errors match under errors.Is when
// their codes are equal, so callers compare against the sentinels below.
type Error struct {
	Code    Code
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

func (e *Error) Category() Category {
	if k, ok := kinds[e.Code]; ok {
		return k.category
	}
	return CategoryInternal
}

func (e *Error) Status() int {
	if k, ok := kinds[e.Code]; ok {
		return k.status
	}
	return http.StatusInternalServerError
}

var (
	ErrInvalidCredentials = &Error{Code: CodeInvalidCredentials, Message: "invalid email or password"}

	ErrTokenMalformed = &Error{Code: CodeTokenMalformed, Message: "invalid token"}
	ErrTokenExpired   = &Error{Code: CodeTokenExpired, Message: "token has expired"}
	ErrTokenWrongType = &Error{Code: CodeTokenWrongType, Message: "wrong token type"}
	ErrTokenRevoked   = &Error{Code: CodeTokenRevoked, Message: "token has been revoked"}

	ErrTenantNotFound   = &Error{Code: CodeTenantNotFound, Message: "tenant not found"}
	ErrTenantInactive   = &Error{Code: CodeTenantInactive, Message: "tenant is inactive"}
	ErrNoTenantSelected = &Error{Code: CodeNoTenantSelected, Message: "no tenant selected; join or create a tenant first"}
	ErrTenantMismatch   = &Error{Code: CodeTenantMismatch, Message: "X-Tenant-ID does not match the token's tenant"}
	ErrAlreadyMember    = &Error{Code: CodeAlreadyMember, Message: "already a member of this tenant"}
	ErrSubdomainTaken   = &Error{Code: CodeSubdomainTaken, Message: "subdomain is already taken"}
	ErrNotMember        = &Error{Code: CodeNotMember, Message: "not a member of this tenant"}
	ErrMemberInactive   = &Error{Code: CodeNotMember, Message: "membership in this tenant has been deactivated"}

	ErrProvider = &Error{Code: CodeProviderError, Message: "identity provider request failed"}

	ErrMissingTenantHeader = &Error{Code: CodeMissingTenantHeader, Message: "X-Tenant-ID header is required"}
	ErrEmailTaken          = &Error{Code: CodeEmailTaken, Message: "email already registered"}
	ErrRateLimited         = &Error{Code: CodeRateLimited, Message: "rate limit exceeded"}

	ErrNotFound = &Error{Code: CodeNotFound, Message: "resource not found"}
)

// Validation builds a ValidationError with a client-facing message.
func Validation(msg string) *Error {
	return &Error{Code: CodeInvalidRequest, Message: msg}
}

// Provider wraps an upstream OAuth failure. The cause is kept for logs
// but never rendered.
func Provider(err error) *Error {
	return &Error{Code: CodeProviderError, Message: ErrProvider.Message, Err: err}
}

// As extracts the classified error, or nil for unclassified ones.
func As(err error) *Error {
	var e *Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}

// Body is the wire shape of every error response.
type Body struct {
	Error    string   `json:"error"`
	Code     Code     `json:"code"`
	Category Category `json:"category"`
}

// Render maps any error to a status and body. Unclassified errors become
// a generic 500 so internal details never leak.
func Render(err error) (int, Body) {
	e := As(err)
	if e == nil {
		return http.StatusInternalServerError, Body{
			Error:    "internal server error",
			Code:     CodeInternal,
			Category: CategoryInternal,
		}
	}
	return e.Status(), Body{Error: e.Message, Code: e.Code, Category: e.Category()}
}
