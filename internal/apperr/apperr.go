// Package apperr defines the coded errors the registration engine returns.
//
// Every error a caller may need to route (field message, transient notice,
// coupon hint, banner) carries a Code. Callers match with errors.Is against
// a bare code error or read it with CodeOf.
package apperr

import (
	"errors"
	"strings"
)

// Code classifies an error for routing to the right place in the UI.
type Code string

const (
	// CodeValidation is a local, field-level problem. Never leaves the client.
	CodeValidation Code = "validation"
	// CodeLimit is a ticket cap violation. Transient, never blocks other work.
	CodeLimit Code = "limit"
	// CodeEligibility is advisory only.
	CodeEligibility Code = "eligibility"
	// CodeCoupon is scoped to the coupon field.
	CodeCoupon Code = "coupon"
	// CodeSubmission is a network or server failure shown as a banner.
	CodeSubmission Code = "submission"
	// CodeNotFound means the requested event, session or record does not exist.
	CodeNotFound Code = "not_found"
	// CodeBusy means a collaborator call is still outstanding.
	CodeBusy Code = "busy"
	// CodeStep is an operation attempted in the wrong step.
	CodeStep Code = "step"
	// CodeInternal is anything unclassified.
	CodeInternal Code = "internal"
)

// Error is a coded error with an optional field it belongs to.
type Error struct {
	Code    Code   `json:"code"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
	Cause   error  `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches any *Error with the same code.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Code == t.Code
	}
	return false
}

// New creates an error with a code and message.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Field creates an error attached to a named field.
func Field(code Code, field, message string) *Error {
	return &Error{Code: code, Field: field, Message: message}
}

// Wrap creates a coded error around cause.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons.
var (
	ErrValidation = New(CodeValidation, "validation failed")
	ErrLimit      = New(CodeLimit, "ticket limit reached")
	ErrCoupon     = New(CodeCoupon, "coupon rejected")
	ErrSubmission = New(CodeSubmission, "submission failed")
	ErrNotFound   = New(CodeNotFound, "not found")
	ErrBusy       = New(CodeBusy, "a request is already in progress")
	ErrStep       = New(CodeStep, "not allowed in the current step")
)

// CodeOf returns the code of the first coded error in err's chain.
// Lists report the code of their first entry.
func CodeOf(err error) Code {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	var l List
	if errors.As(err, &l) && len(l) > 0 {
		return l[0].Code
	}
	return CodeInternal
}

// List aggregates several errors, typically field-level validation failures.
type List []*Error

// Add appends a field error.
func (l *List) Add(code Code, field, message string) {
	*l = append(*l, Field(code, field, message))
}

// Error joins the messages.
func (l List) Error() string {
	msgs := make([]string, 0, len(l))
	for _, e := range l {
		msgs = append(msgs, e.Error())
	}
	return strings.Join(msgs, "; ")
}

// Is matches when any entry matches target.
func (l List) Is(target error) bool {
	for _, e := range l {
		if e.Is(target) {
			return true
		}
	}
	return false
}

// Err returns nil for an empty list, otherwise the list itself.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

// Flatten turns err into a list: lists pass through, coded errors become a
// one-element list, anything else is wrapped as internal.
func Flatten(err error) List {
	if err == nil {
		return nil
	}
	var l List
	if errors.As(err, &l) {
		return l
	}
	var e *Error
	if errors.As(err, &e) {
		return List{e}
	}
	return List{Wrap(CodeInternal, err.Error(), err)}
}
