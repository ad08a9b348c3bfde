package errs

import (
	"errors"
	"fmt"
)

// Code is the closed set of access and certification failure codes.
type Code string

const (
	CodeAuthRequired              Code = "AUTH_REQUIRED"
	CodeEnrollmentNotFound        Code = "ENROLLMENT_NOT_FOUND"
	CodeEnrollmentPending         Code = "ENROLLMENT_PENDING"
	CodeEnrollmentExpired         Code = "ENROLLMENT_EXPIRED"
	CodeEnrollmentStatusNotActive Code = "ENROLLMENT_STATUS_NOT_ACTIVE"
	CodeAccessDenied              Code = "ACCESS_DENIED"
	CodeCourseNotPublished        Code = "COURSE_NOT_PUBLISHED"
	CodeCourseArchived            Code = "COURSE_ARCHIVED"
	CodeCourseNotAvailable        Code = "COURSE_NOT_AVAILABLE"
	CodeCourseEmptyOrUnpublished  Code = "COURSE_EMPTY_OR_UNPUBLISHED"
	CodeProgressIncomplete        Code = "PROGRESS_INCOMPLETE"
	CodeUnauthorized              Code = "UNAUTHORIZED"
	CodeConfigError               Code = "CONFIG_ERROR"

	// CodeInternal is used only in issuance results when the store failed.
	CodeInternal Code = "INTERNAL_ERROR"
)

// AccessError is a typed denial carrying a Code.
type AccessError struct {
	Code Code
	Msg  string
}

// New returns an *AccessError with the given code and message.
func New(code Code, msg string) *AccessError {
	return &AccessError{Code: code, Msg: msg}
}

func (e *AccessError) Error() string {
	if e.Msg == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Msg)
}

// Is matches another *AccessError by code, so errors.Is(err, errs.New(code, "")) works.
func (e *AccessError) Is(target error) bool {
	var t *AccessError
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// CodeOf extracts the Code from err, or "" when err is not an *AccessError.
func CodeOf(err error) Code {
	var ae *AccessError
	if errors.As(err, &ae) {
		return ae.Code
	}
	return ""
}

// IsOperatorFacing reports whether the code denotes a misconfiguration rather than
// a user-facing denial.
func (c Code) IsOperatorFacing() bool { return c == CodeConfigError }

var known = map[Code]bool{
	CodeAuthRequired: true, CodeEnrollmentNotFound: true, CodeEnrollmentPending: true,
	CodeEnrollmentExpired: true, CodeEnrollmentStatusNotActive: true, CodeAccessDenied: true,
	CodeCourseNotPublished: true, CodeCourseArchived: true, CodeCourseNotAvailable: true,
	CodeCourseEmptyOrUnpublished: true, CodeProgressIncomplete: true, CodeUnauthorized: true,
	CodeConfigError: true, CodeInternal: true,
}

// ParseCode returns the Code named by s, or "" if s is not a known code.
func ParseCode(s string) Code {
	if c := Code(s); known[c] {
		return c
	}
	return ""
}
