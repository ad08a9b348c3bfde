// Package convert maps wire messages (structpb.Struct) to request types and
// domain results back to wire messages. Both the server and lmsctl use it.
package convert

import (
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/lms-core/internal/certificate"
	"github.com/and161185/lms-core/internal/enrollment"
	"github.com/and161185/lms-core/internal/errs"
	"github.com/and161185/lms-core/internal/model"
)

// --- helpers ---

// ToStruct encodes any JSON-serializable value as a Struct.
func ToStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("encode: not an object: %w", err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into v through its JSON form. A nil Struct decodes as {}.
func FromStruct(s *structpb.Struct, v any) error {
	m := map[string]any{}
	if s != nil {
		m = s.AsMap()
	}
	raw, err := json.Marshal(m)
	if err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", errs.ErrInvalidArgument, err)
	}
	return nil
}

// --- requests (client -> server) ---

// CourseRequest addresses a course, optionally on behalf of another user.
type CourseRequest struct {
	CourseID string `json:"courseId"`
	UserID   string `json:"userId,omitempty"`
}

// LessonRequest addresses a lesson and carries an optional progress report.
type LessonRequest struct {
	CourseID         string `json:"courseId"`
	ModuleID         string `json:"moduleId"`
	LessonID         string `json:"lessonId"`
	Status           string `json:"status,omitempty"`
	Percent          int    `json:"percent,omitempty"`
	MaxWatchedSecond int    `json:"maxWatchedSecond,omitempty"`
}

// VerifyRequest looks up a verification code.
type VerifyRequest struct {
	Code string `json:"code"`
}

// ActivateRequest is the admin enrollment grant.
type ActivateRequest struct {
	UserID        string     `json:"userId"`
	CourseID      string     `json:"courseId"`
	SourceRef     string     `json:"sourceRef,omitempty"`
	PaymentMethod string     `json:"paymentMethod,omitempty"`
	AccessUntil   *time.Time `json:"accessUntil,omitempty"`
}

// ExpireRequest expires one enrollment.
type ExpireRequest struct {
	UserID   string `json:"userId"`
	CourseID string `json:"courseId"`
}

// --- responses (server -> client) ---

// CertificateResponse is the wire form of certificate.Result.
type CertificateResponse struct {
	Success          bool                         `json:"success"`
	AlreadyIssued    bool                         `json:"alreadyIssued,omitempty"`
	CertificateID    string                       `json:"certificateId,omitempty"`
	VerificationCode string                       `json:"verificationCode,omitempty"`
	IssuedAt         *time.Time                   `json:"issuedAt,omitempty"`
	Error            string                       `json:"error,omitempty"`
	Message          string                       `json:"message,omitempty"`
	Status           int                          `json:"status"`
	Details          *certificate.ProgressDetails `json:"details,omitempty"`
}

// ToCertificateResponse converts an issuance result.
func ToCertificateResponse(r certificate.Result) CertificateResponse {
	out := CertificateResponse{
		Success:          r.Success,
		AlreadyIssued:    r.AlreadyIssued,
		CertificateID:    r.CertificateID,
		VerificationCode: r.VerificationCode,
		Error:            string(r.Error),
		Message:          r.Message,
		Status:           r.Status,
		Details:          r.Details,
	}
	if !r.IssuedAt.IsZero() {
		t := r.IssuedAt
		out.IssuedAt = &t
	}
	return out
}

// SummaryResponse carries a recalculated progress summary.
type SummaryResponse struct {
	ProgressSummary model.ProgressSummary `json:"progressSummary"`
}

// OKResponse acknowledges a write.
type OKResponse struct {
	OK bool `json:"ok"`
}

// ActivateResponse is the wire form of enrollment.ActivateResult.
type ActivateResponse struct {
	EnrollmentID string `json:"enrollmentId"`
	Created      bool   `json:"created"`
	Unchanged    bool   `json:"unchanged"`
}

// ToActivateResponse converts an activation result.
func ToActivateResponse(r enrollment.ActivateResult) ActivateResponse {
	return ActivateResponse{EnrollmentID: r.EnrollmentID, Created: r.Created, Unchanged: r.Unchanged}
}
