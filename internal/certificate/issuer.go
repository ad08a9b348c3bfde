// Package certificate mints course completion certificates exactly once per
// (user, course) after re-validating access and progress.
package certificate

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/lms-core/internal/access"
	"github.com/and161185/lms-core/internal/audit"
	"github.com/and161185/lms-core/internal/curriculum"
	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/errs"
	"github.com/and161185/lms-core/internal/model"
)

// StatusValid marks a certificate that has not been revoked.
const StatusValid = "valid"

// ActionCertificateIssued is the audit action for a minted certificate.
const ActionCertificateIssued = "CERTIFICATE_ISSUED"

// IssueRequest identifies the certificate and who is asking for it.
type IssueRequest struct {
	CourseID      string
	TargetUserID  string
	ActingUserID  string
	ActingIsAdmin bool
}

// ProgressDetails accompanies PROGRESS_INCOMPLETE.
type ProgressDetails struct {
	Required  int `json:"required"`
	Completed int `json:"completed"`
}

// Result is the terse outcome of an issuance. Failures are data, not errors.
type Result struct {
	Success          bool
	AlreadyIssued    bool
	CertificateID    string
	VerificationCode string
	IssuedAt         time.Time

	Error   errs.Code
	Message string
	Status  int
	Details *ProgressDetails
}

// EventPublisher appends domain events.
type EventPublisher interface {
	Publish(ctx context.Context, ev model.DomainEvent) (string, error)
}

// Issuer mints and looks up certificates.
type Issuer interface {
	// Issue returns the existing certificate or mints a new one.
	Issue(ctx context.Context, req IssueRequest) Result
	// Verify resolves a public verification code.
	Verify(ctx context.Context, code string) (model.CertificatePublic, error)
}

// IssuerImpl implements Issuer over a document store.
type IssuerImpl struct {
	store   docstore.Store
	gate    access.Gate
	audit   audit.Logger
	events  EventPublisher
	log     *zap.Logger
	newCode func() (string, error)
}

var _ Issuer = (*IssuerImpl)(nil)

// NewIssuer constructs an Issuer. events may be nil.
func NewIssuer(store docstore.Store, gate access.Gate, auditLog audit.Logger, events EventPublisher, log *zap.Logger) *IssuerImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &IssuerImpl{
		store:   store,
		gate:    gate,
		audit:   auditLog,
		events:  events,
		log:     log,
		newCode: NewVerificationCode,
	}
}

// StatusFor maps a failure code to an HTTP-like status.
func StatusFor(code errs.Code) int {
	switch code {
	case errs.CodeAuthRequired:
		return http.StatusUnauthorized
	case errs.CodeCourseEmptyOrUnpublished, errs.CodeProgressIncomplete:
		return http.StatusBadRequest
	case errs.CodeConfigError, errs.CodeInternal:
		return http.StatusInternalServerError
	default:
		return http.StatusForbidden
	}
}

func fail(code errs.Code, msg string) Result {
	return Result{Error: code, Message: msg, Status: StatusFor(code)}
}

func existing(id string, c model.Certificate) Result {
	return Result{
		Success:          true,
		AlreadyIssued:    true,
		CertificateID:    id,
		VerificationCode: c.VerificationCode,
		IssuedAt:         c.IssuedAt,
		Status:           http.StatusOK,
	}
}

// Issue runs authorization, the idempotency check, the access gate and an
// independent progress derivation, then commits certificate, public lookup,
// enrollment completion and audit entry in one transaction.
func (s *IssuerImpl) Issue(ctx context.Context, req IssueRequest) Result {
	if req.TargetUserID == "" || req.ActingUserID == "" {
		return fail(errs.CodeAuthRequired, "sign-in required")
	}
	if req.ActingUserID != req.TargetUserID && !req.ActingIsAdmin {
		return fail(errs.CodeUnauthorized, "cannot issue a certificate for another user")
	}
	if req.CourseID == "" {
		return fail(errs.CodeCourseNotAvailable, "course id required")
	}

	key := model.CertificateKey{UserID: req.TargetUserID, CourseID: req.CourseID}
	ref := docstore.Doc(model.CollCertificates, key.ID())
	log := s.log.With(zap.String("user_id", req.TargetUserID), zap.String("course_id", req.CourseID))

	cert, err := docstore.GetAs[model.Certificate](ctx, s.store, ref)
	if err == nil {
		return existing(ref.ID, cert)
	}
	if !errors.Is(err, errs.ErrNotFound) {
		log.Error("certificate lookup failed", zap.Error(err))
		return fail(errs.CodeInternal, "certificate lookup failed")
	}

	ac, err := s.gate.AssertAccess(ctx, req.TargetUserID, req.CourseID)
	if err != nil {
		if code := errs.CodeOf(err); code != "" {
			return fail(code, err.Error())
		}
		log.Error("access check failed", zap.Error(err))
		return fail(errs.CodeInternal, "access check failed")
	}

	st, counts, err := curriculum.Derive(ctx, s.store, req.TargetUserID, req.CourseID)
	if err != nil {
		log.Error("progress derivation failed", zap.Error(err))
		return fail(errs.CodeInternal, "progress derivation failed")
	}
	required := st.TotalLessons()
	if required == 0 {
		return fail(errs.CodeCourseEmptyOrUnpublished, "course has no published lessons")
	}
	if len(counts.Completed) < required {
		r := fail(errs.CodeProgressIncomplete, "not all published lessons are completed")
		r.Details = &ProgressDetails{Required: required, Completed: len(counts.Completed)}
		return r
	}

	course, err := docstore.GetAs[model.Course](ctx, s.store, docstore.Doc(model.CollCourses, req.CourseID))
	if errors.Is(err, errs.ErrNotFound) {
		return fail(errs.CodeCourseNotAvailable, "course not found")
	}
	if err != nil {
		log.Error("course lookup failed", zap.Error(err))
		return fail(errs.CodeInternal, "course lookup failed")
	}
	profile, err := docstore.GetAs[model.UserProfile](ctx, s.store, docstore.Doc(model.CollUsers, req.TargetUserID))
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		log.Error("profile lookup failed", zap.Error(err))
		return fail(errs.CodeInternal, "profile lookup failed")
	}

	version := ac.CourseVersion
	if version <= 0 {
		version = course.ContentRevision
	}
	if version <= 0 {
		version = 1
	}
	lessonIDs := st.LessonIDs()
	hash, err := IntegrityHash(req.TargetUserID, req.CourseID, version, lessonIDs)
	if err != nil {
		log.Error("integrity hash failed", zap.Error(err))
		return fail(errs.CodeInternal, "integrity hash failed")
	}
	actorRole := "student"
	if req.ActingIsAdmin {
		actorRole = model.RoleAdmin
	}

	var out Result
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		prev, err := docstore.GetAs[model.Certificate](ctx, tx, ref)
		if err == nil {
			out = existing(ref.ID, prev)
			return nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		enrRef := docstore.Doc(model.CollEnrollments, model.EnrollmentKey{UserID: req.TargetUserID, CourseID: req.CourseID}.ID())
		enr, enrErr := docstore.GetAs[model.Enrollment](ctx, tx, enrRef)
		if enrErr != nil && !errors.Is(enrErr, errs.ErrNotFound) {
			return enrErr
		}
		now, err := tx.ServerTime(ctx)
		if err != nil {
			return err
		}
		code, err := s.newCode()
		if err != nil {
			return fmt.Errorf("verification code: %w", err)
		}

		c := model.Certificate{
			UserID:                    req.TargetUserID,
			CourseID:                  req.CourseID,
			CourseVersionAtCompletion: version,
			IssuedAt:                  now,
			VerificationCode:          code,
			IntegrityHash:             hash,
			StudentName:               studentName(profile, req.TargetUserID),
			CourseName:                course.Title,
			CourseSnapshot: model.CourseSnapshot{
				CourseID:                  req.CourseID,
				CourseVersionAtCompletion: version,
				TotalLessonsConsidered:    len(lessonIDs),
				Lessons:                   st.Lessons,
			},
			IssuedBy: req.ActingUserID,
			Status:   StatusValid,
		}
		if err := tx.Create(ctx, ref, c); err != nil {
			if !errors.Is(err, errs.ErrAlreadyExists) {
				return err
			}
			prev, err := docstore.GetAs[model.Certificate](ctx, tx, ref)
			if err != nil {
				return err
			}
			out = existing(ref.ID, prev)
			return nil
		}
		err = tx.Create(ctx, docstore.Doc(model.CollCertificatePublic, code), model.CertificatePublic{
			Code:        code,
			StudentName: c.StudentName,
			CourseName:  c.CourseName,
			IssuedAt:    now,
			IsValid:     true,
		})
		if errors.Is(err, errs.ErrAlreadyExists) {
			// code collision; the retry draws a new one
			log.Warn("verification code collision", zap.String("code", code))
			return errs.ErrConflict
		}
		if err != nil {
			return err
		}
		if enrErr == nil {
			patch := map[string]any{
				"status":          model.StatusCompleted,
				"progressSummary": counts.Summary,
				"certificateId":   ref.ID,
				"updatedAt":       now,
			}
			if enr.CompletedAt == nil {
				patch["completedAt"] = now
			}
			if err := tx.Set(ctx, enrRef, patch, docstore.Merge()); err != nil {
				return err
			}
		}
		if err := s.audit.RecordTx(ctx, tx, model.AuditEntry{
			Actor:  model.AuditActor{UID: req.ActingUserID, Role: actorRole},
			Action: ActionCertificateIssued,
			Target: model.AuditTarget{Collection: model.CollCertificates, ID: ref.ID, Summary: course.Title},
			Metadata: map[string]any{
				"verificationCode": code,
				"courseVersion":    version,
				"integrityHash":    hash,
			},
		}); err != nil {
			return err
		}

		out = Result{
			Success:          true,
			CertificateID:    ref.ID,
			VerificationCode: code,
			IssuedAt:         now,
			Status:           http.StatusCreated,
		}
		return nil
	})
	if err != nil {
		log.Error("certificate transaction failed", zap.Error(err))
		return fail(errs.CodeInternal, "certificate was not issued; safe to retry")
	}
	if out.AlreadyIssued {
		return out
	}

	log.Info("certificate issued", zap.String("certificate_id", out.CertificateID), zap.String("code", out.VerificationCode))
	s.publishIssued(ctx, req, out, version)
	return out
}

func (s *IssuerImpl) publishIssued(ctx context.Context, req IssueRequest, r Result, version int) {
	if s.events == nil {
		return
	}
	_, err := s.events.Publish(ctx, model.DomainEvent{
		Type:        model.EventCertificateIssued,
		ActorUserID: req.TargetUserID,
		TargetID:    r.CertificateID,
		Context:     model.EventContext{CourseID: req.CourseID},
		Payload: map[string]any{
			"verificationCode": r.VerificationCode,
			"courseVersion":    version,
		},
	})
	if err != nil {
		s.log.Warn("publish CERTIFICATE_ISSUED failed", zap.String("certificate_id", r.CertificateID), zap.Error(err))
	}
}

func studentName(p model.UserProfile, uid string) string {
	switch {
	case p.DisplayName != "":
		return p.DisplayName
	case p.Email != "":
		return p.Email
	}
	return uid
}

// Verify returns the public record for a verification code.
func (s *IssuerImpl) Verify(ctx context.Context, code string) (model.CertificatePublic, error) {
	code = NormalizeCode(code)
	if code == "" {
		return model.CertificatePublic{}, errs.ErrInvalidArgument
	}
	pub, err := docstore.GetAs[model.CertificatePublic](ctx, s.store, docstore.Doc(model.CollCertificatePublic, code))
	if err != nil {
		return model.CertificatePublic{}, fmt.Errorf("verify %s: %w", code, err)
	}
	return pub, nil
}
