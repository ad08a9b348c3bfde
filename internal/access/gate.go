// Package access decides whether a user may consume a course's content.
package access

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/errs"
	"github.com/and161185/lms-core/internal/model"
)

// Reader is what the gate needs from a store. Both docstore.Store and
// docstore.Tx satisfy it, so the gate can run inside a transaction.
type Reader interface {
	docstore.Getter
	ServerTime(ctx context.Context) (time.Time, error)
}

// Gate asserts course access.
type Gate interface {
	// AssertAccess returns the capability for (userID, courseID) or an *errs.AccessError.
	AssertAccess(ctx context.Context, userID, courseID string) (model.AccessContext, error)
}

// GateImpl implements Gate over a document store. It has no side effects.
type GateImpl struct {
	store Reader
	log   *zap.Logger
}

var _ Gate = (*GateImpl)(nil)

// NewGate constructs a Gate.
func NewGate(store Reader, log *zap.Logger) *GateImpl {
	if log == nil {
		log = zap.NewNop()
	}
	return &GateImpl{store: store, log: log}
}

// AssertAccess runs the checks in order and stops at the first failure.
func (g *GateImpl) AssertAccess(ctx context.Context, userID, courseID string) (model.AccessContext, error) {
	if userID == "" {
		return model.AccessContext{}, g.deny(userID, courseID, errs.CodeAuthRequired, "sign-in required")
	}
	key := model.EnrollmentKey{UserID: userID, CourseID: courseID}
	base := model.AccessContext{UserID: userID, CourseID: courseID, EnrollmentID: key.ID()}

	profile, err := docstore.GetAs[model.UserProfile](ctx, g.store, docstore.Doc(model.CollUsers, userID))
	if err != nil && !errors.Is(err, errs.ErrNotFound) {
		return model.AccessContext{}, fmt.Errorf("load user: %w", err)
	}
	if profile.IsAdmin() {
		base.PaymentMethod = model.PaymentAdmin
		base.IsAdminOverride = true
		return base, nil
	}

	enr, err := docstore.GetAs[model.Enrollment](ctx, g.store, docstore.Doc(model.CollEnrollments, key.ID()))
	switch {
	case errors.Is(err, errs.ErrNotFound):
		if !profile.HasLegacyEnrollment(courseID) {
			return model.AccessContext{}, g.deny(userID, courseID, errs.CodeEnrollmentNotFound, "no enrollment")
		}
		base.PaymentMethod = model.PaymentLegacy
		base.IsLegacy = true
		course, err := g.course(ctx, userID, courseID)
		if err != nil {
			return model.AccessContext{}, err
		}
		base.CourseVersion = course.ContentRevision
		return base, nil
	case err != nil:
		return model.AccessContext{}, fmt.Errorf("load enrollment: %w", err)
	}

	switch {
	case IsEnrollmentGranting(enr.Status):
	case enr.Status == model.StatusPendingApproval || enr.Status == model.StatusPending:
		return model.AccessContext{}, g.deny(userID, courseID, errs.CodeEnrollmentPending, "enrollment is pending approval")
	case enr.Status == model.StatusExpired:
		return model.AccessContext{}, g.deny(userID, courseID, errs.CodeEnrollmentExpired, "enrollment has expired")
	default:
		return model.AccessContext{}, g.deny(userID, courseID, errs.CodeEnrollmentStatusNotActive,
			fmt.Sprintf("enrollment status %q", enr.Status))
	}

	if enr.PaymentMethod == model.PaymentSubscription {
		if enr.AccessUntil == nil {
			return model.AccessContext{}, g.deny(userID, courseID, errs.CodeConfigError, "subscription enrollment without accessUntil")
		}
		now, err := g.store.ServerTime(ctx)
		if err != nil {
			return model.AccessContext{}, fmt.Errorf("server time: %w", err)
		}
		if !enr.AccessUntil.After(now) {
			return model.AccessContext{}, g.deny(userID, courseID, errs.CodeEnrollmentExpired, "subscription period has ended")
		}
	}

	if _, err := g.course(ctx, userID, courseID); err != nil {
		return model.AccessContext{}, err
	}

	base.PaymentMethod = enr.PaymentMethod
	if base.PaymentMethod == "" {
		base.PaymentMethod = model.PaymentFree
	}
	base.CourseVersion = enr.CourseVersionAtEnrollment
	base.AccessUntil = enr.AccessUntil
	return base, nil
}

// course loads the course and applies the visibility checks. Closed courses pass.
func (g *GateImpl) course(ctx context.Context, userID, courseID string) (model.Course, error) {
	c, err := docstore.GetAs[model.Course](ctx, g.store, docstore.Doc(model.CollCourses, courseID))
	if errors.Is(err, errs.ErrNotFound) {
		return model.Course{}, g.deny(userID, courseID, errs.CodeCourseNotAvailable, "course not found")
	}
	if err != nil {
		return model.Course{}, fmt.Errorf("load course: %w", err)
	}
	c.ID = courseID
	if IsCourseGloballyBlocked(c) {
		if !c.Published() {
			return model.Course{}, g.deny(userID, courseID, errs.CodeCourseNotPublished, "course is not published")
		}
		return model.Course{}, g.deny(userID, courseID, errs.CodeCourseArchived, "course is archived")
	}
	return c, nil
}

func (g *GateImpl) deny(userID, courseID string, code errs.Code, msg string) error {
	fields := []zap.Field{
		zap.String("user_id", userID),
		zap.String("course_id", courseID),
		zap.String("code", string(code)),
	}
	if code.IsOperatorFacing() {
		g.log.Error("access misconfiguration", append(fields, zap.String("detail", msg))...)
	} else {
		g.log.Debug("access denied", fields...)
	}
	return errs.New(code, msg)
}
