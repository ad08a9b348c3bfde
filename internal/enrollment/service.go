package enrollment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/lms-core/internal/access"
	"github.com/and161185/lms-core/internal/audit"
	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/errs"
	"github.com/and161185/lms-core/internal/events"
	"github.com/and161185/lms-core/internal/model"
)

// Audit actions.
const (
	ActionActivated = "ENROLLMENT_ACTIVATED"
	ActionExpired   = "ENROLLMENT_EXPIRED"
)

// SystemActor is used for sweeps and provider callbacks.
var SystemActor = model.AuditActor{UID: "system", Role: "cron"}

// ActivateRequest grants a user access to a course.
type ActivateRequest struct {
	UserID        string
	CourseID      string
	SourceRef     string // payment session or grant id; repeats are no-ops
	PaymentMethod string
	AccessUntil   *time.Time
	Actor         model.AuditActor
}

// ActivateResult describes what Activate did.
type ActivateResult struct {
	EnrollmentID string
	Created      bool
	Unchanged    bool
}

// Service manages the enrollment lifecycle.
type Service interface {
	Activate(ctx context.Context, req ActivateRequest) (ActivateResult, error)
	Expire(ctx context.Context, userID, courseID string, actor model.AuditActor) error
	ExpireDue(ctx context.Context) (int, error)
}

// ServiceImpl implements Service over a document store.
type ServiceImpl struct {
	store  docstore.Store
	audit  audit.Logger
	events events.Outbox
	log    *zap.Logger
}

var _ Service = (*ServiceImpl)(nil)

// NewService constructs a Service. auditLog and outbox may be nil.
func NewService(store docstore.Store, auditLog audit.Logger, outbox events.Outbox, log *zap.Logger) *ServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	if auditLog == nil {
		auditLog = audit.Nop{}
	}
	return &ServiceImpl{store: store, audit: auditLog, events: outbox, log: log}
}

func validMethod(m string) bool {
	switch m {
	case model.PaymentStripe, model.PaymentSubscription, model.PaymentFree, model.PaymentAdmin:
		return true
	}
	return false
}

func enrollmentRef(userID, courseID string) docstore.Ref {
	return docstore.Doc(model.CollEnrollments, model.EnrollmentKey{UserID: userID, CourseID: courseID}.ID())
}

// Activate creates or reactivates the enrollment. The first activation
// snapshots the course content revision; a closed course accepts renewals but
// no new students.
func (s *ServiceImpl) Activate(ctx context.Context, req ActivateRequest) (ActivateResult, error) {
	if req.UserID == "" || req.CourseID == "" {
		return ActivateResult{}, fmt.Errorf("%w: user and course are required", errs.ErrInvalidArgument)
	}
	if req.PaymentMethod == "" {
		req.PaymentMethod = model.PaymentStripe
	}
	if !validMethod(req.PaymentMethod) {
		return ActivateResult{}, fmt.Errorf("%w: unknown payment method %q", errs.ErrInvalidArgument, req.PaymentMethod)
	}
	if req.PaymentMethod == model.PaymentSubscription && req.AccessUntil == nil {
		return ActivateResult{}, fmt.Errorf("%w: subscription requires accessUntil", errs.ErrInvalidArgument)
	}

	course, err := docstore.GetAs[model.Course](ctx, s.store, docstore.Doc(model.CollCourses, req.CourseID))
	if errors.Is(err, errs.ErrNotFound) {
		return ActivateResult{}, errs.New(errs.CodeCourseNotAvailable, "course not found")
	}
	if err != nil {
		return ActivateResult{}, err
	}
	if access.IsCourseGloballyBlocked(course) {
		return ActivateResult{}, errs.New(errs.CodeCourseNotAvailable, "course is not open for enrollment")
	}
	revision := max(course.ContentRevision, 1)

	ref := enrollmentRef(req.UserID, req.CourseID)
	res := ActivateResult{EnrollmentID: ref.ID}
	var staged *model.DomainEvent
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		staged = nil
		res.Created, res.Unchanged = false, false

		prev, err := docstore.GetAs[model.Enrollment](ctx, tx, ref)
		exists := err == nil
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		if exists && req.SourceRef != "" && prev.SourceRef == req.SourceRef && prev.Status == model.StatusActive {
			res.Unchanged = true
			return nil
		}
		if !exists && course.Status == model.CourseClosed {
			return errs.New(errs.CodeCourseNotAvailable, "course is closed to new students")
		}
		profile, err := docstore.GetAs[model.UserProfile](ctx, tx, docstore.Doc(model.CollUsers, req.UserID))
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		now, err := tx.ServerTime(ctx)
		if err != nil {
			return err
		}

		patch := map[string]any{
			"userId":        req.UserID,
			"courseId":      req.CourseID,
			"status":        model.StatusActive,
			"paymentMethod": req.PaymentMethod,
			"sourceRef":     req.SourceRef,
			"updatedAt":     now,
		}
		if req.AccessUntil != nil {
			patch["accessUntil"] = req.AccessUntil.UTC()
		}
		if !exists || prev.CourseVersionAtEnrollment == 0 {
			patch["courseVersionAtEnrollment"] = revision
		}
		if !exists {
			patch["createdAt"] = now
			patch["progressSummary"] = model.ProgressSummary{}
			res.Created = true
		}
		if err := tx.Set(ctx, ref, patch, docstore.Merge()); err != nil {
			return err
		}
		if !profile.HasLegacyEnrollment(req.CourseID) {
			ids := append(append([]string(nil), profile.EnrolledCourseIDs...), req.CourseID)
			if err := tx.Set(ctx, docstore.Doc(model.CollUsers, req.UserID), map[string]any{"enrolledCourseIds": ids}, docstore.Merge()); err != nil {
				return err
			}
		}
		if err := s.audit.RecordTx(ctx, tx, model.AuditEntry{
			Actor:  req.Actor,
			Action: ActionActivated,
			Target: model.AuditTarget{Collection: model.CollEnrollments, ID: ref.ID, Summary: course.Title},
			Metadata: map[string]any{
				"sourceRef":     req.SourceRef,
				"paymentMethod": req.PaymentMethod,
				"created":       res.Created,
			},
		}); err != nil {
			return err
		}
		if s.events == nil {
			return nil
		}
		ev, err := s.events.Append(ctx, tx, model.DomainEvent{
			Type:        model.EventCourseEnrolled,
			ActorUserID: req.UserID,
			TargetID:    ref.ID,
			Context:     model.EventContext{CourseID: req.CourseID},
			Payload:     map[string]any{"paymentMethod": req.PaymentMethod},
		})
		if err != nil {
			return err
		}
		staged = &ev
		return nil
	})
	if err != nil {
		return ActivateResult{}, fmt.Errorf("activate %s: %w", ref.ID, err)
	}
	if staged != nil {
		s.events.Dispatch(ctx, *staged)
	}
	if !res.Unchanged {
		s.log.Info("enrollment activated",
			zap.String("enrollment_id", ref.ID),
			zap.String("payment_method", req.PaymentMethod),
			zap.Bool("created", res.Created),
		)
	}
	return res, nil
}

// Expire marks the enrollment expired and drops the course from the legacy
// access list. Expiring an expired enrollment is a no-op.
func (s *ServiceImpl) Expire(ctx context.Context, userID, courseID string, actor model.AuditActor) error {
	ref := enrollmentRef(userID, courseID)
	var staged *model.DomainEvent
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		staged = nil
		prev, err := docstore.GetAs[model.Enrollment](ctx, tx, ref)
		if err != nil {
			return err
		}
		if prev.Status == model.StatusExpired {
			return nil
		}
		profile, err := docstore.GetAs[model.UserProfile](ctx, tx, docstore.Doc(model.CollUsers, userID))
		if err != nil && !errors.Is(err, errs.ErrNotFound) {
			return err
		}
		now, err := tx.ServerTime(ctx)
		if err != nil {
			return err
		}
		if err := tx.Set(ctx, ref, map[string]any{"status": model.StatusExpired, "updatedAt": now}, docstore.Merge()); err != nil {
			return err
		}
		if profile.HasLegacyEnrollment(courseID) {
			ids := make([]string, 0, len(profile.EnrolledCourseIDs))
			for _, id := range profile.EnrolledCourseIDs {
				if id != courseID {
					ids = append(ids, id)
				}
			}
			if err := tx.Set(ctx, docstore.Doc(model.CollUsers, userID), map[string]any{"enrolledCourseIds": ids}, docstore.Merge()); err != nil {
				return err
			}
		}
		if err := s.audit.RecordTx(ctx, tx, model.AuditEntry{
			Actor:    actor,
			Action:   ActionExpired,
			Target:   model.AuditTarget{Collection: model.CollEnrollments, ID: ref.ID},
			Metadata: map[string]any{"previousStatus": string(prev.Status)},
		}); err != nil {
			return err
		}
		if s.events == nil {
			return nil
		}
		ev, err := s.events.Append(ctx, tx, model.DomainEvent{
			Type:        model.EventEnrollmentExpired,
			ActorUserID: userID,
			TargetID:    ref.ID,
			Context:     model.EventContext{CourseID: courseID},
		})
		if err != nil {
			return err
		}
		staged = &ev
		return nil
	})
	if err != nil {
		return fmt.Errorf("expire %s: %w", ref.ID, err)
	}
	if staged != nil {
		s.events.Dispatch(ctx, *staged)
		s.log.Info("enrollment expired", zap.String("enrollment_id", ref.ID))
	}
	return nil
}

// ExpireDue expires active subscription enrollments whose accessUntil has
// passed and returns how many were expired.
func (s *ServiceImpl) ExpireDue(ctx context.Context) (int, error) {
	now, err := s.store.ServerTime(ctx)
	if err != nil {
		return 0, err
	}
	snaps, err := s.store.Query(ctx, model.CollEnrollments, docstore.Where(
		docstore.Eq("paymentMethod", model.PaymentSubscription),
		docstore.Eq("status", string(model.StatusActive)),
	))
	if err != nil {
		return 0, fmt.Errorf("list subscriptions: %w", err)
	}
	n := 0
	var errList []error
	for _, sn := range snaps {
		var e model.Enrollment
		if err := sn.DataTo(&e); err != nil {
			errList = append(errList, err)
			continue
		}
		if e.AccessUntil == nil || e.AccessUntil.After(now) {
			continue
		}
		if err := s.Expire(ctx, e.UserID, e.CourseID, SystemActor); err != nil {
			errList = append(errList, err)
			continue
		}
		n++
	}
	return n, errors.Join(errList...)
}
