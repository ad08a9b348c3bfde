// Package progress records lesson progress and keeps the enrollment's
// progress summary derived from the current published course tree.
package progress

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/and161185/lms-core/internal/access"
	"github.com/and161185/lms-core/internal/certificate"
	"github.com/and161185/lms-core/internal/curriculum"
	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/errs"
	"github.com/and161185/lms-core/internal/events"
	"github.com/and161185/lms-core/internal/model"
	"github.com/and161185/lms-core/internal/throttle"
)

// LessonUpdate is a partial progress report for one lesson.
type LessonUpdate struct {
	Status           string
	Percent          int
	MaxWatchedSecond int
}

// CertificateIssuer is invoked when a recalculation reaches 100%.
type CertificateIssuer interface {
	Issue(ctx context.Context, req certificate.IssueRequest) certificate.Result
}

// Subscriber registers event handlers.
type Subscriber interface {
	Subscribe(t model.EventType, h events.Handler)
}

// Service records progress and recalculates enrollment summaries.
type Service interface {
	MarkLessonCompleted(ctx context.Context, userID, courseID, moduleID, lessonID string) error
	UpdateLessonProgress(ctx context.Context, userID, courseID, moduleID, lessonID string, u LessonUpdate) error
	Recalculate(ctx context.Context, userID, courseID string) (model.ProgressSummary, error)
	HandleEvent(ctx context.Context, ev model.DomainEvent) error
}

// ServiceImpl implements Service.
type ServiceImpl struct {
	store   docstore.Store
	gate    access.Gate
	events  events.Outbox
	issuer  CertificateIssuer
	limiter throttle.Limiter
	log     *zap.Logger
}

var _ Service = (*ServiceImpl)(nil)

// Option configures a ServiceImpl.
type Option func(*ServiceImpl)

// WithEvents appends LESSON_COMPLETED to the outbox. Without it completions
// recalculate synchronously.
func WithEvents(l events.Outbox) Option { return func(s *ServiceImpl) { s.events = l } }

// WithIssuer enables automatic certification at 100%.
func WithIssuer(i CertificateIssuer) Option { return func(s *ServiceImpl) { s.issuer = i } }

// WithLimiter throttles partial progress heartbeats.
func WithLimiter(l throttle.Limiter) Option { return func(s *ServiceImpl) { s.limiter = l } }

// NewService constructs a progress service.
func NewService(store docstore.Store, gate access.Gate, log *zap.Logger, opts ...Option) *ServiceImpl {
	if log == nil {
		log = zap.NewNop()
	}
	s := &ServiceImpl{store: store, gate: gate, limiter: throttle.Nop{}, log: log}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Register subscribes HandleEvent to the events that change progress.
func (s *ServiceImpl) Register(sub Subscriber) {
	sub.Subscribe(model.EventLessonCompleted, s.HandleEvent)
	sub.Subscribe(model.EventAssessmentGraded, s.HandleEvent)
}

func (s *ServiceImpl) authorize(ctx context.Context, userID, courseID, moduleID, lessonID string) error {
	if userID == "" {
		return errs.New(errs.CodeAuthRequired, "sign-in required")
	}
	if _, err := curriculum.GetLesson(ctx, s.store, courseID, moduleID, lessonID); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			s.log.Warn("progress for a lesson outside the course tree",
				zap.String("user_id", userID),
				zap.String("course_id", courseID),
				zap.String("module_id", moduleID),
				zap.String("lesson_id", lessonID),
			)
			return fmt.Errorf("%w: invalid lesson context", errs.ErrInvalidArgument)
		}
		return err
	}
	if _, err := s.gate.AssertAccess(ctx, userID, courseID); err != nil {
		return err
	}
	return nil
}

// touchEnrollment stamps lastAccessedAt when the enrollment exists. Admin and
// legacy access have no enrollment document.
func touchEnrollment(ctx context.Context, tx docstore.Tx, userID, courseID string, now time.Time) error {
	ref := docstore.Doc(model.CollEnrollments, model.EnrollmentKey{UserID: userID, CourseID: courseID}.ID())
	if _, err := tx.Get(ctx, ref); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return nil
		}
		return err
	}
	return tx.Set(ctx, ref, map[string]any{"lastAccessedAt": now}, docstore.Merge())
}

func progressRef(userID, courseID, lessonID string) docstore.Ref {
	return docstore.Doc(model.CollProgress, model.ProgressKey{UserID: userID, CourseID: courseID, LessonID: lessonID}.ID())
}

// loadRecord returns the zero record when none exists yet.
func loadRecord(ctx context.Context, tx docstore.Tx, ref docstore.Ref) (model.ProgressRecord, error) {
	rec, err := docstore.GetAs[model.ProgressRecord](ctx, tx, ref)
	if errors.Is(err, errs.ErrNotFound) {
		return model.ProgressRecord{}, nil
	}
	return rec, err
}

// MarkLessonCompleted records a completion for a lesson that exists under the
// given module, keeping the first completedAt. A new completion appends
// LESSON_COMPLETED in the same transaction; repeats are no-ops.
func (s *ServiceImpl) MarkLessonCompleted(ctx context.Context, userID, courseID, moduleID, lessonID string) error {
	if err := s.authorize(ctx, userID, courseID, moduleID, lessonID); err != nil {
		return err
	}

	ref := progressRef(userID, courseID, lessonID)
	var staged *model.DomainEvent
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		staged = nil
		rec, err := loadRecord(ctx, tx, ref)
		if err != nil {
			return err
		}
		now, err := tx.ServerTime(ctx)
		if err != nil {
			return err
		}
		if err := touchEnrollment(ctx, tx, userID, courseID, now); err != nil {
			return err
		}
		if rec.Status == model.ProgressCompleted && rec.CompletedAt != nil {
			return nil
		}

		err = tx.Set(ctx, ref, map[string]any{
			"userId":      userID,
			"courseId":    courseID,
			"moduleId":    moduleID,
			"lessonId":    lessonID,
			"status":      model.ProgressCompleted,
			"percent":     100,
			"completedAt": now,
			"updatedAt":   now,
		}, docstore.Merge())
		if err != nil {
			return err
		}
		if s.events == nil {
			return nil
		}
		ev, err := s.events.Append(ctx, tx, model.DomainEvent{
			Type:        model.EventLessonCompleted,
			ActorUserID: userID,
			TargetID:    ref.ID,
			Context:     model.EventContext{CourseID: courseID, ModuleID: moduleID, LessonID: lessonID},
		})
		if err != nil {
			return err
		}
		staged = &ev
		return nil
	})
	if err != nil {
		return fmt.Errorf("mark lesson completed: %w", err)
	}

	switch {
	case staged != nil:
		s.events.Dispatch(ctx, *staged)
	case s.events == nil:
		if _, err := s.Recalculate(ctx, userID, courseID); err != nil {
			s.log.Error("recalculate after completion failed",
				zap.String("user_id", userID), zap.String("course_id", courseID), zap.Error(err))
		}
	}
	return nil
}

// UpdateLessonProgress stores a partial progress heartbeat. maxWatchedSecond
// and percent never decrease and a completed record stays completed. A
// completed update is handled by MarkLessonCompleted.
func (s *ServiceImpl) UpdateLessonProgress(ctx context.Context, userID, courseID, moduleID, lessonID string, u LessonUpdate) error {
	if u.Status == model.ProgressCompleted {
		return s.MarkLessonCompleted(ctx, userID, courseID, moduleID, lessonID)
	}
	if u.Status != "" && u.Status != model.ProgressInProgress {
		return fmt.Errorf("%w: unknown progress status %q", errs.ErrInvalidArgument, u.Status)
	}
	if u.Percent < 0 || u.Percent > 100 || u.MaxWatchedSecond < 0 {
		return fmt.Errorf("%w: percent must be 0..100 and maxWatchedSecond >= 0", errs.ErrInvalidArgument)
	}
	if err := s.authorize(ctx, userID, courseID, moduleID, lessonID); err != nil {
		return err
	}

	ok, wait, err := s.limiter.Allow(ctx, throttle.Key(userID, courseID, lessonID))
	if err != nil {
		s.log.Warn("progress throttle unavailable", zap.Error(err))
	} else if !ok {
		return fmt.Errorf("%w: retry in %s", errs.ErrThrottled, wait.Round(time.Millisecond))
	}

	ref := progressRef(userID, courseID, lessonID)
	err = s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		rec, err := loadRecord(ctx, tx, ref)
		if err != nil {
			return err
		}
		now, err := tx.ServerTime(ctx)
		if err != nil {
			return err
		}
		patch := map[string]any{
			"userId":           userID,
			"courseId":         courseID,
			"moduleId":         moduleID,
			"lessonId":         lessonID,
			"status":           model.ProgressInProgress,
			"percent":          max(rec.Percent, u.Percent),
			"maxWatchedSecond": max(rec.MaxWatchedSecond, u.MaxWatchedSecond),
			"updatedAt":        now,
		}
		if rec.Status == model.ProgressCompleted {
			patch["status"] = model.ProgressCompleted
			patch["percent"] = 100
		}
		if err := tx.Set(ctx, ref, patch, docstore.Merge()); err != nil {
			return err
		}
		return touchEnrollment(ctx, tx, userID, courseID, now)
	})
	if err != nil {
		return fmt.Errorf("update lesson progress: %w", err)
	}
	return nil
}

// Recalculate derives the progress summary from the published course tree and
// the user's completed lessons and writes it onto the enrollment. completedAt
// is stamped once; a regressed status is restored to completed at 100%.
// Without an enrollment document nothing is written. The lesson records are
// read inside the transaction, so a completion landing concurrently forces a
// retry instead of being overwritten by a stale count.
func (s *ServiceImpl) Recalculate(ctx context.Context, userID, courseID string) (model.ProgressSummary, error) {
	log := s.log.With(zap.String("user_id", userID), zap.String("course_id", courseID))

	var sum model.ProgressSummary
	ref := docstore.Doc(model.CollEnrollments, model.EnrollmentKey{UserID: userID, CourseID: courseID}.ID())
	found := false
	err := s.store.RunTransaction(ctx, func(ctx context.Context, tx docstore.Tx) error {
		st, err := curriculum.LoadPublished(ctx, s.store, courseID)
		if err != nil {
			return fmt.Errorf("derive progress: %w", err)
		}
		done, err := curriculum.ReadCompletions(ctx, tx, st, userID, courseID)
		if err != nil {
			return fmt.Errorf("derive progress: %w", err)
		}
		sum = curriculum.Tally(st, done).Summary

		enr, err := docstore.GetAs[model.Enrollment](ctx, tx, ref)
		if errors.Is(err, errs.ErrNotFound) {
			found = false
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		now, err := tx.ServerTime(ctx)
		if err != nil {
			return err
		}
		patch := map[string]any{
			"progressSummary": sum,
			"updatedAt":       now,
		}
		if sum.Percent == 100 && access.IsEnrollmentGranting(enr.Status) {
			if enr.CompletedAt == nil {
				patch["completedAt"] = now
			}
			if enr.Status != model.StatusCompleted {
				patch["status"] = model.StatusCompleted
			}
		}
		return tx.Set(ctx, ref, patch, docstore.Merge())
	})
	if err != nil {
		return sum, fmt.Errorf("write progress summary: %w", err)
	}
	if !found {
		log.Debug("no enrollment document, progress summary not stored")
		return sum, nil
	}
	log.Debug("progress recalculated",
		zap.Int("completed", sum.CompletedLessonsCount),
		zap.Int("total", sum.TotalLessons),
		zap.Int("percent", sum.Percent),
	)

	if sum.Percent == 100 && s.issuer != nil {
		r := s.issuer.Issue(ctx, certificate.IssueRequest{CourseID: courseID, TargetUserID: userID, ActingUserID: userID})
		if !r.Success {
			log.Warn("automatic certification failed", zap.String("code", string(r.Error)), zap.String("message", r.Message))
		}
	}
	return sum, nil
}

// HandleEvent recalculates on LESSON_COMPLETED and ASSESSMENT_GRADED. Events
// without a course are dropped so they are not retried forever.
func (s *ServiceImpl) HandleEvent(ctx context.Context, ev model.DomainEvent) error {
	switch ev.Type {
	case model.EventLessonCompleted, model.EventAssessmentGraded:
	default:
		return nil
	}
	if ev.ActorUserID == "" || ev.Context.CourseID == "" {
		s.log.Warn("progress event without user or course", zap.String("event_id", ev.ID), zap.String("event_type", string(ev.Type)))
		return nil
	}
	_, err := s.Recalculate(ctx, ev.ActorUserID, ev.Context.CourseID)
	return err
}
