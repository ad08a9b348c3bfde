package enrollment

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/and161185/lms-core/internal/access"
	"github.com/and161185/lms-core/internal/audit"
	"github.com/and161185/lms-core/internal/docstore"
	"github.com/and161185/lms-core/internal/docstore/memstore"
	"github.com/and161185/lms-core/internal/errs"
	"github.com/and161185/lms-core/internal/events"
	"github.com/and161185/lms-core/internal/fixture"
	"github.com/and161185/lms-core/internal/model"
)

func TestComputeAccessStatus(t *testing.T) {
	tests := []struct {
		name string
		p    PaymentStatus
		a    ApprovalStatus
		sub  SubscriptionStatus
		want model.EnrollmentStatus
	}{
		{"paid approved active", PaymentPaid, ApprovalApproved, SubActive, model.StatusActive},
		{"paid approved trialing", PaymentPaid, ApprovalApproved, SubTrialing, model.StatusActive},
		{"rejected wins", PaymentPaid, ApprovalRejected, SubActive, model.StatusCanceled},
		{"subscription canceled", PaymentPaid, ApprovalApproved, SubCanceled, model.StatusCanceled},
		{"subscription unpaid", PaymentPaid, ApprovalApproved, SubUnpaid, model.StatusCanceled},
		{"refunded", PaymentRefunded, ApprovalApproved, SubActive, model.StatusRefunded},
		{"canceled beats refunded", PaymentRefunded, ApprovalApproved, SubCanceled, model.StatusCanceled},
		{"payment failed", PaymentFailed, ApprovalApproved, SubActive, model.StatusCanceled},
		{"past due", PaymentPaid, ApprovalApproved, SubPastDue, model.StatusCanceled},
		{"incomplete expired", PaymentPaid, ApprovalApproved, SubIncompleteExpired, model.StatusCanceled},
		{"awaiting review", PaymentPaid, ApprovalPending, SubActive, model.StatusPendingApproval},
		{"awaiting payment", PaymentPending, ApprovalApproved, SubActive, model.StatusPendingApproval},
		{"paused", PaymentPaid, ApprovalApproved, SubPaused, model.StatusPendingApproval},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, ComputeAccessStatus(tt.p, tt.a, tt.sub))
		})
	}
}

type env struct {
	store *memstore.Store
	now   time.Time
	svc   *ServiceImpl
	got   *[]model.DomainEvent
}

func newEnv(t *testing.T) env {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2030, 6, 1, 12, 0, 0, 0, time.UTC)
	s := memstore.New(memstore.WithClock(func() time.Time { return now }))
	c := fixture.Simple("c1", 2)
	c.ContentRevision = 3
	require.NoError(t, fixture.SeedCourse(ctx, s, c))
	require.NoError(t, fixture.SeedCourse(ctx, s, fixture.Course{ID: "closed", Status: model.CourseClosed}))
	require.NoError(t, fixture.SeedCourse(ctx, s, fixture.Course{ID: "old", Status: model.CourseArchived}))
	require.NoError(t, fixture.SeedUser(ctx, s, "u1", model.UserProfile{EnrolledCourseIDs: []string{"other"}}))

	log := zaptest.NewLogger(t)
	bus := events.NewBus(s, log)
	var got []model.DomainEvent
	record := func(_ context.Context, ev model.DomainEvent) error {
		got = append(got, ev)
		return nil
	}
	bus.Subscribe(model.EventCourseEnrolled, record)
	bus.Subscribe(model.EventEnrollmentExpired, record)
	return env{store: s, now: now, svc: NewService(s, audit.NewStoreLogger(s, log), bus, log), got: &got}
}

func (e env) enrollment(t *testing.T, id string) model.Enrollment {
	t.Helper()
	enr, err := docstore.GetAs[model.Enrollment](context.Background(), e.store, docstore.Doc(model.CollEnrollments, id))
	require.NoError(t, err)
	return enr
}

func (e env) profile(t *testing.T) model.UserProfile {
	t.Helper()
	p, err := docstore.GetAs[model.UserProfile](context.Background(), e.store, docstore.Doc(model.CollUsers, "u1"))
	require.NoError(t, err)
	return p
}

func (e env) audits(t *testing.T) int {
	t.Helper()
	snaps, err := e.store.Query(context.Background(), model.CollAuditLogs, docstore.Query{})
	require.NoError(t, err)
	return len(snaps)
}

func TestActivate_CreatesAndIsIdempotentBySourceRef(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()
	req := ActivateRequest{UserID: "u1", CourseID: "c1", SourceRef: "cs_1", Actor: model.AuditActor{UID: "system", Role: "webhook"}}

	res, err := e.svc.Activate(ctx, req)
	require.NoError(t, err)
	require.Equal(t, ActivateResult{EnrollmentID: "u1_c1", Created: true}, res)

	enr := e.enrollment(t, "u1_c1")
	require.Equal(t, model.StatusActive, enr.Status)
	require.Equal(t, model.PaymentStripe, enr.PaymentMethod)
	require.Equal(t, 3, enr.CourseVersionAtEnrollment)
	require.Equal(t, e.now, *enr.CreatedAt)
	require.Equal(t, []string{"other", "c1"}, e.profile(t).EnrolledCourseIDs)
	require.Len(t, *e.got, 1)
	require.Equal(t, model.EventCourseEnrolled, (*e.got)[0].Type)
	require.Equal(t, 1, e.audits(t))

	res, err = e.svc.Activate(ctx, req)
	require.NoError(t, err)
	require.True(t, res.Unchanged)
	require.Len(t, *e.got, 1)
	require.Equal(t, 1, e.audits(t))
	require.Equal(t, []string{"other", "c1"}, e.profile(t).EnrolledCourseIDs)

	// the gate accepts the new enrollment
	ac, err := access.NewGate(e.store, nil).AssertAccess(ctx, "u1", "c1")
	require.NoError(t, err)
	require.Equal(t, 3, ac.CourseVersion)
}

func TestActivate_CourseAvailability(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Activate(ctx, ActivateRequest{UserID: "u1", CourseID: "closed", SourceRef: "a"})
	require.Equal(t, errs.CodeCourseNotAvailable, errs.CodeOf(err))
	_, err = e.svc.Activate(ctx, ActivateRequest{UserID: "u1", CourseID: "old", SourceRef: "a"})
	require.Equal(t, errs.CodeCourseNotAvailable, errs.CodeOf(err))
	_, err = e.svc.Activate(ctx, ActivateRequest{UserID: "u1", CourseID: "missing", SourceRef: "a"})
	require.Equal(t, errs.CodeCourseNotAvailable, errs.CodeOf(err))

	// existing students of a closed course can renew
	require.NoError(t, fixture.SeedEnrollment(ctx, e.store, model.Enrollment{UserID: "u1", CourseID: "closed", Status: model.StatusExpired}))
	res, err := e.svc.Activate(ctx, ActivateRequest{UserID: "u1", CourseID: "closed", SourceRef: "renew"})
	require.NoError(t, err)
	require.False(t, res.Created)
	require.Equal(t, model.StatusActive, e.enrollment(t, "u1_closed").Status)
	require.Equal(t, 1, e.enrollment(t, "u1_closed").CourseVersionAtEnrollment)
}

func TestActivate_Validation(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	_, err := e.svc.Activate(ctx, ActivateRequest{UserID: "u1", CourseID: "c1", PaymentMethod: model.PaymentSubscription})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = e.svc.Activate(ctx, ActivateRequest{UserID: "u1", CourseID: "c1", PaymentMethod: "barter"})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
	_, err = e.svc.Activate(ctx, ActivateRequest{CourseID: "c1"})
	require.ErrorIs(t, err, errs.ErrInvalidArgument)
}

func TestExpireDue_ExpiresLapsedSubscriptions(t *testing.T) {
	e := newEnv(t)
	ctx := context.Background()

	past := e.now.Add(-time.Hour)
	future := e.now.Add(time.Hour)
	_, err := e.svc.Activate(ctx, ActivateRequest{UserID: "u1", CourseID: "c1", SourceRef: "sub_1", PaymentMethod: model.PaymentSubscription, AccessUntil: &past})
	require.NoError(t, err)
	require.NoError(t, fixture.SeedEnrollment(ctx, e.store, model.Enrollment{
		UserID: "u2", CourseID: "c1", Status: model.StatusActive, PaymentMethod: model.PaymentSubscription, AccessUntil: &future,
	}))

	n, err := e.svc.ExpireDue(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, n)

	require.Equal(t, model.StatusExpired, e.enrollment(t, "u1_c1").Status)
	require.Equal(t, model.StatusActive, e.enrollment(t, "u2_c1").Status)
	require.Equal(t, []string{"other"}, e.profile(t).EnrolledCourseIDs)
	require.Equal(t, model.EventEnrollmentExpired, (*e.got)[len(*e.got)-1].Type)

	_, err = access.NewGate(e.store, nil).AssertAccess(ctx, "u1", "c1")
	require.Equal(t, errs.CodeEnrollmentExpired, errs.CodeOf(err))

	// second sweep finds nothing, direct expire is a no-op
	n, err = e.svc.ExpireDue(ctx)
	require.NoError(t, err)
	require.Zero(t, n)
	audits := e.audits(t)
	require.NoError(t, e.svc.Expire(ctx, "u1", "c1", SystemActor))
	require.Equal(t, audits, e.audits(t))
}

func TestExpire_Missing(t *testing.T) {
	e := newEnv(t)
	err := e.svc.Expire(context.Background(), "u1", "nope", SystemActor)
	require.ErrorIs(t, err, errs.ErrNotFound)
}
