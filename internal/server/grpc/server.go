// Package grpcserver exposes the course core over gRPC.
package grpcserver

import (
	"context"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/lms-core/internal/access"
	"github.com/and161185/lms-core/internal/certificate"
	"github.com/and161185/lms-core/internal/convert"
	"github.com/and161185/lms-core/internal/enrollment"
	"github.com/and161185/lms-core/internal/errs"
	"github.com/and161185/lms-core/internal/model"
	"github.com/and161185/lms-core/internal/progress"
)

// Server wires services into gRPC handlers.
type Server struct {
	gate     access.Gate
	progress progress.Service
	issuer   certificate.Issuer
	enroll   enrollment.Service
	log      *zap.Logger
}

var _ CourseCoreServer = (*Server)(nil)

// New constructs a gRPC server with injected services.
func New(gate access.Gate, prog progress.Service, issuer certificate.Issuer, enroll enrollment.Service, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{gate: gate, progress: prog, issuer: issuer, enroll: enroll, log: log}
}

func caller(ctx context.Context) (Identity, error) {
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return Identity{}, status.Error(codes.Unauthenticated, string(errs.CodeAuthRequired))
	}
	return id, nil
}

func admin(ctx context.Context) (Identity, error) {
	id, err := caller(ctx)
	if err != nil {
		return Identity{}, err
	}
	if !id.Admin {
		return Identity{}, status.Error(codes.PermissionDenied, string(errs.CodeUnauthorized))
	}
	return id, nil
}

func decode(in *structpb.Struct, v any) error {
	if err := convert.FromStruct(in, v); err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	return nil
}

func (s *Server) encode(op string, v any) (*structpb.Struct, error) {
	out, err := convert.ToStruct(v)
	if err != nil {
		s.log.Error(op+": encode", zap.Error(err))
		return nil, status.Error(codes.Internal, "internal")
	}
	return out, nil
}

func ok() *structpb.Struct {
	out, _ := structpb.NewStruct(map[string]any{"ok": true})
	return out
}

// AssertAccess returns the caller's capability for a course.
func (s *Server) AssertAccess(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	var req convert.CourseRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.CourseID == "" {
		return nil, status.Error(codes.InvalidArgument, "courseId required")
	}
	ac, err := s.gate.AssertAccess(ctx, id.UserID, req.CourseID)
	if err != nil {
		return nil, s.toStatus("assert access", err)
	}
	return s.encode("assert access", ac)
}

func lessonRequest(in *structpb.Struct) (convert.LessonRequest, error) {
	var req convert.LessonRequest
	if err := decode(in, &req); err != nil {
		return req, err
	}
	if req.CourseID == "" || req.ModuleID == "" || req.LessonID == "" {
		return req, status.Error(codes.InvalidArgument, "courseId, moduleId and lessonId required")
	}
	return req, nil
}

// MarkLessonCompleted records a completion for the caller.
func (s *Server) MarkLessonCompleted(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	req, err := lessonRequest(in)
	if err != nil {
		return nil, err
	}
	if err := s.progress.MarkLessonCompleted(ctx, id.UserID, req.CourseID, req.ModuleID, req.LessonID); err != nil {
		return nil, s.toStatus("mark lesson completed", err)
	}
	return ok(), nil
}

// UpdateLessonProgress records partial progress for the caller.
func (s *Server) UpdateLessonProgress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	req, err := lessonRequest(in)
	if err != nil {
		return nil, err
	}
	u := progress.LessonUpdate{
		Status:           req.Status,
		Percent:          req.Percent,
		MaxWatchedSecond: req.MaxWatchedSecond,
	}
	if err := s.progress.UpdateLessonProgress(ctx, id.UserID, req.CourseID, req.ModuleID, req.LessonID, u); err != nil {
		return nil, s.toStatus("update lesson progress", err)
	}
	return ok(), nil
}

// RecalculateProgress rebuilds a progress summary. Admins may name another user.
func (s *Server) RecalculateProgress(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := caller(ctx)
	if err != nil {
		return nil, err
	}
	var req convert.CourseRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.CourseID == "" {
		return nil, status.Error(codes.InvalidArgument, "courseId required")
	}
	target := id.UserID
	if req.UserID != "" && req.UserID != id.UserID {
		if !id.Admin {
			return nil, status.Error(codes.PermissionDenied, string(errs.CodeUnauthorized))
		}
		target = req.UserID
	}
	sum, err := s.progress.Recalculate(ctx, target, req.CourseID)
	if err != nil {
		return nil, s.toStatus("recalculate progress", err)
	}
	return s.encode("recalculate progress", convert.SummaryResponse{ProgressSummary: sum})
}

// IssueCertificate mints or returns a certificate. Business failures come
// back in the response body, not as a status.
func (s *Server) IssueCertificate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req convert.CourseRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	id, ok := IdentityFromCtx(ctx)
	if !ok {
		return s.encode("issue certificate", convert.ToCertificateResponse(certificate.Result{
			Error:   errs.CodeAuthRequired,
			Message: "sign-in required",
			Status:  certificate.StatusFor(errs.CodeAuthRequired),
		}))
	}
	target := req.UserID
	if target == "" {
		target = id.UserID
	}
	res := s.issuer.Issue(ctx, certificate.IssueRequest{
		CourseID:      req.CourseID,
		TargetUserID:  target,
		ActingUserID:  id.UserID,
		ActingIsAdmin: id.Admin,
	})
	return s.encode("issue certificate", convert.ToCertificateResponse(res))
}

// VerifyCertificate resolves a public verification code. It needs no token.
func (s *Server) VerifyCertificate(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req convert.VerifyRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.Code == "" {
		return nil, status.Error(codes.InvalidArgument, "code required")
	}
	pub, err := s.issuer.Verify(ctx, req.Code)
	if err != nil {
		return nil, s.toStatus("verify certificate", err)
	}
	return s.encode("verify certificate", pub)
}

func actorOf(id Identity) model.AuditActor {
	return model.AuditActor{UID: id.UserID, Role: model.RoleAdmin}
}

// ActivateEnrollment grants access. Admin only.
func (s *Server) ActivateEnrollment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := admin(ctx)
	if err != nil {
		return nil, err
	}
	var req convert.ActivateRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res, err := s.enroll.Activate(ctx, enrollment.ActivateRequest{
		UserID:        req.UserID,
		CourseID:      req.CourseID,
		SourceRef:     req.SourceRef,
		PaymentMethod: req.PaymentMethod,
		AccessUntil:   req.AccessUntil,
		Actor:         actorOf(id),
	})
	if err != nil {
		return nil, s.toStatus("activate enrollment", err)
	}
	return s.encode("activate enrollment", convert.ToActivateResponse(res))
}

// ExpireEnrollment revokes access. Admin only.
func (s *Server) ExpireEnrollment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := admin(ctx)
	if err != nil {
		return nil, err
	}
	var req convert.ExpireRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	if req.UserID == "" || req.CourseID == "" {
		return nil, status.Error(codes.InvalidArgument, "userId and courseId required")
	}
	if err := s.enroll.Expire(ctx, req.UserID, req.CourseID, actorOf(id)); err != nil {
		return nil, s.toStatus("expire enrollment", err)
	}
	return ok(), nil
}
