package grpcserver

import (
	"context"
	"errors"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/and161185/lms-core/internal/errs"
)

// CodeFor maps an access code to a gRPC status code.
func CodeFor(c errs.Code) codes.Code {
	switch c {
	case errs.CodeAuthRequired:
		return codes.Unauthenticated
	case errs.CodeEnrollmentNotFound, errs.CodeCourseNotAvailable:
		return codes.NotFound
	case errs.CodeCourseEmptyOrUnpublished, errs.CodeProgressIncomplete:
		return codes.FailedPrecondition
	case errs.CodeConfigError, errs.CodeInternal:
		return codes.Internal
	default:
		return codes.PermissionDenied
	}
}

// toStatus converts a service error to a gRPC status. Access denials keep
// their "CODE: message" text so clients can recover the Code.
func (s *Server) toStatus(op string, err error) error {
	if c := errs.CodeOf(err); c != "" {
		var ae *errs.AccessError
		errors.As(err, &ae)
		return status.Error(CodeFor(c), ae.Error())
	}
	switch {
	case errors.Is(err, errs.ErrInvalidArgument):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, errs.ErrNotFound):
		return status.Error(codes.NotFound, "not found")
	case errors.Is(err, errs.ErrThrottled):
		return status.Error(codes.ResourceExhausted, "throttled")
	case errors.Is(err, errs.ErrUnauthorized):
		return status.Error(codes.PermissionDenied, string(errs.CodeUnauthorized))
	case errors.Is(err, errs.ErrConflict):
		return status.Error(codes.Aborted, "conflict, retry")
	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, "canceled")
	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, "deadline exceeded")
	}
	s.log.Error(op+" failed", zap.Error(err))
	return status.Error(codes.Internal, "internal")
}

// CodeFromStatus recovers the access Code from a status produced by the server.
func CodeFromStatus(err error) errs.Code {
	st, ok := status.FromError(err)
	if !ok {
		return ""
	}
	head, _, _ := strings.Cut(st.Message(), ":")
	return errs.ParseCode(head)
}
