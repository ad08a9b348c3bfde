package grpcserver

import (
	"context"
	"runtime/debug"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"

	"github.com/and161185/lms-core/internal/errs"
)

// LoggingUnary returns a unary server interceptor for structured logging.
func LoggingUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := next(ctx, req)
		code := status.Code(err)

		var remote string
		if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
			remote = p.Addr.String()
		}

		// metadata only, never payloads
		fields := []zap.Field{
			zap.String("method", info.FullMethod),
			zap.String("code", code.String()),
			zap.Duration("dur", time.Since(start)),
			zap.String("peer", remote),
		}
		if id, ok := IdentityFromCtx(ctx); ok {
			fields = append(fields, zap.String("user_id", id.UserID))
		}
		log.Info("grpc", fields...)
		return resp, err
	}
}

// RecoverUnary returns a unary server interceptor that recovers from panics.
func RecoverUnary(log *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("method", info.FullMethod),
				)
				err = status.Error(codes.Internal, "internal")
			}
		}()
		return next(ctx, req)
	}
}

// Identifier resolves the caller of an incoming request.
type Identifier interface {
	Identify(ctx context.Context) (Identity, error)
}

// AuthUnary attaches the caller's Identity to the context. Methods listed in
// public run without one; every other method requires a valid token.
// Chain it before LoggingUnary so request logs carry the user id.
func AuthUnary(idf Identifier, log *zap.Logger, public ...string) grpc.UnaryServerInterceptor {
	if log == nil {
		log = zap.NewNop()
	}
	open := make(map[string]bool, len(public))
	for _, m := range public {
		open[m] = true
	}
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, next grpc.UnaryHandler) (any, error) {
		id, err := idf.Identify(ctx)
		if err == nil {
			return next(WithIdentity(ctx, id), req)
		}
		if open[info.FullMethod] {
			return next(ctx, req)
		}
		log.Info("unauthenticated call rejected", zap.String("method", info.FullMethod), zap.Error(err))
		return nil, status.Error(codes.Unauthenticated, string(errs.CodeAuthRequired))
	}
}
