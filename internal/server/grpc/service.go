package grpcserver

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "lms.v1.CourseCore"

// Method names of lms.v1.CourseCore.
const (
	MethodAssertAccess         = "AssertAccess"
	MethodMarkLessonCompleted  = "MarkLessonCompleted"
	MethodUpdateLessonProgress = "UpdateLessonProgress"
	MethodRecalculateProgress  = "RecalculateProgress"
	MethodIssueCertificate     = "IssueCertificate"
	MethodVerifyCertificate    = "VerifyCertificate"
	MethodActivateEnrollment   = "ActivateEnrollment"
	MethodExpireEnrollment     = "ExpireEnrollment"
)

// FullMethod renders /lms.v1.CourseCore/<method>.
func FullMethod(method string) string { return "/" + ServiceName + "/" + method }

// CourseCoreServer is the server API. Every message is a structpb.Struct
// carrying the JSON shapes from internal/convert.
type CourseCoreServer interface {
	AssertAccess(context.Context, *structpb.Struct) (*structpb.Struct, error)
	MarkLessonCompleted(context.Context, *structpb.Struct) (*structpb.Struct, error)
	UpdateLessonProgress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecalculateProgress(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IssueCertificate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyCertificate(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ActivateEnrollment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	ExpireEnrollment(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type unaryMethod func(CourseCoreServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func handler(name string, call unaryMethod) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(CourseCoreServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*structpb.Struct))
			})
		},
	}
}

// ServiceDesc describes lms.v1.CourseCore for grpc.ServiceRegistrar.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*CourseCoreServer)(nil),
	Methods: []grpc.MethodDesc{
		handler(MethodAssertAccess, CourseCoreServer.AssertAccess),
		handler(MethodMarkLessonCompleted, CourseCoreServer.MarkLessonCompleted),
		handler(MethodUpdateLessonProgress, CourseCoreServer.UpdateLessonProgress),
		handler(MethodRecalculateProgress, CourseCoreServer.RecalculateProgress),
		handler(MethodIssueCertificate, CourseCoreServer.IssueCertificate),
		handler(MethodVerifyCertificate, CourseCoreServer.VerifyCertificate),
		handler(MethodActivateEnrollment, CourseCoreServer.ActivateEnrollment),
		handler(MethodExpireEnrollment, CourseCoreServer.ExpireEnrollment),
	},
	Metadata: "lms/v1/course_core.proto",
}

// RegisterCourseCoreServer registers srv on s.
func RegisterCourseCoreServer(s grpc.ServiceRegistrar, srv CourseCoreServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls lms.v1.CourseCore over a connection.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(cc grpc.ClientConnInterface) *Client { return &Client{cc: cc} }

// Call invokes method with in and returns the response message.
func (c *Client) Call(ctx context.Context, method string, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
