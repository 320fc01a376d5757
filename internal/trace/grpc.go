package trace

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// UnaryServerInterceptor continues the caller's trace from incoming metadata.
func UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		ctx = WithContext(ctx, fromIncoming(ctx))
		resp, err := handler(ctx, req)
		if err != nil {
			Logger(ctx).Debug("grpc call failed", "method", info.FullMethod, "error", err)
		}
		return resp, err
	}
}

// StreamServerInterceptor is the streaming counterpart, used by health Watch.
func StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		ctx := WithContext(ss.Context(), fromIncoming(ss.Context()))
		return handler(srv, &tracedStream{ServerStream: ss, ctx: ctx})
	}
}

type tracedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *tracedStream) Context() context.Context { return s.ctx }

func fromIncoming(ctx context.Context) Context {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return New()
	}
	return Continue(first(md.Get(TraceIDKey)), first(md.Get(SpanIDKey)))
}

func first(vals []string) string {
	if len(vals) == 0 {
		return ""
	}
	return vals[0]
}
