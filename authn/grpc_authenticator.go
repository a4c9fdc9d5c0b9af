package authn

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/kompo/authlib/types"
)

var ErrorMissingMetadata = status.Error(codes.Unauthenticated, "unauthenticated: no metadata found")

// ActorResolver turns an authenticated identity into the actor permissions are checked against.
type ActorResolver func(ctx context.Context, id *Identity) (types.Actor, error)

// AuthenticateFunc authenticates an incoming call and returns the context carrying the actor.
type AuthenticateFunc func(ctx context.Context) (context.Context, error)

// NewAuthenticatorInterceptor authenticates calls from the `authorization` metadata key.
func NewAuthenticatorInterceptor(auth Authenticator, resolve ActorResolver, tracer trace.Tracer) AuthenticateFunc {
	return func(ctx context.Context) (context.Context, error) {
		ctx, span := tracer.Start(ctx, "authn.Authenticate")
		defer span.End()

		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			return nil, ErrorMissingMetadata
		}

		id, err := auth.Authenticate(ctx, NewGRPCTokenProvider(md))
		if err != nil {
			span.RecordError(err)
			if IsUnauthenticatedErr(err) {
				return nil, status.Error(codes.Unauthenticated, err.Error())
			}
			return nil, status.Error(codes.Internal, err.Error())
		}
		span.SetAttributes(attribute.String("subject", id.Subject))

		actor, err := resolve(ctx, id)
		if err != nil {
			span.RecordError(err)
			return nil, status.Error(codes.Internal, err.Error())
		}

		return types.WithActor(ctx, actor), nil
	}
}

// UnaryAuthenticationInterceptor returns a new unary server interceptor that authenticates every call.
func UnaryAuthenticationInterceptor(authFunc AuthenticateFunc) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, _ *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		newCtx, err := authFunc(ctx)
		if err != nil {
			return nil, err
		}
		return handler(newCtx, req)
	}
}

// StreamAuthenticationInterceptor returns a new stream server interceptor that authenticates every stream.
func StreamAuthenticationInterceptor(authFunc AuthenticateFunc) grpc.StreamServerInterceptor {
	return func(srv any, stream grpc.ServerStream, _ *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		newCtx, err := authFunc(stream.Context())
		if err != nil {
			return err
		}
		return handler(srv, &wrappedStream{ServerStream: stream, ctx: newCtx})
	}
}

type wrappedStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (w *wrappedStream) Context() context.Context {
	return w.ctx
}
