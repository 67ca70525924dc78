// ABOUTME: gRPC interceptors applying the request gate to unary and streaming calls
// ABOUTME: Reads the bearer token from the authorization metadata key

package auth

import (
	"context"
	"log/slog"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
	"google.golang.org/grpc/status"
)

// logAuthFailure logs an authentication failure with structured context.
func logAuthFailure(logger *slog.Logger, ctx context.Context, reason string, attrs ...any) {
	if logger == nil {
		return
	}
	baseAttrs := []any{"reason", reason}
	if p, ok := peer.FromContext(ctx); ok && p.Addr != nil {
		baseAttrs = append(baseAttrs, "peer_addr", p.Addr.String())
	}
	baseAttrs = append(baseAttrs, attrs...)
	logger.Warn("auth failure", baseAttrs...)
}

var errUnauthenticated = status.Error(codes.Unauthenticated, "unauthorized")

// authenticateGRPC resolves the Principal for a gRPC call.
func (g *Gate) authenticateGRPC(ctx context.Context, method string) (*Principal, error) {
	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		g.reject(ctx, ReasonMissingMetadata, "method", method)
		return nil, errUnauthenticated
	}
	var header string
	if values := md.Get("authorization"); len(values) > 0 {
		header = values[0]
	}
	p, reason := g.authenticate(header)
	if reason != "" {
		g.reject(ctx, reason, "method", method)
		return nil, errUnauthenticated
	}
	return p, nil
}

// UnaryInterceptor returns a gRPC unary interceptor enforcing the gate.
func (g *Gate) UnaryInterceptor() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req any,
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (any, error) {
		if g.Allowed(info.FullMethod) {
			return handler(ctx, req)
		}
		p, err := g.authenticateGRPC(ctx, info.FullMethod)
		if err != nil {
			return nil, err
		}
		return handler(withPrincipal(ctx, p), req)
	}
}

// StreamInterceptor returns a gRPC stream interceptor enforcing the gate.
func (g *Gate) StreamInterceptor() grpc.StreamServerInterceptor {
	return func(
		srv any,
		ss grpc.ServerStream,
		info *grpc.StreamServerInfo,
		handler grpc.StreamHandler,
	) error {
		if g.Allowed(info.FullMethod) {
			return handler(srv, ss)
		}
		p, err := g.authenticateGRPC(ss.Context(), info.FullMethod)
		if err != nil {
			return err
		}
		wrapped := &wrappedServerStream{
			ServerStream: ss,
			ctx:          withPrincipal(ss.Context(), p),
		}
		return handler(srv, wrapped)
	}
}

// wrappedServerStream wraps a grpc.ServerStream with a custom context.
type wrappedServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

// Context returns the wrapped context.
func (w *wrappedServerStream) Context() context.Context {
	return w.ctx
}
