// ABOUTME: Sysadmin gate interceptor restricting the Admin service to SYSADMIN sessions
// ABOUTME: Runs after the request gate so a Principal is already on the context

package auth

import (
	"context"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// AdminServicePrefix is the gRPC method prefix reserved for sysadmin calls.
const AdminServicePrefix = "/srpgate.v1.Admin/"

// RequireSysadmin returns a gRPC unary interceptor that enforces a SYSADMIN
// session for Admin service methods. Other services pass through unchanged.
func RequireSysadmin() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !strings.HasPrefix(info.FullMethod, AdminServicePrefix) {
			return handler(ctx, req)
		}

		p := PrincipalFromContext(ctx)
		if p == nil {
			return nil, status.Error(codes.Unauthenticated, "authentication required")
		}
		if !p.IsSysadmin() {
			return nil, status.Error(codes.PermissionDenied, "sysadmin session required")
		}

		return handler(ctx, req)
	}
}
