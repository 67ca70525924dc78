// ABOUTME: gRPC services for the handshake, account and admin operations
// ABOUTME: Hand-written service descriptors over a JSON codec, guarded by the gate interceptors

package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/encoding"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/2389/srpgate/internal/auth"
	"github.com/2389/srpgate/internal/handshake"
	"github.com/2389/srpgate/internal/store"
)

// CodecName is the content subtype clients must request, e.g. with
// grpc.CallContentSubtype(gateway.CodecName).
const CodecName = "json"

// jsonCodec carries the plain Go message structs as JSON.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

// MeRequest is the empty request of Account/Me.
type MeRequest struct{}

// ListUsersRequest is the request of Admin/ListUsers.
type ListUsersRequest struct {
	Limit int `json:"limit,omitempty"`
}

// ListUsersResponse is the response of Admin/ListUsers.
type ListUsersResponse struct {
	Users []profileResponse `json:"users"`
}

// ListAuditRequest is the request of Admin/ListAudit.
type ListAuditRequest struct {
	Actor    string `json:"actor,omitempty"`
	Action   string `json:"action,omitempty"`
	TargetID string `json:"targetId,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// ListAuditResponse is the response of Admin/ListAudit.
type ListAuditResponse struct {
	Entries []auditResponse `json:"entries"`
}

type handshakeServer interface {
	Step1(ctx context.Context, req *handshake.Step1Request) (*handshake.Step1Response, error)
	Step2(ctx context.Context, req *handshake.Step2Request) (*handshake.Step2Response, error)
}

type accountServer interface {
	Me(ctx context.Context, req *MeRequest) (*auth.Principal, error)
}

type adminServer interface {
	ListUsers(ctx context.Context, req *ListUsersRequest) (*ListUsersResponse, error)
	ListAudit(ctx context.Context, req *ListAuditRequest) (*ListAuditResponse, error)
}

// unaryMethod adapts a typed method to a grpc.MethodHandler.
func unaryMethod[S, Req, Resp any](fullMethod string, call func(S, context.Context, *Req) (*Resp, error)) grpc.MethodHandler {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, status.Error(codes.InvalidArgument, "malformed request")
		}
		if interceptor == nil {
			return call(srv.(S), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(S), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var handshakeServiceDesc = grpc.ServiceDesc{
	ServiceName: "srpgate.v1.Handshake",
	HandlerType: (*handshakeServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Step1", Handler: unaryMethod("/srpgate.v1.Handshake/Step1", handshakeServer.Step1)},
		{MethodName: "Step2", Handler: unaryMethod("/srpgate.v1.Handshake/Step2", handshakeServer.Step2)},
	},
	Metadata: "srpgate/v1/handshake",
}

var accountServiceDesc = grpc.ServiceDesc{
	ServiceName: "srpgate.v1.Account",
	HandlerType: (*accountServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Me", Handler: unaryMethod("/srpgate.v1.Account/Me", accountServer.Me)},
	},
	Metadata: "srpgate/v1/account",
}

var adminServiceDesc = grpc.ServiceDesc{
	ServiceName: "srpgate.v1.Admin",
	HandlerType: (*adminServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "ListUsers", Handler: unaryMethod(auth.AdminServicePrefix+"ListUsers", adminServer.ListUsers)},
		{MethodName: "ListAudit", Handler: unaryMethod(auth.AdminServicePrefix+"ListAudit", adminServer.ListAudit)},
	},
	Metadata: "srpgate/v1/admin",
}

// grpcServices implements every srpgate gRPC service on top of the gateway.
type grpcServices struct {
	g *Gateway
}

func (s grpcServices) Step1(ctx context.Context, req *handshake.Step1Request) (*handshake.Step1Response, error) {
	resp, err := s.g.step1(ctx, *req)
	if err != nil {
		return nil, grpcAuthError(err)
	}
	return &resp, nil
}

// Step2 returns the token in the message since gRPC has no response
// Authorization header.
func (s grpcServices) Step2(ctx context.Context, req *handshake.Step2Request) (*handshake.Step2Response, error) {
	resp, err := s.g.step2(ctx, *req)
	if err != nil {
		return nil, grpcAuthError(err)
	}
	return &resp, nil
}

func (s grpcServices) Me(ctx context.Context, _ *MeRequest) (*auth.Principal, error) {
	p := auth.PrincipalFromContext(ctx)
	if p == nil {
		return nil, status.Error(codes.Unauthenticated, "unauthorized")
	}
	return p, nil
}

func (s grpcServices) ListUsers(ctx context.Context, req *ListUsersRequest) (*ListUsersResponse, error) {
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	profiles, err := s.g.store.ListProfiles(ctx, req.Limit)
	if err != nil {
		s.g.logger.Error("listing profiles", "error", err)
		return nil, status.Error(codes.Internal, "listing users failed")
	}
	out := &ListUsersResponse{Users: make([]profileResponse, 0, len(profiles))}
	for _, p := range profiles {
		out.Users = append(out.Users, newProfileResponse(p))
	}
	return out, nil
}

func (s grpcServices) ListAudit(ctx context.Context, req *ListAuditRequest) (*ListAuditResponse, error) {
	if req.Limit < 0 {
		return nil, status.Error(codes.InvalidArgument, "limit must not be negative")
	}
	entries, err := s.g.store.ListAuditLog(ctx, store.AuditFilter{
		Actor:    req.Actor,
		Action:   store.AuditAction(req.Action),
		TargetID: req.TargetID,
		Limit:    req.Limit,
	})
	if err != nil {
		s.g.logger.Error("listing audit log", "error", err)
		return nil, status.Error(codes.Internal, "listing audit log failed")
	}
	return &ListAuditResponse{Entries: newAuditResponses(entries)}, nil
}

// loggingInterceptor logs each unary call after the gate has run.
func loggingInterceptor(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		attrs := []any{"method", info.FullMethod, "code", status.Code(err).String(), "duration", time.Since(start)}
		if p := auth.PrincipalFromContext(ctx); p != nil {
			attrs = append(attrs, "identity", p.Identity)
		}
		if err != nil && !errors.Is(ctx.Err(), context.Canceled) {
			logger.Debug("grpc call failed", attrs...)
		} else {
			logger.Debug("grpc call", attrs...)
		}
		return resp, err
	}
}

// createGRPCServer creates the gRPC server with the gate in front of every call.
// A nil limiter disables handshake rate limiting.
func createGRPCServer(gate *auth.Gate, limiter *clientLimiter, logger *slog.Logger) *grpc.Server {
	return grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
		grpc.ChainUnaryInterceptor(
			gate.UnaryInterceptor(),
			rateLimitInterceptor(limiter),
			auth.RequireSysadmin(),
			loggingInterceptor(logger.With("component", "grpc")),
		),
		grpc.ChainStreamInterceptor(
			gate.StreamInterceptor(),
		),
	)
}

// registerGRPCServices registers all gRPC services on the server.
func registerGRPCServices(gw *Gateway, grpcServer *grpc.Server) {
	svc := grpcServices{g: gw}
	grpcServer.RegisterService(&handshakeServiceDesc, svc)
	grpcServer.RegisterService(&accountServiceDesc, svc)
	grpcServer.RegisterService(&adminServiceDesc, svc)

	healthServer := health.NewServer()
	healthServer.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	healthServer.SetServingStatus(handshakeServiceDesc.ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(grpcServer, healthServer)
}
