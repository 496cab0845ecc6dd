// Package grpcapi exposes the authenticator over gRPC using well-known
// protobuf types, so no generated code is required.
package grpcapi

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/text/language"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"tenantauth.org/internal/auth"
)

const (
	ServiceName        = "tenantauth.v1.Authenticator"
	AuthenticateMethod = "/" + ServiceName + "/Authenticate"
)

// Authenticator is the credential check the service delegates to.
type Authenticator interface {
	Authenticate(ctx context.Context, cred auth.Credential) auth.Outcome
}

type readinessChecker interface {
	Check(ctx context.Context) error
}

// Server implements tenantauth.v1.Authenticator and owns the standard health service.
type Server struct {
	authn     Authenticator
	readiness readinessChecker
	health    *health.Server
	logger    *zap.Logger
}

// NewServer creates the gRPC service wrapper. readiness may be nil.
func NewServer(authn Authenticator, readiness readinessChecker, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		authn:     authn,
		readiness: readiness,
		health:    health.NewServer(),
		logger:    logger,
	}
}

// Register attaches the authenticator and health services to gs.
func (s *Server) Register(gs *grpc.Server) {
	gs.RegisterService(&serviceDesc, s)
	healthpb.RegisterHealthServer(gs, s.health)
}

// UpdateHealth runs the readiness probe and publishes the result for both
// the overall server and the authenticator service.
func (s *Server) UpdateHealth(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	st := healthpb.HealthCheckResponse_SERVING
	if s.readiness != nil {
		if err := s.readiness.Check(ctx); err != nil {
			s.logger.Warn("grpc readiness check failed", zap.Error(err))
			st = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
	return st
}

// Shutdown marks every service NOT_SERVING ahead of GracefulStop.
func (s *Server) Shutdown() {
	s.health.Shutdown()
}

// Authenticate expects {user_id, password, tenant_id?, locale?} and answers
// with the principal. Failures map to status codes with the failure kind in
// the details.
func (s *Server) Authenticate(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	fields := req.GetFields()
	cred := auth.Credential{
		UserID:   fields["user_id"].GetStringValue(),
		TenantID: fields["tenant_id"].GetStringValue(),
		Password: fields["password"].GetStringValue(),
	}
	if loc := strings.TrimSpace(fields["locale"].GetStringValue()); loc != "" {
		tag, err := language.Parse(loc)
		if err != nil {
			return nil, status.Errorf(codes.InvalidArgument, "invalid locale %q", loc)
		}
		cred.Locale = tag
	}

	out := s.authn.Authenticate(ctx, cred)
	if !out.OK() {
		return nil, failureStatus(out)
	}
	return principalStruct(out.Principal)
}

func failureStatus(out auth.Outcome) error {
	code := codes.Unavailable
	switch out.Kind {
	case auth.KindBadCredentials:
		code = codes.Unauthenticated
	case auth.KindAccountDisabled, auth.KindAccountLocked, auth.KindAccountExpired:
		code = codes.PermissionDenied
	}
	st := status.New(code, out.Message)
	detail, err := structpb.NewStruct(map[string]any{"reason": out.Kind.String()})
	if err != nil {
		return st.Err()
	}
	if withDetail, err := st.WithDetails(detail); err == nil {
		return withDetail.Err()
	}
	return st.Err()
}

func principalStruct(p auth.Principal) (*structpb.Struct, error) {
	roles := make([]any, 0, len(p.Roles))
	for _, r := range p.Roles {
		roles = append(roles, r)
	}
	m := map[string]any{
		"user_id":             p.UserID,
		"tenant_id":           p.TenantID,
		"display_name":        p.DisplayName,
		"email":               p.Email,
		"roles":               roles,
		"password_updated_at": p.PasswordUpdatedAt.UTC().Format(time.RFC3339),
		"authenticated_at":    p.AuthenticatedAt.UTC().Format(time.RFC3339),
	}
	if p.ExpiresAt != nil {
		m["expires_at"] = p.ExpiresAt.UTC().Format(time.RFC3339)
	}
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode principal: %v", err)
	}
	return out, nil
}

type authenticatorServer interface {
	Authenticate(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

func authenticateHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(authenticatorServer).Authenticate(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: AuthenticateMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(authenticatorServer).Authenticate(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var serviceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*authenticatorServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Authenticate", Handler: authenticateHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tenantauth/v1/authenticator.proto",
}

// Client calls the Authenticate method over conn.
type Client struct {
	conn grpc.ClientConnInterface
}

func NewClient(conn grpc.ClientConnInterface) *Client { return &Client{conn: conn} }

func (c *Client) Authenticate(ctx context.Context, req *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, AuthenticateMethod, req, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// LoggingInterceptor logs one entry per unary call.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Info("grpc request",
			zap.String("method", info.FullMethod),
			zap.String("code", status.Code(err).String()),
			zap.Float64("duration_ms", float64(time.Since(start).Microseconds())/1000),
		)
		return resp, err
	}
}
