package streaming

import (
	"context"
	"strings"

	"github.com/KevinKickass/OpenWardCore/internal/auth"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

// TokenValidator is implemented by auth.AuthService.
type TokenValidator interface {
	Disabled() bool
	ValidateToken(token string) (auth.Identity, error)
}

// Every WardService method is read-only, so any valid token is enough.
func authorize(ctx context.Context, v TokenValidator) error {
	if v.Disabled() {
		return nil
	}

	md, ok := metadata.FromIncomingContext(ctx)
	if !ok {
		return status.Error(codes.Unauthenticated, "missing metadata")
	}
	values := md.Get("authorization")
	if len(values) == 0 {
		return status.Error(codes.Unauthenticated, "missing authorization")
	}

	token, found := strings.CutPrefix(values[0], "Bearer ")
	if !found || token == "" {
		return status.Error(codes.Unauthenticated, "invalid authorization format")
	}

	identity, err := v.ValidateToken(token)
	if err != nil {
		return status.Error(codes.Unauthenticated, "invalid or expired token")
	}
	if !identity.Has(auth.PermViewer) {
		return status.Error(codes.PermissionDenied, "insufficient permissions")
	}
	return nil
}

func UnaryAuthInterceptor(v TokenValidator) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		if err := authorize(ctx, v); err != nil {
			return nil, err
		}
		return handler(ctx, req)
	}
}

func StreamAuthInterceptor(v TokenValidator) grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if err := authorize(ss.Context(), v); err != nil {
			return err
		}
		return handler(srv, ss)
	}
}
