package auth

import (
	"fmt"

	"github.com/KevinKickass/OpenWardCore/internal/config"
	"go.uber.org/zap"
)

type Permission string

const (
	PermViewer Permission = "viewer"
	PermNurse  Permission = "nurse"
	PermAdmin  Permission = "admin"
)

// Identity is the authenticated caller of a request.
type Identity struct {
	Subject     string       `json:"subject"`
	Role        string       `json:"role"`
	Permissions []Permission `json:"permissions"`
}

func (i Identity) Has(p Permission) bool {
	for _, have := range i.Permissions {
		if have == p {
			return true
		}
	}
	return false
}

// AuthService validates tokens issued by the hospital identity provider
// (or by the token command for service accounts).
type AuthService struct {
	jwtHandler *JWTHandler
	disabled   bool
	logger     *zap.Logger
}

func NewAuthService(cfg config.AuthConfig, logger *zap.Logger) *AuthService {
	if cfg.Disabled {
		logger.Warn("Authentication disabled, every request runs as admin")
	} else if !cfg.IsProductionReady() {
		logger.Warn("JWT secret is not production ready", zap.String("env", cfg.JWTSecretEnv))
	}

	return &AuthService{
		jwtHandler: NewJWTHandler(cfg.GetJWTSecret(), cfg.Issuer, cfg.AccessTokenTTL),
		disabled:   cfg.Disabled,
		logger:     logger,
	}
}

func (a *AuthService) Disabled() bool {
	return a.disabled
}

// IssueToken signs a token for a service account or a test user.
func (a *AuthService) IssueToken(subject, role string) (string, error) {
	if len(roleToPermissions(role)) == 0 {
		return "", fmt.Errorf("unknown role %q", role)
	}
	return a.jwtHandler.GenerateAccessToken(subject, role)
}

// ValidateToken resolves a bearer token to the caller's identity.
func (a *AuthService) ValidateToken(token string) (Identity, error) {
	if a.disabled {
		return Identity{Subject: "anonymous", Role: "admin", Permissions: roleToPermissions("admin")}, nil
	}

	claims, err := a.jwtHandler.ValidateAccessToken(token)
	if err != nil {
		return Identity{}, err
	}

	perms := roleToPermissions(claims.Role)
	if len(perms) == 0 {
		return Identity{}, fmt.Errorf("unknown role %q", claims.Role)
	}
	return Identity{Subject: claims.Subject, Role: claims.Role, Permissions: perms}, nil
}

func roleToPermissions(role string) []Permission {
	switch role {
	case "admin":
		return []Permission{PermViewer, PermNurse, PermAdmin}
	case "nurse":
		return []Permission{PermViewer, PermNurse}
	case "viewer":
		return []Permission{PermViewer}
	default:
		return nil
	}
}
