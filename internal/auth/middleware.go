package auth

import (
	"context"
	"errors"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/spec-kit/verification-desk/internal/domain"
	"github.com/spec-kit/verification-desk/internal/platform"
	apperrors "github.com/spec-kit/verification-desk/pkg/util"
)

const principalKey = "auth_principal"

// MemberDirectory resolves the member named by a token.
type MemberDirectory interface {
	Member(ctx context.Context, userID string) (*platform.Member, error)
}

// Principal represents the authenticated caller.
type Principal struct {
	Actor  domain.Actor
	Member *platform.Member
}

// AuthMiddleware validates bearer tokens and loads principals.
type AuthMiddleware struct {
	tokens  *TokenManager
	members MemberDirectory
}

// NewAuthMiddleware constructs middleware.
func NewAuthMiddleware(tokens *TokenManager, members MemberDirectory) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens, members: members}
}

// Handle enforces authentication for protected routes. The caller must still be a member of
// the guild; its roles are never taken from the token.
func (m *AuthMiddleware) Handle(c *fiber.Ctx) error {
	authHeader := c.Get("Authorization")
	if authHeader == "" {
		return apperrors.NewUnauthorized("missing authorization header")
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return apperrors.NewUnauthorized("invalid authorization header")
	}

	claims, err := m.tokens.ParseToken(parts[1])
	if err != nil {
		return apperrors.NewUnauthorized("invalid token")
	}

	member, err := m.members.Member(c.UserContext(), claims.SubjectID)
	if err != nil {
		if errors.Is(err, platform.ErrNotFound) {
			return apperrors.NewUnauthorized("member not found")
		}
		return apperrors.NewProvisioningError("lookup_member", err)
	}

	name := member.DisplayName
	if name == "" {
		name = claims.Name
	}
	c.Locals(principalKey, &Principal{Actor: domain.MemberActor(member.ID, name), Member: member})
	return c.Next()
}

// PrincipalFromContext retrieves the authenticated entity.
func PrincipalFromContext(c *fiber.Ctx) (*Principal, bool) {
	val := c.Locals(principalKey)
	if val == nil {
		return nil, false
	}
	principal, ok := val.(*Principal)
	return principal, ok
}
