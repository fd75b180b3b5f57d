package middleware

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"dreamGarden/internal/auth"
	"dreamGarden/internal/errcode"
	"dreamGarden/internal/identity"
)

const (
	identityKey = "identity"
	actorKey    = "actor"
)

// TokenVerifier 校验外部身份服务签发的访问令牌。
type TokenVerifier interface {
	ValidateToken(token string) (*auth.PrincipalClaims, error)
}

// IdentityResolver 把主体解析为系统内的身份。
type IdentityResolver interface {
	Resolve(ctx context.Context, p identity.Principal) (identity.Identity, error)
}

// AuthMiddleware 校验 Bearer 令牌并把解析后的 Identity 注入上下文。
// 资料未完成的主体也会放行，由 RequireProfile 决定是否拦截。
func AuthMiddleware(tokens TokenVerifier, resolver IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		rawToken, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			AbortWithError(c, errcode.New(errcode.Unauthenticated, "missing bearer token"))
			return
		}

		claims, err := tokens.ValidateToken(rawToken)
		if err != nil {
			AbortWithError(c, errcode.New(errcode.Unauthenticated, "invalid token"))
			return
		}

		id, err := resolver.Resolve(c.Request.Context(), identity.Principal{
			Subject: claims.Subject,
			Email:   claims.Email,
		})
		if err != nil {
			AbortWithError(c, err)
			return
		}

		c.Set(identityKey, id)
		if actor, err := id.Actor(); err == nil {
			c.Set(actorKey, actor)
		}
		c.Next()
	}
}

// RequireProfile 拦截尚未完成资料初始化的主体。
func RequireProfile() gin.HandlerFunc {
	return func(c *gin.Context) {
		if _, ok := ActorFromContext(c); !ok {
			AbortWithError(c, errcode.New(errcode.Forbidden, "profile is incomplete"))
			return
		}
		c.Next()
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	return parts[1], parts[1] != ""
}

// IdentityFromContext 返回 AuthMiddleware 注入的 Identity。
func IdentityFromContext(c *gin.Context) (identity.Identity, bool) {
	if value, ok := c.Get(identityKey); ok {
		if id, ok := value.(identity.Identity); ok {
			return id, true
		}
	}
	return identity.Identity{}, false
}

// ActorFromContext 返回已完成资料的调用者。
func ActorFromContext(c *gin.Context) (identity.Actor, bool) {
	if value, ok := c.Get(actorKey); ok {
		if actor, ok := value.(identity.Actor); ok {
			return actor, true
		}
	}
	return identity.Actor{}, false
}
