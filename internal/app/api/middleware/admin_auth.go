package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/stepun/botoracle/pkg/config"
	"github.com/stepun/botoracle/pkg/logctx"
	"github.com/stepun/botoracle/pkg/response"
)

// AdminClaims is the payload of an admin access token.
type AdminClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

const AdminRole = "admin"

// AdminAuthMiddleware accepts "Authorization: Bearer <token>" where the
// token is either the static admin token or, when admin.jwt_secret is set,
// an HS256 JWT with role=admin and an expiry. With neither configured every
// request is refused.
func AdminAuthMiddleware(cfg *config.Config, base *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := strings.CutPrefix(c.GetHeader("Authorization"), "Bearer ")
		token = strings.TrimSpace(token)
		if !ok || token == "" {
			abortUnauthorized(c)
			return
		}

		if cfg.Admin.Token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(cfg.Admin.Token)) == 1 {
			c.Set("admin_subject", "static")
			c.Next()
			return
		}

		if cfg.Admin.JWTSecret != "" {
			claims, err := ParseAdminToken(token, cfg.Admin.JWTSecret)
			if err == nil {
				c.Set("admin_subject", claims.Subject)
				c.Next()
				return
			}
			logctx.FromGin(c, base).Warnw("admin_token_rejected", "err", err)
		}
		abortUnauthorized(c)
	}
}

// ParseAdminToken validates an HS256 admin JWT.
func ParseAdminToken(token, secret string) (*AdminClaims, error) {
	claims := &AdminClaims{}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	if claims.Role != AdminRole {
		return nil, jwt.ErrTokenInvalidClaims
	}
	return claims, nil
}

func abortUnauthorized(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, response.ErrorT[any](response.APIResponseCodeUnauthorized, nil))
}
