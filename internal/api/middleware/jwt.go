package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/yoockh/casescribe/internal/models"
	"github.com/yoockh/casescribe/internal/utils"
)

// PrincipalKey is the gin context key holding the caller's models.Principal.
const PrincipalKey = "principal"

type apiError struct {
	Code    utils.Code `json:"code"`
	Message string     `json:"message"`
}

type JWTConfig struct {
	Secret   string
	Issuer   string // optional
	Audience string // optional
}

type claims struct {
	jwt.RegisteredClaims
	Email       string         `json:"email"`
	Role        string         `json:"role"`
	AppMetadata map[string]any `json:"app_metadata"` // {"role":"admin"} when issued by supabase
}

// Anonymous is the principal used when no JWT secret is configured.
var Anonymous = models.Principal{Subject: "anonymous", Role: models.RoleClinician}

// JWTAuth verifies an HS256 bearer token and stores the caller as a
// Principal. With an empty secret every request runs as Anonymous. Browsers
// cannot set headers on a websocket upgrade, so access_token in the query
// string is accepted as well.
func JWTAuth(cfg JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.Secret == "" {
			c.Set(PrincipalKey, Anonymous)
			c.Next()
			return
		}

		raw := bearerToken(c)
		if raw == "" {
			abort(c, http.StatusUnauthorized, "missing bearer token")
			return
		}

		cl := &claims{}
		tok, err := jwt.ParseWithClaims(raw, cl, func(t *jwt.Token) (any, error) {
			return []byte(cfg.Secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || tok == nil || !tok.Valid {
			abort(c, http.StatusUnauthorized, "invalid token")
			return
		}

		if cfg.Issuer != "" && cl.Issuer != cfg.Issuer {
			abort(c, http.StatusUnauthorized, "invalid token issuer")
			return
		}
		if cfg.Audience != "" && !hasAudience(cl.Audience, cfg.Audience) {
			abort(c, http.StatusUnauthorized, "invalid token audience")
			return
		}
		if cl.Subject == "" {
			abort(c, http.StatusUnauthorized, "missing subject")
			return
		}

		c.Set(PrincipalKey, models.Principal{Subject: cl.Subject, Email: cl.Email, Role: roleOf(cl)})
		c.Next()
	}
}

func bearerToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); strings.HasPrefix(auth, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(auth, "Bearer "))
	}
	return strings.TrimSpace(c.Query("access_token"))
}

func hasAudience(auds jwt.ClaimStrings, want string) bool {
	for _, a := range auds {
		if a == want {
			return true
		}
	}
	return false
}

// roleOf prefers app_metadata.role, then the top-level role claim, and
// defaults to clinician.
func roleOf(cl *claims) models.UserRole {
	if v, ok := cl.AppMetadata["role"].(string); ok && v != "" {
		return models.UserRole(strings.ToLower(v))
	}
	switch r := models.UserRole(strings.ToLower(cl.Role)); r {
	case models.RoleAdmin, models.RoleClinician:
		return r
	}
	return models.RoleClinician
}

func abort(c *gin.Context, status int, msg string) {
	code := utils.CodeUnauthorized
	if status == http.StatusForbidden {
		code = utils.CodeForbidden
	}
	c.AbortWithStatusJSON(status, apiError{Code: code, Message: msg})
}

// PrincipalFrom returns the caller set by JWTAuth.
func PrincipalFrom(c *gin.Context) (models.Principal, bool) {
	v, ok := c.Get(PrincipalKey)
	if !ok {
		return models.Principal{}, false
	}
	p, ok := v.(models.Principal)
	return p, ok && p.Subject != ""
}
