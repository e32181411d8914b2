package middleware

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// Auth context keys and header parts
const (
	AuthSubjectKey = "auth_subject"
	AuthHeaderKey  = "Authorization"
	BearerPrefix   = "Bearer "
)

var (
	errMissingToken = errors.New("missing bearer token")
	errInvalidToken = errors.New("invalid token")
)

// AuthConfig configures bearer token authentication for the operator API.
// Tokens are HS256 JWTs signed with Secret; an empty Secret disables
// authentication.
type AuthConfig struct {
	Secret    string
	Issuer    string
	SkipPaths []string
	Logger    *zap.Logger
}

// DefaultAuthConfig returns the default config for secret
func DefaultAuthConfig(secret string) AuthConfig {
	return AuthConfig{
		Secret:    secret,
		SkipPaths: []string{"/healthz", "/metrics"},
	}
}

// Auth returns the authentication middleware
func Auth(cfg AuthConfig) gin.HandlerFunc {
	if cfg.Secret == "" {
		return func(c *gin.Context) { c.Next() }
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	skip := make(map[string]struct{}, len(cfg.SkipPaths))
	for _, p := range cfg.SkipPaths {
		skip[p] = struct{}{}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(30 * time.Second),
	}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	parser := jwt.NewParser(opts...)
	key := []byte(cfg.Secret)

	return func(c *gin.Context) {
		if _, ok := skip[c.Request.URL.Path]; ok {
			c.Next()
			return
		}

		header := c.GetHeader(AuthHeaderKey)
		if !strings.HasPrefix(header, BearerPrefix) || strings.TrimPrefix(header, BearerPrefix) == "" {
			abortUnauthorized(c, errMissingToken)
			return
		}

		claims := &jwt.RegisteredClaims{}
		_, err := parser.ParseWithClaims(strings.TrimPrefix(header, BearerPrefix), claims, func(*jwt.Token) (any, error) {
			return key, nil
		})
		if err != nil {
			logger.Debug("Rejected API token", zap.Error(err), zap.String("path", c.Request.URL.Path))
			abortUnauthorized(c, errInvalidToken)
			return
		}

		c.Set(AuthSubjectKey, claims.Subject)
		c.Next()
	}
}

// IssueToken signs a token for subject, for operators and tests
func IssueToken(secret, subject, issuer string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		Issuer:    issuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

func abortUnauthorized(c *gin.Context, err error) {
	c.Header("WWW-Authenticate", `Bearer realm="etl"`)
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"success": false,
		"error": gin.H{
			"code":    "ERR_UNAUTHORIZED",
			"message": err.Error(),
		},
	})
}
