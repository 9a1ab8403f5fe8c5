// Package auth resolves the authenticated caller identity for each request.
// Credential handling lives outside this service; the orchestrator only
// exchanges an opaque token for a user id.
package auth

import (
	"context"
	stderrors "errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/vmngo/livequiz/internal/errors"
)

// Authenticator exchanges an opaque access token for the caller's user id.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (string, error)
}

// callerIDKey is an unexported, collision-proof context key.
type callerIDKey struct{}

// CallerID extracts the authenticated caller id from context.
func CallerID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(callerIDKey{}).(string)
	return id, ok
}

// WithCallerID returns a context carrying the authenticated caller id.
func WithCallerID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, callerIDKey{}, id)
}

// TokenFromRequest extracts the access token from the Authorization header,
// falling back to the token query parameter for websocket upgrades, where
// browsers cannot set headers.
func TokenFromRequest(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if token, ok := strings.CutPrefix(h, "Bearer "); ok {
		return strings.TrimSpace(token)
	}

	return strings.TrimSpace(r.URL.Query().Get("token"))
}

// Middleware authenticates every request and stores the caller id on the
// request context, aborting with 401 when the token is missing or unknown.
func Middleware(a Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := TokenFromRequest(c.Request)
		if token == "" {
			e := errors.Newf(errors.CodeUnauthenticated, "missing access token")
			c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
			return
		}

		callerID, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			e := errors.Convert(err)
			c.AbortWithStatusJSON(e.HTTPStatusCode(), gin.H{"error": e})
			return
		}

		c.Request = c.Request.WithContext(WithCallerID(c.Request.Context(), callerID))
		c.Next()
	}
}

// RedisAuthenticator resolves tokens against the shared identity store, where
// the auth service writes one key per active token.
type RedisAuthenticator struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewRedisAuthenticator(rdb redis.UniversalClient, prefix string) *RedisAuthenticator {
	return &RedisAuthenticator{rdb: rdb, prefix: prefix}
}

func (a *RedisAuthenticator) Authenticate(ctx context.Context, token string) (string, error) {
	userID, err := a.rdb.Get(ctx, fmt.Sprintf("%s:token:%s", a.prefix, token)).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", errors.Newf(errors.CodeUnauthenticated, "unknown access token")
	}
	if err != nil {
		return "", fmt.Errorf("resolve token: %w", err)
	}

	return userID, nil
}
