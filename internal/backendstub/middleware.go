package backendstub

import (
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"go.uber.org/zap"

	"github.com/daktarihub/daktari-client/internal/model"
)

const (
	requestIDHeader = "X-Request-ID"

	ctxUser   = "current_user"
	ctxClaims = "access_claims"
)

// requestID echoes the caller's request id or assigns a ksuid.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(requestIDHeader)
		if id == "" {
			id = ksuid.New().String()
		}
		c.Writer.Header().Set(requestIDHeader, id)
		c.Next()
	}
}

// logging writes one line per request. Bodies and headers are never logged.
func logging(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		status := c.Writer.Status()
		lvl := log.Info
		switch {
		case status >= 500:
			lvl = log.Error
		case status >= 400:
			lvl = log.Warn
		}
		lvl("http",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Int("status", status),
			zap.Duration("dur", time.Since(start)),
			zap.String("request_id", c.Writer.Header().Get(requestIDHeader)),
		)
	}
}

// recovery turns a handler panic into a 500 envelope.
func recovery(log *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				log.Error("panic",
					zap.Any("reason", r),
					zap.ByteString("stack", debug.Stack()),
					zap.String("path", c.FullPath()),
				)
				fail(c, http.StatusInternalServerError, "Internal server error")
			}
		}()
		c.Next()
	}
}

// latency delays every request, for exercising client timeouts.
func latency(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		t := time.NewTimer(d)
		defer t.Stop()
		select {
		case <-t.C:
			c.Next()
		case <-c.Request.Context().Done():
			c.Abort()
		}
	}
}

func bearerToken(c *gin.Context) string {
	v := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(v) >= 7 && strings.EqualFold(v[:7], "bearer ") {
		return strings.TrimSpace(v[7:])
	}
	return ""
}

// authenticate resolves the bearer token to an account.
func authenticate(auth *authService, store *memStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		tok := bearerToken(c)
		if tok == "" {
			fail(c, http.StatusUnauthorized, "No token provided")
			return
		}
		claims, err := auth.verify(tok)
		if err != nil {
			fail(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}
		a, err := store.accountByID(claims.Subject)
		if err != nil {
			fail(c, http.StatusUnauthorized, "User not found")
			return
		}
		c.Set(ctxClaims, claims)
		c.Set(ctxUser, a.user)
		c.Next()
	}
}

// requireRoles rejects users whose role is not listed.
func requireRoles(roles ...model.Role) gin.HandlerFunc {
	set := make(map[model.Role]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	return func(c *gin.Context) {
		u, ok := currentUser(c)
		if !ok {
			fail(c, http.StatusUnauthorized, "Not authenticated")
			return
		}
		if _, ok := set[u.Role]; !ok {
			fail(c, http.StatusForbidden, "Access denied")
			return
		}
		c.Next()
	}
}

func currentUser(c *gin.Context) (model.User, bool) {
	v, ok := c.Get(ctxUser)
	if !ok {
		return model.User{}, false
	}
	u, ok := v.(model.User)
	return u, ok
}
