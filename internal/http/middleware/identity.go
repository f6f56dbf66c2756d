// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file resolves the caller's anonymous identity. Every participant is
// known only by a client-generated opaque identifier carried in X-Anon-ID;
// there are no accounts and no authentication. The middleware validates the
// header, stashes the identity in the Gin context, and records whether the
// caller flagged itself as VIP (X-Anon-VIP), which grants queue seniority
// but no other privilege.
package middleware

import (
	"regexp"
	"strings"

	"github.com/gin-gonic/gin"
)

const (
	// HeaderAnonID carries the caller's opaque anonymous identifier.
	HeaderAnonID = "X-Anon-ID"
	// HeaderAnonVIP marks the caller as VIP for queue prioritization.
	HeaderAnonVIP = "X-Anon-VIP"

	ctxKeyAnonID  = "anonID"
	ctxKeyAnonVIP = "anonVIP"

	maxAnonIDLen = 128
)

// anonIDPattern restricts identifiers to a conservative token alphabet so
// they are safe to embed in store keys and logs.
var anonIDPattern = regexp.MustCompile(`^[A-Za-z0-9._~\-:]+$`)

// Identity validates and stashes the anonymous identity for the request.
//
// Behavior:
//   - A missing X-Anon-ID is not an error here; handlers that require an
//     identity reject the request themselves (most do).
//   - A malformed X-Anon-ID (too long or outside the token alphabet) is
//     rejected immediately with 400 so garbage never reaches store keys.
//   - X-Anon-VIP is parsed leniently ("1", "true", "yes" are truthy).
func Identity() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.GetHeader(HeaderAnonID))
		if id != "" {
			if len(id) > maxAnonIDLen || !anonIDPattern.MatchString(id) {
				c.AbortWithStatusJSON(400, gin.H{
					"request_id": c.Writer.Header().Get(requestIDHeader),
					"code":       "bad_anon_id",
					"message":    "invalid " + HeaderAnonID,
				})
				return
			}
			c.Set(ctxKeyAnonID, id)
		}

		switch strings.ToLower(strings.TrimSpace(c.GetHeader(HeaderAnonVIP))) {
		case "1", "true", "yes":
			c.Set(ctxKeyAnonVIP, true)
		}

		c.Next()
	}
}

// AnonIDFrom returns the validated anonymous identifier for the request,
// or "" when the caller sent none.
func AnonIDFrom(c *gin.Context) string {
	if v, ok := c.Get(ctxKeyAnonID); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// IsVIP reports whether the caller flagged itself as VIP.
func IsVIP(c *gin.Context) bool {
	v, ok := c.Get(ctxKeyAnonVIP)
	if !ok {
		return false
	}
	b, _ := v.(bool)
	return b
}

// MaskAnonID returns a loggable form of an anonymous identifier, keeping a
// short prefix for correlation while hiding the rest.
func MaskAnonID(id string) string {
	if id == "" {
		return ""
	}
	if len(id) <= 8 {
		return id[:1] + "***"
	}
	return id[:8] + "***"
}
