// Package middleware holds the request pipeline of the HTTP surface:
// correlation propagation, inbound token verification, and body limits.
package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/rendis/docgen-engine/internal/infra/logging"
)

const (
	// CorrelationHeader carries the caller-supplied correlation id.
	CorrelationHeader = "X-Correlation-Id"

	correlationKey = "correlationId"
	maxCorrelation = 128
)

// Correlation accepts a well-formed client correlation id or mints one, binds
// it to the request context, and echoes it on the response.
func Correlation() gin.HandlerFunc {
	return func(c *gin.Context) {
		cid := c.GetHeader(CorrelationHeader)
		if !wellFormed(cid) {
			cid = uuid.NewString()
		}
		c.Set(correlationKey, cid)
		c.Request = c.Request.WithContext(logging.WithCorrelationID(c.Request.Context(), cid))
		c.Header(CorrelationHeader, cid)
		c.Next()
	}
}

// CorrelationID returns the id bound by the Correlation middleware.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

// Rebind replaces the bound correlation id when a well-formed one arrives in
// a request body after the middleware has run. The response header and the
// context logger follow.
func Rebind(c *gin.Context, cid string) {
	if !wellFormed(cid) {
		return
	}
	c.Set(correlationKey, cid)
	c.Request = c.Request.WithContext(logging.WithCorrelationID(c.Request.Context(), cid))
	c.Header(CorrelationHeader, cid)
}

func wellFormed(cid string) bool {
	if cid == "" || len(cid) > maxCorrelation {
		return false
	}
	for _, r := range cid {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9',
			r == '-', r == '_', r == '.':
		default:
			return false
		}
	}
	return true
}

// BodyLimit caps the request body. Oversized bodies fail on read with 413.
func BodyLimit(maxBytes int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxBytes)
		c.Next()
	}
}
