package middleware

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/MicahParks/keyfunc/v3"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"

	"github.com/rendis/docgen-engine/internal/adapters/primary/http/dto"
	"github.com/rendis/docgen-engine/internal/core/entity"
	"github.com/rendis/docgen-engine/internal/infra/config"
)

// Verifier validates inbound bearer tokens against the identity provider's
// JWKS. One instance is shared by all routes; the key set refreshes itself in
// the background.
type Verifier struct {
	keys     keyfunc.Keyfunc
	issuer   string
	audience string
	bypass   bool
}

// NewVerifier fetches the JWKS eagerly so an unreachable identity provider
// fails at startup. With the development bypass the verifier admits every
// request and fetches nothing.
func NewVerifier(ctx context.Context, cfg *config.AuthConfig) (*Verifier, error) {
	if cfg.BypassDevelopment {
		return &Verifier{bypass: true}, nil
	}
	keys, err := keyfunc.NewDefaultCtx(ctx, []string{cfg.JwksURI})
	if err != nil {
		return nil, fmt.Errorf("fetching JWKS from %s: %w", cfg.JwksURI, err)
	}
	return &Verifier{
		keys:     keys,
		issuer:   cfg.Issuer,
		audience: cfg.Audience,
	}, nil
}

// Ready reports whether the verifier can validate tokens.
func (v *Verifier) Ready() bool {
	return v.bypass || v.keys != nil
}

// Middleware rejects requests without a valid bearer token. Claims are not
// propagated; the token gates access, it does not carry identity downstream.
func (v *Verifier) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if v.bypass {
			c.Next()
			return
		}

		raw := bearerToken(c.GetHeader("Authorization"))
		if raw == "" {
			abortWithError(c, entity.NewError(entity.KindAuthInvalid, "missing bearer token"))
			return
		}

		token, err := jwt.Parse(raw, v.keys.Keyfunc,
			jwt.WithIssuer(v.issuer),
			jwt.WithAudience(v.audience),
			jwt.WithValidMethods([]string{"RS256"}),
			jwt.WithExpirationRequired(),
		)
		if err != nil {
			abortWithError(c, classifyTokenError(err))
			return
		}
		if !token.Valid {
			abortWithError(c, entity.NewError(entity.KindAuthInvalid, "invalid token"))
			return
		}
		c.Next()
	}
}

func bearerToken(header string) string {
	const prefix = "Bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}

// classifyTokenError separates "come back with a fresh token" from "you are
// not allowed here". Signature and format problems collapse to a generic
// invalid-token error so probing reveals nothing.
func classifyTokenError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return entity.NewError(entity.KindAuthExpired, "token expired")
	case errors.Is(err, jwt.ErrTokenInvalidIssuer),
		errors.Is(err, jwt.ErrTokenInvalidAudience):
		return entity.NewError(entity.KindAuthForbidden, "token not issued for this service")
	default:
		return entity.NewError(entity.KindAuthInvalid, "invalid token")
	}
}

func abortWithError(c *gin.Context, err error) {
	c.AbortWithStatusJSON(entity.HTTPStatus(err), dto.ErrorResponse{
		Error: dto.ErrorBody{
			Kind:          string(entity.KindOf(err)),
			Message:       entity.PublicMessage(err),
			CorrelationID: CorrelationID(c),
			Retryable:     entity.IsRetryable(err),
		},
	})
}
