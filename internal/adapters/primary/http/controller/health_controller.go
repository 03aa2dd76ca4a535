package controller

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/rendis/docgen-engine/internal/adapters/primary/http/dto"
)

// Pinger verifies outbound record-store connectivity.
type Pinger interface {
	Ping(ctx context.Context) error
}

// ReadyChecker reports whether inbound token validation is operational.
type ReadyChecker interface {
	Ready() bool
}

// HealthController serves liveness and readiness. Liveness only says the
// process is up; readiness additionally proves the external dependencies.
type HealthController struct {
	store    Pinger
	verifier ReadyChecker

	// secretsLoaded is settled at bootstrap: configuration loading fails hard
	// when a secret reference cannot be resolved.
	secretsLoaded bool
}

func NewHealthController(store Pinger, verifier ReadyChecker, secretsLoaded bool) *HealthController {
	return &HealthController{store: store, verifier: verifier, secretsLoaded: secretsLoaded}
}

// Live is GET /healthz.
func (h *HealthController) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready is GET /readyz.
func (h *HealthController) Ready(c *gin.Context) {
	checks := dto.ReadyChecks{
		JWKS:    h.verifier.Ready(),
		Records: h.store.Ping(c.Request.Context()) == nil,
		Secrets: h.secretsLoaded,
	}
	resp := dto.ReadyResponse{
		Ready:  checks.JWKS && checks.Records && checks.Secrets,
		Checks: checks,
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, resp)
}
