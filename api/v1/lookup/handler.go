// Package lookup exposes the public published-domain resolution endpoint
// used by the domain router and other internal read-side callers.
package lookup

import (
	"errors"

	"domainflow/internal/httpx"
	"domainflow/internal/order"
	"domainflow/internal/publish"

	"github.com/gin-gonic/gin"
)

// DomainResponse is the lookup result payload.
type DomainResponse struct {
	PersonaID int    `json:"persona_id"`
	Domain    string `json:"domain"`
	Published bool   `json:"published"`
}

// DomainHandler handles GET /api/v1/domains/lookup?host=...
func DomainHandler(gw *publish.Gateway) gin.HandlerFunc {
	return func(c *gin.Context) {
		host := c.Query("host")
		if host == "" {
			httpx.FailErr(c, httpx.ErrParamMissing("host is required"))
			return
		}

		res, err := gw.GetPublishedDomain(c.Request.Context(), host)
		if err != nil {
			if errors.Is(err, order.ErrNotFound) {
				httpx.FailErr(c, httpx.ErrNotFound("domain not published"))
				return
			}
			httpx.FailErr(c, httpx.ErrDatabaseError("lookup failed", err))
			return
		}

		httpx.OK(c, DomainResponse{
			PersonaID: res.PersonaID,
			Domain:    res.Domain,
			Published: true,
		})
	}
}
