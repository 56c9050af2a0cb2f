package middleware

import (
	"context"
	"log"
	"net"
	"strings"
	"time"

	"domainflow/internal/domainutil"
	"domainflow/internal/publish"

	"github.com/gin-gonic/gin"
)

// Context keys set by DomainRouter on a published-domain hit.
const (
	CtxPersonaID   = "persona_id"
	CtxRoutedOrder = "routed_order_id"
)

const lookupTimeout = 3 * time.Second

// DomainRouter resolves the request Host to a published domain's persona
// and attaches it to the gin context. It never blocks a request: API and
// Socket.IO paths, platform hosts, loopback and unresolvable hosts all
// pass through untouched and later handlers decide what a missing
// persona means.
func DomainRouter(gw *publish.Gateway, platformHosts []string) gin.HandlerFunc {
	platform := make(map[string]bool, len(platformHosts))
	for _, h := range platformHosts {
		platform[strings.ToLower(h)] = true
	}

	return func(c *gin.Context) {
		path := c.Request.URL.Path
		if strings.HasPrefix(path, "/api/") || strings.HasPrefix(path, "/socket.io/") {
			c.Next()
			return
		}

		host := strings.ToLower(domainutil.StripPort(strings.TrimSpace(c.Request.Host)))
		if host == "" || host == "localhost" || platform[host] {
			c.Next()
			return
		}
		if ip := net.ParseIP(host); ip != nil {
			c.Next()
			return
		}

		ctx, cancel := context.WithTimeout(c.Request.Context(), lookupTimeout)
		defer cancel()

		res, err := gw.GetPublishedDomain(ctx, host)
		if err != nil {
			// Miss or lookup failure: not this middleware's call.
			c.Next()
			return
		}

		log.Printf("[DomainRouter] %s -> persona %d (order %d)", host, res.PersonaID, res.OrderID)
		c.Set(CtxPersonaID, res.PersonaID)
		c.Set(CtxRoutedOrder, res.OrderID)
		c.Next()
	}
}
