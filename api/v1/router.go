package v1

import (
	"domainflow/api/v1/auth"
	"domainflow/api/v1/lookup"
	"domainflow/api/v1/middleware"
	"domainflow/api/v1/orders"
	"domainflow/api/v1/webhooks"
	"domainflow/internal/config"
	"domainflow/internal/httpx"
	"domainflow/internal/orchestrator"
	"domainflow/internal/order"
	"domainflow/internal/payments"
	"domainflow/internal/publish"
	"domainflow/internal/registrar"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"
)

// Deps carries everything the API surface needs.
type Deps struct {
	DB        *gorm.DB
	Config    *config.Config
	Store     order.Store
	Gateway   *publish.Gateway
	Orch      *orchestrator.Orchestrator
	Registrar registrar.Client
	Receiver  *payments.Receiver
}

// SetupRouter sets up the API v1 routes
func SetupRouter(r *gin.Engine, d Deps) {
	// The domain router sees every request first, including non-API
	// paths served on published customer domains.
	r.Use(middleware.DomainRouter(d.Gateway, d.Config.PlatformHosts))

	v1 := r.Group("/api/v1")
	{
		// Public routes (no authentication required)
		v1.GET("/ping", pingHandler)
		v1.GET("/domains/lookup", lookup.DomainHandler(d.Gateway))

		// Webhook routes (signature-gated, no JWT)
		v1.POST("/webhooks/payment", webhooks.PaymentHandler(d.Receiver))

		// Auth routes
		authGroup := v1.Group("/auth")
		{
			authGroup.POST("/login", auth.LoginHandler(d.DB, d.Config))
		}

		// Protected routes (authentication required)
		protected := v1.Group("")
		protected.Use(middleware.AuthRequired())
		{
			protected.GET("/me", meHandler)

			ordersHandler := orders.NewHandler(d.Store, d.Gateway, d.Orch, d.Registrar, d.Config)
			ordersGroup := protected.Group("/orders")
			{
				ordersGroup.GET("", ordersHandler.List)
				ordersGroup.POST("/create", ordersHandler.Create)
				ordersGroup.GET("/:id", ordersHandler.Get)
				ordersGroup.POST("/:id/check-status", ordersHandler.CheckStatus)
				ordersGroup.POST("/:id/bind-persona", ordersHandler.BindPersona)
				ordersGroup.POST("/:id/unbind-persona", ordersHandler.UnbindPersona)
				ordersGroup.POST("/:id/publish", ordersHandler.Publish)
				ordersGroup.POST("/:id/unpublish", ordersHandler.Unpublish)
			}
		}
	}
}

// pingHandler handles the ping request using unified response
func pingHandler(c *gin.Context) {
	httpx.OK(c, gin.H{
		"pong": true,
	})
}

// meHandler returns current user information
func meHandler(c *gin.Context) {
	uid, _ := c.Get("uid")
	username, _ := c.Get("username")
	role, _ := c.Get("role")

	httpx.OK(c, gin.H{
		"id":       uid,
		"username": username,
		"role":     role,
	})
}
