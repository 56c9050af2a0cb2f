// Package orders implements the owner-facing order API. Every operation
// is idempotent: repeating a call either no-ops or returns the same
// terminal error.
package orders

import (
	"errors"
	"strconv"

	"domainflow/internal/config"
	"domainflow/internal/domainutil"
	"domainflow/internal/httpx"
	"domainflow/internal/model"
	"domainflow/internal/order"
	"domainflow/internal/orchestrator"
	"domainflow/internal/publish"
	"domainflow/internal/registrar"

	"github.com/gin-gonic/gin"
)

// Handler bundles the collaborators behind the order endpoints.
type Handler struct {
	store     order.Store
	gateway   *publish.Gateway
	orch      *orchestrator.Orchestrator
	registrar registrar.Client
	cfg       *config.Config
}

func NewHandler(store order.Store, gw *publish.Gateway, orch *orchestrator.Orchestrator, reg registrar.Client, cfg *config.Config) *Handler {
	return &Handler{
		store:     store,
		gateway:   gw,
		orch:      orch,
		registrar: reg,
		cfg:       cfg,
	}
}

// CreateRequest represents the order creation body
type CreateRequest struct {
	Domain string `json:"domain" binding:"required"`
}

// List handles GET /api/v1/orders
func (h *Handler) List(c *gin.Context) {
	uid := c.GetInt("uid")
	orders, err := h.store.ListByAccount(c.Request.Context(), uid)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to list orders", err))
		return
	}
	httpx.OKItems(c, orders, int64(len(orders)))
}

// Create handles POST /api/v1/orders/create. The registrar is quoted at
// creation time; the order then waits in pending_payment for the billing
// flow's webhook.
func (h *Handler) Create(c *gin.Context) {
	uid := c.GetInt("uid")

	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	domain, err := domainutil.Normalize(req.Domain)
	if err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid domain name"))
		return
	}
	// Only registrable apex domains can be bought; subdomains are a
	// configuration concern, not a purchase.
	apex, err := domainutil.EffectiveApex(domain)
	if err != nil || apex != domain {
		httpx.FailErr(c, httpx.ErrParamInvalid("domain must be a registrable apex domain"))
		return
	}

	avail, err := h.registrar.CheckAvailability(c.Request.Context(), domain)
	if err != nil {
		httpx.FailErr(c, httpx.ErrExternalError("failed to check domain availability", err))
		return
	}
	if !avail.Purchasable {
		httpx.FailErr(c, httpx.ErrStateConflict("domain is not available for purchase"))
		return
	}

	fee := h.cfg.Registrar.ManagementFeeCents
	o := &model.DomainOrder{
		AccountID:          uid,
		Domain:             domain,
		DomainPriceCents:   avail.PriceCents,
		ManagementFeeCents: fee,
		TotalPriceCents:    avail.PriceCents + fee,
		Currency:           avail.Currency,
	}
	if err := h.store.Create(c.Request.Context(), o); err != nil {
		if errors.Is(err, order.ErrAlreadyExists) {
			httpx.FailErr(c, httpx.ErrAlreadyExists("an order already exists for this domain"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to create order", err))
		return
	}

	httpx.OK(c, o)
}

// Get handles GET /api/v1/orders/:id
func (h *Handler) Get(c *gin.Context) {
	o, ok := h.ownOrder(c)
	if !ok {
		return
	}
	httpx.OK(c, o)
}

// CheckStatus handles POST /api/v1/orders/:id/check-status. It runs one
// provisioning check immediately instead of waiting for the worker tick
// and returns the refreshed order.
func (h *Handler) CheckStatus(c *gin.Context) {
	o, ok := h.ownOrder(c)
	if !ok {
		return
	}

	if err := h.orch.CheckProvisioning(c.Request.Context(), o.ID); err != nil {
		// The check result lives on the order; surface it from there.
		httpx.FailErr(c, httpx.ErrExternalError("status check failed", err))
		return
	}

	fresh, err := h.store.Get(c.Request.Context(), o.ID)
	if err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to reload order", err))
		return
	}
	httpx.OK(c, fresh)
}

// BindRequest represents the persona binding body
type BindRequest struct {
	PersonaID int `json:"persona_id" binding:"required"`
}

// BindPersona handles POST /api/v1/orders/:id/bind-persona
func (h *Handler) BindPersona(c *gin.Context) {
	o, ok := h.ownOrder(c)
	if !ok {
		return
	}

	var req BindRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid request body"))
		return
	}

	if err := h.gateway.BindPersona(c.Request.Context(), o.ID, req.PersonaID); err != nil {
		switch {
		case errors.Is(err, publish.ErrPersonaNotFound):
			httpx.FailErr(c, httpx.ErrNotFound("persona not found"))
		case errors.Is(err, publish.ErrUnauthorized):
			httpx.FailErr(c, httpx.ErrForbidden("persona belongs to a different account"))
		default:
			httpx.FailErr(c, httpx.ErrDatabaseError("failed to bind persona", err))
		}
		return
	}
	httpx.OKMsg(c, "persona bound", nil)
}

// UnbindPersona handles POST /api/v1/orders/:id/unbind-persona
func (h *Handler) UnbindPersona(c *gin.Context) {
	o, ok := h.ownOrder(c)
	if !ok {
		return
	}
	if err := h.gateway.UnbindPersona(c.Request.Context(), o.ID); err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to unbind persona", err))
		return
	}
	httpx.OKMsg(c, "persona unbound", nil)
}

// Publish handles POST /api/v1/orders/:id/publish
func (h *Handler) Publish(c *gin.Context) {
	o, ok := h.ownOrder(c)
	if !ok {
		return
	}
	if err := h.gateway.Publish(c.Request.Context(), o.ID); err != nil {
		if errors.Is(err, order.ErrPreconditionFailed) {
			httpx.FailErr(c, httpx.ErrPreconditionFailed("order needs active DNS and a bound persona"))
			return
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to publish", err))
		return
	}
	httpx.OKMsg(c, "domain published", nil)
}

// Unpublish handles POST /api/v1/orders/:id/unpublish
func (h *Handler) Unpublish(c *gin.Context) {
	o, ok := h.ownOrder(c)
	if !ok {
		return
	}
	if err := h.gateway.Unpublish(c.Request.Context(), o.ID); err != nil {
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to unpublish", err))
		return
	}
	httpx.OKMsg(c, "domain unpublished", nil)
}

// ownOrder loads the :id order and verifies it belongs to the caller.
// Foreign orders read as not-found so ids cannot be probed.
func (h *Handler) ownOrder(c *gin.Context) (*model.DomainOrder, bool) {
	uid := c.GetInt("uid")
	id, err := strconv.Atoi(c.Param("id"))
	if err != nil || id <= 0 {
		httpx.FailErr(c, httpx.ErrParamInvalid("invalid order id"))
		return nil, false
	}

	o, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			httpx.FailErr(c, httpx.ErrNotFound("order not found"))
			return nil, false
		}
		httpx.FailErr(c, httpx.ErrDatabaseError("failed to load order", err))
		return nil, false
	}
	if o.AccountID != uid {
		httpx.FailErr(c, httpx.ErrNotFound("order not found"))
		return nil, false
	}
	return o, true
}
