// Package webhooks exposes the inbound payment notification endpoint.
package webhooks

import (
	"errors"
	"io"
	"net/http"

	"domainflow/internal/httpx"
	"domainflow/internal/payments"

	"github.com/gin-gonic/gin"
)

// SignatureHeader carries the provider's HMAC signature over the body.
const SignatureHeader = "X-Webhook-Signature"

// maxBodyBytes bounds webhook payload size.
const maxBodyBytes = 1 << 20

// PaymentHandler handles POST /api/v1/webhooks/payment. It acknowledges
// with 200 once the event is durably recorded; only signature and payload
// problems produce a non-2xx, never downstream provisioning.
func PaymentHandler(receiver *payments.Receiver) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
		if err != nil {
			httpx.FailErr(c, httpx.ErrParamInvalid("failed to read request body"))
			return
		}

		sig := c.GetHeader(SignatureHeader)
		if err := receiver.Handle(c.Request.Context(), body, sig); err != nil {
			switch {
			case errors.Is(err, payments.ErrBadSignature):
				httpx.Fail(c, http.StatusUnauthorized, httpx.CodeUnauthorized, "invalid signature")
			case errors.Is(err, payments.ErrMalformedEvent):
				httpx.FailErr(c, httpx.ErrParamInvalid(err.Error()))
			default:
				httpx.FailErr(c, httpx.ErrInternalError("failed to record event", err))
			}
			return
		}

		httpx.OK(c, gin.H{"received": true})
	}
}
