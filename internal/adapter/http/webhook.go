package http

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"go.uber.org/zap"

	"github.com/neomorfeo/tenantgate/internal/app"
)

// SignatureHeader carries the hex HMAC-SHA256 of the webhook body.
const SignatureHeader = "X-Webhook-Signature"

type CommerceWebhookInput struct {
	Signature string `header:"X-Webhook-Signature" doc:"Hex HMAC-SHA256 of the raw body"`
	RawBody   []byte `contentType:"application/json"`
}

// commerceEvent is the webhook payload.
type commerceEvent struct {
	Type           string `json:"type"`
	OrderID        string `json:"order_id"`
	SubscriptionID string `json:"subscription_id"`
}

type CommerceWebhookOutput struct {
	Body struct {
		Status        string   `json:"status" enum:"processed,duplicate"`
		TenantID      int64    `json:"tenant_id,omitempty"`
		TenantCreated bool     `json:"tenant_created,omitempty"`
		Activated     []string `json:"activated,omitempty"`
	}
}

// Sign returns the signature a sender must put in SignatureHeader.
func Sign(secret string, body []byte) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hex.EncodeToString(mac.Sum(nil))
}

func validSignature(secret string, body []byte, signature string) bool {
	got, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(signature), "sha256="))
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(got, mac.Sum(nil))
}

func registerWebhooks(api huma.API, orders *app.OrderEvents, secret string, logger *zap.Logger) {
	huma.Register(api, huma.Operation{
		OperationID: "commerce-webhook",
		Method:      http.MethodPost,
		Path:        "/api/v1/webhooks/commerce",
		Summary:     "Receive an order or subscription event",
		Tags:        []string{"Webhooks"},
	}, func(ctx context.Context, input *CommerceWebhookInput) (*CommerceWebhookOutput, error) {
		if secret == "" || !validSignature(secret, input.RawBody, input.Signature) {
			logger.Warn("rejected webhook with bad signature")
			return nil, huma.Error401Unauthorized("invalid webhook signature")
		}

		var ev commerceEvent
		if err := json.Unmarshal(input.RawBody, &ev); err != nil {
			return nil, huma.Error400BadRequest("malformed event payload", err)
		}

		outcome, err := orders.Dispatch(ctx, app.CommerceEvent{
			Type:            ev.Type,
			OrderRef:        ev.OrderID,
			SubscriptionRef: ev.SubscriptionID,
		})
		if err != nil {
			logger.Error("commerce event failed",
				zap.String("type", ev.Type),
				zap.String("order", ev.OrderID),
				zap.String("subscription", ev.SubscriptionID),
				zap.Error(err),
			)
			return nil, toHumaError(err)
		}

		out := &CommerceWebhookOutput{}
		out.Body.Status = "processed"
		if outcome.Duplicate {
			out.Body.Status = "duplicate"
		}
		out.Body.TenantID = outcome.TenantID
		out.Body.TenantCreated = outcome.TenantCreated
		out.Body.Activated = outcome.Activated
		return out, nil
	})
}
