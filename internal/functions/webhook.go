package functions

import (
	"context"
	"errors"
	"strings"

	"github.com/emarini/voicegate/internal/notify"
	"github.com/emarini/voicegate/internal/observability"
)

// Notify implements send_webhook_notification. Delivery is best
// effort: failures are reported in the result envelope and never
// escalated past the dispatcher.
type Notify struct {
	webhook *notify.Webhook
	metrics *observability.Metrics
}

func NewNotify(webhook *notify.Webhook, metrics *observability.Metrics) *Notify {
	return &Notify{webhook: webhook, metrics: metrics}
}

func (n *Notify) Name() string { return "send_webhook_notification" }

func (n *Notify) Handle(ctx context.Context, params map[string]any) (Result, error) {
	message, _ := params["message"].(string)
	if strings.TrimSpace(message) == "" {
		return nil, errors.New("message is required")
	}
	data, _ := params["data"].(map[string]any)

	delivery, err := n.webhook.Send(ctx, message, data)
	if err != nil {
		n.observe("failure")
		// Hand the delivery details back so the failure envelope
		// still names the endpoint that rejected us.
		return Result{
			"webhook_url": delivery.Endpoint,
		}, err
	}

	n.observe("success")
	return Result{
		"message":         "Webhook notification sent successfully",
		"webhook_url":     delivery.Endpoint,
		"response_status": delivery.StatusCode,
		"response_data":   delivery.ResponseBody,
		"sent_payload":    delivery.Payload,
	}, nil
}

func (n *Notify) observe(outcome string) {
	if n.metrics != nil {
		n.metrics.WebhookDeliveries.WithLabelValues(outcome).Inc()
	}
}
