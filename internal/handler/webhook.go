package handler

import (
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"stocksync/internal/middleware"
	"stocksync/internal/service"
	"stocksync/internal/webhook"
	"stocksync/pkg/apierror"
	"stocksync/pkg/response"
)

// maxWebhookBody caps the size of a delivery body.
const maxWebhookBody = 5 << 20

// WebhookHandler accepts platform webhook deliveries.
type WebhookHandler struct {
	intake *service.Intake
	secret string
	log    *log.Entry
}

// NewWebhookHandler creates a webhook handler. An empty secret disables
// signature checks.
func NewWebhookHandler(intake *service.Intake, secret string) *WebhookHandler {
	h := &WebhookHandler{
		intake: intake,
		secret: secret,
		log:    log.WithField("component", "webhooks"),
	}
	if secret == "" {
		h.log.Warn("webhook secret not configured, signatures are not verified")
	}
	return h
}

// Receive handles POST /webhooks
func (h *WebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	defer r.Body.Close()
	if err != nil {
		response.Error(w, apierror.BadRequest("failed to read request body"))
		return
	}
	if len(body) > maxWebhookBody {
		response.Error(w, apierror.BadRequest("request body too large"))
		return
	}

	if h.secret != "" && !webhook.Verify(body, r.Header.Get(webhook.HeaderHmac), h.secret) {
		response.Error(w, apierror.Unauthorized("invalid webhook signature"))
		return
	}

	d := service.Delivery{
		EventID: r.Header.Get(webhook.HeaderWebhookID),
		Topic:   r.Header.Get(webhook.HeaderTopic),
		Source:  r.Header.Get(webhook.HeaderShopDomain),
		Payload: body,
	}
	var missing []apierror.FieldError
	for _, hv := range [][2]string{
		{webhook.HeaderWebhookID, d.EventID},
		{webhook.HeaderTopic, d.Topic},
		{webhook.HeaderShopDomain, d.Source},
	} {
		if hv[1] == "" {
			missing = append(missing, apierror.FieldError{Field: hv[0], Message: "header is required"})
		}
	}
	if len(missing) > 0 {
		response.Error(w, apierror.ValidationError("missing webhook headers", missing...))
		return
	}

	status, err := h.intake.Receive(r.Context(), d)
	if err != nil {
		entry := h.log.WithError(err).WithFields(log.Fields{
			"event_id":   d.EventID,
			"topic":      d.Topic,
			"replica":    d.Source,
			"request_id": middleware.GetRequestID(r.Context()),
		})
		if errors.Is(err, webhook.ErrInvalidPayload) {
			entry.Warn("webhook rejected")
		} else {
			entry.Error("webhook intake failed")
		}
		response.Error(w, serviceError(err))
		return
	}

	response.OK(w, map[string]string{
		"status":   string(status),
		"event_id": d.EventID,
	})
}
