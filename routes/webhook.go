package routes

import (
	"encoding/json"
	"io"
	"os"
	"strings"
	"time"

	"github.com/QueueCorpJP/App-Exit-sub002/models"
	"github.com/QueueCorpJP/App-Exit-sub002/services"
	"github.com/QueueCorpJP/App-Exit-sub002/storage"
	"github.com/QueueCorpJP/App-Exit-sub002/utils"

	"github.com/kataras/iris/v12"
)

type webhookEnvelope struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	IntentID string `json:"intentID"`
	Amount   int64  `json:"amount"`
}

// PaymentWebhook ingests completion events from the payment processor.
// The body signature must verify; after that the event is applied at
// most once, so the processor may redeliver freely.
func PaymentWebhook(ctx iris.Context) {
	body, err := io.ReadAll(ctx.Request().Body)
	if err != nil {
		utils.CreateError(iris.StatusBadRequest, "Webhook", "Unreadable payload.", ctx)
		return
	}

	signature := ctx.GetHeader("X-Payment-Signature")
	secret := os.Getenv("PAYMENT_WEBHOOK_SECRET")
	if err := services.VerifyWebhookSignature(body, signature, secret); err != nil {
		utils.CreateError(iris.StatusBadRequest, "Webhook", "Invalid signature.", ctx)
		return
	}

	var envelope webhookEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.ID == "" || envelope.IntentID == "" {
		utils.CreateError(iris.StatusBadRequest, "Webhook", "Malformed payload.", ctx)
		return
	}

	outcome, known := outcomeForEventType(envelope.Type)
	if !known {
		// Ack unknown event types so the processor stops retrying them.
		ctx.JSON(iris.Map{"received": true, "handled": false})
		return
	}

	// Redis short-circuits obvious redeliveries; the webhook_events
	// unique index remains the authority when Redis is unavailable.
	// The key is only written after a successful commit below, so an
	// event that failed to apply stays retryable.
	eventKey := "webhook:evt:" + envelope.ID
	if storage.Redis != nil {
		if val, err := storage.Redis.Get(ctx, eventKey).Result(); err == nil && val == "1" {
			ctx.JSON(iris.Map{"received": true, "duplicate": true})
			return
		}
	}

	intent, err := flow.Payments.HandleCompletion(services.CompletionEvent{
		Provider:    "payment",
		EventID:     envelope.ID,
		EventType:   envelope.Type,
		ExternalRef: envelope.IntentID,
		Outcome:     outcome,
		Amount:      envelope.Amount,
		Payload:     string(body),
	})
	if err != nil {
		respondServiceError(err, ctx)
		return
	}

	if storage.Redis != nil {
		storage.Redis.Set(ctx, eventKey, "1", 24*time.Hour)
	}
	ctx.JSON(iris.Map{"received": true, "intentStatus": intent.Status})
}

func outcomeForEventType(eventType string) (models.PaymentIntentStatus, bool) {
	switch {
	case strings.HasSuffix(eventType, ".succeeded"):
		return models.PaymentIntentSucceeded, true
	case strings.HasSuffix(eventType, ".payment_failed"), strings.HasSuffix(eventType, ".failed"):
		return models.PaymentIntentFailed, true
	case strings.HasSuffix(eventType, ".canceled"):
		return models.PaymentIntentCanceled, true
	}
	return "", false
}
