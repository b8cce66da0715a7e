package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"time"

	"github.com/QueueCorpJP/App-Exit-sub002/models"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// PaymentBridge creates payment intents tied to a (listing, thread,
// amount) and links processor outcomes back into the thread. At most one
// unresolved intent may exist per (thread, listing); the partial unique
// index on the table enforces that, not a read-then-write check.
type PaymentBridge struct {
	db        *gorm.DB
	processor ProcessorClient
	feeBps    int64
}

func NewPaymentBridge(db *gorm.DB, processor ProcessorClient, feeBps int64) *PaymentBridge {
	if feeBps < 0 {
		feeBps = 0
	}
	return &PaymentBridge{db: db, processor: processor, feeBps: feeBps}
}

// CheckoutResult is what the buyer's client needs to hand off to the
// processor's card UI.
type CheckoutResult struct {
	Intent       *models.PaymentIntent `json:"intent"`
	ClientSecret string                `json:"clientSecret"`
}

// InitiateCheckout reserves the active-intent slot and registers the
// intent with the processor. Preconditions: the requester is the thread's
// buyer, and the listing's transfer agreement (when required) is signed.
func (b *PaymentBridge) InitiateCheckout(ctx context.Context, threadID, requesterID uint, amount int64) (*CheckoutResult, error) {
	if amount <= 0 {
		return nil, ErrValidation
	}

	var thread models.Thread
	if err := b.db.First(&thread, threadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !thread.HasParticipant(requesterID) {
		return nil, ErrNotParticipant
	}
	if requesterID != thread.BuyerID {
		return nil, ErrNotBuyer
	}
	if thread.ListingID == nil {
		return nil, fmt.Errorf("%w: thread has no listing to pay for", ErrValidation)
	}

	var listing models.Listing
	if err := b.db.First(&listing, *thread.ListingID).Error; err != nil {
		return nil, err
	}

	if listing.RequiresTransferAgreement {
		signed, err := b.hasSignedDocument(threadID, models.ContractTypeTransfer)
		if err != nil {
			return nil, err
		}
		if !signed {
			return nil, ErrContractNotSigned
		}
	}

	// Reserve the slot first: the insert either takes the partial unique
	// index or loses to a concurrent checkout. Only the winner talks to
	// the processor, so a double-click can never double-charge.
	reference := ulid.Make().String()
	intent := models.PaymentIntent{
		ThreadID:    threadID,
		ListingID:   *thread.ListingID,
		BuyerID:     requesterID,
		Amount:      amount,
		Fee:         amount * b.feeBps / 10000,
		Currency:    listing.Currency,
		Status:      models.PaymentIntentCreated,
		ExternalRef: reference,
	}
	if err := b.db.Create(&intent).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, ErrIntentAlreadyActive
		}
		return nil, err
	}

	processorIntent, err := b.processor.CreateIntent(ctx, ProcessorIntentRequest{
		Reference: reference,
		Amount:    amount,
		Fee:       intent.Fee,
		Currency:  intent.Currency,
		Metadata: map[string]string{
			"threadID":  strconv.FormatUint(uint64(threadID), 10),
			"listingID": strconv.FormatUint(uint64(*thread.ListingID), 10),
		},
	})
	if err != nil {
		// Release the slot; the buyer can retry once the processor is back.
		// If the release itself fails the slot stays occupied and
		// CancelCheckout is the manual way out, so it has to be visible.
		if relErr := b.db.Model(&intent).Updates(map[string]interface{}{
			"status":         models.PaymentIntentFailed,
			"failure_reason": "processor registration failed",
			"completed_at":   time.Now(),
		}).Error; relErr != nil {
			log.Printf("[PAY] releasing intent %s after processor failure did not stick: %v", intent.ExternalRef, relErr)
		}
		if errors.Is(err, ErrProcessorUnavailable) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrProcessorUnavailable, err)
	}

	clientSecret := processorIntent.ClientSecret
	if clientSecret == "" {
		clientSecret = uuid.NewString()
	}
	if err := b.db.Model(&intent).Updates(map[string]interface{}{
		"external_ref":  processorIntent.IntentID,
		"client_secret": clientSecret,
	}).Error; err != nil {
		return nil, err
	}
	intent.ExternalRef = processorIntent.IntentID
	intent.ClientSecret = clientSecret

	log.Printf("[PAY] intent %s created for thread %d listing %d amount %d", intent.ExternalRef, threadID, *thread.ListingID, amount)
	return &CheckoutResult{Intent: &intent, ClientSecret: clientSecret}, nil
}

// CancelCheckout releases the active-intent slot for a checkout the buyer
// abandoned. Idempotent: cancelling an already-canceled intent is a
// no-op, and the processor-expiry callback converges on the same state.
func (b *PaymentBridge) CancelCheckout(ctx context.Context, threadID, requesterID uint) (*models.PaymentIntent, error) {
	var thread models.Thread
	if err := b.db.First(&thread, threadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !thread.HasParticipant(requesterID) {
		return nil, ErrNotParticipant
	}
	if requesterID != thread.BuyerID {
		return nil, ErrNotBuyer
	}

	var intent models.PaymentIntent
	err := b.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("thread_id = ?", threadID).
			Order("id DESC").
			First(&intent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNoActiveIntent
			}
			return err
		}
		if intent.Status == models.PaymentIntentCanceled {
			return nil // already released
		}
		if intent.Resolved() {
			return ErrAlreadyTerminal
		}

		now := time.Now()
		if err := tx.Model(&intent).Updates(map[string]interface{}{
			"status":       models.PaymentIntentCanceled,
			"completed_at": now,
		}).Error; err != nil {
			return err
		}
		intent.Status = models.PaymentIntentCanceled
		intent.CompletedAt = &now
		return nil
	})
	if err != nil {
		return nil, err
	}

	// Best effort: tell the processor too. Its expiry callback would
	// converge on the same terminal state anyway.
	if err := b.processor.CancelIntent(ctx, intent.ExternalRef); err != nil {
		log.Printf("[PAY] cancel of %s at processor failed: %v", intent.ExternalRef, err)
	}
	return &intent, nil
}

// CompletionEvent is a processor callback, already signature-verified by
// the transport layer.
type CompletionEvent struct {
	Provider    string
	EventID     string
	EventType   string
	ExternalRef string
	Outcome     models.PaymentIntentStatus
	Amount      int64
	Payload     string
}

// HandleCompletion applies a processor outcome exactly once. Redeliveries
// are absorbed twice over: by the webhook event unique index and by the
// intent's terminal status. The event record, the status write and the
// system-message append commit together or not at all, so a delivery that
// fails to apply leaves no record and stays retryable.
func (b *PaymentBridge) HandleCompletion(event CompletionEvent) (*models.PaymentIntent, error) {
	switch event.Outcome {
	case models.PaymentIntentSucceeded, models.PaymentIntentFailed, models.PaymentIntentCanceled:
	default:
		return nil, ErrValidation
	}

	var intent models.PaymentIntent
	var duplicate bool
	var rejectErr error
	err := b.db.Transaction(func(tx *gorm.DB) error {
		record := models.WebhookEvent{
			Provider:        event.Provider,
			ProviderEventID: event.EventID,
			EventType:       event.EventType,
			PayloadJSON:     event.Payload,
			SignatureValid:  true,
		}
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&record)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Redelivered event: the first delivery's commit owns the
			// outcome, nothing more to do.
			duplicate = true
			return nil
		}

		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("external_ref = ?", event.ExternalRef).
			First(&intent).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		if intent.Resolved() {
			// Terminal already; idempotent delivery.
			return markEventProcessed(tx, &record, "")
		}

		if event.Outcome == models.PaymentIntentSucceeded && event.Amount != 0 && event.Amount != intent.Amount {
			// Commit the event with its error so support can see what the
			// processor sent, but leave the intent untouched.
			if err := markEventProcessed(tx, &record, fmt.Sprintf("amount mismatch: got %d want %d", event.Amount, intent.Amount)); err != nil {
				return err
			}
			rejectErr = fmt.Errorf("%w: completion amount does not match intent", ErrValidation)
			return nil
		}

		now := time.Now()
		updates := map[string]interface{}{
			"status":       event.Outcome,
			"completed_at": now,
		}
		if event.Outcome == models.PaymentIntentFailed {
			updates["failure_reason"] = event.EventType
		}
		if err := tx.Model(&intent).Updates(updates).Error; err != nil {
			return err
		}
		intent.Status = event.Outcome
		intent.CompletedAt = &now

		switch event.Outcome {
		case models.PaymentIntentSucceeded:
			thread, err := lockThread(tx, intent.ThreadID)
			if err != nil {
				return err
			}
			if _, err := AppendSystem(tx, thread, "Payment completed. The deal is done.", nil); err != nil {
				return err
			}
			if err := tx.Model(&models.Listing{}).
				Where("id = ?", intent.ListingID).
				Update("status", models.ListingStatusSold).Error; err != nil {
				return err
			}
		case models.PaymentIntentFailed:
			thread, err := lockThread(tx, intent.ThreadID)
			if err != nil {
				return err
			}
			if _, err := AppendSystem(tx, thread, "Payment failed. Checkout can be restarted.", nil); err != nil {
				return err
			}
		}
		// Canceled (processor expiry) just releases the slot quietly.

		return markEventProcessed(tx, &record, "")
	})
	if err != nil {
		return nil, err
	}
	if rejectErr != nil {
		return nil, rejectErr
	}
	if duplicate {
		log.Printf("[WEBHOOK] duplicate delivery %s/%s ignored", event.Provider, event.EventID)
		return b.intentByRef(event.ExternalRef)
	}

	log.Printf("[WEBHOOK] intent %s -> %s", intent.ExternalRef, intent.Status)
	return &intent, nil
}

func (b *PaymentBridge) intentByRef(externalRef string) (*models.PaymentIntent, error) {
	var intent models.PaymentIntent
	if err := b.db.Where("external_ref = ?", externalRef).First(&intent).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &intent, nil
}

// ListForUser returns the user's payment history, newest first.
func (b *PaymentBridge) ListForUser(userID uint) ([]models.PaymentIntent, error) {
	var intents []models.PaymentIntent
	err := b.db.Where("buyer_id = ?", userID).Order("id DESC").Find(&intents).Error
	return intents, err
}

func (b *PaymentBridge) hasSignedDocument(threadID uint, ctype models.ContractType) (bool, error) {
	var n int64
	err := b.db.Model(&models.ContractDocument{}).
		Where("thread_id = ? AND type = ? AND status = ?", threadID, ctype, models.ContractStatusSigned).
		Count(&n).Error
	return n > 0, err
}

func markEventProcessed(tx *gorm.DB, record *models.WebhookEvent, processingError string) error {
	if record.ID == 0 {
		return nil
	}
	now := time.Now()
	return tx.Model(record).Updates(map[string]interface{}{
		"processed_at":     now,
		"processing_error": processingError,
	}).Error
}
