package models

import (
	"time"

	"gorm.io/gorm"
)

type PaymentIntentStatus string

const (
	PaymentIntentCreated    PaymentIntentStatus = "created"
	PaymentIntentProcessing PaymentIntentStatus = "processing"
	PaymentIntentSucceeded  PaymentIntentStatus = "succeeded"
	PaymentIntentFailed     PaymentIntentStatus = "failed"
	PaymentIntentCanceled   PaymentIntentStatus = "canceled"
)

// PaymentIntent tracks one attempt to capture funds for a deal. The
// partial unique index over (thread_id, listing_id) holds while the intent
// is unresolved (created/processing): that is the storage-level guard that
// makes a concurrent double-checkout impossible, independent of any
// read-then-write check in the application.
type PaymentIntent struct {
	gorm.Model
	ThreadID  uint `json:"threadID" gorm:"not null;index;index:udx_active_intent,unique,where:status = 'created' OR status = 'processing',priority:1"`
	ListingID uint `json:"listingID" gorm:"not null;index;index:udx_active_intent,unique,where:status = 'created' OR status = 'processing',priority:2"`
	BuyerID   uint `json:"buyerID" gorm:"not null;index"`

	Amount   int64  `json:"amount" gorm:"not null"`
	Fee      int64  `json:"fee" gorm:"not null;default:0"`
	Currency string `json:"currency" gorm:"size:3;default:JPY"`

	Status PaymentIntentStatus `json:"status" gorm:"type:text;not null;default:created;index"`

	// ExternalRef is the processor's idempotency handle for this intent;
	// completion callbacks are matched on it.
	ExternalRef  string `json:"externalRef" gorm:"size:64;not null;uniqueIndex"`
	ClientSecret string `json:"-" gorm:"size:128"`

	CompletedAt   *time.Time `json:"completedAt"`
	FailureReason string     `json:"failureReason" gorm:"size:512"`
}

// Resolved reports whether the intent has reached a terminal state and no
// longer occupies the active-intent slot.
func (p *PaymentIntent) Resolved() bool {
	switch p.Status {
	case PaymentIntentSucceeded, PaymentIntentFailed, PaymentIntentCanceled:
		return true
	}
	return false
}
