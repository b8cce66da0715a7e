package models

import "time"

// WebhookEvent stores processor callback deliveries with deduplication
// metadata. Processors redeliver; the unique index over
// (provider, provider_event_id) makes the second delivery a no-op.
type WebhookEvent struct {
	ID              uint       `json:"id" gorm:"primaryKey"`
	Provider        string     `json:"provider" gorm:"type:varchar(20);not null;uniqueIndex:udx_webhook_provider_event,priority:1"`
	ProviderEventID string     `json:"providerEventID" gorm:"type:varchar(191);not null;uniqueIndex:udx_webhook_provider_event,priority:2"`
	EventType       string     `json:"eventType" gorm:"type:varchar(100);not null;index"`
	PayloadJSON     string     `json:"payloadJSON" gorm:"type:text;not null"`
	SignatureValid  bool       `json:"signatureValid" gorm:"default:false"`
	ProcessedAt     *time.Time `json:"processedAt"`
	ProcessingError string     `json:"processingError" gorm:"type:text"`
	CreatedAt       time.Time  `json:"createdAt" gorm:"index"`
}
