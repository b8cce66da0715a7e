package models

import (
	"time"
)

// NDAAcceptance records that a user accepted a listing's non-disclosure
// terms. Acceptance is idempotent: re-accepting returns the existing row,
// enforced by the unique index over (user_id, listing_id).
type NDAAcceptance struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	UserID      uint      `json:"userID" gorm:"not null;index;uniqueIndex:udx_nda_user_listing,priority:1"`
	ListingID   uint      `json:"listingID" gorm:"not null;index;uniqueIndex:udx_nda_user_listing,priority:2"`
	DocumentURL string    `json:"documentURL" gorm:"size:512"`
	SignedAt    time.Time `json:"signedAt"`
	CreatedAt   time.Time `json:"createdAt"`
}
