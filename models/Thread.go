package models

import (
	"time"

	"gorm.io/gorm"
)

// Thread is the two-party negotiation container between a buyer and a
// seller, optionally anchored to a listing. The participant pair is fixed
// at creation and the row is never deleted: threads are the audit trail
// for contract disputes.
type Thread struct {
	gorm.Model
	// Uniqueness over the pair lives in udx_thread_pair, an expression
	// index (see storage.performMigrations): the pair is unordered and a
	// NULL listing collapses to one slot, neither of which a plain
	// composite index can express.
	BuyerID   uint  `json:"buyerID" gorm:"not null;index"`
	SellerID  uint  `json:"sellerID" gorm:"not null;index"`
	ListingID *uint `json:"listingID" gorm:"index"`

	Buyer   User     `json:"-" gorm:"foreignKey:BuyerID"`
	Seller  User     `json:"-" gorm:"foreignKey:SellerID"`
	Listing *Listing `json:"-" gorm:"foreignKey:ListingID"`

	// LastSeq is the per-thread message sequence counter. It is only ever
	// advanced while holding a row lock on the thread, so two concurrent
	// senders can never be handed the same sequence number.
	LastSeq uint64 `json:"lastSeq" gorm:"not null;default:0"`

	// Read markers, one per participant. Unread counts are derived from
	// these rather than stored.
	BuyerLastReadSeq  uint64 `json:"buyerLastReadSeq" gorm:"not null;default:0"`
	SellerLastReadSeq uint64 `json:"sellerLastReadSeq" gorm:"not null;default:0"`

	LastMessageAt *time.Time `json:"lastMessageAt" gorm:"index"`
}

// HasParticipant reports whether userID is one of the two parties.
func (t *Thread) HasParticipant(userID uint) bool {
	return userID == t.BuyerID || userID == t.SellerID
}

// OtherParticipant returns the counterparty of userID. The caller must
// have checked HasParticipant first.
func (t *Thread) OtherParticipant(userID uint) uint {
	if userID == t.BuyerID {
		return t.SellerID
	}
	return t.BuyerID
}

// ReadSeqFor returns the read marker belonging to userID.
func (t *Thread) ReadSeqFor(userID uint) uint64 {
	if userID == t.BuyerID {
		return t.BuyerLastReadSeq
	}
	return t.SellerLastReadSeq
}
