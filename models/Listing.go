package models

import (
	"gorm.io/gorm"
)

type ListingStatus string

const (
	ListingStatusDraft     ListingStatus = "draft"
	ListingStatusPublished ListingStatus = "published"
	ListingStatusSold      ListingStatus = "sold"
	ListingStatusWithdrawn ListingStatus = "withdrawn"
)

// Listing is a digital product (app/service) offered for sale. Listings
// marked secret keep their title, description and seller identity hidden
// from viewers who have not accepted the listing's NDA.
type Listing struct {
	gorm.Model
	SellerID    uint   `json:"sellerID" gorm:"not null;index"`
	Seller      User   `json:"-" gorm:"foreignKey:SellerID"`
	Title       string `json:"title" gorm:"size:256;not null"`
	Description string `json:"description" gorm:"type:text"`
	Price       int64  `json:"price" gorm:"not null"`
	Currency    string `json:"currency" gorm:"size:3;default:JPY"`

	IsSecret                  bool `json:"isSecret" gorm:"not null;default:false"`
	RequiresNDA               bool `json:"requiresNDA" gorm:"not null;default:false"`
	RequiresTransferAgreement bool `json:"requiresTransferAgreement" gorm:"not null;default:true"`

	Status ListingStatus `json:"status" gorm:"size:20;default:draft;index"`
}

// RedactedListing is the view of a secret listing served to requesters
// without an NDA acceptance. Restricted fields are simply absent.
type RedactedListing struct {
	ID       uint   `json:"id"`
	IsSecret bool   `json:"isSecret"`
	Price    int64  `json:"price"`
	Currency string `json:"currency"`
}

func (l *Listing) Redacted() RedactedListing {
	return RedactedListing{
		ID:       l.ID,
		IsSecret: true,
		Price:    l.Price,
		Currency: l.Currency,
	}
}
