package services

import (
	"errors"
	"time"

	"github.com/QueueCorpJP/App-Exit-sub002/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// NDALedger records NDA acceptance per (user, listing) pair and gates
// read access to secret listing fields.
type NDALedger struct {
	db *gorm.DB
}

func NewNDALedger(db *gorm.DB) *NDALedger {
	return &NDALedger{db: db}
}

func (l *NDALedger) HasAccepted(userID, listingID uint) (bool, error) {
	var n int64
	err := l.db.Model(&models.NDAAcceptance{}).
		Where("user_id = ? AND listing_id = ?", userID, listingID).
		Count(&n).Error
	return n > 0, err
}

// RecordAcceptance is idempotent: re-accepting returns the existing row.
// recordAcceptanceTx is the transactional form the contract engine uses
// when an NDA document completes.
func (l *NDALedger) RecordAcceptance(userID, listingID uint, documentURL string) (*models.NDAAcceptance, error) {
	return recordAcceptanceTx(l.db, userID, listingID, documentURL)
}

func recordAcceptanceTx(tx *gorm.DB, userID, listingID uint, documentURL string) (*models.NDAAcceptance, error) {
	acceptance := models.NDAAcceptance{
		UserID:      userID,
		ListingID:   listingID,
		DocumentURL: documentURL,
		SignedAt:    time.Now(),
	}
	err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&acceptance).Error
	if err != nil && !errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, err
	}

	var existing models.NDAAcceptance
	if err := tx.Where("user_id = ? AND listing_id = ?", userID, listingID).First(&existing).Error; err != nil {
		return nil, err
	}
	return &existing, nil
}

// ListingVisibility reports whether the listing is secret and whether the
// requester may read its restricted fields. The seller always has access.
func (l *NDALedger) ListingVisibility(listingID, requesterID uint) (isSecret bool, hasAccess bool, err error) {
	var listing models.Listing
	if err := l.db.First(&listing, listingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, false, ErrNotFound
		}
		return false, false, err
	}
	return listingVisibility(&listing, requesterID, func() (bool, error) {
		return l.HasAccepted(requesterID, listingID)
	})
}

func listingVisibility(listing *models.Listing, requesterID uint, hasAccepted func() (bool, error)) (bool, bool, error) {
	if !listing.IsSecret {
		return false, true, nil
	}
	if requesterID != 0 && requesterID == listing.SellerID {
		return true, true, nil
	}
	if requesterID == 0 {
		return true, false, nil
	}
	ok, err := hasAccepted()
	if err != nil {
		return true, false, err
	}
	return true, ok, nil
}

// ListingView returns the listing as the requester is allowed to see it:
// the full row, or the redacted form with title/description/seller hidden.
func (l *NDALedger) ListingView(listingID, requesterID uint) (interface{}, error) {
	var listing models.Listing
	if err := l.db.First(&listing, listingID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	_, hasAccess, err := l.ListingVisibility(listingID, requesterID)
	if err != nil {
		return nil, err
	}
	if !hasAccess {
		return listing.Redacted(), nil
	}
	return listing, nil
}
