package services

import (
	"errors"
	"fmt"
	"time"

	"github.com/QueueCorpJP/App-Exit-sub002/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ContractService manages the lifecycle of legal documents embedded in a
// thread: proposal, per-party signature, terminal status. A contract
// never exists without its contract_ref message and vice versa; the two
// writes share one transaction.
type ContractService struct {
	db *gorm.DB
}

func NewContractService(db *gorm.DB) *ContractService {
	return &ContractService{db: db}
}

func validContractType(t models.ContractType) bool {
	switch t {
	case models.ContractTypeNDA, models.ContractTypeTransfer, models.ContractTypeTerms:
		return true
	}
	return false
}

// Propose creates a pending document and its contract_ref message
// atomically. proposalKey is a client idempotency key: a retry after a
// lost response returns the already-created document instead of creating
// a duplicate.
func (s *ContractService) Propose(threadID, proposerID uint, ctype models.ContractType, body, proposalKey string) (*models.ContractDocument, error) {
	if !validContractType(ctype) || body == "" {
		return nil, ErrValidation
	}
	if proposalKey == "" {
		proposalKey = uuid.NewString()
	}

	var doc models.ContractDocument
	err := s.db.Transaction(func(tx *gorm.DB) error {
		thread, err := lockThread(tx, threadID)
		if err != nil {
			return err
		}
		if !thread.HasParticipant(proposerID) {
			return ErrNotParticipant
		}

		doc = models.ContractDocument{
			ThreadID:    threadID,
			ProposerID:  proposerID,
			Type:        ctype,
			Body:        body,
			Status:      models.ContractStatusPending,
			ProposalKey: proposalKey,
		}
		// ON CONFLICT DO NOTHING instead of catching the duplicate-key
		// error: a raised unique violation aborts the whole Postgres
		// transaction and would poison the re-read below.
		res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&doc)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			// Retried proposal: the original transaction committed, so
			// the paired message exists too. Hand back the same document.
			return tx.Preload("Signatures").
				Where("proposal_key = ?", proposalKey).
				First(&doc).Error
		}

		docID := doc.ID
		_, err = appendMessage(tx, thread, proposerID, models.MessageKindContractRef,
			fmt.Sprintf("Proposed a %s agreement", ctype), "", &docID)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Get loads a document with its signatures for a thread participant.
func (s *ContractService) Get(documentID, requesterID uint) (*models.ContractDocument, error) {
	var doc models.ContractDocument
	if err := s.db.Preload("Signatures").First(&doc, documentID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var thread models.Thread
	if err := s.db.First(&thread, doc.ThreadID).Error; err != nil {
		return nil, err
	}
	if !thread.HasParticipant(requesterID) {
		return nil, ErrNotParticipant
	}
	return &doc, nil
}

// ListForThread returns every document ever proposed in the thread,
// oldest first. Rejected documents stay in the record.
func (s *ContractService) ListForThread(threadID, requesterID uint) ([]models.ContractDocument, error) {
	var thread models.Thread
	if err := s.db.First(&thread, threadID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	if !thread.HasParticipant(requesterID) {
		return nil, ErrNotParticipant
	}
	var docs []models.ContractDocument
	if err := s.db.Preload("Signatures").
		Where("thread_id = ?", threadID).
		Order("id ASC").
		Find(&docs).Error; err != nil {
		return nil, err
	}
	return docs, nil
}

// Sign records the signer's signature. Idempotent per party: a client
// retry does not duplicate the signature row. When the last required party
// signs, the document becomes signed and a system message is appended in
// the same transaction. For NDA documents on a listing-bound thread the
// transaction also writes the buyer's NDA acceptance.
func (s *ContractService) Sign(documentID, signerID uint, signatureText string) (*models.ContractDocument, error) {
	if signatureText == "" {
		return nil, ErrValidation
	}

	var doc models.ContractDocument
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&doc, documentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var thread models.Thread
		if err := tx.First(&thread, doc.ThreadID).Error; err != nil {
			return err
		}
		if !thread.HasParticipant(signerID) {
			return ErrNotParticipant
		}
		if doc.Terminal() {
			return ErrAlreadyTerminal
		}

		sig := models.ContractSignature{
			DocumentID:    documentID,
			PartyID:       signerID,
			SignatureText: signatureText,
			SignedAt:      time.Now(),
		}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&sig).Error; err != nil {
			if !errors.Is(err, gorm.ErrDuplicatedKey) {
				return err
			}
		}

		if err := tx.Where("document_id = ?", documentID).Find(&doc.Signatures).Error; err != nil {
			return err
		}
		if !doc.FullySigned(&thread) {
			// Awaiting counter-signature; status stays pending.
			return nil
		}

		now := time.Now()
		if err := tx.Model(&doc).Updates(map[string]interface{}{
			"status":    models.ContractStatusSigned,
			"signed_at": now,
		}).Error; err != nil {
			return err
		}
		doc.Status = models.ContractStatusSigned
		doc.SignedAt = &now

		locked, err := lockThread(tx, thread.ID)
		if err != nil {
			return err
		}
		docID := doc.ID
		if _, err := AppendSystem(tx, locked,
			fmt.Sprintf("The %s agreement has been signed", doc.Type), &docID); err != nil {
			return err
		}

		if doc.Type == models.ContractTypeNDA && thread.ListingID != nil {
			documentURL := fmt.Sprintf("/api/contracts/%d", doc.ID)
			if _, err := recordAcceptanceTx(tx, thread.BuyerID, *thread.ListingID, documentURL); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &doc, nil
}

// Reject marks the document terminally rejected. Existing partial
// signatures stay on record; they simply have no further legal effect.
func (s *ContractService) Reject(documentID, rejecterID uint, reason string) (*models.ContractDocument, error) {
	var doc models.ContractDocument
	err := s.db.Transaction(func(tx *gorm.DB) error {
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			First(&doc, documentID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrNotFound
			}
			return err
		}

		var thread models.Thread
		if err := tx.First(&thread, doc.ThreadID).Error; err != nil {
			return err
		}
		if !thread.HasParticipant(rejecterID) {
			return ErrNotParticipant
		}
		if doc.Terminal() {
			return ErrAlreadyTerminal
		}

		now := time.Now()
		if err := tx.Model(&doc).Updates(map[string]interface{}{
			"status":        models.ContractStatusRejected,
			"rejected_at":   now,
			"rejected_by":   rejecterID,
			"reject_reason": reason,
		}).Error; err != nil {
			return err
		}
		doc.Status = models.ContractStatusRejected
		doc.RejectedAt = &now
		doc.RejectedBy = &rejecterID
		doc.RejectReason = reason

		locked, err := lockThread(tx, thread.ID)
		if err != nil {
			return err
		}
		docID := doc.ID
		_, err = AppendSystem(tx, locked,
			fmt.Sprintf("The %s agreement was rejected", doc.Type), &docID)
		return err
	})
	if err != nil {
		return nil, err
	}
	if err := s.db.Where("document_id = ?", documentID).Find(&doc.Signatures).Error; err != nil {
		return nil, err
	}
	return &doc, nil
}
