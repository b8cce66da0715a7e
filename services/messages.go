package services

import (
	"errors"

	"github.com/QueueCorpJP/App-Exit-sub002/models"

	"gorm.io/gorm"
)

// MessageService is the append-only, ordered message log. Sequence
// numbers are the ordering backbone for both rendering and legal
// evidence: strictly increasing, no gaps, no duplicates.
type MessageService struct {
	db *gorm.DB
}

func NewMessageService(db *gorm.DB) *MessageService {
	return &MessageService{db: db}
}

// AppendInput is the payload for a participant-authored message.
type AppendInput struct {
	Kind     models.MessageKind
	Body     string
	ImageURL string
}

// Append validates the sender and writes the next entry under the
// thread's row lock.
func (s *MessageService) Append(threadID, senderID uint, input AppendInput) (*models.Message, error) {
	switch input.Kind {
	case models.MessageKindText:
		if input.Body == "" {
			return nil, ErrValidation
		}
	case models.MessageKindImage:
		if input.ImageURL == "" {
			return nil, ErrValidation
		}
	default:
		// contract_ref and system entries are appended by the workflow
		// itself, never directly by a participant.
		return nil, ErrValidation
	}

	var msg *models.Message
	err := s.db.Transaction(func(tx *gorm.DB) error {
		thread, err := lockThread(tx, threadID)
		if err != nil {
			return err
		}
		if !thread.HasParticipant(senderID) {
			return ErrNotParticipant
		}
		msg, err = appendMessage(tx, thread, senderID, input.Kind, input.Body, input.ImageURL, nil)
		return err
	})
	if err != nil {
		return nil, err
	}
	return msg, nil
}

// AppendSystem writes a workflow-authored entry with the synthetic system
// sender. Used by the contract engine and payment bridge inside their own
// transactions.
func AppendSystem(tx *gorm.DB, thread *models.Thread, body string, contractID *uint) (*models.Message, error) {
	return appendMessage(tx, thread, models.SystemSenderID, models.MessageKindSystem, body, "", contractID)
}

// List returns messages for a participant, cursor-paginated by sequence
// number. Soft-deleted entries come back as tombstones so positions stay
// consistent.
func (s *MessageService) List(threadID, requesterID uint, limit int, beforeSeq uint64, oldestFirst bool) ([]models.Message, error) {
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

	if limit <= 0 || limit > 100 {
		limit = 30
	}

	q := s.db.Where("thread_id = ?", threadID)
	if beforeSeq > 0 {
		if oldestFirst {
			q = q.Where("seq > ?", beforeSeq)
		} else {
			q = q.Where("seq < ?", beforeSeq)
		}
	}
	order := "seq DESC"
	if oldestFirst {
		order = "seq ASC"
	}

	var msgs []models.Message
	if err := q.Order(order).Limit(limit).Find(&msgs).Error; err != nil {
		return nil, err
	}
	for i := range msgs {
		msgs[i] = msgs[i].Tombstone()
	}
	return msgs, nil
}

// SoftDelete masks a message's content. Only the original sender may do
// this, and the row keeps its sequence position: the audit trail must stay
// positionally consistent for contract disputes.
func (s *MessageService) SoftDelete(messageID, requesterID uint) (*models.Message, error) {
	var msg models.Message
	if err := s.db.First(&msg, messageID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var thread models.Thread
	if err := s.db.First(&thread, msg.ThreadID).Error; err != nil {
		return nil, err
	}
	if !thread.HasParticipant(requesterID) {
		return nil, ErrNotParticipant
	}
	if msg.SenderID != requesterID {
		return nil, ErrNotSender
	}

	if !msg.IsDeleted {
		if err := s.db.Model(&msg).Update("is_deleted", true).Error; err != nil {
			return nil, err
		}
		msg.IsDeleted = true
	}
	masked := msg.Tombstone()
	return &masked, nil
}
