package models

import (
	"gorm.io/gorm"
)

type MessageKind string

const (
	MessageKindText        MessageKind = "text"
	MessageKindImage       MessageKind = "image"
	MessageKindContractRef MessageKind = "contract_ref"
	MessageKindSystem      MessageKind = "system"
)

// SystemSenderID is the synthetic sender recorded on messages the
// workflow appends itself (contract proposed/signed, payment completed).
// It is never a real user id.
const SystemSenderID uint = 0

// Message is a single append-only entry in a thread. Entries are strictly
// ordered by Seq within their thread; content is never mutated after
// creation, only masked by the soft-delete tombstone.
type Message struct {
	gorm.Model
	ThreadID uint   `json:"threadID" gorm:"not null;index;uniqueIndex:udx_message_seq,priority:1"`
	Seq      uint64 `json:"seq" gorm:"not null;uniqueIndex:udx_message_seq,priority:2"`

	// SenderID is SystemSenderID for workflow-authored entries.
	SenderID uint        `json:"senderID" gorm:"not null;index"`
	Kind     MessageKind `json:"kind" gorm:"size:16;not null"`

	Body       string `json:"body" gorm:"type:text"`
	ImageURL   string `json:"imageURL" gorm:"size:512"`
	ContractID *uint  `json:"contractID" gorm:"index"`

	IsDeleted bool `json:"isDeleted" gorm:"not null;default:false"`
}

// Tombstone returns a copy safe to hand to clients: soft-deleted content
// is masked but the row keeps its sequence position.
func (m Message) Tombstone() Message {
	if !m.IsDeleted {
		return m
	}
	m.Body = ""
	m.ImageURL = ""
	return m
}

func (m *Message) IsSystem() bool {
	return m.SenderID == SystemSenderID
}
