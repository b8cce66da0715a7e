package models

import (
	"time"

	"gorm.io/gorm"
)

type ContractType string

const (
	ContractTypeNDA      ContractType = "nda"
	ContractTypeTransfer ContractType = "transfer"
	ContractTypeTerms    ContractType = "terms"
)

type ContractStatus string

const (
	ContractStatusPending  ContractStatus = "pending"
	ContractStatusSigned   ContractStatus = "signed"
	ContractStatusRejected ContractStatus = "rejected"
)

// ContractDocument is a signable agreement embedded in a thread. Status
// moves pending -> signed or pending -> rejected and both ends are
// terminal: a correction means proposing a new document instance, the old
// one stays in the record.
type ContractDocument struct {
	gorm.Model
	ThreadID   uint   `json:"threadID" gorm:"not null;index"`
	Thread     Thread `json:"-" gorm:"foreignKey:ThreadID"`
	ProposerID uint   `json:"proposerID" gorm:"not null"`

	Type   ContractType   `json:"type" gorm:"size:16;not null;index"`
	Status ContractStatus `json:"status" gorm:"size:16;not null;default:pending;index"`
	Body   string         `json:"body" gorm:"type:text"`

	// ProposalKey is a client-supplied idempotency key: a retried proposal
	// lands on the unique index and gets the original document back instead
	// of creating a duplicate.
	ProposalKey string `json:"proposalKey" gorm:"size:64;uniqueIndex"`

	Signatures []ContractSignature `json:"signatures" gorm:"foreignKey:DocumentID"`

	SignedAt     *time.Time `json:"signedAt"`
	RejectedAt   *time.Time `json:"rejectedAt"`
	RejectedBy   *uint      `json:"rejectedBy"`
	RejectReason string     `json:"rejectReason" gorm:"size:512"`
}

// ContractSignature is one party's recorded signature on a document. A
// typed signature is a recorded claim, not a PKI certificate. Rows are
// never deleted, even when the document ends up rejected.
type ContractSignature struct {
	ID            uint      `json:"id" gorm:"primaryKey"`
	DocumentID    uint      `json:"documentID" gorm:"not null;index;uniqueIndex:udx_contract_party,priority:1"`
	PartyID       uint      `json:"partyID" gorm:"not null;uniqueIndex:udx_contract_party,priority:2"`
	SignatureText string    `json:"signatureText" gorm:"size:256;not null"`
	SignedAt      time.Time `json:"signedAt"`
}

// Terminal reports whether the document can accept no further
// transitions.
func (d *ContractDocument) Terminal() bool {
	return d.Status == ContractStatusSigned || d.Status == ContractStatusRejected
}

// SignedBy reports whether partyID already has a signature on record.
func (d *ContractDocument) SignedBy(partyID uint) bool {
	for _, s := range d.Signatures {
		if s.PartyID == partyID {
			return true
		}
	}
	return false
}

// FullySigned reports whether every required party has signed. The buyer
// is the only required signer on an NDA (the seller's terms, the buyer's
// acceptance); every other document type needs both participants.
func (d *ContractDocument) FullySigned(t *Thread) bool {
	if d.Type == ContractTypeNDA {
		return d.SignedBy(t.BuyerID)
	}
	return d.SignedBy(t.BuyerID) && d.SignedBy(t.SellerID)
}
