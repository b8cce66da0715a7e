package services

import (
	"github.com/QueueCorpJP/App-Exit-sub002/models"

	"gorm.io/gorm"
)

// DealStage is the externally visible position of a negotiation in the
// deal lifecycle. It is derived from stored state, never stored itself.
type DealStage string

const (
	StageNegotiating     DealStage = "negotiating"
	StageNDAPending      DealStage = "nda_pending"
	StageNDASigned       DealStage = "nda_signed"
	StageContractPending DealStage = "contract_pending"
	StageContractSigned  DealStage = "contract_signed"
	StagePaymentPending  DealStage = "payment_pending"
	StageCompleted       DealStage = "completed"
	StageRejected        DealStage = "rejected"
	StageCanceled        DealStage = "canceled"
)

// Workflow is the orchestrator: it owns the component services and
// sequences them. It enforces ordering preconditions before delegating
// and propagates component failures unchanged, so callers always see
// which component refused.
type Workflow struct {
	db        *gorm.DB
	Threads   *ThreadService
	Messages  *MessageService
	Contracts *ContractService
	NDA       *NDALedger
	Payments  *PaymentBridge
}

func NewWorkflow(db *gorm.DB, processor ProcessorClient, feeBps int64) *Workflow {
	return &Workflow{
		db:        db,
		Threads:   NewThreadService(db),
		Messages:  NewMessageService(db),
		Contracts: NewContractService(db),
		NDA:       NewNDALedger(db),
		Payments:  NewPaymentBridge(db, processor, feeBps),
	}
}

// DealState is the orchestrator's answer to "where does this deal
// stand": the derived stage plus the evidence behind it.
type DealState struct {
	Stage        DealStage                 `json:"stage"`
	Thread       *models.Thread            `json:"thread"`
	Documents    []models.ContractDocument `json:"documents"`
	ActiveIntent *models.PaymentIntent     `json:"activeIntent,omitempty"`
}

// DealState loads everything the stage derivation needs, gated on
// participation.
func (w *Workflow) DealState(threadID, requesterID uint) (*DealState, error) {
	thread, err := w.Threads.GetThread(threadID, requesterID)
	if err != nil {
		return nil, err
	}

	var docs []models.ContractDocument
	if err := w.db.Preload("Signatures").
		Where("thread_id = ?", threadID).
		Order("id ASC").
		Find(&docs).Error; err != nil {
		return nil, err
	}

	var intents []models.PaymentIntent
	if err := w.db.Where("thread_id = ?", threadID).Order("id ASC").Find(&intents).Error; err != nil {
		return nil, err
	}

	var listing *models.Listing
	if thread.ListingID != nil {
		var l models.Listing
		if err := w.db.First(&l, *thread.ListingID).Error; err == nil {
			listing = &l
		}
	}

	state := &DealState{
		Thread:    thread,
		Documents: docs,
		Stage:     ComputeDealStage(thread, listing, docs, intents),
	}
	for i := range intents {
		if !intents[i].Resolved() {
			state.ActiveIntent = &intents[i]
		}
	}
	return state, nil
}

// ComputeDealStage derives the stage from the thread's documents and
// payment intents. Pure so the ladder is testable without a database.
func ComputeDealStage(thread *models.Thread, listing *models.Listing, docs []models.ContractDocument, intents []models.PaymentIntent) DealStage {
	for _, p := range intents {
		if p.Status == models.PaymentIntentSucceeded {
			return StageCompleted
		}
	}
	if listing != nil && listing.Status == models.ListingStatusWithdrawn {
		return StageCanceled
	}
	for _, p := range intents {
		if !p.Resolved() {
			return StagePaymentPending
		}
	}

	requiresNDA := listing != nil && listing.RequiresNDA
	requiresTransfer := listing == nil || listing.RequiresTransferAgreement

	if requiresNDA {
		switch latestDocStatus(docs, models.ContractTypeNDA) {
		case models.ContractStatusSigned:
			// fall through to the transfer ladder
		case models.ContractStatusPending:
			return StageNDAPending
		case models.ContractStatusRejected:
			return StageRejected
		default:
			return StageNegotiating
		}
		if !requiresTransfer {
			return StageNDASigned
		}
	}

	if requiresTransfer {
		switch latestDocStatus(docs, models.ContractTypeTransfer) {
		case models.ContractStatusSigned:
			return StageContractSigned
		case models.ContractStatusPending:
			return StageContractPending
		case models.ContractStatusRejected:
			return StageRejected
		}
		if requiresNDA {
			return StageNDASigned
		}
	}
	return StageNegotiating
}

// latestDocStatus returns the status of the newest document of the given
// type, preferring a signed instance: a rejected NDA followed by a signed
// replacement counts as signed.
func latestDocStatus(docs []models.ContractDocument, ctype models.ContractType) models.ContractStatus {
	var status models.ContractStatus
	for _, d := range docs {
		if d.Type != ctype {
			continue
		}
		if d.Status == models.ContractStatusSigned {
			return models.ContractStatusSigned
		}
		status = d.Status
	}
	return status
}
