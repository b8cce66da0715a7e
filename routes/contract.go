package routes

import (
	"github.com/QueueCorpJP/App-Exit-sub002/models"
	"github.com/QueueCorpJP/App-Exit-sub002/utils"

	"github.com/google/uuid"
	"github.com/kataras/iris/v12"
)

type proposeContractInput struct {
	ThreadID    uint   `json:"threadID" validate:"required"`
	Type        string `json:"type" validate:"required,oneof=nda transfer terms"`
	Body        string `json:"body" validate:"required"`
	ProposalKey string `json:"proposalKey" validate:"omitempty,uuid"`
}

// ProposeContract creates a document and its announcement message
// atomically. Clients may supply a proposalKey so a retried request
// returns the already-created document instead of a duplicate.
func ProposeContract(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}

	var input proposeContractInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}
	if input.ProposalKey == "" {
		input.ProposalKey = uuid.NewString()
	}

	doc, err := flow.Contracts.Propose(input.ThreadID, userID, models.ContractType(input.Type), input.Body, input.ProposalKey)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}

	utils.Audit(ctx, userID, "contract.propose", "contract_document", doc.ID, nil, doc)
	ctx.StatusCode(iris.StatusCreated)
	ctx.JSON(doc)
}

func GetContract(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}
	documentID, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.CreateError(iris.StatusBadRequest, "Validation", "Invalid document ID.", ctx)
		return
	}

	doc, err := flow.Contracts.Get(documentID, userID)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}
	ctx.JSON(doc)
}

// ListThreadContracts returns every document proposed in a thread,
// rejected ones included.
func ListThreadContracts(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}
	threadID, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.CreateError(iris.StatusBadRequest, "Validation", "Invalid thread ID.", ctx)
		return
	}

	docs, err := flow.Contracts.ListForThread(threadID, userID)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}
	ctx.JSON(iris.Map{"documents": docs})
}

type signContractInput struct {
	Signature string `json:"signature" validate:"required,max=200"`
}

// SignContract records the caller's signature. Signing twice is a no-op;
// once every required party has signed the document flips to signed and
// the system announces it in the thread.
func SignContract(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}
	documentID, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.CreateError(iris.StatusBadRequest, "Validation", "Invalid document ID.", ctx)
		return
	}

	var input signContractInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	doc, err := flow.Contracts.Sign(documentID, userID, input.Signature)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}

	utils.Audit(ctx, userID, "contract.sign", "contract_document", doc.ID, nil, doc)
	ctx.JSON(doc)
}

type rejectContractInput struct {
	Reason string `json:"reason" validate:"max=2000"`
}

// RejectContract terminally declines a pending document. The document
// and any signatures collected so far stay on record.
func RejectContract(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}
	documentID, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.CreateError(iris.StatusBadRequest, "Validation", "Invalid document ID.", ctx)
		return
	}

	var input rejectContractInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	doc, err := flow.Contracts.Reject(documentID, userID, input.Reason)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}

	utils.Audit(ctx, userID, "contract.reject", "contract_document", doc.ID, nil, doc)
	ctx.JSON(doc)
}
