package routes

import (
	"errors"

	"github.com/QueueCorpJP/App-Exit-sub002/services"
	"github.com/QueueCorpJP/App-Exit-sub002/utils"

	"github.com/kataras/iris/v12"
	"gorm.io/gorm"
)

var flow *services.Workflow

// UseWorkflow injects the service graph. Called once from main before
// the server starts.
func UseWorkflow(w *services.Workflow) {
	flow = w
}

// respondServiceError maps service sentinel errors onto HTTP statuses.
// Participation failures deliberately map to 404 so outsiders cannot
// probe for thread existence.
func respondServiceError(err error, ctx iris.Context) {
	switch {
	case errors.Is(err, services.ErrNotFound),
		errors.Is(err, services.ErrNotParticipant),
		errors.Is(err, gorm.ErrRecordNotFound):
		utils.CreateNotFound(ctx)
	case errors.Is(err, services.ErrNotBuyer),
		errors.Is(err, services.ErrNotSender):
		utils.CreateError(iris.StatusForbidden, "Forbidden", err.Error(), ctx)
	case errors.Is(err, services.ErrAlreadyTerminal),
		errors.Is(err, services.ErrContractNotSigned),
		errors.Is(err, services.ErrIntentAlreadyActive),
		errors.Is(err, services.ErrNoActiveIntent):
		utils.CreateError(iris.StatusConflict, "Conflict", err.Error(), ctx)
	case errors.Is(err, services.ErrValidation):
		utils.CreateError(iris.StatusBadRequest, "Validation", err.Error(), ctx)
	case errors.Is(err, services.ErrProcessorUnavailable):
		utils.CreateError(iris.StatusBadGateway, "Processor", "The payment processor is unavailable.", ctx)
	default:
		utils.CreateInternalServerError(ctx)
	}
}
