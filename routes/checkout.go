package routes

import (
	"github.com/QueueCorpJP/App-Exit-sub002/utils"

	"github.com/kataras/iris/v12"
)

type initiateCheckoutInput struct {
	ThreadID uint  `json:"threadID" validate:"required"`
	Amount   int64 `json:"amount" validate:"required,gt=0"`
}

// InitiateCheckout opens the payment leg of a deal. Buyer only; the
// transfer agreement must already be signed when the listing requires
// one, and only one unresolved intent may exist per thread.
func InitiateCheckout(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}

	var input initiateCheckoutInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	result, err := flow.Payments.InitiateCheckout(ctx.Request().Context(), input.ThreadID, userID, input.Amount)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}

	utils.Audit(ctx, userID, "checkout.initiate", "payment_intent", result.Intent.ID, nil, result.Intent)
	ctx.StatusCode(iris.StatusCreated)
	ctx.JSON(result)
}

// CancelCheckout releases the thread's unresolved intent. Cancelling an
// already-canceled intent is a no-op.
func CancelCheckout(ctx iris.Context) {
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

	intent, err := flow.Payments.CancelCheckout(ctx.Request().Context(), threadID, userID)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}

	utils.Audit(ctx, userID, "checkout.cancel", "payment_intent", intent.ID, nil, intent)
	ctx.JSON(intent)
}

// ListTransactions returns the caller's payment history across all of
// their threads, newest first.
func ListTransactions(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}

	intents, err := flow.Payments.ListForUser(userID)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}
	ctx.JSON(iris.Map{"transactions": intents})
}
