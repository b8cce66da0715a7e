package routes

import (
	"github.com/QueueCorpJP/App-Exit-sub002/models"
	"github.com/QueueCorpJP/App-Exit-sub002/services"
	"github.com/QueueCorpJP/App-Exit-sub002/utils"

	"github.com/kataras/iris/v12"
)

type sendMessageInput struct {
	Kind     string `json:"kind"`
	Body     string `json:"body" validate:"max=4000"`
	ImageURL string `json:"imageURL" validate:"omitempty,url"`
}

// SendMessage appends a message to a thread the caller participates in.
func SendMessage(ctx iris.Context) {
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

	var input sendMessageInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}
	kind := models.MessageKind(input.Kind)
	if input.Kind == "" {
		kind = models.MessageKindText
	}

	msg, err := flow.Messages.Append(threadID, userID, services.AppendInput{
		Kind:     kind,
		Body:     input.Body,
		ImageURL: input.ImageURL,
	})
	if err != nil {
		respondServiceError(err, ctx)
		return
	}
	ctx.StatusCode(iris.StatusCreated)
	ctx.JSON(msg)
}

// ListMessages pages through a thread's log by sequence number.
// ?before=<seq> walks backwards from that point; ?order=asc replays from
// the start. Soft-deleted entries come back as tombstones.
func ListMessages(ctx iris.Context) {
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

	limit := ctx.URLParamIntDefault("limit", 0)
	beforeSeq := uint64(ctx.URLParamInt64Default("before", 0))
	oldestFirst := ctx.URLParamDefault("order", "desc") == "asc"

	msgs, err := flow.Messages.List(threadID, userID, limit, beforeSeq, oldestFirst)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}
	ctx.JSON(iris.Map{"messages": msgs})
}

// DeleteMessage tombstones a message. Only its sender may do this, and
// repeating the call is a no-op.
func DeleteMessage(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}
	messageID, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.CreateError(iris.StatusBadRequest, "Validation", "Invalid message ID.", ctx)
		return
	}

	msg, err := flow.Messages.SoftDelete(messageID, userID)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}
	ctx.JSON(msg)
}
