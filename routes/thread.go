package routes

import (
	"fmt"
	"time"

	"github.com/QueueCorpJP/App-Exit-sub002/models"
	"github.com/QueueCorpJP/App-Exit-sub002/services"
	"github.com/QueueCorpJP/App-Exit-sub002/storage"
	"github.com/QueueCorpJP/App-Exit-sub002/utils"

	"github.com/kataras/iris/v12"
)

type createThreadInput struct {
	SellerID  uint   `json:"sellerID"`
	ListingID *uint  `json:"listingID"`
	Message   string `json:"message" validate:"max=4000"`
}

// CreateThread opens (or reuses) the conversation between the caller and
// a seller. When a listing is given the seller is derived from it, so a
// client cannot pair a listing with the wrong seller.
func CreateThread(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}

	var input createThreadInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	sellerID := input.SellerID
	if input.ListingID != nil {
		var listing models.Listing
		if err := storage.DB.First(&listing, *input.ListingID).Error; err != nil {
			utils.CreateNotFound(ctx)
			return
		}
		sellerID = listing.SellerID
	}
	if sellerID == 0 || sellerID == userID {
		utils.CreateError(iris.StatusBadRequest, "Validation", "A thread needs a counterparty.", ctx)
		return
	}

	thread, err := flow.Threads.CreateOrGetThread(userID, sellerID, input.ListingID)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}

	if input.Message != "" {
		if _, err := flow.Messages.Append(thread.ID, userID, services.AppendInput{
			Kind: models.MessageKindText,
			Body: input.Message,
		}); err != nil {
			respondServiceError(err, ctx)
			return
		}
	}

	ctx.JSON(thread)
}

// ListThreads returns the caller's inbox: every thread with counterparty,
// last message and unread count resolved in batched queries.
func ListThreads(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}

	summaries, err := flow.Threads.ListThreadsForUser(userID)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}
	ctx.JSON(summaries)
}

func GetThread(ctx iris.Context) {
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

	thread, err := flow.Threads.GetThread(threadID, userID)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}

	var other models.User
	storage.DB.First(&other, thread.OtherParticipant(userID))

	ctx.JSON(iris.Map{"thread": thread, "counterparty": other})
}

type markReadInput struct {
	Seq uint64 `json:"seq" validate:"required"`
}

// MarkThreadRead advances the caller's read marker. Stale or replayed
// values never move the marker backwards.
func MarkThreadRead(ctx iris.Context) {
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

	var input markReadInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	if err := flow.Threads.MarkRead(threadID, userID, input.Seq); err != nil {
		respondServiceError(err, ctx)
		return
	}
	ctx.JSON(iris.Map{"success": true})
}

// GetDealState reports the derived stage of the negotiation.
func GetDealState(ctx iris.Context) {
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

	state, err := flow.DealState(threadID, userID)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}
	ctx.JSON(state)
}

// Typing marks the caller as typing in a thread for a few seconds.
func Typing(ctx iris.Context) {
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
	if _, err := flow.Threads.GetThread(threadID, userID); err != nil {
		respondServiceError(err, ctx)
		return
	}

	storage.Redis.Set(ctx, typingKey(threadID, userID), "1", 5*time.Second)
	ctx.JSON(iris.Map{"success": true})
}

// ListTyping reports whether the counterparty is currently typing.
func ListTyping(ctx iris.Context) {
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
	thread, err := flow.Threads.GetThread(threadID, userID)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}

	otherID := thread.OtherParticipant(userID)
	typing := false
	if val, err := storage.Redis.Get(ctx, typingKey(threadID, otherID)).Result(); err == nil && val == "1" {
		typing = true
	}
	ctx.JSON(iris.Map{"userID": otherID, "typing": typing})
}

func typingKey(threadID, userID uint) string {
	return fmt.Sprintf("typing:thr:%d:user:%d", threadID, userID)
}
