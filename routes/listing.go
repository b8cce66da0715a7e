package routes

import (
	"github.com/QueueCorpJP/App-Exit-sub002/models"
	"github.com/QueueCorpJP/App-Exit-sub002/storage"
	"github.com/QueueCorpJP/App-Exit-sub002/utils"

	"github.com/kataras/iris/v12"
)

// ListListings returns published listings. Secret listings the caller
// has no NDA for come back redacted.
func ListListings(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}

	var listings []models.Listing
	if err := storage.DB.
		Where("status = ?", models.ListingStatusPublished).
		Order("id DESC").Limit(100).
		Find(&listings).Error; err != nil {
		utils.CreateInternalServerError(ctx)
		return
	}

	out := make([]interface{}, 0, len(listings))
	for i := range listings {
		l := &listings[i]
		if !l.IsSecret || l.SellerID == userID {
			out = append(out, l)
			continue
		}
		accepted, err := flow.NDA.HasAccepted(userID, l.ID)
		if err != nil {
			utils.CreateInternalServerError(ctx)
			return
		}
		if accepted {
			out = append(out, l)
		} else {
			out = append(out, l.Redacted())
		}
	}
	ctx.JSON(iris.Map{"listings": out})
}

// GetListing returns one listing, redacted when it is secret and the
// caller has not accepted its NDA.
func GetListing(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}
	listingID, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.CreateError(iris.StatusBadRequest, "Validation", "Invalid listing ID.", ctx)
		return
	}

	view, err := flow.NDA.ListingView(listingID, userID)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}
	ctx.JSON(view)
}

type acceptNDAInput struct {
	DocumentURL string `json:"documentURL" validate:"omitempty,url"`
}

// AcceptListingNDA records the caller's NDA acceptance for a listing.
// Accepting again returns the original record.
func AcceptListingNDA(ctx iris.Context) {
	userID, ok := utils.RequestUserID(ctx)
	if !ok {
		utils.CreateError(iris.StatusUnauthorized, "Unauthorized", "Invalid user token.", ctx)
		return
	}
	listingID, err := ctx.Params().GetUint("id")
	if err != nil {
		utils.CreateError(iris.StatusBadRequest, "Validation", "Invalid listing ID.", ctx)
		return
	}

	var listing models.Listing
	if err := storage.DB.First(&listing, listingID).Error; err != nil {
		utils.CreateNotFound(ctx)
		return
	}

	var input acceptNDAInput
	if err := ctx.ReadJSON(&input); err != nil {
		utils.HandleValidationErrors(err, ctx)
		return
	}

	acceptance, err := flow.NDA.RecordAcceptance(userID, listingID, input.DocumentURL)
	if err != nil {
		respondServiceError(err, ctx)
		return
	}

	utils.Audit(ctx, userID, "nda.accept", "listing", listingID, nil, acceptance)
	ctx.StatusCode(iris.StatusCreated)
	ctx.JSON(acceptance)
}
