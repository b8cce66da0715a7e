package main

import (
	"log"
	"os"
	"strconv"

	"github.com/QueueCorpJP/App-Exit-sub002/routes"
	"github.com/QueueCorpJP/App-Exit-sub002/services"
	"github.com/QueueCorpJP/App-Exit-sub002/storage"
	"github.com/QueueCorpJP/App-Exit-sub002/utils"

	"github.com/joho/godotenv"
	"github.com/kataras/iris/v12"
	"github.com/kataras/iris/v12/middleware/jwt"
)

func main() {
	godotenv.Load()
	storage.InitializeDB()
	storage.InitializeRedis()

	workflow := services.NewWorkflow(storage.DB, services.NewHTTPProcessorClient(), feeBpsFromEnv())
	routes.UseWorkflow(workflow)

	app := iris.New()
	app.Validator = utils.Validate

	app.AllowMethods(iris.MethodOptions)
	app.UseRouter(func(ctx iris.Context) {
		ctx.Header("Access-Control-Allow-Origin", ctx.GetHeader("Origin"))
		ctx.Header("Vary", "Origin")
		ctx.Header("Access-Control-Allow-Credentials", "true")
		ctx.Header("Access-Control-Allow-Headers", "Authorization, Content-Type, X-Requested-With")
		ctx.Header("Access-Control-Allow-Methods", "GET,POST,PATCH,PUT,DELETE,OPTIONS")
		if ctx.Method() == iris.MethodOptions {
			ctx.StatusCode(iris.StatusNoContent)
			return
		}
		ctx.Next()
	})

	app.Use(iris.Compression)

	// When an identity provider publishes a JWKS, tokens are RS256 and
	// verified against it. Otherwise they are HS256 signed with the
	// shared access-token secret.
	var authMiddleware iris.Handler
	if os.Getenv("IDENTITY_JWKS_URL") != "" {
		authMiddleware = utils.IdentityGateMiddleware
	} else {
		accessTokenVerifier := jwt.NewVerifier(jwt.HS256, []byte(os.Getenv("ACCESS_TOKEN_SECRET")))
		accessTokenVerifier.WithDefaultBlocklist()
		authMiddleware = accessTokenVerifier.Verify(func() interface{} {
			return new(utils.AccessToken)
		})
	}

	threads := app.Party("/api/threads", authMiddleware, utils.UserIDFromTokenMiddleware)
	{
		threads.Post("/", routes.CreateThread)
		threads.Get("/", routes.ListThreads)
		threads.Get("/{id:uint}", routes.GetThread)
		threads.Patch("/{id:uint}/read", routes.MarkThreadRead)
		threads.Get("/{id:uint}/deal", routes.GetDealState)
		threads.Get("/{id:uint}/messages", routes.ListMessages)
		threads.Post("/{id:uint}/messages", routes.SendMessage)
		threads.Get("/{id:uint}/contracts", routes.ListThreadContracts)
		threads.Post("/{id:uint}/typing", routes.Typing)
		threads.Get("/{id:uint}/typing", routes.ListTyping)
		threads.Post("/{id:uint}/checkout/cancel", routes.CancelCheckout)
	}

	messages := app.Party("/api/messages", authMiddleware, utils.UserIDFromTokenMiddleware)
	{
		messages.Delete("/{id:uint}", routes.DeleteMessage)
	}

	contracts := app.Party("/api/contracts", authMiddleware, utils.UserIDFromTokenMiddleware)
	{
		contracts.Post("/", routes.ProposeContract)
		contracts.Get("/{id:uint}", routes.GetContract)
		contracts.Post("/{id:uint}/sign", routes.SignContract)
		contracts.Post("/{id:uint}/reject", routes.RejectContract)
	}

	listings := app.Party("/api/listings", authMiddleware, utils.UserIDFromTokenMiddleware)
	{
		listings.Get("/", routes.ListListings)
		listings.Get("/{id:uint}", routes.GetListing)
		listings.Post("/{id:uint}/nda", routes.AcceptListingNDA)
	}

	checkout := app.Party("/api/checkout", authMiddleware, utils.UserIDFromTokenMiddleware)
	{
		checkout.Post("/", routes.InitiateCheckout)
		checkout.Get("/transactions", routes.ListTransactions)
	}

	admin := app.Party("/api/admin", authMiddleware, utils.UserIDFromTokenMiddleware, utils.AdminOnlyMiddleware)
	{
		admin.Get("/audit", routes.ListAuditLogs)
	}

	// Processor callbacks authenticate with a body signature, not a
	// user token.
	app.Post("/api/webhooks/payment", routes.PaymentWebhook)

	port := os.Getenv("PORT")
	if port == "" {
		port = "4000"
	}
	if err := app.Listen(":" + port); err != nil {
		log.Fatal(err)
	}
}

// feeBpsFromEnv reads the platform fee in basis points, defaulting to
// 10% as the marketplace charges.
func feeBpsFromEnv() int64 {
	raw := os.Getenv("PLATFORM_FEE_BPS")
	if raw == "" {
		return 1000
	}
	bps, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || bps < 0 || bps > 10000 {
		return 1000
	}
	return bps
}
