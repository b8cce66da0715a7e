package storage

import (
	"log"
	"os"

	"github.com/QueueCorpJP/App-Exit-sub002/models"

	"github.com/joho/godotenv"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

var DB *gorm.DB

func connectToDB() *gorm.DB {
	// Only load .env in development (when RENDER env var is not set)
	if os.Getenv("RENDER") == "" {
		if err := godotenv.Load(); err != nil {
			log.Println("Warning: Could not load .env file (this is normal in production)")
		}
	}

	dsn := os.Getenv("DB_CONNECTION_STRING")
	if dsn == "" {
		log.Panic("DB_CONNECTION_STRING environment variable is required")
	}

	// TranslateError turns driver unique-violation errors into
	// gorm.ErrDuplicatedKey, which the payment bridge relies on for the
	// active-intent slot.
	db, dbError := gorm.Open(postgres.Open(dsn), &gorm.Config{TranslateError: true})
	if dbError != nil {
		log.Panic("error connecting to db: " + dbError.Error())
	}

	DB = db
	return db
}

func performMigrations(db *gorm.DB) {
	db.AutoMigrate(
		&models.User{},
		&models.Listing{},
		&models.Thread{},
		&models.Message{},
		&models.ContractDocument{},
		&models.ContractSignature{},
		&models.NDAAcceptance{},
		&models.PaymentIntent{},
		&models.WebhookEvent{},
		&models.AuditLog{},
	)

	// Thread uniqueness is over the unordered participant pair, with NULL
	// listings collapsing into one slot; AutoMigrate cannot express either,
	// so the index is raw SQL.
	db.Exec(`CREATE UNIQUE INDEX IF NOT EXISTS udx_thread_pair
		ON threads (LEAST(buyer_id, seller_id), GREATEST(buyer_id, seller_id), COALESCE(listing_id, 0))
		WHERE deleted_at IS NULL`)
}

func InitializeDB() *gorm.DB {
	db := connectToDB()
	performMigrations(db)
	return db
}
