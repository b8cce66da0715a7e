package storage

import (
	"log"
	"os"

	"github.com/go-redis/redis/v8"
)

var Redis *redis.Client

func InitializeRedis() {
	redisURL := os.Getenv("REDIS_URL")
	if redisURL == "" {
		redisURL = "localhost:6379"
		log.Println("REDIS_URL not set, using localhost:6379 (development mode)")
	}

	if opts, err := redis.ParseURL(redisURL); err == nil {
		Redis = redis.NewClient(opts)
		return
	}

	// Plain host:port form
	Redis = redis.NewClient(&redis.Options{
		Addr: redisURL,
	})
}
