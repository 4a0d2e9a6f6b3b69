package queue

import (
	"fmt"

	"github.com/redis/go-redis/v9"
)

// New creates the Queue backend selected by cfg.Type.
func New(cfg Config) (Queue, error) {
	switch cfg.Type {
	case "redis", "":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisQueue(client, cfg), nil

	case "memory":
		return NewMemoryQueue(cfg), nil

	default:
		return nil, fmt.Errorf("unknown queue type: %s", cfg.Type)
	}
}
