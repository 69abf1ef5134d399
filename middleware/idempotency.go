package middleware

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const (
	IdempotencyHeader = "Idempotency-Key"
	replayHeader      = "Idempotent-Replayed"

	idempotencyPrefix = "idem:"
	inFlightTTL       = 30 * time.Second
)

// IdempotencyStore keeps reservations and stored responses keyed by request.
type IdempotencyStore interface {
	Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error)
	Load(ctx context.Context, key string) ([]byte, bool, error)
	Save(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Release(ctx context.Context, key string) error
}

type storedResponse struct {
	Status      int    `json:"status"`
	ContentType string `json:"content_type"`
	Body        []byte `json:"body"`
}

// RedisIdempotencyStore keeps idempotency records in Redis.
type RedisIdempotencyStore struct {
	rdb *redis.Client
}

func NewRedisIdempotencyStore(rdb *redis.Client) *RedisIdempotencyStore {
	return &RedisIdempotencyStore{rdb: rdb}
}

func (s *RedisIdempotencyStore) Reserve(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, key+":lock", "1", ttl).Result()
}

func (s *RedisIdempotencyStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := s.rdb.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

func (s *RedisIdempotencyStore) Save(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return s.rdb.Set(ctx, key, value, ttl).Err()
}

func (s *RedisIdempotencyStore) Release(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, key+":lock").Err()
}

// Idempotency replays the stored response when a request repeats its Idempotency-Key.
// A nil store or a request without the header passes straight through.
func Idempotency(store IdempotencyStore, ttl time.Duration) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := c.Get(IdempotencyHeader)
		if store == nil || token == "" {
			return c.Next()
		}

		var userID uint
		if p, err := CurrentPrincipal(c); err == nil {
			userID = p.UserID
		}
		key := fmt.Sprintf("%s%d:%s:%s:%s", idempotencyPrefix, userID, c.Method(), c.Path(), token)
		ctx := c.UserContext()

		if replayed, err := replay(c, store, key); replayed || err != nil {
			return err
		}

		ok, err := store.Reserve(ctx, key, inFlightTTL)
		if err != nil {
			logrus.WithError(err).Warn("idempotency store unavailable, processing request without it")
			return c.Next()
		}
		if !ok {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error": "A request with this Idempotency-Key is already in progress",
			})
		}
		defer func() {
			if err := store.Release(ctx, key); err != nil {
				logrus.WithError(err).Warn("failed to release idempotency key")
			}
		}()

		// A concurrent holder may have saved and released between the first lookup and Reserve.
		if replayed, err := replay(c, store, key); replayed || err != nil {
			return err
		}

		if err := c.Next(); err != nil {
			return err
		}

		status := c.Response().StatusCode()
		if status >= 500 {
			return nil
		}
		data, err := json.Marshal(storedResponse{
			Status:      status,
			ContentType: string(c.Response().Header.ContentType()),
			Body:        append([]byte(nil), c.Response().Body()...),
		})
		if err == nil {
			err = store.Save(ctx, key, data, ttl)
		}
		if err != nil {
			logrus.WithError(err).Warn("failed to store idempotent response")
		}
		return nil
	}
}

func replay(c *fiber.Ctx, store IdempotencyStore, key string) (bool, error) {
	data, found, err := store.Load(c.UserContext(), key)
	if err != nil {
		logrus.WithError(err).Warn("idempotency lookup failed")
		return false, nil
	}
	if !found {
		return false, nil
	}
	var resp storedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return false, nil
	}
	c.Set(replayHeader, "true")
	if resp.ContentType != "" {
		c.Set(fiber.HeaderContentType, resp.ContentType)
	}
	return true, c.Status(resp.Status).Send(resp.Body)
}
