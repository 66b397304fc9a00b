package queue

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"sitegraph/internal/logging"
)

const (
	readyKey   = "sitegraph:queue:ready"
	delayedKey = "sitegraph:queue:delayed"

	// BRPOP poll interval. Short enough that delayed promotion stays timely.
	popTimeout = time.Second
)

// Redis is the distributed queue. Ready messages live in a list; delayed
// messages sit in a sorted set scored by their due time and are promoted
// on each dequeue pass.
type Redis struct {
	client *redis.Client
}

// NewRedis connects and verifies the server is reachable.
func NewRedis(ctx context.Context, addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("connect redis %s: %w", addr, err)
	}
	return &Redis{client: client}, nil
}

// Enqueue pushes a message to the ready list.
func (q *Redis) Enqueue(ctx context.Context, m *Message) error {
	data, err := m.Encode()
	if err != nil {
		return err
	}
	if err := q.client.LPush(ctx, readyKey, data).Err(); err != nil {
		return fmt.Errorf("enqueue %s: %w", m.Kind, err)
	}
	return nil
}

// EnqueueAfter schedules a message in the delayed set.
func (q *Redis) EnqueueAfter(ctx context.Context, m *Message, delay time.Duration) error {
	if delay <= 0 {
		return q.Enqueue(ctx, m)
	}
	data, err := m.Encode()
	if err != nil {
		return err
	}
	due := float64(time.Now().Add(delay).UnixMilli())
	if err := q.client.ZAdd(ctx, delayedKey, redis.Z{Score: due, Member: data}).Err(); err != nil {
		return fmt.Errorf("enqueue delayed %s: %w", m.Kind, err)
	}
	return nil
}

// Dequeue promotes due delayed messages, then blocks on the ready list.
func (q *Redis) Dequeue(ctx context.Context) (*Message, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		q.promoteDue(ctx)

		res, err := q.client.BRPop(ctx, popTimeout, readyKey).Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("dequeue: %w", err)
		}
		if len(res) != 2 {
			continue
		}
		m, err := Decode([]byte(res[1]))
		if err != nil {
			logging.Get(logging.CategoryQueue).Error("dropping undecodable message: %v", err)
			continue
		}
		return m, nil
	}
}

// promoteDue moves messages whose due time has passed into the ready list.
// Races between workers are harmless: ZRem returns 0 for the loser and only
// the winner pushes.
func (q *Redis) promoteDue(ctx context.Context) {
	now := strconv.FormatInt(time.Now().UnixMilli(), 10)
	members, err := q.client.ZRangeByScore(ctx, delayedKey, &redis.ZRangeBy{
		Min: "-inf", Max: now, Count: 64,
	}).Result()
	if err != nil || len(members) == 0 {
		return
	}
	for _, member := range members {
		removed, err := q.client.ZRem(ctx, delayedKey, member).Result()
		if err != nil || removed == 0 {
			continue
		}
		if err := q.client.LPush(ctx, readyKey, member).Err(); err != nil {
			logging.Get(logging.CategoryQueue).Error("promote delayed message: %v", err)
		}
	}
}

// Depth reports ready plus delayed message counts.
func (q *Redis) Depth(ctx context.Context) (int64, error) {
	ready, err := q.client.LLen(ctx, readyKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	delayed, err := q.client.ZCard(ctx, delayedKey).Result()
	if err != nil {
		return 0, fmt.Errorf("queue depth: %w", err)
	}
	return ready + delayed, nil
}

// Close releases the client connection pool.
func (q *Redis) Close() error {
	return q.client.Close()
}
