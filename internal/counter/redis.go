package counter

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/shehryarbajwa/inapp-messaging/pkg/models"
)

const (
	keyPrefix     = "inapp:counter:"
	fieldDate     = "last_reset_date"
	fieldCount    = "messages_displayed_today"
	defaultKeyTTL = 48 * time.Hour
)

// KEYS[1] counter hash, ARGV[1] date, ARGV[2] ttl seconds, ARGV[3] limit.
// Returns {counted (0|1), count for ARGV[1]}.
var incrementScript = redis.NewScript(`
local date = redis.call('HGET', KEYS[1], 'last_reset_date')
local count = 0
if date == ARGV[1] then
	count = tonumber(redis.call('HGET', KEYS[1], 'messages_displayed_today') or '0')
end
if count >= tonumber(ARGV[3]) then
	return {0, count}
end
if date == ARGV[1] then
	count = redis.call('HINCRBY', KEYS[1], 'messages_displayed_today', 1)
else
	redis.call('HSET', KEYS[1], 'last_reset_date', ARGV[1], 'messages_displayed_today', 1)
	count = 1
end
redis.call('EXPIRE', KEYS[1], ARGV[2])
return {1, count}
`)

// RedisStore keeps counters in Redis so every service instance shares them
type RedisStore struct {
	client    *redis.Client
	ttl       time.Duration
	keyPrefix string
}

// NewRedisStore wraps a connected client
func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{
		client:    client,
		ttl:       defaultKeyTTL,
		keyPrefix: keyPrefix,
	}
}

func (s *RedisStore) key(subject string) string {
	return s.keyPrefix + subject
}

func (s *RedisStore) Load(ctx context.Context, subject string) (models.DayCounter, error) {
	if err := validateSubject(subject); err != nil {
		return models.DayCounter{}, err
	}

	values, err := s.client.HGetAll(ctx, s.key(subject)).Result()
	if err != nil {
		return models.DayCounter{}, fmt.Errorf("load counter: %w", err)
	}

	c := models.DayCounter{Subject: subject, LastResetDate: values[fieldDate]}
	if raw, ok := values[fieldCount]; ok {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return models.DayCounter{}, fmt.Errorf("parse counter %q: %w", raw, err)
		}
		c.MessagesDisplayedToday = n
	}
	return c, nil
}

func (s *RedisStore) Reset(ctx context.Context, subject, date string) (models.DayCounter, error) {
	if err := validateSubject(subject); err != nil {
		return models.DayCounter{}, err
	}

	key := s.key(subject)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, fieldDate, date, fieldCount, 0)
		pipe.Expire(ctx, key, s.ttl)
		return nil
	})
	if err != nil {
		return models.DayCounter{}, fmt.Errorf("reset counter: %w", err)
	}
	return models.DayCounter{Subject: subject, LastResetDate: date}, nil
}

func (s *RedisStore) Increment(ctx context.Context, subject, date string, limit int) (models.DayCounter, error) {
	if err := validateSubject(subject); err != nil {
		return models.DayCounter{}, err
	}

	res, err := incrementScript.Run(ctx, s.client, []string{s.key(subject)}, date, int(s.ttl.Seconds()), limit).Int64Slice()
	if err != nil {
		return models.DayCounter{}, fmt.Errorf("increment counter: %w", err)
	}
	if len(res) != 2 {
		return models.DayCounter{}, fmt.Errorf("increment counter: unexpected reply %v", res)
	}

	c := models.DayCounter{Subject: subject, LastResetDate: date, MessagesDisplayedToday: int(res[1])}
	if res[0] == 0 {
		return c, ErrLimitReached
	}
	return c, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
