package dedup

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"mail-notifier/internal/config"
	"mail-notifier/internal/models"
)

// RedisStore keeps one sorted set per account, scored by processing time,
// plus a set naming the accounts that have records.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore connects to the configured Redis server and pings it.
func NewRedisStore(cfg config.DedupConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
	}

	return newRedisStore(client, cfg.RedisPrefix), nil
}

func newRedisStore(client *redis.Client, prefix string) *RedisStore {
	if prefix == "" {
		prefix = "mailnotifier:processed"
	}
	return &RedisStore{client: client, keyPrefix: prefix}
}

func (s *RedisStore) accountsKey() string {
	return s.keyPrefix + ":accounts"
}

func (s *RedisStore) accountKey(accountID string) string {
	return s.keyPrefix + ":" + accountID
}

// LoadSince reads every account's records processed at or after since.
func (s *RedisStore) LoadSince(ctx context.Context, since time.Time) ([]models.ProcessedRecord, error) {
	accounts, err := s.client.SMembers(ctx, s.accountsKey()).Result()
	if err != nil {
		return nil, fmt.Errorf("listing accounts: %w", err)
	}

	var records []models.ProcessedRecord
	for _, accountID := range accounts {
		members, err := s.client.ZRangeByScoreWithScores(ctx, s.accountKey(accountID), &redis.ZRangeBy{
			Min: strconv.FormatInt(since.Unix(), 10),
			Max: "+inf",
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("loading records for %s: %w", accountID, err)
		}
		for _, m := range members {
			id, _ := m.Member.(string)
			records = append(records, models.ProcessedRecord{
				AccountID:   accountID,
				MessageID:   id,
				ProcessedAt: time.Unix(int64(m.Score), 0).UTC(),
			})
		}
	}

	sort.SliceStable(records, func(i, j int) bool {
		return records[i].ProcessedAt.Before(records[j].ProcessedAt)
	})
	return records, nil
}

// Save writes a batch of records in one pipeline.
func (s *RedisStore) Save(ctx context.Context, records []models.ProcessedRecord) error {
	if len(records) == 0 {
		return nil
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, r := range records {
			pipe.SAdd(ctx, s.accountsKey(), r.AccountID)
			pipe.ZAdd(ctx, s.accountKey(r.AccountID), redis.Z{
				Score:  float64(r.ProcessedAt.Unix()),
				Member: r.MessageID,
			})
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("saving processed records: %w", err)
	}
	return nil
}

// Prune removes members scored before the cutoff from every account set.
func (s *RedisStore) Prune(ctx context.Context, before time.Time) (int64, error) {
	accounts, err := s.client.SMembers(ctx, s.accountsKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("listing accounts: %w", err)
	}

	// Exclusive upper bound.
	upper := "(" + strconv.FormatInt(before.Unix(), 10)

	var total int64
	for _, accountID := range accounts {
		n, err := s.client.ZRemRangeByScore(ctx, s.accountKey(accountID), "-inf", upper).Result()
		if err != nil {
			return total, fmt.Errorf("pruning %s: %w", accountID, err)
		}
		total += n
	}
	return total, nil
}

func (s *RedisStore) Close() error {
	return s.client.Close()
}
