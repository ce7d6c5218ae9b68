package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"postback-engine/internal/models"
)

const houseKeyPrefix = "postback:house:"

// Connect initializes a Redis client from a redis:// URL or host:port.
func Connect(redisURL string) (*redis.Client, error) {
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		return redis.NewClient(opt), nil
	}
	return redis.NewClient(&redis.Options{Addr: redisURL}), nil
}

// RedisCache stores house records as JSON strings with a TTL.
type RedisCache struct {
	client *redis.Client
}

func NewRedisCache(client *redis.Client) *RedisCache {
	return &RedisCache{client: client}
}

// cachedHouse keeps the security token, which models.BettingHouse hides from JSON.
type cachedHouse struct {
	ID              uint            `json:"id"`
	Slug            string          `json:"slug"`
	Name            string          `json:"name"`
	BaseURL         string          `json:"base_url"`
	SecurityToken   string          `json:"security_token"`
	CommissionModel string          `json:"commission_model"`
	RevSharePercent decimal.Decimal `json:"revshare_percent"`
	CPAAmount       decimal.Decimal `json:"cpa_amount"`
	CPATrigger      string          `json:"cpa_trigger"`
	MinDeposit      decimal.Decimal `json:"min_deposit"`
	IsActive        bool            `json:"is_active"`
}

func (c *RedisCache) Get(ctx context.Context, slug string) (*models.BettingHouse, bool, error) {
	raw, err := c.client.Get(ctx, houseKeyPrefix+slug).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	var ch cachedHouse
	if err := json.Unmarshal(raw, &ch); err != nil {
		return nil, false, fmt.Errorf("decode cached house: %w", err)
	}
	return ch.toModel(), true, nil
}

func (c *RedisCache) Set(ctx context.Context, h *models.BettingHouse, ttl time.Duration) error {
	raw, err := json.Marshal(fromModel(h))
	if err != nil {
		return err
	}
	return c.client.Set(ctx, houseKeyPrefix+h.Slug, raw, ttl).Err()
}

func (c *RedisCache) Delete(ctx context.Context, slug string) error {
	return c.client.Del(ctx, houseKeyPrefix+slug).Err()
}

func fromModel(h *models.BettingHouse) cachedHouse {
	return cachedHouse{
		ID:              h.ID,
		Slug:            h.Slug,
		Name:            h.Name,
		BaseURL:         h.BaseURL,
		SecurityToken:   h.SecurityToken,
		CommissionModel: string(h.CommissionModel),
		RevSharePercent: h.RevSharePercent,
		CPAAmount:       h.CPAAmount,
		CPATrigger:      string(h.CPATrigger),
		MinDeposit:      h.MinDeposit,
		IsActive:        h.IsActive,
	}
}

func (ch cachedHouse) toModel() *models.BettingHouse {
	return &models.BettingHouse{
		ID:              ch.ID,
		Slug:            ch.Slug,
		Name:            ch.Name,
		BaseURL:         ch.BaseURL,
		SecurityToken:   ch.SecurityToken,
		CommissionModel: models.CommissionModel(ch.CommissionModel),
		RevSharePercent: ch.RevSharePercent,
		CPAAmount:       ch.CPAAmount,
		CPATrigger:      models.CPATrigger(ch.CPATrigger),
		MinDeposit:      ch.MinDeposit,
		IsActive:        ch.IsActive,
	}
}
