package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	claimKeyPrefix = "escrow:tx:"
	claimTTL       = 30 * 24 * time.Hour
)

// TxClaims records which deal a transaction was credited to. The custodial
// address is shared, so two deals with the same coin amount could otherwise
// both accept one transfer.
type TxClaims interface {
	// Claim reports whether txid now belongs to dealID, either because it was
	// just claimed or because dealID claimed it earlier.
	Claim(ctx context.Context, txid, dealID string) (bool, error)
}

type RedisClaims struct {
	rdb *redis.Client
}

func NewRedisClaims(rdb *redis.Client) *RedisClaims {
	return &RedisClaims{rdb: rdb}
}

func (c *RedisClaims) Claim(ctx context.Context, txid, dealID string) (bool, error) {
	key := claimKeyPrefix + txid
	ok, err := c.rdb.SetNX(ctx, key, dealID, claimTTL).Result()
	if err != nil {
		return false, fmt.Errorf("claim tx %s: %w", txid, err)
	}
	if ok {
		return true, nil
	}
	owner, err := c.rdb.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		// expired between the two calls
		return c.Claim(ctx, txid, dealID)
	}
	if err != nil {
		return false, fmt.Errorf("read tx claim %s: %w", txid, err)
	}
	return owner == dealID, nil
}

type MemoryClaims struct {
	mu     sync.Mutex
	owners map[string]string
}

func NewMemoryClaims() *MemoryClaims {
	return &MemoryClaims{owners: make(map[string]string)}
}

func (c *MemoryClaims) Claim(ctx context.Context, txid, dealID string) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	owner, ok := c.owners[txid]
	if !ok {
		c.owners[txid] = dealID
		return true, nil
	}
	return owner == dealID, nil
}
