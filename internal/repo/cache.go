package repo

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ErrCacheMiss is returned by BalanceCache.Get when nothing is cached.
var ErrCacheMiss = redis.Nil

// setIfNewer stores "<version>|<balance>" unless the key already holds the
// same or a newer wallet version. A reader that loaded an old row can
// therefore never overwrite a balance written after a later commit.
var setIfNewer = redis.NewScript(`
local cur = redis.call('GET', KEYS[1])
if cur then
  local v = string.match(cur, '^(%d+)|')
  if v and tonumber(v) >= tonumber(ARGV[1]) then
    return 0
  end
end
if tonumber(ARGV[3]) > 0 then
  redis.call('SET', KEYS[1], ARGV[1] .. '|' .. ARGV[2], 'PX', ARGV[3])
else
  redis.call('SET', KEYS[1], ARGV[1] .. '|' .. ARGV[2])
end
return 1
`)

// BalanceCache is a best-effort cache of wallet balances keyed by wallet
// version. A nil *BalanceCache behaves as an always-empty cache.
type BalanceCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewBalanceCache(rdb *redis.Client, ttl time.Duration) *BalanceCache {
	if rdb == nil {
		return nil
	}
	return &BalanceCache{rdb: rdb, ttl: ttl}
}

func balanceKey(accountID uuid.UUID) string {
	return fmt.Sprintf("balance:%s", accountID)
}

// Set caches bal as of wallet version. It reports whether the entry was
// written; false means a newer version is already cached.
func (c *BalanceCache) Set(ctx context.Context, accountID uuid.UUID, bal decimal.Decimal, version uint64) (bool, error) {
	if c == nil {
		return false, nil
	}
	n, err := setIfNewer.Run(ctx, c.rdb, []string{balanceKey(accountID)},
		strconv.FormatUint(version, 10), bal.String(), strconv.FormatInt(c.ttl.Milliseconds(), 10)).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (c *BalanceCache) Get(ctx context.Context, accountID uuid.UUID) (decimal.Decimal, error) {
	if c == nil {
		return decimal.Zero, ErrCacheMiss
	}
	str, err := c.rdb.Get(ctx, balanceKey(accountID)).Result()
	if err != nil {
		return decimal.Zero, err
	}
	_, bal, ok := strings.Cut(str, "|")
	if !ok {
		return decimal.Zero, errors.New("malformed cached balance")
	}
	return decimal.NewFromString(bal)
}
