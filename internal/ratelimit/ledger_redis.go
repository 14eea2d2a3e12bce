package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLedger is the fast-path Ledger: plain INCRBY/HINCRBY counters keyed
// by window, with Lua for the conditional reserve so that check-and-increment
// is a single round trip and cannot race.
//
// Key layout per window key K:
//   rlwin:{K}:global    string counter
//   rlwin:{K}:tenants   hash tenantID -> counter
//   rlwin:{K}:accounts  hash accountID -> counter
//
// Every key carries a TTL of window length + grace so stale windows expire
// on their own; the rollover job snapshots totals into Postgres before that.
type RedisLedger struct {
	rdb *redis.Client
	ttl time.Duration
}

const ledgerKeyTTL = 3 * time.Hour

func NewRedisLedger(rdb *redis.Client) *RedisLedger {
	return &RedisLedger{rdb: rdb, ttl: ledgerKeyTTL}
}

var tryIncrScript = redis.NewScript(`
-- KEYS[1] = counter key
-- ARGV[1] = n
-- ARGV[2] = limit (inclusive)
-- ARGV[3] = ttl_ms
local total = redis.call('INCRBY', KEYS[1], ARGV[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
if total > tonumber(ARGV[2]) then
  total = redis.call('DECRBY', KEYS[1], ARGV[1])
  return {total, 0}
end
return {total, 1}
`)

var tryIncrHashScript = redis.NewScript(`
-- KEYS[1] = hash key
-- ARGV[1] = n
-- ARGV[2] = limit (inclusive)
-- ARGV[3] = ttl_ms
-- ARGV[4] = field
local total = redis.call('HINCRBY', KEYS[1], ARGV[4], ARGV[1])
if redis.call('PTTL', KEYS[1]) < 0 then
  redis.call('PEXPIRE', KEYS[1], ARGV[3])
end
if total > tonumber(ARGV[2]) then
  total = redis.call('HINCRBY', KEYS[1], ARGV[4], -ARGV[1])
  return {total, 0}
end
return {total, 1}
`)

func (l *RedisLedger) globalKey(w Window) string   { return "rlwin:" + w.Key + ":global" }
func (l *RedisLedger) tenantsKey(w Window) string  { return "rlwin:" + w.Key + ":tenants" }
func (l *RedisLedger) accountsKey(w Window) string { return "rlwin:" + w.Key + ":accounts" }

func (l *RedisLedger) TryIncrGlobal(ctx context.Context, w Window, n, limit int64) (int64, bool, error) {
	res, err := tryIncrScript.Run(ctx, l.rdb, []string{l.globalKey(w)}, n, limit, l.ttl.Milliseconds()).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis ledger: try incr global: %w", err)
	}
	return res[0], res[1] == 1, nil
}

func (l *RedisLedger) TryIncrTenant(ctx context.Context, w Window, tenantID string, n, limit int64) (int64, bool, error) {
	res, err := tryIncrHashScript.Run(ctx, l.rdb, []string{l.tenantsKey(w)}, n, limit, l.ttl.Milliseconds(), tenantID).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("redis ledger: try incr tenant: %w", err)
	}
	return res[0], res[1] == 1, nil
}

func (l *RedisLedger) IncrGlobal(ctx context.Context, w Window, n int64) (int64, error) {
	pipe := l.rdb.TxPipeline()
	incr := pipe.IncrBy(ctx, l.globalKey(w), n)
	pipe.Expire(ctx, l.globalKey(w), l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis ledger: incr global: %w", err)
	}
	return incr.Val(), nil
}

func (l *RedisLedger) IncrAccount(ctx context.Context, w Window, accountID string, n int64) (int64, error) {
	pipe := l.rdb.TxPipeline()
	incr := pipe.HIncrBy(ctx, l.accountsKey(w), accountID, n)
	pipe.Expire(ctx, l.accountsKey(w), l.ttl)
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, fmt.Errorf("redis ledger: incr account: %w", err)
	}
	return incr.Val(), nil
}

func (l *RedisLedger) GlobalTotal(ctx context.Context, w Window) (int64, error) {
	v, err := l.rdb.Get(ctx, l.globalKey(w)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis ledger: read global: %w", err)
	}
	return v, nil
}

func (l *RedisLedger) TenantTotal(ctx context.Context, w Window, tenantID string) (int64, error) {
	v, err := l.rdb.HGet(ctx, l.tenantsKey(w), tenantID).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis ledger: read tenant: %w", err)
	}
	return v, nil
}

func (l *RedisLedger) AccountTotal(ctx context.Context, w Window, accountID string) (int64, error) {
	v, err := l.rdb.HGet(ctx, l.accountsKey(w), accountID).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("redis ledger: read account: %w", err)
	}
	return v, nil
}

func (l *RedisLedger) WindowTotals(ctx context.Context, w Window) (WindowTotals, error) {
	out := WindowTotals{Tenants: map[string]int64{}, Accounts: map[string]int64{}}

	global, err := l.GlobalTotal(ctx, w)
	if err != nil {
		return WindowTotals{}, err
	}
	out.Global = global

	tenants, err := l.rdb.HGetAll(ctx, l.tenantsKey(w)).Result()
	if err != nil {
		return WindowTotals{}, fmt.Errorf("redis ledger: read tenants: %w", err)
	}
	for k, v := range tenants {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return WindowTotals{}, fmt.Errorf("redis ledger: tenant counter %q: %w", k, err)
		}
		out.Tenants[k] = n
	}

	accounts, err := l.rdb.HGetAll(ctx, l.accountsKey(w)).Result()
	if err != nil {
		return WindowTotals{}, fmt.Errorf("redis ledger: read accounts: %w", err)
	}
	for k, v := range accounts {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return WindowTotals{}, fmt.Errorf("redis ledger: account counter %q: %w", k, err)
		}
		out.Accounts[k] = n
	}

	return out, nil
}
