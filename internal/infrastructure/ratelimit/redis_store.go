package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "{gw:ratelimit}:"

// admitScript checks every window and records the request in all of them only
// when all allow. KEYS are the window sorted sets; ARGV is now_ms, member,
// then limit and window_ms for each key. The reply is
// {allowed, count_1, retry_ms_1, count_2, retry_ms_2, ...}.
var admitScript = redis.NewScript(`
local now = tonumber(ARGV[1])
local member = ARGV[2]
local allowed = 1
local reply = {}
for i = 1, #KEYS do
  local limit = tonumber(ARGV[1 + i * 2])
  local window = tonumber(ARGV[2 + i * 2])
  redis.call('ZREMRANGEBYSCORE', KEYS[i], '-inf', '(' .. (now - window))
  local count = redis.call('ZCARD', KEYS[i])
  local retry = 0
  if count >= limit then
    allowed = 0
    local oldest = redis.call('ZRANGE', KEYS[i], 0, 0, 'WITHSCORES')
    if oldest[2] then
      retry = tonumber(oldest[2]) + window - now
    end
  end
  reply[#reply + 1] = count
  reply[#reply + 1] = retry
end
if allowed == 1 then
  for i = 1, #KEYS do
    local window = tonumber(ARGV[2 + i * 2])
    redis.call('ZADD', KEYS[i], now, member)
    redis.call('PEXPIRE', KEYS[i], window)
  end
end
table.insert(reply, 1, allowed)
return reply
`)

// RedisStore keeps windows in Redis sorted sets so every gateway instance
// shares them. Admission runs as one Lua script, which makes it atomic.
// On Redis Cluster all window keys must hash to one slot, which a hash tag
// prefix such as "{gw:rl}:" guarantees.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
}

// NewRedisStore creates a store using client. An empty prefix uses "{gw:ratelimit}:".
func NewRedisStore(client redis.UniversalClient, prefix string) *RedisStore {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &RedisStore{client: client, prefix: prefix}
}

// HasHashTag reports whether every key built on prefix hashes to the same
// cluster slot
func HasHashTag(prefix string) bool {
	open := strings.IndexByte(prefix, '{')
	if open < 0 {
		return false
	}
	end := strings.IndexByte(prefix[open+1:], '}')
	return end > 0
}

func (s *RedisStore) key(req Request) string {
	return s.prefix + req.StoreKey()
}

// Check implements Store
func (s *RedisStore) Check(ctx context.Context, req Request, now time.Time) (Result, error) {
	key := s.key(req)
	nowMs := now.UnixMilli()
	windowMs := req.Limit.Window.Milliseconds()

	var card *redis.IntCmd
	var oldest *redis.ZSliceCmd
	_, err := s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.ZRemRangeByScore(ctx, key, "-inf", "("+strconv.FormatInt(nowMs-windowMs, 10))
		card = p.ZCard(ctx, key)
		oldest = p.ZRangeWithScores(ctx, key, 0, 0)
		return nil
	})
	if err != nil {
		return Result{}, fmt.Errorf("failed to read rate limit window: %w", err)
	}

	count := int(card.Val())
	r := Result{
		Dimension: req.Dimension,
		Key:       req.Key,
		Limit:     req.Limit.Requests,
		Allowed:   count < req.Limit.Requests,
		Remaining: max(req.Limit.Requests-count, 0),
	}
	if !r.Allowed {
		if z := oldest.Val(); len(z) > 0 {
			r.RetryAfter = retryAfter(time.UnixMilli(int64(z[0].Score)), req.Limit.Window, now)
		} else {
			r.RetryAfter = time.Second
		}
	}
	return r, nil
}

// Admit implements Store
func (s *RedisStore) Admit(ctx context.Context, reqs []Request, now time.Time) (Decision, error) {
	nowMs := now.UnixMilli()
	keys := make([]string, len(reqs))
	args := make([]any, 0, 2+2*len(reqs))
	args = append(args, nowMs, uuid.NewString())
	for i, req := range reqs {
		keys[i] = s.key(req)
		args = append(args, req.Limit.Requests, req.Limit.Window.Milliseconds())
	}

	reply, err := admitScript.Run(ctx, s.client, keys, args...).Int64Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("failed to run rate limit script: %w", err)
	}
	if len(reply) != 1+2*len(reqs) {
		return Decision{}, fmt.Errorf("unexpected rate limit script reply length %d", len(reply))
	}

	decision := Decision{Allowed: reply[0] == 1, Results: make([]Result, len(reqs))}
	for i, req := range reqs {
		count := int(reply[1+2*i])
		retryMs := reply[2+2*i]
		r := Result{
			Dimension: req.Dimension,
			Key:       req.Key,
			Limit:     req.Limit.Requests,
			Allowed:   count < req.Limit.Requests,
			Remaining: max(req.Limit.Requests-count, 0),
		}
		if decision.Allowed && r.Remaining > 0 {
			r.Remaining--
		}
		if !r.Allowed {
			r.RetryAfter = retryAfter(now, time.Duration(retryMs)*time.Millisecond, now)
			if decision.Denied == nil {
				denied := r
				decision.Denied = &denied
			}
		}
		decision.Results[i] = r
	}
	return decision, nil
}

var _ Store = (*RedisStore)(nil)
