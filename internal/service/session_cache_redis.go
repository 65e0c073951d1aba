package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	refreshPrefix     = "auth:refresh:"
	refreshUserPrefix = "auth:refresh:user:"
	challengePrefix   = "auth:2fa:"
	oauthStatePrefix  = "auth:oauth:"
)

var putRefreshScript = redis.NewScript(`
redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
redis.call("SADD", KEYS[2], ARGV[3])
local ttl = redis.call("PTTL", KEYS[2])
if ttl < tonumber(ARGV[2]) then
  redis.call("PEXPIRE", KEYS[2], ARGV[2])
end
return 1
`)

var consumeRefreshScript = redis.NewScript(`
local uid = redis.call("GET", KEYS[1])
if not uid then
  return false
end
redis.call("DEL", KEYS[1])
redis.call("SREM", ARGV[1] .. uid, ARGV[2])
return uid
`)

var revokeAllScript = redis.NewScript(`
local ids = redis.call("SMEMBERS", KEYS[1])
for _, id in ipairs(ids) do
  redis.call("DEL", ARGV[1] .. id)
end
redis.call("DEL", KEYS[1])
return #ids
`)

var putChallengeScript = redis.NewScript(`
redis.call("DEL", KEYS[1])
redis.call("HSET", KEYS[1], "code", ARGV[1], "attempts", 0)
redis.call("PEXPIRE", KEYS[1], ARGV[2])
return 1
`)

// 0 = no existe (expirado), 1 = válido, 2 = inválido, 3 = intentos agotados.
var checkChallengeScript = redis.NewScript(`
local code = redis.call("HGET", KEYS[1], "code")
if not code then
  return 0
end
if code == ARGV[1] then
  redis.call("DEL", KEYS[1])
  return 1
end
local attempts = redis.call("HINCRBY", KEYS[1], "attempts", 1)
if attempts >= tonumber(ARGV[2]) then
  redis.call("DEL", KEYS[1])
  return 3
end
return 2
`)

type redisSessionCache struct {
	client      redis.UniversalClient
	maxAttempts int
	timeout     time.Duration
}

// NewRedisSessionCache construye la caché respaldada por redis; cada operación es un
// script atómico para que rotación y revocación no compitan entre sí.
func NewRedisSessionCache(client redis.UniversalClient, maxAttempts int) SessionCache {
	if client == nil {
		return nil
	}
	if maxAttempts <= 0 {
		maxAttempts = defaultChallengeAttempts
	}
	return &redisSessionCache{
		client:      client,
		maxAttempts: maxAttempts,
		timeout:     time.Second,
	}
}

func (s *redisSessionCache) PutRefreshRecord(ctx context.Context, tokenID, userID string, ttl time.Duration) error {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	keys := []string{refreshPrefix + tokenID, refreshUserPrefix + userID}
	return putRefreshScript.Run(ctx, s.client, keys, userID, positiveMillis(ttl), tokenID).Err()
}

func (s *redisSessionCache) IsRefreshValid(ctx context.Context, tokenID string) (bool, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	n, err := s.client.Exists(ctx, refreshPrefix+tokenID).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (s *redisSessionCache) ConsumeRefresh(ctx context.Context, tokenID string) (string, bool, error) {
	tokenID = strings.TrimSpace(tokenID)
	if tokenID == "" {
		return "", false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	uid, err := consumeRefreshScript.Run(ctx, s.client, []string{refreshPrefix + tokenID}, refreshUserPrefix, tokenID).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return uid, true, nil
}

func (s *redisSessionCache) Revoke(ctx context.Context, tokenID string) error {
	_, _, err := s.ConsumeRefresh(ctx, tokenID)
	return err
}

func (s *redisSessionCache) RevokeAllForUser(ctx context.Context, userID string) error {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return revokeAllScript.Run(ctx, s.client, []string{refreshUserPrefix + userID}, refreshPrefix).Err()
}

func (s *redisSessionCache) PutChallenge(ctx context.Context, userID, codeDigest string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return putChallengeScript.Run(ctx, s.client, []string{challengePrefix + userID}, codeDigest, positiveMillis(ttl)).Err()
}

func (s *redisSessionCache) DeleteChallenge(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Del(ctx, challengePrefix+userID).Err()
}

func (s *redisSessionCache) CheckChallenge(ctx context.Context, userID, codeDigest string) (ChallengeOutcome, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	res, err := checkChallengeScript.Run(ctx, s.client, []string{challengePrefix + userID}, codeDigest, s.maxAttempts).Int()
	if err != nil {
		return ChallengeInvalid, err
	}
	switch res {
	case 1:
		return ChallengeValid, nil
	case 2:
		return ChallengeInvalid, nil
	case 3:
		return ChallengeAttemptsExhausted, nil
	default:
		return ChallengeExpired, nil
	}
}

func (s *redisSessionCache) PutOAuthState(ctx context.Context, nonce, verifier string, ttl time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	return s.client.Set(ctx, oauthStatePrefix+nonce, verifier, ttl).Err()
}

func (s *redisSessionCache) ConsumeOAuthState(ctx context.Context, nonce string) (string, bool, error) {
	nonce = strings.TrimSpace(nonce)
	if nonce == "" {
		return "", false, nil
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	verifier, err := s.client.GetDel(ctx, oauthStatePrefix+nonce).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return verifier, true, nil
}

func positiveMillis(ttl time.Duration) int64 {
	if ttl <= 0 {
		ttl = time.Minute
	}
	if ms := ttl.Milliseconds(); ms > 0 {
		return ms
	}
	return 1
}
