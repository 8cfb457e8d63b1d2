package authflow

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"bookkeepingcpa/internal/providers"
)

// RedisStateStore shares pending authorizations across instances. Redis expiry is the TTL.
type RedisStateStore struct {
	rdb redis.Cmdable
	now func() time.Time
}

func NewRedisStateStore(rdb redis.Cmdable) *RedisStateStore {
	return &RedisStateStore{rdb: rdb, now: time.Now}
}

func stateKey(state string) string { return "authstate:" + state }
func pendingRedisKey(k string) string { return "authpending:" + k }

func (s *RedisStateStore) Save(ctx context.Context, req *AuthorizationRequest) error {
	ttl := req.ExpiresAt.Sub(s.now())
	if ttl <= 0 {
		return errors.New("authorization request already expired")
	}
	b, err := json.Marshal(req)
	if err != nil {
		return err
	}
	_, err = s.rdb.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, stateKey(req.State), b, ttl)
		p.Set(ctx, pendingRedisKey(req.pendingKey()), req.State, ttl)
		return nil
	})
	return err
}

// Consume uses GETDEL so two racing callbacks cannot both redeem the state.
func (s *RedisStateStore) Consume(ctx context.Context, state string) (*AuthorizationRequest, error) {
	b, err := s.rdb.GetDel(ctx, stateKey(state)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrStateNotFound
	}
	if err != nil {
		return nil, err
	}
	var req AuthorizationRequest
	if err := json.Unmarshal(b, &req); err != nil {
		return nil, err
	}
	_ = s.rdb.Del(ctx, pendingRedisKey(req.pendingKey())).Err()
	if !s.now().Before(req.ExpiresAt) {
		return nil, ErrStateNotFound
	}
	return &req, nil
}

func (s *RedisStateStore) HasPending(ctx context.Context, tenantID, provider string, env providers.Environment) (bool, error) {
	state, err := s.rdb.Get(ctx, pendingRedisKey(pendingKey(tenantID, provider, env))).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	n, err := s.rdb.Exists(ctx, stateKey(state)).Result()
	return n > 0, err
}
