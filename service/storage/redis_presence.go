package storage

import (
	"context"
	stderrors "errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/ntpoppe/sharply-sub000/tools/errs"
)

// RedisPresence mirrors first-connect / last-disconnect transitions
// into Redis so peer gateways can locate a user's node.
//
// presence key: chat:presence:<user>
// value: gateway id; TTL bounds staleness if a node dies mid-session.
type RedisPresence struct {
	rdb       *redis.Client
	gatewayID string
	ttl       time.Duration
}

func NewRedisPresence(rdb *redis.Client, gatewayID string, ttl time.Duration) *RedisPresence {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &RedisPresence{rdb: rdb, gatewayID: gatewayID, ttl: ttl}
}

func presenceKey(user string) string { return "chat:presence:" + user }

// Online marks the user as held by this gateway and renews the TTL.
func (p *RedisPresence) Online(ctx context.Context, userID string) error {
	if err := p.rdb.Set(ctx, presenceKey(userID), p.gatewayID, p.ttl).Err(); err != nil {
		return errs.WrapMsg(err, "presence online", "user", userID)
	}
	return nil
}

// Offline removes the user's presence key.
func (p *RedisPresence) Offline(ctx context.Context, userID string) error {
	if err := p.rdb.Del(ctx, presenceKey(userID)).Err(); err != nil {
		return errs.WrapMsg(err, "presence offline", "user", userID)
	}
	return nil
}

// Lookup reports which gateway holds the user, if any.
func (p *RedisPresence) Lookup(ctx context.Context, userID string) (gatewayID string, online bool, err error) {
	val, err := p.rdb.Get(ctx, presenceKey(userID)).Result()
	if stderrors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errs.WrapMsg(err, "presence lookup", "user", userID)
	}
	return val, true, nil
}
