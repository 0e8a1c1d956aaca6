package presence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/wricardo/schoolbus-tracker/tracker/directory"
)

// DefaultTTL is how long a user stays online without a heartbeat.
const DefaultTTL = 90 * time.Second

// Tracker publishes who is online beyond the local registry.
type Tracker interface {
	Online(ctx context.Context, userID string, role directory.Role) error
	Heartbeat(ctx context.Context, userID string) error
	Offline(ctx context.Context, userID string, role directory.Role) error
	IsOnline(ctx context.Context, userID string) (bool, error)
	OnlineByRole(ctx context.Context, role directory.Role) ([]string, error)
}

// Redis keeps presence in Redis so several tracker processes share one view.
//
// Keys:
//
//	tracker:pres:user:{userId}   role, expires after ttl
//	tracker:pres:role:{role}     set of user ids, cleaned on read
//	tracker:lastseen:{userId}    RFC3339 timestamp
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

// NewRedis creates a Redis tracker. A non-positive ttl uses DefaultTTL.
func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

// Dial connects to addr and verifies the connection.
func Dial(ctx context.Context, addr, password string, ttl time.Duration) (*Redis, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr, Password: password})
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("redis ping %s: %w", addr, err)
	}
	return NewRedis(rdb, ttl), nil
}

func userKey(id string) string { return "tracker:pres:user:" + id }
func roleKey(role directory.Role) string { return "tracker:pres:role:" + string(role) }
func lastSeenKey(id string) string { return "tracker:lastseen:" + id }

func (p *Redis) Online(ctx context.Context, userID string, role directory.Role) error {
	pipe := p.rdb.TxPipeline()
	pipe.Set(ctx, userKey(userID), string(role), p.ttl)
	pipe.SAdd(ctx, roleKey(role), userID)
	pipe.Set(ctx, lastSeenKey(userID), time.Now().UTC().Format(time.RFC3339), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Redis) Heartbeat(ctx context.Context, userID string) error {
	ok, err := p.rdb.Expire(ctx, userKey(userID), p.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("heartbeat %s: not online", userID)
	}
	return p.rdb.Set(ctx, lastSeenKey(userID), time.Now().UTC().Format(time.RFC3339), 0).Err()
}

func (p *Redis) Offline(ctx context.Context, userID string, role directory.Role) error {
	pipe := p.rdb.TxPipeline()
	pipe.Del(ctx, userKey(userID))
	pipe.SRem(ctx, roleKey(role), userID)
	pipe.Set(ctx, lastSeenKey(userID), time.Now().UTC().Format(time.RFC3339), 0)
	_, err := pipe.Exec(ctx)
	return err
}

func (p *Redis) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.rdb.Exists(ctx, userKey(userID)).Result()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// OnlineByRole returns the users of role with a live presence key. Members
// whose key expired are removed from the set.
func (p *Redis) OnlineByRole(ctx context.Context, role directory.Role) ([]string, error) {
	users, err := p.rdb.SMembers(ctx, roleKey(role)).Result()
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(users))
	for _, u := range users {
		exists, err := p.rdb.Exists(ctx, userKey(u)).Result()
		if err != nil {
			return nil, err
		}
		if exists == 1 {
			out = append(out, u)
		} else {
			_ = p.rdb.SRem(ctx, roleKey(role), u).Err()
		}
	}
	return out, nil
}

// LastSeen returns when the user was last online.
func (p *Redis) LastSeen(ctx context.Context, userID string) (time.Time, error) {
	v, err := p.rdb.Get(ctx, lastSeenKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	return time.Parse(time.RFC3339, v)
}

// Close closes the Redis client.
func (p *Redis) Close() error {
	return p.rdb.Close()
}

// Nop is a Tracker that records nothing. It is used when no Redis address
// is configured.
type Nop struct{}

func (Nop) Online(context.Context, string, directory.Role) error { return nil }
func (Nop) Heartbeat(context.Context, string) error { return nil }
func (Nop) Offline(context.Context, string, directory.Role) error { return nil }
func (Nop) IsOnline(context.Context, string) (bool, error) { return false, nil }
func (Nop) OnlineByRole(context.Context, directory.Role) ([]string, error) {
	return nil, nil
}
