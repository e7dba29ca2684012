package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/pscheid92/keyrelay/internal/domain"
	goredis "github.com/redis/go-redis/v9"
)

const leaseKeyPrefix = "keyrelay:master:"

// acquireLeaseScript takes the lease when it is free or already held by the
// caller, and refreshes its TTL. Returns 1 when the caller holds the lease.
// ARGV: [1]=holder, [2]=ttl_ms
var acquireLeaseScript = goredis.NewScript(`
local holder = redis.call('GET', KEYS[1])
if holder == false or holder == ARGV[1] then
  redis.call('SET', KEYS[1], ARGV[1], 'PX', ARGV[2])
  return 1
end
return 0
`)

// releaseLeaseScript deletes the lease only when the caller holds it.
// ARGV: [1]=holder
var releaseLeaseScript = goredis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// LeaseAuthorizer grants master authority through a Redis lease per group.
// A master keeps its lease as long as it sends at least once per TTL; a
// different connection becomes master only after the lease expired or was
// released.
type LeaseAuthorizer struct {
	rdb *goredis.Client
	ttl time.Duration
}

// NewLeaseAuthorizer creates a lease authorizer with the given lease TTL.
func NewLeaseAuthorizer(rdb *goredis.Client, ttl time.Duration) *LeaseAuthorizer {
	return &LeaseAuthorizer{rdb: rdb, ttl: ttl}
}

// Authorize acquires or refreshes the lease for connID.
func (a *LeaseAuthorizer) Authorize(ctx context.Context, ref domain.GroupRef, connID string) (bool, error) {
	held, err := acquireLeaseScript.Run(ctx, a.rdb, []string{leaseKey(ref)}, connID, a.ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("acquire lease %s: %w", ref, err)
	}
	return held == 1, nil
}

// Release drops the lease if connID still holds it.
func (a *LeaseAuthorizer) Release(ctx context.Context, ref domain.GroupRef, connID string) error {
	if err := releaseLeaseScript.Run(ctx, a.rdb, []string{leaseKey(ref)}, connID).Err(); err != nil {
		return fmt.Errorf("release lease %s: %w", ref, err)
	}
	return nil
}

// Holder returns the connection id holding the lease, or "" when it is free.
func (a *LeaseAuthorizer) Holder(ctx context.Context, ref domain.GroupRef) (string, error) {
	holder, err := a.rdb.Get(ctx, leaseKey(ref)).Result()
	if errors.Is(err, goredis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("get lease %s: %w", ref, err)
	}
	return holder, nil
}

func leaseKey(ref domain.GroupRef) string {
	return leaseKeyPrefix + string(ref.Namespace) + ":" + ref.Key
}
