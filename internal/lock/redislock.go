package lock

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

var (
	// ErrLockTimeout is returned when the lock stays held by someone else for
	// longer than the configured wait.
	ErrLockTimeout = errors.New("lock: timed out waiting for lock")
	// ErrLeaseLost is returned by Extend when the key expired or was taken over.
	ErrLeaseLost = errors.New("lock: lease lost")
)

var (
	releaseScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("del", KEYS[1])
end
return 0`)
	extendScript = redis.NewScript(`if redis.call("get", KEYS[1]) == ARGV[1] then
  return redis.call("pexpire", KEYS[1], ARGV[2])
end
return 0`)
)

// Locker hands out Redis leases keyed by draft id.
type Locker struct {
	R            *redis.Client
	RetryBackoff time.Duration
	// WaitTimeout bounds how long Acquire waits for a held lock. Zero waits
	// until the context is done.
	WaitTimeout time.Duration
}

// Lease is a held lock. Only the holder's token can extend or release it.
type Lease struct {
	r     *redis.Client
	key   string
	token string
	ttl   time.Duration
}

// Acquire polls SET NX until the key is free, the wait budget runs out or ctx
// is done.
func (l Locker) Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, error) {
	if l.R == nil {
		return nil, errors.New("lock: redis client not configured")
	}
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	retry := l.RetryBackoff
	if retry <= 0 {
		retry = 50 * time.Millisecond
	}
	var deadline <-chan time.Time
	if l.WaitTimeout > 0 {
		waitTimer := time.NewTimer(l.WaitTimeout)
		defer waitTimer.Stop()
		deadline = waitTimer.C
	}

	token := uuid.NewString()
	ticker := time.NewTicker(retry)
	defer ticker.Stop()
	for {
		ok, err := l.R.SetNX(ctx, key, token, ttl).Result()
		if err != nil {
			return nil, err
		}
		if ok {
			return &Lease{r: l.R, key: key, token: token, ttl: ttl}, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, ErrLockTimeout
		case <-ticker.C:
		}
	}
}

// Extend pushes the expiry out by the lease TTL.
func (ls *Lease) Extend(ctx context.Context) error {
	n, err := extendScript.Run(ctx, ls.r, []string{ls.key}, ls.token, ls.ttl.Milliseconds()).Int()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrLeaseLost
	}
	return nil
}

// Release deletes the key if this lease still owns it.
func (ls *Lease) Release(ctx context.Context) error {
	return releaseScript.Run(ctx, ls.r, []string{ls.key}, ls.token).Err()
}

// WithLock runs fn while holding key. The lease is refreshed at half its TTL
// so slow collaborator calls inside fn do not let it lapse, and it is released
// when fn returns, error or not.
func (l Locker) WithLock(ctx context.Context, key string, ttl time.Duration, fn func(context.Context) error) error {
	if fn == nil {
		return errors.New("lock: callback not provided")
	}
	lease, err := l.Acquire(ctx, key, ttl)
	if err != nil {
		return err
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(max(lease.ttl/2, time.Millisecond))
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				if lease.Extend(context.WithoutCancel(ctx)) != nil {
					return
				}
			}
		}
	}()
	defer func() {
		close(stop)
		<-done
		_ = lease.Release(context.WithoutCancel(ctx))
	}()
	return fn(ctx)
}
