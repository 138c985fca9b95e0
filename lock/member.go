// Package lock serializes work per member and guards batch jobs against concurrent runs
package lock

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// MemberLock grants exclusive access to a single member's cap state and ledger totals.
// Callers must never hold two member locks at once.
type MemberLock interface {
	Lock(ctx context.Context, memberID uint64) (unlock func(), err error)
}

type memberEntry struct {
	ch   chan struct{}
	refs int
}

// MemberLocker is an in-process keyed mutex. Entries are dropped once no goroutine uses them.
type MemberLocker struct {
	mu    sync.Mutex
	locks map[uint64]*memberEntry
}

func NewMemberLocker() *MemberLocker {
	return &MemberLocker{locks: map[uint64]*memberEntry{}}
}

func (l *MemberLocker) Lock(ctx context.Context, memberID uint64) (func(), error) {
	l.mu.Lock()
	e, ok := l.locks[memberID]
	if !ok {
		e = &memberEntry{ch: make(chan struct{}, 1)}
		l.locks[memberID] = e
	}
	e.refs++
	l.mu.Unlock()

	select {
	case e.ch <- struct{}{}:
		var once sync.Once
		return func() {
			once.Do(func() {
				<-e.ch
				l.release(memberID, e)
			})
		}, nil
	case <-ctx.Done():
		l.release(memberID, e)
		return nil, ctx.Err()
	}
}

func (l *MemberLocker) release(memberID uint64, e *memberEntry) {
	l.mu.Lock()
	e.refs--
	if e.refs == 0 {
		delete(l.locks, memberID)
	}
	l.mu.Unlock()
}

func (l *MemberLocker) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// RedisClient is the subset of the redis client used for distributed locks
type RedisClient interface {
	SetNX(key, token string, ttl time.Duration) (bool, error)
	CompareAndDelete(key, token string) (bool, error)
	CompareAndExpire(key, token string, ttl time.Duration) (bool, error)
}

var errNotAcquired = errors.New("lock held by another owner")

// RedisMemberLock extends the in-process lock across engine instances. The local lock is taken
// first so goroutines of the same process queue locally instead of polling redis.
type RedisMemberLock struct {
	local  *MemberLocker
	client RedisClient
	ttl    time.Duration
	prefix string
}

func NewRedisMemberLock(client RedisClient, ttl time.Duration) *RedisMemberLock {
	return &RedisMemberLock{
		local:  NewMemberLocker(),
		client: client,
		ttl:    ttl,
		prefix: "commission:member_lock:",
	}
}

func (l *RedisMemberLock) Lock(ctx context.Context, memberID uint64) (func(), error) {
	unlockLocal, err := l.local.Lock(ctx, memberID)
	if err != nil {
		return nil, err
	}
	key := l.prefix + strconv.FormatUint(memberID, 10)
	token := uuid.NewString()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	_, err = backoff.Retry(ctx, func() (bool, error) {
		acquired, err := l.client.SetNX(key, token, l.ttl)
		if err != nil {
			return false, backoff.Permanent(err)
		}
		if !acquired {
			return false, errNotAcquired
		}
		return true, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(l.ttl))
	if err != nil {
		unlockLocal()
		return nil, errors.Wrapf(err, "lock member %d", memberID)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if _, err := l.client.CompareAndDelete(key, token); err != nil {
				log.Error().Err(err).Str("section", "lock").Uint64("member_id", memberID).Msg("Unable to release member lock")
			}
			unlockLocal()
		})
	}, nil
}
