package lock

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
)

// fakeRedis keeps keys without an entry in expires forever
type fakeRedis struct {
	mu      sync.Mutex
	keys    map[string]string
	expires map[string]time.Time
	fail    error
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{keys: map[string]string{}, expires: map[string]time.Time{}}
}

func (f *fakeRedis) expire(key string) {
	if at, ok := f.expires[key]; ok && !time.Now().Before(at) {
		delete(f.keys, key)
		delete(f.expires, key)
	}
}

func (f *fakeRedis) SetNX(key, token string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail != nil {
		return false, f.fail
	}
	f.expire(key)
	if _, ok := f.keys[key]; ok {
		return false, nil
	}
	f.keys[key] = token
	f.expires[key] = time.Now().Add(ttl)
	return true, nil
}

func (f *fakeRedis) CompareAndDelete(key, token string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expire(key)
	if f.keys[key] != token {
		return false, nil
	}
	delete(f.keys, key)
	delete(f.expires, key)
	return true, nil
}

func (f *fakeRedis) CompareAndExpire(key, token string, ttl time.Duration) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.expire(key)
	if f.keys[key] != token {
		return false, nil
	}
	f.expires[key] = time.Now().Add(ttl)
	return true, nil
}

func (f *fakeRedis) size() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.keys)
}

func TestMemberLocker(t *testing.T) {
	Convey("Given an in-process member locker", t, func() {
		locker := NewMemberLocker()
		ctx := context.Background()

		Convey("Concurrent increments for one member never interleave", func() {
			var wg sync.WaitGroup
			counter, inside := 0, 0
			violations := 0
			for i := 0; i < 50; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					unlock, err := locker.Lock(ctx, 7)
					if err != nil {
						return
					}
					inside++
					if inside != 1 {
						violations++
					}
					counter++
					inside--
					unlock()
				}()
			}
			wg.Wait()
			So(counter, ShouldEqual, 50)
			So(violations, ShouldEqual, 0)
			So(locker.size(), ShouldEqual, 0)
		})

		Convey("Different members do not block each other", func() {
			unlock1, err := locker.Lock(ctx, 1)
			So(err, ShouldBeNil)
			defer unlock1()

			done := make(chan struct{})
			go func() {
				unlock2, err := locker.Lock(ctx, 2)
				if err == nil {
					unlock2()
				}
				close(done)
			}()
			select {
			case <-done:
			case <-time.After(time.Second):
				t.Fatal("member 2 blocked by member 1")
			}
		})

		Convey("Waiting is abandoned when the context is cancelled", func() {
			unlock, err := locker.Lock(ctx, 3)
			So(err, ShouldBeNil)

			cctx, cancel := context.WithTimeout(ctx, 20*time.Millisecond)
			defer cancel()
			_, err = locker.Lock(cctx, 3)
			So(errors.Is(err, context.DeadlineExceeded), ShouldBeTrue)

			unlock()
			unlock()
			So(locker.size(), ShouldEqual, 0)
		})
	})
}

func TestRedisMemberLock(t *testing.T) {
	Convey("Given a redis backed member lock", t, func() {
		client := newFakeRedis()
		locker := NewRedisMemberLock(client, 100*time.Millisecond)
		ctx := context.Background()

		Convey("The key is held while locked and released afterwards", func() {
			unlock, err := locker.Lock(ctx, 9)
			So(err, ShouldBeNil)
			So(client.keys, ShouldContainKey, "commission:member_lock:9")
			unlock()
			So(client.size(), ShouldEqual, 0)
		})

		Convey("A key held by another instance makes the lock time out", func() {
			client.keys["commission:member_lock:9"] = "other-instance"
			_, err := locker.Lock(ctx, 9)
			So(err, ShouldNotBeNil)
			So(client.keys["commission:member_lock:9"], ShouldEqual, "other-instance")
			So(locker.local.size(), ShouldEqual, 0)
		})

		Convey("Redis errors are not retried", func() {
			client.fail = context.Canceled
			start := time.Now()
			_, err := locker.Lock(ctx, 9)
			So(err, ShouldNotBeNil)
			So(time.Since(start), ShouldBeLessThan, 100*time.Millisecond)
		})
	})
}

func TestRunLocks(t *testing.T) {
	Convey("Given run locks", t, func() {
		ctx := context.Background()
		locks := map[string]RunLock{
			"local": NewLocalRunLock(),
			"redis": NewRedisRunLock(newFakeRedis(), time.Minute),
		}
		for name, l := range locks {
			l := l
			Convey("The "+name+" lock rejects a second run of the same job", func() {
				release, err := l.TryLock(ctx, "payout_sweep")
				So(err, ShouldBeNil)

				_, err = l.TryLock(ctx, "payout_sweep")
				So(err, ShouldEqual, ErrAlreadyRunning)

				other, err := l.TryLock(ctx, "mature_ledger")
				So(err, ShouldBeNil)
				other()

				release()
				again, err := l.TryLock(ctx, "payout_sweep")
				So(err, ShouldBeNil)
				again()
			})
		}
	})
}

func TestRedisRunLock_OutlivesTTL(t *testing.T) {
	Convey("Given a redis run lock with a short ttl", t, func() {
		client := newFakeRedis()
		locker := NewRedisRunLock(client, 60*time.Millisecond)
		ctx := context.Background()

		release, err := locker.TryLock(ctx, "payout_sweep")
		So(err, ShouldBeNil)

		Convey("A job running longer than the ttl keeps the lock", func() {
			time.Sleep(200 * time.Millisecond)
			_, err := locker.TryLock(ctx, "payout_sweep")
			So(err, ShouldEqual, ErrAlreadyRunning)

			release()
			So(client.size(), ShouldEqual, 0)

			again, err := locker.TryLock(ctx, "payout_sweep")
			So(err, ShouldBeNil)
			again()
		})
	})
}
