package lock

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ErrAlreadyRunning is returned when a batch job is started while a previous run holds the lock
var ErrAlreadyRunning = errors.New("job already running")

// RunLock prevents a batch job from running concurrently with itself
type RunLock interface {
	TryLock(ctx context.Context, job string) (release func(), err error)
}

type LocalRunLock struct {
	mu      sync.Mutex
	running map[string]bool
}

func NewLocalRunLock() *LocalRunLock {
	return &LocalRunLock{running: map[string]bool{}}
}

func (l *LocalRunLock) TryLock(_ context.Context, job string) (func(), error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.running[job] {
		return nil, ErrAlreadyRunning
	}
	l.running[job] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.running, job)
			l.mu.Unlock()
		})
	}, nil
}

// RedisRunLock holds a key with a TTL so a crashed instance cannot block the job forever.
// While the job runs the TTL is renewed every third of its length.
type RedisRunLock struct {
	client RedisClient
	ttl    time.Duration
	prefix string
}

func NewRedisRunLock(client RedisClient, ttl time.Duration) *RedisRunLock {
	return &RedisRunLock{client: client, ttl: ttl, prefix: "commission:run_lock:"}
}

func (l *RedisRunLock) TryLock(ctx context.Context, job string) (func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	key := l.prefix + job
	token := uuid.NewString()
	acquired, err := l.client.SetNX(key, token, l.ttl)
	if err != nil {
		return nil, errors.Wrapf(err, "acquire run lock %s", job)
	}
	if !acquired {
		return nil, ErrAlreadyRunning
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go l.keepAlive(job, key, token, stop, done)

	var once sync.Once
	return func() {
		once.Do(func() {
			close(stop)
			<-done
			if _, err := l.client.CompareAndDelete(key, token); err != nil {
				log.Error().Err(err).Str("section", "lock").Str("job", job).Msg("Unable to release run lock")
			}
		})
	}, nil
}

func (l *RedisRunLock) keepAlive(job, key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	every := l.ttl / 3
	if every <= 0 {
		every = time.Millisecond
	}
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			extended, err := l.client.CompareAndExpire(key, token, l.ttl)
			if err != nil {
				log.Error().Err(err).Str("section", "lock").Str("job", job).Msg("Unable to extend run lock")
				continue
			}
			if !extended {
				log.Warn().Str("section", "lock").Str("job", job).Msg("Run lock lost before the job finished")
				return
			}
		}
	}
}
