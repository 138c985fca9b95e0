package service

import (
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/lock"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/notify"
	"gitlab.com/paramountdax-exchange/commission_engine/service/batch"
	"gitlab.com/paramountdax-exchange/commission_engine/service/caps"
	"gitlab.com/paramountdax-exchange/commission_engine/service/commission"
	"gitlab.com/paramountdax-exchange/commission_engine/service/payouts"
	"gitlab.com/paramountdax-exchange/commission_engine/service/qualification"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
)

// Service structure
type Service struct {
	cfg   config.Config
	store store.Store
	rates *rates.Provider
	guard *caps.Guard
	locks lock.MemberLock

	Commission    *commission.Engine
	Qualification *qualification.Engine
	Payouts       *payouts.Engine
}

// Dependencies are the infrastructure pieces the engines run on. Redis and Notifier are optional:
// without redis the locks are process local, without a notifier cap transitions are only logged.
type Dependencies struct {
	Store      store.Store
	Redis      lock.RedisClient
	Notifier   notify.Notifier
	RateSource rates.Source
}

// NewService loads the rate table and builds every engine on top of deps
func NewService(cfg config.Config, deps Dependencies) (*Service, error) {
	table, err := rates.Load(cfg.Commission)
	if err != nil {
		return nil, err
	}
	source := deps.RateSource
	if source == nil {
		source = func() (*rates.Table, error) { return rates.Load(cfg.Commission) }
	}
	provider := rates.NewProvider(table, source)

	locks, runLocks := newLocks(cfg.Workers, deps.Redis)

	notifier := deps.Notifier
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}

	runner := batch.NewRunner(cfg.Workers.BatchWorkers, cfg.Workers.BatchPageSize, cfg.Workers.StoreOpsPerSecond)

	guard := caps.NewGuard(deps.Store, provider, locks)
	engine := commission.NewEngine(deps.Store, provider, guard, locks, runLocks, notifier, commission.RetryOptions{
		MaxTries:        cfg.Workers.RetryMaxTries,
		InitialInterval: time.Duration(cfg.Workers.RetryInitialMs) * time.Millisecond,
		MaxInterval:     time.Duration(cfg.Workers.RetryMaxMs) * time.Millisecond,
	})
	engine.Batch = runner

	qualifier := qualification.NewEngine(deps.Store, provider, locks, runLocks, cfg.Qualification.GraceDays)
	qualifier.Batch = runner

	opts, err := payoutOptions(cfg.Payout)
	if err != nil {
		return nil, err
	}
	payer := payouts.NewEngine(deps.Store, locks, runLocks, opts)
	payer.Batch = runner

	log.Info().
		Str("section", "service").
		Str("method", "NewService").
		Str("rates_version", table.Version).
		Bool("distributed_locks", deps.Redis != nil).
		Msg("Commission engine initialized")

	return &Service{
		cfg:           cfg,
		store:         deps.Store,
		rates:         provider,
		guard:         guard,
		locks:         locks,
		Commission:    engine,
		Qualification: qualifier,
		Payouts:       payer,
	}, nil
}

func newLocks(cfg config.WorkersConfig, client lock.RedisClient) (lock.MemberLock, lock.RunLock) {
	if client == nil {
		return lock.NewMemberLocker(), lock.NewLocalRunLock()
	}
	memberTTL := time.Duration(cfg.MemberLockTTLMs) * time.Millisecond
	if memberTTL <= 0 {
		memberTTL = 10 * time.Second
	}
	runTTL := time.Duration(cfg.RunLockTTLSec) * time.Second
	if runTTL <= 0 {
		runTTL = time.Hour
	}
	return lock.NewRedisMemberLock(client, memberTTL), lock.NewRedisRunLock(client, runTTL)
}

func payoutOptions(cfg config.PayoutConfig) (payouts.Options, error) {
	opts := payouts.Options{
		MaturityDays: cfg.MaturityDays,
		Method:       model.PayoutMethod(cfg.Method),
	}
	if cfg.MinimumThreshold != "" {
		threshold, ok := conv.FromString(cfg.MinimumThreshold)
		if !ok || threshold.Sign() < 0 {
			return opts, errors.Errorf("payout.minimum_threshold %q is not a non negative decimal", cfg.MinimumThreshold)
		}
		opts.MinimumThreshold = threshold
	}
	return opts, nil
}
