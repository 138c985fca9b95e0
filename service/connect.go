package service

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/net/kafka"
	"gitlab.com/paramountdax-exchange/commission_engine/net/redis"
	"gitlab.com/paramountdax-exchange/commission_engine/notify"
	"gitlab.com/paramountdax-exchange/commission_engine/queries"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates"
	"gitlab.com/paramountdax-exchange/commission_engine/store/memory"
)

// Connect opens the storage, redis and notification channels named by cfg. The returned
// function releases them.
func Connect(cfg config.Config) (Dependencies, func(), error) {
	var deps Dependencies
	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	switch cfg.Storage.Driver {
	case "memory":
		log.Warn().Str("section", "service").Msg("Using the in-memory store, data is lost on exit")
		deps.Store = memory.New()
	case "", "postgres":
		repo := queries.NewRepo(cfg.DatabaseCluster.Writer, cfg.DatabaseCluster.Reader)
		closers = append(closers, repo.Close)
		deps.Store = repo
	default:
		return deps, closeAll, errors.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}

	if cfg.Redis.Enabled() {
		client := redis.NewClient(cfg.Redis)
		if err := client.Connect(); err != nil {
			closeAll()
			return deps, func() {}, errors.Wrap(err, "connect to redis")
		}
		closers = append(closers, func() { _ = client.Disconnect() })
		deps.Redis = client
	}

	notifiers := notify.Multi{notify.LogNotifier{}}
	if cfg.Notifications.Kafka {
		producer := kafka.NewKafkaProducer(cfg.Kafka.Writer, cfg.Kafka.Brokers, cfg.Kafka.UseTLS, cfg.Topics.Notifications)
		closers = append(closers, func() { _ = producer.Close() })
		notifiers = append(notifiers, notify.NewKafkaNotifier(producer))
	}
	if cfg.Notifications.Sendgrid.Enabled() {
		notifiers = append(notifiers, notify.NewSendgridNotifier(cfg.Notifications.Sendgrid))
	}
	deps.Notifier = notifiers
	deps.RateSource = reloadFromViper

	return deps, closeAll, nil
}

// reloadFromViper reads the configuration file again so edits to the commission section are
// picked up without a restart
func reloadFromViper() (*rates.Table, error) {
	if err := viper.ReadInConfig(); err != nil {
		return nil, errors.Wrap(err, "read configuration")
	}
	var commission config.CommissionConfig
	if err := viper.UnmarshalKey("commission", &commission); err != nil {
		return nil, errors.Wrap(err, "decode commission section")
	}
	return rates.Load(commission)
}
