package featureflags

import (
	"net/http"
	"sync/atomic"

	"github.com/Unleash/unleash-client-go/v3"
	"github.com/rs/zerolog/log"
)

const (
	MatchingBonus   = "commission.matching-bonus.enable"
	LeadershipBonus = "commission.leadership-bonus.enable"
	RankBonus       = "commission.rank-bonus.enable"
	AutoPayout      = "payouts.auto-payout.enable"
)

type Config struct {
	Enabled    bool   `mapstructure:"enabled"`
	Url        string `mapstructure:"url"`
	AppName    string `mapstructure:"app_name"`
	InstanceID string `mapstructure:"instance_id"`
	Token      string `mapstructure:"token"`
}

var initialized int32

type listener struct{}

func (listener) OnError(err error) {
	log.Error().Err(err).Str("lib", "unleash").Msg("Feature flag client error")
}

func (listener) OnWarning(err error) {
	log.Warn().Err(err).Str("lib", "unleash").Msg("Feature flag client warning")
}

func (listener) OnReady() {
	log.Info().Str("lib", "unleash").Msg("Feature flags loaded")
}

// Initialize the unleash client. When disabled every feature is reported as enabled.
func Initialize(cfg Config) error {
	if !cfg.Enabled {
		return nil
	}
	err := unleash.Initialize(
		unleash.WithUrl(cfg.Url),
		unleash.WithAppName(cfg.AppName),
		unleash.WithInstanceId(cfg.InstanceID),
		unleash.WithCustomHeaders(http.Header{"Authorization": {cfg.Token}}),
		unleash.WithListener(listener{}),
	)
	if err != nil {
		return err
	}
	atomic.StoreInt32(&initialized, 1)
	return nil
}

// IsEnabled checks a feature, unknown features default to enabled
func IsEnabled(feature string) bool {
	if atomic.LoadInt32(&initialized) == 0 {
		return true
	}
	return unleash.IsEnabled(feature, unleash.WithFallback(true))
}

func Close() {
	if atomic.CompareAndSwapInt32(&initialized, 1, 0) {
		_ = unleash.Close()
	}
}
