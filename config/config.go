package config

import (
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
	"gitlab.com/paramountdax-exchange/commission_engine/featureflags"
	"gitlab.com/paramountdax-exchange/commission_engine/monitor"
	"gitlab.com/paramountdax-exchange/commission_engine/net/kafka"
	"gitlab.com/paramountdax-exchange/commission_engine/net/redis"
)

// Config structure
type Config struct {
	Server          ServerConfig          `mapstructure:"server"`
	Storage         StorageConfig         `mapstructure:"storage"`
	DatabaseCluster DatabaseClusterConfig `mapstructure:"database_cluster"`
	Redis           redis.Config          `mapstructure:"redis"`
	Kafka           kafka.Config          `mapstructure:"kafka"`
	Topics          TopicsConfig          `mapstructure:"topics"`
	Crons           Crons                 `mapstructure:"crons"`
	Commission      CommissionConfig      `mapstructure:"commission"`
	Qualification   QualificationConfig   `mapstructure:"qualification"`
	Payout          PayoutConfig          `mapstructure:"payout"`
	Workers         WorkersConfig         `mapstructure:"workers"`
	Notifications   NotificationsConfig   `mapstructure:"notifications"`
	Unleash         featureflags.Config   `mapstructure:"unleash"`
}

// ServerConfig structure
type ServerConfig struct {
	Monitoring monitor.Config `mapstructure:"monitoring"`
	API        APIConfig      `mapstructure:"api"`
}

// APIConfig structure
type APIConfig struct {
	Port        int      `mapstructure:"port"`
	CorsOrigins []string `mapstructure:"cors_origins"`
	AdminToken  string   `mapstructure:"admin_token"`
	// AdminAllowedIPs is a comma separated list of CIDRs allowed on the admin routes, empty allows all
	AdminAllowedIPs string `mapstructure:"admin_allowed_ips"`
}

// StorageConfig selects the store implementation: postgres or memory
type StorageConfig struct {
	Driver string `mapstructure:"driver"`
}

// DatabaseClusterConfig structure
type DatabaseClusterConfig struct {
	Writer DatabaseConfig `mapstructure:"writer"`
	Reader DatabaseConfig `mapstructure:"reader"`
}

// DatabaseConfig structure
type DatabaseConfig struct {
	Host            string `mapstructure:"host"`
	Username        string `mapstructure:"username"`
	Password        string `mapstructure:"password"`
	Name            string `mapstructure:"name"`
	SSLmode         string `mapstructure:"sslmode"`
	ApplicationName string `mapstructure:"application_name"`
	Port            int    `mapstructure:"port"`
	MaxOpenConns    int    `mapstructure:"max_open_conns"`
	MaxIdleConns    int    `mapstructure:"max_idle_conns"`
}

// TopicsConfig names the kafka topics used by the engine
type TopicsConfig struct {
	Events        string `mapstructure:"events"`
	DeadLetter    string `mapstructure:"dead_letter"`
	Notifications string `mapstructure:"notifications"`
}

// Crons - mapping of ids to execution frequency
type Crons map[string]string

// CommissionConfig is the rate table. Amounts and percentages are decimal strings.
// RatesFile, when set, points to a YAML document with the same shape that takes precedence.
type CommissionConfig struct {
	Version    string                `mapstructure:"version" yaml:"version"`
	RatesFile  string                `mapstructure:"rates_file" yaml:"-"`
	Tiers      map[string]TierConfig `mapstructure:"tiers" yaml:"tiers"`
	Matching   map[string]string     `mapstructure:"matching" yaml:"matching"`
	Leadership LeadershipConfig      `mapstructure:"leadership" yaml:"leadership"`
	RankBonus  map[string]string     `mapstructure:"rank_bonus" yaml:"rank_bonus"`
	Thresholds []ThresholdConfig     `mapstructure:"thresholds" yaml:"thresholds"`
}

type TierConfig struct {
	Order      int      `mapstructure:"order" yaml:"order"`
	BasePrice  string   `mapstructure:"base_price" yaml:"base_price"`
	CapPercent string   `mapstructure:"cap_percent" yaml:"cap_percent"`
	Unlimited  bool     `mapstructure:"unlimited" yaml:"unlimited"`
	LevelRates []string `mapstructure:"level_rates" yaml:"level_rates"`
}

type LeadershipConfig struct {
	PerMember       string            `mapstructure:"per_member" yaml:"per_member"`
	BaseCap         string            `mapstructure:"base_cap" yaml:"base_cap"`
	Ceiling         string            `mapstructure:"ceiling" yaml:"ceiling"`
	Depth           int               `mapstructure:"depth" yaml:"depth"`
	RankMultipliers map[string]string `mapstructure:"rank_multipliers" yaml:"rank_multipliers"`
}

type ThresholdConfig struct {
	Rank            string `mapstructure:"rank" yaml:"rank"`
	PersonalVolume  string `mapstructure:"personal_volume" yaml:"personal_volume"`
	DirectReferrals int    `mapstructure:"direct_referrals" yaml:"direct_referrals"`
}

type QualificationConfig struct {
	GraceDays int `mapstructure:"grace_days"`
}

type PayoutConfig struct {
	MaturityDays     int    `mapstructure:"maturity_days"`
	MinimumThreshold string `mapstructure:"minimum_threshold"`
	Method           string `mapstructure:"method"`
}

// WorkersConfig bounds the concurrency of the engine against the store
type WorkersConfig struct {
	EventWorkers      int     `mapstructure:"event_workers"`
	BatchWorkers      int     `mapstructure:"batch_workers"`
	BatchPageSize     int     `mapstructure:"batch_page_size"`
	StoreOpsPerSecond float64 `mapstructure:"store_ops_per_second"`
	RetryMaxTries     uint    `mapstructure:"retry_max_tries"`
	RetryInitialMs    int     `mapstructure:"retry_initial_ms"`
	RetryMaxMs        int     `mapstructure:"retry_max_ms"`
	EventRetryWindow  int     `mapstructure:"event_retry_window_sec"`
	ConsumerBatchSize int     `mapstructure:"consumer_batch_size"`
	MemberLockTTLMs   int     `mapstructure:"member_lock_ttl_ms"`
	RunLockTTLSec     int     `mapstructure:"run_lock_ttl_sec"`
}

type NotificationsConfig struct {
	Kafka    bool           `mapstructure:"kafka"`
	Sendgrid SendgridConfig `mapstructure:"sendgrid"`
}

type SendgridConfig struct {
	Key       string            `mapstructure:"key"`
	From      string            `mapstructure:"from"`
	FromName  string            `mapstructure:"from_name"`
	Templates map[string]string `mapstructure:"templates"`
}

func (cfg SendgridConfig) Enabled() bool {
	return cfg.Key != ""
}

// LoadConfig Load server configuration from the yaml file
func LoadConfig(viperConf *viper.Viper) Config {
	var config Config

	err := viperConf.Unmarshal(&config)
	if err != nil {
		log.Fatal().Err(err).Msg("Unable to decode config into struct")
	}
	return config
}

// OpenConfig godoc
func OpenConfig(file string) {
	if file != "" {
		// Use config file from the flag.
		viper.SetConfigFile(file)
	}

	viper.SetConfigType("yaml")
	viper.SetConfigName(".config")
	viper.AddConfigPath(".")                       // First try to load the config from the current directory
	viper.AddConfigPath("$HOME")                   // Then try to load it from the HOME directory
	viper.AddConfigPath("/etc/commission_engine/") // As a last resort try to load it from /etc/
	viper.SetEnvPrefix("CFG")
	viper.AutomaticEnv()
	setDefaultVariables(viper.GetViper())

	err := viper.ReadInConfig() // Find and read the config file
	if err != nil {             // Handle errors reading the config file
		log.Fatal().Err(err).Msg("Unable to read configuration file")
	}
}

func setDefaultVariables(v *viper.Viper) {
	v.SetDefault("storage.driver", "postgres")
	v.SetDefault("server.api.port", 8080)
	v.SetDefault("topics.events", "commission_events")
	v.SetDefault("topics.dead_letter", "commission_events_dlq")
	v.SetDefault("topics.notifications", "commission_notifications")
	v.SetDefault("qualification.grace_days", 30)
	v.SetDefault("payout.maturity_days", 30)
	v.SetDefault("payout.minimum_threshold", "50")
	v.SetDefault("payout.method", "bank_transfer")
	v.SetDefault("workers.event_workers", 8)
	v.SetDefault("workers.batch_workers", 4)
	v.SetDefault("workers.batch_page_size", 500)
	v.SetDefault("workers.store_ops_per_second", 200)
	v.SetDefault("workers.retry_max_tries", 5)
	v.SetDefault("workers.retry_initial_ms", 50)
	v.SetDefault("workers.retry_max_ms", 2000)
	v.SetDefault("workers.event_retry_window_sec", 60)
	v.SetDefault("workers.consumer_batch_size", 100)
	v.SetDefault("workers.member_lock_ttl_ms", 10000)
	v.SetDefault("workers.run_lock_ttl_sec", 3600)
}
