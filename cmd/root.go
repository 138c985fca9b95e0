package cmd

import (
	"io"
	"os"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/featureflags"
)

const serviceName = "commission_engine"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   serviceName,
	Short: "Referral commission, rank qualification and payout engine",
	Long: `Distributes commissions over the referral upline for every triggering event, keeps the
earnings caps of each membership tier, qualifies ranks monthly and batches matured earnings into payouts.`,
	SilenceUsage:      true,
	PersistentPreRunE: bootstrap,
}

func init() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default is ./.config.yaml)")
	flags.String("log-level", "info", "logging level (debug|info|warn|error|fatal|panic)")
	flags.String("log-format", "json", "log output (json|pretty)")
	flags.String("storage", "", "override storage.driver (postgres|memory)")

	// flags win over LOG_LEVEL / LOG_FORMAT which win over the defaults
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
	_ = viper.BindEnv("log.level", "LOG_LEVEL")
	_ = viper.BindEnv("log.format", "LOG_FORMAT")
	_ = viper.BindPFlag("storage.driver", flags.Lookup("storage"))
}

// bootstrap runs before every command: configuration, logger and feature flags
func bootstrap(cmd *cobra.Command, _ []string) error {
	config.OpenConfig(cfgFile)
	if err := setupLogger(os.Stderr, viper.GetString("log.level"), viper.GetString("log.format")); err != nil {
		return err
	}
	log.Debug().Str("section", "init").Str("command", cmd.Name()).Str("path", viper.ConfigFileUsed()).Msg("Configuration loaded")

	cfg := config.LoadConfig(viper.GetViper())
	if err := featureflags.Initialize(cfg.Unleash); err != nil {
		return errors.Wrap(err, "init feature flags")
	}
	return nil
}

// setupLogger configures the global zerolog logger; gin follows the debug level
func setupLogger(out io.Writer, level, format string) error {
	parsed, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return errors.Wrapf(err, "invalid log level %q", level)
	}
	if parsed == zerolog.NoLevel {
		parsed = zerolog.InfoLevel
	}

	switch format {
	case "pretty":
		out = zerolog.ConsoleWriter{Out: out}
	case "", "json":
	default:
		return errors.Errorf("invalid log format %q", format)
	}

	zerolog.SetGlobalLevel(parsed)
	log.Logger = zerolog.New(out).With().Timestamp().Str("service", serviceName).Logger()

	if parsed == zerolog.DebugLevel {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}
	return nil
}

// Execute runs the selected command and exits with status 1 when it fails
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Str("section", "cmd").Msg("Command failed")
		os.Exit(1)
	}
}
