package cmd

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gitlab.com/paramountdax-exchange/commission_engine/cmd/commands"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/server"
)

var skipMigrations bool

func init() {
	startCmd.Flags().BoolVar(&skipMigrations, "skip-migrations", false, "start without applying pending migrations")
	rootCmd.AddCommand(startCmd)
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the commission engine",
	Long:  `Consume triggering events, serve the status and admin API and run the scheduled jobs`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.LoadConfig(viper.GetViper())
		if needsMigrations(cfg) {
			if err := commands.ApplyMigrations(cfg); err != nil {
				return errors.Wrap(err, "apply migrations")
			}
		}

		log.Info().
			Str("section", "init").
			Str("storage", cfg.Storage.Driver).
			Int("port", cfg.Server.API.Port).
			Bool("consumer", len(cfg.Kafka.Brokers) > 0).
			Msg("Starting commission engine")
		server.NewServer(cfg).Listen()
		return nil
	},
}

// needsMigrations is false for the memory store and when --skip-migrations is given
func needsMigrations(cfg config.Config) bool {
	return !skipMigrations && cfg.Storage.Driver != "memory"
}
