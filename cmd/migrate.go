package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gitlab.com/paramountdax-exchange/commission_engine/cmd/commands"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
)

func init() {
	rootCmd.AddCommand(migrateCmd)
}

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply the database migrations",
	Run: func(cmd *cobra.Command, args []string) {
		commands.Migrate(config.LoadConfig(viper.GetViper()))
	},
}
