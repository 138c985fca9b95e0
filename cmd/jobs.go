package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service"
)

var period string

func init() {
	for _, c := range []*cobra.Command{qualifyCmd, payoutSweepCmd, leadershipBonusCmd, rankBonusCmd} {
		c.Flags().StringVar(&period, "period", "", "calendar month to process as YYYY-MM (default: previous month)")
		rootCmd.AddCommand(c)
	}
	rootCmd.AddCommand(expireGraceCmd, matureLedgerCmd)
}

// runJob builds the engine for a single batch run and stops it on SIGINT/SIGTERM
func runJob(job string, fn func(ctx context.Context, srv *service.Service) error) {
	cfg := config.LoadConfig(viper.GetViper())
	deps, release, err := service.Connect(cfg)
	if err != nil {
		log.Fatal().Err(err).Str("section", "cmd").Str("job", job).Msg("Unable to connect dependencies")
	}
	defer release()
	srv, err := service.NewService(cfg, deps)
	if err != nil {
		log.Fatal().Err(err).Str("section", "cmd").Str("job", job).Msg("Unable to initialize the commission engine")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	start := time.Now()
	if err := fn(ctx, srv); err != nil {
		log.Fatal().Err(err).Str("section", "cmd").Str("job", job).Msg("Job failed")
	}
	log.Info().Str("section", "cmd").Str("job", job).Dur("duration", time.Since(start)).Msg("Job finished")
}

func targetPeriod() model.Period {
	if period == "" {
		return model.PeriodOf(time.Now()).Previous()
	}
	p, err := model.ParsePeriod(period)
	if err != nil {
		log.Fatal().Err(err).Str("section", "cmd").Msg("Invalid period")
	}
	return p
}

var qualifyCmd = &cobra.Command{
	Use:   "qualify",
	Short: "Run the monthly rank qualification",
	Run: func(cmd *cobra.Command, args []string) {
		p := targetPeriod()
		runJob("monthly_qualification", func(ctx context.Context, srv *service.Service) error {
			report, err := srv.RunMonthlyQualification(ctx, p)
			if err != nil {
				return err
			}
			log.Info().Str("period", p.String()).Int("records", len(report.Records)).Int("failures", len(report.Failures)).Msg("Qualification report")
			return nil
		})
	},
}

var payoutSweepCmd = &cobra.Command{
	Use:   "payout-sweep",
	Short: "Mature the ledger and create payouts for members above their threshold",
	Run: func(cmd *cobra.Command, args []string) {
		p := targetPeriod()
		runJob("payout_sweep", func(ctx context.Context, srv *service.Service) error {
			report, err := srv.RunPayoutSweep(ctx, p)
			if err != nil {
				return err
			}
			log.Info().Str("period", p.String()).Int("payouts", len(report.Payouts)).Int("carried", len(report.Carried)).Int("failures", len(report.Failures)).Msg("Payout report")
			return nil
		})
	},
}

var leadershipBonusCmd = &cobra.Command{
	Use:   "leadership-bonus",
	Short: "Pay the monthly leadership bonus",
	Run: func(cmd *cobra.Command, args []string) {
		p := targetPeriod()
		runJob("leadership_bonus", func(ctx context.Context, srv *service.Service) error {
			report, err := srv.RunLeadershipBonus(ctx, p)
			if err != nil {
				return err
			}
			log.Info().Str("period", p.String()).Int("entries", len(report.Entries)).Int("failures", len(report.Failures)).Msg("Leadership bonus report")
			return nil
		})
	},
}

var rankBonusCmd = &cobra.Command{
	Use:   "rank-bonus",
	Short: "Pay the monthly rank bonus",
	Run: func(cmd *cobra.Command, args []string) {
		p := targetPeriod()
		runJob("rank_bonus", func(ctx context.Context, srv *service.Service) error {
			report, err := srv.RunRankBonus(ctx, p)
			if err != nil {
				return err
			}
			log.Info().Str("period", p.String()).Int("entries", len(report.Entries)).Int("failures", len(report.Failures)).Msg("Rank bonus report")
			return nil
		})
	},
}

var expireGraceCmd = &cobra.Command{
	Use:   "expire-grace",
	Short: "Apply demotions whose grace period has ended",
	Run: func(cmd *cobra.Command, args []string) {
		runJob("expire_grace_periods", func(ctx context.Context, srv *service.Service) error {
			report, err := srv.ExpireGracePeriods(ctx, time.Now())
			if err != nil {
				return err
			}
			log.Info().Int("demoted", len(report.Demoted)).Int("cancelled", len(report.Cancelled)).Int("failures", len(report.Failures)).Msg("Grace period report")
			return nil
		})
	},
}

var matureLedgerCmd = &cobra.Command{
	Use:   "mature-ledger",
	Short: "Move pending ledger entries past the maturity window to matured",
	Run: func(cmd *cobra.Command, args []string) {
		runJob("mature_ledger", func(ctx context.Context, srv *service.Service) error {
			matured, err := srv.MatureLedger(ctx, time.Now())
			if err != nil {
				return err
			}
			log.Info().Int64("matured", matured).Msg("Ledger matured")
			return nil
		})
	},
}
