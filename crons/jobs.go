package crons

import (
	"context"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/lock"
)

func logFailure(logger zerolog.Logger, err error) {
	if errors.Is(err, lock.ErrAlreadyRunning) {
		logger.Warn().Msg("Previous run still in progress, skipped")
		return
	}
	logger.Error().Err(err).Msg("Cron failed")
}

func CronMonthlyQualification(ctx context.Context, jobs Jobs) {
	period := previousPeriod()
	logger := log.With().Str("section", "crons").Str("method", "CronMonthlyQualification").Str("period", period.String()).Logger()
	report, err := jobs.RunMonthlyQualification(ctx, period)
	if err != nil {
		logFailure(logger, err)
		return
	}
	logger.Info().Int("records", len(report.Records)).Int("failures", len(report.Failures)).Msg("Monthly qualification finished")
}

func CronExpireGracePeriods(ctx context.Context, jobs Jobs) {
	logger := log.With().Str("section", "crons").Str("method", "CronExpireGracePeriods").Logger()
	report, err := jobs.ExpireGracePeriods(ctx, now())
	if err != nil {
		logFailure(logger, err)
		return
	}
	logger.Info().Int("demoted", len(report.Demoted)).Int("cancelled", len(report.Cancelled)).Int("failures", len(report.Failures)).Msg("Grace periods processed")
}

func CronPayoutSweep(ctx context.Context, jobs Jobs) {
	period := previousPeriod()
	logger := log.With().Str("section", "crons").Str("method", "CronPayoutSweep").Str("period", period.String()).Logger()
	report, err := jobs.RunPayoutSweep(ctx, period)
	if err != nil {
		logFailure(logger, err)
		return
	}
	logger.Info().Int("payouts", len(report.Payouts)).Int("carried", len(report.Carried)).Int("failures", len(report.Failures)).Msg("Payout sweep finished")
}

func CronMatureLedger(ctx context.Context, jobs Jobs) {
	logger := log.With().Str("section", "crons").Str("method", "CronMatureLedger").Logger()
	matured, err := jobs.MatureLedger(ctx, now())
	if err != nil {
		logFailure(logger, err)
		return
	}
	logger.Info().Int64("matured", matured).Msg("Ledger entries matured")
}

func CronLeadershipBonus(ctx context.Context, jobs Jobs) {
	period := previousPeriod()
	logger := log.With().Str("section", "crons").Str("method", "CronLeadershipBonus").Str("period", period.String()).Logger()
	report, err := jobs.RunLeadershipBonus(ctx, period)
	if err != nil {
		logFailure(logger, err)
		return
	}
	logger.Info().Int("entries", len(report.Entries)).Int("failures", len(report.Failures)).Msg("Leadership bonus paid")
}

func CronRankBonus(ctx context.Context, jobs Jobs) {
	period := previousPeriod()
	logger := log.With().Str("section", "crons").Str("method", "CronRankBonus").Str("period", period.String()).Logger()
	report, err := jobs.RunRankBonus(ctx, period)
	if err != nil {
		logFailure(logger, err)
		return
	}
	logger.Info().Int("entries", len(report.Entries)).Int("failures", len(report.Failures)).Msg("Rank bonus paid")
}
