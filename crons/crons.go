package crons

import (
	"context"
	"time"

	"github.com/robfig/cron"
	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/commission"
	"gitlab.com/paramountdax-exchange/commission_engine/service/payouts"
	"gitlab.com/paramountdax-exchange/commission_engine/service/qualification"
)

// Jobs are the periodic operations of the engine
type Jobs interface {
	RunMonthlyQualification(ctx context.Context, period model.Period) (*qualification.Report, error)
	ExpireGracePeriods(ctx context.Context, asOf time.Time) (*qualification.GraceReport, error)
	RunPayoutSweep(ctx context.Context, period model.Period) (*payouts.Report, error)
	MatureLedger(ctx context.Context, asOf time.Time) (int64, error)
	RunLeadershipBonus(ctx context.Context, period model.Period) (*commission.BatchReport, error)
	RunRankBonus(ctx context.Context, period model.Period) (*commission.BatchReport, error)
}

var cronService *cron.Cron

// now is replaced in tests
var now = time.Now

// Start Initiate the crons based on the given configuration file
func Start(ctx context.Context, crons config.Crons, jobs Jobs) {
	cronService = cron.New()
	for id, schedule := range crons {
		callback := GetCronByID(ctx, id, jobs)
		if callback == nil {
			log.Warn().Str("section", "crons").Str("cron", id).Msg("Unknown cron id, ignored")
			continue
		}
		if err := cronService.AddFunc(schedule, callback); err != nil {
			log.Error().Err(err).Str("section", "crons").Str("cron", id).Str("schedule", schedule).Msg("Unable to schedule cron")
		}
	}
	cronService.Start()
}

// GetCronByID get a function to execute based on the id. Monthly jobs run for the calendar
// month preceding the execution time.
func GetCronByID(ctx context.Context, id string, jobs Jobs) func() {
	switch id {
	case qualification.JobMonthlyQualification:
		return func() { CronMonthlyQualification(ctx, jobs) }
	case qualification.JobExpireGracePeriods:
		return func() { CronExpireGracePeriods(ctx, jobs) }
	case payouts.JobPayoutSweep:
		return func() { CronPayoutSweep(ctx, jobs) }
	case payouts.JobMatureLedger:
		return func() { CronMatureLedger(ctx, jobs) }
	case commission.JobLeadershipBonus:
		return func() { CronLeadershipBonus(ctx, jobs) }
	case commission.JobRankBonus:
		return func() { CronRankBonus(ctx, jobs) }
	}
	return nil
}

func previousPeriod() model.Period {
	return model.PeriodOf(now()).Previous()
}

// Close godoc
func Close() {
	if cronService != nil {
		cronService.Stop()
	}
}
