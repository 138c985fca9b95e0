package commission

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/featureflags"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/monitor"
	"gitlab.com/paramountdax-exchange/commission_engine/service/batch"
	"gitlab.com/paramountdax-exchange/commission_engine/service/graph"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	JobLeadershipBonus = "leadership_bonus"
	JobRankBonus       = "rank_bonus"
)

// bonusFunc returns the amount to pay to member for the period or a skip reason
type bonusFunc func(ctx context.Context, table *rates.Table, member *model.Member, period model.Period) (credit, string, error)

// RunLeadershipBonus pays every ranked member a bonus sized by the active members of their downline
func (e *Engine) RunLeadershipBonus(ctx context.Context, period model.Period) (*BatchReport, error) {
	return e.runBonus(ctx, JobLeadershipBonus, featureflags.LeadershipBonus, model.LedgerEntryType_Leadership, period, e.leadershipCredit)
}

// RunRankBonus pays the flat bonus of the rank each member held at the end of the period
func (e *Engine) RunRankBonus(ctx context.Context, period model.Period) (*BatchReport, error) {
	return e.runBonus(ctx, JobRankBonus, featureflags.RankBonus, model.LedgerEntryType_RankBonus, period, e.rankCredit)
}

func (e *Engine) leadershipCredit(ctx context.Context, table *rates.Table, member *model.Member, period model.Period) (credit, string, error) {
	if _, ok := table.LeadershipMultiplier(member.Rank); !ok {
		return credit{}, ReasonNoMultiplier, nil
	}
	downline, err := e.graph.DownlineSubtree(ctx, member.ID, table.LeadershipDepth())
	if err != nil {
		return credit{}, "", err
	}
	amount, _ := table.LeadershipBonus(graph.CountActive(downline), member.Rank)
	if amount.Sign() == 0 {
		return credit{}, ReasonZeroAmount, nil
	}
	return credit{
		eventID: string(model.LedgerEntryType_Leadership) + ":" + period.String(),
		source:  member.ID,
		member:  member,
		kind:    model.LedgerEntryType_Leadership,
		amount:  amount,
		period:  period,
	}, "", nil
}

func (e *Engine) rankCredit(ctx context.Context, table *rates.Table, member *model.Member, period model.Period) (credit, string, error) {
	rank := member.Rank
	record, err := e.store.Qualifications().GetRecord(ctx, member.ID, period)
	switch {
	case err == nil:
		rank = record.RankAchieved
	case !store.IsNotFound(err):
		return credit{}, "", err
	}
	amount, ok := table.RankBonus(rank)
	if !ok {
		return credit{}, ReasonNoRate, nil
	}
	if amount.Sign() == 0 {
		return credit{}, ReasonZeroAmount, nil
	}
	return credit{
		eventID: string(model.LedgerEntryType_RankBonus) + ":" + period.String(),
		source:  member.ID,
		member:  member,
		kind:    model.LedgerEntryType_RankBonus,
		amount:  amount,
		period:  period,
	}, "", nil
}

func (e *Engine) runBonus(ctx context.Context, job, flag string, kind model.LedgerEntryType, period model.Period, bonus bonusFunc) (*BatchReport, error) {
	report := &BatchReport{Job: job, Period: period}
	if !e.Enabled(flag) {
		log.Info().Str("section", "commission").Str("job", job).Msg("Bonus pass disabled by feature flag")
		return report, nil
	}
	release, err := e.runLocks.TryLock(ctx, job)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := tracer.Start(ctx, "commission."+job, trace.WithAttributes(attribute.String("period", period.String())))
	defer span.End()
	start := time.Now()

	table := e.rates.Current()
	var mu sync.Mutex
	_, err = batch.Run[*model.Member](ctx, e.Batch, e.store.Members().ListMembers,
		func(m *model.Member) uint64 { return m.ID },
		func(ctx context.Context, member *model.Member) {
			local := &Result{}
			if !member.Active {
				local.skip(member.ID, 0, kind, ReasonInactive)
			} else {
				c, reason, err := bonus(ctx, table, member, period)
				switch {
				case err != nil:
					local.fail(member.ID, 0, job, err)
				case reason != "":
					local.skip(member.ID, 0, kind, reason)
				default:
					e.pay(ctx, local, c)
				}
			}

			mu.Lock()
			defer mu.Unlock()
			report.Entries = append(report.Entries, local.Entries...)
			report.Skipped = append(report.Skipped, local.Skipped...)
			report.Failures = append(report.Failures, local.Failures...)
		})

	status := "ok"
	if err != nil {
		status = "aborted"
	} else if len(report.Failures) > 0 {
		status = "partial"
	}
	monitor.BatchRuns.WithLabelValues(job, status).Inc()
	monitor.BatchFailures.WithLabelValues(job).Add(float64(len(report.Failures)))
	log.Info().Str("section", "commission").Str("job", job).
		Str("period", period.String()).
		Int("entries", len(report.Entries)).
		Int("failures", len(report.Failures)).
		Dur("took", time.Since(start)).
		Msg("Bonus pass finished")
	return report, err
}
