// Package qualification evaluates member ranks once per period and applies demotions after a grace period
package qualification

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/lock"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/monitor"
	"gitlab.com/paramountdax-exchange/commission_engine/service/batch"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	JobMonthlyQualification = "monthly_qualification"
	JobExpireGracePeriods   = "expire_grace_periods"

	DefaultGraceDays = 30
)

var tracer = otel.Tracer("qualification")

type Failure struct {
	MemberID uint64 `json:"member_id"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

func failure(memberID uint64, err error) Failure {
	return Failure{MemberID: memberID, Err: err, Message: err.Error()}
}

// Report of a qualification run; members that failed are listed without a record
type Report struct {
	Period   model.Period
	Records  []*model.RankQualificationRecord
	Failures []Failure
}

type RankChange struct {
	MemberID uint64     `json:"member_id"`
	From     model.Rank `json:"from"`
	To       model.Rank `json:"to"`
}

// GraceReport lists the outcome of the expired grace periods
type GraceReport struct {
	Demoted   []RankChange
	Cancelled []uint64
	Failures  []Failure
}

type Engine struct {
	store    store.Store
	rates    *rates.Provider
	locks    lock.MemberLock
	runLocks lock.RunLock
	grace    time.Duration
	Batch    batch.Runner
	Now      func() time.Time
}

func NewEngine(st store.Store, provider *rates.Provider, locks lock.MemberLock, runLocks lock.RunLock, graceDays int) *Engine {
	if graceDays <= 0 {
		graceDays = DefaultGraceDays
	}
	return &Engine{
		store:    st,
		rates:    provider,
		locks:    locks,
		runLocks: runLocks,
		grace:    time.Duration(graceDays) * 24 * time.Hour,
		Batch:    batch.NewRunner(4, 500, 0),
		Now:      time.Now,
	}
}

// RunMonthlyQualification writes one record per member for the period. Members already
// evaluated for the period keep their record, so a cancelled run can simply be started again.
func (e *Engine) RunMonthlyQualification(ctx context.Context, period model.Period) (*Report, error) {
	release, err := e.runLocks.TryLock(ctx, JobMonthlyQualification)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := tracer.Start(ctx, "qualification.run_monthly", trace.WithAttributes(attribute.String("period", period.String())))
	defer span.End()
	start := time.Now()

	table := e.rates.Current()
	report := &Report{Period: period}
	var mu sync.Mutex
	_, err = batch.Run[*model.Member](ctx, e.Batch, e.store.Members().ListMembers,
		func(m *model.Member) uint64 { return m.ID },
		func(ctx context.Context, m *model.Member) {
			record, err := e.qualify(ctx, table, m.ID, period)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Error().Err(err).Str("section", "qualification").Uint64("member_id", m.ID).Msg("Unable to qualify member")
				report.Failures = append(report.Failures, failure(m.ID, err))
				return
			}
			report.Records = append(report.Records, record)
		})

	finish(JobMonthlyQualification, err, len(report.Failures))
	log.Info().Str("section", "qualification").Str("method", "RunMonthlyQualification").
		Str("period", period.String()).
		Int("records", len(report.Records)).
		Int("failures", len(report.Failures)).
		Dur("took", time.Since(start)).
		Msg("Monthly qualification finished")
	return report, err
}

func finish(job string, err error, failures int) {
	status := "ok"
	if err != nil {
		status = "aborted"
	} else if failures > 0 {
		status = "partial"
	}
	monitor.BatchRuns.WithLabelValues(job, status).Inc()
	monitor.BatchFailures.WithLabelValues(job).Add(float64(failures))
}

// evaluate computes the rank the member qualifies for in period
func evaluate(ctx context.Context, tx store.Tx, table *rates.Table, memberID uint64, period model.Period) (model.Rank, *model.RankQualificationRecord, error) {
	pv, err := tx.Qualifications().PersonalVolume(ctx, memberID, period)
	if err != nil {
		return "", nil, errors.Wrap(err, "personal volume")
	}
	referrals, err := tx.Members().ListDirectReferrals(ctx, memberID)
	if err != nil {
		return "", nil, errors.Wrap(err, "direct referrals")
	}
	directs := 0
	for _, r := range referrals {
		if r.Active {
			directs++
		}
	}
	computed := table.QualifiedRank(pv, directs)
	return computed, &model.RankQualificationRecord{
		MemberID:        memberID,
		Period:          period,
		PersonalVolume:  model.NewDecimal(pv),
		DirectReferrals: directs,
		ComputedRank:    computed,
	}, nil
}

func (e *Engine) qualify(ctx context.Context, table *rates.Table, memberID uint64, period model.Period) (*model.RankQualificationRecord, error) {
	unlock, err := e.locks.Lock(ctx, memberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var out *model.RankQualificationRecord
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		existing, err := tx.Qualifications().GetRecord(ctx, memberID, period)
		if err == nil {
			out = existing
			return nil
		}
		if !store.IsNotFound(err) {
			return err
		}

		member, err := tx.Members().GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		computed, record, err := evaluate(ctx, tx, table, memberID, period)
		if err != nil {
			return err
		}
		protection, err := tx.Qualifications().GetProtection(ctx, memberID)
		if store.IsNotFound(err) {
			protection, err = nil, nil
		}
		if err != nil {
			return err
		}

		now := e.Now().UTC()
		achieved, graceUntil, err := e.transition(ctx, tx, member, computed, protection, now)
		if err != nil {
			return err
		}
		record.PreviousRank = member.Rank
		record.RankAchieved = achieved
		record.Qualified = computed != model.RankNone && !computed.Less(achieved)
		record.GraceUntil = graceUntil
		record.CreatedAt = now
		if err := tx.Qualifications().CreateRecord(ctx, record); err != nil {
			return errors.Wrap(err, "create qualification record")
		}
		out = record
		return nil
	})
	return out, err
}

// transition applies the computed rank to the member and returns the rank in effect afterwards.
// Promotions apply immediately, demotions open or continue a grace period.
func (e *Engine) transition(ctx context.Context, tx store.Tx, member *model.Member, computed model.Rank, protection *model.RankProtection, now time.Time) (model.Rank, *time.Time, error) {
	current := member.Rank
	switch {
	case protection != nil && !computed.Less(protection.ProtectedRank):
		// requalified before the grace period ended
		if err := tx.Qualifications().DeleteProtection(ctx, member.ID); err != nil {
			return "", nil, err
		}
		log.Info().Str("section", "qualification").Uint64("member_id", member.ID).
			Str("rank", protection.ProtectedRank.String()).Msg("Pending demotion cancelled")
		return e.setRank(ctx, tx, member, computed)

	case protection != nil && protection.Expired(now):
		if err := tx.Qualifications().DeleteProtection(ctx, member.ID); err != nil {
			return "", nil, err
		}
		return e.setRank(ctx, tx, member, computed)

	case protection != nil:
		protection.PendingRank = computed
		if err := tx.Qualifications().SaveProtection(ctx, protection); err != nil {
			return "", nil, err
		}
		until := protection.ExpiresAt
		return current, &until, nil

	case current.Less(computed):
		return e.setRank(ctx, tx, member, computed)

	case computed.Less(current):
		until := now.Add(e.grace)
		err := tx.Qualifications().SaveProtection(ctx, &model.RankProtection{
			MemberID:      member.ID,
			ProtectedRank: current,
			PendingRank:   computed,
			StartedAt:     now,
			ExpiresAt:     until,
		})
		if err != nil {
			return "", nil, err
		}
		log.Info().Str("section", "qualification").Uint64("member_id", member.ID).
			Str("from", current.String()).Str("to", computed.String()).
			Time("grace_until", until).Msg("Demotion deferred by grace period")
		return current, &until, nil
	}
	return current, nil, nil
}

func (e *Engine) setRank(ctx context.Context, tx store.Tx, member *model.Member, rank model.Rank) (model.Rank, *time.Time, error) {
	if member.Rank == rank {
		return rank, nil, nil
	}
	if err := tx.Members().UpdateRank(ctx, member.ID, rank); err != nil {
		return "", nil, errors.Wrap(err, "update rank")
	}
	log.Info().Str("section", "qualification").Uint64("member_id", member.ID).
		Str("from", member.Rank.String()).Str("to", rank.String()).Msg("Rank changed")
	return rank, nil, nil
}

// ExpireGracePeriods applies demotions whose grace period ended at asOf. The member is
// evaluated again for the period of asOf first: a member who requalified keeps the rank.
func (e *Engine) ExpireGracePeriods(ctx context.Context, asOf time.Time) (*GraceReport, error) {
	release, err := e.runLocks.TryLock(ctx, JobExpireGracePeriods)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := tracer.Start(ctx, "qualification.expire_grace_periods")
	defer span.End()

	table := e.rates.Current()
	period := model.PeriodOf(asOf)
	report := &GraceReport{}
	var mu sync.Mutex
	list := func(ctx context.Context, afterID uint64, limit int) ([]*model.RankProtection, error) {
		return e.store.Qualifications().ListExpiredProtections(ctx, asOf, afterID, limit)
	}
	_, err = batch.Run[*model.RankProtection](ctx, e.Batch, list,
		func(p *model.RankProtection) uint64 { return p.MemberID },
		func(ctx context.Context, p *model.RankProtection) {
			change, cancelled, err := e.expire(ctx, table, p.MemberID, period, asOf)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				report.Failures = append(report.Failures, failure(p.MemberID, err))
			case cancelled:
				report.Cancelled = append(report.Cancelled, p.MemberID)
			case change != nil:
				report.Demoted = append(report.Demoted, *change)
			}
		})

	finish(JobExpireGracePeriods, err, len(report.Failures))
	return report, err
}

func (e *Engine) expire(ctx context.Context, table *rates.Table, memberID uint64, period model.Period, asOf time.Time) (*RankChange, bool, error) {
	unlock, err := e.locks.Lock(ctx, memberID)
	if err != nil {
		return nil, false, err
	}
	defer unlock()

	var change *RankChange
	cancelled := false
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		protection, err := tx.Qualifications().GetProtection(ctx, memberID)
		if store.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return err
		}
		if !protection.Expired(asOf) {
			return nil
		}
		member, err := tx.Members().GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		computed, _, err := evaluate(ctx, tx, table, memberID, period)
		if err != nil {
			return err
		}
		if err := tx.Qualifications().DeleteProtection(ctx, memberID); err != nil {
			return err
		}
		if !computed.Less(protection.ProtectedRank) {
			cancelled = true
			_, _, err := e.setRank(ctx, tx, member, computed)
			return err
		}

		// the partial current period never lowers the rank below the one computed at period end
		target := protection.PendingRank
		if target.Less(computed) {
			target = computed
		}
		if _, _, err := e.setRank(ctx, tx, member, target); err != nil {
			return err
		}
		change = &RankChange{MemberID: memberID, From: member.Rank, To: target}
		return nil
	})
	return change, cancelled, err
}
