// Package payouts turns matured commissions into payout requests
package payouts

import (
	"context"
	"sync"
	"time"

	"github.com/ericlagergren/decimal"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/featureflags"
	"gitlab.com/paramountdax-exchange/commission_engine/lock"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/monitor"
	"gitlab.com/paramountdax-exchange/commission_engine/service/batch"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	JobPayoutSweep  = "payout_sweep"
	JobMatureLedger = "mature_ledger"
)

var tracer = otel.Tracer("payouts")

type Options struct {
	MaturityDays     int
	MinimumThreshold *decimal.Big
	Method           model.PayoutMethod
}

type Failure struct {
	MemberID uint64 `json:"member_id"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

// Carry is a balance left for the next sweep because it is below the member's threshold
type Carry struct {
	MemberID  uint64
	Balance   *decimal.Big
	Threshold *decimal.Big
}

type Report struct {
	Period   model.Period
	Matured  int64
	Payouts  []*model.Payout
	Carried  []Carry
	Failures []Failure
}

type Engine struct {
	store    store.Store
	locks    lock.MemberLock
	runLocks lock.RunLock
	opts     Options
	Batch    batch.Runner
	Now      func() time.Time
	Enabled  func(flag string) bool
}

func NewEngine(st store.Store, locks lock.MemberLock, runLocks lock.RunLock, opts Options) *Engine {
	if opts.MaturityDays < 0 {
		opts.MaturityDays = 0
	}
	if opts.MinimumThreshold == nil {
		opts.MinimumThreshold = conv.NewDecimalWithPrecision()
	}
	if opts.Method == "" {
		opts.Method = model.PayoutMethod_Wallet
	}
	return &Engine{
		store:    st,
		locks:    locks,
		runLocks: runLocks,
		opts:     opts,
		Batch:    batch.NewRunner(4, 500, 0),
		Now:      time.Now,
		Enabled:  featureflags.IsEnabled,
	}
}

func (e *Engine) maturityCutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -e.opts.MaturityDays)
}

// MatureLedger moves pending entries older than the maturity window to matured
func (e *Engine) MatureLedger(ctx context.Context, asOf time.Time) (int64, error) {
	release, err := e.runLocks.TryLock(ctx, JobMatureLedger)
	if err != nil {
		return 0, err
	}
	defer release()
	n, err := e.mature(ctx, asOf)
	status := "ok"
	if err != nil {
		status = "aborted"
	}
	monitor.BatchRuns.WithLabelValues(JobMatureLedger, status).Inc()
	return n, err
}

func (e *Engine) mature(ctx context.Context, asOf time.Time) (int64, error) {
	var n int64
	err := e.store.Atomic(ctx, func(tx store.Tx) error {
		var err error
		n, err = tx.Ledger().MaturePending(ctx, e.maturityCutoff(asOf), asOf)
		return err
	})
	if err != nil {
		return 0, errors.Wrap(err, "mature ledger")
	}
	log.Info().Str("section", "payouts").Str("method", "MatureLedger").Int64("entries", n).Msg("Ledger entries matured")
	return n, nil
}

// RunPayoutSweep creates one payout per auto payout member whose matured unpaid balance
// reaches the threshold. Smaller balances are carried forward untouched.
func (e *Engine) RunPayoutSweep(ctx context.Context, period model.Period) (*Report, error) {
	report := &Report{Period: period}
	if !e.Enabled(featureflags.AutoPayout) {
		log.Info().Str("section", "payouts").Msg("Auto payout disabled by feature flag")
		return report, nil
	}
	release, err := e.runLocks.TryLock(ctx, JobPayoutSweep)
	if err != nil {
		return nil, err
	}
	defer release()

	ctx, span := tracer.Start(ctx, "payouts.sweep", trace.WithAttributes(attribute.String("period", period.String())))
	defer span.End()
	start := time.Now()

	now := e.Now().UTC()
	if report.Matured, err = e.mature(ctx, now); err != nil {
		return nil, err
	}
	asOf := e.maturityCutoff(now)

	var mu sync.Mutex
	_, err = batch.Run[*model.PayoutSettings](ctx, e.Batch, e.store.Payouts().ListAutoPayoutMembers,
		func(s *model.PayoutSettings) uint64 { return s.MemberID },
		func(ctx context.Context, settings *model.PayoutSettings) {
			payout, carry, err := e.payMember(ctx, settings, period, now, asOf)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				log.Error().Err(err).Str("section", "payouts").Uint64("member_id", settings.MemberID).Msg("Unable to create payout")
				report.Failures = append(report.Failures, Failure{MemberID: settings.MemberID, Err: err, Message: err.Error()})
			case payout != nil:
				monitor.PayoutsCreated.WithLabelValues(string(payout.Method)).Inc()
				report.Payouts = append(report.Payouts, payout)
			case carry != nil:
				report.Carried = append(report.Carried, *carry)
			}
		})

	status := "ok"
	if err != nil {
		status = "aborted"
	} else if len(report.Failures) > 0 {
		status = "partial"
	}
	monitor.BatchRuns.WithLabelValues(JobPayoutSweep, status).Inc()
	monitor.BatchFailures.WithLabelValues(JobPayoutSweep).Add(float64(len(report.Failures)))
	log.Info().Str("section", "payouts").Str("method", "RunPayoutSweep").
		Str("period", period.String()).
		Int("payouts", len(report.Payouts)).
		Int("carried", len(report.Carried)).
		Int("failures", len(report.Failures)).
		Dur("took", time.Since(start)).
		Msg("Payout sweep finished")
	return report, err
}

func (e *Engine) threshold(settings *model.PayoutSettings) *decimal.Big {
	if settings.MinimumThreshold != nil && settings.MinimumThreshold.V != nil {
		return settings.MinimumThreshold.V
	}
	return e.opts.MinimumThreshold
}

func (e *Engine) payMember(ctx context.Context, settings *model.PayoutSettings, period model.Period, now, asOf time.Time) (*model.Payout, *Carry, error) {
	unlock, err := e.locks.Lock(ctx, settings.MemberID)
	if err != nil {
		return nil, nil, err
	}
	defer unlock()

	var payout *model.Payout
	var carry *Carry
	err = e.store.Atomic(ctx, func(tx store.Tx) error {
		entries, err := tx.Ledger().ListUnpaidMatured(ctx, settings.MemberID, asOf)
		if err != nil {
			return err
		}
		balance := conv.NewDecimalWithPrecision()
		ids := make([]uint64, 0, len(entries))
		for _, entry := range entries {
			balance.Add(balance, model.DecimalValue(entry.Amount))
			ids = append(ids, entry.ID)
		}
		threshold := e.threshold(settings)
		if balance.Sign() <= 0 || balance.Cmp(threshold) < 0 {
			carry = &Carry{MemberID: settings.MemberID, Balance: balance, Threshold: threshold}
			return nil
		}

		method := settings.Method
		if method == "" {
			method = e.opts.Method
		}
		payout = &model.Payout{
			Reference:   uuid.NewString(),
			MemberID:    settings.MemberID,
			Amount:      model.NewDecimal(balance),
			Status:      model.PayoutStatus_Pending,
			Method:      method,
			Period:      period,
			EntryCount:  len(entries),
			RequestedAt: now,
		}
		if err := tx.Payouts().CreatePayout(ctx, payout); err != nil {
			return errors.Wrap(err, "create payout")
		}
		return tx.Ledger().MarkPaid(ctx, ids, payout.ID, now)
	})
	if err != nil {
		return nil, nil, err
	}
	return payout, carry, nil
}
