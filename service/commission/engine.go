// Package commission distributes triggering events over the upline and runs the periodic bonus passes
package commission

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/ericlagergren/decimal"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/featureflags"
	"gitlab.com/paramountdax-exchange/commission_engine/lock"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/monitor"
	"gitlab.com/paramountdax-exchange/commission_engine/notify"
	"gitlab.com/paramountdax-exchange/commission_engine/service/batch"
	"gitlab.com/paramountdax-exchange/commission_engine/service/caps"
	"gitlab.com/paramountdax-exchange/commission_engine/service/graph"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("commission")

// RetryOptions bound the retries of a per member transaction after a storage conflict
type RetryOptions struct {
	MaxTries        uint
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

type Engine struct {
	store    store.Store
	graph    *graph.Graph
	rates    *rates.Provider
	guard    *caps.Guard
	locks    lock.MemberLock
	runLocks lock.RunLock
	notifier notify.Notifier
	retry    RetryOptions

	// Batch bounds the bonus passes
	Batch   batch.Runner
	Now     func() time.Time
	Enabled func(flag string) bool
}

func NewEngine(st store.Store, provider *rates.Provider, guard *caps.Guard, locks lock.MemberLock, runLocks lock.RunLock, notifier notify.Notifier, retry RetryOptions) *Engine {
	if notifier == nil {
		notifier = notify.LogNotifier{}
	}
	if retry.MaxTries == 0 {
		retry.MaxTries = 5
	}
	return &Engine{
		store:    st,
		graph:    graph.New(st.Members()),
		rates:    provider,
		guard:    guard,
		locks:    locks,
		runLocks: runLocks,
		notifier: notifier,
		retry:    retry,
		Batch:    batch.NewRunner(4, 500, 0),
		Now:      time.Now,
		Enabled:  featureflags.IsEnabled,
	}
}

// credit is one requested ledger entry for a recipient
type credit struct {
	eventID string
	source  uint64
	member  *model.Member
	level   int
	kind    model.LedgerEntryType
	amount  *decimal.Big
	period  model.Period
}

type outcome struct {
	entry   *model.LedgerEntry
	created bool
	skip    string
	notice  *model.CapNotification
}

// ProcessEvent pays level commissions up the source member's upline followed by the matching
// bonus on the level 1 commission. Processing an event again only creates what is missing.
func (e *Engine) ProcessEvent(ctx context.Context, ev *model.Event) (*Result, error) {
	if err := Validate(ev); err != nil {
		return nil, err
	}
	ctx, span := tracer.Start(ctx, "commission.process_event", trace.WithAttributes(
		attribute.String("event_id", ev.EventID),
		attribute.Int64("source_member_id", int64(ev.SourceMemberID)),
	))
	defer span.End()
	start := time.Now()

	result, err := e.processEvent(ctx, ev)
	status := "ok"
	switch {
	case err != nil:
		status = "error"
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	case result.Failed():
		status = "partial"
	}
	monitor.EventDuration.WithLabelValues(string(ev.Kind), status).Observe(time.Since(start).Seconds())
	return result, err
}

func (e *Engine) processEvent(ctx context.Context, ev *model.Event) (*Result, error) {
	table := e.rates.Current()
	source, err := e.store.Members().GetMember(ctx, ev.SourceMemberID)
	if store.IsNotFound(err) {
		return nil, &ValidationError{Field: "source_member_id", Reason: "does not exist"}
	}
	if err != nil {
		return nil, errors.Wrap(err, "load source member")
	}

	occurredAt := ev.OccurredAt
	if occurredAt.IsZero() {
		occurredAt = e.Now()
	}
	period := model.PeriodOf(occurredAt)

	depth := table.MaxLevels(source.Tier)
	fetch := depth
	if fetch < 2 {
		fetch = 2
	}
	chain, err := e.graph.UplineChain(ctx, source.ID, fetch)
	if err != nil {
		log.Error().Err(err).Str("section", "commission").Str("method", "ProcessEvent").
			Str("event_id", ev.EventID).Msg("Unable to resolve upline, event aborted")
		return nil, err
	}

	result := &Result{EventID: ev.EventID}
	var levelOne *model.LedgerEntry

	for _, node := range chain {
		if node.Level > depth {
			break
		}
		recipient := node.Member
		pct, ok := table.LevelRate(recipient.Tier, node.Level)
		if !ok {
			// configured depth of the recipient's tier is exhausted
			result.skip(recipient.ID, node.Level, model.LedgerEntryType_Level, ReasonNoRate)
			break
		}
		if !recipient.Active {
			result.skip(recipient.ID, node.Level, model.LedgerEntryType_Level, ReasonInactive)
			continue
		}
		amount := conv.Percent(ev.Amount, pct)
		if amount.Sign() == 0 {
			result.skip(recipient.ID, node.Level, model.LedgerEntryType_Level, ReasonZeroAmount)
			continue
		}
		entry := e.pay(ctx, result, credit{
			eventID: ev.EventID,
			source:  source.ID,
			member:  recipient,
			level:   node.Level,
			kind:    model.LedgerEntryType_Level,
			amount:  amount,
			period:  period,
		})
		if node.Level == 1 {
			levelOne = entry
		}
	}

	if levelOne != nil {
		e.payMatching(ctx, result, table, ev, source.ID, period, chain, levelOne)
	}
	e.creditVolume(ctx, result, ev, source.ID, period)

	log.Debug().Str("section", "commission").Str("method", "ProcessEvent").
		Str("event_id", ev.EventID).
		Int("created", len(result.Entries)).
		Int("duplicates", len(result.Duplicates)).
		Int("skipped", len(result.Skipped)).
		Int("failures", len(result.Failures)).
		Msg("Event processed")
	return result, nil
}

// payMatching credits the sponsor of the level 1 recipient with a share of the level 1 commission,
// scaled by the matching multiplier of the level 1 recipient's rank
func (e *Engine) payMatching(ctx context.Context, result *Result, table *rates.Table, ev *model.Event, source uint64, period model.Period, chain []graph.Node, levelOne *model.LedgerEntry) {
	if len(chain) < 2 {
		return
	}
	earner, recipient := chain[0].Member, chain[1].Member
	if !e.Enabled(featureflags.MatchingBonus) {
		result.skip(recipient.ID, 2, model.LedgerEntryType_Matching, ReasonDisabled)
		return
	}
	factor, ok := table.MatchingMultiplier(earner.Rank)
	if !ok {
		result.skip(recipient.ID, 2, model.LedgerEntryType_Matching, ReasonNoMultiplier)
		return
	}
	if !recipient.Active {
		result.skip(recipient.ID, 2, model.LedgerEntryType_Matching, ReasonInactive)
		return
	}
	amount := conv.Scale(model.DecimalValue(levelOne.Amount), factor)
	if amount.Sign() == 0 {
		result.skip(recipient.ID, 2, model.LedgerEntryType_Matching, ReasonZeroAmount)
		return
	}
	e.pay(ctx, result, credit{
		eventID: ev.EventID,
		source:  source,
		member:  recipient,
		level:   2,
		kind:    model.LedgerEntryType_Matching,
		amount:  amount,
		period:  period,
	})
}

// creditVolume adds the event amount to the source member's personal volume once per event
func (e *Engine) creditVolume(ctx context.Context, result *Result, ev *model.Event, source uint64, period model.Period) {
	entry := &model.VolumeEntry{
		IdempotencyKey: "volume:" + ev.EventID,
		MemberID:       source,
		Period:         period,
		Amount:         model.NewDecimal(ev.Amount),
		CreatedAt:      e.Now().UTC(),
	}
	_, err := withRetry(ctx, e.retry, func() (bool, error) {
		var created bool
		err := e.store.Atomic(ctx, func(tx store.Tx) error {
			var err error
			created, err = tx.Qualifications().AddVolume(ctx, entry)
			return err
		})
		return created, err
	})
	if err != nil {
		log.Error().Err(err).Str("section", "commission").Str("method", "creditVolume").
			Str("event_id", ev.EventID).Uint64("member_id", source).Msg("Unable to credit personal volume")
		result.fail(source, 0, "volume", err)
	}
}

// pay applies a single credit under the recipient's lock and records the outcome on result.
// It returns the recipient's entry for the event when one exists.
func (e *Engine) pay(ctx context.Context, result *Result, c credit) *model.LedgerEntry {
	out, err := e.apply(ctx, c)
	if err != nil {
		log.Error().Err(err).Str("section", "commission").Str("method", "pay").
			Str("event_id", c.eventID).
			Uint64("member_id", c.member.ID).
			Str("type", c.kind.String()).
			Msg("Unable to credit commission")
		result.fail(c.member.ID, c.level, c.kind.String(), err)
		return nil
	}
	switch {
	case out.skip != "":
		monitor.CommissionDenied.WithLabelValues(out.skip).Inc()
		result.skip(c.member.ID, c.level, c.kind, out.skip)
	case out.created:
		monitor.LedgerEntriesCreated.WithLabelValues(c.kind.String()).Inc()
		result.Entries = append(result.Entries, out.entry)
	default:
		result.Duplicates = append(result.Duplicates, out.entry)
	}
	if out.notice != nil {
		e.notify(ctx, *out.notice)
	}
	return out.entry
}

// apply runs the check-then-act sequence for one recipient as a single transaction
func (e *Engine) apply(ctx context.Context, c credit) (*outcome, error) {
	unlock, err := e.locks.Lock(ctx, c.member.ID)
	if err != nil {
		return nil, errors.Wrap(err, "member lock")
	}
	defer unlock()

	key := model.IdempotencyKeyFor(c.eventID, c.member.ID, c.kind)
	return withRetry(ctx, e.retry, func() (*outcome, error) {
		out := &outcome{}
		err := e.store.Atomic(ctx, func(tx store.Tx) error {
			existing, err := tx.Ledger().GetByKey(ctx, key)
			if err == nil {
				out.entry = existing
				return nil
			}
			if !store.IsNotFound(err) {
				return err
			}

			member, err := tx.Members().GetMember(ctx, c.member.ID)
			if err != nil {
				return err
			}
			entry := &model.LedgerEntry{
				IdempotencyKey: key,
				EventID:        c.eventID,
				SourceMemberID: c.source,
				Level:          c.level,
				Type:           c.kind,
				Requested:      model.NewDecimal(c.amount),
				Status:         model.LedgerEntryStatus_Pending,
				Period:         c.period,
				CreatedAt:      e.Now().UTC(),
			}
			state, tr, created, err := e.guard.Credit(ctx, tx, member, entry)
			switch {
			case caps.IsUnknownTier(err):
				out.skip = ReasonUnknownTier
				return nil
			case errors.Is(err, caps.ErrCapped):
				out.skip = ReasonCapped
				return nil
			case err != nil:
				return err
			}
			if !created {
				existing, err := tx.Ledger().GetByKey(ctx, key)
				if err != nil {
					return err
				}
				out.entry = existing
				return nil
			}
			out.entry, out.created = entry, true
			if tr.Any() {
				out.notice = capNotification(member, state, tr)
			}
			return nil
		})
		return out, err
	})
}

// withRetry retries op while the store reports a conflict
func withRetry[T any](ctx context.Context, opts RetryOptions, op func() (T, error)) (T, error) {
	b := backoff.NewExponentialBackOff()
	if opts.InitialInterval > 0 {
		b.InitialInterval = opts.InitialInterval
	}
	if opts.MaxInterval > 0 {
		b.MaxInterval = opts.MaxInterval
	}
	return backoff.Retry(ctx, func() (T, error) {
		v, err := op()
		if err != nil && !store.IsConflict(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	},
		backoff.WithBackOff(b),
		backoff.WithMaxTries(opts.MaxTries),
		backoff.WithNotify(func(err error, next time.Duration) {
			monitor.StorageRetries.Inc()
			log.Warn().Err(err).Str("section", "commission").Dur("next", next).Msg("Storage conflict, retrying")
		}),
	)
}

func (e *Engine) notify(ctx context.Context, n model.CapNotification) {
	monitor.CapTransitions.WithLabelValues(string(n.Kind)).Inc()
	if err := e.notifier.Notify(ctx, n); err != nil {
		log.Error().Err(err).Str("section", "commission").Uint64("member_id", n.MemberID).Msg("Unable to send cap notification")
	}
}

func capNotification(member *model.Member, state *model.EarningsCapState, tr caps.Transition) *model.CapNotification {
	kind := model.CapNotificationKind_Warning
	if tr.Capped {
		kind = model.CapNotificationKind_Reached
	}
	return &model.CapNotification{
		MemberID: member.ID,
		Email:    member.Email,
		Kind:     kind,
		Tier:     state.Tier,
		Epoch:    state.Epoch,
		Earnings: conv.RoundMoney(conv.NewDecimalWithPrecision().Copy(model.DecimalValue(state.CurrentPlanEarnings))).String(),
		Limit:    conv.RoundMoney(conv.NewDecimalWithPrecision().Copy(model.DecimalValue(state.CapLimit))).String(),
	}
}
