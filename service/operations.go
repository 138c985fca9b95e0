package service

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/caps"
	"gitlab.com/paramountdax-exchange/commission_engine/service/commission"
	"gitlab.com/paramountdax-exchange/commission_engine/service/payouts"
	"gitlab.com/paramountdax-exchange/commission_engine/service/qualification"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
)

// ProcessEvent distributes commissions for a single triggering event. A membership purchase
// moves the buyer to the purchased tier first; the change is keyed on the event id so a
// redelivered purchase does not reset the cap again.
func (service *Service) ProcessEvent(ctx context.Context, ev *model.Event) (*commission.Result, error) {
	if ev != nil && ev.Kind == model.EventKind_MembershipPurchase {
		if err := commission.Validate(ev); err != nil {
			return nil, err
		}
		_, err := service.changeTier(ctx, ev.SourceMemberID, ev.Tier, "event:"+ev.EventID)
		if store.IsNotFound(err) {
			return nil, &commission.ValidationError{Field: "source_member_id", Reason: "does not exist"}
		}
		if err != nil {
			return nil, err
		}
	}
	return service.Commission.ProcessEvent(ctx, ev)
}

func (service *Service) RunMonthlyQualification(ctx context.Context, period model.Period) (*qualification.Report, error) {
	return service.Qualification.RunMonthlyQualification(ctx, period)
}

func (service *Service) ExpireGracePeriods(ctx context.Context, asOf time.Time) (*qualification.GraceReport, error) {
	return service.Qualification.ExpireGracePeriods(ctx, asOf)
}

func (service *Service) RunPayoutSweep(ctx context.Context, period model.Period) (*payouts.Report, error) {
	return service.Payouts.RunPayoutSweep(ctx, period)
}

func (service *Service) MatureLedger(ctx context.Context, asOf time.Time) (int64, error) {
	return service.Payouts.MatureLedger(ctx, asOf)
}

func (service *Service) RunLeadershipBonus(ctx context.Context, period model.Period) (*commission.BatchReport, error) {
	return service.Commission.RunLeadershipBonus(ctx, period)
}

func (service *Service) RunRankBonus(ctx context.Context, period model.Period) (*commission.BatchReport, error) {
	return service.Commission.RunRankBonus(ctx, period)
}

// GetCapStatus returns the member's earnings cap as it applies right now
func (service *Service) GetCapStatus(ctx context.Context, memberID uint64) (*model.EarningsCapStateView, error) {
	return service.guard.Status(ctx, memberID)
}

// ChangeTier moves the member to tier and starts a new cap epoch. Only upgrades and renewals of
// the current tier are accepted.
func (service *Service) ChangeTier(ctx context.Context, memberID uint64, tier model.MembershipTier) (*model.EarningsCapStateView, error) {
	return service.changeTier(ctx, memberID, tier, "admin:"+uuid.NewString())
}

// changeTier applies a tier change once per key. A known key returns the current state.
func (service *Service) changeTier(ctx context.Context, memberID uint64, tier model.MembershipTier, key string) (*model.EarningsCapStateView, error) {
	table := service.rates.Current()
	target, ok := table.TierOrder(tier)
	if !ok {
		return nil, &commission.ValidationError{Field: "membership_tier", Reason: "is not in the rate table"}
	}

	unlock, err := service.locks.Lock(ctx, memberID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	var from model.MembershipTier
	var state *model.EarningsCapState
	replayed := false
	err = service.store.Atomic(ctx, func(tx store.Tx) error {
		member, err := tx.Members().GetMember(ctx, memberID)
		if err != nil {
			return err
		}
		created, err := tx.Caps().CreateTierChangeIfAbsent(ctx, &model.TierChange{
			IdempotencyKey: key,
			MemberID:       memberID,
			FromTier:       member.Tier,
			ToTier:         tier,
			CreatedAt:      time.Now().UTC(),
		})
		if err != nil {
			return err
		}
		if !created {
			replayed = true
			state, err = service.guard.Load(ctx, tx, member)
			return err
		}
		if current, known := table.TierOrder(member.Tier); known && target < current {
			return &commission.ValidationError{Field: "membership_tier", Reason: "downgrades are not allowed"}
		}
		from = member.Tier
		if err := tx.Members().UpdateTier(ctx, memberID, tier); err != nil {
			return err
		}
		member.Tier = tier
		state, err = service.guard.ResetForTier(ctx, tx, member, tier)
		return err
	})
	if err != nil {
		return nil, err
	}

	if replayed {
		log.Debug().Str("section", "service").Str("method", "ChangeTier").
			Uint64("member_id", memberID).Str("key", key).Msg("Tier change already applied")
		return caps.View(state), nil
	}
	log.Info().
		Str("section", "service").
		Str("method", "ChangeTier").
		Uint64("member_id", memberID).
		Str("from", from.String()).
		Str("to", tier.String()).
		Int("epoch", state.Epoch).
		Msg("Membership tier changed")
	return caps.View(state), nil
}

// RateTable returns the active rate table
func (service *Service) RateTable() *rates.Table {
	return service.rates.Current()
}

// ReloadRates re-reads the rate table source; the active table is kept when the new one is invalid
func (service *Service) ReloadRates() (*rates.Table, error) {
	return service.rates.Reload()
}
