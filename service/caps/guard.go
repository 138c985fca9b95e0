package caps

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/lock"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
)

// UnknownTierError is returned for members whose tier is missing from the active rate table
type UnknownTierError struct {
	MemberID uint64
	Tier     model.MembershipTier
}

func (e *UnknownTierError) Error() string {
	return fmt.Sprintf("member %d has unknown membership tier %q", e.MemberID, e.Tier)
}

// ErrCapped is returned when the cap leaves no room for a credit
var ErrCapped = errors.New("earnings cap reached")

func IsUnknownTier(err error) bool {
	var target *UnknownTierError
	return errors.As(err, &target)
}

type Guard struct {
	store store.Store
	rates *rates.Provider
	locks lock.MemberLock
	Now   func() time.Time
}

func NewGuard(st store.Store, provider *rates.Provider, locks lock.MemberLock) *Guard {
	return &Guard{store: st, rates: provider, locks: locks, Now: time.Now}
}

// newState builds a fresh state for the member's tier with the given epoch
func (g *Guard) newState(member *model.Member, tier model.MembershipTier, epoch int) (*model.EarningsCapState, error) {
	limit, unlimited, ok := g.rates.Current().CapLimit(tier)
	if !ok {
		return nil, &UnknownTierError{MemberID: member.ID, Tier: tier}
	}
	return &model.EarningsCapState{
		MemberID:            member.ID,
		Tier:                tier,
		Epoch:               epoch,
		CurrentPlanEarnings: model.NewDecimal(nil),
		CapLimit:            model.NewDecimal(limit),
		Unlimited:           unlimited,
		ResetAt:             g.Now().UTC(),
	}, nil
}

// Load returns the member's state inside tx, creating it on first use and resetting it when
// the member's tier no longer matches the stored one. The limit always follows the active
// rate table. The returned state is not persisted.
func (g *Guard) Load(ctx context.Context, tx store.Tx, member *model.Member) (*model.EarningsCapState, error) {
	state, err := tx.Caps().GetCapState(ctx, member.ID, true)
	switch {
	case store.IsNotFound(err):
		return g.newState(member, member.Tier, 1)
	case err != nil:
		return nil, err
	}
	if state.Tier != member.Tier {
		log.Info().Str("section", "caps").Str("method", "Load").
			Uint64("member_id", member.ID).
			Str("from", state.Tier.String()).Str("to", member.Tier.String()).
			Msg("Membership tier changed, resetting earnings cap")
		return g.newState(member, member.Tier, state.Epoch+1)
	}
	return g.refreshLimit(member, state)
}

// refreshLimit applies the active table's limit for the state's tier
func (g *Guard) refreshLimit(member *model.Member, state *model.EarningsCapState) (*model.EarningsCapState, error) {
	limit, unlimited, ok := g.rates.Current().CapLimit(state.Tier)
	if !ok {
		return nil, &UnknownTierError{MemberID: member.ID, Tier: state.Tier}
	}
	state.CapLimit = model.NewDecimal(limit)
	state.Unlimited = unlimited
	return state, nil
}

// ResetForTier starts a new cap epoch for the member on tier and stores it
func (g *Guard) ResetForTier(ctx context.Context, tx store.Tx, member *model.Member, tier model.MembershipTier) (*model.EarningsCapState, error) {
	epoch := 1
	current, err := tx.Caps().GetCapState(ctx, member.ID, true)
	switch {
	case err == nil:
		epoch = current.Epoch + 1
	case !store.IsNotFound(err):
		return nil, err
	}
	state, err := g.newState(member, tier, epoch)
	if err != nil {
		return nil, err
	}
	if err := tx.Caps().SaveCapState(ctx, state); err != nil {
		return nil, errors.Wrap(err, "save cap state")
	}
	return state, nil
}

func (g *Guard) read(ctx context.Context, memberID uint64) (*model.EarningsCapState, error) {
	member, err := g.store.Members().GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	state, err := g.store.Caps().GetCapState(ctx, memberID, false)
	switch {
	case store.IsNotFound(err):
		return g.newState(member, member.Tier, 1)
	case err != nil:
		return nil, err
	}
	if state.Tier != member.Tier {
		return g.newState(member, member.Tier, state.Epoch+1)
	}
	return g.refreshLimit(member, state)
}

// CanEarn reports whether the member may currently receive commissions
func (g *Guard) CanEarn(ctx context.Context, memberID uint64) (Decision, error) {
	state, err := g.read(ctx, memberID)
	if err != nil {
		return Decision{}, err
	}
	return Evaluate(state), nil
}

// Status returns the cap state as seen by the member
func (g *Guard) Status(ctx context.Context, memberID uint64) (*model.EarningsCapStateView, error) {
	state, err := g.read(ctx, memberID)
	if err != nil {
		return nil, err
	}
	return View(state), nil
}

// Credit books entry for member inside tx and adds it to the cap state. The entry amount is
// the part of entry.Requested the cap still allows. Nothing is written when the cap leaves no
// room (ErrCapped) or when an entry with the same idempotency key exists (created is false).
func (g *Guard) Credit(ctx context.Context, tx store.Tx, member *model.Member, entry *model.LedgerEntry) (state *model.EarningsCapState, tr Transition, created bool, err error) {
	state, err = g.Load(ctx, tx, member)
	if err != nil {
		return nil, Transition{}, false, err
	}
	if !Evaluate(state).Allowed {
		return state, Transition{}, false, ErrCapped
	}
	granted, tr := Apply(state, model.DecimalValue(entry.Requested))
	if granted.Sign() == 0 {
		return state, Transition{}, false, ErrCapped
	}
	entry.RecipientID = member.ID
	entry.Amount = model.NewDecimal(granted)
	entry.CapEpoch = state.Epoch

	created, err = tx.Ledger().CreateEntryIfAbsent(ctx, entry)
	if err != nil || !created {
		return state, Transition{}, false, err
	}
	if err := tx.Caps().SaveCapState(ctx, state); err != nil {
		return nil, Transition{}, false, errors.Wrap(err, "save cap state")
	}
	return state, tr, true, nil
}

// RecordEarning books a single entry for entry.RecipientID under the member lock. Replaying an
// idempotency key returns the stored entry and leaves the cap untouched.
func (g *Guard) RecordEarning(ctx context.Context, entry *model.LedgerEntry) (*model.LedgerEntry, Transition, error) {
	if !conv.IsPositive(model.DecimalValue(entry.Requested)) {
		return nil, Transition{}, errors.Errorf("earning amount must be positive, got %v", model.DecimalValue(entry.Requested))
	}
	if entry.IdempotencyKey == "" {
		return nil, Transition{}, errors.New("earning needs an idempotency key")
	}
	if entry.Status == "" {
		entry.Status = model.LedgerEntryStatus_Pending
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = g.Now().UTC()
	}
	if entry.Period == "" {
		entry.Period = model.PeriodOf(entry.CreatedAt)
	}

	unlock, err := g.locks.Lock(ctx, entry.RecipientID)
	if err != nil {
		return nil, Transition{}, err
	}
	defer unlock()

	var out *model.LedgerEntry
	var tr Transition
	err = g.store.Atomic(ctx, func(tx store.Tx) error {
		existing, err := tx.Ledger().GetByKey(ctx, entry.IdempotencyKey)
		if err == nil {
			out = existing
			return nil
		}
		if !store.IsNotFound(err) {
			return err
		}
		member, err := tx.Members().GetMember(ctx, entry.RecipientID)
		if err != nil {
			return err
		}
		_, t, created, err := g.Credit(ctx, tx, member, entry)
		if err != nil {
			return err
		}
		if !created {
			out, err = tx.Ledger().GetByKey(ctx, entry.IdempotencyKey)
			return err
		}
		out, tr = entry, t
		return nil
	})
	if err != nil {
		return nil, Transition{}, err
	}
	return out, tr, nil
}
