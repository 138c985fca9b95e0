package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ericlagergren/decimal"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
)

type members struct {
	s      *Store
	locked bool
}

func (r *members) GetMember(_ context.Context, id uint64) (*model.Member, error) {
	var out *model.Member
	err := r.s.with(r.locked, func(t *tables) error {
		m, ok := t.members[id]
		if !ok {
			return store.ErrNotFound
		}
		out = m.Clone()
		return nil
	})
	return out, err
}

func (r *members) GetSponsor(_ context.Context, id uint64) (*model.Member, error) {
	var out *model.Member
	err := r.s.with(r.locked, func(t *tables) error {
		m, ok := t.members[id]
		if !ok {
			return store.ErrNotFound
		}
		if m.IsRoot() {
			return nil
		}
		sponsor, ok := t.members[*m.SponsorID]
		if !ok {
			return store.ErrNotFound
		}
		out = sponsor.Clone()
		return nil
	})
	return out, err
}

func (r *members) ListDirectReferrals(_ context.Context, id uint64) ([]*model.Member, error) {
	out := []*model.Member{}
	err := r.s.with(r.locked, func(t *tables) error {
		for _, m := range t.members {
			if m.SponsorID != nil && *m.SponsorID == id {
				out = append(out, m.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func (r *members) ListMembers(_ context.Context, afterID uint64, limit int) ([]*model.Member, error) {
	out := []*model.Member{}
	err := r.s.with(r.locked, func(t *tables) error {
		for _, m := range t.members {
			if m.ID > afterID {
				out = append(out, m.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *members) UpdateRank(_ context.Context, id uint64, rank model.Rank) error {
	return r.s.with(r.locked, func(t *tables) error {
		if hook := r.s.Hooks.BeforeUpdateRank; hook != nil {
			if err := hook(id, rank); err != nil {
				return err
			}
		}
		m, ok := t.members[id]
		if !ok {
			return store.ErrNotFound
		}
		m.Rank = rank
		m.UpdatedAt = time.Now()
		return nil
	})
}

func (r *members) UpdateTier(_ context.Context, id uint64, tier model.MembershipTier) error {
	return r.s.with(r.locked, func(t *tables) error {
		m, ok := t.members[id]
		if !ok {
			return store.ErrNotFound
		}
		m.Tier = tier
		m.UpdatedAt = time.Now()
		return nil
	})
}

type ledger struct {
	s      *Store
	locked bool
}

func (r *ledger) CreateEntryIfAbsent(_ context.Context, entry *model.LedgerEntry) (bool, error) {
	created := false
	err := r.s.with(r.locked, func(t *tables) error {
		if hook := r.s.Hooks.BeforeCreateEntry; hook != nil {
			if err := hook(entry); err != nil {
				return err
			}
		}
		if _, exists := t.ledgerKeys[entry.IdempotencyKey]; exists {
			return nil
		}
		entry.ID = t.nextID()
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}
		t.ledger[entry.ID] = entry.Clone()
		t.ledgerKeys[entry.IdempotencyKey] = entry.ID
		created = true
		return nil
	})
	return created, err
}

func (r *ledger) GetByKey(_ context.Context, key string) (*model.LedgerEntry, error) {
	var out *model.LedgerEntry
	err := r.s.with(r.locked, func(t *tables) error {
		id, ok := t.ledgerKeys[key]
		if !ok {
			return store.ErrNotFound
		}
		out = t.ledger[id].Clone()
		return nil
	})
	return out, err
}

func (r *ledger) ListByEvent(_ context.Context, eventID string) ([]*model.LedgerEntry, error) {
	return r.filter(func(e *model.LedgerEntry) bool { return e.EventID == eventID })
}

func (r *ledger) filter(match func(e *model.LedgerEntry) bool) ([]*model.LedgerEntry, error) {
	out := []*model.LedgerEntry{}
	err := r.s.with(r.locked, func(t *tables) error {
		for _, e := range t.ledger {
			if match(e) {
				out = append(out, e.Clone())
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}

func unpaidMatured(memberID uint64, asOf time.Time) func(e *model.LedgerEntry) bool {
	return func(e *model.LedgerEntry) bool {
		return e.RecipientID == memberID &&
			e.Status != model.LedgerEntryStatus_Paid &&
			!e.CreatedAt.After(asOf)
	}
}

func (r *ledger) SumUnpaidMatured(_ context.Context, memberID uint64, asOf time.Time) (*decimal.Big, error) {
	entries, err := r.filter(unpaidMatured(memberID, asOf))
	if err != nil {
		return nil, err
	}
	return sumEntries(entries), nil
}

func (r *ledger) ListUnpaidMatured(_ context.Context, memberID uint64, asOf time.Time) ([]*model.LedgerEntry, error) {
	return r.filter(unpaidMatured(memberID, asOf))
}

func (r *ledger) MaturePending(_ context.Context, cutoff, now time.Time) (int64, error) {
	var count int64
	err := r.s.with(r.locked, func(t *tables) error {
		for _, e := range t.ledger {
			if e.Status == model.LedgerEntryStatus_Pending && !e.CreatedAt.After(cutoff) {
				maturedAt := now
				e.Status = model.LedgerEntryStatus_Matured
				e.MaturedAt = &maturedAt
				count++
			}
		}
		return nil
	})
	return count, err
}

func (r *ledger) MarkPaid(_ context.Context, ids []uint64, payoutID uint64, paidAt time.Time) error {
	return r.s.with(r.locked, func(t *tables) error {
		for _, id := range ids {
			e, ok := t.ledger[id]
			if !ok {
				return store.ErrNotFound
			}
			if e.Status == model.LedgerEntryStatus_Paid {
				return fmt.Errorf("ledger entry %d already paid", id)
			}
		}
		for _, id := range ids {
			e := t.ledger[id]
			pid, at := payoutID, paidAt
			e.Status = model.LedgerEntryStatus_Paid
			e.PayoutID = &pid
			e.PaidAt = &at
		}
		return nil
	})
}

func (r *ledger) SumByEpoch(_ context.Context, memberID uint64, epoch int) (*decimal.Big, error) {
	entries, err := r.filter(func(e *model.LedgerEntry) bool {
		return e.RecipientID == memberID && e.CapEpoch == epoch
	})
	if err != nil {
		return nil, err
	}
	return sumEntries(entries), nil
}

func sumEntries(entries []*model.LedgerEntry) *decimal.Big {
	total := conv.NewDecimalWithPrecision()
	for _, e := range entries {
		total.Add(total, model.DecimalValue(e.Amount))
	}
	return total
}

type caps struct {
	s      *Store
	locked bool
}

func (r *caps) GetCapState(_ context.Context, memberID uint64, _ bool) (*model.EarningsCapState, error) {
	var out *model.EarningsCapState
	err := r.s.with(r.locked, func(t *tables) error {
		state, ok := t.caps[memberID]
		if !ok {
			return store.ErrNotFound
		}
		out = state.Clone()
		return nil
	})
	return out, err
}

func (r *caps) SaveCapState(_ context.Context, state *model.EarningsCapState) error {
	return r.s.with(r.locked, func(t *tables) error {
		if hook := r.s.Hooks.BeforeSaveCap; hook != nil {
			if err := hook(state); err != nil {
				return err
			}
		}
		state.UpdatedAt = time.Now()
		t.caps[state.MemberID] = state.Clone()
		return nil
	})
}

func (r *caps) CreateTierChangeIfAbsent(_ context.Context, change *model.TierChange) (bool, error) {
	created := false
	err := r.s.with(r.locked, func(t *tables) error {
		if _, exists := t.tierChanges[change.IdempotencyKey]; exists {
			return nil
		}
		change.ID = t.nextID()
		if change.CreatedAt.IsZero() {
			change.CreatedAt = time.Now()
		}
		cp := *change
		t.tierChanges[change.IdempotencyKey] = &cp
		created = true
		return nil
	})
	return created, err
}

type qualifications struct {
	s      *Store
	locked bool
}

func recordKey(memberID uint64, period model.Period) string {
	return fmt.Sprintf("%d:%s", memberID, period)
}

func (r *qualifications) GetRecord(_ context.Context, memberID uint64, period model.Period) (*model.RankQualificationRecord, error) {
	var out *model.RankQualificationRecord
	err := r.s.with(r.locked, func(t *tables) error {
		rec, ok := t.records[recordKey(memberID, period)]
		if !ok {
			return store.ErrNotFound
		}
		out = rec.Clone()
		return nil
	})
	return out, err
}

func (r *qualifications) CreateRecord(_ context.Context, record *model.RankQualificationRecord) error {
	return r.s.with(r.locked, func(t *tables) error {
		key := recordKey(record.MemberID, record.Period)
		if _, ok := t.records[key]; ok {
			return store.ErrDuplicate
		}
		record.ID = t.nextID()
		if record.CreatedAt.IsZero() {
			record.CreatedAt = time.Now()
		}
		t.records[key] = record.Clone()
		return nil
	})
}

func (r *qualifications) GetProtection(_ context.Context, memberID uint64) (*model.RankProtection, error) {
	var out *model.RankProtection
	err := r.s.with(r.locked, func(t *tables) error {
		p, ok := t.protections[memberID]
		if !ok {
			return store.ErrNotFound
		}
		cp := *p
		out = &cp
		return nil
	})
	return out, err
}

func (r *qualifications) SaveProtection(_ context.Context, protection *model.RankProtection) error {
	return r.s.with(r.locked, func(t *tables) error {
		cp := *protection
		t.protections[protection.MemberID] = &cp
		return nil
	})
}

func (r *qualifications) DeleteProtection(_ context.Context, memberID uint64) error {
	return r.s.with(r.locked, func(t *tables) error {
		delete(t.protections, memberID)
		return nil
	})
}

func (r *qualifications) ListExpiredProtections(_ context.Context, asOf time.Time, afterID uint64, limit int) ([]*model.RankProtection, error) {
	out := []*model.RankProtection{}
	err := r.s.with(r.locked, func(t *tables) error {
		for _, p := range t.protections {
			if p.MemberID > afterID && p.Expired(asOf) {
				cp := *p
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *qualifications) AddVolume(_ context.Context, entry *model.VolumeEntry) (bool, error) {
	created := false
	err := r.s.with(r.locked, func(t *tables) error {
		if _, ok := t.volumes[entry.IdempotencyKey]; ok {
			return nil
		}
		entry.ID = t.nextID()
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = time.Now()
		}
		cp := *entry
		cp.Amount = model.NewDecimal(model.DecimalValue(entry.Amount))
		t.volumes[entry.IdempotencyKey] = &cp
		created = true
		return nil
	})
	return created, err
}

func (r *qualifications) PersonalVolume(_ context.Context, memberID uint64, period model.Period) (*decimal.Big, error) {
	total := conv.NewDecimalWithPrecision()
	err := r.s.with(r.locked, func(t *tables) error {
		for _, v := range t.volumes {
			if v.MemberID == memberID && v.Period == period {
				total.Add(total, model.DecimalValue(v.Amount))
			}
		}
		return nil
	})
	return total, err
}

type payouts struct {
	s      *Store
	locked bool
}

func (r *payouts) GetSettings(_ context.Context, memberID uint64) (*model.PayoutSettings, error) {
	var out *model.PayoutSettings
	err := r.s.with(r.locked, func(t *tables) error {
		st, ok := t.settings[memberID]
		if !ok {
			return store.ErrNotFound
		}
		cp := *st
		out = &cp
		return nil
	})
	return out, err
}

func (r *payouts) SaveSettings(_ context.Context, settings *model.PayoutSettings) error {
	return r.s.with(r.locked, func(t *tables) error {
		cp := *settings
		if settings.MinimumThreshold != nil {
			cp.MinimumThreshold = model.NewDecimal(settings.MinimumThreshold.V)
		}
		t.settings[settings.MemberID] = &cp
		return nil
	})
}

func (r *payouts) ListAutoPayoutMembers(_ context.Context, afterID uint64, limit int) ([]*model.PayoutSettings, error) {
	out := []*model.PayoutSettings{}
	err := r.s.with(r.locked, func(t *tables) error {
		for _, st := range t.settings {
			if st.AutoPayout && st.MemberID > afterID {
				cp := *st
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].MemberID < out[j].MemberID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, err
}

func (r *payouts) CreatePayout(_ context.Context, payout *model.Payout) error {
	return r.s.with(r.locked, func(t *tables) error {
		if hook := r.s.Hooks.BeforeCreatePayout; hook != nil {
			if err := hook(payout); err != nil {
				return err
			}
		}
		if payout.Amount == nil || payout.Amount.V == nil {
			return errors.New("payout amount is required")
		}
		payout.ID = t.nextID()
		cp := *payout
		cp.Amount = model.NewDecimal(payout.Amount.V)
		t.payouts[payout.ID] = &cp
		return nil
	})
}

func (r *payouts) ListPayouts(_ context.Context, memberID uint64) ([]*model.Payout, error) {
	out := []*model.Payout{}
	err := r.s.with(r.locked, func(t *tables) error {
		for _, p := range t.payouts {
			if p.MemberID == memberID {
				cp := *p
				cp.Amount = model.NewDecimal(p.Amount.V)
				out = append(out, &cp)
			}
		}
		return nil
	})
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, err
}
