package rates

import (
	"sort"

	"github.com/ericlagergren/decimal"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
)

// TierRates is the configuration of a single membership tier
type TierRates struct {
	Order      int
	BasePrice  *decimal.Big
	CapPercent *decimal.Big
	Unlimited  bool
	// LevelRates[i] is the percentage paid at upline level i+1
	LevelRates []*decimal.Big
}

type Leadership struct {
	PerMember       *decimal.Big
	BaseCap         *decimal.Big
	Ceiling         *decimal.Big
	Depth           int
	RankMultipliers map[model.Rank]*decimal.Big
}

type Threshold struct {
	Rank            model.Rank
	PersonalVolume  *decimal.Big
	DirectReferrals int
}

// Table is an immutable snapshot of the commission plan. Lookups for anything not configured
// report ok=false, which callers treat as "not eligible".
type Table struct {
	Version     string
	Tiers       map[model.MembershipTier]TierRates
	Matching    map[model.Rank]*decimal.Big
	Leadership  Leadership
	RankBonuses map[model.Rank]*decimal.Big
	// Thresholds are ordered from the lowest to the highest rank
	Thresholds []Threshold
}

func (t *Table) tier(tier model.MembershipTier) (TierRates, bool) {
	rates, ok := t.Tiers[tier]
	return rates, ok
}

// LevelRate returns the percentage paid to a recipient on tier at the given upline level
func (t *Table) LevelRate(tier model.MembershipTier, level int) (*decimal.Big, bool) {
	rates, ok := t.tier(tier)
	if !ok || level < 1 || level > len(rates.LevelRates) {
		return nil, false
	}
	return rates.LevelRates[level-1], true
}

// MaxLevels is the configured depth of a tier, zero for unknown tiers
func (t *Table) MaxLevels(tier model.MembershipTier) int {
	rates, ok := t.tier(tier)
	if !ok {
		return 0
	}
	return len(rates.LevelRates)
}

func (t *Table) TierOrder(tier model.MembershipTier) (int, bool) {
	rates, ok := t.tier(tier)
	return rates.Order, ok
}

// CapLimit returns basePrice * capPercent / 100 or unlimited=true for the top tier
func (t *Table) CapLimit(tier model.MembershipTier) (limit *decimal.Big, unlimited bool, ok bool) {
	rates, ok := t.tier(tier)
	if !ok {
		return nil, false, false
	}
	if rates.Unlimited {
		return nil, true, true
	}
	return conv.Percent(rates.BasePrice, rates.CapPercent), false, true
}

func (t *Table) MatchingMultiplier(rank model.Rank) (*decimal.Big, bool) {
	factor, ok := t.Matching[rank]
	return factor, ok
}

// LeadershipBonusBase returns min(activeTeamSize * perMember, baseCap)
func (t *Table) LeadershipBonusBase(activeTeamSize int) *decimal.Big {
	l := t.Leadership
	if l.PerMember == nil || activeTeamSize <= 0 {
		return conv.NewDecimalWithPrecision()
	}
	size := conv.NewDecimalWithPrecision().SetUint64(uint64(activeTeamSize))
	base := conv.Scale(l.PerMember, size)
	if l.BaseCap != nil && base.Cmp(l.BaseCap) > 0 {
		return conv.NewDecimalWithPrecision().Copy(l.BaseCap)
	}
	return base
}

func (t *Table) LeadershipMultiplier(rank model.Rank) (*decimal.Big, bool) {
	factor, ok := t.Leadership.RankMultipliers[rank]
	return factor, ok
}

// LeadershipBonus is the base scaled by the rank multiplier and limited by the ceiling
func (t *Table) LeadershipBonus(activeTeamSize int, rank model.Rank) (*decimal.Big, bool) {
	factor, ok := t.LeadershipMultiplier(rank)
	if !ok {
		return nil, false
	}
	amount := conv.Scale(t.LeadershipBonusBase(activeTeamSize), factor)
	if t.Leadership.Ceiling != nil && amount.Cmp(t.Leadership.Ceiling) > 0 {
		amount = conv.NewDecimalWithPrecision().Copy(t.Leadership.Ceiling)
	}
	return amount, true
}

func (t *Table) LeadershipDepth() int {
	return t.Leadership.Depth
}

// RankBonus is the flat amount paid once per period for the rank
func (t *Table) RankBonus(rank model.Rank) (*decimal.Big, bool) {
	amount, ok := t.RankBonuses[rank]
	return amount, ok
}

// QualifiedRank returns the highest rank whose personal volume AND direct referral
// requirements are both met
func (t *Table) QualifiedRank(personalVolume *decimal.Big, directReferrals int) model.Rank {
	rank := model.RankNone
	for _, th := range t.Thresholds {
		if personalVolume.Cmp(th.PersonalVolume) >= 0 && directReferrals >= th.DirectReferrals {
			if rank.Less(th.Rank) {
				rank = th.Rank
			}
		}
	}
	return rank
}

func sortThresholds(list []Threshold) {
	sort.SliceStable(list, func(i, j int) bool { return list[i].Rank.Less(list[j].Rank) })
}
