package rates

import (
	"fmt"

	"github.com/ericlagergren/decimal"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
)

var hundred = decimal.New(100, 0)

// Validate rejects tables that would produce negative or unbounded commissions
func (t *Table) Validate() error {
	if len(t.Tiers) == 0 {
		return fmt.Errorf("rate table: no tiers configured")
	}
	orders := map[int]model.MembershipTier{}
	for name, tier := range t.Tiers {
		if tier.Order <= 0 {
			return fmt.Errorf("tier %s: order must be positive", name)
		}
		if other, ok := orders[tier.Order]; ok {
			return fmt.Errorf("tier %s: order %d already used by %s", name, tier.Order, other)
		}
		orders[tier.Order] = name
		if !tier.Unlimited {
			if tier.BasePrice == nil || tier.BasePrice.Sign() <= 0 {
				return fmt.Errorf("tier %s: base price is required", name)
			}
			if tier.CapPercent == nil || tier.CapPercent.Sign() <= 0 {
				return fmt.Errorf("tier %s: cap percent is required", name)
			}
		}
		for i, rate := range tier.LevelRates {
			if rate.Sign() < 0 || rate.Cmp(hundred) > 0 {
				return fmt.Errorf("tier %s: level %d rate %s out of range", name, i+1, rate)
			}
		}
	}
	for rank, factor := range t.Matching {
		if err := checkRankValue("matching", rank, factor); err != nil {
			return err
		}
	}
	for rank, amount := range t.RankBonuses {
		if err := checkRankValue("rank bonus", rank, amount); err != nil {
			return err
		}
	}
	for rank, factor := range t.Leadership.RankMultipliers {
		if err := checkRankValue("leadership multiplier", rank, factor); err != nil {
			return err
		}
	}
	for _, d := range []*decimal.Big{t.Leadership.PerMember, t.Leadership.BaseCap, t.Leadership.Ceiling} {
		if d != nil && d.Sign() < 0 {
			return fmt.Errorf("leadership: negative amount %s", d)
		}
	}
	if t.Leadership.Depth < 0 {
		return fmt.Errorf("leadership: negative depth")
	}

	for i, th := range t.Thresholds {
		if !th.Rank.IsValid() || th.Rank == model.RankNone {
			return fmt.Errorf("threshold %d: unknown rank %q", i, th.Rank)
		}
		if th.PersonalVolume.Sign() < 0 || th.DirectReferrals < 0 {
			return fmt.Errorf("threshold %s: negative requirement", th.Rank)
		}
		if i == 0 {
			continue
		}
		prev := t.Thresholds[i-1]
		if !prev.Rank.Less(th.Rank) {
			return fmt.Errorf("threshold %s: duplicated rank", th.Rank)
		}
		if th.PersonalVolume.Cmp(prev.PersonalVolume) < 0 || th.DirectReferrals < prev.DirectReferrals {
			return fmt.Errorf("threshold %s: requirements lower than %s", th.Rank, prev.Rank)
		}
	}
	return nil
}

func checkRankValue(section string, rank model.Rank, value *decimal.Big) error {
	if !rank.IsValid() {
		return fmt.Errorf("%s: unknown rank %q", section, rank)
	}
	if value.Sign() < 0 {
		return fmt.Errorf("%s %s: negative value %s", section, rank, value)
	}
	return nil
}
