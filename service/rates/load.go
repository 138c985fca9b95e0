package rates

import (
	"fmt"
	"os"

	"github.com/ericlagergren/decimal"
	"github.com/pkg/errors"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gopkg.in/yaml.v3"
)

// Load builds the table from the rates file when one is configured, otherwise from the
// commission section itself
func Load(cfg config.CommissionConfig) (*Table, error) {
	if cfg.RatesFile != "" {
		return LoadFile(cfg.RatesFile)
	}
	return FromConfig(cfg)
}

// LoadFile reads a standalone YAML rate table
func LoadFile(path string) (*Table, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read rate table")
	}
	doc := config.CommissionConfig{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, errors.Wrapf(err, "parse rate table %s", path)
	}
	return FromConfig(doc)
}

// FromConfig converts and validates the configuration
func FromConfig(cfg config.CommissionConfig) (*Table, error) {
	t := &Table{
		Version:     cfg.Version,
		Tiers:       make(map[model.MembershipTier]TierRates, len(cfg.Tiers)),
		Matching:    make(map[model.Rank]*decimal.Big, len(cfg.Matching)),
		RankBonuses: make(map[model.Rank]*decimal.Big, len(cfg.RankBonus)),
		Leadership: Leadership{
			Depth:           cfg.Leadership.Depth,
			RankMultipliers: make(map[model.Rank]*decimal.Big, len(cfg.Leadership.RankMultipliers)),
		},
	}

	for name, tc := range cfg.Tiers {
		tier := TierRates{Order: tc.Order, Unlimited: tc.Unlimited}
		var err error
		if tier.BasePrice, err = parseOptional(tc.BasePrice, "tiers."+name+".base_price"); err != nil {
			return nil, err
		}
		if tier.CapPercent, err = parseOptional(tc.CapPercent, "tiers."+name+".cap_percent"); err != nil {
			return nil, err
		}
		for i, r := range tc.LevelRates {
			rate, err := parse(r, fmt.Sprintf("tiers.%s.level_rates[%d]", name, i))
			if err != nil {
				return nil, err
			}
			tier.LevelRates = append(tier.LevelRates, rate)
		}
		t.Tiers[model.MembershipTier(name)] = tier
	}

	if err := parseRankMap(cfg.Matching, t.Matching, "matching"); err != nil {
		return nil, err
	}
	if err := parseRankMap(cfg.RankBonus, t.RankBonuses, "rank_bonus"); err != nil {
		return nil, err
	}
	if err := parseRankMap(cfg.Leadership.RankMultipliers, t.Leadership.RankMultipliers, "leadership.rank_multipliers"); err != nil {
		return nil, err
	}

	var err error
	if t.Leadership.PerMember, err = parseOptional(cfg.Leadership.PerMember, "leadership.per_member"); err != nil {
		return nil, err
	}
	if t.Leadership.BaseCap, err = parseOptional(cfg.Leadership.BaseCap, "leadership.base_cap"); err != nil {
		return nil, err
	}
	if t.Leadership.Ceiling, err = parseOptional(cfg.Leadership.Ceiling, "leadership.ceiling"); err != nil {
		return nil, err
	}

	for i, th := range cfg.Thresholds {
		pv, err := parse(th.PersonalVolume, fmt.Sprintf("thresholds[%d].personal_volume", i))
		if err != nil {
			return nil, err
		}
		t.Thresholds = append(t.Thresholds, Threshold{
			Rank:            model.Rank(th.Rank),
			PersonalVolume:  pv,
			DirectReferrals: th.DirectReferrals,
		})
	}
	sortThresholds(t.Thresholds)

	if err := t.Validate(); err != nil {
		return nil, err
	}
	return t, nil
}

func parse(value, field string) (*decimal.Big, error) {
	d, ok := conv.FromString(value)
	if !ok {
		return nil, fmt.Errorf("%s: invalid decimal %q", field, value)
	}
	return d, nil
}

func parseOptional(value, field string) (*decimal.Big, error) {
	if value == "" {
		return nil, nil
	}
	return parse(value, field)
}

func parseRankMap(in map[string]string, out map[model.Rank]*decimal.Big, field string) error {
	for rank, value := range in {
		d, err := parse(value, field+"."+rank)
		if err != nil {
			return err
		}
		out[model.Rank(rank)] = d
	}
	return nil
}
