// Package ratestest provides the commission plan used by tests across the engine
package ratestest

import (
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates"
)

// Config mirrors the default plan shipped in .config.yaml
func Config() config.CommissionConfig {
	return config.CommissionConfig{
		Version: "test",
		Tiers: map[string]config.TierConfig{
			"starter":   {Order: 1, BasePrice: "10000", CapPercent: "150", LevelRates: []string{"10", "5", "3", "2"}},
			"bronze_1":  {Order: 2, BasePrice: "25000", CapPercent: "200", LevelRates: []string{"10", "5", "3", "2"}},
			"silver_1":  {Order: 4, BasePrice: "100000", CapPercent: "250", LevelRates: []string{"12", "6", "4", "2", "1"}},
			"gold_1":    {Order: 5, BasePrice: "150000", CapPercent: "250", LevelRates: []string{"12", "6", "4", "3", "2", "1"}},
			"diamond_3": {Order: 6, BasePrice: "250000", Unlimited: true, LevelRates: []string{"15", "8", "5", "3", "2", "1"}},
		},
		Matching: map[string]string{
			"silver":   "0.20",
			"gold":     "0.25",
			"platinum": "0.30",
			"diamond":  "0.35",
		},
		Leadership: config.LeadershipConfig{
			PerMember: "5",
			BaseCap:   "5000",
			Ceiling:   "8000",
			Depth:     6,
			RankMultipliers: map[string]string{
				"gold":     "1.0",
				"platinum": "1.5",
				"diamond":  "2.0",
			},
		},
		RankBonus: map[string]string{
			"bronze":   "50",
			"silver":   "150",
			"gold":     "400",
			"platinum": "1000",
			"diamond":  "2500",
		},
		Thresholds: []config.ThresholdConfig{
			{Rank: "bronze", PersonalVolume: "100", DirectReferrals: 2},
			{Rank: "silver", PersonalVolume: "500", DirectReferrals: 5},
			{Rank: "gold", PersonalVolume: "1500", DirectReferrals: 10},
			{Rank: "platinum", PersonalVolume: "5000", DirectReferrals: 20},
			{Rank: "diamond", PersonalVolume: "15000", DirectReferrals: 40},
		},
	}
}

// Table builds the fixture plan, panicking on invalid configuration
func Table() *rates.Table {
	t, err := rates.FromConfig(Config())
	if err != nil {
		panic(err)
	}
	return t
}

// Provider wraps the fixture plan without a reload source
func Provider() *rates.Provider {
	return rates.NewProvider(Table(), nil)
}
