package rates_test

import (
	"os"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"github.com/stretchr/testify/require"
	"gitlab.com/paramountdax-exchange/commission_engine/config"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates/ratestest"
)

func TestTable_LevelRate(t *testing.T) {
	table := ratestest.Table()

	Convey("Given a tier configured for 4 levels", t, func() {
		So(table.MaxLevels("bronze_1"), ShouldEqual, 4)

		rate, ok := table.LevelRate("bronze_1", 1)
		So(ok, ShouldBeTrue)
		So(conv.Equal(rate, conv.MustFromString("10")), ShouldBeTrue)

		_, ok = table.LevelRate("bronze_1", 4)
		So(ok, ShouldBeTrue)

		Convey("Levels beyond the configured depth are not eligible", func() {
			_, ok := table.LevelRate("bronze_1", 5)
			So(ok, ShouldBeFalse)
			_, ok = table.LevelRate("bronze_1", 0)
			So(ok, ShouldBeFalse)
		})

		Convey("Unknown tiers are not eligible rather than an error", func() {
			_, ok := table.LevelRate("platinum_9", 1)
			So(ok, ShouldBeFalse)
			So(table.MaxLevels("platinum_9"), ShouldEqual, 0)
		})
	})
}

func TestTable_CapLimit(t *testing.T) {
	table := ratestest.Table()

	Convey("Bronze I caps at 200% of 25,000", t, func() {
		limit, unlimited, ok := table.CapLimit("bronze_1")
		So(ok, ShouldBeTrue)
		So(unlimited, ShouldBeFalse)
		So(conv.Equal(limit, conv.MustFromString("50000")), ShouldBeTrue)
	})

	Convey("The top tier is unlimited", t, func() {
		limit, unlimited, ok := table.CapLimit("diamond_3")
		So(ok, ShouldBeTrue)
		So(unlimited, ShouldBeTrue)
		So(limit, ShouldBeNil)
	})

	Convey("Unknown tiers report ok=false", t, func() {
		_, _, ok := table.CapLimit("unknown")
		So(ok, ShouldBeFalse)
	})
}

func TestTable_Bonuses(t *testing.T) {
	table := ratestest.Table()

	Convey("Matching multipliers are keyed by rank", t, func() {
		factor, ok := table.MatchingMultiplier(model.RankSilver)
		So(ok, ShouldBeTrue)
		So(conv.Equal(factor, conv.MustFromString("0.2")), ShouldBeTrue)

		_, ok = table.MatchingMultiplier(model.RankBronze)
		So(ok, ShouldBeFalse)
	})

	Convey("Leadership base is min(team size x per member, base cap)", t, func() {
		So(conv.Equal(table.LeadershipBonusBase(10), conv.MustFromString("50")), ShouldBeTrue)
		So(conv.Equal(table.LeadershipBonusBase(5000), conv.MustFromString("5000")), ShouldBeTrue)
		So(table.LeadershipBonusBase(0).Sign(), ShouldEqual, 0)
	})

	Convey("Leadership bonus is scaled by rank and limited by the ceiling", t, func() {
		amount, ok := table.LeadershipBonus(100, model.RankPlatinum)
		So(ok, ShouldBeTrue)
		So(conv.Equal(amount, conv.MustFromString("750")), ShouldBeTrue)

		amount, ok = table.LeadershipBonus(5000, model.RankDiamond)
		So(ok, ShouldBeTrue)
		So(conv.Equal(amount, conv.MustFromString("8000")), ShouldBeTrue)

		_, ok = table.LeadershipBonus(100, model.RankSilver)
		So(ok, ShouldBeFalse)
	})

	Convey("Rank bonuses are flat amounts", t, func() {
		amount, ok := table.RankBonus(model.RankGold)
		So(ok, ShouldBeTrue)
		So(conv.Equal(amount, conv.MustFromString("400")), ShouldBeTrue)
		_, ok = table.RankBonus(model.RankNone)
		So(ok, ShouldBeFalse)
	})
}

func TestTable_QualifiedRank(t *testing.T) {
	table := ratestest.Table()

	cases := []struct {
		name    string
		volume  string
		directs int
		rank    model.Rank
	}{
		{"nothing", "0", 0, model.RankNone},
		{"volume without referrals", "20000", 1, model.RankNone},
		{"referrals without volume", "50", 50, model.RankNone},
		{"exact bronze", "100", 2, model.RankBronze},
		{"silver volume, bronze referrals", "600", 3, model.RankBronze},
		{"gold", "1500", 12, model.RankGold},
		{"diamond", "15000", 40, model.RankDiamond},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			require.Equal(t, c.rank, table.QualifiedRank(conv.MustFromString(c.volume), c.directs))
		})
	}
}

func TestFromConfig_Validation(t *testing.T) {
	Convey("Invalid tables are rejected", t, func() {
		cfg := ratestest.Config()
		cfg.Tiers["bronze_1"] = config.TierConfig{Order: 2, BasePrice: "25000", CapPercent: "200", LevelRates: []string{"10", "-1"}}
		_, err := rates.FromConfig(cfg)
		So(err, ShouldNotBeNil)

		cfg = ratestest.Config()
		cfg.Tiers["bronze_1"] = config.TierConfig{Order: 2, LevelRates: []string{"10"}}
		_, err = rates.FromConfig(cfg)
		So(err, ShouldNotBeNil)

		cfg = ratestest.Config()
		cfg.Thresholds[1].PersonalVolume = "10"
		_, err = rates.FromConfig(cfg)
		So(err, ShouldNotBeNil)

		cfg = ratestest.Config()
		cfg.Matching["wizard"] = "0.5"
		_, err = rates.FromConfig(cfg)
		So(err, ShouldNotBeNil)

		cfg = ratestest.Config()
		cfg.Tiers["starter"] = config.TierConfig{Order: 1, BasePrice: "abc", CapPercent: "150"}
		_, err = rates.FromConfig(cfg)
		So(err, ShouldNotBeNil)
	})
}

const yamlTable = `
version: "2024-02"
tiers:
  bronze_1:
    order: 1
    base_price: "25000"
    cap_percent: "200"
    level_rates: ["8", "4"]
matching:
  silver: "0.10"
thresholds:
  - rank: bronze
    personal_volume: "100"
    direct_referrals: 2
`

func TestProvider_ReloadFromFile(t *testing.T) {
	Convey("Given a provider backed by a YAML file", t, func() {
		path := filepath.Join(t.TempDir(), "rates.yaml")
		So(os.WriteFile(path, []byte(yamlTable), 0o600), ShouldBeNil)

		provider := rates.NewProvider(ratestest.Table(), func() (*rates.Table, error) {
			return rates.Load(config.CommissionConfig{RatesFile: path})
		})
		So(provider.Current().Version, ShouldEqual, "test")

		table, err := provider.Reload()
		So(err, ShouldBeNil)
		So(table.Version, ShouldEqual, "2024-02")
		So(provider.Current().MaxLevels("bronze_1"), ShouldEqual, 2)

		Convey("A broken file keeps the active table", func() {
			So(os.WriteFile(path, []byte("tiers: {}"), 0o600), ShouldBeNil)
			_, err := provider.Reload()
			So(err, ShouldNotBeNil)
			So(provider.Current().Version, ShouldEqual, "2024-02")
		})
	})
}

func TestProvider_SwapRejectsInvalid(t *testing.T) {
	provider := ratestest.Provider()
	err := provider.Swap(&rates.Table{Version: "empty"})
	require.Error(t, err)
	require.Equal(t, "test", provider.Current().Version)
}
