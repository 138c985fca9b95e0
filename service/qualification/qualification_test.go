package qualification_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	. "github.com/smartystreets/goconvey/convey"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/lock"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/qualification"
	"gitlab.com/paramountdax-exchange/commission_engine/service/rates/ratestest"
	"gitlab.com/paramountdax-exchange/commission_engine/store/memory"
)

type fixture struct {
	st       *memory.Store
	engine   *qualification.Engine
	runLocks *lock.LocalRunLock
	clock    time.Time
}

func ref(id uint64) *uint64 {
	return &id
}

// newFixture seeds member 1 with the given rank and ten active direct referrals
func newFixture(rank model.Rank) *fixture {
	f := &fixture{st: memory.New(), runLocks: lock.NewLocalRunLock(), clock: time.Date(2024, 5, 1, 2, 0, 0, 0, time.UTC)}
	f.st.AddMember(&model.Member{ID: 1, Rank: rank, Tier: "bronze_1", Active: true})
	for id := uint64(2); id <= 11; id++ {
		f.st.AddMember(&model.Member{ID: id, SponsorID: ref(1), Rank: model.RankNone, Tier: "starter", Active: true})
	}
	f.engine = qualification.NewEngine(f.st, ratestest.Provider(), lock.NewMemberLocker(), f.runLocks, 30)
	f.engine.Now = func() time.Time { return f.clock }
	return f
}

func (f *fixture) volume(memberID uint64, period model.Period, amount string) {
	_, err := f.st.Qualifications().AddVolume(context.Background(), &model.VolumeEntry{
		IdempotencyKey: fmt.Sprintf("seed:%d:%s:%s", memberID, period, amount),
		MemberID:       memberID,
		Period:         period,
		Amount:         model.NewDecimal(conv.MustFromString(amount)),
	})
	if err != nil {
		panic(err)
	}
}

func (f *fixture) rank(id uint64) model.Rank {
	m, err := f.st.Members().GetMember(context.Background(), id)
	if err != nil {
		panic(err)
	}
	return m.Rank
}

func recordOf(report *qualification.Report, memberID uint64) *model.RankQualificationRecord {
	for _, r := range report.Records {
		if r.MemberID == memberID {
			return r
		}
	}
	return nil
}

func TestRunMonthlyQualification(t *testing.T) {
	ctx := context.Background()

	Convey("Given a member without rank", t, func() {
		f := newFixture(model.RankNone)

		Convey("Meeting both thresholds promotes immediately", func() {
			f.volume(1, "2024-04", "600")
			report, err := f.engine.RunMonthlyQualification(ctx, "2024-04")
			So(err, ShouldBeNil)
			So(report.Failures, ShouldBeEmpty)
			So(len(report.Records), ShouldEqual, 11)

			record := recordOf(report, 1)
			So(record.ComputedRank, ShouldEqual, model.RankSilver)
			So(record.RankAchieved, ShouldEqual, model.RankSilver)
			So(record.PreviousRank, ShouldEqual, model.RankNone)
			So(record.DirectReferrals, ShouldEqual, 10)
			So(record.Qualified, ShouldBeTrue)
			So(f.rank(1), ShouldEqual, model.RankSilver)

			So(recordOf(report, 2).Qualified, ShouldBeFalse)
		})

		Convey("Volume alone is not enough", func() {
			for id := uint64(4); id <= 11; id++ {
				f.st.AddMember(&model.Member{ID: id, SponsorID: ref(1), Rank: model.RankNone, Tier: "starter", Active: false})
			}
			f.volume(1, "2024-04", "600")
			report, err := f.engine.RunMonthlyQualification(ctx, "2024-04")
			So(err, ShouldBeNil)
			So(recordOf(report, 1).ComputedRank, ShouldEqual, model.RankBronze)
		})

		Convey("Running the period again keeps the first record", func() {
			f.volume(1, "2024-04", "600")
			_, err := f.engine.RunMonthlyQualification(ctx, "2024-04")
			So(err, ShouldBeNil)

			f.volume(1, "2024-04", "5000")
			report, err := f.engine.RunMonthlyQualification(ctx, "2024-04")
			So(err, ShouldBeNil)
			So(recordOf(report, 1).ComputedRank, ShouldEqual, model.RankSilver)
			So(f.rank(1), ShouldEqual, model.RankSilver)
		})

		Convey("A failing member does not stop the batch", func() {
			f.volume(1, "2024-04", "600")
			f.volume(2, "2024-04", "600")
			f.st.Hooks.BeforeUpdateRank = func(memberID uint64, _ model.Rank) error {
				if memberID == 1 {
					return errors.New("lock timeout")
				}
				return nil
			}
			report, err := f.engine.RunMonthlyQualification(ctx, "2024-04")
			So(err, ShouldBeNil)
			So(len(report.Failures), ShouldEqual, 1)
			So(report.Failures[0].MemberID, ShouldEqual, uint64(1))
			So(len(report.Records), ShouldEqual, 10)
			So(f.rank(1), ShouldEqual, model.RankNone)
		})

		Convey("Concurrent runs are rejected", func() {
			release, err := f.runLocks.TryLock(ctx, qualification.JobMonthlyQualification)
			So(err, ShouldBeNil)
			defer release()
			_, err = f.engine.RunMonthlyQualification(ctx, "2024-04")
			So(err, ShouldEqual, lock.ErrAlreadyRunning)
		})
	})

	Convey("Given a Gold member who misses the Gold volume", t, func() {
		f := newFixture(model.RankGold)
		f.volume(1, "2024-04", "600")

		report, err := f.engine.RunMonthlyQualification(ctx, "2024-04")
		So(err, ShouldBeNil)
		record := recordOf(report, 1)

		Convey("The demotion is deferred for the grace period", func() {
			So(record.ComputedRank, ShouldEqual, model.RankSilver)
			So(record.RankAchieved, ShouldEqual, model.RankGold)
			So(record.Qualified, ShouldBeFalse)
			So(record.GraceUntil.Equal(f.clock.Add(30*24*time.Hour)), ShouldBeTrue)
			So(f.rank(1), ShouldEqual, model.RankGold)
		})

		Convey("Requalifying before the grace period ends cancels the demotion", func() {
			f.clock = f.clock.AddDate(0, 0, 20)
			f.volume(1, "2024-05", "2000")
			report, err := f.engine.RunMonthlyQualification(ctx, "2024-05")
			So(err, ShouldBeNil)

			record := recordOf(report, 1)
			So(record.RankAchieved, ShouldEqual, model.RankGold)
			So(record.Qualified, ShouldBeTrue)
			So(record.GraceUntil, ShouldBeNil)
			So(f.rank(1), ShouldEqual, model.RankGold)

			_, err = f.st.Qualifications().GetProtection(ctx, 1)
			So(err, ShouldNotBeNil)
		})

		Convey("Missing again after the grace period applies the demotion", func() {
			f.clock = f.clock.AddDate(0, 0, 31)
			f.volume(1, "2024-05", "600")
			report, err := f.engine.RunMonthlyQualification(ctx, "2024-05")
			So(err, ShouldBeNil)
			So(recordOf(report, 1).RankAchieved, ShouldEqual, model.RankSilver)
			So(f.rank(1), ShouldEqual, model.RankSilver)
		})
	})
}

func TestExpireGracePeriods(t *testing.T) {
	ctx := context.Background()

	Convey("Given a Gold member in a grace period", t, func() {
		f := newFixture(model.RankGold)
		f.volume(1, "2024-04", "600")
		_, err := f.engine.RunMonthlyQualification(ctx, "2024-04")
		So(err, ShouldBeNil)

		Convey("Nothing happens before the grace period ends", func() {
			report, err := f.engine.ExpireGracePeriods(ctx, f.clock.AddDate(0, 0, 10))
			So(err, ShouldBeNil)
			So(report.Demoted, ShouldBeEmpty)
			So(f.rank(1), ShouldEqual, model.RankGold)
		})

		Convey("On expiry the pending rank is applied", func() {
			report, err := f.engine.ExpireGracePeriods(ctx, f.clock.AddDate(0, 0, 30))
			So(err, ShouldBeNil)
			So(report.Demoted, ShouldResemble, []qualification.RankChange{{MemberID: 1, From: model.RankGold, To: model.RankSilver}})
			So(f.rank(1), ShouldEqual, model.RankSilver)
		})

		Convey("A member who requalified in the current period keeps the rank", func() {
			f.volume(1, "2024-05", "1500")
			report, err := f.engine.ExpireGracePeriods(ctx, f.clock.AddDate(0, 0, 30))
			So(err, ShouldBeNil)
			So(report.Cancelled, ShouldResemble, []uint64{1})
			So(f.rank(1), ShouldEqual, model.RankGold)
		})
	})
}
