package commission_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/commission"
	"gitlab.com/paramountdax-exchange/commission_engine/service/graph"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
)

func TestProcessEvent_LevelCommissions(t *testing.T) {
	ctx := context.Background()

	Convey("Given a six member chain on Bronze I configured for 4 levels", t, func() {
		f := newFixture()
		f.chain(6, "bronze_1")

		Convey("An event at the bottom pays exactly 4 levels", func() {
			result, err := f.engine.ProcessEvent(ctx, event("task-1", 6, "1000"))
			So(err, ShouldBeNil)
			So(result.Failures, ShouldBeEmpty)

			levels := byRecipient(result.Entries, model.LedgerEntryType_Level)
			So(len(levels), ShouldEqual, 4)
			So(equals(levels[5], "100"), ShouldBeTrue)
			So(equals(levels[4], "50"), ShouldBeTrue)
			So(equals(levels[3], "30"), ShouldBeTrue)
			So(equals(levels[2], "20"), ShouldBeTrue)
			So(levels[1], ShouldBeNil)

			for _, e := range f.st.Entries() {
				So(e.Level, ShouldBeLessThanOrEqualTo, 4)
				So(e.Status, ShouldEqual, model.LedgerEntryStatus_Pending)
				So(e.Period, ShouldEqual, model.Period("2024-05"))
			}
		})

		Convey("Inactive recipients are skipped without stopping the walk", func() {
			f.set(4, func(m *model.Member) { m.Active = false })
			result, err := f.engine.ProcessEvent(ctx, event("task-2", 6, "1000"))
			So(err, ShouldBeNil)

			levels := byRecipient(result.Entries, model.LedgerEntryType_Level)
			So(len(levels), ShouldEqual, 3)
			So(levels[4], ShouldBeNil)
			So(result.Skipped, ShouldContain, commission.Skip{MemberID: 4, Level: 2, Type: model.LedgerEntryType_Level, Reason: commission.ReasonInactive})
		})

		Convey("A recipient whose tier has fewer levels ends the walk", func() {
			f.set(3, func(m *model.Member) { m.Tier = "unknown" })
			result, err := f.engine.ProcessEvent(ctx, event("task-3", 6, "1000"))
			So(err, ShouldBeNil)

			levels := byRecipient(result.Entries, model.LedgerEntryType_Level)
			So(len(levels), ShouldEqual, 2)
			So(levels[2], ShouldBeNil)
			So(result.Skipped, ShouldContain, commission.Skip{MemberID: 3, Level: 3, Type: model.LedgerEntryType_Level, Reason: commission.ReasonNoRate})
		})

		Convey("Personal volume is credited to the source once", func() {
			_, err := f.engine.ProcessEvent(ctx, event("task-4", 6, "250.50"))
			So(err, ShouldBeNil)
			_, err = f.engine.ProcessEvent(ctx, event("task-4", 6, "250.50"))
			So(err, ShouldBeNil)

			pv, err := f.st.Qualifications().PersonalVolume(ctx, 6, "2024-05")
			So(err, ShouldBeNil)
			So(conv.Equal(pv, conv.MustFromString("250.50")), ShouldBeTrue)
		})
	})
}

func TestProcessEvent_Matching(t *testing.T) {
	ctx := context.Background()

	Convey("Given a Silver direct sponsor", t, func() {
		f := newFixture()
		f.chain(6, "bronze_1")
		f.set(5, func(m *model.Member) { m.Rank = model.RankSilver })

		Convey("The sponsor's upline receives 20 percent of the level 1 commission", func() {
			result, err := f.engine.ProcessEvent(ctx, event("task-1", 6, "1000"))
			So(err, ShouldBeNil)

			matching := byRecipient(result.Entries, model.LedgerEntryType_Matching)
			So(len(matching), ShouldEqual, 1)
			So(equals(matching[4], "20"), ShouldBeTrue)
			So(matching[4].Level, ShouldEqual, 2)

			level := byRecipient(result.Entries, model.LedgerEntryType_Level)
			So(equals(level[4], "50"), ShouldBeTrue)
		})

		Convey("A disabled flag skips the matching pass", func() {
			f.engine.Enabled = func(string) bool { return false }
			result, err := f.engine.ProcessEvent(ctx, event("task-2", 6, "1000"))
			So(err, ShouldBeNil)
			So(byRecipient(result.Entries, model.LedgerEntryType_Matching), ShouldBeEmpty)
		})

		Convey("Without a multiplier for the rank nothing is paid", func() {
			f.set(5, func(m *model.Member) { m.Rank = model.RankBronze })
			result, err := f.engine.ProcessEvent(ctx, event("task-3", 6, "1000"))
			So(err, ShouldBeNil)
			So(byRecipient(result.Entries, model.LedgerEntryType_Matching), ShouldBeEmpty)
		})
	})
}

func TestProcessEvent_Idempotence(t *testing.T) {
	ctx := context.Background()

	Convey("Given an event that was already processed", t, func() {
		f := newFixture()
		f.chain(6, "bronze_1")
		f.set(5, func(m *model.Member) { m.Rank = model.RankGold })

		first, err := f.engine.ProcessEvent(ctx, event("task-1", 6, "1000"))
		So(err, ShouldBeNil)
		So(len(first.Entries), ShouldEqual, 5)

		Convey("Processing it again creates nothing", func() {
			second, err := f.engine.ProcessEvent(ctx, event("task-1", 6, "1000"))
			So(err, ShouldBeNil)
			So(second.Entries, ShouldBeEmpty)
			So(len(second.Duplicates), ShouldEqual, 5)
			So(len(f.st.Entries()), ShouldEqual, 5)

			state, err := f.st.Caps().GetCapState(ctx, 5, false)
			So(err, ShouldBeNil)
			So(conv.Equal(model.DecimalValue(state.CurrentPlanEarnings), conv.MustFromString("100")), ShouldBeTrue)
		})

		Convey("A retry completes a matching entry that failed the first time", func() {
			f2 := newFixture()
			f2.chain(6, "bronze_1")
			f2.set(5, func(m *model.Member) { m.Rank = model.RankGold })
			f2.st.Hooks.BeforeCreateEntry = func(e *model.LedgerEntry) error {
				if e.Type == model.LedgerEntryType_Matching {
					return errors.New("disk full")
				}
				return nil
			}
			result, err := f2.engine.ProcessEvent(ctx, event("task-1", 6, "1000"))
			So(err, ShouldBeNil)
			So(len(result.Failures), ShouldEqual, 1)

			f2.st.Hooks.BeforeCreateEntry = nil
			result, err = f2.engine.ProcessEvent(ctx, event("task-1", 6, "1000"))
			So(err, ShouldBeNil)
			So(len(result.Entries), ShouldEqual, 1)
			So(equals(result.Entries[0], "25"), ShouldBeTrue)
		})
	})
}

func TestProcessEvent_Caps(t *testing.T) {
	ctx := context.Background()

	Convey("Given a chain where level 2 is capped", t, func() {
		f := newFixture()
		f.chain(6, "bronze_1")
		f.earn(4, "50000")

		Convey("The capped recipient is skipped and deeper levels are still paid", func() {
			result, err := f.engine.ProcessEvent(ctx, event("task-1", 6, "1000"))
			So(err, ShouldBeNil)

			levels := byRecipient(result.Entries, model.LedgerEntryType_Level)
			So(levels[4], ShouldBeNil)
			So(equals(levels[3], "30"), ShouldBeTrue)
			So(equals(levels[2], "20"), ShouldBeTrue)
			So(result.Skipped, ShouldContain, commission.Skip{MemberID: 4, Level: 2, Type: model.LedgerEntryType_Level, Reason: commission.ReasonCapped})
		})
	})

	Convey("Given a Bronze I sponsor 10 below the cap", t, func() {
		f := newFixture()
		f.chain(6, "bronze_1")
		f.set(5, func(m *model.Member) { m.Email = "sponsor@example.com" })
		f.earn(5, "49990")

		Convey("The entry is truncated to the cap and the member is notified after commit", func() {
			result, err := f.engine.ProcessEvent(ctx, event("task-1", 6, "1000"))
			So(err, ShouldBeNil)

			entry := byRecipient(result.Entries, model.LedgerEntryType_Level)[5]
			So(equals(entry, "10"), ShouldBeTrue)
			So(conv.Equal(model.DecimalValue(entry.Requested), conv.MustFromString("100")), ShouldBeTrue)

			state, err := f.st.Caps().GetCapState(ctx, 5, false)
			So(err, ShouldBeNil)
			So(state.Capped, ShouldBeTrue)

			notes := f.notes.all()
			So(len(notes), ShouldEqual, 1)
			So(notes[0].Kind, ShouldEqual, model.CapNotificationKind_Reached)
			So(notes[0].Email, ShouldEqual, "sponsor@example.com")
		})
	})
}

func TestProcessEvent_Failures(t *testing.T) {
	ctx := context.Background()

	Convey("Given a storage failure for one recipient", t, func() {
		f := newFixture()
		f.chain(6, "bronze_1")
		f.st.Hooks.BeforeCreateEntry = func(e *model.LedgerEntry) error {
			if e.RecipientID == 4 {
				return errors.New("disk full")
			}
			return nil
		}

		Convey("Other recipients are paid and nothing of the failed one is applied", func() {
			result, err := f.engine.ProcessEvent(ctx, event("task-1", 6, "1000"))
			So(err, ShouldBeNil)
			So(len(result.Failures), ShouldEqual, 1)
			So(result.Failures[0].MemberID, ShouldEqual, uint64(4))
			So(result.Err(), ShouldNotBeNil)
			So(len(byRecipient(result.Entries, model.LedgerEntryType_Level)), ShouldEqual, 3)

			_, err = f.st.Caps().GetCapState(ctx, 4, false)
			So(store.IsNotFound(err), ShouldBeTrue)
		})
	})

	Convey("Given transient conflicts", t, func() {
		f := newFixture()
		f.chain(3, "bronze_1")
		attempts := 0
		f.st.Hooks.BeforeSaveCap = func(s *model.EarningsCapState) error {
			if s.MemberID == 2 && attempts < 2 {
				attempts++
				return store.ErrConflict
			}
			return nil
		}

		Convey("The recipient transaction is retried", func() {
			result, err := f.engine.ProcessEvent(ctx, event("task-1", 3, "1000"))
			So(err, ShouldBeNil)
			So(result.Failures, ShouldBeEmpty)
			So(attempts, ShouldEqual, 2)
			So(equals(byRecipient(result.Entries, model.LedgerEntryType_Level)[2], "100"), ShouldBeTrue)
			So(len(f.st.Entries()), ShouldEqual, 2)
		})
	})

	Convey("Given a dangling sponsor reference", t, func() {
		f := newFixture()
		f.chain(3, "bronze_1")
		f.set(2, func(m *model.Member) { m.SponsorID = ref(99) })

		Convey("The event is aborted with an integrity error", func() {
			_, err := f.engine.ProcessEvent(ctx, event("task-1", 3, "1000"))
			var integrity *graph.GraphIntegrityError
			So(errors.As(err, &integrity), ShouldBeTrue)
			So(f.st.Entries(), ShouldBeEmpty)
		})
	})

	Convey("Malformed events are rejected", t, func() {
		f := newFixture()
		f.chain(3, "bronze_1")

		cases := []struct {
			name string
			ev   *model.Event
		}{
			{"missing id", event("", 3, "10")},
			{"missing source", event("task", 0, "10")},
			{"zero amount", event("task", 3, "0")},
			{"negative amount", event("task", 3, "-5")},
			{"unknown source", event("task", 42, "10")},
		}
		for _, c := range cases {
			c := c
			Convey("Rejects "+c.name, func() {
				_, err := f.engine.ProcessEvent(ctx, c.ev)
				So(commission.IsValidationError(err), ShouldBeTrue)
				So(f.st.Entries(), ShouldBeEmpty)
			})
		}
	})
}

func TestProcessEvent_ConcurrentSumInvariant(t *testing.T) {
	ctx := context.Background()

	Convey("Given many sources sharing one upline", t, func() {
		f := newFixture()
		f.chain(3, "starter")
		for id := uint64(10); id < 40; id++ {
			f.st.AddMember(&model.Member{ID: id, SponsorID: ref(3), Rank: model.RankNone, Tier: "starter", Active: true})
		}

		var wg sync.WaitGroup
		for id := uint64(10); id < 40; id++ {
			wg.Add(1)
			go func(id uint64) {
				defer wg.Done()
				_, _ = f.engine.ProcessEvent(ctx, event(fmt.Sprintf("task-%d", id), id, "7000"))
			}(id)
		}
		wg.Wait()

		Convey("Cap earnings equal the ledger total of the epoch and never pass the limit", func() {
			for _, id := range []uint64{1, 2, 3} {
				state, err := f.st.Caps().GetCapState(ctx, id, false)
				So(err, ShouldBeNil)
				sum, err := f.st.Ledger().SumByEpoch(ctx, id, state.Epoch)
				So(err, ShouldBeNil)
				So(conv.Equal(sum, model.DecimalValue(state.CurrentPlanEarnings)), ShouldBeTrue)
				So(model.DecimalValue(state.CurrentPlanEarnings).Cmp(conv.MustFromString("15000")), ShouldBeLessThanOrEqualTo, 0)
			}

			state, _ := f.st.Caps().GetCapState(ctx, 3, false)
			So(state.Capped, ShouldBeTrue)
		})
	})
}
