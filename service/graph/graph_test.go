package graph_test

import (
	"context"
	"errors"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/graph"
	"gitlab.com/paramountdax-exchange/commission_engine/store/memory"
)

func sponsor(id uint64) *uint64 {
	return &id
}

// chain builds 1 <- 2 <- 3 <- ... <- n
func chain(n uint64) *memory.Store {
	s := memory.New()
	s.AddMember(&model.Member{ID: 1, Active: true, Rank: model.RankNone, Tier: "bronze_1"})
	for id := uint64(2); id <= n; id++ {
		s.AddMember(&model.Member{ID: id, SponsorID: sponsor(id - 1), Active: true, Rank: model.RankNone, Tier: "bronze_1"})
	}
	return s
}

func TestUplineChain(t *testing.T) {
	ctx := context.Background()

	Convey("Given a straight chain of 7 members", t, func() {
		g := graph.New(chain(7).Members())

		Convey("The upline is returned nearest sponsor first", func() {
			nodes, err := g.UplineChain(ctx, 7, 4)
			So(err, ShouldBeNil)
			So(len(nodes), ShouldEqual, 4)
			for i, n := range nodes {
				So(n.Level, ShouldEqual, i+1)
				So(n.Member.ID, ShouldEqual, uint64(6-i))
			}
		})

		Convey("The walk stops early at the root", func() {
			nodes, err := g.UplineChain(ctx, 3, 6)
			So(err, ShouldBeNil)
			So(len(nodes), ShouldEqual, 2)
			So(nodes[1].Member.ID, ShouldEqual, 1)
		})

		Convey("A root has no upline and zero levels returns nothing", func() {
			nodes, err := g.UplineChain(ctx, 1, 6)
			So(err, ShouldBeNil)
			So(nodes, ShouldBeEmpty)

			nodes, err = g.UplineChain(ctx, 7, 0)
			So(err, ShouldBeNil)
			So(nodes, ShouldBeEmpty)
		})
	})

	Convey("A cycle aborts with a GraphIntegrityError", t, func() {
		s := memory.New()
		s.AddMember(&model.Member{ID: 1, SponsorID: sponsor(3), Active: true})
		s.AddMember(&model.Member{ID: 2, SponsorID: sponsor(1), Active: true})
		s.AddMember(&model.Member{ID: 3, SponsorID: sponsor(2), Active: true})

		_, err := graph.New(s.Members()).UplineChain(ctx, 3, 10)
		var integrity *graph.GraphIntegrityError
		So(errors.As(err, &integrity), ShouldBeTrue)
	})

	Convey("A dangling sponsor aborts with a GraphIntegrityError", t, func() {
		s := memory.New()
		s.AddMember(&model.Member{ID: 5, SponsorID: sponsor(42), Active: true})

		_, err := graph.New(s.Members()).UplineChain(ctx, 5, 3)
		var integrity *graph.GraphIntegrityError
		So(errors.As(err, &integrity), ShouldBeTrue)
		So(integrity.MemberID, ShouldEqual, 5)
	})
}

func TestDownlineSubtree(t *testing.T) {
	ctx := context.Background()

	Convey("Given a small tree", t, func() {
		s := memory.New()
		s.AddMember(&model.Member{ID: 1, Active: true})
		s.AddMember(&model.Member{ID: 2, SponsorID: sponsor(1), Active: true})
		s.AddMember(&model.Member{ID: 3, SponsorID: sponsor(1), Active: false})
		s.AddMember(&model.Member{ID: 4, SponsorID: sponsor(2), Active: true})
		s.AddMember(&model.Member{ID: 5, SponsorID: sponsor(4), Active: true})
		g := graph.New(s.Members())

		nodes, err := g.DownlineSubtree(ctx, 1, 2)
		So(err, ShouldBeNil)
		So(len(nodes), ShouldEqual, 3)
		So(nodes[0].Member.ID, ShouldEqual, 2)
		So(nodes[0].Level, ShouldEqual, 1)
		So(nodes[2].Member.ID, ShouldEqual, 4)
		So(nodes[2].Level, ShouldEqual, 2)
		So(graph.CountActive(nodes), ShouldEqual, 2)

		all, err := g.DownlineSubtree(ctx, 1, 10)
		So(err, ShouldBeNil)
		So(len(all), ShouldEqual, 4)
	})
}
