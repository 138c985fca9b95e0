// Package graph walks the referral forest stored in the member repository
package graph

import (
	"context"
	"fmt"

	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/store"
)

// GraphIntegrityError reports a cycle or a dangling sponsor reference. It aborts the
// current operation and requires manual data repair.
type GraphIntegrityError struct {
	MemberID uint64
	Reason   string
}

func (e *GraphIntegrityError) Error() string {
	return fmt.Sprintf("referral graph integrity error at member %d: %s", e.MemberID, e.Reason)
}

// Node is a member at a given distance from the starting member
type Node struct {
	Member *model.Member
	Level  int
}

type Graph struct {
	members store.MemberRepository
}

func New(members store.MemberRepository) *Graph {
	return &Graph{members: members}
}

// UplineChain returns at most maxLevels sponsors, nearest first, stopping at a root
func (g *Graph) UplineChain(ctx context.Context, memberID uint64, maxLevels int) ([]Node, error) {
	chain := []Node{}
	if maxLevels <= 0 {
		return chain, nil
	}
	current, err := g.members.GetMember(ctx, memberID)
	if err != nil {
		return nil, err
	}
	visited := map[uint64]bool{memberID: true}
	for level := 1; level <= maxLevels && !current.IsRoot(); level++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		sponsorID := *current.SponsorID
		if visited[sponsorID] {
			return nil, &GraphIntegrityError{MemberID: current.ID, Reason: fmt.Sprintf("cycle through sponsor %d", sponsorID)}
		}
		sponsor, err := g.members.GetMember(ctx, sponsorID)
		if store.IsNotFound(err) {
			return nil, &GraphIntegrityError{MemberID: current.ID, Reason: fmt.Sprintf("sponsor %d does not exist", sponsorID)}
		}
		if err != nil {
			return nil, err
		}
		visited[sponsorID] = true
		chain = append(chain, Node{Member: sponsor, Level: level})
		current = sponsor
	}
	return chain, nil
}

// DownlineSubtree returns the descendants of memberID down to maxLevels, breadth first
func (g *Graph) DownlineSubtree(ctx context.Context, memberID uint64, maxLevels int) ([]Node, error) {
	nodes := []Node{}
	if maxLevels <= 0 {
		return nodes, nil
	}
	visited := map[uint64]bool{memberID: true}
	frontier := []uint64{memberID}
	for level := 1; level <= maxLevels && len(frontier) > 0; level++ {
		next := []uint64{}
		for _, parentID := range frontier {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			children, err := g.members.ListDirectReferrals(ctx, parentID)
			if err != nil {
				return nil, err
			}
			for _, child := range children {
				if visited[child.ID] {
					return nil, &GraphIntegrityError{MemberID: child.ID, Reason: "member reached twice in downline"}
				}
				visited[child.ID] = true
				nodes = append(nodes, Node{Member: child, Level: level})
				next = append(next, child.ID)
			}
		}
		frontier = next
	}
	return nodes, nil
}

// CountActive returns the number of active members in nodes
func CountActive(nodes []Node) int {
	count := 0
	for _, n := range nodes {
		if n.Member.Active {
			count++
		}
	}
	return count
}
