package model

import (
	"time"
)

// Rank is an achievement level earned through monthly qualification
type Rank string

const (
	RankNone     Rank = "none"
	RankBronze   Rank = "bronze"
	RankSilver   Rank = "silver"
	RankGold     Rank = "gold"
	RankPlatinum Rank = "platinum"
	RankDiamond  Rank = "diamond"
)

var rankOrder = map[Rank]int{
	RankNone:     0,
	RankBronze:   1,
	RankSilver:   2,
	RankGold:     3,
	RankPlatinum: 4,
	RankDiamond:  5,
}

func (r Rank) String() string {
	return string(r)
}

func (r Rank) IsValid() bool {
	_, ok := rankOrder[r]
	return ok
}

// Order of the rank, unknown ranks sort below RankNone
func (r Rank) Order() int {
	if o, ok := rankOrder[r]; ok {
		return o
	}
	return -1
}

func (r Rank) Less(other Rank) bool {
	return r.Order() < other.Order()
}

// MembershipTier is the purchased plan; its pricing and depth live in the rate table
type MembershipTier string

func (t MembershipTier) String() string {
	return string(t)
}

type Member struct {
	ID        uint64         `gorm:"column:id;PRIMARY_KEY" json:"id"`
	SponsorID *uint64        `gorm:"column:sponsor_id" json:"sponsor_id"`
	Email     string         `gorm:"column:email" json:"email"`
	Rank      Rank           `gorm:"column:rank" json:"rank"`
	Tier      MembershipTier `gorm:"column:membership_tier" json:"membership_tier"`
	Active    bool           `gorm:"column:active" json:"active"`
	CreatedAt time.Time      `gorm:"column:created_at" json:"created_at"`
	UpdatedAt time.Time      `gorm:"column:updated_at" json:"updated_at"`
}

func (Member) TableName() string {
	return "members"
}

func (m *Member) IsRoot() bool {
	return m.SponsorID == nil || *m.SponsorID == 0
}

func (m *Member) Clone() *Member {
	out := *m
	if m.SponsorID != nil {
		id := *m.SponsorID
		out.SponsorID = &id
	}
	return &out
}
