package model

import (
	"time"

	"github.com/ericlagergren/decimal/sql/postgres"
)

// RankQualificationRecord is the append-only result of one member's monthly evaluation
type RankQualificationRecord struct {
	ID              uint64            `gorm:"column:id;PRIMARY_KEY" json:"id"`
	MemberID        uint64            `gorm:"column:member_id" json:"member_id"`
	Period          Period            `gorm:"column:period" json:"period"`
	PersonalVolume  *postgres.Decimal `gorm:"column:personal_volume" sql:"type:decimal(36,18)" json:"-"`
	DirectReferrals int               `gorm:"column:direct_referrals" json:"direct_referrals"`
	ComputedRank    Rank              `gorm:"column:computed_rank" json:"computed_rank"`
	PreviousRank    Rank              `gorm:"column:previous_rank" json:"previous_rank"`
	RankAchieved    Rank              `gorm:"column:rank_achieved" json:"rank_achieved"`
	Qualified       bool              `gorm:"column:qualified" json:"qualified"`
	GraceUntil      *time.Time        `gorm:"column:grace_until" json:"grace_until,omitempty"`
	CreatedAt       time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (RankQualificationRecord) TableName() string {
	return "rank_qualification_records"
}

func (r *RankQualificationRecord) Clone() *RankQualificationRecord {
	out := *r
	out.PersonalVolume = NewDecimal(DecimalValue(r.PersonalVolume))
	if r.GraceUntil != nil {
		t := *r.GraceUntil
		out.GraceUntil = &t
	}
	return &out
}

// RankProtection holds a pending demotion while the grace period runs
type RankProtection struct {
	MemberID      uint64    `gorm:"column:member_id;PRIMARY_KEY" json:"member_id"`
	ProtectedRank Rank      `gorm:"column:protected_rank" json:"protected_rank"`
	PendingRank   Rank      `gorm:"column:pending_rank" json:"pending_rank"`
	StartedAt     time.Time `gorm:"column:started_at" json:"started_at"`
	ExpiresAt     time.Time `gorm:"column:expires_at" json:"expires_at"`
}

func (RankProtection) TableName() string {
	return "rank_protections"
}

func (p *RankProtection) Expired(asOf time.Time) bool {
	return !asOf.Before(p.ExpiresAt)
}

// VolumeEntry credits personal volume to a member once per triggering event
type VolumeEntry struct {
	ID             uint64            `gorm:"column:id;PRIMARY_KEY" json:"id"`
	IdempotencyKey string            `gorm:"column:idempotency_key" json:"-"`
	MemberID       uint64            `gorm:"column:member_id" json:"member_id"`
	Period         Period            `gorm:"column:period" json:"period"`
	Amount         *postgres.Decimal `gorm:"column:amount" sql:"type:decimal(36,18)" json:"-"`
	CreatedAt      time.Time         `gorm:"column:created_at" json:"created_at"`
}

func (VolumeEntry) TableName() string {
	return "volume_entries"
}
