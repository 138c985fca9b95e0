package model

import (
	"time"

	"github.com/ericlagergren/decimal/sql/postgres"
)

type CapStatus string

const (
	CapStatus_Open      CapStatus = "open"
	CapStatus_Warned    CapStatus = "warned"
	CapStatus_Capped    CapStatus = "capped"
	CapStatus_Unlimited CapStatus = "unlimited"
)

// EarningsCapState tracks in-plan earnings of a member for the currently active tier.
// Epoch increases on every tier reset; ledger entries carry the epoch they were credited in.
type EarningsCapState struct {
	MemberID            uint64            `gorm:"column:member_id;PRIMARY_KEY" json:"member_id"`
	Tier                MembershipTier    `gorm:"column:membership_tier" json:"membership_tier"`
	Epoch               int               `gorm:"column:epoch" json:"epoch"`
	CurrentPlanEarnings *postgres.Decimal `gorm:"column:current_plan_earnings" sql:"type:decimal(36,18)" json:"-"`
	CapLimit            *postgres.Decimal `gorm:"column:cap_limit" sql:"type:decimal(36,18)" json:"-"`
	Unlimited           bool              `gorm:"column:unlimited" json:"unlimited"`
	Warned              bool              `gorm:"column:warned" json:"warned"`
	Capped              bool              `gorm:"column:capped" json:"capped"`
	WarningSent         bool              `gorm:"column:warning_sent" json:"-"`
	CappedSent          bool              `gorm:"column:capped_sent" json:"-"`
	ResetAt             time.Time         `gorm:"column:reset_at" json:"reset_at"`
	UpdatedAt           time.Time         `gorm:"column:updated_at" json:"updated_at"`
}

func (EarningsCapState) TableName() string {
	return "earnings_cap_states"
}

func (s *EarningsCapState) Status() CapStatus {
	switch {
	case s.Unlimited:
		return CapStatus_Unlimited
	case s.Capped:
		return CapStatus_Capped
	case s.Warned:
		return CapStatus_Warned
	default:
		return CapStatus_Open
	}
}

func (s *EarningsCapState) Clone() *EarningsCapState {
	out := *s
	out.CurrentPlanEarnings = NewDecimal(DecimalValue(s.CurrentPlanEarnings))
	out.CapLimit = NewDecimal(DecimalValue(s.CapLimit))
	return &out
}

// EarningsCapStateView is the read-only representation returned to status callers
type EarningsCapStateView struct {
	MemberID            uint64         `json:"member_id"`
	Tier                MembershipTier `json:"membership_tier"`
	Status              CapStatus      `json:"status"`
	CurrentPlanEarnings JSONDecimal    `json:"current_plan_earnings"`
	CapLimit            *JSONDecimal   `json:"cap_limit"`
	Percent             JSONDecimal    `json:"percent"`
	Warned              bool           `json:"warned"`
	Capped              bool           `json:"capped"`
	ResetAt             time.Time      `json:"reset_at"`
}

// TierChange records an applied membership tier change. The idempotency key turns a replayed
// membership purchase into a no-op.
type TierChange struct {
	ID             uint64         `gorm:"column:id;PRIMARY_KEY" json:"id"`
	IdempotencyKey string         `gorm:"column:idempotency_key" json:"-"`
	MemberID       uint64         `gorm:"column:member_id" json:"member_id"`
	FromTier       MembershipTier `gorm:"column:from_tier" json:"from_tier"`
	ToTier         MembershipTier `gorm:"column:to_tier" json:"to_tier"`
	CreatedAt      time.Time      `gorm:"column:created_at" json:"created_at"`
}

func (TierChange) TableName() string {
	return "membership_tier_changes"
}
