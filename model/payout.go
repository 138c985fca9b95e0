package model

import (
	"time"

	"github.com/ericlagergren/decimal/sql/postgres"
)

type PayoutStatus string

const (
	PayoutStatus_Pending    PayoutStatus = "pending"
	PayoutStatus_Processing PayoutStatus = "processing"
	PayoutStatus_Completed  PayoutStatus = "completed"
	PayoutStatus_Failed     PayoutStatus = "failed"
)

type PayoutMethod string

const (
	PayoutMethod_BankTransfer PayoutMethod = "bank_transfer"
	PayoutMethod_Wallet       PayoutMethod = "wallet"
)

type Payout struct {
	ID          uint64            `gorm:"column:id;PRIMARY_KEY" json:"id"`
	Reference   string            `gorm:"column:reference" json:"reference"`
	MemberID    uint64            `gorm:"column:member_id" json:"member_id"`
	Amount      *postgres.Decimal `gorm:"column:amount" sql:"type:decimal(36,18)" json:"-"`
	Status      PayoutStatus      `gorm:"column:status" json:"status"`
	Method      PayoutMethod      `gorm:"column:method" json:"method"`
	Period      Period            `gorm:"column:period" json:"period"`
	EntryCount  int               `gorm:"column:entry_count" json:"entry_count"`
	RequestedAt time.Time         `gorm:"column:requested_at" json:"requested_at"`
}

func (Payout) TableName() string {
	return "payouts"
}

// PayoutSettings are member preferences; a nil MinimumThreshold falls back to the configured default
type PayoutSettings struct {
	MemberID         uint64            `gorm:"column:member_id;PRIMARY_KEY" json:"member_id"`
	AutoPayout       bool              `gorm:"column:auto_payout" json:"auto_payout"`
	MinimumThreshold *postgres.Decimal `gorm:"column:minimum_threshold" sql:"type:decimal(36,18)" json:"-"`
	Method           PayoutMethod      `gorm:"column:method" json:"method"`
}

func (PayoutSettings) TableName() string {
	return "payout_settings"
}
