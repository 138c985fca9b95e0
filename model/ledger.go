package model

import (
	"fmt"
	"time"

	"github.com/ericlagergren/decimal/sql/postgres"
)

type LedgerEntryType string

const (
	LedgerEntryType_Level      LedgerEntryType = "level"
	LedgerEntryType_Matching   LedgerEntryType = "matching"
	LedgerEntryType_Leadership LedgerEntryType = "leadership"
	LedgerEntryType_RankBonus  LedgerEntryType = "rank_bonus"
)

func (t LedgerEntryType) String() string {
	return string(t)
}

type LedgerEntryStatus string

const (
	LedgerEntryStatus_Pending LedgerEntryStatus = "pending"
	LedgerEntryStatus_Matured LedgerEntryStatus = "matured"
	LedgerEntryStatus_Paid    LedgerEntryStatus = "paid"
)

// LedgerEntry is a single commission credit. Only Status, MaturedAt, PaidAt and PayoutID change after creation.
type LedgerEntry struct {
	ID             uint64            `gorm:"column:id;PRIMARY_KEY" json:"id"`
	IdempotencyKey string            `gorm:"column:idempotency_key" json:"-"`
	EventID        string            `gorm:"column:event_id" json:"event_id"`
	RecipientID    uint64            `gorm:"column:recipient_id" json:"recipient_id"`
	SourceMemberID uint64            `gorm:"column:source_member_id" json:"source_member_id"`
	Level          int               `gorm:"column:level" json:"level"`
	Type           LedgerEntryType   `gorm:"column:type" json:"type"`
	Amount         *postgres.Decimal `gorm:"column:amount" sql:"type:decimal(36,18)" json:"-"`
	Requested      *postgres.Decimal `gorm:"column:requested" sql:"type:decimal(36,18)" json:"-"`
	Status         LedgerEntryStatus `gorm:"column:status" json:"status"`
	Period         Period            `gorm:"column:period" json:"period"`
	CapEpoch       int               `gorm:"column:cap_epoch" json:"cap_epoch"`
	PayoutID       *uint64           `gorm:"column:payout_id" json:"payout_id,omitempty"`
	CreatedAt      time.Time         `gorm:"column:created_at" json:"created_at"`
	MaturedAt      *time.Time        `gorm:"column:matured_at" json:"matured_at,omitempty"`
	PaidAt         *time.Time        `gorm:"column:paid_at" json:"paid_at,omitempty"`
}

func (LedgerEntry) TableName() string {
	return "commission_ledger_entries"
}

// IdempotencyKeyFor builds the unique key of an entry: event id + recipient + type
func IdempotencyKeyFor(eventID string, recipientID uint64, entryType LedgerEntryType) string {
	return fmt.Sprintf("%s:%d:%s", eventID, recipientID, entryType)
}

func (e *LedgerEntry) Clone() *LedgerEntry {
	out := *e
	out.Amount = NewDecimal(DecimalValue(e.Amount))
	out.Requested = NewDecimal(DecimalValue(e.Requested))
	if e.PayoutID != nil {
		id := *e.PayoutID
		out.PayoutID = &id
	}
	if e.MaturedAt != nil {
		t := *e.MaturedAt
		out.MaturedAt = &t
	}
	if e.PaidAt != nil {
		t := *e.PaidAt
		out.PaidAt = &t
	}
	return &out
}

type LedgerEntryView struct {
	*LedgerEntry
	AmountView JSONDecimal `json:"amount"`
}

func (e *LedgerEntry) View() LedgerEntryView {
	return LedgerEntryView{LedgerEntry: e, AmountView: JSONDecimal{Decimal: *NewDecimal(DecimalValue(e.Amount))}}
}
