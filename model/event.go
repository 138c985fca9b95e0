package model

import (
	"time"

	"github.com/ericlagergren/decimal"
)

type EventKind string

const (
	EventKind_TaskCompletion     EventKind = "task_completion"
	EventKind_Purchase           EventKind = "purchase"
	EventKind_MembershipPurchase EventKind = "membership_purchase"
)

func (k EventKind) IsValid() bool {
	switch k {
	case EventKind_TaskCompletion, EventKind_Purchase, EventKind_MembershipPurchase:
		return true
	default:
		return false
	}
}

// Event is a verified trigger delivered at-least-once by the event source
type Event struct {
	EventID        string         `json:"event_id"`
	Kind           EventKind      `json:"kind"`
	SourceMemberID uint64         `json:"source_member_id"`
	Amount         *decimal.Big   `json:"-"`
	Tier           MembershipTier `json:"tier,omitempty"`
	OccurredAt     time.Time      `json:"occurred_at"`
}
