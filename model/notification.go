package model

type CapNotificationKind string

const (
	CapNotificationKind_Warning CapNotificationKind = "cap_warning"
	CapNotificationKind_Reached CapNotificationKind = "cap_reached"
)

// CapNotification is sent once per cap epoch and kind. Amounts are rounded money strings.
type CapNotification struct {
	MemberID uint64              `json:"member_id"`
	Email    string              `json:"email"`
	Kind     CapNotificationKind `json:"kind"`
	Tier     MembershipTier      `json:"membership_tier"`
	Epoch    int                 `json:"epoch"`
	Earnings string              `json:"earnings"`
	Limit    string              `json:"limit"`
}
