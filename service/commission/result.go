package commission

import (
	"fmt"

	"github.com/pkg/errors"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
)

// Skip reasons recorded for audit. None of them is an error.
const (
	ReasonInactive     = "inactive"
	ReasonNoRate       = "no_rate"
	ReasonCapped       = "capped"
	ReasonZeroAmount   = "zero_amount"
	ReasonUnknownTier  = "unknown_tier"
	ReasonNoMultiplier = "no_multiplier"
	ReasonDisabled     = "disabled"
)

// ValidationError rejects malformed input such as an event or a tier change; it is never retried
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s %s", e.Field, e.Reason)
}

func IsValidationError(err error) bool {
	var target *ValidationError
	return errors.As(err, &target)
}

// Validate checks the fields every triggering event must carry
func Validate(ev *model.Event) error {
	switch {
	case ev == nil:
		return &ValidationError{Field: "event", Reason: "is missing"}
	case ev.EventID == "":
		return &ValidationError{Field: "event_id", Reason: "is required"}
	case ev.SourceMemberID == 0:
		return &ValidationError{Field: "source_member_id", Reason: "is required"}
	case ev.Kind != "" && !ev.Kind.IsValid():
		return &ValidationError{Field: "kind", Reason: "is not supported"}
	case ev.Kind == model.EventKind_MembershipPurchase && ev.Tier == "":
		return &ValidationError{Field: "tier", Reason: "is required for a membership purchase"}
	case !conv.IsPositive(ev.Amount):
		return &ValidationError{Field: "amount", Reason: "must be a positive number"}
	}
	return nil
}

type Skip struct {
	MemberID uint64                `json:"member_id"`
	Level    int                   `json:"level"`
	Type     model.LedgerEntryType `json:"type"`
	Reason   string                `json:"reason"`
}

// Failure is a recipient whose credit could not be stored. Other recipients are unaffected.
type Failure struct {
	MemberID uint64 `json:"member_id"`
	Level    int    `json:"level"`
	Type     string `json:"type"`
	Err      error  `json:"-"`
	Message  string `json:"error"`
}

type Result struct {
	EventID string
	// Entries were created by this call
	Entries []*model.LedgerEntry
	// Duplicates already existed from an earlier delivery of the event
	Duplicates []*model.LedgerEntry
	Skipped    []Skip
	Failures   []Failure
}

func (r *Result) skip(memberID uint64, level int, t model.LedgerEntryType, reason string) {
	r.Skipped = append(r.Skipped, Skip{MemberID: memberID, Level: level, Type: t, Reason: reason})
}

func (r *Result) fail(memberID uint64, level int, t string, err error) {
	r.Failures = append(r.Failures, Failure{MemberID: memberID, Level: level, Type: t, Err: err, Message: err.Error()})
}

// Failed reports whether any recipient could not be processed
func (r *Result) Failed() bool {
	return len(r.Failures) > 0
}

// Err summarises the failures as a single error, nil when everything was applied
func (r *Result) Err() error {
	if len(r.Failures) == 0 {
		return nil
	}
	f := r.Failures[0]
	return errors.Wrapf(f.Err, "event %s: %d recipient(s) failed, first member %d", r.EventID, len(r.Failures), f.MemberID)
}

// BatchReport is the partial success report of a periodic bonus pass
type BatchReport struct {
	Job      string
	Period   model.Period
	Entries  []*model.LedgerEntry
	Skipped  []Skip
	Failures []Failure
}
