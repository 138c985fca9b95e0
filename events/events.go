// Package events decodes triggering events from the message bus and feeds them to the dispatcher
package events

import (
	"bytes"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
	"gitlab.com/paramountdax-exchange/commission_engine/service/commission"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// wireEvent accepts the amount either as a JSON number or as a string
type wireEvent struct {
	EventID        string              `json:"event_id"`
	Kind           model.EventKind     `json:"kind"`
	SourceMemberID uint64              `json:"source_member_id"`
	Amount         jsoniter.RawMessage `json:"amount"`
	Tier           string              `json:"tier,omitempty"`
	OccurredAt     *time.Time          `json:"occurred_at,omitempty"`
}

// Decode parses and validates an event payload
func Decode(data []byte) (*model.Event, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, &commission.ValidationError{Field: "payload", Reason: "is not valid json: " + err.Error()}
	}
	raw := string(bytes.TrimSpace(w.Amount))
	if unquoted, err := strconv.Unquote(raw); err == nil {
		raw = unquoted
	}
	ev := &model.Event{
		EventID:        w.EventID,
		Kind:           w.Kind,
		SourceMemberID: w.SourceMemberID,
		Tier:           model.MembershipTier(w.Tier),
	}
	if w.OccurredAt != nil {
		ev.OccurredAt = w.OccurredAt.UTC()
	}
	if raw != "" {
		amount, ok := conv.FromString(raw)
		if !ok {
			return nil, &commission.ValidationError{Field: "amount", Reason: "is not a decimal number"}
		}
		ev.Amount = amount
	}
	if err := commission.Validate(ev); err != nil {
		return nil, err
	}
	return ev, nil
}

// Encode writes the event in the format accepted by Decode
func Encode(ev *model.Event) ([]byte, error) {
	w := wireEvent{
		EventID:        ev.EventID,
		Kind:           ev.Kind,
		SourceMemberID: ev.SourceMemberID,
		Tier:           ev.Tier.String(),
	}
	if ev.Amount != nil {
		w.Amount = jsoniter.RawMessage(strconv.Quote(ev.Amount.String()))
	}
	if !ev.OccurredAt.IsZero() {
		t := ev.OccurredAt
		w.OccurredAt = &t
	}
	data, err := json.Marshal(w)
	return data, errors.Wrap(err, "encode event")
}
