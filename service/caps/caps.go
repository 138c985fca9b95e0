// Package caps enforces the earnings ceiling of a membership tier.
//
// Evaluate and Apply are pure functions over a cap state; Guard loads and stores the state
// and resets it whenever the member moves to another tier.
package caps

import (
	"github.com/ericlagergren/decimal"
	"gitlab.com/paramountdax-exchange/commission_engine/conv"
	"gitlab.com/paramountdax-exchange/commission_engine/model"
)

var (
	warningPercent = conv.MustFromString("90")
	cappedPercent  = conv.MustFromString("100")
)

type Decision struct {
	Allowed bool
	Reason  model.CapStatus
	// Remaining is nil for unlimited tiers
	Remaining *decimal.Big
}

// Transition reports the notifications that became due with the last Apply
type Transition struct {
	Warned bool
	Capped bool
}

func (t Transition) Any() bool {
	return t.Warned || t.Capped
}

func remaining(state *model.EarningsCapState) *decimal.Big {
	left := conv.NewDecimalWithPrecision().Sub(model.DecimalValue(state.CapLimit), model.DecimalValue(state.CurrentPlanEarnings))
	if left.Sign() < 0 {
		return conv.NewDecimalWithPrecision()
	}
	return left
}

func Evaluate(state *model.EarningsCapState) Decision {
	if state.Unlimited {
		return Decision{Allowed: true, Reason: model.CapStatus_Unlimited}
	}
	left := remaining(state)
	if state.Capped || left.Sign() == 0 {
		return Decision{Allowed: false, Reason: model.CapStatus_Capped, Remaining: left}
	}
	return Decision{Allowed: true, Reason: state.Status(), Remaining: left}
}

// Apply credits amount to the state, truncating whatever exceeds the limit.
// It returns the granted amount which is never more than the requested one.
// A capped state grants nothing and reports no transition until the next epoch.
func Apply(state *model.EarningsCapState, amount *decimal.Big) (*decimal.Big, Transition) {
	earnings := model.DecimalValue(state.CurrentPlanEarnings)
	if state.Unlimited {
		granted := conv.NewDecimalWithPrecision().Copy(amount)
		state.CurrentPlanEarnings = model.NewDecimal(conv.Sum(earnings, granted))
		return granted, Transition{}
	}

	if state.Capped {
		return conv.NewDecimalWithPrecision(), Transition{}
	}
	granted := conv.Min(amount, remaining(state))
	if granted.Sign() < 0 {
		granted = conv.NewDecimalWithPrecision()
	}
	earnings = conv.Sum(earnings, granted)
	state.CurrentPlanEarnings = model.NewDecimal(earnings)

	var tr Transition
	used := conv.Ratio(earnings, model.DecimalValue(state.CapLimit))
	if used.Cmp(warningPercent) >= 0 {
		state.Warned = true
	}
	if used.Cmp(cappedPercent) >= 0 {
		state.Capped = true
	}
	switch {
	case state.Capped && !state.CappedSent:
		// reaching the cap supersedes a warning that was never sent
		tr.Capped = true
		state.CappedSent = true
		state.WarningSent = true
	case state.Warned && !state.WarningSent:
		tr.Warned = true
		state.WarningSent = true
	}
	return granted, tr
}

// PercentUsed returns earnings / limit * 100, zero for unlimited tiers
func PercentUsed(state *model.EarningsCapState) *decimal.Big {
	if state.Unlimited {
		return conv.NewDecimalWithPrecision()
	}
	return conv.Ratio(model.DecimalValue(state.CurrentPlanEarnings), model.DecimalValue(state.CapLimit))
}

// View converts the state for status callers
func View(state *model.EarningsCapState) *model.EarningsCapStateView {
	view := &model.EarningsCapStateView{
		MemberID:            state.MemberID,
		Tier:                state.Tier,
		Status:              state.Status(),
		CurrentPlanEarnings: model.JSONDecimal{Decimal: *model.NewDecimal(model.DecimalValue(state.CurrentPlanEarnings))},
		Percent:             model.JSONDecimal{Decimal: *model.NewDecimal(conv.RoundMoney(PercentUsed(state)))},
		Warned:              state.Warned,
		Capped:              state.Capped,
		ResetAt:             state.ResetAt,
	}
	if !state.Unlimited {
		view.CapLimit = &model.JSONDecimal{Decimal: *model.NewDecimal(model.DecimalValue(state.CapLimit))}
	}
	return view
}
