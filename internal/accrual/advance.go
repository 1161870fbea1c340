package accrual

import (
	"time"

	"slot-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Integrity alerts raised while advancing a slot. None of them is ever
// persisted as-is: the step is clamped or skipped.
const (
	AlertClockSkew     = "clock_skew"
	AlertOverCap       = "over_cap"
	AlertAheadOfCurve  = "ahead_of_curve"
	AlertCapShortfall  = "cap_shortfall"
	AlertNegativeValue = "negative_value"
)

// Step is the outcome of advancing a slot snapshot to an instant.
type Step struct {
	Accrued   decimal.Decimal
	AccruedAt time.Time
	Changed   bool
	Alerts    []string
}

// Advance moves a slot snapshot forward to min(now, ExpiresAt).
// The result keeps 0 <= accrued <= cap, never lowers accrued earnings that
// were within the cap, and never moves LastAccruedAt backwards.
func Advance(slot *models.Slot, now time.Time, precision int32) Step {
	terms := TermsFor(slot, precision)
	capAmount := terms.Cap()
	horizon := terms.Horizon(now)
	current := slot.AccruedEarnings

	step := Step{Accrued: current, AccruedAt: slot.LastAccruedAt}

	if current.IsNegative() {
		step.Alerts = append(step.Alerts, AlertNegativeValue)
		current = decimal.Zero
		step.Accrued = current
	}
	if current.GreaterThan(capAmount) {
		step.Alerts = append(step.Alerts, AlertOverCap)
		current = capAmount
		step.Accrued = current
	}

	if horizon.Before(slot.LastAccruedAt) {
		step.Alerts = append(step.Alerts, AlertClockSkew)
		step.Changed = !step.Accrued.Equal(slot.AccruedEarnings)
		return step
	}

	target := terms.EarningsAt(horizon)
	if target.LessThan(current) {
		step.Alerts = append(step.Alerts, AlertAheadOfCurve)
		target = current
	}

	step.Accrued = target
	step.AccruedAt = horizon
	step.Changed = !target.Equal(slot.AccruedEarnings) || !horizon.Equal(slot.LastAccruedAt)
	return step
}

// Finalize is the expiration pass: accrue to exactly ExpiresAt and force the
// cap. A shortfall against the cap is reported, then corrected.
func Finalize(slot *models.Slot, precision int32) Step {
	step := Advance(slot, slot.ExpiresAt, precision)
	capAmount := Cap(slot.Principal, slot.EffectiveWeeklyRate, precision)
	if !step.Accrued.Equal(capAmount) {
		step.Alerts = append(step.Alerts, AlertCapShortfall)
		step.Accrued = capAmount
	}
	step.AccruedAt = slot.ExpiresAt
	step.Changed = true
	return step
}
