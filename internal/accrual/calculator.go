// Package accrual computes time-prorated slot earnings.
//
// All money math is decimal and rounds down to the currency's smallest unit,
// so a running total built from these values can never pass the cap.
package accrual

import (
	"time"

	"slot-ledger-go/internal/models"

	"github.com/shopspring/decimal"
)

// Term is the fixed lifetime of a slot.
const Term = 7 * 24 * time.Hour

var weekMicros = decimal.NewFromInt(int64(Term / time.Microsecond))

// Terms are the immutable inputs that fix a slot's earnings curve.
type Terms struct {
	Principal  decimal.Decimal
	WeeklyRate decimal.Decimal
	CreatedAt  time.Time
	ExpiresAt  time.Time
	Precision  int32
}

// TermsFor extracts the earnings terms of a slot.
func TermsFor(slot *models.Slot, precision int32) Terms {
	return Terms{
		Principal:  slot.Principal,
		WeeklyRate: slot.EffectiveWeeklyRate,
		CreatedAt:  slot.CreatedAt,
		ExpiresAt:  slot.ExpiresAt,
		Precision:  precision,
	}
}

// Cap is principal * rate floored to the currency unit.
func Cap(principal, rate decimal.Decimal, precision int32) decimal.Decimal {
	return principal.Mul(rate).RoundFloor(precision)
}

// Cap of the terms.
func (t Terms) Cap() decimal.Decimal {
	return Cap(t.Principal, t.WeeklyRate, t.Precision)
}

// Incremental returns principal * rate * elapsed / week for the interval
// (from, to], floored. It is zero when to is not after from and knows nothing
// about the running total: callers combine it with SaturatingAdd.
func Incremental(principal, rate decimal.Decimal, from, to time.Time, precision int32) decimal.Decimal {
	if !to.After(from) {
		return decimal.Zero
	}
	elapsed := decimal.NewFromInt(int64(to.Sub(from) / time.Microsecond))
	return floorDiv(principal.Mul(rate).Mul(elapsed), weekMicros, precision)
}

// SaturatingAdd returns min(current + inc, cap), never less than current.
func SaturatingAdd(current, inc, cap decimal.Decimal) decimal.Decimal {
	if inc.IsNegative() {
		return current
	}
	next := current.Add(inc)
	if next.GreaterThan(cap) {
		next = cap
	}
	if next.LessThan(current) {
		return current
	}
	return next
}

// EarningsAt is the closed-form earnings of the slot at instant at:
// floor(cap * elapsed / term) with elapsed clamped to [0, term]. It equals the
// cap exactly from ExpiresAt on, so the result is independent of how many
// ticks were used to get there.
func (t Terms) EarningsAt(at time.Time) decimal.Decimal {
	capAmount := t.Cap()
	if !at.After(t.CreatedAt) {
		return decimal.Zero
	}
	if !at.Before(t.ExpiresAt) {
		return capAmount
	}
	term := t.ExpiresAt.Sub(t.CreatedAt)
	if term <= 0 {
		return capAmount
	}
	elapsed := decimal.NewFromInt(int64(at.Sub(t.CreatedAt) / time.Microsecond))
	earned := floorDiv(capAmount.Mul(elapsed), decimal.NewFromInt(int64(term/time.Microsecond)), t.Precision)
	if earned.GreaterThan(capAmount) {
		return capAmount
	}
	return earned
}

// Horizon is min(now, ExpiresAt): the furthest instant accrual may reach.
func (t Terms) Horizon(now time.Time) time.Time {
	if now.After(t.ExpiresAt) {
		return t.ExpiresAt
	}
	return now
}

// floorDiv divides and truncates toward zero at precision. Inputs here are
// non-negative, so truncation is floor.
func floorDiv(num, den decimal.Decimal, precision int32) decimal.Decimal {
	q, _ := num.QuoRem(den, precision)
	return q
}
