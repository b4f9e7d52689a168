package credit

import (
	"math/big"
	"time"

	"tranchepool/calendar"
)

var basisPoints = big.NewInt(10_000)

// yieldOverDays computes principal * bps * days / (360 * 10000) under the
// 30/360 convention.
func yieldOverDays(principal *big.Int, bps uint64, days int) *big.Int {
	if principal == nil || principal.Sign() <= 0 || bps == 0 || days <= 0 {
		return big.NewInt(0)
	}
	out := new(big.Int).Mul(principal, new(big.Int).SetUint64(bps))
	out.Mul(out, big.NewInt(int64(days)))
	out.Quo(out, big.NewInt(int64(calendar.DaysInYear)))
	out.Quo(out, basisPoints)
	return out
}

func maxBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) >= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func minBig(a, b *big.Int) *big.Int {
	if a.Cmp(b) <= 0 {
		return new(big.Int).Set(a)
	}
	return new(big.Int).Set(b)
}

func normalizeRecord(cr *Record) {
	cr.UnbilledPrincipal = zeroIfNil(cr.UnbilledPrincipal)
	cr.NextDue = zeroIfNil(cr.NextDue)
	cr.YieldDue = zeroIfNil(cr.YieldDue)
	cr.TotalPastDue = zeroIfNil(cr.TotalPastDue)
}

func normalizeDueDetail(dd *DueDetail) {
	dd.LateFee = zeroIfNil(dd.LateFee)
	dd.PrincipalPastDue = zeroIfNil(dd.PrincipalPastDue)
	dd.YieldPastDue = zeroIfNil(dd.YieldPastDue)
	dd.Committed = zeroIfNil(dd.Committed)
	dd.Accrued = zeroIfNil(dd.Accrued)
	dd.Paid = zeroIfNil(dd.Paid)
}

// outstandingPrincipal is the total principal the borrower owes: unbilled plus
// billed-but-unpaid amounts.
func outstandingPrincipal(cr *Record, dd *DueDetail) *big.Int {
	out := new(big.Int).Add(cr.UnbilledPrincipal, dd.PrincipalPastDue)
	billed := new(big.Int).Sub(cr.NextDue, cr.YieldDue)
	if billed.Sign() > 0 {
		out.Add(out, billed)
	}
	return out
}

// payoffAmount is everything owed right now: past due, current due and
// unbilled principal.
func payoffAmount(cr *Record) *big.Int {
	out := new(big.Int).Add(cr.TotalPastDue, cr.NextDue)
	return out.Add(out, cr.UnbilledPrincipal)
}

// refreshDue rolls the credit forward to the current reference time: it moves
// unpaid bills into past due, accrues skipped-period yield, bills the current
// period and updates the late fee and state. Calling it multiple times inside
// one period is a no-op apart from late-fee accrual.
func refreshDue(cal calendar.Calendar, cfg *Config, terms Terms, cr *Record, dd *DueDetail, now time.Time) (bool, error) {
	normalizeRecord(cr)
	normalizeDueDetail(dd)

	switch cr.State {
	case CreditGoodStanding, CreditDelayed:
	default:
		// Approved credits get their first bill at drawdown; deleted, paused
		// and defaulted credits stop accruing.
		return false, nil
	}

	now = now.UTC()
	if now.Before(cr.NextDueDate) {
		if cr.TotalPastDue.Sign() > 0 {
			return updateLateFee(cal, terms, cr, dd, now)
		}
		return false, nil
	}

	periodsPassed, err := cal.NumPeriodsPassed(cfg.PeriodDuration, cr.NextDueDate, now)
	if err != nil {
		return false, err
	}
	periodsPassed++

	lateDeadline := cr.NextDueDate.AddDate(0, 0, terms.LatePaymentGracePeriodDays)

	// Roll the unpaid current bill into past due.
	if cr.NextDue.Sign() > 0 {
		billedPrincipal := new(big.Int).Sub(cr.NextDue, cr.YieldDue)
		dd.YieldPastDue = new(big.Int).Add(dd.YieldPastDue, cr.YieldDue)
		if billedPrincipal.Sign() > 0 {
			dd.PrincipalPastDue = new(big.Int).Add(dd.PrincipalPastDue, billedPrincipal)
		}
		cr.MissedPeriods++
		if dd.LateFeeUpdatedDate.IsZero() {
			dd.LateFeeUpdatedDate = cr.NextDueDate
		}
	}

	// Accrue the skipped full periods between the old bill and now.
	fullDays := calendar.TotalDaysInFullPeriod(cfg.PeriodDuration)
	for i := 1; i < periodsPassed; i++ {
		principal := new(big.Int).Add(cr.UnbilledPrincipal, dd.PrincipalPastDue)
		accrued := yieldOverDays(principal, cfg.YieldBps, fullDays)
		committed := yieldOverDays(cfg.CommittedAmount, cfg.YieldBps, fullDays)
		periodYield := maxBig(accrued, committed)
		if periodYield.Sign() > 0 {
			dd.YieldPastDue = new(big.Int).Add(dd.YieldPastDue, periodYield)
			cr.MissedPeriods++
		}
		principalDue := principalPortionForPeriod(cfg, terms, cr, uint32(periodsPassed-i))
		if principalDue.Sign() > 0 {
			cr.UnbilledPrincipal = new(big.Int).Sub(cr.UnbilledPrincipal, principalDue)
			dd.PrincipalPastDue = new(big.Int).Add(dd.PrincipalPastDue, principalDue)
		}
	}
	if uint32(periodsPassed) >= cr.RemainingPeriods {
		cr.RemainingPeriods = 0
	} else {
		cr.RemainingPeriods -= uint32(periodsPassed)
	}

	// Bill the period containing now.
	cr.NextDueDate = cal.StartDateOfNextPeriod(cfg.PeriodDuration, now)
	principal := new(big.Int).Add(cr.UnbilledPrincipal, dd.PrincipalPastDue)
	dd.Accrued = yieldOverDays(principal, cfg.YieldBps, fullDays)
	dd.Committed = yieldOverDays(cfg.CommittedAmount, cfg.YieldBps, fullDays)
	dd.Paid = big.NewInt(0)
	cr.YieldDue = maxBig(dd.Accrued, dd.Committed)
	principalDue := principalPortionForPeriod(cfg, terms, cr, 0)
	cr.UnbilledPrincipal = new(big.Int).Sub(cr.UnbilledPrincipal, principalDue)
	cr.NextDue = new(big.Int).Add(cr.YieldDue, principalDue)

	// Late fee accrues on outstanding principal while any bill is past due.
	if cr.MissedPeriods > 0 {
		if _, err := updateLateFee(cal, terms, cr, dd, now); err != nil {
			return false, err
		}
	}

	refreshTotalPastDue(cr, dd)

	if cr.TotalPastDue.Sign() > 0 && cr.MissedPeriods > 0 && now.After(lateDeadline) {
		if cr.MissedPeriods > terms.DefaultGracePeriods {
			cr.State = CreditDefaulted
		} else {
			cr.State = CreditDelayed
		}
	}
	return true, nil
}

// principalPortionForPeriod computes the billed principal for a period. The
// final period bills all remaining unbilled principal; earlier periods bill
// the minimum principal rate slice.
func principalPortionForPeriod(cfg *Config, terms Terms, cr *Record, periodsStillAhead uint32) *big.Int {
	if cr.UnbilledPrincipal.Sign() <= 0 {
		return big.NewInt(0)
	}
	if cr.RemainingPeriods <= periodsStillAhead {
		return new(big.Int).Set(cr.UnbilledPrincipal)
	}
	if terms.MinPrincipalRateBps == 0 {
		return big.NewInt(0)
	}
	portion := new(big.Int).Mul(cr.UnbilledPrincipal, new(big.Int).SetUint64(terms.MinPrincipalRateBps))
	portion.Quo(portion, basisPoints)
	return portion
}

func updateLateFee(cal calendar.Calendar, terms Terms, cr *Record, dd *DueDetail, now time.Time) (bool, error) {
	if terms.LateFeeBps == 0 {
		return false, nil
	}
	since := dd.LateFeeUpdatedDate
	if since.IsZero() {
		since = now
	}
	days, err := cal.DaysDiff(since, now)
	if err != nil {
		return false, err
	}
	if days <= 0 {
		return false, nil
	}
	principal := outstandingPrincipal(cr, dd)
	fee := yieldOverDays(principal, terms.LateFeeBps, days)
	if fee.Sign() > 0 {
		dd.LateFee = new(big.Int).Add(dd.LateFee, fee)
	}
	dd.LateFeeUpdatedDate = now
	refreshTotalPastDue(cr, dd)
	return fee.Sign() > 0, nil
}

func refreshTotalPastDue(cr *Record, dd *DueDetail) {
	total := new(big.Int).Add(dd.LateFee, dd.YieldPastDue)
	total.Add(total, dd.PrincipalPastDue)
	cr.TotalPastDue = total
}

// paymentResult summarises how a payment was applied across the due
// components. Applied is the amount actually collected; anything beyond the
// payoff amount is left with the payer.
type paymentResult struct {
	Applied       *big.Int
	PrincipalPaid *big.Int
	YieldPaid     *big.Int
	LateFeePaid   *big.Int
	Payoff        bool
}

// applyPayment consumes amount in the canonical order: late fee, past-due
// yield, past-due principal, current yield, current principal, and finally
// unbilled principal when the credit is revolving. Excess is never applied as
// an implicit pre-payment.
func applyPayment(cr *Record, dd *DueDetail, amount *big.Int, revolving bool) paymentResult {
	normalizeRecord(cr)
	normalizeDueDetail(dd)

	remaining := new(big.Int).Set(amount)
	res := paymentResult{
		Applied:       big.NewInt(0),
		PrincipalPaid: big.NewInt(0),
		YieldPaid:     big.NewInt(0),
		LateFeePaid:   big.NewInt(0),
	}

	pay := func(owed *big.Int) *big.Int {
		paid := minBig(remaining, owed)
		if paid.Sign() > 0 {
			remaining.Sub(remaining, paid)
			res.Applied.Add(res.Applied, paid)
		}
		return paid
	}

	if paid := pay(dd.LateFee); paid.Sign() > 0 {
		dd.LateFee = new(big.Int).Sub(dd.LateFee, paid)
		res.LateFeePaid.Add(res.LateFeePaid, paid)
	}
	if paid := pay(dd.YieldPastDue); paid.Sign() > 0 {
		dd.YieldPastDue = new(big.Int).Sub(dd.YieldPastDue, paid)
		res.YieldPaid.Add(res.YieldPaid, paid)
	}
	if paid := pay(dd.PrincipalPastDue); paid.Sign() > 0 {
		dd.PrincipalPastDue = new(big.Int).Sub(dd.PrincipalPastDue, paid)
		res.PrincipalPaid.Add(res.PrincipalPaid, paid)
	}
	if paid := pay(cr.YieldDue); paid.Sign() > 0 {
		cr.YieldDue = new(big.Int).Sub(cr.YieldDue, paid)
		cr.NextDue = new(big.Int).Sub(cr.NextDue, paid)
		dd.Paid = new(big.Int).Add(dd.Paid, paid)
		res.YieldPaid.Add(res.YieldPaid, paid)
	}
	if paid := pay(cr.NextDue); paid.Sign() > 0 {
		cr.NextDue = new(big.Int).Sub(cr.NextDue, paid)
		res.PrincipalPaid.Add(res.PrincipalPaid, paid)
	}
	if revolving {
		if paid := pay(cr.UnbilledPrincipal); paid.Sign() > 0 {
			cr.UnbilledPrincipal = new(big.Int).Sub(cr.UnbilledPrincipal, paid)
			res.PrincipalPaid.Add(res.PrincipalPaid, paid)
		}
	}

	refreshTotalPastDue(cr, dd)

	if cr.TotalPastDue.Sign() == 0 && cr.MissedPeriods > 0 {
		cr.MissedPeriods = 0
		if cr.State == CreditDelayed || cr.State == CreditDefaulted {
			cr.State = CreditGoodStanding
		}
	}
	if payoffAmount(cr).Sign() == 0 && cr.RemainingPeriods == 0 {
		cr.State = CreditDeleted
		res.Payoff = true
	}
	return res
}

// applyPrincipalPayment pays down billed principal first and then unbilled
// principal without touching yield or fees. Only good-standing credits may
// use it.
func applyPrincipalPayment(cr *Record, dd *DueDetail, amount *big.Int) paymentResult {
	normalizeRecord(cr)
	normalizeDueDetail(dd)

	remaining := new(big.Int).Set(amount)
	res := paymentResult{
		Applied:       big.NewInt(0),
		PrincipalPaid: big.NewInt(0),
		YieldPaid:     big.NewInt(0),
		LateFeePaid:   big.NewInt(0),
	}

	billed := new(big.Int).Sub(cr.NextDue, cr.YieldDue)
	if billed.Sign() > 0 {
		paid := minBig(remaining, billed)
		if paid.Sign() > 0 {
			remaining.Sub(remaining, paid)
			cr.NextDue = new(big.Int).Sub(cr.NextDue, paid)
			res.Applied.Add(res.Applied, paid)
			res.PrincipalPaid.Add(res.PrincipalPaid, paid)
		}
	}
	if remaining.Sign() > 0 && cr.UnbilledPrincipal.Sign() > 0 {
		paid := minBig(remaining, cr.UnbilledPrincipal)
		cr.UnbilledPrincipal = new(big.Int).Sub(cr.UnbilledPrincipal, paid)
		res.Applied.Add(res.Applied, paid)
		res.PrincipalPaid.Add(res.PrincipalPaid, paid)
	}

	if payoffAmount(cr).Sign() == 0 && cr.RemainingPeriods == 0 {
		cr.State = CreditDeleted
		res.Payoff = true
	}
	return res
}
