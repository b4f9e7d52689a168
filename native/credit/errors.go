package credit

import "errors"

var (
	ErrZeroAddressProvided      = errors.New("credit: zero address provided")
	ErrInvalidCreditLimit       = errors.New("credit: credit limit must be positive")
	ErrInvalidBasisPoints       = errors.New("credit: basis points higher than 10000")
	ErrZeroPeriods              = errors.New("credit: number of periods must be positive")
	ErrCreditAlreadyActive      = errors.New("credit: borrower already has an active credit")
	ErrCreditNotFound           = errors.New("credit: no credit for borrower")
	ErrInvalidAmount            = errors.New("credit: amount must be positive")
	ErrCreditLimitExceeded      = errors.New("credit: credit limit exceeded")
	ErrCreditNotInStateForDraw  = errors.New("credit: not in approved or good-standing state")
	ErrCreditNotInStateForPay   = errors.New("credit: not in a payable state")
	ErrInsufficientPoolBalance  = errors.New("credit: insufficient pool balance")
	ErrDefaultTriggeredTooEarly = errors.New("credit: default grace period has not elapsed")
	ErrDefaultAlreadyTriggered  = errors.New("credit: default already triggered")
	ErrReceivableNotApproved    = errors.New("credit: receivable not approved for draw")
	ErrReceivableMatured        = errors.New("credit: receivable already matured")
	ErrReceivableExhausted      = errors.New("credit: drawdown exceeds receivable availability")
	ErrPaymentExceedsPayoff     = errors.New("credit: payment exceeds total payoff amount")
)
