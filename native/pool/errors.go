package pool

import "errors"

var (
	ErrUnauthorized                         = errors.New("pool: caller lacks required role")
	ErrZeroAddressProvided                  = errors.New("pool: zero address provided")
	ErrInvalidBasisPoints                   = errors.New("pool: basis points higher than 10000")
	ErrInvalidTrancheIndex                  = errors.New("pool: invalid tranche index")
	ErrInvalidAmount                        = errors.New("pool: amount must be positive")
	ErrPoolNotOn                            = errors.New("pool: pool is not enabled")
	ErrDepositBelowMinimum                  = errors.New("pool: deposit amount below pool minimum")
	ErrTrancheLiquidityCapExceeded          = errors.New("pool: tranche liquidity cap exceeded")
	ErrSeniorRatioExceeded                  = errors.New("pool: senior to junior ratio ceiling exceeded")
	ErrInsufficientShares                   = errors.New("pool: insufficient share balance")
	ErrInsufficientPoolBalance              = errors.New("pool: insufficient pool balance")
	ErrNothingToCancel                      = errors.New("pool: no cancellable redemption shares in the current epoch")
	ErrRedemptionLockout                    = errors.New("pool: deposit is still inside the withdrawal lockout window")
	ErrEpochNotDue                          = errors.New("pool: current epoch has not ended yet")
	ErrInvalidEpoch                         = errors.New("pool: epoch checkpoint is invalid or behind the current epoch")
	ErrPoolOwnerInsufficientLiquidity       = errors.New("pool: pool owner fee exceeds withdrawable amount")
	ErrEvaluationAgentInsufficientLiquidity = errors.New("pool: evaluation agent fee exceeds withdrawable amount")
	ErrProtocolInsufficientLiquidity        = errors.New("pool: protocol fee exceeds withdrawable amount")
	ErrCoverLiquidityCapExceeded            = errors.New("pool: first-loss cover max liquidity exceeded")
	ErrCoverBelowMinLiquidity               = errors.New("pool: redemption would leave cover below minimum liquidity")
	ErrLossExceedsTotalAssets               = errors.New("pool: loss exceeds total tranche and cover assets")
	ErrInvalidPeriodDuration                = errors.New("pool: invalid pay period duration")
	ErrInvalidPoolConfig                    = errors.New("pool: invalid pool configuration")
)
