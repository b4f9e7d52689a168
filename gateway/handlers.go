package gateway

import (
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-chi/chi/v5"

	"tranchepool/archive"
	"tranchepool/native/pool"
)

var trancheNames = [pool.NumTranches]string{"senior", "junior"}

func parseTranche(name string) (int, error) {
	for i, n := range trancheNames {
		if n == name {
			return i, nil
		}
	}
	return 0, fmt.Errorf("unknown tranche %q", name)
}

func bigString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

type epochView struct {
	ID      uint64    `json:"id"`
	EndTime time.Time `json:"end_time"`
}

type trancheView struct {
	Tranche     string `json:"tranche"`
	TotalAssets string `json:"total_assets"`
	TotalSupply string `json:"total_supply"`
}

type coverView struct {
	Name        string `json:"name"`
	TotalAssets string `json:"total_assets"`
}

type feesView struct {
	Protocol        string `json:"protocol"`
	PoolOwner       string `json:"pool_owner"`
	EvaluationAgent string `json:"evaluation_agent"`
}

type poolView struct {
	Name        string        `json:"name"`
	Enabled     bool          `json:"enabled"`
	Epoch       epochView     `json:"epoch"`
	Tranches    []trancheView `json:"tranches"`
	Covers      []coverView   `json:"covers"`
	AccruedFees feesView      `json:"accrued_fees"`
}

func (s *Server) trancheViews() ([]trancheView, error) {
	out := make([]trancheView, 0, pool.NumTranches)
	for i, name := range trancheNames {
		assets, err := s.pool.TotalAssets(i)
		if err != nil {
			return nil, err
		}
		supply, err := s.pool.TotalSupply(i)
		if err != nil {
			return nil, err
		}
		out = append(out, trancheView{
			Tranche:     name,
			TotalAssets: bigString(assets),
			TotalSupply: bigString(supply),
		})
	}
	return out, nil
}

func (s *Server) handlePool(w http.ResponseWriter, _ *http.Request) {
	tranches, err := s.trancheViews()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	covers := s.pool.Covers()
	coverViews := make([]coverView, 0, len(covers))
	for _, c := range covers {
		coverViews = append(coverViews, coverView{
			Name:        c.Name(),
			TotalAssets: bigString(c.TotalAssets()),
		})
	}
	protocol, poolOwner, ea := s.pool.Withdrawables()
	epoch := s.pool.CurrentEpoch()
	writeJSON(w, http.StatusOK, poolView{
		Name:     s.pool.Name(),
		Enabled:  s.pool.Enabled(),
		Epoch:    epochView{ID: epoch.ID, EndTime: epoch.EndTime},
		Tranches: tranches,
		Covers:   coverViews,
		AccruedFees: feesView{
			Protocol:        bigString(protocol),
			PoolOwner:       bigString(poolOwner),
			EvaluationAgent: bigString(ea),
		},
	})
}

func (s *Server) handleCurrentEpoch(w http.ResponseWriter, _ *http.Request) {
	epoch := s.pool.CurrentEpoch()
	writeJSON(w, http.StatusOK, epochView{ID: epoch.ID, EndTime: epoch.EndTime})
}

func (s *Server) handleTranches(w http.ResponseWriter, _ *http.Request) {
	tranches, err := s.trancheViews()
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, tranches)
}

type redemptionSummaryView struct {
	EpochID         uint64 `json:"epoch_id"`
	SharesRequested string `json:"shares_requested"`
	SharesProcessed string `json:"shares_processed"`
	AmountProcessed string `json:"amount_processed"`
}

func (s *Server) handleTrancheEpochSummary(w http.ResponseWriter, r *http.Request) {
	tranche, err := parseTranche(chi.URLParam(r, "tranche"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	epochID, err := strconv.ParseUint(chi.URLParam(r, "epoch"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid epoch id"))
		return
	}
	summary, err := s.pool.EpochRedemptionSummary(tranche, epochID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if summary == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no redemption summary for epoch %d", epochID))
		return
	}
	writeJSON(w, http.StatusOK, redemptionSummaryView{
		EpochID:         summary.EpochID,
		SharesRequested: bigString(summary.TotalSharesRequested),
		SharesProcessed: bigString(summary.TotalSharesProcessed),
		AmountProcessed: bigString(summary.TotalAmountProcessed),
	})
}

type eventView struct {
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Timestamp  time.Time         `json:"timestamp"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func (s *Server) handleEvents(w http.ResponseWriter, _ *http.Request) {
	events := s.pool.Events()
	out := make([]eventView, 0, len(events))
	for _, e := range events {
		out = append(out, eventView(e))
	}
	writeJSON(w, http.StatusOK, out)
}

type lenderPositionView struct {
	Address         string              `json:"address"`
	Tranche         string              `json:"tranche"`
	Principal       string              `json:"principal"`
	ReinvestYield   bool                `json:"reinvest_yield"`
	LastDepositTime time.Time           `json:"last_deposit_time"`
	Shares          string              `json:"shares"`
	Redemption      lenderRedemptionDTO `json:"redemption"`
}

type lenderRedemptionDTO struct {
	SharesRequested string `json:"shares_requested"`
	Cancellable     string `json:"cancellable"`
	Withdrawable    string `json:"withdrawable"`
	TotalWithdrawn  string `json:"total_withdrawn"`
}

func (s *Server) handleLenderPosition(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "address")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address %q", raw))
		return
	}
	lender := common.HexToAddress(raw)
	tranche, err := parseTranche(chi.URLParam(r, "tranche"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	deposit, err := s.pool.DepositRecord(tranche, lender)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	if deposit == nil {
		writeError(w, http.StatusNotFound, fmt.Errorf("no deposit on record for %s", lender.Hex()))
		return
	}
	record, err := s.pool.LenderRedemptionRecord(tranche, lender)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	cancellable, err := s.pool.CancellableRedemptionShares(tranche, lender)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	withdrawable, err := s.pool.WithdrawableAssets(tranche, lender)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	shares, err := s.pool.SharesOf(tranche, lender)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	view := lenderPositionView{
		Address:         lender.Hex(),
		Tranche:         trancheNames[tranche],
		Principal:       bigString(deposit.Principal),
		ReinvestYield:   deposit.ReinvestYield,
		LastDepositTime: deposit.LastDepositTime,
		Shares:          bigString(shares),
		Redemption: lenderRedemptionDTO{
			SharesRequested: "0",
			Cancellable:     bigString(cancellable),
			Withdrawable:    bigString(withdrawable),
			TotalWithdrawn:  "0",
		},
	}
	if record != nil {
		view.Redemption.SharesRequested = bigString(record.NumSharesRequested)
		view.Redemption.TotalWithdrawn = bigString(record.TotalAmountWithdrawn)
	}
	writeJSON(w, http.StatusOK, view)
}

type creditView struct {
	Borrower          string `json:"borrower"`
	State             string `json:"state"`
	CreditLimit       string `json:"credit_limit"`
	CommittedAmount   string `json:"committed_amount"`
	YieldBps          uint64 `json:"yield_bps"`
	Revolving         bool   `json:"revolving"`
	UnbilledPrincipal string `json:"unbilled_principal"`
	NextDueDate       string `json:"next_due_date"`
	NextDue           string `json:"next_due"`
	YieldDue          string `json:"yield_due"`
	TotalPastDue      string `json:"total_past_due"`
	MissedPeriods     uint32 `json:"missed_periods"`
	RemainingPeriods  uint32 `json:"remaining_periods"`
}

func (s *Server) handleCredits(w http.ResponseWriter, _ *http.Request) {
	borrowers := s.credits.Borrowers()
	out := make([]string, 0, len(borrowers))
	for _, b := range borrowers {
		out = append(out, b.Hex())
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) creditViewFor(borrower common.Address) (*creditView, error) {
	cfg, err := s.credits.GetCreditConfig(borrower)
	if err != nil {
		return nil, err
	}
	record, err := s.credits.GetCreditRecord(borrower)
	if err != nil {
		return nil, err
	}
	return &creditView{
		Borrower:          borrower.Hex(),
		State:             record.State.String(),
		CreditLimit:       bigString(cfg.CreditLimit),
		CommittedAmount:   bigString(cfg.CommittedAmount),
		YieldBps:          cfg.YieldBps,
		Revolving:         cfg.Revolving,
		UnbilledPrincipal: bigString(record.UnbilledPrincipal),
		NextDueDate:       record.NextDueDate.Format(time.RFC3339),
		NextDue:           bigString(record.NextDue),
		YieldDue:          bigString(record.YieldDue),
		TotalPastDue:      bigString(record.TotalPastDue),
		MissedPeriods:     record.MissedPeriods,
		RemainingPeriods:  record.RemainingPeriods,
	}, nil
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "borrower")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address %q", raw))
		return
	}
	view, err := s.creditViewFor(common.HexToAddress(raw))
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type dueView struct {
	Borrower         string `json:"borrower"`
	NextDueDate      string `json:"next_due_date"`
	NextDue          string `json:"next_due"`
	YieldDue         string `json:"yield_due"`
	TotalPastDue     string `json:"total_past_due"`
	LateFee          string `json:"late_fee"`
	PrincipalPastDue string `json:"principal_past_due"`
	YieldPastDue     string `json:"yield_past_due"`
	CommittedYield   string `json:"committed_yield"`
	AccruedYield     string `json:"accrued_yield"`
	PaidThisPeriod   string `json:"paid_this_period"`
}

func (s *Server) handleCreditDue(w http.ResponseWriter, r *http.Request) {
	raw := chi.URLParam(r, "borrower")
	if !common.IsHexAddress(raw) {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid address %q", raw))
		return
	}
	borrower := common.HexToAddress(raw)
	record, due, err := s.credits.GetDueInfo(borrower)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, dueView{
		Borrower:         borrower.Hex(),
		NextDueDate:      record.NextDueDate.Format(time.RFC3339),
		NextDue:          bigString(record.NextDue),
		YieldDue:         bigString(record.YieldDue),
		TotalPastDue:     bigString(record.TotalPastDue),
		LateFee:          bigString(due.LateFee),
		PrincipalPastDue: bigString(due.PrincipalPastDue),
		YieldPastDue:     bigString(due.YieldPastDue),
		CommittedYield:   bigString(due.Committed),
		AccruedYield:     bigString(due.Accrued),
		PaidThisPeriod:   bigString(due.Paid),
	})
}

type epochRecordView struct {
	EpochID      uint64             `json:"epoch_id"`
	EndTime      time.Time          `json:"end_time"`
	ClosedAt     time.Time          `json:"closed_at"`
	SeniorAssets string             `json:"senior_assets"`
	JuniorAssets string             `json:"junior_assets"`
	Outcomes     []epochOutcomeView `json:"outcomes"`
}

type epochOutcomeView struct {
	Tranche         string `json:"tranche"`
	SharesRequested string `json:"shares_requested"`
	SharesProcessed string `json:"shares_processed"`
	AmountProcessed string `json:"amount_processed"`
	PartialFill     bool   `json:"partial_fill"`
}

func epochRecordViewOf(rec archive.EpochRecord) epochRecordView {
	outcomes := make([]epochOutcomeView, 0, len(rec.Outcomes))
	for _, o := range rec.Outcomes {
		outcomes = append(outcomes, epochOutcomeView{
			Tranche:         o.Tranche,
			SharesRequested: o.SharesRequested,
			SharesProcessed: o.SharesProcessed,
			AmountProcessed: o.AmountProcessed,
			PartialFill:     o.PartialFill,
		})
	}
	return epochRecordView{
		EpochID:      rec.EpochID,
		EndTime:      rec.EndTime,
		ClosedAt:     rec.ClosedAt,
		SeniorAssets: rec.SeniorAssets,
		JuniorAssets: rec.JuniorAssets,
		Outcomes:     outcomes,
	}
}

func (s *Server) handleEpochHistory(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, errors.New("epoch archive not configured"))
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			writeError(w, http.StatusBadRequest, fmt.Errorf("invalid limit %q", raw))
			return
		}
		limit = parsed
	}
	records, err := s.archive.EpochHistory(s.pool.Name(), limit)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	out := make([]epochRecordView, 0, len(records))
	for _, rec := range records {
		out = append(out, epochRecordViewOf(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleEpochRecord(w http.ResponseWriter, r *http.Request) {
	if s.archive == nil {
		writeError(w, http.StatusNotFound, errors.New("epoch archive not configured"))
		return
	}
	epochID, err := strconv.ParseUint(chi.URLParam(r, "epoch"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Errorf("invalid epoch id"))
		return
	}
	rec, err := s.archive.Epoch(s.pool.Name(), epochID)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, epochRecordViewOf(rec))
}

func (s *Server) handleCloseEpoch(w http.ResponseWriter, r *http.Request) {
	if err := s.closer.CloseEpoch(); err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	epoch := s.pool.CurrentEpoch()
	s.log.Info("epoch closed via admin API", "next_epoch", epoch.ID)
	writeJSON(w, http.StatusOK, epochView{ID: epoch.ID, EndTime: epoch.EndTime})
}

func (s *Server) handleProcessYield(w http.ResponseWriter, r *http.Request) {
	tranche, err := parseTranche(chi.URLParam(r, "tranche"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	caller, ok := CallerAddress(r.Context())
	if !ok {
		writeError(w, http.StatusForbidden, errors.New("token subject is not an address"))
		return
	}
	distributed, err := s.pool.ProcessYieldForLenders(caller, tranche)
	if err != nil {
		writeError(w, statusFor(err), err)
		return
	}
	s.log.Info("yield processed via admin API", "tranche", trancheNames[tranche], "distributed", bigString(distributed))
	writeJSON(w, http.StatusOK, map[string]string{
		"tranche":     trancheNames[tranche],
		"distributed": bigString(distributed),
	})
}
