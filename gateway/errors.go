package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"lendflow/chain"
	"lendflow/ledger"
	"lendflow/lending"
	"lendflow/oracle"
)

type errorBody struct {
	Error string `json:"error"`
}

// statusFor maps the engine's error taxonomy onto HTTP statuses. Unknown
// errors collapse to 500 without leaking internals.
func statusFor(err error) (int, string) {
	switch {
	case errors.Is(err, lending.ErrInvalidAmount):
		return http.StatusBadRequest, "invalid amount"
	case errors.Is(err, lending.ErrInvalidAddress):
		return http.StatusBadRequest, "invalid address"
	case errors.Is(err, lending.ErrLoanNotFound):
		return http.StatusNotFound, "loan not found"
	case errors.Is(err, lending.ErrPoolNotFound):
		return http.StatusNotFound, "pool not found"
	case errors.Is(err, lending.ErrDepositNotFound):
		return http.StatusNotFound, "deposit not found"
	case errors.Is(err, ledger.ErrNotFound):
		return http.StatusNotFound, "not found"
	case errors.Is(err, lending.ErrLoanClosed):
		return http.StatusConflict, "loan is closed"
	case errors.Is(err, lending.ErrOverRepayment):
		return http.StatusConflict, "amount exceeds outstanding balance"
	case errors.Is(err, lending.ErrNotEligibleForLiquidation):
		return http.StatusConflict, "loan is not liquidatable"
	case errors.Is(err, lending.ErrRiskRejected):
		return http.StatusUnprocessableEntity, "position would be undercollateralized"
	case errors.Is(err, lending.ErrInsufficientLiquidity):
		return http.StatusUnprocessableEntity, "insufficient pool liquidity"
	case errors.Is(err, ledger.ErrInsufficientBalance):
		return http.StatusUnprocessableEntity, "insufficient balance"
	case errors.Is(err, oracle.ErrPriceUnavailable):
		return http.StatusServiceUnavailable, "price unavailable"
	case errors.Is(err, chain.ErrUpstreamTimeout):
		return http.StatusServiceUnavailable, "chain submission timed out"
	case errors.Is(err, chain.ErrRejected):
		return http.StatusBadGateway, "chain rejected transaction"
	default:
		return http.StatusInternalServerError, "internal error"
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, message := statusFor(err)
	writeJSON(w, status, errorBody{Error: message})
}

func writeBadRequest(w http.ResponseWriter, message string) {
	writeJSON(w, http.StatusBadRequest, errorBody{Error: message})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
