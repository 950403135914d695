// Package gateway exposes the lending engine over HTTP JSON in front of
// browser wallets and bots. Amounts on the wire are decimal display units;
// conversion to ledger base units happens at this boundary only.
package gateway

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"lendflow/ledger"
	"lendflow/lending"
	"lendflow/observability/metrics"
)

const requestLimit = 1 << 20 // 1 MiB

// Engine is the slice of the lending engine the gateway drives.
type Engine interface {
	OpenLoan(ctx context.Context, req lending.OpenLoanRequest) (*lending.OpenLoanResult, error)
	Repay(ctx context.Context, req lending.RepayRequest) (*lending.RepayResult, error)
	Liquidate(ctx context.Context, req lending.LiquidateRequest) (*lending.LiquidateResult, error)
	Deposit(ctx context.Context, req lending.DepositRequest) (*lending.DepositResult, error)
	WithdrawLiquidity(ctx context.Context, req lending.WithdrawRequest) (*lending.WithdrawResult, error)
	CreditBalance(ctx context.Context, address, asset string, amount *big.Int) error
	Pools(ctx context.Context) ([]lending.PoolView, error)
	Loan(ctx context.Context, loanID string) (*lending.LoanView, error)
	AccountSummary(ctx context.Context, address string) (*lending.AccountSummary, error)
	PingChain(ctx context.Context) error
}

// Pinger reports database liveness for the health endpoint.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Config wires the server.
type Config struct {
	Engine     Engine
	Units      *Units
	DB         Pinger
	Logger     *slog.Logger
	JWTSecret  string
	AdminToken string
	RatePerSec float64
	RateBurst  int
}

// Server is the HTTP front of the lending service.
type Server struct {
	engine     Engine
	units      *Units
	db         Pinger
	logger     *slog.Logger
	jwtSecret  string
	adminToken string
	ratePerSec float64
	rateBurst  int

	router http.Handler
}

// New constructs the configured router.
func New(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	srv := &Server{
		engine:     cfg.Engine,
		units:      cfg.Units,
		db:         cfg.DB,
		logger:     logger,
		jwtSecret:  cfg.JWTSecret,
		adminToken: cfg.AdminToken,
		ratePerSec: cfg.RatePerSec,
		rateBurst:  cfg.RateBurst,
	}
	srv.router = srv.buildRouter()
	return srv
}

// Handler exposes the configured HTTP router.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(requestLogger(s.logger))
	r.Use(instrument)
	r.Use(cors)
	r.Use(throttle(s.ratePerSec, s.rateBurst))

	r.Get("/health", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/pools", s.handlePools)
		r.Get("/user/{address}", s.handleUser)
		r.Get("/loans/{id}", s.handleLoan)

		r.Group(func(r chi.Router) {
			r.Use(requireJWT(s.jwtSecret))
			r.Post("/borrow", s.handleBorrow)
			r.Post("/repay", s.handleRepay)
			r.Post("/liquidate", s.handleLiquidate)
			r.Post("/provide-liquidity", s.handleProvideLiquidity)
			r.Post("/withdraw-liquidity", s.handleWithdrawLiquidity)
		})
	})

	r.Route("/admin", func(r chi.Router) {
		r.Use(requireAdminToken(s.adminToken))
		r.Post("/credit", s.handleCredit)
	})

	return r
}

func (s *Server) decode(w http.ResponseWriter, r *http.Request, into any) bool {
	body := http.MaxBytesReader(w, r.Body, requestLimit)
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(into); err != nil {
		writeBadRequest(w, "malformed request body")
		return false
	}
	return true
}

type healthResponse struct {
	Status        string `json:"status"`
	Database      bool   `json:"database"`
	Web3Connected bool   `json:"web3_connected"`
	Timestamp     string `json:"timestamp"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	}
	if s.db != nil {
		resp.Database = s.db.Ping(ctx) == nil
	}
	resp.Web3Connected = s.engine.PingChain(ctx) == nil
	if s.db != nil && !resp.Database {
		resp.Status = "degraded"
	}
	writeJSON(w, http.StatusOK, resp)
}

type poolPayload struct {
	ID             string `json:"id"`
	Asset          string `json:"asset"`
	TotalLiquidity string `json:"total_liquidity"`
	TotalBorrowed  string `json:"total_borrowed"`
	Utilisation    string `json:"utilisation"`
	BorrowRate     string `json:"borrow_rate"`
	LendRate       string `json:"lend_rate"`
}

func (s *Server) handlePools(w http.ResponseWriter, r *http.Request) {
	views, err := s.engine.Pools(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	payload := make([]poolPayload, 0, len(views))
	for _, view := range views {
		metrics.PoolUtilisation.WithLabelValues(view.Asset).Set(ratFloat(view.Utilisation))
		payload = append(payload, poolPayload{
			ID:             strings.ToLower(view.Asset),
			Asset:          view.Asset,
			TotalLiquidity: s.units.FromBase(view.Asset, view.TotalLiquidity),
			TotalBorrowed:  s.units.FromBase(view.Asset, view.TotalBorrowed),
			Utilisation:    RatString(view.Utilisation),
			BorrowRate:     RatString(view.BorrowAPR),
			LendRate:       RatString(view.LendAPR),
		})
	}
	writeJSON(w, http.StatusOK, map[string]any{"pools": payload})
}

type loanPayload struct {
	ID               string `json:"id"`
	Owner            string `json:"owner"`
	CollateralAsset  string `json:"collateral_asset"`
	CollateralAmount string `json:"collateral_amount"`
	BorrowAsset      string `json:"borrow_asset"`
	Principal        string `json:"principal"`
	AccruedInterest  string `json:"accrued_interest"`
	Outstanding      string `json:"outstanding"`
	RateMode         string `json:"rate_mode"`
	HealthFactor     string `json:"health_factor,omitempty"`
	IsActive         bool   `json:"is_active"`
	CloseReason      string `json:"close_reason,omitempty"`
	OpenedAt         string `json:"opened_at"`
}

func (s *Server) loanToPayload(loan *ledger.Loan, outstanding *big.Int, health lending.HealthFactor, known bool) loanPayload {
	payload := loanPayload{
		ID:               loan.ID,
		Owner:            loan.Owner,
		CollateralAsset:  loan.CollateralAsset,
		CollateralAmount: s.units.FromBase(loan.CollateralAsset, loan.CollateralAmount),
		BorrowAsset:      loan.BorrowAsset,
		Principal:        s.units.FromBase(loan.BorrowAsset, loan.Principal),
		AccruedInterest:  s.units.FromBase(loan.BorrowAsset, loan.AccruedInterest),
		Outstanding:      s.units.FromBase(loan.BorrowAsset, outstanding),
		RateMode:         string(loan.RateMode),
		IsActive:         loan.IsActive,
		CloseReason:      string(loan.CloseReason),
		OpenedAt:         loan.OpenedAt.UTC().Format(time.RFC3339),
	}
	if known {
		if health.Infinite {
			payload.HealthFactor = "inf"
		} else {
			payload.HealthFactor = RatString(health.Ratio)
		}
	}
	return payload
}

func (s *Server) handleLoan(w http.ResponseWriter, r *http.Request) {
	view, err := s.engine.Loan(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s.loanToPayload(view.Loan, view.Outstanding, view.Health, view.HealthKnown))
}

type userPayload struct {
	Address  string            `json:"address"`
	Balances map[string]string `json:"balances"`
	// Totals are per asset in display units, like the balances beside them.
	TotalBorrowed map[string]string `json:"total_borrowed"`
	TotalLent     map[string]string `json:"total_lent"`
	ActiveLoans   []loanPayload     `json:"active_loans"`
}

func (s *Server) handleUser(w http.ResponseWriter, r *http.Request) {
	summary, err := s.engine.AccountSummary(r.Context(), chi.URLParam(r, "address"))
	if err != nil {
		writeError(w, err)
		return
	}
	payload := userPayload{
		Address:       summary.Address,
		Balances:      make(map[string]string, len(summary.Balances)),
		TotalBorrowed: make(map[string]string, len(summary.TotalBorrowed)),
		TotalLent:     make(map[string]string, len(summary.TotalLent)),
		ActiveLoans:   make([]loanPayload, 0, len(summary.ActiveLoans)),
	}
	for asset, amount := range summary.Balances {
		payload.Balances[asset] = s.units.FromBase(asset, amount)
	}
	for asset, amount := range summary.TotalBorrowed {
		payload.TotalBorrowed[asset] = s.units.FromBase(asset, amount)
	}
	for asset, amount := range summary.TotalLent {
		payload.TotalLent[asset] = s.units.FromBase(asset, amount)
	}
	for _, loan := range summary.ActiveLoans {
		payload.ActiveLoans = append(payload.ActiveLoans, s.loanToPayload(loan, loan.Outstanding(), lending.HealthFactor{}, false))
	}
	writeJSON(w, http.StatusOK, payload)
}

type borrowRequest struct {
	Address          string `json:"address"`
	CollateralAsset  string `json:"collateral_asset"`
	CollateralAmount string `json:"collateral_amount"`
	BorrowAsset      string `json:"borrow_asset"`
	BorrowAmount     string `json:"borrow_amount"`
	RateMode         string `json:"rate_mode,omitempty"`
}

func (s *Server) handleBorrow(w http.ResponseWriter, r *http.Request) {
	var req borrowRequest
	if !s.decode(w, r, &req) {
		return
	}
	collateral, err := s.units.ToBase(req.CollateralAsset, req.CollateralAmount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	borrow, err := s.units.ToBase(req.BorrowAsset, req.BorrowAmount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	result, err := s.engine.OpenLoan(r.Context(), lending.OpenLoanRequest{
		Address:          req.Address,
		CollateralAsset:  req.CollateralAsset,
		CollateralAmount: collateral,
		BorrowAsset:      req.BorrowAsset,
		BorrowAmount:     borrow,
		RateMode:         ledger.RateMode(strings.ToLower(strings.TrimSpace(req.RateMode))),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.LoansOpened.WithLabelValues(result.Loan.BorrowAsset).Inc()
	writeJSON(w, http.StatusCreated, map[string]any{
		"loan":    s.loanToPayload(result.Loan, result.Loan.Outstanding(), lending.HealthFactor{}, false),
		"tx_hash": result.TxHash,
	})
}

type repayRequest struct {
	Address string `json:"address"`
	LoanID  string `json:"loan_id"`
	Amount  string `json:"amount"`
}

func (s *Server) handleRepay(w http.ResponseWriter, r *http.Request) {
	var req repayRequest
	if !s.decode(w, r, &req) {
		return
	}
	view, err := s.engine.Loan(r.Context(), req.LoanID)
	if err != nil {
		writeError(w, err)
		return
	}
	amount, err := s.units.ToBase(view.Loan.BorrowAsset, req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	result, err := s.engine.Repay(r.Context(), lending.RepayRequest{
		Address: req.Address,
		LoanID:  req.LoanID,
		Amount:  amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	if !result.Loan.IsActive {
		metrics.LoansClosed.WithLabelValues(string(ledger.ReasonRepaid)).Inc()
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"loan":                s.loanToPayload(result.Loan, result.Loan.Outstanding(), lending.HealthFactor{}, false),
		"interest_paid":       s.units.FromBase(result.Loan.BorrowAsset, result.InterestPaid),
		"principal_paid":      s.units.FromBase(result.Loan.BorrowAsset, result.PrincipalPaid),
		"collateral_returned": s.units.FromBase(result.Loan.CollateralAsset, result.CollateralReturned),
		"tx_hash":             result.TxHash,
	})
}

type liquidateRequest struct {
	Liquidator string `json:"liquidator"`
	LoanID     string `json:"loan_id"`
}

func (s *Server) handleLiquidate(w http.ResponseWriter, r *http.Request) {
	var req liquidateRequest
	if !s.decode(w, r, &req) {
		return
	}
	result, err := s.engine.Liquidate(r.Context(), lending.LiquidateRequest{
		Liquidator: req.Liquidator,
		LoanID:     req.LoanID,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	metrics.LoansClosed.WithLabelValues(string(ledger.ReasonLiquidated)).Inc()
	writeJSON(w, http.StatusOK, map[string]any{
		"loan":    s.loanToPayload(result.Loan, result.Loan.Outstanding(), lending.HealthFactor{}, false),
		"repaid":  s.units.FromBase(result.Loan.BorrowAsset, result.Repaid),
		"seized":  s.units.FromBase(result.Loan.CollateralAsset, result.Seized),
		"tx_hash": result.TxHash,
	})
}

type liquidityRequest struct {
	Address string `json:"address"`
	Asset   string `json:"asset"`
	Amount  string `json:"amount"`
}

type positionPayload struct {
	Asset        string `json:"asset"`
	Principal    string `json:"principal"`
	AccruedYield string `json:"accrued_yield"`
	Total        string `json:"total"`
}

func (s *Server) positionToPayload(pos *ledger.DepositPosition) positionPayload {
	return positionPayload{
		Asset:        pos.Asset,
		Principal:    s.units.FromBase(pos.Asset, pos.Principal),
		AccruedYield: s.units.FromBase(pos.Asset, pos.AccruedYield),
		Total:        s.units.FromBase(pos.Asset, pos.Total()),
	}
}

func (s *Server) handleProvideLiquidity(w http.ResponseWriter, r *http.Request) {
	var req liquidityRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := s.units.ToBase(req.Asset, req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	result, err := s.engine.Deposit(r.Context(), lending.DepositRequest{
		Address: req.Address,
		Asset:   req.Asset,
		Amount:  amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position": s.positionToPayload(result.Position),
		"tx_hash":  result.TxHash,
	})
}

func (s *Server) handleWithdrawLiquidity(w http.ResponseWriter, r *http.Request) {
	var req liquidityRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := s.units.ToBase(req.Asset, req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	result, err := s.engine.WithdrawLiquidity(r.Context(), lending.WithdrawRequest{
		Address: req.Address,
		Asset:   req.Asset,
		Amount:  amount,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"position": s.positionToPayload(result.Position),
		"tx_hash":  result.TxHash,
	})
}

func (s *Server) handleCredit(w http.ResponseWriter, r *http.Request) {
	var req liquidityRequest
	if !s.decode(w, r, &req) {
		return
	}
	amount, err := s.units.ToBase(req.Asset, req.Amount)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if err := s.engine.CreditBalance(r.Context(), req.Address, req.Asset, amount); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "credited"})
}

func ratFloat(value *big.Rat) float64 {
	if value == nil {
		return 0
	}
	f, _ := value.Float64()
	return f
}
