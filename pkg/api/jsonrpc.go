package api

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sort"
	"sync"
	"time"

	"github.com/luxfi/log"
	"github.com/shopspring/decimal"

	"github.com/luxfi/synth/pkg/synth"
)

// JSONRPCServer handles JSON-RPC 2.0 requests against the registered
// vaults and leveraged positions.
type JSONRPCServer struct {
	mu        sync.RWMutex
	vaults    map[string]*synth.LendingVault
	positions map[string]*synth.LeveragedPosition
	logger    log.Logger
	started   time.Time
}

// NewJSONRPCServer creates a new JSON-RPC server
func NewJSONRPCServer(logger log.Logger) *JSONRPCServer {
	return &JSONRPCServer{
		vaults:    make(map[string]*synth.LendingVault),
		positions: make(map[string]*synth.LeveragedPosition),
		logger:    logger,
		started:   time.Now(),
	}
}

// RegisterVault exposes a vault under its asset symbol.
func (s *JSONRPCServer) RegisterVault(v *synth.LendingVault) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vaults[v.Asset()] = v
}

// RegisterPosition exposes a position under its product symbol.
func (s *JSONRPCServer) RegisterPosition(p *synth.LeveragedPosition) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions[p.Symbol()] = p
}

// JSONRPCRequest represents a JSON-RPC 2.0 request
type JSONRPCRequest struct {
	JSONRPC string          `json:"jsonrpc"`
	Method  string          `json:"method"`
	Params  json.RawMessage `json:"params"`
	ID      interface{}     `json:"id"`
}

// JSONRPCResponse represents a JSON-RPC 2.0 response
type JSONRPCResponse struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *RPCError   `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// RPCError represents a JSON-RPC error
type RPCError struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// Error implements error interface
func (e *RPCError) Error() string {
	return fmt.Sprintf("RPC Error %d: %s", e.Code, e.Message)
}

// Standard JSON-RPC error codes
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603
)

// VaultStatus is the wire view of a lending vault's ledger. Amounts are
// base-unit integers rendered as decimal strings.
type VaultStatus struct {
	Asset               string `json:"asset"`
	TotalAssets         string `json:"totalAssets"`
	AvailableLiquidity  string `json:"availableLiquidity"`
	TotalBorrowed       string `json:"totalBorrowed"`
	AccumulatedInterest string `json:"accumulatedInterest"`
	TotalSupply         string `json:"totalSupply"`
	UtilizationBps      uint64 `json:"utilizationBps"`
	InterestRateBps     uint64 `json:"interestRateBps"`
	MaxUtilizationBps   uint64 `json:"maxUtilizationBps"`
	Paused              bool   `json:"paused"`
}

// PositionStatus is the wire view of a leveraged position's ledger.
type PositionStatus struct {
	Symbol               string          `json:"symbol"`
	Direction            string          `json:"direction"`
	StableAsset          string          `json:"stableAsset"`
	ExposureAsset        string          `json:"exposureAsset"`
	NavPerShare          string          `json:"navPerShare"`
	Nav                  decimal.Decimal `json:"nav"`
	TotalSupply          string          `json:"totalSupply"`
	TotalCollateral      string          `json:"totalCollateral"`
	TotalBorrowed        string          `json:"totalBorrowed"`
	TotalExposure        string          `json:"totalExposure"`
	StableHeld           string          `json:"stableHeld"`
	LeverageRatioBps     uint64          `json:"leverageRatioBps"`
	SlippageToleranceBps uint64          `json:"slippageToleranceBps"`
	LastRebalancePrice   string          `json:"lastRebalancePrice"`
	LastRebalanceAt      int64           `json:"lastRebalanceAt"`
	NeedsRebalance       bool            `json:"needsRebalance"`
	Paused               bool            `json:"paused"`
}

// ServeHTTP implements http.Handler
func (s *JSONRPCServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req JSONRPCRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.sendError(w, nil, ParseError, "Parse error")
		return
	}

	if req.JSONRPC != "2.0" {
		s.sendError(w, req.ID, InvalidRequest, "Invalid Request")
		return
	}

	result, rpcErr := s.handleMethod(req.Method, req.Params)
	if rpcErr != nil {
		s.sendError(w, req.ID, rpcErr.Code, rpcErr.Message)
		return
	}

	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Result:  result,
		ID:      req.ID,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *JSONRPCServer) handleMethod(method string, params json.RawMessage) (interface{}, *RPCError) {
	switch method {
	// Vault operations
	case "synth_deposit":
		return s.deposit(params)
	case "synth_withdraw":
		return s.withdraw(params)
	case "synth_getVault":
		return s.getVault(params)
	case "synth_getVaultBalance":
		return s.getVaultBalance(params)
	case "synth_getDebt":
		return s.getDebt(params)

	// Position operations
	case "synth_mint":
		return s.mint(params)
	case "synth_redeem":
		return s.redeem(params)
	case "synth_rebalance":
		return s.rebalance(params)
	case "synth_getNav":
		return s.getNav(params)
	case "synth_getPosition":
		return s.getPosition(params)
	case "synth_getPositionBalance":
		return s.getPositionBalance(params)

	// Admin operations, owner checks happen in the engine
	case "synth_forceRebalance":
		return s.forceRebalance(params)
	case "synth_setInterestRate":
		return s.setInterestRate(params)
	case "synth_setMaxUtilization":
		return s.setMaxUtilization(params)
	case "synth_authorizeBorrower":
		return s.authorizeBorrower(params)
	case "synth_revokeBorrower":
		return s.revokeBorrower(params)
	case "synth_setLeverageRatio":
		return s.setLeverageRatio(params)
	case "synth_setSlippageTolerance":
		return s.setSlippageTolerance(params)
	case "synth_pauseVault":
		return s.pauseVault(params)
	case "synth_unpauseVault":
		return s.unpauseVault(params)
	case "synth_pausePosition":
		return s.pausePosition(params)
	case "synth_unpausePosition":
		return s.unpausePosition(params)

	// Info methods
	case "synth_listVaults":
		return s.listVaults()
	case "synth_listPositions":
		return s.listPositions()
	case "synth_getInfo":
		return s.getInfo()
	case "synth_ping":
		return "pong", nil

	default:
		return nil, &RPCError{Code: MethodNotFound, Message: "Method not found"}
	}
}

func (s *JSONRPCServer) vaultFor(asset string) (*synth.LendingVault, *RPCError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.vaults[asset]
	if !ok {
		return nil, &RPCError{Code: InternalError, Message: fmt.Sprintf("unknown vault: %s", asset)}
	}
	return v, nil
}

func (s *JSONRPCServer) positionFor(symbol string) (*synth.LeveragedPosition, *RPCError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[symbol]
	if !ok {
		return nil, &RPCError{Code: InternalError, Message: fmt.Sprintf("unknown position: %s", symbol)}
	}
	return p, nil
}

// parseAmount decodes a base-10 integer amount in base units.
func parseAmount(raw string) (*big.Int, *RPCError) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return nil, &RPCError{Code: InvalidParams, Message: fmt.Sprintf("invalid amount: %q", raw)}
	}
	return n, nil
}

func engineError(err error) *RPCError {
	return &RPCError{Code: InternalError, Message: err.Error()}
}

// Vault deposit
func (s *JSONRPCServer) deposit(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Asset   string `json:"asset"`
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	v, rpcErr := s.vaultFor(p.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}

	shares, err := v.Deposit(p.Account, amount)
	if err != nil {
		return nil, engineError(err)
	}

	return map[string]interface{}{
		"shares": shares.String(),
		"status": "deposited",
	}, nil
}

// Vault withdrawal
func (s *JSONRPCServer) withdraw(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Asset   string `json:"asset"`
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	v, rpcErr := s.vaultFor(p.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	amount, rpcErr := parseAmount(p.Amount)
	if rpcErr != nil {
		return nil, rpcErr
	}

	burned, err := v.Withdraw(p.Account, amount)
	if err != nil {
		return nil, engineError(err)
	}

	return map[string]interface{}{
		"sharesBurned": burned.String(),
		"status":       "withdrawn",
	}, nil
}

// Vault ledger snapshot
func (s *JSONRPCServer) getVault(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Asset string `json:"asset"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	v, rpcErr := s.vaultFor(p.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}

	return VaultStatus{
		Asset:               v.Asset(),
		TotalAssets:         v.TotalAssets().String(),
		AvailableLiquidity:  v.AvailableLiquidity().String(),
		TotalBorrowed:       v.TotalBorrowed().String(),
		AccumulatedInterest: v.AccumulatedInterest().String(),
		TotalSupply:         v.TotalSupply().String(),
		UtilizationBps:      v.UtilizationRate(),
		InterestRateBps:     v.InterestRateBps(),
		MaxUtilizationBps:   v.MaxUtilizationBps(),
		Paused:              v.IsPaused(),
	}, nil
}

// LP share balance
func (s *JSONRPCServer) getVaultBalance(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Asset   string `json:"asset"`
		Account string `json:"account"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	v, rpcErr := s.vaultFor(p.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}

	return map[string]interface{}{
		"asset":   v.Asset(),
		"account": p.Account,
		"shares":  v.ShareBalance(p.Account).String(),
	}, nil
}

// Borrower debt view
func (s *JSONRPCServer) getDebt(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Asset    string `json:"asset"`
		Borrower string `json:"borrower"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	v, rpcErr := s.vaultFor(p.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}

	principal, interest := v.GetDebt(p.Borrower)
	return map[string]interface{}{
		"asset":     v.Asset(),
		"borrower":  p.Borrower,
		"principal": principal.String(),
		"interest":  interest.String(),
	}, nil
}

// Position mint
func (s *JSONRPCServer) mint(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol     string `json:"symbol"`
		Account    string `json:"account"`
		Collateral string `json:"collateral"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, rpcErr := s.positionFor(p.Symbol)
	if rpcErr != nil {
		return nil, rpcErr
	}
	collateral, rpcErr := parseAmount(p.Collateral)
	if rpcErr != nil {
		return nil, rpcErr
	}

	shares, err := pos.Mint(p.Account, collateral)
	if err != nil {
		return nil, engineError(err)
	}

	return map[string]interface{}{
		"shares": shares.String(),
		"status": "minted",
	}, nil
}

// Position redeem
func (s *JSONRPCServer) redeem(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol  string `json:"symbol"`
		Account string `json:"account"`
		Shares  string `json:"shares"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, rpcErr := s.positionFor(p.Symbol)
	if rpcErr != nil {
		return nil, rpcErr
	}
	shares, rpcErr := parseAmount(p.Shares)
	if rpcErr != nil {
		return nil, rpcErr
	}

	returned, err := pos.Redeem(p.Account, shares)
	if err != nil {
		return nil, engineError(err)
	}

	return map[string]interface{}{
		"returned": returned.String(),
		"status":   "redeemed",
	}, nil
}

// Permissionless rebalance
func (s *JSONRPCServer) rebalance(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, rpcErr := s.positionFor(p.Symbol)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if err := pos.Rebalance(); err != nil {
		return nil, engineError(err)
	}

	return map[string]interface{}{
		"symbol": pos.Symbol(),
		"nav":    pos.NavPerShare().String(),
		"status": "rebalanced",
	}, nil
}

// Owner-forced rebalance, skips the interval check
func (s *JSONRPCServer) forceRebalance(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol string `json:"symbol"`
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, rpcErr := s.positionFor(p.Symbol)
	if rpcErr != nil {
		return nil, rpcErr
	}

	if err := pos.ForceRebalance(p.Caller); err != nil {
		return nil, engineError(err)
	}

	return map[string]interface{}{
		"symbol": pos.Symbol(),
		"nav":    pos.NavPerShare().String(),
		"status": "rebalanced",
	}, nil
}

// Live NAV quote at the current oracle price
func (s *JSONRPCServer) getNav(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, rpcErr := s.positionFor(p.Symbol)
	if rpcErr != nil {
		return nil, rpcErr
	}

	nav, err := pos.CurrentNav()
	if err != nil {
		return nil, engineError(err)
	}

	dec := int32(pos.Market().StableDecimals)
	return map[string]interface{}{
		"symbol":      pos.Symbol(),
		"navPerShare": nav.String(),
		"nav":         decimal.NewFromBigInt(nav, -dec),
	}, nil
}

// Position ledger snapshot
func (s *JSONRPCServer) getPosition(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol string `json:"symbol"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, rpcErr := s.positionFor(p.Symbol)
	if rpcErr != nil {
		return nil, rpcErr
	}

	market := pos.Market()
	nav := pos.NavPerShare()
	return PositionStatus{
		Symbol:               pos.Symbol(),
		Direction:            pos.Direction().String(),
		StableAsset:          market.StableAsset,
		ExposureAsset:        market.ExposureAsset,
		NavPerShare:          nav.String(),
		Nav:                  decimal.NewFromBigInt(nav, -int32(market.StableDecimals)),
		TotalSupply:          pos.TotalSupply().String(),
		TotalCollateral:      pos.TotalCollateral().String(),
		TotalBorrowed:        pos.TotalBorrowed().String(),
		TotalExposure:        pos.TotalExposure().String(),
		StableHeld:           pos.StableHeld().String(),
		LeverageRatioBps:     pos.LeverageRatioBps(),
		SlippageToleranceBps: pos.SlippageToleranceBps(),
		LastRebalancePrice:   pos.LastRebalancePrice().String(),
		LastRebalanceAt:      pos.LastRebalanceAt().Unix(),
		NeedsRebalance:       pos.NeedsRebalance(),
		Paused:               pos.IsPaused(),
	}, nil
}

// Token holder balance
func (s *JSONRPCServer) getPositionBalance(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol  string `json:"symbol"`
		Account string `json:"account"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, rpcErr := s.positionFor(p.Symbol)
	if rpcErr != nil {
		return nil, rpcErr
	}

	return map[string]interface{}{
		"symbol":  pos.Symbol(),
		"account": p.Account,
		"shares":  pos.ShareBalance(p.Account).String(),
	}, nil
}

func (s *JSONRPCServer) setInterestRate(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Asset  string `json:"asset"`
		Caller string `json:"caller"`
		Bps    uint64 `json:"bps"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	v, rpcErr := s.vaultFor(p.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := v.SetInterestRate(p.Caller, p.Bps); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"status": "ok"}, nil
}

func (s *JSONRPCServer) setMaxUtilization(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Asset  string `json:"asset"`
		Caller string `json:"caller"`
		Bps    uint64 `json:"bps"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	v, rpcErr := s.vaultFor(p.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := v.SetMaxUtilization(p.Caller, p.Bps); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"status": "ok"}, nil
}

func (s *JSONRPCServer) authorizeBorrower(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Asset    string `json:"asset"`
		Caller   string `json:"caller"`
		Borrower string `json:"borrower"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	v, rpcErr := s.vaultFor(p.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := v.AuthorizeBorrower(p.Caller, p.Borrower); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"status": "ok"}, nil
}

func (s *JSONRPCServer) revokeBorrower(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Asset    string `json:"asset"`
		Caller   string `json:"caller"`
		Borrower string `json:"borrower"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	v, rpcErr := s.vaultFor(p.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := v.RevokeBorrower(p.Caller, p.Borrower); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"status": "ok"}, nil
}

func (s *JSONRPCServer) setLeverageRatio(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol string `json:"symbol"`
		Caller string `json:"caller"`
		Bps    uint64 `json:"bps"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, rpcErr := s.positionFor(p.Symbol)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := pos.SetLeverageRatio(p.Caller, p.Bps); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"status": "ok"}, nil
}

func (s *JSONRPCServer) setSlippageTolerance(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol string `json:"symbol"`
		Caller string `json:"caller"`
		Bps    uint64 `json:"bps"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, rpcErr := s.positionFor(p.Symbol)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := pos.SetSlippageTolerance(p.Caller, p.Bps); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"status": "ok"}, nil
}

func (s *JSONRPCServer) pauseVault(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Asset  string `json:"asset"`
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	v, rpcErr := s.vaultFor(p.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := v.Pause(p.Caller); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"status": "paused"}, nil
}

func (s *JSONRPCServer) unpauseVault(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Asset  string `json:"asset"`
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	v, rpcErr := s.vaultFor(p.Asset)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := v.Unpause(p.Caller); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"status": "unpaused"}, nil
}

func (s *JSONRPCServer) pausePosition(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol string `json:"symbol"`
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, rpcErr := s.positionFor(p.Symbol)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := pos.Pause(p.Caller); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"status": "paused"}, nil
}

func (s *JSONRPCServer) unpausePosition(params json.RawMessage) (interface{}, *RPCError) {
	var p struct {
		Symbol string `json:"symbol"`
		Caller string `json:"caller"`
	}
	if err := json.Unmarshal(params, &p); err != nil {
		return nil, &RPCError{Code: InvalidParams, Message: "Invalid params"}
	}

	pos, rpcErr := s.positionFor(p.Symbol)
	if rpcErr != nil {
		return nil, rpcErr
	}
	if err := pos.Unpause(p.Caller); err != nil {
		return nil, engineError(err)
	}
	return map[string]interface{}{"status": "unpaused"}, nil
}

func (s *JSONRPCServer) listVaults() (interface{}, *RPCError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	assets := make([]string, 0, len(s.vaults))
	for asset := range s.vaults {
		assets = append(assets, asset)
	}
	sort.Strings(assets)
	return assets, nil
}

func (s *JSONRPCServer) listPositions() (interface{}, *RPCError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.positions))
	for symbol := range s.positions {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols, nil
}

// Service info
func (s *JSONRPCServer) getInfo() (interface{}, *RPCError) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return map[string]interface{}{
		"version":   "1.0.0",
		"service":   "synthd",
		"timestamp": time.Now().Unix(),
		"uptime":    time.Since(s.started).Seconds(),
		"vaults":    len(s.vaults),
		"positions": len(s.positions),
	}, nil
}

func (s *JSONRPCServer) sendError(w http.ResponseWriter, id interface{}, code int, message string) {
	resp := JSONRPCResponse{
		JSONRPC: "2.0",
		Error: &RPCError{
			Code:    code,
			Message: message,
		},
		ID: id,
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// StartJSONRPCServer starts the JSON-RPC server
func StartJSONRPCServer(ctx context.Context, port int, server *JSONRPCServer) error {
	mux := http.NewServeMux()
	mux.Handle("/", server)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		httpServer.Shutdown(context.Background())
	}()

	server.logger.Info("JSON-RPC server started", "port", port)
	return httpServer.ListenAndServe()
}
