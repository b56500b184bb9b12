package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/go-chi/chi/v5"

	"pelago/native/lending"
	"pelago/observability"
)

const requestBodyLimit = 1 << 20 // 1 MiB

// operationRequest is the shared body for the four pooled transitions:
// exactly one of assets or shares must be non-zero.
type operationRequest struct {
	Market      string `json:"market"`
	Participant string `json:"participant"`
	Assets      uint64 `json:"assets"`
	Shares      uint64 `json:"shares"`
}

type repayRequest struct {
	Market   string `json:"market"`
	Payer    string `json:"payer"`
	Borrower string `json:"borrower"`
	Assets   uint64 `json:"assets"`
	Shares   uint64 `json:"shares"`
}

type collateralRequest struct {
	Market      string `json:"market"`
	Participant string `json:"participant"`
	Amount      uint64 `json:"amount"`
}

type operationResponse struct {
	Assets uint64 `json:"assets"`
	Shares uint64 `json:"shares"`
	TxHash string `json:"txHash"`
}

type marketResponse struct {
	ID                string `json:"id"`
	LoanAsset         string `json:"loanAsset"`
	CollateralAsset   string `json:"collateralAsset"`
	TotalSupplyAssets uint64 `json:"totalSupplyAssets"`
	TotalSupplyShares uint64 `json:"totalSupplyShares"`
	TotalBorrowAssets uint64 `json:"totalBorrowAssets"`
	TotalBorrowShares uint64 `json:"totalBorrowShares"`
	LLTV              uint64 `json:"lltv"`
	LastUpdate        int64  `json:"lastUpdate"`
}

type positionResponse struct {
	Owner            string `json:"owner"`
	Market           string `json:"market"`
	SupplyShares     uint64 `json:"supplyShares"`
	BorrowShares     uint64 `json:"borrowShares"`
	CollateralAmount uint64 `json:"collateralAmount"`
}

func (s *Server) mountLending(r chi.Router) {
	r.Get("/markets/{id}", s.getMarket)
	r.Get("/markets/{id}/positions/{owner}", s.getPosition)
	r.Get("/markets/{id}/positions/{owner}/health", s.getHealth)
	r.Post("/supply", s.supply)
	r.Post("/withdraw", s.withdraw)
	r.Post("/collateral/supply", s.supplyCollateral)
	r.Post("/collateral/withdraw", s.withdrawCollateral)
	r.Post("/borrow", s.borrow)
	r.Post("/repay", s.repay)
	r.Post("/accrue", s.accrue)
}

func (s *Server) supply(w http.ResponseWriter, req *http.Request) {
	s.handleOperation(w, req, "supply", s.engine.Supply)
}

func (s *Server) withdraw(w http.ResponseWriter, req *http.Request) {
	s.handleOperation(w, req, "withdraw", s.engine.Withdraw)
}

func (s *Server) borrow(w http.ResponseWriter, req *http.Request) {
	s.handleOperation(w, req, "borrow", s.engine.Borrow)
}

func (s *Server) handleOperation(w http.ResponseWriter, req *http.Request, name string, op func(lending.MarketID, common.Address, lending.Amount) (uint64, uint64, error)) {
	started := time.Now()
	var body operationRequest
	if !s.decode(w, req, &body) {
		return
	}
	id, participant, ok := s.parseTarget(w, body.Market, body.Participant)
	if !ok {
		return
	}
	amount, apiErr := parseAmount(body.Assets, body.Shares)
	if apiErr != nil {
		s.writeError(w, apiErr)
		return
	}
	assets, shares, err := op(id, participant, amount)
	observability.Ledger().RecordOperation(name, err, started)
	if err != nil {
		s.logger.Warn("operation rejected", "operation", name, "market", id.String(), "err", err)
		s.writeError(w, wrapError(err))
		return
	}
	s.logger.Info("operation settled", "operation", name, "market", id.String(), "assets", assets, "shares", shares)
	s.writeJSON(w, http.StatusOK, operationResponse{
		Assets: assets,
		Shares: shares,
		TxHash: makeTxHash(name, id, participant, assets, shares),
	})
}

func (s *Server) repay(w http.ResponseWriter, req *http.Request) {
	started := time.Now()
	var body repayRequest
	if !s.decode(w, req, &body) {
		return
	}
	id, borrower, ok := s.parseTarget(w, body.Market, body.Borrower)
	if !ok {
		return
	}
	payerHex := body.Payer
	if payerHex == "" {
		payerHex = body.Borrower
	}
	if !common.IsHexAddress(payerHex) {
		s.writeError(w, &APIError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidInput, Message: "invalid payer address"})
		return
	}
	amount, apiErr := parseAmount(body.Assets, body.Shares)
	if apiErr != nil {
		s.writeError(w, apiErr)
		return
	}
	assets, shares, err := s.engine.Repay(id, common.HexToAddress(payerHex), borrower, amount)
	observability.Ledger().RecordOperation("repay", err, started)
	if err != nil {
		s.logger.Warn("operation rejected", "operation", "repay", "market", id.String(), "err", err)
		s.writeError(w, wrapError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, operationResponse{
		Assets: assets,
		Shares: shares,
		TxHash: makeTxHash("repay", id, borrower, assets, shares),
	})
}

func (s *Server) supplyCollateral(w http.ResponseWriter, req *http.Request) {
	s.handleCollateral(w, req, "supply_collateral", s.engine.SupplyCollateral)
}

func (s *Server) withdrawCollateral(w http.ResponseWriter, req *http.Request) {
	s.handleCollateral(w, req, "withdraw_collateral", s.engine.WithdrawCollateral)
}

func (s *Server) handleCollateral(w http.ResponseWriter, req *http.Request, name string, op func(lending.MarketID, common.Address, uint64) error) {
	started := time.Now()
	var body collateralRequest
	if !s.decode(w, req, &body) {
		return
	}
	id, participant, ok := s.parseTarget(w, body.Market, body.Participant)
	if !ok {
		return
	}
	err := op(id, participant, body.Amount)
	observability.Ledger().RecordOperation(name, err, started)
	if err != nil {
		s.logger.Warn("operation rejected", "operation", name, "market", id.String(), "err", err)
		s.writeError(w, wrapError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, operationResponse{
		Assets: body.Amount,
		TxHash: makeTxHash(name, id, participant, body.Amount, 0),
	})
}

func (s *Server) accrue(w http.ResponseWriter, req *http.Request) {
	started := time.Now()
	var body struct {
		Market string `json:"market"`
	}
	if !s.decode(w, req, &body) {
		return
	}
	id, ok := lending.ParseMarketID(body.Market)
	if !ok {
		s.writeError(w, &APIError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidInput, Message: "invalid market id"})
		return
	}
	interest, err := s.engine.Accrue(id)
	observability.Ledger().RecordOperation("accrue", err, started)
	if err != nil {
		s.writeError(w, wrapError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]uint64{"interest": interest})
}

func (s *Server) getMarket(w http.ResponseWriter, req *http.Request) {
	id, ok := lending.ParseMarketID(chi.URLParam(req, "id"))
	if !ok {
		s.writeError(w, &APIError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidInput, Message: "invalid market id"})
		return
	}
	market, err := s.engine.Market(id)
	if err != nil {
		s.writeError(w, wrapError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, marketResponse{
		ID:                id.String(),
		LoanAsset:         market.LoanAsset.Hex(),
		CollateralAsset:   market.CollateralAsset.Hex(),
		TotalSupplyAssets: market.TotalSupplyAssets,
		TotalSupplyShares: market.TotalSupplyShares,
		TotalBorrowAssets: market.TotalBorrowAssets,
		TotalBorrowShares: market.TotalBorrowShares,
		LLTV:              market.LLTV,
		LastUpdate:        market.LastUpdate,
	})
}

func (s *Server) getPosition(w http.ResponseWriter, req *http.Request) {
	id, owner, ok := s.parseTarget(w, chi.URLParam(req, "id"), chi.URLParam(req, "owner"))
	if !ok {
		return
	}
	position, err := s.engine.Position(id, owner)
	if err != nil {
		s.writeError(w, wrapError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, positionResponse{
		Owner:            position.Owner.Hex(),
		Market:           position.Market.String(),
		SupplyShares:     position.SupplyShares,
		BorrowShares:     position.BorrowShares,
		CollateralAmount: position.CollateralAmount,
	})
}

func (s *Server) getHealth(w http.ResponseWriter, req *http.Request) {
	id, owner, ok := s.parseTarget(w, chi.URLParam(req, "id"), chi.URLParam(req, "owner"))
	if !ok {
		return
	}
	healthy, err := s.engine.IsHealthy(id, owner)
	if err != nil {
		s.writeError(w, wrapError(err))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]bool{"healthy": healthy})
}

func (s *Server) parseTarget(w http.ResponseWriter, marketHex, participantHex string) (lending.MarketID, common.Address, bool) {
	id, ok := lending.ParseMarketID(marketHex)
	if !ok {
		s.writeError(w, &APIError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidInput, Message: "invalid market id"})
		return lending.MarketID{}, common.Address{}, false
	}
	if !common.IsHexAddress(participantHex) {
		s.writeError(w, &APIError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidInput, Message: "invalid participant address"})
		return lending.MarketID{}, common.Address{}, false
	}
	return id, common.HexToAddress(participantHex), true
}

func (s *Server) decode(w http.ResponseWriter, req *http.Request, into any) bool {
	decoder := json.NewDecoder(http.MaxBytesReader(w, req.Body, requestBodyLimit))
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(into); err != nil {
		s.writeError(w, &APIError{HTTPStatus: http.StatusBadRequest, Code: codeInvalidInput, Message: fmt.Sprintf("decode request: %v", err)})
		return false
	}
	return true
}

func parseAmount(assets, shares uint64) (lending.Amount, *APIError) {
	switch {
	case assets > 0 && shares == 0:
		return lending.ByAssets(assets), nil
	case shares > 0 && assets == 0:
		return lending.ByShares(shares), nil
	default:
		return lending.Amount{}, &APIError{
			HTTPStatus: http.StatusBadRequest,
			Code:       codeInvalidInput,
			Message:    "exactly one of assets or shares must be non-zero",
		}
	}
}

func makeTxHash(operation string, id lending.MarketID, participant common.Address, assets, shares uint64) string {
	payload := []byte(operation)
	payload = append(payload, id[:]...)
	payload = append(payload, participant.Bytes()...)
	payload = strconv.AppendUint(payload, assets, 10)
	payload = strconv.AppendUint(payload, shares, 10)
	payload = strconv.AppendInt(payload, time.Now().UnixNano(), 10)
	return "0x" + hex.EncodeToString(ethcrypto.Keccak256(payload))
}
