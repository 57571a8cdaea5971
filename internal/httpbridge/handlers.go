package httpbridge

import (
	"errors"
	"net/http"

	"github.com/shopspring/decimal"

	"github.com/rwahub-io/rwahub-client/internal/clienterr"
	"github.com/rwahub-io/rwahub-client/internal/market"
	"github.com/rwahub-io/rwahub-client/internal/wallet"
)

type sessionDTO struct {
	Connected    bool   `json:"connected"`
	Address      string `json:"address,omitempty"`
	ProviderKind string `json:"provider_kind,omitempty"`
	State        string `json:"state"`
}

func sessionPayload(sess wallet.Session) sessionDTO {
	return sessionDTO{
		Connected:    sess.Connected,
		Address:      sess.Address,
		ProviderKind: string(sess.ProviderKind),
	}
}

func (s *Server) sessionDTO() sessionDTO {
	dto := sessionPayload(s.sessions.Session())
	dto.State = string(s.sessions.State())
	return dto
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"session":  s.sessionDTO(),
		"purchase": s.controller.Snapshot(),
	})
}

func (s *Server) handleWalletConnect(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	sess, err := s.sessions.Connect(r.Context())
	if err != nil {
		writeError(w, walletErrorStatus(err), clienterr.UserMessage(err))
		return
	}
	dto := sessionPayload(sess)
	dto.State = string(s.sessions.State())
	writeJSON(w, http.StatusOK, dto)
}

func (s *Server) handleWalletDisconnect(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.sessions.Disconnect(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, clienterr.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, s.sessionDTO())
}

func (s *Server) handleWalletSession(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.sessionDTO())
}

func (s *Server) handleAssets(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.catalog.List())
}

type balancesDTO struct {
	Address     string          `json:"address"`
	SolLamports uint64          `json:"sol_lamports"`
	USDC        decimal.Decimal `json:"usdc"`
}

func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	sess := s.sessions.Session()
	if !sess.Connected {
		writeError(w, http.StatusConflict,
			clienterr.UserMessage(clienterr.ErrNoActiveSession))
		return
	}

	lamports, err := s.balances.SOL(r.Context(), sess.PublicKey)
	if err != nil {
		writeError(w, http.StatusBadGateway, clienterr.UserMessage(err))
		return
	}
	usdc, err := s.balances.USDC(r.Context(), sess.PublicKey)
	if err != nil {
		writeError(w, http.StatusBadGateway, clienterr.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusOK, balancesDTO{
		Address:     sess.Address,
		SolLamports: lamports,
		USDC:        usdc,
	})
}

type initiateRequest struct {
	AssetID string `json:"asset_id"`
	Amount  int64  `json:"amount"`
}

func (s *Server) handlePurchaseInitiate(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	var in initiateRequest
	if err := readJSON(r, &in); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	assetID, err := market.NormalizeAssetID(in.AssetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if err := s.controller.Initiate(assetID, in.Amount); err != nil {
		writeError(w, purchaseErrorStatus(err), clienterr.UserMessage(err))
		return
	}
	writeJSON(w, http.StatusAccepted, s.controller.Snapshot())
}

func (s *Server) handlePurchaseApprove(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.controller.Approve(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handlePurchaseCancel(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	if err := s.controller.Cancel(); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, s.controller.Snapshot())
}

func (s *Server) handlePurchaseRequery(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodPost) {
		return
	}
	snap, err := s.controller.Requery(r.Context())
	if err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handlePurchaseStatus(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"snapshot":    s.controller.Snapshot(),
		"transitions": s.controller.Transitions(),
	})
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if !requireMethod(w, r, http.MethodGet) {
		return
	}
	writeJSON(w, http.StatusOK, s.controller.SettledTrades())
}

func walletErrorStatus(err error) int {
	switch {
	case errors.Is(err, clienterr.ErrWalletNotInstalled):
		return http.StatusPreconditionFailed
	case errors.Is(err, clienterr.ErrWalletUserRejected):
		return http.StatusConflict
	case errors.Is(err, clienterr.ErrWalletAlreadyPending):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func purchaseErrorStatus(err error) int {
	switch {
	case errors.Is(err, clienterr.ErrInvalidAmount):
		return http.StatusBadRequest
	case errors.Is(err, clienterr.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, clienterr.ErrDuplicateInFlightTrade):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
