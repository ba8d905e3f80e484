package api

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"PoE-Chain/internal/auth"
	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
)

type createClaimRequest struct {
	Proof claims.ProofID `json:"proof"`
}

type claimResponse struct {
	claims.Entry
	Event *claims.Event `json:"event,omitempty"`
}

type listClaimsResponse struct {
	Claims []claims.Entry `json:"claims"`
	Limit  int            `json:"limit"`
	Offset int            `json:"offset"`
}

func (s *Server) handleCreateClaim(w http.ResponseWriter, r *http.Request) {
	var req createClaimRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Proof == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "proof is required"))
		return
	}
	s.dispatch(w, r, claims.CallCreate, req.Proof, http.StatusCreated)
}

func (s *Server) handleRevokeClaim(w http.ResponseWriter, r *http.Request) {
	proof, err := claims.ParseProof(r.PathValue("proof"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.dispatch(w, r, claims.CallRevoke, proof, http.StatusOK)
}

func (s *Server) handleTransferClaim(w http.ResponseWriter, r *http.Request) {
	proof, err := claims.ParseProof(r.PathValue("proof"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	s.dispatch(w, r, claims.CallTransfer, proof, http.StatusOK)
}

func (s *Server) dispatch(w http.ResponseWriter, r *http.Request, call claims.Call, proof claims.ProofID, status int) {
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, xerrors.New(xerrors.CodeUnauthenticated, ""))
		return
	}
	event, err := s.deps.Ledger.Dispatch(r.Context(), call, caller, proof)
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := claimResponse{Entry: claims.Entry{Proof: proof}, Event: &event}
	if call != claims.CallRevoke {
		resp.Owner = event.Who
		resp.RegisteredAt = event.Height
	}
	writeJSON(w, status, resp)
}

func (s *Server) handleGetClaim(w http.ResponseWriter, r *http.Request) {
	proof, err := claims.ParseProof(r.PathValue("proof"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	record, err := s.deps.Ledger.Claim(r.Context(), proof)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Entry: claims.Entry{Proof: proof, Record: record}})
}

func (s *Server) handleListClaims(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	limit, offset, err := pagination(query.Get("limit"), query.Get("offset"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	opts := []claims.ListOption{claims.WithLimit(limit), claims.WithOffset(offset)}
	if owner := strings.TrimSpace(query.Get("owner")); owner != "" {
		if common.IsHexAddress(owner) {
			owner = common.HexToAddress(owner).Hex()
		}
		opts = append(opts, claims.WithOwner(claims.Identity(owner)))
	}
	normalized := claims.BuildListOptions(opts...)
	entries, err := s.deps.Ledger.List(r.Context(), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listClaimsResponse{Claims: entries, Limit: normalized.Limit, Offset: normalized.Offset})
}

type statsResponse struct {
	Claims       claims.Stats `json:"claims"`
	Transactions any          `json:"transactions,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.deps.Ledger.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	resp := statsResponse{Claims: stats}
	if s.deps.Transactions != nil {
		txStats, err := s.deps.Transactions.Stats(r.Context())
		if err != nil {
			writeError(w, r, err)
			return
		}
		resp.Transactions = txStats
	}
	writeJSON(w, http.StatusOK, resp)
}

func pagination(rawLimit, rawOffset string) (int, int, error) {
	limit, offset := 0, 0
	if rawLimit != "" {
		parsed, err := strconv.Atoi(rawLimit)
		if err != nil {
			return 0, 0, xerrors.Wrap(xerrors.CodeInvalidArgument, err, "limit must be an integer")
		}
		limit = parsed
	}
	if rawOffset != "" {
		parsed, err := strconv.Atoi(rawOffset)
		if err != nil || parsed < 0 {
			return 0, 0, xerrors.New(xerrors.CodeInvalidArgument, "offset must be a non-negative integer")
		}
		offset = parsed
	}
	return limit, offset, nil
}
