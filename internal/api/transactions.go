package api

import (
	"net/http"
	"strings"

	"PoE-Chain/internal/auth"
	"PoE-Chain/internal/claims"
	xerrors "PoE-Chain/internal/errors"
	"PoE-Chain/internal/txpool"
)

type listTransactionsResponse struct {
	Transactions []*txpool.Transaction `json:"transactions"`
}

func (s *Server) transactions(w http.ResponseWriter, r *http.Request) (Transactions, bool) {
	if s.deps.Transactions == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInitializationFailure, "transaction pool disabled"))
		return nil, false
	}
	return s.deps.Transactions, true
}

func (s *Server) handleSubmitTransaction(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.transactions(w, r)
	if !ok {
		return
	}
	caller, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		writeError(w, r, xerrors.New(xerrors.CodeUnauthenticated, ""))
		return
	}
	var req txpool.SubmitRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if req.Proof == nil {
		writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "proof is required"))
		return
	}
	req.Caller = caller
	tx, err := svc.Submit(r.Context(), req)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, tx)
}

func (s *Server) handleGetTransaction(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.transactions(w, r)
	if !ok {
		return
	}
	tx, err := svc.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

func (s *Server) handleListTransactions(w http.ResponseWriter, r *http.Request) {
	svc, ok := s.transactions(w, r)
	if !ok {
		return
	}
	query := r.URL.Query()
	limit, offset, err := pagination(query.Get("limit"), query.Get("offset"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	opts := []txpool.ListOption{txpool.WithLimit(limit), txpool.WithOffset(offset)}
	if raw := strings.TrimSpace(query.Get("status")); raw != "" {
		var statuses []txpool.Status
		for _, part := range strings.Split(raw, ",") {
			status := txpool.Status(strings.ToLower(strings.TrimSpace(part)))
			if !txpool.IsValidStatus(status) {
				writeError(w, r, xerrors.New(xerrors.CodeInvalidArgument, "unknown status "+part))
				return
			}
			statuses = append(statuses, status)
		}
		opts = append(opts, txpool.WithStatuses(statuses...))
	}
	if caller := strings.TrimSpace(query.Get("caller")); caller != "" {
		opts = append(opts, txpool.WithCaller(claims.Identity(caller)))
	}
	txs, err := svc.List(r.Context(), opts...)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, listTransactionsResponse{Transactions: txs})
}

func (s *Server) handleRecentEvents(w http.ResponseWriter, r *http.Request) {
	if s.deps.History == nil {
		writeJSON(w, http.StatusOK, map[string]any{"events": []claims.Event{}})
		return
	}
	limit, _, err := pagination(r.URL.Query().Get("limit"), "")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if limit <= 0 {
		limit = 20
	}
	recent, err := s.deps.History.Recent(r.Context(), limit)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"events": recent})
}
