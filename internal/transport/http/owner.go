package http

import (
	"context"
	"net/http"

	"foodledger/internal/model"
)

// Ownership exposes the administrator and the custodial balance.
type Ownership interface {
	Owner() model.Identity
	TransferOwnership(ctx context.Context, caller, next model.Identity) error
	Balance() model.Amount
}

type ownerResponse struct {
	Owner model.Identity `json:"owner"`
}

type transferRequest struct {
	NewOwner model.Identity `json:"newOwner"`
}

type balanceResponse struct {
	Balance string `json:"balance"`
}

func HandleOwner(svc Ownership) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, ownerResponse{Owner: svc.Owner()})
	}
}

// HandleTransferOwnership hands administration to newOwner. Null identities are rejected.
func HandleTransferOwnership(svc Ownership) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerOf(w, r)
		if !ok {
			return
		}
		var req transferRequest
		if !decode(w, r, &req) {
			return
		}
		if err := svc.TransferOwnership(r.Context(), caller, req.NewOwner); err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, ownerResponse{Owner: svc.Owner()})
	}
}

func HandleBalance(svc Ownership) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, balanceResponse{Balance: svc.Balance().String()})
	}
}
