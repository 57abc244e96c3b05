package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"foodledger/internal/model"
)

const (
	codeNotFound           = "not_found"
	codeInvalidRequestBody = "invalid_request_body"
	codeInvalidID          = "invalid_id"
	codeCallerRequired     = "caller_required"
	codeInternalError      = "internal_error"
)

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	payload, err := json.Marshal(errorResponse{
		Error: msg,
		Code:  code,
	})
	if err != nil {
		_, _ = w.Write([]byte(`{"error":"internal error","code":"internal_error"}`))
		return
	}
	_, _ = w.Write(payload)
}

// writeLedgerError maps a ledger error to its status; infrastructure failures are not echoed.
func writeLedgerError(w http.ResponseWriter, err error) {
	code := model.ErrorCode(err)
	switch {
	case errors.Is(err, model.ErrUnauthorized):
		writeError(w, http.StatusForbidden, code, err.Error())
	case errors.Is(err, model.ErrInvalidArgument):
		writeError(w, http.StatusBadRequest, code, err.Error())
	case errors.Is(err, model.ErrItemAlreadyExists), errors.Is(err, model.ErrInsufficientStock):
		writeError(w, http.StatusConflict, code, err.Error())
	case errors.Is(err, model.ErrItemNotFound):
		writeError(w, http.StatusNotFound, code, err.Error())
	case errors.Is(err, model.ErrItemExpired):
		writeError(w, http.StatusGone, code, err.Error())
	case errors.Is(err, model.ErrIncorrectPayment):
		writeError(w, http.StatusPaymentRequired, code, err.Error())
	case errors.Is(err, model.ErrOverflow):
		writeError(w, http.StatusUnprocessableEntity, code, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, codeInternalError, "internal error")
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
