package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"foodledger/internal/clock"
	"foodledger/internal/ledger"
	"foodledger/internal/state"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newServer(t *testing.T) (http.Handler, *clock.Manual) {
	t.Helper()
	clk := clock.NewManual(t0)
	l, err := ledger.Open(context.Background(), state.NewInMemoryStore(), "0xadmin", ledger.Options{Clock: clk})
	require.NoError(t, err)
	return NewRouter(l, nil, nil), clk
}

func do(t *testing.T, h http.Handler, method, path, caller, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if caller != "" {
		req.Header.Set(headerCaller, caller)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeFood(t *testing.T, rec *httptest.ResponseRecorder) foodResponse {
	t.Helper()
	var f foodResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f), rec.Body.String())
	return f
}

const addBiryani = `{"id":1,"name":"biryani","quantity":10,"price":"1.0","expiresAt":"2026-03-03T12:00:00Z"}`

func TestRouter_Scenario(t *testing.T) {
	h, _ := newServer(t)

	rec := do(t, h, http.MethodPost, "/foods", "0xadmin", addBiryani)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, "1", decodeFood(t, rec).Price)

	rec = do(t, h, http.MethodPut, "/foods/1/price", "0xadmin", `{"price":"0.1"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, h, http.MethodPost, "/foods/1/buy", "0xcustomer", `{"units":1,"payment":"0.1"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(9), decodeFood(t, rec).Quantity)

	rec = do(t, h, http.MethodPost, "/foods/1/restock", "0xadmin", `{"units":5}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(14), decodeFood(t, rec).Quantity)

	rec = do(t, h, http.MethodPost, "/owner/transfer", "0xadmin", `{"newOwner":"0xheir"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"owner":"0xheir"}`, rec.Body.String())

	rec = do(t, h, http.MethodPost, "/foods/1/restock", "0xadmin", `{"units":5}`)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = do(t, h, http.MethodGet, "/balance", "", "")
	assert.JSONEq(t, `{"balance":"0.1"}`, rec.Body.String())

	rec = do(t, h, http.MethodGet, "/foods", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var foods []foodResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &foods))
	require.Len(t, foods, 1)
	assert.Equal(t, uint64(14), foods[0].Quantity)
}

func TestRouter_ErrorStatuses(t *testing.T) {
	h, clk := newServer(t)
	require.Equal(t, http.StatusCreated, do(t, h, http.MethodPost, "/foods", "0xadmin", addBiryani).Code)

	tests := []struct {
		name   string
		method string
		path   string
		caller string
		body   string
		status int
		code   string
	}{
		{"missing caller", http.MethodPost, "/foods/1/buy", "", `{"units":1,"payment":"1"}`, http.StatusUnauthorized, codeCallerRequired},
		{"not admin", http.MethodPost, "/foods/1/restock", "0xcustomer", `{"units":1}`, http.StatusForbidden, "unauthorized"},
		{"duplicate", http.MethodPost, "/foods", "0xadmin", addBiryani, http.StatusConflict, "item_already_exists"},
		{"unknown food", http.MethodGet, "/foods/7", "", "", http.StatusNotFound, "item_not_found"},
		{"bad id", http.MethodGet, "/foods/abc", "", "", http.StatusBadRequest, codeInvalidID},
		{"bad body", http.MethodPost, "/foods/1/buy", "0xc", `{"units":`, http.StatusBadRequest, codeInvalidRequestBody},
		{"unknown field", http.MethodPost, "/foods/1/buy", "0xc", `{"units":1,"tip":"1"}`, http.StatusBadRequest, codeInvalidRequestBody},
		{"zero units", http.MethodPost, "/foods/1/buy", "0xc", `{"units":0,"payment":"0"}`, http.StatusBadRequest, "invalid_argument"},
		{"too many", http.MethodPost, "/foods/1/buy", "0xc", `{"units":11,"payment":"11"}`, http.StatusConflict, "insufficient_stock"},
		{"wrong payment", http.MethodPost, "/foods/1/buy", "0xc", `{"units":1,"payment":"0.5"}`, http.StatusPaymentRequired, "incorrect_payment"},
		{"negative price", http.MethodPut, "/foods/1/price", "0xadmin", `{"price":"-1"}`, http.StatusBadRequest, "invalid_argument"},
		{"overflow", http.MethodPost, "/foods/1/restock", "0xadmin", `{"units":18446744073709551615}`, http.StatusUnprocessableEntity, "overflow"},
		{"null owner", http.MethodPost, "/owner/transfer", "0xadmin", `{"newOwner":""}`, http.StatusBadRequest, "invalid_argument"},
		{"unknown route", http.MethodGet, "/nope", "", "", http.StatusNotFound, codeNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(t, h, tc.method, tc.path, tc.caller, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
			var er errorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &er))
			assert.Equal(t, tc.code, er.Code)
		})
	}

	clk.Advance(72 * time.Hour)
	rec := do(t, h, http.MethodPost, "/foods/1/buy", "0xc", `{"units":1,"payment":"1"}`)
	assert.Equal(t, http.StatusGone, rec.Code)
	// still readable after expiry
	assert.Equal(t, http.StatusOK, do(t, h, http.MethodGet, "/foods/1", "", "").Code)
}

func TestRequestLogger_SetsRequestID(t *testing.T) {
	h, _ := newServer(t)

	rec := do(t, h, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(headerRequestID))

	req := httptest.NewRequest(http.MethodGet, "/owner", nil)
	req.Header.Set(headerRequestID, "req-42")
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get(headerRequestID))
	assert.JSONEq(t, `{"owner":"0xadmin"}`, rec.Body.String())
}
