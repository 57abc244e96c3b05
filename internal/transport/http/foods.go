package http

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"foodledger/internal/ledger"
	"foodledger/internal/model"
)

const headerCaller = "X-Caller"

// FoodLedger is the subset of the ledger the food routes need.
type FoodLedger interface {
	AddFood(ctx context.Context, caller model.Identity, in ledger.AddFoodInput) (model.Food, error)
	BuyFood(ctx context.Context, caller model.Identity, id, units uint64, payment model.Amount) (model.Food, error)
	UpdatePrice(ctx context.Context, caller model.Identity, id uint64, price model.Amount) (model.Food, error)
	RestockFood(ctx context.Context, caller model.Identity, id, units uint64) (model.Food, error)
	GetFood(id uint64) (model.Food, error)
	ListFoods() ([]model.Food, error)
}

type foodResponse struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Quantity  uint64    `json:"quantity"`
	Price     string    `json:"price"`
	ExpiresAt time.Time `json:"expiresAt"`
	IsAdded   bool      `json:"isAdded"`
}

func toFoodResponse(f model.Food) foodResponse {
	return foodResponse{
		ID:        f.ID,
		Name:      f.Name,
		Quantity:  f.Quantity,
		Price:     f.Price.String(),
		ExpiresAt: f.ExpiresAt,
		IsAdded:   f.IsAdded,
	}
}

type addFoodRequest struct {
	ID        uint64    `json:"id"`
	Name      string    `json:"name"`
	Quantity  uint64    `json:"quantity"`
	Price     string    `json:"price"`
	ExpiresAt time.Time `json:"expiresAt"`
}

type buyFoodRequest struct {
	Units   uint64 `json:"units"`
	Payment string `json:"payment"`
}

type updatePriceRequest struct {
	Price string `json:"price"`
}

type restockRequest struct {
	Units uint64 `json:"units"`
}

// HandleListFoods returns every registered item.
func HandleListFoods(svc FoodLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		foods, err := svc.ListFoods()
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		out := make([]foodResponse, 0, len(foods))
		for _, f := range foods {
			out = append(out, toFoodResponse(f))
		}
		writeJSON(w, http.StatusOK, out)
	}
}

// HandleGetFood returns one item; expired items are still returned.
func HandleGetFood(svc FoodLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		f, err := svc.GetFood(id)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toFoodResponse(f))
	}
}

// HandleAddFood registers a new item.
func HandleAddFood(svc FoodLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerOf(w, r)
		if !ok {
			return
		}
		var req addFoodRequest
		if !decode(w, r, &req) {
			return
		}
		price, err := model.ParseAmount(req.Price)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		f, err := svc.AddFood(r.Context(), caller, ledger.AddFoodInput{
			ID:        req.ID,
			Name:      req.Name,
			Quantity:  req.Quantity,
			Price:     price,
			ExpiresAt: req.ExpiresAt,
		})
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, toFoodResponse(f))
	}
}

// HandleBuyFood sells units to the caller against an exact payment.
func HandleBuyFood(svc FoodLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerOf(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req buyFoodRequest
		if !decode(w, r, &req) {
			return
		}
		payment, err := model.ParseAmount(req.Payment)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		f, err := svc.BuyFood(r.Context(), caller, id, req.Units, payment)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toFoodResponse(f))
	}
}

func HandleUpdatePrice(svc FoodLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerOf(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req updatePriceRequest
		if !decode(w, r, &req) {
			return
		}
		price, err := model.ParseAmount(req.Price)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		f, err := svc.UpdatePrice(r.Context(), caller, id, price)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toFoodResponse(f))
	}
}

func HandleRestockFood(svc FoodLedger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		caller, ok := callerOf(w, r)
		if !ok {
			return
		}
		id, ok := pathID(w, r)
		if !ok {
			return
		}
		var req restockRequest
		if !decode(w, r, &req) {
			return
		}
		f, err := svc.RestockFood(r.Context(), caller, id, req.Units)
		if err != nil {
			writeLedgerError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, toFoodResponse(f))
	}
}

func callerOf(w http.ResponseWriter, r *http.Request) (model.Identity, bool) {
	raw := r.Header.Get(headerCaller)
	if raw == "" {
		writeError(w, http.StatusUnauthorized, codeCallerRequired, headerCaller+" header is required")
		return "", false
	}
	id, err := model.ParseIdentity(raw)
	if err != nil {
		writeError(w, http.StatusUnauthorized, codeCallerRequired, err.Error())
		return "", false
	}
	return id, true
}

func pathID(w http.ResponseWriter, r *http.Request) (uint64, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidID, "id must be an unsigned integer")
		return 0, false
	}
	return id, true
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, codeInvalidRequestBody, "invalid request body")
		return false
	}
	return true
}
