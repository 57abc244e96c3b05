package http

import (
	"net/http"

	"go.uber.org/zap"
)

// Service is everything the API serves.
type Service interface {
	FoodLedger
	Ownership
}

// NotFoundHandler returns a JSON 404 response for unknown routes.
func NotFoundHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, codeNotFound, "not found")
	})
}

// NewRouter wires the API routes. metrics may be nil.
func NewRouter(svc Service, metrics http.Handler, logger *zap.Logger) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", HealthHandler)
	if metrics != nil {
		mux.Handle("GET /metrics", metrics)
	}
	mux.Handle("GET /owner", HandleOwner(svc))
	mux.Handle("POST /owner/transfer", HandleTransferOwnership(svc))
	mux.Handle("GET /balance", HandleBalance(svc))
	mux.Handle("GET /foods", HandleListFoods(svc))
	mux.Handle("POST /foods", HandleAddFood(svc))
	mux.Handle("GET /foods/{id}", HandleGetFood(svc))
	mux.Handle("POST /foods/{id}/buy", HandleBuyFood(svc))
	mux.Handle("PUT /foods/{id}/price", HandleUpdatePrice(svc))
	mux.Handle("POST /foods/{id}/restock", HandleRestockFood(svc))
	mux.Handle("/", NotFoundHandler())
	return RequestLogger(mux, logger)
}
