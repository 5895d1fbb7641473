// Package api exposes persisted transactions over HTTP and starts fee sagas.
package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fortressi/feesaga/transaction"
	"github.com/fortressi/feesaga/workflow"
	"github.com/google/uuid"
)

// SagaRunner runs the fee saga for a request.
type SagaRunner interface {
	Run(ctx context.Context, req transaction.Request) (transaction.Response, error)
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// Env holds what the handlers need.
type Env struct {
	Transactions *transaction.Service
	Sagas        SagaRunner
	Logger       *slog.Logger
	// Now stamps requests that arrive without created_at.
	Now func() time.Time
}

// Register adds the transaction routes to mux.
func (env *Env) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /transactions", env.ListHandler)
	mux.HandleFunc("GET /transactions/{id}", env.GetHandler)
	mux.HandleFunc("POST /transactions", env.CreateHandler)
}

func (env *Env) logger() *slog.Logger {
	if env.Logger == nil {
		return slog.Default()
	}
	return env.Logger
}

func (env *Env) ListHandler(w http.ResponseWriter, r *http.Request) {
	txs, err := env.Transactions.GetAll(r.Context())
	if err != nil {
		env.logger().Error("failed to list transactions", "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to list transactions")
		return
	}
	respondWithJSON(w, http.StatusOK, txs)
}

func (env *Env) GetHandler(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimSpace(r.PathValue("id"))
	if id == "" {
		respondWithError(w, http.StatusBadRequest, "Missing or invalid ID")
		return
	}

	tx, err := env.Transactions.GetByID(r.Context(), id)
	if err != nil {
		env.logger().Error("failed to load transaction", "transaction_id", id, "error", err)
		respondWithError(w, http.StatusInternalServerError, "Failed to load transaction")
		return
	}
	if tx == nil {
		respondWithError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	respondWithJSON(w, http.StatusOK, tx)
}

// CreateHandler runs the fee saga for the posted request. A missing
// transaction_id is generated, a missing created_at is set to now and a
// missing state defaults to SETTLED_PENDING_FEE.
func (env *Env) CreateHandler(w http.ResponseWriter, r *http.Request) {
	var req transaction.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	if req.TransactionID == "" {
		req.TransactionID = uuid.NewString()
	}
	if req.CreatedAt == "" {
		now := time.Now
		if env.Now != nil {
			now = env.Now
		}
		req.CreatedAt = transaction.Timestamp(now())
	}
	if req.State == "" {
		req.State = transaction.StateSettledPendingFee
	}

	resp, err := env.Sagas.Run(r.Context(), req)
	if err != nil {
		status := statusFor(err)
		env.logger().Warn("fee saga failed", "transaction_id", req.TransactionID, "status", status, "error", err)
		respondWithError(w, status, err.Error())
		return
	}
	respondWithJSON(w, http.StatusCreated, resp)
}

func statusFor(err error) int {
	switch workflow.KindOf(err) {
	case workflow.ValidationFailure, workflow.ComplianceRejected:
		return http.StatusUnprocessableEntity
	case workflow.CrossCallFailure:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func respondWithJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}
