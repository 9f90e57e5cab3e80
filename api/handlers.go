/*
handlers.go - HTTP API handlers for the hearts engine

PURPOSE:
  Exposes the hearts pool via REST API. Handles HTTP request/response,
  JSON serialization, and delegates to domain logic.

ENDPOINTS:
  Users:
    GET    /api/users                        List all users
    POST   /api/users                        Register user
    GET    /api/users/{id}                   Get user profile

  Hearts:
    POST   /api/users/{id}/hearts/lose       Record a failure event
    POST   /api/users/{id}/hearts/gain       Credit hearts from a manual action
    POST   /api/users/{id}/hearts/perfect    Record a flawless completion
    GET    /api/users/{id}/hearts            Current pool state
    GET    /api/users/{id}/hearts/next-refill Countdown to the next refill

  Ledger:
    GET    /api/users/{id}/transactions      Transaction history
    GET    /api/users/{id}/stats             Lifetime stats report

  Admin:
    POST   /api/admin/process-due            Run a maturation sweep now

REQUEST FLOW:
  1. Parse HTTP request
  2. Validate input
  3. Call domain logic (pool, ledger, stats)
  4. Serialize response
  5. Handle errors

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Validation errors, unknown reasons
  - 404: User not found
  - 500: Internal and persistence errors

SECURITY NOTE:
  Currently NO authentication or authorization. All endpoints are public.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pulse/hearts-engine/hearts"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Pool  *hearts.Pool
	Users hearts.UserStore
	Clock hearts.Clock
}

// NewHandler creates a new handler.
func NewHandler(pool *hearts.Pool, users hearts.UserStore, clock hearts.Clock) *Handler {
	if clock == nil {
		clock = hearts.SystemClock{}
	}
	return &Handler{Pool: pool, Users: users, Clock: clock}
}

// =============================================================================
// USER HANDLERS
// =============================================================================

// ListUsers returns all registered users.
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, len(users))
	for i, u := range users {
		dtos[i] = toUserDTO(u)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser registers a user profile.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}
	if req.ID == "" {
		writeError(w, http.StatusBadRequest, "Missing user id", nil)
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid timezone (use IANA name)", err)
			return
		}
	}

	maxHearts := req.MaxHearts
	if maxHearts <= 0 {
		maxHearts = hearts.DefaultMaxHearts
	}

	profile := hearts.UserProfile{
		UserID:    hearts.UserID(req.ID),
		MaxHearts: maxHearts,
		Premium:   req.Premium,
		Timezone:  req.Timezone,
		CreatedAt: h.Clock.Now(),
	}

	if err := h.Users.SaveUser(r.Context(), profile); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to create user", err)
		return
	}
	writeJSON(w, http.StatusCreated, toUserDTO(profile))
}

// GetUser returns a single user profile.
func (h *Handler) GetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	profile, err := h.Users.GetUser(r.Context(), hearts.UserID(id))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}
	writeJSON(w, http.StatusOK, toUserDTO(*profile))
}

// =============================================================================
// HEART HANDLERS
// =============================================================================

// LoseHeart records one failure event against the pool.
func (h *Handler) LoseHeart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req LoseHeartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Pool.LoseHeart(r.Context(), hearts.UserID(id), hearts.Reason(req.Reason), req.ChallengeID)
	if err != nil && !hearts.IsRetryable(err) {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, LoseHeartDTO{
		Applied:          res.Applied,
		CurrentHearts:    res.CurrentHearts,
		NextRefillInSecs: durationSecs(res.NextRefillIn),
	})
}

// GainHeart credits hearts from a manual action, clamped to the cap.
func (h *Handler) GainHeart(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req GainHeartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	res, err := h.Pool.GainHeart(r.Context(), hearts.UserID(id), hearts.Reason(req.Reason), req.Amount, req.ChallengeID)
	if err != nil && !hearts.IsRetryable(err) {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, GainHeartDTO{
		Applied:       res.Applied,
		AppliedAmount: res.AppliedAmount,
		ClampedAmount: res.ClampedAmount,
		CurrentHearts: res.CurrentHearts,
	})
}

// RecordPerfect counts a flawless completion toward the streak bonus.
func (h *Handler) RecordPerfect(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	res, err := h.Pool.RecordPerfect(r.Context(), hearts.UserID(id))
	if err != nil && !hearts.IsRetryable(err) {
		writeDomainError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, PerfectDTO{
		StreakCount:   res.StreakCount,
		BonusGranted:  res.BonusGranted,
		CurrentHearts: res.CurrentHearts,
	})
}

// GetHearts returns the current pool state, applying due maturations first.
func (h *Handler) GetHearts(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	state, err := h.Pool.GetState(r.Context(), hearts.UserID(id))
	if err != nil && !hearts.IsRetryable(err) {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toHeartStateDTO(state))
}

// GetNextRefill returns the countdown to the next scheduled refill.
func (h *Handler) GetNextRefill(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	d, err := h.Pool.TimeUntilNextRefill(r.Context(), hearts.UserID(id))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, NextRefillDTO{NextRefillInSecs: durationSecs(d)})
}

// =============================================================================
// LEDGER HANDLERS
// =============================================================================

// GetTransactions returns the user's ledger history, oldest first. An
// optional ?since=RFC3339 filters to the tail.
func (h *Handler) GetTransactions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var since *time.Time
	if raw := r.URL.Query().Get("since"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since (use RFC3339)", err)
			return
		}
		since = &t
	}

	txs, err := h.Pool.Transactions(r.Context(), hearts.UserID(id), since)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	dtos := make([]TransactionDTO, len(txs))
	for i, tx := range txs {
		dtos[i] = toTransactionDTO(tx)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetStats returns the lifetime analytics report.
func (h *Handler) GetStats(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	userID := hearts.UserID(id)

	profile, err := h.Users.GetUser(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get user", err)
		return
	}
	if profile == nil {
		writeError(w, http.StatusNotFound, "User not found", nil)
		return
	}

	txs, err := h.Pool.Transactions(r.Context(), userID, nil)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toStatsDTO(hearts.ComputeStats(userID, txs)))
}

// =============================================================================
// ADMIN HANDLERS
// =============================================================================

// ProcessDue sweeps every known user for matured refills and missed midnight
// resets. Idempotent; deterministic transaction ids make repeats no-ops.
func (h *Handler) ProcessDue(w http.ResponseWriter, r *http.Request) {
	users, err := h.Users.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	now := h.Clock.Now()
	summary := ProcessDueDTO{}
	for _, u := range users {
		res, err := h.Pool.ProcessDue(r.Context(), u.UserID, now)
		if err != nil && !hearts.IsRetryable(err) {
			writeDomainError(w, err)
			return
		}
		summary.UsersProcessed++
		if res.MidnightReset {
			summary.MidnightResets++
		}
		summary.RefilledSlots += res.RefilledSlots
	}
	writeJSON(w, http.StatusOK, summary)
}

// =============================================================================
// HELPERS
// =============================================================================

func toUserDTO(p hearts.UserProfile) UserDTO {
	return UserDTO{
		ID:        string(p.UserID),
		MaxHearts: p.MaxHearts,
		Premium:   p.Premium,
		Timezone:  p.Timezone,
		CreatedAt: p.CreatedAt.UTC().Format(time.RFC3339),
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps engine errors to HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, hearts.ErrUserNotFound):
		writeError(w, http.StatusNotFound, "User not found", err)
	case errors.Is(err, hearts.ErrUnknownReason):
		writeError(w, http.StatusBadRequest, "Unknown reason", err)
	default:
		writeError(w, http.StatusInternalServerError, "Internal error", err)
	}
}
