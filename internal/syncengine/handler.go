package syncengine

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rehabflow/clinic-platform/internal/booking"
	"github.com/rehabflow/clinic-platform/internal/domain"
	"github.com/rehabflow/clinic-platform/internal/identity"
	"github.com/rehabflow/clinic-platform/internal/ledger"
	"github.com/rehabflow/clinic-platform/internal/referral"
	"github.com/rehabflow/clinic-platform/internal/scheduling"
	"github.com/rehabflow/clinic-platform/pkg/logging"
)

// Handler exposes the booking and case endpoints over HTTP. Every mutation
// goes through the coordinator; reads hit the repositories directly.
type Handler struct {
	coordinator *Coordinator
	bookings    *booking.Repository
	cases       *referral.Repository
	logger      *logging.Logger
}

// NewHandler creates the sync-engine HTTP handler.
func NewHandler(coordinator *Coordinator, bookings *booking.Repository, cases *referral.Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{
		coordinator: coordinator,
		bookings:    bookings,
		cases:       cases,
		logger:      logger,
	}
}

// BookingRoutes returns the /bookings router.
func (h *Handler) BookingRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateBooking)
	r.Get("/{id}", h.GetBooking)
	r.Patch("/{id}", h.UpdateBooking)
	r.Post("/{id}/cancel", h.CancelBooking)
	return r
}

// CaseRoutes returns the /cases router.
func (h *Handler) CaseRoutes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateCase)
	r.Get("/{id}", h.GetCase)
	r.Post("/{id}/status", h.UpdateCaseStatus)
	r.Post("/{id}/reverse", h.ReverseCaseStatus)
	r.Get("/{id}/history", h.GetCaseHistory)
	return r
}

type openCaseRequest struct {
	SourceOrgID uuid.UUID            `json:"source_org_id"`
	TargetOrgID uuid.UUID            `json:"target_org_id"`
	Assessment  *referral.Assessment `json:"assessment,omitempty"`
}

type createBookingRequest struct {
	ProviderID uuid.UUID        `json:"provider_id"`
	ClinicID   uuid.UUID        `json:"clinic_id"`
	Date       string           `json:"date"`
	StartTime  string           `json:"start_time"`
	EndTime    string           `json:"end_time"`
	BundleID   *uuid.UUID       `json:"bundle_id,omitempty"`
	CaseID     *uuid.UUID       `json:"case_id,omitempty"`
	OpenCase   *openCaseRequest `json:"open_case,omitempty"`
}

type bookingResponse struct {
	Booking *booking.Booking `json:"booking"`
	Case    *referral.Case   `json:"case,omitempty"`
}

// CreateBooking handles POST /bookings.
func (h *Handler) CreateBooking(w http.ResponseWriter, r *http.Request) {
	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	slot, err := scheduling.NewTimeRange(req.StartTime, req.EndTime)
	if err != nil {
		h.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}

	in := CreateBookingInput{
		ProviderID: req.ProviderID,
		ClinicID:   req.ClinicID,
		Date:       req.Date,
		Slot:       slot,
		BundleID:   req.BundleID,
		CaseID:     req.CaseID,
	}
	if req.OpenCase != nil {
		in.OpenCase = &OpenCaseInput{
			SourceOrgID: req.OpenCase.SourceOrgID,
			TargetOrgID: req.OpenCase.TargetOrgID,
			Assessment:  req.OpenCase.Assessment,
		}
	}

	b, cs, err := h.coordinator.CreateBooking(r.Context(), in, actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, bookingResponse{Booking: b, Case: cs})
}

// GetBooking handles GET /bookings/{id}.
func (h *Handler) GetBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	b, err := h.bookings.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bookingResponse{Booking: b})
}

type updateBookingRequest struct {
	Status     *booking.Status      `json:"status,omitempty"`
	ProviderID *uuid.UUID           `json:"provider_id,omitempty"`
	Date       *string              `json:"date,omitempty"`
	StartTime  *string              `json:"start_time,omitempty"`
	EndTime    *string              `json:"end_time,omitempty"`
	Reason     string               `json:"reason,omitempty"`
	Assessment *referral.Assessment `json:"assessment,omitempty"`
}

// UpdateBooking handles PATCH /bookings/{id}: reschedules, status changes,
// or both in one request.
func (h *Handler) UpdateBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req updateBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if (req.StartTime == nil) != (req.EndTime == nil) {
		h.writeError(w, &domain.ValidationError{Missing: []string{"start_time", "end_time"}})
		return
	}

	in := UpdateBookingInput{
		Status:     req.Status,
		ProviderID: req.ProviderID,
		Date:       req.Date,
		Reason:     req.Reason,
		Assessment: req.Assessment,
	}
	if req.StartTime != nil {
		slot, err := scheduling.NewTimeRange(*req.StartTime, *req.EndTime)
		if err != nil {
			h.writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
			return
		}
		in.Slot = &slot
	}

	b, err := h.coordinator.UpdateBooking(r.Context(), id, in, actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bookingResponse{Booking: b})
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

// CancelBooking handles POST /bookings/{id}/cancel.
func (h *Handler) CancelBooking(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	b, err := h.coordinator.CancelBooking(r.Context(), id, req.Reason, actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, bookingResponse{Booking: b})
}

type createCaseRequest struct {
	SourceOrgID uuid.UUID            `json:"source_org_id"`
	TargetOrgID uuid.UUID            `json:"target_org_id"`
	BundleID    *uuid.UUID           `json:"bundle_id,omitempty"`
	Assessment  *referral.Assessment `json:"assessment,omitempty"`
}

// CreateCase handles POST /cases: a standalone pending case with no booking.
func (h *Handler) CreateCase(w http.ResponseWriter, r *http.Request) {
	var req createCaseRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	cs, err := h.coordinator.CreateCase(r.Context(), CreateCaseInput{
		SourceOrgID: req.SourceOrgID,
		TargetOrgID: req.TargetOrgID,
		BundleID:    req.BundleID,
		Assessment:  req.Assessment,
	}, actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, cs)
}

// GetCase handles GET /cases/{id}.
func (h *Handler) GetCase(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	cs, err := h.cases.Get(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cs)
}

type updateCaseStatusRequest struct {
	Status     referral.Status          `json:"status"`
	Reason     string                   `json:"reason,omitempty"`
	Assessment *referral.Assessment     `json:"assessment,omitempty"`
	Completion *referral.CompletionNote `json:"completion,omitempty"`
}

// UpdateCaseStatus handles POST /cases/{id}/status.
func (h *Handler) UpdateCaseStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req updateCaseStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	cs, err := h.coordinator.UpdateCaseStatus(r.Context(), id, req.Status, referral.TransitionInput{
		Reason:     req.Reason,
		Assessment: req.Assessment,
		Completion: req.Completion,
	}, actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cs)
}

// ReverseCaseStatus handles POST /cases/{id}/reverse. Admin only; the
// coordinator picks the reversal target from the current status.
func (h *Handler) ReverseCaseStatus(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	cs, err := h.coordinator.ReverseCaseStatus(r.Context(), id, req.Reason, actorFrom(r))
	if err != nil {
		h.writeError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, cs)
}

// GetCaseHistory handles GET /cases/{id}/history.
func (h *Handler) GetCaseHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	entries, err := h.cases.ListHistory(r.Context(), id)
	if err != nil {
		h.writeError(w, err)
		return
	}
	if entries == nil {
		entries = []referral.HistoryEntry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"history": entries})
}

// actorFrom returns the actor placed in the context by the auth middleware.
// Routes are mounted behind it, so a missing actor means a wiring bug; the
// zero actor fails the coordinator's role gate either way.
func actorFrom(r *http.Request) identity.Actor {
	actor, _ := identity.ActorFromContext(r.Context())
	return actor
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "invalid id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}

type errorBody struct {
	Error   string   `json:"error"`
	Missing []string `json:"missing,omitempty"`
}

// writeError maps the domain error taxonomy onto HTTP statuses. Unknown
// errors are logged and surfaced as 500 without leaking detail.
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var (
		validation   *domain.ValidationError
		transition   *domain.InvalidTransitionError
		conflict     *scheduling.ConflictError
		insufficient *ledger.InsufficientSessionsError
		bundleState  *ledger.BundleStateError
		permission   *identity.PermissionError
	)

	status := http.StatusInternalServerError
	body := errorBody{Error: "internal server error"}

	switch {
	case errors.As(err, &validation):
		status = http.StatusBadRequest
		body = errorBody{Error: validation.Error(), Missing: validation.Missing}
	case errors.As(err, &transition):
		status = http.StatusConflict
		body = errorBody{Error: transition.Error()}
	case errors.As(err, &conflict):
		status = http.StatusConflict
		body = errorBody{Error: conflict.Error()}
	case errors.As(err, &insufficient):
		status = http.StatusConflict
		body = errorBody{Error: insufficient.Error()}
	case errors.As(err, &bundleState):
		status = http.StatusConflict
		body = errorBody{Error: bundleState.Error()}
	case errors.As(err, &permission):
		status = http.StatusForbidden
		body = errorBody{Error: permission.Error()}
	case errors.Is(err, booking.ErrNotFound), errors.Is(err, referral.ErrNotFound),
		errors.Is(err, ledger.ErrBundleNotFound):
		status = http.StatusNotFound
		body = errorBody{Error: err.Error()}
	default:
		h.logger.Error("request failed", "error", err)
	}

	h.writeJSON(w, status, body)
}
