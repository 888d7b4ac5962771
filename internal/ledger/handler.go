package ledger

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/rehabflow/clinic-platform/pkg/logging"
)

// Handler exposes bundle purchase and read endpoints. Counter mutations are
// not exposed over HTTP; they only happen through case transitions.
type Handler struct {
	repo   *Repository
	logger *logging.Logger
}

// NewHandler creates the bundle HTTP handler.
func NewHandler(repo *Repository, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return &Handler{repo: repo, logger: logger}
}

// Routes returns the /bundles router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateBundle)
	r.Get("/{id}", h.GetBundle)
	r.Get("/{id}/journal", h.GetJournal)
	return r
}

type createBundleRequest struct {
	TotalSessions int        `json:"total_sessions"`
	ExpiresAt     *time.Time `json:"expires_at,omitempty"`
}

// CreateBundle handles POST /bundles: a bundle purchase.
func (h *Handler) CreateBundle(w http.ResponseWriter, r *http.Request) {
	var req createBundleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error": "invalid JSON body"}`, http.StatusBadRequest)
		return
	}
	if req.TotalSessions < 1 {
		http.Error(w, `{"error": "total_sessions must be at least 1"}`, http.StatusBadRequest)
		return
	}

	id := uuid.New()
	b := &Bundle{
		ID:            id,
		Code:          NewBundleCode(id),
		TotalSessions: req.TotalSessions,
		Status:        BundleActive,
		ExpiresAt:     req.ExpiresAt,
	}
	if err := h.repo.CreateBundle(r.Context(), b); err != nil {
		h.logger.Error("failed to create bundle", "error", err)
		http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
		return
	}

	h.logger.Info("bundle created", "bundle_code", b.Code, "total_sessions", b.TotalSessions)
	h.writeJSON(w, http.StatusCreated, b)
}

// GetBundle handles GET /bundles/{id}.
func (h *Handler) GetBundle(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	b, err := h.repo.GetBundle(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, b)
}

// GetJournal handles GET /bundles/{id}/journal.
func (h *Handler) GetJournal(w http.ResponseWriter, r *http.Request) {
	id, ok := h.pathID(w, r)
	if !ok {
		return
	}
	if _, err := h.repo.GetBundle(r.Context(), id); err != nil {
		h.writeLookupError(w, err)
		return
	}
	entries, err := h.repo.ListJournal(r.Context(), id)
	if err != nil {
		h.writeLookupError(w, err)
		return
	}
	if entries == nil {
		entries = []JournalEntry{}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"journal": entries})
}

func (h *Handler) pathID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, `{"error": "invalid id"}`, http.StatusBadRequest)
		return uuid.Nil, false
	}
	return id, true
}

func (h *Handler) writeLookupError(w http.ResponseWriter, err error) {
	if errors.Is(err, ErrBundleNotFound) {
		http.Error(w, `{"error": "bundle not found"}`, http.StatusNotFound)
		return
	}
	h.logger.Error("bundle request failed", "error", err)
	http.Error(w, `{"error": "internal server error"}`, http.StatusInternalServerError)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("failed to encode response", "error", err)
	}
}
