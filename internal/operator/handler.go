package operator

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/tourbase/tourbase/internal/domain"
	infraauth "github.com/tourbase/tourbase/internal/infra/auth"
)

type Handler struct {
	service   *Service
	validator infraauth.TokenValidator
	logger    *zap.Logger
}

func NewHandler(service *Service, validator infraauth.TokenValidator, logger *zap.Logger) *Handler {
	return &Handler{service: service, validator: validator, logger: logger.Named("operator-api")}
}

// Routes монтирует операторский периметр: логин публичный, остальное — за
// RS256-middleware.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Post("/auth/token", h.login)

	r.Group(func(r chi.Router) {
		r.Use(infraauth.NewMiddleware(h.validator, h.logger))

		r.Post("/agents", h.provisionAgent)
		r.Get("/agents", h.listAgents)
		r.Post("/agents/{agentID}/revoke", h.revokeAgent)
		r.Get("/audit", h.auditEntries)
	})
	return r
}

func (h *Handler) login(w http.ResponseWriter, r *http.Request) {
	var req domain.LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "malformed request body", http.StatusBadRequest)
		return
	}

	token, err := h.service.GenerateToken(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			http.Error(w, "invalid credentials", http.StatusUnauthorized)
			return
		}
		h.logger.Error("token issue failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, token)
}

type provisionRequest struct {
	Name string `json:"name"`
	Role string `json:"role"`
}

func (h *Handler) provisionAgent(w http.ResponseWriter, r *http.Request) {
	var req provisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Name == "" {
		http.Error(w, "name and role are required", http.StatusBadRequest)
		return
	}

	out, err := h.service.ProvisionAgent(r.Context(), req.Name, req.Role)
	if err != nil {
		h.logger.Warn("agent provisioning rejected", zap.Error(err))
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	h.writeJSON(w, http.StatusCreated, out)
}

func (h *Handler) listAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := h.service.ListAgents(r.Context())
	if err != nil {
		h.logger.Error("list agents failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, agents)
}

func (h *Handler) revokeAgent(w http.ResponseWriter, r *http.Request) {
	agentID := chi.URLParam(r, "agentID")
	if agentID == "" {
		http.Error(w, "agentID is required", http.StatusBadRequest)
		return
	}

	if err := h.service.RevokeAgent(r.Context(), agentID); err != nil {
		h.logger.Error("agent revocation failed", zap.String("agent_id", agentID), zap.Error(err))
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) auditEntries(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	entries, err := h.service.AuditEntries(r.Context(), r.URL.Query().Get("agent_id"), limit)
	if err != nil {
		h.logger.Error("audit query failed", zap.Error(err))
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	h.writeJSON(w, http.StatusOK, entries)
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.logger.Error("response encode failed", zap.Error(err))
	}
}
