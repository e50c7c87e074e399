package users

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/flockadmin/console/internal/platform/httpx"
	"github.com/flockadmin/console/internal/rbac"
)

// Handler manages user management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

var (
	permUsersView   = rbac.Pair{Module: rbac.ModuleUsers, Action: rbac.ActionView}
	permUsersUpdate = rbac.Pair{Module: rbac.ModuleUsers, Action: rbac.ActionUpdate}
)

// MountRoutes registers user routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(permUsersView))
		r.Get("/", h.listUsers)
		r.Get("/{userID}", h.getUser)
		r.Get("/{userID}/permissions", h.effectivePermissions)
		r.Get("/{userID}/overrides", h.getOverrides)
	})
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(permUsersUpdate))
		r.Put("/{userID}/role", h.assignRole)
		r.Put("/{userID}/overrides", h.saveOverrides)
	})
}

func classifyError(err error) (string, int, string, bool) {
	if errors.Is(err, ErrUserNotFound) {
		return "urn:flock:users:not_found", http.StatusNotFound, "User Not Found", true
	}
	return "", 0, "", false
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, rbac.ErrStorageUnavailable) && h.logger != nil {
		h.logger.Warn("users request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	httpx.RespondError(w, err, classifyError, rbac.ClassifyError)
}

func (h *Handler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if users == nil {
		users = []User{}
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"users": users})
}

func (h *Handler) getUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.service.GetUser(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, user)
}

type assignRoleRequest struct {
	RoleID string `json:"role_id" validate:"required,max=64"`
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	if err := h.service.AssignRole(r.Context(), chi.URLParam(r, "userID"), rbac.RoleID(req.RoleID)); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type effectivePermissionsResponse struct {
	UserID      string                    `json:"user_id"`
	RoleID      rbac.RoleID               `json:"role_id"`
	RoleName    string                    `json:"role_name"`
	Permissions rbac.EffectivePermissions `json:"permissions"`
}

func (h *Handler) effectivePermissions(w http.ResponseWriter, r *http.Request) {
	user, eff, err := h.service.EffectivePermissions(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, effectivePermissionsResponse{
		UserID:      user.ID,
		RoleID:      user.RoleID,
		RoleName:    h.service.RoleName(r.Context(), user.RoleID),
		Permissions: eff,
	})
}

func (h *Handler) getOverrides(w http.ResponseWriter, r *http.Request) {
	ov, err := h.service.Overrides(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, ov)
}

type overrideEntry struct {
	Module  string `json:"module" validate:"required"`
	Action  string `json:"action" validate:"required"`
	Granted *bool  `json:"granted" validate:"required"`
}

type saveOverridesRequest struct {
	Entries  []overrideEntry `json:"entries" validate:"max=512,dive"`
	Revision string          `json:"revision"`
}

func (h *Handler) saveOverrides(w http.ResponseWriter, r *http.Request) {
	var req saveOverridesRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	entries := make([]rbac.Override, len(req.Entries))
	for i, e := range req.Entries {
		entries[i] = rbac.Override{Module: rbac.Module(e.Module), Action: rbac.Action(e.Action), Granted: *e.Granted}
	}
	saved, err := h.service.SaveOverrides(r.Context(), chi.URLParam(r, "userID"), entries, req.Revision)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, saved)
}
