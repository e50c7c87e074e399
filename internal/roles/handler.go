// Package roles serves the role administration API of the console.
package roles

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/flockadmin/console/internal/platform/httpx"
	"github.com/flockadmin/console/internal/rbac"
)

// Handler manages role management endpoints.
type Handler struct {
	logger    *slog.Logger
	service   *rbac.Service
	rbac      rbac.Middleware
	validator *validator.Validate
}

// NewHandler builds Handler instance.
func NewHandler(logger *slog.Logger, service *rbac.Service, rbac rbac.Middleware) *Handler {
	return &Handler{logger: logger, service: service, rbac: rbac, validator: validator.New()}
}

var (
	permRolesView   = rbac.Pair{Module: rbac.ModuleRoles, Action: rbac.ActionView}
	permRolesCreate = rbac.Pair{Module: rbac.ModuleRoles, Action: rbac.ActionCreate}
	permRolesUpdate = rbac.Pair{Module: rbac.ModuleRoles, Action: rbac.ActionUpdate}
	permRolesDelete = rbac.Pair{Module: rbac.ModuleRoles, Action: rbac.ActionDelete}
)

// MountRoutes registers role routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAny(permRolesView))
		r.Get("/", h.listRoles)
		r.Get("/{roleID}", h.getRole)
		r.Get("/{roleID}/permissions", h.getPermissions)
	})
	r.With(h.rbac.RequireAll(permRolesCreate)).Post("/", h.createRole)
	r.Group(func(r chi.Router) {
		r.Use(h.rbac.RequireAll(permRolesUpdate))
		r.Patch("/{roleID}", h.updateRole)
		r.Put("/{roleID}/permissions", h.savePermissions)
		r.Post("/{roleID}/reset", h.resetRole)
	})
	r.With(h.rbac.RequireAll(permRolesDelete)).Delete("/{roleID}", h.deleteRole)
}

func roleID(r *http.Request) rbac.RoleID {
	return rbac.RoleID(chi.URLParam(r, "roleID"))
}

func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	if errors.Is(err, rbac.ErrStorageUnavailable) && h.logger != nil {
		h.logger.Warn("roles request failed", slog.String("path", r.URL.Path), slog.Any("error", err))
	}
	rbac.RespondError(w, err)
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := h.service.Roles(r.Context())
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": roles})
}

type roleResponse struct {
	rbac.RoleDescriptor
	Permissions rbac.RolePermissionSet `json:"permissions"`
	Defaults    rbac.RolePermissionSet `json:"defaults,omitempty"`
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	desc, err := h.service.Role(r.Context(), roleID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	set, err := h.service.RolePermissions(r.Context(), desc.ID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	resp := roleResponse{RoleDescriptor: desc, Permissions: set}
	if defaults, ok := rbac.DefaultPermissions(desc.ID); ok {
		resp.Defaults = defaults
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type createRoleRequest struct {
	DisplayName string                 `json:"display_name" validate:"required,max=120"`
	Description string                 `json:"description" validate:"max=500"`
	Permissions rbac.RolePermissionSet `json:"permissions"`
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	if req.Permissions == nil {
		req.Permissions = rbac.RolePermissionSet{}
	}
	id, err := h.service.CreateCustomRole(r.Context(), req.DisplayName, req.Description, req.Permissions)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	w.Header().Set("Location", "/roles/"+string(id))
	httpx.JSON(w, http.StatusCreated, map[string]rbac.RoleID{"id": id})
}

type updateRoleRequest struct {
	DisplayName *string                 `json:"display_name" validate:"omitempty,max=120"`
	Description *string                 `json:"description" validate:"omitempty,max=500"`
	Permissions *rbac.RolePermissionSet `json:"permissions"`
}

func (h *Handler) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	patch := rbac.CustomRolePatch{DisplayName: req.DisplayName, Description: req.Description, Permissions: req.Permissions}
	if err := h.service.UpdateCustomRole(r.Context(), roleID(r), patch); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeleteCustomRole(r.Context(), roleID(r)); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) getPermissions(w http.ResponseWriter, r *http.Request) {
	set, err := h.service.RolePermissions(r.Context(), roleID(r))
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"role_id": roleID(r), "permissions": set})
}

type savePermissionsRequest struct {
	Permissions rbac.RolePermissionSet `json:"permissions" validate:"required"`
}

func (h *Handler) savePermissions(w http.ResponseWriter, r *http.Request) {
	var req savePermissionsRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		h.respondError(w, r, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	if err := h.service.SaveRolePermissions(r.Context(), roleID(r), req.Permissions); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) resetRole(w http.ResponseWriter, r *http.Request) {
	if err := h.service.ResetRoleToDefault(r.Context(), roleID(r)); err != nil {
		h.respondError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
