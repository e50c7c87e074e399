package rbac

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/flockadmin/console/internal/platform/httpx"
)

// Check modes accepted by the check endpoint.
const (
	CheckAny = "any"
	CheckAll = "all"
)

// Handler exposes permission checks and the module catalogue over JSON.
type Handler struct {
	logger    *slog.Logger
	resolver  *Resolver
	validator *validator.Validate
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, resolver *Resolver) *Handler {
	return &Handler{logger: logger, resolver: resolver, validator: validator.New()}
}

// MountRoutes registers the permission routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/check", h.check)
	r.Get("/modules", h.modules)
}

type checkRequest struct {
	Pairs []Pair `json:"pairs" validate:"required,min=1,max=64,dive"`
	Mode  string `json:"mode" validate:"omitempty,oneof=any all"`
}

type checkResponse struct {
	Allowed   bool       `json:"allowed"`
	Decisions []Decision `json:"decisions"`
}

// check evaluates pairs for the calling principal. Evaluation stops as soon
// as the outcome of the requested mode is known.
func (h *Handler) check(w http.ResponseWriter, r *http.Request) {
	p, ok := PrincipalFromContext(r.Context())
	if !ok {
		httpx.Problem(w, http.StatusUnauthorized, "Unauthorized", "identity required")
		return
	}
	var req checkRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.validator.Struct(req); err != nil {
		httpx.ValidationProblem(w, err)
		return
	}
	pairs := make([]Pair, len(req.Pairs))
	for i, pair := range req.Pairs {
		if !pair.Module.Valid() {
			RespondError(w, ErrInvalidPermission)
			return
		}
		action, err := ParseAction(string(pair.Action))
		if err != nil {
			RespondError(w, err)
			return
		}
		pairs[i] = Pair{Module: pair.Module, Action: action}
	}

	all := req.Mode == CheckAll
	resp := checkResponse{Allowed: all, Decisions: make([]Decision, 0, len(pairs))}
	for _, pair := range pairs {
		d := h.resolver.Check(r.Context(), p.UserID, p.RoleID, pair.Module, pair.Action)
		resp.Decisions = append(resp.Decisions, d)
		if all && !d.Allowed {
			resp.Allowed = false
			break
		}
		if !all && d.Allowed {
			resp.Allowed = true
			break
		}
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type moduleCatalogue struct {
	Modules []Module `json:"modules"`
	Actions []Action `json:"actions"`
}

func (h *Handler) modules(w http.ResponseWriter, _ *http.Request) {
	httpx.JSON(w, http.StatusOK, moduleCatalogue{Modules: KnownModules(), Actions: AllActions()})
}
