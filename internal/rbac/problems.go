package rbac

import (
	"errors"
	"net/http"

	"github.com/flockadmin/console/internal/platform/httpx"
)

// ClassifyError maps engine errors to problem types so the console can show
// inline messages. It implements httpx.Classifier.
func ClassifyError(err error) (string, int, string, bool) {
	switch {
	case errors.Is(err, ErrStorageUnavailable):
		return "urn:flock:rbac:storage_unavailable", http.StatusServiceUnavailable, "Storage Unavailable", true
	case errors.Is(err, ErrRoleNotFound):
		return "urn:flock:rbac:role_not_found", http.StatusNotFound, "Role Not Found", true
	case errors.Is(err, ErrNotFound):
		return "urn:flock:rbac:not_found", http.StatusNotFound, "Not Found", true
	case errors.Is(err, ErrDuplicateRole):
		return "urn:flock:rbac:duplicate_role", http.StatusConflict, "Duplicate Role", true
	case errors.Is(err, ErrRoleInUse):
		return "urn:flock:rbac:role_in_use", http.StatusConflict, "Role In Use", true
	case errors.Is(err, ErrOverridesConflict):
		return "urn:flock:rbac:overrides_conflict", http.StatusConflict, "Overrides Changed", true
	case errors.Is(err, ErrCannotDeleteBuiltin):
		return "urn:flock:rbac:builtin_role", http.StatusUnprocessableEntity, "Built-in Role", true
	case errors.Is(err, ErrNoDefaultForCustomRole):
		return "urn:flock:rbac:no_default", http.StatusUnprocessableEntity, "No Default", true
	case errors.Is(err, ErrInvalidName):
		return "urn:flock:rbac:invalid_name", http.StatusBadRequest, "Invalid Name", true
	case errors.Is(err, ErrDuplicateOverrideEntry):
		return "urn:flock:rbac:duplicate_override", http.StatusBadRequest, "Duplicate Override", true
	case errors.Is(err, ErrInvalidPermission):
		return "urn:flock:rbac:invalid_permission", http.StatusBadRequest, "Invalid Permission", true
	}
	return "", 0, "", false
}

// RespondError writes err as a problem response.
func RespondError(w http.ResponseWriter, err error) {
	httpx.RespondError(w, err, ClassifyError)
}
