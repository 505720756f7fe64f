package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/colinzhu/limit-monitoring-sub000/internal/model"
)

func respondJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// respondError maps a domain error kind to the HTTP status spec.md §7
// assigns it: "400 (validation/precondition), 409 (conflict where
// exposed), 500 (upstream/unhandled)". The validation body follows spec.md
// §6's documented contract for POST /api/settlements: {status:"error",
// message, errors[]}.
func respondError(w http.ResponseWriter, err error) {
	switch e := err.(type) {
	case *model.ValidationError:
		messages := make([]string, 0, len(e.Errors))
		for _, fe := range e.Errors {
			messages = append(messages, fe.String())
		}
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status": "error", "message": "validation failed", "errors": messages,
		})
	case *model.PreconditionError:
		respondJSON(w, http.StatusBadRequest, map[string]interface{}{
			"status": "error", "message": e.Message, "errors": []string{e.Message},
		})
	case *model.ConflictError:
		respondJSON(w, http.StatusConflict, map[string]interface{}{
			"status": "error", "message": e.Message, "errors": []string{e.Message},
		})
	case *model.UpstreamError:
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": "error", "message": e.Message, "errors": []string{e.Message},
		})
	default:
		respondJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": "error", "message": err.Error(), "errors": []string{err.Error()},
		})
	}
}
