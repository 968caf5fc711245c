package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/sells-group/lead-engine/internal/model"
)

const (
	headerActorID   = "X-Actor-Id"
	headerActorRole = "X-Actor-Role"

	maxBodyBytes   = 1 << 20
	maxImportBytes = 10 << 20
)

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

// respondErr maps domain errors to status codes. Unclassified errors are
// logged and hidden behind a generic message.
func respondErr(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case model.IsValidation(err):
		respondError(w, http.StatusBadRequest, err.Error())
	case model.IsNotFound(err):
		respondError(w, http.StatusNotFound, err.Error())
	case model.IsConflict(err):
		respondError(w, http.StatusConflict, err.Error())
	case model.IsForbidden(err):
		respondError(w, http.StatusForbidden, err.Error())
	default:
		zap.L().Error("api: request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decodeJSON reads a bounded JSON body into v.
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

func queryInt(r *http.Request, key string, def int) int {
	if v, err := strconv.Atoi(r.URL.Query().Get(key)); err == nil && v > 0 {
		return v
	}
	return def
}

func queryBool(r *http.Request, key string) bool {
	v, _ := strconv.ParseBool(r.URL.Query().Get(key))
	return v
}
