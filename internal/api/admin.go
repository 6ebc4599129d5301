package api

import (
	"log/slog"
	"net/http"
	"strconv"

	"golang.org/x/crypto/bcrypt"
)

// adminOnly guards operator endpoints with HTTP basic auth against the
// configured bcrypt hash. With no hash configured the endpoints are
// disabled outright.
func (h *Handler) adminOnly(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.adminHash == "" {
			writeError(w, http.StatusNotFound, "not found")
			return
		}
		_, password, ok := r.BasicAuth()
		if !ok || bcrypt.CompareHashAndPassword([]byte(h.adminHash), []byte(password)) != nil {
			w.Header().Set("WWW-Authenticate", `Basic realm="spark-gateway admin"`)
			writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next(w, r)
	}
}

func (h *Handler) handleOutcomes(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}

	recs, err := h.outcomes.Recent(r.Context(), limit)
	if err != nil {
		slog.Error("failed to read outcomes", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"count":    len(recs),
		"outcomes": recs,
	})
}
