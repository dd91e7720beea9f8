package auth

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
)

// RequireBearer rejects requests without a valid "Authorization: Bearer"
// token and attaches the principal to the context of those that pass.
func RequireBearer(verifier Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With("component", "BearerAuth")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			header := r.Header.Get("Authorization")
			token, found := strings.CutPrefix(header, "Bearer ")
			if !found || token == "" {
				writeUnauthorized(w, "Authorization header must start with Bearer")
				return
			}
			p, err := verifier.Verify(r.Context(), token)
			if err != nil {
				log.Debug("Rejected bearer token", "err", err, "path", r.URL.Path)
				writeUnauthorized(w, "Invalid or expired token")
				return
			}
			next.ServeHTTP(w, r.WithContext(ContextWithPrincipal(r.Context(), p)))
		})
	}
}

func writeUnauthorized(w http.ResponseWriter, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
