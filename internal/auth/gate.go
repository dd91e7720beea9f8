package auth

import (
	"log/slog"
	"net/http"
	"net/url"
)

// Query parameters checked for a connection token, in order.
const (
	TokenParam         = "token"
	FallbackTokenParam = "access_token"
)

// TokenFromQuery returns the first non-empty token parameter.
func TokenFromQuery(q url.Values) string {
	if t := q.Get(TokenParam); t != "" {
		return t
	}
	return q.Get(FallbackTokenParam)
}

// AttributionGate attaches a principal to the request context when the
// connection URL carries a valid token. It never rejects a request: a
// missing, expired or otherwise invalid token leaves the connection
// unattributed.
func AttributionGate(verifier Verifier, logger *slog.Logger) func(http.Handler) http.Handler {
	log := logger.With("component", "AttributionGate")
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := TokenFromQuery(r.URL.Query())
			if token == "" || verifier == nil {
				next.ServeHTTP(w, r)
				return
			}
			if p, ok := attribute(r, verifier, token, log); ok {
				r = r.WithContext(ContextWithPrincipal(r.Context(), p))
			}
			next.ServeHTTP(w, r)
		})
	}
}

func attribute(r *http.Request, verifier Verifier, token string, log *slog.Logger) (p Principal, ok bool) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Error("Recovered panic during token verification", "panic", rec)
			p, ok = Principal{}, false
		}
	}()
	p, err := verifier.Verify(r.Context(), token)
	if err != nil {
		log.Debug("Connection token rejected; continuing unattributed", "err", err)
		return Principal{}, false
	}
	return p, true
}
