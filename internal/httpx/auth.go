package httpx

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
)

type ctxKey int

const userKey ctxKey = iota

// HeaderUserID carries the shopper identity set by the gateway.
const HeaderUserID = "X-User-Id"

func UserID(ctx context.Context) string {
	id, _ := ctx.Value(userKey).(string)
	return id
}

// RequireUser rejects requests without a shopper identity.
func RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := strings.TrimSpace(r.Header.Get(HeaderUserID))
		if id == "" {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authorized", "code": "UNAUTHORIZED"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, id)))
	})
}

// RequireOperator checks the bearer token against token in constant time.
func RequireOperator(token string) func(http.Handler) http.Handler {
	want := []byte(token)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || len(want) == 0 || subtle.ConstantTimeCompare([]byte(got), want) != 1 {
				writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "not authorized", "code": "UNAUTHORIZED"})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
