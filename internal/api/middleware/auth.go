package middleware

import (
	"net/http"
	"strings"

	"signaltrader/pkg/crypto"
)

// Auth - middleware аутентификации по Bearer токену
//
// В конфигурации хранится только bcrypt-хэш токена (API_TOKEN_HASH);
// сам токен нигде не сохраняется. Пустой хэш отключает аутентификацию -
// режим локального развертывания.
func Auth(tokenHash string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if tokenHash == "" {
				next.ServeHTTP(w, r)
				return
			}

			header := r.Header.Get("Authorization")
			token, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || token == "" {
				w.Header().Set("WWW-Authenticate", "Bearer")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !crypto.CheckToken(token, tokenHash) {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
