package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"fundarb/pkg/crypto"
)

// TokenAuth проверяет токен доступа из заголовка
// Authorization: Bearer <token>.
//
// Настроенное значение - либо bcrypt-хеш токена (рекомендуется,
// сырой токен не попадает в окружение), либо сам токен, тогда
// сравнение constant-time. Пустое значение запрещает доступ
// целиком: отсутствие конфигурации не должно открывать API.
func TokenAuth(token string) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if token == "" {
				http.Error(w, "API token is not configured", http.StatusForbidden)
				return
			}

			header := r.Header.Get("Authorization")
			presented, ok := strings.CutPrefix(header, "Bearer ")
			if !ok || presented == "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dashboard"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			if !tokenAccepted(presented, token) {
				w.Header().Set("WWW-Authenticate", `Bearer realm="dashboard"`)
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// tokenAccepted сверяет предъявленный токен с настроенным значением
func tokenAccepted(presented, configured string) bool {
	if isBcryptHash(configured) {
		return crypto.TokenMatches(presented, configured)
	}
	return subtle.ConstantTimeCompare([]byte(presented), []byte(configured)) == 1
}

func isBcryptHash(s string) bool {
	return strings.HasPrefix(s, "$2a$") ||
		strings.HasPrefix(s, "$2b$") ||
		strings.HasPrefix(s, "$2y$")
}
