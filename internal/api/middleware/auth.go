package middleware

import (
	"crypto/sha256"
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"

	"surgetrader/pkg/crypto"
)

// BearerAuth - middleware проверки bearer токена по bcrypt хэшу
//
// Назначение:
// API закрывает и открывает позиции, поэтому все маршруты кроме /health
// требуют заголовок Authorization: Bearer <token>.
//
// bcrypt дорогой, поэтому SHA-256 последнего принятого токена
// запоминается и сравнивается за константное время.
type BearerAuth struct {
	hash string

	mu       sync.RWMutex
	accepted [32]byte
	cached   bool
}

// NewBearerAuth создаёт проверку для bcrypt хэша токена
func NewBearerAuth(hash string) *BearerAuth {
	return &BearerAuth{hash: hash}
}

// Middleware оборачивает handler проверкой токена
func (a *BearerAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, ok := bearerToken(r)
		if !ok || !a.verify(token) {
			w.Header().Set("WWW-Authenticate", `Bearer realm="surgetrader"`)
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *BearerAuth) verify(token string) bool {
	sum := sha256.Sum256([]byte(token))

	a.mu.RLock()
	if a.cached && subtle.ConstantTimeCompare(sum[:], a.accepted[:]) == 1 {
		a.mu.RUnlock()
		return true
	}
	a.mu.RUnlock()

	if err := crypto.VerifyToken(token, a.hash); err != nil {
		return false
	}

	a.mu.Lock()
	a.accepted = sum
	a.cached = true
	a.mu.Unlock()
	return true
}

// bearerToken извлекает токен из заголовка Authorization
//
// WebSocket клиенты браузера не могут задать заголовок, для /ws
// допускается ?token=<token>.
func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if strings.HasPrefix(h, "Bearer ") {
		t := strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
		return t, t != ""
	}
	if t := r.URL.Query().Get("token"); t != "" && strings.HasPrefix(r.URL.Path, "/ws") {
		return t, true
	}
	return "", false
}
