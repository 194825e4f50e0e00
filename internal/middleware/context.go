package middleware

import (
	"context"
	"net/http"
	"strings"
)

type contextKey string

const identityKey contextKey = "identity"

// Identity — кто делает запрос. Заполняется внешним слоем аутентификации
// (сессия фрилансера или share-токен клиента) через доверенные заголовки.
type Identity struct {
	UserID     string
	UserType   string // "freelancer" | "client"
	UserName   string
	ShareToken string // непустой только для клиентов
}

// WithIdentity извлекает идентичность из заголовков X-User-Id / X-User-Type /
// X-User-Name / X-Share-Token и кладёт её в контекст запроса.
func WithIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := Identity{
			UserID:     strings.TrimSpace(r.Header.Get("X-User-Id")),
			UserType:   strings.TrimSpace(r.Header.Get("X-User-Type")),
			UserName:   strings.TrimSpace(r.Header.Get("X-User-Name")),
			ShareToken: strings.TrimSpace(r.Header.Get("X-Share-Token")),
		}
		ctx := context.WithValue(r.Context(), identityKey, id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetIdentity возвращает идентичность из контекста (нулевое значение, если нет).
func GetIdentity(ctx context.Context) Identity {
	v, _ := ctx.Value(identityKey).(Identity)
	return v
}

// GetUserID возвращает user_id из контекста (для rate limit и логов).
func GetUserID(ctx context.Context) string {
	return GetIdentity(ctx).UserID
}

// RequireIdentity отклоняет запросы без идентичности (ни user_id, ни share-токена).
func RequireIdentity(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := GetIdentity(r.Context())
		if id.UserID == "" && id.ShareToken == "" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
