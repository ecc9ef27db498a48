// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"net/http"

	"github.com/hitoshi/aidaily/internal/model"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
var userIDContextKey = contextKey("user_id")

// CurrentUser はサインイン中のユーザーを返す。サインアウト中はnilを返す。
type CurrentUser func() *model.User

// NewUserContextMiddleware はサインイン中のユーザーIDをリクエストコンテキストに注入する。
// サインアウト中のリクエストもそのまま通す。
func NewUserContextMiddleware(current CurrentUser) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if u := current(); u != nil && u.ID != "" {
				r = r.WithContext(WithUserID(r.Context(), u.ID))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRequireUserMiddleware はサインアウト中のリクエストを401 AUTH_REQUIREDで拒否する。
// NewUserContextMiddlewareの後に配置する。
func NewRequireUserMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, err := UserIDFromContext(r.Context()); err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// WithUserID はユーザーIDを格納したコンテキストを返す。
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, userIDContextKey, userID)
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取り出す。
func UserIDFromContext(ctx context.Context) (string, error) {
	userID, ok := ctx.Value(userIDContextKey).(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}
