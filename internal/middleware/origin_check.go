package middleware

import (
	"log/slog"
	"net/http"

	"github.com/hitoshi/aidaily/internal/model"
)

// NewOriginCheckMiddleware は状態を変更するリクエストの送信元を検証する。
// Originヘッダーがある場合は許可オリジンとの一致を、ない場合はSec-Fetch-Siteが
// cross-siteでないことを要求する。安全なメソッドは検証しない。
func NewOriginCheckMiddleware(allowedOrigin string, logger *slog.Logger) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isSafeMethod(r.Method) {
				next.ServeHTTP(w, r)
				return
			}

			origin := r.Header.Get("Origin")
			rejected := false
			switch {
			case origin != "":
				rejected = origin != allowedOrigin && origin != requestOrigin(r)
			case r.Header.Get("Sec-Fetch-Site") == "cross-site":
				rejected = true
			}

			if rejected {
				logger.Warn("cross-origin request rejected",
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("origin", origin),
				)
				WriteErrorResponse(w, http.StatusForbidden, &model.APIError{
					Code:     "ORIGIN_REJECTED",
					Message:  "Cross-origin request rejected.",
					Category: "auth",
					Action:   "Use the AI Daily app to perform this action.",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// isSafeMethod はHTTPメソッドが安全（読み取り専用）かどうかを判定する。
func isSafeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}

// requestOrigin はリクエスト先自身のオリジンを返す。
func requestOrigin(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}
