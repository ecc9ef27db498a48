package handler

import (
	"encoding/json"
	"net/http"

	"github.com/hitoshi/aidaily/internal/identity"
	"github.com/hitoshi/aidaily/internal/middleware"
	"github.com/hitoshi/aidaily/internal/model"
)

// maxRequestBody はJSONリクエストボディの上限サイズ。
const maxRequestBody = 1 << 20

// decodeJSON はリクエストボディをデコードする。失敗時は400を書き込みfalseを返す。
func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBody)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest,
			model.NewInvalidRequestError("Request body must be valid JSON."))
		return false
	}
	return true
}

// providerErrorStatus はIdPのエラーをHTTPステータスコードに対応付ける。
// IdPに到達できなかった場合やIdP側の障害は502とする。
func providerErrorStatus(err error) int {
	pe, ok := identity.IsProviderError(err)
	switch {
	case !ok:
		return http.StatusBadGateway
	case pe.Status == http.StatusTooManyRequests:
		return http.StatusTooManyRequests
	case pe.Status >= 400 && pe.Status < 500:
		return http.StatusUnauthorized
	default:
		return http.StatusBadGateway
	}
}
