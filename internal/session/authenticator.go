package session

import (
	"net/http"
	"sync"

	"github.com/hitoshi/aidaily/internal/model"
)

// Authenticator は現在のセッションの資格情報を保持し、送信リクエストに付与する。
// Storeの遷移ごとに同期的に更新される。共有のデフォルトヘッダーは持たず、
// リクエスト生成時にApplyで現在の値を反映する。
type Authenticator struct {
	mu    sync.RWMutex
	token string
}

// NewAuthenticator は資格情報なしのAuthenticatorを生成する。
func NewAuthenticator() *Authenticator {
	return &Authenticator{}
}

// Set はセッションから資格情報を導出して保持する。nilの場合は資格情報を破棄する。
func (a *Authenticator) Set(session *model.Session) {
	token := ""
	if session != nil {
		token = session.AccessToken
	}

	a.mu.Lock()
	a.token = token
	a.mu.Unlock()
}

// Apply はリクエストのAuthorizationヘッダーを現在の資格情報に合わせる。
// 資格情報がない場合はヘッダーを削除する。
func (a *Authenticator) Apply(req *http.Request) {
	a.mu.RLock()
	token := a.token
	a.mu.RUnlock()

	if token == "" {
		req.Header.Del("Authorization")
		return
	}
	req.Header.Set("Authorization", "Bearer "+token)
}

// Header は現在の資格情報を投影したヘッダーを返す。
// 資格情報がない場合はAuthorizationキーを含まない。
func (a *Authenticator) Header() http.Header {
	h := http.Header{}
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.token != "" {
		h.Set("Authorization", "Bearer "+a.token)
	}
	return h
}

// Authenticated は資格情報を保持しているかどうかを返す。
func (a *Authenticator) Authenticated() bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.token != ""
}
