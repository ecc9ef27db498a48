// Package identity はホスティング型IdP（GoTrue互換の認証サービス）との境界を提供する。
// セッションの取得・永続化・更新と、セッション変化イベントの配信を担う。
package identity

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/hitoshi/aidaily/internal/model"
)

// EventKind はIdPが発行するセッション変化の種別。
type EventKind string

const (
	EventSignedIn       EventKind = "SIGNED_IN"
	EventSignedOut      EventKind = "SIGNED_OUT"
	EventTokenRefreshed EventKind = "TOKEN_REFRESHED"
	EventUserUpdated    EventKind = "USER_UPDATED"
)

// Event はセッション変化イベント。SignedOutの場合Sessionはnil。
type Event struct {
	Kind    EventKind
	Session *model.Session
}

// Provider はIdPのクライアントインターフェース。
// OAuthプロバイダー名には "google" 等を指定する。
type Provider interface {
	// GetCurrentSession は永続化済みのセッションを復元して返す。
	// セッションがない場合は (nil, nil) を返す。
	GetCurrentSession(ctx context.Context) (*model.Session, error)
	// OnSessionChange はセッション変化の通知先を登録し、登録解除関数を返す。
	// 通知はIdPが発行した順に配信される。
	OnSessionChange(fn func(Event)) (unsubscribe func())
	// SignInWithPassword はメールアドレスとパスワードでサインインする。
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	// SignUp はアカウントを作成する。メール確認待ちの場合は (nil, nil) を返す。
	SignUp(ctx context.Context, email, password, fullName string) (*model.Session, error)
	// SignInWithOAuth はブラウザをリダイレクトさせる認可URLを返す。
	SignInWithOAuth(provider, redirectURL string) (string, error)
	// ResendVerification は確認メールを再送する。
	ResendVerification(ctx context.Context, email string) error
	// SignOut はセッションを破棄する。ローカルのセッションは常に破棄される。
	SignOut(ctx context.Context) error
}

// ErrNoVerifier はPKCEのcode_verifierが見つからない場合のエラー。
var ErrNoVerifier = errors.New("no pending oauth flow for code exchange")

// ErrNoSession はセッションが必要な操作をセッションなしで呼んだ場合のエラー。
var ErrNoSession = errors.New("no active session")

// ProviderError はIdPがエラーレスポンスを返した場合のエラー。
// Messageにはレスポンスのメッセージをそのまま保持する。
type ProviderError struct {
	Status  int
	Code    string
	Message string
}

// Error はerrorインターフェースを実装する。
func (e *ProviderError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("identity provider error %d (%s): %s", e.Status, e.Code, e.Message)
	}
	return fmt.Sprintf("identity provider error %d: %s", e.Status, e.Message)
}

// IsProviderError はerrがProviderErrorを含む場合にそれを返す。
func IsProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// listenerHub はセッション変化の購読者を管理する。
type listenerHub struct {
	mu        sync.Mutex
	nextID    int
	listeners map[int]func(Event)
	order     []int
}

func newListenerHub() *listenerHub {
	return &listenerHub{listeners: make(map[int]func(Event))}
}

// add は購読者を登録し、1回だけ有効な登録解除関数を返す。
func (h *listenerHub) add(fn func(Event)) func() {
	h.mu.Lock()
	id := h.nextID
	h.nextID++
	h.listeners[id] = fn
	h.order = append(h.order, id)
	h.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.listeners, id)
			for i, v := range h.order {
				if v == id {
					h.order = append(h.order[:i], h.order[i+1:]...)
					break
				}
			}
		})
	}
}

// snapshot は登録順の購読者一覧を返す。
func (h *listenerHub) snapshot() []func(Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	fns := make([]func(Event), 0, len(h.order))
	for _, id := range h.order {
		fns = append(fns, h.listeners[id])
	}
	return fns
}

// count は購読者数を返す。
func (h *listenerHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.listeners)
}

// emit は購読者にイベントを配信する。
// 購読者ごとにセッションのコピーを渡す。
func (h *listenerHub) emit(ev Event) {
	for _, fn := range h.snapshot() {
		fn(Event{Kind: ev.Kind, Session: ev.Session.Clone()})
	}
}
