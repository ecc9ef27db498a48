package identity

import (
	"context"
	"sync"

	"github.com/hitoshi/aidaily/internal/model"
)

// SessionStorage はIdPクライアントが保持するセッションの永続化先。
// プロセス再起動時のセッション復元に使用する。
type SessionStorage interface {
	// Load は保存済みのセッションを返す。存在しない場合は (nil, nil) を返す。
	Load(ctx context.Context) (*model.Session, error)
	// Save はセッションを保存する。既存のセッションは置き換えられる。
	Save(ctx context.Context, session *model.Session) error
	// Delete は保存済みのセッションを削除する。
	Delete(ctx context.Context) error
}

// MemoryStorage はプロセス内メモリにセッションを保持するSessionStorage。
// DATABASE_URL未設定時のデフォルト。
type MemoryStorage struct {
	mu      sync.Mutex
	session *model.Session
}

// NewMemoryStorage はMemoryStorageを生成する。
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Load は保持中のセッションのコピーを返す。
func (m *MemoryStorage) Load(_ context.Context) (*model.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.session.Clone(), nil
}

// Save はセッションのコピーを保持する。
func (m *MemoryStorage) Save(_ context.Context, session *model.Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = session.Clone()
	return nil
}

// Delete は保持中のセッションを破棄する。
func (m *MemoryStorage) Delete(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.session = nil
	return nil
}

// compile-time interface check
var _ SessionStorage = (*MemoryStorage)(nil)
