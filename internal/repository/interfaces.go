// Package repository はデータ永続化のインターフェースとPostgreSQL実装を提供する。
package repository

import (
	"context"

	"github.com/hitoshi/aidaily/internal/model"
)

// SessionRepository はIdPセッションの永続化インターフェース。
// identity.SessionStorageを満たし、プロセス再起動をまたいでセッションを復元する。
type SessionRepository interface {
	// Load は保存済みのセッションを返す。存在しない場合はnilを返す。
	Load(ctx context.Context) (*model.Session, error)
	// Save はセッションを保存する。既存のセッションは置き換えられる。
	Save(ctx context.Context, session *model.Session) error
	// Delete は保存済みのセッションを削除する。
	Delete(ctx context.Context) error
}

// SourceCheckRepository はソース検査結果の永続化インターフェース。
type SourceCheckRepository interface {
	// Record は検査結果を追記する。
	Record(ctx context.Context, check model.SourceCheck) error
	// ListLatest はソースごとの最新の検査結果をソースURL順に返す。
	ListLatest(ctx context.Context) ([]model.SourceCheck, error)
}
