// Package model はドメインモデルを定義する。
package model

import "time"

// User はIdPが管理するユーザーの読み取り専用ミラー。
type User struct {
	ID        string
	Email     string
	FullName  string // user_metadata.full_name。未設定の場合は空文字列
	CreatedAt time.Time
}

// Session はIdPが発行した認証済みセッションを表す。
// AccessTokenはAuthorizationヘッダーの値としてそのまま使用する。
type Session struct {
	AccessToken  string
	RefreshToken string
	TokenType    string
	ExpiresAt    time.Time // ゼロ値の場合は期限不明（IdP側で管理）
	User         User
}

// Expired はセッションのアクセストークンが期限切れかどうかを返す。
// 期限不明のセッションは期限切れとみなさない。
func (s *Session) Expired(now time.Time) bool {
	if s == nil || s.ExpiresAt.IsZero() {
		return false
	}
	return !now.Before(s.ExpiresAt)
}

// Clone はセッションのコピーを返す。nilの場合はnilを返す。
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	return &c
}
