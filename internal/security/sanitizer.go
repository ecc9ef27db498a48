// Package security はアプリケーションのセキュリティ機能を提供する。
//
// TextSanitizer はバックエンドから受け取ったストーリー要約をプレーンテキストに整え、
// SSRFGuard はソース検査で外部フィードを取得する際の接続先を制限する。
package security

import (
	"html"
	"net/url"
	"strings"

	"github.com/microcosm-cc/bluemonday"
)

// TextSanitizer はストーリーの要約・リンクを表示用に無害化するインターフェース。
type TextSanitizer interface {
	// Text はHTMLタグをすべて除去し、エンティティを復元したプレーンテキストを返す。
	// 連続する空白は1つにまとめる。
	Text(raw string) string
	// Link はhttp/httpsの絶対URLのみを返し、それ以外は空文字列を返す。
	Link(raw string) string
}

// textSanitizer はTextSanitizerの実装。
// bluemondayのStrictPolicyはスレッドセーフに共有できる。
type textSanitizer struct {
	strict *bluemonday.Policy
}

// NewTextSanitizer はTextSanitizerを生成する。
func NewTextSanitizer() *textSanitizer {
	return &textSanitizer{strict: bluemonday.StrictPolicy()}
}

// Text はHTMLを除去したプレーンテキストを返す。
func (s *textSanitizer) Text(raw string) string {
	if raw == "" {
		return ""
	}
	stripped := s.strict.Sanitize(raw)
	return strings.Join(strings.Fields(html.UnescapeString(stripped)), " ")
}

// Link は安全なリンクURLを返す。
func (s *textSanitizer) Link(raw string) string {
	raw = strings.TrimSpace(raw)
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return ""
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
		return u.String()
	default:
		return ""
	}
}
