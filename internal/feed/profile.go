package feed

import (
	"strings"
	"unicode/utf8"

	"github.com/hitoshi/aidaily/internal/model"
)

// defaultDisplayName はフルネーム未設定のユーザーの表示名。
const defaultDisplayName = "Daily Reader"

// Profile はプロフィール表示用の値。
type Profile struct {
	UserID      string `json:"user_id"`
	DisplayName string `json:"display_name"`
	Initials    string `json:"initials"`
	Email       string `json:"email"`
	MemberSince string `json:"member_since,omitempty"` // 例: "January 2025"
}

// NewProfile はユーザーからプロフィールを生成する。userがnilの場合はnilを返す。
func NewProfile(user *model.User) *Profile {
	if user == nil {
		return nil
	}

	p := &Profile{
		UserID:      user.ID,
		DisplayName: user.FullName,
		Initials:    initials(user.FullName, user.Email),
		Email:       user.Email,
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		p.DisplayName = defaultDisplayName
	}
	if !user.CreatedAt.IsZero() {
		p.MemberSince = user.CreatedAt.Format("January 2006")
	}
	return p
}

// initials はフルネームの各単語の頭文字（最大2文字）を返す。
// フルネームがない場合はメールアドレスの先頭2文字を使う。
func initials(fullName, email string) string {
	if words := strings.Fields(fullName); len(words) > 0 {
		var b strings.Builder
		for _, w := range words {
			r, _ := utf8.DecodeRuneInString(w)
			b.WriteRune(r)
		}
		return firstRunes(strings.ToUpper(b.String()), 2)
	}
	return strings.ToUpper(firstRunes(email, 2))
}

func firstRunes(s string, n int) string {
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}
