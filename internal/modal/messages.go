package modal

import (
	"net/http"
	"strings"

	"github.com/hitoshi/aidaily/internal/identity"
)

// 画面に表示する固定メッセージ。
const (
	MsgSignUpSuccess      = "Check your email for the confirmation link!"
	MsgResendSuccess      = "Verification email sent again."
	MsgFullNameRequired   = "Full name is required."
	MsgEmailRequired      = "Email is required."
	MsgPasswordRequired   = "Password is required."
	MsgPasswordTooShort   = "Password must be at least 8 characters."
	MsgPasswordMismatch   = "Passwords do not match."
	MsgResendThrottled    = "Please wait a moment before requesting another email."
	MsgNothingToResend    = "Sign up first to receive a confirmation email."
	MsgServiceUnreachable = "Unable to reach the sign-in service. Please try again."
	MsgGenericError       = "An error occurred"
)

// minPasswordLength はサインアップ時のパスワード最小長。
const minPasswordLength = 8

// translation はIdPのメッセージに含まれる部分文字列と表示メッセージの対応。
type translation struct {
	substr  string
	message string
}

// providerTranslations は上から順に評価する。
var providerTranslations = []translation{
	{"rate limit", "Too many attempts. Please wait a moment and try again."},
	{"invalid login credentials", "Incorrect email or password."},
	{"email not confirmed", "Please confirm your email address before signing in."},
	{"already registered", "An account with this email already exists. Try signing in instead."},
	{"already been registered", "An account with this email already exists. Try signing in instead."},
	{"password should be at least", MsgPasswordTooShort},
	{"unable to validate email", "Please enter a valid email address."},
	{"invalid email", "Please enter a valid email address."},
	{"signups not allowed", "New sign-ups are currently disabled."},
}

// TranslateError はIdPのエラーを利用者向けのメッセージに変換する。
// 既知の部分文字列を含む場合は対応するメッセージを、それ以外はIdPのメッセージをそのまま返す。
func TranslateError(err error) string {
	if err == nil {
		return ""
	}

	pe, ok := identity.IsProviderError(err)
	if !ok {
		return MsgServiceUnreachable
	}

	if pe.Status == http.StatusTooManyRequests {
		return providerTranslations[0].message
	}

	lower := strings.ToLower(pe.Message)
	for _, t := range providerTranslations {
		if strings.Contains(lower, t.substr) {
			return t.message
		}
	}
	if pe.Message == "" {
		return MsgGenericError
	}
	return pe.Message
}
