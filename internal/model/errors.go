// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, feed, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeAuthRequired       = "AUTH_REQUIRED"
	ErrCodeAuthFailed         = "AUTH_FAILED"
	ErrCodeValidation         = "VALIDATION_FAILED"
	ErrCodeInvalidPersona     = "INVALID_PERSONA"
	ErrCodeInvalidCategory    = "INVALID_CATEGORY"
	ErrCodeBackendUnavailable = "BACKEND_UNAVAILABLE"
	ErrCodeStoryNotFound      = "STORY_NOT_FOUND"
	ErrCodeInvalidRequest     = "INVALID_REQUEST"
)

// NewAuthRequiredError はサインインが必要な操作に対するエラーを生成する。
func NewAuthRequiredError() *APIError {
	return &APIError{
		Code:     ErrCodeAuthRequired,
		Message:  "Sign in to save stories and personalize your feed.",
		Category: "auth",
		Action:   "Sign in or create an account.",
	}
}

// NewAuthFailedError はIdPが認証要求を拒否した場合のエラーを生成する。
// messageには利用者向けに変換済みの文言を渡す。
func NewAuthFailedError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeAuthFailed,
		Message:  message,
		Category: "auth",
		Action:   "Check your credentials and try again.",
	}
}

// NewValidationError は入力検証エラーを生成する。
func NewValidationError(message string) *APIError {
	return &APIError{
		Code:     ErrCodeValidation,
		Message:  message,
		Category: "validation",
		Action:   "Fix the highlighted fields and submit again.",
	}
}

// NewInvalidPersonaError は未定義のペルソナが指定された場合のエラーを生成する。
func NewInvalidPersonaError(persona string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPersona,
		Message:  fmt.Sprintf("Unknown persona: %s", persona),
		Category: "validation",
		Action:   "Choose one of builders, executors, explorers or thought_leaders.",
	}
}

// NewInvalidCategoryError はペルソナに属さないカテゴリが指定された場合のエラーを生成する。
func NewInvalidCategoryError(persona Persona, category string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidCategory,
		Message:  fmt.Sprintf("Category %q does not belong to persona %s", category, persona),
		Category: "validation",
		Action:   "Pick a category listed under the active persona.",
	}
}

// NewBackendUnavailableError はバックエンドAPIに接続できない場合のエラーを生成する。
func NewBackendUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeBackendUnavailable,
		Message:  "Intelligence connection lost.",
		Category: "feed",
		Action:   "Refresh in a moment.",
	}
}

// NewStoryNotFoundError はストーリー未検出エラーを生成する。
func NewStoryNotFoundError(storyID string) *APIError {
	return &APIError{
		Code:     ErrCodeStoryNotFound,
		Message:  fmt.Sprintf("Story not found: %s", storyID),
		Category: "feed",
		Action:   "Go back to the feed and pick another story.",
	}
}

// NewInvalidRequestError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidRequestError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidRequest,
		Message:  fmt.Sprintf("Invalid request: %s", reason),
		Category: "validation",
		Action:   "Check the request body.",
	}
}
