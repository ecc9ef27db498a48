// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/hitoshi/aidaily/internal/middleware"
	"github.com/hitoshi/aidaily/internal/modal"
	"github.com/hitoshi/aidaily/internal/model"
)

// AuthFormInterface はサインイン・サインアップフォームの操作。
type AuthFormInterface interface {
	State() modal.FormState
	SetMode(mode modal.Mode) (modal.FormState, error)
	SignIn(ctx context.Context, email, password string) (modal.FormState, error)
	SignUp(ctx context.Context, creds modal.Credentials) (modal.FormState, error)
	ResendVerification(ctx context.Context) (modal.FormState, error)
}

// ModalInterface はサインインモーダルの開閉。
type ModalInterface interface {
	Open()
	Close()
	IsOpen() bool
}

// IdentityInterface はフォーム以外で利用するIdPの操作。
type IdentityInterface interface {
	SignInWithOAuth(provider, redirectURL string) (string, error)
	ExchangeCodeForSession(ctx context.Context, code string) (*model.Session, error)
	SignInWithOTP(ctx context.Context, email string) error
	VerifyOTP(ctx context.Context, email, token string) (*model.Session, error)
	SignOut(ctx context.Context) error
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	// BaseURL はOAuth完了後のリダイレクト先
	BaseURL string
	// CallbackURL はIdPからのリダイレクト先（BASE_URL/auth/callback）
	CallbackURL string
}

// authCodeErrorPath はOAuthのコード交換に失敗した場合のリダイレクト先。
const authCodeErrorPath = "/auth/auth-code-error"

// AuthHandler はサインインモーダルと認証フローのHTTPハンドラー。
type AuthHandler struct {
	form     AuthFormInterface
	modal    ModalInterface
	identity IdentityInterface
	config   AuthHandlerConfig
	logger   *slog.Logger
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(form AuthFormInterface, prompt ModalInterface, identity IdentityInterface, config AuthHandlerConfig, logger *slog.Logger) *AuthHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AuthHandler{
		form:     form,
		modal:    prompt,
		identity: identity,
		config:   config,
		logger:   logger,
	}
}

type modalRequest struct {
	Open bool `json:"open"`
}

type modalResponse struct {
	Open bool `json:"open"`
}

type modeRequest struct {
	Mode modal.Mode `json:"mode"`
}

type signInRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type signUpRequest struct {
	FullName        string `json:"full_name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	ConfirmPassword string `json:"confirm_password"`
}

type otpRequest struct {
	Email string `json:"email"`
}

type otpVerifyRequest struct {
	Email string `json:"email"`
	Token string `json:"token"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// GetModal はモーダルの開閉状態を返す。
// GET /api/auth/modal
func (h *AuthHandler) GetModal(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, modalResponse{Open: h.modal.IsOpen()})
}

// SetModal はモーダルを開閉する。開閉のたびにフォームはリセットされる。
// POST /api/auth/modal
func (h *AuthHandler) SetModal(w http.ResponseWriter, r *http.Request) {
	var req modalRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if req.Open {
		h.modal.Open()
	} else {
		h.modal.Close()
	}
	middleware.WriteJSON(w, http.StatusOK, modalResponse{Open: h.modal.IsOpen()})
}

// GetForm はフォームの状態を返す。
// GET /api/auth/form
func (h *AuthHandler) GetForm(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, h.form.State())
}

// SetMode はフォームのモードを切り替える。
// POST /api/auth/mode
func (h *AuthHandler) SetMode(w http.ResponseWriter, r *http.Request) {
	var req modeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := h.form.SetMode(req.Mode)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(err.Error()))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, state)
}

// SignIn はメールアドレスとパスワードでサインインする。
// POST /api/auth/signin
func (h *AuthHandler) SignIn(w http.ResponseWriter, r *http.Request) {
	var req signInRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := h.form.SignIn(r.Context(), req.Email, req.Password)
	h.writeFormResult(w, state, err)
}

// SignUp はアカウントを作成する。
// POST /api/auth/signup
func (h *AuthHandler) SignUp(w http.ResponseWriter, r *http.Request) {
	var req signUpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	state, err := h.form.SignUp(r.Context(), modal.Credentials{
		Email:           req.Email,
		Password:        req.Password,
		ConfirmPassword: req.ConfirmPassword,
		FullName:        req.FullName,
	})
	h.writeFormResult(w, state, err)
}

// Resend は確認メールを再送する。
// POST /api/auth/resend
func (h *AuthHandler) Resend(w http.ResponseWriter, r *http.Request) {
	state, err := h.form.ResendVerification(r.Context())
	h.writeFormResult(w, state, err)
}

// RequestOTP はマジックリンクをメールで送信する。
// POST /api/auth/otp
func (h *AuthHandler) RequestOTP(w http.ResponseWriter, r *http.Request) {
	var req otpRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	if email == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError(modal.MsgEmailRequired))
		return
	}
	if err := h.identity.SignInWithOTP(r.Context(), email); err != nil {
		h.logger.Warn("otp request failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, providerErrorStatus(err), model.NewAuthFailedError(modal.TranslateError(err)))
		return
	}
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Check your email for the sign-in link!"})
}

// VerifyOTP はメールで受け取ったワンタイムコードを検証してサインインする。
// POST /api/auth/otp/verify
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	var req otpVerifyRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	email := strings.TrimSpace(req.Email)
	token := strings.TrimSpace(req.Token)
	if email == "" || token == "" {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewValidationError("Email and code are required."))
		return
	}
	if _, err := h.identity.VerifyOTP(r.Context(), email, token); err != nil {
		h.logger.Warn("otp verification failed", slog.String("error", err.Error()))
		middleware.WriteErrorResponse(w, providerErrorStatus(err), model.NewAuthFailedError(modal.TranslateError(err)))
		return
	}
	h.modal.Close()
	middleware.WriteJSON(w, http.StatusOK, messageResponse{Message: "Signed in."})
}

// SignOut はサインアウトする。IdPへの通知に失敗してもローカルのセッションは破棄される。
// POST /api/auth/signout
func (h *AuthHandler) SignOut(w http.ResponseWriter, r *http.Request) {
	if err := h.identity.SignOut(r.Context()); err != nil {
		h.logger.Warn("sign out request failed", slog.String("error", err.Error()))
	}
	w.WriteHeader(http.StatusNoContent)
}

// GoogleLogin はGoogle OAuthフローを開始する。
// GET /auth/google/login
func (h *AuthHandler) GoogleLogin(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.identity.SignInWithOAuth("google", h.config.CallbackURL)
	if err != nil {
		h.logger.Error("failed to start oauth flow", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}
	http.Redirect(w, r, authURL, http.StatusTemporaryRedirect)
}

// Callback はOAuthおよびメール確認のコールバックを処理する。
// 認可コードをセッションに交換し、BaseURLへリダイレクトする。
// GET /auth/callback?code=xxx
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		h.logger.Warn("auth callback without code")
		http.Redirect(w, r, h.config.BaseURL+authCodeErrorPath, http.StatusTemporaryRedirect)
		return
	}

	if _, err := h.identity.ExchangeCodeForSession(r.Context(), code); err != nil {
		h.logger.Error("auth code exchange failed", slog.String("error", err.Error()))
		http.Redirect(w, r, h.config.BaseURL+authCodeErrorPath, http.StatusTemporaryRedirect)
		return
	}

	h.modal.Close()
	http.Redirect(w, r, h.config.BaseURL, http.StatusTemporaryRedirect)
}

// formResultResponse は送信結果のレスポンス。
type formResultResponse struct {
	modal.FormState
	ModalOpen bool `json:"modal_open"`
}

// writeFormResult はフォーム送信の結果をステータスコードに対応付けて書き込む。
// いずれの場合もボディはフォームの状態とする。
func (h *AuthHandler) writeFormResult(w http.ResponseWriter, state modal.FormState, err error) {
	status := http.StatusOK
	var ve *modal.ValidationError
	switch {
	case err == nil:
	case errors.As(err, &ve), errors.Is(err, modal.ErrNothingToResend):
		status = http.StatusBadRequest
	case errors.Is(err, modal.ErrSubmitting):
		status = http.StatusConflict
	case errors.Is(err, modal.ErrResendThrottled):
		status = http.StatusTooManyRequests
	default:
		status = providerErrorStatus(err)
	}
	middleware.WriteJSON(w, status, formResultResponse{FormState: state, ModalOpen: h.modal.IsOpen()})
}
