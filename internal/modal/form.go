package modal

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/aidaily/internal/metrics"
	"github.com/hitoshi/aidaily/internal/model"
)

// Mode はフォームのモード。
type Mode string

const (
	ModeSignIn Mode = "signin"
	ModeSignUp Mode = "signup"
)

// Status はフォーム送信の状態。
type Status string

const (
	StatusIdle       Status = "idle"
	StatusSubmitting Status = "submitting"
	StatusSuccess    Status = "success"
	StatusError      Status = "error"
)

// Provider はフォームが利用するIdPの操作。
type Provider interface {
	SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error)
	SignUp(ctx context.Context, email, password, fullName string) (*model.Session, error)
	ResendVerification(ctx context.Context, email string) error
}

var (
	// ErrSubmitting は送信中に再度送信した場合のエラー。
	ErrSubmitting = errors.New("a submission is already in progress")
	// ErrResendThrottled は確認メールの再送間隔を守らなかった場合のエラー。
	ErrResendThrottled = errors.New("verification resend throttled")
	// ErrNothingToResend はサインアップ前に再送を要求した場合のエラー。
	ErrNothingToResend = errors.New("no pending sign up to resend")
)

// ValidationError は送信前の入力検証エラー。IdPへの通信は行われていない。
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

// Credentials はフォームへの入力値。
type Credentials struct {
	Email           string
	Password        string
	ConfirmPassword string
	FullName        string
}

// FormState はフォームの表示用スナップショット。パスワードは含まない。
type FormState struct {
	Mode           Mode   `json:"mode"`
	Status         Status `json:"status"`
	Email          string `json:"email,omitempty"`
	FullName       string `json:"full_name,omitempty"`
	Error          string `json:"error,omitempty"`
	SuccessMessage string `json:"success_message,omitempty"`
	CanResend      bool   `json:"can_resend"`
	ResendError    string `json:"resend_error,omitempty"`
	ResendMessage  string `json:"resend_message,omitempty"`
}

// FormConfig はFormの設定。
type FormConfig struct {
	// ResendInterval は確認メール再送の最小間隔。0以下の場合は制限しない。
	ResendInterval time.Duration
	Metrics        metrics.MetricsCollector
	Logger         *slog.Logger
	// テスト用に差し替え可能な現在時刻
	Now func() time.Time
}

// Form はサインイン・サインアップフォームの状態機械。
// idle → submitting → success | error と遷移し、Coordinatorの開閉のたびにリセットされる。
type Form struct {
	provider    Provider
	coordinator *Coordinator
	metrics     metrics.MetricsCollector
	logger      *slog.Logger
	limiter     *rate.Limiter
	now         func() time.Time

	mu    sync.Mutex
	state FormState
	// pendingEmail はサインアップ成功後に確認メールを再送する宛先。
	pendingEmail string
	// generation はリセットのたびに増え、リセット前に開始した送信の結果を破棄するために使う。
	generation uint64
}

// NewForm はFormを生成し、Coordinatorの開閉でリセットされるよう登録する。
func NewForm(provider Provider, coordinator *Coordinator, config FormConfig) *Form {
	f := &Form{
		provider:    provider,
		coordinator: coordinator,
		metrics:     config.Metrics,
		logger:      config.Logger,
		now:         config.Now,
		state:       FormState{Mode: ModeSignIn, Status: StatusIdle},
	}
	if f.metrics == nil {
		f.metrics = metrics.Nop{}
	}
	if f.logger == nil {
		f.logger = slog.Default()
	}
	if f.now == nil {
		f.now = time.Now
	}
	if config.ResendInterval > 0 {
		f.limiter = rate.NewLimiter(rate.Every(config.ResendInterval), 1)
	}

	coordinator.OnTransition(func(bool) { f.Reset() })
	return f
}

// State は現在のフォーム状態を返す。
func (f *Form) State() FormState {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Reset はフォームを初期状態（サインインモード、idle）に戻す。
func (f *Form) Reset() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.state = FormState{Mode: ModeSignIn, Status: StatusIdle}
	f.pendingEmail = ""
	f.generation++
}

// ToggleMode はサインインとサインアップを切り替え、エラーを消去する。
func (f *Form) ToggleMode() FormState {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Mode == ModeSignIn {
		f.setModeLocked(ModeSignUp)
	} else {
		f.setModeLocked(ModeSignIn)
	}
	return f.state
}

// SetMode はモードを指定して切り替える。
func (f *Form) SetMode(mode Mode) (FormState, error) {
	if mode != ModeSignIn && mode != ModeSignUp {
		return f.State(), fmt.Errorf("unknown form mode %q", mode)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.state.Mode != mode {
		f.setModeLocked(mode)
	}
	return f.state, nil
}

func (f *Form) setModeLocked(mode Mode) {
	f.state.Mode = mode
	f.state.Error = ""
	if f.state.Status == StatusError {
		f.state.Status = StatusIdle
	}
}

// Submit は現在のモードに応じてサインインまたはサインアップを実行する。
func (f *Form) Submit(ctx context.Context, creds Credentials) (FormState, error) {
	if f.State().Mode == ModeSignUp {
		return f.SignUp(ctx, creds)
	}
	return f.SignIn(ctx, creds.Email, creds.Password)
}

// SignIn はメールアドレスとパスワードでサインインする。
// 成功時はIdPのイベントによりStoreがセッションを受け取り、モーダルを閉じる。
func (f *Form) SignIn(ctx context.Context, email, password string) (FormState, error) {
	const action = "signin"
	email = strings.TrimSpace(email)

	gen, state, err := f.begin(ModeSignIn, email, "", func() string {
		switch {
		case email == "":
			return MsgEmailRequired
		case password == "":
			return MsgPasswordRequired
		}
		return ""
	})
	if err != nil {
		f.recordOutcome(action, err)
		return state, err
	}

	_, err = f.provider.SignInWithPassword(ctx, email, password)
	if err != nil {
		state = f.fail(gen, err)
		f.recordOutcome(action, err)
		return state, fmt.Errorf("sign in failed: %w", err)
	}

	state, current := f.finishCurrent(gen, func(s *FormState) {
		s.Status = StatusSuccess
	})
	f.metrics.RecordAuthSubmission(action, "success")
	// 送信中に開き直されたモーダルは閉じない
	if current {
		f.coordinator.Close()
	}
	return state, nil
}

// SignUp はアカウントを作成する。入力検証に失敗した場合はIdPへ通信しない。
// 成功時はモーダルを開いたまま確認メールの案内を表示し、再送を可能にする。
func (f *Form) SignUp(ctx context.Context, creds Credentials) (FormState, error) {
	const action = "signup"
	email := strings.TrimSpace(creds.Email)
	fullName := strings.TrimSpace(creds.FullName)

	gen, state, err := f.begin(ModeSignUp, email, fullName, func() string {
		switch {
		case fullName == "":
			return MsgFullNameRequired
		case email == "":
			return MsgEmailRequired
		case len(creds.Password) < minPasswordLength:
			return MsgPasswordTooShort
		case creds.Password != creds.ConfirmPassword:
			return MsgPasswordMismatch
		}
		return ""
	})
	if err != nil {
		f.recordOutcome(action, err)
		return state, err
	}

	session, err := f.provider.SignUp(ctx, email, creds.Password, fullName)
	if err != nil {
		state = f.fail(gen, err)
		f.recordOutcome(action, err)
		return state, fmt.Errorf("sign up failed: %w", err)
	}

	state = f.finish(gen, func(s *FormState) {
		s.Status = StatusSuccess
		s.SuccessMessage = MsgSignUpSuccess
		s.CanResend = true
	})
	f.mu.Lock()
	if f.generation == gen {
		f.pendingEmail = email
	}
	f.mu.Unlock()

	f.logger.Info("sign up submitted", slog.Bool("session_issued", session != nil))
	f.metrics.RecordAuthSubmission(action, "success")
	return state, nil
}

// ResendVerification はサインアップ後の確認メールを再送する。
// 失敗はフォーム内のResendErrorにのみ反映し、モーダルの状態は変えない。
func (f *Form) ResendVerification(ctx context.Context) (FormState, error) {
	const action = "resend"

	f.mu.Lock()
	email := f.pendingEmail
	gen := f.generation
	if email == "" {
		f.state.ResendError = MsgNothingToResend
		state := f.state
		f.mu.Unlock()
		f.metrics.RecordAuthSubmission(action, "invalid")
		return state, ErrNothingToResend
	}
	if f.limiter != nil && !f.limiter.AllowN(f.now(), 1) {
		f.state.ResendError = MsgResendThrottled
		f.state.ResendMessage = ""
		state := f.state
		f.mu.Unlock()
		f.metrics.RecordAuthSubmission(action, "throttled")
		return state, ErrResendThrottled
	}
	f.mu.Unlock()

	err := f.provider.ResendVerification(ctx, email)

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generation == gen {
		if err != nil {
			f.state.ResendError = TranslateError(err)
			f.state.ResendMessage = ""
		} else {
			f.state.ResendError = ""
			f.state.ResendMessage = MsgResendSuccess
		}
	}
	state := f.state

	if err != nil {
		f.recordOutcome(action, err)
		return state, fmt.Errorf("resend verification failed: %w", err)
	}
	f.metrics.RecordAuthSubmission(action, "success")
	return state, nil
}

// begin は送信を開始する。validateが空でないメッセージを返した場合は
// error状態に遷移してValidationErrorを返す。
func (f *Form) begin(mode Mode, email, fullName string, validate func() string) (uint64, FormState, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.state.Status == StatusSubmitting {
		return f.generation, f.state, ErrSubmitting
	}

	f.state.Mode = mode
	f.state.Email = email
	f.state.FullName = fullName
	f.state.SuccessMessage = ""
	f.state.CanResend = false
	f.state.ResendError = ""
	f.state.ResendMessage = ""
	f.pendingEmail = ""

	if msg := validate(); msg != "" {
		f.state.Status = StatusError
		f.state.Error = msg
		return f.generation, f.state, &ValidationError{Message: msg}
	}

	f.state.Status = StatusSubmitting
	f.state.Error = ""
	return f.generation, f.state, nil
}

// fail は送信失敗をフォームに反映する。
func (f *Form) fail(gen uint64, err error) FormState {
	msg := TranslateError(err)
	f.logger.Warn("auth submission failed", slog.String("error", err.Error()))
	return f.finish(gen, func(s *FormState) {
		s.Status = StatusError
		s.Error = msg
	})
}

// finish は送信結果をフォームに反映する。送信中にリセットされた場合は反映しない。
func (f *Form) finish(gen uint64, apply func(*FormState)) FormState {
	state, _ := f.finishCurrent(gen, apply)
	return state
}

// finishCurrent はfinishと同じく結果を反映し、反映できたかどうかも返す。
func (f *Form) finishCurrent(gen uint64, apply func(*FormState)) (FormState, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.generation != gen {
		return f.state, false
	}
	apply(&f.state)
	return f.state, true
}

func (f *Form) recordOutcome(action string, err error) {
	var ve *ValidationError
	switch {
	case err == nil:
		f.metrics.RecordAuthSubmission(action, "success")
	case errors.As(err, &ve):
		f.metrics.RecordAuthSubmission(action, "invalid")
	case errors.Is(err, ErrSubmitting):
		f.metrics.RecordAuthSubmission(action, "busy")
	default:
		f.metrics.RecordAuthSubmission(action, "error")
	}
}
