package identity

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/hitoshi/aidaily/internal/model"
)

const (
	pathToken     = "/auth/v1/token"
	pathSignup    = "/auth/v1/signup"
	pathResend    = "/auth/v1/resend"
	pathOTP       = "/auth/v1/otp"
	pathVerify    = "/auth/v1/verify"
	pathLogout    = "/auth/v1/logout"
	pathAuthorize = "/auth/v1/authorize"
	pathUser      = "/auth/v1/user"

	// maxResponseSize はIdPレスポンスボディの読み取り上限。
	maxResponseSize = 1 << 20
)

// GoTrueConfig はGoTrueClientの設定。
type GoTrueConfig struct {
	BaseURL          string // 例: https://project.supabase.co
	AnonKey          string // apikeyヘッダーに付与する公開キー
	EmailRedirectURL string // 確認メール・マジックリンクの戻り先

	HTTPClient *http.Client
	Storage    SessionStorage
	Logger     *slog.Logger

	// テスト用に差し替え可能な現在時刻
	Now func() time.Time
}

// GoTrueClient はGoTrue互換の認証REST APIを利用するProvider実装。
// 現在のセッションをSessionStorageに永続化し、変化をイベントとして配信する。
type GoTrueClient struct {
	config     GoTrueConfig
	httpClient *http.Client
	storage    SessionStorage
	logger     *slog.Logger
	now        func() time.Time
	hub        *listenerHub

	// stateMu はセッションの更新・永続化・イベント配信を直列化する。
	// イベントは更新と同じ順序で配信される。
	stateMu sync.Mutex

	mu       sync.Mutex
	current  *model.Session
	loaded   bool
	verifier string // 進行中のOAuthフローのPKCE code_verifier

	changed chan struct{}
}

// NewGoTrueClient はGoTrueClientを生成する。
// HTTPClient、Storage、Loggerが未指定の場合はデフォルトを使用する。
func NewGoTrueClient(config GoTrueConfig) *GoTrueClient {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	c := &GoTrueClient{
		config:     config,
		httpClient: config.HTTPClient,
		storage:    config.Storage,
		logger:     config.Logger,
		now:        config.Now,
		hub:        newListenerHub(),
		changed:    make(chan struct{}, 1),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if c.storage == nil {
		c.storage = NewMemoryStorage()
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// OnSessionChange はセッション変化の通知先を登録する。
func (c *GoTrueClient) OnSessionChange(fn func(Event)) func() {
	return c.hub.add(fn)
}

// ListenerCount は登録中の通知先の数を返す。
func (c *GoTrueClient) ListenerCount() int {
	return c.hub.count()
}

// GetCurrentSession は永続化済みのセッションを返す。
// アクセストークンが期限切れの場合はリフレッシュを試み、
// リフレッシュトークンが拒否された場合はサインアウト状態として (nil, nil) を返す。
func (c *GoTrueClient) GetCurrentSession(ctx context.Context) (*model.Session, error) {
	session, err := c.loadCurrent(ctx)
	if err != nil {
		return nil, err
	}
	if session == nil {
		return nil, nil
	}
	if !session.Expired(c.now()) {
		return session, nil
	}

	if session.RefreshToken == "" {
		_ = c.commit(ctx, EventSignedOut, nil)
		return nil, nil
	}

	refreshed, err := c.RefreshSession(ctx)
	if err != nil {
		// 4xxはRefreshSession内でサインアウト済み
		if pe, ok := IsProviderError(err); ok && pe.Status < 500 {
			return nil, nil
		}
		return nil, err
	}
	return refreshed, nil
}

// SignInWithPassword はメールアドレスとパスワードでサインインする。
func (c *GoTrueClient) SignInWithPassword(ctx context.Context, email, password string) (*model.Session, error) {
	session, err := c.tokenRequest(ctx, "password", map[string]string{
		"email":    email,
		"password": password,
	})
	if err != nil {
		return nil, err
	}

	// 永続化の失敗はcommit内でログに記録する。メモリ上のセッションは有効
	_ = c.commit(ctx, EventSignedIn, session)
	c.logger.Info("signed in with password", slog.String("user_id", session.User.ID))
	return session.Clone(), nil
}

type signUpRequest struct {
	Email    string            `json:"email"`
	Password string            `json:"password"`
	Data     map[string]string `json:"data,omitempty"`
}

// SignUp はアカウントを作成する。
// IdPがメール確認を要求する場合はセッションが発行されず (nil, nil) を返す。
func (c *GoTrueClient) SignUp(ctx context.Context, email, password, fullName string) (*model.Session, error) {
	req := signUpRequest{
		Email:    email,
		Password: password,
	}
	if fullName != "" {
		req.Data = map[string]string{"full_name": fullName}
	}

	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, pathSignup, c.redirectQuery(), req, "", &resp); err != nil {
		return nil, err
	}

	session := resp.toSession(c.now())
	if session == nil {
		c.logger.Info("sign up pending email confirmation", slog.String("user_id", resp.ID))
		return nil, nil
	}

	_ = c.commit(ctx, EventSignedIn, session)
	c.logger.Info("signed up", slog.String("user_id", session.User.ID))
	return session.Clone(), nil
}

// SignInWithOAuth はOAuth認可URLを返す。
// PKCEのcode_verifierを保持し、ExchangeCodeForSessionで使用する。
func (c *GoTrueClient) SignInWithOAuth(provider, redirectURL string) (string, error) {
	if provider == "" {
		return "", fmt.Errorf("oauth provider is required")
	}

	verifier, err := generateCodeVerifier()
	if err != nil {
		return "", fmt.Errorf("failed to generate code verifier: %w", err)
	}

	c.mu.Lock()
	c.verifier = verifier
	c.mu.Unlock()

	q := url.Values{
		"provider":              {provider},
		"code_challenge":        {codeChallenge(verifier)},
		"code_challenge_method": {"s256"},
	}
	if redirectURL != "" {
		q.Set("redirect_to", redirectURL)
	}
	return c.config.BaseURL + pathAuthorize + "?" + q.Encode(), nil
}

// ExchangeCodeForSession はOAuthコールバックの認可コードをセッションに交換する。
func (c *GoTrueClient) ExchangeCodeForSession(ctx context.Context, code string) (*model.Session, error) {
	if code == "" {
		return nil, fmt.Errorf("authorization code is required")
	}

	c.mu.Lock()
	verifier := c.verifier
	c.mu.Unlock()
	if verifier == "" {
		return nil, ErrNoVerifier
	}

	session, err := c.tokenRequest(ctx, "pkce", map[string]string{
		"auth_code":     code,
		"code_verifier": verifier,
	})
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.verifier = ""
	c.mu.Unlock()

	_ = c.commit(ctx, EventSignedIn, session)
	c.logger.Info("signed in with oauth", slog.String("user_id", session.User.ID))
	return session.Clone(), nil
}

// ResendVerification はサインアップ確認メールを再送する。
func (c *GoTrueClient) ResendVerification(ctx context.Context, email string) error {
	body := map[string]string{
		"type":  "signup",
		"email": email,
	}
	if err := c.do(ctx, http.MethodPost, pathResend, c.redirectQuery(), body, "", nil); err != nil {
		return err
	}
	c.logger.Info("verification email resent")
	return nil
}

// SignInWithOTP はマジックリンク（ワンタイムパスワード）メールを送信する。
func (c *GoTrueClient) SignInWithOTP(ctx context.Context, email string) error {
	body := map[string]any{
		"email":       email,
		"create_user": true,
	}
	return c.do(ctx, http.MethodPost, pathOTP, c.redirectQuery(), body, "", nil)
}

// VerifyOTP はメールで受け取ったワンタイムパスワードを検証しサインインする。
func (c *GoTrueClient) VerifyOTP(ctx context.Context, email, token string) (*model.Session, error) {
	body := map[string]string{
		"type":  "email",
		"email": email,
		"token": token,
	}

	var resp sessionResponse
	if err := c.do(ctx, http.MethodPost, pathVerify, nil, body, "", &resp); err != nil {
		return nil, err
	}

	session := resp.toSession(c.now())
	if session == nil {
		return nil, fmt.Errorf("verify response did not contain a session")
	}

	_ = c.commit(ctx, EventSignedIn, session)
	return session.Clone(), nil
}

// RefreshSession はリフレッシュトークンでセッションを更新する。
// IdPがリフレッシュトークンを拒否した場合はサインアウト状態に遷移する。
func (c *GoTrueClient) RefreshSession(ctx context.Context) (*model.Session, error) {
	current := c.currentSession()
	if current == nil || current.RefreshToken == "" {
		return nil, ErrNoSession
	}

	session, err := c.tokenRequest(ctx, "refresh_token", map[string]string{
		"refresh_token": current.RefreshToken,
	})
	if err != nil {
		if pe, ok := IsProviderError(err); ok && pe.Status >= 400 && pe.Status < 500 {
			c.logger.Warn("refresh token rejected, signing out",
				slog.Int("status", pe.Status),
				slog.String("code", pe.Code),
			)
			_ = c.commit(ctx, EventSignedOut, nil)
		}
		return nil, err
	}

	_ = c.commit(ctx, EventTokenRefreshed, session)
	return session.Clone(), nil
}

// RefreshUser はIdPから最新のユーザー情報を取得し、現在のセッションに反映する。
func (c *GoTrueClient) RefreshUser(ctx context.Context) (*model.User, error) {
	current := c.currentSession()
	if current == nil {
		return nil, ErrNoSession
	}

	var resp userResponse
	if err := c.do(ctx, http.MethodGet, pathUser, nil, nil, current.AccessToken, &resp); err != nil {
		return nil, err
	}

	updated := current.Clone()
	updated.User = resp.toUser()
	_ = c.commit(ctx, EventUserUpdated, updated)

	user := updated.User
	return &user, nil
}

// SignOut はセッションを破棄する。
// IdPへのログアウト要求が失敗してもローカルのセッションは破棄し、SignedOutを配信する。
func (c *GoTrueClient) SignOut(ctx context.Context) error {
	if current := c.currentSession(); current != nil {
		q := url.Values{"scope": {"global"}}
		if err := c.do(ctx, http.MethodPost, pathLogout, q, nil, current.AccessToken, nil); err != nil {
			c.logger.Warn("remote sign out failed", slog.String("error", err.Error()))
		}
	}

	if err := c.commit(ctx, EventSignedOut, nil); err != nil {
		return err
	}
	c.logger.Info("signed out")
	return nil
}

// loadCurrent は初回呼び出し時にストレージからセッションを読み込む。
func (c *GoTrueClient) loadCurrent(ctx context.Context) (*model.Session, error) {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	c.mu.Lock()
	loaded := c.loaded
	c.mu.Unlock()

	if !loaded {
		stored, err := c.storage.Load(ctx)
		if err != nil {
			return nil, fmt.Errorf("failed to load stored session: %w", err)
		}
		c.mu.Lock()
		c.current = stored
		c.loaded = true
		c.mu.Unlock()
		if stored != nil {
			c.notifyChanged()
		}
	}

	return c.currentSession(), nil
}

// notifyChanged はAutoRefreshに保持セッションの変化を知らせる。
func (c *GoTrueClient) notifyChanged() {
	select {
	case c.changed <- struct{}{}:
	default:
	}
}

// currentSession は保持中のセッションのコピーを返す。
func (c *GoTrueClient) currentSession() *model.Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current.Clone()
}

// commit はセッションを保存・保持し、イベントを配信する。
// 永続化に失敗した場合もメモリ上の状態とイベント配信は行い、エラーを返す。
func (c *GoTrueClient) commit(ctx context.Context, kind EventKind, session *model.Session) error {
	c.stateMu.Lock()
	defer c.stateMu.Unlock()

	var storeErr error
	if session != nil {
		storeErr = c.storage.Save(ctx, session)
	} else {
		storeErr = c.storage.Delete(ctx)
	}
	if storeErr != nil {
		c.logger.Error("failed to persist session",
			slog.String("event", string(kind)),
			slog.String("error", storeErr.Error()),
		)
	}

	c.mu.Lock()
	c.current = session.Clone()
	c.loaded = true
	c.mu.Unlock()

	c.hub.emit(Event{Kind: kind, Session: session})
	c.notifyChanged()

	if storeErr != nil {
		return fmt.Errorf("failed to persist session: %w", storeErr)
	}
	return nil
}

// tokenRequest は /token エンドポイントにgrant_typeを指定して要求し、セッションを返す。
func (c *GoTrueClient) tokenRequest(ctx context.Context, grantType string, body map[string]string) (*model.Session, error) {
	var resp sessionResponse
	q := url.Values{"grant_type": {grantType}}
	if err := c.do(ctx, http.MethodPost, pathToken, q, body, "", &resp); err != nil {
		return nil, err
	}

	session := resp.toSession(c.now())
	if session == nil {
		return nil, fmt.Errorf("token response did not contain an access token")
	}
	return session, nil
}

// redirectQuery はメールリンクの戻り先を指定するクエリを返す。
func (c *GoTrueClient) redirectQuery() url.Values {
	if c.config.EmailRedirectURL == "" {
		return nil
	}
	return url.Values{"redirect_to": {c.config.EmailRedirectURL}}
}

// do はIdPにJSONリクエストを送信し、成功時はレスポンスをoutにデコードする。
// bearerが空の場合は公開キーをAuthorizationヘッダーに使用する。
func (c *GoTrueClient) do(ctx context.Context, method, path string, query url.Values, body any, bearer string, out any) error {
	reqURL := c.config.BaseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, reqURL, reader)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("apikey", c.config.AnonKey)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer == "" {
		bearer = c.config.AnonKey
	}
	req.Header.Set("Authorization", "Bearer "+bearer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("identity provider request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return fmt.Errorf("failed to read identity provider response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parseProviderError(resp.StatusCode, respBody)
	}

	if out == nil || len(bytes.TrimSpace(respBody)) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to parse identity provider response: %w", err)
	}
	return nil
}

// errorResponse はIdPのエラーレスポンス。
// エンドポイントによってフィールド名が異なるため、すべての形式を受け付ける。
type errorResponse struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	ErrorName        string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// parseProviderError はエラーレスポンスをProviderErrorに変換する。
func parseProviderError(status int, body []byte) *ProviderError {
	pe := &ProviderError{Status: status}

	var er errorResponse
	if err := json.Unmarshal(body, &er); err != nil {
		pe.Message = strings.TrimSpace(string(body))
		if pe.Message == "" {
			pe.Message = http.StatusText(status)
		}
		return pe
	}

	pe.Code = er.ErrorCode
	if pe.Code == "" {
		pe.Code = er.ErrorName
	}

	for _, m := range []string{er.Msg, er.ErrorDescription, er.Message, er.ErrorName} {
		if m != "" {
			pe.Message = m
			break
		}
	}
	if pe.Message == "" {
		pe.Message = http.StatusText(status)
	}
	return pe
}

// userResponse はIdPのユーザーオブジェクト。
type userResponse struct {
	ID           string         `json:"id"`
	Email        string         `json:"email"`
	CreatedAt    time.Time      `json:"created_at"`
	UserMetadata map[string]any `json:"user_metadata"`
}

func (u *userResponse) toUser() model.User {
	user := model.User{
		ID:        u.ID,
		Email:     u.Email,
		CreatedAt: u.CreatedAt,
	}
	if name, ok := u.UserMetadata["full_name"].(string); ok {
		user.FullName = name
	}
	return user
}

// sessionResponse はセッションを含むIdPレスポンス。
// サインアップでメール確認待ちの場合はユーザーオブジェクトがトップレベルに返る。
type sessionResponse struct {
	AccessToken  string        `json:"access_token"`
	TokenType    string        `json:"token_type"`
	ExpiresIn    int64         `json:"expires_in"`
	ExpiresAt    int64         `json:"expires_at"`
	RefreshToken string        `json:"refresh_token"`
	User         *userResponse `json:"user"`

	ID string `json:"id"`
}

// toSession はレスポンスをセッションに変換する。アクセストークンがない場合はnilを返す。
// 有効期限はexpires_at、expires_in、アクセストークンのexpクレームの順に決定する。
func (r *sessionResponse) toSession(now time.Time) *model.Session {
	if r.AccessToken == "" {
		return nil
	}

	s := &model.Session{
		AccessToken:  r.AccessToken,
		RefreshToken: r.RefreshToken,
		TokenType:    r.TokenType,
	}

	switch {
	case r.ExpiresAt > 0:
		s.ExpiresAt = time.Unix(r.ExpiresAt, 0)
	case r.ExpiresIn > 0:
		s.ExpiresAt = now.Add(time.Duration(r.ExpiresIn) * time.Second)
	default:
		s.ExpiresAt = tokenExpiry(r.AccessToken)
	}

	if r.User != nil {
		s.User = r.User.toUser()
	} else if claims, err := parseAccessToken(r.AccessToken); err == nil {
		s.User = model.User{ID: claims.Subject, Email: claims.Email}
	}

	return s
}

// generateCodeVerifier はPKCEのcode_verifierを生成する。
func generateCodeVerifier() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

// codeChallenge はcode_verifierからS256のcode_challengeを算出する。
func codeChallenge(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// compile-time interface check
var _ Provider = (*GoTrueClient)(nil)
