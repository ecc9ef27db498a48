package identity

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/hitoshi/aidaily/internal/model"
)

// --- ヘルパー ---

var fixedNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// signedToken はテスト用のアクセストークンを生成する。
func signedToken(t *testing.T, sub, email string, exp time.Time) string {
	t.Helper()
	claims := accessTokenClaims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   sub,
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return token
}

func newTestClient(t *testing.T, handler http.HandlerFunc, storage SessionStorage) (*GoTrueClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	c := NewGoTrueClient(GoTrueConfig{
		BaseURL:          srv.URL,
		AnonKey:          "anon-key",
		EmailRedirectURL: "http://localhost:3000/auth/callback",
		HTTPClient:       srv.Client(),
		Storage:          storage,
		Logger:           discardLogger(),
		Now:              func() time.Time { return fixedNow },
	})
	return c, srv
}

// eventRecorder は配信されたイベントを記録する。
type eventRecorder struct {
	mu     sync.Mutex
	events []Event
}

func (r *eventRecorder) record(ev Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *eventRecorder) kinds() []EventKind {
	r.mu.Lock()
	defer r.mu.Unlock()
	kinds := make([]EventKind, len(r.events))
	for i, ev := range r.events {
		kinds[i] = ev.Kind
	}
	return kinds
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func sessionJSON(token, refresh string) map[string]any {
	return map[string]any{
		"access_token":  token,
		"token_type":    "bearer",
		"expires_in":    3600,
		"refresh_token": refresh,
		"user": map[string]any{
			"id":            "user-1",
			"email":         "a@b.com",
			"created_at":    "2024-05-01T10:00:00Z",
			"user_metadata": map[string]any{"full_name": "Ada Lovelace"},
		},
	}
}

// --- テスト ---

func TestSignInWithPassword_Success_EmitsSignedInAndPersists(t *testing.T) {
	storage := NewMemoryStorage()
	var gotBody map[string]string

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathToken {
			t.Errorf("path = %q, want %q", r.URL.Path, pathToken)
		}
		if r.URL.Query().Get("grant_type") != "password" {
			t.Errorf("grant_type = %q, want %q", r.URL.Query().Get("grant_type"), "password")
		}
		if r.Header.Get("apikey") != "anon-key" {
			t.Errorf("apikey = %q, want %q", r.Header.Get("apikey"), "anon-key")
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, sessionJSON("t1", "r1"))
	}, storage)

	rec := &eventRecorder{}
	c.OnSessionChange(rec.record)

	session, err := c.SignInWithPassword(context.Background(), "a@b.com", "password123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if gotBody["email"] != "a@b.com" || gotBody["password"] != "password123" {
		t.Errorf("request body = %v", gotBody)
	}
	if session.AccessToken != "t1" {
		t.Errorf("AccessToken = %q, want %q", session.AccessToken, "t1")
	}
	if session.User.FullName != "Ada Lovelace" {
		t.Errorf("FullName = %q, want %q", session.User.FullName, "Ada Lovelace")
	}
	if !session.ExpiresAt.Equal(fixedNow.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, fixedNow.Add(time.Hour))
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != EventSignedIn {
		t.Errorf("events = %v, want [SIGNED_IN]", got)
	}

	stored, _ := storage.Load(context.Background())
	if stored == nil || stored.AccessToken != "t1" {
		t.Errorf("stored session = %+v, want token t1", stored)
	}
}

func TestSignInWithPassword_InvalidCredentials_ReturnsProviderError(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]string{
			"error":             "invalid_grant",
			"error_description": "Invalid login credentials",
		})
	}, nil)

	rec := &eventRecorder{}
	c.OnSessionChange(rec.record)

	_, err := c.SignInWithPassword(context.Background(), "a@b.com", "wrong")
	pe, ok := IsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Status != http.StatusBadRequest {
		t.Errorf("Status = %d, want %d", pe.Status, http.StatusBadRequest)
	}
	if pe.Code != "invalid_grant" {
		t.Errorf("Code = %q, want %q", pe.Code, "invalid_grant")
	}
	if pe.Message != "Invalid login credentials" {
		t.Errorf("Message = %q, want %q", pe.Message, "Invalid login credentials")
	}
	if len(rec.kinds()) != 0 {
		t.Errorf("expected no events, got %v", rec.kinds())
	}
}

func TestSignUp_PendingConfirmation_ReturnsNilSession(t *testing.T) {
	var gotBody signUpRequest
	var gotRedirect string

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathSignup {
			t.Errorf("path = %q, want %q", r.URL.Path, pathSignup)
		}
		gotRedirect = r.URL.Query().Get("redirect_to")
		json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusOK, map[string]any{
			"id":    "user-2",
			"email": "new@b.com",
		})
	}, nil)

	rec := &eventRecorder{}
	c.OnSessionChange(rec.record)

	session, err := c.SignUp(context.Background(), "new@b.com", "abcdefgh", "New Reader")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Errorf("expected nil session while confirmation is pending, got %+v", session)
	}
	if gotBody.Data["full_name"] != "New Reader" {
		t.Errorf("full_name = %q, want %q", gotBody.Data["full_name"], "New Reader")
	}
	if gotRedirect != "http://localhost:3000/auth/callback" {
		t.Errorf("redirect_to = %q", gotRedirect)
	}
	if len(rec.kinds()) != 0 {
		t.Errorf("expected no events, got %v", rec.kinds())
	}
}

func TestSignUp_AutoConfirmed_EmitsSignedIn(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, sessionJSON("t-new", "r-new"))
	}, nil)

	rec := &eventRecorder{}
	c.OnSessionChange(rec.record)

	session, err := c.SignUp(context.Background(), "a@b.com", "abcdefgh", "Ada Lovelace")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session == nil || session.AccessToken != "t-new" {
		t.Fatalf("session = %+v, want token t-new", session)
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != EventSignedIn {
		t.Errorf("events = %v, want [SIGNED_IN]", got)
	}
}

func TestGetCurrentSession_RestoresStoredSessionWithoutNetwork(t *testing.T) {
	storage := NewMemoryStorage()
	storage.Save(context.Background(), &model.Session{
		AccessToken:  "stored",
		RefreshToken: "r",
		ExpiresAt:    fixedNow.Add(30 * time.Minute),
		User:         model.User{ID: "user-1", Email: "a@b.com"},
	})

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}, storage)

	session, err := c.GetCurrentSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session == nil || session.AccessToken != "stored" {
		t.Fatalf("session = %+v, want stored session", session)
	}
}

func TestGetCurrentSession_NoStoredSession_ReturnsNil(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("unexpected request to %s", r.URL.Path)
	}, nil)

	session, err := c.GetCurrentSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Errorf("expected nil session, got %+v", session)
	}
}

func TestGetCurrentSession_Expired_RefreshesAndEmitsTokenRefreshed(t *testing.T) {
	storage := NewMemoryStorage()
	storage.Save(context.Background(), &model.Session{
		AccessToken:  "old",
		RefreshToken: "r-old",
		ExpiresAt:    fixedNow.Add(-time.Minute),
	})

	var gotRefresh string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "refresh_token" {
			t.Errorf("grant_type = %q, want refresh_token", r.URL.Query().Get("grant_type"))
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotRefresh = body["refresh_token"]
		writeJSON(w, http.StatusOK, sessionJSON("new", "r-new"))
	}, storage)

	rec := &eventRecorder{}
	c.OnSessionChange(rec.record)

	session, err := c.GetCurrentSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotRefresh != "r-old" {
		t.Errorf("refresh_token = %q, want %q", gotRefresh, "r-old")
	}
	if session == nil || session.AccessToken != "new" {
		t.Fatalf("session = %+v, want refreshed session", session)
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != EventTokenRefreshed {
		t.Errorf("events = %v, want [TOKEN_REFRESHED]", got)
	}
}

func TestGetCurrentSession_RefreshRejected_SignsOut(t *testing.T) {
	storage := NewMemoryStorage()
	storage.Save(context.Background(), &model.Session{
		AccessToken:  "old",
		RefreshToken: "revoked",
		ExpiresAt:    fixedNow.Add(-time.Minute),
	})

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"code":       400,
			"error_code": "refresh_token_not_found",
			"msg":        "Invalid Refresh Token: Refresh Token Not Found",
		})
	}, storage)

	rec := &eventRecorder{}
	c.OnSessionChange(rec.record)

	session, err := c.GetCurrentSession(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session != nil {
		t.Errorf("expected nil session, got %+v", session)
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != EventSignedOut {
		t.Errorf("events = %v, want [SIGNED_OUT]", got)
	}
	if stored, _ := storage.Load(context.Background()); stored != nil {
		t.Errorf("expected storage to be cleared, got %+v", stored)
	}
}

func TestSignOut_RemoteFailure_StillClearsSession(t *testing.T) {
	storage := NewMemoryStorage()
	var gotAuth string

	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathToken:
			writeJSON(w, http.StatusOK, sessionJSON("t1", "r1"))
		case pathLogout:
			gotAuth = r.Header.Get("Authorization")
			w.WriteHeader(http.StatusInternalServerError)
		}
	}, storage)

	if _, err := c.SignInWithPassword(context.Background(), "a@b.com", "password123"); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}

	rec := &eventRecorder{}
	c.OnSessionChange(rec.record)

	if err := c.SignOut(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if gotAuth != "Bearer t1" {
		t.Errorf("logout Authorization = %q, want %q", gotAuth, "Bearer t1")
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != EventSignedOut {
		t.Errorf("events = %v, want [SIGNED_OUT]", got)
	}
	if stored, _ := storage.Load(context.Background()); stored != nil {
		t.Errorf("expected storage to be cleared, got %+v", stored)
	}
	if session, _ := c.GetCurrentSession(context.Background()); session != nil {
		t.Errorf("expected no current session, got %+v", session)
	}
}

func TestSignInWithOAuth_BuildsAuthorizeURLAndExchangesCode(t *testing.T) {
	var gotVerifier, gotCode string

	c, srv := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("grant_type") != "pkce" {
			t.Errorf("grant_type = %q, want pkce", r.URL.Query().Get("grant_type"))
		}
		var body map[string]string
		json.NewDecoder(r.Body).Decode(&body)
		gotVerifier = body["code_verifier"]
		gotCode = body["auth_code"]
		writeJSON(w, http.StatusOK, sessionJSON("t-oauth", "r-oauth"))
	}, nil)

	raw, err := c.SignInWithOAuth("google", "http://localhost:3000/auth/callback")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("invalid url %q: %v", raw, err)
	}
	if u.Scheme+"://"+u.Host != srv.URL || u.Path != pathAuthorize {
		t.Errorf("authorize url = %q", raw)
	}
	q := u.Query()
	if q.Get("provider") != "google" {
		t.Errorf("provider = %q, want google", q.Get("provider"))
	}
	if q.Get("redirect_to") != "http://localhost:3000/auth/callback" {
		t.Errorf("redirect_to = %q", q.Get("redirect_to"))
	}
	challenge := q.Get("code_challenge")

	session, err := c.ExchangeCodeForSession(context.Background(), "code-123")
	if err != nil {
		t.Fatalf("exchange failed: %v", err)
	}
	if session.AccessToken != "t-oauth" {
		t.Errorf("AccessToken = %q, want %q", session.AccessToken, "t-oauth")
	}
	if gotCode != "code-123" {
		t.Errorf("auth_code = %q, want %q", gotCode, "code-123")
	}
	if codeChallenge(gotVerifier) != challenge {
		t.Error("code_verifier does not match the code_challenge sent to authorize")
	}

	// 交換後はverifierが破棄される
	if _, err := c.ExchangeCodeForSession(context.Background(), "code-456"); !errors.Is(err, ErrNoVerifier) {
		t.Errorf("second exchange error = %v, want ErrNoVerifier", err)
	}
}

func TestSignInWithOAuth_EmptyProvider_ReturnsError(t *testing.T) {
	c := NewGoTrueClient(GoTrueConfig{BaseURL: "http://idp.invalid", Logger: discardLogger()})
	if _, err := c.SignInWithOAuth("", ""); err == nil {
		t.Fatal("expected error for empty provider")
	}
}

func TestResendVerification_RateLimited_ReturnsProviderError(t *testing.T) {
	var gotBody map[string]string
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathResend {
			t.Errorf("path = %q, want %q", r.URL.Path, pathResend)
		}
		json.NewDecoder(r.Body).Decode(&gotBody)
		writeJSON(w, http.StatusTooManyRequests, map[string]any{
			"code": 429,
			"msg":  "For security purposes, you can only request this after 60 seconds. Email rate limit exceeded",
		})
	}, nil)

	err := c.ResendVerification(context.Background(), "a@b.com")
	pe, ok := IsProviderError(err)
	if !ok {
		t.Fatalf("expected ProviderError, got %v", err)
	}
	if pe.Status != http.StatusTooManyRequests {
		t.Errorf("Status = %d, want %d", pe.Status, http.StatusTooManyRequests)
	}
	if gotBody["type"] != "signup" || gotBody["email"] != "a@b.com" {
		t.Errorf("request body = %v", gotBody)
	}
}

func TestVerifyOTP_Success_EmitsSignedIn(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != pathVerify {
			t.Errorf("path = %q, want %q", r.URL.Path, pathVerify)
		}
		writeJSON(w, http.StatusOK, sessionJSON("t-otp", "r-otp"))
	}, nil)

	rec := &eventRecorder{}
	c.OnSessionChange(rec.record)

	session, err := c.VerifyOTP(context.Background(), "a@b.com", "123456")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if session.AccessToken != "t-otp" {
		t.Errorf("AccessToken = %q, want %q", session.AccessToken, "t-otp")
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != EventSignedIn {
		t.Errorf("events = %v, want [SIGNED_IN]", got)
	}
}

func TestRefreshUser_EmitsUserUpdated(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathToken:
			writeJSON(w, http.StatusOK, sessionJSON("t1", "r1"))
		case pathUser:
			if r.Header.Get("Authorization") != "Bearer t1" {
				t.Errorf("Authorization = %q, want %q", r.Header.Get("Authorization"), "Bearer t1")
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"id":            "user-1",
				"email":         "a@b.com",
				"user_metadata": map[string]any{"full_name": "Ada King"},
			})
		}
	}, nil)

	if _, err := c.SignInWithPassword(context.Background(), "a@b.com", "password123"); err != nil {
		t.Fatalf("sign in failed: %v", err)
	}

	rec := &eventRecorder{}
	c.OnSessionChange(rec.record)

	user, err := c.RefreshUser(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if user.FullName != "Ada King" {
		t.Errorf("FullName = %q, want %q", user.FullName, "Ada King")
	}
	if got := rec.kinds(); len(got) != 1 || got[0] != EventUserUpdated {
		t.Errorf("events = %v, want [USER_UPDATED]", got)
	}
}

func TestRefreshSession_NoSession_ReturnsErrNoSession(t *testing.T) {
	c := NewGoTrueClient(GoTrueConfig{BaseURL: "http://idp.invalid", Logger: discardLogger()})
	if _, err := c.RefreshSession(context.Background()); !errors.Is(err, ErrNoSession) {
		t.Errorf("error = %v, want ErrNoSession", err)
	}
}

func TestOnSessionChange_UnsubscribeStopsDeliveryAndKeepsOrder(t *testing.T) {
	c, _ := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case pathToken:
			writeJSON(w, http.StatusOK, sessionJSON("t1", "r1"))
		case pathLogout:
			w.WriteHeader(http.StatusNoContent)
		}
	}, nil)

	first := &eventRecorder{}
	second := &eventRecorder{}
	unsubFirst := c.OnSessionChange(first.record)
	c.OnSessionChange(second.record)

	ctx := context.Background()
	c.SignInWithPassword(ctx, "a@b.com", "password123")
	unsubFirst()
	unsubFirst() // 2回目は何もしない
	c.SignOut(ctx)

	if got := first.kinds(); len(got) != 1 || got[0] != EventSignedIn {
		t.Errorf("first listener events = %v, want [SIGNED_IN]", got)
	}
	got := second.kinds()
	if len(got) != 2 || got[0] != EventSignedIn || got[1] != EventSignedOut {
		t.Errorf("second listener events = %v, want [SIGNED_IN SIGNED_OUT]", got)
	}
	if c.ListenerCount() != 1 {
		t.Errorf("ListenerCount() = %d, want 1", c.ListenerCount())
	}
}

func TestToSession_ExpiryAndUserFromAccessToken(t *testing.T) {
	exp := fixedNow.Add(15 * time.Minute).Truncate(time.Second)
	token := signedToken(t, "user-9", "jwt@b.com", exp)

	resp := sessionResponse{AccessToken: token, RefreshToken: "r"}
	session := resp.toSession(fixedNow)

	if session == nil {
		t.Fatal("expected session")
	}
	if !session.ExpiresAt.Equal(exp) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, exp)
	}
	if session.User.ID != "user-9" || session.User.Email != "jwt@b.com" {
		t.Errorf("User = %+v, want id user-9 / jwt@b.com", session.User)
	}
}

func TestToSession_ExpiresAtTakesPrecedence(t *testing.T) {
	resp := sessionResponse{AccessToken: "opaque", ExpiresAt: fixedNow.Add(time.Hour).Unix(), ExpiresIn: 60}
	session := resp.toSession(fixedNow)
	if !session.ExpiresAt.Equal(fixedNow.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", session.ExpiresAt, fixedNow.Add(time.Hour))
	}
}

func TestParseProviderError_NonJSONBody(t *testing.T) {
	pe := parseProviderError(http.StatusBadGateway, []byte("upstream down"))
	if pe.Message != "upstream down" {
		t.Errorf("Message = %q, want %q", pe.Message, "upstream down")
	}

	pe = parseProviderError(http.StatusServiceUnavailable, nil)
	if pe.Message != http.StatusText(http.StatusServiceUnavailable) {
		t.Errorf("Message = %q, want status text", pe.Message)
	}
}
