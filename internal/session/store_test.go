package session

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/hitoshi/aidaily/internal/identity"
	"github.com/hitoshi/aidaily/internal/model"
)

// --- モック ---

// mockProvider はテスト用のidentity.Provider実装。
type mockProvider struct {
	getCurrentSessionFn func(ctx context.Context) (*model.Session, error)

	mu          sync.Mutex
	getCalls    int
	listeners   map[int]func(identity.Event)
	nextID      int
	unsubscribe int
}

func newMockProvider() *mockProvider {
	return &mockProvider{listeners: make(map[int]func(identity.Event))}
}

func (m *mockProvider) GetCurrentSession(ctx context.Context) (*model.Session, error) {
	m.mu.Lock()
	m.getCalls++
	m.mu.Unlock()
	if m.getCurrentSessionFn != nil {
		return m.getCurrentSessionFn(ctx)
	}
	return nil, nil
}

func (m *mockProvider) OnSessionChange(fn func(identity.Event)) func() {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if _, ok := m.listeners[id]; ok {
			delete(m.listeners, id)
			m.unsubscribe++
		}
	}
}

func (m *mockProvider) emit(kind identity.EventKind, session *model.Session) {
	m.mu.Lock()
	fns := make([]func(identity.Event), 0, len(m.listeners))
	for _, fn := range m.listeners {
		fns = append(fns, fn)
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(identity.Event{Kind: kind, Session: session.Clone()})
	}
}

func (m *mockProvider) listenerCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.listeners)
}

func (m *mockProvider) SignInWithPassword(context.Context, string, string) (*model.Session, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) SignUp(context.Context, string, string, string) (*model.Session, error) {
	return nil, errors.New("not implemented")
}

func (m *mockProvider) SignInWithOAuth(string, string) (string, error) {
	return "", errors.New("not implemented")
}

func (m *mockProvider) ResendVerification(context.Context, string) error {
	return errors.New("not implemented")
}

func (m *mockProvider) SignOut(context.Context) error {
	m.emit(identity.EventSignedOut, nil)
	return nil
}

var _ identity.Provider = (*mockProvider)(nil)

// mockAnalytics は呼び出しを記録するAnalytics実装。
type mockAnalytics struct {
	mu         sync.Mutex
	identified []string
	traits     []map[string]any
	resets     int
}

func (m *mockAnalytics) Identify(userID string, traits map[string]any) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.identified = append(m.identified, userID)
	m.traits = append(m.traits, traits)
}

func (m *mockAnalytics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newSession(token, userID, email string) *model.Session {
	return &model.Session{
		AccessToken: token,
		ExpiresAt:   time.Now().Add(time.Hour),
		User:        model.User{ID: userID, Email: email},
	}
}

func authorization(a *Authenticator) (string, bool) {
	values, ok := a.Header()["Authorization"]
	if !ok || len(values) == 0 {
		return "", false
	}
	return values[0], true
}

// --- テスト ---

func TestNewStore_StartsLoadingWithoutSession(t *testing.T) {
	store := NewStore(newMockProvider(), nil, nil, nil, testLogger())

	if !store.Loading() {
		t.Error("expected Loading() to be true before Initialize")
	}
	if store.Session() != nil {
		t.Error("expected no session before Initialize")
	}
	select {
	case <-store.Ready():
		t.Error("Ready() should not be closed before Initialize")
	default:
	}
}

func TestInitialize_AppliesProviderSession(t *testing.T) {
	provider := newMockProvider()
	provider.getCurrentSessionFn = func(ctx context.Context) (*model.Session, error) {
		return newSession("t1", "user-1", "a@b.com"), nil
	}
	analytics := &mockAnalytics{}
	store := NewStore(provider, nil, analytics, nil, testLogger())

	store.Initialize(context.Background())

	if store.Loading() {
		t.Error("expected Loading() to be false after Initialize")
	}
	select {
	case <-store.Ready():
	default:
		t.Error("Ready() should be closed after Initialize")
	}

	s := store.Session()
	if s == nil || s.AccessToken != "t1" || s.User.Email != "a@b.com" {
		t.Fatalf("Session() = %+v, want token t1 / a@b.com", s)
	}
	if got, ok := authorization(store.Authenticator()); !ok || got != "Bearer t1" {
		t.Errorf("Authorization = %q (present=%v), want %q", got, ok, "Bearer t1")
	}
	if len(analytics.identified) != 1 || analytics.identified[0] != "user-1" {
		t.Errorf("identified = %v, want [user-1]", analytics.identified)
	}
	if analytics.traits[0]["email"] != "a@b.com" {
		t.Errorf("traits = %v, want email a@b.com", analytics.traits[0])
	}
}

func TestInitialize_ProviderError_ResolvesSignedOut(t *testing.T) {
	provider := newMockProvider()
	provider.getCurrentSessionFn = func(ctx context.Context) (*model.Session, error) {
		return nil, errors.New("dial tcp: connection refused")
	}
	analytics := &mockAnalytics{}
	store := NewStore(provider, nil, analytics, nil, testLogger())

	store.Initialize(context.Background())

	if store.Loading() {
		t.Error("expected Loading() to be false after a failed Initialize")
	}
	if store.Session() != nil {
		t.Error("expected no session after a failed Initialize")
	}
	if _, ok := authorization(store.Authenticator()); ok {
		t.Error("expected no Authorization header")
	}
	if len(analytics.identified) != 0 {
		t.Errorf("expected no identify calls, got %v", analytics.identified)
	}
}

func TestInitialize_RunsOnce(t *testing.T) {
	provider := newMockProvider()
	store := NewStore(provider, nil, nil, nil, testLogger())

	store.Initialize(context.Background())
	store.Initialize(context.Background())

	if provider.getCalls != 1 {
		t.Errorf("GetCurrentSession called %d times, want 1", provider.getCalls)
	}
}

func TestAuthorizationHeader_TracksEveryTransition(t *testing.T) {
	provider := newMockProvider()
	store := NewStore(provider, nil, nil, nil, testLogger())
	store.Subscribe()
	store.Initialize(context.Background())

	steps := []struct {
		kind    identity.EventKind
		session *model.Session
		want    string
	}{
		{identity.EventSignedIn, newSession("t1", "u1", "a@b.com"), "Bearer t1"},
		{identity.EventTokenRefreshed, newSession("t2", "u1", "a@b.com"), "Bearer t2"},
		{identity.EventSignedOut, nil, ""},
		{identity.EventSignedOut, nil, ""},
		{identity.EventSignedIn, newSession("t3", "u2", "c@d.com"), "Bearer t3"},
		{identity.EventTokenRefreshed, newSession("t4", "u2", "c@d.com"), "Bearer t4"},
	}

	for i, step := range steps {
		provider.emit(step.kind, step.session)

		got, ok := authorization(store.Authenticator())
		if step.want == "" {
			if ok {
				t.Errorf("step %d (%s): Authorization = %q, want absent", i, step.kind, got)
			}
		} else if got != step.want {
			t.Errorf("step %d (%s): Authorization = %q, want %q", i, step.kind, got, step.want)
		}

		// リクエスト生成時の付与も同じ値になる
		req, _ := http.NewRequest(http.MethodGet, "http://api.invalid/stories/", nil)
		req.Header.Set("Authorization", "Bearer stale")
		store.Authenticator().Apply(req)
		if req.Header.Get("Authorization") != step.want {
			t.Errorf("step %d (%s): applied Authorization = %q, want %q", i, step.kind, req.Header.Get("Authorization"), step.want)
		}
	}
}

func TestSignOut_ClearsSessionAndHeader(t *testing.T) {
	tests := []struct {
		name    string
		initial *model.Session
	}{
		{"サインイン中", newSession("t1", "u1", "a@b.com")},
		{"サインアウト中", nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			provider := newMockProvider()
			provider.getCurrentSessionFn = func(ctx context.Context) (*model.Session, error) {
				return tt.initial, nil
			}
			analytics := &mockAnalytics{}
			store := NewStore(provider, nil, analytics, nil, testLogger())
			store.Subscribe()
			store.Initialize(context.Background())

			if err := provider.SignOut(context.Background()); err != nil {
				t.Fatalf("SignOut() error: %v", err)
			}

			if store.Session() != nil {
				t.Errorf("Session() = %+v, want nil", store.Session())
			}
			if _, ok := authorization(store.Authenticator()); ok {
				t.Error("expected Authorization to be absent after sign out")
			}
			if analytics.resets != 1 {
				t.Errorf("analytics resets = %d, want 1", analytics.resets)
			}
		})
	}
}

func TestTeardown_DiscardsLateInitialResult(t *testing.T) {
	provider := newMockProvider()
	release := make(chan struct{})
	provider.getCurrentSessionFn = func(ctx context.Context) (*model.Session, error) {
		<-release
		return newSession("late", "u1", "a@b.com"), nil
	}
	analytics := &mockAnalytics{}
	store := NewStore(provider, nil, analytics, nil, testLogger())
	store.Subscribe()

	done := make(chan struct{})
	go func() {
		store.Initialize(context.Background())
		close(done)
	}()

	store.Teardown()
	close(release)
	<-done

	if store.Session() != nil {
		t.Errorf("Session() = %+v, want nil", store.Session())
	}
	if !store.Loading() {
		t.Error("expected the store to remain in its default loading state")
	}
	if _, ok := authorization(store.Authenticator()); ok {
		t.Error("expected no Authorization after discarded result")
	}
	if len(analytics.identified) != 0 {
		t.Errorf("expected no identify calls, got %v", analytics.identified)
	}
	select {
	case <-store.Ready():
		t.Error("Ready() should not close for a discarded result")
	default:
	}
}

func TestTeardown_UnsubscribesExactlyOnce(t *testing.T) {
	provider := newMockProvider()
	store := NewStore(provider, nil, nil, nil, testLogger())
	store.Subscribe()
	store.Subscribe() // 2回目は何もしない

	if provider.listenerCount() != 1 {
		t.Fatalf("listenerCount = %d, want 1", provider.listenerCount())
	}

	store.Teardown()
	store.Teardown()

	if provider.listenerCount() != 0 {
		t.Errorf("listenerCount = %d, want 0", provider.listenerCount())
	}
	if provider.unsubscribe != 1 {
		t.Errorf("unsubscribe called %d times, want 1", provider.unsubscribe)
	}

	// Teardown後の購読は行わない
	store.Subscribe()
	if provider.listenerCount() != 0 {
		t.Errorf("listenerCount after Subscribe = %d, want 0", provider.listenerCount())
	}
}

func TestLastReceivedWins_EventDuringInitialFetch(t *testing.T) {
	provider := newMockProvider()
	fetchStarted := make(chan struct{})
	release := make(chan struct{})
	provider.getCurrentSessionFn = func(ctx context.Context) (*model.Session, error) {
		close(fetchStarted)
		<-release
		return nil, nil
	}
	store := NewStore(provider, nil, nil, nil, testLogger())
	store.Subscribe()

	done := make(chan struct{})
	go func() {
		store.Initialize(context.Background())
		close(done)
	}()

	<-fetchStarted
	provider.emit(identity.EventSignedIn, newSession("t-event", "u1", "a@b.com"))
	if s := store.Session(); s == nil || s.AccessToken != "t-event" {
		t.Fatalf("Session() = %+v, want event session", s)
	}

	// 初回取得の結果がイベントより後に届いた場合はそれが現在の値になる
	close(release)
	<-done
	if store.Session() != nil {
		t.Errorf("Session() = %+v, want nil from the later initial result", store.Session())
	}

	// その後のイベントは再び上書きする
	provider.emit(identity.EventSignedIn, newSession("t-after", "u1", "a@b.com"))
	if s := store.Session(); s == nil || s.AccessToken != "t-after" {
		t.Errorf("Session() = %+v, want t-after", s)
	}
}

func TestWatch_ReceivesLatestStateAfterEachTransition(t *testing.T) {
	provider := newMockProvider()
	store := NewStore(provider, nil, nil, nil, testLogger())
	store.Subscribe()

	var states []State
	cancel := store.Watch(func(s State) { states = append(states, s) })

	store.Initialize(context.Background())
	provider.emit(identity.EventSignedIn, newSession("t1", "u1", "a@b.com"))
	cancel()
	cancel()
	provider.emit(identity.EventSignedOut, nil)

	if len(states) != 2 {
		t.Fatalf("received %d states, want 2", len(states))
	}
	if states[0].Loading || states[0].SignedIn() {
		t.Errorf("states[0] = %+v, want resolved signed out", states[0])
	}
	if !states[1].SignedIn() || states[1].User().Email != "a@b.com" {
		t.Errorf("states[1] = %+v, want signed in as a@b.com", states[1])
	}
}

func TestWaitReady(t *testing.T) {
	store := NewStore(newMockProvider(), nil, nil, nil, testLogger())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := store.WaitReady(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitReady() before Initialize = %v, want DeadlineExceeded", err)
	}

	store.Initialize(context.Background())
	if err := store.WaitReady(context.Background()); err != nil {
		t.Errorf("WaitReady() after Initialize = %v, want nil", err)
	}
}

func TestSession_ReturnsCopy(t *testing.T) {
	provider := newMockProvider()
	provider.getCurrentSessionFn = func(ctx context.Context) (*model.Session, error) {
		return newSession("t1", "u1", "a@b.com"), nil
	}
	store := NewStore(provider, nil, nil, nil, testLogger())
	store.Initialize(context.Background())

	s := store.Session()
	s.AccessToken = "mutated"
	if store.Session().AccessToken != "t1" {
		t.Error("Session() must return a copy")
	}
}
