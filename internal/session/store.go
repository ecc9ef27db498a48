// Package session はプロセス全体で共有するログイン状態を管理する。
// Storeが現在のセッションの唯一の書き込み主体となり、遷移のたびに
// Authenticatorと分析クライアント、購読者へ反映する。
package session

import (
	"context"
	"log/slog"
	"sync"

	"github.com/hitoshi/aidaily/internal/identity"
	"github.com/hitoshi/aidaily/internal/metrics"
	"github.com/hitoshi/aidaily/internal/model"
)

// transitionInitial は起動時のセッション確認による遷移の種別。
const transitionInitial = "INITIAL"

// Analytics はセッション遷移時に呼び出す分析クライアント。
// いずれの呼び出しも結果を返さない。
type Analytics interface {
	Identify(userID string, traits map[string]any)
	Reset()
}

// State はStoreが保持する状態のスナップショット。
type State struct {
	Session *model.Session
	Loading bool
}

// User はセッションのユーザーを返す。サインアウト中はnilを返す。
func (s State) User() *model.User {
	if s.Session == nil {
		return nil
	}
	u := s.Session.User
	return &u
}

// SignedIn はセッションが存在するかどうかを返す。
func (s State) SignedIn() bool {
	return s.Session != nil
}

// Store は現在のセッションを保持する。
// 値の適用は直列化され、初回取得の結果とIdPのイベントのうち最後に受け取ったものが現在の値となる。
type Store struct {
	provider  identity.Provider
	auth      *Authenticator
	analytics Analytics
	metrics   metrics.MetricsCollector
	logger    *slog.Logger

	// applyMu は値の適用と購読者への通知を直列化する。
	applyMu sync.Mutex

	mu          sync.RWMutex
	session     *model.Session
	loading     bool
	tornDown    bool
	unsubscribe func()

	ready        chan struct{}
	initOnce     sync.Once
	teardownOnce sync.Once

	watchMu  sync.Mutex
	nextID   int
	watchers map[int]func(State)
	order    []int
}

// NewStore はStoreを生成する。
// auth、analytics、collector、loggerがnilの場合はそれぞれ既定の実装を使用する。
func NewStore(provider identity.Provider, auth *Authenticator, analytics Analytics, collector metrics.MetricsCollector, logger *slog.Logger) *Store {
	if auth == nil {
		auth = NewAuthenticator()
	}
	if analytics == nil {
		analytics = nopAnalytics{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		provider:  provider,
		auth:      auth,
		analytics: analytics,
		metrics:   collector,
		logger:    logger,
		loading:   true,
		ready:     make(chan struct{}),
		watchers:  make(map[int]func(State)),
	}
}

// Initialize はIdPに永続化済みのセッションを問い合わせ、初期状態を設定する。
// プロセス中で1回だけ実行され、2回目以降の呼び出しは何もしない。
// 問い合わせに失敗した場合はサインアウト状態として確定し、再試行しない。
// Teardown後に結果が届いた場合は破棄する。
func (s *Store) Initialize(ctx context.Context) {
	s.initOnce.Do(func() {
		session, err := s.provider.GetCurrentSession(ctx)
		if err != nil {
			s.logger.Warn("initial session check failed, continuing signed out",
				slog.String("error", err.Error()),
			)
			session = nil
		}

		s.applyMu.Lock()
		defer s.applyMu.Unlock()

		if s.isTornDown() {
			s.logger.Debug("discarding initial session result after teardown")
			return
		}

		s.mu.Lock()
		s.session = session.Clone()
		s.loading = false
		s.mu.Unlock()

		s.auth.Set(session)
		if session != nil {
			s.identify(session)
		}
		s.metrics.RecordSessionTransition(transitionInitial)
		s.logTransition(transitionInitial, session)

		close(s.ready)
		s.notify()
	})
}

// Subscribe はIdPのセッション変化イベントの購読を開始する。
// 購読済み、またはTeardown後の呼び出しは何もしない。
func (s *Store) Subscribe() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.tornDown || s.unsubscribe != nil {
		return
	}
	s.unsubscribe = s.provider.OnSessionChange(s.handleEvent)
}

// Teardown はIdPの購読を解除する。2回目以降の呼び出しは何もしない。
// 以降に届く初回取得の結果とイベントは適用されない。
func (s *Store) Teardown() {
	s.teardownOnce.Do(func() {
		s.mu.Lock()
		s.tornDown = true
		unsubscribe := s.unsubscribe
		s.unsubscribe = nil
		s.mu.Unlock()

		if unsubscribe != nil {
			unsubscribe()
		}
	})
}

// handleEvent はIdPのイベントを現在の値として適用する。
// IdPの通知と同じゴルーチンで同期的に実行される。
func (s *Store) handleEvent(ev identity.Event) {
	s.applyMu.Lock()
	defer s.applyMu.Unlock()

	if s.isTornDown() {
		return
	}

	s.mu.Lock()
	s.session = ev.Session.Clone()
	s.mu.Unlock()

	s.auth.Set(ev.Session)
	if ev.Session != nil {
		s.identify(ev.Session)
	} else {
		s.analytics.Reset()
	}
	s.metrics.RecordSessionTransition(string(ev.Kind))
	s.logTransition(string(ev.Kind), ev.Session)

	s.notify()
}

// Watch は遷移ごとに最新の状態を受け取る関数を登録し、登録解除関数を返す。
// fnは遷移を適用したゴルーチンで同期的に呼ばれるため、ブロックしてはならない。
// また、fnからIdPのサインイン・サインアウト等を呼び出してはならない。
func (s *Store) Watch(fn func(State)) (cancel func()) {
	s.watchMu.Lock()
	id := s.nextID
	s.nextID++
	s.watchers[id] = fn
	s.order = append(s.order, id)
	s.watchMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.watchMu.Lock()
			defer s.watchMu.Unlock()
			delete(s.watchers, id)
			for i, v := range s.order {
				if v == id {
					s.order = append(s.order[:i], s.order[i+1:]...)
					break
				}
			}
		})
	}
}

// notify は登録順に購読者へ最新の状態を通知する。applyMuを保持して呼ぶこと。
func (s *Store) notify() {
	s.watchMu.Lock()
	fns := make([]func(State), 0, len(s.order))
	for _, id := range s.order {
		fns = append(fns, s.watchers[id])
	}
	s.watchMu.Unlock()

	for _, fn := range fns {
		fn(s.State())
	}
}

// State は現在の状態のスナップショットを返す。
func (s *Store) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return State{Session: s.session.Clone(), Loading: s.loading}
}

// Session は現在のセッションのコピーを返す。サインアウト中はnilを返す。
func (s *Store) Session() *model.Session {
	return s.State().Session
}

// User は現在のユーザーを返す。サインアウト中はnilを返す。
func (s *Store) User() *model.User {
	return s.State().User()
}

// Loading は初回のセッション確認が完了していない間trueを返す。
func (s *Store) Loading() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.loading
}

// Ready は初回のセッション確認が完了するとクローズされるチャネルを返す。
func (s *Store) Ready() <-chan struct{} {
	return s.ready
}

// WaitReady は初回のセッション確認の完了を待つ。
func (s *Store) WaitReady(ctx context.Context) error {
	select {
	case <-s.ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Authenticator はStoreが更新するAuthenticatorを返す。
func (s *Store) Authenticator() *Authenticator {
	return s.auth
}

func (s *Store) isTornDown() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tornDown
}

func (s *Store) identify(session *model.Session) {
	s.analytics.Identify(session.User.ID, map[string]any{"email": session.User.Email})
}

func (s *Store) logTransition(kind string, session *model.Session) {
	attrs := []any{slog.String("kind", kind), slog.Bool("signed_in", session != nil)}
	if session != nil {
		attrs = append(attrs, slog.String("user_id", session.User.ID))
	}
	s.logger.Info("session transition applied", attrs...)
}

type nopAnalytics struct{}

func (nopAnalytics) Identify(string, map[string]any) {}

func (nopAnalytics) Reset() {}
