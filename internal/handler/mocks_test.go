package handler

import (
	"context"
	"sync"

	"github.com/hitoshi/aidaily/internal/feed"
	"github.com/hitoshi/aidaily/internal/modal"
	"github.com/hitoshi/aidaily/internal/model"
	"github.com/hitoshi/aidaily/internal/session"
)

// --- SessionReader ---

type mockSessions struct {
	state session.State
}

func (m *mockSessions) State() session.State { return m.state }

var _ SessionReader = (*mockSessions)(nil)

// --- AuthFormInterface ---

type mockForm struct {
	state        modal.FormState
	setModeFn    func(mode modal.Mode) (modal.FormState, error)
	signInFn     func(ctx context.Context, email, password string) (modal.FormState, error)
	signUpFn     func(ctx context.Context, creds modal.Credentials) (modal.FormState, error)
	resendFn     func(ctx context.Context) (modal.FormState, error)
	signInCalled bool
}

func (m *mockForm) State() modal.FormState { return m.state }

func (m *mockForm) SetMode(mode modal.Mode) (modal.FormState, error) {
	if m.setModeFn != nil {
		return m.setModeFn(mode)
	}
	m.state.Mode = mode
	return m.state, nil
}

func (m *mockForm) SignIn(ctx context.Context, email, password string) (modal.FormState, error) {
	m.signInCalled = true
	if m.signInFn != nil {
		return m.signInFn(ctx, email, password)
	}
	return m.state, nil
}

func (m *mockForm) SignUp(ctx context.Context, creds modal.Credentials) (modal.FormState, error) {
	if m.signUpFn != nil {
		return m.signUpFn(ctx, creds)
	}
	return m.state, nil
}

func (m *mockForm) ResendVerification(ctx context.Context) (modal.FormState, error) {
	if m.resendFn != nil {
		return m.resendFn(ctx)
	}
	return m.state, nil
}

var _ AuthFormInterface = (*mockForm)(nil)

// --- ModalInterface ---

type mockModal struct {
	mu   sync.Mutex
	open bool
}

func (m *mockModal) Open() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = true
}

func (m *mockModal) Close() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.open = false
}

func (m *mockModal) IsOpen() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.open
}

var _ ModalInterface = (*mockModal)(nil)

// --- IdentityInterface ---

type mockIdentity struct {
	signInWithOAuthFn func(provider, redirectURL string) (string, error)
	exchangeFn        func(ctx context.Context, code string) (*model.Session, error)
	signInWithOTPFn   func(ctx context.Context, email string) error
	verifyOTPFn       func(ctx context.Context, email, token string) (*model.Session, error)
	signOutFn         func(ctx context.Context) error
}

func (m *mockIdentity) SignInWithOAuth(provider, redirectURL string) (string, error) {
	if m.signInWithOAuthFn != nil {
		return m.signInWithOAuthFn(provider, redirectURL)
	}
	return "", nil
}

func (m *mockIdentity) ExchangeCodeForSession(ctx context.Context, code string) (*model.Session, error) {
	if m.exchangeFn != nil {
		return m.exchangeFn(ctx, code)
	}
	return &model.Session{}, nil
}

func (m *mockIdentity) SignInWithOTP(ctx context.Context, email string) error {
	if m.signInWithOTPFn != nil {
		return m.signInWithOTPFn(ctx, email)
	}
	return nil
}

func (m *mockIdentity) VerifyOTP(ctx context.Context, email, token string) (*model.Session, error) {
	if m.verifyOTPFn != nil {
		return m.verifyOTPFn(ctx, email, token)
	}
	return &model.Session{}, nil
}

func (m *mockIdentity) SignOut(ctx context.Context) error {
	if m.signOutFn != nil {
		return m.signOutFn(ctx)
	}
	return nil
}

var _ IdentityInterface = (*mockIdentity)(nil)

// --- FeedLoaderInterface ---

type mockLoader struct {
	setViewFn     func(view feed.View) error
	setPersonaFn  func(persona model.Persona) error
	setCategoryFn func(category string) error
	currentFn     func(ctx context.Context) (feed.State, error)
	setSavedFn    func(ctx context.Context, storyID string, saved bool) error
}

func (m *mockLoader) SetView(view feed.View) error {
	if m.setViewFn != nil {
		return m.setViewFn(view)
	}
	return nil
}

func (m *mockLoader) SetPersona(persona model.Persona) error {
	if m.setPersonaFn != nil {
		return m.setPersonaFn(persona)
	}
	return nil
}

func (m *mockLoader) SetCategory(category string) error {
	if m.setCategoryFn != nil {
		return m.setCategoryFn(category)
	}
	return nil
}

func (m *mockLoader) Current(ctx context.Context) (feed.State, error) {
	if m.currentFn != nil {
		return m.currentFn(ctx)
	}
	return feed.State{View: feed.ViewFeed, Persona: feed.DefaultPersona}, nil
}

func (m *mockLoader) SetSaved(ctx context.Context, storyID string, saved bool) error {
	if m.setSavedFn != nil {
		return m.setSavedFn(ctx, storyID, saved)
	}
	return nil
}

var _ FeedLoaderInterface = (*mockLoader)(nil)

// --- StoryGetter ---

type mockStories struct {
	getStoryFn func(ctx context.Context, id string) (*model.Story, error)
}

func (m *mockStories) GetStory(ctx context.Context, id string) (*model.Story, error) {
	if m.getStoryFn != nil {
		return m.getStoryFn(ctx, id)
	}
	return &model.Story{ID: id}, nil
}

var _ StoryGetter = (*mockStories)(nil)
