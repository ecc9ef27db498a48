package feed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/aidaily/internal/apiclient"
	"github.com/hitoshi/aidaily/internal/model"
	"github.com/hitoshi/aidaily/internal/security"
	"github.com/hitoshi/aidaily/internal/session"
)

// View は表示中の一覧の種類。
type View string

const (
	ViewFeed  View = "feed"
	ViewSaved View = "saved"
)

const (
	// visibleStories は一覧に表示するストーリー数の上限。
	visibleStories = 5
	// connectionLostMessage は取得失敗時に表示するメッセージ。
	connectionLostMessage = "Intelligence connection lost."
)

// ErrAuthRequired はサインインが必要な操作をサインアウト状態で呼んだ場合のエラー。
// 呼び出し時にサインインモーダルが開かれている。
var ErrAuthRequired = errors.New("sign in required")

// StoryAPI はLoaderが利用するバックエンドAPI。
type StoryAPI interface {
	ListStories(ctx context.Context, q apiclient.StoryQuery) ([]model.Story, error)
	SavedStories(ctx context.Context) ([]model.Story, error)
	SaveStory(ctx context.Context, id string) error
	UnsaveStory(ctx context.Context, id string) error
}

// SessionView はLoaderが参照するセッションの読み取り口。
type SessionView interface {
	User() *model.User
	Watch(fn func(session.State)) (cancel func())
}

// AuthPrompt はサインインモーダルを開く。
type AuthPrompt interface {
	Open()
}

// Summary は表示中ペルソナ向けの要約。
type Summary struct {
	Persona      model.Persona `json:"persona"`
	Category     string        `json:"category,omitempty"`
	Short        string        `json:"summary_short"`
	Bullets      []string      `json:"summary_bullets"`
	WhyItMatters string        `json:"why_it_matters,omitempty"`
	KeyEntities  []string      `json:"key_entities,omitempty"`
	Confidence   string        `json:"confidence,omitempty"`
}

// Source はストーリーを構成する記事へのリンク。
type Source struct {
	Title       string    `json:"title"`
	URL         string    `json:"url,omitempty"`
	PublishedAt time.Time `json:"published_at"`
}

// StoryCard は一覧に表示するストーリー。
type StoryCard struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Score     float64   `json:"score"`
	Tags      []string  `json:"tags"`
	CreatedAt time.Time `json:"created_at"`
	Sources   []Source  `json:"sources"`
	Summary   *Summary  `json:"summary,omitempty"` // 表示中ペルソナの要約がない場合はnil
	IsSaved   bool      `json:"is_saved"`
}

// State はフィードの表示状態のスナップショット。
type State struct {
	View         View          `json:"view"`
	Persona      model.Persona `json:"persona"`
	PersonaLabel string        `json:"persona_label"`
	Category     string        `json:"category,omitempty"`
	Categories   []string      `json:"categories"`
	Stories      []StoryCard   `json:"stories"`
	Loading      bool          `json:"loading"`
	Error        string        `json:"error,omitempty"`
	SignedIn     bool          `json:"signed_in"`
}

// selection は取得条件。
type selection struct {
	view     View
	persona  model.Persona
	category string
}

// Loader はフィードの取得と表示状態を管理する。
// 取得条件やサインイン中のユーザーが変わると再取得が必要な状態になり、
// Currentの呼び出しまたはRunのループで再取得する。
type Loader struct {
	api       StoryAPI
	sessions  SessionView
	prompt    AuthPrompt
	sanitizer security.TextSanitizer
	logger    *slog.Logger

	mu      sync.Mutex
	sel     selection
	stories []StoryCard
	loading bool
	errMsg  string
	stale   bool
	userID  string
	// generation は取得条件の変更ごとに増え、古い条件での取得結果を破棄するために使う。
	generation uint64

	refresh chan struct{}
	cancel  func()
}

// NewLoader はLoaderを生成し、セッションの変化を監視する。
func NewLoader(api StoryAPI, sessions SessionView, prompt AuthPrompt, sanitizer security.TextSanitizer, logger *slog.Logger) *Loader {
	if sanitizer == nil {
		sanitizer = security.NewTextSanitizer()
	}
	if logger == nil {
		logger = slog.Default()
	}
	l := &Loader{
		api:       api,
		sessions:  sessions,
		prompt:    prompt,
		sanitizer: sanitizer,
		logger:    logger,
		sel:       selection{view: ViewFeed, persona: DefaultPersona},
		stale:     true,
		refresh:   make(chan struct{}, 1),
	}
	if u := sessions.User(); u != nil {
		l.userID = u.ID
	}
	l.cancel = sessions.Watch(l.onSessionChange)
	return l
}

// Close はセッションの監視を終了する。
func (l *Loader) Close() {
	l.cancel()
}

// onSessionChange はユーザーが変わった場合に再取得を要求する。
// Storeの遷移中に呼ばれるため、ここでは取得しない。
func (l *Loader) onSessionChange(st session.State) {
	id := ""
	if u := st.User(); u != nil {
		id = u.ID
	}

	l.mu.Lock()
	if id == l.userID {
		l.mu.Unlock()
		return
	}
	l.userID = id
	l.invalidateLocked()
	l.mu.Unlock()

	select {
	case l.refresh <- struct{}{}:
	default:
	}
}

// Run はセッション変化による再取得要求を処理する。ctxがキャンセルされるまでブロックする。
func (l *Loader) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-l.refresh:
			if _, err := l.Load(ctx); err != nil && ctx.Err() == nil {
				l.logger.Warn("background feed reload failed", slog.String("error", err.Error()))
			}
		}
	}
}

// SetView は表示する一覧を切り替える。
func (l *Loader) SetView(view View) error {
	if view != ViewFeed && view != ViewSaved {
		return model.NewInvalidRequestError(fmt.Sprintf("unknown view %q", view))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sel.view == view {
		return nil
	}
	l.sel.view = view
	if view == ViewSaved {
		l.sel.category = ""
	}
	l.invalidateLocked()
	return nil
}

// SetPersona はペルソナを切り替え、フィード表示に戻す。カテゴリは解除される。
func (l *Loader) SetPersona(persona model.Persona) error {
	if _, ok := LookupPersona(persona); !ok {
		return model.NewInvalidPersonaError(string(persona))
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.sel.view == ViewFeed && l.sel.persona == persona && l.sel.category == "" {
		return nil
	}
	l.sel = selection{view: ViewFeed, persona: persona}
	l.invalidateLocked()
	return nil
}

// SetCategory は表示中ペルソナのカテゴリで絞り込む。空文字列で解除する。
func (l *Loader) SetCategory(category string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if category != "" {
		info, _ := LookupPersona(l.sel.persona)
		if !info.HasCategory(category) {
			return model.NewInvalidCategoryError(l.sel.persona, category)
		}
	}
	if l.sel.view == ViewFeed && l.sel.category == category {
		return nil
	}
	l.sel.view = ViewFeed
	l.sel.category = category
	l.invalidateLocked()
	return nil
}

// Current は現在の表示状態を返す。再取得が必要な場合は取得してから返す。
func (l *Loader) Current(ctx context.Context) (State, error) {
	l.mu.Lock()
	stale := l.stale
	l.mu.Unlock()

	if stale {
		return l.Load(ctx)
	}
	return l.State(), nil
}

// State は取得を行わずに現在の表示状態を返す。
func (l *Loader) State() State {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.stateLocked()
}

// Load は現在の取得条件でストーリーを取得する。
// 保存済み一覧はサインアウト中は通信せず空の一覧とする。
// 取得中に条件が変わった場合、その結果は破棄される。
func (l *Loader) Load(ctx context.Context) (State, error) {
	l.mu.Lock()
	sel := l.sel
	gen := l.generation
	l.loading = true
	l.errMsg = ""
	l.mu.Unlock()

	var (
		stories []model.Story
		err     error
	)
	switch {
	case sel.view == ViewSaved && l.sessions.User() == nil:
		stories = []model.Story{}
	case sel.view == ViewSaved:
		stories, err = l.api.SavedStories(ctx)
	default:
		stories, err = l.api.ListStories(ctx, apiclient.StoryQuery{
			Timeframe: model.TimeframeToday,
			Persona:   sel.persona,
			Category:  sel.category,
		})
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if gen != l.generation {
		return l.stateLocked(), nil
	}
	l.loading = false
	l.stale = false

	if err != nil {
		l.logger.Error("failed to load stories",
			slog.String("view", string(sel.view)),
			slog.String("persona", string(sel.persona)),
			slog.String("error", err.Error()),
		)
		l.stories = nil
		l.errMsg = connectionLostMessage
		return l.stateLocked(), fmt.Errorf("failed to load %s stories: %w", sel.view, err)
	}

	l.stories = l.toCards(stories, sel.persona)
	return l.stateLocked(), nil
}

// ToggleSave はストーリーの保存状態を反転する。
// サインアウト中はサインインモーダルを開いてErrAuthRequiredを返す。
func (l *Loader) ToggleSave(ctx context.Context, storyID string) (bool, error) {
	saved := false
	l.mu.Lock()
	for _, c := range l.stories {
		if c.ID == storyID {
			saved = c.IsSaved
			break
		}
	}
	l.mu.Unlock()

	want := !saved
	if err := l.SetSaved(ctx, storyID, want); err != nil {
		return saved, err
	}
	return want, nil
}

// SetSaved はストーリーを保存または保存解除する。
// サインアウト中はサインインモーダルを開いてErrAuthRequiredを返す。
func (l *Loader) SetSaved(ctx context.Context, storyID string, saved bool) error {
	if l.sessions.User() == nil {
		if l.prompt != nil {
			l.prompt.Open()
		}
		return ErrAuthRequired
	}

	var err error
	if saved {
		err = l.api.SaveStory(ctx, storyID)
	} else {
		err = l.api.UnsaveStory(ctx, storyID)
	}
	if err != nil {
		return fmt.Errorf("failed to update saved state of story %s: %w", storyID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	for i := range l.stories {
		if l.stories[i].ID == storyID {
			l.stories[i].IsSaved = saved
		}
	}
	if l.sel.view == ViewSaved {
		l.invalidateLocked()
	}
	return nil
}

// invalidateLocked は再取得が必要な状態にする。muを保持して呼ぶこと。
func (l *Loader) invalidateLocked() {
	l.generation++
	l.stale = true
	l.loading = false
}

func (l *Loader) stateLocked() State {
	info, _ := LookupPersona(l.sel.persona)

	stories := l.stories
	if len(stories) > visibleStories {
		stories = stories[:visibleStories]
	}
	out := make([]StoryCard, len(stories))
	copy(out, stories)

	return State{
		View:         l.sel.view,
		Persona:      l.sel.persona,
		PersonaLabel: info.Label,
		Category:     l.sel.category,
		Categories:   info.Categories,
		Stories:      out,
		Loading:      l.loading,
		Error:        l.errMsg,
		SignedIn:     l.userID != "",
	}
}

// toCards はAPIのストーリーを表示用に変換する。要約とリンクは無害化する。
func (l *Loader) toCards(stories []model.Story, persona model.Persona) []StoryCard {
	cards := make([]StoryCard, 0, len(stories))
	for _, s := range stories {
		card := StoryCard{
			ID:        s.ID,
			Title:     l.sanitizer.Text(s.CanonicalTitle),
			Score:     s.Score,
			Tags:      s.Tags,
			CreatedAt: s.CreatedAt,
			Sources:   make([]Source, 0, len(s.Items)),
			IsSaved:   s.IsSaved,
		}
		if card.Tags == nil {
			card.Tags = []string{}
		}
		for _, it := range s.Items {
			card.Sources = append(card.Sources, Source{
				Title:       l.sanitizer.Text(it.Title),
				URL:         l.sanitizer.Link(it.URL),
				PublishedAt: it.PublishedAt,
			})
		}
		if sum := findSummary(s.Summaries, persona); sum != nil {
			card.Summary = l.toSummary(sum)
		}
		cards = append(cards, card)
	}
	return cards
}

func (l *Loader) toSummary(s *model.StorySummary) *Summary {
	bullets := make([]string, 0, len(s.SummaryBullets))
	for _, b := range s.SummaryBullets {
		if text := l.sanitizer.Text(b); text != "" {
			bullets = append(bullets, text)
		}
	}
	entities := make([]string, 0, len(s.KeyEntities))
	for _, e := range s.KeyEntities {
		entities = append(entities, l.sanitizer.Text(e))
	}
	return &Summary{
		Persona:      s.Persona,
		Category:     s.Category,
		Short:        l.sanitizer.Text(s.SummaryShort),
		Bullets:      bullets,
		WhyItMatters: l.sanitizer.Text(s.WhyItMatters),
		KeyEntities:  entities,
		Confidence:   s.Confidence,
	}
}

func findSummary(summaries []model.StorySummary, persona model.Persona) *model.StorySummary {
	for i := range summaries {
		if summaries[i].Persona == persona {
			return &summaries[i]
		}
	}
	return nil
}
