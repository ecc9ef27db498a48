package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/aidaily/internal/apiclient"
	"github.com/hitoshi/aidaily/internal/feed"
	"github.com/hitoshi/aidaily/internal/middleware"
	"github.com/hitoshi/aidaily/internal/model"
)

// FeedLoaderInterface はフィードハンドラーが必要とするLoaderの操作。
type FeedLoaderInterface interface {
	SetView(view feed.View) error
	SetPersona(persona model.Persona) error
	SetCategory(category string) error
	Current(ctx context.Context) (feed.State, error)
	SetSaved(ctx context.Context, storyID string, saved bool) error
}

// StoryGetter はストーリー詳細の取得。
type StoryGetter interface {
	GetStory(ctx context.Context, id string) (*model.Story, error)
}

// FeedHandler はストーリーフィードのHTTPハンドラー。
type FeedHandler struct {
	loader  FeedLoaderInterface
	stories StoryGetter
	logger  *slog.Logger
}

// NewFeedHandler はFeedHandlerを生成する。
func NewFeedHandler(loader FeedLoaderInterface, stories StoryGetter, logger *slog.Logger) *FeedHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &FeedHandler{
		loader:  loader,
		stories: stories,
		logger:  logger,
	}
}

type saveResponse struct {
	ID      string `json:"id"`
	IsSaved bool   `json:"is_saved"`
}

// GetFeed は表示中のフィードを返す。
// クエリのview、persona、categoryが指定された場合は取得条件を切り替えてから返す。
// 取得失敗時も表示状態（エラーメッセージを含む）を200で返す。
// GET /api/feed?view=feed&persona=builders&category=Models
func (h *FeedHandler) GetFeed(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	if persona := q.Get("persona"); persona != "" {
		if err := h.loader.SetPersona(model.Persona(persona)); err != nil {
			writeLoaderError(w, err)
			return
		}
	}
	if q.Has("category") {
		if err := h.loader.SetCategory(q.Get("category")); err != nil {
			writeLoaderError(w, err)
			return
		}
	}
	if view := q.Get("view"); view != "" {
		if err := h.loader.SetView(feed.View(view)); err != nil {
			writeLoaderError(w, err)
			return
		}
	}

	state, err := h.loader.Current(r.Context())
	if err != nil {
		h.logger.Warn("feed load failed", slog.String("error", err.Error()))
	}
	middleware.WriteJSON(w, http.StatusOK, state)
}

// ListPersonas はペルソナとカテゴリの一覧を返す。
// GET /api/personas
func (h *FeedHandler) ListPersonas(w http.ResponseWriter, r *http.Request) {
	middleware.WriteJSON(w, http.StatusOK, feed.Personas())
}

// GetStory はストーリー詳細を返す。
// GET /api/stories/{id}
func (h *FeedHandler) GetStory(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	story, err := h.stories.GetStory(r.Context(), id)
	if err != nil {
		h.writeAPIError(w, err, id)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, story)
}

// SaveStory はストーリーを保存する。
// PUT /api/stories/{id}/save
func (h *FeedHandler) SaveStory(w http.ResponseWriter, r *http.Request) {
	h.setSaved(w, r, true)
}

// UnsaveStory はストーリーの保存を解除する。
// DELETE /api/stories/{id}/save
func (h *FeedHandler) UnsaveStory(w http.ResponseWriter, r *http.Request) {
	h.setSaved(w, r, false)
}

func (h *FeedHandler) setSaved(w http.ResponseWriter, r *http.Request, saved bool) {
	id := chi.URLParam(r, "id")

	if err := h.loader.SetSaved(r.Context(), id, saved); err != nil {
		if errors.Is(err, feed.ErrAuthRequired) {
			middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
			return
		}
		h.writeAPIError(w, err, id)
		return
	}
	middleware.WriteJSON(w, http.StatusOK, saveResponse{ID: id, IsSaved: saved})
}

// writeAPIError はバックエンドAPIのエラーをHTTPレスポンスに対応付ける。
func (h *FeedHandler) writeAPIError(w http.ResponseWriter, err error, storyID string) {
	switch {
	case errors.Is(err, apiclient.ErrNotFound):
		middleware.WriteErrorResponse(w, http.StatusNotFound, model.NewStoryNotFoundError(storyID))
	case errors.Is(err, apiclient.ErrUnauthorized):
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewAuthRequiredError())
	default:
		h.logger.Error("backend request failed",
			slog.String("story_id", storyID),
			slog.String("error", err.Error()),
		)
		middleware.WriteErrorResponse(w, http.StatusBadGateway, model.NewBackendUnavailableError())
	}
}

// writeLoaderError は取得条件の変更エラーを書き込む。
func writeLoaderError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, apiErr)
		return
	}
	middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidRequestError(err.Error()))
}
