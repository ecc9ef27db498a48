// Package apiclient はAI Dailyバックエンド（ストーリーAPI）のクライアントを提供する。
// リクエストごとに現在のセッションの資格情報をAuthorizationヘッダーへ反映する。
package apiclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hitoshi/aidaily/internal/metrics"
	"github.com/hitoshi/aidaily/internal/model"
)

// maxResponseSize はレスポンスボディの読み取り上限。
const maxResponseSize = 5 << 20

var (
	// ErrUnauthorized はバックエンドが401を返した場合のエラー。
	ErrUnauthorized = errors.New("backend rejected credentials")
	// ErrNotFound はバックエンドが404を返した場合のエラー。
	ErrNotFound = errors.New("resource not found")
)

// StatusError はバックエンドが想定外のステータスを返した場合のエラー。
type StatusError struct {
	Endpoint   string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("backend %s returned status %d", e.Endpoint, e.StatusCode)
}

// Authenticator は送信前のリクエストに資格情報を反映する。
type Authenticator interface {
	Apply(req *http.Request)
}

// StoryQuery はストーリー一覧の取得条件。
type StoryQuery struct {
	Timeframe model.Timeframe
	Persona   model.Persona
	Category  string // 空の場合は絞り込まない
}

// Client はバックエンドAPIのクライアント。
type Client struct {
	baseURL    string
	httpClient *http.Client
	auth       Authenticator
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewClient はClientを生成する。collectorがnilの場合はメトリクスを記録しない。
func NewClient(baseURL string, httpClient *http.Client, auth Authenticator, collector metrics.MetricsCollector, logger *slog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		auth:       auth,
		metrics:    collector,
		logger:     logger,
	}
}

// ListStories はペルソナ・カテゴリで絞り込んだストーリー一覧を取得する。
// Timeframeが空の場合は today を使用する。
func (c *Client) ListStories(ctx context.Context, q StoryQuery) ([]model.Story, error) {
	timeframe := q.Timeframe
	if timeframe == "" {
		timeframe = model.TimeframeToday
	}

	params := url.Values{}
	params.Set("timeframe", string(timeframe))
	if q.Persona != "" {
		params.Set("persona", string(q.Persona))
	}
	if q.Category != "" {
		params.Set("category", q.Category)
	}

	var stories []model.Story
	if err := c.do(ctx, http.MethodGet, "/stories/?"+params.Encode(), "list_stories", &stories); err != nil {
		return nil, err
	}
	if stories == nil {
		stories = []model.Story{}
	}
	return stories, nil
}

// SavedStories はサインイン中のユーザーが保存したストーリーを取得する。
func (c *Client) SavedStories(ctx context.Context) ([]model.Story, error) {
	var stories []model.Story
	if err := c.do(ctx, http.MethodGet, "/stories/saved/all", "saved_stories", &stories); err != nil {
		return nil, err
	}
	if stories == nil {
		stories = []model.Story{}
	}
	return stories, nil
}

// GetStory はストーリーを1件取得する。
func (c *Client) GetStory(ctx context.Context, id string) (*model.Story, error) {
	var story model.Story
	if err := c.do(ctx, http.MethodGet, "/stories/"+url.PathEscape(id), "get_story", &story); err != nil {
		return nil, err
	}
	return &story, nil
}

// SaveStory はストーリーを保存済みにする。
func (c *Client) SaveStory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodPost, "/stories/"+url.PathEscape(id)+"/save", "save_story", nil)
}

// UnsaveStory はストーリーの保存を解除する。
func (c *Client) UnsaveStory(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/stories/"+url.PathEscape(id)+"/save", "unsave_story", nil)
}

// do はリクエストを送信し、outがnilでなければレスポンスJSONをデコードする。
func (c *Client) do(ctx context.Context, method, path, endpoint string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.auth != nil {
		c.auth.Apply(req)
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.RecordAPIRequest(endpoint, 0, time.Since(start))
		c.logger.Error("backend request failed",
			slog.String("endpoint", endpoint),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("backend %s request failed: %w", endpoint, err)
	}
	defer resp.Body.Close()
	c.metrics.RecordAPIRequest(endpoint, resp.StatusCode, time.Since(start))

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("backend %s: %w", endpoint, ErrUnauthorized)
	case resp.StatusCode == http.StatusNotFound:
		io.Copy(io.Discard, resp.Body)
		return fmt.Errorf("backend %s: %w", endpoint, ErrNotFound)
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		io.Copy(io.Discard, resp.Body)
		c.logger.Warn("backend returned error status",
			slog.String("endpoint", endpoint),
			slog.Int("http_status", resp.StatusCode),
		)
		return &StatusError{Endpoint: endpoint, StatusCode: resp.StatusCode}
	}

	if out == nil {
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxResponseSize)).Decode(out); err != nil {
		return fmt.Errorf("failed to decode %s response: %w", endpoint, err)
	}
	return nil
}
