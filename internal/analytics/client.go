// Package analytics はプロダクト分析サービス（PostHog互換のcapture API）への送信を提供する。
// 送信はバックグラウンドで行い、呼び出し元は結果を待たない。
package analytics

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

const (
	// capturePath はイベント送信エンドポイントのパス。
	capturePath = "/capture/"
	// defaultQueueSize は送信待ちイベントの上限。超えた分は破棄する。
	defaultQueueSize = 256
	// drainTimeout は停止時に残りのイベントを送信する猶予。
	drainTimeout = 3 * time.Second

	eventIdentify = "$identify"
)

// Config はClientの設定。
type Config struct {
	Host       string // 例: https://app.posthog.com
	APIKey     string // 空の場合は送信を無効化する
	HTTPClient *http.Client
	Logger     *slog.Logger
	QueueSize  int
}

type event struct {
	APIKey     string         `json:"api_key"`
	Event      string         `json:"event"`
	DistinctID string         `json:"distinct_id"`
	Properties map[string]any `json:"properties,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// Client は分析イベントの送信クライアント。
// ユーザー識別前は匿名IDを、Identify後はユーザーIDを distinct_id として使用する。
type Client struct {
	endpoint   string
	apiKey     string
	httpClient *http.Client
	logger     *slog.Logger
	queue      chan event

	mu         sync.Mutex
	distinctID string
	anonID     string
}

// New はClientを生成する。APIKeyが空の場合は何も送信しないClientを返す。
func New(config Config) *Client {
	c := &Client{
		endpoint:   strings.TrimRight(config.Host, "/") + capturePath,
		apiKey:     config.APIKey,
		httpClient: config.HTTPClient,
		logger:     config.Logger,
		anonID:     uuid.NewString(),
	}
	if c.httpClient == nil {
		c.httpClient = &http.Client{Timeout: 5 * time.Second}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.Enabled() {
		size := config.QueueSize
		if size <= 0 {
			size = defaultQueueSize
		}
		c.queue = make(chan event, size)
	}
	return c
}

// Enabled は送信が有効かどうかを返す。
func (c *Client) Enabled() bool {
	return c.apiKey != ""
}

// Identify は以降のイベントをuserIDに紐付け、ユーザー属性を送信する。
func (c *Client) Identify(userID string, traits map[string]any) {
	if userID == "" {
		return
	}

	c.mu.Lock()
	anonID := c.anonID
	c.distinctID = userID
	c.mu.Unlock()

	props := map[string]any{"$anon_distinct_id": anonID}
	if len(traits) > 0 {
		props["$set"] = traits
	}
	c.enqueue(eventIdentify, userID, props)
}

// Reset はユーザーとの紐付けを解除し、新しい匿名IDを発行する。
// ネットワーク送信は行わない。
func (c *Client) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.distinctID = ""
	c.anonID = uuid.NewString()
}

// Capture は任意のイベントを送信する。
func (c *Client) Capture(name string, properties map[string]any) {
	c.enqueue(name, c.DistinctID(), properties)
}

// DistinctID は現在のdistinct_idを返す。Identify前は匿名IDを返す。
func (c *Client) DistinctID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.distinctID != "" {
		return c.distinctID
	}
	return c.anonID
}

func (c *Client) enqueue(name, distinctID string, properties map[string]any) {
	if !c.Enabled() {
		return
	}

	ev := event{
		APIKey:     c.apiKey,
		Event:      name,
		DistinctID: distinctID,
		Properties: properties,
		Timestamp:  time.Now().UTC(),
	}

	select {
	case c.queue <- ev:
	default:
		c.logger.Warn("analytics queue is full, dropping event", slog.String("event", name))
	}
}

// Run は送信待ちのイベントを順に送信する。ctxがキャンセルされるまでブロックし、
// 停止時は残りのイベントを短い猶予の間に送信する。
func (c *Client) Run(ctx context.Context) {
	if !c.Enabled() {
		<-ctx.Done()
		return
	}

	for {
		select {
		case <-ctx.Done():
			c.drain()
			return
		case ev := <-c.queue:
			c.deliver(ctx, ev)
		}
	}
}

func (c *Client) drain() {
	ctx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()

	for {
		select {
		case ev := <-c.queue:
			c.deliver(ctx, ev)
		default:
			return
		}
	}
}

// deliver はイベントを送信する。失敗はログに記録するのみで再送しない。
func (c *Client) deliver(ctx context.Context, ev event) {
	if err := c.send(ctx, ev); err != nil {
		c.logger.Warn("failed to send analytics event",
			slog.String("event", ev.Event),
			slog.String("error", err.Error()),
		)
	}
}

func (c *Client) send(ctx context.Context, ev event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("analytics request failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("analytics endpoint returned status %d", resp.StatusCode)
	}
	return nil
}
