package sourcecheck

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/mmcdole/gofeed"

	"github.com/hitoshi/aidaily/internal/metrics"
	"github.com/hitoshi/aidaily/internal/model"
)

const (
	defaultMaxConcurrency = 5
	defaultMaxBodySize    = 5 << 20
	userAgent             = "Mozilla/5.0 (compatible; AIDailySourceCheck/1.0)"
)

// URLValidator は取得前にURLを検証する。
type URLValidator interface {
	ValidateURL(rawURL string) error
}

// Recorder は検査結果を保存する。
type Recorder interface {
	Record(ctx context.Context, check model.SourceCheck) error
}

// Config はCheckerの設定。
type Config struct {
	// HTTPClient は取得に使うクライアント。SSRF防止付きのクライアントを渡す。
	HTTPClient     *http.Client
	Validator      URLValidator
	Recorder       Recorder // nilの場合は保存しない
	Metrics        metrics.MetricsCollector
	Logger         *slog.Logger
	MaxConcurrency int
	MaxBodySize    int64
	Now            func() time.Time
}

// Checker はソースの疎通を検査する。
type Checker struct {
	client         *http.Client
	validator      URLValidator
	recorder       Recorder
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int
	maxBodySize    int64
	now            func() time.Time
}

// NewChecker はCheckerを生成する。
func NewChecker(config Config) *Checker {
	c := &Checker{
		client:         config.HTTPClient,
		validator:      config.Validator,
		recorder:       config.Recorder,
		metrics:        config.Metrics,
		logger:         config.Logger,
		maxConcurrency: config.MaxConcurrency,
		maxBodySize:    config.MaxBodySize,
		now:            config.Now,
	}
	if c.client == nil {
		c.client = &http.Client{Timeout: 10 * time.Second}
	}
	if c.metrics == nil {
		c.metrics = metrics.Nop{}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.maxConcurrency <= 0 {
		c.maxConcurrency = defaultMaxConcurrency
	}
	if c.maxBodySize <= 0 {
		c.maxBodySize = defaultMaxBodySize
	}
	if c.now == nil {
		c.now = time.Now
	}
	return c
}

// CheckAll は全ソースを並列に検査し、入力と同じ順序で結果を返す。
// 並列数はMaxConcurrencyで制限する。
func (c *Checker) CheckAll(ctx context.Context, sources []model.Source) []model.SourceCheck {
	start := time.Now()
	results := make([]model.SourceCheck, len(sources))

	sem := make(chan struct{}, c.maxConcurrency)
	var wg sync.WaitGroup
	for i, src := range sources {
		wg.Add(1)
		sem <- struct{}{}

		go func(i int, src model.Source) {
			defer wg.Done()
			defer func() { <-sem }()
			results[i] = c.Check(ctx, src)
		}(i, src)
	}
	wg.Wait()

	c.logger.Info("source check completed",
		slog.Int("source_count", len(sources)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return results
}

// Check は1ソースを検査する。結果はRecorderが設定されていれば保存する。
func (c *Checker) Check(ctx context.Context, src model.Source) model.SourceCheck {
	result := c.check(ctx, src)
	result.Source = src
	result.CheckedAt = c.now().UTC()

	c.metrics.RecordSourceCheck(string(result.Status))
	c.logger.Info("source checked",
		slog.String("source", src.Name),
		slog.String("status", string(result.Status)),
		slog.Int("entries", result.Entries),
	)

	if c.recorder != nil {
		if err := c.recorder.Record(ctx, result); err != nil {
			c.logger.Error("failed to record source check",
				slog.String("source", src.Name),
				slog.String("error", err.Error()),
			)
		}
	}
	return result
}

func (c *Checker) check(ctx context.Context, src model.Source) model.SourceCheck {
	status, contentType, body, err := c.fetch(ctx, src.URL)
	if err != nil {
		return errorResult(src.URL, err)
	}
	if status != http.StatusOK {
		return model.SourceCheck{FeedURL: src.URL, Status: model.SourceStatusFail, Detail: fmt.Sprintf("HTTP %d", status)}
	}

	feedURL := src.URL
	if IsHTML(contentType, body) {
		link, ok := BestFeedLink(DiscoverFeedLinks(body, src.URL), src.URL)
		if !ok {
			return model.SourceCheck{FeedURL: src.URL, Status: model.SourceStatusWarning, Detail: "Status 200 but no feed found in HTML page"}
		}
		feedURL = link.URL
		status, _, body, err = c.fetch(ctx, feedURL)
		if err != nil {
			return errorResult(feedURL, err)
		}
		if status != http.StatusOK {
			return model.SourceCheck{FeedURL: feedURL, Status: model.SourceStatusFail, Detail: fmt.Sprintf("HTTP %d", status)}
		}
	}

	return classify(feedURL, body)
}

// classify は取得済みボディを解析して区分を決める。
// 解析エラーがあっても記事が取れていればONLINEとする。
func classify(feedURL string, body []byte) model.SourceCheck {
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(body))

	entries := 0
	if feed != nil {
		entries = len(feed.Items)
	}

	switch {
	case entries > 0:
		return model.SourceCheck{FeedURL: feedURL, Status: model.SourceStatusOnline, Entries: entries, Detail: fmt.Sprintf("Found %d entries", entries)}
	case err != nil:
		return model.SourceCheck{FeedURL: feedURL, Status: model.SourceStatusWarning, Detail: fmt.Sprintf("Status 200 but parse error: %v", err)}
	default:
		return model.SourceCheck{FeedURL: feedURL, Status: model.SourceStatusEmpty, Detail: "Status 200 but 0 entries found"}
	}
}

func errorResult(feedURL string, err error) model.SourceCheck {
	return model.SourceCheck{FeedURL: feedURL, Status: model.SourceStatusError, Detail: err.Error()}
}

// fetch はURLを取得し、ステータス、Content-Type、ボディ（上限まで）を返す。
func (c *Checker) fetch(ctx context.Context, rawURL string) (int, string, []byte, error) {
	if c.validator != nil {
		if err := c.validator.ValidateURL(rawURL); err != nil {
			return 0, "", nil, fmt.Errorf("url rejected: %w", err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return 0, "", nil, fmt.Errorf("invalid request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/rss+xml, application/atom+xml, application/xml, text/xml, text/html;q=0.8, */*;q=0.5")

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, "", nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		io.Copy(io.Discard, io.LimitReader(resp.Body, c.maxBodySize))
		return resp.StatusCode, "", nil, nil
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, c.maxBodySize))
	if err != nil {
		return 0, "", nil, fmt.Errorf("failed to read body: %w", err)
	}
	return resp.StatusCode, resp.Header.Get("Content-Type"), body, nil
}
