package identity

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// refreshRetryDelay はネットワークエラーでリフレッシュに失敗した場合の再試行間隔。
const refreshRetryDelay = 10 * time.Second

// AutoRefresh はアクセストークンの期限切れ前にセッションをリフレッシュし続ける。
// 期限のmargin前にリフレッシュを行い、成功時はTokenRefreshedを配信する。
// セッションが変化するたびに次回のリフレッシュ時刻を再計算する。
// ctxがキャンセルされるまでブロックする。
func (c *GoTrueClient) AutoRefresh(ctx context.Context, margin time.Duration) {
	for {
		var timerC <-chan time.Time
		var timer *time.Timer
		if wait, ok := c.nextRefreshIn(margin); ok {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			stopTimer(timer)
			return
		case <-c.changed:
			stopTimer(timer)
			continue
		case <-timerC:
		}

		if _, err := c.RefreshSession(ctx); err != nil {
			if errors.Is(err, ErrNoSession) || ctx.Err() != nil {
				continue
			}
			// 4xxはRefreshSession内でサインアウト済み
			if pe, ok := IsProviderError(err); ok && pe.Status < 500 {
				continue
			}
			c.logger.Warn("session refresh failed, retrying",
				slog.String("error", err.Error()),
				slog.Duration("retry_in", refreshRetryDelay),
			)
			select {
			case <-ctx.Done():
				return
			case <-time.After(refreshRetryDelay):
			}
		}
	}
}

// nextRefreshIn は次回リフレッシュまでの待機時間を返す。
// リフレッシュ対象のセッションがない場合はfalseを返す。
func (c *GoTrueClient) nextRefreshIn(margin time.Duration) (time.Duration, bool) {
	current := c.currentSession()
	if current == nil || current.RefreshToken == "" || current.ExpiresAt.IsZero() {
		return 0, false
	}
	wait := current.ExpiresAt.Add(-margin).Sub(c.now())
	if wait < 0 {
		wait = 0
	}
	return wait, true
}

func stopTimer(t *time.Timer) {
	if t != nil {
		t.Stop()
	}
}
