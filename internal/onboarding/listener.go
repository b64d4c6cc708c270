package onboarding

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/padelgate/internal/metrics"
	"github.com/lib/pq"
)

const (
	DefaultEventsChannel = "profile_changes"

	listenerMinReconnect = 10 * time.Second
	listenerMaxReconnect = time.Minute
	listenerPingInterval = 90 * time.Second

	listenerRetryInitial = time.Second
	listenerRetryMax     = 5 * time.Minute
)

// Invalidator はユーザーのキャッシュ済み状態を破棄するインターフェース。
type Invalidator interface {
	Invalidate(ctx context.Context, userID, source string) error
}

// Listener はPostgreSQLのNOTIFYを購読し、プロフィール変更時にキャッシュを無効化する。
// 通知のペイロードはユーザーID（マイグレーションで作成したトリガーが送信する）。
type Listener struct {
	databaseURL string
	channel     string
	invalidator Invalidator
	metrics     metrics.MetricsCollector

	runFn        func(ctx context.Context) error
	retryInitial time.Duration
	retryMax     time.Duration
}

// NewListener はListenerを生成する。channelが空の場合は profile_changes を使用する。
// collectorがnilの場合はメトリクスを記録しない。
func NewListener(databaseURL, channel string, invalidator Invalidator, collector metrics.MetricsCollector) *Listener {
	if channel == "" {
		channel = DefaultEventsChannel
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	l := &Listener{
		databaseURL:  databaseURL,
		channel:      channel,
		invalidator:  invalidator,
		metrics:      collector,
		retryInitial: listenerRetryInitial,
		retryMax:     listenerRetryMax,
	}
	l.runFn = l.Run
	return l
}

// Supervise はRunが失敗するたびに指数バックオフで再開し、ctxがキャンセルされるまで戻らない。
// 失敗は padelgate_listener_failures_total に記録する。
func (l *Listener) Supervise(ctx context.Context) {
	failures := 0
	for {
		err := l.runFn(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			return
		}

		failures++
		l.metrics.RecordListenerFailure()
		delay := l.backoff(failures)
		slog.Error("profile change listener failed; cached statuses rely on TTL until it recovers",
			slog.String("channel", l.channel),
			slog.Int("consecutive_failures", failures),
			slog.Duration("retry_in", delay),
			slog.String("error", err.Error()),
		)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}
}

// backoff は連続失敗回数に対する再試行間隔を返す。初回retryInitial、2倍ずつ増加、最大retryMax。
func (l *Listener) backoff(failures int) time.Duration {
	delay := l.retryInitial
	for i := 1; i < failures; i++ {
		delay *= 2
		if delay >= l.retryMax {
			return l.retryMax
		}
	}
	return delay
}

// Run はコンテキストがキャンセルされるまで通知を処理する。
func (l *Listener) Run(ctx context.Context) error {
	pl := pq.NewListener(l.databaseURL, listenerMinReconnect, listenerMaxReconnect, l.logEvent)
	defer pl.Close()

	if err := pl.Listen(l.channel); err != nil {
		return fmt.Errorf("failed to listen on %s: %w", l.channel, err)
	}
	slog.Info("profile change listener started", slog.String("channel", l.channel))

	ticker := time.NewTicker(listenerPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("profile change listener stopped")
			return nil
		case n := <-pl.Notify:
			l.handle(ctx, n)
		case <-ticker.C:
			if err := pl.Ping(); err != nil {
				slog.Warn("profile change listener ping failed", slog.String("error", err.Error()))
			}
		}
	}
}

// handle は1件の通知を処理する。nilは再接続を示し、その間の通知は失われている可能性がある。
func (l *Listener) handle(ctx context.Context, n *pq.Notification) {
	if n == nil {
		slog.Warn("profile change listener reconnected; cached statuses may be stale until TTL expiry")
		return
	}

	userID, err := uuid.Parse(n.Extra)
	if err != nil {
		slog.Warn("ignoring profile change with invalid user id",
			slog.String("channel", n.Channel),
			slog.String("payload", n.Extra),
		)
		return
	}

	if err := l.invalidator.Invalidate(ctx, userID.String(), "listen"); err != nil {
		slog.Error("failed to invalidate onboarding status",
			slog.String("user_id", userID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	slog.Debug("onboarding status invalidated", slog.String("user_id", userID.String()))
}

func (l *Listener) logEvent(ev pq.ListenerEventType, err error) {
	if err != nil {
		slog.Warn("profile change listener event",
			slog.Int("event", int(ev)),
			slog.String("error", err.Error()),
		)
	}
}
