package auth

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/padelgate/internal/model"
	"github.com/hitoshi/padelgate/internal/repository"
)

const defaultSessionCookie = "session_id"

// DatabaseResolverConfig はDatabaseResolverの設定。
type DatabaseResolverConfig struct {
	CookieName    string
	SessionMaxAge int // セッション有効期間（秒）
	Cookie        CookieConfig
}

// DatabaseResolver はセッションCookieのIDでセッションテーブルを検索する。
// 残り有効期間がSessionMaxAgeの半分を下回った場合は有効期限を延長し、Cookieを再発行する。
type DatabaseResolver struct {
	repo   repository.SessionRepository
	config DatabaseResolverConfig
	now    func() time.Time
}

// NewDatabaseResolver はDatabaseResolverを生成する。
func NewDatabaseResolver(repo repository.SessionRepository, config DatabaseResolverConfig) *DatabaseResolver {
	if config.CookieName == "" {
		config.CookieName = defaultSessionCookie
	}
	return &DatabaseResolver{
		repo:   repo,
		config: config,
		now:    time.Now,
	}
}

// Resolve はSessionResolverインターフェースを実装する。
func (r *DatabaseResolver) Resolve(ctx context.Context, req *http.Request) (*Resolution, error) {
	sessionID := cookieValue(req, r.config.CookieName)
	if sessionID == "" {
		return &Resolution{}, nil
	}

	session, err := r.repo.FindByID(ctx, sessionID)
	if err != nil {
		return nil, &model.SessionResolutionError{Reason: "session lookup failed", Err: err}
	}
	now := r.now()
	if session == nil || session.Expired(now) {
		return &Resolution{}, nil
	}

	res := &Resolution{Session: session}
	if cookie := r.slide(ctx, session, now); cookie != nil {
		res.Cookies = []*http.Cookie{cookie}
	}
	return res, nil
}

// slide は残り有効期間が半分未満のセッションを延長する。
// 延長に失敗してもセッション自体は有効なため、ログのみ出力する。
func (r *DatabaseResolver) slide(ctx context.Context, session *model.Session, now time.Time) *http.Cookie {
	if r.config.SessionMaxAge <= 0 {
		return nil
	}
	maxAge := time.Duration(r.config.SessionMaxAge) * time.Second
	if session.ExpiresAt.Sub(now) >= maxAge/2 {
		return nil
	}

	expiresAt := now.Add(maxAge)
	if err := r.repo.Touch(ctx, session.ID, expiresAt); err != nil {
		slog.Warn("failed to extend session",
			slog.String("user_id", session.UserID),
			slog.String("error", err.Error()),
		)
		return nil
	}
	session.ExpiresAt = expiresAt

	return r.config.Cookie.newCookie(r.config.CookieName, session.ID, r.config.SessionMaxAge)
}

// compile-time interface check
var _ SessionResolver = (*DatabaseResolver)(nil)
