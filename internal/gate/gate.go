package gate

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/padelgate/internal/auth"
	"github.com/hitoshi/padelgate/internal/metrics"
	"github.com/hitoshi/padelgate/internal/middleware"
	"github.com/hitoshi/padelgate/internal/model"
	"github.com/hitoshi/padelgate/internal/route"
)

// StatusResolver はユーザーのオンボーディング状態を解決するインターフェース。
// onboarding.Resolver が実装する。
type StatusResolver interface {
	Resolve(ctx context.Context, userID string) (model.OnboardingStatus, error)
}

// Gate はリクエストごとにセッションとオンボーディング状態を解決し、
// 通過またはリダイレクトを決定する。
type Gate struct {
	table      *route.Table
	sessions   auth.SessionResolver
	onboarding StatusResolver
	metrics    metrics.MetricsCollector
}

// New はGateを生成する。collectorがnilの場合はメトリクスを記録しない。
func New(table *route.Table, sessions auth.SessionResolver, onboarding StatusResolver, collector metrics.MetricsCollector) *Gate {
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Gate{
		table:      table,
		sessions:   sessions,
		onboarding: onboarding,
		metrics:    collector,
	}
}

// Evaluate はリクエストに対する判定と、伝播すべきCookieを返す。
// セッション解決・プロフィール検索の失敗はここで吸収され、エラーとして返らない。
func (g *Gate) Evaluate(r *http.Request) (Decision, *model.Session, []*http.Cookie) {
	ctx := r.Context()
	category := g.table.Classify(r.URL.Path)

	res, err := g.sessions.Resolve(ctx, r)
	if err != nil {
		slog.Warn("session resolution failed; treating request as anonymous",
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		g.metrics.RecordSessionFailure()
		res = nil
	}

	var (
		session *model.Session
		cookies []*http.Cookie
	)
	if res != nil {
		session = res.Session
		cookies = res.Cookies
	}

	in := Input{Authenticated: session != nil, Category: category}
	if in.Authenticated && needsOnboarding(category) {
		status, err := g.onboarding.Resolve(ctx, session.UserID)
		if err != nil {
			slog.Warn("onboarding lookup failed; treating user as incomplete",
				slog.String("user_id", session.UserID),
				slog.String("path", r.URL.Path),
				slog.String("error", err.Error()),
			)
			status = model.Incomplete()
		}
		in.Completed = status.Completed
	}

	d := Decide(in, g.table.Redirects)
	g.metrics.RecordDecision(d.Rule, string(d.Action))
	return d, session, cookies
}

// Middleware はゲートを適用するHTTPミドルウェアを返す。
// セッション解決で再発行されたCookieはレスポンスと転送先リクエストの両方に反映する。
func (g *Gate) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		d, session, cookies := g.Evaluate(r)

		middleware.RecordGateRule(r.Context(), d.Rule)
		if session != nil {
			middleware.RecordUserID(r.Context(), session.UserID)
		}

		for _, c := range cookies {
			http.SetCookie(w, c)
		}

		if d.Redirect() {
			slog.Debug("gate redirect",
				slog.String("path", r.URL.Path),
				slog.String("location", d.Location),
				slog.String("rule", d.Rule),
			)
			w.Header().Set("Cache-Control", "no-store")
			http.Redirect(w, r, d.Location, http.StatusFound)
			return
		}

		ctx := r.Context()
		if session != nil {
			ctx = middleware.ContextWithUserID(ctx, session.UserID)
		}
		r = r.WithContext(ctx)
		if len(cookies) > 0 {
			r.Header = r.Header.Clone()
			mergeRequestCookies(r, cookies)
		}

		next.ServeHTTP(w, r)
	})
}

// mergeRequestCookies は再発行されたCookieでリクエストのCookieヘッダーを置き換える。
// 削除指示（MaxAge < 0）のCookieはリクエストから取り除く。
func mergeRequestCookies(r *http.Request, updates []*http.Cookie) {
	replaced := make(map[string]*http.Cookie, len(updates))
	for _, c := range updates {
		replaced[c.Name] = c
	}

	existing := r.Cookies()
	r.Header.Del("Cookie")

	for _, c := range existing {
		if _, ok := replaced[c.Name]; ok {
			continue
		}
		r.AddCookie(c)
	}
	for _, c := range updates {
		if c.MaxAge < 0 {
			continue
		}
		r.AddCookie(&http.Cookie{Name: c.Name, Value: c.Value})
	}
}
