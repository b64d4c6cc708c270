package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/hitoshi/padelgate/internal/middleware"
	"github.com/hitoshi/padelgate/internal/route"
)

// ProfileEventsPath はプロフィール変更通知を受け付けるパス。
const ProfileEventsPath = "/internal/profile-events"

// Gatekeeper はゲート判定を行うミドルウェアを提供する。gate.Gate が実装する。
type Gatekeeper interface {
	Middleware(next http.Handler) http.Handler
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Logger *slog.Logger

	// 内部エンドポイント
	HealthChecker   HealthChecker
	MetricsHandler  http.Handler
	ProfileEvents   StatusInvalidator
	WebhookSecret   string
	RateLimiter     *middleware.RateLimiter
	SecurityHeaders middleware.SecurityHeadersConfig

	// ゲートと転送先
	Table    *route.Table
	Gate     Gatekeeper
	Upstream http.Handler
}

// NewRouter は内部エンドポイントとゲート付きプロキシを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RealIP → Logging → Recovery → (内部ルート: SecurityHeaders | それ以外: Bypass判定 → Gate → Upstream)
func NewRouter(deps *RouterDeps) http.Handler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.NewLoggingMiddleware(logger))
	r.Use(middleware.NewRecoveryMiddleware())

	// --- ゲート対象外の内部ルート ---
	r.Group(func(r chi.Router) {
		r.Use(middleware.NewSecurityHeadersMiddleware(deps.SecurityHeaders))

		r.Get("/health", NewHealthHandler(deps.HealthChecker).Check)
		if deps.MetricsHandler != nil {
			r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
		}

		if deps.ProfileEvents != nil {
			events := NewProfileEventHandler(deps.ProfileEvents, deps.WebhookSecret)
			// /internal 配下の他のパスは上流のページとしてゲート経由で転送する
			wr := r
			if deps.RateLimiter != nil {
				wr = r.With(deps.RateLimiter.Middleware(middleware.ClientIP))
			}
			wr.Post(ProfileEventsPath, events.Handle)
		}
	})

	// --- それ以外は全てゲートを経由して転送する ---
	r.Handle("/*", gated(deps.Table, deps.Gate, deps.Upstream))

	return r
}

// gated はバイパス対象のパスをそのまま転送し、それ以外にゲートを適用するハンドラーを返す。
// バイパス判定、分類、転送はすべて正規化済みのパスで行う。
func gated(table *route.Table, g Gatekeeper, upstream http.Handler) http.Handler {
	protected := g.Middleware(upstream)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r = withCanonicalPath(r)
		if table.Bypassed(r.URL.Path) {
			upstream.ServeHTTP(w, r)
			return
		}
		protected.ServeHTTP(w, r)
	})
}

// withCanonicalPath はURLパスを正規化したリクエストを返す。正規化が不要ならrをそのまま返す。
// RawPathは破棄し、上流には判定に使ったパスだけを送る。
func withCanonicalPath(r *http.Request) *http.Request {
	canonical := route.CanonicalPath(r.URL.Path)
	if canonical == r.URL.Path && r.URL.RawPath == "" {
		return r
	}

	u := *r.URL
	u.Path = canonical
	u.RawPath = ""

	out := r.WithContext(r.Context())
	out.URL = &u
	return out
}
