// Package auth はリクエストからセッションを解決する機能を提供する。
// 認証情報はJWTアクセストークンまたはデータベースのセッションから取得する。
package auth

import (
	"context"
	"net/http"

	"github.com/hitoshi/padelgate/internal/model"
)

// SessionResolver はリクエストからセッションを解決するインターフェース。
// セッションが存在しない場合は Resolution.Session がnilとなり、エラーは返さない。
// 解決に失敗した場合は *model.SessionResolutionError を返す。
type SessionResolver interface {
	Resolve(ctx context.Context, r *http.Request) (*Resolution, error)
}

// Resolution はセッション解決の結果。
// Cookies にはトークン更新やスライディング延長で再発行されたCookieが入る。
// ゲートはこれをレスポンスと転送先リクエストの両方に反映する。
type Resolution struct {
	Session *model.Session
	Cookies []*http.Cookie
}

// Anonymous はセッションが存在しないかを返す。
func (r *Resolution) Anonymous() bool {
	return r == nil || r.Session == nil
}

// CookieConfig は再発行するCookieの属性。
type CookieConfig struct {
	Domain string
	Secure bool
}

func (c CookieConfig) newCookie(name, value string, maxAge int) *http.Cookie {
	return &http.Cookie{
		Name:     name,
		Value:    value,
		Path:     "/",
		Domain:   c.Domain,
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   c.Secure,
		SameSite: http.SameSiteLaxMode,
	}
}

// ResolverFunc は関数をSessionResolverとして扱うためのアダプタ。
type ResolverFunc func(ctx context.Context, r *http.Request) (*Resolution, error)

// Resolve はSessionResolverインターフェースを実装する。
func (f ResolverFunc) Resolve(ctx context.Context, r *http.Request) (*Resolution, error) {
	return f(ctx, r)
}
