package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hitoshi/padelgate/internal/model"
)

const (
	defaultAccessTokenCookie  = "sb-access-token"
	defaultRefreshTokenCookie = "sb-refresh-token"
	defaultRefreshCookieAge   = 60 * 60 * 24 * 30
)

// JWTResolverConfig はJWTResolverの設定。
type JWTResolverConfig struct {
	Secret             []byte
	AccessTokenCookie  string
	RefreshTokenCookie string
	RefreshCookieAge   int // リフレッシュトークンCookieの有効期間（秒）
	Cookie             CookieConfig
}

// accessClaims はアクセストークンのクレーム。
type accessClaims struct {
	SessionID string `json:"session_id,omitempty"`
	jwt.RegisteredClaims
}

// JWTResolver はHS256署名のアクセストークンCookieからセッションを解決する。
// アクセストークンが期限切れまたは欠落しており、リフレッシュトークンがある場合は
// Refresherで新しいトークンを取得し、再発行したCookieを返す。
type JWTResolver struct {
	config    JWTResolverConfig
	refresher Refresher
	parser    *jwt.Parser
	now       func() time.Time
}

// NewJWTResolver はJWTResolverを生成する。refresherがnilの場合はトークン更新を行わない。
func NewJWTResolver(config JWTResolverConfig, refresher Refresher) *JWTResolver {
	if config.AccessTokenCookie == "" {
		config.AccessTokenCookie = defaultAccessTokenCookie
	}
	if config.RefreshTokenCookie == "" {
		config.RefreshTokenCookie = defaultRefreshTokenCookie
	}
	if config.RefreshCookieAge <= 0 {
		config.RefreshCookieAge = defaultRefreshCookieAge
	}
	r := &JWTResolver{
		config:    config,
		refresher: refresher,
		now:       time.Now,
	}
	r.parser = jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(func() time.Time { return r.now() }),
	)
	return r
}

// Resolve はSessionResolverインターフェースを実装する。
func (r *JWTResolver) Resolve(ctx context.Context, req *http.Request) (*Resolution, error) {
	access := cookieValue(req, r.config.AccessTokenCookie)
	refresh := cookieValue(req, r.config.RefreshTokenCookie)

	if access != "" {
		session, err := r.parseAccessToken(access)
		if err == nil {
			return &Resolution{Session: session}, nil
		}
		if !errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &model.SessionResolutionError{Reason: "invalid access token", Err: err}
		}
	}

	if refresh == "" || r.refresher == nil {
		return &Resolution{}, nil
	}

	return r.refresh(ctx, refresh)
}

func (r *JWTResolver) refresh(ctx context.Context, refreshToken string) (*Resolution, error) {
	pair, err := r.refresher.Refresh(ctx, refreshToken)
	if err != nil {
		return nil, &model.SessionResolutionError{Reason: "token refresh failed", Err: err}
	}

	session, err := r.parseAccessToken(pair.AccessToken)
	if err != nil {
		return nil, &model.SessionResolutionError{Reason: "refreshed access token rejected", Err: err}
	}

	accessAge := pair.ExpiresIn
	if accessAge <= 0 {
		accessAge = int(session.ExpiresAt.Sub(r.now()).Seconds())
	}
	cookies := []*http.Cookie{
		r.config.Cookie.newCookie(r.config.AccessTokenCookie, pair.AccessToken, accessAge),
	}
	if pair.RefreshToken != "" {
		cookies = append(cookies, r.config.Cookie.newCookie(r.config.RefreshTokenCookie, pair.RefreshToken, r.config.RefreshCookieAge))
	}

	slog.Debug("access token refreshed", slog.String("user_id", session.UserID))
	return &Resolution{Session: session, Cookies: cookies}, nil
}

// parseAccessToken は署名と有効期限を検証し、subをユーザーIDとするセッションを返す。
func (r *JWTResolver) parseAccessToken(token string) (*model.Session, error) {
	claims := &accessClaims{}
	_, err := r.parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return r.config.Secret, nil
	})
	if err != nil {
		return nil, err
	}

	userID, err := uuid.Parse(claims.Subject)
	if err != nil {
		return nil, fmt.Errorf("subject is not a UUID: %w", err)
	}

	session := &model.Session{
		ID:        claims.SessionID,
		UserID:    userID.String(),
		ExpiresAt: claims.ExpiresAt.Time,
	}
	if session.ID == "" {
		session.ID = claims.ID
	}
	if claims.IssuedAt != nil {
		session.CreatedAt = claims.IssuedAt.Time
	}
	return session, nil
}

func cookieValue(r *http.Request, name string) string {
	c, err := r.Cookie(name)
	if err != nil {
		return ""
	}
	return c.Value
}

// compile-time interface check
var _ SessionResolver = (*JWTResolver)(nil)
