package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/padelgate/internal/auth"
	"github.com/hitoshi/padelgate/internal/config"
	"github.com/hitoshi/padelgate/internal/onboarding"
	"github.com/hitoshi/padelgate/internal/repository"
	"github.com/hitoshi/padelgate/internal/route"
)

// loadRouteTable はROUTE_TABLE_FILEが指定されていればそのファイルを、
// なければ組み込みのデフォルトテーブルを読み込む。
func loadRouteTable(file string) (*route.Table, error) {
	if file == "" {
		return route.Default()
	}
	return route.Load(file)
}

// buildSessionResolver はSESSION_BACKENDに応じたセッション解決方式を構築する。
func buildSessionResolver(cfg *config.Config, sessions repository.SessionRepository) (auth.SessionResolver, error) {
	cookie := auth.CookieConfig{
		Domain: cfg.CookieDomain,
		Secure: cfg.CookieSecure,
	}

	switch cfg.SessionBackend {
	case config.SessionBackendDatabase:
		return auth.NewDatabaseResolver(sessions, auth.DatabaseResolverConfig{
			CookieName:    cfg.SessionCookie,
			SessionMaxAge: cfg.SessionMaxAge,
			Cookie:        cookie,
		}), nil
	case config.SessionBackendJWT:
		var refresher auth.Refresher
		if cfg.AuthURL != "" {
			refresher = auth.NewHTTPRefresher(auth.HTTPRefresherConfig{
				AuthURL: cfg.AuthURL,
				APIKey:  cfg.AuthAPIKey,
				Timeout: cfg.AuthTimeout,
			})
		} else {
			slog.Warn("AUTH_URL is not set; expired access tokens will not be refreshed")
		}
		return auth.NewJWTResolver(auth.JWTResolverConfig{
			Secret:             []byte(cfg.JWTSecret),
			AccessTokenCookie:  cfg.AccessTokenCookie,
			RefreshTokenCookie: cfg.RefreshTokenCookie,
			Cookie:             cookie,
		}, refresher), nil
	default:
		return nil, fmt.Errorf("unsupported session backend %q", cfg.SessionBackend)
	}
}

// buildStatusCache はCACHE_BACKENDに応じた状態キャッシュを構築する。
// 返されるclose関数はキャッシュが保持するリソースを解放する。
func buildStatusCache(ctx context.Context, cfg *config.Config) (onboarding.StatusCache, func(), error) {
	switch cfg.CacheBackend {
	case config.CacheBackendNone:
		return onboarding.NopCache{}, func() {}, nil
	case config.CacheBackendMemory:
		c := onboarding.NewMemoryCache(cfg.CacheTTL, time.Minute)
		return c, c.Stop, nil
	case config.CacheBackendRedis:
		client := onboarding.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword)
		c := onboarding.NewRedisCache(client, cfg.CacheTTL)

		pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
		defer cancel()
		if err := c.Ping(pingCtx); err != nil {
			// キャッシュ障害は判定結果に影響しないため起動は継続する
			slog.Warn("redis is not reachable; cache lookups will fail until it recovers",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
		}
		return c, func() { client.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unsupported cache backend %q", cfg.CacheBackend)
	}
}
