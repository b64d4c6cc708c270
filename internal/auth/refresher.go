package auth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRefreshTimeout = 5 * time.Second

// TokenPair は認証サービスから発行されたトークンの組。
type TokenPair struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
}

// Refresher はリフレッシュトークンから新しいトークンを取得するインターフェース。
type Refresher interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
}

// HTTPRefresherConfig はHTTPRefresherの設定。
type HTTPRefresherConfig struct {
	AuthURL string // 例: https://xyz.supabase.co/auth/v1
	APIKey  string
	Timeout time.Duration
}

// HTTPRefresher は認証サービスのトークンエンドポイントを呼び出してトークンを更新する。
type HTTPRefresher struct {
	tokenURL string
	apiKey   string
	client   *http.Client
}

// NewHTTPRefresher はHTTPRefresherを生成する。
func NewHTTPRefresher(config HTTPRefresherConfig) *HTTPRefresher {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = defaultRefreshTimeout
	}
	return &HTTPRefresher{
		tokenURL: strings.TrimSuffix(config.AuthURL, "/") + "/token?grant_type=refresh_token",
		apiKey:   config.APIKey,
		client:   &http.Client{Timeout: timeout},
	}
}

// Refresh はリフレッシュトークンを新しいトークンの組に交換する。
func (p *HTTPRefresher) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	payload, err := json.Marshal(map[string]string{"refresh_token": refreshToken})
	if err != nil {
		return nil, fmt.Errorf("failed to encode refresh request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.tokenURL, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("apikey", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("refresh request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read refresh response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("token refresh failed with status %d: %s", resp.StatusCode, string(body))
	}

	var pair TokenPair
	if err := json.Unmarshal(body, &pair); err != nil {
		return nil, fmt.Errorf("failed to parse refresh response: %w", err)
	}
	if pair.AccessToken == "" {
		return nil, fmt.Errorf("empty access token in response")
	}

	return &pair, nil
}

// compile-time interface check
var _ Refresher = (*HTTPRefresher)(nil)
