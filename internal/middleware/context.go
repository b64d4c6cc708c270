// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
)

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

var (
	// userIDContextKey はリクエストコンテキストにユーザーIDを格納するためのキー。
	userIDContextKey = contextKey("user_id")
	// requestInfoContextKey はロギングミドルウェアが用意するRequestInfoのキー。
	requestInfoContextKey = contextKey("request_info")
)

// RequestInfo は内側のハンドラーが判明させた情報を外側のミドルウェアへ返すための入れ物。
// ロギングミドルウェアがリクエストごとに1つ生成する。
type RequestInfo struct {
	UserID   string
	GateRule string
}

func withRequestInfo(ctx context.Context) (context.Context, *RequestInfo) {
	info := &RequestInfo{}
	return context.WithValue(ctx, requestInfoContextKey, info), info
}

func requestInfoFromContext(ctx context.Context) *RequestInfo {
	info, _ := ctx.Value(requestInfoContextKey).(*RequestInfo)
	return info
}

// UserIDFromContext はリクエストコンテキストからユーザーIDを取得する。
// ゲートを通過した認証済みリクエストでのみ有効。
func UserIDFromContext(ctx context.Context) (string, error) {
	if userID, ok := ctx.Value(userIDContextKey).(string); ok && userID != "" {
		return userID, nil
	}
	if info := requestInfoFromContext(ctx); info != nil && info.UserID != "" {
		return info.UserID, nil
	}
	return "", fmt.Errorf("user ID not found in context")
}

// ContextWithUserID はコンテキストにユーザーIDを注入する。
// ロギングミドルウェアのRequestInfoがあればそちらにも記録する。
func ContextWithUserID(ctx context.Context, userID string) context.Context {
	if info := requestInfoFromContext(ctx); info != nil {
		info.UserID = userID
	}
	return context.WithValue(ctx, userIDContextKey, userID)
}

// RecordGateRule はゲートが適用した判定ルールをRequestInfoに記録する。
func RecordGateRule(ctx context.Context, rule string) {
	if info := requestInfoFromContext(ctx); info != nil {
		info.GateRule = rule
	}
}

// RecordUserID はコンテキストを差し替えずにRequestInfoへユーザーIDを記録する。
// リダイレクトで応答を終える場合など、下流にコンテキストを渡さない経路で使用する。
func RecordUserID(ctx context.Context, userID string) {
	if info := requestInfoFromContext(ctx); info != nil {
		info.UserID = userID
	}
}
