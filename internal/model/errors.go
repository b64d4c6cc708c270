package model

import (
	"errors"
	"fmt"
)

// APIError は統一エラーフォーマットを表す。
// 内部APIのJSONレスポンスで原因カテゴリと対処方法を返すために使用する。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, system
	Action   string // 呼び出し側向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeInvalidWebhookSecret = "INVALID_WEBHOOK_SECRET"
	ErrCodeInvalidPayload       = "INVALID_PAYLOAD"
	ErrCodeInvalidUserID        = "INVALID_USER_ID"
	ErrCodeRateLimited          = "RATE_LIMIT_EXCEEDED"
)

// NewInvalidWebhookSecretError はWebhookの共有シークレット不一致エラーを生成する。
func NewInvalidWebhookSecretError() *APIError {
	return &APIError{
		Code:     ErrCodeInvalidWebhookSecret,
		Message:  "Webhookシークレットが一致しません。",
		Category: "auth",
		Action:   "X-Webhook-Secret ヘッダーに正しいシークレットを設定してください。",
	}
}

// NewInvalidPayloadError はリクエストボディが不正な場合のエラーを生成する。
func NewInvalidPayloadError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidPayload,
		Message:  fmt.Sprintf("リクエストボディが不正です: %s", reason),
		Category: "validation",
		Action:   `{"user_id": "<uuid>"} 形式のJSONを送信してください。`,
	}
}

// NewInvalidUserIDError はユーザーIDの形式が不正な場合のエラーを生成する。
func NewInvalidUserIDError(userID string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidUserID,
		Message:  fmt.Sprintf("ユーザーIDの形式が不正です: %s", userID),
		Category: "validation",
		Action:   "UUID形式のユーザーIDを指定してください。",
	}
}

// NewRateLimitedError はレート制限超過エラーを生成する。
func NewRateLimitedError() *APIError {
	return &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "リクエストが多すぎます。",
		Category: "system",
		Action:   "Retry-After ヘッダーの秒数だけ待ってから再送してください。",
	}
}

// SessionResolutionError はセッション解決の失敗を表す。
// ゲートはこのエラーを「セッションなし」として扱う。
type SessionResolutionError struct {
	Reason string
	Err    error
}

func (e *SessionResolutionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session resolution failed: %s: %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("session resolution failed: %s", e.Reason)
}

func (e *SessionResolutionError) Unwrap() error { return e.Err }

// ProfileLookupError はプロフィール種別の検索失敗を表す。
// ゲートはこのエラーを「オンボーディング未完了」として扱う。
type ProfileLookupError struct {
	Kinds []string // 失敗した種別名
	Err   error
}

func (e *ProfileLookupError) Error() string {
	return fmt.Sprintf("profile lookup failed for %v: %v", e.Kinds, e.Err)
}

func (e *ProfileLookupError) Unwrap() error { return e.Err }

// ConfigurationError はルートテーブル等の設定不備を表す。起動時に致命的エラーとして扱う。
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// IsConfigurationError はerrがConfigurationErrorを含むかを返す。
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}
