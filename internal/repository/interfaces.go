// Package repository はデータ永続化のインターフェースを定義する。
package repository

import (
	"context"
	"time"

	"github.com/hitoshi/padelgate/internal/model"
)

// SessionRepository はセッションデータの永続化インターフェース。
// SESSION_BACKEND=database の場合にのみ使用する。
type SessionRepository interface {
	// Create はセッションを作成する。
	Create(ctx context.Context, session *model.Session) error
	// FindByID は指定IDのセッションを取得する。期限切れの場合はnilを返す。
	FindByID(ctx context.Context, id string) (*model.Session, error)
	// Touch はセッションの有効期限を延長する。
	Touch(ctx context.Context, id string, expiresAt time.Time) error
	// DeleteByID は指定IDのセッションを削除する。
	DeleteByID(ctx context.Context, id string) error
}

// ProfileRepository はプロフィール種別テーブルの読み取りインターフェース。
type ProfileRepository interface {
	// FindProfileByKind は指定種別のテーブルからユーザーのプロフィールを取得する。
	// 見つからない場合はnilを返す。
	FindProfileByKind(ctx context.Context, kind model.ProfileKind, userID string) (*model.ProfileRecord, error)
}
