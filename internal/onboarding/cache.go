package onboarding

import (
	"context"

	"github.com/hitoshi/padelgate/internal/model"
)

// StatusCache はオンボーディング完了状態のキャッシュ。
// 完了済みの状態のみを保持する。未完了の状態をキャッシュすると、
// オンボーディング直後のユーザーが古い状態でリダイレクトされ続けるため。
type StatusCache interface {
	// Get はキャッシュされた状態を返す。存在しない場合はfalseを返す。
	Get(ctx context.Context, userID string) (model.OnboardingStatus, bool, error)
	// Set は状態をキャッシュする。
	Set(ctx context.Context, userID string, status model.OnboardingStatus) error
	// Invalidate はユーザーのキャッシュを削除する。
	Invalidate(ctx context.Context, userID string) error
}

// NopCache は何もキャッシュしないStatusCache。CACHE_BACKEND=none で使用する。
type NopCache struct{}

func (NopCache) Get(context.Context, string) (model.OnboardingStatus, bool, error) {
	return model.OnboardingStatus{}, false, nil
}

func (NopCache) Set(context.Context, string, model.OnboardingStatus) error { return nil }

func (NopCache) Invalidate(context.Context, string) error { return nil }

// compile-time interface check
var _ StatusCache = NopCache{}
