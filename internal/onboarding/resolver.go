// Package onboarding はユーザーのオンボーディング完了状態を判定する。
package onboarding

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/hitoshi/padelgate/internal/metrics"
	"github.com/hitoshi/padelgate/internal/model"
	"github.com/hitoshi/padelgate/internal/repository"
)

// Resolver はプロフィール種別を優先順位の順に検索し、オンボーディング状態を算出する。
type Resolver struct {
	repo    repository.ProfileRepository
	kinds   []model.ProfileKind
	cache   StatusCache
	metrics metrics.MetricsCollector
}

// NewResolver はResolverを生成する。kindsの順序が検索の優先順位となる。
// cacheまたはcollectorがnilの場合は無効として扱う。
func NewResolver(repo repository.ProfileRepository, kinds []model.ProfileKind, cache StatusCache, collector metrics.MetricsCollector) *Resolver {
	if cache == nil {
		cache = NopCache{}
	}
	if collector == nil {
		collector = metrics.Nop{}
	}
	return &Resolver{
		repo:    repo,
		kinds:   kinds,
		cache:   cache,
		metrics: collector,
	}
}

// Resolve はユーザーのオンボーディング状態を返す。
// 最初に完了条件を満たした種別でKindが決まる。どれも満たさない場合は未完了となる。
// 一部の種別の検索に失敗しても残りの種別の検索を続け、
// どの種別も完了とならなかった場合は未完了の状態と *model.ProfileLookupError を返す。
func (r *Resolver) Resolve(ctx context.Context, userID string) (model.OnboardingStatus, error) {
	if status, ok := r.cached(ctx, userID); ok {
		return status, nil
	}

	start := time.Now()
	status, failed, errs := r.lookupKinds(ctx, userID)
	r.metrics.RecordProfileLookupLatency(time.Since(start))

	if status.Completed {
		if len(failed) > 0 {
			// 優先度の高い種別が未確認の場合はキャッシュしない
			slog.Warn("onboarding resolved despite lookup failures",
				slog.String("user_id", userID),
				slog.String("matched_profile", status.MatchedProfile),
				slog.Any("failed_kinds", failed),
			)
			return status, nil
		}
		if err := r.cache.Set(ctx, userID, status); err != nil {
			slog.Warn("failed to cache onboarding status",
				slog.String("user_id", userID),
				slog.String("error", err.Error()),
			)
		}
		return status, nil
	}

	if len(failed) > 0 {
		return model.Incomplete(), &model.ProfileLookupError{Kinds: failed, Err: errors.Join(errs...)}
	}
	return model.Incomplete(), nil
}

// Invalidate はユーザーのキャッシュ済み状態を破棄する。
func (r *Resolver) Invalidate(ctx context.Context, userID, source string) error {
	if err := r.cache.Invalidate(ctx, userID); err != nil {
		return err
	}
	r.metrics.RecordCacheInvalidation(source)
	return nil
}

func (r *Resolver) cached(ctx context.Context, userID string) (model.OnboardingStatus, bool) {
	status, ok, err := r.cache.Get(ctx, userID)
	if err != nil {
		slog.Warn("failed to read onboarding cache",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		ok = false
	}
	r.metrics.RecordCacheRequest(ok)
	return status, ok
}

// lookupKinds は種別を順に検索し、最初に完了条件を満たした種別の状態を返す。
func (r *Resolver) lookupKinds(ctx context.Context, userID string) (model.OnboardingStatus, []string, []error) {
	var (
		failed []string
		errs   []error
	)

	for _, kind := range r.kinds {
		if err := ctx.Err(); err != nil {
			failed = append(failed, kind.Name)
			errs = append(errs, err)
			continue
		}

		rec, err := r.repo.FindProfileByKind(ctx, kind, userID)
		if err != nil {
			slog.Warn("profile lookup failed",
				slog.String("user_id", userID),
				slog.String("kind", kind.Name),
				slog.String("error", err.Error()),
			)
			r.metrics.RecordProfileLookupFailure(kind.Name)
			failed = append(failed, kind.Name)
			errs = append(errs, err)
			continue
		}

		if kind.Satisfies(rec) {
			return model.OnboardingStatus{
				Completed:      true,
				Kind:           kind.Kind,
				MatchedProfile: kind.Name,
			}, failed, errs
		}
	}

	return model.Incomplete(), failed, errs
}
