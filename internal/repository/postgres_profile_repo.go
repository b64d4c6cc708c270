package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/hitoshi/padelgate/internal/model"
	"github.com/lib/pq"
)

// PostgresProfileRepo はPostgreSQLを使用したプロフィール種別リポジトリ。
// テーブル名・列名はルートテーブル検証済みの設定値のみを受け付け、
// さらにpq.QuoteIdentifierでクォートしてからクエリに埋め込む。
type PostgresProfileRepo struct {
	db *sql.DB
}

// NewPostgresProfileRepo はPostgresProfileRepoを生成する。
func NewPostgresProfileRepo(db *sql.DB) *PostgresProfileRepo {
	return &PostgresProfileRepo{db: db}
}

// FindProfileByKind は指定種別のテーブルからユーザーのプロフィールを取得する。
// 見つからない場合はnilを返す。
func (r *PostgresProfileRepo) FindProfileByKind(ctx context.Context, kind model.ProfileKind, userID string) (*model.ProfileRecord, error) {
	query, err := buildProfileQuery(kind)
	if err != nil {
		return nil, err
	}

	rec := &model.ProfileRecord{}
	row := r.db.QueryRowContext(ctx, query, userID)

	switch kind.Predicate {
	case model.PredicateFlag:
		var flag sql.NullBool
		err = row.Scan(&rec.UserID, &flag)
		if flag.Valid {
			rec.OnboardingComplete = &flag.Bool
		}
	default:
		err = row.Scan(&rec.UserID)
	}

	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find %s profile: %w", kind.Name, err)
	}

	return rec, nil
}

// buildProfileQuery は種別の完了判定方式に応じたSELECT文を組み立てる。
func buildProfileQuery(kind model.ProfileKind) (string, error) {
	if kind.Table == "" {
		return "", fmt.Errorf("profile kind %q has no table", kind.Name)
	}
	table := pq.QuoteIdentifier(kind.Table)

	switch kind.Predicate {
	case model.PredicateFlag:
		if kind.FlagColumn == "" {
			return "", fmt.Errorf("profile kind %q has no flag column", kind.Name)
		}
		return fmt.Sprintf(
			`SELECT user_id, %s FROM %s WHERE user_id = $1 LIMIT 1`,
			pq.QuoteIdentifier(kind.FlagColumn), table,
		), nil
	case model.PredicateExistence:
		return fmt.Sprintf(`SELECT user_id FROM %s WHERE user_id = $1 LIMIT 1`, table), nil
	default:
		return "", fmt.Errorf("profile kind %q has unknown predicate %q", kind.Name, kind.Predicate)
	}
}

// compile-time interface check
var _ ProfileRepository = (*PostgresProfileRepo)(nil)
