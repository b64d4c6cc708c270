package model

// Category はURLパスの分類を表す。
type Category string

const (
	CategoryPublic     Category = "public"
	CategoryProtected  Category = "protected"
	CategoryAuth       Category = "auth"
	CategoryOnboarding Category = "onboarding"
)

// Valid は既知のカテゴリかどうかを返す。
func (c Category) Valid() bool {
	switch c {
	case CategoryPublic, CategoryProtected, CategoryAuth, CategoryOnboarding:
		return true
	default:
		return false
	}
}

// Kind はオンボーディング状態として報告するプロフィール種別。
type Kind string

const (
	KindNone     Kind = "none"
	KindPlayer   Kind = "player"
	KindBusiness Kind = "business"
)

// Predicate はプロフィール種別ごとの完了判定方式。
type Predicate string

const (
	// PredicateFlag はレコードが存在し、かつ完了フラグがtrueの場合に完了とみなす。
	PredicateFlag Predicate = "flag"
	// PredicateExistence はレコードが存在すれば完了とみなす。
	PredicateExistence Predicate = "existence"
)

// ProfileKind はプロフィールを保持するテーブルと、その完了判定方式を表す。
// 設定ファイルの profile_kinds に記載された順序が探索の優先順位となる。
type ProfileKind struct {
	Name       string    `json:"name"`
	Kind       Kind      `json:"kind"`
	Table      string    `json:"table"`
	Predicate  Predicate `json:"predicate"`
	FlagColumn string    `json:"flag_column,omitempty"`
}

// ProfileRecord はプロフィールテーブルから読み取った1行。
// OnboardingComplete はフラグ列を持たない種別ではnilとなる。
type ProfileRecord struct {
	UserID             string
	OnboardingComplete *bool
}

// Satisfies はレコードがこの種別の完了条件を満たすかを返す。
func (k ProfileKind) Satisfies(rec *ProfileRecord) bool {
	if rec == nil {
		return false
	}
	switch k.Predicate {
	case PredicateExistence:
		return true
	case PredicateFlag:
		return rec.OnboardingComplete != nil && *rec.OnboardingComplete
	default:
		return false
	}
}

// OnboardingStatus はリクエストごとに算出されるオンボーディング状態。
type OnboardingStatus struct {
	Completed bool `json:"completed"`
	Kind      Kind `json:"kind"`
	// MatchedProfile は完了判定に使われたプロフィール種別名。未完了時は空。
	MatchedProfile string `json:"matched_profile,omitempty"`
}

// Incomplete はオンボーディング未完了の既定状態を返す。
func Incomplete() OnboardingStatus {
	return OnboardingStatus{Completed: false, Kind: KindNone}
}
