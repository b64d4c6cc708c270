// Package route はURLパスのカテゴリ分類（ルートテーブル）を提供する。
// ルートテーブルはデプロイ時に固定され、リクエストごとに変化しない。
package route

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/hitoshi/padelgate/internal/model"
)

//go:embed default_routes.json
var defaultRoutesJSON []byte

// identifierPattern はテーブル名・列名として許可する識別子。
var identifierPattern = regexp.MustCompile(`^[a-z_][a-z0-9_]*$`)

// Entry はパスプレフィックスとカテゴリの対応を表す。
type Entry struct {
	Prefix   string         `json:"prefix"`
	Category model.Category `json:"category"`
}

// Redirects はゲートが使用する固定のリダイレクト先。
type Redirects struct {
	Login      string `json:"login"`
	Dashboard  string `json:"dashboard"`
	Onboarding string `json:"onboarding"`
}

// BypassRules はゲートを経由させないパス（静的アセット、API）の条件。
type BypassRules struct {
	Prefixes   []string `json:"prefixes"`
	Extensions []string `json:"extensions"`
}

// Table はバージョン付きのルートテーブル。
type Table struct {
	Version      int                 `json:"version"`
	Redirects    Redirects           `json:"redirects"`
	Routes       []Entry             `json:"routes"`
	Bypass       BypassRules         `json:"bypass"`
	ProfileKinds []model.ProfileKind `json:"profile_kinds"`

	// sorted はプレフィックス長の降順に並べたエントリ。
	sorted []Entry
}

// Default は組み込みのルートテーブルを返す。
func Default() (*Table, error) {
	return Parse(defaultRoutesJSON)
}

// Load はファイルからルートテーブルを読み込む。pathが空の場合は組み込みテーブルを返す。
func Load(filePath string) (*Table, error) {
	if filePath == "" {
		return Default()
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read route table: %w", err)
	}
	return Parse(data)
}

// Parse はJSONからルートテーブルを生成し、検証する。
// 不正な内容の場合は *model.ConfigurationError を返す。
func Parse(data []byte) (*Table, error) {
	t := &Table{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(t); err != nil {
		return nil, &model.ConfigurationError{Field: "route_table", Reason: err.Error()}
	}
	if err := t.init(); err != nil {
		return nil, err
	}
	return t, nil
}

// init はエントリを正規化・整列し、テーブル全体の整合性を検証する。
func (t *Table) init() error {
	if t.Version <= 0 {
		return &model.ConfigurationError{Field: "version", Reason: "must be a positive integer"}
	}
	if len(t.Routes) == 0 {
		return &model.ConfigurationError{Field: "routes", Reason: "at least one route is required"}
	}

	seen := make(map[string]bool, len(t.Routes))
	sorted := make([]Entry, 0, len(t.Routes))
	for i, e := range t.Routes {
		field := fmt.Sprintf("routes[%d]", i)
		if !strings.HasPrefix(e.Prefix, "/") {
			return &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("prefix %q must start with /", e.Prefix)}
		}
		if !e.Category.Valid() {
			return &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("unknown category %q", e.Category)}
		}
		prefix := normalize(e.Prefix)
		if seen[prefix] {
			return &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("duplicate prefix %q", prefix)}
		}
		seen[prefix] = true
		sorted = append(sorted, Entry{Prefix: prefix, Category: e.Category})
	}
	sort.SliceStable(sorted, func(i, j int) bool {
		return len(sorted[i].Prefix) > len(sorted[j].Prefix)
	})
	t.sorted = sorted

	if err := t.validateRedirects(); err != nil {
		return err
	}
	return t.validateProfileKinds()
}

// validateRedirects はリダイレクト先が期待するカテゴリに分類されることを検証する。
// これによりリダイレクト先に再度ゲートを適用してもリダイレクトが発生しない。
func (t *Table) validateRedirects() error {
	targets := []struct {
		field string
		path  string
		want  model.Category
	}{
		{"redirects.login", t.Redirects.Login, model.CategoryAuth},
		{"redirects.dashboard", t.Redirects.Dashboard, model.CategoryProtected},
		{"redirects.onboarding", t.Redirects.Onboarding, model.CategoryOnboarding},
	}
	for _, target := range targets {
		if !strings.HasPrefix(target.path, "/") {
			return &model.ConfigurationError{Field: target.field, Reason: fmt.Sprintf("redirect target %q must be an absolute path", target.path)}
		}
		if got := t.Classify(target.path); got != target.want {
			return &model.ConfigurationError{
				Field:  target.field,
				Reason: fmt.Sprintf("redirect target %q is classified as %q, want %q", target.path, got, target.want),
			}
		}
		if t.Bypassed(target.path) {
			return &model.ConfigurationError{Field: target.field, Reason: fmt.Sprintf("redirect target %q is bypassed by the gate", target.path)}
		}
	}
	return nil
}

func (t *Table) validateProfileKinds() error {
	if len(t.ProfileKinds) == 0 {
		return &model.ConfigurationError{Field: "profile_kinds", Reason: "at least one profile kind is required"}
	}
	names := make(map[string]bool, len(t.ProfileKinds))
	for i, k := range t.ProfileKinds {
		field := fmt.Sprintf("profile_kinds[%d]", i)
		if k.Name == "" {
			return &model.ConfigurationError{Field: field, Reason: "name is required"}
		}
		if names[k.Name] {
			return &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("duplicate profile kind %q", k.Name)}
		}
		names[k.Name] = true

		if k.Kind != model.KindPlayer && k.Kind != model.KindBusiness {
			return &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("kind must be player or business, got %q", k.Kind)}
		}
		if !identifierPattern.MatchString(k.Table) {
			return &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("invalid table name %q", k.Table)}
		}
		switch k.Predicate {
		case model.PredicateFlag:
			if !identifierPattern.MatchString(k.FlagColumn) {
				return &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("flag predicate requires a valid flag_column, got %q", k.FlagColumn)}
			}
		case model.PredicateExistence:
			if k.FlagColumn != "" {
				return &model.ConfigurationError{Field: field, Reason: "existence predicate must not declare flag_column"}
			}
		default:
			return &model.ConfigurationError{Field: field, Reason: fmt.Sprintf("unknown predicate %q", k.Predicate)}
		}
	}
	return nil
}

// Classify はパスを最長プレフィックス一致でカテゴリに分類する。
// プレフィックスはパスセグメント単位で一致させる（/dashboard は /dashboards に一致しない）。
// どのエントリにも一致しない場合は public を返す。
func (t *Table) Classify(p string) model.Category {
	p = normalize(p)
	for _, e := range t.sorted {
		if matchPrefix(p, e.Prefix) {
			return e.Category
		}
	}
	return model.CategoryPublic
}

// Bypassed はパスがゲートの対象外（静的アセット、API）かどうかを返す。
func (t *Table) Bypassed(p string) bool {
	p = CanonicalPath(p)
	for _, prefix := range t.Bypass.Prefixes {
		if strings.HasPrefix(p, prefix) {
			return true
		}
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return false
	}
	for _, e := range t.Bypass.Extensions {
		if ext == strings.ToLower(e) {
			return true
		}
	}
	return false
}

// Entries はプレフィックス長の降順に並んだエントリのコピーを返す。
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.sorted))
	copy(out, t.sorted)
	return out
}

func matchPrefix(p, prefix string) bool {
	if prefix == "/" {
		return true
	}
	return p == prefix || strings.HasPrefix(p, prefix+"/")
}

// CanonicalPath はドットセグメントと連続スラッシュを解決したパスを返す。
// 末尾スラッシュは元のパスにあれば残す。
func CanonicalPath(p string) string {
	if p == "" {
		return "/"
	}
	cleaned := path.Clean("/" + p)
	if cleaned != "/" && strings.HasSuffix(p, "/") {
		cleaned += "/"
	}
	return cleaned
}

// normalize は分類用にパスを正規化する。末尾スラッシュは除去する（ルートを除く）。
func normalize(p string) string {
	return path.Clean("/" + p)
}
