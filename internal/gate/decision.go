// Package gate はセッションとオンボーディング状態に基づくルートアクセス判定を提供する。
package gate

import (
	"github.com/hitoshi/padelgate/internal/model"
	"github.com/hitoshi/padelgate/internal/route"
)

// Action はゲート判定の結果。
type Action string

const (
	ActionPass     Action = "pass"
	ActionRedirect Action = "redirect"
)

// 判定ルール名。メトリクスのラベルとログに使用する。
const (
	RuleAnonymousProtected  = "anonymous_protected"
	RuleAnonymousOnboarding = "anonymous_onboarding"
	RuleAnonymousPass       = "anonymous_pass"
	RuleAuthCompleted       = "auth_completed"
	RuleAuthIncomplete      = "auth_incomplete"
	RuleProtectedIncomplete = "protected_incomplete"
	RuleOnboardingCompleted = "onboarding_completed"
	RulePass                = "pass"
)

// Input は判定に必要な情報。
// Completed はAuthenticatedがtrueの場合のみ意味を持つ。
type Input struct {
	Authenticated bool
	Category      model.Category
	Completed     bool
}

// Decision は判定結果。ActionがredirectのときのみLocationが設定される。
type Decision struct {
	Action   Action
	Location string
	Rule     string
}

// Redirect はリダイレクト判定かどうかを返す。
func (d Decision) Redirect() bool {
	return d.Action == ActionRedirect
}

// Decide は判定表を上から順に評価し、最初に一致したルールの結果を返す。
func Decide(in Input, redirects route.Redirects) Decision {
	if !in.Authenticated {
		switch in.Category {
		case model.CategoryProtected:
			return redirect(redirects.Login, RuleAnonymousProtected)
		case model.CategoryOnboarding:
			return redirect(redirects.Login, RuleAnonymousOnboarding)
		default:
			return pass(RuleAnonymousPass)
		}
	}

	switch in.Category {
	case model.CategoryAuth:
		if in.Completed {
			return redirect(redirects.Dashboard, RuleAuthCompleted)
		}
		return redirect(redirects.Onboarding, RuleAuthIncomplete)
	case model.CategoryProtected:
		if !in.Completed {
			return redirect(redirects.Onboarding, RuleProtectedIncomplete)
		}
	case model.CategoryOnboarding:
		if in.Completed {
			return redirect(redirects.Dashboard, RuleOnboardingCompleted)
		}
	}
	return pass(RulePass)
}

// needsOnboarding はカテゴリの判定にオンボーディング状態が必要かを返す。
func needsOnboarding(c model.Category) bool {
	switch c {
	case model.CategoryAuth, model.CategoryProtected, model.CategoryOnboarding:
		return true
	default:
		return false
	}
}

func redirect(location, rule string) Decision {
	return Decision{Action: ActionRedirect, Location: location, Rule: rule}
}

func pass(rule string) Decision {
	return Decision{Action: ActionPass, Rule: rule}
}
