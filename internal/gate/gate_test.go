package gate

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hitoshi/padelgate/internal/auth"
	"github.com/hitoshi/padelgate/internal/metrics"
	"github.com/hitoshi/padelgate/internal/middleware"
	"github.com/hitoshi/padelgate/internal/model"
	"github.com/hitoshi/padelgate/internal/onboarding"
	"github.com/prometheus/client_golang/prometheus"
)

const testUserID = "3d7c2f10-5b6a-4c8d-9e0f-1a2b3c4d5e6f"

// --- モック定義 ---

type mockStatusResolver struct {
	resolveFn func(ctx context.Context, userID string) (model.OnboardingStatus, error)
	calls     int
}

func (m *mockStatusResolver) Resolve(ctx context.Context, userID string) (model.OnboardingStatus, error) {
	m.calls++
	if m.resolveFn != nil {
		return m.resolveFn(ctx, userID)
	}
	return model.Incomplete(), nil
}

type mockProfileRepo struct {
	findFn func(ctx context.Context, kind model.ProfileKind, userID string) (*model.ProfileRecord, error)
}

func (m *mockProfileRepo) FindProfileByKind(ctx context.Context, kind model.ProfileKind, userID string) (*model.ProfileRecord, error) {
	if m.findFn != nil {
		return m.findFn(ctx, kind, userID)
	}
	return nil, nil
}

// --- ヘルパー ---

func anonymous() auth.SessionResolver {
	return auth.ResolverFunc(func(context.Context, *http.Request) (*auth.Resolution, error) {
		return &auth.Resolution{}, nil
	})
}

func authenticated(cookies ...*http.Cookie) auth.SessionResolver {
	return auth.ResolverFunc(func(context.Context, *http.Request) (*auth.Resolution, error) {
		return &auth.Resolution{
			Session: &model.Session{ID: "sess", UserID: testUserID},
			Cookies: cookies,
		}, nil
	})
}

func completed(kind model.Kind) *mockStatusResolver {
	return &mockStatusResolver{
		resolveFn: func(context.Context, string) (model.OnboardingStatus, error) {
			return model.OnboardingStatus{Completed: true, Kind: kind}, nil
		},
	}
}

// upstream は通過したリクエストを記録するハンドラー。
type upstream struct {
	called  bool
	request *http.Request
}

func (u *upstream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	u.called = true
	u.request = r
	w.WriteHeader(http.StatusOK)
}

func serve(t *testing.T, g *Gate, req *http.Request) (*httptest.ResponseRecorder, *upstream) {
	t.Helper()
	up := &upstream{}
	w := httptest.NewRecorder()
	g.Middleware(up).ServeHTTP(w, req)
	return w, up
}

func assertRedirect(t *testing.T, w *httptest.ResponseRecorder, up *upstream, location string) {
	t.Helper()
	if w.Code != http.StatusFound {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusFound)
	}
	if got := w.Header().Get("Location"); got != location {
		t.Errorf("Location = %q, want %q", got, location)
	}
	if up.called {
		t.Error("upstream should not be called on redirect")
	}
}

func assertPass(t *testing.T, w *httptest.ResponseRecorder, up *upstream) {
	t.Helper()
	if !up.called {
		t.Fatalf("upstream should be called, got status %d Location %q", w.Code, w.Header().Get("Location"))
	}
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want %d", w.Code, http.StatusOK)
	}
}

// --- テスト ---

func TestGate_AnonymousDashboard_RedirectsToLogin(t *testing.T) {
	status := &mockStatusResolver{}
	g := New(defaultTable(t), anonymous(), status, nil)

	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assertRedirect(t, w, up, "/login")
	if status.calls != 0 {
		t.Errorf("onboarding should not be resolved for anonymous requests, got %d calls", status.calls)
	}
	if w.Header().Get("Cache-Control") != "no-store" {
		t.Error("redirect should not be cacheable")
	}
}

func TestGate_AnonymousPublicAndAuth_Pass(t *testing.T) {
	for _, p := range []string{"/", "/login", "/register", "/verify-email"} {
		t.Run(p, func(t *testing.T) {
			g := New(defaultTable(t), anonymous(), &mockStatusResolver{}, nil)
			w, up := serve(t, g, httptest.NewRequest(http.MethodGet, p, nil))
			assertPass(t, w, up)
		})
	}
}

func TestGate_AnonymousOnboarding_RedirectsToLogin(t *testing.T) {
	g := New(defaultTable(t), anonymous(), &mockStatusResolver{}, nil)
	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/onboarding/select-role", nil))
	assertRedirect(t, w, up, "/login")
}

func TestGate_SessionFailure_TreatedAsAnonymous(t *testing.T) {
	failing := auth.ResolverFunc(func(context.Context, *http.Request) (*auth.Resolution, error) {
		return nil, &model.SessionResolutionError{Reason: "invalid access token", Err: errors.New("signature is invalid")}
	})
	reg := prometheus.NewRegistry()
	g := New(defaultTable(t), failing, &mockStatusResolver{}, metrics.NewCollector(reg))

	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assertRedirect(t, w, up, "/login")

	w, up = serve(t, g, httptest.NewRequest(http.MethodGet, "/", nil))
	assertPass(t, w, up)

	families, _ := reg.Gather()
	for _, mf := range families {
		if mf.GetName() == "padelgate_session_failures_total" {
			if got := mf.GetMetric()[0].GetCounter().GetValue(); got != 2 {
				t.Errorf("session failures = %v, want 2", got)
			}
			return
		}
	}
	t.Error("padelgate_session_failures_total not found")
}

func TestGate_CompletedUserOnAuthOrOnboarding_RedirectsToDashboard(t *testing.T) {
	for _, p := range []string{"/login", "/register", "/onboarding", "/onboarding/select-role"} {
		t.Run(p, func(t *testing.T) {
			g := New(defaultTable(t), authenticated(), completed(model.KindPlayer), nil)
			w, up := serve(t, g, httptest.NewRequest(http.MethodGet, p, nil))
			assertRedirect(t, w, up, "/dashboard")
		})
	}
}

func TestGate_IncompleteUserOnProtectedOrAuth_RedirectsToOnboarding(t *testing.T) {
	for _, p := range []string{"/dashboard", "/matches/12", "/login"} {
		t.Run(p, func(t *testing.T) {
			g := New(defaultTable(t), authenticated(), &mockStatusResolver{}, nil)
			w, up := serve(t, g, httptest.NewRequest(http.MethodGet, p, nil))
			assertRedirect(t, w, up, "/onboarding/select-role")
		})
	}
}

func TestGate_CompletedUserOnProtected_PassesWithUserID(t *testing.T) {
	g := New(defaultTable(t), authenticated(), completed(model.KindBusiness), nil)
	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	assertPass(t, w, up)
	userID, err := middleware.UserIDFromContext(up.request.Context())
	if err != nil || userID != testUserID {
		t.Errorf("UserIDFromContext() = %q, %v, want %q", userID, err, testUserID)
	}
}

func TestGate_PublicPath_SkipsOnboardingLookup(t *testing.T) {
	status := &mockStatusResolver{}
	g := New(defaultTable(t), authenticated(), status, nil)

	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/about", nil))
	assertPass(t, w, up)
	if status.calls != 0 {
		t.Errorf("public path should not resolve onboarding, got %d calls", status.calls)
	}
}

func TestGate_OnboardingLookupError_FailsTowardOnboarding(t *testing.T) {
	status := &mockStatusResolver{
		resolveFn: func(context.Context, string) (model.OnboardingStatus, error) {
			return model.OnboardingStatus{Completed: true}, errors.New("unexpected")
		},
	}
	g := New(defaultTable(t), authenticated(), status, nil)

	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assertRedirect(t, w, up, "/onboarding/select-role")
}

func TestGate_PropagatesCookiesOnRedirect(t *testing.T) {
	refreshed := &http.Cookie{Name: "sb-access-token", Value: "new-token", Path: "/", MaxAge: 3600, HttpOnly: true}
	g := New(defaultTable(t), authenticated(refreshed), completed(model.KindPlayer), nil)

	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/login", nil))
	assertRedirect(t, w, up, "/dashboard")

	cookies := w.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != "sb-access-token" || cookies[0].Value != "new-token" {
		t.Errorf("Set-Cookie = %+v, want refreshed access token", cookies)
	}
}

func TestGate_PropagatesCookiesOnPassThrough(t *testing.T) {
	refreshed := []*http.Cookie{
		{Name: "sb-access-token", Value: "new-token", Path: "/", MaxAge: 3600},
		{Name: "sb-refresh-token", Value: "new-refresh", Path: "/", MaxAge: 86400},
	}
	g := New(defaultTable(t), authenticated(refreshed...), completed(model.KindPlayer), nil)

	req := httptest.NewRequest(http.MethodGet, "/dashboard", nil)
	req.AddCookie(&http.Cookie{Name: "sb-access-token", Value: "old-token"})
	req.AddCookie(&http.Cookie{Name: "theme", Value: "dark"})

	w, up := serve(t, g, req)
	assertPass(t, w, up)

	if got := len(w.Result().Cookies()); got != 2 {
		t.Errorf("Set-Cookie count = %d, want 2", got)
	}

	forwarded := map[string]string{}
	for _, c := range up.request.Cookies() {
		if _, dup := forwarded[c.Name]; dup {
			t.Errorf("cookie %s forwarded twice", c.Name)
		}
		forwarded[c.Name] = c.Value
	}
	want := map[string]string{"sb-access-token": "new-token", "sb-refresh-token": "new-refresh", "theme": "dark"}
	for name, value := range want {
		if forwarded[name] != value {
			t.Errorf("forwarded cookie %s = %q, want %q", name, forwarded[name], value)
		}
	}

	// 元のリクエストのヘッダーは変更しない
	if c, _ := req.Cookie("sb-access-token"); c == nil || c.Value != "old-token" {
		t.Error("original request cookies should not be mutated")
	}
}

func TestMergeRequestCookies_DropsDeletedCookies(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: "session_id", Value: "old"})
	req.AddCookie(&http.Cookie{Name: "keep", Value: "1"})

	mergeRequestCookies(req, []*http.Cookie{{Name: "session_id", MaxAge: -1}})

	if _, err := req.Cookie("session_id"); err == nil {
		t.Error("deleted cookie should be removed from the request")
	}
	if c, err := req.Cookie("keep"); err != nil || c.Value != "1" {
		t.Error("unrelated cookie should be kept")
	}
}

func TestGate_RecordsDecisionMetric(t *testing.T) {
	reg := prometheus.NewRegistry()
	g := New(defaultTable(t), anonymous(), &mockStatusResolver{}, metrics.NewCollector(reg))

	serve(t, g, httptest.NewRequest(http.MethodGet, "/dashboard", nil))

	families, _ := reg.Gather()
	for _, mf := range families {
		if mf.GetName() != "padelgate_gate_decisions_total" {
			continue
		}
		for _, m := range mf.GetMetric() {
			labels := map[string]string{}
			for _, lp := range m.GetLabel() {
				labels[lp.GetName()] = lp.GetValue()
			}
			if labels["rule"] == RuleAnonymousProtected && labels["action"] == "redirect" && m.GetCounter().GetValue() == 1 {
				return
			}
		}
	}
	t.Error("expected one anonymous_protected redirect decision to be recorded")
}

func TestGate_RedirectTargetsPassOnSecondApplication(t *testing.T) {
	tbl := defaultTable(t)
	resolvers := map[string]auth.SessionResolver{"anonymous": anonymous(), "authenticated": authenticated()}
	statuses := map[string]StatusResolver{"incomplete": &mockStatusResolver{}, "completed": completed(model.KindPlayer)}
	paths := []string{"/", "/login", "/dashboard", "/onboarding/select-role", "/profile", "/verify-email"}

	for rName, resolver := range resolvers {
		for sName, status := range statuses {
			g := New(tbl, resolver, status, nil)
			for _, p := range paths {
				w, _ := serve(t, g, httptest.NewRequest(http.MethodGet, p, nil))
				if w.Code != http.StatusFound {
					continue
				}
				location := w.Header().Get("Location")
				w2, up := serve(t, g, httptest.NewRequest(http.MethodGet, location, nil))
				if !up.called {
					t.Errorf("%s/%s: %s -> %s -> %s (loop)", rName, sName, p, location, w2.Header().Get("Location"))
				}
			}
		}
	}
}

// --- オンボーディング判定と組み合わせたシナリオ ---

func scenarioGate(t *testing.T, findFn func(ctx context.Context, kind model.ProfileKind, userID string) (*model.ProfileRecord, error)) *Gate {
	t.Helper()
	tbl := defaultTable(t)
	resolver := onboarding.NewResolver(&mockProfileRepo{findFn: findFn}, tbl.ProfileKinds, nil, nil)
	return New(tbl, authenticated(), resolver, nil)
}

func boolPtr(b bool) *bool { return &b }

func TestScenario_NoProfileRecords_OnboardingPage_Passes(t *testing.T) {
	g := scenarioGate(t, nil)
	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/onboarding/select-role", nil))
	assertPass(t, w, up)
}

func TestScenario_ClubFlagFalse_Dashboard_RedirectsToOnboarding(t *testing.T) {
	g := scenarioGate(t, func(_ context.Context, kind model.ProfileKind, userID string) (*model.ProfileRecord, error) {
		if kind.Table == "clubs" {
			return &model.ProfileRecord{UserID: userID, OnboardingComplete: boolPtr(false)}, nil
		}
		return nil, nil
	})
	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assertRedirect(t, w, up, "/onboarding/select-role")
}

func TestScenario_AcademiaExists_Login_RedirectsToDashboard(t *testing.T) {
	g := scenarioGate(t, func(_ context.Context, kind model.ProfileKind, userID string) (*model.ProfileRecord, error) {
		if kind.Table == "academias" {
			return &model.ProfileRecord{UserID: userID}, nil
		}
		return nil, nil
	})
	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/login", nil))
	assertRedirect(t, w, up, "/dashboard")
}

func TestScenario_PlayerCompleteAndBusinessIncomplete_ResolvesPlayer(t *testing.T) {
	tbl := defaultTable(t)
	repo := &mockProfileRepo{findFn: func(_ context.Context, kind model.ProfileKind, userID string) (*model.ProfileRecord, error) {
		switch kind.Table {
		case "players":
			return &model.ProfileRecord{UserID: userID, OnboardingComplete: boolPtr(true)}, nil
		case "clubs":
			return &model.ProfileRecord{UserID: userID, OnboardingComplete: boolPtr(false)}, nil
		}
		return nil, nil
	}}
	status, err := onboarding.NewResolver(repo, tbl.ProfileKinds, nil, nil).Resolve(context.Background(), testUserID)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !status.Completed || status.Kind != model.KindPlayer {
		t.Errorf("status = %+v, want completed player", status)
	}

	g := New(tbl, authenticated(), onboarding.NewResolver(repo, tbl.ProfileKinds, nil, nil), nil)
	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assertPass(t, w, up)
}

func TestScenario_AllLookupsFail_ProtectedRedirectsToOnboarding(t *testing.T) {
	g := scenarioGate(t, func(context.Context, model.ProfileKind, string) (*model.ProfileRecord, error) {
		return nil, errors.New("connection reset by peer")
	})
	w, up := serve(t, g, httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	assertRedirect(t, w, up, "/onboarding/select-role")
	if w.Code >= 500 {
		t.Errorf("lookup failures must not surface as %d", w.Code)
	}
}
