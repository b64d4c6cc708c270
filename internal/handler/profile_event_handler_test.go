package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/hitoshi/padelgate/internal/model"
)

const (
	testSecret = "s3cret"
	testUserID = "9a8b7c6d-5e4f-4a3b-8c2d-1e0f9a8b7c6d"
)

// --- モック定義 ---

// mockInvalidator はStatusInvalidatorのモック実装。
type mockInvalidator struct {
	invalidateFn func(ctx context.Context, userID, source string) error
	calls        []string
}

func (m *mockInvalidator) Invalidate(ctx context.Context, userID, source string) error {
	m.calls = append(m.calls, userID+"/"+source)
	if m.invalidateFn != nil {
		return m.invalidateFn(ctx, userID, source)
	}
	return nil
}

// --- ヘルパー ---

func newProfileEventRequest(body, secret string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/internal/profile-events", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(WebhookSecretHeader, secret)
	}
	return req
}

// parseAPIErrorResponse はレスポンスボディからエラーコードを取り出すヘルパー。
func parseAPIErrorResponse(t *testing.T, w *httptest.ResponseRecorder) map[string]string {
	t.Helper()
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error response: %v", err)
	}
	return body
}

// --- POST /internal/profile-events テスト ---

func TestProfileEventHandler_Success(t *testing.T) {
	inv := &mockInvalidator{}
	h := NewProfileEventHandler(inv, testSecret)

	w := httptest.NewRecorder()
	h.Handle(w, newProfileEventRequest(`{"user_id":"`+testUserID+`"}`, testSecret))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if len(inv.calls) != 1 || inv.calls[0] != testUserID+"/webhook" {
		t.Errorf("Invalidate calls = %v, want [%s/webhook]", inv.calls, testUserID)
	}
}

func TestProfileEventHandler_NormalizesUserID(t *testing.T) {
	inv := &mockInvalidator{}
	h := NewProfileEventHandler(inv, testSecret)

	w := httptest.NewRecorder()
	h.Handle(w, newProfileEventRequest(`{"user_id":"`+strings.ToUpper(testUserID)+`"}`, testSecret))

	if w.Code != http.StatusAccepted {
		t.Fatalf("status = %d, want %d", w.Code, http.StatusAccepted)
	}
	if inv.calls[0] != testUserID+"/webhook" {
		t.Errorf("user id should be normalized to lower case, got %s", inv.calls[0])
	}
}

func TestProfileEventHandler_Errors(t *testing.T) {
	tests := []struct {
		name       string
		secret     string
		configured string
		body       string
		wantStatus int
		wantCode   string
	}{
		{"missing secret", "", testSecret, `{"user_id":"` + testUserID + `"}`, http.StatusUnauthorized, model.ErrCodeInvalidWebhookSecret},
		{"wrong secret", "nope", testSecret, `{"user_id":"` + testUserID + `"}`, http.StatusUnauthorized, model.ErrCodeInvalidWebhookSecret},
		{"secret not configured", "anything", "", `{"user_id":"` + testUserID + `"}`, http.StatusUnauthorized, model.ErrCodeInvalidWebhookSecret},
		{"malformed json", testSecret, testSecret, `{"user_id":`, http.StatusBadRequest, model.ErrCodeInvalidPayload},
		{"body too large", testSecret, testSecret, `{"user_id":"` + strings.Repeat("a", 8<<10) + `"}`, http.StatusBadRequest, model.ErrCodeInvalidPayload},
		{"not a uuid", testSecret, testSecret, `{"user_id":"user-1"}`, http.StatusBadRequest, model.ErrCodeInvalidUserID},
		{"empty user id", testSecret, testSecret, `{}`, http.StatusBadRequest, model.ErrCodeInvalidUserID},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv := &mockInvalidator{}
			h := NewProfileEventHandler(inv, tt.configured)

			w := httptest.NewRecorder()
			h.Handle(w, newProfileEventRequest(tt.body, tt.secret))

			if w.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := parseAPIErrorResponse(t, w); body["code"] != tt.wantCode {
				t.Errorf("code = %q, want %q", body["code"], tt.wantCode)
			}
			if len(inv.calls) != 0 {
				t.Errorf("Invalidate should not be called, got %v", inv.calls)
			}
		})
	}
}

func TestProfileEventHandler_InvalidateFailure_Returns500(t *testing.T) {
	inv := &mockInvalidator{invalidateFn: func(context.Context, string, string) error {
		return errors.New("redis: connection refused")
	}}
	h := NewProfileEventHandler(inv, testSecret)

	w := httptest.NewRecorder()
	h.Handle(w, newProfileEventRequest(`{"user_id":"`+testUserID+`"}`, testSecret))

	if w.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want %d", w.Code, http.StatusInternalServerError)
	}
	if body := parseAPIErrorResponse(t, w); body["code"] != "INTERNAL_ERROR" {
		t.Errorf("code = %q, want INTERNAL_ERROR", body["code"])
	}
}
