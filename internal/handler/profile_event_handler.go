package handler

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/google/uuid"
	"github.com/hitoshi/padelgate/internal/middleware"
	"github.com/hitoshi/padelgate/internal/model"
)

const (
	// WebhookSecretHeader は共有シークレットを載せるヘッダー名。
	WebhookSecretHeader = "X-Webhook-Secret"

	maxProfileEventBody = 4 << 10
)

// StatusInvalidator はオンボーディング状態キャッシュの無効化インターフェース。
// onboarding.Resolver が実装する。
type StatusInvalidator interface {
	Invalidate(ctx context.Context, userID, source string) error
}

// ProfileEventHandler はプロフィール変更通知を受け取り、キャッシュを無効化する。
type ProfileEventHandler struct {
	invalidator StatusInvalidator
	secret      []byte
}

// NewProfileEventHandler はProfileEventHandlerを生成する。
func NewProfileEventHandler(invalidator StatusInvalidator, secret string) *ProfileEventHandler {
	return &ProfileEventHandler{
		invalidator: invalidator,
		secret:      []byte(secret),
	}
}

type profileEventRequest struct {
	UserID string `json:"user_id"`
}

// Handle はプロフィール変更イベントを受け付ける。
// POST /internal/profile-events
func (h *ProfileEventHandler) Handle(w http.ResponseWriter, r *http.Request) {
	given := []byte(r.Header.Get(WebhookSecretHeader))
	if len(h.secret) == 0 || subtle.ConstantTimeCompare(given, h.secret) != 1 {
		middleware.WriteErrorResponse(w, http.StatusUnauthorized, model.NewInvalidWebhookSecretError())
		return
	}

	var req profileEventRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxProfileEventBody))
	if err := dec.Decode(&req); err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidPayloadError(err.Error()))
		return
	}

	id, err := uuid.Parse(req.UserID)
	if err != nil {
		middleware.WriteErrorResponse(w, http.StatusBadRequest, model.NewInvalidUserIDError(req.UserID))
		return
	}
	userID := id.String()
	middleware.RecordUserID(r.Context(), userID)

	if err := h.invalidator.Invalidate(r.Context(), userID, "webhook"); err != nil {
		slog.Error("failed to invalidate onboarding status",
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		middleware.WriteInternalServerError(w)
		return
	}

	w.WriteHeader(http.StatusAccepted)
}
