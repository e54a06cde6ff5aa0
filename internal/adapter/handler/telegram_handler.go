package handler

import (
	"crypto/subtle"
	"io"
	"net/http"
)

const telegramSecretHeader = "X-Telegram-Bot-Api-Secret-Token"

func (h *HTTPHandler) CreateTelegramLink(w http.ResponseWriter, r *http.Request) {
	token, err := h.svc.Telegram.CreateLinkToken(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusCreated, LinkResponse{
		Token:     token.Token,
		URL:       token.URL,
		ExpiresAt: formatTime(token.ExpiresAt),
	})
}

func (h *HTTPHandler) DeleteTelegramLink(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Telegram.Unlink(r.Context(), userID(r)); err != nil {
		writeError(w, h.log, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTPHandler) TelegramStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.svc.Telegram.Status(r.Context(), userID(r))
	if err != nil {
		writeError(w, h.log, err)
		return
	}
	writeJSON(w, http.StatusOK, TelegramStatusResponse{Linked: status.Linked, ChatID: status.ChatID})
}

// TelegramWebhook acknowledges every authenticated update with 200 so the
// Bot API never retries; processing failures stay internal.
func (h *HTTPHandler) TelegramWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret != "" {
		got := r.Header.Get(telegramSecretHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(h.webhookSecret)) != 1 {
			writeJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthenticated", Message: "invalid webhook secret"})
			return
		}
	}

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.log.Warn().Err(err).Msg("failed to read telegram update")
	} else {
		h.svc.Telegram.ProcessWebhookUpdate(r.Context(), payload)
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
