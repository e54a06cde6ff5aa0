package port

import (
	"context"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/telegram"
)

// OrderNotifier is told about committed orders. Implementations must not
// block the caller on slow delivery.
type OrderNotifier interface {
	OrderCreated(ctx context.Context, order domain.Order)
}

type TelegramSender interface {
	SendMessage(ctx context.Context, msg telegram.OutgoingMessage) error
	AnswerCallbackQuery(ctx context.Context, callbackID, text string) error
}
