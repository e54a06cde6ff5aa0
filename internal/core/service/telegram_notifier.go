package service

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/metrics"
	"github.com/dukkani/dukkani/internal/port"
	"github.com/dukkani/dukkani/internal/telegram"
)

const notifyTimeout = 10 * time.Second

type notifierRepository interface {
	GetUser(ctx context.Context, id string) (*domain.User, error)
	GetStore(ctx context.Context, id string) (*domain.Store, error)
}

// TelegramNotifier tells store owners about new orders. Orders are queued
// and delivered by a fixed set of workers; when the queue is full the
// notification is dropped.
type TelegramNotifier struct {
	db      notifierRepository
	sender  port.TelegramSender
	workers int
	queue   chan domain.Order
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	metrics *metrics.Metrics
	log     zerolog.Logger
}

var _ port.OrderNotifier = (*TelegramNotifier)(nil)

func NewTelegramNotifier(db notifierRepository, sender port.TelegramSender, workers, queueSize int, m *metrics.Metrics, log zerolog.Logger) *TelegramNotifier {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 100
	}
	return &TelegramNotifier{
		db:      db,
		sender:  sender,
		workers: workers,
		queue:   make(chan domain.Order, queueSize),
		metrics: m,
		log:     log,
	}
}

func (n *TelegramNotifier) Start() {
	for i := 0; i < n.workers; i++ {
		n.wg.Add(1)
		go func(id int) {
			defer n.wg.Done()
			n.workerLoop(id)
		}(i)
	}
}

// OrderCreated enqueues the order without blocking.
func (n *TelegramNotifier) OrderCreated(_ context.Context, order domain.Order) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		return
	}

	select {
	case n.queue <- order:
	default:
		n.log.Warn().Str("order_id", order.ID).Msg("notification queue full, dropping")
	}
}

// Close stops accepting orders and waits for queued ones to be delivered.
func (n *TelegramNotifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	close(n.queue)
	n.mu.Unlock()

	n.wg.Wait()
}

func (n *TelegramNotifier) workerLoop(id int) {
	log := n.log.With().Int("worker", id).Logger()
	for order := range n.queue {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		if err := n.deliver(ctx, order); err != nil {
			n.metrics.TelegramSendFailed()
			log.Warn().Err(err).Str("order_id", order.ID).Msg("order notification failed")
		}
		cancel()
	}
}

func (n *TelegramNotifier) deliver(ctx context.Context, order domain.Order) error {
	store := order.Store
	if store == nil {
		s, err := n.db.GetStore(ctx, order.StoreID)
		if err != nil {
			return fmt.Errorf("load store: %w", err)
		}
		if s == nil {
			return nil
		}
		store = s
	}

	owner, err := n.db.GetUser(ctx, store.OwnerID)
	if err != nil {
		return fmt.Errorf("load owner: %w", err)
	}
	if owner == nil || !owner.TelegramLinked() {
		return nil
	}

	return n.sender.SendMessage(ctx, telegram.OutgoingMessage{
		ChatID: *owner.TelegramChatID,
		Text:   formatOrderNotification(*store, order),
		ReplyMarkup: &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{{
			{Text: "Mark as shipped", CallbackData: telegram.CallbackData(shipAction, order.ID)},
		}}},
	})
}

func formatOrderNotification(store domain.Store, order domain.Order) string {
	var b strings.Builder
	fmt.Fprintf(&b, "New order #%s in %s\n", shortID(order.ID), store.Name)
	fmt.Fprintf(&b, "Customer: %s (%s)\n", order.CustomerName, order.CustomerPhone)
	if order.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", order.Address)
	}
	units := 0
	for _, item := range order.Items {
		units += item.Quantity
	}
	fmt.Fprintf(&b, "Items: %d\n", units)
	fmt.Fprintf(&b, "Total: %s", order.Total().StringFixed(2))
	return b.String()
}
