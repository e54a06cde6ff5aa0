package service

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dukkani/dukkani/internal/core/domain"
	"github.com/dukkani/dukkani/internal/metrics"
	"github.com/dukkani/dukkani/internal/port"
	"github.com/dukkani/dukkani/internal/telegram"
)

const (
	linkTokenTTL          = 10 * time.Minute
	disconnectConfirmTTL  = 5 * time.Minute
	pendingOrdersListSize = 10

	linkKeyPrefix       = "link:"
	disconnectKeyPrefix = "disconnect:"

	shipAction = "ship"
)

const (
	msgGenericError = "Something went wrong. Please try again later."
	msgNotLinked    = "This chat is not linked to a Dukkani account. Open your dashboard and use \"Connect Telegram\" to link it."
	msgWelcome      = "Welcome to Dukkani! Link this chat from your dashboard to receive new order notifications."
	msgLinked       = "Your Telegram account is now linked. New orders will be sent here."
	msgHelp         = "Available commands:\n" +
		"/stores - list your stores\n" +
		"/orders - show recent pending orders\n" +
		"/disconnect - unlink this chat\n" +
		"/help - show this message"
)

// CommandHandler handles one bot command. msg is never nil.
type CommandHandler func(ctx context.Context, msg *telegram.Message, args []string) error

type telegramRepository interface {
	port.UserRepository
	port.StoreRepository
	port.OrderRepository
}

type LinkToken struct {
	Token     string
	URL       string
	ExpiresAt time.Time
}

type TelegramStatus struct {
	Linked bool
	ChatID *int64
}

// TelegramService dispatches webhook updates and manages chat linking.
type TelegramService struct {
	db          telegramRepository
	orders      *OrderService
	state       port.ExpiringStore
	sender      port.TelegramSender
	botUsername string
	metrics     *metrics.Metrics
	log         zerolog.Logger
	now         func() time.Time
	commands    map[string]CommandHandler
}

type TelegramOption func(*TelegramService)

func WithBotUsername(name string) TelegramOption {
	return func(s *TelegramService) { s.botUsername = strings.TrimPrefix(name, "@") }
}

func WithTelegramMetrics(m *metrics.Metrics) TelegramOption {
	return func(s *TelegramService) { s.metrics = m }
}

func WithTelegramLogger(log zerolog.Logger) TelegramOption {
	return func(s *TelegramService) { s.log = log }
}

// WithCommand registers or replaces the handler for a command name
// (without the leading slash).
func WithCommand(name string, h CommandHandler) TelegramOption {
	return func(s *TelegramService) { s.commands[strings.ToLower(name)] = h }
}

func NewTelegramService(db telegramRepository, orders *OrderService, state port.ExpiringStore, sender port.TelegramSender, opts ...TelegramOption) *TelegramService {
	s := &TelegramService{
		db:     db,
		orders: orders,
		state:  state,
		sender: sender,
		log:    zerolog.Nop(),
		now:    time.Now,
	}
	s.commands = map[string]CommandHandler{
		"start":      s.handleStart,
		"help":       s.handleHelp,
		"stores":     s.handleStores,
		"orders":     s.handleOrders,
		"disconnect": s.handleDisconnect,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ProcessWebhookUpdate handles one raw update. It never fails: errors and
// panics are logged and, where a chat is known, answered with a generic
// message.
func (s *TelegramService) ProcessWebhookUpdate(ctx context.Context, payload []byte) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error().Interface("panic", r).Msg("telegram update panicked")
		}
	}()

	update, err := telegram.DecodeUpdate(payload)
	if err != nil {
		s.metrics.TelegramUpdate("malformed")
		s.log.Warn().Err(err).Msg("malformed telegram update")
		return
	}

	switch {
	case update.CallbackQuery != nil:
		s.metrics.TelegramUpdate("callback")
		cq := update.CallbackQuery
		s.dispatch(ctx, cq.ChatID(), func() error { return s.handleCallback(ctx, cq) })

	case update.Message != nil && update.Message.Text != "":
		msg := update.Message
		if command, args, ok := telegram.ParseCommand(msg.Text); ok {
			s.metrics.TelegramUpdate("command")
			h, known := s.commands[command]
			if !known {
				return
			}
			s.dispatch(ctx, msg.Chat.ID, func() error { return h(ctx, msg, args) })
			return
		}
		s.metrics.TelegramUpdate("text")
		s.dispatch(ctx, msg.Chat.ID, func() error { return s.handleText(ctx, msg) })

	default:
		s.metrics.TelegramUpdate("ignored")
	}
}

// dispatch runs fn and reports its failure to the chat. A failure to send
// that report is logged and dropped.
func (s *TelegramService) dispatch(ctx context.Context, chatID int64, fn func() error) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("handler panic: %v", r)
			}
		}()
		return fn()
	}()
	if err == nil {
		return
	}

	s.log.Error().Err(err).Int64("chat_id", chatID).Msg("telegram handler failed")
	if chatID == 0 {
		return
	}
	if sendErr := s.sender.SendMessage(ctx, telegram.OutgoingMessage{ChatID: chatID, Text: msgGenericError}); sendErr != nil {
		s.metrics.TelegramSendFailed()
		s.log.Warn().Err(sendErr).Int64("chat_id", chatID).Msg("failed to send error message")
	}
}

func (s *TelegramService) reply(ctx context.Context, chatID int64, text string) error {
	return s.sender.SendMessage(ctx, telegram.OutgoingMessage{ChatID: chatID, Text: text})
}

// linkedUser returns the account linked to chatID, or nil.
func (s *TelegramService) linkedUser(ctx context.Context, chatID int64) (*domain.User, error) {
	u, err := s.db.GetUserByTelegramChat(ctx, chatID)
	if err != nil {
		return nil, fmt.Errorf("load linked user: %w", err)
	}
	return u, nil
}

func (s *TelegramService) handleStart(ctx context.Context, msg *telegram.Message, args []string) error {
	chatID := msg.Chat.ID
	if len(args) == 0 {
		return s.reply(ctx, chatID, msgWelcome)
	}

	value, ok, err := s.state.Take(ctx, linkKeyPrefix+args[0])
	if err != nil {
		return fmt.Errorf("take link token: %w", err)
	}
	if !ok {
		return s.reply(ctx, chatID, msgWelcome)
	}

	userID := string(value)
	if err := s.db.SetUserTelegramChat(ctx, userID, &chatID); err != nil {
		return fmt.Errorf("link chat: %w", err)
	}
	s.log.Info().Str("user_id", userID).Int64("chat_id", chatID).Msg("telegram chat linked")
	return s.reply(ctx, chatID, msgLinked)
}

func (s *TelegramService) handleHelp(ctx context.Context, msg *telegram.Message, _ []string) error {
	return s.reply(ctx, msg.Chat.ID, msgHelp)
}

func (s *TelegramService) handleStores(ctx context.Context, msg *telegram.Message, _ []string) error {
	user, err := s.linkedUser(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	if user == nil {
		return s.reply(ctx, msg.Chat.ID, msgNotLinked)
	}

	stores, err := s.db.ListStoresByOwner(ctx, user.ID)
	if err != nil {
		return err
	}
	if len(stores) == 0 {
		return s.reply(ctx, msg.Chat.ID, "You have no stores yet.")
	}

	var b strings.Builder
	b.WriteString("Your stores:\n")
	for _, st := range stores {
		fmt.Fprintf(&b, "- %s (%s)\n", st.Name, st.Slug)
	}
	return s.reply(ctx, msg.Chat.ID, strings.TrimRight(b.String(), "\n"))
}

func (s *TelegramService) handleOrders(ctx context.Context, msg *telegram.Message, _ []string) error {
	user, err := s.linkedUser(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	if user == nil {
		return s.reply(ctx, msg.Chat.ID, msgNotLinked)
	}

	stores, err := s.db.ListStoresByOwner(ctx, user.ID)
	if err != nil {
		return err
	}

	var pending []domain.Order
	for _, st := range stores {
		orders, err := s.db.ListOrders(ctx, st.ID)
		if err != nil {
			return err
		}
		for _, o := range orders {
			if o.Status == domain.OrderStatusPending {
				pending = append(pending, o)
			}
		}
	}
	if len(pending) == 0 {
		return s.reply(ctx, msg.Chat.ID, "No pending orders.")
	}

	sort.Slice(pending, func(i, j int) bool { return pending[i].CreatedAt.After(pending[j].CreatedAt) })
	if len(pending) > pendingOrdersListSize {
		pending = pending[:pendingOrdersListSize]
	}

	var b strings.Builder
	b.WriteString("Pending orders:\n")
	keyboard := make([][]telegram.InlineKeyboardButton, 0, len(pending))
	for _, o := range pending {
		fmt.Fprintf(&b, "- #%s %s, %s, total %s\n", shortID(o.ID), o.CustomerName, o.CustomerPhone, o.Total().StringFixed(2))
		keyboard = append(keyboard, []telegram.InlineKeyboardButton{{
			Text:         "Ship #" + shortID(o.ID),
			CallbackData: telegram.CallbackData(shipAction, o.ID),
		}})
	}

	return s.sender.SendMessage(ctx, telegram.OutgoingMessage{
		ChatID:      msg.Chat.ID,
		Text:        strings.TrimRight(b.String(), "\n"),
		ReplyMarkup: &telegram.InlineKeyboardMarkup{InlineKeyboard: keyboard},
	})
}

func (s *TelegramService) handleDisconnect(ctx context.Context, msg *telegram.Message, _ []string) error {
	user, err := s.linkedUser(ctx, msg.Chat.ID)
	if err != nil {
		return err
	}
	if user == nil {
		return s.reply(ctx, msg.Chat.ID, msgNotLinked)
	}

	key := disconnectKeyPrefix + strconv.FormatInt(msg.Chat.ID, 10)
	if err := s.state.Put(ctx, key, []byte(user.ID), disconnectConfirmTTL); err != nil {
		return fmt.Errorf("store disconnect confirmation: %w", err)
	}
	return s.reply(ctx, msg.Chat.ID,
		"To confirm, reply with the name of one of your stores. This request expires in 5 minutes.")
}

// handleText treats a plain message as the answer to a pending disconnect
// confirmation. The confirmation is consumed whatever the answer.
func (s *TelegramService) handleText(ctx context.Context, msg *telegram.Message) error {
	key := disconnectKeyPrefix + strconv.FormatInt(msg.Chat.ID, 10)
	value, ok, err := s.state.Take(ctx, key)
	if err != nil {
		return fmt.Errorf("take disconnect confirmation: %w", err)
	}
	if !ok {
		return nil
	}

	userID := string(value)
	stores, err := s.db.ListStoresByOwner(ctx, userID)
	if err != nil {
		return err
	}

	answer := strings.TrimSpace(msg.Text)
	for _, st := range stores {
		if strings.EqualFold(strings.TrimSpace(st.Name), answer) {
			if err := s.db.SetUserTelegramChat(ctx, userID, nil); err != nil {
				return fmt.Errorf("unlink chat: %w", err)
			}
			s.log.Info().Str("user_id", userID).Int64("chat_id", msg.Chat.ID).Msg("telegram chat unlinked")
			return s.reply(ctx, msg.Chat.ID, "This chat has been disconnected from your Dukkani account.")
		}
	}
	return s.reply(ctx, msg.Chat.ID, "Store name did not match. Disconnect cancelled.")
}

func (s *TelegramService) handleCallback(ctx context.Context, cq *telegram.CallbackQuery) error {
	action, args := telegram.ParseCallbackData(cq.Data)
	if action != shipAction || len(args) != 1 || args[0] == "" {
		return nil
	}
	orderID := args[0]

	// Buttons may be pressed in a shared chat; the presser is the actor.
	user, err := s.linkedUser(ctx, cq.From.ID)
	if err != nil {
		return err
	}
	if user == nil {
		return s.sender.AnswerCallbackQuery(ctx, cq.ID, "Link your account first.")
	}

	_, err = s.orders.UpdateOrderStatus(ctx, orderID, domain.OrderStatusShipped, user.ID)
	switch {
	case domain.IsNotFound(err):
		return s.sender.AnswerCallbackQuery(ctx, cq.ID, "Order not found.")
	case domain.IsForbidden(err):
		return s.sender.AnswerCallbackQuery(ctx, cq.ID, "You cannot update this order.")
	case err != nil:
		return err
	}

	if err := s.sender.AnswerCallbackQuery(ctx, cq.ID, "Marked as shipped."); err != nil {
		return err
	}
	return s.reply(ctx, cq.ChatID(), fmt.Sprintf("Order #%s marked as shipped.", shortID(orderID)))
}

// CreateLinkToken issues a one-time token that links the chat which sends
// "/start <token>" to userID.
func (s *TelegramService) CreateLinkToken(ctx context.Context, userID string) (*LinkToken, error) {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return nil, err
	}

	token := strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := s.state.Put(ctx, linkKeyPrefix+token, []byte(userID), linkTokenTTL); err != nil {
		return nil, fmt.Errorf("store link token: %w", err)
	}

	lt := &LinkToken{Token: token, ExpiresAt: s.now().UTC().Add(linkTokenTTL)}
	if s.botUsername != "" {
		lt.URL = fmt.Sprintf("https://t.me/%s?start=%s", s.botUsername, token)
	}
	return lt, nil
}

func (s *TelegramService) Unlink(ctx context.Context, userID string) error {
	if _, err := s.requireUser(ctx, userID); err != nil {
		return err
	}
	return s.db.SetUserTelegramChat(ctx, userID, nil)
}

func (s *TelegramService) Status(ctx context.Context, userID string) (*TelegramStatus, error) {
	u, err := s.requireUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	return &TelegramStatus{Linked: u.TelegramLinked(), ChatID: u.TelegramChatID}, nil
}

func (s *TelegramService) requireUser(ctx context.Context, userID string) (*domain.User, error) {
	if userID == "" {
		return nil, domain.ErrUnauthenticated
	}
	u, err := s.db.GetUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if u == nil {
		return nil, domain.NewNotFoundError("user", userID)
	}
	return u, nil
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
