// Package telegram holds the subset of the Bot API used by the webhook
// dispatcher and order notifications.
package telegram

import (
	"strings"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

type Message struct {
	MessageID int64  `json:"message_id"`
	From      *User  `json:"from,omitempty"`
	Chat      Chat   `json:"chat"`
	Date      int64  `json:"date"`
	Text      string `json:"text,omitempty"`
}

type Chat struct {
	ID       int64  `json:"id"`
	Type     string `json:"type,omitempty"`
	Username string `json:"username,omitempty"`
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	Username  string `json:"username,omitempty"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    User     `json:"from"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

// ChatID returns the chat the callback button was pressed in, falling back
// to the sender's private chat.
func (q CallbackQuery) ChatID() int64 {
	if q.Message != nil {
		return q.Message.Chat.ID
	}
	return q.From.ID
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
	URL          string `json:"url,omitempty"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

type OutgoingMessage struct {
	ChatID      int64                 `json:"chat_id"`
	Text        string                `json:"text"`
	ParseMode   string                `json:"parse_mode,omitempty"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

func DecodeUpdate(payload []byte) (Update, error) {
	var u Update
	err := json.Unmarshal(payload, &u)
	return u, err
}

// ParseCommand splits "/Cmd@bot a b" into ("cmd", ["a", "b"]).
// ok is false when text is not a command.
func ParseCommand(text string) (command string, args []string, ok bool) {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return "", nil, false
	}
	command = strings.ToLower(strings.TrimPrefix(fields[0], "/"))
	if at := strings.IndexByte(command, '@'); at >= 0 {
		command = command[:at]
	}
	if command == "" {
		return "", nil, false
	}
	return command, fields[1:], true
}

// ParseCallbackData splits "action_arg1_arg2" on underscores.
func ParseCallbackData(data string) (action string, args []string) {
	parts := strings.Split(data, "_")
	return parts[0], parts[1:]
}

// CallbackData is the inverse of ParseCallbackData.
func CallbackData(action string, args ...string) string {
	return strings.Join(append([]string{action}, args...), "_")
}
