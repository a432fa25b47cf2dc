package telegram

import (
	"strings"
	"unicode/utf16"
)

// Update is one incoming Bot API update. Only the kinds the bot handles are decoded.
type Update struct {
	UpdateID      int64          `json:"update_id"`
	Message       *Message       `json:"message,omitempty"`
	CallbackQuery *CallbackQuery `json:"callback_query,omitempty"`
}

// ChatID returns the chat the update belongs to, or 0.
func (u *Update) ChatID() int64 {
	switch {
	case u.Message != nil && u.Message.Chat != nil:
		return u.Message.Chat.ID
	case u.CallbackQuery != nil && u.CallbackQuery.Message != nil && u.CallbackQuery.Message.Chat != nil:
		return u.CallbackQuery.Message.Chat.ID
	}
	return 0
}

type Message struct {
	MessageID int64    `json:"message_id"`
	Date      int64    `json:"date,omitempty"`
	Chat      *Chat    `json:"chat,omitempty"`
	From      *User    `json:"from,omitempty"`
	Entities  []Entity `json:"entities,omitempty"`
	Text      string   `json:"text,omitempty"`
}

// Chat types.
const (
	ChatPrivate    = "private"
	ChatGroup      = "group"
	ChatSupergroup = "supergroup"
	ChatChannel    = "channel"
)

type Chat struct {
	ID   int64  `json:"id"`
	Type string `json:"type,omitempty"`
}

// IsGroup reports whether the chat is a group or supergroup.
func (c *Chat) IsGroup() bool {
	return c != nil && (c.Type == ChatGroup || c.Type == ChatSupergroup)
}

type User struct {
	ID        int64  `json:"id"`
	IsBot     bool   `json:"is_bot,omitempty"`
	Username  string `json:"username,omitempty"`
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
}

// Entity types used by the bot.
const (
	EntityBotCommand  = "bot_command"
	EntityMention     = "mention"
	EntityTextMention = "text_mention"
)

// Entity marks a span of Message.Text. Offsets are in UTF-16 code units.
type Entity struct {
	Type   string `json:"type"`
	Offset int    `json:"offset"`
	Length int    `json:"length"`
	User   *User  `json:"user,omitempty"`
}

type CallbackQuery struct {
	ID      string   `json:"id"`
	From    *User    `json:"from,omitempty"`
	Message *Message `json:"message,omitempty"`
	Data    string   `json:"data,omitempty"`
}

type InlineKeyboardButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data,omitempty"`
}

type InlineKeyboardMarkup struct {
	InlineKeyboard [][]InlineKeyboardButton `json:"inline_keyboard"`
}

// EntityText returns the part of text covered by e.
func EntityText(text string, e Entity) string {
	units := utf16.Encode([]rune(text))
	start, end := e.Offset, e.Offset+e.Length
	if start < 0 || end > len(units) || start > end {
		return ""
	}
	return string(utf16.Decode(units[start:end]))
}

// Command splits a "/name@bot args" message into name and args. ok is false
// unless the message starts with a bot_command entity. A command addressed to
// a different bot is not ours.
func (m *Message) Command(botUsername string) (name, args string, ok bool) {
	if m == nil || len(m.Entities) == 0 {
		return "", "", false
	}
	e := m.Entities[0]
	if e.Type != EntityBotCommand || e.Offset != 0 {
		return "", "", false
	}
	raw := EntityText(m.Text, e)
	name = strings.TrimPrefix(raw, "/")
	if cmd, target, found := strings.Cut(name, "@"); found {
		if botUsername != "" && !strings.EqualFold(target, strings.TrimPrefix(botUsername, "@")) {
			return "", "", false
		}
		name = cmd
	}
	args = strings.TrimSpace(strings.TrimPrefix(m.Text, raw))
	return strings.ToLower(name), args, true
}

// Mentions reports whether text contains @username.
func Mentions(text, username string) bool {
	username = strings.TrimPrefix(strings.TrimSpace(username), "@")
	if username == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), "@"+strings.ToLower(username))
}
