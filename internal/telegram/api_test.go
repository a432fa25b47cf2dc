package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
)

type recorded struct {
	method string
	body   map[string]any
}

// fakeAPI answers Bot API calls with per-method handlers and records requests.
type fakeAPI struct {
	mu       sync.Mutex
	calls    []recorded
	handlers map[string]func(body map[string]any) (int, string)
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	parts := strings.Split(r.URL.Path, "/")
	method := parts[len(parts)-1]
	var body map[string]any
	_ = json.NewDecoder(r.Body).Decode(&body)

	f.mu.Lock()
	f.calls = append(f.calls, recorded{method: method, body: body})
	h := f.handlers[method]
	f.mu.Unlock()

	status, resp := http.StatusOK, `{"ok":true,"result":true}`
	if h != nil {
		status, resp = h(body)
	}
	w.WriteHeader(status)
	w.Write([]byte(resp))
}

func (f *fakeAPI) Calls() []recorded {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recorded(nil), f.calls...)
}

func newTestClient(t *testing.T, f *fakeAPI) *Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := NewClient("123:abc", WithBaseURL(srv.URL), WithSendRate(1000, 100))
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	return c
}

func TestNewClientRequiresToken(t *testing.T) {
	if _, err := NewClient(" "); err == nil {
		t.Error("expected error for empty token")
	}
}

func TestGetMe(t *testing.T) {
	f := &fakeAPI{handlers: map[string]func(map[string]any) (int, string){
		"getMe": func(map[string]any) (int, string) {
			return 200, `{"ok":true,"result":{"id":42,"is_bot":true,"username":"soul_ai_bot"}}`
		},
	}}
	me, err := newTestClient(t, f).GetMe(context.Background())
	if err != nil {
		t.Fatalf("GetMe: %v", err)
	}
	if me.ID != 42 || me.Username != "soul_ai_bot" {
		t.Errorf("me = %+v", me)
	}
}

func TestGetUpdatesAdvancesOffset(t *testing.T) {
	f := &fakeAPI{handlers: map[string]func(map[string]any) (int, string){
		"getUpdates": func(map[string]any) (int, string) {
			return 200, `{"ok":true,"result":[
				{"update_id":10,"message":{"message_id":1,"chat":{"id":5,"type":"private"},"text":"hi"}},
				{"update_id":11,"callback_query":{"id":"cb","data":"help","message":{"message_id":2,"chat":{"id":5}}}}
			]}`
		},
	}}
	updates, next, err := newTestClient(t, f).GetUpdates(context.Background(), 7, time.Second)
	if err != nil {
		t.Fatalf("GetUpdates: %v", err)
	}
	if len(updates) != 2 || next != 12 {
		t.Fatalf("got %d updates, next %d", len(updates), next)
	}
	if updates[1].ChatID() != 5 || updates[1].CallbackQuery.Data != "help" {
		t.Errorf("callback update = %+v", updates[1])
	}
	if got := f.Calls()[0].body["offset"]; got != float64(7) {
		t.Errorf("offset sent = %v", got)
	}
}

func TestRequestError(t *testing.T) {
	f := &fakeAPI{handlers: map[string]func(map[string]any) (int, string){
		"sendChatAction": func(map[string]any) (int, string) {
			return 403, `{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`
		},
	}}
	err := newTestClient(t, f).SendChatAction(context.Background(), 1, ActionTyping)
	var reqErr *RequestError
	if !errors.As(err, &reqErr) {
		t.Fatalf("err = %v, want RequestError", err)
	}
	if reqErr.ErrorCode != 403 || !strings.Contains(reqErr.Error(), "blocked") {
		t.Errorf("reqErr = %v", reqErr)
	}
	if strings.Contains(reqErr.Error(), "123:abc") {
		t.Error("token leaked into error")
	}
}

func TestSendMarkdownV2FallsBack(t *testing.T) {
	f := &fakeAPI{handlers: map[string]func(map[string]any) (int, string){
		"sendMessage": func(body map[string]any) (int, string) {
			if body["parse_mode"] == ParseModeMarkdownV2 {
				return 400, `{"ok":false,"error_code":400,"description":"Bad Request: can't parse entities: unexpected end"}`
			}
			return 200, `{"ok":true,"result":{"message_id":1}}`
		},
	}}
	if err := newTestClient(t, f).SendMarkdownV2(context.Background(), 1, "*broken", nil); err != nil {
		t.Fatalf("SendMarkdownV2: %v", err)
	}
	calls := f.Calls()
	if len(calls) != 3 {
		t.Fatalf("calls = %d, want 3", len(calls))
	}
	if calls[1].body["text"] != `\*broken` {
		t.Errorf("escaped retry text = %v", calls[1].body["text"])
	}
	if _, ok := calls[2].body["parse_mode"]; ok || calls[2].body["text"] != "*broken" {
		t.Errorf("plain fallback = %v", calls[2].body)
	}
}

func TestSendMarkdownV2OtherErrorsAreReturned(t *testing.T) {
	f := &fakeAPI{handlers: map[string]func(map[string]any) (int, string){
		"sendMessage": func(map[string]any) (int, string) {
			return 400, `{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`
		},
	}}
	if err := newTestClient(t, f).SendMarkdownV2(context.Background(), 1, "hi", nil); err == nil {
		t.Fatal("expected error")
	}
	if n := len(f.Calls()); n != 1 {
		t.Errorf("calls = %d, want 1", n)
	}
}

func TestSendMessageWithKeyboard(t *testing.T) {
	f := &fakeAPI{}
	markup := &InlineKeyboardMarkup{InlineKeyboard: [][]InlineKeyboardButton{{{Text: "gpt-4", CallbackData: "gpt-4"}}}}
	if err := newTestClient(t, f).SendMessage(context.Background(), 9, "pick", markup); err != nil {
		t.Fatalf("SendMessage: %v", err)
	}
	body := f.Calls()[0].body
	rm, ok := body["reply_markup"].(map[string]any)
	if !ok {
		t.Fatalf("reply_markup missing: %v", body)
	}
	rows := rm["inline_keyboard"].([]any)
	if len(rows) != 1 {
		t.Errorf("rows = %v", rows)
	}
}

func TestSetWebhook(t *testing.T) {
	f := &fakeAPI{}
	if err := newTestClient(t, f).SetWebhook(context.Background(), "https://bot.example/webhook", "s3cret"); err != nil {
		t.Fatalf("SetWebhook: %v", err)
	}
	body := f.Calls()[0].body
	if body["url"] != "https://bot.example/webhook" || body["secret_token"] != "s3cret" {
		t.Errorf("body = %v", body)
	}
}

func TestCommand(t *testing.T) {
	cmd := func(text string) *Message {
		end := strings.IndexByte(text, ' ')
		if end < 0 {
			end = len(text)
		}
		return &Message{Text: text, Entities: []Entity{{Type: EntityBotCommand, Offset: 0, Length: end}}}
	}
	tests := []struct {
		msg    *Message
		name   string
		args   string
		wantOK bool
	}{
		{cmd("/start"), "start", "", true},
		{cmd("/set_max_tokens 800"), "set_max_tokens", "800", true},
		{cmd("/Help@soul_ai_bot"), "help", "", true},
		{cmd("/help@other_bot"), "", "", false},
		{&Message{Text: "hello /start"}, "", "", false},
	}
	for _, tt := range tests {
		name, args, ok := tt.msg.Command("@soul_ai_bot")
		if ok != tt.wantOK || name != tt.name || args != tt.args {
			t.Errorf("Command(%q) = %q, %q, %v", tt.msg.Text, name, args, ok)
		}
	}
}

func TestEntityTextUsesUTF16Offsets(t *testing.T) {
	text := "😀 hi @bob"
	// the emoji is two UTF-16 units
	e := Entity{Type: EntityMention, Offset: 6, Length: 4}
	if got := EntityText(text, e); got != "@bob" {
		t.Errorf("EntityText = %q", got)
	}
	if got := EntityText(text, Entity{Offset: 8, Length: 10}); got != "" {
		t.Errorf("out of range = %q", got)
	}
}

func TestMentions(t *testing.T) {
	if !Mentions("hey @Soul_AI_Bot what's up", "soul_ai_bot") {
		t.Error("expected mention")
	}
	if Mentions("hey there", "soul_ai_bot") || Mentions("@x", "") {
		t.Error("unexpected mention")
	}
}

func TestEscapeMarkdownV2(t *testing.T) {
	if got := EscapeMarkdownV2("1.5 (a_b)!"); got != `1\.5 \(a\_b\)\!` {
		t.Errorf("EscapeMarkdownV2 = %q", got)
	}
}
