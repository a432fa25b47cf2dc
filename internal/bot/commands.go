package bot

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/UltimateSoul/soul-ai-bot/internal/conversation"
	"github.com/UltimateSoul/soul-ai-bot/internal/db"
	"github.com/UltimateSoul/soul-ai-bot/internal/models"
	"github.com/UltimateSoul/soul-ai-bot/internal/telegram"
)

// request is a command invocation. msg is nil when it came from a button.
type request struct {
	chatID int64
	from   *telegram.User
	args   string
	msg    *telegram.Message
}

// runCommand executes a known command and reports whether name was one.
func (b *Bot) runCommand(ctx context.Context, req request, name string) bool {
	var handler func(context.Context, request)
	switch name {
	case CmdStart:
		handler = b.start
	case CmdHelp:
		handler = b.help
	case CmdGetBalance:
		handler = b.getBalance
	case CmdGetTokenUsage:
		handler = b.getTokenUsage
	case CmdGetTokensForMessage:
		handler = b.getTokensForMessage
	case CmdSetMaxTokens:
		handler = b.setMaxTokens
	case CmdSetTemperature:
		handler = b.setTemperature
	case CmdSetModel:
		handler = b.setModel
	case CmdSetSystemMessage:
		handler = b.setSystemMessage
	case CmdGetSystemMessage:
		handler = b.getSystemMessage
	case CmdClearContext:
		handler = b.clearContext
	case CmdAddMoney:
		b.addMoney(ctx, req)
		return true
	case CmdAskKnowledgeGod:
		handler = b.askKnowledgeGod
	default:
		return false
	}

	b.typing(ctx, req.chatID)
	handler(ctx, req)
	return true
}

func (b *Bot) handleCallback(ctx context.Context, q *telegram.CallbackQuery) {
	if q.Message == nil || q.Message.Chat == nil || q.From == nil {
		return
	}
	req := request{chatID: q.Message.Chat.ID, from: q.From}

	if models.IsSupported(models.ModelID(q.Data)) {
		b.answer(ctx, q.ID, "")
		b.typing(ctx, req.chatID)
		b.chooseModel(ctx, req, models.ModelID(q.Data))
		return
	}
	if q.Data == CmdAddMoney || !b.runCommand(ctx, req, q.Data) {
		b.answer(ctx, q.ID, MsgUnknownButton)
		return
	}
	b.answer(ctx, q.ID, "")
}

func (b *Bot) answer(ctx context.Context, callbackID, text string) {
	if err := b.messenger.AnswerCallbackQuery(ctx, callbackID, text); err != nil {
		b.logger.Debug("failed to answer callback query", zap.String("callback_id", callbackID), zap.Error(err))
	}
}

// chat loads the request's conversation or reports the generic failure.
func (b *Bot) chat(ctx context.Context, req request, command string) (*models.Conversation, bool) {
	conv, err := b.convs.Get(ctx, req.chatID)
	if err != nil {
		b.fail(ctx, req, command, err)
		return nil, false
	}
	return conv, true
}

func (b *Bot) fail(ctx context.Context, req request, command string, err error) {
	b.logger.Error("command failed",
		zap.String("command", command),
		zap.Int64("chat_id", req.chatID),
		zap.Error(err),
	)
	b.send(ctx, req.chatID, MsgSomethingWrong)
}

func (b *Bot) start(ctx context.Context, req request) {
	b.sendMarkdown(ctx, req.chatID, startText(req.from.Username), startKeyboard())
}

func (b *Bot) help(ctx context.Context, req request) {
	b.send(ctx, req.chatID, helpText)
}

func (b *Bot) getBalance(ctx context.Context, req request) {
	acct, _, err := b.sessions.Account(ctx, req.from.ID, req.from.Username)
	if err != nil {
		b.fail(ctx, req, CmdGetBalance, err)
		return
	}
	b.send(ctx, req.chatID, balanceText(acct.Balance))
}

func (b *Bot) getTokenUsage(ctx context.Context, req request) {
	acct, _, err := b.sessions.Account(ctx, req.from.ID, req.from.Username)
	if err != nil {
		b.fail(ctx, req, CmdGetTokenUsage, err)
		return
	}
	b.sendMarkdown(ctx, req.chatID, tokenUsageText(acct.Usage), nil)
}

func (b *Bot) getTokensForMessage(ctx context.Context, req request) {
	text := strings.Join(strings.Fields(req.args), " ")
	if text == "" {
		b.send(ctx, req.chatID, MsgNeedMessage)
		return
	}
	conv, ok := b.chat(ctx, req, CmdGetTokensForMessage)
	if !ok {
		return
	}
	cost, err := b.messageCost(conv, text)
	if err != nil {
		b.fail(ctx, req, CmdGetTokensForMessage, err)
		return
	}
	b.sendMarkdown(ctx, req.chatID, cost.text(), nil)
}

func (b *Bot) messageCost(conv *models.Conversation, text string) (messageCost, error) {
	model := conv.Config.Model
	msgTokens, err := b.counter.Count([]models.Message{{Role: models.RoleUser, Content: text}}, model)
	if err != nil {
		return messageCost{}, err
	}
	sysTokens, err := b.convs.SystemTokens(conv)
	if err != nil {
		return messageCost{}, err
	}
	msgDollars, err := b.prices.PromptPrice(model, msgTokens)
	if err != nil {
		return messageCost{}, err
	}
	sysDollars, err := b.prices.PromptPrice(model, sysTokens)
	if err != nil {
		return messageCost{}, err
	}
	return messageCost{
		SystemMessage: conv.SystemMessage.Content,
		SystemTokens:  sysTokens,
		SystemCost:    sysDollars * 100,
		MessageTokens: msgTokens,
		MessageCost:   msgDollars * 100,
	}, nil
}

func (b *Bot) setMaxTokens(ctx context.Context, req request) {
	fields := strings.Fields(req.args)
	if len(fields) == 0 {
		b.send(ctx, req.chatID, MsgNeedTokens)
		return
	}
	n, err := strconv.Atoi(fields[0])
	if err != nil {
		b.send(ctx, req.chatID, MsgNeedTokens)
		return
	}
	conv, ok := b.chat(ctx, req, CmdSetMaxTokens)
	if !ok {
		return
	}

	err = b.convs.SetMaxTokens(ctx, conv, n)
	var tooSmall *conversation.MaxTokensTooSmallError
	switch {
	case errors.As(err, &tooSmall):
		b.send(ctx, req.chatID, maxTokensTooSmallText(tooSmall.SystemTokens, tooSmall.Minimum))
	case err != nil:
		b.fail(ctx, req, CmdSetMaxTokens, err)
	default:
		b.send(ctx, req.chatID, fmt.Sprintf("You have successfully set the number of tokens to %d", n))
	}
}

func (b *Bot) setTemperature(ctx context.Context, req request) {
	fields := strings.Fields(req.args)
	if len(fields) == 0 {
		b.send(ctx, req.chatID, MsgTemperatureRange)
		return
	}
	t, err := strconv.ParseFloat(fields[0], 64)
	if err != nil {
		b.send(ctx, req.chatID, MsgTemperatureParse)
		return
	}
	conv, ok := b.chat(ctx, req, CmdSetTemperature)
	if !ok {
		return
	}

	err = b.convs.SetTemperature(ctx, conv, t)
	switch {
	case errors.Is(err, conversation.ErrTemperatureRange):
		b.send(ctx, req.chatID, MsgTemperatureRange)
	case err != nil:
		b.fail(ctx, req, CmdSetTemperature, err)
	default:
		b.send(ctx, req.chatID, "You have successfully set the temperature to "+formatTemperature(t))
	}
}

// formatTemperature always keeps a decimal point: 1 renders as "1.0".
func formatTemperature(t float64) string {
	s := strconv.FormatFloat(t, 'f', -1, 64)
	if !strings.Contains(s, ".") {
		s += ".0"
	}
	return s
}

func (b *Bot) setModel(ctx context.Context, req request) {
	b.sendWith(ctx, req.chatID, MsgChooseModel, modelKeyboard())
}

func (b *Bot) chooseModel(ctx context.Context, req request, model models.ModelID) {
	conv, ok := b.chat(ctx, req, CmdSetModel)
	if !ok {
		return
	}
	if err := b.convs.SetModel(ctx, conv, model); err != nil {
		b.fail(ctx, req, CmdSetModel, err)
		return
	}
	b.send(ctx, req.chatID, "You have successfully set the model to "+string(conv.Config.Model))
}

func (b *Bot) setSystemMessage(ctx context.Context, req request) {
	content := strings.Join(strings.Fields(req.args), " ")
	conv, ok := b.chat(ctx, req, CmdSetSystemMessage)
	if !ok {
		return
	}

	err := b.convs.SetSystemMessage(ctx, conv, content)
	switch {
	case errors.Is(err, conversation.ErrSystemMessageTooShort):
		b.send(ctx, req.chatID, MsgSystemMessageShort)
	case err != nil:
		b.fail(ctx, req, CmdSetSystemMessage, err)
	default:
		b.send(ctx, req.chatID, MsgSystemMessageSet)
	}
}

func (b *Bot) getSystemMessage(ctx context.Context, req request) {
	conv, ok := b.chat(ctx, req, CmdGetSystemMessage)
	if !ok {
		return
	}
	text := conv.SystemMessage.Content
	if text == "" {
		text = MsgNoSystemMessage
	}
	b.send(ctx, req.chatID, text)
}

func (b *Bot) clearContext(ctx context.Context, req request) {
	conv, ok := b.chat(ctx, req, CmdClearContext)
	if !ok {
		return
	}
	if err := b.convs.Clear(ctx, conv); err != nil {
		b.fail(ctx, req, CmdClearContext, err)
		return
	}
	b.send(ctx, req.chatID, MsgContextCleared)
}

func (b *Bot) askKnowledgeGod(ctx context.Context, req request) {
	text := req.args
	if text == "" {
		text = knowledgeGodGreeting
	}
	b.ask(ctx, req.chatID, senderOf(req.from), text)
}

// ─── Admin ───────────────────────────────────────────────────────────────────

// errNoMention means the command did not name a user.
var errNoMention = errors.New("no user mentioned")

func (b *Bot) addMoney(ctx context.Context, req request) {
	if err := b.ledger.Authorize(ctx, req.from.ID); err != nil {
		b.send(ctx, req.chatID, MsgNotAllowed)
		return
	}

	userID, username, err := b.mentionedUser(ctx, req.msg)
	switch {
	case errors.Is(err, errNoMention):
		b.send(ctx, req.chatID, MsgMentionUser)
		return
	case errors.Is(err, db.ErrNotFound):
		b.send(ctx, req.chatID, MsgUserNotFound)
		return
	case err != nil:
		b.fail(ctx, req, CmdAddMoney, err)
		return
	}

	unlock := b.userLocks.Lock(userID)
	defer unlock()

	acct, _, err := b.sessions.Account(ctx, userID, username)
	if err == nil {
		err = b.ledger.Credit(ctx, req.from.ID, acct, b.cfg.TopUp)
	}
	if err == nil {
		err = b.sessions.SaveAccount(ctx, acct)
	}
	if err != nil {
		b.fail(ctx, req, CmdAddMoney, err)
		return
	}
	b.logger.Info("account topped up",
		zap.Int64("admin_id", req.from.ID),
		zap.Int64("user_id", userID),
		zap.String("balance_cents", acct.Balance.String()),
	)
	b.send(ctx, req.chatID, MsgDeal)
}

// mentionedUser resolves the first user mentioned in msg. A text_mention
// carries the user directly; a plain @mention is looked up among known accounts.
func (b *Bot) mentionedUser(ctx context.Context, msg *telegram.Message) (int64, string, error) {
	if msg == nil {
		return 0, "", errNoMention
	}
	for _, e := range msg.Entities {
		switch e.Type {
		case telegram.EntityTextMention:
			if e.User == nil {
				continue
			}
			return e.User.ID, e.User.Username, nil
		case telegram.EntityMention:
			username := strings.TrimPrefix(telegram.EntityText(msg.Text, e), "@")
			if username == "" {
				continue
			}
			acct, err := b.sessions.AccountByUsername(ctx, username)
			if err != nil {
				return 0, "", err
			}
			return acct.UserID, acct.Username, nil
		}
	}
	return 0, "", errNoMention
}
