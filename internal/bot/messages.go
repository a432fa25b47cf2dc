package bot

import (
	"fmt"
	"strconv"

	"github.com/UltimateSoul/soul-ai-bot/internal/models"
	"github.com/UltimateSoul/soul-ai-bot/internal/telegram"
)

// Command names. They double as inline keyboard callback data.
const (
	CmdStart               = "start"
	CmdHelp                = "help"
	CmdGetBalance          = "get_balance"
	CmdGetTokenUsage       = "get_token_usage"
	CmdGetTokensForMessage = "get_tokens_for_message"
	CmdSetMaxTokens        = "set_max_tokens"
	CmdSetTemperature      = "set_temperature"
	CmdSetModel            = "set_model"
	CmdSetSystemMessage    = "set_system_message"
	CmdGetSystemMessage    = "get_system_message"
	CmdClearContext        = "clear_context"
	CmdAddMoney            = "add_money"
	CmdAskKnowledgeGod     = "ask_knowledge_god"
)

// Dialogue replies.
const (
	MsgTimeout       = "Sorry, i was trying to get response from OpenAI, but it took too long. Please, try again later."
	MsgTooManyTokens = "Sorry, I can't answer that. Too many tokens."
	MsgBrainProblems = "I'm sorry, I have some problems with my brain. Please, try again later."

	// greeting sent when the dialogue is started from the keyboard
	knowledgeGodGreeting = "Hi!"
)

// Command replies.
const (
	MsgSomethingWrong     = "Sorry, something went wrong. Please, try again later"
	MsgUnknownButton      = "Sorry, I don't know what to do with this button"
	MsgNeedTokens         = "Please, send me a number of tokens"
	MsgTemperatureRange   = "Please, send me a number between 0.0 and 1.0"
	MsgTemperatureParse   = "Please, leave me a number between 0.0 and 1.0"
	MsgChooseModel        = "Please, choose the model you want to use"
	MsgSystemMessageSet   = "You have successfully set the system message!"
	MsgSystemMessageShort = "Please, send me a larger system message (at least 20 characters)"
	MsgNoSystemMessage    = "No system message set"
	MsgContextCleared     = "You have successfully cleared the context!"
	MsgNeedMessage        = "Please, send me a message to get the number of tokens for it"
	MsgNotAllowed         = "You are not allowed to do this"
	MsgMentionUser        = "Please, mention the user you want to add money to"
	MsgUserNotFound       = "User not found. Maybe they are not in the chat or haven't talked to me yet"
	MsgDeal               = "Deal!"
)

const helpText = `Commands:
/help - show this message
/get_balance - get your balance (by default you get 200 cents for free, but the API usage costs money: [Open AI Pricing](https://openai.com/pricing/)
/get_token_usage - get the usage of your tokens for each model
/get_tokens_for_message - get the number of tokens required for the message you want to send
/set_max_tokens - set the maximum number of tokens for the bot's response
/set_temperature - set the temperature of the model
/set_system_message - set the system message that will be sent to the bot when you start a conversation
/get_system_message - get the system message that will be sent to the bot when you start a conversation
/start - start a conversation with the bot
/ask_knowledge_god - start a conversation with the Open AI GPT Chat Bot
`

const startGreeting = `Hello, %s! This is a chatbot powered by Open AI API.
You can test different Open AI models, such as GPT4 or GPT3-5-turbo from your phone in telegram!
You also can do more with the "Context" feature. The thing is you can set a special system context to your dedicated chat.
Chat can act as a basic consultant or the God of Knowledge or whatever you specify in your system message input.
It also has memory, more info you can get after connecting with bot. Of course it have some restrictions, such as the token context limit.`

// startLimits is already MarkdownV2.
const startLimits = `For instance for *GPT 3\.5 Turbo* model that amount equals to *4,096* tokens: [Open AI API](https://platform.openai.com/docs/models/gpt-3-5)`

const tokenUsageTemplate = `*Usage of models*:
*GPT 3 5 Turbo*: _%d_ tokens
*GPT 3 5 Turbo 0301*: _%d_ tokens
*GPT 4*: _%d_ tokens

How are we counting tokens? ||[Open AI API](https://platform.openai.com/docs/guides/chat/introduction)||
`

func startText(username string) string {
	return telegram.EscapeMarkdownV2(fmt.Sprintf(startGreeting, username)) + startLimits
}

func startKeyboard() *telegram.InlineKeyboardMarkup {
	btn := func(text, data string) telegram.InlineKeyboardButton {
		return telegram.InlineKeyboardButton{Text: text, CallbackData: data}
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{
		{btn("Discover the commands", CmdHelp)},
		{btn("Get your current balance", CmdGetBalance), btn("Get your token usage", CmdGetTokenUsage)},
		{btn("Get tokens number for you input message", CmdGetTokensForMessage)},
		{btn("Set maximum tokens number", CmdSetMaxTokens), btn("Set temperature for the model", CmdSetTemperature)},
		{btn("Set new GPT model", CmdSetModel), btn("Get current system message", CmdGetSystemMessage)},
		{btn("Start chat with i", CmdAskKnowledgeGod)},
	}}
}

func modelKeyboard() *telegram.InlineKeyboardMarkup {
	row := make([]telegram.InlineKeyboardButton, 0, len(models.SupportedModels))
	for _, m := range models.SupportedModels {
		row = append(row, telegram.InlineKeyboardButton{Text: string(m), CallbackData: string(m)})
	}
	return &telegram.InlineKeyboardMarkup{InlineKeyboard: [][]telegram.InlineKeyboardButton{row}}
}

func balanceText(balance models.Amount) string {
	return fmt.Sprintf("Your current balance is %s cents or %s dollars",
		balance, strconv.FormatFloat(balance.Dollars(), 'f', -1, 64))
}

func tokenUsageText(book models.UsageBook) string {
	return fmt.Sprintf(tokenUsageTemplate,
		book.GPT35Turbo.TotalTokens, book.GPT35Turbo0301.TotalTokens, book.GPT4.TotalTokens)
}

func maxTokensTooSmallText(systemTokens, minimum int) string {
	return fmt.Sprintf("Sorry, but the number of tokens you want to set is too small. "+
		"Your system message has %d tokens. You need to set at least %d tokens to proceed", systemTokens, minimum)
}

// messageCost is the breakdown shown by /get_tokens_for_message. Costs are in cents.
type messageCost struct {
	SystemMessage string
	SystemTokens  int
	SystemCost    float64
	MessageTokens int
	MessageCost   float64
}

func (c messageCost) text() string {
	cents := func(v float64) string {
		return telegram.EscapeMarkdownV2(strconv.FormatFloat(v, 'f', 7, 64))
	}
	return fmt.Sprintf("Number of all the tokens for your message alongside with system one is *%d*, "+
		"it will cost you *%s* cents\n"+
		"Don\\`t forget that in that cost is included the system message "+
		"You can change the system message with _set system message_ command "+
		"The current system message is:\n *%s*, number of tokens for it is %d, it will cost you %s cents "+
		"Token number for your message is %d, it will cost you %s cents",
		c.MessageTokens+c.SystemTokens, cents(c.MessageCost+c.SystemCost),
		telegram.EscapeMarkdownV2(c.SystemMessage), c.SystemTokens, cents(c.SystemCost),
		c.MessageTokens, cents(c.MessageCost),
	)
}
