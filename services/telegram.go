package services

import (
	context2 "context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	tb "gopkg.in/telebot.v3"

	"github.com/requiem-ai/gochat/chat"
	"github.com/requiem-ai/gochat/config"
	"github.com/requiem-ai/gochat/context"
)

const helpText = `Send any message to chat with the assistant.

/key <OpenAI API key> - set the key for this chat (the message is deleted)
/cancel - stop the reply being written
/clear - forget the conversation
/history - show the conversation
/end - end the session and forget the key`

type TelegramService struct {
	context.DefaultService

	Config *config.Config
	Bot    *tb.Bot

	chat *ChatService

	baseCtx context2.Context
	cancel  context2.CancelFunc

	botID         int64
	allowedUserID int64
}

const TELEGRAM_SVC = "telegram_svc"

func (svc TelegramService) Id() string {
	return TELEGRAM_SVC
}

func (svc *TelegramService) Configure(ctx *context.Context) (err error) {
	token := svc.Config.Telegram.Secret
	if token == "" {
		return errors.New("telegram.secret (TELEGRAM_SECRET) is required when telegram is enabled")
	}
	svc.allowedUserID = svc.Config.Telegram.AllowedUserID

	svc.Bot, err = tb.NewBot(tb.Settings{
		Token: token,
		Poller: &tb.LongPoller{
			Timeout: 30 * time.Second,
		},
		OnError: func(err error, c tb.Context) {
			svc.decorateTelegramEvent(log.Error().Err(err), c).Msg("telegram bot error")
		},
	})
	if err != nil {
		return err
	}
	if svc.Bot.Me != nil {
		svc.botID = svc.Bot.Me.ID
	}

	return svc.DefaultService.Configure(ctx)
}

func (svc *TelegramService) Start() error {
	svc.chat = svc.Service(CHAT_SVC).(*ChatService)
	svc.baseCtx, svc.cancel = context2.WithCancel(context2.Background())

	svc.setupHandlers()

	go svc.Bot.Start()

	log.Info().Str("bot", svc.Bot.Me.Username).Msg("telegram bot polling")
	return nil
}

func (svc *TelegramService) Shutdown() {
	if svc.cancel != nil {
		svc.cancel()
	}
	if svc.Bot == nil {
		return
	}
	svc.Bot.Stop()
}

func (svc *TelegramService) setupHandlers() {
	svc.Bot.Handle("/start", svc.guardHandler(svc.onStart))
	svc.Bot.Handle("/help", svc.guardHandler(svc.onStart))
	svc.Bot.Handle("/key", svc.guardHandler(svc.onKey))
	svc.Bot.Handle("/cancel", svc.guardHandler(svc.onCancel))
	svc.Bot.Handle("/clear", svc.guardHandler(svc.onClear))
	svc.Bot.Handle("/history", svc.guardHandler(svc.onHistory))
	svc.Bot.Handle("/end", svc.guardHandler(svc.onEnd))

	svc.Bot.Handle(tb.OnText, svc.guardHandler(svc.onText))
}

func (svc *TelegramService) guardHandler(fn tb.HandlerFunc) tb.HandlerFunc {
	return func(c tb.Context) error {
		if c != nil {
			svc.decorateTelegramEvent(log.Info(), c).Msg("inbound telegram update")
		}

		var sender *tb.User
		if c != nil {
			sender = c.Sender()
		}
		allowed, reason := svc.allowSender(sender)
		if !allowed {
			svc.decorateTelegramEvent(
				log.Warn().
					Str("reason", reason).
					Int64("allowed_user_id", svc.allowedUserID),
				c,
			).Msg("telegram update blocked")
			return nil
		}

		if err := fn(c); err != nil {
			svc.decorateTelegramEvent(log.Error().Err(err), c).Msg("telegram handler returned error")
			return err
		}

		return nil
	}
}

// decorateTelegramEvent adds the update's chat, sender and command to a log event.
// Message text is left out of /key updates since it carries the credential.
func (svc *TelegramService) decorateTelegramEvent(event *zerolog.Event, c tb.Context) *zerolog.Event {
	if event == nil || c == nil {
		return event
	}

	if chat := c.Chat(); chat != nil {
		event = event.Int64("group_id", chat.ID).Str("chat_type", string(chat.Type))
	}

	if sender := c.Sender(); sender != nil {
		event = event.Int64("user_id", sender.ID).Str("sender_username", sender.Username)
	}

	if msg := c.Message(); msg != nil {
		command := commandOf(msg.Text)

		event = event.
			Int("thread_id", msg.ThreadID).
			Bool("topic_message", msg.TopicMessage)
		if command == "key" {
			event = event.Bool("redacted", true)
		} else {
			event = event.Int("message_len", len(msg.Text))
		}
		if command != "" {
			event = event.Str("command", command)
		}
	}

	return event
}

func commandOf(text string) string {
	text = strings.TrimSpace(text)
	if !strings.HasPrefix(text, "/") {
		return ""
	}
	fields := strings.Fields(strings.TrimPrefix(text, "/"))
	if len(fields) == 0 {
		return ""
	}
	// "/key@my_bot" in groups
	name, _, _ := strings.Cut(fields[0], "@")
	return name
}

func (svc *TelegramService) allowSender(sender *tb.User) (bool, string) {
	if sender != nil && svc.botID != 0 && sender.ID == svc.botID {
		return false, "sender_is_bot" // Ignore bot msgs
	}
	if svc.allowedUserID == 0 {
		return true, ""
	}
	if sender == nil {
		return false, "missing_sender"
	}
	if sender.ID != svc.allowedUserID {
		return false, "sender_not_allowed"
	}
	return true, ""
}

// sessionKey gives every chat, and every forum topic inside a chat, its own session.
func sessionKey(chatID int64, threadID int) string {
	return fmt.Sprintf("tg:%d:%d", chatID, threadID)
}

func threadOf(msg *tb.Message) int {
	if msg == nil || !msg.TopicMessage {
		return 0
	}
	return msg.ThreadID
}

func (svc *TelegramService) sessionFor(c tb.Context) *chat.Session {
	return svc.chat.Session(sessionKey(c.Chat().ID, threadOf(c.Message())))
}

func (svc *TelegramService) reply(c tb.Context, text string) error {
	_, err := svc.Bot.Send(c.Chat(), text, &tb.SendOptions{ThreadID: threadOf(c.Message())})
	return err
}

func (svc *TelegramService) onStart(c tb.Context) error {
	sess := svc.sessionFor(c)
	if !sess.HasCredential() {
		return svc.reply(c, helpText+"\n\n"+chat.CredentialNotice)
	}
	return svc.reply(c, helpText)
}

func (svc *TelegramService) onKey(c tb.Context) error {
	sess := svc.sessionFor(c)
	sess.SetCredential(c.Message().Payload)

	if err := c.Delete(); err != nil {
		log.Warn().Err(err).Str("session", sess.ID).Msg("couldn't delete the message carrying the key")
	}

	if !sess.HasCredential() {
		return svc.reply(c, "Key cleared. "+chat.CredentialNotice)
	}
	return svc.reply(c, "Key saved. Send a message to start chatting.")
}

func (svc *TelegramService) onCancel(c tb.Context) error {
	if svc.sessionFor(c).Cancel() {
		return nil // the running turn reports the cancellation itself
	}
	return svc.reply(c, "Nothing to cancel.")
}

func (svc *TelegramService) onClear(c tb.Context) error {
	sess := svc.sessionFor(c)
	if sess.Busy() {
		return svc.reply(c, "A reply is still being written. /cancel it first.")
	}

	sess.Conversation().Reset()
	log.Info().Str("session", sess.ID).Msg("conversation cleared")

	return svc.reply(c, "Conversation cleared.")
}

func (svc *TelegramService) onEnd(c tb.Context) error {
	svc.chat.EndSession(sessionKey(c.Chat().ID, threadOf(c.Message())))
	return svc.reply(c, "Session ended. "+chat.CredentialNotice)
}

func (svc *TelegramService) onHistory(c tb.Context) error {
	sess := svc.sessionFor(c)
	if !sess.HasCredential() {
		return svc.reply(c, chat.CredentialNotice)
	}

	var transcript chat.Transcript
	sess.Conversation().RenderAll(&transcript)

	lines := transcript.Lines()
	if len(lines) == 0 {
		return svc.reply(c, "No messages yet.")
	}

	for _, part := range splitMessage(strings.Join(lines, "\n\n"), telegramMessageLimit) {
		if err := svc.reply(c, part); err != nil {
			return err
		}
	}
	return nil
}

func (svc *TelegramService) onText(c tb.Context) error {
	msg := c.Message()
	if msg == nil || strings.HasPrefix(msg.Text, "/") {
		return nil
	}

	sess := svc.sessionFor(c)
	display := newTelegramDisplay(svc.Bot, c.Chat(), threadOf(msg), svc.Config.Telegram.EditInterval)

	res := svc.chat.Run(svc.baseCtx, sess, msg.Text, display)

	switch res.Outcome {
	case chat.OutcomeCompleted:
		return display.Flush(res.Reply)
	case chat.OutcomeBusy:
		return svc.reply(c, "Still answering your previous message. Wait or /cancel it.")
	case chat.OutcomeCanceled:
		return display.Abort("Reply canceled.")
	case chat.OutcomeFailed:
		log.Error().Err(res.Err).Str("session", sess.ID).Msg("failed to get a reply")
		note := "Couldn't get a reply: " + res.Err.Error()
		if res.Retryable() {
			note += "\nSend the message again to retry."
		}
		return display.Abort(note)
	}
	return nil
}
