package services

import (
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog/log"
	tb "gopkg.in/telebot.v3"

	"github.com/requiem-ai/gochat/chat"
)

const telegramMessageLimit = 4096

// messenger is the part of *tb.Bot the display talks to.
type messenger interface {
	Send(to tb.Recipient, what interface{}, opts ...interface{}) (*tb.Message, error)
	Edit(msg tb.Editable, what interface{}, opts ...interface{}) (*tb.Message, error)
	Notify(to tb.Recipient, action tb.ChatAction, threadID ...int) error
}

// telegramDisplay draws one turn in a chat. The reply lives in a single message: the first
// partial sends it, later partials edit it at most once per interval.
type telegramDisplay struct {
	bot      messenger
	chat     *tb.Chat
	threadID int
	interval time.Duration
	now      func() time.Time

	mu       sync.Mutex
	live     *tb.Message
	pending  string
	shown    string
	lastEdit time.Time
}

func newTelegramDisplay(bot messenger, to *tb.Chat, threadID int, interval time.Duration) *telegramDisplay {
	return &telegramDisplay{
		bot:      bot,
		chat:     to,
		threadID: threadID,
		interval: interval,
		now:      time.Now,
	}
}

func (d *telegramDisplay) sendOptions() *tb.SendOptions {
	return &tb.SendOptions{ThreadID: d.threadID}
}

// ShowTurn acknowledges the user turn with a typing indicator; the user's own message is
// already on screen.
func (d *telegramDisplay) ShowTurn(t chat.Turn) {
	if t.Role == chat.RoleUser {
		if err := d.bot.Notify(d.chat, tb.Typing, d.threadID); err != nil {
			log.Debug().Err(err).Msg("typing indicator")
		}
		return
	}
	if _, err := d.bot.Send(d.chat, clipMessage(t.Line()), d.sendOptions()); err != nil {
		log.Warn().Err(err).Int64("chat_id", d.chat.ID).Msg("failed to send turn")
	}
}

func (d *telegramDisplay) ShowPartial(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = text
	if d.live != nil && d.now().Sub(d.lastEdit) < d.interval {
		return
	}
	d.render()
}

func (d *telegramDisplay) ShowNotice(msg string) {
	if _, err := d.bot.Send(d.chat, msg, d.sendOptions()); err != nil {
		log.Warn().Err(err).Int64("chat_id", d.chat.ID).Msg("failed to send notice")
	}
}

// Flush makes sure the final reply is on screen, whatever the throttle skipped.
func (d *telegramDisplay) Flush(reply string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = reply
	return d.render()
}

// Abort ends a turn that produced no reply. The partial text stays visible with the note
// under it; without a live message the note is sent on its own.
func (d *telegramDisplay) Abort(note string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.live == nil {
		_, err := d.bot.Send(d.chat, note, d.sendOptions())
		return err
	}
	d.pending += "\n\n" + note
	return d.render()
}

// render must be called with mu held.
func (d *telegramDisplay) render() error {
	text := clipMessage(chat.Turn{Role: chat.RoleAssistant, Content: d.pending}.Line())
	if d.live != nil && text == d.shown {
		return nil
	}

	var err error
	if d.live == nil {
		d.live, err = d.bot.Send(d.chat, text, d.sendOptions())
	} else {
		_, err = d.bot.Edit(d.live, text)
	}
	if err != nil {
		log.Warn().Err(err).Int64("chat_id", d.chat.ID).Msg("failed to update reply")
		return err
	}

	d.shown = text
	d.lastEdit = d.now()
	return nil
}

// clipMessage keeps the tail of text that is too long for one message.
func clipMessage(text string) string {
	if utf8.RuneCountInString(text) <= telegramMessageLimit {
		return text
	}
	runes := []rune(text)
	return "…" + string(runes[len(runes)-telegramMessageLimit+1:])
}

// splitMessage cuts text into messages no longer than limit runes, preferring line breaks.
func splitMessage(text string, limit int) []string {
	var parts []string
	for utf8.RuneCountInString(text) > limit {
		runes := []rune(text)
		cut := string(runes[:limit])
		if idx := strings.LastIndex(cut, "\n"); idx > 0 {
			cut = cut[:idx]
		}
		parts = append(parts, cut)
		text = strings.TrimPrefix(text[len(cut):], "\n")
	}
	if text != "" {
		parts = append(parts, text)
	}
	return parts
}
