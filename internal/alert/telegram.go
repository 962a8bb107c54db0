package alert

import (
	"context"
	"errors"
	"fmt"
	"strings"

	tele "gopkg.in/telebot.v4"

	"github.com/stanleylei/price-alert/pkg/logx"
)

// TelegramSettings configures the optional Telegram channel. Token and
// chat normally arrive via TELEGRAM_BOT_TOKEN / TELEGRAM_CHAT_ID.
type TelegramSettings struct {
	Token  string
	ChatID int64
}

func (s TelegramSettings) Validate() error {
	var errs []error
	if strings.TrimSpace(s.Token) == "" {
		errs = append(errs, errors.New("bot token is not set (TELEGRAM_BOT_TOKEN)"))
	}
	if s.ChatID == 0 {
		errs = append(errs, errors.New("chat id is not set (TELEGRAM_CHAT_ID)"))
	}
	return errors.Join(errs...)
}

// TelegramChannel posts the short text form of an alert to one chat. The
// bot is send-only; no poller is started.
type TelegramChannel struct {
	bot    *tele.Bot
	chatID int64
	log    logx.Logger
}

// NewTelegram validates settings and connects the bot. Construction
// errors (bad token, no network) leave the channel unregistered; the
// caller logs the warning and the service keeps running.
func NewTelegram(settings TelegramSettings, log logx.Logger) (*TelegramChannel, error) {
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("telegram config: %w", err)
	}
	bot, err := tele.NewBot(tele.Settings{Token: settings.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram connect: %w", err)
	}
	return &TelegramChannel{
		bot:    bot,
		chatID: settings.ChatID,
		log:    log.With(logx.String("comp", "telegram")),
	}, nil
}

func (c *TelegramChannel) Name() string { return "telegram" }

func (c *TelegramChannel) Send(_ context.Context, msg *Message) error {
	text := msg.Text
	if text == "" {
		text = msg.Subject
	}
	if msg.Link != "" {
		text += "\n" + msg.Link
	}

	c.log.Debug("sending alert message", logx.Int64("chat_id", c.chatID))

	chat := &tele.Chat{ID: c.chatID}
	if _, err := c.bot.Send(chat, text, &tele.SendOptions{DisableWebPagePreview: true}); err != nil {
		return fmt.Errorf("send to chat %d: %w", c.chatID, err)
	}
	return nil
}
