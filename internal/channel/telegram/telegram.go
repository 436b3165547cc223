// Package telegram adapts the Telegram Bot API to the delivery channel
// interface. Destinations are numeric chat IDs.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"time"

	tele "gopkg.in/telebot.v4"

	"remindd/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

type Channel struct {
	bot *tele.Bot
	log logx.Logger
}

func New(cfg Config, log logx.Logger) (*Channel, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", err)
	}
	return &Channel{bot: bot, log: log.With(logx.String("comp", "telegram"))}, nil
}

// Send delivers one message. The context is honored up to the API call; the
// call itself runs to completion once started.
func (c *Channel) Send(ctx context.Context, destination, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	chatID, err := strconv.ParseInt(destination, 10, 64)
	if err != nil {
		return fmt.Errorf("destination %q is not a chat id: %w", destination, err)
	}
	if _, err := c.bot.Send(tele.ChatID(chatID), text); err != nil {
		return fmt.Errorf("telegram send to %d: %w", chatID, err)
	}
	c.log.Debug("message delivered", logx.Int64("chat", chatID))
	return nil
}
