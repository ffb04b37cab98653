// Package notify mirrors slot outcomes to an admin Telegram chat.
//
// Strictly best-effort: the notifier is disabled when no token/chat is
// configured, and a send failure is logged, never propagated — posting must
// not depend on the admin channel being reachable.
package notify

import (
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	tele "gopkg.in/telebot.v4"
)

type Config struct {
	Token  string
	ChatID int64
}

type Notifier struct {
	bot  *tele.Bot
	chat *tele.Chat
	log  zerolog.Logger
}

// New returns nil (disabled) when the config is empty. A nil *Notifier is
// safe to call.
func New(cfg Config, log zerolog.Logger) (*Notifier, error) {
	if strings.TrimSpace(cfg.Token) == "" || cfg.ChatID == 0 {
		return nil, nil
	}
	// Outbound-only: no poller is configured, the bot never consumes updates.
	b, err := tele.NewBot(tele.Settings{Token: cfg.Token})
	if err != nil {
		return nil, fmt.Errorf("telegram notifier: %w", err)
	}
	return &Notifier{bot: b, chat: &tele.Chat{ID: cfg.ChatID}, log: log}, nil
}

// SlotOutcome sends a one-line summary of a slot firing.
func (n *Notifier) SlotOutcome(day string, slot int, status, url string, err error) {
	if n == nil {
		return
	}
	var msg string
	if err != nil {
		msg = fmt.Sprintf("xbot %s slot %d: %s (%s) — %v", day, slot, status, url, err)
	} else {
		msg = fmt.Sprintf("xbot %s slot %d: %s %s", day, slot, status, url)
	}
	if _, sendErr := n.bot.Send(n.chat, msg, &tele.SendOptions{DisableWebPagePreview: true}); sendErr != nil {
		n.log.Warn().Err(sendErr).Msg("admin notification failed")
	}
}

// BuildSummary reports the daily queue build.
func (n *Notifier) BuildSummary(day string, planned int, took time.Duration) {
	if n == nil {
		return
	}
	msg := fmt.Sprintf("xbot %s: queue built, %d slot(s) planned in %s", day, planned, took.Round(time.Millisecond))
	if _, err := n.bot.Send(n.chat, msg); err != nil {
		n.log.Warn().Err(err).Msg("admin notification failed")
	}
}
