// Package telegram is the out-of-host alert channel: it forwards alert
// intents to a Telegram chat so reminders still reach the user when they are
// away from the desktop.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"
	tele "gopkg.in/telebot.v4"

	"chime/internal/alert"
	"chime/internal/task"
	"chime/pkg/logx"
)

// ChannelName is the name tasks use to request this channel.
const ChannelName = "telegram"

type Config struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`

	// MinPriority gates which firings are worth a push to the phone.
	MinPriority string `yaml:"min_priority"`

	// MessagesPerMinute caps outbound sends; Telegram throttles hard.
	MessagesPerMinute int `yaml:"messages_per_minute"`
}

type Channel struct {
	bot     *tele.Bot
	chat    *tele.Chat
	min     task.Priority
	limiter *rate.Limiter
	log     logx.Logger
}

// New connects to the Telegram Bot API and returns the channel.
func New(cfg Config, log logx.Logger) (*Channel, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("telegram: empty token")
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("telegram: chat_id not set")
	}

	bot, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: 10 * time.Second},
	})
	if err != nil {
		return nil, fmt.Errorf("telegram: %w", err)
	}

	perMinute := cfg.MessagesPerMinute
	if perMinute <= 0 {
		perMinute = 20
	}

	return &Channel{
		bot:     bot,
		chat:    &tele.Chat{ID: cfg.ChatID},
		min:     task.ParsePriority(cfg.MinPriority),
		limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		log:     log.With(logx.String("component", "telegram")),
	}, nil
}

func (c *Channel) Name() string { return ChannelName }

func (c *Channel) SupportsPriority(p task.Priority) bool { return p >= c.min }

func (c *Channel) Handle(ctx context.Context, intent alert.Intent) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("telegram: rate wait: %w", err)
	}

	_, err := c.bot.Send(c.chat, render(intent), &tele.SendOptions{
		ParseMode:             tele.ModeHTML,
		DisableWebPagePreview: true,
	})
	if err != nil {
		return fmt.Errorf("telegram: send: %w", err)
	}
	c.log.Debug("alert sent", logx.String("task_id", intent.TaskID))
	return nil
}

// Close stops the underlying bot client.
func (c *Channel) Close() {
	if c.bot != nil {
		c.bot.Stop()
	}
}

func render(in alert.Intent) string {
	var b strings.Builder
	switch in.Priority {
	case task.PriorityUrgent:
		b.WriteString("‼️ ")
	case task.PriorityHigh:
		b.WriteString("❗ ")
	default:
		b.WriteString("\U0001F514 ")
	}
	fmt.Fprintf(&b, "<b>%s</b>", escape(in.Title))
	if in.Message != "" {
		b.WriteString("\n")
		b.WriteString(escape(in.Message))
	}
	fmt.Fprintf(&b, "\n<i>due %s</i>", in.ScheduledAt.Format("Mon 15:04"))
	return b.String()
}

func escape(s string) string {
	r := strings.NewReplacer("&", "&amp;", "<", "&lt;", ">", "&gt;")
	return r.Replace(s)
}
