// Package telegram provides a client for sending screening summaries via Telegram Bot API.
package telegram

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/cso/internal/models"
)

// maxListed caps the spreads and rejection lines in one message.
const maxListed = 5

// RunLister is the part of storage the /runs command reads.
type RunLister interface {
	ListRuns(limit int) ([]models.RunSummary, error)
}

// Client handles Telegram notifications.
type Client struct {
	bot            *tgbotapi.BotAPI
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client.
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}

	return &Client{
		bot:            bot,
		chatID:         chatIDInt,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}, nil
}

// ListenForCommands starts a goroutine that polls for Telegram updates and handles bot commands.
// It returns immediately; the goroutine stops when ctx is cancelled. runs may be nil,
// in which case /runs replies that history is disabled.
func (c *Client) ListenForCommands(ctx context.Context, runs RunLister) {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60
	updates := c.bot.GetUpdatesChan(u)

	go func() {
		for {
			select {
			case <-ctx.Done():
				c.bot.StopReceivingUpdates()
				return
			case update, ok := <-updates:
				if !ok {
					return
				}
				if update.Message != nil && update.Message.IsCommand() {
					c.handleCommand(update.Message, runs)
				}
			}
		}
	}()
}

func (c *Client) handleCommand(msg *tgbotapi.Message, runs RunLister) {
	var text string
	switch msg.Command() {
	case "ping":
		reply := tgbotapi.NewMessage(msg.Chat.ID, "Pong")
		c.bot.Send(reply) //nolint:errcheck
		return
	case "presets":
		text = formatPresets()
	case "runs":
		text = formatRuns(runs)
	default:
		return
	}
	reply := tgbotapi.NewMessage(msg.Chat.ID, text)
	reply.ParseMode = "MarkdownV2"
	c.bot.Send(reply) //nolint:errcheck
}

// sendMarkdownV2 sends a MarkdownV2 message with linear-backoff retry.
func (c *Client) sendMarkdownV2(text string) error {
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if _, err := c.bot.Send(msg); err == nil {
			return nil
		} else {
			lastErr = err
		}
		time.Sleep(c.retryDelayBase * time.Duration(i+1))
	}
	return fmt.Errorf("failed after %d retries: %w", c.maxRetries, lastErr)
}

// SendError sends a screening failure notification.
func (c *Client) SendError(runErr error) error {
	text := fmt.Sprintf("⚠️ *Screening error*\n`%s`", escapeMarkdownV2(runErr.Error()))
	return c.sendMarkdownV2(text)
}

// Send sends a summary of a completed run.
func (c *Client) Send(run *models.Run) error {
	return c.sendMarkdownV2(formatRun(run))
}

// formatRun formats a run into a Telegram MarkdownV2 message.
func formatRun(run *models.Run) string {
	r := run.Result
	var b strings.Builder

	title := "🛡 *Disciplined screen*"
	if r.Mode == models.ModeRanked {
		title = "🏆 *Ranked screen*"
	}
	b.WriteString(title + "\n\n")
	b.WriteString(fmt.Sprintf("📅 %s\n", escapeMarkdownV2(run.CreatedAt.Format("2006-01-02 15:04:05"))))
	b.WriteString(fmt.Sprintf("⚙️ Criteria: %s\n", escapeMarkdownV2(r.Criteria)))
	b.WriteString(fmt.Sprintf("📊 %d of %d passed \\(%s\\)\n\n",
		r.Passed, r.Total, escapeMarkdownV2(fmt.Sprintf("%.1f%%", r.PassRate()))))

	switch {
	case len(r.Ranked) > 0:
		for i, rs := range r.Ranked {
			if i == maxListed {
				b.WriteString(fmt.Sprintf("…and %d more\n", len(r.Ranked)-maxListed))
				break
			}
			b.WriteString(fmt.Sprintf("%d\\. %s\n", rs.Rank, escapeMarkdownV2(rs.Spread.Description())))
			b.WriteString(fmt.Sprintf("   score *%s* · EV %s · PoP %s\n",
				escapeMarkdownV2(fmt.Sprintf("%.3f", rs.Score)),
				escapeMarkdownV2(fmt.Sprintf("$%.2f", rs.Metrics.ExpectedValue)),
				escapeMarkdownV2(fmt.Sprintf("%.0f%%", rs.Metrics.Probability*100))))
		}
	case len(r.Accepted) > 0:
		for i, sp := range r.Accepted {
			if i == maxListed {
				b.WriteString(fmt.Sprintf("…and %d more\n", len(r.Accepted)-maxListed))
				break
			}
			b.WriteString(fmt.Sprintf("✅ %s\n", escapeMarkdownV2(sp.Description())))
		}
	default:
		b.WriteString("No spreads passed\\.\n")
	}

	if top := r.TopRejections(); len(top) > 0 {
		b.WriteString("\n*Top rejections*\n")
		for i, fc := range top {
			if i == maxListed {
				break
			}
			b.WriteString(fmt.Sprintf("❌ %s: %d\n", escapeMarkdownV2(string(fc.Filter)), fc.Count))
		}
	}

	return b.String()
}

func formatPresets() string {
	var b strings.Builder
	b.WriteString("*Presets*\n")
	for _, name := range models.PresetNames() {
		c, err := models.Preset(name)
		if err != nil {
			continue
		}
		line := fmt.Sprintf("%s: OI ≥ %d, IVP ≥ %.0f, Δ %.2f-%.2f, DTE %d-%d, width ≤ %.0f",
			name, c.MinOpenInterest, c.MinIVPercentile, c.MinDelta, c.MaxDelta,
			c.MinDTE, c.MaxDTE, c.MaxSpreadWidth)
		b.WriteString("• " + escapeMarkdownV2(line) + "\n")
	}
	return b.String()
}

func formatRuns(runs RunLister) string {
	if runs == nil {
		return escapeMarkdownV2("Run history is disabled.")
	}
	list, err := runs.ListRuns(maxListed)
	if err != nil {
		return escapeMarkdownV2("Failed to list runs: " + err.Error())
	}
	if len(list) == 0 {
		return escapeMarkdownV2("No runs yet.")
	}
	var b strings.Builder
	b.WriteString("*Recent runs*\n")
	for _, r := range list {
		line := fmt.Sprintf("%s %s %s: %d/%d passed",
			r.CreatedAt.Format("01-02 15:04"), r.Mode, r.Criteria, r.Passed, r.Total)
		b.WriteString("• " + escapeMarkdownV2(line) + "\n")
	}
	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2.
func escapeMarkdownV2(text string) string {
	var b strings.Builder
	b.Grow(len(text) + len(text)/4) // pre-allocate with room for escapes
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}
