// Package telegram sends fit-completion notifications via the Telegram Bot API.
// A message summarizes the fitted Glauber+NBD parameters, the fit quality and,
// when available, the head of the centrality table.
package telegram

import (
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/rewired-gh/glaubernbd/internal/models"
)

// maxCentralityRows caps the centrality lines in one message.
const maxCentralityRows = 10

// sender is the part of tgbotapi.BotAPI the client uses.
type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

// Client handles Telegram notifications
type Client struct {
	bot            sender
	chatID         int64
	maxRetries     int
	retryDelayBase time.Duration
}

// NewClient creates a new Telegram client
func NewClient(botToken, chatID string, maxRetries int, retryDelayBase time.Duration) (*Client, error) {
	chatIDInt, err := strconv.ParseInt(chatID, 10, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid chat ID: %w", err)
	}

	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, fmt.Errorf("failed to create Telegram bot: %w", err)
	}

	return newClient(bot, chatIDInt, maxRetries, retryDelayBase), nil
}

func newClient(bot sender, chatID int64, maxRetries int, retryDelayBase time.Duration) *Client {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	if retryDelayBase <= 0 {
		retryDelayBase = time.Second
	}
	return &Client{
		bot:            bot,
		chatID:         chatID,
		maxRetries:     maxRetries,
		retryDelayBase: retryDelayBase,
	}
}

// SendFitResult sends a summary of run and its centrality table.
func (c *Client) SendFitResult(run *models.FitRun, bins []models.CentralityBin) error {
	msg := tgbotapi.NewMessage(c.chatID, formatMessage(run, bins))
	msg.ParseMode = "MarkdownV2"
	return c.send(msg)
}

// SendError reports a pipeline failure.
func (c *Client) SendError(err error) error {
	text := fmt.Sprintf("❌ *Glauber NBD run failed*\n\n%s", escapeMarkdownV2(err.Error()))
	msg := tgbotapi.NewMessage(c.chatID, text)
	msg.ParseMode = "MarkdownV2"
	return c.send(msg)
}

func (c *Client) send(msg tgbotapi.MessageConfig) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		_, err := c.bot.Send(msg)
		if err == nil {
			return nil
		}
		lastErr = err
		if i < c.maxRetries-1 {
			time.Sleep(c.retryDelayBase * time.Duration(i+1))
		}
	}

	return fmt.Errorf("failed to send message after %d retries: %w", c.maxRetries, lastErr)
}

// formatMessage formats a fit run into a Telegram message
func formatMessage(run *models.FitRun, bins []models.CentralityBin) string {
	var b strings.Builder

	if run.Success {
		b.WriteString("✅ *Glauber NBD fit converged*\n\n")
	} else {
		b.WriteString("⚠️ *Glauber NBD fit did not converge*\n\n")
	}

	fmt.Fprintf(&b, "🆔 Run: `%s`\n", escapeMarkdownV2(run.ID))
	fmt.Fprintf(&b, "📅 Finished: %s\n", escapeMarkdownV2(run.CreatedAt.Format("2006-01-02 15:04:05")))
	fmt.Fprintf(&b, "⚙️ Mode: %s, range %s, %d pairs\n",
		escapeMarkdownV2(run.Mode),
		escapeMarkdownV2(fmt.Sprintf("[%g, %g]", run.RangeLo, run.RangeHi)),
		run.Pairs)
	fmt.Fprintf(&b, "⏱ Took: %s\n\n", escapeMarkdownV2(formatDuration(run.Duration)))

	fmt.Fprintf(&b, "mu \\= *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.5g", run.Mu)))
	fmt.Fprintf(&b, "k \\= *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.5g", run.K)))
	fmt.Fprintf(&b, "f \\= *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.5g", run.F)))
	fmt.Fprintf(&b, "norm \\= *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.5g", run.Norm)))
	if run.DMu != 0 {
		fmt.Fprintf(&b, "dmu/dNanc \\= *%s*\n", escapeMarkdownV2(fmt.Sprintf("%.5g", run.DMu)))
	}

	chi2 := "n/a"
	if !math.IsNaN(run.Chi2) {
		chi2 = fmt.Sprintf("%.4g/%d", run.Chi2, run.NDF)
	}
	fmt.Fprintf(&b, "chi2/ndf \\= %s \\(%s\\)\n", escapeMarkdownV2(chi2), escapeMarkdownV2(run.Status))

	if len(bins) > 0 {
		b.WriteString("\n📊 *Centrality*\n")
		for i, bin := range bins {
			if i == maxCentralityRows {
				fmt.Fprintf(&b, "…and %d more bins\n", len(bins)-maxCentralityRows)
				break
			}
			line := fmt.Sprintf("%g: <Npart> %.1f, <Ncoll> %.1f", bin.Multiplicity, bin.AvgNpart, bin.AvgNcoll)
			b.WriteString(escapeMarkdownV2(line) + "\n")
		}
	}

	return b.String()
}

// escapeMarkdownV2 escapes special characters for Telegram MarkdownV2
func escapeMarkdownV2(text string) string {
	// Characters that need escaping in MarkdownV2:
	// _ * [ ] ( ) ~ ` > # + - = | { } . !
	var b strings.Builder
	for _, char := range text {
		switch char {
		case '_', '*', '[', ']', '(', ')', '~', '`', '>', '#', '+', '-', '=', '|', '{', '}', '.', '!':
			b.WriteByte('\\')
		}
		b.WriteRune(char)
	}
	return b.String()
}

// formatDuration formats a fit duration in a human-readable way
func formatDuration(d time.Duration) string {
	switch {
	case d >= time.Hour:
		return fmt.Sprintf("%dh%dm", int(d.Hours()), int(d.Minutes())%60)
	case d >= time.Minute:
		return fmt.Sprintf("%dm%ds", int(d.Minutes()), int(d.Seconds())%60)
	case d >= time.Second:
		return fmt.Sprintf("%.1fs", d.Seconds())
	}
	return fmt.Sprintf("%dms", d.Milliseconds())
}
