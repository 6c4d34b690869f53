package processor

import (
	"fmt"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"mail-notifier/internal/models"
)

const dateLayout = "02/01/2006 15:04:05"

// DefaultMaxBodyLength is the body preview length in runes.
const DefaultMaxBodyLength = 1000

// Escape escapes every MarkdownV2-significant character in s, including the
// backslash itself, so the text renders literally.
func Escape(s string) string {
	// EscapeText no escapa la barra invertida.
	return tgbotapi.EscapeText(tgbotapi.ModeMarkdownV2, strings.ReplaceAll(s, `\`, `\\`))
}

// Truncate shortens s to at most n runes.
func Truncate(s string, n int) string {
	if n <= 0 {
		return s
	}
	count := 0
	for i := range s {
		if count == n {
			return s[:i]
		}
		count++
	}
	return s
}

// Formatter renders messages as MarkdownV2 notifications.
type Formatter struct {
	MaxBodyLength int
	Location      *time.Location
	now           func() time.Time
}

func NewFormatter(maxBodyLength int) *Formatter {
	if maxBodyLength <= 0 {
		maxBodyLength = DefaultMaxBodyLength
	}
	return &Formatter{
		MaxBodyLength: maxBodyLength,
		Location:      time.Local,
		now:           time.Now,
	}
}

// Alert renders the notification for a new message. The body is truncated
// before escaping so escapes are never cut in half.
func (f *Formatter) Alert(msg models.Message) string {
	date := msg.Date
	if date.IsZero() {
		date = f.now()
	}

	body := strings.TrimSpace(msg.Body)
	truncated := Truncate(body, f.MaxBodyLength)
	if truncated != body {
		truncated += "…"
	}
	if truncated == "" {
		truncated = "(no text content)"
	}

	var b strings.Builder
	b.WriteString("*📨 New email*\n\n")
	fmt.Fprintf(&b, "📬 *Account:* %s\n", Escape(msg.AccountID))
	fmt.Fprintf(&b, "📧 *From:* %s\n", Escape(msg.From))
	fmt.Fprintf(&b, "📝 *Subject:* %s\n", Escape(msg.Subject))
	fmt.Fprintf(&b, "⏰ *Date:* %s\n\n", Escape(date.In(f.Location).Format(dateLayout)))
	b.WriteString("💬 *Content:*\n")
	b.WriteString(Escape(truncated))
	return b.String()
}

// Startup renders the notice sent when monitoring starts for accounts.
func (f *Formatter) Startup(accounts []string) string {
	var b strings.Builder
	b.WriteString("🟢 *Mail notifier started*\n\n")
	fmt.Fprintf(&b, "⏰ %s\n", Escape(f.now().In(f.Location).Format(dateLayout)))
	b.WriteString(Escape("✉️ Monitoring e-mail..."))
	if len(accounts) > 0 {
		fmt.Fprintf(&b, "\n\n📨 Monitored accounts: %d", len(accounts))
		writeAccountList(&b, accounts)
	}
	return b.String()
}

// Shutdown renders the notice sent when monitoring stops for accounts.
func (f *Formatter) Shutdown(accounts []string) string {
	var b strings.Builder
	b.WriteString("🔴 *Mail notifier stopped*\n\n")
	fmt.Fprintf(&b, "⏰ %s\n", Escape(f.now().In(f.Location).Format(dateLayout)))
	b.WriteString(Escape("🔔 Monitoring stopped."))
	switch len(accounts) {
	case 0:
	case 1:
		fmt.Fprintf(&b, "\n\n📨 Monitoring of %s has stopped\\.", Escape(accounts[0]))
	default:
		b.WriteString("\n\n📨 Monitoring of these accounts has stopped:")
		writeAccountList(&b, accounts)
	}
	return b.String()
}

func writeAccountList(b *strings.Builder, accounts []string) {
	for i, account := range accounts {
		fmt.Fprintf(b, "\n   %d\\. %s", i+1, Escape(account))
	}
}
