package email

import (
	"errors"
	"fmt"
	"html"
	"io"
	"regexp"
	"strings"
	"time"

	"github.com/emersion/go-message"
	"github.com/emersion/go-message/mail"
	"github.com/microcosm-cc/bluemonday"
)

// parsedMail holds what the notifier needs from a raw message.
type parsedMail struct {
	From    string
	Subject string
	Date    time.Time
	Text    string
}

var (
	stripPolicy = bluemonday.StrictPolicy()
	// Block-level tags become line breaks before the markup is stripped.
	htmlBreaks = regexp.MustCompile(`(?i)<br\s*/?>|</(p|div|li|tr|h[1-6])>`)
)

// parseMail decodes the headers and the text body of an RFC 5322 message.
// text/plain parts are preferred; text/html is converted to text when no
// plain part exists. Attachments are skipped. Whatever could be decoded is
// returned together with any error.
func parseMail(r io.Reader) (parsedMail, error) {
	var out parsedMail

	mr, err := mail.CreateReader(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return out, fmt.Errorf("reading message: %w", err)
	}
	defer mr.Close()

	if addrs, err := mr.Header.AddressList("From"); err == nil && len(addrs) > 0 {
		out.From = formatAddress(addrs[0].Name, addrs[0].Address)
	} else {
		out.From = mr.Header.Get("From")
	}
	if subject, err := mr.Header.Subject(); err == nil {
		out.Subject = subject
	} else {
		out.Subject = mr.Header.Get("Subject")
	}
	if date, err := mr.Header.Date(); err == nil {
		out.Date = date
	}

	var plain, htmlText strings.Builder
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil && !message.IsUnknownCharset(err) {
			out.Text = cleanText(pick(plain.String(), htmlText.String()))
			return out, fmt.Errorf("reading part: %w", err)
		}
		if part == nil {
			continue
		}

		inline, ok := part.Header.(*mail.InlineHeader)
		if !ok {
			continue
		}

		contentType, _, _ := inline.ContentType()
		switch contentType {
		case "text/plain", "":
			b, _ := io.ReadAll(part.Body)
			plain.Write(b)
			plain.WriteByte('\n')
		case "text/html":
			b, _ := io.ReadAll(part.Body)
			htmlText.WriteString(htmlToText(string(b)))
			htmlText.WriteByte('\n')
		}
	}

	out.Text = cleanText(pick(plain.String(), htmlText.String()))
	return out, nil
}

func pick(plain, htmlText string) string {
	if strings.TrimSpace(plain) != "" {
		return plain
	}
	return htmlText
}

func htmlToText(s string) string {
	s = htmlBreaks.ReplaceAllString(s, "\n")
	return html.UnescapeString(stripPolicy.Sanitize(s))
}

// cleanText trims every line and drops blank ones.
func cleanText(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")
	var lines []string
	for _, line := range strings.Split(s, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, "\n")
}

func formatAddress(name, address string) string {
	switch {
	case name == "":
		return address
	case address == "" || address == "@":
		return name
	default:
		return name + " <" + address + ">"
	}
}
