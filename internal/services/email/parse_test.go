package email

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMultipartPrefersPlain(t *testing.T) {
	raw := "From: \"Bob\" <bob@example.com>\r\n" +
		"Subject: =?utf-8?q?Relat=C3=B3rio?=\r\n" +
		"Content-Type: multipart/mixed; boundary=outer\r\n" +
		"\r\n" +
		"--outer\r\n" +
		"Content-Type: multipart/alternative; boundary=inner\r\n" +
		"\r\n" +
		"--inner\r\n" +
		"Content-Type: text/plain; charset=utf-8\r\n" +
		"\r\n" +
		"plain body\r\n" +
		"--inner\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<p>html body</p>\r\n" +
		"--inner--\r\n" +
		"--outer\r\n" +
		"Content-Type: application/pdf\r\n" +
		"Content-Disposition: attachment; filename=report.pdf\r\n" +
		"\r\n" +
		"%PDF-1.4\r\n" +
		"--outer--\r\n"

	parsed, err := parseMail(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Bob <bob@example.com>", parsed.From)
	assert.Equal(t, "Relatório", parsed.Subject)
	assert.Equal(t, "plain body", parsed.Text)
}

func TestParseHTMLFallback(t *testing.T) {
	raw := "From: alerts@example.com\r\n" +
		"Subject: Alert\r\n" +
		"Content-Type: text/html; charset=utf-8\r\n" +
		"\r\n" +
		"<html><body><h1>Build failed</h1><p>Step <b>test</b> &amp; lint</p><br>done</body></html>\r\n"

	parsed, err := parseMail(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "alerts@example.com", parsed.From)
	assert.Equal(t, "Build failed\nStep test & lint\ndone", parsed.Text)
}

func TestParseLatin1(t *testing.T) {
	raw := "From: x@example.com\r\n" +
		"Subject: hi\r\n" +
		"Content-Type: text/plain; charset=iso-8859-1\r\n" +
		"Content-Transfer-Encoding: quoted-printable\r\n" +
		"\r\n" +
		"Ol=E1 mundo\r\n"

	parsed, err := parseMail(strings.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, "Olá mundo", parsed.Text)
}

func TestCleanText(t *testing.T) {
	assert.Equal(t, "a\nb", cleanText("  a  \r\n\r\n\n\tb\n"))
	assert.Equal(t, "", cleanText("\n \n"))
}

func TestFormatAddress(t *testing.T) {
	assert.Equal(t, "a@b.c", formatAddress("", "a@b.c"))
	assert.Equal(t, "Ann <a@b.c>", formatAddress("Ann", "a@b.c"))
	assert.Equal(t, "Ann", formatAddress("Ann", "@"))
}
