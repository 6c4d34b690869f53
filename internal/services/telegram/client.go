package telegram

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"mail-notifier/internal/config"
	"mail-notifier/internal/models"
)

// APIError is a non-ok response from the Bot API.
type APIError struct {
	Code        int
	Description string
	retryAfter  time.Duration
}

func (e *APIError) Error() string {
	return fmt.Sprintf("telegram api error %d: %s", e.Code, e.Description)
}

// RetryAfter is the flood-control wait requested by the server, if any.
func (e *APIError) RetryAfter() time.Duration {
	return e.retryAfter
}

// Client sends messages through the Bot API, keeping one bot per token.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *zap.Logger

	mu   sync.Mutex
	bots map[string]*tgbotapi.BotAPI
}

func NewClient(cfg config.TelegramConfig, logger *zap.Logger) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = tgbotapi.APIEndpoint
	}

	return &Client{
		endpoint:   endpoint,
		httpClient: newHTTPClient(timeout),
		logger:     logger,
		bots:       make(map[string]*tgbotapi.BotAPI),
	}
}

func newHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			DialContext: (&net.Dialer{
				Timeout:   timeout,
				KeepAlive: 30 * time.Second,
			}).DialContext,
			TLSHandshakeTimeout:   timeout,
			ResponseHeaderTimeout: timeout,
			ExpectContinueTimeout: 1 * time.Second,
			MaxIdleConns:          100,
		},
	}
}

// Send performs one sendMessage call with MarkdownV2 formatting. Retries are
// left to the caller.
func (c *Client) Send(ctx context.Context, dest models.Destination, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	msg, err := newMessage(dest.Target, text)
	if err != nil {
		return err
	}

	bot, err := c.botFor(dest.Credential)
	if err != nil {
		return err
	}

	if _, err := bot.Send(msg); err != nil {
		return translateError(err)
	}

	c.logger.Debug("Telegram message sent",
		zap.String("destination", dest.Name),
		zap.String("chatID", dest.Target))
	return nil
}

func newMessage(target, text string) (tgbotapi.MessageConfig, error) {
	var msg tgbotapi.MessageConfig
	if strings.HasPrefix(target, "@") {
		msg = tgbotapi.NewMessageToChannel(target, text)
	} else {
		chatID, err := parseInt64(target)
		if err != nil {
			return msg, fmt.Errorf("invalid chat ID %q: %w", target, err)
		}
		msg = tgbotapi.NewMessage(chatID, text)
	}
	msg.ParseMode = tgbotapi.ModeMarkdownV2
	msg.DisableWebPagePreview = true
	return msg, nil
}

// botFor returns the cached bot for token, creating it on first use. A bot
// that fails getMe is not cached so the next send tries again.
func (c *Client) botFor(token string) (*tgbotapi.BotAPI, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if bot, ok := c.bots[token]; ok {
		return bot, nil
	}

	bot, err := tgbotapi.NewBotAPIWithClient(token, c.endpoint, c.httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", translateError(err))
	}
	c.bots[token] = bot
	return bot, nil
}

func translateError(err error) error {
	var tgErr *tgbotapi.Error
	if errors.As(err, &tgErr) {
		return &APIError{
			Code:        tgErr.Code,
			Description: tgErr.Message,
			retryAfter:  time.Duration(tgErr.RetryAfter) * time.Second,
		}
	}
	return err
}

func parseInt64(s string) (int64, error) {
	return strconv.ParseInt(s, 10, 64)
}
