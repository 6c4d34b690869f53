package telegram

import (
	"fmt"
	"strconv"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"

	"mail-notifier/internal/config"
)

// ChatInfo describes a chat the bot has seen in its pending updates.
type ChatInfo struct {
	ID    string
	Type  string
	Title string
}

// DiscoverChatIDs lists the chats found in the bot's pending updates, so an
// operator can copy the right chat id into the configuration. Someone has to
// message the bot (or add it to the group) first.
func DiscoverChatIDs(cfg config.TelegramConfig) ([]ChatInfo, error) {
	c := NewClient(cfg, zap.NewNop())
	bot, err := tgbotapi.NewBotAPIWithClient(cfg.BotToken, c.endpoint, c.httpClient)
	if err != nil {
		return nil, fmt.Errorf("creating telegram bot: %w", translateError(err))
	}

	updates, err := bot.GetUpdates(tgbotapi.NewUpdate(0))
	if err != nil {
		return nil, fmt.Errorf("getting updates: %w", translateError(err))
	}

	var chats []ChatInfo
	seen := make(map[int64]bool)
	add := func(chat *tgbotapi.Chat) {
		if chat == nil || seen[chat.ID] {
			return
		}
		seen[chat.ID] = true
		chats = append(chats, ChatInfo{
			ID:    strconv.FormatInt(chat.ID, 10),
			Type:  chat.Type,
			Title: chatTitle(chat),
		})
	}

	for _, update := range updates {
		if update.Message != nil {
			add(update.Message.Chat)
		}
		if update.ChannelPost != nil {
			add(update.ChannelPost.Chat)
		}
		if update.MyChatMember != nil {
			add(&update.MyChatMember.Chat)
		}
	}
	return chats, nil
}

func chatTitle(chat *tgbotapi.Chat) string {
	switch {
	case chat.Title != "":
		return chat.Title
	case chat.UserName != "":
		return "@" + chat.UserName
	default:
		return strings.TrimSpace(chat.FirstName + " " + chat.LastName)
	}
}
