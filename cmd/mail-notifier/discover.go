package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mail-notifier/internal/config"
	"mail-notifier/internal/services/telegram"
)

var discoverCmd = &cobra.Command{
	Use:   "discover-chats",
	Short: "List the chats the bot has recently seen",
	Long: `Discover-chats reads the pending bot updates and prints the id of every chat
that messaged the bot or added it. Send any message to the bot first, then
copy the id into telegram.chat_id or an account destination.`,
	RunE: runDiscover,
}

func runDiscover(cmd *cobra.Command, _ []string) error {
	// Only the Telegram section is needed here.
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	if _, err := secretResolver(cfg); err != nil {
		return err
	}
	if cfg.Telegram.BotToken == "" {
		return fmt.Errorf("telegram.bot_token is required")
	}

	chats, err := telegram.DiscoverChatIDs(cfg.Telegram)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if len(chats) == 0 {
		fmt.Fprintln(out, "No chats found. Send a message to the bot and try again.")
		return nil
	}
	for _, chat := range chats {
		fmt.Fprintf(out, "%s\t%s\t%s\n", chat.ID, chat.Type, chat.Title)
	}
	return nil
}
