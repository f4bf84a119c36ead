package main

import (
	"fmt"
	"log"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api"
)

// TelegramAnnouncer posts winner announcements to a channel. It is strictly
// fire-and-forget: a send failure is logged and the ledger never hears
// about it.
type TelegramAnnouncer struct {
	bot    *tgbotapi.BotAPI
	chatID int64
}

func NewTelegramAnnouncer(token string, chatID int64) (*TelegramAnnouncer, error) {
	bot, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, err
	}
	return &TelegramAnnouncer{bot: bot, chatID: chatID}, nil
}

func (t *TelegramAnnouncer) AnnounceWinner(crosswordID, displayName string, rank int, amount int64) {
	text := fmt.Sprintf("🏆 %s finished crossword %s at rank %d and won %d!", displayName, crosswordID, rank, amount)
	msg := tgbotapi.NewMessage(t.chatID, text)
	if _, err := t.bot.Send(msg); err != nil {
		log.Println("winner announcement failed:", err)
	}
}
