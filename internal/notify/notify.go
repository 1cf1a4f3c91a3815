package notify

import (
	"fmt"
	"os"
	"strconv"

	"github.com/sadlil/gologger"

	"payments/internal/ledger"
	"payments/internal/telegram"
	"payments/internal/worker"
)

// TelegramNotifier posts donation settlements to the finance channel.
// Dispatch goes through the worker pool so reconciler paths never wait
// on telegram; a full queue drops the message and logs.
type TelegramNotifier struct {
	bot    *telegram.Bot
	chatId int64
	pool   *worker.Pool
	logger gologger.GoLogger
}

func NewTelegramNotifier(pool *worker.Pool, logger gologger.GoLogger) (*TelegramNotifier, error) {
	token := os.Getenv("TELEGRAM_TOKEN")
	if token == "" {
		return nil, fmt.Errorf("TELEGRAM_TOKEN is not set")
	}
	chatRaw := os.Getenv("FINANCE_CHAT_ID")
	if chatRaw == "" {
		return nil, fmt.Errorf("FINANCE_CHAT_ID is not set")
	}
	chatId, err := strconv.ParseInt(chatRaw, 10, 64)
	if err != nil {
		return nil, err
	}
	bot, err := telegram.NewBot(token)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: bot, chatId: chatId, pool: pool, logger: logger}, nil
}

type donationTask struct {
	n      *TelegramNotifier
	notice ledger.DonationNotice
}

func (t donationTask) Execute() {
	n := t.n
	sender := "anonymous"
	if t.notice.Sender != nil {
		sender = t.notice.Sender.UserName
	}
	msg := fmt.Sprintf(
		`DONATION SETTLED
Amount: %s %s
From: %s
To: %s
Article: %s`,
		telegram.EscapeMarkdownV2(t.notice.Tx.Amount.String()),
		t.notice.Tx.Currency,
		telegram.EscapeMarkdownV2(sender),
		telegram.EscapeMarkdownV2(t.notice.Recipient.UserName),
		telegram.EscapeMarkdownV2(t.notice.Article.Title),
	)
	if err := n.bot.SendMarkdown(n.chatId, msg); err != nil && n.logger != (gologger.GoLogger{}) {
		n.logger.Warn(fmt.Sprintf("donation notification failed: %v", err))
	}
}

// NotifyDonation implements ledger.DonationNotifier.
func (n *TelegramNotifier) NotifyDonation(notice ledger.DonationNotice) {
	if !n.pool.TryExec(donationTask{n: n, notice: notice}) && n.logger != (gologger.GoLogger{}) {
		n.logger.Warn(fmt.Sprintf("notification queue full, dropped donation %s", notice.Tx.UUID))
	}
}

// NotifyOps posts an operator-visible alert for hard reconciliation
// failures. Best effort.
func (n *TelegramNotifier) NotifyOps(msg string) {
	task := opsTask{n: n, msg: msg}
	if !n.pool.TryExec(task) && n.logger != (gologger.GoLogger{}) {
		n.logger.Warn("notification queue full, dropped ops alert")
	}
}

type opsTask struct {
	n   *TelegramNotifier
	msg string
}

func (t opsTask) Execute() {
	if err := t.n.bot.SendMarkdown(t.n.chatId, telegram.EscapeMarkdownV2(t.msg)); err != nil && t.n.logger != (gologger.GoLogger{}) {
		t.n.logger.Warn(fmt.Sprintf("ops alert failed: %v", err))
	}
}
