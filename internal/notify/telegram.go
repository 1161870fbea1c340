// Package notify tells owners on Telegram when a slot expires and when it is
// paid out. Owner ids that are Telegram user ids double as chat ids; other
// owners are skipped.
package notify

import (
	"context"
	"fmt"
	"html"
	"strconv"
	"time"

	"slot-ledger-go/internal/events"

	"github.com/go-telegram/bot"
	tgmodels "github.com/go-telegram/bot/models"
	"go.uber.org/zap"
)

const sendTimeout = 10 * time.Second

// Sender delivers one HTML message to a chat
type Sender interface {
	SendNotification(ctx context.Context, chatID int64, text string) error
}

type TelegramSender struct {
	bot *bot.Bot
}

func NewTelegramSender(token string) (*TelegramSender, error) {
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}
	b, err := bot.New(token)
	if err != nil {
		return nil, fmt.Errorf("create bot: %w", err)
	}
	return &TelegramSender{bot: b}, nil
}

func (s *TelegramSender) SendNotification(ctx context.Context, chatID int64, text string) error {
	disablePreview := true
	_, err := s.bot.SendMessage(ctx, &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: tgmodels.ParseModeHTML,
		LinkPreviewOptions: &tgmodels.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	})
	return err
}

type Notifier struct {
	sender Sender
}

func New(sender Sender) *Notifier {
	return &Notifier{sender: sender}
}

// Run handles bus events until ctx is done or the subscription closes
func (n *Notifier) Run(ctx context.Context, sub *events.Subscription) {
	zap.L().Info("Telegram notifier started")
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-sub.Events():
			if !ok {
				return
			}
			if err := n.Handle(ctx, evt); err != nil {
				zap.L().Warn("Failed to send telegram notification",
					zap.String("type", string(evt.Type)),
					zap.String("owner_id", evt.OwnerId),
					zap.Error(err))
			}
		}
	}
}

// Handle sends the notice for one event, if it has one
func (n *Notifier) Handle(ctx context.Context, evt events.Event) error {
	text := format(evt)
	if text == "" {
		return nil
	}

	chatID, err := strconv.ParseInt(evt.OwnerId, 10, 64)
	if err != nil {
		zap.L().Debug("Owner has no telegram chat, skipping", zap.String("owner_id", evt.OwnerId))
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, sendTimeout)
	defer cancel()
	return n.sender.SendNotification(ctx, chatID, text)
}

func format(evt events.Event) string {
	switch evt.Type {
	case events.SlotExpired:
		if evt.Slot == nil {
			return ""
		}
		return fmt.Sprintf("⏳ <b>Slot matured</b>\nSlot <code>%s</code> earned %s %s and is ready to claim.",
			html.EscapeString(evt.Slot.Id),
			evt.Slot.AccruedEarnings.String(),
			html.EscapeString(evt.Slot.Currency))
	case events.SlotClaimed:
		if evt.Claim == nil {
			return ""
		}
		return fmt.Sprintf("✅ <b>Slot paid out</b>\n%s %s credited from slot <code>%s</code>.\nNew balance: %s %s",
			evt.Claim.Transaction.Amount.String(),
			html.EscapeString(evt.Claim.Slot.Currency),
			html.EscapeString(evt.Claim.Slot.Id),
			evt.Claim.Wallet.Balance.String(),
			html.EscapeString(evt.Claim.Wallet.Currency))
	}
	return ""
}
