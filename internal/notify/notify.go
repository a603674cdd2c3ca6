package notify

import (
	"context"
	"fmt"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/sirupsen/logrus"

	"vitrine/internal/domain"
)

// Notifier одноразовое уведомление о переходе заказа в paid. Вызывается
// движком сверки ровно один раз на заказ; ошибки доставки логируются и
// никогда не влияют на статус заказа.
type Notifier interface {
	Notify(ctx context.Context, o *domain.Order)
}

// Noop заглушка на случай, когда бот не настроен
type Noop struct{}

func (Noop) Notify(context.Context, *domain.Order) {}

// TelegramNotifier отправка сообщения о покупке в чат через Bot API
type TelegramNotifier struct {
	bot    *tgbotapi.BotAPI
	chatID int64
	log    logrus.FieldLogger
}

func NewTelegramNotifier(botToken string, chatID int64, log logrus.FieldLogger) (*TelegramNotifier, error) {
	bot, err := tgbotapi.NewBotAPI(botToken)
	if err != nil {
		return nil, err
	}
	return &TelegramNotifier{bot: bot, chatID: chatID, log: log}, nil
}

func (t *TelegramNotifier) Notify(ctx context.Context, o *domain.Order) {
	msg := tgbotapi.NewMessage(t.chatID, formatPurchaseMessage(o))
	msg.ParseMode = tgbotapi.ModeMarkdown
	msg.DisableWebPagePreview = true
	if _, err := t.bot.Send(msg); err != nil {
		t.log.WithError(err).WithField("order", o.ID).Error("telegram notification failed")
		return
	}
	t.log.WithField("order", o.ID).Info("telegram notification sent")
}

func formatPurchaseMessage(o *domain.Order) string {
	titles := make([]string, 0, len(o.Items))
	for _, it := range o.Items {
		if it.Title != "" {
			titles = append(titles, it.Title)
		} else {
			titles = append(titles, it.ProductID)
		}
	}

	var price string
	switch o.Currency {
	case "USD":
		price = fmt.Sprintf("$%.2f", o.TotalPrice)
	case "RUB":
		price = fmt.Sprintf("%.0f₽", o.TotalPrice)
	default:
		price = fmt.Sprintf("%.2f %s", o.TotalPrice, o.Currency)
	}

	var b strings.Builder
	b.WriteString("🛒 *Новая покупка!*\n\n")
	fmt.Fprintf(&b, "* Товар:* %s\n", strings.Join(titles, ", "))
	fmt.Fprintf(&b, "* Куплен:* %s\n", price)
	if o.TelegramDiscord != "" {
		fmt.Fprintf(&b, "* Telegram/Discord:* %s\n", o.TelegramDiscord)
	}
	if o.SteamProfile != "" {
		fmt.Fprintf(&b, "* Steam профиль:* %s\n", o.SteamProfile)
	}
	fmt.Fprintf(&b, "* Способ оплаты:* %s\n", strings.ToUpper(string(o.PaymentProvider)))
	fmt.Fprintf(&b, "* ID заказа:* `%s`", o.ID)
	return b.String()
}
