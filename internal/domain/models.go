package domain

import "time"

// OrderStatus тип статуса заказа
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusPaid      OrderStatus = "paid"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusCancelled OrderStatus = "cancelled"
)

// Provider идентификатор платёжной системы, через которую рассчитан заказ
type Provider string

const (
	ProviderYooKassa Provider = "yookassa"
	ProviderStripe   Provider = "stripe"
	ProviderPayPal   Provider = "paypal"
)

// LineItem позиция заказа: ссылка на товар плюс снимок названия и цены,
// зафиксированный при создании/обновлении заказа. После фиксации снимок не
// пересчитывается по живому каталогу.
type LineItem struct {
	ProductID string  `json:"id"`
	Title     string  `json:"title,omitempty"`
	Price     float64 `json:"price"`
}

// Order сущность заказа. Status меняется только вперёд: из pending заказ
// уходит в paid, failed или cancelled; из paid обратных переходов нет.
type Order struct {
	ID              string      `json:"id"`
	Name            string      `json:"name"`
	TelegramDiscord string      `json:"telegramDiscord"`
	SteamProfile    string      `json:"steamProfile"`
	Style           string      `json:"style"`
	ColorTheme      string      `json:"colorTheme"`
	Items           []LineItem  `json:"items"`
	TotalPrice      float64     `json:"totalPrice"`
	Status          OrderStatus `json:"status"`
	PaymentProvider Provider    `json:"paymentProvider,omitempty"`
	Currency        string      `json:"currency,omitempty"`
	CreatedAt       time.Time   `json:"createdAt"`
	UpdatedAt       time.Time   `json:"updatedAt"`
}

// Product товар каталога. Original — имя приватного файла; пустая строка
// означает, что после оплаты разблокировать нечего.
type Product struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Price     float64   `json:"price"`
	PriceUSD  *float64  `json:"priceUSD,omitempty"`
	Video     string    `json:"video,omitempty"`
	Badge     string    `json:"badge,omitempty"`
	Original  string    `json:"-"`
	CreatedAt time.Time `json:"createdAt"`
}

// DownloadLink временная ссылка на скачивание приватного файла. Токен —
// единственный секрет; ссылка многоразовая и живёт до ExpiresAt.
type DownloadLink struct {
	Token     string    `json:"token"`
	OrderID   string    `json:"orderId"`
	ProductID string    `json:"productId"`
	Filename  string    `json:"filename"`
	ExpiresAt time.Time `json:"expiresAt"`
	CreatedAt time.Time `json:"createdAt"`
}

// OutcomeStatus каноничный результат платежа, общий для всех провайдеров
type OutcomeStatus string

const (
	OutcomePending   OutcomeStatus = "pending"
	OutcomeSucceeded OutcomeStatus = "succeeded"
	OutcomeFailed    OutcomeStatus = "failed"
	OutcomeCancelled OutcomeStatus = "cancelled"
	OutcomeUnknown   OutcomeStatus = "unknown"
)

// Outcome каноничный кортеж результата платежа, который адаптер отдаёт
// движку сверки независимо от того, пришёл он вебхуком, опросом статуса
// или явным capture. AmountMatched выставляется, когда заказ найден
// эвристикой по сумме, а не по прямому полю корреляции — такой результат
// менее надёжен.
type Outcome struct {
	TransactionID string        `json:"transactionId"`
	OrderID       string        `json:"orderId"`
	Status        OutcomeStatus `json:"status"`
	Provider      Provider      `json:"provider"`
	Currency      string        `json:"currency"`
	AmountMatched bool          `json:"amountMatched,omitempty"`
}

// Settled сообщает, является ли результат терминальным
func (s OutcomeStatus) Settled() bool {
	return s == OutcomeSucceeded || s == OutcomeFailed || s == OutcomeCancelled
}
