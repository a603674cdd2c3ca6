package config

import (
	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// YooKassaConfig доступ к API ЮKassa. Предпочтительна Basic-авторизация
// парой shopId/secretKey; APIKey — запасной bearer-вариант.
type YooKassaConfig struct {
	ShopID    string `envconfig:"YOOKASSA_SHOP_ID"`
	SecretKey string `envconfig:"YOOKASSA_SECRET_KEY"`
	APIKey    string `envconfig:"YOOKASSA_API_KEY"`
	APIBase   string `envconfig:"YOOKASSA_API_BASE" default:"https://api.yookassa.ru"`
	TestMode  bool   `envconfig:"YOOKASSA_TEST_MODE"`
}

// StripeConfig доступ к Stripe. APIBase переопределяется только в тестах.
type StripeConfig struct {
	SecretKey     string `envconfig:"STRIPE_SECRET_KEY"`
	WebhookSecret string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	APIBase       string `envconfig:"STRIPE_API_BASE"`
	TestMode      bool   `envconfig:"STRIPE_TEST_MODE"`
}

// PayPalConfig доступ к PayPal. Env выбирает sandbox или live базу.
type PayPalConfig struct {
	ClientID  string `envconfig:"PAYPAL_CLIENT_ID"`
	Secret    string `envconfig:"PAYPAL_CLIENT_SECRET"`
	Env       string `envconfig:"PAYPAL_ENV" default:"sandbox"`
	WebhookID string `envconfig:"PAYPAL_WEBHOOK_ID"`
	APIBase   string `envconfig:"PAYPAL_API_BASE"`
	TestMode  bool   `envconfig:"PAYPAL_TEST_MODE"`
}

// TelegramConfig чат-бот уведомлений о покупках
type TelegramConfig struct {
	BotToken string `envconfig:"TELEGRAM_BOT_TOKEN"`
	ChatID   int64  `envconfig:"TELEGRAM_CHAT_ID"`
}

// Config собирается один раз на старте процесса и передаётся зависимостям
// явно; глобального состояния нет.
type Config struct {
	Port            string `envconfig:"PORT" default:"9091"`
	DatabasePath    string `envconfig:"DATABASE_PATH" default:"vitrine.db"`
	FrontendBaseURL string `envconfig:"FRONTEND_BASE_URL" default:"http://localhost:5173"`
	PrivateUploads  string `envconfig:"PRIVATE_UPLOADS_DIR" default:"private-uploads"`

	YooKassa YooKassaConfig
	Stripe   StripeConfig
	PayPal   PayPalConfig
	Telegram TelegramConfig
}

// Load читает .env (если есть) и окружение
func Load() (*Config, error) {
	_ = godotenv.Load()
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}
