package payment

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"vitrine/internal/config"
	"vitrine/internal/domain"
)

// YooKassaAdapter провайдер A: редирект-оплата картой через ЮKassa.
// Клиент собран вручную поверх net/http: API простое (два эндпоинта),
// авторизация Basic shopId:secretKey, идемпотентность через заголовок
// Idempotence-Key.
type YooKassaAdapter struct {
	cfg    config.YooKassaConfig
	orders OrderSource
	http   *http.Client
	log    logrus.FieldLogger
}

func NewYooKassaAdapter(cfg config.YooKassaConfig, orders OrderSource, log logrus.FieldLogger) *YooKassaAdapter {
	return &YooKassaAdapter{
		cfg:    cfg,
		orders: orders,
		http:   &http.Client{Timeout: 15 * time.Second},
		log:    log,
	}
}

var _ Adapter = (*YooKassaAdapter)(nil)

func (a *YooKassaAdapter) Provider() domain.Provider { return domain.ProviderYooKassa }

type ykAmount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type ykConfirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type ykPayment struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Paid         bool              `json:"paid"`
	Amount       ykAmount          `json:"amount"`
	Confirmation *ykConfirmation   `json:"confirmation,omitempty"`
	Description  string            `json:"description,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

type ykEvent struct {
	Event  string    `json:"event"`
	Object ykPayment `json:"object"`
}

func (a *YooKassaAdapter) authorization() (string, error) {
	if a.cfg.ShopID != "" && a.cfg.SecretKey != "" {
		creds := base64.StdEncoding.EncodeToString([]byte(a.cfg.ShopID + ":" + a.cfg.SecretKey))
		return "Basic " + creds, nil
	}
	if a.cfg.APIKey != "" {
		return "Bearer " + a.cfg.APIKey, nil
	}
	return "", errors.New("yookassa credentials are not configured")
}

func (a *YooKassaAdapter) Initiate(ctx context.Context, p InitiateParams) (*Payment, error) {
	if _, err := ensureOrder(ctx, a.orders, p.OrderID); err != nil {
		return nil, err
	}
	if p.Currency == "" {
		p.Currency = "RUB"
	}
	// Бесплатный заказ провайдера не видит
	if p.Amount <= 0 {
		return presettled("free_", domain.ProviderYooKassa, p), nil
	}
	if a.cfg.TestMode {
		return presettled("test_", domain.ProviderYooKassa, p), nil
	}

	payload := map[string]interface{}{
		"amount":  ykAmount{Value: amountValue(p.Amount), Currency: p.Currency},
		"capture": true,
		"confirmation": map[string]string{
			"type":       "redirect",
			"return_url": p.ReturnURL,
		},
		"metadata": map[string]string{"orderId": p.OrderID},
	}
	if p.Description != "" {
		payload["description"] = p.Description
	}

	var created ykPayment
	if err := a.call(ctx, http.MethodPost, "/v3/payments", payload, &created); err != nil {
		return nil, err
	}

	out := &Payment{
		ID:       created.ID,
		Status:   created.Status,
		Paid:     created.Paid,
		Amount:   created.Amount.Value,
		Currency: created.Amount.Currency,
	}
	if created.Confirmation != nil {
		out.ConfirmationURL = created.Confirmation.ConfirmationURL
	}
	return out, nil
}

func (a *YooKassaAdapter) PollStatus(ctx context.Context, id, orderIDHint string) (domain.Outcome, error) {
	if out, ok := shortCircuit(domain.ProviderYooKassa, id, orderIDHint, a.cfg.TestMode); ok {
		return out, nil
	}
	var pmt ykPayment
	if err := a.call(ctx, http.MethodGet, "/v3/payments/"+url.PathEscape(id), nil, &pmt); err != nil {
		return domain.Outcome{}, err
	}
	return a.outcome(pmt), nil
}

// Capture у ЮKassa платежи создаются с capture:true, отдельного шага нет
func (a *YooKassaAdapter) Capture(ctx context.Context, id string) (domain.Outcome, error) {
	return a.PollStatus(ctx, id, "")
}

// HandleWebhook у ЮKassa нет подписи в заголовках, поэтому само уведомление
// считается лишь подсказкой: статус и metadata перечитываются из API по id
// объекта, и только этот авторитетный ответ уходит в сверку.
func (a *YooKassaAdapter) HandleWebhook(req *http.Request, body []byte) (domain.Outcome, error) {
	var event ykEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.Outcome{}, errors.Wrap(ErrSignature, "malformed yookassa event")
	}
	if event.Object.ID == "" {
		return domain.Outcome{}, errors.Wrap(ErrSignature, "yookassa event without payment id")
	}
	a.log.WithFields(logrus.Fields{"event": event.Event, "payment": event.Object.ID}).Info("yookassa webhook")
	return a.PollStatus(req.Context(), event.Object.ID, "")
}

func (a *YooKassaAdapter) outcome(p ykPayment) domain.Outcome {
	out := domain.Outcome{
		TransactionID: p.ID,
		OrderID:       pickOrderID(p.Metadata),
		Provider:      domain.ProviderYooKassa,
		Currency:      p.Amount.Currency,
	}
	switch p.Status {
	case "succeeded", "captured", "waiting_for_capture":
		out.Status = domain.OutcomeSucceeded
	case "canceled":
		out.Status = domain.OutcomeCancelled
	case "pending", "waiting":
		out.Status = domain.OutcomePending
	default:
		out.Status = domain.OutcomeUnknown
	}
	return out
}

func (a *YooKassaAdapter) call(ctx context.Context, method, path string, payload, result interface{}) error {
	auth, err := a.authorization()
	if err != nil {
		return err
	}
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return errors.Wrap(err, "encode yookassa request")
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, a.cfg.APIBase+path, body)
	if err != nil {
		return errors.Wrap(err, "build yookassa request")
	}
	req.Header.Set("Authorization", auth)
	req.Header.Set("Content-Type", "application/json")
	if method == http.MethodPost {
		req.Header.Set("Idempotence-Key", uuid.NewString())
	}

	res, err := a.http.Do(req)
	if err != nil {
		return providerErr(err, "yookassa %s %s", method, path)
	}
	defer res.Body.Close()
	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return providerErr(err, "yookassa read response")
	}
	if res.StatusCode < 200 || res.StatusCode > 299 {
		return errors.Wrapf(ErrProvider, "yookassa %s %s: status %d: %s", method, path, res.StatusCode, raw)
	}
	if result != nil {
		if err := json.Unmarshal(raw, result); err != nil {
			return errors.Wrapf(ErrProvider, "yookassa decode response: %v", err)
		}
	}
	return nil
}
