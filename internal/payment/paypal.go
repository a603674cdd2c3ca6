package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/pkg/errors"
	"github.com/plutov/paypal/v4"
	"github.com/sirupsen/logrus"

	"vitrine/internal/config"
	"vitrine/internal/domain"
)

// PayPalAdapter провайдер B: кошелёк с редиректом на одобрение. Связь с
// заказом едет в custom_id; у этого провайдера capture не идемпотентен —
// повторный вызов возвращает ORDER_ALREADY_CAPTURED вместо объекта, и
// адаптер обязан поглотить эту ошибку, перечитав статус.
type PayPalAdapter struct {
	cfg          config.PayPalConfig
	client       *paypal.Client
	orders       OrderSource
	frontendBase string
	log          logrus.FieldLogger
}

func NewPayPalAdapter(cfg config.PayPalConfig, orders OrderSource, frontendBase string, log logrus.FieldLogger) (*PayPalAdapter, error) {
	base := cfg.APIBase
	if base == "" {
		if cfg.Env == "live" {
			base = paypal.APIBaseLive
		} else {
			base = paypal.APIBaseSandBox
		}
	}
	c, err := paypal.NewClient(cfg.ClientID, cfg.Secret, base)
	if err != nil {
		return nil, errors.Wrap(err, "paypal client")
	}
	return &PayPalAdapter{cfg: cfg, client: c, orders: orders, frontendBase: frontendBase, log: log}, nil
}

var _ Adapter = (*PayPalAdapter)(nil)

func (a *PayPalAdapter) Provider() domain.Provider { return domain.ProviderPayPal }

func (a *PayPalAdapter) ensureAuth(ctx context.Context) error {
	if a.client.Token != nil {
		return nil
	}
	if _, err := a.client.GetAccessToken(ctx); err != nil {
		return providerErr(err, "paypal access token")
	}
	return nil
}

func (a *PayPalAdapter) Initiate(ctx context.Context, p InitiateParams) (*Payment, error) {
	if _, err := ensureOrder(ctx, a.orders, p.OrderID); err != nil {
		return nil, err
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if p.Amount <= 0 {
		return presettled("free_", domain.ProviderPayPal, p), nil
	}
	if a.cfg.TestMode {
		return presettled("test_", domain.ProviderPayPal, p), nil
	}
	if err := a.ensureAuth(ctx); err != nil {
		return nil, err
	}

	returnURL := fmt.Sprintf("%s/success/%s?provider=paypal", a.frontendBase, url.PathEscape(p.OrderID))
	cancelURL := fmt.Sprintf("%s/cancel/%s?provider=paypal", a.frontendBase, url.PathEscape(p.OrderID))

	order, err := a.client.CreateOrder(ctx, paypal.OrderIntentCapture,
		[]paypal.PurchaseUnitRequest{{
			Amount: &paypal.PurchaseUnitAmount{
				Currency: p.Currency,
				Value:    amountValue(p.Amount),
			},
			CustomID: p.OrderID,
		}},
		nil,
		&paypal.ApplicationContext{ReturnURL: returnURL, CancelURL: cancelURL},
	)
	if err != nil {
		return nil, providerErr(err, "paypal create order")
	}

	out := &Payment{
		ID:       order.ID,
		Status:   order.Status,
		Amount:   amountValue(p.Amount),
		Currency: p.Currency,
	}
	for _, l := range order.Links {
		if l.Rel == "approve" {
			out.ConfirmationURL = l.Href
			break
		}
	}
	return out, nil
}

func (a *PayPalAdapter) PollStatus(ctx context.Context, id, orderIDHint string) (domain.Outcome, error) {
	if out, ok := shortCircuit(domain.ProviderPayPal, id, orderIDHint, a.cfg.TestMode); ok {
		return out, nil
	}
	if err := a.ensureAuth(ctx); err != nil {
		return domain.Outcome{}, err
	}
	order, err := a.client.GetOrder(ctx, id)
	if err != nil {
		return domain.Outcome{}, providerErr(err, "paypal get order %s", id)
	}
	return a.orderOutcome(ctx, order), nil
}

// Capture подтверждает одобренный плательщиком платёж. Повтор на уже
// списанном заказе — не ошибка для ядра: ORDER_ALREADY_CAPTURED
// поглощается и заменяется авторитетным ответом статуса.
func (a *PayPalAdapter) Capture(ctx context.Context, id string) (domain.Outcome, error) {
	if out, ok := shortCircuit(domain.ProviderPayPal, id, "", a.cfg.TestMode); ok {
		return out, nil
	}
	if err := a.ensureAuth(ctx); err != nil {
		return domain.Outcome{}, err
	}
	if _, err := a.client.CaptureOrder(ctx, id, paypal.CaptureOrderRequest{}); err != nil {
		if isAlreadyCaptured(err) {
			a.log.WithField("paypal_order", id).Info("capture repeated on settled order, falling back to status")
			return a.PollStatus(ctx, id, "")
		}
		return domain.Outcome{}, providerErr(err, "paypal capture order %s", id)
	}
	// каноничный результат берём из свежего статуса, а не из ответа capture
	return a.PollStatus(ctx, id, "")
}

func isAlreadyCaptured(err error) bool {
	var pe *paypal.ErrorResponse
	if !errors.As(err, &pe) {
		return false
	}
	for _, d := range pe.Details {
		if d.Issue == "ORDER_ALREADY_CAPTURED" {
			return true
		}
	}
	return false
}

type ppWebhookResource struct {
	ID            string `json:"id"`
	Status        string `json:"status"`
	CustomID      string `json:"custom_id"`
	PurchaseUnits []struct {
		CustomID string `json:"custom_id"`
		Amount   struct {
			CurrencyCode string `json:"currency_code"`
			Value        string `json:"value"`
		} `json:"amount"`
	} `json:"purchase_units"`
	Amount struct {
		CurrencyCode string `json:"currency_code"`
		Value        string `json:"value"`
	} `json:"amount"`
}

type ppWebhookEvent struct {
	EventType string            `json:"event_type"`
	Resource  ppWebhookResource `json:"resource"`
}

func (a *PayPalAdapter) HandleWebhook(req *http.Request, body []byte) (domain.Outcome, error) {
	ctx := req.Context()
	if a.cfg.WebhookID == "" {
		return domain.Outcome{}, errors.Wrap(ErrSignature, "paypal webhook id is not configured")
	}
	if err := a.ensureAuth(ctx); err != nil {
		return domain.Outcome{}, err
	}
	req.Body = io.NopCloser(bytes.NewReader(body))
	vr, err := a.client.VerifyWebhookSignature(ctx, req, a.cfg.WebhookID)
	if err != nil {
		return domain.Outcome{}, providerErr(err, "paypal verify webhook")
	}
	if vr.VerificationStatus != "SUCCESS" {
		return domain.Outcome{}, errors.Wrapf(ErrSignature, "paypal verification status %s", vr.VerificationStatus)
	}

	var event ppWebhookEvent
	if err := json.Unmarshal(body, &event); err != nil {
		return domain.Outcome{}, errors.Wrapf(ErrSignature, "paypal event payload: %v", err)
	}

	out := domain.Outcome{
		TransactionID: event.Resource.ID,
		Provider:      domain.ProviderPayPal,
		Status:        domain.OutcomeUnknown,
	}
	switch event.EventType {
	case "CHECKOUT.ORDER.APPROVED", "PAYMENT.CAPTURE.COMPLETED":
		out.Status = domain.OutcomeSucceeded
	case "PAYMENT.CAPTURE.DENIED":
		out.Status = domain.OutcomeFailed
	default:
		a.log.WithField("type", event.EventType).Debug("unhandled paypal event")
	}

	out.OrderID = event.Resource.CustomID
	amountStr := event.Resource.Amount.Value
	out.Currency = event.Resource.Amount.CurrencyCode
	if len(event.Resource.PurchaseUnits) > 0 {
		u := event.Resource.PurchaseUnits[0]
		if out.OrderID == "" {
			out.OrderID = u.CustomID
		}
		if amountStr == "" {
			amountStr = u.Amount.Value
			out.Currency = u.Amount.CurrencyCode
		}
	}
	if out.OrderID == "" && amountStr != "" {
		if amount, err := strconv.ParseFloat(amountStr, 64); err == nil {
			if id, ok := matchOrderByAmount(ctx, a.orders, amount); ok {
				out.OrderID = id
				out.AmountMatched = true
			}
		}
	}
	return out, nil
}

// ResolveOrderID находит внутренний заказ по провайдерскому: сначала прямое
// поле custom_id, затем запасная сверка по сумме. Возвращает источник
// корреляции ("custom_id" либо "amount").
func (a *PayPalAdapter) ResolveOrderID(ctx context.Context, providerOrderID string) (string, string, error) {
	if err := a.ensureAuth(ctx); err != nil {
		return "", "", err
	}
	order, err := a.client.GetOrder(ctx, providerOrderID)
	if err != nil {
		return "", "", providerErr(err, "paypal get order %s", providerOrderID)
	}
	if len(order.PurchaseUnits) > 0 {
		u := order.PurchaseUnits[0]
		if u.CustomID != "" {
			if _, err := a.orders.GetByID(ctx, u.CustomID); err == nil {
				return u.CustomID, "custom_id", nil
			}
		}
		if u.Amount != nil {
			if amount, perr := strconv.ParseFloat(u.Amount.Value, 64); perr == nil {
				if id, ok := matchOrderByAmount(ctx, a.orders, amount); ok {
					return id, "amount", nil
				}
			}
		}
	}
	return "", "", errors.Wrapf(ErrOrderUnresolved, "paypal order %s", providerOrderID)
}

func (a *PayPalAdapter) orderOutcome(ctx context.Context, order *paypal.Order) domain.Outcome {
	out := domain.Outcome{
		TransactionID: order.ID,
		Provider:      domain.ProviderPayPal,
	}
	switch order.Status {
	case "COMPLETED":
		out.Status = domain.OutcomeSucceeded
	case "VOIDED":
		out.Status = domain.OutcomeCancelled
	case "CREATED", "SAVED", "APPROVED", "PAYER_ACTION_REQUIRED":
		out.Status = domain.OutcomePending
	default:
		out.Status = domain.OutcomeUnknown
	}
	if len(order.PurchaseUnits) > 0 {
		u := order.PurchaseUnits[0]
		out.OrderID = u.CustomID
		if u.Amount != nil {
			out.Currency = u.Amount.Currency
			if out.OrderID == "" {
				if amount, err := strconv.ParseFloat(u.Amount.Value, 64); err == nil {
					if id, ok := matchOrderByAmount(ctx, a.orders, amount); ok {
						out.OrderID = id
						out.AmountMatched = true
					}
				}
			}
		}
	}
	return out
}
