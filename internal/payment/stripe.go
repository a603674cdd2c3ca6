package payment

import (
	"context"
	"encoding/json"
	"math"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	stripe "github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/client"
	"github.com/stripe/stripe-go/v76/webhook"

	"vitrine/internal/config"
	"vitrine/internal/domain"
)

// StripeAdapter провайдер C: оплата картой через Stripe PaymentIntents с
// редиректом на Checkout Session. Связь с заказом едет в metadata.orderId.
type StripeAdapter struct {
	cfg    config.StripeConfig
	sc     *client.API
	orders OrderSource
	log    logrus.FieldLogger
}

func NewStripeAdapter(cfg config.StripeConfig, orders OrderSource, log logrus.FieldLogger) *StripeAdapter {
	sc := &client.API{}
	if cfg.APIBase != "" {
		b := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
			URL: stripe.String(cfg.APIBase),
		})
		sc.Init(cfg.SecretKey, &stripe.Backends{API: b, Connect: b, Uploads: b})
	} else {
		sc.Init(cfg.SecretKey, nil)
	}
	return &StripeAdapter{cfg: cfg, sc: sc, orders: orders, log: log}
}

var _ Adapter = (*StripeAdapter)(nil)

func (a *StripeAdapter) Provider() domain.Provider { return domain.ProviderStripe }

// zeroDecimal валюты без минорных единиц
var zeroDecimal = map[string]bool{"JPY": true, "KRW": true}

func toStripeAmount(amount float64, currency string) int64 {
	if zeroDecimal[strings.ToUpper(currency)] {
		return int64(math.Round(amount))
	}
	return int64(math.Round(amount * 100))
}

func (a *StripeAdapter) Initiate(ctx context.Context, p InitiateParams) (*Payment, error) {
	if _, err := ensureOrder(ctx, a.orders, p.OrderID); err != nil {
		return nil, err
	}
	if p.Currency == "" {
		p.Currency = "USD"
	}
	if p.Amount <= 0 {
		return presettled("free_", domain.ProviderStripe, p), nil
	}
	if a.cfg.TestMode {
		return presettled("test_", domain.ProviderStripe, p), nil
	}

	cents := toStripeAmount(p.Amount, p.Currency)
	lower := strings.ToLower(p.Currency)

	piParams := &stripe.PaymentIntentParams{
		Params:   stripe.Params{Context: ctx},
		Amount:   stripe.Int64(cents),
		Currency: stripe.String(lower),
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	if p.Description != "" {
		piParams.Description = stripe.String(p.Description)
	}
	piParams.AddMetadata("orderId", p.OrderID)
	pi, err := a.sc.PaymentIntents.New(piParams)
	if err != nil {
		return nil, providerErr(err, "stripe create payment intent")
	}

	name := p.Description
	if name == "" {
		name = "Order Payment"
	}
	sessParams := &stripe.CheckoutSessionParams{
		Params: stripe.Params{Context: ctx},
		Mode:   stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: map[string]string{"orderId": p.OrderID},
		},
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency: stripe.String(lower),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(name),
				},
				UnitAmount: stripe.Int64(cents),
			},
			Quantity: stripe.Int64(1),
		}},
		SuccessURL: stripe.String(p.ReturnURL + "?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:  stripe.String(p.ReturnURL),
	}
	sessParams.AddMetadata("orderId", p.OrderID)
	sess, err := a.sc.CheckoutSessions.New(sessParams)
	if err != nil {
		return nil, providerErr(err, "stripe create checkout session")
	}

	return &Payment{
		ID:              pi.ID,
		Status:          string(pi.Status),
		Paid:            false,
		Amount:          amountValue(p.Amount),
		Currency:        p.Currency,
		ConfirmationURL: sess.URL,
	}, nil
}

func (a *StripeAdapter) PollStatus(ctx context.Context, id, orderIDHint string) (domain.Outcome, error) {
	if out, ok := shortCircuit(domain.ProviderStripe, id, orderIDHint, a.cfg.TestMode); ok {
		return out, nil
	}
	params := &stripe.PaymentIntentParams{Params: stripe.Params{Context: ctx}}
	pi, err := a.sc.PaymentIntents.Get(id, params)
	if err != nil {
		// id может быть Checkout Session — пробуем достать intent из сессии
		sessParams := &stripe.CheckoutSessionParams{Params: stripe.Params{Context: ctx}}
		sess, sessErr := a.sc.CheckoutSessions.Get(id, sessParams)
		if sessErr != nil || sess.PaymentIntent == nil {
			return domain.Outcome{}, providerErr(err, "stripe retrieve payment %s", id)
		}
		pi, err = a.sc.PaymentIntents.Get(sess.PaymentIntent.ID, params)
		if err != nil {
			return domain.Outcome{}, providerErr(err, "stripe retrieve payment intent %s", sess.PaymentIntent.ID)
		}
	}
	return a.intentOutcome(pi), nil
}

// Capture у PaymentIntents с automatic_payment_methods списание происходит
// на стороне Stripe, отдельного клиентского шага нет
func (a *StripeAdapter) Capture(ctx context.Context, id string) (domain.Outcome, error) {
	return a.PollStatus(ctx, id, "")
}

func (a *StripeAdapter) HandleWebhook(req *http.Request, body []byte) (domain.Outcome, error) {
	sig := req.Header.Get("Stripe-Signature")
	if sig == "" {
		return domain.Outcome{}, errors.Wrap(ErrSignature, "missing stripe-signature header")
	}
	event, err := webhook.ConstructEvent(body, sig, a.cfg.WebhookSecret)
	if err != nil {
		return domain.Outcome{}, errors.Wrapf(ErrSignature, "stripe: %v", err)
	}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return domain.Outcome{}, errors.Wrapf(ErrSignature, "stripe event payload: %v", err)
		}
		out := a.intentOutcome(&pi)
		switch event.Type {
		case "payment_intent.succeeded":
			out.Status = domain.OutcomeSucceeded
		case "payment_intent.payment_failed":
			out.Status = domain.OutcomeFailed
		case "payment_intent.canceled":
			out.Status = domain.OutcomeCancelled
		}
		return out, nil
	case "checkout.session.completed":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return domain.Outcome{}, errors.Wrapf(ErrSignature, "stripe event payload: %v", err)
		}
		out := domain.Outcome{
			TransactionID: sess.ID,
			OrderID:       pickOrderID(sess.Metadata),
			Provider:      domain.ProviderStripe,
			Currency:      strings.ToUpper(string(sess.Currency)),
			Status:        domain.OutcomeUnknown,
		}
		if sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusPaid {
			out.Status = domain.OutcomeSucceeded
		}
		return out, nil
	default:
		a.log.WithField("type", event.Type).Debug("unhandled stripe event")
		return domain.Outcome{Provider: domain.ProviderStripe, Status: domain.OutcomeUnknown}, nil
	}
}

func (a *StripeAdapter) intentOutcome(pi *stripe.PaymentIntent) domain.Outcome {
	out := domain.Outcome{
		TransactionID: pi.ID,
		OrderID:       pickOrderID(pi.Metadata),
		Provider:      domain.ProviderStripe,
		Currency:      strings.ToUpper(string(pi.Currency)),
	}
	switch pi.Status {
	case stripe.PaymentIntentStatusSucceeded:
		out.Status = domain.OutcomeSucceeded
	case stripe.PaymentIntentStatusCanceled:
		out.Status = domain.OutcomeCancelled
	case stripe.PaymentIntentStatusProcessing,
		stripe.PaymentIntentStatusRequiresPaymentMethod,
		stripe.PaymentIntentStatusRequiresConfirmation,
		stripe.PaymentIntentStatusRequiresAction,
		stripe.PaymentIntentStatusRequiresCapture:
		out.Status = domain.OutcomePending
	default:
		out.Status = domain.OutcomeUnknown
	}
	return out
}
