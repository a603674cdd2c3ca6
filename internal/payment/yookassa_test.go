package payment

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"vitrine/internal/config"
	"vitrine/internal/domain"
	"vitrine/internal/repository"
)

func testLog() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newOrders(t *testing.T, totals ...float64) (*repository.MemoryOrders, []string) {
	t.Helper()
	store := repository.NewMemoryStore()
	orders := repository.NewMemoryOrders(store)
	ids := make([]string, 0, len(totals))
	for _, total := range totals {
		o := domain.Order{Name: "N", Status: domain.OrderStatusPending, TotalPrice: total}
		if err := orders.Create(context.Background(), &o); err != nil {
			t.Fatal(err)
		}
		ids = append(ids, o.ID)
	}
	return orders, ids
}

func TestYooKassa_Initiate_OrderMustExist(t *testing.T) {
	orders, _ := newOrders(t)
	a := NewYooKassaAdapter(config.YooKassaConfig{ShopID: "shop", SecretKey: "sk"}, orders, testLog())

	if _, err := a.Initiate(context.Background(), InitiateParams{OrderID: "ghost", Amount: 5}); err == nil {
		t.Fatalf("expected error for missing order")
	}
	if _, err := a.Initiate(context.Background(), InitiateParams{Amount: 5}); err == nil {
		t.Fatalf("expected error for empty order id")
	}
}

func TestYooKassa_Initiate_FreeAndTestMode(t *testing.T) {
	orders, ids := newOrders(t, 0)
	a := NewYooKassaAdapter(config.YooKassaConfig{ShopID: "shop", SecretKey: "sk"}, orders, testLog())

	p, err := a.Initiate(context.Background(), InitiateParams{OrderID: ids[0], Amount: 0})
	if err != nil {
		t.Fatalf("free initiate: %v", err)
	}
	if !p.Free || !p.Paid || !strings.HasPrefix(p.ID, "free_") {
		t.Fatalf("expected presettled free payment, got %+v", p)
	}
	if p.Outcome == nil || p.Outcome.OrderID != ids[0] || p.Outcome.Status != domain.OutcomeSucceeded {
		t.Fatalf("free payment outcome: %+v", p.Outcome)
	}

	at := NewYooKassaAdapter(config.YooKassaConfig{ShopID: "shop", SecretKey: "sk", TestMode: true}, orders, testLog())
	p, err = at.Initiate(context.Background(), InitiateParams{OrderID: ids[0], Amount: 9.99})
	if err != nil {
		t.Fatalf("test-mode initiate: %v", err)
	}
	if !p.Test || !strings.HasPrefix(p.ID, "test_") || p.Amount != "9.99" {
		t.Fatalf("expected test payment, got %+v", p)
	}
}

func TestYooKassa_Initiate_CreatesRedirectPayment(t *testing.T) {
	orders, ids := newOrders(t, 12.50)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v3/payments" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		if !strings.HasPrefix(r.Header.Get("Authorization"), "Basic ") {
			t.Errorf("missing basic auth")
		}
		if r.Header.Get("Idempotence-Key") == "" {
			t.Errorf("missing idempotence key")
		}
		var payload struct {
			Amount   ykAmount          `json:"amount"`
			Capture  bool              `json:"capture"`
			Metadata map[string]string `json:"metadata"`
		}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Errorf("decode: %v", err)
		}
		if payload.Amount.Value != "12.50" || payload.Amount.Currency != "RUB" || !payload.Capture {
			t.Errorf("payload: %+v", payload)
		}
		if payload.Metadata["orderId"] == "" {
			t.Errorf("orderId metadata not sent")
		}
		json.NewEncoder(w).Encode(ykPayment{
			ID:           "pay-1",
			Status:       "pending",
			Amount:       payload.Amount,
			Confirmation: &ykConfirmation{Type: "redirect", ConfirmationURL: "https://yookassa.example/confirm"},
			Metadata:     payload.Metadata,
		})
	}))
	defer srv.Close()

	a := NewYooKassaAdapter(config.YooKassaConfig{ShopID: "shop", SecretKey: "sk", APIBase: srv.URL}, orders, testLog())
	p, err := a.Initiate(context.Background(), InitiateParams{OrderID: ids[0], Amount: 12.50})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if p.ID != "pay-1" || p.ConfirmationURL != "https://yookassa.example/confirm" {
		t.Fatalf("payment: %+v", p)
	}
}

func TestYooKassa_PollStatus_Mapping(t *testing.T) {
	orders, ids := newOrders(t, 12.50)

	status := "succeeded"
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || !strings.HasPrefix(r.URL.Path, "/v3/payments/") {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(ykPayment{
			ID:       "pay-1",
			Status:   status,
			Amount:   ykAmount{Value: "12.50", Currency: "RUB"},
			Metadata: map[string]string{"orderId": ids[0]},
		})
	}))
	defer srv.Close()

	a := NewYooKassaAdapter(config.YooKassaConfig{ShopID: "shop", SecretKey: "sk", APIBase: srv.URL}, orders, testLog())

	cases := map[string]domain.OutcomeStatus{
		"succeeded":           domain.OutcomeSucceeded,
		"waiting_for_capture": domain.OutcomeSucceeded,
		"canceled":            domain.OutcomeCancelled,
		"pending":             domain.OutcomePending,
		"something_else":      domain.OutcomeUnknown,
	}
	for provider, want := range cases {
		status = provider
		out, err := a.PollStatus(context.Background(), "pay-1", "")
		if err != nil {
			t.Fatalf("%s: %v", provider, err)
		}
		if out.Status != want {
			t.Fatalf("%s: expected %s, got %s", provider, want, out.Status)
		}
		if out.OrderID != ids[0] || out.Provider != domain.ProviderYooKassa || out.Currency != "RUB" {
			t.Fatalf("%s: outcome fields %+v", provider, out)
		}
	}
}

func TestYooKassa_PollStatus_ShortCircuit(t *testing.T) {
	orders, _ := newOrders(t)
	a := NewYooKassaAdapter(config.YooKassaConfig{ShopID: "shop", SecretKey: "sk"}, orders, testLog())

	out, err := a.PollStatus(context.Background(), "free_abc", "order-1")
	if err != nil {
		t.Fatalf("free poll: %v", err)
	}
	if out.Status != domain.OutcomeSucceeded || out.OrderID != "order-1" {
		t.Fatalf("free poll outcome: %+v", out)
	}

	// test_ без тестового режима уходит в API и с пустым APIBase падает
	if _, err := a.PollStatus(context.Background(), "test_abc", "order-1"); err == nil {
		t.Fatalf("test_ id must not short-circuit outside test mode")
	}
}

func TestYooKassa_PollStatus_ProviderDown(t *testing.T) {
	orders, _ := newOrders(t)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewYooKassaAdapter(config.YooKassaConfig{ShopID: "shop", SecretKey: "sk", APIBase: srv.URL}, orders, testLog())
	_, err := a.PollStatus(context.Background(), "pay-1", "")
	if !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestYooKassa_HandleWebhook_RefetchesAuthoritatively(t *testing.T) {
	orders, ids := newOrders(t, 12.50)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// авторитетный ответ API, а не тело уведомления
		json.NewEncoder(w).Encode(ykPayment{
			ID:       "pay-1",
			Status:   "succeeded",
			Amount:   ykAmount{Value: "12.50", Currency: "RUB"},
			Metadata: map[string]string{"orderId": ids[0]},
		})
	}))
	defer srv.Close()

	a := NewYooKassaAdapter(config.YooKassaConfig{ShopID: "shop", SecretKey: "sk", APIBase: srv.URL}, orders, testLog())

	// уведомление врёт про canceled, верим только API
	body, _ := json.Marshal(ykEvent{Event: "payment.canceled", Object: ykPayment{ID: "pay-1", Status: "canceled"}})
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	out, err := a.HandleWebhook(req, body)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if out.Status != domain.OutcomeSucceeded || out.OrderID != ids[0] {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestYooKassa_HandleWebhook_Rejected(t *testing.T) {
	orders, _ := newOrders(t)
	a := NewYooKassaAdapter(config.YooKassaConfig{ShopID: "shop", SecretKey: "sk"}, orders, testLog())

	for name, body := range map[string]string{
		"malformed":  "{not json",
		"no payment": `{"event":"payment.succeeded","object":{}}`,
	} {
		req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(body))
		if _, err := a.HandleWebhook(req, []byte(body)); !errors.Is(err, ErrSignature) {
			t.Fatalf("%s: expected ErrSignature, got %v", name, err)
		}
	}
}
