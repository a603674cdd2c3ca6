package payment

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/pkg/errors"

	"vitrine/internal/config"
	"vitrine/internal/domain"
)

// fakePayPal маршруты песочницы: токен, заказы, верификация вебхуков
type fakePayPal struct {
	captureStatus int
	captureBody   string
	orderStatus   string
	customID      string
	amount        string
	verification  string
	created       *ppWebhookResource
}

func (f *fakePayPal) handler(t *testing.T) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/oauth2/token", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"access_token": "tok", "token_type": "Bearer", "expires_in": 3600,
		})
	})
	mux.HandleFunc("/v2/checkout/orders", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Intent        string `json:"intent"`
			PurchaseUnits []struct {
				CustomID string `json:"custom_id"`
				Amount   struct {
					CurrencyCode string `json:"currency_code"`
					Value        string `json:"value"`
				} `json:"amount"`
			} `json:"purchase_units"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("create order decode: %v", err)
		}
		if req.Intent != "CAPTURE" || len(req.PurchaseUnits) != 1 {
			t.Errorf("create order request: %+v", req)
		}
		if req.PurchaseUnits[0].CustomID == "" {
			t.Errorf("custom_id not sent")
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "PP1", "status": "CREATED",
			"links": []map[string]string{
				{"href": "https://paypal.example/self", "rel": "self"},
				{"href": "https://paypal.example/approve/PP1", "rel": "approve"},
			},
		})
	})
	mux.HandleFunc("/v2/checkout/orders/PP1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"id": "PP1", "status": f.orderStatus,
			"purchase_units": []map[string]interface{}{{
				"custom_id": f.customID,
				"amount":    map[string]string{"currency_code": "USD", "value": f.amount},
			}},
		})
	})
	mux.HandleFunc("/v2/checkout/orders/PP1/capture", func(w http.ResponseWriter, r *http.Request) {
		if f.captureStatus >= 400 {
			w.WriteHeader(f.captureStatus)
			w.Write([]byte(f.captureBody))
			return
		}
		w.WriteHeader(http.StatusCreated)
		json.NewEncoder(w).Encode(map[string]interface{}{"id": "PP1", "status": "COMPLETED"})
	})
	mux.HandleFunc("/v1/notifications/verify-webhook-signature", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"verification_status": f.verification})
	})
	return mux
}

func newPayPal(t *testing.T, f *fakePayPal, orders OrderSource) (*PayPalAdapter, func()) {
	t.Helper()
	srv := httptest.NewServer(f.handler(t))
	a, err := NewPayPalAdapter(config.PayPalConfig{
		ClientID:  "cid",
		Secret:    "secret",
		WebhookID: "wh-1",
		APIBase:   srv.URL,
	}, orders, "https://shop.example", testLog())
	if err != nil {
		srv.Close()
		t.Fatal(err)
	}
	return a, srv.Close
}

func TestPayPal_Initiate(t *testing.T) {
	orders, ids := newOrders(t, 12.50)
	a, closeSrv := newPayPal(t, &fakePayPal{}, orders)
	defer closeSrv()

	p, err := a.Initiate(context.Background(), InitiateParams{OrderID: ids[0], Amount: 12.50, Currency: "USD"})
	if err != nil {
		t.Fatalf("initiate: %v", err)
	}
	if p.ID != "PP1" || p.ConfirmationURL != "https://paypal.example/approve/PP1" {
		t.Fatalf("payment: %+v", p)
	}

	if _, err := a.Initiate(context.Background(), InitiateParams{OrderID: "ghost", Amount: 5}); err == nil {
		t.Fatalf("expected error for missing order")
	}

	free, err := a.Initiate(context.Background(), InitiateParams{OrderID: ids[0], Amount: 0})
	if err != nil || !free.Free || free.Outcome == nil {
		t.Fatalf("free payment: %+v %v", free, err)
	}
}

func TestPayPal_PollStatus_Mapping(t *testing.T) {
	orders, ids := newOrders(t, 12.50)
	f := &fakePayPal{orderStatus: "COMPLETED", customID: ids[0], amount: "12.50"}
	a, closeSrv := newPayPal(t, f, orders)
	defer closeSrv()

	cases := map[string]domain.OutcomeStatus{
		"COMPLETED": domain.OutcomeSucceeded,
		"VOIDED":    domain.OutcomeCancelled,
		"APPROVED":  domain.OutcomePending,
		"CREATED":   domain.OutcomePending,
		"WEIRD":     domain.OutcomeUnknown,
	}
	for status, want := range cases {
		f.orderStatus = status
		out, err := a.PollStatus(context.Background(), "PP1", "")
		if err != nil {
			t.Fatalf("%s: %v", status, err)
		}
		if out.Status != want || out.OrderID != ids[0] || out.Currency != "USD" {
			t.Fatalf("%s: %+v", status, out)
		}
	}
}

func TestPayPal_PollStatus_AmountFallback(t *testing.T) {
	orders, ids := newOrders(t, 12.50, 7.00)
	// custom_id пуст, заказ находится по сумме среди последних
	f := &fakePayPal{orderStatus: "COMPLETED", customID: "", amount: "7.00"}
	a, closeSrv := newPayPal(t, f, orders)
	defer closeSrv()

	out, err := a.PollStatus(context.Background(), "PP1", "")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if out.OrderID != ids[1] || !out.AmountMatched {
		t.Fatalf("amount fallback: %+v", out)
	}
}

func TestPayPal_Capture_AlreadyCaptured(t *testing.T) {
	orders, ids := newOrders(t, 12.50)
	f := &fakePayPal{
		captureStatus: http.StatusUnprocessableEntity,
		captureBody:   `{"name":"UNPROCESSABLE_ENTITY","message":"error","details":[{"issue":"ORDER_ALREADY_CAPTURED"}]}`,
		orderStatus:   "COMPLETED",
		customID:      ids[0],
		amount:        "12.50",
	}
	a, closeSrv := newPayPal(t, f, orders)
	defer closeSrv()

	out, err := a.Capture(context.Background(), "PP1")
	if err != nil {
		t.Fatalf("repeated capture must not fail: %v", err)
	}
	if out.Status != domain.OutcomeSucceeded || out.OrderID != ids[0] {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestPayPal_Capture_OtherErrors(t *testing.T) {
	orders, _ := newOrders(t, 12.50)
	f := &fakePayPal{
		captureStatus: http.StatusUnprocessableEntity,
		captureBody:   `{"name":"UNPROCESSABLE_ENTITY","message":"error","details":[{"issue":"INSTRUMENT_DECLINED"}]}`,
	}
	a, closeSrv := newPayPal(t, f, orders)
	defer closeSrv()

	if _, err := a.Capture(context.Background(), "PP1"); !errors.Is(err, ErrProvider) {
		t.Fatalf("expected ErrProvider, got %v", err)
	}
}

func TestPayPal_HandleWebhook(t *testing.T) {
	orders, ids := newOrders(t, 12.50)
	f := &fakePayPal{verification: "SUCCESS"}
	a, closeSrv := newPayPal(t, f, orders)
	defer closeSrv()

	body := []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP1","custom_id":"` + ids[0] + `","amount":{"currency_code":"USD","value":"12.50"}}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	out, err := a.HandleWebhook(req, body)
	if err != nil {
		t.Fatalf("webhook: %v", err)
	}
	if out.Status != domain.OutcomeSucceeded || out.OrderID != ids[0] || out.TransactionID != "CAP1" {
		t.Fatalf("outcome: %+v", out)
	}

	// без custom_id заказ подхватывается по сумме, с пометкой эвристики
	body = []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP2","amount":{"currency_code":"USD","value":"12.50"}}}`)
	req = httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	out, err = a.HandleWebhook(req, body)
	if err != nil {
		t.Fatalf("webhook fallback: %v", err)
	}
	if out.OrderID != ids[0] || !out.AmountMatched {
		t.Fatalf("fallback outcome: %+v", out)
	}
}

func TestPayPal_HandleWebhook_VerificationFailed(t *testing.T) {
	orders, _ := newOrders(t)
	f := &fakePayPal{verification: "FAILURE"}
	a, closeSrv := newPayPal(t, f, orders)
	defer closeSrv()

	body := []byte(`{"event_type":"PAYMENT.CAPTURE.COMPLETED","resource":{"id":"CAP1"}}`)
	req := httptest.NewRequest(http.MethodPost, "/webhook", strings.NewReader(string(body)))
	if _, err := a.HandleWebhook(req, body); !errors.Is(err, ErrSignature) {
		t.Fatalf("expected ErrSignature, got %v", err)
	}
}

func TestPayPal_ResolveOrderID(t *testing.T) {
	orders, ids := newOrders(t, 12.50)
	f := &fakePayPal{orderStatus: "COMPLETED", customID: ids[0], amount: "12.50"}
	a, closeSrv := newPayPal(t, f, orders)
	defer closeSrv()

	id, source, err := a.ResolveOrderID(context.Background(), "PP1")
	if err != nil || id != ids[0] || source != "custom_id" {
		t.Fatalf("custom_id path: %s %s %v", id, source, err)
	}

	// custom_id указывает на несуществующий заказ, срабатывает сверка по сумме
	f.customID = "ghost"
	id, source, err = a.ResolveOrderID(context.Background(), "PP1")
	if err != nil || id != ids[0] || source != "amount" {
		t.Fatalf("amount path: %s %s %v", id, source, err)
	}

	// ни поля, ни суммы
	f.customID = ""
	f.amount = "999.99"
	if _, _, err := a.ResolveOrderID(context.Background(), "PP1"); !errors.Is(err, ErrOrderUnresolved) {
		t.Fatalf("expected ErrOrderUnresolved, got %v", err)
	}
}
