package service

import (
	"context"
	"sync"
	"testing"

	"vitrine/internal/domain"
	"vitrine/internal/repository"
)

// recordingNotifier считает доставленные уведомления
type recordingNotifier struct {
	mu     sync.Mutex
	orders []string
}

func (n *recordingNotifier) Notify(ctx context.Context, o *domain.Order) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.orders = append(n.orders, o.ID)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.orders)
}

func setupReconciler(t *testing.T) (*repository.MemoryOrders, *recordingNotifier, *Reconciler) {
	t.Helper()
	store := repository.NewMemoryStore()
	orders := repository.NewMemoryOrders(store)
	n := &recordingNotifier{}
	return orders, n, NewReconciler(orders, n, testLog())
}

func pendingOrder(t *testing.T, orders *repository.MemoryOrders) *domain.Order {
	t.Helper()
	o := domain.Order{Name: "N", Status: domain.OrderStatusPending, TotalPrice: 12.50}
	if err := orders.Create(context.Background(), &o); err != nil {
		t.Fatal(err)
	}
	return &o
}

func TestApply_SucceededMarksPaidAndNotifiesOnce(t *testing.T) {
	ctx := context.Background()
	orders, n, r := setupReconciler(t)
	o := pendingOrder(t, orders)

	out := domain.Outcome{
		TransactionID: "tx-1",
		OrderID:       o.ID,
		Status:        domain.OutcomeSucceeded,
		Provider:      domain.ProviderYooKassa,
		Currency:      "RUB",
	}
	got, err := r.Apply(ctx, out)
	if err != nil {
		t.Fatalf("apply: %v", err)
	}
	if got.Status != domain.OrderStatusPaid {
		t.Fatalf("expected paid, got %s", got.Status)
	}
	if got.PaymentProvider != domain.ProviderYooKassa || got.Currency != "RUB" {
		t.Fatalf("provider/currency not stamped: %+v", got)
	}
	if n.count() != 1 {
		t.Fatalf("expected 1 notification, got %d", n.count())
	}

	// повторные доставки того же результата — успех без новых уведомлений
	for i := 0; i < 3; i++ {
		got, err = r.Apply(ctx, out)
		if err != nil {
			t.Fatalf("repeat apply %d: %v", i, err)
		}
		if got.Status != domain.OrderStatusPaid {
			t.Fatalf("repeat apply changed status to %s", got.Status)
		}
	}
	if n.count() != 1 {
		t.Fatalf("duplicate applies notified %d times", n.count())
	}
}

func TestApply_LateFailureDoesNotDowngradePaid(t *testing.T) {
	ctx := context.Background()
	orders, n, r := setupReconciler(t)
	o := pendingOrder(t, orders)

	if _, err := r.Apply(ctx, domain.Outcome{OrderID: o.ID, Status: domain.OutcomeSucceeded, Provider: domain.ProviderStripe, Currency: "USD"}); err != nil {
		t.Fatal(err)
	}
	got, err := r.Apply(ctx, domain.Outcome{OrderID: o.ID, Status: domain.OutcomeFailed, Provider: domain.ProviderStripe, Currency: "USD"})
	if err != nil {
		t.Fatalf("late failed outcome: %v", err)
	}
	if got.Status != domain.OrderStatusPaid {
		t.Fatalf("paid downgraded to %s", got.Status)
	}
	if n.count() != 1 {
		t.Fatalf("notifications: %d", n.count())
	}
}

func TestApply_FailedAndCancelled(t *testing.T) {
	ctx := context.Background()
	orders, n, r := setupReconciler(t)

	o1 := pendingOrder(t, orders)
	got, err := r.Apply(ctx, domain.Outcome{OrderID: o1.ID, Status: domain.OutcomeFailed, Provider: domain.ProviderPayPal, Currency: "USD"})
	if err != nil || got.Status != domain.OrderStatusFailed {
		t.Fatalf("failed: %v %v", got, err)
	}

	o2 := pendingOrder(t, orders)
	got, err = r.Apply(ctx, domain.Outcome{OrderID: o2.ID, Status: domain.OutcomeCancelled, Provider: domain.ProviderYooKassa, Currency: "RUB"})
	if err != nil || got.Status != domain.OrderStatusCancelled {
		t.Fatalf("cancelled: %v %v", got, err)
	}

	// негативные исходы не уведомляют
	if n.count() != 0 {
		t.Fatalf("notifications on negative outcomes: %d", n.count())
	}

	// failed позже может стать paid: вперёд двигаться можно
	got, err = r.Apply(ctx, domain.Outcome{OrderID: o1.ID, Status: domain.OutcomeSucceeded, Provider: domain.ProviderPayPal, Currency: "USD"})
	if err != nil || got.Status != domain.OrderStatusPaid {
		t.Fatalf("failed->paid: %v %v", got, err)
	}
	if n.count() != 1 {
		t.Fatalf("notifications: %d", n.count())
	}
}

func TestApply_NonTerminalIsNoop(t *testing.T) {
	ctx := context.Background()
	orders, n, r := setupReconciler(t)
	o := pendingOrder(t, orders)

	for _, s := range []domain.OutcomeStatus{domain.OutcomePending, domain.OutcomeUnknown} {
		got, err := r.Apply(ctx, domain.Outcome{OrderID: o.ID, Status: s, Provider: domain.ProviderStripe, Currency: "USD"})
		if err != nil {
			t.Fatalf("%s: %v", s, err)
		}
		if got.Status != domain.OrderStatusPending {
			t.Fatalf("%s changed status to %s", s, got.Status)
		}
	}
	if n.count() != 0 {
		t.Fatalf("notifications: %d", n.count())
	}
}

func TestApply_UnknownOrder(t *testing.T) {
	ctx := context.Background()
	_, _, r := setupReconciler(t)

	if _, err := r.Apply(ctx, domain.Outcome{Status: domain.OutcomeSucceeded}); err != ErrInvalidInput {
		t.Fatalf("empty order id: %v", err)
	}
	if _, err := r.Apply(ctx, domain.Outcome{OrderID: "ghost", Status: domain.OutcomeSucceeded}); err != repository.ErrNotFound {
		t.Fatalf("missing order: %v", err)
	}
}

func TestApply_ConcurrentDuplicatesNotifyExactlyOnce(t *testing.T) {
	ctx := context.Background()
	orders, n, r := setupReconciler(t)
	o := pendingOrder(t, orders)

	out := domain.Outcome{OrderID: o.ID, Status: domain.OutcomeSucceeded, Provider: domain.ProviderStripe, Currency: "USD"}
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Apply(ctx, out); err != nil {
				t.Errorf("apply: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := orders.GetByID(ctx, o.ID)
	if err != nil || got.Status != domain.OrderStatusPaid {
		t.Fatalf("final state: %v %v", got, err)
	}
	if n.count() != 1 {
		t.Fatalf("expected exactly one notification, got %d", n.count())
	}
}
