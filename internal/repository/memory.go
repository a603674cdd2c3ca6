package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"vitrine/internal/domain"
)

// MemoryStore объединённое in-memory хранилище: каталог, заказы и временные
// ссылки. Используется тестами и как запасной вариант без базы данных.
type MemoryStore struct {
	mu           sync.RWMutex
	productsByID map[string]domain.Product
	ordersByID   map[string]domain.Order
	linksByToken map[string]domain.DownloadLink
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		productsByID: make(map[string]domain.Product),
		ordersByID:   make(map[string]domain.Order),
		linksByToken: make(map[string]domain.DownloadLink),
	}
}

// Ensure interfaces
var _ ProductRepository = (*MemoryStore)(nil)

// ProductRepository implementation
func (m *MemoryStore) Create(ctx context.Context, p *domain.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	m.productsByID[p.ID] = *p
	return nil
}

func (m *MemoryStore) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.productsByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	// return copy
	cp := p
	return &cp, nil
}

func (m *MemoryStore) List(ctx context.Context) ([]domain.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]domain.Product, 0, len(m.productsByID))
	for _, p := range m.productsByID {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// MemoryOrders реализация OrderRepository поверх общего стора
type MemoryOrders struct{ store *MemoryStore }

func NewMemoryOrders(store *MemoryStore) *MemoryOrders { return &MemoryOrders{store: store} }

var _ OrderRepository = (*MemoryOrders)(nil)

func (mo *MemoryOrders) Create(ctx context.Context, o *domain.Order) error {
	mo.store.mu.Lock()
	defer mo.store.mu.Unlock()
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	mo.store.ordersByID[o.ID] = cloneOrder(*o)
	return nil
}

func (mo *MemoryOrders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	mo.store.mu.RLock()
	defer mo.store.mu.RUnlock()
	o, ok := mo.store.ordersByID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := cloneOrder(o)
	return &cp, nil
}

func (mo *MemoryOrders) Update(ctx context.Context, o *domain.Order) error {
	mo.store.mu.Lock()
	defer mo.store.mu.Unlock()
	prev, ok := mo.store.ordersByID[o.ID]
	if !ok {
		return ErrNotFound
	}
	// createdAt неизменяем
	o.CreatedAt = prev.CreatedAt
	o.UpdatedAt = time.Now().UTC()
	mo.store.ordersByID[o.ID] = cloneOrder(*o)
	return nil
}

func (mo *MemoryOrders) Delete(ctx context.Context, id string) error {
	mo.store.mu.Lock()
	defer mo.store.mu.Unlock()
	if _, ok := mo.store.ordersByID[id]; !ok {
		return ErrNotFound
	}
	delete(mo.store.ordersByID, id)
	return nil
}

func (mo *MemoryOrders) List(ctx context.Context) ([]domain.Order, error) {
	return mo.Recent(ctx, 0)
}

func (mo *MemoryOrders) Recent(ctx context.Context, limit int) ([]domain.Order, error) {
	mo.store.mu.RLock()
	defer mo.store.mu.RUnlock()
	out := make([]domain.Order, 0, len(mo.store.ordersByID))
	for _, o := range mo.store.ordersByID {
		out = append(out, cloneOrder(o))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// TransitionStatus проверка и запись выполняются под одной блокировкой, так
// что из двух гонящихся вызовов переход достаётся ровно одному
func (mo *MemoryOrders) TransitionStatus(ctx context.Context, id string, target domain.OrderStatus, provider domain.Provider, currency string) (*domain.Order, bool, error) {
	mo.store.mu.Lock()
	defer mo.store.mu.Unlock()
	o, ok := mo.store.ordersByID[id]
	if !ok {
		return nil, false, ErrNotFound
	}
	if o.Status == domain.OrderStatusPaid || o.Status == target {
		cp := cloneOrder(o)
		return &cp, false, nil
	}
	o.Status = target
	o.PaymentProvider = provider
	o.Currency = currency
	o.UpdatedAt = time.Now().UTC()
	mo.store.ordersByID[id] = cloneOrder(o)
	cp := cloneOrder(o)
	return &cp, true, nil
}

func cloneOrder(o domain.Order) domain.Order {
	items := make([]domain.LineItem, len(o.Items))
	copy(items, o.Items)
	o.Items = items
	return o
}

// MemoryLinks реализация DownloadLinkRepository
type MemoryLinks struct{ store *MemoryStore }

func NewMemoryLinks(store *MemoryStore) *MemoryLinks { return &MemoryLinks{store: store} }

var _ DownloadLinkRepository = (*MemoryLinks)(nil)

func (ml *MemoryLinks) Create(ctx context.Context, l *domain.DownloadLink) error {
	ml.store.mu.Lock()
	defer ml.store.mu.Unlock()
	if l.Token == "" {
		l.Token = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	ml.store.linksByToken[l.Token] = *l
	return nil
}

func (ml *MemoryLinks) GetByToken(ctx context.Context, token string) (*domain.DownloadLink, error) {
	ml.store.mu.RLock()
	defer ml.store.mu.RUnlock()
	l, ok := ml.store.linksByToken[token]
	if !ok {
		return nil, ErrNotFound
	}
	cp := l
	return &cp, nil
}
