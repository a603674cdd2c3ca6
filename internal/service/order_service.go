package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"vitrine/internal/domain"
	"vitrine/internal/repository"
)

// OrderService логика заказов: создание и обновление с фиксацией снимка цен,
// чтение, удаление, список
type OrderService struct {
	products repository.ProductRepository
	orders   repository.OrderRepository
	log      logrus.FieldLogger
}

func NewOrderService(products repository.ProductRepository, orders repository.OrderRepository, log logrus.FieldLogger) *OrderService {
	return &OrderService{products: products, orders: orders, log: log}
}

// CreateParams поля создания/обновления заказа, приходящие от клиента
type CreateParams struct {
	Name            string
	TelegramDiscord string
	SteamProfile    string
	Style           string
	ColorTheme      string
	Items           []domain.LineItem
	// Status принимается при обновлении как есть. ВНИМАНИЕ: это значит, что
	// любой, кому доступен PUT /orders/{id}, может выставить paid в обход
	// оплаты. Поведение сохранено намеренно и не закрыто; см. DESIGN.md.
	Status domain.OrderStatus
}

func (p CreateParams) validate() error {
	if p.Name == "" || p.TelegramDiscord == "" || p.SteamProfile == "" || p.Style == "" || p.ColorTheme == "" {
		return ErrInvalidInput
	}
	if len(p.Items) == 0 {
		return ErrInvalidInput
	}
	for _, it := range p.Items {
		if it.ProductID == "" {
			return ErrInvalidInput
		}
	}
	return nil
}

// enrich переписывает позиции по текущему каталогу: подставляет название и
// цену товара, суммирует totalPrice. Товар, которого в каталоге уже нет,
// остаётся с клиентскими полями — частично разрешённые исторические данные
// ценнее отказа всему заказу.
func (s *OrderService) enrich(ctx context.Context, items []domain.LineItem) ([]domain.LineItem, float64) {
	out := make([]domain.LineItem, len(items))
	total := 0.0
	for i, it := range items {
		p, err := s.products.GetByID(ctx, it.ProductID)
		if err == nil {
			it.Title = p.Title
			it.Price = p.Price
		} else {
			s.log.WithField("product", it.ProductID).Warn("line item kept unresolved")
		}
		out[i] = it
		total += it.Price
	}
	return out, total
}

// CreateOrder создаёт заказ в статусе pending, зафиксировав снимок цен
func (s *OrderService) CreateOrder(ctx context.Context, p CreateParams) (*domain.Order, error) {
	if err := p.validate(); err != nil {
		return nil, err
	}
	items, total := s.enrich(ctx, p.Items)
	o := domain.Order{
		Name:            p.Name,
		TelegramDiscord: p.TelegramDiscord,
		SteamProfile:    p.SteamProfile,
		Style:           p.Style,
		ColorTheme:      p.ColorTheme,
		Items:           items,
		TotalPrice:      total,
		Status:          domain.OrderStatusPending,
	}
	if err := s.orders.Create(ctx, &o); err != nil {
		return nil, err
	}
	return &o, nil
}

// UpdateOrder полное обновление заказа. Снимок цен перечитывается из
// текущего каталога заново, поэтому после изменения цены в каталоге
// повторное обновление намеренно изменит снимок.
func (s *OrderService) UpdateOrder(ctx context.Context, id string, p CreateParams) (*domain.Order, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	if err := p.validate(); err != nil {
		return nil, err
	}
	o, err := s.orders.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	items, total := s.enrich(ctx, p.Items)
	o.Name = p.Name
	o.TelegramDiscord = p.TelegramDiscord
	o.SteamProfile = p.SteamProfile
	o.Style = p.Style
	o.ColorTheme = p.ColorTheme
	o.Items = items
	o.TotalPrice = total
	if p.Status != "" {
		o.Status = p.Status
	}
	if err := s.orders.Update(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

// GetOrder возвращает заказ по id
func (s *OrderService) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	return s.orders.GetByID(ctx, id)
}

// DeleteOrder удаляет заказ
func (s *OrderService) DeleteOrder(ctx context.Context, id string) error {
	if id == "" {
		return ErrInvalidInput
	}
	return s.orders.Delete(ctx, id)
}

// ListOrders список заказов по убыванию даты создания
func (s *OrderService) ListOrders(ctx context.Context) ([]domain.Order, error) {
	return s.orders.List(ctx)
}
