package repository

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"vitrine/internal/domain"
)

// GormStore хранилище поверх GORM (SQLite). Позиции заказа сериализуются в
// одну JSON-колонку details — это единственная граница кодирования, дальше по
// конвейеру ходит типизированное представление.
type GormStore struct {
	db *gorm.DB
}

func NewGormStore(db *gorm.DB) (*GormStore, error) {
	if err := db.AutoMigrate(&orderRow{}, &productRow{}, &downloadLinkRow{}); err != nil {
		return nil, errors.Wrap(err, "migrate")
	}
	return &GormStore{db: db}, nil
}

type orderRow struct {
	ID              string `gorm:"primaryKey;size:36"`
	Name            string
	TelegramDiscord string
	SteamProfile    string
	Style           string
	ColorTheme      string
	Details         string `gorm:"type:text"`
	Status          string `gorm:"size:16;index"`
	PaymentProvider string `gorm:"size:16"`
	Currency        string `gorm:"size:8"`
	CreatedAt       time.Time `gorm:"index"`
	UpdatedAt       time.Time
}

func (orderRow) TableName() string { return "orders" }

type productRow struct {
	ID        string `gorm:"primaryKey;size:36"`
	Title     string
	Price     float64
	PriceUSD  *float64
	Video     string
	Badge     string
	Original  string
	CreatedAt time.Time `gorm:"index"`
}

func (productRow) TableName() string { return "products" }

type downloadLinkRow struct {
	Token     string `gorm:"primaryKey;size:36"`
	OrderID   string `gorm:"size:36;index"`
	ProductID string `gorm:"size:36;index"`
	Filename  string
	ExpiresAt time.Time
	CreatedAt time.Time
}

func (downloadLinkRow) TableName() string { return "download_links" }

// details — содержимое JSON-колонки заказа
type orderDetails struct {
	Items      []domain.LineItem `json:"items"`
	TotalPrice float64           `json:"totalPrice"`
}

func encodeDetails(o *domain.Order) (string, error) {
	b, err := json.Marshal(orderDetails{Items: o.Items, TotalPrice: o.TotalPrice})
	if err != nil {
		return "", errors.Wrap(err, "encode order details")
	}
	return string(b), nil
}

func (r *orderRow) toDomain() (*domain.Order, error) {
	var d orderDetails
	if r.Details != "" {
		if err := json.Unmarshal([]byte(r.Details), &d); err != nil {
			return nil, errors.Wrapf(err, "decode details of order %s", r.ID)
		}
	}
	return &domain.Order{
		ID:              r.ID,
		Name:            r.Name,
		TelegramDiscord: r.TelegramDiscord,
		SteamProfile:    r.SteamProfile,
		Style:           r.Style,
		ColorTheme:      r.ColorTheme,
		Items:           d.Items,
		TotalPrice:      d.TotalPrice,
		Status:          domain.OrderStatus(r.Status),
		PaymentProvider: domain.Provider(r.PaymentProvider),
		Currency:        r.Currency,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}, nil
}

// GormOrders реализация OrderRepository
type GormOrders struct{ store *GormStore }

func NewGormOrders(store *GormStore) *GormOrders { return &GormOrders{store: store} }

var _ OrderRepository = (*GormOrders)(nil)

func (g *GormOrders) Create(ctx context.Context, o *domain.Order) error {
	if o.ID == "" {
		o.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if o.CreatedAt.IsZero() {
		o.CreatedAt = now
	}
	o.UpdatedAt = now
	details, err := encodeDetails(o)
	if err != nil {
		return err
	}
	row := orderRow{
		ID:              o.ID,
		Name:            o.Name,
		TelegramDiscord: o.TelegramDiscord,
		SteamProfile:    o.SteamProfile,
		Style:           o.Style,
		ColorTheme:      o.ColorTheme,
		Details:         details,
		Status:          string(o.Status),
		PaymentProvider: string(o.PaymentProvider),
		Currency:        o.Currency,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
	return errors.Wrap(g.store.db.WithContext(ctx).Create(&row).Error, "create order")
}

func (g *GormOrders) GetByID(ctx context.Context, id string) (*domain.Order, error) {
	var row orderRow
	err := g.store.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get order")
	}
	return row.toDomain()
}

func (g *GormOrders) Update(ctx context.Context, o *domain.Order) error {
	details, err := encodeDetails(o)
	if err != nil {
		return err
	}
	// createdAt не трогаем
	res := g.store.db.WithContext(ctx).Model(&orderRow{}).Where("id = ?", o.ID).Updates(map[string]interface{}{
		"name":             o.Name,
		"telegram_discord": o.TelegramDiscord,
		"steam_profile":    o.SteamProfile,
		"style":            o.Style,
		"color_theme":      o.ColorTheme,
		"details":          details,
		"status":           string(o.Status),
		"payment_provider": string(o.PaymentProvider),
		"currency":         o.Currency,
		"updated_at":       time.Now().UTC(),
	})
	if res.Error != nil {
		return errors.Wrap(res.Error, "update order")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormOrders) Delete(ctx context.Context, id string) error {
	res := g.store.db.WithContext(ctx).Delete(&orderRow{}, "id = ?", id)
	if res.Error != nil {
		return errors.Wrap(res.Error, "delete order")
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (g *GormOrders) List(ctx context.Context) ([]domain.Order, error) {
	return g.Recent(ctx, 0)
}

func (g *GormOrders) Recent(ctx context.Context, limit int) ([]domain.Order, error) {
	var rows []orderRow
	q := g.store.db.WithContext(ctx).Order("created_at DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	out := make([]domain.Order, 0, len(rows))
	for i := range rows {
		o, err := rows[i].toDomain()
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, nil
}

// TransitionStatus охраняемый UPDATE одной строки: условие входит в сам
// запрос, поэтому из конкурирующих доставок переход выполняет ровно одна
func (g *GormOrders) TransitionStatus(ctx context.Context, id string, target domain.OrderStatus, provider domain.Provider, currency string) (*domain.Order, bool, error) {
	res := g.store.db.WithContext(ctx).Model(&orderRow{}).
		Where("id = ? AND status <> ? AND status <> ?", id, string(domain.OrderStatusPaid), string(target)).
		Updates(map[string]interface{}{
			"status":           string(target),
			"payment_provider": string(provider),
			"currency":         currency,
			"updated_at":       time.Now().UTC(),
		})
	if res.Error != nil {
		return nil, false, errors.Wrap(res.Error, "transition order status")
	}
	o, err := g.GetByID(ctx, id)
	if err != nil {
		return nil, false, err
	}
	return o, res.RowsAffected > 0, nil
}

// GormProducts реализация ProductRepository
type GormProducts struct{ store *GormStore }

func NewGormProducts(store *GormStore) *GormProducts { return &GormProducts{store: store} }

var _ ProductRepository = (*GormProducts)(nil)

func (g *GormProducts) Create(ctx context.Context, p *domain.Product) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = time.Now().UTC()
	}
	row := productRow{
		ID:        p.ID,
		Title:     p.Title,
		Price:     p.Price,
		PriceUSD:  p.PriceUSD,
		Video:     p.Video,
		Badge:     p.Badge,
		Original:  p.Original,
		CreatedAt: p.CreatedAt,
	}
	return errors.Wrap(g.store.db.WithContext(ctx).Create(&row).Error, "create product")
}

func (g *GormProducts) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	var row productRow
	err := g.store.db.WithContext(ctx).First(&row, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get product")
	}
	p := domain.Product(row)
	return &p, nil
}

func (g *GormProducts) List(ctx context.Context) ([]domain.Product, error) {
	var rows []productRow
	if err := g.store.db.WithContext(ctx).Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, errors.Wrap(err, "list products")
	}
	out := make([]domain.Product, 0, len(rows))
	for _, r := range rows {
		out = append(out, domain.Product(r))
	}
	return out, nil
}

// GormLinks реализация DownloadLinkRepository
type GormLinks struct{ store *GormStore }

func NewGormLinks(store *GormStore) *GormLinks { return &GormLinks{store: store} }

var _ DownloadLinkRepository = (*GormLinks)(nil)

func (g *GormLinks) Create(ctx context.Context, l *domain.DownloadLink) error {
	if l.Token == "" {
		l.Token = uuid.NewString()
	}
	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	row := downloadLinkRow(*l)
	return errors.Wrap(g.store.db.WithContext(ctx).Create(&row).Error, "create download link")
}

func (g *GormLinks) GetByToken(ctx context.Context, token string) (*domain.DownloadLink, error) {
	var row downloadLinkRow
	err := g.store.db.WithContext(ctx).First(&row, "token = ?", token).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "get download link")
	}
	l := domain.DownloadLink(row)
	return &l, nil
}
