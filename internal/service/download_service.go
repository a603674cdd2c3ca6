package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"vitrine/internal/domain"
	"vitrine/internal/repository"
)

var (
	// ErrOrderNotPaid операция требует оплаченного заказа
	ErrOrderNotPaid = errors.New("order is not paid")
	// ErrLinkExpired срок действия временной ссылки истёк
	ErrLinkExpired = errors.New("download link has expired")
	// ErrNoPrivateFile у товара нет приватного файла
	ErrNoPrivateFile = errors.New("product has no private file")
	// ErrProductNotInOrder товар не входит в позиции заказа
	ErrProductNotInOrder = errors.New("product not in this order")
)

// linkTTL срок жизни временной ссылки с момента выпуска
const linkTTL = 24 * time.Hour

// DownloadService выпускает и гасит временные ссылки: токен — единственный
// секрет, ссылка многоразовая в пределах срока действия, повторный выпуск
// создаёт новые токены, не отзывая старые.
type DownloadService struct {
	orders     repository.OrderRepository
	products   repository.ProductRepository
	links      repository.DownloadLinkRepository
	uploadsDir string
}

func NewDownloadService(orders repository.OrderRepository, products repository.ProductRepository, links repository.DownloadLinkRepository, uploadsDir string) *DownloadService {
	return &DownloadService{orders: orders, products: products, links: links, uploadsDir: uploadsDir}
}

// IssuedLink выпущенная ссылка в ответе API
type IssuedLink struct {
	ProductID   string    `json:"productId"`
	Token       string    `json:"token"`
	Filename    string    `json:"filename"`
	DownloadURL string    `json:"downloadUrl"`
	ExpiresAt   time.Time `json:"expiresAt"`
}

// GenerateLink выпускает свежую ссылку на приватный файл товара из
// оплаченного заказа
func (s *DownloadService) GenerateLink(ctx context.Context, orderID, productID string) (*IssuedLink, error) {
	if orderID == "" || productID == "" {
		return nil, ErrInvalidInput
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != domain.OrderStatusPaid {
		return nil, ErrOrderNotPaid
	}
	p, err := s.products.GetByID(ctx, productID)
	if err != nil {
		return nil, err
	}
	if p.Original == "" {
		return nil, ErrNoPrivateFile
	}
	found := false
	for _, it := range o.Items {
		if it.ProductID == productID {
			found = true
			break
		}
	}
	if !found {
		return nil, ErrProductNotInOrder
	}
	return s.mint(ctx, o.ID, p)
}

// IssueLinks выпускает ссылки для всех позиций оплаченного заказа, у чьих
// товаров есть приватный файл. Каждый вызов выпускает новые токены; ранее
// выпущенные ссылки продолжают действовать до собственного истечения.
func (s *DownloadService) IssueLinks(ctx context.Context, orderID string) ([]IssuedLink, error) {
	if orderID == "" {
		return nil, ErrInvalidInput
	}
	o, err := s.orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != domain.OrderStatusPaid {
		return nil, ErrOrderNotPaid
	}

	out := make([]IssuedLink, 0, len(o.Items))
	seen := make(map[string]bool, len(o.Items))
	for _, it := range o.Items {
		if seen[it.ProductID] {
			continue
		}
		seen[it.ProductID] = true
		p, err := s.products.GetByID(ctx, it.ProductID)
		if err != nil {
			// товар мог исчезнуть из каталога — пропускаем позицию
			continue
		}
		if p.Original == "" {
			continue
		}
		link, err := s.mint(ctx, o.ID, p)
		if err != nil {
			return nil, err
		}
		out = append(out, *link)
	}
	return out, nil
}

func (s *DownloadService) mint(ctx context.Context, orderID string, p *domain.Product) (*IssuedLink, error) {
	l := domain.DownloadLink{
		Token:     uuid.NewString(),
		OrderID:   orderID,
		ProductID: p.ID,
		Filename:  p.Original,
		ExpiresAt: time.Now().UTC().Add(linkTTL),
	}
	if err := s.links.Create(ctx, &l); err != nil {
		return nil, err
	}
	return &IssuedLink{
		ProductID:   p.ID,
		Token:       l.Token,
		Filename:    l.Filename,
		DownloadURL: "/api/download/temp/" + l.Token,
		ExpiresAt:   l.ExpiresAt,
	}, nil
}

// DownloadFile файл, готовый к отдаче клиенту
type DownloadFile struct {
	Path string
	Name string
}

// Redeem проверяет токен и возвращает путь к файлу. Ссылка мертва, если
// истекла или заказ перестал быть оплаченным.
func (s *DownloadService) Redeem(ctx context.Context, token string) (*DownloadFile, error) {
	if token == "" {
		return nil, ErrInvalidInput
	}
	link, err := s.links.GetByToken(ctx, token)
	if err != nil {
		return nil, err
	}
	if time.Now().After(link.ExpiresAt) {
		return nil, ErrLinkExpired
	}
	o, err := s.orders.GetByID(ctx, link.OrderID)
	if err != nil || o.Status != domain.OrderStatusPaid {
		return nil, ErrOrderNotPaid
	}

	// имя из записи ссылки, без элементов пути
	filename := filepath.Base(link.Filename)
	path := filepath.Join(s.uploadsDir, filename)
	if _, err := os.Stat(path); err != nil {
		return nil, repository.ErrNotFound
	}

	name := filename
	if p, err := s.products.GetByID(ctx, link.ProductID); err == nil && p.Title != "" {
		name = safeFilename(p.Title) + filepath.Ext(filename)
	}
	return &DownloadFile{Path: path, Name: name}, nil
}

// safeFilename заменяет всё вне [a-zA-Z0-9._-] на подчёркивание
func safeFilename(s string) string {
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '.', r == '_', r == '-':
			out = append(out, r)
		default:
			out = append(out, '_')
		}
	}
	return string(out)
}
