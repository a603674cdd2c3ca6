package service

import (
	"context"
	"errors"

	"vitrine/internal/domain"
	"vitrine/internal/repository"
)

// ProductService читающая граница каталога. Управление каталогом — внешняя
// подсистема, ядру нужен только просмотр и разрешение позиций заказа.
type ProductService struct {
	repo repository.ProductRepository
}

func NewProductService(repo repository.ProductRepository) *ProductService {
	return &ProductService{repo: repo}
}

var ErrInvalidInput = errors.New("invalid input")

func (s *ProductService) GetByID(ctx context.Context, id string) (*domain.Product, error) {
	if id == "" {
		return nil, ErrInvalidInput
	}
	return s.repo.GetByID(ctx, id)
}

func (s *ProductService) List(ctx context.Context) ([]domain.Product, error) {
	return s.repo.List(ctx)
}
