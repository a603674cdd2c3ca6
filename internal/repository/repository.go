package repository

import (
	"context"
	"errors"

	"vitrine/internal/domain"
)

// ErrNotFound возвращается, когда сущность не найдена
var ErrNotFound = errors.New("not found")

// ProductRepository интерфейс репозитория товаров. Ядро читает каталог,
// управление каталогом остаётся внешней системой.
type ProductRepository interface {
	Create(ctx context.Context, p *domain.Product) error
	GetByID(ctx context.Context, id string) (*domain.Product, error)
	List(ctx context.Context) ([]domain.Product, error)
}

// OrderRepository интерфейс репозитория заказов
type OrderRepository interface {
	Create(ctx context.Context, o *domain.Order) error
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	Update(ctx context.Context, o *domain.Order) error
	Delete(ctx context.Context, id string) error
	// List возвращает заказы по убыванию createdAt
	List(ctx context.Context) ([]domain.Order, error)
	// Recent возвращает не более limit последних заказов по убыванию createdAt
	Recent(ctx context.Context, limit int) ([]domain.Order, error)

	// TransitionStatus выполняет охраняемый перевод статуса одним атомарным
	// записывающим шагом: статус меняется на target, только если текущий
	// статус не paid и не равен target; одновременно проставляются провайдер
	// и валюта. Возвращает актуальный заказ и признак того, что переход
	// выполнил именно этот вызов. Хранилище и есть точка синхронизации —
	// никаких блокировок поверх него не требуется.
	TransitionStatus(ctx context.Context, id string, target domain.OrderStatus, provider domain.Provider, currency string) (*domain.Order, bool, error)
}

// DownloadLinkRepository интерфейс репозитория временных ссылок. Записи не
// обновляются и не удаляются; чистка истёкших строк — не задача ядра.
type DownloadLinkRepository interface {
	Create(ctx context.Context, l *domain.DownloadLink) error
	GetByToken(ctx context.Context, token string) (*domain.DownloadLink, error)
}
