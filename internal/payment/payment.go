package payment

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"vitrine/internal/domain"
)

var (
	// ErrProvider внешняя платёжная система недоступна или ответила ошибкой.
	// Для клиента такой запрос безопасно повторить: сверка идемпотентна.
	ErrProvider = errors.New("payment provider error")
	// ErrSignature вебхук не прошёл проверку подлинности и отброшен
	ErrSignature = errors.New("invalid webhook signature")
	// ErrUnknownProvider неизвестный тег провайдера в запросе
	ErrUnknownProvider = errors.New("unknown payment provider")
	// ErrOrderUnresolved не удалось сопоставить провайдерский платёж с заказом
	ErrOrderUnresolved = errors.New("order could not be resolved")
)

// OrderSource доступ адаптеров к заказам: проверка существования перед
// созданием платежа и поиск последних заказов для сверки по сумме
type OrderSource interface {
	GetByID(ctx context.Context, id string) (*domain.Order, error)
	Recent(ctx context.Context, limit int) ([]domain.Order, error)
}

// InitiateParams параметры создания платежа на стороне провайдера
type InitiateParams struct {
	OrderID     string
	Amount      float64
	Currency    string
	Description string
	ReturnURL   string
}

// Payment провайдерский объект платежа в общем представлении. Outcome
// заполняется, когда платёж рассчитан уже на этапе создания (бесплатный
// заказ или тестовый режим) и внешняя система не вызывалась.
type Payment struct {
	ID              string          `json:"id"`
	Status          string          `json:"status"`
	Paid            bool            `json:"paid"`
	Amount          string          `json:"amount"`
	Currency        string          `json:"currency"`
	ConfirmationURL string          `json:"confirmationUrl,omitempty"`
	Free            bool            `json:"free,omitempty"`
	Test            bool            `json:"test,omitempty"`
	Outcome         *domain.Outcome `json:"-"`
}

// Adapter переводит create/status/webhook-семантику одного провайдера в
// каноничный словарь результатов. Движок сверки написан один раз против
// этого интерфейса и сам по провайдерам не ветвится.
type Adapter interface {
	Provider() domain.Provider

	// Initiate создаёт платёж на стороне провайдера. Обязана закрыться с
	// ошибкой, если orderId не существует в хранилище — это единственное,
	// что мешает создавать «висячие» платежи.
	Initiate(ctx context.Context, p InitiateParams) (*Payment, error)

	// PollStatus активная проверка статуса. orderIDHint используется только
	// тестовыми test_-платежами, у которых нет провайдерского объекта.
	PollStatus(ctx context.Context, id, orderIDHint string) (domain.Outcome, error)

	// Capture клиентский шаг подтверждения. У провайдеров с автосписанием
	// эквивалентен PollStatus.
	Capture(ctx context.Context, id string) (domain.Outcome, error)

	// HandleWebhook проверяет подлинность уведомления и переводит его в
	// каноничный результат. Непроверенное уведомление до сверки не доходит.
	HandleWebhook(req *http.Request, body []byte) (domain.Outcome, error)
}

// Registry выбор адаптера по тегу провайдера
type Registry struct {
	adapters map[domain.Provider]Adapter
}

func NewRegistry(adapters ...Adapter) *Registry {
	m := make(map[domain.Provider]Adapter, len(adapters))
	for _, a := range adapters {
		m[a.Provider()] = a
	}
	return &Registry{adapters: m}
}

func (r *Registry) Get(name string) (Adapter, error) {
	a, ok := r.adapters[domain.Provider(name)]
	if !ok {
		return nil, errors.Wrap(ErrUnknownProvider, name)
	}
	return a, nil
}

// amountValue денежная строка с двумя знаками, как её принимают провайдеры
func amountValue(amount float64) string {
	return strconv.FormatFloat(amount, 'f', 2, 64)
}

// presettled платёж, рассчитанный без обращения к провайдеру
func presettled(prefix string, provider domain.Provider, p InitiateParams) *Payment {
	id := prefix + uuid.NewString()
	return &Payment{
		ID:       id,
		Status:   "succeeded",
		Paid:     true,
		Amount:   amountValue(p.Amount),
		Currency: p.Currency,
		Free:     prefix == "free_",
		Test:     prefix == "test_",
		Outcome: &domain.Outcome{
			TransactionID: id,
			OrderID:       p.OrderID,
			Status:        domain.OutcomeSucceeded,
			Provider:      provider,
			Currency:      p.Currency,
		},
	}
}

// shortCircuit обрабатывает free_/test_-идентификаторы в PollStatus
func shortCircuit(provider domain.Provider, id, orderIDHint string, testMode bool) (domain.Outcome, bool) {
	if strings.HasPrefix(id, "free_") || (testMode && strings.HasPrefix(id, "test_")) {
		return domain.Outcome{
			TransactionID: id,
			OrderID:       orderIDHint,
			Status:        domain.OutcomeSucceeded,
			Provider:      provider,
		}, true
	}
	return domain.Outcome{}, false
}

// ensureOrder обязательная проверка существования заказа перед Initiate
func ensureOrder(ctx context.Context, orders OrderSource, orderID string) (*domain.Order, error) {
	if orderID == "" {
		return nil, errors.New("orderId is required")
	}
	o, err := orders.GetByID(ctx, orderID)
	if err != nil {
		return nil, errors.Wrapf(err, "order %s", orderID)
	}
	return o, nil
}

// providerErr оборачивает транспортную ошибку так, чтобы вызывающий мог
// отличить её от платёжного отказа
func providerErr(err error, format string, args ...interface{}) error {
	return errors.Wrapf(errors.WithMessage(ErrProvider, err.Error()), format, args...)
}

// amountMatchTolerance допуск сравнения сумм при эвристической сверке
const amountMatchTolerance = 1e-6

// amountMatchWindow сколько последних заказов просматривает эвристика
const amountMatchWindow = 50

// matchOrderByAmount ищет заказ по совпадению суммы среди последних заказов.
// Это запасная эвристика с меньшей достоверностью: два недавних заказа с
// одинаковой суммой различить нельзя. Прямое поле корреляции всегда важнее.
func matchOrderByAmount(ctx context.Context, orders OrderSource, amount float64) (string, bool) {
	recent, err := orders.Recent(ctx, amountMatchWindow)
	if err != nil {
		return "", false
	}
	for _, o := range recent {
		if diff := o.TotalPrice - amount; diff < amountMatchTolerance && diff > -amountMatchTolerance {
			return o.ID, true
		}
	}
	return "", false
}

// pickOrderID достаёт наш orderId из metadata провайдера
func pickOrderID(metadata map[string]string) string {
	if metadata == nil {
		return ""
	}
	if v := metadata["orderId"]; v != "" {
		return v
	}
	return metadata["order_id"]
}
