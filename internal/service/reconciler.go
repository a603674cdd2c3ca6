package service

import (
	"context"

	"github.com/sirupsen/logrus"

	"vitrine/internal/domain"
	"vitrine/internal/notify"
	"vitrine/internal/repository"
)

// Reconciler единственная точка, которой разрешено авторитетно менять статус
// заказа по результату платежа. Принимает каноничный кортеж от любого
// адаптера — вебхук, опрос, capture — и сводит дубли и перестановки доставок
// к одному переходу статуса и ровно одному уведомлению.
type Reconciler struct {
	orders   repository.OrderRepository
	notifier notify.Notifier
	log      logrus.FieldLogger
}

func NewReconciler(orders repository.OrderRepository, notifier notify.Notifier, log logrus.FieldLogger) *Reconciler {
	return &Reconciler{orders: orders, notifier: notifier, log: log}
}

// targetStatus отображение каноничного результата в целевой статус заказа
func targetStatus(s domain.OutcomeStatus) (domain.OrderStatus, bool) {
	switch s {
	case domain.OutcomeSucceeded:
		return domain.OrderStatusPaid, true
	case domain.OutcomeFailed:
		return domain.OrderStatusFailed, true
	case domain.OutcomeCancelled:
		return domain.OrderStatusCancelled, true
	default:
		return "", false
	}
}

// Apply применяет результат платежа к заказу. Гарантии:
//   - заказ никогда не создаётся как побочный эффект платёжного колбэка;
//   - повторная доставка того же результата — успех без записи;
//   - запоздалый failed/cancelled не опускает уже оплаченный заказ;
//   - уведомление уходит, только если переход pending→paid выполнил именно
//     этот вызов: проверка и запись выполняются хранилищем как один
//     охраняемый шаг, поэтому из гонящихся дублей уведомляет ровно один.
func (r *Reconciler) Apply(ctx context.Context, out domain.Outcome) (*domain.Order, error) {
	if out.OrderID == "" {
		return nil, ErrInvalidInput
	}
	o, err := r.orders.GetByID(ctx, out.OrderID)
	if err != nil {
		return nil, err
	}

	target, ok := targetStatus(out.Status)
	if !ok {
		r.log.WithFields(logrus.Fields{
			"order":   out.OrderID,
			"outcome": out.Status,
		}).Debug("non-terminal outcome, nothing to apply")
		return o, nil
	}

	if o.Status == target || o.Status == domain.OrderStatusPaid {
		// идемпотентный повтор или запоздалый негативный исход
		return o, nil
	}

	o, transitioned, err := r.orders.TransitionStatus(ctx, out.OrderID, target, out.Provider, out.Currency)
	if err != nil {
		return nil, err
	}

	if transitioned {
		fields := logrus.Fields{
			"order":    o.ID,
			"status":   target,
			"provider": out.Provider,
			"tx":       out.TransactionID,
		}
		if out.AmountMatched {
			fields["correlation"] = "amount"
		}
		r.log.WithFields(fields).Info("order status transitioned")
	}

	if transitioned && target == domain.OrderStatusPaid {
		// ошибки доставки уведомления глотает Notifier: статус уже записан
		r.notifier.Notify(ctx, o)
	}
	return o, nil
}
