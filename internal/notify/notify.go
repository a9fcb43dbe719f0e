// Package notify доставляет уведомления во внутренний канал в фоне, не задерживая
// ответ провайдеру.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
	"github.com/mmeshcher/escrow-reconciliation/internal/repository"
)

// Store описывает хранилище уведомлений и справочник компаний.
type Store interface {
	InsertNotification(ctx context.Context, n model.Notification) error
	GetCompany(ctx context.Context, id string) (*model.Company, error)
}

// Config задаёт параметры диспетчера.
type Config struct {
	Workers   int
	QueueSize int
	Timeout   time.Duration
}

// Dispatcher принимает уведомления без блокировки и записывает их пулом воркеров.
type Dispatcher struct {
	store   Store
	logger  *zap.Logger
	queue   chan model.Notification
	workers int
	timeout time.Duration

	mu      sync.Mutex
	closed  bool
	dropped int
}

// NewDispatcher создаёт диспетчер. Воркеры запускаются методом Run.
func NewDispatcher(store Store, logger *zap.Logger, cfg Config) *Dispatcher {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	return &Dispatcher{
		store:   store,
		logger:  logger,
		queue:   make(chan model.Notification, cfg.QueueSize),
		workers: cfg.Workers,
		timeout: cfg.Timeout,
	}
}

// Notify ставит уведомление в очередь. Никогда не блокируется: при переполненной
// или закрытой очереди уведомление отбрасывается с предупреждением.
func (d *Dispatcher) Notify(n model.Notification) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		d.drop(n, "notification queue closed, dropping")
		return
	}

	select {
	case d.queue <- n:
	default:
		d.drop(n, "notification queue full, dropping")
	}
}

func (d *Dispatcher) drop(n model.Notification, msg string) {
	d.dropped++
	d.logger.Warn(msg,
		zap.String("recipient_id", n.RecipientID),
		zap.String("type", string(n.Type)),
	)
}

// Close закрывает очередь. Run дописывает оставшиеся уведомления и завершается.
// Вызывается после остановки всех источников уведомлений.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
}

// Run обрабатывает очередь до вызова Close. Отмена ctx не прерывает запись
// уже принятых уведомлений.
func (d *Dispatcher) Run(ctx context.Context) error {
	base := context.WithoutCancel(ctx)

	g := new(errgroup.Group)
	for i := 0; i < d.workers; i++ {
		g.Go(func() error {
			for n := range d.queue {
				d.deliver(base, n)
			}
			return nil
		})
	}
	_ = g.Wait()

	d.mu.Lock()
	dropped := d.dropped
	d.mu.Unlock()
	if dropped > 0 {
		d.logger.Warn("notification dispatcher stopped with dropped notifications", zap.Int("dropped", dropped))
	} else {
		d.logger.Info("notification dispatcher stopped")
	}
	return nil
}

func (d *Dispatcher) deliver(parent context.Context, n model.Notification) {
	ctx, cancel := context.WithTimeout(parent, d.timeout)
	defer cancel()

	if n.RecipientKind == model.RecipientCompany {
		n = d.withCompany(ctx, n)
	}

	if err := d.store.InsertNotification(ctx, n); err != nil {
		d.logger.Error("failed to deliver notification",
			zap.String("recipient_id", n.RecipientID),
			zap.String("type", string(n.Type)),
			zap.Error(err),
		)
		return
	}

	d.logger.Debug("notification delivered",
		zap.String("recipient_id", n.RecipientID),
		zap.String("type", string(n.Type)),
	)
}

// withCompany дополняет уведомление компании её контактными данными.
func (d *Dispatcher) withCompany(ctx context.Context, n model.Notification) model.Notification {
	c, err := d.store.GetCompany(ctx, n.RecipientID)
	if err != nil {
		if !errors.Is(err, repository.ErrCompanyNotFound) {
			d.logger.Warn("failed to load company for notification",
				zap.String("company_id", n.RecipientID),
				zap.Error(err),
			)
		}
		return n
	}

	payload := make(map[string]any, len(n.Payload)+2)
	for k, v := range n.Payload {
		payload[k] = v
	}
	payload["companyName"] = c.Name
	payload["companyEmail"] = c.Email
	n.Payload = payload
	return n
}
