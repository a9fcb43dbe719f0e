// Package service реализует сверку платёжных событий с эскроу.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/mmeshcher/escrow-reconciliation/internal/clock"
	"github.com/mmeshcher/escrow-reconciliation/internal/model"
	"github.com/mmeshcher/escrow-reconciliation/internal/reference"
	"github.com/mmeshcher/escrow-reconciliation/internal/repository"
)

// ErrDeliveryLog возвращается, если журнал доставок недоступен. Только в этом случае
// провайдер должен получить ошибку и повторить доставку.
var ErrDeliveryLog = errors.New("delivery log unavailable")

// Repository описывает контракт доступа к данным, используемый сервисом.
type Repository interface {
	GetDelivery(ctx context.Context, provider, eventID string) (*model.Delivery, error)
	RecordDelivery(ctx context.Context, d model.Delivery) error
	FindEscrowsByReference(ctx context.Context, reference string) ([]model.Escrow, error)
	GetEscrowByID(ctx context.Context, id string) (*model.Escrow, error)
	MarkPaid(ctx context.Context, escrowID string, receipt model.PaymentReceipt) (bool, error)
	GetDraft(ctx context.Context, id string) (*model.DraftTransaction, error)
	MaterializeOrder(ctx context.Context, draftID string, seed model.OrderSeed) (model.MaterializeResult, error)
	LinkOrder(ctx context.Context, escrowID, orderID string) error
}

// Notifier принимает уведомления без ожидания результата.
type Notifier interface {
	Notify(n model.Notification)
}

// Config задаёт бизнес-параметры сверки.
type Config struct {
	// Допустимое отклонение суммы в процентах от ожидаемой.
	AmountTolerancePercent float64
	// Срок клиринга заказа после оплаты.
	ClearingPeriod time.Duration
}

// Result описывает итог сверки одного события.
type Result struct {
	Outcome       model.Outcome
	EscrowID      string
	OrderID       string
	OrderCreated  bool
	AmountFlagged bool
}

// Option настраивает Service.
type Option func(*Service)

// WithClock подменяет источник времени.
func WithClock(c clock.Clock) Option {
	return func(s *Service) { s.clock = c }
}

// WithIDGenerator подменяет генератор идентификаторов заказов.
func WithIDGenerator(fn func() string) Option {
	return func(s *Service) { s.newID = fn }
}

// Service сверяет платёжные события с эскроу и создаёт заказы.
type Service struct {
	repo      Repository
	notifier  Notifier
	logger    *zap.Logger
	clock     clock.Clock
	newID     func() string
	tolerance decimal.Decimal
	clearing  time.Duration
}

// NewService создаёт сервис сверки.
func NewService(repo Repository, notifier Notifier, logger *zap.Logger, cfg Config, opts ...Option) *Service {
	s := &Service{
		repo:      repo,
		notifier:  notifier,
		logger:    logger,
		clock:     clock.NewSystem(),
		newID:     uuid.NewString,
		tolerance: decimal.NewFromFloat(cfg.AmountTolerancePercent),
		clearing:  cfg.ClearingPeriod,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Process проводит событие через конвейер сверки. Ошибка означает, что финансовое
// состояние могло не сохраниться; ErrDeliveryLog означает, что событие не удалось
// ни проверить, ни записать в журнал доставок.
func (s *Service) Process(ctx context.Context, evt *model.PaymentEvent) (Result, error) {
	log := s.logger.With(
		zap.String("provider", evt.Provider),
		zap.String("event_id", evt.EventID),
		zap.String("event_type", evt.Type),
	)

	prev, err := s.repo.GetDelivery(ctx, evt.Provider, evt.EventID)
	switch {
	case err == nil:
		log.Info("duplicate delivery skipped", zap.String("previous_outcome", string(prev.Outcome)))
		return Result{Outcome: model.OutcomeDuplicate, EscrowID: prev.EscrowID, OrderID: prev.OrderID}, nil
	case !errors.Is(err, repository.ErrDeliveryNotFound):
		return Result{}, fmt.Errorf("%w: %v", ErrDeliveryLog, err)
	}

	if evt.Kind != model.EventKindPaymentCompleted {
		log.Debug("event ignored")
		return s.finish(ctx, log, evt, Result{Outcome: model.OutcomeIgnored})
	}

	ref := reference.Extract(*evt)
	if ref == "" {
		log.Info("no escrow reference in event", zap.String("payment_id", evt.PaymentID))
		return s.finish(ctx, log, evt, Result{Outcome: model.OutcomeNoReference})
	}
	log = log.With(zap.String("reference", ref))

	escrow, err := s.findEscrow(ctx, log, ref)
	if err != nil {
		if errors.Is(err, repository.ErrEscrowNotFound) {
			log.Info("escrow not found")
			return s.finish(ctx, log, evt, Result{Outcome: model.OutcomeEscrowNotFound})
		}
		return Result{}, fmt.Errorf("find escrow: %w", err)
	}
	log = log.With(zap.String("escrow_id", escrow.ID))

	res := Result{Outcome: model.OutcomeProcessed, EscrowID: escrow.ID}
	paidNow := false
	now := s.clock.Now()

	if escrow.Status.IsPaid() {
		if escrow.Status != model.EscrowStatusHeld || escrow.MaterializedOrderID != "" || escrow.DraftID == "" {
			log.Info("escrow already held", zap.String("status", string(escrow.Status)))
			res.Outcome = model.OutcomeAlreadyHeld
			res.OrderID = escrow.MaterializedOrderID
			return s.finish(ctx, log, evt, res)
		}
		// Оплата уже учтена, но заказ не был создан: досоздаём его.
		log.Warn("escrow held without order, resuming materialization")
	} else {
		res.AmountFlagged = s.checkAmount(log, escrow, evt)

		paidNow, err = s.repo.MarkPaid(ctx, escrow.ID, model.PaymentReceipt{
			PaymentID:        evt.PaymentID,
			PaymentMethod:    evt.PaymentMethod,
			ReceivedAmount:   evt.Amount,
			CounterpartyName: evt.CounterpartyName,
			PaidAt:           now,
		})
		if err != nil {
			return Result{}, fmt.Errorf("mark paid: %w", err)
		}
		if paidNow {
			log.Info("escrow marked as held")
		}
	}

	var draft *model.DraftTransaction
	if escrow.DraftID != "" {
		mres, err := s.repo.MaterializeOrder(ctx, escrow.DraftID, s.orderSeed(escrow, evt, now))
		if err != nil {
			return Result{}, fmt.Errorf("materialize order: %w", err)
		}
		res.OrderID = mres.OrderID
		res.OrderCreated = !mres.AlreadyExists

		if err := s.repo.LinkOrder(ctx, escrow.ID, mres.OrderID); err != nil {
			if !errors.Is(err, repository.ErrOrderLinkConflict) {
				return Result{}, fmt.Errorf("link order: %w", err)
			}
			log.Error("order link conflict",
				zap.String("order_id", mres.OrderID),
				zap.String("alert", "manual_review"),
				zap.Error(err),
			)
		}

		if res.OrderCreated {
			log.Info("order created", zap.String("order_id", mres.OrderID))
		}

		if paidNow || res.OrderCreated {
			draft, err = s.repo.GetDraft(ctx, escrow.DraftID)
			if err != nil {
				log.Warn("failed to load draft for notifications", zap.Error(err))
			}
		}
	}

	s.notify(draft, escrow, res, paidNow)

	return s.finish(ctx, log, evt, res)
}

// findEscrow ищет эскроу сначала по ссылке, затем по идентификатору. При дублировании
// ссылки выбирается самое раннее эскроу.
func (s *Service) findEscrow(ctx context.Context, log *zap.Logger, ref string) (*model.Escrow, error) {
	list, err := s.repo.FindEscrowsByReference(ctx, ref)
	if err != nil {
		return nil, err
	}

	if len(list) > 1 {
		ids := make([]string, 0, len(list))
		for _, e := range list {
			ids = append(ids, e.ID)
		}
		log.Warn("duplicate escrow reference, using the earliest", zap.Strings("escrow_ids", ids))
	}
	if len(list) > 0 {
		return &list[0], nil
	}

	return s.repo.GetEscrowByID(ctx, ref)
}

// checkAmount сравнивает полученную сумму с ожидаемой. Отклонение сверх допуска не
// останавливает обработку, а только помечается для ручной проверки.
func (s *Service) checkAmount(log *zap.Logger, escrow *model.Escrow, evt *model.PaymentEvent) bool {
	if evt.Amount == nil {
		log.Info("event has no amount, tolerance check skipped")
		return false
	}

	flagged := !WithinTolerance(escrow.ExpectedAmount, *evt.Amount, s.tolerance)
	if evt.Currency != "" && escrow.Currency != "" && evt.Currency != escrow.Currency {
		flagged = true
	}

	if flagged {
		log.Warn("payment amount outside tolerance",
			zap.Int64("expected", escrow.ExpectedAmount),
			zap.Int64("received", *evt.Amount),
			zap.String("expected_currency", escrow.Currency),
			zap.String("received_currency", evt.Currency),
			zap.String("alert", "manual_review"),
		)
	}
	return flagged
}

// WithinTolerance сообщает, отличается ли received от expected не более чем на
// percent процентов от expected.
func WithinTolerance(expected, received int64, percent decimal.Decimal) bool {
	exp := decimal.NewFromInt(expected)
	diff := decimal.NewFromInt(received).Sub(exp).Abs()
	allowed := exp.Abs().Mul(percent).Div(decimal.NewFromInt(100))
	return diff.LessThanOrEqual(allowed)
}

func (s *Service) orderSeed(escrow *model.Escrow, evt *model.PaymentEvent, now time.Time) model.OrderSeed {
	paidAt := now
	if escrow.PaidAt != nil {
		paidAt = *escrow.PaidAt
	}

	amount := escrow.ExpectedAmount
	if evt.Amount != nil {
		amount = *evt.Amount
	} else if escrow.ReceivedAmount != nil {
		amount = *escrow.ReceivedAmount
	}

	paymentID := evt.PaymentID
	if paymentID == "" {
		paymentID = escrow.PaymentID
	}

	return model.OrderSeed{
		OrderID:        s.newID(),
		EscrowID:       escrow.ID,
		PaymentID:      paymentID,
		Provider:       evt.Provider,
		AmountPaid:     amount,
		PaidAt:         paidAt,
		ClearingEndsAt: paidAt.Add(s.clearing),
	}
}

func (s *Service) notify(draft *model.DraftTransaction, escrow *model.Escrow, res Result, paidNow bool) {
	if s.notifier == nil || draft == nil {
		return
	}

	payload := map[string]any{
		"escrowId":  escrow.ID,
		"reference": escrow.Reference,
		"amount":    escrow.ExpectedAmount,
		"currency":  escrow.Currency,
	}
	if res.OrderID != "" {
		payload["orderId"] = res.OrderID
	}

	recipients := []struct {
		id   string
		kind model.RecipientKind
	}{
		{draft.CustomerID, model.RecipientUser},
		{draft.ProviderCompanyID, model.RecipientCompany},
	}

	for _, r := range recipients {
		if r.id == "" {
			continue
		}
		if paidNow {
			s.notifier.Notify(model.Notification{
				RecipientID:   r.id,
				RecipientKind: r.kind,
				Type:          model.NotificationEscrowPaid,
				Payload:       payload,
			})
		}
		if res.OrderCreated {
			s.notifier.Notify(model.Notification{
				RecipientID:   r.id,
				RecipientKind: r.kind,
				Type:          model.NotificationOrderCreated,
				Payload:       payload,
			})
		}
	}
}

// finish записывает итог в журнал доставок. Для обработанного события финансовое
// состояние уже сохранено, поэтому сбой записи только логируется.
func (s *Service) finish(ctx context.Context, log *zap.Logger, evt *model.PaymentEvent, res Result) (Result, error) {
	err := s.repo.RecordDelivery(ctx, model.Delivery{
		Provider:    evt.Provider,
		EventID:     evt.EventID,
		EventType:   evt.Type,
		Outcome:     res.Outcome,
		EscrowID:    res.EscrowID,
		OrderID:     res.OrderID,
		ProcessedAt: s.clock.Now(),
	})
	if err == nil {
		return res, nil
	}

	if res.Outcome == model.OutcomeProcessed || res.Outcome == model.OutcomeAlreadyHeld {
		log.Error("failed to record delivery", zap.String("outcome", string(res.Outcome)), zap.Error(err))
		return res, nil
	}
	return Result{}, fmt.Errorf("%w: %v", ErrDeliveryLog, err)
}
