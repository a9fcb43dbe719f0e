package service

import (
	"context"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
	"github.com/mmeshcher/escrow-reconciliation/internal/provider"
	"github.com/mmeshcher/escrow-reconciliation/internal/reference"
	"github.com/mmeshcher/escrow-reconciliation/internal/revolut"
)

const (
	syncWindow    = 7 * 24 * time.Hour
	syncPageLimit = 100
)

// TransactionLister запрашивает транзакции Revolut Business.
type TransactionLister interface {
	ListTransactions(ctx context.Context, from time.Time, count int) ([]revolut.Transaction, int, time.Duration, error)
}

// Processor проводит событие через сверку.
type Processor interface {
	Process(ctx context.Context, evt *model.PaymentEvent) (Result, error)
}

// TransactionSync периодически забирает входящие переводы из Revolut и проводит их
// через ту же сверку, что и вебхуки. Подстраховывает от потерянных вебхуков.
type TransactionSync struct {
	processor Processor
	lister    TransactionLister
	interval  time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

// NewTransactionSync создаёт синхронизацию. lister может быть nil, тогда Run сразу завершается.
func NewTransactionSync(p Processor, lister TransactionLister, interval time.Duration, logger *zap.Logger) *TransactionSync {
	return &TransactionSync{
		processor: p,
		lister:    lister,
		interval:  interval,
		logger:    logger,
		now:       time.Now,
	}
}

// Run запускает цикл синхронизации и блокируется до отмены ctx.
func (s *TransactionSync) Run(ctx context.Context) error {
	if s.lister == nil || s.interval <= 0 {
		s.logger.Info("revolut transaction sync disabled")
		return nil
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.SyncOnce(ctx)
		}
	}
}

// SyncOnce выполняет один проход синхронизации.
func (s *TransactionSync) SyncOnce(ctx context.Context) {
	txs, statusCode, retryAfter, err := s.lister.ListTransactions(ctx, s.now().Add(-syncWindow), syncPageLimit)
	if err != nil {
		s.logger.Warn("failed to list revolut transactions", zap.Error(err))
		return
	}

	if statusCode == http.StatusTooManyRequests {
		s.logger.Warn("revolut rate limit hit", zap.Duration("retry_after", retryAfter))
		if retryAfter > 0 {
			timer := time.NewTimer(retryAfter)
			select {
			case <-ctx.Done():
				timer.Stop()
			case <-timer.C:
			}
		}
		return
	}

	for _, tx := range txs {
		if ctx.Err() != nil {
			return
		}
		if !isEscrowTopup(tx) {
			continue
		}

		evt := provider.FromRevolutTransaction(tx)
		res, err := s.processor.Process(ctx, &evt)
		if err != nil {
			s.logger.Error("failed to reconcile revolut transaction",
				zap.String("transaction_id", tx.ID),
				zap.Error(err),
			)
			continue
		}
		if res.Outcome != model.OutcomeDuplicate {
			s.logger.Info("revolut transaction reconciled",
				zap.String("transaction_id", tx.ID),
				zap.String("outcome", string(res.Outcome)),
				zap.String("escrow_id", res.EscrowID),
			)
		}
	}
}

func isEscrowTopup(tx revolut.Transaction) bool {
	if tx.Type != "topup" || tx.State != "completed" {
		return false
	}
	leg, ok := tx.CreditLeg()
	if !ok {
		return false
	}
	return reference.FromText(tx.Reference+" "+leg.Description) != ""
}
