package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/escrow-reconciliation/internal/model"
	"github.com/mmeshcher/escrow-reconciliation/internal/repository"
)

type stubStore struct {
	mu        sync.Mutex
	inserted  []model.Notification
	insertErr error
	companies map[string]model.Company
}

func (s *stubStore) InsertNotification(ctx context.Context, n model.Notification) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.insertErr != nil {
		return s.insertErr
	}
	s.inserted = append(s.inserted, n)
	return nil
}

func (s *stubStore) GetCompany(ctx context.Context, id string) (*model.Company, error) {
	c, ok := s.companies[id]
	if !ok {
		return nil, repository.ErrCompanyNotFound
	}
	return &c, nil
}

func (s *stubStore) snapshot() []model.Notification {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]model.Notification(nil), s.inserted...)
}

func (d *Dispatcher) droppedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dropped
}

func TestDispatcher_DeliversInBackground(t *testing.T) {
	store := &stubStore{companies: map[string]model.Company{
		"company-1": {ID: "company-1", Name: "Muster GmbH", Email: "info@muster.de"},
	}}
	d := NewDispatcher(store, zap.NewNop(), Config{Workers: 2, QueueSize: 8, Timeout: time.Second})

	done := make(chan struct{})
	go func() {
		_ = d.Run(context.Background())
		close(done)
	}()

	d.Notify(model.Notification{RecipientID: "user-1", RecipientKind: model.RecipientUser, Type: model.NotificationEscrowPaid})
	d.Notify(model.Notification{
		RecipientID:   "company-1",
		RecipientKind: model.RecipientCompany,
		Type:          model.NotificationOrderCreated,
		Payload:       map[string]any{"orderId": "o1"},
	})

	require.Eventually(t, func() bool { return len(store.snapshot()) == 2 }, time.Second, 10*time.Millisecond)

	d.Close()
	<-done

	for _, n := range store.snapshot() {
		if n.RecipientKind == model.RecipientCompany {
			assert.Equal(t, "Muster GmbH", n.Payload["companyName"])
			assert.Equal(t, "o1", n.Payload["orderId"])
		}
	}
}

func TestDispatcher_NotifyNeverBlocks(t *testing.T) {
	store := &stubStore{}
	d := NewDispatcher(store, zap.NewNop(), Config{Workers: 1, QueueSize: 1})

	finished := make(chan struct{})
	go func() {
		for i := 0; i < 5; i++ {
			d.Notify(model.Notification{RecipientID: "user-1", Type: model.NotificationEscrowPaid})
		}
		close(finished)
	}()

	select {
	case <-finished:
	case <-time.After(time.Second):
		t.Fatal("Notify blocked on a full queue")
	}
	assert.Equal(t, 4, d.droppedCount())
}

func TestDispatcher_DrainsOnClose(t *testing.T) {
	store := &stubStore{}
	d := NewDispatcher(store, zap.NewNop(), Config{Workers: 1, QueueSize: 4})

	d.Notify(model.Notification{RecipientID: "user-1", Type: model.NotificationEscrowPaid})
	d.Notify(model.Notification{RecipientID: "user-2", Type: model.NotificationEscrowPaid})
	d.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	require.NoError(t, d.Run(ctx))

	assert.Len(t, store.snapshot(), 2)
}

func TestDispatcher_AcceptsUntilClosed(t *testing.T) {
	store := &stubStore{}
	d := NewDispatcher(store, zap.NewNop(), Config{Workers: 1, QueueSize: 4})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		_ = d.Run(ctx)
		close(done)
	}()

	// Запросы, завершающиеся во время остановки сервера, ещё ставят уведомления.
	cancel()
	d.Notify(model.Notification{RecipientID: "user-1", Type: model.NotificationOrderCreated})

	select {
	case <-done:
		t.Fatal("Run returned before Close")
	case <-time.After(50 * time.Millisecond):
	}

	d.Close()
	<-done
	assert.Len(t, store.snapshot(), 1)

	d.Notify(model.Notification{RecipientID: "user-2", Type: model.NotificationOrderCreated})
	assert.Equal(t, 1, d.droppedCount())
	assert.Len(t, store.snapshot(), 1)
}

func TestDispatcher_StoreErrorIsSwallowed(t *testing.T) {
	store := &stubStore{insertErr: errors.New("db down")}
	d := NewDispatcher(store, zap.NewNop(), Config{Workers: 1, QueueSize: 1})

	d.Notify(model.Notification{RecipientID: "user-1", Type: model.NotificationEscrowPaid})
	d.Close()

	assert.NoError(t, d.Run(context.Background()))
	assert.Empty(t, store.snapshot())
}
