package memory

import (
	"context"
	"testing"
	"time"

	"nexus-wms/internal/service/reservation/domain"

	"github.com/pkg/errors"
)

var testKey = domain.BusinessKey{Channel: "PDD", Shop: "S1", Warehouse: 1, Ref: "R-1"}

func persist(t *testing.T, s *Store, cmd domain.PersistCommand) domain.PersistResult {
	t.Helper()
	var res domain.PersistResult
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		var err error
		res, err = tx.Reservations().Persist(ctx, cmd)
		return err
	})
	if err != nil {
		t.Fatalf("persist: %v", err)
	}
	return res
}

func TestPersistUpsertsAndKeepsLines(t *testing.T) {
	s := NewStore()
	exp := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	first := persist(t, s, domain.PersistCommand{
		Key:           testKey,
		CorrelationID: "corr-1",
		ExpireAt:      &exp,
		Lines:         []domain.Line{{Sequence: 1, Item: 7, Qty: 5}, {Sequence: 2, Item: 8, Qty: 1}},
	})
	if !first.Created {
		t.Fatal("first persist should create")
	}

	second := persist(t, s, domain.PersistCommand{
		Key:           testKey,
		CorrelationID: "corr-2",
		Lines:         []domain.Line{{Sequence: 1, Item: 7, Qty: 3}},
	})
	if second.Created || second.ReservationID != first.ReservationID {
		t.Fatalf("second persist = %+v, want update of %d", second, first.ReservationID)
	}

	head, lines, ok := s.Snapshot(testKey)
	if !ok {
		t.Fatal("reservation missing")
	}
	if head.CorrelationID != "corr-1" {
		t.Errorf("correlation id = %q, want the original", head.CorrelationID)
	}
	if head.ExpireAt == nil || !head.ExpireAt.Equal(exp) {
		t.Errorf("expire_at = %v, want kept %v", head.ExpireAt, exp)
	}
	if len(lines) != 2 || lines[0].Qty != 3 || lines[1].Qty != 1 {
		t.Errorf("lines = %+v, want seq 1 overwritten and seq 2 kept", lines)
	}
}

func TestRunInTxRollsBackOnError(t *testing.T) {
	s := NewStore()
	res := persist(t, s, domain.PersistCommand{Key: testKey, Lines: []domain.Line{{Sequence: 1, Item: 7, Qty: 5}}})

	boom := errors.New("boom")
	other := domain.BusinessKey{Channel: "PDD", Shop: "S1", Warehouse: 1, Ref: "R-2"}
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		repo := tx.Reservations()
		if _, err := repo.Persist(ctx, domain.PersistCommand{Key: other, Lines: []domain.Line{{Sequence: 1, Item: 7, Qty: 1}}}); err != nil {
			return err
		}
		if err := repo.MarkConsumed(ctx, res.ReservationID); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("RunInTx = %v, want boom", err)
	}
	if s.Count() != 1 {
		t.Errorf("count = %d, want 1 after rollback", s.Count())
	}
	head, lines, _ := s.Snapshot(testKey)
	if head.Status != domain.StatusOpen || lines[0].ConsumedQty != 0 {
		t.Errorf("consume not rolled back: %+v %+v", head, lines)
	}
}

func TestOutstandingOpenCountsOnlyOpen(t *testing.T) {
	s := NewStore()
	a := persist(t, s, domain.PersistCommand{Key: testKey, Lines: []domain.Line{{Sequence: 1, Item: 7, Qty: 5}}})
	persist(t, s, domain.PersistCommand{
		Key:   domain.BusinessKey{Channel: "PDD", Shop: "S1", Warehouse: 1, Ref: "R-2"},
		Lines: []domain.Line{{Sequence: 1, Item: 7, Qty: 2}},
	})
	persist(t, s, domain.PersistCommand{
		Key:   domain.BusinessKey{Channel: "PDD", Shop: "S1", Warehouse: 2, Ref: "R-3"},
		Lines: []domain.Line{{Sequence: 1, Item: 7, Qty: 9}},
	})

	var got int64
	err := s.RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		if err := tx.Reservations().MarkReleased(ctx, a.ReservationID, domain.StatusReleased); err != nil {
			return err
		}
		var err error
		got, err = tx.Reservations().OutstandingOpen(ctx, 7, 1)
		return err
	})
	if err != nil {
		t.Fatal(err)
	}
	if got != 2 {
		t.Errorf("outstanding = %d, want 2", got)
	}
}

func TestFindExpiredOrdering(t *testing.T) {
	s := NewStore()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	mk := func(ref string, exp *time.Time) int64 {
		k := testKey
		k.Ref = ref
		return persist(t, s, domain.PersistCommand{Key: k, ExpireAt: exp, Lines: []domain.Line{{Sequence: 1, Item: 1, Qty: 1}}}).ReservationID
	}
	late := base.Add(-time.Minute)
	early := base.Add(-time.Hour)
	future := base.Add(time.Hour)
	idLate := mk("late", &late)
	idEarly := mk("early", &early)
	mk("future", &future)
	mk("never", nil)

	ids, err := s.FindExpired(context.Background(), base, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 2 || ids[0] != idEarly || ids[1] != idLate {
		t.Fatalf("FindExpired = %v, want [%d %d]", ids, idEarly, idLate)
	}

	ids, _ = s.FindExpired(context.Background(), base, 1)
	if len(ids) != 1 || ids[0] != idEarly {
		t.Errorf("limit not applied: %v", ids)
	}
}

func TestLockTimesOut(t *testing.T) {
	s := NewStore(WithLockTimeout(20 * time.Millisecond))
	held := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_ = s.RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			if err := tx.Lock(ctx, testKey); err != nil {
				return err
			}
			close(held)
			<-done
			return nil
		})
	}()
	<-held
	defer close(done)

	err := s.RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
		return tx.Lock(ctx, testKey)
	})
	if !errors.Is(err, domain.ErrLockTimeout) {
		t.Fatalf("second lock = %v, want ErrLockTimeout", err)
	}
}

func TestLockIsReentrantAndReleasedAtTxEnd(t *testing.T) {
	s := NewStore(WithLockTimeout(20 * time.Millisecond))
	for i := 0; i < 2; i++ {
		err := s.RunInTx(context.Background(), func(ctx context.Context, tx domain.Tx) error {
			if err := tx.Lock(ctx, testKey); err != nil {
				return err
			}
			if err := tx.Lock(ctx, testKey); err != nil {
				return err
			}
			return tx.LockItems(ctx, 1, []int64{3, 1, 3})
		})
		if err != nil {
			t.Fatalf("round %d: %v", i, err)
		}
	}
}
